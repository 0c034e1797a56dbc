package correlate

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/weave/internal/domain"
)

// timeoutReason is distinct from backend-reported failures so consumers
// can tell a hung agent from one that failed on its own.
const timeoutReason = "agent timed out: no activity before staleness deadline"

// RunSweeper triggers the staleness sweep periodically until ctx is
// cancelled. Timeouts live here, not in the transport: a tool invocation
// can legitimately outlast any single network read timeout.
func (e *Engine) RunSweeper(ctx context.Context, interval, staleAfter time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep(staleAfter)
		}
	}
}

// Sweep force-completes every step whose last activity is older than
// staleAfter, marking it timed out, and fails its owning agent in the
// registry if that agent is still active. This prevents a silently-hung
// sub-agent from leaving the visible state stuck forever.
func (e *Engine) Sweep(staleAfter time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	cutoff := now.Add(-staleAfter)
	stale := make(map[uuid.UUID]struct{})

	for invID, rec := range e.steps {
		if rec.Status.Terminal() || rec.LastActivityAt.After(cutoff) {
			continue
		}

		rec.Status = domain.StepTimedOut
		rec.Detail = "timed out"
		rec.LastActivityAt = now

		owner := e.owners[invID]
		delete(e.owners, invID)
		e.closeEntry(invID, "timed out", now)

		if owner.parallel {
			e.finalizeGroupIfIdle(rec.RequestID)
		} else if owner.agentID != uuid.Nil {
			stale[owner.agentID] = struct{}{}
		}
	}

	// Agents with no events at all (not even an open step) go stale too.
	for agentID, touched := range e.agentTouch {
		if !touched.After(cutoff) {
			stale[agentID] = struct{}{}
		}
	}

	for agentID := range stale {
		e.timeoutAgent(agentID, now)
	}
}

// timeoutAgent fails a stale agent with the timeout reason and closes its
// open entry. Agents already terminal in the registry only get their
// entry closed.
func (e *Engine) timeoutAgent(agentID uuid.UUID, now time.Time) {
	a, err := e.agents.Get(agentID)
	if err != nil {
		log.Warn().Err(err).Str("agent_id", agentID.String()).Msg("correlate: sweeping unknown agent")
	} else if !a.Status.Terminal() {
		if failErr := e.agents.Fail(agentID, timeoutReason); failErr != nil && !errors.Is(failErr, domain.ErrInvalidTransition) {
			log.Error().Err(failErr).Str("agent_id", agentID.String()).Msg("correlate: failed to time out agent")
		}
	}

	if entry, ok := e.agentEntry[agentID]; ok && entry.Open {
		e.closeEntryRecord(entry, "timed out", now)
	}
	delete(e.agentEntry, agentID)
	delete(e.agentTouch, agentID)
}
