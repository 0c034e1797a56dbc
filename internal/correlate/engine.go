// Package correlate reconstructs a causally-ordered view of the normalized
// event stream: a linear log, per-agent step timelines, parallel execution
// groups, and the todo list view.
package correlate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/weave/internal/domain"
)

// AgentStore is the slice of the registry the engine needs: it reads agent
// state to decide rendering and fails agents on timeout or stream loss. It
// never drives any other lifecycle transition.
type AgentStore interface {
	Get(id uuid.UUID) (*domain.Agent, error)
	Fail(id uuid.UUID, reason string) error
}

// Publisher fans finalized log entries out to live subscribers. May be nil.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// ownerRef resolves an invocation ID back to its context. parallel means
// the invocation belongs to the top-level group rather than an agent.
type ownerRef struct {
	agentID  uuid.UUID
	parallel bool
}

// Engine is the single consumer that serializes all producers' normalized
// events into one mutable state. Event application is the critical
// section; snapshot reads see a consistent copy.
type Engine struct {
	mu sync.RWMutex

	sessionID uuid.UUID
	agents    AgentStore
	publisher Publisher
	now       func() time.Time

	events chan domain.Event

	entries     []*domain.LogEntry
	openByCorr  map[string]*domain.LogEntry
	owners      map[string]ownerRef
	steps       map[string]*domain.ToolInvocationRecord
	timelines   map[uuid.UUID][]*domain.ToolInvocationRecord
	groups      []*domain.ParallelExecutionGroup
	openGroups  map[string]*domain.ParallelExecutionGroup
	typeSeq     map[string]int
	agentLabel  map[uuid.UUID]string
	agentEntry  map[uuid.UUID]*domain.LogEntry
	agentTouch  map[uuid.UUID]time.Time
	agentsByReq map[string]map[uuid.UUID]struct{}
	todos       []domain.TodoItem
}

// New creates an Engine for one session. agents must not be nil; publisher
// may be nil when no live fan-out is wanted.
func New(sessionID uuid.UUID, agents AgentStore, publisher Publisher) *Engine {
	return &Engine{
		sessionID:   sessionID,
		agents:      agents,
		publisher:   publisher,
		now:         time.Now,
		events:      make(chan domain.Event, 256),
		openByCorr:  make(map[string]*domain.LogEntry),
		owners:      make(map[string]ownerRef),
		steps:       make(map[string]*domain.ToolInvocationRecord),
		timelines:   make(map[uuid.UUID][]*domain.ToolInvocationRecord),
		openGroups:  make(map[string]*domain.ParallelExecutionGroup),
		typeSeq:     make(map[string]int),
		agentLabel:  make(map[uuid.UUID]string),
		agentEntry:  make(map[uuid.UUID]*domain.LogEntry),
		agentTouch:  make(map[uuid.UUID]time.Time),
		agentsByReq: make(map[string]map[uuid.UUID]struct{}),
	}
}

// SetClock overrides the time source, for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// Submit queues one event for application. Safe for concurrent producers.
func (e *Engine) Submit(ev domain.Event) {
	e.events <- ev
}

// Run consumes submitted events until ctx is cancelled. All state mutation
// happens on this single goroutine plus direct Apply calls, each guarded
// by the write lock.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.events:
			e.Apply(ev)
		}
	}
}

// Apply folds one normalized event into the correlation state.
func (e *Engine) Apply(ev domain.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now()
	}
	if ev.AgentID != uuid.Nil {
		e.agentTouch[ev.AgentID] = ev.Timestamp
	}

	switch ev.Kind {
	case domain.EventLifecycle:
		e.applyLifecycle(ev)
	case domain.EventToolUse:
		e.applyToolUse(ev)
	case domain.EventToolResult:
		e.applyToolResult(ev)
	case domain.EventTextDelta:
		e.applyDelta(ev, domain.EntryResponse)
	case domain.EventThinkingDelta:
		e.applyDelta(ev, domain.EntryReasoning)
	case domain.EventError:
		e.appendClosed(ev, domain.EntryError, ev.Error)
	case domain.EventDone:
		e.finalizeRequestLocked(ev.RequestID, ev.Error != "")
	default:
		log.Warn().Str("kind", string(ev.Kind)).Msg("correlate: dropping event of unknown kind")
	}
}

// applyLifecycle handles agent lifecycle and orchestrator stage markers.
func (e *Engine) applyLifecycle(ev domain.Event) {
	switch ev.Stage {
	case domain.StageCreated:
		e.registerAgent(ev)
	case domain.StageStarted:
		// Informational; the registry owns the status transition.
	case domain.StageCompleted, domain.StageFailed:
		if ev.AgentID != uuid.Nil {
			e.closeAgent(ev)
			return
		}
		e.appendClosed(ev, domain.EntryLifecycle, string(ev.Stage))
	default:
		// Orchestrator-level stages: classified, delegating, spawned, done.
		text := string(ev.Stage)
		if ev.Result != "" {
			text += ": " + ev.Result
		}
		e.appendClosed(ev, domain.EntryLifecycle, text)
	}
}

// registerAgent opens the agent's task entry and allocates its per-type
// sequence label so repeated spawns of one type stay distinguishable.
func (e *Engine) registerAgent(ev domain.Event) {
	if _, ok := e.agentEntry[ev.AgentID]; ok {
		// Duplicate created event, absorb.
		return
	}

	e.typeSeq[ev.AgentType]++
	label := ev.AgentType
	if n := e.typeSeq[ev.AgentType]; n > 1 {
		label = fmt.Sprintf("%s #%d", ev.AgentType, n)
	}
	e.agentLabel[ev.AgentID] = label

	entry := &domain.LogEntry{
		ID:            uuid.New(),
		Kind:          domain.EntryLifecycle,
		CorrelationID: agentCorrelation(ev.AgentID),
		RequestID:     ev.RequestID,
		AgentID:       ev.AgentID,
		Label:         label,
		Text:          ev.Task,
		Open:          true,
		CreatedAt:     ev.Timestamp,
	}
	e.append(entry)
	e.agentEntry[ev.AgentID] = entry
	if _, ok := e.timelines[ev.AgentID]; !ok {
		e.timelines[ev.AgentID] = nil
	}

	if ev.RequestID != "" {
		set, ok := e.agentsByReq[ev.RequestID]
		if !ok {
			set = make(map[uuid.UUID]struct{})
			e.agentsByReq[ev.RequestID] = set
		}
		set[ev.AgentID] = struct{}{}
	}
}

// applyToolUse opens a step on the owning agent's timeline, or on the
// request's parallel group when no agent context applies.
func (e *Engine) applyToolUse(ev domain.Event) {
	if ev.InvocationID == "" {
		log.Warn().Str("tool", ev.Tool).Msg("correlate: tool_use without invocation id")
		return
	}
	if _, dup := e.steps[ev.InvocationID]; dup {
		// Correlation IDs are unique per session-turn; a duplicate open is
		// a racing replay and is absorbed.
		return
	}

	rec := &domain.ToolInvocationRecord{
		InvocationID:   ev.InvocationID,
		AgentID:        ev.AgentID,
		RequestID:      ev.RequestID,
		Tool:           ev.Tool,
		StartedAt:      ev.Timestamp,
		LastActivityAt: ev.Timestamp,
		Status:         domain.StepRunning,
	}
	e.steps[ev.InvocationID] = rec

	parent := ""
	if ev.AgentID != uuid.Nil {
		e.timelines[ev.AgentID] = append(e.timelines[ev.AgentID], rec)
		e.owners[ev.InvocationID] = ownerRef{agentID: ev.AgentID}
		parent = agentCorrelation(ev.AgentID)
	} else {
		group := e.openGroup(ev)
		group.Steps = append(group.Steps, rec)
		e.owners[ev.InvocationID] = ownerRef{parallel: true}
		parent = groupCorrelation(group.ID)
	}

	entry := &domain.LogEntry{
		ID:            uuid.New(),
		Kind:          domain.EntryToolUse,
		CorrelationID: ev.InvocationID,
		ParentID:      parent,
		RequestID:     ev.RequestID,
		AgentID:       ev.AgentID,
		Label:         ev.Tool,
		Text:          string(ev.Input),
		Open:          true,
		CreatedAt:     ev.Timestamp,
	}
	e.append(entry)

	if ev.Tool == todoWriteTool {
		e.applyTodoWrite(ev.Input)
	}
}

// applyToolResult routes a result back to its invocation purely via the
// invocation-ID map; the result event need not carry the agent ID. A
// result with no matching open invocation (e.g. after a reconnect gap) is
// attached as a standalone entry rather than dropped.
func (e *Engine) applyToolResult(ev domain.Event) {
	rec, ok := e.steps[ev.InvocationID]
	if !ok || rec.Status.Terminal() {
		entry := &domain.LogEntry{
			ID:            uuid.New(),
			Kind:          domain.EntryToolResult,
			CorrelationID: ev.InvocationID,
			RequestID:     ev.RequestID,
			Text:          ev.Output,
			CreatedAt:     ev.Timestamp,
		}
		closedAt := ev.Timestamp
		entry.ClosedAt = &closedAt
		e.append(entry)
		return
	}

	rec.Status = domain.StepCompleted
	rec.Output = ev.Output
	rec.LastActivityAt = ev.Timestamp

	owner := e.owners[ev.InvocationID]
	delete(e.owners, ev.InvocationID)
	if owner.agentID != uuid.Nil {
		e.agentTouch[owner.agentID] = ev.Timestamp
	}

	e.closeEntry(ev.InvocationID, ev.Output, ev.Timestamp)

	if owner.parallel {
		e.finalizeGroupIfIdle(rec.RequestID)
	}
}

// applyDelta merges streaming text into one open entry per
// (request, agent, kind) context, creating it on first delta.
func (e *Engine) applyDelta(ev domain.Event, kind domain.LogEntryKind) {
	corr := deltaCorrelation(ev.RequestID, ev.AgentID, kind)
	if ev.InvocationID != "" {
		corr = ev.InvocationID
	}

	if entry, ok := e.openByCorr[corr]; ok {
		entry.Text += ev.Text
		return
	}

	entry := &domain.LogEntry{
		ID:            uuid.New(),
		Kind:          kind,
		CorrelationID: corr,
		RequestID:     ev.RequestID,
		AgentID:       ev.AgentID,
		Label:         e.agentLabel[ev.AgentID],
		Text:          ev.Text,
		Open:          true,
		CreatedAt:     ev.Timestamp,
	}
	e.append(entry)
}

// closeAgent handles a terminal lifecycle event for an agent: best-effort
// close of its still-open steps, removal from the live maps, and closing
// its log entry with the final result or error text.
func (e *Engine) closeAgent(ev domain.Event) {
	for _, rec := range e.timelines[ev.AgentID] {
		if rec.Status.Terminal() {
			continue
		}
		// The backend may finish without emitting a result for every
		// invocation; close the stragglers.
		rec.Status = domain.StepCompleted
		rec.LastActivityAt = ev.Timestamp
		delete(e.owners, rec.InvocationID)
		e.closeEntry(rec.InvocationID, "", ev.Timestamp)
	}

	text := ev.Result
	if ev.Stage == domain.StageFailed {
		text = ev.Error
	}
	if entry, ok := e.agentEntry[ev.AgentID]; ok && entry.Open {
		e.closeEntryRecord(entry, text, ev.Timestamp)
	}
	e.closeAgentDeltas(ev.RequestID, ev.AgentID, ev.Timestamp)

	delete(e.agentEntry, ev.AgentID)
	delete(e.agentTouch, ev.AgentID)

	if ev.RequestID != "" {
		if set, ok := e.agentsByReq[ev.RequestID]; ok {
			delete(set, ev.AgentID)
			if len(set) == 0 {
				// Last active agent of the request: finalize its parallel
				// group when nothing in it is still open.
				e.finalizeGroupIfIdle(ev.RequestID)
			}
		}
	}
}

// openGroup returns the request's open parallel group, creating one when
// no group is currently open.
func (e *Engine) openGroup(ev domain.Event) *domain.ParallelExecutionGroup {
	if g, ok := e.openGroups[ev.RequestID]; ok {
		return g
	}
	g := &domain.ParallelExecutionGroup{
		ID:        uuid.New(),
		RequestID: ev.RequestID,
		CreatedAt: ev.Timestamp,
	}
	e.groups = append(e.groups, g)
	e.openGroups[ev.RequestID] = g
	return g
}

// finalizeGroupIfIdle closes the request's open group once every step in
// it reached a terminal status. The group exists only while at least one
// invocation is open.
func (e *Engine) finalizeGroupIfIdle(requestID string) {
	g, ok := e.openGroups[requestID]
	if !ok {
		return
	}
	for _, rec := range g.Steps {
		if !rec.Status.Terminal() {
			return
		}
	}
	g.Finalized = true
	delete(e.openGroups, requestID)
}

// finalizeRequestLocked closes every entry, step, and group opened by one
// request; sibling requests are untouched. Agents of the request whose
// registry status never reached a terminal state are failed with a
// stream-interruption reason. Finalization is reachable only through a
// done event (an Error on it marks the end abnormal), so it is ordered
// behind everything the stream submitted before ending and can never
// overtake queued events.
func (e *Engine) finalizeRequestLocked(requestID string, abnormal bool) {
	now := e.now()

	// Force-close open steps belonging to the request.
	for invID, rec := range e.steps {
		if rec.RequestID != requestID || rec.Status.Terminal() {
			continue
		}
		if abnormal {
			rec.Status = domain.StepInterrupted
			rec.Detail = "interrupted"
		} else {
			rec.Status = domain.StepCompleted
		}
		rec.LastActivityAt = now
		delete(e.owners, invID)
		e.closeEntry(invID, rec.Detail, now)
	}

	// Fail agents that never reached a terminal registry status, and
	// close their entries either way.
	if set, ok := e.agentsByReq[requestID]; ok {
		for agentID := range set {
			e.finalizeAgentLocked(agentID, now)
			delete(set, agentID)
		}
		delete(e.agentsByReq, requestID)
	}

	// Close remaining open entries for the request (deltas, stragglers).
	for corr, entry := range e.openByCorr {
		if entry.RequestID != requestID {
			continue
		}
		e.closeEntryRecord(entry, "", now)
		delete(e.openByCorr, corr)
	}

	e.finalizeGroupIfIdle(requestID)
	if g, ok := e.openGroups[requestID]; ok {
		// Steps were force-closed above; drop the group regardless.
		g.Finalized = true
		delete(e.openGroups, requestID)
	}
}

// finalizeAgentLocked finalizes one agent at stream end: fail it in the
// registry when non-terminal, then close its open entry with the outcome.
func (e *Engine) finalizeAgentLocked(agentID uuid.UUID, now time.Time) {
	text := ""
	a, err := e.agents.Get(agentID)
	switch {
	case err != nil:
		log.Warn().Err(err).Str("agent_id", agentID.String()).Msg("correlate: finalizing unknown agent")
	case !a.Status.Terminal():
		text = "stream ended unexpectedly"
		if failErr := e.agents.Fail(agentID, text); failErr != nil && !errors.Is(failErr, domain.ErrInvalidTransition) {
			log.Error().Err(failErr).Str("agent_id", agentID.String()).Msg("correlate: failed to fail agent at stream end")
		}
	case a.Status == domain.AgentStatusFailed:
		text = a.Error
	default:
		text = a.Result
	}

	if entry, ok := e.agentEntry[agentID]; ok && entry.Open {
		e.closeEntryRecord(entry, text, now)
	}
	delete(e.agentEntry, agentID)
	delete(e.agentTouch, agentID)
	delete(e.agentLabel, agentID)
}

// closeAgentDeltas closes the open response/reasoning entries of an agent.
func (e *Engine) closeAgentDeltas(requestID string, agentID uuid.UUID, at time.Time) {
	for _, kind := range []domain.LogEntryKind{domain.EntryResponse, domain.EntryReasoning} {
		corr := deltaCorrelation(requestID, agentID, kind)
		if entry, ok := e.openByCorr[corr]; ok {
			e.closeEntryRecord(entry, "", at)
		}
	}
}

// append records a new entry in the log; open entries are also indexed by
// correlation ID for delta merging and later closing.
func (e *Engine) append(entry *domain.LogEntry) {
	e.entries = append(e.entries, entry)
	if entry.Open && entry.CorrelationID != "" {
		e.openByCorr[entry.CorrelationID] = entry
	}
	if !entry.Open {
		e.publish(entry)
	}
}

// appendClosed records an already-final entry.
func (e *Engine) appendClosed(ev domain.Event, kind domain.LogEntryKind, text string) {
	closedAt := ev.Timestamp
	e.append(&domain.LogEntry{
		ID:            uuid.New(),
		Kind:          kind,
		RequestID:     ev.RequestID,
		AgentID:       ev.AgentID,
		Label:         e.agentLabel[ev.AgentID],
		Text:          text,
		CreatedAt:     ev.Timestamp,
		ClosedAt:      &closedAt,
		CorrelationID: "",
	})
}

// closeEntry closes the open entry with the given correlation ID.
func (e *Engine) closeEntry(correlationID, text string, at time.Time) {
	entry, ok := e.openByCorr[correlationID]
	if !ok {
		return
	}
	e.closeEntryRecord(entry, text, at)
}

func (e *Engine) closeEntryRecord(entry *domain.LogEntry, text string, at time.Time) {
	if text != "" {
		if entry.Text != "" {
			entry.Text += "\n"
		}
		entry.Text += text
	}
	entry.Open = false
	closedAt := at
	entry.ClosedAt = &closedAt
	delete(e.openByCorr, entry.CorrelationID)
	e.publish(entry)
}

// publish fans a finalized entry out to subscribers. Best effort: a
// publish failure never affects correlation state.
func (e *Engine) publish(entry *domain.LogEntry) {
	if e.publisher == nil {
		return
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.publisher.Publish(ctx, SessionChannel(e.sessionID), payload); err != nil {
		log.Debug().Err(err).Msg("correlate: publish failed")
	}
}

// SessionChannel returns the broker channel name for a session's entries.
func SessionChannel(sessionID uuid.UUID) string {
	return "session:" + sessionID.String()
}

func agentCorrelation(id uuid.UUID) string { return "agent:" + id.String() }

func groupCorrelation(id uuid.UUID) string { return "group:" + id.String() }

func deltaCorrelation(requestID string, agentID uuid.UUID, kind domain.LogEntryKind) string {
	return string(kind) + ":" + requestID + ":" + agentID.String()
}
