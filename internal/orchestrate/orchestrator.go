// Package orchestrate is the decision layer: it classifies incoming
// prompts, runs them directly or fans them out to spawned agents, and
// owns the per-session correlation engines.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/weave/internal/classify"
	"github.com/gosuda/weave/internal/correlate"
	"github.com/gosuda/weave/internal/domain"
	"github.com/gosuda/weave/internal/gateway"
	"github.com/gosuda/weave/internal/registry"
	"github.com/gosuda/weave/internal/session"
	"github.com/gosuda/weave/internal/spawn"
)

var (
	ErrRequestNotFound = errors.New("orchestrate: request not found")
	ErrAllSpawnsFailed = errors.New("orchestrate: every delegated spawn failed")
	ErrAborted         = errors.New("orchestrate: request aborted")
)

// Options tune per-engine housekeeping.
type Options struct {
	// StaleAfter is how long an agent may sit without stream activity
	// before the sweeper fails it. Zero disables sweeping.
	StaleAfter    time.Duration
	SweepInterval time.Duration
}

// requestState tracks one in-flight logical request for abort and answer
// routing.
type requestState struct {
	sessionID uuid.UUID

	mu         sync.Mutex
	transports []string
	aborted    bool
}

func (rs *requestState) addTransport(id string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.transports = append(rs.transports, id)
}

func (rs *requestState) snapshot() (transports []string, aborted bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]string(nil), rs.transports...), rs.aborted
}

func (rs *requestState) markAborted() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.aborted = true
	return append([]string(nil), rs.transports...)
}

// Orchestrator routes prompts. It implements spawn.EventSink by
// forwarding each normalized event to the owning session's engine.
type Orchestrator struct {
	classifier *classify.Classifier
	agents     *registry.Registry
	sessions   *session.Store
	backend    spawn.Backend
	spawner    *spawn.Spawner
	publisher  correlate.Publisher
	opts       Options

	mu       sync.Mutex
	engines  map[uuid.UUID]*correlate.Engine
	requests map[string]*requestState
	runCtx   context.Context

	wg sync.WaitGroup
}

func New(classifier *classify.Classifier, agents *registry.Registry, sessions *session.Store, backend spawn.Backend, publisher correlate.Publisher, opts Options) *Orchestrator {
	o := &Orchestrator{
		classifier: classifier,
		agents:     agents,
		sessions:   sessions,
		backend:    backend,
		publisher:  publisher,
		opts:       opts,
		engines:    make(map[uuid.UUID]*correlate.Engine),
		requests:   make(map[string]*requestState),
		runCtx:     context.Background(),
	}
	o.spawner = spawn.New(backend, agents, o)
	return o
}

// Start binds the lifetime of engine goroutines to ctx. Call before the
// first Execute.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runCtx = ctx
}

// Wait blocks until all in-flight request handlers return.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// Submit routes a normalized event to its session's engine.
func (o *Orchestrator) Submit(ev domain.Event) {
	o.Engine(ev.SessionID).Submit(ev)
}

// Engine returns the session's correlation engine, creating and starting
// it on first use.
func (o *Orchestrator) Engine(sessionID uuid.UUID) *correlate.Engine {
	o.mu.Lock()
	defer o.mu.Unlock()

	if eng, ok := o.engines[sessionID]; ok {
		return eng
	}

	eng := correlate.New(sessionID, o.agents, o.publisher)
	o.engines[sessionID] = eng

	ctx := o.runCtx
	o.wg.Go(func() { eng.Run(ctx) })
	if o.opts.StaleAfter > 0 {
		interval := o.opts.SweepInterval
		if interval <= 0 {
			interval = o.opts.StaleAfter / 2
		}
		staleAfter := o.opts.StaleAfter
		o.wg.Go(func() { eng.RunSweeper(ctx, interval, staleAfter) })
	}
	return eng
}

// Execute starts handling a prompt asynchronously and returns the
// request ID to poll or abort with.
func (o *Orchestrator) Execute(sessionID uuid.UUID, prompt string) string {
	requestID := uuid.New().String()
	o.mu.Lock()
	ctx := o.runCtx
	o.mu.Unlock()
	o.wg.Go(func() {
		if err := o.Handle(ctx, requestID, sessionID, prompt); err != nil {
			log.Warn().Err(err).Str("request_id", requestID).Msg("orchestrate: request finished with error")
		}
	})
	return requestID
}

// Handle runs one prompt to completion: classify, then either execute
// directly or decompose across spawned agents, and record the turn.
func (o *Orchestrator) Handle(ctx context.Context, requestID string, sessionID uuid.UUID, prompt string) error {
	sess := o.sessions.GetOrCreate(sessionID)
	eng := o.Engine(sessionID)

	state := &requestState{sessionID: sessionID}
	o.mu.Lock()
	o.requests[requestID] = state
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.requests, requestID)
		o.mu.Unlock()
	}()

	decision := o.classifier.Classify(prompt)
	log.Info().
		Str("request_id", requestID).
		Str("session_id", sessionID.String()).
		Str("strategy", string(decision.Strategy)).
		Int("score", decision.Score).
		Msg("orchestrate: classified")

	eng.Submit(domain.Event{
		Kind:      domain.EventLifecycle,
		Stage:     domain.StageClassified,
		RequestID: requestID,
		SessionID: sessionID,
		Result:    fmt.Sprintf("%s (score %d)", decision.Strategy, decision.Score),
	})

	var summary string
	var err error
	if decision.Strategy == classify.StrategyDecompose && len(decision.Targets) > 0 {
		summary, err = o.decompose(ctx, eng, state, requestID, sessionID, prompt, decision.Targets)
	} else {
		summary, err = o.direct(ctx, eng, state, requestID, sessionID, prompt, sess.ResumeID)
	}
	if err != nil {
		return err
	}

	if appendErr := o.sessions.AppendTurn(sessionID, domain.TurnRecord{
		RequestID:   requestID,
		Prompt:      prompt,
		Summary:     summary,
		CompletedAt: time.Now(),
	}); appendErr != nil {
		log.Warn().Err(appendErr).Str("session_id", sessionID.String()).Msg("orchestrate: recording turn failed")
	}
	return nil
}

// direct runs the prompt as a single backend execution with no agents.
// Abnormal finalization is submitted from here, after RunDirect has
// drained the stream, so it stays ordered behind everything the stream
// produced.
func (o *Orchestrator) direct(ctx context.Context, eng *correlate.Engine, state *requestState, requestID string, sessionID uuid.UUID, prompt, resumeID string) (string, error) {
	state.addTransport(requestID)

	newResumeID, err := o.spawner.RunDirect(ctx, gateway.ExecuteRequest{
		RequestID: requestID,
		SessionID: sessionID,
		Prompt:    prompt,
		ResumeID:  resumeID,
	})
	if err != nil {
		_, aborted := state.snapshot()
		reason := "stream interrupted"
		if aborted {
			reason = "aborted"
		}
		eng.Submit(domain.Event{
			Kind:      domain.EventDone,
			RequestID: requestID,
			SessionID: sessionID,
			Error:     reason,
		})
		if aborted {
			return "", fmt.Errorf("orchestrate.Orchestrator.direct: %w", ErrAborted)
		}
		return "", fmt.Errorf("orchestrate.Orchestrator.direct: %w", err)
	}

	if newResumeID != "" {
		if setErr := o.sessions.SetResumeID(sessionID, newResumeID); setErr != nil {
			log.Warn().Err(setErr).Str("session_id", sessionID.String()).Msg("orchestrate: recording resume handle failed")
		}
	}
	return "answered directly", nil
}

// decompose fans the prompt out to one agent per recommended type and
// waits for all of them. Individual agent failures do not fail the
// request; they are recorded on the agents themselves.
func (o *Orchestrator) decompose(ctx context.Context, eng *correlate.Engine, state *requestState, requestID string, sessionID uuid.UUID, prompt string, targets []string) (string, error) {
	eng.Submit(domain.Event{
		Kind:      domain.EventLifecycle,
		Stage:     domain.StageDelegating,
		RequestID: requestID,
		SessionID: sessionID,
		Result:    strings.Join(targets, ", "),
	})

	handles := make([]*spawn.Handle, 0, len(targets))
	for _, target := range targets {
		h, err := o.spawner.Spawn(ctx, spawn.Request{
			RequestID: requestID,
			SessionID: sessionID,
			AgentType: target,
			Task:      prompt,
		})
		if err != nil {
			log.Error().Err(err).Str("agent_type", target).Str("request_id", requestID).
				Msg("orchestrate: spawn failed")
			continue
		}
		state.addTransport(h.TransportID)
		handles = append(handles, h)
	}

	if len(handles) == 0 {
		eng.Submit(domain.Event{
			Kind:      domain.EventDone,
			RequestID: requestID,
			SessionID: sessionID,
			Error:     "every spawn failed",
		})
		return "", fmt.Errorf("orchestrate.Orchestrator.decompose: %w", ErrAllSpawnsFailed)
	}

	eng.Submit(domain.Event{
		Kind:      domain.EventLifecycle,
		Stage:     domain.StageSpawned,
		RequestID: requestID,
		SessionID: sessionID,
		Result:    fmt.Sprintf("%d agents", len(handles)),
	})

	clean := 0
	for _, h := range handles {
		if err := <-h.Done; err == nil {
			clean++
		}
	}

	// All pumps have written to Done, so everything the streams produced
	// is already queued; the done event below lands after it.
	if _, aborted := state.snapshot(); aborted {
		eng.Submit(domain.Event{
			Kind:      domain.EventDone,
			RequestID: requestID,
			SessionID: sessionID,
			Error:     "aborted",
		})
		return "", fmt.Errorf("orchestrate.Orchestrator.decompose: %w", ErrAborted)
	}
	eng.Submit(domain.Event{
		Kind:      domain.EventDone,
		RequestID: requestID,
		SessionID: sessionID,
	})
	return fmt.Sprintf("delegated to %d agents, %d finished cleanly", len(handles), clean), nil
}

// Abort cancels one in-flight request by tearing down each of its backend
// executions. The closed streams unblock the request's handler, which
// then submits the abnormal finalization in stream order; finalizing from
// here would let it overtake events still queued from the streams.
func (o *Orchestrator) Abort(ctx context.Context, requestID string) error {
	o.mu.Lock()
	state, ok := o.requests[requestID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("orchestrate.Orchestrator.Abort(%s): %w", requestID, ErrRequestNotFound)
	}

	transports := state.markAborted()
	for _, tid := range transports {
		if err := o.backend.Abort(ctx, tid); err != nil {
			log.Warn().Err(err).Str("transport_id", tid).Msg("orchestrate: backend abort failed")
		}
	}

	log.Info().Str("request_id", requestID).Int("executions", len(transports)).
		Msg("orchestrate: request aborted")
	return nil
}

// Answer forwards a user answer to the request's backend executions.
func (o *Orchestrator) Answer(ctx context.Context, requestID, value string) error {
	o.mu.Lock()
	state, ok := o.requests[requestID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("orchestrate.Orchestrator.Answer(%s): %w", requestID, ErrRequestNotFound)
	}

	transports, _ := state.snapshot()
	var lastErr error
	for _, tid := range transports {
		if err := o.backend.Answer(ctx, tid, value); err != nil {
			lastErr = err
		}
	}
	if lastErr != nil {
		return fmt.Errorf("orchestrate.Orchestrator.Answer(%s): %w", requestID, lastErr)
	}
	return nil
}

// HandleInterrupts is the gateway's interrupt callback. The gateway has
// already closed the dropped streams, which unblocks the pumps and lets
// each request's handler finalize in stream order; this only surfaces
// which logical requests were hit.
func (o *Orchestrator) HandleInterrupts(transportIDs []string) {
	for _, tid := range transportIDs {
		requestID := logicalRequestID(tid)
		o.mu.Lock()
		_, ok := o.requests[requestID]
		o.mu.Unlock()
		if !ok {
			continue
		}
		log.Warn().Str("request_id", requestID).Str("transport_id", tid).
			Msg("orchestrate: execution interrupted by disconnect")
	}
}

// logicalRequestID strips the per-agent transport suffix.
func logicalRequestID(transportID string) string {
	if i := strings.IndexByte(transportID, '/'); i >= 0 {
		return transportID[:i]
	}
	return transportID
}
