// Package spawn turns delegation decisions into running agents: it
// creates the registry record, starts the backend execution, and
// translates the backend's raw message stream into normalized events.
// Nothing outside this package depends on the backend's concrete shape.
package spawn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/weave/internal/domain"
	"github.com/gosuda/weave/internal/gateway"
	"github.com/gosuda/weave/internal/registry"
)

var (
	// ErrInterrupted reports a backend stream that closed before the
	// execution reached a terminal state.
	ErrInterrupted = errors.New("spawn: backend stream closed before completion")
)

const streamLossReason = "execution backend stream closed unexpectedly"

// Backend runs executions on the remote service. Satisfied by
// *gateway.Client.
type Backend interface {
	Execute(ctx context.Context, req gateway.ExecuteRequest) (<-chan gateway.ServerMessage, error)
	Abort(ctx context.Context, requestID string) error
	Answer(ctx context.Context, requestID, value string) error
}

// EventSink receives normalized events. Satisfied by *correlate.Engine.
type EventSink interface {
	Submit(ev domain.Event)
}

// Request describes one agent to spawn under a logical request.
type Request struct {
	RequestID string
	SessionID uuid.UUID
	AgentType string
	Task      string
	ParentID  *uuid.UUID
	ResumeID  string
}

// Handle is a running spawned agent. Done yields nil after a terminal
// lifecycle from the backend, or ErrInterrupted when the stream closed
// without one; in that case the agent has already been failed.
type Handle struct {
	Agent       *domain.Agent
	TransportID string
	Done        <-chan error
}

// Spawner creates agents and pumps their backend streams into the sink.
type Spawner struct {
	backend Backend
	agents  *registry.Registry
	sink    EventSink
	now     func() time.Time
}

func New(backend Backend, agents *registry.Registry, sink EventSink) *Spawner {
	return &Spawner{
		backend: backend,
		agents:  agents,
		sink:    sink,
		now:     time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (s *Spawner) SetClock(now func() time.Time) { s.now = now }

// Spawn creates the agent record, starts a dedicated backend execution
// for its task, and streams translation in the background. Each spawned
// agent gets its own transport request ID; the normalized events carry
// the logical request ID so correlation and finalization stay
// request-scoped.
func (s *Spawner) Spawn(ctx context.Context, req Request) (*Handle, error) {
	agent, err := s.agents.Create(req.AgentType, req.SessionID, req.Task, req.ParentID)
	if err != nil {
		return nil, fmt.Errorf("spawn.Spawner.Spawn: %w", err)
	}

	ev := s.event(req.RequestID, agent)
	ev.Kind = domain.EventLifecycle
	ev.Stage = domain.StageCreated
	ev.Task = req.Task
	s.sink.Submit(ev)

	transportID := transportID(req.RequestID, agent.ID)
	raw, err := s.backend.Execute(ctx, gateway.ExecuteRequest{
		RequestID:     transportID,
		SessionID:     req.SessionID,
		Prompt:        req.Task,
		ResumeID:      req.ResumeID,
		StrategyHints: []string{req.AgentType},
	})
	if err != nil {
		reason := fmt.Sprintf("backend execute failed: %v", err)
		s.failAgent(req.RequestID, agent, reason)
		return nil, fmt.Errorf("spawn.Spawner.Spawn: %w", err)
	}

	if err := s.agents.Start(agent.ID); err != nil {
		log.Error().Err(err).Str("agent_id", agent.ID.String()).Msg("spawn: start transition failed")
	}
	ev = s.event(req.RequestID, agent)
	ev.Kind = domain.EventLifecycle
	ev.Stage = domain.StageStarted
	s.sink.Submit(ev)

	done := make(chan error, 1)
	go s.pump(raw, req.RequestID, agent, done)

	return &Handle{Agent: agent, TransportID: transportID, Done: done}, nil
}

// pump consumes one backend stream to exhaustion. If the stream closes
// before a terminal lifecycle, the agent is failed here with a
// synthesized reason before the closure is propagated.
func (s *Spawner) pump(raw <-chan gateway.ServerMessage, requestID string, agent *domain.Agent, done chan<- error) {
	terminal := false
	for msg := range raw {
		if s.apply(msg, requestID, agent) {
			terminal = true
		}
	}

	if !terminal {
		s.failAgent(requestID, agent, streamLossReason)
		done <- ErrInterrupted
		close(done)
		return
	}
	done <- nil
	close(done)
}

// apply translates one backend message into the normalized vocabulary,
// driving the registry on terminal lifecycle. Reports whether the
// message was terminal for the agent.
func (s *Spawner) apply(msg gateway.ServerMessage, requestID string, agent *domain.Agent) bool {
	ev := s.event(requestID, agent)

	switch msg.Type {
	case gateway.MessageTextDelta:
		ev.Kind = domain.EventTextDelta
		ev.Text = msg.Text
	case gateway.MessageThinkingDelta:
		ev.Kind = domain.EventThinkingDelta
		ev.Text = msg.Text
	case gateway.MessageToolUse:
		ev.Kind = domain.EventToolUse
		ev.InvocationID = msg.InvocationID
		ev.Tool = msg.Name
		ev.Input = msg.Input
	case gateway.MessageToolResult:
		ev.Kind = domain.EventToolResult
		ev.InvocationID = msg.InvocationID
		ev.Output = msg.Output
	case gateway.MessageLifecycle:
		return s.applyLifecycle(msg, requestID, agent)
	case gateway.MessageError:
		reason := msg.Error
		if reason == "" {
			reason = "execution backend reported an error"
		}
		s.failAgent(requestID, agent, reason)
		return true
	case gateway.MessageDone:
		// The per-agent done marker only signals stream closure; the
		// terminal lifecycle has already been handled.
		return false
	default:
		log.Warn().Str("type", msg.Type).Msg("spawn: dropping backend message of unknown type")
		return false
	}

	s.sink.Submit(ev)
	return false
}

func (s *Spawner) applyLifecycle(msg gateway.ServerMessage, requestID string, agent *domain.Agent) bool {
	switch domain.LifecycleStage(msg.Event) {
	case domain.StageCompleted:
		if err := s.agents.Complete(agent.ID, msg.Result, msg.TokensUsed, msg.CostUSD); err != nil {
			log.Error().Err(err).Str("agent_id", agent.ID.String()).Msg("spawn: complete transition failed")
		}
		ev := s.event(requestID, agent)
		ev.Kind = domain.EventLifecycle
		ev.Stage = domain.StageCompleted
		ev.Result = msg.Result
		ev.TokensUsed = msg.TokensUsed
		ev.CostUSD = msg.CostUSD
		s.sink.Submit(ev)
		return true
	case domain.StageFailed:
		reason := msg.Error
		if reason == "" {
			reason = "agent failed"
		}
		s.failAgent(requestID, agent, reason)
		return true
	default:
		// created/started echoes from the backend; the spawner already
		// emitted these for its own agent.
		return false
	}
}

// failAgent drives the registry transition and emits the failed
// lifecycle event. Safe to call for an already-terminal agent.
func (s *Spawner) failAgent(requestID string, agent *domain.Agent, reason string) {
	if err := s.agents.Fail(agent.ID, reason); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
		log.Error().Err(err).Str("agent_id", agent.ID.String()).Msg("spawn: fail transition failed")
	}
	ev := s.event(requestID, agent)
	ev.Kind = domain.EventLifecycle
	ev.Stage = domain.StageFailed
	ev.Error = reason
	s.sink.Submit(ev)
}

// RunDirect executes a request without a delegated agent, pumping the
// stream into the sink with no agent context. After the done marker it
// returns the conversation resume handle the marker carried, if any; the
// error marker or premature closure returns an error and leaves
// finalization to the caller.
func (s *Spawner) RunDirect(ctx context.Context, req gateway.ExecuteRequest) (string, error) {
	raw, err := s.backend.Execute(ctx, req)
	if err != nil {
		return "", fmt.Errorf("spawn.Spawner.RunDirect: %w", err)
	}

	finished := false
	resumeID := ""
	var streamErr error
	for msg := range raw {
		ev := domain.Event{
			RequestID: req.RequestID,
			SessionID: req.SessionID,
			Timestamp: s.now(),
		}
		switch msg.Type {
		case gateway.MessageTextDelta:
			ev.Kind = domain.EventTextDelta
			ev.Text = msg.Text
		case gateway.MessageThinkingDelta:
			ev.Kind = domain.EventThinkingDelta
			ev.Text = msg.Text
		case gateway.MessageToolUse:
			ev.Kind = domain.EventToolUse
			ev.InvocationID = msg.InvocationID
			ev.Tool = msg.Name
			ev.Input = msg.Input
		case gateway.MessageToolResult:
			ev.Kind = domain.EventToolResult
			ev.InvocationID = msg.InvocationID
			ev.Output = msg.Output
		case gateway.MessageLifecycle:
			ev.Kind = domain.EventLifecycle
			ev.Stage = domain.LifecycleStage(msg.Event)
			ev.Task = msg.Task
			ev.Result = msg.Result
			ev.Error = msg.Error
		case gateway.MessageDone:
			ev.Kind = domain.EventDone
			finished = true
			resumeID = msg.ResumeID
		case gateway.MessageError:
			ev.Kind = domain.EventError
			ev.Error = msg.Error
			finished = true
			streamErr = fmt.Errorf("spawn.Spawner.RunDirect: backend error: %s", msg.Error)
		default:
			log.Warn().Str("type", msg.Type).Msg("spawn: dropping backend message of unknown type")
			continue
		}
		s.sink.Submit(ev)
	}

	if streamErr != nil {
		return "", streamErr
	}
	if !finished {
		return "", fmt.Errorf("spawn.Spawner.RunDirect: %w", ErrInterrupted)
	}
	return resumeID, nil
}

// event is the base normalized event for one agent under one request.
func (s *Spawner) event(requestID string, agent *domain.Agent) domain.Event {
	return domain.Event{
		RequestID: requestID,
		SessionID: agent.SessionID,
		AgentID:   agent.ID,
		AgentType: agent.Type,
		Timestamp: s.now(),
	}
}

// transportID derives the wire-level request ID for one spawned agent,
// keeping concurrent siblings of a logical request distinct on the
// connection.
func transportID(requestID string, agentID uuid.UUID) string {
	return requestID + "/" + agentID.String()[:8]
}
