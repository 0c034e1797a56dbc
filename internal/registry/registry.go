// Package registry is the in-memory store of agent lifecycle records.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/weave/internal/domain"
)

// Registry tracks agents by ID and groups them by owning session. All
// mutating operations enforce the status FSM and update aggregate metrics
// incrementally; reads are O(active agents), never a history scan.
type Registry struct {
	mu        sync.RWMutex
	agents    map[uuid.UUID]*domain.Agent
	bySession map[uuid.UUID][]uuid.UUID
	active    map[uuid.UUID]struct{}
	metrics   map[uuid.UUID]*domain.Metrics
	global    domain.Metrics
	known     map[string]struct{}
	now       func() time.Time
}

// New creates a Registry. knownAgentTypes is the closed set of spawnable
// types; Create rejects anything else.
func New(knownAgentTypes []string) *Registry {
	known := make(map[string]struct{}, len(knownAgentTypes))
	for _, t := range knownAgentTypes {
		known[t] = struct{}{}
	}
	return &Registry{
		agents:    make(map[uuid.UUID]*domain.Agent),
		bySession: make(map[uuid.UUID][]uuid.UUID),
		active:    make(map[uuid.UUID]struct{}),
		metrics:   make(map[uuid.UUID]*domain.Metrics),
		known:     known,
		now:       time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// KnownType reports whether agentType can be spawned.
func (r *Registry) KnownType(agentType string) bool {
	_, ok := r.known[agentType]
	return ok
}

// Create allocates a new agent in pending status. Fails only on an
// unknown agent type.
func (r *Registry) Create(agentType string, sessionID uuid.UUID, task string, parentID *uuid.UUID) (*domain.Agent, error) {
	if _, ok := r.known[agentType]; !ok {
		return nil, fmt.Errorf("registry.Registry.Create(%q): %w", agentType, domain.ErrUnknownAgentType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a := &domain.Agent{
		ID:        uuid.New(),
		Type:      agentType,
		SessionID: sessionID,
		ParentID:  parentID,
		Task:      task,
		Status:    domain.AgentStatusPending,
		CreatedAt: r.now(),
	}

	r.agents[a.ID] = a
	r.bySession[sessionID] = append(r.bySession[sessionID], a.ID)
	r.bumpMetrics(sessionID, "", domain.AgentStatusPending)

	return a.Clone(), nil
}

// Start moves a pending agent to active.
func (r *Registry) Start(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return fmt.Errorf("registry.Registry.Start(%s): %w", id, domain.ErrNotFound)
	}
	if !domain.CanTransition(a.Status, domain.AgentStatusActive) {
		return fmt.Errorf("registry.Registry.Start(%s): %s -> active: %w", id, a.Status, domain.ErrInvalidTransition)
	}

	now := r.now()
	prev := a.Status
	a.Status = domain.AgentStatusActive
	a.StartedAt = &now
	r.active[id] = struct{}{}
	r.bumpMetrics(a.SessionID, prev, a.Status)

	return nil
}

// Complete moves an active agent to completed, recording the result and
// token/cost usage.
func (r *Registry) Complete(id uuid.UUID, result string, tokensUsed int64, costUSD float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return fmt.Errorf("registry.Registry.Complete(%s): %w", id, domain.ErrNotFound)
	}
	if !domain.CanTransition(a.Status, domain.AgentStatusCompleted) {
		return fmt.Errorf("registry.Registry.Complete(%s): %s -> completed: %w", id, a.Status, domain.ErrInvalidTransition)
	}

	now := r.now()
	prev := a.Status
	a.Status = domain.AgentStatusCompleted
	a.CompletedAt = &now
	a.Result = result
	a.TokensUsed = tokensUsed
	a.CostUSD = costUSD
	delete(r.active, id)
	r.bumpMetrics(a.SessionID, prev, a.Status)
	r.bumpUsage(a.SessionID, tokensUsed, costUSD)

	return nil
}

// Fail moves an active or pending agent to failed. Pending is allowed to
// represent spawn failure.
func (r *Registry) Fail(id uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return fmt.Errorf("registry.Registry.Fail(%s): %w", id, domain.ErrNotFound)
	}
	if !domain.CanTransition(a.Status, domain.AgentStatusFailed) {
		return fmt.Errorf("registry.Registry.Fail(%s): %s -> failed: %w", id, a.Status, domain.ErrInvalidTransition)
	}

	now := r.now()
	prev := a.Status
	a.Status = domain.AgentStatusFailed
	a.CompletedAt = &now
	a.Error = reason
	delete(r.active, id)
	r.bumpMetrics(a.SessionID, prev, a.Status)

	return nil
}

// Delete marks an agent deleted. Idempotent: deleting an already-deleted
// agent is a no-op, not an error.
func (r *Registry) Delete(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return fmt.Errorf("registry.Registry.Delete(%s): %w", id, domain.ErrNotFound)
	}
	if a.Status == domain.AgentStatusDeleted {
		return nil
	}

	prev := a.Status
	a.Status = domain.AgentStatusDeleted
	delete(r.active, id)
	r.bumpMetrics(a.SessionID, prev, a.Status)

	return nil
}

// Get returns a copy of the agent.
func (r *Registry) Get(id uuid.UUID) (*domain.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("registry.Registry.Get(%s): %w", id, domain.ErrNotFound)
	}
	return a.Clone(), nil
}

// ListBySession returns copies of the session's agents in creation order.
func (r *Registry) ListBySession(sessionID uuid.UUID) []*domain.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.bySession[sessionID]
	out := make([]*domain.Agent, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.agents[id].Clone())
	}
	return out
}

// ListActive returns copies of all currently active agents.
func (r *Registry) ListActive() []*domain.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Agent, 0, len(r.active))
	for id := range r.active {
		out = append(out, r.agents[id].Clone())
	}
	return out
}

// Metrics returns the aggregate metrics for a session, or the global
// aggregate when sessionID is the zero UUID.
func (r *Registry) Metrics(sessionID uuid.UUID) domain.Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if sessionID == uuid.Nil {
		return r.global
	}
	if m, ok := r.metrics[sessionID]; ok {
		return *m
	}
	return domain.Metrics{}
}

// bumpMetrics moves one agent between status buckets. prev == "" means the
// agent was just created. Callers hold the write lock.
func (r *Registry) bumpMetrics(sessionID uuid.UUID, prev, next domain.AgentStatus) {
	m, ok := r.metrics[sessionID]
	if !ok {
		m = &domain.Metrics{}
		r.metrics[sessionID] = m
	}

	if prev != "" {
		addStatus(m, prev, -1)
		addStatus(&r.global, prev, -1)
	}
	addStatus(m, next, 1)
	addStatus(&r.global, next, 1)
}

func (r *Registry) bumpUsage(sessionID uuid.UUID, tokens int64, cost float64) {
	m, ok := r.metrics[sessionID]
	if !ok {
		m = &domain.Metrics{}
		r.metrics[sessionID] = m
	}
	m.TotalTokens += tokens
	m.TotalCostUSD += cost
	r.global.TotalTokens += tokens
	r.global.TotalCostUSD += cost
}

func addStatus(m *domain.Metrics, status domain.AgentStatus, delta int) {
	switch status {
	case domain.AgentStatusPending:
		m.Pending += delta
	case domain.AgentStatusActive:
		m.Active += delta
	case domain.AgentStatusCompleted:
		m.Completed += delta
	case domain.AgentStatusFailed:
		m.Failed += delta
	case domain.AgentStatusDeleted:
		m.Deleted += delta
	default:
		log.Warn().Str("status", string(status)).Msg("registry: unknown status in metrics update")
	}
}
