package v1_test

import (
	"context"

	"github.com/google/uuid"

	"github.com/gosuda/weave/internal/correlate"
	"github.com/gosuda/weave/internal/domain"
)

// ---------------------------------------------------------------------------
// Mock Orchestrator
// ---------------------------------------------------------------------------

type mockOrchestrator struct {
	executeFunc func(sessionID uuid.UUID, prompt string) string
	abortFunc   func(ctx context.Context, requestID string) error
	answerFunc  func(ctx context.Context, requestID, value string) error
	engineFunc  func(sessionID uuid.UUID) *correlate.Engine
}

func (m *mockOrchestrator) Execute(sessionID uuid.UUID, prompt string) string {
	return m.executeFunc(sessionID, prompt)
}

func (m *mockOrchestrator) Abort(ctx context.Context, requestID string) error {
	return m.abortFunc(ctx, requestID)
}

func (m *mockOrchestrator) Answer(ctx context.Context, requestID, value string) error {
	return m.answerFunc(ctx, requestID, value)
}

func (m *mockOrchestrator) Engine(sessionID uuid.UUID) *correlate.Engine {
	return m.engineFunc(sessionID)
}

// ---------------------------------------------------------------------------
// Mock AgentStore
// ---------------------------------------------------------------------------

type mockAgentStore struct {
	getFunc           func(id uuid.UUID) (*domain.Agent, error)
	listBySessionFunc func(sessionID uuid.UUID) []*domain.Agent
	listActiveFunc    func() []*domain.Agent
	deleteFunc        func(id uuid.UUID) error
	metricsFunc       func(sessionID uuid.UUID) domain.Metrics
}

func (m *mockAgentStore) Get(id uuid.UUID) (*domain.Agent, error) {
	return m.getFunc(id)
}

func (m *mockAgentStore) ListBySession(sessionID uuid.UUID) []*domain.Agent {
	return m.listBySessionFunc(sessionID)
}

func (m *mockAgentStore) ListActive() []*domain.Agent {
	return m.listActiveFunc()
}

func (m *mockAgentStore) Delete(id uuid.UUID) error {
	return m.deleteFunc(id)
}

func (m *mockAgentStore) Metrics(sessionID uuid.UUID) domain.Metrics {
	return m.metricsFunc(sessionID)
}

// ---------------------------------------------------------------------------
// Mock SessionStore
// ---------------------------------------------------------------------------

type mockSessionStore struct {
	getFunc  func(id uuid.UUID) (*domain.Session, error)
	listFunc func() []*domain.Session
}

func (m *mockSessionStore) Get(id uuid.UUID) (*domain.Session, error) {
	return m.getFunc(id)
}

func (m *mockSessionStore) List() []*domain.Session {
	return m.listFunc()
}
