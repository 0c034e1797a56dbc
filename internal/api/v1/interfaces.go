package v1

import (
	"context"

	"github.com/google/uuid"

	"github.com/gosuda/weave/internal/correlate"
	"github.com/gosuda/weave/internal/domain"
)

// Orchestrator abstracts request handling for handler testing.
// *orchestrate.Orchestrator satisfies this interface.
type Orchestrator interface {
	Execute(sessionID uuid.UUID, prompt string) string
	Abort(ctx context.Context, requestID string) error
	Answer(ctx context.Context, requestID, value string) error
	Engine(sessionID uuid.UUID) *correlate.Engine
}

// AgentStore abstracts agent registry reads and deletion for handler
// testing. *registry.Registry satisfies this interface.
type AgentStore interface {
	Get(id uuid.UUID) (*domain.Agent, error)
	ListBySession(sessionID uuid.UUID) []*domain.Agent
	ListActive() []*domain.Agent
	Delete(id uuid.UUID) error
	Metrics(sessionID uuid.UUID) domain.Metrics
}

// SessionStore abstracts session reads for handler testing.
// *session.Store satisfies this interface.
type SessionStore interface {
	Get(id uuid.UUID) (*domain.Session, error)
	List() []*domain.Session
}
