package domain

import (
	"time"

	"github.com/google/uuid"
)

type AgentStatus string

const (
	AgentStatusPending   AgentStatus = "pending"
	AgentStatusActive    AgentStatus = "active"
	AgentStatusCompleted AgentStatus = "completed"
	AgentStatusFailed    AgentStatus = "failed"
	AgentStatusDeleted   AgentStatus = "deleted"
)

// Terminal reports whether the status is an end state for execution.
func (s AgentStatus) Terminal() bool {
	switch s {
	case AgentStatusCompleted, AgentStatusFailed, AgentStatusDeleted:
		return true
	default:
		return false
	}
}

// CanTransition reports whether from -> to is a legal agent status change.
// The lifecycle is one-directional: pending -> active -> {completed|failed},
// pending -> failed for spawn failures, and any non-deleted status -> deleted.
func CanTransition(from, to AgentStatus) bool {
	if from == AgentStatusDeleted {
		return false
	}
	switch to {
	case AgentStatusActive:
		return from == AgentStatusPending
	case AgentStatusCompleted:
		return from == AgentStatusActive
	case AgentStatusFailed:
		return from == AgentStatusActive || from == AgentStatusPending
	case AgentStatusDeleted:
		return true
	default:
		return false
	}
}

// Agent is a unit of delegated work with its own lifecycle.
// Invariant: at most one of Result/Error is set, and only once the agent
// has reached a terminal status.
type Agent struct {
	ID          uuid.UUID   `json:"id"`
	Type        string      `json:"type"`
	SessionID   uuid.UUID   `json:"session_id"`
	ParentID    *uuid.UUID  `json:"parent_id,omitempty"`
	Task        string      `json:"task"`
	Status      AgentStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Result      string      `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
	TokensUsed  int64       `json:"tokens_used"`
	CostUSD     float64     `json:"cost_usd"`
}

// Clone returns a deep copy safe to hand to readers.
func (a *Agent) Clone() *Agent {
	dup := *a
	if a.ParentID != nil {
		pid := *a.ParentID
		dup.ParentID = &pid
	}
	if a.StartedAt != nil {
		t := *a.StartedAt
		dup.StartedAt = &t
	}
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		dup.CompletedAt = &t
	}
	return &dup
}
