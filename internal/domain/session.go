package domain

import (
	"time"

	"github.com/google/uuid"
)

// TurnRecord summarizes one completed request/response turn.
type TurnRecord struct {
	RequestID   string    `json:"request_id"`
	Prompt      string    `json:"prompt"`
	Summary     string    `json:"summary,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Session is a long-lived conversation context. Created on first user
// interaction, mutated by every completed turn, never deleted automatically.
type Session struct {
	ID      uuid.UUID `json:"id"`
	WorkDir string    `json:"work_dir,omitempty"`
	// ResumeID is the backend-side conversation handle, when known.
	ResumeID  string       `json:"resume_id,omitempty"`
	History   []TurnRecord `json:"history"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
