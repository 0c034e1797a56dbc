// Package gateway owns the physical connection to the remote agent
// execution service: one persistent bidirectional channel carrying one
// JSON object per message, with automatic reconnect and per-request
// cancellation.
package gateway

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Client message types.
const (
	MessageExecute = "execute"
	MessageAbort   = "abort"
	MessageAnswer  = "answer"
)

// Server message types: the normalized vocabulary plus the stream markers.
const (
	MessageTextDelta     = "text_delta"
	MessageThinkingDelta = "thinking_delta"
	MessageToolUse       = "tool_use"
	MessageToolResult    = "tool_result"
	MessageLifecycle     = "lifecycle"
	MessageDone          = "done"
	MessageError         = "error"
)

// ClientMessage is one outgoing JSON object.
type ClientMessage struct {
	Type      string    `json:"type"`
	RequestID string    `json:"request_id"`
	SessionID uuid.UUID `json:"session_id,omitempty"`

	// Execute fields.
	Prompt        string   `json:"prompt,omitempty"`
	ResumeID      string   `json:"resume_id,omitempty"`
	StrategyHints []string `json:"strategy_hints,omitempty"`

	// Answer field.
	Value string `json:"value,omitempty"`
}

// ServerMessage is one incoming JSON object. This is the execution
// service's concrete shape; only the spawner translates it further.
type ServerMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`

	AgentID   string `json:"agent_id,omitempty"`
	AgentType string `json:"agent_type,omitempty"`

	Text string `json:"text,omitempty"`

	InvocationID string          `json:"invocation_id,omitempty"`
	Name         string          `json:"name,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
	Output       string          `json:"output,omitempty"`

	Event  string `json:"event,omitempty"` // created|started|completed|failed
	Task   string `json:"task,omitempty"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	// ResumeID on a done marker is the service-side conversation handle
	// to pass back on the session's next execute.
	ResumeID string `json:"resume_id,omitempty"`

	TokensUsed int64   `json:"tokens_used,omitempty"`
	CostUSD    float64 `json:"cost_usd,omitempty"`
}

// ExecuteRequest describes one logical request to run against the service.
type ExecuteRequest struct {
	RequestID     string
	SessionID     uuid.UUID
	Prompt        string
	ResumeID      string
	StrategyHints []string
}
