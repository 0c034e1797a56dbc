package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventKind categorizes normalized stream events. Every execution backend
// is translated into this vocabulary before anything else sees it.
type EventKind string

const (
	EventTextDelta     EventKind = "text_delta"
	EventThinkingDelta EventKind = "thinking_delta"
	EventToolUse       EventKind = "tool_use"
	EventToolResult    EventKind = "tool_result"
	EventLifecycle     EventKind = "lifecycle"
	EventDone          EventKind = "done"
	EventError         EventKind = "error"
)

// LifecycleStage names a lifecycle transition carried by a lifecycle event.
// Agent-level stages come from the spawner; the remaining stages are emitted
// by the orchestrator itself.
type LifecycleStage string

const (
	StageCreated   LifecycleStage = "created"
	StageStarted   LifecycleStage = "started"
	StageCompleted LifecycleStage = "completed"
	StageFailed    LifecycleStage = "failed"

	StageClassified LifecycleStage = "classified"
	StageDelegating LifecycleStage = "delegating"
	StageSpawned    LifecycleStage = "spawned"
	StageDone       LifecycleStage = "done"
)

// Event is one normalized stream event. A single flat struct with a kind
// tag keeps the consumer loop a plain switch instead of a type assertion
// ladder; unused fields stay zero.
type Event struct {
	Kind      EventKind `json:"kind"`
	RequestID string    `json:"request_id,omitempty"`
	SessionID uuid.UUID `json:"session_id,omitempty"`

	// AgentID is the owning agent, uuid.Nil for top-level events.
	AgentID   uuid.UUID `json:"agent_id,omitempty"`
	AgentType string    `json:"agent_type,omitempty"`

	// Text carries delta content for text_delta / thinking_delta.
	Text string `json:"text,omitempty"`

	// Tool invocation fields. InvocationID correlates a tool_result back
	// to its tool_use; result events need not repeat the agent ID.
	InvocationID string          `json:"invocation_id,omitempty"`
	Tool         string          `json:"tool,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
	Output       string          `json:"output,omitempty"`

	// Lifecycle fields.
	Stage  LifecycleStage `json:"stage,omitempty"`
	Task   string         `json:"task,omitempty"`
	Result string         `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`

	// Usage reported with terminal lifecycle events.
	TokensUsed int64   `json:"tokens_used,omitempty"`
	CostUSD    float64 `json:"cost_usd,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}
