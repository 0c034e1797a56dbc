package domain

import (
	"time"

	"github.com/google/uuid"
)

// LogEntryKind tags the kind of observable event a log entry records.
type LogEntryKind string

const (
	EntryResponse   LogEntryKind = "response"
	EntryReasoning  LogEntryKind = "reasoning"
	EntryToolUse    LogEntryKind = "tool_use"
	EntryToolResult LogEntryKind = "tool_result"
	EntryLifecycle  LogEntryKind = "lifecycle"
	EntryError      LogEntryKind = "error"
)

// LogEntry is one record in the session log. Streaming deltas with the
// same correlation ID are merged into a single entry; the entry is
// immutable once Open flips to false.
type LogEntry struct {
	ID            uuid.UUID    `json:"id"`
	Kind          LogEntryKind `json:"kind"`
	CorrelationID string       `json:"correlation_id,omitempty"`
	// ParentID links a tool result under its invocation, or a step under
	// its owning agent's entry.
	ParentID  string    `json:"parent_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	AgentID   uuid.UUID `json:"agent_id,omitempty"`
	// Label is the display name, e.g. "scout" or "scout #2".
	Label     string     `json:"label,omitempty"`
	Text      string     `json:"text"`
	Open      bool       `json:"open"`
	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// StepStatus tracks an in-flight tool invocation.
type StepStatus string

const (
	StepRunning     StepStatus = "running"
	StepCompleted   StepStatus = "completed"
	StepFailed      StepStatus = "failed"
	StepTimedOut    StepStatus = "timed_out"
	StepInterrupted StepStatus = "interrupted"
)

// Terminal reports whether the step has reached an end state.
func (s StepStatus) Terminal() bool { return s != StepRunning }

// ToolInvocationRecord tracks one tool call from open to close. AgentID is
// uuid.Nil when the invocation belongs to the top-level parallel context.
type ToolInvocationRecord struct {
	InvocationID   string     `json:"invocation_id"`
	AgentID        uuid.UUID  `json:"agent_id,omitempty"`
	RequestID      string     `json:"request_id,omitempty"`
	Tool           string     `json:"tool"`
	StartedAt      time.Time  `json:"started_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	Status         StepStatus `json:"status"`
	Output         string     `json:"output,omitempty"`
	// Detail carries the close reason for force-closed steps
	// ("timed out", "interrupted").
	Detail string `json:"detail,omitempty"`
}

// ParallelExecutionGroup aggregates concurrently open tool invocations not
// attributable to any registered agent. It exists only while at least one
// such invocation is open.
type ParallelExecutionGroup struct {
	ID        uuid.UUID               `json:"id"`
	RequestID string                  `json:"request_id,omitempty"`
	Steps     []*ToolInvocationRecord `json:"steps"`
	CreatedAt time.Time               `json:"created_at"`
	Finalized bool                    `json:"finalized"`
}

// TodoStatus is the state of one todo item.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// TodoItem is one entry in the task list view maintained from todo_write
// tool invocations.
type TodoItem struct {
	Text   string     `json:"text"`
	Status TodoStatus `json:"status"`
}
