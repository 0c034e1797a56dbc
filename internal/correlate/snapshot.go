package correlate

import (
	"github.com/google/uuid"

	"github.com/gosuda/weave/internal/domain"
)

// SnapshotLog returns the ordered log as value copies. Safe to call
// concurrently with event application; the snapshot is consistent.
func (e *Engine) SnapshotLog() []domain.LogEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]domain.LogEntry, 0, len(e.entries))
	for _, entry := range e.entries {
		out = append(out, copyEntry(entry))
	}
	return out
}

// SnapshotTimelines returns every agent's ordered step list.
func (e *Engine) SnapshotTimelines() map[uuid.UUID][]domain.ToolInvocationRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[uuid.UUID][]domain.ToolInvocationRecord, len(e.timelines))
	for agentID, steps := range e.timelines {
		copies := make([]domain.ToolInvocationRecord, 0, len(steps))
		for _, rec := range steps {
			copies = append(copies, *rec)
		}
		out[agentID] = copies
	}
	return out
}

// SnapshotTimeline returns one agent's ordered step list.
func (e *Engine) SnapshotTimeline(agentID uuid.UUID) []domain.ToolInvocationRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()

	steps := e.timelines[agentID]
	copies := make([]domain.ToolInvocationRecord, 0, len(steps))
	for _, rec := range steps {
		copies = append(copies, *rec)
	}
	return copies
}

// SnapshotGroups returns all parallel execution groups, finalized ones
// included, in creation order.
func (e *Engine) SnapshotGroups() []domain.ParallelExecutionGroup {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]domain.ParallelExecutionGroup, 0, len(e.groups))
	for _, g := range e.groups {
		dup := *g
		dup.Steps = make([]*domain.ToolInvocationRecord, 0, len(g.Steps))
		for _, rec := range g.Steps {
			recCopy := *rec
			dup.Steps = append(dup.Steps, &recCopy)
		}
		out = append(out, dup)
	}
	return out
}

// SnapshotTodos returns the current todo list view.
func (e *Engine) SnapshotTodos() []domain.TodoItem {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]domain.TodoItem, len(e.todos))
	copy(out, e.todos)
	return out
}

// OpenEntryCount reports how many log entries are still open. Zero after
// finalization of every request.
func (e *Engine) OpenEntryCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.openByCorr)
}

func copyEntry(entry *domain.LogEntry) domain.LogEntry {
	dup := *entry
	if entry.ClosedAt != nil {
		t := *entry.ClosedAt
		dup.ClosedAt = &t
	}
	return dup
}
