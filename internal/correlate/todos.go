package correlate

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/weave/internal/domain"
)

// todoWriteTool is the tool name whose invocations carry the task list.
const todoWriteTool = "todo_write"

// applyTodoWrite replaces the todo view from a todo_write invocation's
// input. Malformed input is ignored; the event source is adversarial.
func (e *Engine) applyTodoWrite(input json.RawMessage) {
	var payload struct {
		Todos []struct {
			Text   string `json:"text"`
			Status string `json:"status"`
		} `json:"todos"`
	}
	if err := json.Unmarshal(input, &payload); err != nil {
		log.Debug().Err(err).Msg("correlate: unparseable todo_write input")
		return
	}

	todos := make([]domain.TodoItem, 0, len(payload.Todos))
	for _, item := range payload.Todos {
		status := domain.TodoStatus(item.Status)
		switch status {
		case domain.TodoPending, domain.TodoInProgress, domain.TodoCompleted:
		default:
			status = domain.TodoPending
		}
		todos = append(todos, domain.TodoItem{Text: item.Text, Status: status})
	}
	e.todos = todos
}
