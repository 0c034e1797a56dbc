package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/weave/internal/domain"
)

type ExecuteInput struct {
	SessionID uuid.UUID `path:"session_id" doc:"Session ID"`
	Body      struct {
		Prompt string `json:"prompt" minLength:"1" maxLength:"100000" doc:"User prompt to orchestrate"`
	}
}

type ExecuteOutput struct {
	Body struct {
		RequestID string    `json:"request_id" doc:"Identifier for the accepted request"`
		SessionID uuid.UUID `json:"session_id"`
	}
}

type ListSessionsOutput struct {
	Body []*domain.Session
}

type GetSessionInput struct {
	SessionID uuid.UUID `path:"session_id" doc:"Session ID"`
}

type GetSessionOutput struct {
	Body *domain.Session
}

type SessionViewInput struct {
	SessionID uuid.UUID `path:"session_id" doc:"Session ID"`
}

type SessionLogOutput struct {
	Body []domain.LogEntry
}

type SessionTimelinesOutput struct {
	Body map[string][]domain.ToolInvocationRecord
}

type SessionGroupsOutput struct {
	Body []domain.ParallelExecutionGroup
}

type SessionTodosOutput struct {
	Body []domain.TodoItem
}

type SessionMetricsOutput struct {
	Body domain.Metrics
}

func RegisterSessionRoutes(api huma.API, orch Orchestrator, sessions SessionStore, agents AgentStore) {
	huma.Register(api, huma.Operation{
		OperationID: "execute-prompt",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/execute",
		Summary:     "Submit a prompt for orchestration",
		Tags:        []string{"Sessions"},
	}, func(_ context.Context, input *ExecuteInput) (*ExecuteOutput, error) {
		requestID := orch.Execute(input.SessionID, input.Body.Prompt)

		out := &ExecuteOutput{}
		out.Body.RequestID = requestID
		out.Body.SessionID = input.SessionID
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List sessions by recency",
		Tags:        []string{"Sessions"},
	}, func(context.Context, *struct{}) (*ListSessionsOutput, error) {
		return &ListSessionsOutput{Body: sessions.List()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}",
		Summary:     "Get a session by ID",
		Tags:        []string{"Sessions"},
	}, func(_ context.Context, input *GetSessionInput) (*GetSessionOutput, error) {
		sess, err := sessions.Get(input.SessionID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("session not found")
			}
			return nil, huma.Error500InternalServerError("failed to get session", err)
		}
		return &GetSessionOutput{Body: sess}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session-log",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/log",
		Summary:     "Get the correlated activity log for a session",
		Tags:        []string{"Sessions"},
	}, func(_ context.Context, input *SessionViewInput) (*SessionLogOutput, error) {
		if err := requireSession(sessions, input.SessionID); err != nil {
			return nil, err
		}
		return &SessionLogOutput{Body: orch.Engine(input.SessionID).SnapshotLog()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session-timelines",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/timelines",
		Summary:     "Get per-agent tool invocation timelines for a session",
		Tags:        []string{"Sessions"},
	}, func(_ context.Context, input *SessionViewInput) (*SessionTimelinesOutput, error) {
		if err := requireSession(sessions, input.SessionID); err != nil {
			return nil, err
		}

		timelines := orch.Engine(input.SessionID).SnapshotTimelines()
		body := make(map[string][]domain.ToolInvocationRecord, len(timelines))
		for agentID, records := range timelines {
			body[agentID.String()] = records
		}
		return &SessionTimelinesOutput{Body: body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session-groups",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/groups",
		Summary:     "Get parallel execution groups for a session",
		Tags:        []string{"Sessions"},
	}, func(_ context.Context, input *SessionViewInput) (*SessionGroupsOutput, error) {
		if err := requireSession(sessions, input.SessionID); err != nil {
			return nil, err
		}
		return &SessionGroupsOutput{Body: orch.Engine(input.SessionID).SnapshotGroups()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session-todos",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/todos",
		Summary:     "Get the latest todo list reported for a session",
		Tags:        []string{"Sessions"},
	}, func(_ context.Context, input *SessionViewInput) (*SessionTodosOutput, error) {
		if err := requireSession(sessions, input.SessionID); err != nil {
			return nil, err
		}
		return &SessionTodosOutput{Body: orch.Engine(input.SessionID).SnapshotTodos()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session-metrics",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/metrics",
		Summary:     "Get agent metrics for a session",
		Tags:        []string{"Sessions"},
	}, func(_ context.Context, input *SessionViewInput) (*SessionMetricsOutput, error) {
		if err := requireSession(sessions, input.SessionID); err != nil {
			return nil, err
		}
		return &SessionMetricsOutput{Body: agents.Metrics(input.SessionID)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-global-metrics",
		Method:      http.MethodGet,
		Path:        "/metrics",
		Summary:     "Get agent metrics across all sessions",
		Tags:        []string{"Metrics"},
	}, func(context.Context, *struct{}) (*SessionMetricsOutput, error) {
		return &SessionMetricsOutput{Body: agents.Metrics(uuid.Nil)}, nil
	})
}

func requireSession(sessions SessionStore, id uuid.UUID) error {
	if _, err := sessions.Get(id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return huma.Error404NotFound("session not found")
		}
		return huma.Error500InternalServerError("failed to get session", err)
	}
	return nil
}
