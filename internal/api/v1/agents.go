package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/weave/internal/domain"
)

type ListAgentsInput struct {
	SessionID uuid.UUID `query:"session_id" doc:"Filter by session; omit to list active agents across all sessions"`
}

type ListAgentsOutput struct {
	Body []*domain.Agent
}

type GetAgentInput struct {
	ID uuid.UUID `path:"id" doc:"Agent ID"`
}

type GetAgentOutput struct {
	Body *domain.Agent
}

type DeleteAgentInput struct {
	ID uuid.UUID `path:"id" doc:"Agent ID"`
}

type DeleteAgentOutput struct {
	Body *domain.Agent
}

func RegisterAgentRoutes(api huma.API, agents AgentStore) {
	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List agents",
		Tags:        []string{"Agents"},
	}, func(_ context.Context, input *ListAgentsInput) (*ListAgentsOutput, error) {
		if input.SessionID == uuid.Nil {
			return &ListAgentsOutput{Body: agents.ListActive()}, nil
		}
		return &ListAgentsOutput{Body: agents.ListBySession(input.SessionID)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agent",
		Method:      http.MethodGet,
		Path:        "/agents/{id}",
		Summary:     "Get an agent by ID",
		Tags:        []string{"Agents"},
	}, func(_ context.Context, input *GetAgentInput) (*GetAgentOutput, error) {
		agent, err := agents.Get(input.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("agent not found")
			}
			return nil, huma.Error500InternalServerError("failed to get agent", err)
		}
		return &GetAgentOutput{Body: agent}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-agent",
		Method:      http.MethodDelete,
		Path:        "/agents/{id}",
		Summary:     "Mark an agent deleted",
		Tags:        []string{"Agents"},
	}, func(_ context.Context, input *DeleteAgentInput) (*DeleteAgentOutput, error) {
		if err := agents.Delete(input.ID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("agent not found")
			}
			return nil, huma.Error500InternalServerError("failed to delete agent", err)
		}

		agent, err := agents.Get(input.ID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to get deleted agent", err)
		}
		return &DeleteAgentOutput{Body: agent}, nil
	})
}
