package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/weave/internal/orchestrate"
)

type AbortRequestInput struct {
	RequestID string `path:"request_id" minLength:"1" doc:"Request ID returned by execute"`
}

type AbortRequestOutput struct {
	Body struct {
		RequestID string `json:"request_id"`
		Aborted   bool   `json:"aborted"`
	}
}

type AnswerRequestInput struct {
	RequestID string `path:"request_id" minLength:"1" doc:"Request ID returned by execute"`
	Body      struct {
		Value string `json:"value" doc:"Answer to the pending question"`
	}
}

type AnswerRequestOutput struct {
	Body struct {
		RequestID string `json:"request_id"`
	}
}

func RegisterRequestRoutes(api huma.API, orch Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID: "abort-request",
		Method:      http.MethodPost,
		Path:        "/requests/{request_id}/abort",
		Summary:     "Abort an in-flight request",
		Tags:        []string{"Requests"},
	}, func(ctx context.Context, input *AbortRequestInput) (*AbortRequestOutput, error) {
		if err := orch.Abort(ctx, input.RequestID); err != nil {
			if errors.Is(err, orchestrate.ErrRequestNotFound) {
				return nil, huma.Error404NotFound("request not found or already finished")
			}
			return nil, huma.Error500InternalServerError("failed to abort request", err)
		}

		out := &AbortRequestOutput{}
		out.Body.RequestID = input.RequestID
		out.Body.Aborted = true
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "answer-request",
		Method:      http.MethodPost,
		Path:        "/requests/{request_id}/answer",
		Summary:     "Answer a question raised by an in-flight request",
		Tags:        []string{"Requests"},
	}, func(ctx context.Context, input *AnswerRequestInput) (*AnswerRequestOutput, error) {
		if err := orch.Answer(ctx, input.RequestID, input.Body.Value); err != nil {
			if errors.Is(err, orchestrate.ErrRequestNotFound) {
				return nil, huma.Error404NotFound("request not found or already finished")
			}
			return nil, huma.Error500InternalServerError("failed to answer request", err)
		}

		out := &AnswerRequestOutput{}
		out.Body.RequestID = input.RequestID
		return out, nil
	})
}
