package v1_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/gosuda/weave/internal/api/v1"
	"github.com/gosuda/weave/internal/orchestrate"
)

func newRequestTestAPI(t *testing.T) (humatest.TestAPI, *mockOrchestrator) {
	t.Helper()

	_, api := humatest.New(t)
	orch := &mockOrchestrator{}

	v1.RegisterRequestRoutes(api, orch)

	return api, orch
}

func TestAbortRequest(t *testing.T) {
	t.Parallel()

	t.Run("aborts an in-flight request", func(t *testing.T) {
		t.Parallel()

		api, orch := newRequestTestAPI(t)
		orch.abortFunc = func(_ context.Context, requestID string) error {
			assert.Equal(t, "req-42", requestID)
			return nil
		}

		resp := api.Post("/requests/req-42/abort")

		require.Equal(t, http.StatusOK, resp.Code)

		var body struct {
			RequestID string `json:"request_id"`
			Aborted   bool   `json:"aborted"`
		}
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		assert.Equal(t, "req-42", body.RequestID)
		assert.True(t, body.Aborted)
	})

	t.Run("unknown request", func(t *testing.T) {
		t.Parallel()

		api, orch := newRequestTestAPI(t)
		orch.abortFunc = func(_ context.Context, requestID string) error {
			return fmt.Errorf("orchestrate.Orchestrator.Abort(%s): %w", requestID, orchestrate.ErrRequestNotFound)
		}

		resp := api.Post("/requests/req-gone/abort")

		assert.Equal(t, http.StatusNotFound, resp.Code)
	})
}

func TestAnswerRequest(t *testing.T) {
	t.Parallel()

	t.Run("forwards the answer", func(t *testing.T) {
		t.Parallel()

		api, orch := newRequestTestAPI(t)
		orch.answerFunc = func(_ context.Context, requestID, value string) error {
			assert.Equal(t, "req-42", requestID)
			assert.Equal(t, "use the second option", value)
			return nil
		}

		resp := api.Post("/requests/req-42/answer", map[string]any{
			"value": "use the second option",
		})

		require.Equal(t, http.StatusOK, resp.Code)

		var body struct {
			RequestID string `json:"request_id"`
		}
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		assert.Equal(t, "req-42", body.RequestID)
	})

	t.Run("unknown request", func(t *testing.T) {
		t.Parallel()

		api, orch := newRequestTestAPI(t)
		orch.answerFunc = func(_ context.Context, requestID, _ string) error {
			return fmt.Errorf("orchestrate.Orchestrator.Answer(%s): %w", requestID, orchestrate.ErrRequestNotFound)
		}

		resp := api.Post("/requests/req-gone/answer", map[string]any{
			"value": "anything",
		})

		assert.Equal(t, http.StatusNotFound, resp.Code)
	})
}
