package v1_test

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/gosuda/weave/internal/api/v1"
	"github.com/gosuda/weave/internal/correlate"
	"github.com/gosuda/weave/internal/domain"
	"github.com/gosuda/weave/internal/registry"
)

func newSessionTestAPI(t *testing.T) (humatest.TestAPI, *mockOrchestrator, *mockSessionStore, *mockAgentStore) {
	t.Helper()

	_, api := humatest.New(t)
	orch := &mockOrchestrator{}
	sessions := &mockSessionStore{}
	agents := &mockAgentStore{}

	v1.RegisterSessionRoutes(api, orch, sessions, agents)

	return api, orch, sessions, agents
}

func existingSession(id uuid.UUID) func(uuid.UUID) (*domain.Session, error) {
	return func(got uuid.UUID) (*domain.Session, error) {
		if got != id {
			return nil, domain.ErrNotFound
		}
		return &domain.Session{ID: id, CreatedAt: time.Now()}, nil
	}
}

func TestExecutePrompt(t *testing.T) {
	t.Parallel()

	t.Run("accepts prompt and returns request id", func(t *testing.T) {
		t.Parallel()

		api, orch, _, _ := newSessionTestAPI(t)
		sessionID := uuid.New()

		orch.executeFunc = func(sid uuid.UUID, prompt string) string {
			assert.Equal(t, sessionID, sid)
			assert.Equal(t, "refactor the parser", prompt)
			return "req-123"
		}

		resp := api.Post("/sessions/"+sessionID.String()+"/execute", map[string]any{
			"prompt": "refactor the parser",
		})

		require.Equal(t, http.StatusOK, resp.Code)

		var body struct {
			RequestID string    `json:"request_id"`
			SessionID uuid.UUID `json:"session_id"`
		}
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		assert.Equal(t, "req-123", body.RequestID)
		assert.Equal(t, sessionID, body.SessionID)
	})

	t.Run("rejects empty prompt", func(t *testing.T) {
		t.Parallel()

		api, _, _, _ := newSessionTestAPI(t)

		resp := api.Post("/sessions/"+uuid.NewString()+"/execute", map[string]any{
			"prompt": "",
		})

		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	})
}

func TestListSessions(t *testing.T) {
	t.Parallel()

	api, _, sessions, _ := newSessionTestAPI(t)
	sessions.listFunc = func() []*domain.Session {
		return []*domain.Session{
			{ID: uuid.New()},
			{ID: uuid.New()},
		}
	}

	resp := api.Get("/sessions")

	require.Equal(t, http.StatusOK, resp.Code)

	var body []*domain.Session
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Len(t, body, 2)
}

func TestGetSession(t *testing.T) {
	t.Parallel()

	sessionID := uuid.New()

	t.Run("found", func(t *testing.T) {
		t.Parallel()

		api, _, sessions, _ := newSessionTestAPI(t)
		sessions.getFunc = existingSession(sessionID)

		resp := api.Get("/sessions/" + sessionID.String())

		require.Equal(t, http.StatusOK, resp.Code)

		var body domain.Session
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		assert.Equal(t, sessionID, body.ID)
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()

		api, _, sessions, _ := newSessionTestAPI(t)
		sessions.getFunc = existingSession(sessionID)

		resp := api.Get("/sessions/" + uuid.NewString())

		assert.Equal(t, http.StatusNotFound, resp.Code)
	})
}

func TestGetSessionLog(t *testing.T) {
	t.Parallel()

	sessionID := uuid.New()
	reg := registry.New([]string{"scout"})
	agent, err := reg.Create("scout", sessionID, "map the codebase", nil)
	require.NoError(t, err)

	eng := correlate.New(sessionID, reg, nil)
	eng.Apply(domain.Event{
		Kind:      domain.EventLifecycle,
		Stage:     domain.StageCreated,
		RequestID: "req-1",
		SessionID: sessionID,
		AgentID:   agent.ID,
		AgentType: "scout",
		Task:      "map the codebase",
		Timestamp: time.Now(),
	})

	api, orch, sessions, _ := newSessionTestAPI(t)
	sessions.getFunc = existingSession(sessionID)
	orch.engineFunc = func(sid uuid.UUID) *correlate.Engine {
		assert.Equal(t, sessionID, sid)
		return eng
	}

	resp := api.Get("/sessions/" + sessionID.String() + "/log")

	require.Equal(t, http.StatusOK, resp.Code)

	var body []domain.LogEntry
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "map the codebase", body[0].Text)
	assert.Equal(t, agent.ID, body[0].AgentID)

	t.Run("unknown session", func(t *testing.T) {
		t.Parallel()

		resp := api.Get("/sessions/" + uuid.NewString() + "/log")
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})
}

func TestGetSessionViews(t *testing.T) {
	t.Parallel()

	sessionID := uuid.New()
	eng := correlate.New(sessionID, registry.New(nil), nil)

	api, orch, sessions, _ := newSessionTestAPI(t)
	sessions.getFunc = existingSession(sessionID)
	orch.engineFunc = func(uuid.UUID) *correlate.Engine { return eng }

	for _, view := range []string{"timelines", "groups", "todos"} {
		t.Run(view, func(t *testing.T) {
			resp := api.Get("/sessions/" + sessionID.String() + "/" + view)
			assert.Equal(t, http.StatusOK, resp.Code)
		})
	}
}

func TestGetSessionMetrics(t *testing.T) {
	t.Parallel()

	sessionID := uuid.New()

	api, _, sessions, agents := newSessionTestAPI(t)
	sessions.getFunc = existingSession(sessionID)
	agents.metricsFunc = func(sid uuid.UUID) domain.Metrics {
		assert.Equal(t, sessionID, sid)
		return domain.Metrics{Active: 2, Completed: 5, TotalTokens: 1200}
	}

	resp := api.Get("/sessions/" + sessionID.String() + "/metrics")

	require.Equal(t, http.StatusOK, resp.Code)

	var body domain.Metrics
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Active)
	assert.Equal(t, 5, body.Completed)
	assert.Equal(t, int64(1200), body.TotalTokens)
}

func TestGetGlobalMetrics(t *testing.T) {
	t.Parallel()

	api, _, _, agents := newSessionTestAPI(t)
	agents.metricsFunc = func(sid uuid.UUID) domain.Metrics {
		assert.Equal(t, uuid.Nil, sid)
		return domain.Metrics{Completed: 9}
	}

	resp := api.Get("/metrics")

	require.Equal(t, http.StatusOK, resp.Code)

	var body domain.Metrics
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, 9, body.Completed)
}
