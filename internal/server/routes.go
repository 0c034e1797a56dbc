package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/gosuda/weave/internal/api/v1"
	"github.com/gosuda/weave/internal/api/ws"
	"github.com/gosuda/weave/internal/orchestrate"
	"github.com/gosuda/weave/internal/registry"
	"github.com/gosuda/weave/internal/session"
)

func registerAPIRoutes(api huma.API, orchestrator *orchestrate.Orchestrator, agents *registry.Registry, sessions *session.Store) {
	v1.RegisterSessionRoutes(api, orchestrator, sessions, agents)
	v1.RegisterAgentRoutes(api, agents)
	v1.RegisterRequestRoutes(api, orchestrator)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/session/{sessionID}", hub.ServeSession)
}
