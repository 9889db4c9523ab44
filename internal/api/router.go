package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Plan submission.
	r.Post("/plans", h.SubmitPlan)

	// Jobs.
	r.Get("/jobs", h.ListJobs)
	r.Get("/jobs/{id}", h.GetJob)
	r.Delete("/jobs", h.CancelJobs)

	// Capability reports.
	r.Get("/capabilities/{host_kind}", h.Capabilities)

	// Block inventory and rollback.
	r.Get("/blocks", h.ListBlocks)
	r.Post("/blocks/rollback", h.RollbackBlock)

	// Derived registry views. The generation layer reports its own
	// transitions through /sessions/status.
	r.Get("/sessions", h.Sessions)
	r.Post("/sessions/status", h.MarkSession)
	r.Get("/documents", h.Documents)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
