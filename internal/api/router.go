package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tracker-broker-core/internal/process"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/mqtt", func(r chi.Router) {
				r.Route("/credentials", func(r chi.Router) {
					r.Get("/", s.handleListCredentials)
					r.Post("/", s.handleCreateCredential)

					r.Route("/{device_id}", func(r chi.Router) {
						r.Get("/", s.handleGetCredential)
						r.Patch("/", s.handleUpdateCredential)
						r.Delete("/", s.handleDeleteCredential)
						r.Post("/send", s.handleSendCredentials)
					})
				})

				r.Route("/acl", func(r chi.Router) {
					r.Get("/", s.handleListRules)
					r.Post("/", s.handleCreateRule)
					r.Patch("/{id}", s.handleUpdateRule)
					r.Delete("/{id}", s.handleDeleteRule)
				})

				r.Get("/sync", s.handleGetSyncStatus)
				r.Post("/sync", s.handleSync)
			})

			r.Get("/audit", s.handleListAuditLogs)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":     "ok",
		"version":    s.version,
		"sync_state": s.syncer.State(),
	}
	if s.broker != nil {
		stats := s.broker.Stats()
		body["broker"] = stats
		if stats.Status != process.StatusRunning {
			body["status"] = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, body)
}
