package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	// Public (no auth required)
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(h.apiKey))

		r.Post("/route", h.RouteOperation)
		r.Get("/search", h.SearchAll)

		r.Route("/contexts", func(r chi.Router) {
			r.Get("/", h.ListContexts)
			r.Post("/", h.CreateContext)
			r.Patch("/{name}", h.UpdateContext)
			r.Delete("/{name}", h.DeleteContext)
			r.Post("/{name}/switch", h.SwitchContext)
			r.Post("/{name}/snapshot", h.SnapshotContext)
			r.Get("/{name}/snapshot", h.SnapshotDownloadURL)
		})

		r.Route("/resilience", func(r chi.Router) {
			r.Get("/stats", h.ResilienceStats)
			r.Get("/transactions", h.TransactionLogs)
			r.Delete("/transactions", h.PruneTransactions)
			r.Get("/recovery-actions", h.RecoveryActions)
		})
	})

	return r
}
