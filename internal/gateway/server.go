package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Public — no auth required. The gateway binds to loopback by
	// default, so the Prometheus scrape endpoint stays local unless an
	// operator deliberately exposes it.
	r.Get("/health", g.handleHealth())
	if g.metrics != nil {
		r.Handle("/metrics", g.metrics.Handler())
	}

	// Admin endpoints — auth required. Not mounted if no auth configured.
	if g.config.Auth.IsConfigured() {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(g.config.Auth, g.audit, g.limiter))
			r.Get("/status", g.handleStatus())
			r.Route("/api/v1", func(r chi.Router) {
				r.Get("/jobs", g.handleListJobs())
				r.Post("/jobs", g.handleAddJob())
				r.Delete("/jobs/{id}", g.handleDeleteJob())

				r.Get("/credentials", g.handleListCredentials())
				r.Post("/credentials", g.handleImportCredential())
				r.Get("/credentials/{identity}", g.handleGetCredential())
				r.Delete("/credentials/{identity}", g.handleDeleteCredential())
				r.Post("/credentials/{identity}/ensure", g.handleEnsureCredential())

				r.Get("/links", g.handleListLinks())
				r.Post("/links", g.handleAddLink())
				r.Delete("/links/{identity}/{channel}", g.handleDeleteLink())

				r.Get("/config", g.handleGetConfig())
				r.Post("/config/reload", g.handleReloadConfig())

				r.Get("/events", g.handleEvents())
			})
		})
	}

	return r
}
