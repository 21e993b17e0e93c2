package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the API routes on r. mutating wraps every route
// that starts or changes work (rate limiting, idempotency).
func MountRoutes(r chi.Router, h *Handlers, mutating ...func(http.Handler) http.Handler) {
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": h.Version})
		})

		// Runs
		r.Get("/runs", h.ListRuns)
		r.Get("/runs/{id}", h.GetRun)
		r.Get("/runs/{id}/logs", h.ListRunLogs)
		r.Get("/logs", h.ListLogs)
		r.Get("/analytics", h.Analytics)

		r.Group(func(r chi.Router) {
			r.Use(mutating...)
			r.Post("/runs", h.CreateRun)
			r.Post("/runs/{id}/retry", h.RetryStep)
			r.Post("/runs/{id}/post", h.PostToTeams)
		})

		// Settings; the fixed delivery route wins over {key}
		r.Get("/settings", h.ListSettings)
		r.Get("/settings/delivery", h.GetDeliveryDefaults)
		r.Put("/settings/delivery", h.SetDeliveryDefaults)
		r.Get("/settings/{key}", h.GetSetting)
		r.Put("/settings/{key}", h.UpdateSetting)
	})
}
