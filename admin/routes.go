package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/curately/atsync/telemetry"
)

// RegisterRoutes registers all admin API routes using chi router
func RegisterRoutes(mux *http.ServeMux, handlers *Handlers) {
	r := chi.NewRouter()

	r.Get("/health", handlers.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware)

		r.Get("/watermarks", handlers.handleWatermarks)
		r.Get("/cycles", handlers.handleCycles)

		r.Post("/trigger/{provider}/{entityType}", func(w http.ResponseWriter, req *http.Request) {
			handlers.handleTrigger(w, req,
				chi.URLParam(req, "provider"),
				chi.URLParam(req, "entityType"))
		})

		r.Post("/match/{provider}/{jobID}", func(w http.ResponseWriter, req *http.Request) {
			handlers.handleMatch(w, req,
				chi.URLParam(req, "provider"),
				chi.URLParam(req, "jobID"))
		})
	})

	mux.Handle("/admin", http.RedirectHandler("/admin/", http.StatusMovedPermanently))
	mux.Handle("/admin/", http.StripPrefix("/admin", r))

	if metricsHandler := telemetry.GetMetricsHandler(); metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	log.Info().Msg("Admin endpoints enabled at /admin/*")
}
