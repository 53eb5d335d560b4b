package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/brokerwatch/internal/api/alerts"
	"github.com/good-yellow-bee/brokerwatch/internal/api/health"
	"github.com/good-yellow-bee/brokerwatch/internal/api/middleware"
	"github.com/good-yellow-bee/brokerwatch/internal/api/preferences"
)

// NewRouter creates the chi router with every API route.
func NewRouter(cfg *Config, deps Deps) *chi.Mux {
	if deps.Health == nil {
		deps.Health = health.NewHandler()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestLogger(deps.Logger, cfg.Verbose))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recoverer(deps.Logger))
	r.Use(middleware.PrometheusMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		JSONError(w, ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		JSONError(w, ErrMethodNotAllowed)
	})

	// Probes are not rate limited.
	r.Get("/health", deps.Health.Health)
	r.Get("/ready", deps.Health.Ready)

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerIP)
	alertHandler := alerts.NewHandler(deps.Engine, deps.Servers, deps.Resolved, cfg.PassTimeout, deps.Logger)
	prefsHandler := preferences.NewHandler(deps.Preferences, deps.Logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(limiter))

		r.Route("/servers/{serverID}/alerts", func(r chi.Router) {
			r.Get("/", alertHandler.Get)
			r.Post("/track", alertHandler.Track)
			r.Get("/resolved", alertHandler.Resolved)
		})

		r.Route("/tenants/{tenantID}/preferences", func(r chi.Router) {
			r.Get("/", prefsHandler.Get)
			r.Put("/", prefsHandler.Put)
		})
	})

	return r
}
