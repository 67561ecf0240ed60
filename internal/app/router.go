package app

import (
	"log/slog"

	"snare/pkg/logger"
	"snare/pkg/metrics"
	"snare/pkg/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
)

// BuildRouter assembles the HTTP API over app.
func BuildRouter(app *AppContext) *chi.Mux {
	cfg := app.Config

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(logger.Middleware)
	r.Use(metrics.Middleware) // Place early
	r.Use(middleware.Recoverer(cfg.Env))
	r.Use(middleware.SecurityHeaders(cfg.Env))
	r.Use(middleware.IPBlocker(app.Blocked))

	// Rate Limiting
	if cfg.RateLimitRequests > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimitRequests, cfg.RateLimitWindow))
	} else {
		slog.Info("⚠️  Rate Limiting Disabled (RATE_LIMIT_REQUESTS=0)")
	}

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Use(middleware.Brotli(cfg.BrotliEnabled))

	r.Get("/health", app.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.BearerAuth(cfg.JWTSecret))

		r.Get("/scripts", app.handleListScripts)
		r.Route("/scripts/{name}", func(r chi.Router) {
			r.Get("/", app.handleGetScript)
			r.Get("/args", app.handleGetArgs)
			r.Post("/execute", app.handleExecute)
		})
		r.Post("/filter", app.handleFilter)
		r.Get("/executions", app.handleExecutions)
	})

	return r
}
