package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterConfig holds configuration for the router
type RouterConfig struct {
	Database  HealthChecker   // optional
	Runs      RunService
	History   RunHistory      // optional
	Scheduler SchedulerStatus // optional
	Location  *time.Location
}

// RouterResult holds the router and resources that need cleanup
type RouterResult struct {
	Router       *chi.Mux
	RateLimiters *RateLimiters
}

// NewRouter creates and configures the HTTP router.
// Caller must call result.RateLimiters.Stop() on shutdown.
func NewRouter(cfg *RouterConfig) *RouterResult {
	r := chi.NewRouter()

	rateLimiters := NewRateLimiters()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(CORSMiddleware)
	r.Use(rateLimiters.Global.Middleware)

	r.Get("/api/health", NewHealthHandler(cfg.Database, cfg.Scheduler))

	runs := NewRunHandler(cfg.Runs, cfg.History, cfg.Location)
	r.Get("/api/stats", runs.LatestStats)
	r.Route("/api/runs", func(r chi.Router) {
		r.With(rateLimiters.Start.Middleware).Post("/", runs.Start)
		r.Get("/", runs.List)
		r.Get("/{id}", runs.Get)
		r.Delete("/{id}", runs.Cancel)
		r.Get("/{id}/events", runs.Events)
		r.Get("/{id}/stats", runs.Stats)
		r.Get("/{id}/users/{identity}", runs.User)

		// Export: strict rate limit + concurrency cap (2 global) + 30s timeout
		r.With(ExportGuardMiddleware(rateLimiters.Export, 2)).
			Get("/{id}/export", runs.Export)
	})

	return &RouterResult{
		Router:       r,
		RateLimiters: rateLimiters,
	}
}
