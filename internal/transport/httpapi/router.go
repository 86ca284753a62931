package httpapi

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/karpovdv/folio/internal/transport/httpapi/handler"
	"github.com/karpovdv/folio/internal/transport/httpapi/middleware"
	"github.com/karpovdv/folio/pkg/logger"
)

// Config holds router configuration
type Config struct {
	Logger            *logger.Logger
	AllowedOrigins    []string
	HealthHandler     *handler.HealthHandler
	StatusHandler     *handler.StatusHandler
	StatisticsHandler *handler.StatisticsHandler
	LogsHandler       *handler.LogsHandler
	UpdatesHandler    *handler.UpdatesHandler
}

// NewRouter creates a new HTTP router
func NewRouter(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(chimiddleware.Compress(5))
	r.Use(middleware.RateLimit()) // Rate limiting: 100 req/s with burst of 20

	// Health check endpoints
	r.Get("/health", handler.GetHealth)
	r.Get("/health/live", handler.GetLiveness)
	if cfg.HealthHandler != nil {
		r.Get("/health/ready", cfg.HealthHandler.GetReadiness)
		r.Get("/health/detailed", cfg.HealthHandler.GetHealthDetailed)
	}

	// Read-only fetcher introspection routes
	r.Route("/api/v1/fetcher", func(r chi.Router) {
		if cfg.StatusHandler != nil {
			r.Get("/status", cfg.StatusHandler.GetStatus)
		}
		if cfg.StatisticsHandler != nil {
			r.Get("/statistics", cfg.StatisticsHandler.GetStatistics)
		}
		if cfg.LogsHandler != nil {
			r.Get("/logs", cfg.LogsHandler.GetLogs)
		}
		if cfg.UpdatesHandler != nil {
			r.Get("/updates", cfg.UpdatesHandler.GetRecentUpdates)
		}
	})

	return r
}
