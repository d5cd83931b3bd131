// Package api provides the HTTP API for the licensor server.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/smartedu360/licensor/internal/api/handlers"
	"github.com/smartedu360/licensor/internal/api/middleware"
	"github.com/smartedu360/licensor/internal/config"
	"github.com/smartedu360/licensor/internal/db"
	"github.com/smartedu360/licensor/internal/license"
	"github.com/smartedu360/licensor/internal/metrics"
)

// RouterConfig holds configuration for the API router.
type RouterConfig struct {
	Environment config.Environment
	// AllowedOrigins for CORS. Empty means all origins allowed in dev mode.
	AllowedOrigins []string
	// AdminAPIKey protects the lifecycle endpoints.
	AdminAPIKey string
	// RateLimitRequests is the number of requests allowed per period.
	RateLimitRequests int64
	// RateLimitPeriod is the duration string for rate limiting (e.g. "1m", "1h").
	RateLimitPeriod string
	// Version reported by the health endpoint.
	Version string
}

// DefaultRouterConfig returns a RouterConfig with sensible defaults
// for development.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Environment:       config.EnvDevelopment,
		AllowedOrigins:    []string{},
		RateLimitRequests: 100,
		RateLimitPeriod:   "1m",
		Version:           "dev",
	}
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(
	cfg RouterConfig,
	database *db.DB,
	engine *license.Engine,
	m *metrics.Metrics,
	logger zerolog.Logger,
) (*Router, error) {
	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	// Global middleware
	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))
	r.Engine.Use(middleware.CORS(cfg.AllowedOrigins, cfg.Environment))

	// Rate limiting
	rateLimiter, err := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitPeriod)
	if err != nil {
		return nil, err
	}
	r.Engine.Use(rateLimiter)

	// Health check endpoints (no auth required)
	healthHandler := handlers.NewHealthHandler(database, cfg.Version)
	healthHandler.RegisterRoutes(r.Engine)

	// Prometheus metrics endpoint (no auth required)
	if m != nil {
		metricsHandler := handlers.NewMetricsHandler(m.Registry())
		metricsHandler.RegisterRoutes(r.Engine)
	}

	licensesHandler := handlers.NewLicensesHandler(engine, m, logger)

	// Verification routes authenticate with the license key itself.
	apiV1 := r.Engine.Group("/api/v1")
	licensesHandler.RegisterPublicRoutes(apiV1)

	// Lifecycle routes (admin auth required)
	admin := r.Engine.Group("/api/v1")
	admin.Use(middleware.AdminKey(cfg.AdminAPIKey, logger))
	licensesHandler.RegisterAdminRoutes(admin)

	return r, nil
}
