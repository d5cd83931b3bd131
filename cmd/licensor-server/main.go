// Package main is the entrypoint for the licensor server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/smartedu360/licensor/internal/api"
	"github.com/smartedu360/licensor/internal/config"
	"github.com/smartedu360/licensor/internal/db"
	"github.com/smartedu360/licensor/internal/license"
	"github.com/smartedu360/licensor/internal/maintenance"
	"github.com/smartedu360/licensor/internal/metrics"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if os.Getenv("ENV") != string(config.EnvProduction) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting licensor server")

	// Load configuration
	cfg := config.LoadServerConfig()

	// Connect to database
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Error().Msg("DATABASE_URL environment variable is required")
		return 1
	}

	database, err := db.New(ctx, db.DefaultConfig(databaseURL), logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to connect to database")
		return 1
	}
	defer database.Close()

	// Run migrations
	if err := database.Migrate(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to run database migrations")
		return 1
	}

	// The signing secret anchors every key hash and offline token ever
	// issued. Rotating it invalidates all of them.
	secret := os.Getenv("LICENSE_SECRET")
	if secret == "" {
		logger.Error().Msg("LICENSE_SECRET environment variable is required")
		return 1
	}

	adminAPIKey := os.Getenv("ADMIN_API_KEY")
	if adminAPIKey == "" {
		logger.Error().Msg("ADMIN_API_KEY environment variable is required")
		return 1
	}

	keygen, err := license.NewGenerator([]byte(secret))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize key generator")
		return 1
	}

	signer, err := license.NewTokenSigner([]byte(secret))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize token signer")
		return 1
	}

	engineCfg := license.Config{
		GracePeriod:       time.Duration(cfg.GracePeriodDays) * 24 * time.Hour,
		ReactivateRevoked: cfg.ReactivateRevoked,
	}

	engine, err := license.NewEngine(database, nil, keygen, signer, engineCfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize license engine")
		return 1
	}

	// Metrics
	m := metrics.New()
	m.Registry().MustRegister(metrics.NewStatsCollector(database, logger))

	routerCfg := api.RouterConfig{
		Environment:       cfg.Environment,
		AllowedOrigins:    cfg.AllowedOrigins,
		AdminAPIKey:       adminAPIKey,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitPeriod:   cfg.RateLimitPeriod,
		Version:           Version,
	}

	router, err := api.NewRouter(routerCfg, database, engine, m, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize router")
		return 1
	}

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	// Start server in background
	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Start expiry reconciliation scheduler
	expiryScheduler := maintenance.NewExpiryScheduler(database, logger)
	if err := expiryScheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("Failed to start expiry scheduler")
	}
	defer expiryScheduler.Stop()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down server")
	case err := <-serverErr:
		logger.Error().Err(err).Msg("HTTP server error")
		return 1
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
		return 1
	}

	logger.Info().Msg("Server stopped gracefully")
	return 0
}
