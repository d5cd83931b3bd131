// Package main provides the database migration CLI tool.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/smartedu360/licensor/internal/db"
)

func main() {
	var (
		dbURL   = flag.String("db", "", "Database URL (or set DATABASE_URL env var)")
		showVer = flag.Bool("version", false, "Show current schema version and exit")
		list    = flag.Bool("list", false, "List bundled migrations and exit")
	)
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()

	if *list {
		migrations, err := db.GetMigrations()
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to list migrations")
		}
		for _, m := range migrations {
			fmt.Printf("%03d: %s\n", m.Version, m.Name)
		}
		return
	}

	url := *dbURL
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		logger.Fatal().Msg("database URL required: use -db flag or set DATABASE_URL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// Migrations need only a single connection.
	cfg := db.DefaultConfig(url)
	cfg.MaxConns = 2
	cfg.MinConns = 1

	database, err := db.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	if *showVer {
		version, err := database.CurrentVersion(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to get schema version")
		}
		fmt.Printf("Current schema version: %d\n", version)
		return
	}

	logger.Info().Msg("applying migrations")
	if err := database.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}

	version, err := database.CurrentVersion(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("could not read schema version")
	} else {
		logger.Info().Int("version", version).Msg("schema up to date")
	}
}
