// Package cache persists last-known-good license snapshots on the
// client side so verification can degrade gracefully when the server is
// unreachable.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/smartedu360/licensor/internal/license"
	"github.com/smartedu360/licensor/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteCache implements the engine's SnapshotCache using SQLite for
// durable local persistence.
type SQLiteCache struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteCache creates a snapshot cache backed by a database file in
// the given config directory.
func NewSQLiteCache(configDir string, logger zerolog.Logger) (*SQLiteCache, error) {
	dbPath := filepath.Join(configDir, "snapshots.db")

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	c := &SQLiteCache{
		db:     db,
		logger: logger.With().Str("component", "snapshot_cache").Logger(),
	}

	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	c.logger.Info().Str("path", dbPath).Msg("snapshot cache initialized")

	return c, nil
}

// migrate creates the necessary tables.
func (c *SQLiteCache) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS license_snapshots (
			license_key TEXT PRIMARY KEY,
			expires_at TEXT NOT NULL,
			features TEXT NOT NULL DEFAULT '[]',
			max_users INTEGER NOT NULL DEFAULT 0,
			offline_token TEXT NOT NULL DEFAULT '',
			current_users INTEGER NOT NULL DEFAULT 0,
			last_sync TEXT NOT NULL,
			cached_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_license_snapshots_cached_at ON license_snapshots(cached_at);
	`

	_, err := c.db.Exec(schema)
	return err
}

// Get returns the cached snapshot for a license key.
// Returns license.ErrSnapshotNotFound on a cache miss.
func (c *SQLiteCache) Get(ctx context.Context, licenseKey string) (*models.LicenseSnapshot, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT license_key, expires_at, features, max_users, offline_token, current_users, last_sync, cached_at
		FROM license_snapshots
		WHERE license_key = ?
	`, licenseKey)

	var (
		snap         models.LicenseSnapshot
		expiresAt    string
		featuresJSON string
		lastSync     string
		cachedAt     string
	)

	err := row.Scan(&snap.LicenseKey, &expiresAt, &featuresJSON, &snap.MaxUsers, &snap.OfflineToken, &snap.CurrentUsers, &lastSync, &cachedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, license.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}

	if snap.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresAt); err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	if snap.LastSync, err = time.Parse(time.RFC3339Nano, lastSync); err != nil {
		return nil, fmt.Errorf("parse last_sync: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, cachedAt); err == nil {
		snap.CachedAt = t
	}

	if err := json.Unmarshal([]byte(featuresJSON), &snap.Features); err != nil {
		return nil, fmt.Errorf("parse features: %w", err)
	}
	if snap.Features == nil {
		snap.Features = []string{}
	}

	return &snap, nil
}

// Put stores a snapshot, replacing any previous one for the same key.
func (c *SQLiteCache) Put(ctx context.Context, snap *models.LicenseSnapshot) error {
	features := snap.Features
	if features == nil {
		features = []string{}
	}
	featuresJSON, err := json.Marshal(features)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}

	cachedAt := snap.CachedAt
	if cachedAt.IsZero() {
		cachedAt = time.Now()
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO license_snapshots (license_key, expires_at, features, max_users, offline_token, current_users, last_sync, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(license_key) DO UPDATE SET
			expires_at = excluded.expires_at,
			features = excluded.features,
			max_users = excluded.max_users,
			offline_token = excluded.offline_token,
			current_users = excluded.current_users,
			last_sync = excluded.last_sync,
			cached_at = excluded.cached_at
	`,
		snap.LicenseKey,
		snap.ExpiresAt.Format(time.RFC3339Nano),
		string(featuresJSON),
		snap.MaxUsers,
		snap.OfflineToken,
		snap.CurrentUsers,
		snap.LastSync.Format(time.RFC3339Nano),
		cachedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}

	return nil
}

// Delete removes the snapshot for a license key.
func (c *SQLiteCache) Delete(ctx context.Context, licenseKey string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM license_snapshots WHERE license_key = ?`, licenseKey)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// Prune removes snapshots not refreshed within the given duration.
func (c *SQLiteCache) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).Format(time.RFC3339Nano)

	result, err := c.db.ExecContext(ctx, `
		DELETE FROM license_snapshots WHERE cached_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	return int(affected), nil
}

// Close closes the database connection.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
