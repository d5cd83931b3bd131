package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/smartedu360/licensor/internal/license"
	"github.com/smartedu360/licensor/internal/models"
)

const licenseColumns = `
	id, school_id, branch_id, license_key, status,
	device_id, device_name, device_info,
	features, max_users, current_users,
	offline_token, issued_at, expires_at, last_sync, is_offline,
	created_by, created_at, updated_at
`

// GetLicenseByKey returns the license with the given key.
// Returns license.ErrLicenseNotFound if no row exists.
func (db *DB) GetLicenseByKey(ctx context.Context, key string) (*models.License, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+licenseColumns+`
		FROM licenses
		WHERE license_key = $1
	`, key)
	return scanLicense(row)
}

// GetLicenseByID returns the license with the given id.
// Returns license.ErrLicenseNotFound if no row exists.
func (db *DB) GetLicenseByID(ctx context.Context, id uuid.UUID) (*models.License, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+licenseColumns+`
		FROM licenses
		WHERE id = $1
	`, id)
	return scanLicense(row)
}

// CreateLicense inserts a new license record.
func (db *DB) CreateLicense(ctx context.Context, lic *models.License) error {
	deviceInfo, err := marshalDeviceInfo(lic.DeviceInfo)
	if err != nil {
		return err
	}

	_, err = db.Pool.Exec(ctx, `
		INSERT INTO licenses (
			id, school_id, branch_id, license_key, status,
			device_id, device_name, device_info,
			features, max_users, current_users,
			offline_token, issued_at, expires_at,
			created_by, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		lic.ID, lic.SchoolID, lic.BranchID, lic.LicenseKey, string(lic.Status),
		lic.DeviceID, lic.DeviceName, deviceInfo,
		lic.Features, lic.MaxUsers, lic.CurrentUsers,
		lic.OfflineToken, lic.IssuedAt, lic.ExpiresAt,
		lic.CreatedBy, lic.CreatedAt, lic.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert license: %w", err)
	}
	return nil
}

// UpdateLicenseStatus transitions a license status only when the current
// status matches from. Returns whether a row changed, so callers can
// detect a lost race without a second read.
func (db *DB) UpdateLicenseStatus(ctx context.Context, id uuid.UUID, from, to models.LicenseStatus) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE licenses
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("update license status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetLicenseStatus transitions a license status unconditionally.
func (db *DB) SetLicenseStatus(ctx context.Context, id uuid.UUID, to models.LicenseStatus) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE licenses
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`, id, string(to))
	if err != nil {
		return fmt.Errorf("set license status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return license.ErrLicenseNotFound
	}
	return nil
}

// BindDevice sets the device binding only when the license has no bound
// device yet. The WHERE clause makes first-use binding atomic: exactly
// one of two racing devices wins.
func (db *DB) BindDevice(ctx context.Context, id uuid.UUID, deviceID, deviceName string, info *models.DeviceInfo) (bool, error) {
	deviceInfo, err := marshalDeviceInfo(info)
	if err != nil {
		return false, err
	}

	tag, err := db.Pool.Exec(ctx, `
		UPDATE licenses
		SET device_id = $2, device_name = NULLIF($3, ''), device_info = $4, updated_at = NOW()
		WHERE id = $1 AND device_id IS NULL
	`, id, deviceID, deviceName, deviceInfo)
	if err != nil {
		return false, fmt.Errorf("bind device: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RebindDevice replaces the device binding unconditionally. Used by the
// administrative rebind path; first-use binding goes through BindDevice.
func (db *DB) RebindDevice(ctx context.Context, id uuid.UUID, deviceID, deviceName string, info *models.DeviceInfo) error {
	deviceInfo, err := marshalDeviceInfo(info)
	if err != nil {
		return err
	}

	tag, err := db.Pool.Exec(ctx, `
		UPDATE licenses
		SET device_id = $2, device_name = NULLIF($3, ''), device_info = $4, updated_at = NOW()
		WHERE id = $1
	`, id, deviceID, deviceName, deviceInfo)
	if err != nil {
		return fmt.Errorf("rebind device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return license.ErrLicenseNotFound
	}
	return nil
}

// TouchLicenseSync records a successful verification: last sync instant
// and whether the session ran offline.
func (db *DB) TouchLicenseSync(ctx context.Context, id uuid.UUID, at time.Time, offline bool) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE licenses
		SET last_sync = $2, is_offline = $3, updated_at = NOW()
		WHERE id = $1
	`, id, at, offline)
	if err != nil {
		return fmt.Errorf("touch license sync: %w", err)
	}
	return nil
}

// RenewLicense updates expiry, offline token, and status in a single
// write so a renewal is all-or-nothing.
func (db *DB) RenewLicense(ctx context.Context, id uuid.UUID, expiresAt time.Time, offlineToken string, status models.LicenseStatus) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE licenses
		SET expires_at = $2, offline_token = $3, status = $4, updated_at = NOW()
		WHERE id = $1
	`, id, expiresAt, offlineToken, string(status))
	if err != nil {
		return fmt.Errorf("renew license: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return license.ErrLicenseNotFound
	}
	return nil
}

// SetCurrentUsers updates the seat counter for a license. The
// max_users cap is a soft invariant the calling layer enforces.
func (db *DB) SetCurrentUsers(ctx context.Context, id uuid.UUID, count int) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE licenses
		SET current_users = $2, updated_at = NOW()
		WHERE id = $1
	`, id, count)
	if err != nil {
		return fmt.Errorf("set current users: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return license.ErrLicenseNotFound
	}
	return nil
}

// LicenseStats returns aggregate counts, optionally scoped to a school.
// expiring_soon counts ACTIVE licenses expiring within 30 days but not
// yet expired.
func (db *DB) LicenseStats(ctx context.Context, schoolID *uuid.UUID) (*models.LicenseStats, error) {
	stats := &models.LicenseStats{}
	err := db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'ACTIVE'),
			COUNT(*) FILTER (WHERE status = 'EXPIRED'),
			COUNT(*) FILTER (WHERE status = 'REVOKED'),
			COUNT(*) FILTER (WHERE status = 'ACTIVE' AND expires_at > NOW() AND expires_at <= NOW() + INTERVAL '30 days')
		FROM licenses
		WHERE ($1::uuid IS NULL OR school_id = $1)
	`, schoolID).Scan(&stats.Total, &stats.Active, &stats.Expired, &stats.Revoked, &stats.ExpiringSoon)
	if err != nil {
		return nil, fmt.Errorf("license stats: %w", err)
	}
	return stats, nil
}

// GlobalLicenseStats returns aggregate counts across all schools.
func (db *DB) GlobalLicenseStats(ctx context.Context) (*models.LicenseStats, error) {
	return db.LicenseStats(ctx, nil)
}

// MarkExpiredLicenses transitions every ACTIVE license past its expiry
// to EXPIRED. Idempotent; used by the background reconciler so the read
// path never depends on status writeback.
func (db *DB) MarkExpiredLicenses(ctx context.Context) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE licenses
		SET status = 'EXPIRED', updated_at = NOW()
		WHERE status = 'ACTIVE' AND expires_at < NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("mark expired licenses: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SchoolCode returns the short code of a school.
func (db *DB) SchoolCode(ctx context.Context, schoolID uuid.UUID) (string, error) {
	var code string
	err := db.Pool.QueryRow(ctx, `SELECT code FROM schools WHERE id = $1`, schoolID).Scan(&code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", license.ErrLicenseNotFound
		}
		return "", fmt.Errorf("get school code: %w", err)
	}
	return code, nil
}

// BranchCode returns the short code of a branch.
func (db *DB) BranchCode(ctx context.Context, branchID uuid.UUID) (string, error) {
	var code string
	err := db.Pool.QueryRow(ctx, `SELECT code FROM branches WHERE id = $1`, branchID).Scan(&code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", license.ErrLicenseNotFound
		}
		return "", fmt.Errorf("get branch code: %w", err)
	}
	return code, nil
}

// licenseRow abstracts pgx.Row and pgx.Rows for scanning.
type licenseRow interface {
	Scan(dest ...any) error
}

// scanLicense scans a single license row.
func scanLicense(row licenseRow) (*models.License, error) {
	var (
		lic            models.License
		status         string
		deviceInfoJSON []byte
	)

	err := row.Scan(
		&lic.ID, &lic.SchoolID, &lic.BranchID, &lic.LicenseKey, &status,
		&lic.DeviceID, &lic.DeviceName, &deviceInfoJSON,
		&lic.Features, &lic.MaxUsers, &lic.CurrentUsers,
		&lic.OfflineToken, &lic.IssuedAt, &lic.ExpiresAt, &lic.LastSync, &lic.IsOffline,
		&lic.CreatedBy, &lic.CreatedAt, &lic.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, license.ErrLicenseNotFound
		}
		return nil, fmt.Errorf("scan license: %w", err)
	}

	lic.Status = models.LicenseStatus(status)
	if lic.Features == nil {
		lic.Features = []string{}
	}

	if len(deviceInfoJSON) > 0 {
		var info models.DeviceInfo
		if err := json.Unmarshal(deviceInfoJSON, &info); err != nil {
			return nil, fmt.Errorf("parse device info: %w", err)
		}
		lic.DeviceInfo = &info
	}

	return &lic, nil
}

// marshalDeviceInfo serializes device info for the jsonb column,
// preserving NULL for an absent descriptor.
func marshalDeviceInfo(info *models.DeviceInfo) ([]byte, error) {
	if info == nil {
		return nil, nil
	}
	data, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("marshal device info: %w", err)
	}
	return data, nil
}
