package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/smartedu360/licensor/internal/models"
)

// CreateLicenseAuditLog appends an audit entry for a license lifecycle change.
func (db *DB) CreateLicenseAuditLog(ctx context.Context, entry *models.LicenseAuditLog) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO license_audit_logs (id, license_id, school_id, action, actor, details, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
	`, entry.ID, entry.LicenseID, entry.SchoolID, entry.Action, entry.Actor, entry.Details, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("create license audit log: %w", err)
	}
	return nil
}

// GetLicenseAuditLogs returns audit entries for a license, newest first.
func (db *DB) GetLicenseAuditLogs(ctx context.Context, licenseID uuid.UUID, limit, offset int) ([]*models.LicenseAuditLog, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, license_id, school_id, action, COALESCE(actor, ''), details, created_at
		FROM license_audit_logs
		WHERE license_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, licenseID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("get license audit logs: %w", err)
	}
	defer rows.Close()

	var entries []*models.LicenseAuditLog
	for rows.Next() {
		var entry models.LicenseAuditLog
		err := rows.Scan(&entry.ID, &entry.LicenseID, &entry.SchoolID, &entry.Action, &entry.Actor, &entry.Details, &entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan license audit log: %w", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate license audit logs: %w", err)
	}

	return entries, nil
}
