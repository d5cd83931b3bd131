package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit actions recorded for license lifecycle changes.
const (
	AuditActionLicenseCreated     = "license.created"
	AuditActionLicenseRevoked     = "license.revoked"
	AuditActionLicenseRenewed     = "license.renewed"
	AuditActionLicenseReactivated = "license.reactivated"
	AuditActionDeviceBound        = "license.device_bound"
	AuditActionDeviceRebound      = "license.device_rebound"
)

// LicenseAuditLog is an append-only record of a license lifecycle change.
type LicenseAuditLog struct {
	ID        uuid.UUID      `json:"id"`
	LicenseID uuid.UUID      `json:"license_id"`
	SchoolID  uuid.UUID      `json:"school_id"`
	Action    string         `json:"action"`
	Actor     string         `json:"actor,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
