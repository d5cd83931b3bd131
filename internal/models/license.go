// Package models defines the data structures shared across the licensor server and agent.
package models

import (
	"time"

	"github.com/google/uuid"
)

// LicenseStatus represents the lifecycle state of a license.
type LicenseStatus string

const (
	// LicenseStatusActive means the license grants access.
	LicenseStatusActive LicenseStatus = "ACTIVE"
	// LicenseStatusExpired means the expiry instant has passed without renewal.
	LicenseStatusExpired LicenseStatus = "EXPIRED"
	// LicenseStatusRevoked means the license was administratively withdrawn.
	LicenseStatusRevoked LicenseStatus = "REVOKED"
	// LicenseStatusPending means the license was issued but never activated.
	LicenseStatusPending LicenseStatus = "PENDING"
)

// ValidStatuses returns all recognized license statuses.
func ValidStatuses() []LicenseStatus {
	return []LicenseStatus{LicenseStatusActive, LicenseStatusExpired, LicenseStatusRevoked, LicenseStatusPending}
}

// IsValid checks if the status is a recognized value.
func (s LicenseStatus) IsValid() bool {
	for _, valid := range ValidStatuses() {
		if s == valid {
			return true
		}
	}
	return false
}

// DeviceInfo describes the device a license is bound to.
type DeviceInfo struct {
	Platform  string `json:"platform,omitempty"`
	OSVersion string `json:"os_version,omitempty"`
	Model     string `json:"model,omitempty"`
	UniqueID  string `json:"unique_id,omitempty"`
}

// License represents a per-branch software license.
type License struct {
	ID         uuid.UUID     `json:"id"`
	SchoolID   uuid.UUID     `json:"school_id"`
	BranchID   *uuid.UUID    `json:"branch_id,omitempty"` // nil means all branches of the school
	LicenseKey string        `json:"license_key"`
	Status     LicenseStatus `json:"status"`

	// Device binding. Once DeviceID is set, verification from any other
	// device must fail.
	DeviceID   *string     `json:"device_id,omitempty"`
	DeviceName *string     `json:"device_name,omitempty"`
	DeviceInfo *DeviceInfo `json:"device_info,omitempty"`

	// Entitlements.
	Features     []string `json:"features"`
	MaxUsers     int      `json:"max_users"`
	CurrentUsers int      `json:"current_users"`

	// Offline authorization token: HMAC over (license key, expiry).
	// Reissued whenever the expiry changes.
	OfflineToken string `json:"offline_token,omitempty"`

	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	LastSync  *time.Time `json:"last_sync,omitempty"`
	IsOffline bool       `json:"is_offline"`

	CreatedBy *string   `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasFeature reports whether the license grants a named feature.
func (l *License) HasFeature(feature string) bool {
	for _, f := range l.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// RemainingDays returns the number of whole days until expiry, rounded up.
// Returns 0 for an already expired license.
func (l *License) RemainingDays(now time.Time) int {
	if !now.Before(l.ExpiresAt) {
		return 0
	}
	const day = 24 * time.Hour
	return int((l.ExpiresAt.Sub(now) + day - 1) / day)
}

// CreateLicenseInput carries the fields needed to issue a new license.
type CreateLicenseInput struct {
	SchoolID   uuid.UUID   `json:"school_id"`
	BranchID   *uuid.UUID  `json:"branch_id,omitempty"`
	DeviceID   *string     `json:"device_id,omitempty"`
	DeviceName *string     `json:"device_name,omitempty"`
	DeviceInfo *DeviceInfo `json:"device_info,omitempty"`
	MaxUsers   int         `json:"max_users,omitempty"`
	Features   []string    `json:"features,omitempty"`
	ExpiresAt  time.Time   `json:"expires_at"`
	CreatedBy  *string     `json:"created_by,omitempty"`
}

// LicenseStats is a read-only aggregate over the license store.
type LicenseStats struct {
	Total        int64 `json:"total"`
	Active       int64 `json:"active"`
	Expired      int64 `json:"expired"`
	Revoked      int64 `json:"revoked"`
	ExpiringSoon int64 `json:"expiring_soon"` // ACTIVE with expiry within 30 days
}
