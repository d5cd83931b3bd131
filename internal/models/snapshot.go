package models

import "time"

// LicenseSnapshot is the last-known-good verification state persisted on
// the client side for offline reuse. It is refreshed after every
// successful online verification and is never authoritative: the offline
// path only extends trust already established online, bounded by the
// grace window.
type LicenseSnapshot struct {
	LicenseKey string    `json:"license_key"`
	ExpiresAt  time.Time `json:"expires_at"`
	Features   []string  `json:"features"`
	MaxUsers   int       `json:"max_users"`
	// OfflineToken is the server-issued HMAC over the key and the exact
	// expiry above. Cached alongside the expiry so a renewal, which
	// rotates the token, cannot strand the device with a stale pair.
	OfflineToken string    `json:"offline_token"`
	CurrentUsers int       `json:"current_users"`
	LastSync     time.Time `json:"last_sync"`
	CachedAt     time.Time `json:"cached_at"`
}
