package models

// ErrorKind classifies why a verification was denied. Kinds are stable
// identifiers the caller maps to transport status codes and remediation
// messages; they are not human-readable text.
type ErrorKind string

const (
	// ErrKindNotFound means no license exists for the key.
	ErrKindNotFound ErrorKind = "NOT_FOUND"
	// ErrKindStatusInactive means the license is expired, revoked, or pending.
	ErrKindStatusInactive ErrorKind = "STATUS_INACTIVE"
	// ErrKindExpired means the expiry instant has passed.
	ErrKindExpired ErrorKind = "EXPIRED"
	// ErrKindDeviceMismatch means the license is bound to a different device.
	ErrKindDeviceMismatch ErrorKind = "DEVICE_MISMATCH"
	// ErrKindBadToken means the offline token was missing or failed verification.
	// The two cases are deliberately not distinguished.
	ErrKindBadToken ErrorKind = "BAD_TOKEN"
	// ErrKindNoCache means no cached snapshot exists for offline verification.
	ErrKindNoCache ErrorKind = "NO_CACHE"
	// ErrKindGraceExceeded means too long has passed since the last online sync.
	ErrKindGraceExceeded ErrorKind = "GRACE_EXCEEDED"
	// ErrKindStoreUnavailable means a transient infrastructure failure.
	// The caller should retry with backoff; this is not a denial.
	ErrKindStoreUnavailable ErrorKind = "STORE_UNAVAILABLE"
)

// Definitive reports whether the kind is a final verification verdict,
// as opposed to a transient infrastructure failure or a local cache gap
// that an online retry could resolve.
func (k ErrorKind) Definitive() bool {
	switch k {
	case ErrKindNotFound, ErrKindStatusInactive, ErrKindExpired, ErrKindDeviceMismatch:
		return true
	}
	return false
}

// VerificationResult is the outcome of an online or offline verification.
// Denials are reported through Error, never as a Go error, so the caller
// can always render a specific remediation message.
type VerificationResult struct {
	IsValid       bool          `json:"is_valid"`
	RemainingDays int           `json:"remaining_days"`
	Features      []string      `json:"features"`
	MaxUsers      int           `json:"max_users"`
	CurrentUsers  int           `json:"current_users"`
	Status        LicenseStatus `json:"status,omitempty"`
	Error         ErrorKind     `json:"error,omitempty"`
	// Offline is set when the result was computed from the cached
	// snapshot rather than the store. Informational only.
	Offline bool     `json:"offline,omitempty"`
	License *License `json:"license,omitempty"`
}

// VerifyRequest is the input shape of a verification call.
type VerifyRequest struct {
	LicenseKey   string      `json:"license_key"`
	DeviceID     string      `json:"device_id,omitempty"`
	DeviceName   string      `json:"device_name,omitempty"`
	DeviceInfo   *DeviceInfo `json:"device_info,omitempty"`
	OfflineToken string      `json:"offline_token,omitempty"`
	ForceOffline bool        `json:"force_offline,omitempty"`
}
