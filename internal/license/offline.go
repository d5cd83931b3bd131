package license

import (
	"time"

	"github.com/smartedu360/licensor/internal/models"
)

// CheckSnapshot applies the offline verification rules to a cached
// snapshot. It is shared by the engine's offline path and the
// device-side verifier so both sides enforce identical policy: token
// first, then the grace window, then expiry. Offline verification only
// ever extends trust established by a prior online check.
func CheckSnapshot(signer *TokenSigner, snap *models.LicenseSnapshot, offlineToken string, grace time.Duration, now time.Time) *models.VerificationResult {
	// A missing token and a forged token are deliberately the same
	// failure; distinguishing them would hand an attacker an oracle.
	// No signer means no way to establish trust at all.
	if signer == nil || !signer.Verify(snap.LicenseKey, snap.ExpiresAt, offlineToken) {
		return denied(models.ErrKindBadToken)
	}

	// Inclusive boundary: exactly the grace period since the last sync
	// still verifies; anything past it does not.
	if now.Sub(snap.LastSync) > grace {
		return denied(models.ErrKindGraceExceeded)
	}

	if now.After(snap.ExpiresAt) {
		return denied(models.ErrKindExpired)
	}

	const day = 24 * time.Hour
	remaining := int((snap.ExpiresAt.Sub(now) + day - 1) / day)

	return &models.VerificationResult{
		IsValid:       true,
		RemainingDays: remaining,
		Features:      snap.Features,
		MaxUsers:      snap.MaxUsers,
		CurrentUsers:  snap.CurrentUsers,
		Status:        models.LicenseStatusActive,
		Offline:       true,
	}
}
