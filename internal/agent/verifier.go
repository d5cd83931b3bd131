package agent

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/smartedu360/licensor/internal/license"
	"github.com/smartedu360/licensor/internal/models"
)

// SnapshotStore is the local persistence for last-known-good snapshots.
type SnapshotStore interface {
	Get(ctx context.Context, licenseKey string) (*models.LicenseSnapshot, error)
	Put(ctx context.Context, snap *models.LicenseSnapshot) error
}

// Verifier performs the try-online-then-fallback verification flow on
// the device side. Every successful online verification refreshes the
// local snapshot so a later offline check has fresh state to trust.
type Verifier struct {
	client *Client
	cache  SnapshotStore
	signer *license.TokenSigner
	grace  time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

// NewVerifier creates a device-side verifier.
func NewVerifier(client *Client, cache SnapshotStore, signer *license.TokenSigner, grace time.Duration, logger zerolog.Logger) *Verifier {
	if grace <= 0 {
		grace = license.DefaultGracePeriod
	}
	return &Verifier{
		client: client,
		cache:  cache,
		signer: signer,
		grace:  grace,
		now:    time.Now,
		logger: logger.With().Str("component", "verifier").Logger(),
	}
}

// Verify runs the combined dispatch from the device's perspective:
// online first, and only when the server is unreachable fall back to
// the cached snapshot. A definitive online denial is authoritative and
// is never softened by stale cached data.
func (v *Verifier) Verify(ctx context.Context, req models.VerifyRequest) *models.VerificationResult {
	if req.ForceOffline {
		return v.verifyOffline(ctx, req.LicenseKey, req.OfflineToken)
	}

	online, err := v.client.Verify(ctx, req)
	if err == nil {
		if online.IsValid {
			v.refreshSnapshot(ctx, req, online)
		}
		return online
	}

	v.logger.Warn().Err(err).Msg("server unreachable, falling back to offline verification")

	if req.OfflineToken == "" {
		res := &models.VerificationResult{IsValid: false, Features: []string{}, Error: models.ErrKindStoreUnavailable}
		return res
	}

	return v.verifyOffline(ctx, req.LicenseKey, req.OfflineToken)
}

// verifyOffline checks the local snapshot with the shared offline rules.
func (v *Verifier) verifyOffline(ctx context.Context, licenseKey, offlineToken string) *models.VerificationResult {
	snap, err := v.cache.Get(ctx, licenseKey)
	if err != nil {
		if !errors.Is(err, license.ErrSnapshotNotFound) {
			v.logger.Error().Err(err).Msg("snapshot lookup failed")
		}
		return &models.VerificationResult{IsValid: false, Features: []string{}, Error: models.ErrKindNoCache}
	}

	// The snapshot's token supersedes the one from activation: a renewal
	// rotates the token, and every online sync since then has cached the
	// current one.
	if snap.OfflineToken != "" {
		offlineToken = snap.OfflineToken
	}

	return license.CheckSnapshot(v.signer, snap, offlineToken, v.grace, v.now())
}

// refreshSnapshot persists the result of a successful online
// verification for later offline reuse.
func (v *Verifier) refreshSnapshot(ctx context.Context, req models.VerifyRequest, res *models.VerificationResult) {
	if res.License == nil {
		// The offline token is bound to the exact expiry instant, so a
		// snapshot without it would never verify offline anyway.
		v.logger.Debug().Msg("verification result carried no license record, snapshot not refreshed")
		return
	}

	// The server hands the current token back to the bound device. When
	// the response omits it, keep the token the caller supplied rather
	// than erasing a working one.
	token := res.License.OfflineToken
	if token == "" {
		token = req.OfflineToken
	}

	snap := &models.LicenseSnapshot{
		LicenseKey:   req.LicenseKey,
		ExpiresAt:    res.License.ExpiresAt,
		Features:     res.Features,
		MaxUsers:     res.MaxUsers,
		OfflineToken: token,
		CurrentUsers: res.CurrentUsers,
		LastSync:     v.now(),
		CachedAt:     v.now(),
	}

	if err := v.cache.Put(ctx, snap); err != nil {
		v.logger.Warn().Err(err).Msg("failed to refresh snapshot cache")
	}
}
