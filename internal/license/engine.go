package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/smartedu360/licensor/internal/models"
)

const (
	// DefaultGracePeriod is how long a cached verification may be
	// trusted without revalidating online.
	DefaultGracePeriod = 7 * 24 * time.Hour
	// DefaultMaxUsers is the seat cap applied when creation omits one.
	DefaultMaxUsers = 100
	// ExpiringSoonWindow is the lookahead used by the stats aggregate.
	ExpiringSoonWindow = 30 * 24 * time.Hour
)

var (
	// ErrLicenseNotFound indicates no license record exists for the
	// given key or id. Store implementations must return it (wrapped or
	// not) for missing rows.
	ErrLicenseNotFound = errors.New("license not found")
	// ErrSnapshotNotFound indicates no cached snapshot exists for a key.
	ErrSnapshotNotFound = errors.New("license snapshot not found")
	// ErrRevokedNotRenewable indicates a renewal attempt on a revoked
	// license without the reactivation policy enabled.
	ErrRevokedNotRenewable = errors.New("revoked license cannot be renewed without reactivation policy")
	// ErrBranchNotFound indicates the branch referenced at creation does
	// not exist.
	ErrBranchNotFound = errors.New("branch not found")
)

// Store is the durable keyed store the engine verifies against. All
// operations are expected to be atomic per license record.
type Store interface {
	GetLicenseByKey(ctx context.Context, key string) (*models.License, error)
	GetLicenseByID(ctx context.Context, id uuid.UUID) (*models.License, error)
	CreateLicense(ctx context.Context, lic *models.License) error
	// UpdateLicenseStatus transitions status only when the current status
	// matches from, returning whether a row changed.
	UpdateLicenseStatus(ctx context.Context, id uuid.UUID, from, to models.LicenseStatus) (bool, error)
	// SetLicenseStatus transitions status unconditionally.
	SetLicenseStatus(ctx context.Context, id uuid.UUID, to models.LicenseStatus) error
	// BindDevice sets the device binding only when no device is bound
	// yet, returning whether the bind won.
	BindDevice(ctx context.Context, id uuid.UUID, deviceID, deviceName string, info *models.DeviceInfo) (bool, error)
	// RebindDevice replaces the device binding unconditionally.
	RebindDevice(ctx context.Context, id uuid.UUID, deviceID, deviceName string, info *models.DeviceInfo) error
	TouchLicenseSync(ctx context.Context, id uuid.UUID, at time.Time, offline bool) error
	// RenewLicense updates expiry, offline token, and status in one write.
	RenewLicense(ctx context.Context, id uuid.UUID, expiresAt time.Time, offlineToken string, status models.LicenseStatus) error
	LicenseStats(ctx context.Context, schoolID *uuid.UUID) (*models.LicenseStats, error)
	SchoolCode(ctx context.Context, schoolID uuid.UUID) (string, error)
	BranchCode(ctx context.Context, branchID uuid.UUID) (string, error)
	CreateLicenseAuditLog(ctx context.Context, entry *models.LicenseAuditLog) error
	// GetLicenseAuditLogs returns audit entries for a license, newest first.
	GetLicenseAuditLogs(ctx context.Context, licenseID uuid.UUID, limit, offset int) ([]*models.LicenseAuditLog, error)
}

// SnapshotCache is the client-side persistence for last-known-good
// verification snapshots, keyed by license key.
type SnapshotCache interface {
	Get(ctx context.Context, licenseKey string) (*models.LicenseSnapshot, error)
	Put(ctx context.Context, snap *models.LicenseSnapshot) error
}

// Config holds engine policy knobs.
type Config struct {
	// GracePeriod bounds how long offline verification may trust a
	// cached snapshot since its last online sync. The boundary is
	// inclusive: exactly GracePeriod since last sync still verifies.
	GracePeriod time.Duration
	// ReactivateRevoked controls whether renewal may resurrect a
	// revoked license. Off by default: a renewal must not silently undo
	// a revocation.
	ReactivateRevoked bool
}

// DefaultConfig returns engine policy defaults.
func DefaultConfig() Config {
	return Config{GracePeriod: DefaultGracePeriod}
}

// Engine orchestrates license verification and lifecycle operations.
// It is stateless between calls apart from the signing secret; every
// call is safe for unbounded concurrent execution, with the store
// providing per-record atomicity. Construct one at process start and
// pass it to callers explicitly.
type Engine struct {
	store  Store
	cache  SnapshotCache
	keygen *Generator
	signer *TokenSigner
	cfg    Config
	now    func() time.Time
	logger zerolog.Logger
}

// NewEngine creates a license engine. cache may be nil on deployments
// that never verify offline (the server side).
func NewEngine(store Store, cache SnapshotCache, keygen *Generator, signer *TokenSigner, cfg Config, logger zerolog.Logger) (*Engine, error) {
	if store == nil {
		return nil, errors.New("license store is required")
	}
	if keygen == nil || signer == nil {
		return nil, errors.New("key generator and token signer are required")
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	return &Engine{
		store:  store,
		cache:  cache,
		keygen: keygen,
		signer: signer,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With().Str("component", "license_engine").Logger(),
	}, nil
}

// Signer exposes the engine's token signer for callers that issue or
// re-check tokens outside a verification call.
func (e *Engine) Signer() *TokenSigner {
	return e.signer
}

// VerifyOnline checks a license against the store. It is the source of
// truth: offline verification only ever extends trust established here.
func (e *Engine) VerifyOnline(ctx context.Context, licenseKey, deviceID string, deviceName string, deviceInfo *models.DeviceInfo) *models.VerificationResult {
	lic, err := e.store.GetLicenseByKey(ctx, licenseKey)
	if err != nil {
		if errors.Is(err, ErrLicenseNotFound) {
			return denied(models.ErrKindNotFound)
		}
		e.logger.Error().Err(err).Msg("license lookup failed")
		return denied(models.ErrKindStoreUnavailable)
	}

	if lic.Status != models.LicenseStatusActive {
		res := denied(models.ErrKindStatusInactive)
		res.Status = lic.Status
		res.License = lic
		return res
	}

	now := e.now()
	if now.After(lic.ExpiresAt) {
		// Expiry is computed at read time; the persisted transition is
		// best effort here and reconciled idempotently in the
		// background, so concurrent reads never depend on this write.
		if _, err := e.store.UpdateLicenseStatus(ctx, lic.ID, models.LicenseStatusActive, models.LicenseStatusExpired); err != nil {
			e.logger.Warn().Err(err).Str("license_key", licenseKey).Msg("failed to persist expired status")
		}
		res := denied(models.ErrKindExpired)
		res.Status = models.LicenseStatusExpired
		res.License = lic
		return res
	}

	if lic.DeviceID != nil && deviceID != "" && *lic.DeviceID != deviceID {
		res := denied(models.ErrKindDeviceMismatch)
		res.Status = lic.Status
		return res
	}

	// First-use binding: the first device to verify claims the license.
	if lic.DeviceID == nil && deviceID != "" {
		bound, err := e.store.BindDevice(ctx, lic.ID, deviceID, deviceName, deviceInfo)
		if err != nil {
			e.logger.Error().Err(err).Str("license_key", licenseKey).Msg("device bind failed")
			return denied(models.ErrKindStoreUnavailable)
		}
		if !bound {
			// Lost a race against another device; re-read to decide.
			current, err := e.store.GetLicenseByKey(ctx, licenseKey)
			if err != nil {
				return denied(models.ErrKindStoreUnavailable)
			}
			if current.DeviceID != nil && *current.DeviceID != deviceID {
				res := denied(models.ErrKindDeviceMismatch)
				res.Status = current.Status
				return res
			}
			lic = current
		} else {
			lic.DeviceID = &deviceID
			if deviceName != "" {
				lic.DeviceName = &deviceName
			}
			lic.DeviceInfo = deviceInfo
			e.auditBestEffort(ctx, lic, models.AuditActionDeviceBound, deviceID, map[string]any{"device_id": deviceID})
		}
	}

	if err := e.store.TouchLicenseSync(ctx, lic.ID, now, false); err != nil {
		e.logger.Warn().Err(err).Str("license_key", licenseKey).Msg("failed to update last sync")
	}

	return &models.VerificationResult{
		IsValid:       true,
		RemainingDays: lic.RemainingDays(now),
		Features:      lic.Features,
		MaxUsers:      lic.MaxUsers,
		CurrentUsers:  lic.CurrentUsers,
		Status:        lic.Status,
		License:       lic,
	}
}

// VerifyOffline checks a license against the cached snapshot and the
// offline authorization token. It must never be more permissive than
// the online path: the token proves the server issued authorization for
// this exact expiry, and the grace window bounds how long that trust
// holds without resyncing.
func (e *Engine) VerifyOffline(ctx context.Context, licenseKey, offlineToken string) *models.VerificationResult {
	if e.cache == nil {
		return denied(models.ErrKindNoCache)
	}

	snap, err := e.cache.Get(ctx, licenseKey)
	if err != nil {
		if errors.Is(err, ErrSnapshotNotFound) {
			return denied(models.ErrKindNoCache)
		}
		e.logger.Error().Err(err).Msg("snapshot lookup failed")
		return denied(models.ErrKindNoCache)
	}

	return CheckSnapshot(e.signer, snap, offlineToken, e.cfg.GracePeriod, e.now())
}

// Verify dispatches between the online and offline paths. ForceOffline
// skips straight to the offline check. Otherwise the online result is
// authoritative: a definitive online denial (not found, inactive,
// expired, device mismatch) is never overridden by stale cached data,
// and only a transient store failure falls back to the offline path,
// and only when a token was supplied.
func (e *Engine) Verify(ctx context.Context, req models.VerifyRequest) *models.VerificationResult {
	if req.ForceOffline {
		return e.VerifyOffline(ctx, req.LicenseKey, req.OfflineToken)
	}

	online := e.VerifyOnline(ctx, req.LicenseKey, req.DeviceID, req.DeviceName, req.DeviceInfo)
	if online.IsValid || online.Error.Definitive() {
		return online
	}
	if req.OfflineToken == "" {
		return online
	}

	offline := e.VerifyOffline(ctx, req.LicenseKey, req.OfflineToken)
	if offline.IsValid {
		return offline
	}
	// Both paths failed: a definitive offline verdict (expired cached
	// snapshot) beats a retryable infrastructure error.
	if offline.Error.Definitive() {
		return offline
	}
	return online
}

// CreateLicense issues a new license: generates the key, the initial
// offline token, and persists the record as ACTIVE.
func (e *Engine) CreateLicense(ctx context.Context, in models.CreateLicenseInput) (*models.License, error) {
	schoolCode, err := e.store.SchoolCode(ctx, in.SchoolID)
	if err != nil {
		return nil, fmt.Errorf("resolve school code: %w", err)
	}

	// A license without a branch applies to every branch of the school.
	branchCode := "ALL"
	if in.BranchID != nil {
		branchCode, err = e.store.BranchCode(ctx, *in.BranchID)
		if err != nil {
			if errors.Is(err, ErrLicenseNotFound) {
				return nil, ErrBranchNotFound
			}
			return nil, fmt.Errorf("resolve branch code: %w", err)
		}
	}

	key, err := e.keygen.GenerateKey(schoolCode, branchCode)
	if err != nil {
		return nil, fmt.Errorf("generate license key: %w", err)
	}

	maxUsers := in.MaxUsers
	if maxUsers <= 0 {
		maxUsers = DefaultMaxUsers
	}
	features := in.Features
	if features == nil {
		features = []string{}
	}

	now := e.now()
	lic := &models.License{
		ID:           uuid.New(),
		SchoolID:     in.SchoolID,
		BranchID:     in.BranchID,
		LicenseKey:   key,
		Status:       models.LicenseStatusActive,
		DeviceID:     in.DeviceID,
		DeviceName:   in.DeviceName,
		DeviceInfo:   in.DeviceInfo,
		Features:     features,
		MaxUsers:     maxUsers,
		OfflineToken: e.signer.Issue(key, in.ExpiresAt),
		IssuedAt:     now,
		ExpiresAt:    in.ExpiresAt,
		CreatedBy:    in.CreatedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := e.store.CreateLicense(ctx, lic); err != nil {
		return nil, fmt.Errorf("create license: %w", err)
	}

	actor := ""
	if in.CreatedBy != nil {
		actor = *in.CreatedBy
	}
	e.auditBestEffort(ctx, lic, models.AuditActionLicenseCreated, actor, map[string]any{
		"expires_at": lic.ExpiresAt,
		"max_users":  lic.MaxUsers,
	})

	e.logger.Info().
		Str("license_key", key).
		Str("school_id", in.SchoolID.String()).
		Time("expires_at", in.ExpiresAt).
		Msg("license created")

	return lic, nil
}

// RevokeLicense transitions a license to REVOKED. Revocation is
// terminal and idempotent; revoking an already revoked license succeeds
// without writing a second audit entry.
func (e *Engine) RevokeLicense(ctx context.Context, id uuid.UUID, actor string) error {
	lic, err := e.store.GetLicenseByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get license: %w", err)
	}

	if lic.Status == models.LicenseStatusRevoked {
		return nil
	}

	if err := e.store.SetLicenseStatus(ctx, id, models.LicenseStatusRevoked); err != nil {
		return fmt.Errorf("revoke license: %w", err)
	}

	e.auditBestEffort(ctx, lic, models.AuditActionLicenseRevoked, actor, map[string]any{
		"previous_status": lic.Status,
	})

	e.logger.Info().Str("license_key", lic.LicenseKey).Str("actor", actor).Msg("license revoked")
	return nil
}

// RenewLicense extends the expiry, reissues the offline token for the
// new expiry, and sets the license ACTIVE again. Renewing a revoked
// license is refused unless the engine was configured with
// ReactivateRevoked; reactivation is recorded with its own audit action
// so it can never happen silently.
func (e *Engine) RenewLicense(ctx context.Context, id uuid.UUID, newExpiresAt time.Time, actor string) (*models.License, error) {
	lic, err := e.store.GetLicenseByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get license: %w", err)
	}

	if lic.Status == models.LicenseStatusRevoked && !e.cfg.ReactivateRevoked {
		return nil, ErrRevokedNotRenewable
	}

	token := e.signer.Issue(lic.LicenseKey, newExpiresAt)
	if err := e.store.RenewLicense(ctx, id, newExpiresAt, token, models.LicenseStatusActive); err != nil {
		return nil, fmt.Errorf("renew license: %w", err)
	}

	action := models.AuditActionLicenseRenewed
	if lic.Status == models.LicenseStatusRevoked {
		action = models.AuditActionLicenseReactivated
	}
	e.auditBestEffort(ctx, lic, action, actor, map[string]any{
		"previous_status":     lic.Status,
		"previous_expires_at": lic.ExpiresAt,
		"new_expires_at":      newExpiresAt,
	})

	e.logger.Info().
		Str("license_key", lic.LicenseKey).
		Str("actor", actor).
		Time("new_expires_at", newExpiresAt).
		Msg("license renewed")

	lic.ExpiresAt = newExpiresAt
	lic.OfflineToken = token
	lic.Status = models.LicenseStatusActive
	return lic, nil
}

// BindDevice rebinds a license to a new device, replacing any existing
// binding. This is the administrative path for hardware replacement;
// ordinary first-use binding happens inside VerifyOnline.
func (e *Engine) BindDevice(ctx context.Context, id uuid.UUID, deviceID, deviceName string, info *models.DeviceInfo, actor string) (*models.License, error) {
	if deviceID == "" {
		return nil, errors.New("device id is required")
	}

	lic, err := e.store.GetLicenseByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get license: %w", err)
	}

	if err := e.store.RebindDevice(ctx, id, deviceID, deviceName, info); err != nil {
		return nil, fmt.Errorf("rebind device: %w", err)
	}

	details := map[string]any{"device_id": deviceID}
	if lic.DeviceID != nil {
		details["previous_device_id"] = *lic.DeviceID
	}
	e.auditBestEffort(ctx, lic, models.AuditActionDeviceRebound, actor, details)

	e.logger.Info().
		Str("license_key", lic.LicenseKey).
		Str("device_id", deviceID).
		Str("actor", actor).
		Msg("license rebound to device")

	lic.DeviceID = &deviceID
	if deviceName != "" {
		lic.DeviceName = &deviceName
	}
	lic.DeviceInfo = info
	return lic, nil
}

// Stats returns the read-only aggregate over the store, optionally
// scoped to one school.
func (e *Engine) Stats(ctx context.Context, schoolID *uuid.UUID) (*models.LicenseStats, error) {
	stats, err := e.store.LicenseStats(ctx, schoolID)
	if err != nil {
		return nil, fmt.Errorf("license stats: %w", err)
	}
	return stats, nil
}

// AuditTrail returns the audit entries for a license, newest first.
// A non-positive limit falls back to a page of 50.
func (e *Engine) AuditTrail(ctx context.Context, id uuid.UUID, limit, offset int) ([]*models.LicenseAuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	entries, err := e.store.GetLicenseAuditLogs(ctx, id, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("get audit trail: %w", err)
	}
	if entries == nil {
		entries = []*models.LicenseAuditLog{}
	}
	return entries, nil
}

// auditBestEffort appends an audit entry, logging instead of failing the
// operation when the write does not succeed.
func (e *Engine) auditBestEffort(ctx context.Context, lic *models.License, action, actor string, details map[string]any) {
	entry := &models.LicenseAuditLog{
		ID:        uuid.New(),
		LicenseID: lic.ID,
		SchoolID:  lic.SchoolID,
		Action:    action,
		Actor:     actor,
		Details:   details,
		CreatedAt: e.now(),
	}
	if err := e.store.CreateLicenseAuditLog(ctx, entry); err != nil {
		e.logger.Warn().Err(err).Str("action", action).Msg("failed to write audit log")
	}
}

// denied builds an invalid result with the given kind.
func denied(kind models.ErrorKind) *models.VerificationResult {
	return &models.VerificationResult{
		IsValid:  false,
		Features: []string{},
		Error:    kind,
	}
}
