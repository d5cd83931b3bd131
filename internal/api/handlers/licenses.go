// Package handlers implements the HTTP endpoints of the licensor API.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/smartedu360/licensor/internal/api/middleware"
	"github.com/smartedu360/licensor/internal/license"
	"github.com/smartedu360/licensor/internal/metrics"
	"github.com/smartedu360/licensor/internal/models"
)

// LicenseEngine defines the engine operations the handler exposes.
type LicenseEngine interface {
	Verify(ctx context.Context, req models.VerifyRequest) *models.VerificationResult
	CreateLicense(ctx context.Context, in models.CreateLicenseInput) (*models.License, error)
	RevokeLicense(ctx context.Context, id uuid.UUID, actor string) error
	RenewLicense(ctx context.Context, id uuid.UUID, newExpiresAt time.Time, actor string) (*models.License, error)
	BindDevice(ctx context.Context, id uuid.UUID, deviceID, deviceName string, info *models.DeviceInfo, actor string) (*models.License, error)
	AuditTrail(ctx context.Context, id uuid.UUID, limit, offset int) ([]*models.LicenseAuditLog, error)
	Stats(ctx context.Context, schoolID *uuid.UUID) (*models.LicenseStats, error)
}

// LicensesHandler handles license lifecycle and verification endpoints.
type LicensesHandler struct {
	engine  LicenseEngine
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewLicensesHandler creates a new LicensesHandler.
func NewLicensesHandler(engine LicenseEngine, m *metrics.Metrics, logger zerolog.Logger) *LicensesHandler {
	return &LicensesHandler{
		engine:  engine,
		metrics: m,
		logger:  logger.With().Str("component", "licenses_handler").Logger(),
	}
}

// RegisterPublicRoutes registers verification routes. Verification is
// the hot path devices hit; it authenticates with the license key
// itself, not an API key.
func (h *LicensesHandler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.POST("/licenses/verify", h.Verify)
	r.POST("/licenses/validate-format", h.ValidateFormat)
}

// RegisterAdminRoutes registers lifecycle routes behind admin auth.
func (h *LicensesHandler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/licenses", h.Create)
	r.POST("/licenses/:id/revoke", h.Revoke)
	r.POST("/licenses/:id/renew", h.Renew)
	r.POST("/licenses/:id/bind", h.Bind)
	r.GET("/licenses/:id/audit", h.Audit)
	r.GET("/licenses/stats", h.Stats)
}

// Verify checks a license and returns the structured result. Denials
// are mapped to 4xx statuses but the body always carries the full
// result so the caller can render a specific remediation message.
// POST /api/v1/licenses/verify
func (h *LicensesHandler) Verify(c *gin.Context) {
	var req models.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.LicenseKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "license_key is required"})
		return
	}

	result := h.engine.Verify(c.Request.Context(), req)
	if h.metrics != nil {
		h.metrics.ObserveVerification(req.ForceOffline, result)
	}

	// The offline token goes only to the successfully verified bound
	// device, which needs it to survive renewals: the token is HMAC'd
	// over the exact expiry, so the one issued at activation dies the
	// moment the license is renewed. Everyone else gets it stripped.
	if result.License != nil {
		sanitized := *result.License
		if !result.IsValid || req.DeviceID == "" ||
			sanitized.DeviceID == nil || *sanitized.DeviceID != req.DeviceID {
			sanitized.OfflineToken = ""
		}
		result.License = &sanitized
	}

	c.JSON(statusForResult(result), result)
}

// ValidateFormat checks only the structural shape of a key without a
// store lookup. Format validity is necessary but not sufficient.
// POST /api/v1/licenses/validate-format
func (h *LicensesHandler) ValidateFormat(c *gin.Context) {
	var req struct {
		LicenseKey string `json:"license_key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid_format": license.ValidateKeyFormat(req.LicenseKey)})
}

// CreateLicenseRequest is the request body for license creation.
type CreateLicenseRequest struct {
	SchoolID   uuid.UUID          `json:"school_id" binding:"required"`
	BranchID   *uuid.UUID         `json:"branch_id,omitempty"`
	MaxUsers   int                `json:"max_users,omitempty"`
	Features   []string           `json:"features,omitempty"`
	ExpiresAt  time.Time          `json:"expires_at" binding:"required"`
	DeviceID   *string            `json:"device_id,omitempty"`
	DeviceName *string            `json:"device_name,omitempty"`
	DeviceInfo *models.DeviceInfo `json:"device_info,omitempty"`
}

// Create issues a new license.
// POST /api/v1/licenses
func (h *LicensesHandler) Create(c *gin.Context) {
	var req CreateLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if !req.ExpiresAt.After(time.Now()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expires_at must be in the future"})
		return
	}

	actor := middleware.Actor(c)
	in := models.CreateLicenseInput{
		SchoolID:   req.SchoolID,
		BranchID:   req.BranchID,
		MaxUsers:   req.MaxUsers,
		Features:   req.Features,
		ExpiresAt:  req.ExpiresAt,
		DeviceID:   req.DeviceID,
		DeviceName: req.DeviceName,
		DeviceInfo: req.DeviceInfo,
		CreatedBy:  &actor,
	}

	lic, err := h.engine.CreateLicense(c.Request.Context(), in)
	if err != nil {
		if errors.Is(err, license.ErrBranchNotFound) || errors.Is(err, license.ErrLicenseNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "school or branch not found"})
			return
		}
		h.logger.Error().Err(err).Msg("failed to create license")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create license"})
		return
	}

	c.JSON(http.StatusCreated, lic)
}

// Revoke transitions a license to REVOKED. Idempotent.
// POST /api/v1/licenses/:id/revoke
func (h *LicensesHandler) Revoke(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid license id"})
		return
	}

	if err := h.engine.RevokeLicense(c.Request.Context(), id, middleware.Actor(c)); err != nil {
		if errors.Is(err, license.ErrLicenseNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "license not found"})
			return
		}
		h.logger.Error().Err(err).Str("license_id", id.String()).Msg("failed to revoke license")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke license"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"revoked": true})
}

// RenewLicenseRequest is the request body for license renewal.
type RenewLicenseRequest struct {
	ExpiresAt time.Time `json:"expires_at" binding:"required"`
}

// Renew extends a license and reissues its offline token.
// POST /api/v1/licenses/:id/renew
func (h *LicensesHandler) Renew(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid license id"})
		return
	}

	var req RenewLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if !req.ExpiresAt.After(time.Now()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expires_at must be in the future"})
		return
	}

	lic, err := h.engine.RenewLicense(c.Request.Context(), id, req.ExpiresAt, middleware.Actor(c))
	if err != nil {
		switch {
		case errors.Is(err, license.ErrLicenseNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "license not found"})
		case errors.Is(err, license.ErrRevokedNotRenewable):
			c.JSON(http.StatusConflict, gin.H{"error": "revoked license cannot be renewed"})
		default:
			h.logger.Error().Err(err).Str("license_id", id.String()).Msg("failed to renew license")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to renew license"})
		}
		return
	}

	c.JSON(http.StatusOK, lic)
}

// BindDeviceRequest is the request body for an administrative rebind.
type BindDeviceRequest struct {
	DeviceID   string             `json:"device_id" binding:"required"`
	DeviceName string             `json:"device_name,omitempty"`
	DeviceInfo *models.DeviceInfo `json:"device_info,omitempty"`
}

// Bind rebinds a license to a new device, replacing any existing
// binding. Used when a branch replaces its hardware; first-use binding
// happens automatically during verification.
// POST /api/v1/licenses/:id/bind
func (h *LicensesHandler) Bind(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid license id"})
		return
	}

	var req BindDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	lic, err := h.engine.BindDevice(c.Request.Context(), id, req.DeviceID, req.DeviceName, req.DeviceInfo, middleware.Actor(c))
	if err != nil {
		if errors.Is(err, license.ErrLicenseNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "license not found"})
			return
		}
		h.logger.Error().Err(err).Str("license_id", id.String()).Msg("failed to rebind device")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rebind device"})
		return
	}

	c.JSON(http.StatusOK, lic)
}

// Audit returns the audit trail for a license, newest first.
// GET /api/v1/licenses/:id/audit?limit=...&offset=...
func (h *LicensesHandler) Audit(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid license id"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	entries, err := h.engine.AuditTrail(c.Request.Context(), id, limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Str("license_id", id.String()).Msg("failed to get audit trail")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get audit trail"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// Stats returns the license aggregate, optionally scoped to a school.
// GET /api/v1/licenses/stats?school_id=...
func (h *LicensesHandler) Stats(c *gin.Context) {
	var schoolID *uuid.UUID
	if raw := c.Query("school_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid school_id"})
			return
		}
		schoolID = &id
	}

	stats, err := h.engine.Stats(c.Request.Context(), schoolID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to get license stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get license stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// statusForResult maps a verification outcome to a transport status.
// The engine itself is transport-agnostic; this mapping lives entirely
// at the boundary.
func statusForResult(res *models.VerificationResult) int {
	if res.IsValid {
		return http.StatusOK
	}
	switch res.Error {
	case models.ErrKindNotFound:
		return http.StatusNotFound
	case models.ErrKindDeviceMismatch:
		return http.StatusForbidden
	case models.ErrKindStoreUnavailable:
		return http.StatusServiceUnavailable
	case models.ErrKindStatusInactive, models.ErrKindExpired,
		models.ErrKindBadToken, models.ErrKindNoCache, models.ErrKindGraceExceeded:
		return http.StatusUnauthorized
	default:
		return http.StatusUnauthorized
	}
}
