package license

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/smartedu360/licensor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockStore implements Store for testing.
type mockStore struct {
	byKey       map[string]*models.License
	byID        map[uuid.UUID]*models.License
	schoolCodes map[uuid.UUID]string
	branchCodes map[uuid.UUID]string
	audits      []*models.LicenseAuditLog
	stats       *models.LicenseStats

	getErr      error
	bindErr     error
	bindRefused bool
	touched     int
}

func newMockStore() *mockStore {
	return &mockStore{
		byKey:       make(map[string]*models.License),
		byID:        make(map[uuid.UUID]*models.License),
		schoolCodes: make(map[uuid.UUID]string),
		branchCodes: make(map[uuid.UUID]string),
	}
}

func (m *mockStore) add(lic *models.License) {
	m.byKey[lic.LicenseKey] = lic
	m.byID[lic.ID] = lic
}

func (m *mockStore) GetLicenseByKey(_ context.Context, key string) (*models.License, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if lic, ok := m.byKey[key]; ok {
		copied := *lic
		return &copied, nil
	}
	return nil, ErrLicenseNotFound
}

func (m *mockStore) GetLicenseByID(_ context.Context, id uuid.UUID) (*models.License, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if lic, ok := m.byID[id]; ok {
		copied := *lic
		return &copied, nil
	}
	return nil, ErrLicenseNotFound
}

func (m *mockStore) CreateLicense(_ context.Context, lic *models.License) error {
	m.add(lic)
	return nil
}

func (m *mockStore) UpdateLicenseStatus(_ context.Context, id uuid.UUID, from, to models.LicenseStatus) (bool, error) {
	lic, ok := m.byID[id]
	if !ok || lic.Status != from {
		return false, nil
	}
	lic.Status = to
	return true, nil
}

func (m *mockStore) SetLicenseStatus(_ context.Context, id uuid.UUID, to models.LicenseStatus) error {
	lic, ok := m.byID[id]
	if !ok {
		return ErrLicenseNotFound
	}
	lic.Status = to
	return nil
}

func (m *mockStore) BindDevice(_ context.Context, id uuid.UUID, deviceID, deviceName string, info *models.DeviceInfo) (bool, error) {
	if m.bindErr != nil {
		return false, m.bindErr
	}
	lic, ok := m.byID[id]
	if m.bindRefused {
		// Simulate another device winning the bind between the caller's
		// read and this write.
		if ok && lic.DeviceID == nil {
			winner := "racing-device"
			lic.DeviceID = &winner
		}
		return false, nil
	}
	if !ok || lic.DeviceID != nil {
		return false, nil
	}
	lic.DeviceID = &deviceID
	if deviceName != "" {
		lic.DeviceName = &deviceName
	}
	lic.DeviceInfo = info
	return true, nil
}

func (m *mockStore) RebindDevice(_ context.Context, id uuid.UUID, deviceID, deviceName string, info *models.DeviceInfo) error {
	lic, ok := m.byID[id]
	if !ok {
		return ErrLicenseNotFound
	}
	lic.DeviceID = &deviceID
	if deviceName != "" {
		lic.DeviceName = &deviceName
	}
	lic.DeviceInfo = info
	return nil
}

func (m *mockStore) TouchLicenseSync(_ context.Context, id uuid.UUID, at time.Time, offline bool) error {
	if lic, ok := m.byID[id]; ok {
		lic.LastSync = &at
		lic.IsOffline = offline
	}
	m.touched++
	return nil
}

func (m *mockStore) RenewLicense(_ context.Context, id uuid.UUID, expiresAt time.Time, offlineToken string, status models.LicenseStatus) error {
	lic, ok := m.byID[id]
	if !ok {
		return ErrLicenseNotFound
	}
	lic.ExpiresAt = expiresAt
	lic.OfflineToken = offlineToken
	lic.Status = status
	return nil
}

func (m *mockStore) LicenseStats(_ context.Context, _ *uuid.UUID) (*models.LicenseStats, error) {
	if m.stats == nil {
		return &models.LicenseStats{}, nil
	}
	return m.stats, nil
}

func (m *mockStore) SchoolCode(_ context.Context, id uuid.UUID) (string, error) {
	if code, ok := m.schoolCodes[id]; ok {
		return code, nil
	}
	return "", ErrLicenseNotFound
}

func (m *mockStore) BranchCode(_ context.Context, id uuid.UUID) (string, error) {
	if code, ok := m.branchCodes[id]; ok {
		return code, nil
	}
	return "", ErrLicenseNotFound
}

func (m *mockStore) CreateLicenseAuditLog(_ context.Context, entry *models.LicenseAuditLog) error {
	m.audits = append(m.audits, entry)
	return nil
}

func (m *mockStore) GetLicenseAuditLogs(_ context.Context, licenseID uuid.UUID, limit, offset int) ([]*models.LicenseAuditLog, error) {
	var entries []*models.LicenseAuditLog
	for _, entry := range m.audits {
		if entry.LicenseID == licenseID {
			entries = append(entries, entry)
		}
	}
	if offset >= len(entries) {
		return nil, nil
	}
	entries = entries[offset:]
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// mockSnapshotCache implements SnapshotCache for testing.
type mockSnapshotCache struct {
	snaps map[string]*models.LicenseSnapshot
}

func (m *mockSnapshotCache) Get(_ context.Context, key string) (*models.LicenseSnapshot, error) {
	if snap, ok := m.snaps[key]; ok {
		return snap, nil
	}
	return nil, ErrSnapshotNotFound
}

func (m *mockSnapshotCache) Put(_ context.Context, snap *models.LicenseSnapshot) error {
	if m.snaps == nil {
		m.snaps = make(map[string]*models.LicenseSnapshot)
	}
	m.snaps[snap.LicenseKey] = snap
	return nil
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, store Store, cache SnapshotCache, cfg Config) *Engine {
	t.Helper()
	keygen, err := NewGenerator([]byte("test-secret"))
	require.NoError(t, err)
	signer, err := NewTokenSigner([]byte("test-secret"))
	require.NoError(t, err)

	engine, err := NewEngine(store, cache, keygen, signer, cfg, zerolog.Nop())
	require.NoError(t, err)
	engine.now = func() time.Time { return testNow }
	return engine
}

func activeLicense() *models.License {
	return &models.License{
		ID:         uuid.New(),
		SchoolID:   uuid.New(),
		LicenseKey: "SCL001-BR01-ABC-DEF0-12345678",
		Status:     models.LicenseStatusActive,
		Features:   []string{"attendance"},
		MaxUsers:   50,
		IssuedAt:   testNow.AddDate(0, -1, 0),
		ExpiresAt:  testNow.AddDate(0, 0, 30),
	}
}

func TestVerifyOnline_Valid(t *testing.T) {
	store := newMockStore()
	engine := newTestEngine(t, store, nil, DefaultConfig())

	lic := activeLicense()
	store.add(lic)

	res := engine.VerifyOnline(context.Background(), lic.LicenseKey, "", "", nil)
	require.True(t, res.IsValid)
	assert.Equal(t, 30, res.RemainingDays)
	assert.Equal(t, []string{"attendance"}, res.Features)
	assert.Equal(t, 50, res.MaxUsers)
	assert.Equal(t, models.LicenseStatusActive, res.Status)
	assert.Equal(t, 1, store.touched)
}

func TestVerifyOnline_NotFound(t *testing.T) {
	engine := newTestEngine(t, newMockStore(), nil, DefaultConfig())

	res := engine.VerifyOnline(context.Background(), "NOPE-NOPE-NOPE-NOPE-NOPE", "", "", nil)
	assert.False(t, res.IsValid)
	assert.Equal(t, models.ErrKindNotFound, res.Error)
}

func TestVerifyOnline_StoreUnavailable(t *testing.T) {
	store := newMockStore()
	store.getErr = errors.New("connection refused")
	engine := newTestEngine(t, store, nil, DefaultConfig())

	res := engine.VerifyOnline(context.Background(), "SCL001-BR01-ABC-DEF0-12345678", "", "", nil)
	assert.False(t, res.IsValid)
	assert.Equal(t, models.ErrKindStoreUnavailable, res.Error)
}

func TestVerifyOnline_InactiveStatus(t *testing.T) {
	store := newMockStore()
	engine := newTestEngine(t, store, nil, DefaultConfig())

	lic := activeLicense()
	lic.Status = models.LicenseStatusRevoked
	store.add(lic)

	res := engine.VerifyOnline(context.Background(), lic.LicenseKey, "", "", nil)
	assert.False(t, res.IsValid)
	assert.Equal(t, models.ErrKindStatusInactive, res.Error)
	assert.Equal(t, models.LicenseStatusRevoked, res.Status)
}

func TestVerifyOnline_RevokedBeforeExpiryStillDenied(t *testing.T) {
	store := newMockStore()
	engine := newTestEngine(t, store, nil, DefaultConfig())

	// Future expiry must not rescue a revoked license.
	lic := activeLicense()
	lic.Status = models.LicenseStatusRevoked
	lic.ExpiresAt = testNow.AddDate(1, 0, 0)
	store.add(lic)

	res := engine.VerifyOnline(context.Background(), lic.LicenseKey, "", "", nil)
	assert.False(t, res.IsValid)
	assert.Equal(t, models.ErrKindStatusInactive, res.Error)
}

func TestVerifyOnline_Expired(t *testing.T) {
	store := newMockStore()
	engine := newTestEngine(t, store, nil, DefaultConfig())

	lic := activeLicense()
	lic.ExpiresAt = testNow.Add(-time.Hour)
	store.add(lic)

	res := engine.VerifyOnline(context.Background(), lic.LicenseKey, "", "", nil)
	assert.False(t, res.IsValid)
	assert.Equal(t, models.ErrKindExpired, res.Error)

	// The lazy transition persisted.
	assert.Equal(t, models.LicenseStatusExpired, store.byID[lic.ID].Status)
}

func TestVerifyOnline_DeviceBinding(t *testing.T) {
	t.Run("first device binds", func(t *testing.T) {
		store := newMockStore()
		engine := newTestEngine(t, store, nil, DefaultConfig())
		lic := activeLicense()
		store.add(lic)

		res := engine.VerifyOnline(context.Background(), lic.LicenseKey, "device-a", "lab-pc", nil)
		require.True(t, res.IsValid)
		require.NotNil(t, store.byID[lic.ID].DeviceID)
		assert.Equal(t, "device-a", *store.byID[lic.ID].DeviceID)

		// The returned record reflects the binding that just happened, so
		// the caller can recognize itself as the bound device.
		require.NotNil(t, res.License)
		require.NotNil(t, res.License.DeviceID)
		assert.Equal(t, "device-a", *res.License.DeviceID)

		require.Len(t, store.audits, 1)
		assert.Equal(t, models.AuditActionDeviceBound, store.audits[0].Action)
	})

	t.Run("second device rejected", func(t *testing.T) {
		store := newMockStore()
		engine := newTestEngine(t, store, nil, DefaultConfig())
		lic := activeLicense()
		deviceA := "device-a"
		lic.DeviceID = &deviceA
		store.add(lic)

		res := engine.VerifyOnline(context.Background(), lic.LicenseKey, "device-b", "", nil)
		assert.False(t, res.IsValid)
		assert.Equal(t, models.ErrKindDeviceMismatch, res.Error)
	})

	t.Run("bound device verifies again", func(t *testing.T) {
		store := newMockStore()
		engine := newTestEngine(t, store, nil, DefaultConfig())
		lic := activeLicense()
		deviceA := "device-a"
		lic.DeviceID = &deviceA
		store.add(lic)

		res := engine.VerifyOnline(context.Background(), lic.LicenseKey, "device-a", "", nil)
		assert.True(t, res.IsValid)
	})

	t.Run("no device id skips binding", func(t *testing.T) {
		store := newMockStore()
		engine := newTestEngine(t, store, nil, DefaultConfig())
		lic := activeLicense()
		store.add(lic)

		res := engine.VerifyOnline(context.Background(), lic.LicenseKey, "", "", nil)
		assert.True(t, res.IsValid)
		assert.Nil(t, store.byID[lic.ID].DeviceID)
	})

	t.Run("lost bind race against other device", func(t *testing.T) {
		store := newMockStore()
		engine := newTestEngine(t, store, nil, DefaultConfig())
		lic := activeLicense()
		store.add(lic)
		store.bindRefused = true

		res := engine.VerifyOnline(context.Background(), lic.LicenseKey, "device-a", "", nil)
		assert.False(t, res.IsValid)
		assert.Equal(t, models.ErrKindDeviceMismatch, res.Error)
	})
}

func TestVerifyOffline(t *testing.T) {
	store := newMockStore()
	cache := &mockSnapshotCache{snaps: make(map[string]*models.LicenseSnapshot)}
	engine := newTestEngine(t, store, cache, DefaultConfig())

	key := "SCL001-BR01-ABC-DEF0-12345678"
	expiry := testNow.AddDate(0, 0, 30)
	token := engine.Signer().Issue(key, expiry)

	t.Run("no snapshot", func(t *testing.T) {
		res := engine.VerifyOffline(context.Background(), key, token)
		assert.False(t, res.IsValid)
		assert.Equal(t, models.ErrKindNoCache, res.Error)
	})

	t.Run("valid snapshot", func(t *testing.T) {
		cache.snaps[key] = &models.LicenseSnapshot{
			LicenseKey: key,
			ExpiresAt:  expiry,
			Features:   []string{"attendance"},
			MaxUsers:   50,
			LastSync:   testNow.Add(-24 * time.Hour),
		}
		res := engine.VerifyOffline(context.Background(), key, token)
		require.True(t, res.IsValid)
		assert.True(t, res.Offline)
	})

	t.Run("nil cache", func(t *testing.T) {
		noCache := newTestEngine(t, store, nil, DefaultConfig())
		res := noCache.VerifyOffline(context.Background(), key, token)
		assert.False(t, res.IsValid)
		assert.Equal(t, models.ErrKindNoCache, res.Error)
	})
}

func TestVerify_Dispatch(t *testing.T) {
	key := "SCL001-BR01-ABC-DEF0-12345678"
	expiry := testNow.AddDate(0, 0, 30)

	freshSnapshot := func() *models.LicenseSnapshot {
		return &models.LicenseSnapshot{
			LicenseKey: key,
			ExpiresAt:  expiry,
			Features:   []string{"attendance"},
			MaxUsers:   50,
			LastSync:   testNow.Add(-24 * time.Hour),
		}
	}

	t.Run("force offline skips the store", func(t *testing.T) {
		store := newMockStore()
		store.getErr = errors.New("must not be called")
		cache := &mockSnapshotCache{snaps: map[string]*models.LicenseSnapshot{key: freshSnapshot()}}
		engine := newTestEngine(t, store, cache, DefaultConfig())

		res := engine.Verify(context.Background(), models.VerifyRequest{
			LicenseKey:   key,
			OfflineToken: engine.Signer().Issue(key, expiry),
			ForceOffline: true,
		})
		assert.True(t, res.IsValid)
		assert.True(t, res.Offline)
	})

	t.Run("definitive online denial is never softened by cache", func(t *testing.T) {
		store := newMockStore()
		engine := newTestEngine(t, store, &mockSnapshotCache{snaps: map[string]*models.LicenseSnapshot{key: freshSnapshot()}}, DefaultConfig())

		lic := activeLicense()
		lic.LicenseKey = key
		lic.Status = models.LicenseStatusRevoked
		store.add(lic)

		res := engine.Verify(context.Background(), models.VerifyRequest{
			LicenseKey:   key,
			OfflineToken: engine.Signer().Issue(key, expiry),
		})
		assert.False(t, res.IsValid)
		assert.Equal(t, models.ErrKindStatusInactive, res.Error)
	})

	t.Run("store outage falls back to offline", func(t *testing.T) {
		store := newMockStore()
		store.getErr = errors.New("connection refused")
		cache := &mockSnapshotCache{snaps: map[string]*models.LicenseSnapshot{key: freshSnapshot()}}
		engine := newTestEngine(t, store, cache, DefaultConfig())

		res := engine.Verify(context.Background(), models.VerifyRequest{
			LicenseKey:   key,
			OfflineToken: engine.Signer().Issue(key, expiry),
		})
		assert.True(t, res.IsValid)
		assert.True(t, res.Offline)
	})

	t.Run("store outage without token reports unavailable", func(t *testing.T) {
		store := newMockStore()
		store.getErr = errors.New("connection refused")
		cache := &mockSnapshotCache{snaps: map[string]*models.LicenseSnapshot{key: freshSnapshot()}}
		engine := newTestEngine(t, store, cache, DefaultConfig())

		res := engine.Verify(context.Background(), models.VerifyRequest{LicenseKey: key})
		assert.False(t, res.IsValid)
		assert.Equal(t, models.ErrKindStoreUnavailable, res.Error)
	})

	t.Run("expired snapshot beats infrastructure error", func(t *testing.T) {
		store := newMockStore()
		store.getErr = errors.New("connection refused")
		pastExpiry := testNow.Add(-time.Hour)
		snap := freshSnapshot()
		snap.ExpiresAt = pastExpiry
		cache := &mockSnapshotCache{snaps: map[string]*models.LicenseSnapshot{key: snap}}
		engine := newTestEngine(t, store, cache, DefaultConfig())

		res := engine.Verify(context.Background(), models.VerifyRequest{
			LicenseKey:   key,
			OfflineToken: engine.Signer().Issue(key, pastExpiry),
		})
		assert.False(t, res.IsValid)
		assert.Equal(t, models.ErrKindExpired, res.Error)
	})
}

func TestCreateLicense(t *testing.T) {
	store := newMockStore()
	engine := newTestEngine(t, store, nil, DefaultConfig())

	schoolID := uuid.New()
	branchID := uuid.New()
	store.schoolCodes[schoolID] = "SCL001"
	store.branchCodes[branchID] = "BR01"

	creator := "admin"
	lic, err := engine.CreateLicense(context.Background(), models.CreateLicenseInput{
		SchoolID:  schoolID,
		BranchID:  &branchID,
		Features:  []string{"attendance"},
		ExpiresAt: testNow.AddDate(1, 0, 0),
		CreatedBy: &creator,
	})
	require.NoError(t, err)

	assert.True(t, ValidateKeyFormat(lic.LicenseKey))
	assert.Equal(t, models.LicenseStatusActive, lic.Status)
	assert.Equal(t, DefaultMaxUsers, lic.MaxUsers)
	assert.True(t, engine.Signer().Verify(lic.LicenseKey, lic.ExpiresAt, lic.OfflineToken))

	require.Len(t, store.audits, 1)
	assert.Equal(t, models.AuditActionLicenseCreated, store.audits[0].Action)
	assert.Equal(t, "admin", store.audits[0].Actor)
}

func TestCreateLicense_AllBranches(t *testing.T) {
	store := newMockStore()
	engine := newTestEngine(t, store, nil, DefaultConfig())

	schoolID := uuid.New()
	store.schoolCodes[schoolID] = "SCL001"

	lic, err := engine.CreateLicense(context.Background(), models.CreateLicenseInput{
		SchoolID:  schoolID,
		ExpiresAt: testNow.AddDate(1, 0, 0),
	})
	require.NoError(t, err)
	assert.Nil(t, lic.BranchID)
	assert.Contains(t, lic.LicenseKey, "SCL001-ALL-")
}

func TestCreateLicense_UnknownBranch(t *testing.T) {
	store := newMockStore()
	engine := newTestEngine(t, store, nil, DefaultConfig())

	schoolID := uuid.New()
	store.schoolCodes[schoolID] = "SCL001"
	unknownBranch := uuid.New()

	_, err := engine.CreateLicense(context.Background(), models.CreateLicenseInput{
		SchoolID:  schoolID,
		BranchID:  &unknownBranch,
		ExpiresAt: testNow.AddDate(1, 0, 0),
	})
	assert.ErrorIs(t, err, ErrBranchNotFound)
}

func TestRevokeLicense(t *testing.T) {
	store := newMockStore()
	engine := newTestEngine(t, store, nil, DefaultConfig())

	lic := activeLicense()
	store.add(lic)

	require.NoError(t, engine.RevokeLicense(context.Background(), lic.ID, "admin"))
	assert.Equal(t, models.LicenseStatusRevoked, store.byID[lic.ID].Status)
	require.Len(t, store.audits, 1)
	assert.Equal(t, models.AuditActionLicenseRevoked, store.audits[0].Action)

	// Idempotent: a second revoke succeeds without a second audit entry.
	require.NoError(t, engine.RevokeLicense(context.Background(), lic.ID, "admin"))
	assert.Len(t, store.audits, 1)
}

func TestRevokeLicense_NotFound(t *testing.T) {
	engine := newTestEngine(t, newMockStore(), nil, DefaultConfig())
	err := engine.RevokeLicense(context.Background(), uuid.New(), "admin")
	assert.ErrorIs(t, err, ErrLicenseNotFound)
}

func TestRenewLicense(t *testing.T) {
	store := newMockStore()
	engine := newTestEngine(t, store, nil, DefaultConfig())

	lic := activeLicense()
	lic.OfflineToken = engine.Signer().Issue(lic.LicenseKey, lic.ExpiresAt)
	oldToken := lic.OfflineToken
	store.add(lic)

	newExpiry := testNow.AddDate(1, 0, 0)
	renewed, err := engine.RenewLicense(context.Background(), lic.ID, newExpiry, "admin")
	require.NoError(t, err)

	assert.Equal(t, newExpiry, renewed.ExpiresAt)
	assert.NotEqual(t, oldToken, renewed.OfflineToken)
	assert.False(t, engine.Signer().Verify(lic.LicenseKey, newExpiry, oldToken))
	assert.True(t, engine.Signer().Verify(lic.LicenseKey, newExpiry, renewed.OfflineToken))

	require.Len(t, store.audits, 1)
	assert.Equal(t, models.AuditActionLicenseRenewed, store.audits[0].Action)
}

func TestRenewLicense_ExpiredBecomesActive(t *testing.T) {
	store := newMockStore()
	engine := newTestEngine(t, store, nil, DefaultConfig())

	lic := activeLicense()
	lic.Status = models.LicenseStatusExpired
	lic.ExpiresAt = testNow.Add(-24 * time.Hour)
	store.add(lic)

	renewed, err := engine.RenewLicense(context.Background(), lic.ID, testNow.AddDate(1, 0, 0), "admin")
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusActive, renewed.Status)
}

func TestRenewLicense_RevokedPolicy(t *testing.T) {
	t.Run("refused by default", func(t *testing.T) {
		store := newMockStore()
		engine := newTestEngine(t, store, nil, DefaultConfig())

		lic := activeLicense()
		lic.Status = models.LicenseStatusRevoked
		store.add(lic)

		_, err := engine.RenewLicense(context.Background(), lic.ID, testNow.AddDate(1, 0, 0), "admin")
		assert.ErrorIs(t, err, ErrRevokedNotRenewable)
		assert.Equal(t, models.LicenseStatusRevoked, store.byID[lic.ID].Status)
		assert.Empty(t, store.audits)
	})

	t.Run("reactivation is explicit and audited", func(t *testing.T) {
		store := newMockStore()
		cfg := DefaultConfig()
		cfg.ReactivateRevoked = true
		engine := newTestEngine(t, store, nil, cfg)

		lic := activeLicense()
		lic.Status = models.LicenseStatusRevoked
		store.add(lic)

		renewed, err := engine.RenewLicense(context.Background(), lic.ID, testNow.AddDate(1, 0, 0), "admin")
		require.NoError(t, err)
		assert.Equal(t, models.LicenseStatusActive, renewed.Status)

		require.Len(t, store.audits, 1)
		assert.Equal(t, models.AuditActionLicenseReactivated, store.audits[0].Action)
		assert.Equal(t, models.LicenseStatusRevoked, store.audits[0].Details["previous_status"])
	})
}

func TestBindDevice_Rebind(t *testing.T) {
	store := newMockStore()
	engine := newTestEngine(t, store, nil, DefaultConfig())

	lic := activeLicense()
	old := "old-device"
	lic.DeviceID = &old
	store.add(lic)

	rebound, err := engine.BindDevice(context.Background(), lic.ID, "new-device", "Lab PC", nil, "admin")
	require.NoError(t, err)
	require.NotNil(t, rebound.DeviceID)
	assert.Equal(t, "new-device", *rebound.DeviceID)
	assert.Equal(t, "new-device", *store.byID[lic.ID].DeviceID)

	require.Len(t, store.audits, 1)
	assert.Equal(t, models.AuditActionDeviceRebound, store.audits[0].Action)
	assert.Equal(t, "old-device", store.audits[0].Details["previous_device_id"])
	assert.Equal(t, "admin", store.audits[0].Actor)
}

func TestBindDevice_RequiresDeviceID(t *testing.T) {
	store := newMockStore()
	engine := newTestEngine(t, store, nil, DefaultConfig())

	lic := activeLicense()
	store.add(lic)

	_, err := engine.BindDevice(context.Background(), lic.ID, "", "", nil, "admin")
	assert.Error(t, err)
	assert.Empty(t, store.audits)
}

func TestBindDevice_NotFound(t *testing.T) {
	engine := newTestEngine(t, newMockStore(), nil, DefaultConfig())

	_, err := engine.BindDevice(context.Background(), uuid.New(), "dev", "", nil, "admin")
	assert.ErrorIs(t, err, ErrLicenseNotFound)
}

func TestAuditTrail(t *testing.T) {
	store := newMockStore()
	engine := newTestEngine(t, store, nil, DefaultConfig())

	lic := activeLicense()
	store.add(lic)

	require.NoError(t, engine.RevokeLicense(context.Background(), lic.ID, "admin"))

	entries, err := engine.AuditTrail(context.Background(), lic.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditActionLicenseRevoked, entries[0].Action)

	// A license with no history yields an empty page, not nil.
	entries, err = engine.AuditTrail(context.Background(), uuid.New(), 10, 0)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestStats(t *testing.T) {
	store := newMockStore()
	store.stats = &models.LicenseStats{Total: 10, Active: 7, Expired: 2, Revoked: 1, ExpiringSoon: 3}
	engine := newTestEngine(t, store, nil, DefaultConfig())

	stats, err := engine.Stats(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.Total)
	assert.Equal(t, int64(3), stats.ExpiringSoon)
}
