// Package maintenance provides background schedulers for the licensor
// server.
package maintenance

import (
	"context"
	"errors"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ExpiryStore defines the interface for expiry reconciliation data access.
type ExpiryStore interface {
	MarkExpiredLicenses(ctx context.Context) (int64, error)
}

// ExpiryScheduler periodically flips past-expiry ACTIVE licenses to
// EXPIRED. Verification already computes expiry from the timestamp at
// read time, so this only keeps the stored status column honest for
// listings and stats.
type ExpiryScheduler struct {
	store   ExpiryStore
	cron    *cron.Cron
	logger  zerolog.Logger
	mu      sync.Mutex
	running bool
}

// NewExpiryScheduler creates a new expiry reconciliation scheduler.
func NewExpiryScheduler(store ExpiryStore, logger zerolog.Logger) *ExpiryScheduler {
	return &ExpiryScheduler{
		store:  store,
		cron:   cron.New(),
		logger: logger.With().Str("component", "expiry").Logger(),
	}
}

// Start begins the hourly reconciliation schedule.
func (s *ExpiryScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("expiry scheduler already running")
	}

	_, err := s.cron.AddFunc("@hourly", s.runReconcile)
	if err != nil {
		return err
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().Msg("expiry scheduler started (hourly)")

	return nil
}

// Stop stops the expiry scheduler gracefully.
func (s *ExpiryScheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	s.running = false
	s.logger.Info().Msg("stopping expiry scheduler")
	return s.cron.Stop()
}

// runReconcile executes one reconciliation pass.
func (s *ExpiryScheduler) runReconcile() {
	ctx := context.Background()

	marked, err := s.store.MarkExpiredLicenses(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("expiry reconciliation failed")
		return
	}

	if marked > 0 {
		s.logger.Info().Int64("marked", marked).Msg("marked expired licenses")
	}
}
