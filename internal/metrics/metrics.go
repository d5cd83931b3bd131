// Package metrics provides Prometheus metrics for the licensor server.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/smartedu360/licensor/internal/models"
)

// Metrics holds the server's Prometheus instruments.
type Metrics struct {
	Verifications *prometheus.CounterVec
	registry      *prometheus.Registry
}

// New creates the metrics registry and instruments.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	verifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "licensor_verifications_total",
		Help: "License verification calls by path (online/offline) and outcome.",
	}, []string{"path", "result"})

	registry.MustRegister(verifications)

	return &Metrics{
		Verifications: verifications,
		registry:      registry,
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveVerification records one verification outcome.
func (m *Metrics) ObserveVerification(offline bool, res *models.VerificationResult) {
	path := "online"
	if offline || (res != nil && res.Offline) {
		path = "offline"
	}
	result := "valid"
	if res == nil || !res.IsValid {
		result = "denied"
		if res != nil && res.Error != "" {
			result = string(res.Error)
		}
	}
	m.Verifications.WithLabelValues(path, result).Inc()
}

// statsSource is the store view the collector needs.
type statsSource interface {
	GlobalLicenseStats(ctx context.Context) (*models.LicenseStats, error)
}

// StatsCollector exposes license stats as gauges, collecting lazily and
// caching briefly so a scrape storm never hammers the store.
type StatsCollector struct {
	store  statsSource
	logger zerolog.Logger

	mu            sync.Mutex
	lastCollected time.Time
	cached        *models.LicenseStats
	cacheExpiry   time.Duration

	total        *prometheus.Desc
	active       *prometheus.Desc
	expired      *prometheus.Desc
	revoked      *prometheus.Desc
	expiringSoon *prometheus.Desc
}

// NewStatsCollector creates a collector over the license store.
func NewStatsCollector(store statsSource, logger zerolog.Logger) *StatsCollector {
	return &StatsCollector{
		store:        store,
		logger:       logger.With().Str("component", "stats_collector").Logger(),
		cacheExpiry:  15 * time.Second,
		total:        prometheus.NewDesc("licensor_licenses_total", "Total number of licenses.", nil, nil),
		active:       prometheus.NewDesc("licensor_licenses_active", "Number of active licenses.", nil, nil),
		expired:      prometheus.NewDesc("licensor_licenses_expired", "Number of expired licenses.", nil, nil),
		revoked:      prometheus.NewDesc("licensor_licenses_revoked", "Number of revoked licenses.", nil, nil),
		expiringSoon: prometheus.NewDesc("licensor_licenses_expiring_soon", "Active licenses expiring within 30 days.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.total
	ch <- c.active
	ch <- c.expired
	ch <- c.revoked
	ch <- c.expiringSoon
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.stats()
	if stats == nil {
		return
	}

	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(stats.Total))
	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(stats.Active))
	ch <- prometheus.MustNewConstMetric(c.expired, prometheus.GaugeValue, float64(stats.Expired))
	ch <- prometheus.MustNewConstMetric(c.revoked, prometheus.GaugeValue, float64(stats.Revoked))
	ch <- prometheus.MustNewConstMetric(c.expiringSoon, prometheus.GaugeValue, float64(stats.ExpiringSoon))
}

// stats returns cached aggregates, refreshing when stale.
func (c *StatsCollector) stats() *models.LicenseStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && time.Since(c.lastCollected) < c.cacheExpiry {
		return c.cached
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats, err := c.store.GlobalLicenseStats(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to collect license stats")
		return c.cached
	}

	c.cached = stats
	c.lastCollected = time.Now()
	return stats
}
