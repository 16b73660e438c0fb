package observability

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles Prometheus metrics used across the gateway daemon.
// All methods tolerate a nil receiver so instrumentation stays optional.
type Metrics struct {
	namespace string

	storeOpens     prometheus.Counter
	schemaVersion  prometheus.Gauge
	migrationTime  prometheus.Histogram
	commitTime     prometheus.Histogram
	commitErrors   prometheus.Counter
	rowsWritten    prometheus.Counter
	writesAbsorbed prometheus.Counter
	queueDepth     prometheus.Gauge

	healthy atomic.Bool
}

// MetricsOption customises metrics creation.
type MetricsOption func(*metricsConfig)

type metricsConfig struct {
	namespace string
	registry  prometheus.Registerer
}

// WithNamespace overrides the metric namespace (default: zigbridge).
func WithNamespace(ns string) MetricsOption {
	return func(cfg *metricsConfig) {
		if ns != "" {
			cfg.namespace = ns
		}
	}
}

// WithRegistry overrides the Prometheus registerer (useful for tests).
func WithRegistry(reg prometheus.Registerer) MetricsOption {
	return func(cfg *metricsConfig) {
		if reg != nil {
			cfg.registry = reg
		}
	}
}

// NewMetrics initialises and registers persistence metrics.
func NewMetrics(opts ...MetricsOption) *Metrics {
	cfg := metricsConfig{
		namespace: "zigbridge",
		registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	m := &Metrics{
		namespace: cfg.namespace,
		storeOpens: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "store_opens_total",
			Help:      "Total number of database connection opens, including lazy reopens.",
		}),
		schemaVersion: promauto.With(cfg.registry).NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.namespace,
			Name:      "schema_version",
			Help:      "Current schema version of the database file.",
		}),
		migrationTime: promauto.With(cfg.registry).NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.namespace,
			Name:      "migration_duration_seconds",
			Help:      "Wall time of the startup migration pass.",
			Buckets:   prometheus.DefBuckets,
		}),
		commitTime: promauto.With(cfg.registry).NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.namespace,
			Name:      "commit_duration_seconds",
			Help:      "Wall time of one coalesced write transaction.",
			Buckets:   prometheus.DefBuckets,
		}),
		commitErrors: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "commit_errors_total",
			Help:      "Total number of failed write transactions.",
		}),
		rowsWritten: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "rows_written_total",
			Help:      "Total number of rows written by coalesced commits.",
		}),
		writesAbsorbed: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "writes_absorbed_total",
			Help:      "Total number of resource item writes absorbed by the store-delay filter.",
		}),
		queueDepth: promauto.With(cfg.registry).NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.namespace,
			Name:      "query_queue_depth",
			Help:      "Current number of statements waiting in the query queue.",
		}),
	}

	m.healthy.Store(true)
	return m
}

// IncStoreOpens increments the connection open counter.
func (m *Metrics) IncStoreOpens() {
	if m == nil {
		return
	}
	m.storeOpens.Inc()
}

// SetSchemaVersion records the active schema version.
func (m *Metrics) SetSchemaVersion(version int) {
	if m == nil {
		return
	}
	m.schemaVersion.Set(float64(version))
}

// ObserveMigration records the duration of a migration pass.
func (m *Metrics) ObserveMigration(d time.Duration) {
	if m == nil {
		return
	}
	m.migrationTime.Observe(d.Seconds())
}

// ObserveCommit records the duration of one write transaction.
func (m *Metrics) ObserveCommit(d time.Duration) {
	if m == nil {
		return
	}
	m.commitTime.Observe(d.Seconds())
}

// IncCommitErrors increments the failed commit counter and marks the
// service unhealthy.
func (m *Metrics) IncCommitErrors() {
	if m == nil {
		return
	}
	m.commitErrors.Inc()
	m.healthy.Store(false)
}

// AddRowsWritten accumulates rows written by a commit.
func (m *Metrics) AddRowsWritten(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rowsWritten.Add(float64(n))
}

// IncWriteAbsorbed increments the absorbed-write counter.
func (m *Metrics) IncWriteAbsorbed() {
	if m == nil {
		return
	}
	m.writesAbsorbed.Inc()
}

// ObserveQueueDepth tracks the query queue depth.
func (m *Metrics) ObserveQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// Healthy reports whether the service is considered healthy.
func (m *Metrics) Healthy() bool {
	if m == nil {
		return true
	}
	return m.healthy.Load()
}
