package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Metric status labels.
	statusSuccess = "success"
	statusError   = "error"
)

// Metrics holds all Prometheus metrics for the ingestion core.
type Metrics struct {
	// Cron / scheduler metrics
	CycleRunsTotal        *prometheus.CounterVec
	CycleDuration         prometheus.Histogram
	CycleSubscriptions    *prometheus.CounterVec
	CycleNewItemsTotal    *prometheus.CounterVec
	CycleSkippedTotal     *prometheus.CounterVec

	// Provider adapter metrics
	AdapterOperationsTotal   *prometheus.CounterVec
	AdapterOperationDuration *prometheus.HistogramVec
	AdapterErrorsTotal       *prometheus.CounterVec

	// Quota metrics
	QuotaUsed    *prometheus.GaugeVec
	QuotaDenials *prometheus.CounterVec

	// Rate limiter metrics
	RateLimitHitsTotal   *prometheus.CounterVec
	RateLimitWaitSeconds *prometheus.HistogramVec

	// Token manager metrics
	TokenRefreshTotal    *prometheus.CounterVec
	TokenRefreshDuration prometheus.Histogram

	// Ingestion metrics
	ItemsIngestedTotal    *prometheus.CounterVec
	ItemsDuplicateTotal   *prometheus.CounterVec
	IngestionErrorsTotal  *prometheus.CounterVec

	// Lock metrics
	LockAcquireTotal *prometheus.CounterVec

	// KV (Redis) metrics
	KVOperationsTotal   *prometheus.CounterVec
	KVOperationDuration *prometheus.HistogramVec
	KVErrorsTotal       *prometheus.CounterVec
}

var globalMetrics *Metrics

// InitMetrics initializes and registers all Prometheus metrics.
// Returns the existing metrics instance if already initialized (idempotent).
func InitMetrics(namespace string) *Metrics {
	if globalMetrics != nil {
		return globalMetrics
	}

	if namespace == "" {
		namespace = "briefloop"
	}

	m := &Metrics{
		CycleRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycle_runs_total",
				Help:      "Total number of poll cycles run, by outcome",
			},
			[]string{"outcome"},
		),

		CycleDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Poll cycle duration in seconds",
				Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
		),

		CycleSubscriptions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycle_subscriptions_processed_total",
				Help:      "Total number of subscriptions processed per cycle, by provider",
			},
			[]string{"provider"},
		),

		CycleNewItemsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycle_new_items_total",
				Help:      "Total number of newly ingested items per cycle, by provider",
			},
			[]string{"provider"},
		),

		CycleSkippedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycle_skipped_total",
				Help:      "Total number of subscriptions skipped per cycle, by reason",
			},
			[]string{"provider", "reason"},
		),

		AdapterOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "adapter_operations_total",
				Help:      "Total number of provider adapter operations",
			},
			[]string{"provider", "operation", "status"},
		),

		AdapterOperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "adapter_operation_duration_seconds",
				Help:      "Provider adapter operation duration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"provider", "operation"},
		),

		AdapterErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "adapter_errors_total",
				Help:      "Total number of provider adapter errors",
			},
			[]string{"provider", "operation", "error_type"},
		),

		QuotaUsed: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "quota_used_units",
				Help:      "Quota units used today, by provider",
			},
			[]string{"provider"},
		),

		QuotaDenials: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quota_denials_total",
				Help:      "Total number of calls denied by the quota tracker",
			},
			[]string{"provider", "reason"},
		),

		RateLimitHitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Total number of pre-emptive rate-limit skips",
			},
			[]string{"provider"},
		),

		RateLimitWaitSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rate_limit_wait_seconds",
				Help:      "Observed Retry-After wait durations",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"provider"},
		),

		TokenRefreshTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refresh_total",
				Help:      "Total number of OAuth refresh attempts, by outcome",
			},
			[]string{"provider", "outcome"},
		),

		TokenRefreshDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "token_refresh_duration_seconds",
				Help:      "OAuth token refresh round-trip duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5},
			},
		),

		ItemsIngestedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_ingested_total",
				Help:      "Total number of new canonical items created",
			},
			[]string{"provider"},
		),

		ItemsDuplicateTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_duplicate_total",
				Help:      "Total number of ingestion calls that resolved to an existing item",
			},
			[]string{"provider"},
		),

		IngestionErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingestion_errors_total",
				Help:      "Total number of per-item ingestion errors",
			},
			[]string{"provider"},
		),

		LockAcquireTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lock_acquire_total",
				Help:      "Total number of lock acquisition attempts, by outcome",
			},
			[]string{"key_prefix", "outcome"},
		),

		KVOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "kv_operations_total",
				Help:      "Total number of KV store operations",
			},
			[]string{"operation", "status"},
		),

		KVOperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "kv_operation_duration_seconds",
				Help:      "KV store operation duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
			},
			[]string{"operation"},
		),

		KVErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "kv_errors_total",
				Help:      "Total number of KV store errors",
			},
			[]string{"operation"},
		),
	}

	globalMetrics = m
	return m
}

// GetMetrics returns the global metrics instance.
func GetMetrics() *Metrics {
	if globalMetrics == nil {
		panic("metrics not initialized - call InitMetrics first")
	}
	return globalMetrics
}

// RecordCycle records the outcome and duration of a poll cycle.
func (m *Metrics) RecordCycle(outcome string, duration time.Duration) {
	m.CycleRunsTotal.WithLabelValues(outcome).Inc()
	m.CycleDuration.Observe(duration.Seconds())
}

// RecordAdapterOperation records provider adapter operation metrics.
func (m *Metrics) RecordAdapterOperation(provider, operation string, duration time.Duration, err error) {
	status := statusSuccess
	if err != nil {
		status = statusError
		m.AdapterErrorsTotal.WithLabelValues(provider, operation, "general").Inc()
	}
	m.AdapterOperationsTotal.WithLabelValues(provider, operation, status).Inc()
	m.AdapterOperationDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// RecordQuotaDenial records a call refused by the quota tracker.
func (m *Metrics) RecordQuotaDenial(provider, reason string) {
	m.QuotaDenials.WithLabelValues(provider, reason).Inc()
}

// SetQuotaUsed sets the current quota usage gauge for a provider.
func (m *Metrics) SetQuotaUsed(provider string, used int) {
	m.QuotaUsed.WithLabelValues(provider).Set(float64(used))
}

// RecordRateLimitHit records a pre-emptive rate-limit skip.
func (m *Metrics) RecordRateLimitHit(provider string, wait time.Duration) {
	m.RateLimitHitsTotal.WithLabelValues(provider).Inc()
	m.RateLimitWaitSeconds.WithLabelValues(provider).Observe(wait.Seconds())
}

// RecordTokenRefresh records an OAuth refresh attempt.
func (m *Metrics) RecordTokenRefresh(provider, outcome string, duration time.Duration) {
	m.TokenRefreshTotal.WithLabelValues(provider, outcome).Inc()
	m.TokenRefreshDuration.Observe(duration.Seconds())
}

// RecordIngestion records the outcome of a single ingestItem call.
func (m *Metrics) RecordIngestion(provider string, created bool, err error) {
	switch {
	case err != nil:
		m.IngestionErrorsTotal.WithLabelValues(provider).Inc()
	case created:
		m.ItemsIngestedTotal.WithLabelValues(provider).Inc()
	default:
		m.ItemsDuplicateTotal.WithLabelValues(provider).Inc()
	}
}

// RecordLockAttempt records a lock acquisition attempt.
func (m *Metrics) RecordLockAttempt(keyPrefix string, acquired bool) {
	outcome := "acquired"
	if !acquired {
		outcome = "denied"
	}
	m.LockAcquireTotal.WithLabelValues(keyPrefix, outcome).Inc()
}

// RecordKVOperation records a KV store operation.
func (m *Metrics) RecordKVOperation(operation string, duration time.Duration, err error) {
	status := statusSuccess
	if err != nil {
		status = statusError
		m.KVErrorsTotal.WithLabelValues(operation).Inc()
	}
	m.KVOperationsTotal.WithLabelValues(operation, status).Inc()
	m.KVOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
