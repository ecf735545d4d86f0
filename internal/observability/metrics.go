package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the paper sync service.
// Metrics are organized by subsystem: resolver, acquisition, cache, sync and
// sources. All collectors are registered via promauto with the default registry.
//
// A nil *Metrics is valid; every Record method is a no-op on nil.
type Metrics struct {
	// ResolverAttempts counts searches issued by the identity resolver, labeled by strategy.
	ResolverAttempts *prometheus.CounterVec

	// ResolverMatches counts accepted matches, labeled by strategy.
	ResolverMatches *prometheus.CounterVec

	// ResolverSearchErrors counts failed resolver searches, labeled by strategy.
	ResolverSearchErrors *prometheus.CounterVec

	// ResolverNoMatch counts resolutions that exhausted every strategy.
	ResolverNoMatch prometheus.Counter

	// AcquisitionAttempts counts PDF fetch attempts, labeled by source type and result.
	AcquisitionAttempts *prometheus.CounterVec

	// AcquisitionDuration observes PDF fetch duration in seconds, labeled by source type.
	AcquisitionDuration *prometheus.HistogramVec

	// AcquisitionBytes counts validated PDF bytes downloaded, labeled by source type.
	AcquisitionBytes *prometheus.CounterVec

	// CacheHits counts ephemeral cache hits.
	CacheHits prometheus.Counter

	// CacheMisses counts ephemeral cache misses.
	CacheMisses prometheus.Counter

	// CacheEvictions counts entries evicted to make room.
	CacheEvictions prometheus.Counter

	// CacheSizeBytes reports the current total size of cached entries.
	CacheSizeBytes prometheus.Gauge

	// CacheEntries reports the current number of cached entries.
	CacheEntries prometheus.Gauge

	// SyncRunsStarted counts batch synchronization runs started.
	SyncRunsStarted prometheus.Counter

	// SyncRunDuration observes end-to-end sync run duration in seconds.
	SyncRunDuration prometheus.Histogram

	// SyncPapers counts papers by terminal outcome (updated, skipped, failed).
	SyncPapers *prometheus.CounterVec

	// SyncBatchRetries counts bulk lookup retries after server errors.
	SyncBatchRetries prometheus.Counter

	// SyncExportFallbacks counts papers whose citation export could not be matched.
	SyncExportFallbacks prometheus.Counter

	// SourceRequestsTotal counts HTTP requests to bibliographic APIs, labeled by source and endpoint.
	SourceRequestsTotal *prometheus.CounterVec

	// SourceRequestsFailed counts failed HTTP requests, labeled by source, endpoint, and error type.
	SourceRequestsFailed *prometheus.CounterVec

	// SourceRequestDuration observes HTTP request duration to bibliographic APIs in seconds.
	SourceRequestDuration *prometheus.HistogramVec

	// SourceRateLimited counts rate-limited responses, labeled by source.
	SourceRateLimited *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Resolver
		ResolverAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "attempts_total",
			Help:      "Total number of resolver searches by strategy",
		}, []string{"strategy"}),
		ResolverMatches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "matches_total",
			Help:      "Total number of accepted matches by strategy",
		}, []string{"strategy"}),
		ResolverSearchErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "search_errors_total",
			Help:      "Total number of failed resolver searches by strategy",
		}, []string{"strategy"}),
		ResolverNoMatch: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "no_match_total",
			Help:      "Total number of resolutions that found no acceptable candidate",
		}),

		// Acquisition
		AcquisitionAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acquisition",
			Name:      "attempts_total",
			Help:      "Total number of PDF acquisition attempts by source and result",
		}, []string{"source", "result"}),
		AcquisitionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "acquisition",
			Name:      "duration_seconds",
			Help:      "Duration of PDF acquisition attempts in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"source"}),
		AcquisitionBytes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acquisition",
			Name:      "bytes_total",
			Help:      "Total validated PDF bytes downloaded by source",
		}, []string{"source"}),

		// Cache
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of ephemeral cache hits",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of ephemeral cache misses",
		}),
		CacheEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total number of ephemeral cache evictions",
		}),
		CacheSizeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "size_bytes",
			Help:      "Current total size of ephemeral cache entries",
		}),
		CacheEntries: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Current number of ephemeral cache entries",
		}),

		// Sync
		SyncRunsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "runs_started_total",
			Help:      "Total number of batch sync runs started",
		}),
		SyncRunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "run_duration_seconds",
			Help:      "Duration of batch sync runs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),
		SyncPapers: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "papers_total",
			Help:      "Total number of synced papers by outcome",
		}, []string{"outcome"}),
		SyncBatchRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "batch_retries_total",
			Help:      "Total number of bulk lookup retries after server errors",
		}),
		SyncExportFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "export_fallbacks_total",
			Help:      "Total number of papers that kept their stored citation export",
		}),

		// Sources
		SourceRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Total number of requests to bibliographic APIs",
		}, []string{"source", "endpoint"}),
		SourceRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_failed_total",
			Help:      "Total number of failed requests to bibliographic APIs",
		}, []string{"source", "endpoint", "error_type"}),
		SourceRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "Duration of requests to bibliographic APIs in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source", "endpoint"}),
		SourceRateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rate_limited_total",
			Help:      "Total number of rate-limited responses from bibliographic APIs",
		}, []string{"source"}),
	}
}

// RecordResolverAttempt records a search issued by a resolver strategy.
func (m *Metrics) RecordResolverAttempt(strategy string) {
	if m == nil {
		return
	}
	m.ResolverAttempts.WithLabelValues(strategy).Inc()
}

// RecordResolverMatch records an accepted match.
func (m *Metrics) RecordResolverMatch(strategy string) {
	if m == nil {
		return
	}
	m.ResolverMatches.WithLabelValues(strategy).Inc()
}

// RecordResolverSearchError records a failed resolver search.
func (m *Metrics) RecordResolverSearchError(strategy string) {
	if m == nil {
		return
	}
	m.ResolverSearchErrors.WithLabelValues(strategy).Inc()
}

// RecordResolverNoMatch records a resolution that found nothing.
func (m *Metrics) RecordResolverNoMatch() {
	if m == nil {
		return
	}
	m.ResolverNoMatch.Inc()
}

// RecordAcquisition records one acquisition attempt. bytes is only counted on success.
func (m *Metrics) RecordAcquisition(source, result string, durationSeconds float64, bytes int64) {
	if m == nil {
		return
	}
	m.AcquisitionAttempts.WithLabelValues(source, result).Inc()
	m.AcquisitionDuration.WithLabelValues(source).Observe(durationSeconds)
	if result == "success" && bytes > 0 {
		m.AcquisitionBytes.WithLabelValues(source).Add(float64(bytes))
	}
}

// RecordCacheHit records an ephemeral cache hit.
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.CacheHits.Inc()
}

// RecordCacheMiss records an ephemeral cache miss.
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMisses.Inc()
}

// RecordCacheEviction records one evicted entry.
func (m *Metrics) RecordCacheEviction() {
	if m == nil {
		return
	}
	m.CacheEvictions.Inc()
}

// SetCacheUsage reports the cache's current size and entry count.
func (m *Metrics) SetCacheUsage(sizeBytes int64, entries int) {
	if m == nil {
		return
	}
	m.CacheSizeBytes.Set(float64(sizeBytes))
	m.CacheEntries.Set(float64(entries))
}

// RecordSyncStarted records that a sync run has started.
func (m *Metrics) RecordSyncStarted() {
	if m == nil {
		return
	}
	m.SyncRunsStarted.Inc()
}

// RecordSyncFinished records the duration of a finished sync run.
func (m *Metrics) RecordSyncFinished(durationSeconds float64) {
	if m == nil {
		return
	}
	m.SyncRunDuration.Observe(durationSeconds)
}

// RecordSyncOutcome records one paper's terminal outcome.
func (m *Metrics) RecordSyncOutcome(outcome string) {
	if m == nil {
		return
	}
	m.SyncPapers.WithLabelValues(outcome).Inc()
}

// RecordSyncBatchRetry records a bulk lookup retry.
func (m *Metrics) RecordSyncBatchRetry() {
	if m == nil {
		return
	}
	m.SyncBatchRetries.Inc()
}

// RecordSyncExportFallback records a paper whose export could not be re-split.
func (m *Metrics) RecordSyncExportFallback() {
	if m == nil {
		return
	}
	m.SyncExportFallbacks.Inc()
}

// RecordSourceRequest records a request to a bibliographic API.
func (m *Metrics) RecordSourceRequest(source, endpoint string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SourceRequestsTotal.WithLabelValues(source, endpoint).Inc()
	m.SourceRequestDuration.WithLabelValues(source, endpoint).Observe(durationSeconds)
}

// RecordSourceRequestFailed records a failed request to a bibliographic API.
func (m *Metrics) RecordSourceRequestFailed(source, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.SourceRequestsFailed.WithLabelValues(source, endpoint, errorType).Inc()
}

// RecordSourceRateLimited records a rate limit response from a source.
func (m *Metrics) RecordSourceRateLimited(source string) {
	if m == nil {
		return
	}
	m.SourceRateLimited.WithLabelValues(source).Inc()
}
