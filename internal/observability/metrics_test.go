package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Note: prometheus/promauto registers metrics globally, so we need to use
// unique namespaces per test to avoid registration conflicts.

func TestNewMetrics(t *testing.T) {
	m := NewMetrics("test_papersync_new")

	assert.NotNil(t, m.ResolverAttempts)
	assert.NotNil(t, m.ResolverMatches)
	assert.NotNil(t, m.AcquisitionAttempts)
	assert.NotNil(t, m.AcquisitionBytes)
	assert.NotNil(t, m.CacheHits)
	assert.NotNil(t, m.CacheSizeBytes)
	assert.NotNil(t, m.SyncPapers)
	assert.NotNil(t, m.SyncBatchRetries)
	assert.NotNil(t, m.SourceRequestsTotal)
	assert.NotNil(t, m.SourceRateLimited)
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordResolverAttempt("exact_title")
		m.RecordAcquisition("PREPRINT", "success", 1, 10)
		m.RecordCacheHit()
		m.SetCacheUsage(1, 1)
		m.RecordSyncOutcome("updated")
		m.RecordSourceRequest("ads", "search", 0.1)
	})
}

func TestRecordResolver(t *testing.T) {
	m := NewMetrics("test_resolver")

	m.RecordResolverAttempt("exact_title")
	m.RecordResolverAttempt("exact_title")
	m.RecordResolverMatch("exact_title")
	m.RecordResolverSearchError("author_year")
	m.RecordResolverNoMatch()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ResolverAttempts.WithLabelValues("exact_title")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ResolverMatches.WithLabelValues("exact_title")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ResolverSearchErrors.WithLabelValues("author_year")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ResolverNoMatch))
}

func TestRecordAcquisition(t *testing.T) {
	m := NewMetrics("test_acquisition")

	m.RecordAcquisition("PREPRINT", "success", 1.5, 2048)
	m.RecordAcquisition("PUBLISHER", "auth_required", 0.3, 900)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.AcquisitionAttempts.WithLabelValues("PREPRINT", "success")))
	assert.Equal(t, float64(2048), testutil.ToFloat64(m.AcquisitionBytes.WithLabelValues("PREPRINT")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.AcquisitionBytes.WithLabelValues("PUBLISHER")),
		"bytes are only counted for successful attempts")
}

func TestRecordCache(t *testing.T) {
	m := NewMetrics("test_cache")

	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordCacheMiss()
	m.RecordCacheEviction()
	m.SetCacheUsage(4096, 3)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.CacheMisses))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheEvictions))
	assert.Equal(t, float64(4096), testutil.ToFloat64(m.CacheSizeBytes))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.CacheEntries))
}

func TestRecordSync(t *testing.T) {
	m := NewMetrics("test_sync")

	m.RecordSyncStarted()
	m.RecordSyncOutcome("updated")
	m.RecordSyncOutcome("updated")
	m.RecordSyncOutcome("skipped")
	m.RecordSyncBatchRetry()
	m.RecordSyncExportFallback()
	m.RecordSyncFinished(12.5)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.SyncRunsStarted))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.SyncPapers.WithLabelValues("updated")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SyncPapers.WithLabelValues("skipped")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SyncBatchRetries))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SyncExportFallbacks))

	count, err := getHistogramSampleCount(m.SyncRunDuration)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestRecordSourceRequests(t *testing.T) {
	m := NewMetrics("test_source_requests")

	m.RecordSourceRequest("ads", "search", 0.2)
	m.RecordSourceRequestFailed("ads", "search", "server_error")
	m.RecordSourceRateLimited("ads")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.SourceRequestsTotal.WithLabelValues("ads", "search")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SourceRequestsFailed.WithLabelValues("ads", "search", "server_error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SourceRateLimited.WithLabelValues("ads")))
}

// Helper to get histogram sample count
func getHistogramSampleCount(h prometheus.Histogram) (uint64, error) {
	ch := make(chan prometheus.Metric, 1)
	h.Collect(ch)
	close(ch)

	var m prometheus.Metric
	for m = range ch {
		break
	}

	var metric = &dto.Metric{}
	if err := m.Write(metric); err != nil {
		return 0, err
	}

	return metric.Histogram.GetSampleCount(), nil
}
