// Package observability provides logging and metrics support for the paper
// sync service.
//
// # Logging
//
// Create a logger from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//	logger = logger.With().Str("component", "sync").Logger()
//
// Request-scoped fields travel on the context:
//
//	ctx = observability.WithCorrelationID(ctx, id)
//	log := observability.LoggerFromContext(ctx, logger)
//
// # Metrics
//
// A Metrics value is created once per process and passed to every component:
//
//	metrics := observability.NewMetrics("papersync")
//	metrics.RecordAcquisition("PREPRINT", "success", 1.2, 524288)
//	metrics.RecordSyncOutcome("updated")
//
// Components accept a nil *Metrics; every Record method is nil-safe.
//
// # Standard Fields
//
//   - component: subsystem name (resolver, acquisition, cache, sync, ads)
//   - sync_run_id: batch synchronization run
//   - paper_id: local paper UUID
//   - canonical_key: bibcode/doi/arxiv key
//   - source: acquisition source type or remote API name
//   - correlation_id: HTTP request correlation id
package observability
