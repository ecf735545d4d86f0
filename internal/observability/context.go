package observability

import (
	"context"

	"github.com/rs/zerolog"
)

// Context keys for observability data.
type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	syncRunIDKey     contextKey = "sync_run_id"
)

// WithCorrelationID adds a correlation ID to the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext retrieves the correlation ID from context.
// Returns empty string if not present.
func CorrelationIDFromContext(ctx context.Context) string {
	if v := ctx.Value(correlationIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithSyncRunID adds a sync run ID to the context.
func WithSyncRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, syncRunIDKey, runID)
}

// SyncRunIDFromContext retrieves the sync run ID from context.
// Returns empty string if not present.
func SyncRunIDFromContext(ctx context.Context) string {
	if v := ctx.Value(syncRunIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// LoggerFromContext decorates base with whatever observability fields ctx carries.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	lc := base.With()
	if id := CorrelationIDFromContext(ctx); id != "" {
		lc = lc.Str("correlation_id", id)
	}
	if id := SyncRunIDFromContext(ctx); id != "" {
		lc = lc.Str("sync_run_id", id)
	}
	return lc.Logger()
}
