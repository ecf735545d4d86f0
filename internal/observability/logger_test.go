package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLoggingConfig(t *testing.T) {
	cfg := DefaultLoggingConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "stdout", cfg.Output)
	assert.False(t, cfg.AddSource)
}

func TestNewLogger(t *testing.T) {
	t.Run("creates logger with default config", func(t *testing.T) {
		logger := NewLogger(DefaultLoggingConfig())
		assert.NotEqual(t, zerolog.Logger{}, logger)
	})

	t.Run("creates logger with console format on stderr", func(t *testing.T) {
		logger := NewLogger(LoggingConfig{Level: "info", Format: "console", Output: "stderr"})
		assert.NotEqual(t, zerolog.Logger{}, logger)
	})
}

func TestNewLoggerWithWriter(t *testing.T) {
	prev := zerolog.GlobalLevel()
	defer zerolog.SetGlobalLevel(prev)

	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info().Msg("dropped")
	assert.Zero(t, buf.Len(), "info must be filtered at warn level")

	logger.Warn().Str("component", "cache").Msg("kept")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "cache", entry["component"])
	assert.Equal(t, "warn", entry["level"])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"WARNING", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"panic", zerolog.PanicLevel},
		{"unknown", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.input))
		})
	}
}

func TestWithSyncContext(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	scoped := WithSyncContext(logger, "run-1", 120)
	scoped.Info().Msg("sync started")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "run-1", entry["sync_run_id"])
	assert.Equal(t, float64(120), entry["total_papers"])
}

func TestWithPaperContext(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	scoped := WithPaperContext(logger, "paper-123", "doi:10.1234/abc")
	scoped.Info().Msg("paper processed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "paper-123", entry["paper_id"])
	assert.Equal(t, "doi:10.1234/abc", entry["canonical_key"])
}

func TestWithSourceContext(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	scoped := WithSourceContext(logger, "PREPRINT", "https://arxiv.org/pdf/1905.01234")
	scoped.Info().Msg("fetching")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "PREPRINT", entry["source"])
	assert.Equal(t, "https://arxiv.org/pdf/1905.01234", entry["url"])
}
