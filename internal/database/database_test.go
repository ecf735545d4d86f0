package database

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-sync-service/internal/config"
)

type mockDBTX struct{}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (m *mockDBTX) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

func (m *mockDBTX) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return nil
}

func TestDBTX_Interface(t *testing.T) {
	var _ DBTX = (*mockDBTX)(nil)
	var _ DBTX = (*DB)(nil)
}

func testDatabaseConfig() *config.DatabaseConfig {
	return &config.DatabaseConfig{
		Host:              "localhost",
		Port:              5432,
		User:              "papersync",
		Password:          "secret",
		Name:              "paper_sync",
		SSLMode:           config.SSLModeDisable,
		MaxConns:          8,
		MinConns:          1,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   10 * time.Minute,
		HealthCheckPeriod: 15 * time.Second,
		ConnectTimeout:    3 * time.Second,
	}
}

func TestPoolConfig(t *testing.T) {
	t.Run("applies pool settings", func(t *testing.T) {
		pc, err := PoolConfig(testDatabaseConfig())
		require.NoError(t, err)

		assert.Equal(t, int32(8), pc.MaxConns)
		assert.Equal(t, int32(1), pc.MinConns)
		assert.Equal(t, time.Hour, pc.MaxConnLifetime)
		assert.Equal(t, 10*time.Minute, pc.MaxConnIdleTime)
		assert.Equal(t, 15*time.Second, pc.HealthCheckPeriod)
		assert.Equal(t, 3*time.Second, pc.ConnConfig.ConnectTimeout)
		assert.Equal(t, "paper_sync", pc.ConnConfig.Database)
		assert.Equal(t, "papersync", pc.ConnConfig.User)
		assert.Equal(t, "secret", pc.ConnConfig.Password)
	})

	t.Run("zero values keep pgxpool defaults", func(t *testing.T) {
		cfg := testDatabaseConfig()
		cfg.MaxConns = 0
		cfg.MaxConnLifetime = 0

		pc, err := PoolConfig(cfg)
		require.NoError(t, err)
		assert.Positive(t, pc.MaxConns)
		assert.Positive(t, pc.MaxConnLifetime)
	})

	t.Run("rejects an unparseable DSN", func(t *testing.T) {
		cfg := testDatabaseConfig()
		cfg.SSLMode = "bogus"

		_, err := PoolConfig(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse database config")
	})
}

func TestHealthStatus_JSON(t *testing.T) {
	h := HealthStatus{Status: "unhealthy", Error: "ping failed", TotalConns: 3, MaxConns: 8}

	data, err := json.Marshal(h)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "unhealthy", decoded["status"])
	assert.Equal(t, "ping failed", decoded["error"])
	assert.EqualValues(t, 3, decoded["total_conns"])
	assert.EqualValues(t, 8, decoded["max_conns"])

	data, err = json.Marshal(HealthStatus{Status: "healthy"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"error"`)
}

func TestNew_Unreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping network test in short mode")
	}

	cfg := testDatabaseConfig()
	// 192.0.2.1 is TEST-NET-1 (RFC 5737), guaranteed unroutable.
	cfg.Host = "192.0.2.1"
	cfg.ConnectTimeout = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	db, err := New(ctx, cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Nil(t, db)
}

func TestNewMigrator_Validation(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("fails with nil database", func(t *testing.T) {
		m, err := NewMigrator(nil, "", logger)
		require.Error(t, err)
		assert.Nil(t, m)
		assert.Contains(t, err.Error(), "database is required")
	})

	t.Run("fails with nil pool", func(t *testing.T) {
		m, err := NewMigrator(&DB{}, "", logger)
		require.Error(t, err)
		assert.Nil(t, m)
		assert.Contains(t, err.Error(), "database pool not initialized")
	})
}
