// Package config provides configuration management for the paper sync service.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/helixir/paper-sync-service/internal/acquisition"
	"github.com/helixir/paper-sync-service/internal/cache"
	"github.com/helixir/paper-sync-service/internal/domain"
	"github.com/helixir/paper-sync-service/internal/librarysync"
	"github.com/helixir/paper-sync-service/internal/resolver"
)

// EnvPrefix prefixes every environment variable the service reads.
const EnvPrefix = "PAPERSYNC"

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Config holds all configuration for the paper sync service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Kafka contains the sync event publisher and request consumer settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// PaperSources contains the bibliographic API configurations.
	PaperSources PaperSourcesConfig `mapstructure:"paper_sources"`
	// Resolver contains the identity resolver thresholds.
	Resolver resolver.Config `mapstructure:"resolver"`
	// Acquisition contains PDF fetch and source ordering settings.
	Acquisition AcquisitionConfig `mapstructure:"acquisition"`
	// Cache bounds the in-memory preview cache.
	Cache cache.Config `mapstructure:"cache"`
	// Sync contains the batch synchronizer settings.
	Sync SyncConfig `mapstructure:"sync"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 20).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 2).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is a directory of migration files. Empty uses the embedded set.
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
	// StatementCacheCapacity is the size of the prepared statement cache.
	StatementCacheCapacity int `mapstructure:"statement_cache_capacity"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
	// Namespace prefixes every series name.
	Namespace string `mapstructure:"namespace"`
}

// KafkaConfig holds Kafka settings for sync events.
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	RequestTopic string        `mapstructure:"request_topic"`
	GroupID      string        `mapstructure:"group_id"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// PaperSourcesConfig holds the remote bibliographic services.
type PaperSourcesConfig struct {
	// ADS is the primary search, export and link source.
	ADS PaperSourceConfig `mapstructure:"ads"`
	// SemanticScholar locates open-access copies for the author-hosted strategy.
	SemanticScholar PaperSourceConfig `mapstructure:"semantic_scholar"`
}

// PaperSourceConfig configures one remote service.
type PaperSourceConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// APIKey is read from the environment only.
	APIKey  string        `mapstructure:"-"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is requests per second. Zero disables client-side limiting.
	RateLimit  float64       `mapstructure:"rate_limit"`
	Burst      int           `mapstructure:"burst"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// LinkRows caps references or citations fetched per paper.
	LinkRows int `mapstructure:"link_rows"`
}

// AcquisitionConfig holds PDF acquisition settings.
type AcquisitionConfig struct {
	Fetcher   acquisition.FetcherConfig `mapstructure:"fetcher"`
	Endpoints acquisition.Endpoints     `mapstructure:"endpoints"`
	// Priority is the default source order, e.g. [PREPRINT, PUBLISHER].
	Priority []string `mapstructure:"priority"`
	// ProxyPrefix is an institutional proxy applied to publisher links.
	ProxyPrefix string `mapstructure:"proxy_prefix"`
}

// SyncConfig holds synchronizer and run-tracking settings.
type SyncConfig struct {
	librarysync.Config `mapstructure:",squash"`

	// RunHistory is the number of finished runs kept in memory.
	RunHistory int `mapstructure:"run_history"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	if c.StatementCacheCapacity > 0 {
		params.Set("statement_cache_capacity", fmt.Sprintf("%d", c.StatementCacheCapacity))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP listen address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics listen address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// SourcePriority parses the configured acquisition order.
// An empty list yields nil, which means the registry default.
func (c *AcquisitionConfig) SourcePriority() ([]domain.SourceType, error) {
	if len(c.Priority) == 0 {
		return nil, nil
	}
	return domain.ParseSourceTypes(c.Priority)
}

// Load reads configuration from a .env file, an optional config.yaml and
// PAPERSYNC_* environment variables, in increasing precedence.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file path. An empty path searches
// the default locations.
func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/paper-sync-service")
	}

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	priority, err := cfg.Acquisition.SourcePriority()
	if err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	cfg.Sync.SourcePriority = priority
	if cfg.Sync.ProxyPrefix == "" {
		cfg.Sync.ProxyPrefix = cfg.Acquisition.ProxyPrefix
	}
	cfg.Cache.Endpoints = cfg.Acquisition.Endpoints

	return &cfg, nil
}

func loadSecrets(cfg *Config) {
	cfg.PaperSources.ADS.APIKey = os.Getenv(EnvPrefix + "_PAPER_SOURCES_ADS_API_KEY")
	cfg.PaperSources.SemanticScholar.APIKey = os.Getenv(EnvPrefix + "_PAPER_SOURCES_SEMANTIC_SCHOLAR_API_KEY")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "papersync")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "paper_sync")
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "")
	v.SetDefault("database.migration_auto_run", false)
	v.SetDefault("database.statement_cache_capacity", 512)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "papersync")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "events.paper_sync.completed")
	v.SetDefault("kafka.request_topic", "events.paper_sync.requested")
	v.SetDefault("kafka.group_id", "paper-sync-worker")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")

	v.SetDefault("paper_sources.ads.enabled", true)
	v.SetDefault("paper_sources.ads.base_url", "https://api.adsabs.harvard.edu/v1")
	v.SetDefault("paper_sources.ads.timeout", "30s")
	v.SetDefault("paper_sources.ads.rate_limit", 5.0)
	v.SetDefault("paper_sources.ads.burst", 5)
	v.SetDefault("paper_sources.ads.max_retries", 3)
	v.SetDefault("paper_sources.ads.retry_delay", "1s")
	v.SetDefault("paper_sources.ads.link_rows", 200)

	v.SetDefault("paper_sources.semantic_scholar.enabled", true)
	v.SetDefault("paper_sources.semantic_scholar.base_url", "https://api.semanticscholar.org/graph/v1")
	v.SetDefault("paper_sources.semantic_scholar.timeout", "30s")
	v.SetDefault("paper_sources.semantic_scholar.rate_limit", 1.0)
	v.SetDefault("paper_sources.semantic_scholar.burst", 1)
	v.SetDefault("paper_sources.semantic_scholar.max_retries", 3)
	v.SetDefault("paper_sources.semantic_scholar.retry_delay", "1s")
	v.SetDefault("paper_sources.semantic_scholar.link_rows", 0)

	th := resolver.DefaultThresholds()
	v.SetDefault("resolver.thresholds.exact_title", th.ExactTitle)
	v.SetDefault("resolver.thresholds.keywords_author_year", th.KeywordsAuthorYear)
	v.SetDefault("resolver.thresholds.author_year_distinctive", th.AuthorYearDistinctive)
	v.SetDefault("resolver.thresholds.author_year", th.AuthorYear)
	v.SetDefault("resolver.thresholds.keywords_only", th.KeywordsOnly)
	v.SetDefault("resolver.thresholds.author_year_floor", th.AuthorYearFloor)
	v.SetDefault("resolver.enable_keywords_only", true)
	v.SetDefault("resolver.rows", resolver.DefaultRows)

	v.SetDefault("acquisition.fetcher.user_agent", acquisition.DefaultUserAgent)
	v.SetDefault("acquisition.fetcher.timeout", acquisition.DefaultTimeout.String())
	v.SetDefault("acquisition.fetcher.max_redirects", acquisition.DefaultMaxRedirects)
	v.SetDefault("acquisition.fetcher.min_bytes", acquisition.DefaultMinBytes)
	v.SetDefault("acquisition.fetcher.max_bytes", acquisition.DefaultMaxBytes)
	v.SetDefault("acquisition.fetcher.strict_validation", false)
	ep := acquisition.DefaultEndpoints()
	v.SetDefault("acquisition.endpoints.preprint", ep.Preprint)
	v.SetDefault("acquisition.endpoints.doi_resolver", ep.DOIResolver)
	v.SetDefault("acquisition.endpoints.archive_scan", ep.ArchiveScan)
	v.SetDefault("acquisition.priority", []string{"PREPRINT", "PUBLISHER", "ARCHIVE_SCAN", "AUTHOR_HOSTED"})
	v.SetDefault("acquisition.proxy_prefix", "")

	v.SetDefault("cache.max_bytes", cache.DefaultMaxBytes)
	v.SetDefault("cache.max_entries", cache.DefaultMaxEntries)

	sc := librarysync.DefaultConfig()
	v.SetDefault("sync.batch_size", sc.BatchSize)
	v.SetDefault("sync.concurrency", sc.Concurrency)
	v.SetDefault("sync.window_pause", sc.WindowPause.String())
	v.SetDefault("sync.inter_paper_delay", sc.InterPaperDelay.String())
	v.SetDefault("sync.max_retries", sc.MaxRetries)
	v.SetDefault("sync.backoff_unit", sc.BackoffUnit.String())
	v.SetDefault("sync.download_pdfs", sc.DownloadPDFs)
	v.SetDefault("sync.pdf_dir", sc.PDFDir)
	v.SetDefault("sync.proxy_prefix", "")
	v.SetDefault("sync.resolve_unidentified", sc.ResolveUnidentified)
	v.SetDefault("sync.run_history", librarysync.DefaultRunHistory)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}
	switch c.Database.SSLMode {
	case SSLModeDisable, SSLModeRequire, SSLModeVerifyCA, SSLModeVerifyFull:
	default:
		return fmt.Errorf("invalid database ssl_mode: %s", c.Database.SSLMode)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic is required when kafka is enabled")
		}
	}

	if c.PaperSources.ADS.Enabled && c.PaperSources.ADS.APIKey == "" {
		return fmt.Errorf("paper source ads requires %s_PAPER_SOURCES_ADS_API_KEY to be set", EnvPrefix)
	}
	if err := validateSource("ads", c.PaperSources.ADS); err != nil {
		return err
	}
	if err := validateSource("semantic_scholar", c.PaperSources.SemanticScholar); err != nil {
		return err
	}

	if err := validateThresholds(c.Resolver.Thresholds); err != nil {
		return err
	}

	if _, err := c.Acquisition.SourcePriority(); err != nil {
		return fmt.Errorf("invalid acquisition priority: %w", err)
	}
	if c.Acquisition.ProxyPrefix != "" {
		if u, err := url.Parse(c.Acquisition.ProxyPrefix); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid acquisition proxy_prefix: %q", c.Acquisition.ProxyPrefix)
		}
	}

	if c.Cache.MaxBytes <= 0 {
		return fmt.Errorf("cache max_bytes must be positive")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache max_entries must be positive")
	}

	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync batch_size must be positive")
	}
	if c.Sync.Concurrency <= 0 {
		return fmt.Errorf("sync concurrency must be positive")
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync max_retries must not be negative")
	}
	if c.Sync.DownloadPDFs && c.Sync.PDFDir == "" {
		return fmt.Errorf("sync pdf_dir is required when download_pdfs is enabled")
	}

	return nil
}

func validateSource(name string, s PaperSourceConfig) error {
	if !s.Enabled {
		return nil
	}
	if s.BaseURL == "" {
		return fmt.Errorf("paper source %s: base_url is required", name)
	}
	if s.RateLimit < 0 {
		return fmt.Errorf("paper source %s: rate_limit must not be negative", name)
	}
	return nil
}

func validateThresholds(t resolver.Thresholds) error {
	values := map[string]float64{
		"exact_title":             t.ExactTitle,
		"keywords_author_year":    t.KeywordsAuthorYear,
		"author_year_distinctive": t.AuthorYearDistinctive,
		"author_year":             t.AuthorYear,
		"keywords_only":           t.KeywordsOnly,
		"author_year_floor":       t.AuthorYearFloor,
	}
	for name, v := range values {
		if v < 0 || v > 1 {
			return fmt.Errorf("resolver threshold %s must be between 0 and 1, got %v", name, v)
		}
	}
	return nil
}
