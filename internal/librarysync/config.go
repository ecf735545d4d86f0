package librarysync

import (
	"context"
	"time"

	"github.com/helixir/paper-sync-service/internal/domain"
)

// Config controls batching, pacing and what enrichment runs.
type Config struct {
	// BatchSize is the number of canonical ids per bulk lookup.
	BatchSize int `mapstructure:"batch_size"`

	// Concurrency is the number of enrichment tasks in flight per window.
	Concurrency int `mapstructure:"concurrency"`

	// WindowPause separates consecutive enrichment windows.
	WindowPause time.Duration `mapstructure:"window_pause"`

	// InterPaperDelay separates individual lookups.
	InterPaperDelay time.Duration `mapstructure:"inter_paper_delay"`

	// MaxRetries bounds retries of a lookup that failed with a 5xx.
	MaxRetries int `mapstructure:"max_retries"`

	// BackoffUnit is multiplied by the attempt number between retries.
	BackoffUnit time.Duration `mapstructure:"backoff_unit"`

	// DownloadPDFs acquires a PDF for papers that have none.
	DownloadPDFs bool `mapstructure:"download_pdfs"`

	// PDFDir is where acquired PDFs are written.
	PDFDir string `mapstructure:"pdf_dir"`

	// SourcePriority overrides the registry's default order.
	SourcePriority []domain.SourceType `mapstructure:"-"`

	// ProxyPrefix is the institutional proxy for publisher downloads.
	ProxyPrefix string `mapstructure:"proxy_prefix"`

	// ResolveUnidentified routes papers without any identifier through
	// the identity resolver instead of skipping them.
	ResolveUnidentified bool `mapstructure:"resolve_unidentified"`
}

// DefaultConfig returns the default synchronizer configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:       50,
		Concurrency:     10,
		WindowPause:     50 * time.Millisecond,
		InterPaperDelay: 200 * time.Millisecond,
		MaxRetries:      3,
		BackoffUnit:     2 * time.Second,
		DownloadPDFs:    true,
		PDFDir:          "pdfs",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffUnit <= 0 {
		c.BackoffUnit = d.BackoffUnit
	}
	if c.PDFDir == "" {
		c.PDFDir = d.PDFDir
	}
	return c
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithSleep replaces the delay used for backoff and pacing.
func WithSleep(fn SleepFunc) Option {
	return func(s *Synchronizer) { s.sleep = fn }
}

// WithResolver enables resolution of unidentified papers.
func WithResolver(r Resolver) Option {
	return func(s *Synchronizer) { s.resolver = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
