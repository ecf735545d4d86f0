// Package acquisition downloads validated PDFs by trying source strategies
// (preprint server, publisher, archival scan, author-hosted copy) in
// priority order until one succeeds.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-sync-service/internal/domain"
	"github.com/helixir/paper-sync-service/internal/observability"
)

// RegistryConfig configures the registry defaults.
type RegistryConfig struct {
	// Priority is the default try order. Empty uses domain.AllSourceTypes.
	Priority []domain.SourceType

	// ProxyPrefix is the institutional proxy applied to proxied sources.
	ProxyPrefix string
}

// AcquireOptions are per-call overrides.
type AcquireOptions struct {
	// Preferred is tried first when set.
	Preferred domain.SourceType

	// Priority replaces the configured order when non-empty.
	Priority []domain.SourceType

	// ProxyPrefix replaces the configured proxy when non-empty.
	ProxyPrefix string

	// Progress receives download progress from whichever source is active.
	Progress chan<- Progress
}

// Result describes a successful acquisition.
type Result struct {
	Source    domain.SourceType `json:"source"`
	URL       string            `json:"url"`
	SizeBytes int64             `json:"size_bytes"`
	SHA256    string            `json:"sha256"`
	Path      string            `json:"path"`
}

// Registry holds one strategy per source type and orchestrates fallback.
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	strategies map[domain.SourceType]Strategy
	cfg        RegistryConfig
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

// NewRegistry creates a registry holding the given strategies.
func NewRegistry(strategies []Strategy, cfg RegistryConfig, logger zerolog.Logger, metrics *observability.Metrics) *Registry {
	if len(cfg.Priority) == 0 {
		cfg.Priority = domain.AllSourceTypes()
	}
	r := &Registry{
		strategies: make(map[domain.SourceType]Strategy, len(strategies)),
		cfg:        cfg,
		logger:     logger.With().Str("component", "acquisition").Logger(),
		metrics:    metrics,
	}
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

// Register adds s, replacing any strategy for the same source type.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.SourceType()] = s
}

// Get returns the strategy for t, or nil.
func (r *Registry) Get(t domain.SourceType) Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.strategies[t]
}

// Priority returns the configured default order.
func (r *Registry) Priority() []domain.SourceType {
	return append([]domain.SourceType(nil), r.cfg.Priority...)
}

// TryOrder returns preferred followed by priority, without duplicates.
func TryOrder(preferred domain.SourceType, priority []domain.SourceType) []domain.SourceType {
	order := make([]domain.SourceType, 0, len(priority)+1)
	seen := make(map[domain.SourceType]bool, len(priority)+1)
	add := func(t domain.SourceType) {
		if t == "" || seen[t] {
			return
		}
		seen[t] = true
		order = append(order, t)
	}
	add(preferred)
	for _, t := range priority {
		add(t)
	}
	return order
}

// Acquire downloads a validated PDF for p to dest, trying sources in order
// and returning at the first success. When every applicable source fails it
// returns *domain.AggregateSourceFailure listing each attempt.
func (r *Registry) Acquire(ctx context.Context, p *domain.Paper, dest string, opts AcquireOptions) (*Result, error) {
	priority := opts.Priority
	if len(priority) == 0 {
		priority = r.cfg.Priority
	}
	proxy := opts.ProxyPrefix
	if proxy == "" {
		proxy = r.cfg.ProxyPrefix
	}

	logger := observability.WithPaperContext(r.logger, p.ID.String(), p.CanonicalKey())
	failure := &domain.AggregateSourceFailure{}

	for _, t := range TryOrder(opts.Preferred, priority) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s := r.Get(t)
		if s == nil || !s.CanHandle(p) {
			continue
		}

		start := time.Now()
		res, src, err := r.attempt(ctx, s, p, dest, proxy, opts.Progress)
		if err != nil {
			r.metrics.RecordAcquisition(string(t), "failure", time.Since(start).Seconds(), 0)
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return nil, err
			}
			attempt := domain.SourceAttempt{Source: t, Err: err}
			if src != nil {
				attempt.URL = src.URL
			}
			failure.Attempts = append(failure.Attempts, attempt)
			logger.Debug().Err(err).Str("source", string(t)).Str("url", attempt.URL).Msg("source failed")
			continue
		}

		r.metrics.RecordAcquisition(string(t), "success", time.Since(start).Seconds(), res.SizeBytes)
		logger.Info().
			Str("source", string(t)).
			Str("url", res.URL).
			Int64("bytes", res.SizeBytes).
			Msg("pdf acquired")
		return res, nil
	}

	return nil, failure
}

func (r *Registry) attempt(ctx context.Context, s Strategy, p *domain.Paper, dest, proxy string, progress chan<- Progress) (*Result, *domain.DownloadSource, error) {
	src, err := s.ResolveURL(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	if src == nil || src.URL == "" {
		return nil, nil, fmt.Errorf("no download url: %w", domain.ErrNotFound)
	}

	fetchSrc := *src
	if fetchSrc.RequiresProxy {
		fetchSrc.URL = ApplyProxy(proxy, fetchSrc.URL)
	}

	fr, err := s.Fetch(ctx, &fetchSrc, dest, FetchOptions{Progress: progress})
	if err != nil {
		return nil, &fetchSrc, err
	}
	return &Result{
		Source:    s.SourceType(),
		URL:       fetchSrc.URL,
		SizeBytes: fr.SizeBytes,
		SHA256:    fr.SHA256,
		Path:      fr.Path,
	}, &fetchSrc, nil
}
