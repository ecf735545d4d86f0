// Package app assembles the service components from configuration. The
// server, worker and command-line binaries share it so that every entry
// point talks to the same remote services with the same limits.
package app

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-sync-service/internal/acquisition"
	"github.com/helixir/paper-sync-service/internal/cache"
	"github.com/helixir/paper-sync-service/internal/config"
	"github.com/helixir/paper-sync-service/internal/events"
	"github.com/helixir/paper-sync-service/internal/librarysync"
	"github.com/helixir/paper-sync-service/internal/observability"
	"github.com/helixir/paper-sync-service/internal/papersources"
	"github.com/helixir/paper-sync-service/internal/papersources/ads"
	"github.com/helixir/paper-sync-service/internal/papersources/semanticscholar"
	"github.com/helixir/paper-sync-service/internal/resolver"
)

// Components are the stateless collaborators every binary needs.
type Components struct {
	Sources     *papersources.Registry
	ADS         *ads.Client
	Fetcher     *acquisition.Fetcher
	Acquisition *acquisition.Registry
	Cache       *cache.Cache
	Resolver    *resolver.Resolver
}

// Build creates the remote clients, the acquisition registry, the preview
// cache and the resolver. metrics may be nil.
func Build(cfg *config.Config, logger zerolog.Logger, metrics *observability.Metrics) (*Components, error) {
	sources := papersources.NewRegistry()
	adsClient, locator := registerPaperSources(sources, cfg, logger, metrics)

	fetcher := acquisition.NewFetcher(cfg.Acquisition.Fetcher, logger)

	deps := acquisition.Deps{
		Fetcher:   fetcher,
		Endpoints: cfg.Acquisition.Endpoints,
		Linker:    adsClient,
	}
	// A nil *semanticscholar.Client must not become a non-nil interface.
	if locator != nil {
		deps.Locator = locator
	}
	strategies, err := acquisition.DefaultStrategies(deps)
	if err != nil {
		return nil, fmt.Errorf("build acquisition strategies: %w", err)
	}

	priority, err := cfg.Acquisition.SourcePriority()
	if err != nil {
		return nil, fmt.Errorf("parse acquisition priority: %w", err)
	}
	registry := acquisition.NewRegistry(strategies, acquisition.RegistryConfig{
		Priority:    priority,
		ProxyPrefix: cfg.Acquisition.ProxyPrefix,
	}, logger, metrics)

	cacheCfg := cfg.Cache
	cacheCfg.Endpoints = cfg.Acquisition.Endpoints
	previews, err := cache.New(cacheCfg, fetcher, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("create preview cache: %w", err)
	}

	return &Components{
		Sources:     sources,
		ADS:         adsClient,
		Fetcher:     fetcher,
		Acquisition: registry,
		Cache:       previews,
		Resolver:    resolver.New(adsClient, cfg.Resolver, logger, metrics),
	}, nil
}

// Synchronizer builds a synchronizer that commits through store.
func (c *Components) Synchronizer(cfg *config.Config, store librarysync.Store, logger zerolog.Logger, metrics *observability.Metrics) *librarysync.Synchronizer {
	return librarysync.New(c.ADS, c.Acquisition, store, cfg.Sync.Config, logger, metrics,
		librarysync.WithResolver(c.Resolver))
}

// NewPublisher returns a Kafka publisher when Kafka is enabled and a no-op
// publisher otherwise.
func NewPublisher(cfg *config.Config, logger zerolog.Logger) events.Publisher {
	if !cfg.Kafka.Enabled {
		return events.NopPublisher{}
	}
	logger.Info().
		Strs("brokers", cfg.Kafka.Brokers).
		Str("topic", cfg.Kafka.Topic).
		Msg("kafka event publisher enabled")
	return events.NewKafkaPublisher(events.PublisherConfig{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        cfg.Kafka.Topic,
		BatchSize:    cfg.Kafka.BatchSize,
		BatchTimeout: cfg.Kafka.BatchTimeout,
	}, logger)
}

// registerPaperSources creates the bibliographic clients, each with its own
// rate limiter, and registers the enabled ones. The ADS client is always
// returned because search, export and link lookups have no alternative; the
// open-access locator is nil when Semantic Scholar is disabled.
func registerPaperSources(registry *papersources.Registry, cfg *config.Config, logger zerolog.Logger, metrics *observability.Metrics) (*ads.Client, *semanticscholar.Client) {
	adsCfg := cfg.PaperSources.ADS
	adsClient := ads.NewClient(ads.Config{
		BaseURL:  adsCfg.BaseURL,
		APIKey:   adsCfg.APIKey,
		Timeout:  adsCfg.Timeout,
		LinkRows: adsCfg.LinkRows,
		Enabled:  adsCfg.Enabled,
	}, newHTTPClient("ads", adsCfg, "Authorization", "Bearer ", metrics))
	registry.Register(adsClient)
	if adsCfg.APIKey == "" {
		logger.Warn().Msg("ADS API key is not set; requests will be rejected")
	}
	logger.Info().Bool("enabled", adsCfg.Enabled).Msg("registered paper source: ADS")

	s2Cfg := cfg.PaperSources.SemanticScholar
	if !s2Cfg.Enabled {
		return adsClient, nil
	}
	s2Client := semanticscholar.NewClient(semanticscholar.Config{
		BaseURL: s2Cfg.BaseURL,
		APIKey:  s2Cfg.APIKey,
		Timeout: s2Cfg.Timeout,
		Enabled: true,
	}, newHTTPClient("semantic_scholar", s2Cfg, "x-api-key", "", metrics))
	registry.Register(s2Client)
	logger.Info().Msg("registered paper source: Semantic Scholar")

	return adsClient, s2Client
}

func newHTTPClient(source string, cfg config.PaperSourceConfig, keyHeader, keyPrefix string, metrics *observability.Metrics) *papersources.HTTPClient {
	var limiter *papersources.RateLimiter
	if cfg.RateLimit > 0 {
		limiter = papersources.NewRateLimiter(cfg.RateLimit, max(cfg.Burst, 1))
	}
	return papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Source:       source,
		Timeout:      cfg.Timeout,
		MaxRetries:   cfg.MaxRetries,
		RetryDelay:   cfg.RetryDelay,
		APIKey:       cfg.APIKey,
		APIKeyHeader: keyHeader,
		APIKeyPrefix: keyPrefix,
	}, limiter, metrics)
}
