// Package cache keeps preview PDFs in memory, bounded by total bytes and by
// entry count, evicting the least recently used entries first.
//
// Entries never touch durable storage and are lost on restart.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/helixir/paper-sync-service/internal/acquisition"
	"github.com/helixir/paper-sync-service/internal/domain"
	"github.com/helixir/paper-sync-service/internal/observability"
)

const (
	DefaultMaxBytes   int64 = 200 << 20
	DefaultMaxEntries       = 50
)

// Config bounds the cache.
type Config struct {
	MaxBytes   int64 `mapstructure:"max_bytes"`
	MaxEntries int   `mapstructure:"max_entries"`

	// Endpoints derive candidate URLs in DownloadForPaper.
	Endpoints acquisition.Endpoints `mapstructure:"-"`
}

// Entry is one cached document. Data must be treated as read-only.
type Entry struct {
	Key            string            `json:"key"`
	Data           []byte            `json:"-"`
	SizeBytes      int64             `json:"size_bytes"`
	LastAccessedAt time.Time         `json:"last_accessed_at"`
	Source         domain.SourceType `json:"source"`
}

// Stats is a point-in-time view of cache usage.
type Stats struct {
	Entries    int   `json:"entries"`
	Size       int64 `json:"size"`
	MaxSize    int64 `json:"max_size"`
	MaxEntries int   `json:"max_entries"`
}

// BytesFetcher is the fetch primitive DownloadForPaper uses.
type BytesFetcher interface {
	FetchBytes(ctx context.Context, rawURL string, opts acquisition.FetchOptions) ([]byte, *acquisition.FetchResult, error)
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Cache is an in-memory LRU of documents. It is safe for concurrent use.
type Cache struct {
	mu    sync.Mutex
	lru   *simplelru.LRU[string, *Entry]
	size  int64
	cfg   Config
	now   func() time.Time
	group singleflight.Group

	fetcher BytesFetcher
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// New creates an empty cache. fetcher may be nil when DownloadForPaper is unused.
func New(cfg Config, fetcher BytesFetcher, logger zerolog.Logger, metrics *observability.Metrics, opts ...Option) (*Cache, error) {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}

	lru, err := simplelru.NewLRU[string, *Entry](cfg.MaxEntries, nil)
	if err != nil {
		return nil, fmt.Errorf("creating lru: %w", err)
	}

	c := &Cache{
		lru:     lru,
		cfg:     cfg,
		now:     time.Now,
		fetcher: fetcher,
		logger:  logger.With().Str("component", "cache").Logger(),
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Has reports whether key is cached without refreshing its recency.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(key)
}

// Get returns the entry for key and marks it most recently used.
func (c *Cache) Get(key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		c.metrics.RecordCacheMiss()
		return nil, false
	}
	e.LastAccessedAt = c.now()
	c.metrics.RecordCacheHit()
	cp := *e
	return &cp, true
}

// Set stores data under key. Least recently used entries are evicted first
// until the new entry fits both bounds. An entry larger than MaxBytes is
// still stored once the cache is empty, so it is the only entry.
func (c *Cache) Set(key string, data []byte, source domain.SourceType) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.lru.Peek(key); ok {
		c.lru.Remove(key)
		c.size -= old.SizeBytes
	}

	newSize := int64(len(data))
	for c.lru.Len() > 0 && (c.size+newSize > c.cfg.MaxBytes || c.lru.Len() >= c.cfg.MaxEntries) {
		evictedKey, evicted, _ := c.lru.RemoveOldest()
		c.size -= evicted.SizeBytes
		c.metrics.RecordCacheEviction()
		c.logger.Debug().Str("key", evictedKey).Int64("bytes", evicted.SizeBytes).Msg("evicted")
	}

	if newSize > c.cfg.MaxBytes {
		c.logger.Warn().Str("key", key).Int64("bytes", newSize).Int64("max_bytes", c.cfg.MaxBytes).
			Msg("entry exceeds cache size, storing as sole entry")
	}

	c.lru.Add(key, &Entry{
		Key:            key,
		Data:           data,
		SizeBytes:      newSize,
		LastAccessedAt: c.now(),
		Source:         source,
	})
	c.size += newSize
	c.metrics.SetCacheUsage(c.size, c.lru.Len())
}

// Remove deletes key and reports whether it was present.
func (c *Cache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Peek(key)
	if !ok {
		return false
	}
	c.lru.Remove(key)
	c.size -= e.SizeBytes
	c.metrics.SetCacheUsage(c.size, c.lru.Len())
	return true
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.size = 0
	c.metrics.SetCacheUsage(0, 0)
}

// Stats returns current usage.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:    c.lru.Len(),
		Size:       c.size,
		MaxSize:    c.cfg.MaxBytes,
		MaxEntries: c.cfg.MaxEntries,
	}
}

// Keys returns cached keys from least to most recently used.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}
