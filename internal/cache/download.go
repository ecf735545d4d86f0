package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/helixir/paper-sync-service/internal/acquisition"
	"github.com/helixir/paper-sync-service/internal/domain"
)

// DownloadResult is a preview document and where it came from.
type DownloadResult struct {
	Data   []byte
	Source domain.SourceType
	URL    string
	Cached bool
}

type candidate struct {
	source domain.SourceType
	url    string
}

// candidates lists URLs in the order they are tried: preprint, publisher
// (proxied when a prefix is given), then archival scan.
func (c *Cache) candidates(ids domain.Identifiers, proxy string) []candidate {
	ids = ids.Normalize()
	e := c.cfg.Endpoints

	var out []candidate
	if ids.ArXivID != "" {
		out = append(out, candidate{domain.SourceTypePreprint, e.PreprintURL(ids.ArXivID)})
	}
	if ids.DOI != "" {
		out = append(out, candidate{domain.SourceTypePublisher, acquisition.ApplyProxy(proxy, e.PublisherURL(ids.DOI))})
	}
	if ids.Bibcode != "" {
		out = append(out, candidate{domain.SourceTypeArchiveScan, e.ArchiveScanURL(ids.Bibcode)})
	}
	return out
}

// DownloadForPaper returns the paper's PDF from the cache, or fetches it from
// the first candidate source that yields valid content and caches it.
//
// Concurrent calls for the same paper and proxy share one download. The
// download is detached from any single caller: a caller whose ctx ends
// returns ctx.Err() while the others keep waiting, and each fetch stays
// bounded by the fetcher timeout. Progress goes to the caller that started
// the download, and only while it is still waiting.
func (c *Cache) DownloadForPaper(ctx context.Context, p *domain.Paper, proxy string, progress chan<- acquisition.Progress) (*DownloadResult, error) {
	key := p.CanonicalKey()
	if key == "" {
		return nil, fmt.Errorf("%w: paper has no identifier", domain.ErrNoIdentifier)
	}

	if e, ok := c.Get(key); ok {
		return &DownloadResult{Data: e.Data, Source: e.Source, Cached: true}, nil
	}
	if c.fetcher == nil {
		return nil, fmt.Errorf("%w: cache has no fetcher", domain.ErrInvalidInput)
	}

	relay := &progressRelay{dst: progress}
	defer relay.detach()

	ids := p.Identifiers
	flight := c.group.DoChan(key+"\x00"+proxy, func() (any, error) {
		return c.download(context.WithoutCancel(ctx), key, ids, proxy, relay)
	})

	select {
	case res := <-flight:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*DownloadResult), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) download(ctx context.Context, key string, ids domain.Identifiers, proxy string, relay *progressRelay) (*DownloadResult, error) {
	failure := &domain.AggregateSourceFailure{}
	for _, cand := range c.candidates(ids, proxy) {
		data, err := c.fetchCandidate(ctx, cand.url, relay)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failure.Attempts = append(failure.Attempts, domain.SourceAttempt{Source: cand.source, URL: cand.url, Err: err})
			c.logger.Debug().Err(err).Str("key", key).Str("source", string(cand.source)).Msg("preview source failed")
			continue
		}

		c.Set(key, data, cand.source)
		return &DownloadResult{Data: data, Source: cand.source, URL: cand.url}, nil
	}
	return nil, failure
}

func (c *Cache) fetchCandidate(ctx context.Context, url string, relay *progressRelay) ([]byte, error) {
	if !relay.active() {
		data, _, err := c.fetcher.FetchBytes(ctx, url, acquisition.FetchOptions{})
		return data, err
	}

	updates := make(chan acquisition.Progress, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for u := range updates {
			relay.send(u)
		}
	}()

	data, _, err := c.fetcher.FetchBytes(ctx, url, acquisition.FetchOptions{Progress: updates})
	close(updates)
	<-done
	return data, err
}

// progressRelay forwards updates to a caller's channel until the caller
// stops waiting. The caller may close its channel after detach returns.
type progressRelay struct {
	mu  sync.Mutex
	dst chan<- acquisition.Progress
}

func (r *progressRelay) active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dst != nil
}

func (r *progressRelay) send(p acquisition.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dst == nil {
		return
	}
	select {
	case r.dst <- p:
	default:
	}
}

func (r *progressRelay) detach() {
	r.mu.Lock()
	r.dst = nil
	r.mu.Unlock()
}
