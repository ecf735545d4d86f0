package acquisition

import (
	"context"
	"fmt"
	"strings"

	"github.com/helixir/paper-sync-service/internal/domain"
	"github.com/helixir/paper-sync-service/internal/papersources"
)

// Strategy acquires a PDF from one kind of source.
type Strategy interface {
	// SourceType identifies the strategy.
	SourceType() domain.SourceType

	// CanHandle is a cheap check that the paper carries the identifiers
	// this source needs. It performs no I/O.
	CanHandle(p *domain.Paper) bool

	// ResolveURL produces the download location. It may call remote services.
	ResolveURL(ctx context.Context, p *domain.Paper) (*domain.DownloadSource, error)

	// Fetch downloads src to dest.
	Fetch(ctx context.Context, src *domain.DownloadSource, dest string, opts FetchOptions) (*FetchResult, error)
}

// Deps are the collaborators the built-in strategies draw on. Linker and
// Locator are optional.
type Deps struct {
	Fetcher   *Fetcher
	Endpoints Endpoints
	Linker    papersources.ElectronicSourceLinker
	Locator   papersources.OpenAccessLocator
}

// NewStrategy builds the strategy for a source type.
func NewStrategy(t domain.SourceType, deps Deps) (Strategy, error) {
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("%w: fetcher is required", domain.ErrInvalidInput)
	}
	base := fetchVia{fetcher: deps.Fetcher}
	endpoints := deps.Endpoints.withDefaults()

	switch t {
	case domain.SourceTypePreprint:
		return &preprintStrategy{fetchVia: base, endpoints: endpoints}, nil
	case domain.SourceTypePublisher:
		return &publisherStrategy{fetchVia: base, endpoints: endpoints, linker: deps.Linker}, nil
	case domain.SourceTypeArchiveScan:
		return &archiveScanStrategy{fetchVia: base, endpoints: endpoints}, nil
	case domain.SourceTypeAuthorHosted:
		return &authorHostedStrategy{fetchVia: base, locator: deps.Locator}, nil
	default:
		return nil, fmt.Errorf("%w: unknown source type %q", domain.ErrInvalidInput, t)
	}
}

// DefaultStrategies builds one strategy per source type.
func DefaultStrategies(deps Deps) ([]Strategy, error) {
	types := domain.AllSourceTypes()
	out := make([]Strategy, 0, len(types))
	for _, t := range types {
		s, err := NewStrategy(t, deps)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// fetchVia is the Fetch implementation every built-in strategy shares.
type fetchVia struct {
	fetcher *Fetcher
}

func (f fetchVia) Fetch(ctx context.Context, src *domain.DownloadSource, dest string, opts FetchOptions) (*FetchResult, error) {
	return f.fetcher.Download(ctx, src.URL, dest, opts)
}

type preprintStrategy struct {
	fetchVia
	endpoints Endpoints
}

func (s *preprintStrategy) SourceType() domain.SourceType { return domain.SourceTypePreprint }

func (s *preprintStrategy) CanHandle(p *domain.Paper) bool {
	return p.Identifiers.Normalize().ArXivID != ""
}

func (s *preprintStrategy) ResolveURL(_ context.Context, p *domain.Paper) (*domain.DownloadSource, error) {
	return &domain.DownloadSource{
		SourceType: domain.SourceTypePreprint,
		URL:        s.endpoints.PreprintURL(p.Identifiers.Normalize().ArXivID),
	}, nil
}

// publisherStrategy prefers the publisher PDF link the bibliographic service
// lists for a bibcode and falls back to the DOI resolver. Its sources are
// the only ones marked for the institutional proxy.
type publisherStrategy struct {
	fetchVia
	endpoints Endpoints
	linker    papersources.ElectronicSourceLinker
}

func (s *publisherStrategy) SourceType() domain.SourceType { return domain.SourceTypePublisher }

func (s *publisherStrategy) CanHandle(p *domain.Paper) bool {
	ids := p.Identifiers.Normalize()
	return ids.DOI != "" || (ids.Bibcode != "" && s.linker != nil)
}

func (s *publisherStrategy) ResolveURL(ctx context.Context, p *domain.Paper) (*domain.DownloadSource, error) {
	ids := p.Identifiers.Normalize()

	if ids.Bibcode != "" && s.linker != nil {
		links, err := s.linker.ElectronicSources(ctx, ids.Bibcode)
		if err != nil && ids.DOI == "" {
			return nil, fmt.Errorf("listing electronic sources: %w", err)
		}
		for _, l := range links {
			if strings.Contains(strings.ToUpper(l.LinkType), "PUB_PDF") {
				return &domain.DownloadSource{SourceType: domain.SourceTypePublisher, URL: l.URL, RequiresProxy: true}, nil
			}
		}
	}

	if ids.DOI == "" {
		return nil, fmt.Errorf("no publisher link for %s: %w", ids.Bibcode, domain.ErrNotFound)
	}
	return &domain.DownloadSource{
		SourceType:    domain.SourceTypePublisher,
		URL:           s.endpoints.PublisherURL(ids.DOI),
		RequiresProxy: true,
	}, nil
}

type archiveScanStrategy struct {
	fetchVia
	endpoints Endpoints
}

func (s *archiveScanStrategy) SourceType() domain.SourceType { return domain.SourceTypeArchiveScan }

func (s *archiveScanStrategy) CanHandle(p *domain.Paper) bool {
	return p.Identifiers.Normalize().Bibcode != ""
}

func (s *archiveScanStrategy) ResolveURL(_ context.Context, p *domain.Paper) (*domain.DownloadSource, error) {
	return &domain.DownloadSource{
		SourceType: domain.SourceTypeArchiveScan,
		URL:        s.endpoints.ArchiveScanURL(p.Identifiers.Normalize().Bibcode),
	}, nil
}

type authorHostedStrategy struct {
	fetchVia
	locator papersources.OpenAccessLocator
}

func (s *authorHostedStrategy) SourceType() domain.SourceType { return domain.SourceTypeAuthorHosted }

func (s *authorHostedStrategy) CanHandle(p *domain.Paper) bool {
	return s.locator != nil && p.Identifiers.Normalize().DOI != ""
}

func (s *authorHostedStrategy) ResolveURL(ctx context.Context, p *domain.Paper) (*domain.DownloadSource, error) {
	u, err := s.locator.LocateOpenAccess(ctx, p.Identifiers.Normalize().DOI)
	if err != nil {
		return nil, fmt.Errorf("locating open access copy: %w", err)
	}
	return &domain.DownloadSource{SourceType: domain.SourceTypeAuthorHosted, URL: u}, nil
}
