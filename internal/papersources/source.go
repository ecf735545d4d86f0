// Package papersources defines the capabilities the sync core consumes from
// bibliographic services, plus the shared HTTP plumbing their clients use.
//
// The core never depends on a provider's wire schema. It depends on the
// small interfaces below, which the ads and semanticscholar packages
// implement:
//
//	client := ads.NewClient(ads.Config{APIKey: key}, httpClient)
//	res, err := client.Search(ctx, `title:"dark matter"`, papersources.SearchOptions{Rows: 5})
package papersources

import (
	"context"

	"github.com/helixir/paper-sync-service/internal/domain"
)

// Default search field list requested from the bibliographic service.
var DefaultFields = []string{
	"bibcode", "title", "author", "year", "pub", "doi", "identifier", "citation_count", "abstract",
}

// SearchOptions controls paging, ordering and the returned field set.
type SearchOptions struct {
	// Rows is the maximum number of records to return. 0 uses the source default.
	Rows int

	// Start is the zero-based offset of the first record.
	Start int

	// Sort is a source-specific sort expression such as "score desc".
	Sort string

	// Fields restricts the returned fields. Empty uses DefaultFields.
	Fields []string
}

// SearchResult contains the records returned for one query.
type SearchResult struct {
	// Records are the candidates in the order the service ranked them.
	Records []domain.CandidateRecord

	// NumFound is the total number of matches, regardless of paging.
	NumFound int
}

// Searcher runs a field-qualified query against a bibliographic service.
// Errors carry the remote status through *domain.ExternalAPIError.
type Searcher interface {
	Search(ctx context.Context, query string, opts SearchOptions) (*SearchResult, error)
}

// CitationExporter returns one concatenated citation export for many ids.
// The caller is responsible for splitting the blob back per id.
type CitationExporter interface {
	ExportCitations(ctx context.Context, ids []string) (string, error)
}

// ReferenceSource lists the papers a record cites and the papers citing it.
type ReferenceSource interface {
	GetReferences(ctx context.Context, id string) ([]domain.CandidateRecord, error)
	GetCitations(ctx context.Context, id string) ([]domain.CandidateRecord, error)
}

// ElectronicSource is one full-text link the service knows for a record.
type ElectronicSource struct {
	LinkType string
	URL      string
}

// ElectronicSourceLinker lists full-text links for a canonical id.
type ElectronicSourceLinker interface {
	ElectronicSources(ctx context.Context, id string) ([]ElectronicSource, error)
}

// OpenAccessLocator finds an author- or repository-hosted PDF for a DOI.
// It returns domain.ErrNotFound when no open-access copy is known.
type OpenAccessLocator interface {
	LocateOpenAccess(ctx context.Context, doi string) (string, error)
}

// Remote is the full capability set the batch synchronizer needs.
type Remote interface {
	Searcher
	CitationExporter
	ReferenceSource
}
