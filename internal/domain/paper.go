package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// IdentifierKind names one of the external identifier namespaces a paper can carry.
type IdentifierKind string

const (
	// IdentifierBibcode is the bibliographic service's canonical id (an ADS bibcode).
	IdentifierBibcode IdentifierKind = "bibcode"
	IdentifierDOI     IdentifierKind = "doi"
	IdentifierArXiv   IdentifierKind = "arxiv"
)

// IsValid returns true if the identifier kind is known.
func (k IdentifierKind) IsValid() bool {
	switch k {
	case IdentifierBibcode, IdentifierDOI, IdentifierArXiv:
		return true
	default:
		return false
	}
}

// Identifiers holds the external identifiers known for a paper.
type Identifiers struct {
	Bibcode string `json:"bibcode,omitempty"`
	DOI     string `json:"doi,omitempty"`
	ArXivID string `json:"arxiv_id,omitempty"`
}

// Normalize trims whitespace, lowercases the DOI and strips common prefixes.
func (ids Identifiers) Normalize() Identifiers {
	doi := strings.TrimSpace(ids.DOI)
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "doi:"} {
		if len(doi) >= len(prefix) && strings.EqualFold(doi[:len(prefix)], prefix) {
			doi = doi[len(prefix):]
		}
	}
	arxiv := strings.TrimSpace(ids.ArXivID)
	if len(arxiv) > 6 && strings.EqualFold(arxiv[:6], "arxiv:") {
		arxiv = arxiv[6:]
	}
	return Identifiers{
		Bibcode: strings.TrimSpace(ids.Bibcode),
		DOI:     strings.ToLower(doi),
		ArXivID: arxiv,
	}
}

// IsEmpty returns true if no identifier is set.
func (ids Identifiers) IsEmpty() bool {
	return ids.Bibcode == "" && ids.DOI == "" && ids.ArXivID == ""
}

// CanonicalKey returns a stable key for the paper.
// Priority order: bibcode > DOI > arXiv. Returns empty string if no identifier is set.
func (ids Identifiers) CanonicalKey() string {
	n := ids.Normalize()
	switch {
	case n.Bibcode != "":
		return "bibcode:" + n.Bibcode
	case n.DOI != "":
		return "doi:" + n.DOI
	case n.ArXivID != "":
		return "arxiv:" + n.ArXivID
	default:
		return ""
	}
}

// Get returns the identifier value for the given kind.
func (ids Identifiers) Get(kind IdentifierKind) string {
	switch kind {
	case IdentifierBibcode:
		return ids.Bibcode
	case IdentifierDOI:
		return ids.DOI
	case IdentifierArXiv:
		return ids.ArXivID
	default:
		return ""
	}
}

// Paper represents a paper tracked in the local library.
type Paper struct {
	ID            uuid.UUID   `json:"id"`
	Identifiers   Identifiers `json:"identifiers"`
	Title         string      `json:"title"`
	Authors       []string    `json:"authors,omitempty"`
	Year          int         `json:"year,omitempty"`
	Journal       string      `json:"journal,omitempty"`
	Abstract      string      `json:"abstract,omitempty"`
	CitationCount int         `json:"citation_count"`
	BibTeX        string      `json:"bibtex,omitempty"`
	PDFPath       string      `json:"pdf_path,omitempty"`
	PDFSource     SourceType  `json:"pdf_source,omitempty"`
	LastSyncedAt  *time.Time  `json:"last_synced_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// CanonicalKey returns the paper's stable identity key.
func (p *Paper) CanonicalKey() string {
	return p.Identifiers.CanonicalKey()
}

// HasPDF returns true if a PDF has already been stored for this paper.
func (p *Paper) HasPDF() bool {
	return p.PDFPath != ""
}

// FirstAuthor returns the first listed author or an empty string.
func (p *Paper) FirstAuthor() string {
	if len(p.Authors) == 0 {
		return ""
	}
	return p.Authors[0]
}

// Clone returns a deep copy of the paper.
func (p *Paper) Clone() *Paper {
	c := *p
	c.Authors = append([]string(nil), p.Authors...)
	if p.LastSyncedAt != nil {
		t := *p.LastSyncedAt
		c.LastSyncedAt = &t
	}
	return &c
}

// CandidateRecord is an immutable snapshot of one search result.
type CandidateRecord struct {
	Title         string      `json:"title"`
	Authors       []string    `json:"authors,omitempty"`
	Year          int         `json:"year,omitempty"`
	Journal       string      `json:"journal,omitempty"`
	Abstract      string      `json:"abstract,omitempty"`
	Identifiers   Identifiers `json:"identifiers"`
	CitationCount int         `json:"citation_count"`
}

// FirstAuthor returns the first listed author or an empty string.
func (r CandidateRecord) FirstAuthor() string {
	if len(r.Authors) == 0 {
		return ""
	}
	return r.Authors[0]
}

// MergeInto copies every non-empty field of the record onto the paper.
// Identifiers are merged per field; nothing is cleared.
func (r CandidateRecord) MergeInto(p *Paper) {
	if r.Title != "" {
		p.Title = r.Title
	}
	if len(r.Authors) > 0 {
		p.Authors = append([]string(nil), r.Authors...)
	}
	if r.Year != 0 {
		p.Year = r.Year
	}
	if r.Journal != "" {
		p.Journal = r.Journal
	}
	if r.Abstract != "" {
		p.Abstract = r.Abstract
	}
	if r.Identifiers.Bibcode != "" {
		p.Identifiers.Bibcode = r.Identifiers.Bibcode
	}
	if r.Identifiers.DOI != "" {
		p.Identifiers.DOI = r.Identifiers.DOI
	}
	if r.Identifiers.ArXivID != "" {
		p.Identifiers.ArXivID = r.Identifiers.ArXivID
	}
	if r.CitationCount > 0 {
		p.CitationCount = r.CitationCount
	}
}

// SyncRun is the persisted record of one synchronization batch.
type SyncRun struct {
	ID         uuid.UUID     `json:"id"`
	Status     SyncRunStatus `json:"status"`
	Total      int           `json:"total"`
	Updated    int           `json:"updated"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	ErrorCount int           `json:"error_count"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}
