package acquisition

import (
	"net/url"
	"strings"
)

// Endpoints are the base URLs the built-in strategies derive PDF links from.
type Endpoints struct {
	// Preprint is the preprint server's PDF path; the id is appended.
	Preprint string `mapstructure:"preprint"`

	// DOIResolver resolves a DOI to the publisher landing or PDF page.
	DOIResolver string `mapstructure:"doi_resolver"`

	// ArchiveScan is the scanned-article gateway; the bibcode is appended.
	ArchiveScan string `mapstructure:"archive_scan"`
}

// DefaultEndpoints returns the production endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Preprint:    "https://arxiv.org/pdf/",
		DOIResolver: "https://doi.org/",
		ArchiveScan: "https://articles.adsabs.harvard.edu/pdf/",
	}
}

func (e Endpoints) withDefaults() Endpoints {
	d := DefaultEndpoints()
	if e.Preprint == "" {
		e.Preprint = d.Preprint
	}
	if e.DOIResolver == "" {
		e.DOIResolver = d.DOIResolver
	}
	if e.ArchiveScan == "" {
		e.ArchiveScan = d.ArchiveScan
	}
	return e
}

// PreprintURL returns the PDF URL for a preprint id such as "1905.01234".
func (e Endpoints) PreprintURL(id string) string {
	return join(e.withDefaults().Preprint, id)
}

// PublisherURL returns the DOI resolver URL for doi.
func (e Endpoints) PublisherURL(doi string) string {
	return join(e.withDefaults().DOIResolver, doi)
}

// ArchiveScanURL returns the scanned-article URL for a bibcode.
func (e Endpoints) ArchiveScanURL(bibcode string) string {
	return join(e.withDefaults().ArchiveScan, url.PathEscape(bibcode))
}

// ApplyProxy rewrites u as prefix + QueryEscape(u). An empty prefix leaves u unchanged.
func ApplyProxy(prefix, u string) string {
	if prefix == "" {
		return u
	}
	return prefix + url.QueryEscape(u)
}

func join(base, tail string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(tail, "/")
}
