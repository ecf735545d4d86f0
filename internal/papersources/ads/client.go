// Package ads implements the bibliographic capabilities against the NASA
// Astrophysics Data System API: field-qualified search, BibTeX export,
// reference/citation listing and electronic-source links.
package ads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/paper-sync-service/internal/domain"
	"github.com/helixir/paper-sync-service/internal/papersources"
)

const (
	// DefaultBaseURL is the default base URL for the ADS API.
	DefaultBaseURL = "https://api.adsabs.harvard.edu/v1"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRows is the default number of records per search.
	DefaultRows = 10

	// DefaultLinkRows caps the number of references or citations fetched per paper.
	DefaultLinkRows = 200

	// sourceName is the name used in errors and metrics.
	sourceName = "ads"
)

// Config contains configuration options for the ADS client.
type Config struct {
	// BaseURL is the base URL for the API. Defaults to DefaultBaseURL.
	BaseURL string

	// APIKey is the ADS bearer token.
	APIKey string

	// Timeout is the HTTP request timeout. Defaults to DefaultTimeout.
	Timeout time.Duration

	// LinkRows caps references/citations per paper. Defaults to DefaultLinkRows.
	LinkRows int

	// Enabled indicates whether this source is enabled.
	Enabled bool
}

// Client is the ADS implementation of the search, export, reference and
// electronic-source capabilities.
type Client struct {
	httpClient *papersources.HTTPClient
	config     Config
}

var (
	_ papersources.Remote                 = (*Client)(nil)
	_ papersources.ElectronicSourceLinker = (*Client)(nil)
	_ papersources.Service                = (*Client)(nil)
	_ papersources.Prober                 = (*Client)(nil)
)

// NewClient creates a new ADS client with the given configuration.
// If httpClient is nil, a new one without rate limiting is created.
func NewClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.LinkRows == 0 {
		cfg.LinkRows = DefaultLinkRows
	}

	if httpClient == nil {
		httpClient = papersources.NewHTTPClient(papersources.HTTPClientConfig{
			Source:       sourceName,
			Timeout:      cfg.Timeout,
			APIKey:       cfg.APIKey,
			APIKeyHeader: "Authorization",
			APIKeyPrefix: "Bearer ",
		}, nil, nil)
	}

	return &Client{
		httpClient: httpClient,
		config:     cfg,
	}
}

// Name returns the service name.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled returns whether this source is configured for use.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Probe issues a one-row search to check reachability and credentials.
func (c *Client) Probe(ctx context.Context) error {
	_, err := c.Search(ctx, "year:2000", papersources.SearchOptions{Rows: 1, Fields: []string{"bibcode"}})
	return err
}

// Search runs a field-qualified ADS query.
func (c *Client) Search(ctx context.Context, query string, opts papersources.SearchOptions) (*papersources.SearchResult, error) {
	searchURL, err := c.buildSearchURL(query, opts)
	if err != nil {
		return nil, fmt.Errorf("building search URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req, "search")
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if err := c.handleErrorResponse(resp); err != nil {
		return nil, err
	}

	// Limit body to 10MB to prevent resource exhaustion.
	var searchResp SearchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	records := make([]domain.CandidateRecord, 0, len(searchResp.Response.Docs))
	for _, doc := range searchResp.Response.Docs {
		records = append(records, convertDoc(doc))
	}

	return &papersources.SearchResult{
		Records:  records,
		NumFound: searchResp.Response.NumFound,
	}, nil
}

// ExportCitations returns one BibTeX blob covering every bibcode.
func (c *Client) ExportCitations(ctx context.Context, ids []string) (string, error) {
	if len(ids) == 0 {
		return "", nil
	}

	body, err := json.Marshal(ExportRequest{Bibcode: ids})
	if err != nil {
		return "", fmt.Errorf("encoding export request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/export/bibtex", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	resp, err := c.httpClient.Do(req, "export")
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if err := c.handleErrorResponse(resp); err != nil {
		return "", err
	}

	var exportResp ExportResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&exportResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	return exportResp.Export, nil
}

// GetReferences lists the records the given bibcode cites.
func (c *Client) GetReferences(ctx context.Context, id string) ([]domain.CandidateRecord, error) {
	return c.linked(ctx, "references", id)
}

// GetCitations lists the records citing the given bibcode.
func (c *Client) GetCitations(ctx context.Context, id string) ([]domain.CandidateRecord, error) {
	return c.linked(ctx, "citations", id)
}

func (c *Client) linked(ctx context.Context, operator, id string) ([]domain.CandidateRecord, error) {
	query := fmt.Sprintf(`%s(bibcode:"%s")`, operator, id)
	res, err := c.Search(ctx, query, papersources.SearchOptions{
		Rows: c.config.LinkRows,
		Sort: "date desc",
	})
	if err != nil {
		return nil, fmt.Errorf("%s of %s: %w", operator, id, err)
	}
	return res.Records, nil
}

// ElectronicSources lists the full-text links ADS knows for a bibcode.
// A record without electronic sources yields an empty list, not an error.
func (c *Client) ElectronicSources(ctx context.Context, id string) ([]papersources.ElectronicSource, error) {
	resolverURL := fmt.Sprintf("%s/resolver/%s/esource", c.config.BaseURL, url.PathEscape(id))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req, "resolver")
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err := c.handleErrorResponse(resp); err != nil {
		return nil, err
	}

	var rr ResolverResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&rr); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if rr.Action == "redirect" && rr.Link != "" {
		return []papersources.ElectronicSource{{LinkType: rr.LinkType, URL: rr.Link}}, nil
	}

	out := make([]papersources.ElectronicSource, 0, len(rr.Links.Records))
	for _, rec := range rr.Links.Records {
		if rec.URL == "" {
			continue
		}
		out = append(out, papersources.ElectronicSource{LinkType: rec.LinkType, URL: rec.URL})
	}
	return out, nil
}

// buildSearchURL constructs the search API URL with query parameters.
func (c *Client) buildSearchURL(query string, opts papersources.SearchOptions) (string, error) {
	base, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	searchURL := base.JoinPath("search", "query")

	rows := opts.Rows
	if rows <= 0 {
		rows = DefaultRows
	}
	fields := opts.Fields
	if len(fields) == 0 {
		fields = papersources.DefaultFields
	}

	q := searchURL.Query()
	q.Set("q", query)
	q.Set("rows", strconv.Itoa(rows))
	q.Set("fl", strings.Join(fields, ","))
	if opts.Start > 0 {
		q.Set("start", strconv.Itoa(opts.Start))
	}
	if opts.Sort != "" {
		q.Set("sort", opts.Sort)
	}

	searchURL.RawQuery = q.Encode()
	return searchURL.String(), nil
}

// handleErrorResponse checks for API errors and returns appropriate error types.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.NewExternalAPIError(sourceName, resp.StatusCode, "failed to read error response", err)
	}

	message := string(body)
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		if m := errResp.message(); m != "" {
			message = m
		}
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	return domain.NewExternalAPIError(sourceName, resp.StatusCode, message, nil)
}

// convertDoc converts an ADS document to a candidate record.
func convertDoc(doc Doc) domain.CandidateRecord {
	rec := domain.CandidateRecord{
		Authors:       append([]string(nil), doc.Author...),
		Year:          doc.year(),
		Journal:       doc.Pub,
		Abstract:      doc.Abstract,
		CitationCount: doc.CitationCount,
		Identifiers: domain.Identifiers{
			Bibcode: doc.Bibcode,
			ArXivID: doc.arXivID(),
		},
	}
	if len(doc.Title) > 0 {
		rec.Title = doc.Title[0]
	}
	if len(doc.DOI) > 0 {
		rec.Identifiers.DOI = doc.DOI[0]
	}
	return rec
}
