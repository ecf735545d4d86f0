package semanticscholar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/helixir/paper-sync-service/internal/domain"
	"github.com/helixir/paper-sync-service/internal/papersources"
)

const (
	// DefaultBaseURL is the default base URL for the Semantic Scholar Graph API.
	DefaultBaseURL = "https://api.semanticscholar.org/graph/v1"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// apiKeyHeader is the header name for the Semantic Scholar API key.
	apiKeyHeader = "x-api-key"

	// locateFields is the field list requested when locating a PDF.
	locateFields = "paperId,title,externalIds,isOpenAccess,openAccessPdf"

	sourceName = "semantic_scholar"
)

// Config contains configuration options for the Semantic Scholar client.
type Config struct {
	// BaseURL is the base URL for the API.
	// Defaults to DefaultBaseURL if empty.
	BaseURL string

	// APIKey is the optional API key for authenticated requests.
	APIKey string

	// Timeout is the HTTP request timeout.
	// Defaults to DefaultTimeout if zero.
	Timeout time.Duration

	// Enabled indicates whether this source is enabled.
	Enabled bool
}

// Client implements papersources.OpenAccessLocator for Semantic Scholar.
type Client struct {
	httpClient *papersources.HTTPClient
	config     Config
}

var (
	_ papersources.OpenAccessLocator = (*Client)(nil)
	_ papersources.Service           = (*Client)(nil)
	_ papersources.Prober            = (*Client)(nil)
)

// NewClient creates a new Semantic Scholar client with the given configuration.
// If httpClient is nil, a new one without rate limiting is created.
func NewClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	if httpClient == nil {
		httpClient = papersources.NewHTTPClient(papersources.HTTPClientConfig{
			Source:       sourceName,
			Timeout:      cfg.Timeout,
			APIKey:       cfg.APIKey,
			APIKeyHeader: apiKeyHeader,
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

// Probe looks up a well-known DOI. A missing open-access copy still counts as reachable.
func (c *Client) Probe(ctx context.Context) error {
	_, err := c.GetPaper(ctx, "10.1038/nature14539")
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return nil
}

// LocateOpenAccess returns the open-access PDF URL known for doi.
// It returns an error wrapping domain.ErrNotFound when the paper is unknown
// or has no open-access copy.
func (c *Client) LocateOpenAccess(ctx context.Context, doi string) (string, error) {
	doi = domain.Identifiers{DOI: doi}.Normalize().DOI
	if doi == "" {
		return "", domain.NewValidationError("doi", "is required")
	}

	paper, err := c.GetPaper(ctx, doi)
	if err != nil {
		return "", err
	}
	if paper.OpenAccessPDF == nil || paper.OpenAccessPDF.URL == "" {
		return "", fmt.Errorf("open access copy of %s: %w", doi, domain.ErrNotFound)
	}
	return paper.OpenAccessPDF.URL, nil
}

// GetPaper fetches the record for a DOI.
func (c *Client) GetPaper(ctx context.Context, doi string) (*PaperResult, error) {
	paperURL := fmt.Sprintf("%s/paper/DOI:%s?fields=%s", c.config.BaseURL, url.PathEscape(doi), locateFields)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, paperURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req, "paper")
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.NewNotFoundError("paper", "DOI:"+doi)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(resp)
	}

	var paper PaperResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&paper); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &paper, nil
}

// handleErrorResponse turns a non-200 response into a domain error.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.NewExternalAPIError(sourceName, resp.StatusCode, "failed to read error response", err)
	}

	var errResp ErrorResponse
	message := string(body)
	if err := json.Unmarshal(body, &errResp); err == nil {
		if errResp.Message != "" {
			message = errResp.Message
		} else if errResp.Error != "" {
			message = errResp.Error
		}
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return domain.NewExternalAPIError(sourceName, resp.StatusCode, message, nil)
}
