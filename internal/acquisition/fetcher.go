package acquisition

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-sync-service/internal/domain"
)

const (
	// DefaultUserAgent mimics a desktop browser; several publishers refuse
	// obvious bot identities.
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

	DefaultTimeout      = 60 * time.Second
	DefaultMaxRedirects = 5
	DefaultMinBytes     = 1000
	DefaultMaxBytes     = 100 << 20

	// sniffLen is how much of the body is buffered for validation before
	// anything is written to the destination.
	sniffLen = 1024
)

// Content validation errors. All wrap domain.ErrInvalidContent.
var (
	ErrContentTooSmall  = fmt.Errorf("%w: content too small", domain.ErrInvalidContent)
	ErrInvalidSignature = fmt.Errorf("%w: missing PDF signature", domain.ErrInvalidContent)
	ErrContentTooLarge  = fmt.Errorf("%w: content exceeds maximum size", domain.ErrInvalidContent)
	ErrMalformedPDF     = fmt.Errorf("%w: malformed PDF structure", domain.ErrInvalidContent)

	// ErrTimeout wraps domain.ErrNetwork.
	ErrTimeout = fmt.Errorf("%w: request timed out", domain.ErrNetwork)

	// ErrPrivateNetwork is returned when a URL resolves to a private address.
	ErrPrivateNetwork = errors.New("request to private network denied")
)

var pdfMagic = []byte("%PDF")

// loginMarkers identify an HTML body as an authentication wall.
var loginMarkers = []string{
	"login", "log in", "sign in", "signin", "password", "shibboleth",
	"institutional access", "openathens", "authenticate",
}

// FetcherConfig holds fetcher configuration.
type FetcherConfig struct {
	// UserAgent is sent with every request. Default: DefaultUserAgent.
	UserAgent string `mapstructure:"user_agent"`

	// Timeout bounds one whole fetch, body included. Default: 60 seconds.
	Timeout time.Duration `mapstructure:"timeout"`

	// MaxRedirects is the number of redirects followed. Default: 5.
	MaxRedirects int `mapstructure:"max_redirects"`

	// MinBytes rejects shorter bodies. Default: 1000.
	MinBytes int `mapstructure:"min_bytes"`

	// MaxBytes rejects longer bodies. Default: 100MB.
	MaxBytes int64 `mapstructure:"max_bytes"`

	// StrictValidation additionally parses the PDF cross-reference table
	// when the whole body is available (FetchBytes, Download).
	StrictValidation bool `mapstructure:"strict_validation"`

	// AllowPrivateNetworks disables the private-address check. Tests only.
	AllowPrivateNetworks bool `mapstructure:"-"`
}

// Progress reports bytes received so far. Total is -1 when unknown.
type Progress struct {
	URL      string
	Received int64
	Total    int64
}

// FetchOptions are per-call fetch options.
type FetchOptions struct {
	// Progress receives updates while the body streams. Sends never block;
	// updates are dropped when the channel is full.
	Progress chan<- Progress
}

// FetchResult describes validated content.
type FetchResult struct {
	URL         string
	FinalURL    string
	SizeBytes   int64
	SHA256      string
	ContentType string
	Path        string
}

// Fetcher is the shared HTTP fetch primitive. It only ever reports success
// for content that passed validation.
type Fetcher struct {
	client *http.Client
	cfg    FetcherConfig
	logger zerolog.Logger
}

// NewFetcher creates a Fetcher, applying defaults.
func NewFetcher(cfg FetcherConfig, logger zerolog.Logger) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = DefaultMaxRedirects
	}
	if cfg.MinBytes == 0 {
		cfg.MinBytes = DefaultMinBytes
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}

	f := &Fetcher{
		cfg:    cfg,
		logger: logger.With().Str("component", "fetcher").Logger(),
	}
	f.client = &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > f.cfg.MaxRedirects {
				return fmt.Errorf("%w: stopped after %d", domain.ErrTooManyRedirects, f.cfg.MaxRedirects)
			}
			if !f.cfg.AllowPrivateNetworks {
				if err := validateURLNotPrivate(req.URL.String()); err != nil {
					return err
				}
			}
			return nil
		},
	}
	return f
}

// Fetch GETs rawURL and streams validated content into w. The first bytes
// are validated before anything is written, so w receives nothing for a
// rejected body.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, w io.Writer, opts FetchOptions) (*FetchResult, error) {
	if !f.cfg.AllowPrivateNetworks {
		if err := validateURLNotPrivate(rawURL); err != nil {
			return nil, err
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL %q: %w", domain.ErrInvalidInput, rawURL, err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "application/pdf,text/html;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, f.classify(ctx, rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.FetchStatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	total := resp.ContentLength
	if total > f.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes from %s", ErrContentTooLarge, total, rawURL)
	}

	head := make([]byte, max(sniffLen, f.cfg.MinBytes))
	n, err := io.ReadFull(resp.Body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, f.classify(ctx, rawURL, err)
	}
	head = head[:n]
	complete := n < len(head)

	if err := f.validateHead(rawURL, head, complete); err != nil {
		return nil, err
	}

	hasher := sha256.New()
	pw := &progressWriter{
		w:        io.MultiWriter(w, hasher),
		ch:       opts.Progress,
		progress: Progress{URL: rawURL, Total: total},
	}
	if _, err := pw.Write(head); err != nil {
		return nil, fmt.Errorf("writing content: %w", err)
	}

	if !complete {
		remaining := f.cfg.MaxBytes - int64(len(head))
		copied, err := io.Copy(pw, io.LimitReader(resp.Body, remaining+1))
		if err != nil {
			var we *writeError
			if errors.As(err, &we) {
				return nil, fmt.Errorf("writing content: %w", we.err)
			}
			return nil, f.classify(ctx, rawURL, err)
		}
		if copied > remaining {
			return nil, fmt.Errorf("%w: more than %d bytes from %s", ErrContentTooLarge, f.cfg.MaxBytes, rawURL)
		}
	}

	return &FetchResult{
		URL:         rawURL,
		FinalURL:    resp.Request.URL.String(),
		SizeBytes:   pw.progress.Received,
		SHA256:      hexSum(hasher),
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// FetchBytes fetches rawURL into memory.
func (f *Fetcher) FetchBytes(ctx context.Context, rawURL string, opts FetchOptions) ([]byte, *FetchResult, error) {
	var buf bytes.Buffer
	res, err := f.Fetch(ctx, rawURL, &buf, opts)
	if err != nil {
		return nil, nil, err
	}
	data := buf.Bytes()
	if f.cfg.StrictValidation {
		if err := validateStructure(bytes.NewReader(data), int64(len(data))); err != nil {
			return nil, nil, err
		}
	}
	return data, res, nil
}

// Download fetches rawURL into dest through a temporary file in the same
// directory, renaming it into place only after validation. Nothing is left
// behind on failure, including cancellation.
func (f *Fetcher) Download(ctx context.Context, rawURL, dest string, opts FetchOptions) (*FetchResult, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, ".fetch-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	keep := false
	defer func() {
		if !keep {
			_ = os.Remove(tmpPath)
		}
	}()

	res, err := f.Fetch(ctx, rawURL, tmpFile, opts)
	if err != nil {
		_ = tmpFile.Close()
		return nil, err
	}
	if f.cfg.StrictValidation {
		if err := validateStructure(tmpFile, res.SizeBytes); err != nil {
			_ = tmpFile.Close()
			return nil, err
		}
	}
	if err := tmpFile.Close(); err != nil {
		return nil, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return nil, fmt.Errorf("renaming temp file: %w", err)
	}
	keep = true

	res.Path = dest
	f.logger.Debug().Str("url", rawURL).Str("path", dest).Int64("bytes", res.SizeBytes).Msg("download complete")
	return res, nil
}

// validateHead checks the buffered prefix. complete is true when head is the
// whole body.
func (f *Fetcher) validateHead(rawURL string, head []byte, complete bool) error {
	trimmed := bytes.TrimLeft(head, "\xef\xbb\xbf \t\r\n")
	if looksLikeHTML(trimmed) {
		if isLoginPage(trimmed) {
			return fmt.Errorf("%w: %s returned a login page", domain.ErrAuthRequired, rawURL)
		}
		return fmt.Errorf("%w: %s returned HTML", ErrInvalidSignature, rawURL)
	}
	if complete && len(head) < f.cfg.MinBytes {
		return fmt.Errorf("%w: %d bytes from %s", ErrContentTooSmall, len(head), rawURL)
	}
	if !bytes.HasPrefix(trimmed, pdfMagic) {
		return fmt.Errorf("%w: %s", ErrInvalidSignature, rawURL)
	}
	return nil
}

// classify maps transport errors onto the domain taxonomy. parent is the
// caller's context, so its cancellation is told apart from our own timeout.
func (f *Fetcher) classify(parent context.Context, rawURL string, err error) error {
	switch {
	case errors.Is(err, domain.ErrTooManyRedirects):
		return fmt.Errorf("fetching %s: %w", rawURL, domain.ErrTooManyRedirects)
	case errors.Is(err, ErrPrivateNetwork):
		return fmt.Errorf("fetching %s: %w", rawURL, ErrPrivateNetwork)
	case parent.Err() != nil:
		return parent.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w after %s: %s", ErrTimeout, f.cfg.Timeout, rawURL)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w after %s: %s", ErrTimeout, f.cfg.Timeout, rawURL)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrNetwork, rawURL, err)
}

func looksLikeHTML(b []byte) bool {
	lower := bytes.ToLower(b)
	return bytes.HasPrefix(lower, []byte("<!doctype html")) ||
		bytes.HasPrefix(lower, []byte("<html")) ||
		(bytes.HasPrefix(lower, []byte("<")) && bytes.Contains(lower, []byte("<html")))
}

func isLoginPage(b []byte) bool {
	lower := strings.ToLower(string(b))
	for _, m := range loginMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// validateStructure parses the PDF trailer and page tree.
func validateStructure(r io.ReaderAt, size int64) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrMalformedPDF, rec)
		}
	}()
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedPDF, err)
	}
	if reader.NumPage() == 0 {
		return fmt.Errorf("%w: no pages", ErrMalformedPDF)
	}
	return nil
}

func hexSum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// writeError marks a failure on the destination side of a copy.
type writeError struct{ err error }

func (e *writeError) Error() string { return e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

type progressWriter struct {
	w        io.Writer
	ch       chan<- Progress
	progress Progress
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.progress.Received += int64(n)
	if p.ch != nil && n > 0 {
		select {
		case p.ch <- p.progress:
		default:
		}
	}
	if err != nil {
		return n, &writeError{err: err}
	}
	return n, nil
}

// isPrivateIP returns true if the IP address is in a private, loopback, or
// otherwise non-routable range.
func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

// validateURLNotPrivate rejects non-HTTP schemes and hosts resolving to
// private addresses.
func validateURLNotPrivate(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("%w: scheme %q is not allowed", ErrPrivateNetwork, parsed.Scheme)
	}

	host := parsed.Hostname()
	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return fmt.Errorf("%w: %s", ErrPrivateNetwork, host)
		}
		return nil
	}
	ips, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("%w: DNS lookup failed for %s: %v", domain.ErrNetwork, host, err)
	}
	for _, ipStr := range ips {
		if ip := net.ParseIP(ipStr); ip != nil && isPrivateIP(ip) {
			return fmt.Errorf("%w: %s resolves to %s", ErrPrivateNetwork, host, ipStr)
		}
	}
	return nil
}
