package papersources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/helixir/paper-sync-service/internal/domain"
	"github.com/helixir/paper-sync-service/internal/observability"
)

// HTTPClientConfig configures the HTTP client.
type HTTPClientConfig struct {
	// Source names the remote service for errors and metrics (e.g. "ads").
	Source string

	// Timeout is the request timeout for HTTP operations.
	Timeout time.Duration

	// MaxRetries is the maximum number of retries on 429 responses and
	// transport errors. Server errors are returned to the caller.
	MaxRetries int

	// RetryDelay is the base delay between retries when no Retry-After is sent.
	RetryDelay time.Duration

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// APIKey is an optional API key for authentication.
	APIKey string

	// APIKeyHeader is the header name for the API key (e.g., "x-api-key", "Authorization").
	APIKeyHeader string

	// APIKeyPrefix is prepended to the key value (e.g., "Bearer ").
	APIKeyPrefix string
}

// HTTPClient wraps http.Client with rate limiting and throttling retries.
// It is safe for concurrent use.
type HTTPClient struct {
	client      *http.Client
	rateLimiter *RateLimiter
	config      HTTPClientConfig
	metrics     *observability.Metrics
}

// NewHTTPClient creates a new HTTP client that waits on limiter before every attempt.
// A nil limiter means no client-side rate limiting.
//
// The client retries 429 (Too Many Requests), honoring Retry-After, and
// transport errors. 5xx responses are handed back untouched so the caller's
// own retry policy decides.
func NewHTTPClient(cfg HTTPClientConfig, limiter *RateLimiter, metrics *observability.Metrics) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Helixir-PaperSync/1.0"
	}
	if cfg.Source == "" {
		cfg.Source = "unknown"
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: limiter,
		config:      cfg,
		metrics:     metrics,
	}
}

// Source returns the configured source name.
func (c *HTTPClient) Source() string {
	return c.config.Source
}

// Do executes an HTTP request with rate limiting and retries.
// endpoint is a low-cardinality label for metrics ("search", "export").
//
// The request body is not preserved across retries; callers must provide
// requests with GetBody set if the body needs to be resent on retry.
func (c *HTTPClient) Do(req *http.Request, endpoint string) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if c.config.APIKey != "" && c.config.APIKeyHeader != "" {
		req.Header.Set(c.config.APIKeyHeader, c.config.APIKeyPrefix+c.config.APIKey)
	}

	start := time.Now()
	defer func() {
		c.metrics.RecordSourceRequest(c.config.Source, endpoint, time.Since(start).Seconds())
	}()

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if c.rateLimiter != nil {
			if err := c.rateLimiter.Wait(req.Context()); err != nil {
				return nil, fmt.Errorf("rate limiter wait: %w", err)
			}
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			c.metrics.RecordSourceRequestFailed(c.config.Source, endpoint, "network")
			lastErr = fmt.Errorf("%w: %s request failed: %v", domain.ErrNetwork, c.config.Source, err)
			if attempt < c.config.MaxRetries {
				if err := waitForRetry(req.Context(), c.config.RetryDelay); err != nil {
					return nil, err
				}
				if err := resetRequestBody(req); err != nil {
					return nil, fmt.Errorf("cannot retry request: %w", err)
				}
				continue
			}
			return nil, lastErr
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			c.metrics.RecordSourceRateLimited(c.config.Source)
			retryDelay := c.getRetryDelay(resp)
			drainAndClose(resp)

			if attempt < c.config.MaxRetries {
				if err := waitForRetry(req.Context(), retryDelay); err != nil {
					return nil, err
				}
				if err := resetRequestBody(req); err != nil {
					return nil, fmt.Errorf("cannot retry request: %w", err)
				}
				continue
			}

			return nil, domain.NewRateLimitError(c.config.Source, retryDelay)
		}

		if resp.StatusCode >= 500 {
			c.metrics.RecordSourceRequestFailed(c.config.Source, endpoint, "server_error")
		}
		return resp, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("unexpected error: no response received")
}

// getRetryDelay determines how long to wait before retrying.
// It respects the Retry-After header if present, otherwise uses the configured retry delay.
func (c *HTTPClient) getRetryDelay(resp *http.Response) time.Duration {
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return c.config.RetryDelay
	}

	if seconds, err := strconv.ParseInt(retryAfter, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return c.config.RetryDelay
	}

	if t, err := http.ParseTime(retryAfter); err == nil {
		if delay := time.Until(t); delay > 0 {
			return delay
		}
	}

	return c.config.RetryDelay
}

// ErrorFromResponse turns a non-2xx response into a *domain.ExternalAPIError,
// reading at most 1 KiB of the body for the message. The body is closed.
func ErrorFromResponse(source string, resp *http.Response) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	msg := string(body)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	if resp.StatusCode == http.StatusNotFound {
		return domain.NewExternalAPIError(source, resp.StatusCode, msg, domain.ErrNotFound)
	}
	return domain.NewExternalAPIError(source, resp.StatusCode, msg, nil)
}

// waitForRetry waits for the specified duration, respecting context cancellation.
func waitForRetry(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// resetRequestBody resets the request body for retry if possible.
func resetRequestBody(req *http.Request) error {
	if req.Body == nil || req.GetBody == nil {
		return nil
	}

	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("failed to get request body for retry: %w", err)
	}
	req.Body = body
	return nil
}

func drainAndClose(resp *http.Response) {
	if resp.Body != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}
