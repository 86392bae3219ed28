package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	defaultTimeout      = 5 * time.Minute
	defaultMaxRetries   = 3
	defaultRetryWaitMin = 1 * time.Second
	defaultRetryWaitMax = 30 * time.Second
)

// HTTPFetcher downloads artifacts with a bounded retry policy and exponential backoff.
// Every attempt is bounded by the configured timeout, body transfer included.
type HTTPFetcher struct {
	client *retryablehttp.Client
}

type httpConfig struct {
	logger       *slog.Logger
	timeout      time.Duration
	maxRetries   int
	retryWaitMin time.Duration
	retryWaitMax time.Duration
}

// HTTPOption configures an HTTPFetcher.
type HTTPOption func(*httpConfig)

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) HTTPOption {
	return func(c *httpConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n int) HTTPOption {
	return func(c *httpConfig) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryWait sets the backoff bounds.
func WithRetryWait(minWait, maxWait time.Duration) HTTPOption {
	return func(c *httpConfig) {
		if minWait > 0 {
			c.retryWaitMin = minWait
		}
		if maxWait >= minWait && maxWait > 0 {
			c.retryWaitMax = maxWait
		}
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) HTTPOption {
	return func(c *httpConfig) {
		c.logger = l
	}
}

// NewHTTPFetcher creates an HTTP(S) fetcher.
func NewHTTPFetcher(opts ...HTTPOption) *HTTPFetcher {
	cfg := &httpConfig{
		timeout:      defaultTimeout,
		maxRetries:   defaultMaxRetries,
		retryWaitMin: defaultRetryWaitMin,
		retryWaitMax: defaultRetryWaitMax,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	client := retryablehttp.NewClient()
	client.HTTPClient.Timeout = cfg.timeout
	client.RetryMax = cfg.maxRetries
	client.RetryWaitMin = cfg.retryWaitMin
	client.RetryWaitMax = cfg.retryWaitMax
	client.Logger = cfg.logger.With("component", "fetch")

	return &HTTPFetcher{client: client}
}

// Fetch performs a GET on rawURL and streams the body into dst.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, dst io.Writer) (int64, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("GET %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: GET %s: %s", ErrUnexpectedStatus, rawURL, resp.Status)
	}

	n, err := io.Copy(dst, resp.Body)
	if err != nil {
		return n, fmt.Errorf("read body of %s after %d bytes: %w", rawURL, n, err)
	}

	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return n, fmt.Errorf("short body for %s: got %d of %d bytes", rawURL, n, resp.ContentLength)
	}

	return n, nil
}
