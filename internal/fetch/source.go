// Package fetch talks to external bibliographic services.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/matsen/litreview/internal/identifier"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 60 * time.Second

// Record is one raw payload returned by a service.
type Record struct {
	ExternalID string
	Content    []byte
}

// Source is an external bibliographic service.
type Source interface {
	Name() identifier.Source
	// Count returns how many results query matches.
	Count(ctx context.Context, query string) (int, error)
	// Search returns up to max external ids matching query.
	Search(ctx context.Context, query string, max int) ([]string, error)
	// Fetch returns the payloads of ids. Ids the service does not know are
	// simply absent from the result; an error means the whole call failed.
	Fetch(ctx context.Context, ids []string) ([]Record, error)
}

// ClientOption configures a service client.
type ClientOption func(*client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *client) {
		c.httpClient = hc
	}
}

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) ClientOption {
	return func(c *client) {
		c.baseURL = url
	}
}

// WithRateLimit sets the sustained request rate per second.
func WithRateLimit(perSecond float64) ClientOption {
	return func(c *client) {
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// client is the rate-limited HTTP plumbing shared by the service clients.
type client struct {
	source     identifier.Source
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
}

func newClient(src identifier.Source, baseURL string, perSecond float64, opts []ClientOption) client {
	c := client{
		source:     src,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(perSecond), 1),
		baseURL:    baseURL,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// get performs a rate-limited GET and returns the body.
func (c *client) get(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ServiceError{Source: c.source, Transient: true, Err: fmt.Errorf("%w: %v", ErrNetworkError, err)}
	}
	defer resp.Body.Close()

	if err := checkHTTPErrors(c.source, resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ServiceError{Source: c.source, Transient: true, Err: fmt.Errorf("%w: reading body: %v", ErrNetworkError, err)}
	}
	return body, nil
}

// invalid wraps a body that could not be parsed.
func (c *client) invalid(format string, args ...any) error {
	return &ServiceError{Source: c.source, Err: fmt.Errorf("%w: %s", ErrInvalidResponse, fmt.Sprintf(format, args...))}
}
