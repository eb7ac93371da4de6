// Package feed fetches widget content from JSON feed endpoints.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/dashboard/internal/errors"
)

// maxBodyBytes bounds how much of a feed response is read.
const maxBodyBytes = 1 << 20

// DefaultTimeout applies when a Source has no timeout of its own.
const DefaultTimeout = 10 * time.Second

// Item is one entry in a feed.
type Item struct {
	Title     string    `json:"title"`
	URL       string    `json:"url,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	Published time.Time `json:"published"`
}

type response struct {
	Items []Item `json:"items"`
}

// HTTPClient abstracts HTTP calls for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Tokens supplies bearer tokens by service name.
type Tokens interface {
	GetToken(ctx context.Context, service string) (string, bool, error)
	RemoveToken(ctx context.Context, service string) error
}

// Client performs feed requests.
type Client struct {
	httpClient HTTPClient
	tokens     Tokens
	timeout    time.Duration
	logger     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client (for testing).
func WithHTTPClient(hc HTTPClient) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the default per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient creates a feed client. tokens may be nil when no widget
// needs authentication.
func NewClient(tokens Tokens, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		tokens:     tokens,
		timeout:    DefaultTimeout,
		logger:     logger.With().Str("component", "feed").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Source is a single feed endpoint bound to a Client.
type Source struct {
	client  *Client
	URL     string
	Service string
	Timeout time.Duration
}

// Source returns a Source for url, authenticated with the token for service
// when service is non-empty.
func (c *Client) Source(url, service string, timeout time.Duration) *Source {
	return &Source{client: c, URL: url, Service: service, Timeout: timeout}
}

// Fetch retrieves the feed's items.
func (s *Source) Fetch(ctx context.Context) ([]Item, error) {
	return s.client.Fetch(ctx, s.URL, s.Service, s.Timeout)
}

// Fetch performs one GET against url. Errors are classified so callers can
// decide between retrying and asking the user to re-authenticate:
// a missing token matches ErrTokenExpired, 401/403 evicts the token and
// matches ErrAuthFailure, 429 and 5xx are retryable, and transport failures
// match ErrUnavailable or ErrTimeout.
func (c *Client) Fetch(ctx context.Context, url, service string, timeout time.Duration) ([]Item, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %v: %w", err, perrors.ErrInvalidInput)
	}
	req.Header.Set("Accept", "application/json")

	if service != "" {
		if err := c.authorize(ctx, req, service); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("fetching %s: %w: %w", url, perrors.ErrTimeout, err)
		}
		return nil, fmt.Errorf("fetching %s: %w: %w", url, perrors.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("url", url).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("feed response")

	if resp.StatusCode >= 400 {
		return nil, c.statusError(ctx, resp, service)
	}

	var body response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding feed %s: %v: %w", url, err, perrors.ErrInvalidInput)
	}
	return body.Items, nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request, service string) error {
	if c.tokens == nil {
		return fmt.Errorf("no token store for %s: %w", service, perrors.ErrTokenExpired)
	}
	token, ok, err := c.tokens.GetToken(ctx, service)
	if err != nil {
		return fmt.Errorf("reading token for %s: %w", service, err)
	}
	if !ok {
		return fmt.Errorf("no valid token for %s: %w", service, perrors.ErrTokenExpired)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (c *Client) statusError(ctx context.Context, resp *http.Response, service string) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	apiErr := &perrors.APIError{
		Service:    serviceName(service),
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
	}
	if len(msg) > 0 {
		apiErr.Message = string(msg)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		apiErr.Err = perrors.ErrAuthFailure
		if service != "" && c.tokens != nil {
			if err := c.tokens.RemoveToken(ctx, service); err != nil {
				c.logger.Warn().Err(err).Str("service", service).Msg("failed to evict rejected token")
			}
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		apiErr.Err = perrors.ErrRateLimit
	case resp.StatusCode == http.StatusNotFound:
		apiErr.Err = perrors.ErrNotFound
	case resp.StatusCode >= 500:
		apiErr.Err = perrors.ErrUnavailable
	default:
		apiErr.Err = perrors.ErrInvalidInput
	}
	return apiErr
}

func serviceName(service string) string {
	if service == "" {
		return "feed"
	}
	return service
}
