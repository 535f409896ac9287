// Package datawell resolves identifiers to bibliographic materials through
// the datawell search API.
package datawell

import (
	"net/http"
	"strings"
	"time"

	"github.com/lepinkainen/coverhub/internal/cache"
	"github.com/lepinkainen/coverhub/internal/metrics"
	"github.com/lepinkainen/coverhub/internal/ratelimit"
)

const (
	defaultBaseURL       = "https://openplatform.dbc.dk/v3"
	defaultMaxAttempts   = 3
	defaultRatePerSecond = 10
	defaultCacheTTL      = 30 * 24 * time.Hour
	defaultNegativeTTL   = 24 * time.Hour
)

// HTTPDoer is an interface for making HTTP requests.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client is a datawell search client.
type Client struct {
	baseURL       string
	agency        string
	profile       string
	token         string
	httpClient    HTTPDoer
	rateLimiter   *ratelimit.Limiter
	retryAttempts int
	cache         *cache.CacheDB
	cacheTTL      time.Duration
	negativeTTL   time.Duration
	metrics       *metrics.Metrics
}

// NewClient creates a datawell client for agency and search profile.
func NewClient(agency, profile, token string, opts ...Option) *Client {
	client := &Client{
		baseURL:       defaultBaseURL,
		agency:        agency,
		profile:       profile,
		token:         token,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		rateLimiter:   ratelimit.New("datawell", defaultRatePerSecond),
		retryAttempts: defaultMaxAttempts,
		cacheTTL:      defaultCacheTTL,
		negativeTTL:   defaultNegativeTTL,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c HTTPDoer) Option {
	return func(client *Client) {
		if c != nil {
			client.httpClient = c
		}
	}
}

// WithBaseURL sets a custom base URL for the datawell API.
func WithBaseURL(base string) Option {
	return func(client *Client) {
		if base != "" {
			client.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithRetryAttempts sets how often timeouts and connection errors are retried.
func WithRetryAttempts(attempts int) Option {
	return func(client *Client) {
		if attempts > 0 {
			client.retryAttempts = attempts
		}
	}
}

// WithRateLimiter overrides the rate limiter. nil disables limiting.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(client *Client) {
		client.rateLimiter = l
	}
}

// WithCache caches search results. Zero-hit results are kept for negativeTTL.
func WithCache(c *cache.CacheDB, ttl, negativeTTL time.Duration) Option {
	return func(client *Client) {
		client.cache = c
		if ttl > 0 {
			client.cacheTTL = ttl
		}
		if negativeTTL > 0 {
			client.negativeTTL = negativeTTL
		}
	}
}

// WithMetrics records search outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(client *Client) {
		client.metrics = m
	}
}
