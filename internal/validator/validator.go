// Package validator checks that vendor image URLs are reachable before they
// are recorded as sources.
package validator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lepinkainen/coverhub/internal/ratelimit"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultRatePerSecond = 5
	userAgent            = "coverhub-validator/1.0"
)

// HTTPDoer is an interface for making HTTP requests.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Result describes a checked URL.
type Result struct {
	URL           string
	Found         bool
	LastModified  *time.Time
	ContentLength *int64
}

// Validator probes remote images with HEAD, falling back to GET when HEAD
// is refused.
type Validator struct {
	httpClient HTTPDoer
	limiter    *ratelimit.Keyed
}

// Option configures a Validator.
type Option func(*Validator)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c HTTPDoer) Option {
	return func(v *Validator) {
		if c != nil {
			v.httpClient = c
		}
	}
}

// WithRatePerSecond limits requests per remote host.
func WithRatePerSecond(rps int) Option {
	return func(v *Validator) {
		v.limiter = ratelimit.NewKeyed("validator", rps)
	}
}

// New creates a Validator.
func New(opts ...Option) *Validator {
	v := &Validator{
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    ratelimit.NewKeyed("validator", defaultRatePerSecond),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks rawURL. Unreachable hosts and non-2xx responses give a
// Result with Found false. Timeouts and cancellation are returned as errors
// so the caller can retry later.
func (v *Validator) Validate(ctx context.Context, rawURL string) (Result, error) {
	res := Result{URL: rawURL}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return res, nil
	}
	if err := v.limiter.Wait(ctx, u.Host); err != nil {
		return res, err
	}

	resp, err := v.do(ctx, http.MethodHead, rawURL)
	if err == nil && (resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented) {
		_ = resp.Body.Close()
		resp, err = v.do(ctx, http.MethodGet, rawURL)
	}
	if err != nil {
		if isTransient(ctx, err) {
			return res, fmt.Errorf("failed to check %s: %w", rawURL, err)
		}
		return res, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return res, nil
	}

	res.Found = true
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			t = t.UTC()
			res.LastModified = &t
		}
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n >= 0 {
			res.ContentLength = &n
		}
	} else if resp.ContentLength >= 0 {
		n := resp.ContentLength
		res.ContentLength = &n
	}
	return res, nil
}

func (v *Validator) do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	return v.httpClient.Do(req)
}

func isTransient(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
