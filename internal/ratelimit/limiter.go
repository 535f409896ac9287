// Package ratelimit wraps golang.org/x/time/rate for outbound HTTP callers.
package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter wraps rate.Limiter with a name for logging/debugging.
type Limiter struct {
	limiter *rate.Limiter
	name    string
}

// New creates a new rate limiter with the given requests per second.
// The burst size equals the rate, allowing short bursts up to the rate limit.
// A non-positive rate disables limiting.
func New(name string, requestsPerSecond int) *Limiter {
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}
	return &Limiter{
		limiter: rate.NewLimiter(limit, max(requestsPerSecond, 1)),
		name:    name,
	}
}

// Wait blocks until the rate limiter allows a request to proceed.
// A nil limiter never blocks.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", l.name, err)
	}
	return nil
}

// Name returns the name of this rate limiter.
func (l *Limiter) Name() string {
	return l.name
}

// Keyed hands out one limiter per key, e.g. per remote host, so a slow
// vendor server cannot starve requests to the others.
type Keyed struct {
	mu     sync.Mutex
	perKey map[string]*Limiter
	rps    int
	name   string
}

// NewKeyed creates a Keyed limiter allowing requestsPerSecond for each key.
func NewKeyed(name string, requestsPerSecond int) *Keyed {
	return &Keyed{
		perKey: make(map[string]*Limiter),
		rps:    requestsPerSecond,
		name:   name,
	}
}

// For returns the limiter of key, creating it on first use.
func (k *Keyed) For(key string) *Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.perKey[key]
	if !ok {
		l = New(k.name+":"+key, k.rps)
		k.perKey[key] = l
	}
	return l
}

// Wait blocks until a request for key may proceed. A nil Keyed never blocks.
func (k *Keyed) Wait(ctx context.Context, key string) error {
	if k == nil {
		return nil
	}
	return k.For(key).Wait(ctx)
}
