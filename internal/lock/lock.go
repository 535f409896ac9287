// Package lock provides the per-vendor import lock.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lepinkainen/coverhub/internal/message"
)

// ErrLocked is returned when another import holds the vendor lock.
var ErrLocked = errors.New("vendor import is already running")

// DefaultTTL bounds how long a crashed import can block the vendor.
const DefaultTTL = 30 * time.Minute

// Lock is a held vendor lock.
type Lock struct {
	key     string
	token   string
	release func(ctx context.Context, key, token string) error
}

// Key returns the lock key.
func (l *Lock) Key() string {
	return l.key
}

// Release frees the lock if it is still owned by this holder.
func (l *Lock) Release(ctx context.Context) error {
	if l == nil || l.release == nil {
		return nil
	}
	return l.release(ctx, l.key, l.token)
}

// Key returns the lock key for a vendor.
func Key(vendorID int) string {
	return "coverhub:lock:vendor:" + strconv.Itoa(vendorID)
}

// releaseScript deletes the key only when it still holds our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// Redis implements the lock with SET NX PX.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis backed locker.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

// Acquire takes the vendor lock. With force an existing lock is replaced.
func (r *Redis) Acquire(ctx context.Context, vendorID int, force bool) (*Lock, error) {
	key := Key(vendorID)
	token := message.NewTraceID()

	if force {
		if err := r.client.Set(ctx, key, token, r.ttl).Err(); err != nil {
			return nil, fmt.Errorf("failed to force lock %s: %w", key, err)
		}
	} else {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if !ok {
			return nil, ErrLocked
		}
	}
	return &Lock{key: key, token: token, release: r.release}, nil
}

func (r *Redis) release(ctx context.Context, key, token string) error {
	if err := r.client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return nil
}

// Held reports whether the vendor is locked and for how much longer.
func (r *Redis) Held(ctx context.Context, vendorID int) (bool, time.Duration, error) {
	ttl, err := r.client.PTTL(ctx, Key(vendorID)).Result()
	if err != nil {
		return false, 0, err
	}
	// -2 means missing key.
	if ttl < 0 && ttl != -1 {
		return false, 0, nil
	}
	return true, ttl, nil
}

type entry struct {
	token   string
	expires time.Time
}

// Memory is a process-local locker.
type Memory struct {
	mu   sync.Mutex
	held map[string]entry
	ttl  time.Duration
	now  func() time.Time
}

// NewMemory creates a process-local locker.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{held: make(map[string]entry), ttl: ttl, now: time.Now}
}

func (m *Memory) Acquire(_ context.Context, vendorID int, force bool) (*Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := Key(vendorID)
	if e, ok := m.held[key]; ok && !force && m.now().Before(e.expires) {
		return nil, ErrLocked
	}
	token := message.NewTraceID()
	m.held[key] = entry{token: token, expires: m.now().Add(m.ttl)}
	return &Lock{key: key, token: token, release: m.release}, nil
}

func (m *Memory) release(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.held[key]; ok && e.token == token {
		delete(m.held, key)
	}
	return nil
}

func (m *Memory) Held(_ context.Context, vendorID int) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.held[Key(vendorID)]
	if !ok {
		return false, 0, nil
	}
	left := e.expires.Sub(m.now())
	if left <= 0 {
		return false, 0, nil
	}
	return true, left, nil
}
