package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type locker interface {
	Acquire(ctx context.Context, vendorID int, force bool) (*Lock, error)
	Held(ctx context.Context, vendorID int) (bool, time.Duration, error)
}

func testLocker(t *testing.T, l locker, vendorID int) {
	ctx := context.Background()

	first, err := l.Acquire(ctx, vendorID, false)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, vendorID, false)
	assert.ErrorIs(t, err, ErrLocked)

	held, ttl, err := l.Held(ctx, vendorID)
	require.NoError(t, err)
	assert.True(t, held)
	assert.Positive(t, ttl)

	forced, err := l.Acquire(ctx, vendorID, true)
	require.NoError(t, err)

	// The stale holder must not free the forced lock.
	require.NoError(t, first.Release(ctx))
	_, err = l.Acquire(ctx, vendorID, false)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, forced.Release(ctx))
	held, _, err = l.Held(ctx, vendorID)
	require.NoError(t, err)
	assert.False(t, held)

	again, err := l.Acquire(ctx, vendorID, false)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestMemoryLock(t *testing.T) {
	testLocker(t, NewMemory(time.Minute), 42)
}

func TestMemoryLockExpires(t *testing.T) {
	m := NewMemory(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	_, err := m.Acquire(context.Background(), 1, false)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = m.Acquire(context.Background(), 1, false)
	assert.NoError(t, err)
}

func TestRedisLock(t *testing.T) {
	addr := os.Getenv("COVERHUB_TEST_REDIS")
	if addr == "" {
		t.Skip("COVERHUB_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	vendorID := int(time.Now().UnixNano() % 1_000_000)
	defer client.Del(context.Background(), Key(vendorID))

	testLocker(t, NewRedis(client, time.Minute), vendorID)
}

func TestNilLockRelease(t *testing.T) {
	var l *Lock
	assert.NoError(t, l.Release(context.Background()))
}
