package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterWait(t *testing.T) {
	l := New("datawell", 100)
	assert.Equal(t, "datawell", l.Name())

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
}

func TestLimiterWaitCancelled(t *testing.T) {
	l := New("slow", 1)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait for slow")
}

func TestNilLimitersDoNotBlock(t *testing.T) {
	var l *Limiter
	require.NoError(t, l.Wait(context.Background()))

	var k *Keyed
	require.NoError(t, k.Wait(context.Background(), "example.com"))
}

func TestKeyedSeparatesHosts(t *testing.T) {
	k := NewKeyed("validator", 1)

	a := k.For("a.example")
	assert.Same(t, a, k.For("a.example"))
	assert.NotSame(t, a, k.For("b.example"))
	assert.Equal(t, "validator:a.example", a.Name())

	// Each host gets its own burst.
	require.NoError(t, k.Wait(context.Background(), "a.example"))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, k.Wait(ctx, "b.example"))
}

func TestZeroRateDoesNotBlock(t *testing.T) {
	l := New("unlimited", 0)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	for i := 0; i < 10; i++ {
		require.NoError(t, l.Wait(ctx))
	}
}
