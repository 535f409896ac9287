package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/lepinkainen/coverhub/internal/errors"
	"github.com/lepinkainen/coverhub/internal/message"
	"github.com/lepinkainen/coverhub/internal/metrics"
)

func newTestConsumer(t *testing.T, h HandlerFunc) (*Memory, *Consumer, *metrics.Metrics) {
	t.Helper()
	mem := NewMemory()
	mem.RetryDelay = 10 * time.Millisecond
	mem.Block = 20 * time.Millisecond
	m := metrics.New()
	return mem, NewConsumer(mem, message.TopicSearch, h, WithMetrics(m)), m
}

func TestProcessDispositions(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		outcome     string
		acked       int
		pending     int
		failedQueue int
	}{
		{name: "success", err: nil, outcome: metrics.OutcomeAck, acked: 1},
		{name: "skip", err: apperrors.NewSkipError("nothing to do"), outcome: metrics.OutcomeSkip, acked: 1},
		{name: "reject", err: apperrors.NewUnrecoverableError("bad", nil), outcome: metrics.OutcomeReject, acked: 1},
		{name: "reject with replay", err: apperrors.NewReplayableError("bad", nil), outcome: metrics.OutcomeReject, acked: 1, failedQueue: 1},
		{name: "requeue", err: apperrors.NewRequeueError(errors.New("later")), outcome: metrics.OutcomeRequeue, acked: 1, pending: 1},
		{name: "retry", err: errors.New("db down"), outcome: metrics.OutcomeRetry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem, c, m := newTestConsumer(t, func(context.Context, Delivery) error { return tt.err })

			c.Process(context.Background(), Delivery{ID: "1", Topic: message.TopicSearch, Body: []byte(`{}`)})

			assert.Equal(t, float64(1), m.MessageCount(string(message.TopicSearch), tt.outcome))
			assert.Len(t, mem.Acked(message.TopicSearch), tt.acked)
			assert.Len(t, mem.Pending(message.TopicSearch), tt.pending)
			assert.Len(t, mem.Pending(message.TopicFailed), tt.failedQueue)
		})
	}
}

func TestRequeueSetsRedelivered(t *testing.T) {
	mem, c, _ := newTestConsumer(t, func(context.Context, Delivery) error {
		return apperrors.NewRequeueError(errors.New("not yet"))
	})

	c.Process(context.Background(), Delivery{ID: "1", Topic: message.TopicSearch, Body: []byte(`{"a":1}`)})

	got, err := mem.Receive(context.Background(), message.TopicSearch, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Redelivered)
	assert.Equal(t, `{"a":1}`, string(got[0].Body))
}

func TestRetryRedelivers(t *testing.T) {
	var calls atomic.Int32
	mem, c, _ := newTestConsumer(t, func(_ context.Context, d Delivery) error {
		if calls.Add(1) == 1 {
			assert.False(t, d.Redelivered)
			return errors.New("transient")
		}
		assert.True(t, d.Redelivered)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, mem.Publish(ctx, message.TopicSearch, []byte(`{}`), false))

	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(mem.Acked(message.TopicSearch)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, int32(2), calls.Load())
}

func TestRetryStopsAtMaxAttempts(t *testing.T) {
	mem := NewMemory()
	mem.RetryDelay = 10 * time.Millisecond
	mem.Block = 20 * time.Millisecond
	m := metrics.New()

	var calls atomic.Int32
	c := NewConsumer(mem, message.TopicSearch, HandlerFunc(func(_ context.Context, d Delivery) error {
		assert.Equal(t, int(calls.Add(1)), d.Attempts)
		return errors.New("datawell down")
	}), WithMetrics(m), WithMaxAttempts(3))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, mem.Publish(ctx, message.TopicSearch, []byte(`{"b":2}`), false))

	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(mem.Pending(message.TopicFailed)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, `{"b":2}`, string(mem.Pending(message.TopicFailed)[0]))
	assert.Len(t, mem.Acked(message.TopicSearch), 1)
	assert.Equal(t, float64(2), m.MessageCount(string(message.TopicSearch), metrics.OutcomeRetry))
	assert.Equal(t, float64(1), m.MessageCount(string(message.TopicSearch), metrics.OutcomeReject))
}

func TestUnlimitedAttemptsKeepRetrying(t *testing.T) {
	mem, c, m := newTestConsumer(t, func(context.Context, Delivery) error {
		return errors.New("transient")
	})

	c.Process(context.Background(), Delivery{ID: "1", Topic: message.TopicSearch, Attempts: 50})

	assert.Equal(t, float64(1), m.MessageCount(string(message.TopicSearch), metrics.OutcomeRetry))
	assert.Empty(t, mem.Acked(message.TopicSearch))
	assert.Empty(t, mem.Pending(message.TopicFailed))
}

func TestPanicIsRetried(t *testing.T) {
	mem, c, m := newTestConsumer(t, func(context.Context, Delivery) error {
		panic("boom")
	})

	c.Process(context.Background(), Delivery{ID: "1", Topic: message.TopicSearch})

	assert.Equal(t, float64(1), m.MessageCount(string(message.TopicSearch), metrics.OutcomeRetry))
	assert.Empty(t, mem.Acked(message.TopicSearch))
}

func TestBusPublishEncodes(t *testing.T) {
	mem := NewMemory()
	bus := NewBus(mem)
	env := message.Envelope{Operation: message.OpInsert, IdentifierType: "isbn", Identifier: "9788700000000", VendorID: 1}

	require.NoError(t, bus.Publish(context.Background(), message.TopicCoverStore, env))

	pending := mem.Pending(message.TopicCoverStore)
	require.Len(t, pending, 1)
	decoded, err := message.DecodeEnvelope(pending[0])
	require.NoError(t, err)
	assert.Equal(t, env.Identifier, decoded.Identifier)
	assert.Equal(t, env.VendorID, decoded.VendorID)
}

func TestMemoryReceiveTimesOut(t *testing.T) {
	mem := NewMemory()
	mem.Block = 10 * time.Millisecond

	got, err := mem.Receive(context.Background(), message.TopicIndex, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryReceiveCancelled(t *testing.T) {
	mem := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mem.Receive(ctx, message.TopicIndex, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
