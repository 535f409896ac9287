// Package queue moves pipeline messages between workers over Redis Streams
// (or an in-process transport) and runs the consumer pools.
package queue

import (
	"context"
	"fmt"

	"github.com/lepinkainen/coverhub/internal/message"
)

// Delivery is one received message.
type Delivery struct {
	ID          string
	Topic       message.Topic
	Body        []byte
	Redelivered bool
	// Attempts counts deliveries of this entry, the current one included.
	// Zero when the transport cannot tell.
	Attempts int
}

// Transport moves raw message bodies.
type Transport interface {
	// Publish appends body to topic. redelivered marks an explicit requeue.
	Publish(ctx context.Context, topic message.Topic, body []byte, redelivered bool) error
	// Receive waits for up to max deliveries. It returns an empty slice
	// when nothing arrived within the transport's block interval.
	Receive(ctx context.Context, topic message.Topic, max int) ([]Delivery, error)
	// Ack removes a processed delivery.
	Ack(ctx context.Context, d Delivery) error
	// Nack leaves a delivery for the transport's redelivery policy.
	Nack(ctx context.Context, d Delivery) error
	Close() error
}

// Bus encodes messages and publishes them on a transport.
type Bus struct {
	transport Transport
}

// NewBus creates a Bus on top of t.
func NewBus(t Transport) *Bus {
	return &Bus{transport: t}
}

// Publish encodes msg and appends it to topic.
func (b *Bus) Publish(ctx context.Context, topic message.Topic, msg any) error {
	body, err := message.Encode(msg)
	if err != nil {
		return err
	}
	if err := b.transport.Publish(ctx, topic, body, false); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}
