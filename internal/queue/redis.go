package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lepinkainen/coverhub/internal/message"
)

const (
	fieldBody        = "body"
	fieldRedelivered = "redelivered"
)

// RedisOptions configures the Redis Streams transport.
type RedisOptions struct {
	Prefix    string
	Group     string
	Consumer  string
	ClaimIdle time.Duration
	Block     time.Duration
}

// Redis is a Transport backed by one Redis stream per topic and a shared
// consumer group. Deliveries that stay pending longer than ClaimIdle are
// claimed again by any consumer and marked as redelivered, carrying the
// group's delivery count.
type Redis struct {
	client *redis.Client
	opts   RedisOptions

	mu     sync.Mutex
	groups map[string]bool
}

// NewRedis creates a Redis Streams transport.
func NewRedis(client *redis.Client, opts RedisOptions) *Redis {
	if opts.Group == "" {
		opts.Group = "workers"
	}
	if opts.Consumer == "" {
		opts.Consumer = "consumer-" + message.NewTraceID()
	}
	if opts.ClaimIdle <= 0 {
		opts.ClaimIdle = 5 * time.Minute
	}
	if opts.Block <= 0 {
		opts.Block = 5 * time.Second
	}
	return &Redis{client: client, opts: opts, groups: make(map[string]bool)}
}

// Stream returns the stream key for topic.
func (r *Redis) Stream(topic message.Topic) string {
	if r.opts.Prefix == "" {
		return string(topic)
	}
	return r.opts.Prefix + ":" + string(topic)
}

func (r *Redis) ensureGroup(ctx context.Context, stream string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.groups[stream] {
		return nil
	}
	err := r.client.XGroupCreateMkStream(ctx, stream, r.opts.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group on %s: %w", stream, err)
	}
	r.groups[stream] = true
	return nil
}

func (r *Redis) Publish(ctx context.Context, topic message.Topic, body []byte, redelivered bool) error {
	flag := "0"
	if redelivered {
		flag = "1"
	}
	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.Stream(topic),
		Values: map[string]any{fieldBody: body, fieldRedelivered: flag},
	}).Err()
}

func (r *Redis) Receive(ctx context.Context, topic message.Topic, max int) ([]Delivery, error) {
	stream := r.Stream(topic)
	if err := r.ensureGroup(ctx, stream); err != nil {
		return nil, err
	}

	claimed, _, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    r.opts.Group,
		Consumer: r.opts.Consumer,
		MinIdle:  r.opts.ClaimIdle,
		Start:    "0-0",
		Count:    int64(max),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to claim idle messages on %s: %w", stream, err)
	}
	if len(claimed) > 0 {
		out := make([]Delivery, 0, len(claimed))
		for _, msg := range claimed {
			d := toDelivery(topic, msg)
			d.Redelivered = true
			d.Attempts = r.deliveryCount(ctx, stream, msg.ID)
			out = append(out, d)
		}
		return out, nil
	}

	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    r.opts.Group,
		Consumer: r.opts.Consumer,
		Streams:  []string{stream, ">"},
		Count:    int64(max),
		Block:    r.opts.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read from %s: %w", stream, err)
	}

	var out []Delivery
	for _, s := range streams {
		for _, msg := range s.Messages {
			out = append(out, toDelivery(topic, msg))
		}
	}
	return out, nil
}

// deliveryCount reads how often the group handed out id. XAUTOCLAIM has
// already counted the current claim. Returns 0 when the entry is not pending.
func (r *Redis) deliveryCount(ctx context.Context, stream, id string) int {
	pending, err := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  r.opts.Group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 0
	}
	return int(pending[0].RetryCount)
}

func toDelivery(topic message.Topic, msg redis.XMessage) Delivery {
	d := Delivery{ID: msg.ID, Topic: topic, Attempts: 1}
	switch body := msg.Values[fieldBody].(type) {
	case string:
		d.Body = []byte(body)
	case []byte:
		d.Body = body
	}
	if flag, ok := msg.Values[fieldRedelivered].(string); ok && flag == "1" {
		d.Redelivered = true
	}
	return d
}

func (r *Redis) Ack(ctx context.Context, d Delivery) error {
	stream := r.Stream(d.Topic)
	pipe := r.client.TxPipeline()
	pipe.XAck(ctx, stream, r.opts.Group, d.ID)
	pipe.XDel(ctx, stream, d.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to ack %s on %s: %w", d.ID, stream, err)
	}
	return nil
}

// Nack leaves the entry pending. It is reclaimed after ClaimIdle.
func (r *Redis) Nack(context.Context, Delivery) error {
	return nil
}

// Depth returns the number of entries in the topic stream.
func (r *Redis) Depth(ctx context.Context, topic message.Topic) (int64, error) {
	return r.client.XLen(ctx, r.Stream(topic)).Result()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
