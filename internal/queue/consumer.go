package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/lepinkainen/coverhub/internal/errors"
	"github.com/lepinkainen/coverhub/internal/message"
	"github.com/lepinkainen/coverhub/internal/metrics"
)

// Handler processes one delivery. The returned error decides what happens
// to the message:
//
//	nil                  acknowledged
//	SkipError            acknowledged, logged at info
//	UnrecoverableError   acknowledged and counted as rejected
//	RequeueError         published again with the redelivered flag
//	anything else        left for redelivery, or moved to the failed
//	                     queue once the delivery reached max attempts
type Handler interface {
	Handle(ctx context.Context, d Delivery) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, d Delivery) error

func (f HandlerFunc) Handle(ctx context.Context, d Delivery) error {
	return f(ctx, d)
}

// Consumer runs a pool of workers on one topic.
type Consumer struct {
	transport   Transport
	topic       message.Topic
	handler     Handler
	workers     int
	logger      *slog.Logger
	metrics     *metrics.Metrics
	backoff     time.Duration
	// maxAttempts of zero retries forever.
	maxAttempts int
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithWorkers sets the number of concurrent workers.
func WithWorkers(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithLogger sets the consumer logger.
func WithLogger(l *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = l
	}
}

// WithMetrics records message outcomes.
func WithMetrics(m *metrics.Metrics) ConsumerOption {
	return func(c *Consumer) {
		c.metrics = m
	}
}

// WithMaxAttempts moves a delivery that keeps failing to the failed queue
// after n attempts.
func WithMaxAttempts(n int) ConsumerOption {
	return func(c *Consumer) {
		c.maxAttempts = n
	}
}

// NewConsumer creates a consumer for topic.
func NewConsumer(t Transport, topic message.Topic, h Handler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		transport: t,
		topic:     topic,
		handler:   h,
		workers:   1,
		logger:    slog.Default(),
		backoff:   time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run processes messages until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			c.loop(ctx, worker)
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

func (c *Consumer) loop(ctx context.Context, worker int) {
	log := c.logger.With("queue", c.topic, "worker", worker)
	for ctx.Err() == nil {
		deliveries, err := c.transport.Receive(ctx, c.topic, 1)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("Failed to receive messages", "error", err)
			sleep(ctx, c.backoff)
			continue
		}
		for _, d := range deliveries {
			c.Process(ctx, d)
		}
	}
}

// Process runs the handler for d and settles the delivery.
func (c *Consumer) Process(ctx context.Context, d Delivery) {
	log := c.logger.With("queue", c.topic, "message_id", d.ID)
	err := c.handle(ctx, d)

	outcome := metrics.OutcomeAck
	switch {
	case err == nil:
		c.ack(ctx, log, d)
	case apperrors.IsSkipError(err):
		outcome = metrics.OutcomeSkip
		log.Info("Message skipped", "reason", err)
		c.ack(ctx, log, d)
	case apperrors.IsUnrecoverableError(err):
		outcome = metrics.OutcomeReject
		log.Error("Message rejected", "error", err)
		if apperrors.IsReplayable(err) {
			if perr := c.transport.Publish(ctx, message.TopicFailed, d.Body, d.Redelivered); perr != nil {
				log.Error("Failed to keep rejected message for replay", "error", perr)
			}
		}
		c.ack(ctx, log, d)
	case apperrors.IsRequeueError(err):
		outcome = metrics.OutcomeRequeue
		log.Warn("Message requeued", "error", err)
		if perr := c.transport.Publish(ctx, c.topic, d.Body, true); perr != nil {
			outcome = metrics.OutcomeRetry
			log.Error("Failed to requeue message", "error", perr)
			c.nack(ctx, log, d)
			break
		}
		c.ack(ctx, log, d)
	case c.maxAttempts > 0 && d.Attempts >= c.maxAttempts:
		outcome = metrics.OutcomeReject
		log.Error("Message failed too often, moving to failed queue", "attempts", d.Attempts, "error", err)
		if perr := c.transport.Publish(ctx, message.TopicFailed, d.Body, true); perr != nil {
			outcome = metrics.OutcomeRetry
			log.Error("Failed to move message to failed queue", "error", perr)
			c.nack(ctx, log, d)
			break
		}
		c.ack(ctx, log, d)
	default:
		outcome = metrics.OutcomeRetry
		log.Warn("Message processing failed, will retry", "error", err, "attempts", d.Attempts)
		c.nack(ctx, log, d)
	}
	c.metrics.Message(string(c.topic), outcome)
}

// handle turns handler panics into retryable errors so one bad message
// does not take the worker down.
func (c *Consumer) handle(ctx context.Context, d Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("handler panic")
			c.logger.Error("Handler panicked", "queue", c.topic, "panic", r)
		}
	}()
	return c.handler.Handle(ctx, d)
}

func (c *Consumer) ack(ctx context.Context, log *slog.Logger, d Delivery) {
	if err := c.transport.Ack(ctx, d); err != nil {
		log.Error("Failed to ack message", "error", err)
	}
}

func (c *Consumer) nack(ctx context.Context, log *slog.Logger, d Delivery) {
	if err := c.transport.Nack(ctx, d); err != nil {
		log.Error("Failed to nack message", "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Group runs several consumers and stops them together.
type Group struct {
	consumers []*Consumer
}

// Add registers a consumer.
func (g *Group) Add(c *Consumer) {
	g.consumers = append(g.consumers, c)
}

// Run blocks until ctx is cancelled and every consumer has stopped.
func (g *Group) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, c := range g.consumers {
		wg.Add(1)
		go func(c *Consumer) {
			defer wg.Done()
			_ = c.Run(ctx)
		}(c)
	}
	wg.Wait()
	return ctx.Err()
}
