package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/lepinkainen/coverhub/internal/config"
	"github.com/lepinkainen/coverhub/internal/message"
	"github.com/lepinkainen/coverhub/internal/queue"
	"github.com/lepinkainen/coverhub/internal/server"
)

// WorkerCmd consumes the pipeline queues
type WorkerCmd struct {
	Queues  []string `help:"Queues to consume (default: all)" enum:"vendor_image,cover_store,search,index,delete,no_hit"`
	Workers int      `help:"Workers per queue (overrides queue.workers)"`
	NoAdmin bool     `help:"Do not start the metrics and health listener"`
}

// topics resolves the --queues selection.
func (w *WorkerCmd) topics() []message.Topic {
	if len(w.Queues) == 0 {
		return message.Topics
	}
	topics := make([]message.Topic, 0, len(w.Queues))
	for _, q := range w.Queues {
		topics = append(topics, message.Topic(q))
	}
	return topics
}

func (w *WorkerCmd) Run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := newApp(*cfg)
	defer func() { _ = a.Close() }()

	p, err := a.Pipeline(ctx)
	if err != nil {
		return err
	}
	t, err := a.Transport(ctx)
	if err != nil {
		return err
	}

	workers := cfg.Queue.Workers
	if w.Workers > 0 {
		workers = w.Workers
	}

	handlers := p.Handlers()
	var group queue.Group
	for _, topic := range w.topics() {
		group.Add(queue.NewConsumer(t, topic, handlers[topic],
			queue.WithWorkers(workers),
			queue.WithLogger(a.logger),
			queue.WithMetrics(a.metrics),
			queue.WithMaxAttempts(cfg.Queue.MaxAttempts),
		))
	}

	errCh := make(chan error, 1)
	if !w.NoAdmin {
		admin, err := a.AdminServer(ctx)
		if err != nil {
			return err
		}
		go func() {
			err := admin.ListenAndServe(ctx, cfg.Admin.Addr)
			if err != nil {
				slog.Error("Admin server failed", "error", err)
				stop()
			}
			errCh <- err
		}()
	}

	slog.Info("Worker started", "queues", w.topics(), "workers", workers, "backend", cfg.Queue.Backend)
	if err := group.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("worker stopped: %w", err)
	}

	if !w.NoAdmin {
		if err := <-errCh; err != nil {
			return err
		}
	}
	slog.Info("Worker stopped")
	return nil
}

// AdminServer builds the metrics and health listener for the opened backends.
func (a *app) AdminServer(ctx context.Context) (*server.Server, error) {
	store, err := a.Store(ctx)
	if err != nil {
		return nil, err
	}
	opts := []server.Option{
		server.WithLogger(a.logger),
		server.WithCheck("database", store),
	}
	if a.rdb != nil {
		rdb := a.rdb
		opts = append(opts, server.WithCheck("redis", server.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})))
	}
	if p, ok := a.covers.(server.Pinger); ok {
		opts = append(opts, server.WithCheck("coverstore", p))
	}
	return server.New(a.metrics.Handler(), opts...), nil
}
