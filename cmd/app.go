package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/lepinkainen/coverhub/internal/cache"
	"github.com/lepinkainen/coverhub/internal/config"
	"github.com/lepinkainen/coverhub/internal/coverstore"
	"github.com/lepinkainen/coverhub/internal/datastore"
	"github.com/lepinkainen/coverhub/internal/datawell"
	"github.com/lepinkainen/coverhub/internal/importer"
	"github.com/lepinkainen/coverhub/internal/lock"
	"github.com/lepinkainen/coverhub/internal/metrics"
	"github.com/lepinkainen/coverhub/internal/pipeline"
	"github.com/lepinkainen/coverhub/internal/queue"
	"github.com/lepinkainen/coverhub/internal/ratelimit"
	"github.com/lepinkainen/coverhub/internal/validator"
	"github.com/redis/go-redis/v9"
)

// vendorLocker is the lock API the CLI needs on top of the importer's.
type vendorLocker interface {
	importer.Locker
	Held(ctx context.Context, vendorID int) (bool, time.Duration, error)
}

// app opens the backends a command needs and closes them in reverse order.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	closers []func() error

	store     *datastore.Store
	rdb       *redis.Client
	transport queue.Transport
	locker    vendorLocker
	covers    coverstore.Gateway
}

func newApp(cfg config.Config) *app {
	return &app{cfg: cfg, logger: slog.Default(), metrics: metrics.New()}
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases every opened backend.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) Store(ctx context.Context) (*datastore.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	store, err := datastore.Open(ctx, a.cfg.Database.Driver, a.cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	a.onClose(store.Close)
	a.store = store
	return store, nil
}

// Redis returns the shared client, or nil when the queue runs in memory.
func (a *app) Redis(ctx context.Context) (*redis.Client, error) {
	if a.cfg.Queue.Backend != "redis" {
		return nil, nil
	}
	if a.rdb != nil {
		return a.rdb, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", a.cfg.Redis.Addr, err)
	}
	a.onClose(rdb.Close)
	a.rdb = rdb
	return rdb, nil
}

func (a *app) Transport(ctx context.Context) (queue.Transport, error) {
	if a.transport != nil {
		return a.transport, nil
	}
	rdb, err := a.Redis(ctx)
	if err != nil {
		return nil, err
	}
	if rdb == nil {
		a.logger.Warn("Using in-memory queue; messages do not outlive this process")
		a.transport = queue.NewMemory()
		return a.transport, nil
	}
	a.transport = queue.NewRedis(rdb, queue.RedisOptions{
		Prefix:    a.cfg.Queue.Prefix,
		Group:     a.cfg.Queue.Group,
		Consumer:  a.cfg.Queue.Consumer,
		ClaimIdle: a.cfg.Queue.ClaimIdle,
		Block:     a.cfg.Queue.Block,
	})
	return a.transport, nil
}

func (a *app) Locker(ctx context.Context) (vendorLocker, error) {
	if a.locker != nil {
		return a.locker, nil
	}
	rdb, err := a.Redis(ctx)
	if err != nil {
		return nil, err
	}
	if rdb == nil {
		a.locker = lock.NewMemory(a.cfg.Import.LockTTL)
	} else {
		a.locker = lock.NewRedis(rdb, a.cfg.Import.LockTTL)
	}
	return a.locker, nil
}

func (a *app) CoverStore(ctx context.Context) (coverstore.Gateway, error) {
	if a.covers != nil {
		return a.covers, nil
	}
	cs := a.cfg.CoverStore
	if cs.Backend == "memory" {
		a.covers = coverstore.NewMemory(cs.PublicURL, http.DefaultClient, cs.MaxSize)
		return a.covers, nil
	}

	m, err := coverstore.NewMinio(coverstore.MinioOptions{
		Endpoint:  cs.Endpoint,
		AccessKey: cs.AccessKey,
		SecretKey: cs.SecretKey,
		Bucket:    cs.Bucket,
		Region:    cs.Region,
		UseSSL:    cs.UseSSL,
		PublicURL: cs.PublicURL,
		MaxSize:   cs.MaxSize,
	})
	if err != nil {
		return nil, err
	}
	if err := m.EnsureBucket(ctx, cs.Region); err != nil {
		return nil, err
	}
	a.covers = m
	return m, nil
}

// Datawell builds the search client with its response cache.
func (a *app) Datawell() (*datawell.Client, error) {
	dw := a.cfg.Datawell
	c, err := cache.NewCacheDB(a.cfg.Cache.DBFile)
	if err != nil {
		return nil, err
	}
	a.onClose(c.Close)

	return datawell.NewClient(dw.Agency, dw.Profile, dw.Token,
		datawell.WithBaseURL(dw.URL),
		datawell.WithHTTPClient(&http.Client{Timeout: dw.Timeout}),
		datawell.WithRetryAttempts(dw.RetryAttempts),
		datawell.WithRateLimiter(ratelimit.New("datawell", dw.RatePerSecond)),
		datawell.WithCache(c, a.cfg.Cache.TTL, a.cfg.Cache.NegativeTTL),
		datawell.WithMetrics(a.metrics),
	), nil
}

func (a *app) Validator() *validator.Validator {
	return validator.New(
		validator.WithHTTPClient(&http.Client{Timeout: a.cfg.Validator.Timeout}),
		validator.WithRatePerSecond(a.cfg.Validator.RatePerSecond),
	)
}

// Core builds the import core.
func (a *app) Core(ctx context.Context) (*importer.Core, error) {
	store, err := a.Store(ctx)
	if err != nil {
		return nil, err
	}
	t, err := a.Transport(ctx)
	if err != nil {
		return nil, err
	}
	locker, err := a.Locker(ctx)
	if err != nil {
		return nil, err
	}
	return importer.NewCore(store, queue.NewBus(t), locker, a.metrics, a.logger), nil
}

// Pipeline wires every handler dependency.
func (a *app) Pipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	store, err := a.Store(ctx)
	if err != nil {
		return nil, err
	}
	t, err := a.Transport(ctx)
	if err != nil {
		return nil, err
	}
	covers, err := a.CoverStore(ctx)
	if err != nil {
		return nil, err
	}
	dw, err := a.Datawell()
	if err != nil {
		return nil, err
	}

	var guessers []config.Guesser
	if vf, err := config.LoadVendors(a.cfg.VendorsFile); err == nil {
		guessers = vf.Guessers
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	return pipeline.New(pipeline.Deps{
		Repo:       store,
		Bus:        queue.NewBus(t),
		Validator:  a.Validator(),
		CoverStore: covers,
		Datawell:   dw,
		Metrics:    a.metrics,
		Logger:     a.logger,
		NoHit:      a.cfg.NoHit.Enabled,
		Guessers:   guessers,
	}), nil
}
