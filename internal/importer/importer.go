// Package importer reconciles vendor feeds with the stored sources and
// starts the cover pipeline for everything that changed.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/lepinkainen/coverhub/internal/datastore"
	"github.com/lepinkainen/coverhub/internal/lock"
	"github.com/lepinkainen/coverhub/internal/message"
	"github.com/lepinkainen/coverhub/internal/metrics"
	"github.com/lepinkainen/coverhub/internal/model"
)

const defaultBatchSize = 200

// Config controls one import run. It is passed by value and never changed
// once the run starts.
type Config struct {
	// Limit stops the run after this many records; 0 means no limit.
	Limit int
	// WithoutQueue records sources without starting the pipeline.
	WithoutQueue bool
	// WithUpdatesDate is the cutoff: existing sources dated before it are
	// left untouched.
	WithUpdatesDate time.Time
	// Force takes the vendor lock even if another run holds it.
	Force     bool
	BatchSize int
}

func (c Config) batchSize() int {
	if c.BatchSize > 0 {
		return c.BatchSize
	}
	return defaultBatchSize
}

// Item is one (identifier, image url) pair from a vendor feed.
type Item struct {
	Identifier string
	Type       model.IdentifierType
	URL        string
}

// Feed yields vendor items until io.EOF.
type Feed interface {
	Next(ctx context.Context) (Item, error)
	Close() error
}

// Adapter turns one vendor's data into a Feed.
type Adapter interface {
	VendorID() int
	Open(ctx context.Context, cfg Config) (Feed, error)
}

// Repository is the storage the importer needs.
type Repository interface {
	GetVendor(ctx context.Context, id int) (model.Vendor, error)
	InTx(ctx context.Context, fn func(q datastore.Queries) error) error
}

// Publisher sends pipeline messages.
type Publisher interface {
	Publish(ctx context.Context, topic message.Topic, msg any) error
}

// Locker hands out the per-vendor import lock.
type Locker interface {
	Acquire(ctx context.Context, vendorID int, force bool) (*lock.Lock, error)
}

// Status counts the outcome of an import.
type Status struct {
	Records  int
	Inserted int
	Updated  int
	Deleted  int
}

func (s *Status) add(o Status) {
	s.Records += o.Records
	s.Inserted += o.Inserted
	s.Updated += o.Updated
	s.Deleted += o.Deleted
}

// Core is the reconciliation core shared by every vendor adapter.
type Core struct {
	repo    Repository
	bus     Publisher
	locker  Locker
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewCore creates a Core. metrics may be nil.
func NewCore(repo Repository, bus Publisher, locker Locker, m *metrics.Metrics, logger *slog.Logger) *Core {
	if logger == nil {
		logger = slog.Default()
	}
	return &Core{
		repo:    repo,
		bus:     bus,
		locker:  locker,
		metrics: m,
		logger:  logger.With("service", "importer"),
		now:     time.Now,
	}
}

// Import runs adapter under the vendor lock and reconciles every item.
func (c *Core) Import(ctx context.Context, adapter Adapter, cfg Config) (Status, error) {
	var status Status

	vendor, err := c.repo.GetVendor(ctx, adapter.VendorID())
	if err != nil {
		return status, fmt.Errorf("failed to load vendor %d: %w", adapter.VendorID(), err)
	}
	log := c.logger.With("vendor", vendor.ID, "vendor_name", vendor.Name)

	l, err := c.locker.Acquire(ctx, vendor.ID, cfg.Force)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return status, fmt.Errorf("vendor %s: %w (use --force to override)", vendor.Name, err)
		}
		return status, err
	}
	defer func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Failed to release vendor lock", "error", err)
		}
	}()

	feed, err := adapter.Open(ctx, cfg)
	if err != nil {
		return status, fmt.Errorf("failed to open feed for vendor %s: %w", vendor.Name, err)
	}
	defer func() { _ = feed.Close() }()

	log.Info("Starting import", "limit", cfg.Limit, "without_queue", cfg.WithoutQueue, "batch_size", cfg.batchSize())

	batches := make(map[model.IdentifierType]map[string]string)
	flush := func(t model.IdentifierType) error {
		batch := batches[t]
		if len(batch) == 0 {
			return nil
		}
		delete(batches, t)
		st, err := c.UpdateOrInsertSources(ctx, vendor, batch, t, cfg)
		status.add(st)
		return err
	}

	read := 0
	for cfg.Limit <= 0 || read < cfg.Limit {
		item, err := feed.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return status, fmt.Errorf("failed to read feed for vendor %s: %w", vendor.Name, err)
		}
		read++

		id := model.NormalizeIdentifier(item.Type, item.Identifier)
		if id == "" || item.URL == "" || !item.Type.Valid() {
			log.Debug("Skipping incomplete feed item", "identifier", item.Identifier, "type", item.Type)
			continue
		}
		if batches[item.Type] == nil {
			batches[item.Type] = make(map[string]string)
		}
		batches[item.Type][id] = item.URL
		if len(batches[item.Type]) >= cfg.batchSize() {
			if err := flush(item.Type); err != nil {
				return status, err
			}
		}
	}

	for _, t := range model.IdentifierTypes {
		if err := flush(t); err != nil {
			return status, err
		}
	}

	log.Info("Import finished", "records", status.Records, "inserted", status.Inserted, "updated", status.Updated)
	return status, nil
}

// UpdateOrInsertSources upserts one batch of identifier to url pairs of a
// single identifier type in its own transaction. Pipeline messages are sent
// after the commit.
func (c *Core) UpdateOrInsertSources(ctx context.Context, vendor model.Vendor, batch map[string]string, t model.IdentifierType, cfg Config) (Status, error) {
	status := Status{Records: len(batch)}
	if len(batch) == 0 {
		return status, nil
	}

	ids := make([]string, 0, len(batch))
	for id := range batch {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	now := c.now().UTC()
	var envelopes []message.Envelope

	err := c.repo.InTx(ctx, func(q datastore.Queries) error {
		existing, err := q.SourcesByMatchIDs(ctx, vendor.ID, ids)
		if err != nil {
			return err
		}
		byMatch := make(map[string]model.Source, len(existing))
		sourceIDs := make([]int64, 0, len(existing))
		for _, src := range existing {
			byMatch[src.MatchID] = src
			sourceIDs = append(sourceIDs, src.ID)
		}
		searchRows, err := q.CountSearchesBySources(ctx, sourceIDs)
		if err != nil {
			return err
		}

		for _, id := range ids {
			url := batch[id]
			src, found := byMatch[id]
			if !found {
				src = model.Source{VendorID: vendor.ID, MatchID: id, MatchType: t, OriginalFile: &url, Date: now}
				if err := q.InsertSource(ctx, &src); err != nil {
					return err
				}
				status.Inserted++
				envelopes = append(envelopes, message.New(ctx, message.OpInsert, t, id, vendor.ID))
				continue
			}

			if !updatable(src, searchRows[src.ID], cfg.WithUpdatesDate) {
				continue
			}
			src.OriginalFile = &url
			src.MatchType = t
			src.Date = now
			if err := q.UpdateSource(ctx, src); err != nil {
				return err
			}
			status.Updated++
			envelopes = append(envelopes, message.New(ctx, message.OpUpdate, t, id, vendor.ID))
		}
		return nil
	})
	if err != nil {
		return Status{}, fmt.Errorf("failed to store batch for vendor %d: %w", vendor.ID, err)
	}

	c.metrics.VendorImport(vendor.ID, status.Records, status.Inserted, status.Updated)

	if cfg.WithoutQueue {
		return status, nil
	}
	for _, env := range envelopes {
		if err := c.bus.Publish(ctx, message.TopicVendorImage, env); err != nil {
			return status, fmt.Errorf("failed to queue %s %s: %w", env.IdentifierType, env.Identifier, err)
		}
	}
	return status, nil
}

// updatable decides whether an existing source may be overwritten by the
// feed. A source with more than one search row has been matched to several
// identifiers and is left alone.
func updatable(src model.Source, searchRows int, withUpdatesDate time.Time) bool {
	if src.Date.Before(withUpdatesDate) {
		return false
	}
	return searchRows == 1
}

// DeleteIdentifiers queues deletion of identifiers the vendor no longer
// supplies. Identifiers without a stored source are ignored.
func (c *Core) DeleteIdentifiers(ctx context.Context, vendor model.Vendor, identifiers []string, t model.IdentifierType) (Status, error) {
	var status Status

	ids := make([]string, 0, len(identifiers))
	for _, id := range identifiers {
		if id = model.NormalizeIdentifier(t, id); id != "" {
			ids = append(ids, id)
		}
	}
	status.Records = len(ids)

	var sources []model.Source
	err := c.repo.InTx(ctx, func(q datastore.Queries) error {
		var err error
		sources, err = q.SourcesByMatchIDs(ctx, vendor.ID, ids)
		return err
	})
	if err != nil {
		return status, fmt.Errorf("failed to load sources for vendor %d: %w", vendor.ID, err)
	}

	for _, src := range sources {
		env := message.New(ctx, message.OpDelete, src.MatchType, src.MatchID, vendor.ID)
		if err := c.bus.Publish(ctx, message.TopicDelete, env); err != nil {
			return status, fmt.Errorf("failed to queue delete of %s: %w", src.MatchID, err)
		}
		status.Deleted++
	}

	c.metrics.VendorDeleted(vendor.ID, status.Deleted)
	c.logger.Info("Queued deletions", "vendor", vendor.ID, "requested", status.Records, "deleted", status.Deleted)
	return status, nil
}
