// Package pipeline holds the message handlers that carry a vendor image
// from validation through upload, datawell search and indexing.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lepinkainen/coverhub/internal/config"
	"github.com/lepinkainen/coverhub/internal/coverstore"
	"github.com/lepinkainen/coverhub/internal/datastore"
	apperrors "github.com/lepinkainen/coverhub/internal/errors"
	"github.com/lepinkainen/coverhub/internal/message"
	"github.com/lepinkainen/coverhub/internal/metrics"
	"github.com/lepinkainen/coverhub/internal/model"
	"github.com/lepinkainen/coverhub/internal/queue"
	"github.com/lepinkainen/coverhub/internal/validator"
)

// Repository is the storage used by the handlers.
type Repository interface {
	datastore.Queries
	InTx(ctx context.Context, fn func(q datastore.Queries) error) error
}

// Publisher sends the next pipeline message.
type Publisher interface {
	Publish(ctx context.Context, topic message.Topic, msg any) error
}

// Validator checks that a remote image exists.
type Validator interface {
	Validate(ctx context.Context, url string) (validator.Result, error)
}

// Searcher resolves an identifier to a material.
type Searcher interface {
	Search(ctx context.Context, identifier string, t model.IdentifierType, forceRefresh bool) (model.Material, error)
}

// Deps wires the handlers to their collaborators.
type Deps struct {
	Repo       Repository
	Bus        Publisher
	Validator  Validator
	CoverStore coverstore.Gateway
	Datawell   Searcher
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	// NoHit enables publishing zero-hit searches to the no_hit queue.
	NoHit    bool
	Guessers []config.Guesser
	Now      func() time.Time
}

// Pipeline implements every stage handler.
type Pipeline struct {
	repo      Repository
	bus       Publisher
	validator Validator
	store     coverstore.Gateway
	datawell  Searcher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	noHit     bool
	guessers  []config.Guesser
	now       func() time.Time
}

// New creates a Pipeline.
func New(d Deps) *Pipeline {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Pipeline{
		repo:      d.Repo,
		bus:       d.Bus,
		validator: d.Validator,
		store:     d.CoverStore,
		datawell:  d.Datawell,
		metrics:   d.Metrics,
		logger:    d.Logger,
		noHit:     d.NoHit,
		guessers:  d.Guessers,
		now:       d.Now,
	}
}

// EnvelopeHandler handles one decoded envelope.
type EnvelopeHandler func(ctx context.Context, env message.Envelope) error

// Handlers maps every consumed topic to its queue handler.
func (p *Pipeline) Handlers() map[message.Topic]queue.Handler {
	return map[message.Topic]queue.Handler{
		message.TopicVendorImage: envelopeHandler(p.VendorImage),
		message.TopicCoverStore:  envelopeHandler(p.CoverStore),
		message.TopicSearch:      envelopeHandler(p.Search),
		message.TopicIndex:       queue.HandlerFunc(p.handleIndex),
		message.TopicDelete:      envelopeHandler(p.Delete),
		message.TopicNoHit:       envelopeHandler(p.NoHitRecovery),
	}
}

func envelopeHandler(h EnvelopeHandler) queue.Handler {
	return queue.HandlerFunc(func(ctx context.Context, d queue.Delivery) error {
		env, err := message.DecodeEnvelope(d.Body)
		if err != nil {
			return apperrors.NewUnrecoverableError("malformed message", err)
		}
		env.Redelivered = d.Redelivered
		if env.TraceID == "" {
			env.TraceID = message.NewTraceID()
		}
		return h(message.WithTraceID(ctx, env.TraceID), env)
	})
}

func (p *Pipeline) handleIndex(ctx context.Context, d queue.Delivery) error {
	ev, err := message.DecodeIndexEvent(d.Body)
	if err != nil {
		return apperrors.NewUnrecoverableError("malformed index event", err)
	}
	if ev.TraceID == "" {
		ev.TraceID = message.NewTraceID()
	}
	return p.Index(message.WithTraceID(ctx, ev.TraceID), ev)
}

// lookupVendorSource loads the vendor and its source for env. Missing rows
// are unrecoverable.
func (p *Pipeline) lookupVendorSource(ctx context.Context, env message.Envelope) (model.Vendor, model.Source, error) {
	vendor, err := p.repo.GetVendor(ctx, env.VendorID)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return model.Vendor{}, model.Source{}, apperrors.NewUnrecoverableError("vendor not found", err)
		}
		return model.Vendor{}, model.Source{}, err
	}
	src, err := p.repo.GetSource(ctx, env.VendorID, env.Identifier)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return model.Vendor{}, model.Source{}, apperrors.NewUnrecoverableError("source not found", err)
		}
		return model.Vendor{}, model.Source{}, err
	}
	return vendor, src, nil
}
