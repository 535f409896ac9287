package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/lepinkainen/coverhub/internal/datastore"
	"github.com/lepinkainen/coverhub/internal/datawell"
	"github.com/lepinkainen/coverhub/internal/message"
	"github.com/lepinkainen/coverhub/internal/metrics"
	"github.com/lepinkainen/coverhub/internal/model"
)

// noHitStrategy tries to recover a zero-hit identifier. It reports whether
// it succeeded.
type noHitStrategy struct {
	name string
	run  func(ctx context.Context, env message.Envelope, log *slog.Logger) (bool, error)
}

func (p *Pipeline) noHitStrategies() []noHitStrategy {
	return []noHitStrategy{
		{name: metrics.NoHitKatalog, run: p.recoverKatalog},
		{name: metrics.NoHitRematch, run: p.recoverRematch},
		{name: metrics.NoHitGuess, run: p.recoverGuess},
	}
}

// NoHitRecovery tries the recovery strategies in order and stops at the
// first that succeeds. Failing all of them is an expected outcome.
func (p *Pipeline) NoHitRecovery(ctx context.Context, env message.Envelope) error {
	log := env.Logger(p.logger, "no_hit")

	for _, s := range p.noHitStrategies() {
		ok, err := s.run(ctx, env, log)
		if err != nil {
			return err
		}
		if ok {
			p.metrics.NoHit(s.name)
			log.Info("No-hit recovered", "strategy", s.name)
			return nil
		}
	}

	p.metrics.NoHit(metrics.NoHitFailed)
	log.Info("No-hit could not be recovered")
	return nil
}

// recoverKatalog maps a "-katalog:" pid onto the faust search row and
// clones it for the pid.
func (p *Pipeline) recoverKatalog(ctx context.Context, env message.Envelope, _ *slog.Logger) (bool, error) {
	if env.IdentifierType != model.PID {
		return false, nil
	}
	faust, ok := model.KatalogFaust(env.Identifier)
	if !ok {
		return false, nil
	}

	found := false
	err := p.repo.InTx(ctx, func(q datastore.Queries) error {
		row, err := q.GetSearchForUpdate(ctx, faust, model.FAUST)
		if errors.Is(err, datastore.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true

		clone := row
		clone.ID = 0
		clone.SourceRank = nil
		clone.IsIdentifier = env.Identifier
		clone.IsType = model.PID
		return q.InsertSearch(ctx, &clone)
	})
	if errors.Is(err, datastore.ErrDuplicate) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return found, nil
}

// recoverRematch repeats the datawell search without the cache and points
// every equivalent identifier at its best ranked source.
func (p *Pipeline) recoverRematch(ctx context.Context, env message.Envelope, log *slog.Logger) (bool, error) {
	if !env.UseSearchCache {
		// Already an uncached search; repeating it cannot change the answer.
		return false, nil
	}

	material, err := p.datawell.Search(ctx, env.Identifier, env.IdentifierType, true)
	if err != nil {
		if errors.Is(err, datawell.ErrUnknownMaterialType) {
			return false, nil
		}
		return false, err
	}
	if material.IsEmpty() {
		return false, nil
	}

	recovered := false
	for _, mi := range material.Identifiers {
		ranked, err := p.repo.SourcesForIdentifier(ctx, mi.ID, mi.Type)
		if err != nil {
			return false, err
		}
		if len(ranked) == 0 {
			continue
		}
		best := ranked[0].Source

		next := message.New(ctx, message.OpUpdate, best.MatchType, best.MatchID, best.VendorID)
		next.UseSearchCache = false
		switch {
		case best.HasImage():
			if err := p.bus.Publish(ctx, message.TopicSearch, next.WithImage(*best.ImageID)); err != nil {
				return false, err
			}
			recovered = true
		case best.OriginalFile != nil:
			res, err := p.validator.Validate(ctx, *best.OriginalFile)
			if err != nil {
				log.Warn("Failed to validate rematched source", "source", best.ID, "error", err)
				continue
			}
			if !res.Found {
				continue
			}
			next.Operation = message.OpInsert
			if err := p.bus.Publish(ctx, message.TopicVendorImage, next); err != nil {
				return false, err
			}
			recovered = true
		}
	}
	return recovered, nil
}

// recoverGuess builds candidate URLs from the configured vendor templates
// and records the first reachable one as a new source.
func (p *Pipeline) recoverGuess(ctx context.Context, env message.Envelope, log *slog.Logger) (bool, error) {
	for _, g := range p.guessers {
		tmpl, ok := g.Templates[string(env.IdentifierType)]
		if !ok {
			continue
		}
		url := strings.ReplaceAll(tmpl, "{id}", env.Identifier)

		src, err := p.repo.GetSource(ctx, g.VendorID, env.Identifier)
		exists := err == nil
		if err != nil && !errors.Is(err, datastore.ErrNotFound) {
			return false, err
		}
		if exists && (src.HasImage() || (src.OriginalFile != nil && *src.OriginalFile == url)) {
			// Already guessed before.
			continue
		}

		res, err := p.validator.Validate(ctx, url)
		if err != nil {
			log.Warn("Failed to validate guessed url", "url", url, "error", err)
			continue
		}
		if !res.Found {
			continue
		}

		if exists {
			src.OriginalFile = &url
			src.OriginalLastModified = nil
			src.OriginalContentLength = nil
			src.Date = p.now().UTC()
			err = p.repo.UpdateSource(ctx, src)
		} else {
			src = model.Source{VendorID: g.VendorID, MatchID: env.Identifier, MatchType: env.IdentifierType, OriginalFile: &url, Date: p.now().UTC()}
			err = p.repo.InsertSource(ctx, &src)
		}
		if err != nil {
			return false, err
		}

		next := message.New(ctx, message.OpInsert, env.IdentifierType, env.Identifier, g.VendorID)
		if err := p.bus.Publish(ctx, message.TopicVendorImage, next); err != nil {
			return false, err
		}
		log.Info("Guessed cover url", "guess_vendor", g.VendorID, "url", url)
		return true, nil
	}
	return false, nil
}
