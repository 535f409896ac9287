package pipeline

import (
	"context"
	"errors"

	"github.com/lepinkainen/coverhub/internal/coverstore"
	"github.com/lepinkainen/coverhub/internal/datastore"
	apperrors "github.com/lepinkainen/coverhub/internal/errors"
	"github.com/lepinkainen/coverhub/internal/message"
	"github.com/lepinkainen/coverhub/internal/model"
)

// Delete removes a vendor's source with its image and search rows, hands
// every freed identifier to the next best source and evicts the stored
// cover. A failed eviction is retried; the replay finds the rows gone and
// only repeats the eviction.
func (p *Pipeline) Delete(ctx context.Context, env message.Envelope) error {
	log := env.Logger(p.logger, "delete")

	vendor, err := p.repo.GetVendor(ctx, env.VendorID)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return apperrors.NewUnrecoverableError("vendor not found", err)
		}
		return err
	}
	src, err := p.repo.GetSource(ctx, env.VendorID, env.Identifier)
	if errors.Is(err, datastore.ErrNotFound) {
		if err := p.evictCover(ctx, vendor.Name, env.Identifier); err != nil {
			return err
		}
		return apperrors.NewSkipError("source already deleted")
	}
	if err != nil {
		return err
	}

	var removed []model.Search
	err = p.repo.InTx(ctx, func(q datastore.Queries) error {
		rows, err := q.SearchesBySource(ctx, src.ID)
		if err != nil {
			return err
		}
		removed = rows
		if _, err := q.DeleteSearchesBySource(ctx, src.ID); err != nil {
			return err
		}
		if err := q.DeleteImageBySource(ctx, src.ID); err != nil {
			return err
		}
		return q.DeleteSource(ctx, src.ID)
	})
	if err != nil {
		return err
	}

	seen := make(map[int64]bool)
	for _, row := range removed {
		ranked, err := p.repo.SourcesForIdentifier(ctx, row.IsIdentifier, row.IsType)
		if err != nil {
			return err
		}
		for _, candidate := range ranked {
			if !candidate.HasImage() {
				continue
			}
			if !seen[candidate.ID] {
				seen[candidate.ID] = true
				next := message.New(ctx, message.OpUpdate, candidate.MatchType, candidate.MatchID, candidate.VendorID)
				if err := p.bus.Publish(ctx, message.TopicSearch, next.WithImage(*candidate.ImageID)); err != nil {
					return err
				}
			}
			break
		}
	}

	if src.HasImage() {
		if err := p.evictCover(ctx, vendor.Name, env.Identifier); err != nil {
			log.Error("Failed to remove cover from store", "error", err)
			return err
		}
	}

	log.Info("Source deleted", "search_rows", len(removed), "recovered", len(seen))
	return nil
}

// evictCover removes the stored cover. A cover that is already gone counts
// as removed.
func (p *Pipeline) evictCover(ctx context.Context, folder, identifier string) error {
	if err := p.store.Remove(ctx, folder, identifier); err != nil && !coverstore.IsNotFound(err) {
		return err
	}
	return nil
}

// Reindex queues a delete-and-update search for every source of the vendor
// that owns an image. It returns the number of queued messages.
func (p *Pipeline) Reindex(ctx context.Context, vendorID int, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 200
	}
	queued := 0
	var after int64
	for {
		sources, err := p.repo.SourcesByVendor(ctx, vendorID, after, batchSize)
		if err != nil {
			return queued, err
		}
		if len(sources) == 0 {
			return queued, nil
		}
		for _, src := range sources {
			after = src.ID
			if !src.HasImage() {
				continue
			}
			env := message.New(ctx, message.OpDeleteAndUpdate, src.MatchType, src.MatchID, src.VendorID).WithImage(*src.ImageID)
			if err := p.bus.Publish(ctx, message.TopicSearch, env); err != nil {
				return queued, err
			}
			queued++
		}
	}
}
