package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/lepinkainen/coverhub/internal/datastore"
	apperrors "github.com/lepinkainen/coverhub/internal/errors"
	"github.com/lepinkainen/coverhub/internal/message"
	"github.com/lepinkainen/coverhub/internal/model"
)

const (
	rowCreated    = "created"
	rowOverridden = "overridden"
	rowKept       = "kept"
	rowConflict   = "conflict"
)

// Index writes one search row per equivalent identifier of the material,
// honouring vendor rank, and stamps the source as indexed.
func (p *Pipeline) Index(ctx context.Context, ev message.IndexEvent) error {
	log := ev.Envelope().Logger(p.logger, "index")

	img, err := p.repo.GetImage(ctx, ev.ImageID)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return apperrors.NewUnrecoverableError("image not found", err)
		}
		return p.dbFailure(log, err)
	}
	src, err := p.repo.GetSourceByID(ctx, img.SourceID)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return apperrors.NewUnrecoverableError("source not found", err)
		}
		return p.dbFailure(log, err)
	}
	vendor, err := p.repo.GetVendor(ctx, src.VendorID)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return apperrors.NewUnrecoverableError("vendor not found", err)
		}
		return p.dbFailure(log, err)
	}

	for _, mi := range ev.Material.Identifiers {
		action, err := p.indexIdentifier(ctx, src, vendor.Rank, img, mi, ev.Material.IsCollection)
		if err != nil {
			if errors.Is(err, datastore.ErrDuplicate) {
				// Another worker created the row first; it stands.
				action = rowConflict
			} else {
				return p.dbFailure(log, err)
			}
		}
		p.metrics.SearchRow(action)
		log.Debug("Indexed identifier", "is_type", mi.Type, "is_identifier", mi.ID, "action", action)
	}

	if err := p.repo.TouchLastIndexed(ctx, src.ID, p.now().UTC()); err != nil {
		return p.dbFailure(log, err)
	}
	return nil
}

func (p *Pipeline) indexIdentifier(ctx context.Context, src model.Source, rank int, img model.Image, mi model.MaterialIdentifier, isCollection bool) (string, error) {
	action := rowKept
	err := p.repo.InTx(ctx, func(q datastore.Queries) error {
		row, err := q.GetSearchForUpdate(ctx, mi.ID, mi.Type)
		if errors.Is(err, datastore.ErrNotFound) {
			sourceID := src.ID
			row = model.Search{SourceID: &sourceID, IsIdentifier: mi.ID, IsType: mi.Type, Collection: isCollection}
			row.ApplyImage(img)
			if err := q.InsertSearch(ctx, &row); err != nil {
				return err
			}
			action = rowCreated
			return nil
		}
		if err != nil {
			return err
		}

		if !acceptsOverride(row, rank, isCollection) {
			return nil
		}
		sourceID := src.ID
		row.SourceID = &sourceID
		row.Collection = isCollection
		row.ApplyImage(img)
		if err := q.UpdateSearch(ctx, row); err != nil {
			return err
		}
		action = rowOverridden
		return nil
	})
	return action, err
}

// dbFailure logs store failures; the message stays unacked for redelivery.
func (p *Pipeline) dbFailure(log *slog.Logger, err error) error {
	if datastore.IsConnectionError(err) {
		log.Error("Database connection failed", "error", err)
	}
	return err
}
