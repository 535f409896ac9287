package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/lepinkainen/coverhub/internal/datastore"
	"github.com/lepinkainen/coverhub/internal/datawell"
	apperrors "github.com/lepinkainen/coverhub/internal/errors"
	"github.com/lepinkainen/coverhub/internal/message"
)

// Search resolves the identifier in the datawell and publishes an index
// event for a hit or a no-hit message for a zero-hit.
func (p *Pipeline) Search(ctx context.Context, env message.Envelope) error {
	log := env.Logger(p.logger, "search")

	if env.Operation == message.OpDeleteAndUpdate {
		var removed int64
		err := p.repo.InTx(ctx, func(q datastore.Queries) error {
			src, err := q.GetSource(ctx, env.VendorID, env.Identifier)
			if err != nil {
				if errors.Is(err, datastore.ErrNotFound) {
					return apperrors.NewUnrecoverableError("source not found", err)
				}
				return err
			}
			removed, err = q.DeleteSearchesBySource(ctx, src.ID)
			return err
		})
		if err != nil {
			return err
		}
		log.Debug("Removed search rows before reindex", "rows", removed)
	}

	imageID, err := p.resolveImage(ctx, env)
	if err != nil {
		return err
	}

	material, err := p.datawell.Search(ctx, env.Identifier, env.IdentifierType, !env.UseSearchCache)
	if err != nil {
		if errors.Is(err, datawell.ErrUnknownMaterialType) {
			return apperrors.NewUnrecoverableError("unknown material type", err)
		}
		return fmt.Errorf("datawell search failed: %w", err)
	}

	if material.IsEmpty() {
		log.Info("Datawell search returned no hits")
		p.metrics.ZeroHit()
		if p.noHit {
			return p.bus.Publish(ctx, message.TopicNoHit, env.Next(env.Operation))
		}
		return nil
	}

	return p.bus.Publish(ctx, message.TopicIndex, message.IndexEvent{
		Operation:      env.Operation,
		VendorID:       env.VendorID,
		ImageID:        imageID,
		Identifier:     env.Identifier,
		IdentifierType: env.IdentifierType,
		Material:       material,
		TraceID:        env.TraceID,
	})
}

// resolveImage returns the envelope's image id, falling back to the image
// owned by the vendor's source.
func (p *Pipeline) resolveImage(ctx context.Context, env message.Envelope) (int64, error) {
	if env.ImageID != nil {
		return *env.ImageID, nil
	}
	src, err := p.repo.GetSource(ctx, env.VendorID, env.Identifier)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return 0, apperrors.NewUnrecoverableError("source not found", err)
		}
		return 0, err
	}
	if !src.HasImage() {
		return 0, apperrors.NewUnrecoverableError("source has no stored image", nil)
	}
	return *src.ImageID, nil
}
