package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/lepinkainen/coverhub/internal/coverstore"
	"github.com/lepinkainen/coverhub/internal/datastore"
	apperrors "github.com/lepinkainen/coverhub/internal/errors"
	"github.com/lepinkainen/coverhub/internal/message"
	"github.com/lepinkainen/coverhub/internal/model"
)

// uploadFailure is everything a failure action may need.
type uploadFailure struct {
	env message.Envelope
	src model.Source
	err error
	log *slog.Logger
}

type failureAction func(ctx context.Context, p *Pipeline, f uploadFailure) error

// uploadFailures decides what happens to a message for each store error kind.
var uploadFailures = map[coverstore.Kind]failureAction{
	coverstore.KindCredentials:     alertAndReject("cover store rejected credentials"),
	coverstore.KindTooLarge:        alertAndReject("original file too large"),
	coverstore.KindInvalidResource: alertAndReject("original file is not a valid image"),
	coverstore.KindNotFound:        clearOriginalAndReject,
	coverstore.KindUnexpected:      rejectForReplay,
	coverstore.KindGeneric:         requeueOnce,
}

func alertAndReject(reason string) failureAction {
	return func(_ context.Context, _ *Pipeline, f uploadFailure) error {
		f.log.Error("ALERT: cover upload failed", "reason", reason, "error", f.err)
		return apperrors.NewUnrecoverableError(reason, f.err)
	}
}

func clearOriginalAndReject(ctx context.Context, p *Pipeline, f uploadFailure) error {
	f.src.ClearOriginal()
	if err := p.repo.UpdateSource(ctx, f.src); err != nil {
		return err
	}
	return apperrors.NewUnrecoverableError("original file not found", f.err)
}

func rejectForReplay(_ context.Context, _ *Pipeline, f uploadFailure) error {
	return apperrors.NewReplayableError("unexpected cover store failure", f.err)
}

func requeueOnce(_ context.Context, _ *Pipeline, f uploadFailure) error {
	if f.env.Redelivered {
		return apperrors.NewUnrecoverableError("cover upload failed after requeue", f.err)
	}
	return apperrors.NewRequeueError(f.err)
}

// CoverStore uploads the original file and records the stored image, then
// forwards the image to the search stage.
func (p *Pipeline) CoverStore(ctx context.Context, env message.Envelope) error {
	log := env.Logger(p.logger, "cover_store")

	vendor, src, err := p.lookupVendorSource(ctx, env)
	if err != nil {
		return err
	}
	if src.OriginalFile == nil {
		return apperrors.NewUnrecoverableError("source has no original file", nil)
	}

	item, err := p.store.Upload(ctx, *src.OriginalFile, vendor.Name, env.Identifier, []string{env.Identifier})
	if err != nil {
		kind := coverstore.KindOf(err)
		p.metrics.Upload(kind.String())
		action, ok := uploadFailures[kind]
		if !ok {
			action = requeueOnce
		}
		return action(ctx, p, uploadFailure{env: env, src: src, err: err, log: log})
	}
	p.metrics.Upload("ok")

	var img model.Image
	err = p.repo.InTx(ctx, func(q datastore.Queries) error {
		existing, err := q.GetImageBySource(ctx, src.ID)
		switch {
		case err == nil:
			img = existing
		case errors.Is(err, datastore.ErrNotFound):
			img = model.Image{SourceID: src.ID}
		default:
			return err
		}
		img.ImageFormat = item.Format
		img.Size = item.Size
		img.Width = item.Width
		img.Height = item.Height
		img.CoverStoreURL = item.URL
		return q.SaveImage(ctx, &img)
	})
	if err != nil {
		return err
	}

	log.Info("Cover stored", "url", item.URL, "image_id", img.ID)
	return p.bus.Publish(ctx, message.TopicSearch, env.Next(env.Operation).WithImage(img.ID))
}
