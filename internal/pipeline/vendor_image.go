package pipeline

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/lepinkainen/coverhub/internal/errors"
	"github.com/lepinkainen/coverhub/internal/message"
	"github.com/lepinkainen/coverhub/internal/model"
	"github.com/lepinkainen/coverhub/internal/validator"
)

// VendorImage validates the vendor's original file and forwards reachable
// images to the cover store stage. Updates are forwarded only when the
// remote fingerprint changed.
func (p *Pipeline) VendorImage(ctx context.Context, env message.Envelope) error {
	log := env.Logger(p.logger, "vendor_image")

	_, src, err := p.lookupVendorSource(ctx, env)
	if err != nil {
		return err
	}
	if src.OriginalFile == nil {
		return apperrors.NewUnrecoverableError("source has no original file", nil)
	}

	res, err := p.validator.Validate(ctx, *src.OriginalFile)
	if err != nil {
		return fmt.Errorf("failed to validate %s: %w", *src.OriginalFile, err)
	}

	if !res.Found {
		log.Info("Original file not reachable", "url", *src.OriginalFile)
		src.ClearOriginal()
		if err := p.repo.UpdateSource(ctx, src); err != nil {
			return err
		}
		return apperrors.NewUnrecoverableError("original file not reachable", nil)
	}

	if env.Operation == message.OpUpdate && !fingerprintChanged(src, res) {
		return apperrors.NewSkipError("not updated")
	}

	src.OriginalLastModified = res.LastModified
	src.OriginalContentLength = res.ContentLength
	if err := p.repo.UpdateSource(ctx, src); err != nil {
		return err
	}

	if err := p.bus.Publish(ctx, message.TopicCoverStore, env.Next(env.Operation)); err != nil {
		return err
	}
	log.Debug("Original file validated", "url", *src.OriginalFile)
	return nil
}

func fingerprintChanged(src model.Source, res validator.Result) bool {
	return !sameTime(src.OriginalLastModified, res.LastModified) ||
		!sameInt(src.OriginalContentLength, res.ContentLength)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func sameInt(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
