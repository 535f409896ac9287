package datastore

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/lepinkainen/coverhub/internal/model"
)

var imageColumns = []any{
	"id", "source_id", "image_format", "size", "width", "height", "cover_store_url", "created", "updated",
}

func (q queries) GetImage(ctx context.Context, id int64) (model.Image, error) {
	var img model.Image
	ds := q.dialect.From("image").Select(imageColumns...).Where(goqu.C("id").Eq(id)).Prepared(true)
	if err := q.get(ctx, &img, ds); err != nil {
		return model.Image{}, fmt.Errorf("image %d: %w", id, err)
	}
	return img, nil
}

func (q queries) GetImageBySource(ctx context.Context, sourceID int64) (model.Image, error) {
	var img model.Image
	ds := q.dialect.From("image").Select(imageColumns...).Where(goqu.C("source_id").Eq(sourceID)).Prepared(true)
	if err := q.get(ctx, &img, ds); err != nil {
		return model.Image{}, fmt.Errorf("image of source %d: %w", sourceID, err)
	}
	return img, nil
}

// SaveImage inserts img when it has no ID yet and updates it in place
// otherwise.
func (q queries) SaveImage(ctx context.Context, img *model.Image) error {
	now := time.Now().UTC()
	img.Updated = now
	record := goqu.Record{
		"source_id":       img.SourceID,
		"image_format":    img.ImageFormat,
		"size":            img.Size,
		"width":           img.Width,
		"height":          img.Height,
		"cover_store_url": img.CoverStoreURL,
		"updated":         now,
	}

	if img.ID != 0 {
		ds := q.dialect.Update("image").Set(record).Where(goqu.C("id").Eq(img.ID)).Prepared(true)
		if _, err := q.exec(ctx, ds); err != nil {
			return fmt.Errorf("failed to update image %d: %w", img.ID, err)
		}
		return nil
	}

	img.Created = now
	record["created"] = now
	id, err := q.insertID(ctx, q.dialect.Insert("image").Rows(record).Prepared(true))
	if err != nil {
		return fmt.Errorf("failed to insert image for source %d: %w", img.SourceID, err)
	}
	img.ID = id
	return nil
}

func (q queries) DeleteImageBySource(ctx context.Context, sourceID int64) error {
	ds := q.dialect.Delete("image").Where(goqu.C("source_id").Eq(sourceID)).Prepared(true)
	if _, err := q.exec(ctx, ds); err != nil {
		return fmt.Errorf("failed to delete image of source %d: %w", sourceID, err)
	}
	return nil
}
