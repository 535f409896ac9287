package datastore

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/lepinkainen/coverhub/internal/model"
)

// RankedSource is a source together with its vendor's rank.
type RankedSource struct {
	model.Source
	VendorRank int `db:"vendor_rank"`
}

func (q queries) sourceSelect() *goqu.SelectDataset {
	return q.dialect.From(goqu.T("source").As("s")).
		LeftJoin(goqu.T("image").As("i"), goqu.On(goqu.I("i.source_id").Eq(goqu.I("s.id")))).
		Select(
			goqu.I("s.id"),
			goqu.I("s.vendor_id"),
			goqu.I("s.match_id"),
			goqu.I("s.match_type"),
			goqu.I("s.original_file"),
			goqu.I("s.original_last_modified"),
			goqu.I("s.original_content_length"),
			goqu.I("s.date"),
			goqu.I("s.last_indexed"),
			goqu.I("i.id").As("image_id"),
		).
		Prepared(true)
}

func (q queries) GetSource(ctx context.Context, vendorID int, matchID string) (model.Source, error) {
	var src model.Source
	ds := q.sourceSelect().Where(goqu.I("s.vendor_id").Eq(vendorID), goqu.I("s.match_id").Eq(matchID))
	if err := q.get(ctx, &src, ds); err != nil {
		return model.Source{}, fmt.Errorf("source %d/%s: %w", vendorID, matchID, err)
	}
	return src, nil
}

func (q queries) GetSourceByID(ctx context.Context, id int64) (model.Source, error) {
	var src model.Source
	if err := q.get(ctx, &src, q.sourceSelect().Where(goqu.I("s.id").Eq(id))); err != nil {
		return model.Source{}, fmt.Errorf("source %d: %w", id, err)
	}
	return src, nil
}

// SourcesByMatchIDs loads every source of the vendor whose match id is in
// matchIDs, in a single query.
func (q queries) SourcesByMatchIDs(ctx context.Context, vendorID int, matchIDs []string) ([]model.Source, error) {
	if len(matchIDs) == 0 {
		return nil, nil
	}
	var sources []model.Source
	ds := q.sourceSelect().Where(goqu.I("s.vendor_id").Eq(vendorID), goqu.I("s.match_id").In(matchIDs))
	if err := q.selectAll(ctx, &sources, ds); err != nil {
		return nil, fmt.Errorf("failed to load sources for vendor %d: %w", vendorID, err)
	}
	return sources, nil
}

// SourcesForIdentifier returns every vendor's source for the identifier,
// best rank first.
func (q queries) SourcesForIdentifier(ctx context.Context, matchID string, matchType model.IdentifierType) ([]RankedSource, error) {
	var sources []RankedSource
	ds := q.sourceSelect().
		SelectAppend(goqu.I("v.rank").As("vendor_rank")).
		InnerJoin(goqu.T("vendor").As("v"), goqu.On(goqu.I("v.id").Eq(goqu.I("s.vendor_id")))).
		Where(goqu.I("s.match_id").Eq(matchID), goqu.I("s.match_type").Eq(string(matchType))).
		Order(goqu.I("v.rank").Asc())
	if err := q.selectAll(ctx, &sources, ds); err != nil {
		return nil, fmt.Errorf("failed to load sources for %s %s: %w", matchType, matchID, err)
	}
	return sources, nil
}

// SourcesByVendor pages through a vendor's sources by id.
func (q queries) SourcesByVendor(ctx context.Context, vendorID int, afterID int64, limit int) ([]model.Source, error) {
	var sources []model.Source
	ds := q.sourceSelect().
		Where(goqu.I("s.vendor_id").Eq(vendorID), goqu.I("s.id").Gt(afterID)).
		Order(goqu.I("s.id").Asc()).
		Limit(uint(limit))
	if err := q.selectAll(ctx, &sources, ds); err != nil {
		return nil, fmt.Errorf("failed to page sources for vendor %d: %w", vendorID, err)
	}
	return sources, nil
}

func (q queries) CountSourcesByVendor(ctx context.Context) (map[int]int64, error) {
	var rows []struct {
		VendorID int   `db:"vendor_id"`
		Count    int64 `db:"count"`
	}
	ds := q.dialect.From("source").
		Select(goqu.C("vendor_id"), goqu.COUNT("*").As("count")).
		GroupBy(goqu.C("vendor_id")).
		Prepared(true)
	if err := q.selectAll(ctx, &rows, ds); err != nil {
		return nil, fmt.Errorf("failed to count sources: %w", err)
	}

	counts := make(map[int]int64, len(rows))
	for _, r := range rows {
		counts[r.VendorID] = r.Count
	}
	return counts, nil
}

func sourceRecord(src model.Source) goqu.Record {
	return goqu.Record{
		"vendor_id":               src.VendorID,
		"match_id":                src.MatchID,
		"match_type":              string(src.MatchType),
		"original_file":           nullable(src.OriginalFile),
		"original_last_modified":  nullable(src.OriginalLastModified),
		"original_content_length": nullable(src.OriginalContentLength),
		"date":                    src.Date,
		"last_indexed":            nullable(src.LastIndexed),
	}
}

// InsertSource inserts src and sets its ID. A second source for the same
// vendor and match id fails with ErrDuplicate.
func (q queries) InsertSource(ctx context.Context, src *model.Source) error {
	if src.Date.IsZero() {
		src.Date = time.Now().UTC()
	}
	id, err := q.insertID(ctx, q.dialect.Insert("source").Rows(sourceRecord(*src)).Prepared(true))
	if err != nil {
		return fmt.Errorf("failed to insert source %d/%s: %w", src.VendorID, src.MatchID, err)
	}
	src.ID = id
	return nil
}

func (q queries) UpdateSource(ctx context.Context, src model.Source) error {
	ds := q.dialect.Update("source").
		Set(sourceRecord(src)).
		Where(goqu.C("id").Eq(src.ID)).
		Prepared(true)
	res, err := q.exec(ctx, ds)
	if err != nil {
		return fmt.Errorf("failed to update source %d: %w", src.ID, err)
	}
	if affected(res) == 0 {
		return fmt.Errorf("source %d: %w", src.ID, ErrNotFound)
	}
	return nil
}

func (q queries) TouchLastIndexed(ctx context.Context, sourceID int64, at time.Time) error {
	ds := q.dialect.Update("source").
		Set(goqu.Record{"last_indexed": at}).
		Where(goqu.C("id").Eq(sourceID)).
		Prepared(true)
	if _, err := q.exec(ctx, ds); err != nil {
		return fmt.Errorf("failed to stamp source %d: %w", sourceID, err)
	}
	return nil
}

func (q queries) DeleteSource(ctx context.Context, id int64) error {
	ds := q.dialect.Delete("source").Where(goqu.C("id").Eq(id)).Prepared(true)
	if _, err := q.exec(ctx, ds); err != nil {
		return fmt.Errorf("failed to delete source %d: %w", id, err)
	}
	return nil
}
