package datastore

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/lepinkainen/coverhub/internal/model"
)

func (q queries) searchSelect() *goqu.SelectDataset {
	return q.dialect.From(goqu.T("search").As("r")).
		LeftJoin(goqu.T("source").As("s"), goqu.On(goqu.I("s.id").Eq(goqu.I("r.source_id")))).
		LeftJoin(goqu.T("vendor").As("v"), goqu.On(goqu.I("v.id").Eq(goqu.I("s.vendor_id")))).
		Select(
			goqu.I("r.id"),
			goqu.I("r.source_id"),
			goqu.I("r.is_identifier"),
			goqu.I("r.is_type"),
			goqu.I("r.image_url"),
			goqu.I("r.image_format"),
			goqu.I("r.width"),
			goqu.I("r.height"),
			goqu.I("r.collection"),
			goqu.I("v.rank").As("source_rank"),
		).
		Prepared(true)
}

// GetSearch returns the row for (identifier, type) with the rank of the
// vendor that owns it.
func (q queries) GetSearch(ctx context.Context, identifier string, t model.IdentifierType) (model.Search, error) {
	var s model.Search
	ds := q.searchSelect().Where(goqu.I("r.is_identifier").Eq(identifier), goqu.I("r.is_type").Eq(string(t)))
	if err := q.get(ctx, &s, ds); err != nil {
		return model.Search{}, fmt.Errorf("search %s %s: %w", t, identifier, err)
	}
	return s, nil
}

// GetSearchForUpdate is GetSearch that also locks the row until the
// surrounding transaction ends, so a concurrent override waits and then
// sees the committed owner.
func (q queries) GetSearchForUpdate(ctx context.Context, identifier string, t model.IdentifierType) (model.Search, error) {
	var s model.Search
	if err := q.get(ctx, &s, q.searchForUpdate(identifier, t)); err != nil {
		return model.Search{}, fmt.Errorf("search %s %s: %w", t, identifier, err)
	}
	return s, nil
}

func (q queries) searchForUpdate(identifier string, t model.IdentifierType) *goqu.SelectDataset {
	ds := q.searchSelect().Where(goqu.I("r.is_identifier").Eq(identifier), goqu.I("r.is_type").Eq(string(t)))
	if !q.rowLocks {
		return ds
	}
	// Only the search row: the joined tables sit on the nullable side of
	// an outer join, which postgres refuses to lock.
	return ds.ForUpdate(exp.Wait, goqu.T("r"))
}

func (q queries) SearchesBySource(ctx context.Context, sourceID int64) ([]model.Search, error) {
	var rows []model.Search
	ds := q.searchSelect().Where(goqu.I("r.source_id").Eq(sourceID)).Order(goqu.I("r.id").Asc())
	if err := q.selectAll(ctx, &rows, ds); err != nil {
		return nil, fmt.Errorf("failed to load searches of source %d: %w", sourceID, err)
	}
	return rows, nil
}

// CountSearchesBySources returns the number of search rows per source id.
// Sources without rows are absent from the map.
func (q queries) CountSearchesBySources(ctx context.Context, sourceIDs []int64) (map[int64]int, error) {
	counts := make(map[int64]int)
	if len(sourceIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		SourceID int64 `db:"source_id"`
		Count    int   `db:"count"`
	}
	ds := q.dialect.From("search").
		Select(goqu.C("source_id"), goqu.COUNT("*").As("count")).
		Where(goqu.C("source_id").In(sourceIDs)).
		GroupBy(goqu.C("source_id")).
		Prepared(true)
	if err := q.selectAll(ctx, &rows, ds); err != nil {
		return nil, fmt.Errorf("failed to count searches: %w", err)
	}
	for _, r := range rows {
		counts[r.SourceID] = r.Count
	}
	return counts, nil
}

func searchRecord(s model.Search) goqu.Record {
	return goqu.Record{
		"source_id":     nullable(s.SourceID),
		"is_identifier": s.IsIdentifier,
		"is_type":       string(s.IsType),
		"image_url":     s.ImageURL,
		"image_format":  s.ImageFormat,
		"width":         s.Width,
		"height":        s.Height,
		"collection":    s.Collection,
	}
}

// InsertSearch inserts s and sets its ID. A concurrent insert of the same
// (identifier, type) pair surfaces as ErrDuplicate.
func (q queries) InsertSearch(ctx context.Context, s *model.Search) error {
	id, err := q.insertID(ctx, q.dialect.Insert("search").Rows(searchRecord(*s)).Prepared(true))
	if err != nil {
		return fmt.Errorf("failed to insert search %s %s: %w", s.IsType, s.IsIdentifier, err)
	}
	s.ID = id
	return nil
}

func (q queries) UpdateSearch(ctx context.Context, s model.Search) error {
	ds := q.dialect.Update("search").Set(searchRecord(s)).Where(goqu.C("id").Eq(s.ID)).Prepared(true)
	if _, err := q.exec(ctx, ds); err != nil {
		return fmt.Errorf("failed to update search %d: %w", s.ID, err)
	}
	return nil
}

func (q queries) DeleteSearchesBySource(ctx context.Context, sourceID int64) (int64, error) {
	ds := q.dialect.Delete("search").Where(goqu.C("source_id").Eq(sourceID)).Prepared(true)
	res, err := q.exec(ctx, ds)
	if err != nil {
		return 0, fmt.Errorf("failed to delete searches of source %d: %w", sourceID, err)
	}
	return affected(res), nil
}
