package datastore

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/lepinkainen/coverhub/internal/model"
)

var vendorColumns = []any{
	"id", "name", "rank",
	"data_server_uri", "data_server_user", "data_server_password", "image_server_uri",
}

func (q queries) GetVendor(ctx context.Context, id int) (model.Vendor, error) {
	var v model.Vendor
	ds := q.dialect.From("vendor").Select(vendorColumns...).Where(goqu.C("id").Eq(id)).Prepared(true)
	if err := q.get(ctx, &v, ds); err != nil {
		return model.Vendor{}, fmt.Errorf("vendor %d: %w", id, err)
	}
	return v, nil
}

func (q queries) ListVendors(ctx context.Context) ([]model.Vendor, error) {
	var vendors []model.Vendor
	ds := q.dialect.From("vendor").Select(vendorColumns...).Order(goqu.C("rank").Asc()).Prepared(true)
	if err := q.selectAll(ctx, &vendors, ds); err != nil {
		return nil, fmt.Errorf("failed to list vendors: %w", err)
	}
	return vendors, nil
}

// UpsertVendor inserts a vendor or refreshes every column of an existing one.
func (q queries) UpsertVendor(ctx context.Context, v model.Vendor) error {
	ds := q.dialect.Insert("vendor").Rows(goqu.Record{
		"id":                   v.ID,
		"name":                 v.Name,
		"rank":                 v.Rank,
		"data_server_uri":      nullable(v.DataServerURI),
		"data_server_user":     nullable(v.DataServerUser),
		"data_server_password": nullable(v.DataServerPassword),
		"image_server_uri":     nullable(v.ImageServerURI),
	}).OnConflict(goqu.DoUpdate("id", goqu.Record{
		"name":                 goqu.L("excluded.name"),
		"rank":                 goqu.L("excluded.rank"),
		"data_server_uri":      goqu.L("excluded.data_server_uri"),
		"data_server_user":     goqu.L("excluded.data_server_user"),
		"data_server_password": goqu.L("excluded.data_server_password"),
		"image_server_uri":     goqu.L("excluded.image_server_uri"),
	})).Prepared(true)

	if _, err := q.exec(ctx, ds); err != nil {
		return fmt.Errorf("failed to upsert vendor %d: %w", v.ID, err)
	}
	return nil
}
