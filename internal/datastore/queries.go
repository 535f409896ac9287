package datastore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
)

type sqlBuilder interface {
	ToSQL() (string, []any, error)
}

// queries implements Queries on top of either the pool or a transaction.
type queries struct {
	ext       sqlx.ExtContext
	dialect   goqu.DialectWrapper
	returning bool
	// rowLocks enables SELECT ... FOR UPDATE; sqlite has no row locks and
	// serializes writers on its single connection.
	rowLocks  bool
}

func (q queries) get(ctx context.Context, dest any, b sqlBuilder) error {
	query, args, err := b.ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}
	return translate(sqlx.GetContext(ctx, q.ext, dest, query, args...))
}

func (q queries) selectAll(ctx context.Context, dest any, b sqlBuilder) error {
	query, args, err := b.ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}
	return translate(sqlx.SelectContext(ctx, q.ext, dest, query, args...))
}

func (q queries) exec(ctx context.Context, b sqlBuilder) (sql.Result, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	res, err := q.ext.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	return res, nil
}

// insertID runs an insert and returns the generated id. Postgres uses
// RETURNING, sqlite the driver's last insert id.
func (q queries) insertID(ctx context.Context, ds *goqu.InsertDataset) (int64, error) {
	if q.returning {
		var id int64
		if err := q.get(ctx, &id, ds.Returning("id")); err != nil {
			return 0, err
		}
		return id, nil
	}

	res, err := q.exec(ctx, ds)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted id: %w", err)
	}
	return id, nil
}

func affected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

// nullable turns typed nil pointers into untyped nils so goqu binds NULL.
func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
