// Package datastore persists vendors, sources, images and search rows in
// sqlite or postgres. Queries are built with goqu and scanned with sqlx.
package datastore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lepinkainen/coverhub/internal/model"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"

	sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert violates a unique constraint.
	ErrDuplicate = errors.New("duplicate row")
)

// Queries is the read/write surface shared by Store and the transaction
// handed to InTx callbacks.
type Queries interface {
	GetVendor(ctx context.Context, id int) (model.Vendor, error)
	ListVendors(ctx context.Context) ([]model.Vendor, error)
	UpsertVendor(ctx context.Context, v model.Vendor) error

	GetSource(ctx context.Context, vendorID int, matchID string) (model.Source, error)
	GetSourceByID(ctx context.Context, id int64) (model.Source, error)
	SourcesByMatchIDs(ctx context.Context, vendorID int, matchIDs []string) ([]model.Source, error)
	SourcesForIdentifier(ctx context.Context, matchID string, matchType model.IdentifierType) ([]RankedSource, error)
	SourcesByVendor(ctx context.Context, vendorID int, afterID int64, limit int) ([]model.Source, error)
	CountSourcesByVendor(ctx context.Context) (map[int]int64, error)
	InsertSource(ctx context.Context, src *model.Source) error
	UpdateSource(ctx context.Context, src model.Source) error
	TouchLastIndexed(ctx context.Context, sourceID int64, at time.Time) error
	DeleteSource(ctx context.Context, id int64) error

	GetImage(ctx context.Context, id int64) (model.Image, error)
	GetImageBySource(ctx context.Context, sourceID int64) (model.Image, error)
	SaveImage(ctx context.Context, img *model.Image) error
	DeleteImageBySource(ctx context.Context, sourceID int64) error

	GetSearch(ctx context.Context, identifier string, t model.IdentifierType) (model.Search, error)
	GetSearchForUpdate(ctx context.Context, identifier string, t model.IdentifierType) (model.Search, error)
	SearchesBySource(ctx context.Context, sourceID int64) ([]model.Search, error)
	CountSearchesBySources(ctx context.Context, sourceIDs []int64) (map[int64]int, error)
	InsertSearch(ctx context.Context, s *model.Search) error
	UpdateSearch(ctx context.Context, s model.Search) error
	DeleteSearchesBySource(ctx context.Context, sourceID int64) (int64, error)
}

// Store is the database handle.
type Store struct {
	queries
	db     *sqlx.DB
	driver string
}

// Open connects to the database selected by driver ("sqlite" or "pgx").
func Open(ctx context.Context, driverName, dsn string) (*Store, error) {
	var dialect string
	switch driverName {
	case DriverSQLite:
		dialect = "sqlite3"
		if !strings.Contains(dsn, "_pragma") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + sqlitePragmas
		}
	case DriverPostgres:
		dialect = "postgres"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driverName)
	}

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driverName == DriverSQLite {
		// One writer at a time; transactions queue on the pool instead of
		// failing with SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		closeErr := db.Close()
		return nil, errors.Join(fmt.Errorf("failed to connect to database: %w", err), closeErr)
	}

	return &Store{
		queries: queries{
			ext:       db,
			dialect:   goqu.Dialect(dialect),
			returning: driverName == DriverPostgres,
			rowLocks:  driverName == DriverPostgres,
		},
		db:     db,
		driver: driverName,
	}, nil
}

// Driver returns the database/sql driver name in use.
func (s *Store) Driver() string {
	return s.driver
}

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	statements := sqliteSchema
	if s.driver == DriverPostgres {
		statements = postgresSchema
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// InTx runs fn inside a transaction. Errors returned by fn are passed
// through unchanged after the rollback.
func (s *Store) InTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after a commit is a no-op error we can ignore
		_ = tx.Rollback()
	}()

	if err := fn(queries{ext: tx, dialect: s.dialect, returning: s.returning, rowLocks: s.rowLocks}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", translate(err))
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// IsConnectionError reports failures of the connection itself rather than
// of the statement.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return true
		}
		return code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "UNIQUE")
	}
	return false
}

// translate maps driver errors onto the package sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}
