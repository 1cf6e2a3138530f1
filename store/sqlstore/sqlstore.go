/*
Package sqlstore provides the relational implementation of qa.Store.

PURPOSE:
  One database/sql implementation serving two drivers:
    - sqlite3 (mattn/go-sqlite3): development and tests
    - pgx     (jackc/pgx/v5/stdlib): production PostgreSQL
  The differences are confined to a dialect (placeholders, the two-argument
  max function, row locking, null-safe equality) and the migration files.

INTERFACES IMPLEMENTED:
  qa.Store:                 WithTx + read projections
  qa.Tx:                    transaction-bound reads and writes
  reputation.HistoryReader: Balances + Entries in one snapshot for the audit

APPEND-ONLY ENFORCEMENT:
  reputation_history has no UPDATE or DELETE statement in this package, and
  the schema installs triggers that reject both.

KEY TABLES:
  users, tags, posts, post_tags, answers: Q&A entities and counters
  reputation_history:                     immutable ledger of reputation changes
  schema_migrations:                      applied migration versions

CONCURRENCY:
  PostgreSQL: LockPost uses SELECT ... FOR UPDATE; counters are single
  arithmetic UPDATEs evaluated under the row lock.
  SQLite: one connection, transactions begin IMMEDIATE, so write
  transactions are fully serialized.

USAGE:
  store, err := sqlstore.OpenSQLite(ctx, "./data/qa.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := qa.NewService(store, qa.Config{})

SEE ALSO:
  - qa/store.go: interface definitions
  - dialect.go: driver differences
  - errors.go: transient/conflict classification
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"

	"github.com/warp/qa-engine/qa"
)

// =============================================================================
// STORE
// =============================================================================

// Store implements qa.Store over database/sql.
type Store struct {
	conn
	db *sql.DB
}

// Options tunes the connection pool. Ignored for sqlite, which always uses a
// single connection.
type Options struct {
	MaxOpenConns int
	MaxIdleConns int
	MaxConnLife  time.Duration
}

// Open connects with the given driver ("sqlite3" or "pgx"), applies pending
// migrations and returns a ready store.
func Open(ctx context.Context, driver, dsn string, opts Options) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driver, d.dsn(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if d.singleConn {
		db.SetMaxOpenConns(1)
	} else {
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			db.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.MaxConnLife > 0 {
			db.SetConnMaxLifetime(opts.MaxConnLife)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	store := &Store{conn: conn{q: db, d: d}, db: db}
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.WithFields(log.Fields{"driver": d.driver}).Info("Database ready")
	return store, nil
}

// OpenSQLite opens (creating if needed) a sqlite database file.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	return Open(ctx, DriverSQLite, path, Options{})
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for tooling and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Driver returns the driver name the store was opened with.
func (s *Store) Driver() string {
	return s.d.driver
}

// =============================================================================
// TRANSACTIONAL STORE (qa.Store.WithTx)
// =============================================================================

// WithTx executes fn within one database transaction. Nothing fn wrote is
// visible unless fn returns nil and the commit succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(tx qa.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{conn{q: sqlTx, d: s.d}}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// txStore is the qa.Tx handed to workflow closures.
type txStore struct {
	conn
}

var (
	_ qa.Store = (*Store)(nil)
	_ qa.Tx    = (*txStore)(nil)
)

// =============================================================================
// CONN - statements shared by Store and txStore
// =============================================================================

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn binds a *sql.DB or *sql.Tx to a dialect. Every method defined on conn
// is available both inside and outside transactions.
type conn struct {
	q queryer
	d *dialect
}

type scanner interface {
	Scan(dest ...any) error
}

func (c conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := c.q.ExecContext(ctx, c.d.rebind(query), args...)
	if err != nil {
		return nil, classify(err)
	}
	return res, nil
}

// execOne runs a guarded UPDATE and returns errNoRows if nothing matched.
func (c conn) execOne(ctx context.Context, query string, args ...any) error {
	res, err := c.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return errNoRows
	}
	return nil
}

func (c conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := c.q.QueryContext(ctx, c.d.rebind(query), args...)
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

func (c conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.d.rebind(query), args...)
}

var errNoRows = errors.New("no rows affected")

// =============================================================================
// TIME & NULL HELPERS
// =============================================================================

// timeLayout is fixed-width so text ordering matches chronological ordering.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, 2*n)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '?')
	}
	return string(b)
}
