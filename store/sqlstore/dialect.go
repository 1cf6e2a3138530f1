package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// dialect captures the SQL differences between the supported drivers.
type dialect struct {
	driver string

	// greatest is the two-argument max function used by floored counters.
	greatest string

	// nullSafeEq compares a column to a possibly-NULL parameter.
	nullSafeEq string

	// forUpdate is appended to row-locking reads.
	forUpdate string

	// numbered placeholders ($1, $2...) instead of ?.
	numbered bool

	// singleConn limits the pool to one connection.
	singleConn bool

	// migrationsDir is the embedded directory holding this dialect's schema.
	migrationsDir string

	// acceptedIndex is the partial unique index guarding one accepted answer
	// per post, as it appears in driver errors.
	acceptedIndex string
}

var (
	sqliteDialect = &dialect{
		driver:        DriverSQLite,
		greatest:      "MAX",
		nullSafeEq:    "IS",
		forUpdate:     "",
		singleConn:    true,
		migrationsDir: "migrations/sqlite",
		acceptedIndex: "answers.post_id",
	}

	postgresDialect = &dialect{
		driver:        DriverPostgres,
		greatest:      "GREATEST",
		nullSafeEq:    "IS NOT DISTINCT FROM",
		forUpdate:     " FOR UPDATE",
		numbered:      true,
		migrationsDir: "migrations/postgres",
		acceptedIndex: "idx_answers_one_accepted",
	}
)

func dialectFor(driver string) (*dialect, error) {
	switch driver {
	case DriverSQLite, "sqlite":
		return sqliteDialect, nil
	case DriverPostgres, "postgres", "postgresql":
		return postgresDialect, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// dsn adds the connection parameters the store relies on.
func (d *dialect) dsn(dsn string) string {
	if d.driver != DriverSQLite || strings.Contains(dsn, "?") {
		return dsn
	}
	// IMMEDIATE transactions take the write lock at BEGIN, so a locked read
	// inside a workflow can never be invalidated by another writer.
	return dsn + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
}

// rebind converts ? placeholders to $n for numbered dialects.
func (d *dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
