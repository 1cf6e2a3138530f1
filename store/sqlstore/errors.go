package sqlstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/warp/qa-engine/qa"
)

// PostgreSQL SQLSTATE codes.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
)

// classify maps driver errors onto the qa error kinds:
//   - busy/locked database, serialization failure, deadlock -> ErrConcurrentModification
//   - a second accepted answer on a post                    -> ErrConcurrentModification
//   - any other uniqueness violation                        -> ErrConflict
//
// Everything else is returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return transient(err)
		case sqlite3.ErrConstraint:
			if sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
				sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
				if strings.Contains(sqliteErr.Error(), sqliteDialect.acceptedIndex) {
					return transient(err)
				}
				return conflict(err)
			}
		}
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected:
			return transient(err)
		case pgUniqueViolation:
			if pgErr.ConstraintName == postgresDialect.acceptedIndex {
				return transient(err)
			}
			return conflict(err)
		}
	}

	return err
}

func transient(err error) error {
	return fmt.Errorf("%w: %v", qa.ErrConcurrentModification, err)
}

func conflict(err error) error {
	return fmt.Errorf("%w: %v", qa.ErrConflict, err)
}

// lostRace reports a guarded write that matched no row.
func lostRace(what, id string) error {
	return fmt.Errorf("%s %s: %w", what, id, qa.ErrConcurrentModification)
}
