package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warp/qa-engine/reputation"
)

// =============================================================================
// REPUTATION HISTORY (append-only)
// =============================================================================

const entryColumns = `id, user_id, event, change, related_post_id, related_answer_id, created_at`

// AppendEntry inserts one history row and returns its store-assigned id.
func (c conn) AppendEntry(ctx context.Context, e reputation.Entry) (reputation.EntryID, error) {
	var id int64
	err := c.queryRow(ctx, `
		INSERT INTO reputation_history (user_id, event, change, related_post_id, related_answer_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`, e.UserID, string(e.Event), e.Change, e.RelatedPostID, e.RelatedAnswerID, formatTime(e.CreatedAt)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append reputation entry: %w", classify(err))
	}
	return reputation.EntryID(id), nil
}

// ReputationHistory returns a user's latest entries, newest first.
func (c conn) ReputationHistory(ctx context.Context, userID string, limit int) ([]reputation.Entry, error) {
	return c.queryEntries(ctx, `SELECT `+entryColumns+` FROM reputation_history
		WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, limit)
}

// Entries returns a user's full history in ascending id order.
func (c conn) Entries(ctx context.Context, userID string) ([]reputation.Entry, error) {
	return c.queryEntries(ctx, `SELECT `+entryColumns+` FROM reputation_history
		WHERE user_id = ? ORDER BY id ASC`, userID)
}

// Snapshot runs fn inside one read-only transaction so every balance and
// history it reads comes from the same point in time. Postgres reads at
// REPEATABLE READ; sqlite holds its single connection until fn returns, so
// writers queue behind the audit.
func (s *Store) Snapshot(ctx context.Context, fn func(r reputation.SnapshotReader) error) error {
	var opts *sql.TxOptions
	if s.d.driver == DriverPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	sqlTx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin audit snapshot: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(conn{q: sqlTx, d: s.d}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// Balances returns every user's stored reputation.
func (c conn) Balances(ctx context.Context) ([]reputation.Balance, error) {
	rows, err := c.query(ctx, `SELECT id, reputation FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load balances: %w", err)
	}
	defer rows.Close()

	var out []reputation.Balance
	for rows.Next() {
		var b reputation.Balance
		if err := rows.Scan(&b.UserID, &b.Reputation); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (c conn) queryEntries(ctx context.Context, query string, args ...any) ([]reputation.Entry, error) {
	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reputation history: %w", err)
	}
	defer rows.Close()

	var entries []reputation.Entry
	for rows.Next() {
		var (
			e              reputation.Entry
			id             int64
			postID, answer sql.NullString
			created        string
		)
		if err := rows.Scan(&id, &e.UserID, &e.Event, &e.Change, &postID, &answer, &created); err != nil {
			return nil, err
		}
		e.ID = reputation.EntryID(id)
		e.RelatedPostID = stringPtr(postID)
		e.RelatedAnswerID = stringPtr(answer)
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var (
	_ reputation.HistoryReader  = (*Store)(nil)
	_ reputation.SnapshotReader = conn{}
)
