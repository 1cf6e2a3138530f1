package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/qa-engine/qa"
)

// =============================================================================
// ANSWERS
// =============================================================================

const answerColumns = `id, post_id, author_id, content, score, is_accepted, is_deleted,
	deleted_at, created_at, updated_at`

func scanAnswer(row scanner) (*qa.Answer, error) {
	var (
		a                qa.Answer
		deletedAt        sql.NullString
		created, updated string
	)
	err := row.Scan(&a.ID, &a.PostID, &a.AuthorID, &a.Content, &a.Score, &a.IsAccepted,
		&a.IsDeleted, &deletedAt, &created, &updated)
	if err != nil {
		return nil, err
	}
	if a.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAnswer returns an answer, or nil if it does not exist.
func (c conn) GetAnswer(ctx context.Context, answerID string) (*qa.Answer, error) {
	a, err := scanAnswer(c.queryRow(ctx, `SELECT `+answerColumns+` FROM answers WHERE id = ?`, answerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get answer %s: %w", answerID, classify(err))
	}
	return a, nil
}

// ListAnswers returns the live answers of a post. The accepted answer always
// comes first; ties are broken by id for a stable order.
func (c conn) ListAnswers(ctx context.Context, postID string, sort qa.AnswerSort) ([]qa.Answer, error) {
	order := `is_accepted DESC, score DESC, created_at ASC, id ASC`
	if sort == qa.SortNew {
		order = `is_accepted DESC, created_at DESC, id ASC`
	}

	rows, err := c.query(ctx, `SELECT `+answerColumns+` FROM answers
		WHERE post_id = ? AND is_deleted = FALSE
		ORDER BY `+order, postID)
	if err != nil {
		return nil, fmt.Errorf("list answers of post %s: %w", postID, err)
	}
	defer rows.Close()

	var answers []qa.Answer
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, err
		}
		answers = append(answers, *a)
	}
	return answers, rows.Err()
}

// InsertAnswer inserts a new, unaccepted answer.
func (c conn) InsertAnswer(ctx context.Context, a *qa.Answer) error {
	_, err := c.exec(ctx, `
		INSERT INTO answers (id, post_id, author_id, content, score, is_accepted, is_deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, FALSE, FALSE, ?, ?)
	`, a.ID, a.PostID, a.AuthorID, a.Content, formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert answer %s: %w", a.ID, err)
	}
	return nil
}

// UpdateAnswerContent replaces the content of a live answer.
func (c conn) UpdateAnswerContent(ctx context.Context, answerID, content string, at time.Time) error {
	err := c.execOne(ctx, `
		UPDATE answers SET content = ?, updated_at = ?
		WHERE id = ? AND is_deleted = FALSE
	`, content, formatTime(at), answerID)
	if errors.Is(err, errNoRows) {
		return lostRace("update answer", answerID)
	}
	if err != nil {
		return fmt.Errorf("update answer %s: %w", answerID, err)
	}
	return nil
}

// SetAnswerAccepted flips is_accepted.
func (c conn) SetAnswerAccepted(ctx context.Context, answerID string, accepted bool, at time.Time) error {
	err := c.execOne(ctx, `UPDATE answers SET is_accepted = ?, updated_at = ? WHERE id = ?`,
		accepted, formatTime(at), answerID)
	if errors.Is(err, errNoRows) {
		return lostRace("set accepted on answer", answerID)
	}
	if err != nil {
		return fmt.Errorf("set accepted on answer %s: %w", answerID, err)
	}
	return nil
}

// SoftDeleteAnswer deletes a live answer only while it is not accepted.
func (c conn) SoftDeleteAnswer(ctx context.Context, answerID string, at time.Time) error {
	ts := formatTime(at)
	err := c.execOne(ctx, `
		UPDATE answers SET is_deleted = TRUE, deleted_at = ?, updated_at = ?
		WHERE id = ? AND is_deleted = FALSE AND is_accepted = FALSE
	`, ts, ts, answerID)
	if errors.Is(err, errNoRows) {
		return lostRace("delete answer", answerID)
	}
	if err != nil {
		return fmt.Errorf("delete answer %s: %w", answerID, err)
	}
	return nil
}
