package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/qa-engine/qa"
	"github.com/warp/qa-engine/reputation"
)

// =============================================================================
// USERS
// =============================================================================

const userColumns = `id, username, display_name, role, reputation, posts_count,
	answers_count, accepted_answers_count, created_at`

// GetUser returns a user, or nil if it does not exist.
func (c conn) GetUser(ctx context.Context, userID string) (*qa.User, error) {
	var (
		u       qa.User
		created string
	)
	err := c.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID).Scan(
		&u.ID, &u.Username, &u.DisplayName, &u.Role, &u.Reputation, &u.PostsCount,
		&u.AnswersCount, &u.AcceptedAnswersCount, &created,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, classify(err))
	}
	if u.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &u, nil
}

// InsertUser inserts a user with the given counters.
func (c conn) InsertUser(ctx context.Context, u *qa.User) error {
	_, err := c.exec(ctx, `
		INSERT INTO users (id, username, display_name, role, reputation, posts_count,
			answers_count, accepted_answers_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.Username, u.DisplayName, string(u.Role), u.Reputation, u.PostsCount,
		u.AnswersCount, u.AcceptedAnswersCount, formatTime(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert user %s: %w", u.Username, err)
	}
	return nil
}

// AdjustReputation applies a delta to users.reputation, floored at zero, as
// one statement evaluated by the database.
func (c conn) AdjustReputation(ctx context.Context, userID string, delta int) error {
	query := fmt.Sprintf(`UPDATE users SET reputation = %s(0, reputation + ?) WHERE id = ?`, c.d.greatest)
	err := c.execOne(ctx, query, delta, userID)
	if errors.Is(err, errNoRows) {
		return fmt.Errorf("user %s: %w", userID, reputation.ErrUnknownUser)
	}
	return err
}

// AdjustUserCounter applies a floored delta to one activity counter.
func (c conn) AdjustUserCounter(ctx context.Context, userID string, counter qa.UserCounter, delta int) error {
	var column string
	switch counter {
	case qa.CounterPosts, qa.CounterAnswers, qa.CounterAcceptedAnswers:
		column = string(counter)
	default:
		return fmt.Errorf("unknown user counter %q", counter)
	}

	query := fmt.Sprintf(`UPDATE users SET %[1]s = %[2]s(0, %[1]s + ?) WHERE id = ?`, column, c.d.greatest)
	err := c.execOne(ctx, query, delta, userID)
	if errors.Is(err, errNoRows) {
		return fmt.Errorf("adjust %s of user %s: %w", column, userID, reputation.ErrUnknownUser)
	}
	if err != nil {
		return fmt.Errorf("adjust %s of user %s: %w", column, userID, err)
	}
	return nil
}

// =============================================================================
// TAGS
// =============================================================================

func scanTags(rows *sql.Rows) ([]qa.Tag, error) {
	defer rows.Close()

	var tags []qa.Tag
	for rows.Next() {
		var t qa.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Slug, &t.Color, &t.PostsCount); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// ResolveTags returns the existing tags among ids.
func (c conn) ResolveTags(ctx context.Context, ids []string) ([]qa.Tag, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := c.query(ctx, `SELECT id, name, slug, color, posts_count FROM tags
		WHERE id IN (`+placeholders(len(ids))+`) ORDER BY name`, args...)
	if err != nil {
		return nil, fmt.Errorf("resolve tags: %w", err)
	}
	return scanTags(rows)
}

// ListTags returns every tag ordered by name.
func (c conn) ListTags(ctx context.Context) ([]qa.Tag, error) {
	rows, err := c.query(ctx, `SELECT id, name, slug, color, posts_count FROM tags ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return scanTags(rows)
}

// InsertTag inserts a tag with a zero posts counter.
func (c conn) InsertTag(ctx context.Context, t *qa.Tag) error {
	_, err := c.exec(ctx, `INSERT INTO tags (id, name, slug, color, posts_count) VALUES (?, ?, ?, ?, 0)`,
		t.ID, t.Name, t.Slug, t.Color)
	if err != nil {
		return fmt.Errorf("insert tag %s: %w", t.Name, err)
	}
	return nil
}

// AdjustTagPostsCount applies a floored delta to tags.posts_count.
func (c conn) AdjustTagPostsCount(ctx context.Context, tagID string, delta int) error {
	query := fmt.Sprintf(`UPDATE tags SET posts_count = %s(0, posts_count + ?) WHERE id = ?`, c.d.greatest)
	if err := c.execOne(ctx, query, delta, tagID); err != nil {
		return fmt.Errorf("adjust posts count of tag %s: %w", tagID, err)
	}
	return nil
}
