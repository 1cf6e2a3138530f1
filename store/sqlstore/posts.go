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
// POSTS
// =============================================================================

const postColumns = `id, author_id, type, status, title, content, accepted_answer_id,
	answer_count, view_count, score, is_deleted, deleted_at, is_closed,
	closed_reason, closed_by_id, created_at, updated_at, last_activity_at`

func scanPost(row scanner) (*qa.Post, error) {
	var (
		p                                   qa.Post
		accepted, deletedAt, reason, closer sql.NullString
		created, updated, activity          string
	)
	err := row.Scan(
		&p.ID, &p.AuthorID, &p.Type, &p.Status, &p.Title, &p.Content, &accepted,
		&p.AnswerCount, &p.ViewCount, &p.Score, &p.IsDeleted, &deletedAt, &p.IsClosed,
		&reason, &closer, &created, &updated, &activity,
	)
	if err != nil {
		return nil, err
	}

	p.AcceptedAnswerID = stringPtr(accepted)
	p.ClosedReason = stringPtr(reason)
	p.ClosedByID = stringPtr(closer)
	if p.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if p.LastActivityAt, err = parseTime(activity); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c conn) selectPost(ctx context.Context, query, postID string) (*qa.Post, error) {
	p, err := scanPost(c.queryRow(ctx, query, postID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get post %s: %w", postID, classify(err))
	}
	return p, nil
}

// GetPost returns a post with its tags, or nil if it does not exist.
func (c conn) GetPost(ctx context.Context, postID string) (*qa.Post, error) {
	p, err := c.selectPost(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, postID)
	if err != nil || p == nil {
		return p, err
	}
	if p.Tags, err = c.postTags(ctx, postID); err != nil {
		return nil, err
	}
	return p, nil
}

// LockPost reads a post and holds its row lock until the transaction ends.
func (c conn) LockPost(ctx context.Context, postID string) (*qa.Post, error) {
	return c.selectPost(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`+c.d.forUpdate, postID)
}

func (c conn) postTags(ctx context.Context, postID string) ([]qa.Tag, error) {
	rows, err := c.query(ctx, `
		SELECT t.id, t.name, t.slug, t.color, t.posts_count
		FROM tags t
		JOIN post_tags pt ON pt.tag_id = t.id
		WHERE pt.post_id = ?
		ORDER BY t.name
	`, postID)
	if err != nil {
		return nil, fmt.Errorf("load tags of post %s: %w", postID, err)
	}
	return scanTags(rows)
}

// PostTagIDs returns the tag ids attached to a post.
func (c conn) PostTagIDs(ctx context.Context, postID string) ([]string, error) {
	rows, err := c.query(ctx, `SELECT tag_id FROM post_tags WHERE post_id = ? ORDER BY tag_id`, postID)
	if err != nil {
		return nil, fmt.Errorf("load tag ids of post %s: %w", postID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertPost inserts a post and its tag links.
func (c conn) InsertPost(ctx context.Context, p *qa.Post, tagIDs []string) error {
	_, err := c.exec(ctx, `
		INSERT INTO posts
		(id, author_id, type, status, title, content, accepted_answer_id,
		 answer_count, view_count, score, is_deleted, is_closed,
		 created_at, updated_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL, 0, 0, 0, FALSE, FALSE, ?, ?, ?)
	`,
		p.ID, p.AuthorID, string(p.Type), string(p.Status), p.Title, p.Content,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt), formatTime(p.LastActivityAt),
	)
	if err != nil {
		return fmt.Errorf("insert post %s: %w", p.ID, err)
	}
	return c.linkTags(ctx, p.ID, tagIDs)
}

func (c conn) linkTags(ctx context.Context, postID string, tagIDs []string) error {
	for _, tagID := range tagIDs {
		if _, err := c.exec(ctx, `INSERT INTO post_tags (post_id, tag_id) VALUES (?, ?)`, postID, tagID); err != nil {
			return fmt.Errorf("link tag %s to post %s: %w", tagID, postID, err)
		}
	}
	return nil
}

// UpdatePost writes the editable fields of a live post.
func (c conn) UpdatePost(ctx context.Context, p *qa.Post) error {
	err := c.execOne(ctx, `
		UPDATE posts SET type = ?, title = ?, content = ?, updated_at = ?
		WHERE id = ? AND is_deleted = FALSE
	`, string(p.Type), p.Title, p.Content, formatTime(p.UpdatedAt), p.ID)
	if errors.Is(err, errNoRows) {
		return lostRace("update post", p.ID)
	}
	if err != nil {
		return fmt.Errorf("update post %s: %w", p.ID, err)
	}
	return nil
}

// ReplacePostTags swaps a post's tag links for tagIDs.
func (c conn) ReplacePostTags(ctx context.Context, postID string, tagIDs []string) error {
	if _, err := c.exec(ctx, `DELETE FROM post_tags WHERE post_id = ?`, postID); err != nil {
		return fmt.Errorf("unlink tags of post %s: %w", postID, err)
	}
	return c.linkTags(ctx, postID, tagIDs)
}

// SetPostAcceptance moves accepted_answer_id from expected to next. The
// compare on the current value makes a lost race visible as zero rows.
func (c conn) SetPostAcceptance(ctx context.Context, postID string, expected, next *string, status qa.PostStatus, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE posts SET accepted_answer_id = ?, status = ?, updated_at = ?
		WHERE id = ? AND is_deleted = FALSE AND accepted_answer_id %s ?
	`, c.d.nullSafeEq)

	err := c.execOne(ctx, query, next, string(status), formatTime(at), postID, expected)
	if errors.Is(err, errNoRows) {
		return lostRace("set acceptance on post", postID)
	}
	if err != nil {
		return fmt.Errorf("set acceptance on post %s: %w", postID, err)
	}
	return nil
}

// SoftDeletePost marks a live post deleted.
func (c conn) SoftDeletePost(ctx context.Context, postID string, at time.Time) error {
	ts := formatTime(at)
	err := c.execOne(ctx, `
		UPDATE posts SET is_deleted = TRUE, deleted_at = ?, updated_at = ?
		WHERE id = ? AND is_deleted = FALSE
	`, ts, ts, postID)
	if errors.Is(err, errNoRows) {
		return lostRace("delete post", postID)
	}
	if err != nil {
		return fmt.Errorf("delete post %s: %w", postID, err)
	}
	return nil
}

// ClosePost marks a live, open post closed.
func (c conn) ClosePost(ctx context.Context, postID, closedByID, reason string, status qa.PostStatus, at time.Time) error {
	err := c.execOne(ctx, `
		UPDATE posts SET is_closed = TRUE, status = ?, closed_reason = ?, closed_by_id = ?, updated_at = ?
		WHERE id = ? AND is_deleted = FALSE AND is_closed = FALSE
	`, string(status), nullString(reason), closedByID, formatTime(at), postID)
	if errors.Is(err, errNoRows) {
		return lostRace("close post", postID)
	}
	if err != nil {
		return fmt.Errorf("close post %s: %w", postID, err)
	}
	return nil
}

// TouchPost records activity on a post.
func (c conn) TouchPost(ctx context.Context, postID string, at time.Time) error {
	if _, err := c.exec(ctx, `UPDATE posts SET last_activity_at = ? WHERE id = ?`, formatTime(at), postID); err != nil {
		return fmt.Errorf("touch post %s: %w", postID, err)
	}
	return nil
}

// AdjustPostAnswerCount applies a floored delta to posts.answer_count.
func (c conn) AdjustPostAnswerCount(ctx context.Context, postID string, delta int) error {
	query := fmt.Sprintf(`UPDATE posts SET answer_count = %s(0, answer_count + ?) WHERE id = ?`, c.d.greatest)
	if err := c.execOne(ctx, query, delta, postID); err != nil {
		return fmt.Errorf("adjust answer count of post %s: %w", postID, err)
	}
	return nil
}

// IncrementViewCount counts one view of a live post.
func (c conn) IncrementViewCount(ctx context.Context, postID string) error {
	if _, err := c.exec(ctx, `UPDATE posts SET view_count = view_count + 1 WHERE id = ? AND is_deleted = FALSE`, postID); err != nil {
		return fmt.Errorf("increment views of post %s: %w", postID, err)
	}
	return nil
}
