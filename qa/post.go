/*
post.go - Post creation, editing, closing and deletion

WORKFLOWS:
  CreatePost - resolve tags -> insert post + post_tags -> tag posts_count+1
               each -> author posts_count+1 -> +PostCreated with ledger entry.
  UpdatePost - author only, inside the edit window, never once an answer is
               accepted. Tag changes adjust tag counters in the same unit.
  ClosePost  - author or admin. Closed posts reject new answers.
  DeletePost - author or admin -> soft delete -> tag posts_count-1 each ->
               author posts_count-1 -> PostDeleted (negative, floored) with
               ledger entry. Not blocked by an accepted answer, and answers
               are left in place.
  GetPost    - read projection; view count incremented fire-and-forget.
*/
package qa

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/warp/qa-engine/reputation"
)

// CreatePost creates a post authored by userID.
func (s *Service) CreatePost(ctx context.Context, userID string, in NewPost) (*Post, error) {
	if !in.Type.Valid() {
		return nil, invalid("type must be one of: question, discussion, resource, practice")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, invalid("title is required")
	}
	clean := s.sanitizer.Sanitize(in.Content)
	if strings.TrimSpace(clean) == "" {
		return nil, invalid("post content is empty")
	}
	tagIDs := uniqueIDs(in.TagIDs)

	postID := s.newID()
	err := s.runTx(ctx, "create_post", func(tx Tx) error {
		now := s.clock()

		author, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if author == nil {
			return ErrUserNotFound
		}
		if err := resolveAll(ctx, tx, tagIDs); err != nil {
			return err
		}

		p := &Post{
			ID:             postID,
			AuthorID:       userID,
			Type:           in.Type,
			Status:         StatusOpen,
			Title:          title,
			Content:        clean,
			CreatedAt:      now,
			UpdatedAt:      now,
			LastActivityAt: now,
		}
		if err := tx.InsertPost(ctx, p, tagIDs); err != nil {
			return err
		}
		for _, id := range tagIDs {
			if err := tx.AdjustTagPostsCount(ctx, id, 1); err != nil {
				return err
			}
		}
		if err := tx.AdjustUserCounter(ctx, userID, CounterPosts, 1); err != nil {
			return err
		}
		_, err = s.ledger.Apply(ctx, tx, userID, reputation.EventPostCreated, reputation.Refs{PostID: p.ID})
		return err
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"post_id": postID,
		"user_id": userID,
		"type":    in.Type,
		"tags":    len(tagIDs),
	}).Info("Post created")

	return s.readPost(ctx, postID)
}

// UpdatePost edits a post. Only its author may edit, only inside the edit
// window, and only while no answer is accepted.
func (s *Service) UpdatePost(ctx context.Context, userID, postID string, patch PostPatch) (*Post, error) {
	if patch.Type != nil && !patch.Type.Valid() {
		return nil, invalid("type must be one of: question, discussion, resource, practice")
	}
	var content *string
	if patch.Content != nil {
		clean := s.sanitizer.Sanitize(*patch.Content)
		if strings.TrimSpace(clean) == "" {
			return nil, invalid("post content is empty")
		}
		content = &clean
	}
	var tagIDs []string
	if patch.TagIDs != nil {
		tagIDs = uniqueIDs(patch.TagIDs)
	}

	err := s.runTx(ctx, "update_post", func(tx Tx) error {
		now := s.clock()

		post, err := s.lockOwnedPost(ctx, tx, postID, userID)
		if err != nil {
			return err
		}
		if now.Sub(post.CreatedAt) > s.editWindow {
			return ErrEditWindowExpired
		}
		if post.HasAcceptedAnswer() {
			return ErrPostHasAcceptedAnswer
		}

		if patch.Type != nil {
			post.Type = *patch.Type
		}
		if patch.Title != nil {
			post.Title = strings.TrimSpace(*patch.Title)
		}
		if content != nil {
			post.Content = *content
		}
		post.UpdatedAt = now
		if err := tx.UpdatePost(ctx, post); err != nil {
			return err
		}

		if tagIDs == nil {
			return nil
		}
		return s.retag(ctx, tx, post.ID, tagIDs)
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"post_id": postID, "user_id": userID}).Info("Post updated")
	return s.readPost(ctx, postID)
}

// retag replaces a post's tags and moves the tag counters accordingly.
func (s *Service) retag(ctx context.Context, tx Tx, postID string, next []string) error {
	if err := resolveAll(ctx, tx, next); err != nil {
		return err
	}
	current, err := tx.PostTagIDs(ctx, postID)
	if err != nil {
		return err
	}

	added, removed := diffIDs(current, next)
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}
	if err := tx.ReplacePostTags(ctx, postID, next); err != nil {
		return err
	}
	for _, id := range added {
		if err := tx.AdjustTagPostsCount(ctx, id, 1); err != nil {
			return err
		}
	}
	for _, id := range removed {
		if err := tx.AdjustTagPostsCount(ctx, id, -1); err != nil {
			return err
		}
	}
	return nil
}

// ClosePost closes a post to new answers. The author or an admin may close.
func (s *Service) ClosePost(ctx context.Context, userID, postID, reason string) (*Post, error) {
	err := s.runTx(ctx, "close_post", func(tx Tx) error {
		post, err := s.lockLivePost(ctx, tx, postID)
		if err != nil {
			return err
		}
		if err := s.authorizeModeration(ctx, tx, post.AuthorID, userID); err != nil {
			return err
		}
		if post.IsClosed {
			return ErrPostClosed
		}

		// An answered post keeps its status so the accepted-answer invariant
		// holds; IsClosed alone blocks new answers.
		status := StatusClosed
		if post.HasAcceptedAnswer() {
			status = StatusAnswered
		}
		return tx.ClosePost(ctx, post.ID, userID, reason, status, s.clock())
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"post_id": postID, "user_id": userID, "reason": reason}).Info("Post closed")
	return s.readPost(ctx, postID)
}

// DeletePost soft-deletes a post and reverses its reputation effect on the
// author. The author or an admin may delete.
func (s *Service) DeletePost(ctx context.Context, userID, postID string) error {
	var authorID string
	err := s.runTx(ctx, "delete_post", func(tx Tx) error {
		now := s.clock()

		post, err := s.lockLivePost(ctx, tx, postID)
		if err != nil {
			return err
		}
		if err := s.authorizeModeration(ctx, tx, post.AuthorID, userID); err != nil {
			return err
		}
		authorID = post.AuthorID

		tagIDs, err := tx.PostTagIDs(ctx, post.ID)
		if err != nil {
			return err
		}
		if err := tx.SoftDeletePost(ctx, post.ID, now); err != nil {
			return err
		}
		for _, id := range tagIDs {
			if err := tx.AdjustTagPostsCount(ctx, id, -1); err != nil {
				return err
			}
		}
		if err := tx.AdjustUserCounter(ctx, post.AuthorID, CounterPosts, -1); err != nil {
			return err
		}
		_, err = s.ledger.Apply(ctx, tx, post.AuthorID, reputation.EventPostDeleted, reputation.Refs{PostID: post.ID})
		return err
	})
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"post_id":   postID,
		"user_id":   userID,
		"author_id": authorID,
	}).Info("Post deleted")
	return nil
}

// GetPost returns a live post with its tags and counts the view.
func (s *Service) GetPost(ctx context.Context, postID string) (*Post, error) {
	post, err := s.readPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	// Fire-and-forget: a lost view must never fail the read.
	go func() {
		viewCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.store.IncrementViewCount(viewCtx, postID); err != nil {
			log.WithField("post_id", postID).WithError(err).Debug("View count increment failed")
		}
	}()

	return post, nil
}

// readPost loads a live post outside any transaction.
func (s *Service) readPost(ctx context.Context, postID string) (*Post, error) {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return nil, internalError("get_post", err)
	}
	if post == nil || post.IsDeleted {
		return nil, ErrPostNotFound
	}
	return post, nil
}

// authorizeModeration allows the author, or any admin.
func (s *Service) authorizeModeration(ctx context.Context, tx Tx, authorID, userID string) error {
	if authorID == userID {
		return nil
	}
	requester, err := tx.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if !requester.IsAdmin() {
		return ErrAccessDenied
	}
	return nil
}

// resolveAll fails with ErrTagNotFound unless every id names a tag.
func resolveAll(ctx context.Context, tx Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tags, err := tx.ResolveTags(ctx, ids)
	if err != nil {
		return err
	}
	if len(tags) != len(ids) {
		return ErrTagNotFound
	}
	return nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func diffIDs(current, next []string) (added, removed []string) {
	cur := make(map[string]bool, len(current))
	for _, id := range current {
		cur[id] = true
	}
	nxt := make(map[string]bool, len(next))
	for _, id := range next {
		nxt[id] = true
		if !cur[id] {
			added = append(added, id)
		}
	}
	for _, id := range current {
		if !nxt[id] {
			removed = append(removed, id)
		}
	}
	return added, removed
}
