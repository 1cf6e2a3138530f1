/*
answer.go - Answer Lifecycle Manager

WORKFLOWS:
  CreateAnswer - post live, open, not self-authored -> insert answer,
                 post.answer_count+1, post.last_activity_at, author
                 answers_count+1, +AnswerCreated with ledger entry.
  UpdateAnswer - author only, content re-sanitized, no reputation effect.
  DeleteAnswer - author or admin, never an accepted answer -> soft delete,
                 post.answer_count-1, author answers_count-1. The creation
                 award is not reversed.
  ListAnswers  - read projection, accepted answer first.
*/
package qa

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/warp/qa-engine/reputation"
)

// CreateAnswer adds an answer by userID to postID.
func (s *Service) CreateAnswer(ctx context.Context, userID, postID, content string) (*Answer, error) {
	clean := s.sanitizer.Sanitize(content)
	if strings.TrimSpace(clean) == "" {
		return nil, invalid("answer content is empty")
	}

	var created *Answer
	err := s.runTx(ctx, "create_answer", func(tx Tx) error {
		now := s.clock()

		post, err := s.lockLivePost(ctx, tx, postID)
		if err != nil {
			return err
		}
		if post.IsClosed {
			return ErrPostClosed
		}
		if post.AuthorID == userID {
			return ErrSelfAnswer
		}

		author, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if author == nil {
			return ErrUserNotFound
		}

		a := &Answer{
			ID:        s.newID(),
			PostID:    post.ID,
			AuthorID:  userID,
			Content:   clean,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertAnswer(ctx, a); err != nil {
			return err
		}
		if err := tx.AdjustPostAnswerCount(ctx, post.ID, 1); err != nil {
			return err
		}
		if err := tx.TouchPost(ctx, post.ID, now); err != nil {
			return err
		}
		if err := tx.AdjustUserCounter(ctx, userID, CounterAnswers, 1); err != nil {
			return err
		}
		if _, err := s.ledger.Apply(ctx, tx, userID, reputation.EventAnswerCreated,
			reputation.Refs{PostID: post.ID, AnswerID: a.ID}); err != nil {
			return err
		}

		created = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"post_id":   postID,
		"answer_id": created.ID,
		"user_id":   userID,
	}).Info("Answer created")

	return created, nil
}

// ListAnswers returns the live answers of a post, accepted answer first.
func (s *Service) ListAnswers(ctx context.Context, postID string, sort AnswerSort) ([]Answer, error) {
	if sort == "" {
		sort = SortVotes
	}
	if !sort.Valid() {
		return nil, invalid("sort must be one of: votes, new")
	}

	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return nil, internalError("list_answers", err)
	}
	if post == nil || post.IsDeleted {
		return nil, ErrPostNotFound
	}

	answers, err := s.store.ListAnswers(ctx, postID, sort)
	if err != nil {
		return nil, internalError("list_answers", err)
	}
	return answers, nil
}

// UpdateAnswer replaces the content of an answer. Only its author may edit.
func (s *Service) UpdateAnswer(ctx context.Context, userID, answerID, content string) (*Answer, error) {
	clean := s.sanitizer.Sanitize(content)
	if strings.TrimSpace(clean) == "" {
		return nil, invalid("answer content is empty")
	}

	var updated *Answer
	err := s.runTx(ctx, "update_answer", func(tx Tx) error {
		now := s.clock()

		a, err := tx.GetAnswer(ctx, answerID)
		if err != nil {
			return err
		}
		if a == nil || a.IsDeleted {
			return ErrAnswerNotFound
		}
		if a.AuthorID != userID {
			return ErrNotAnswerAuthor
		}
		if err := tx.UpdateAnswerContent(ctx, a.ID, clean, now); err != nil {
			return err
		}

		a.Content = clean
		a.UpdatedAt = now
		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"answer_id": answerID, "user_id": userID}).Info("Answer updated")
	return updated, nil
}

// DeleteAnswer soft-deletes an answer. The author or an admin may delete;
// an accepted answer cannot be deleted.
func (s *Service) DeleteAnswer(ctx context.Context, userID, answerID string) error {
	var deleted *Answer
	err := s.runTx(ctx, "delete_answer", func(tx Tx) error {
		now := s.clock()

		a, err := tx.GetAnswer(ctx, answerID)
		if err != nil {
			return err
		}
		if a == nil || a.IsDeleted {
			return ErrAnswerNotFound
		}
		if a.AuthorID != userID {
			requester, err := tx.GetUser(ctx, userID)
			if err != nil {
				return err
			}
			if !requester.IsAdmin() {
				return ErrAccessDenied
			}
		}
		if a.IsAccepted {
			return ErrCannotDeleteAccepted
		}

		// Guarded on is_accepted = false: an acceptance committed since the
		// read above makes this fail and the retry sees IsAccepted.
		if err := tx.SoftDeleteAnswer(ctx, a.ID, now); err != nil {
			return err
		}
		if err := tx.AdjustPostAnswerCount(ctx, a.PostID, -1); err != nil {
			return err
		}
		if err := tx.AdjustUserCounter(ctx, a.AuthorID, CounterAnswers, -1); err != nil {
			return err
		}
		deleted = a
		return nil
	})
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"post_id":   deleted.PostID,
		"answer_id": answerID,
		"user_id":   userID,
	}).Info("Answer deleted")
	return nil
}
