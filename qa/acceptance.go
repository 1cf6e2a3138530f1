/*
acceptance.go - Post Acceptance Coordinator

PURPOSE:
  Moves the "accepted answer" marker of a post, keeping three things in step
  inside one transaction:
    1. the post (AcceptedAnswerID, Status)
    2. the answers (IsAccepted)
    3. the answer authors (Reputation, AcceptedAnswersCount, ledger entries)

ACCEPT:
  Lock post -> check ownership -> load target answer -> if ANOTHER answer is
  accepted, revoke it (unmark, -award, counter-1, ledger) -> mark target,
  +award, counter+1, ledger -> compare-and-set the post.

  Accepting the already-accepted answer is not short-circuited: it awards
  again. This matches the historical behaviour of the platform.

UNACCEPT:
  Lock post -> check ownership -> require an accepted answer -> revoke it ->
  compare-and-set the post back to open.

CONCURRENCY:
  The post row lock serializes acceptance on one post. The compare-and-set on
  accepted_answer_id is the second line: if it loses, the transaction fails
  with ErrConcurrentModification and the service re-runs it from the top.
  The partial unique index on answers(post_id) WHERE is_accepted is the third.
*/
package qa

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/warp/qa-engine/reputation"
)

// AcceptAnswer marks answerID as the accepted answer of postID. Only the post
// author may accept. Returns the updated post.
func (s *Service) AcceptAnswer(ctx context.Context, userID, postID, answerID string) (*Post, error) {
	var revoked *string

	err := s.runTx(ctx, "accept_answer", func(tx Tx) error {
		revoked = nil
		now := s.clock()

		post, err := s.lockOwnedPost(ctx, tx, postID, userID)
		if err != nil {
			return err
		}

		answer, err := tx.GetAnswer(ctx, answerID)
		if err != nil {
			return err
		}
		if answer == nil || answer.IsDeleted || answer.PostID != post.ID {
			return ErrAnswerNotFound
		}

		if prev := post.AcceptedAnswerID; prev != nil && *prev != answer.ID {
			if err := s.revokeAcceptance(ctx, tx, post.ID, *prev, now); err != nil {
				return err
			}
			revoked = prev
		}

		if err := tx.SetAnswerAccepted(ctx, answer.ID, true, now); err != nil {
			return err
		}
		if err := tx.SetPostAcceptance(ctx, post.ID, post.AcceptedAnswerID, &answer.ID, StatusAnswered, now); err != nil {
			return err
		}
		if err := tx.AdjustUserCounter(ctx, answer.AuthorID, CounterAcceptedAnswers, 1); err != nil {
			return err
		}
		_, err = s.ledger.Apply(ctx, tx, answer.AuthorID, reputation.EventAnswerAccepted,
			reputation.Refs{PostID: post.ID, AnswerID: answer.ID})
		return err
	})
	if err != nil {
		return nil, err
	}

	fields := log.Fields{"post_id": postID, "answer_id": answerID, "user_id": userID}
	if revoked != nil {
		fields["previous_answer_id"] = *revoked
	}
	log.WithFields(fields).Info("Answer accepted")

	return s.readPost(ctx, postID)
}

// UnacceptAnswer clears the accepted answer of postID and reverses its award.
// Only the post author may unaccept.
func (s *Service) UnacceptAnswer(ctx context.Context, userID, postID string) (*Post, error) {
	var cleared string

	err := s.runTx(ctx, "unaccept_answer", func(tx Tx) error {
		now := s.clock()

		post, err := s.lockOwnedPost(ctx, tx, postID, userID)
		if err != nil {
			return err
		}
		if post.AcceptedAnswerID == nil {
			return ErrNoAcceptedAnswer
		}
		cleared = *post.AcceptedAnswerID

		if err := s.revokeAcceptance(ctx, tx, post.ID, cleared, now); err != nil {
			return err
		}

		status := StatusOpen
		if post.IsClosed {
			status = StatusClosed
		}
		return tx.SetPostAcceptance(ctx, post.ID, post.AcceptedAnswerID, nil, status, now)
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"post_id":   postID,
		"answer_id": cleared,
		"user_id":   userID,
	}).Info("Answer unaccepted")

	return s.readPost(ctx, postID)
}

// revokeAcceptance unmarks answerID and reverses its author's award.
//
// A referenced answer that no longer exists is tolerated: there is no author
// to attribute a reversal to, so only the post side is reset by the caller.
// The condition is logged and counted as an anomaly.
func (s *Service) revokeAcceptance(ctx context.Context, tx Tx, postID, answerID string, now time.Time) error {
	prev, err := tx.GetAnswer(ctx, answerID)
	if err != nil {
		return err
	}
	if prev == nil {
		anomalies.WithLabelValues("accepted_answer_missing").Inc()
		log.WithFields(log.Fields{
			"post_id":   postID,
			"answer_id": answerID,
		}).Warn("Accepted answer referenced by post does not exist")
		return nil
	}

	if err := tx.SetAnswerAccepted(ctx, prev.ID, false, now); err != nil {
		return err
	}
	if err := tx.AdjustUserCounter(ctx, prev.AuthorID, CounterAcceptedAnswers, -1); err != nil {
		return err
	}
	_, err = s.ledger.Apply(ctx, tx, prev.AuthorID, reputation.EventAnswerUnaccepted,
		reputation.Refs{PostID: postID, AnswerID: prev.ID})
	return err
}

// lockOwnedPost locks a live post and checks that userID authored it.
func (s *Service) lockOwnedPost(ctx context.Context, tx Tx, postID, userID string) (*Post, error) {
	post, err := s.lockLivePost(ctx, tx, postID)
	if err != nil {
		return nil, err
	}
	if post.AuthorID != userID {
		return nil, ErrNotPostAuthor
	}
	return post, nil
}

func (s *Service) lockLivePost(ctx context.Context, tx Tx, postID string) (*Post, error) {
	post, err := tx.LockPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post == nil || post.IsDeleted {
		return nil, ErrPostNotFound
	}
	return post, nil
}
