/*
store.go - Persistence contracts for the Q&A workflows

PURPOSE:
  Defines what the workflows need from a relational store. The SQL
  implementation lives in store/sqlstore; tests run it against sqlite.

KEY INTERFACES:
  Tx:    everything a workflow may do inside its unit of work
  Store: the unit-of-work boundary (WithTx) plus read projections

TRANSACTION CONTRACT:
  WithTx runs fn inside ONE database transaction. If fn returns an error, or
  commit fails, nothing fn wrote is visible. Transient failures are reported
  wrapping ErrConcurrentModification so the service can retry the whole unit.

  Inside fn, ALL reads and writes go through the Tx. Calling the Store's read
  methods from fn is a bug: the read would not see the transaction's writes
  and, on a single-connection sqlite pool, would block forever.

LOOKUP CONVENTION:
  Getters return (nil, nil) when the row does not exist. Soft-deleted rows
  ARE returned; callers decide whether IsDeleted means "not found".

SEE ALSO:
  - ../reputation/ledger.go: reputation.Store, embedded in Tx
  - ../store/sqlstore: implementation
*/
package qa

import (
	"context"
	"time"

	"github.com/warp/qa-engine/reputation"
)

// Tx is the transaction-bound store handed to workflow closures.
type Tx interface {
	reputation.Store

	// LockPost reads a post and holds a write lock on its row until the
	// transaction ends. Tags are not loaded.
	LockPost(ctx context.Context, postID string) (*Post, error)
	PostTagIDs(ctx context.Context, postID string) ([]string, error)
	GetAnswer(ctx context.Context, answerID string) (*Answer, error)
	GetUser(ctx context.Context, userID string) (*User, error)

	// ResolveTags returns the tags that exist among ids. Missing ids are
	// simply absent from the result.
	ResolveTags(ctx context.Context, ids []string) ([]Tag, error)

	InsertPost(ctx context.Context, p *Post, tagIDs []string) error
	UpdatePost(ctx context.Context, p *Post) error
	ReplacePostTags(ctx context.Context, postID string, tagIDs []string) error

	// SetPostAcceptance is a compare-and-set on accepted_answer_id. It
	// returns ErrConcurrentModification if the post's current accepted
	// answer is not expected (or the post is gone).
	SetPostAcceptance(ctx context.Context, postID string, expected, next *string, status PostStatus, at time.Time) error
	SoftDeletePost(ctx context.Context, postID string, at time.Time) error
	ClosePost(ctx context.Context, postID, closedByID, reason string, status PostStatus, at time.Time) error
	TouchPost(ctx context.Context, postID string, at time.Time) error
	AdjustPostAnswerCount(ctx context.Context, postID string, delta int) error

	InsertAnswer(ctx context.Context, a *Answer) error
	UpdateAnswerContent(ctx context.Context, answerID, content string, at time.Time) error
	SetAnswerAccepted(ctx context.Context, answerID string, accepted bool, at time.Time) error

	// SoftDeleteAnswer only deletes a live, unaccepted answer. It returns
	// ErrConcurrentModification otherwise.
	SoftDeleteAnswer(ctx context.Context, answerID string, at time.Time) error

	// InsertUser and InsertTag report uniqueness violations wrapping ErrConflict.
	InsertUser(ctx context.Context, u *User) error
	InsertTag(ctx context.Context, t *Tag) error

	AdjustTagPostsCount(ctx context.Context, tagID string, delta int) error
	AdjustUserCounter(ctx context.Context, userID string, counter UserCounter, delta int) error
}

// Store is the unit-of-work boundary plus the read projections.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	GetPost(ctx context.Context, postID string) (*Post, error)
	GetAnswer(ctx context.Context, answerID string) (*Answer, error)
	GetUser(ctx context.Context, userID string) (*User, error)
	ListAnswers(ctx context.Context, postID string, sort AnswerSort) ([]Answer, error)
	ListTags(ctx context.Context) ([]Tag, error)
	IncrementViewCount(ctx context.Context, postID string) error
	ReputationHistory(ctx context.Context, userID string, limit int) ([]reputation.Entry, error)
}

// Sanitizer cleans user-supplied rich text.
type Sanitizer interface {
	Sanitize(text string) string
}

// SanitizerFunc adapts a function to Sanitizer.
type SanitizerFunc func(string) string

func (f SanitizerFunc) Sanitize(text string) string { return f(text) }
