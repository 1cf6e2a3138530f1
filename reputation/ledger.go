/*
ledger.go - Append-only reputation history and the counter it explains

PURPOSE:
  Reputation is an integer counter on the user row. The counter alone cannot
  explain itself, so every change to it is paired with one immutable history
  entry written in the same database transaction. The history is the audit
  trail: replaying it from the initial reputation (with the zero floor)
  reconstructs the counter.

COMPONENTS:
  Recorder:    appends history entries. Never updates, never deletes.
  Accumulator: applies a bounded delta to the counter (floored at zero)
               as ONE server-side arithmetic statement.
  Ledger:      pairs the two at the call site, using the Policy to pick the
               delta for an event.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: the store has no Update or Delete for entries.
  2. PAIRED: one Adjust == one Record, same delta, same transaction.
  3. FLOORED: reputation = max(0, reputation + delta), evaluated by the store.

WHY NO READ-MODIFY-WRITE?
  Two workflows awarding the same user concurrently (post created + answer
  accepted) would both read R and both write R+x, losing one award. The store
  evaluates the arithmetic under its own row lock instead.

NOT ATOMIC BY ITSELF:
  Adjust and Record are two statements. The caller's transaction boundary
  (qa.Store.WithTx) is what makes them land together or not at all.

SEE ALSO:
  - policy.go: award amounts per event
  - audit.go: replays the history and reports counter drift
  - store/sqlstore/ledger.go: SQL implementation of Store
*/
package reputation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// ENTRIES
// =============================================================================

// EntryID identifies a history entry. IDs are assigned by the store and grow
// monotonically, so they also order entries.
type EntryID int64

// Entry is one immutable reputation change.
type Entry struct {
	ID              EntryID
	UserID          string
	Event           Event
	Change          int
	RelatedPostID   *string
	RelatedAnswerID *string
	CreatedAt       time.Time
}

// Refs are the optional references carried by an entry.
type Refs struct {
	PostID   string
	AnswerID string
}

func (r Refs) post() *string {
	if r.PostID == "" {
		return nil
	}
	id := r.PostID
	return &id
}

func (r Refs) answer() *string {
	if r.AnswerID == "" {
		return nil
	}
	id := r.AnswerID
	return &id
}

// =============================================================================
// STORE - what the ledger needs from the surrounding transaction
// =============================================================================

// Store is the transaction-bound persistence used by Accumulator and Recorder.
// Implementations MUST execute AdjustReputation as a single statement of the
// form `reputation = max(0, reputation + delta)`.
type Store interface {
	AdjustReputation(ctx context.Context, userID string, delta int) error
	AppendEntry(ctx context.Context, e Entry) (EntryID, error)
}

var (
	// ErrUnknownEvent is returned for events outside the closed set.
	ErrUnknownEvent = errors.New("unknown reputation event")

	// ErrUnknownUser is returned by stores when the counter row does not exist.
	ErrUnknownUser = errors.New("unknown user")
)

// =============================================================================
// ACCUMULATOR
// =============================================================================

// Accumulator owns writes to the reputation counter.
type Accumulator struct{}

// Adjust applies delta to the user's reputation, floored at zero by the store.
// A zero delta is a no-op.
func (Accumulator) Adjust(ctx context.Context, st Store, userID string, delta int) error {
	if userID == "" {
		return fmt.Errorf("adjust reputation: %w", ErrUnknownUser)
	}
	if delta == 0 {
		return nil
	}
	if err := st.AdjustReputation(ctx, userID, delta); err != nil {
		return fmt.Errorf("adjust reputation for %s: %w", userID, err)
	}
	return nil
}

// =============================================================================
// RECORDER
// =============================================================================

// Recorder appends history entries.
type Recorder struct {
	Now func() time.Time
}

// Record appends one entry and returns its ID. It has no effect outside the
// transaction behind st.
func (r Recorder) Record(ctx context.Context, st Store, e Entry) (EntryID, error) {
	if !e.Event.Valid() {
		return 0, fmt.Errorf("record %q: %w", e.Event, ErrUnknownEvent)
	}
	if e.UserID == "" {
		return 0, fmt.Errorf("record %s: %w", e.Event, ErrUnknownUser)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}
	id, err := st.AppendEntry(ctx, e)
	if err != nil {
		return 0, fmt.Errorf("record %s for %s: %w", e.Event, e.UserID, err)
	}
	return id, nil
}

func (r Recorder) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

// =============================================================================
// LEDGER - call-site pairing of Accumulator and Recorder
// =============================================================================

// Ledger applies policy-defined awards. Every Apply adjusts the counter and
// records exactly one entry carrying the same delta.
type Ledger struct {
	Policy      Policy
	accumulator Accumulator
	recorder    Recorder
}

// NewLedger creates a ledger for the given policy.
func NewLedger(policy Policy, now func() time.Time) *Ledger {
	return &Ledger{
		Policy:   policy,
		recorder: Recorder{Now: now},
	}
}

// Apply awards (or reverses) the policy amount for event to userID.
// It must be called inside the caller's transaction; st is that transaction.
func (l *Ledger) Apply(ctx context.Context, st Store, userID string, event Event, refs Refs) (Entry, error) {
	delta, err := l.Policy.Delta(event)
	if err != nil {
		return Entry{}, err
	}

	if err := l.accumulator.Adjust(ctx, st, userID, delta); err != nil {
		return Entry{}, err
	}

	entry := Entry{
		UserID:          userID,
		Event:           event,
		Change:          delta,
		RelatedPostID:   refs.post(),
		RelatedAnswerID: refs.answer(),
	}
	id, err := l.recorder.Record(ctx, st, entry)
	if err != nil {
		return Entry{}, err
	}
	entry.ID = id
	return entry, nil
}
