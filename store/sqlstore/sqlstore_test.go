package sqlstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/qa-engine/qa"
	"github.com/warp/qa-engine/reputation"
	"github.com/warp/qa-engine/store/sqlstore"
)

func createTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	store, err := sqlstore.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "qa.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

var testNow = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

func seedUser(t *testing.T, store *sqlstore.Store, id string, rep int) {
	t.Helper()
	err := store.WithTx(context.Background(), func(tx qa.Tx) error {
		return tx.InsertUser(context.Background(), &qa.User{
			ID: id, Username: id, DisplayName: id, Role: qa.RoleUser, Reputation: rep, CreatedAt: testNow,
		})
	})
	require.NoError(t, err)
}

func seedPost(t *testing.T, store *sqlstore.Store, id, author string) {
	t.Helper()
	err := store.WithTx(context.Background(), func(tx qa.Tx) error {
		return tx.InsertPost(context.Background(), &qa.Post{
			ID: id, AuthorID: author, Type: qa.TypeQuestion, Status: qa.StatusOpen,
			Title: "How do I test this?", Content: "Some content long enough",
			CreatedAt: testNow, UpdatedAt: testNow, LastActivityAt: testNow,
		}, nil)
	})
	require.NoError(t, err)
}

func seedAnswer(t *testing.T, store *sqlstore.Store, id, postID, author string) {
	t.Helper()
	err := store.WithTx(context.Background(), func(tx qa.Tx) error {
		return tx.InsertAnswer(context.Background(), &qa.Answer{
			ID: id, PostID: postID, AuthorID: author, Content: "an answer", CreatedAt: testNow, UpdatedAt: testNow,
		})
	})
	require.NoError(t, err)
}

// =============================================================================
// MIGRATIONS
// =============================================================================

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)

	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx))

	versions, err := store.AppliedMigrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, versions)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := sqlstore.Open(context.Background(), "oracle", "dsn", sqlstore.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

// =============================================================================
// FLOORED ARITHMETIC
// =============================================================================

func TestAdjustReputation_FloorsAtZero(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	seedUser(t, store, "alice", 3)

	// WHEN: a delta larger than the balance is applied
	require.NoError(t, store.WithTx(ctx, func(tx qa.Tx) error {
		return tx.AdjustReputation(ctx, "alice", -15)
	}))

	// THEN: reputation is floored at zero
	u, err := store.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, u.Reputation)

	require.NoError(t, store.WithTx(ctx, func(tx qa.Tx) error {
		return tx.AdjustReputation(ctx, "alice", 10)
	}))
	u, err = store.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 10, u.Reputation)
}

func TestAdjustReputation_UnknownUser(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)

	err := store.WithTx(ctx, func(tx qa.Tx) error {
		return tx.AdjustReputation(ctx, "ghost", 5)
	})
	assert.ErrorIs(t, err, reputation.ErrUnknownUser)
}

func TestAdjustUserCounter_FloorsAtZero(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	seedUser(t, store, "alice", 1)

	require.NoError(t, store.WithTx(ctx, func(tx qa.Tx) error {
		if err := tx.AdjustUserCounter(ctx, "alice", qa.CounterAnswers, 2); err != nil {
			return err
		}
		return tx.AdjustUserCounter(ctx, "alice", qa.CounterAcceptedAnswers, -1)
	}))

	u, err := store.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, u.AnswersCount)
	assert.Equal(t, 0, u.AcceptedAnswersCount)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	seedUser(t, store, "alice", 1)

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx qa.Tx) error {
		if err := tx.AdjustReputation(ctx, "alice", 100); err != nil {
			return err
		}
		if _, err := tx.AppendEntry(ctx, reputation.Entry{
			UserID: "alice", Event: reputation.EventPostCreated, Change: 100, CreatedAt: testNow,
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// THEN: neither the counter nor the ledger moved
	u, err := store.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, u.Reputation)

	entries, err := store.Entries(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// =============================================================================
// LEDGER
// =============================================================================

func TestReputationHistory_AppendOnly(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	seedUser(t, store, "alice", 1)

	var id reputation.EntryID
	require.NoError(t, store.WithTx(ctx, func(tx qa.Tx) error {
		var err error
		id, err = tx.AppendEntry(ctx, reputation.Entry{
			UserID: "alice", Event: reputation.EventPostCreated, Change: 5, CreatedAt: testNow,
		})
		return err
	}))
	assert.Positive(t, int64(id))

	// THEN: the triggers reject UPDATE and DELETE
	_, err := store.DB().ExecContext(ctx, `UPDATE reputation_history SET change = 500 WHERE id = ?`, int64(id))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	_, err = store.DB().ExecContext(ctx, `DELETE FROM reputation_history WHERE id = ?`, int64(id))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")
}

func TestReputationHistory_OrderAndLimit(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	seedUser(t, store, "alice", 1)

	require.NoError(t, store.WithTx(ctx, func(tx qa.Tx) error {
		for _, ev := range []reputation.Event{
			reputation.EventPostCreated, reputation.EventAnswerCreated, reputation.EventAnswerAccepted,
		} {
			postID := "p1"
			if _, err := tx.AppendEntry(ctx, reputation.Entry{
				UserID: "alice", Event: ev, Change: 1, RelatedPostID: &postID, CreatedAt: testNow,
			}); err != nil {
				return err
			}
		}
		return nil
	}))

	latest, err := store.ReputationHistory(ctx, "alice", 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, reputation.EventAnswerAccepted, latest[0].Event)
	assert.Equal(t, reputation.EventAnswerCreated, latest[1].Event)
	require.NotNil(t, latest[0].RelatedPostID)
	assert.Equal(t, "p1", *latest[0].RelatedPostID)
	assert.Nil(t, latest[0].RelatedAnswerID)
	assert.True(t, testNow.Equal(latest[0].CreatedAt))

	all, err := store.Entries(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Less(t, int64(all[0].ID), int64(all[1].ID))
	assert.Less(t, int64(all[1].ID), int64(all[2].ID))
}

// =============================================================================
// ACCEPTANCE GUARDS
// =============================================================================

func TestSetPostAcceptance_CompareAndSet(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	seedUser(t, store, "alice", 1)
	seedUser(t, store, "bob", 1)
	seedPost(t, store, "p1", "alice")
	seedAnswer(t, store, "a1", "p1", "bob")
	seedAnswer(t, store, "a2", "p1", "bob")

	a1, a2 := "a1", "a2"

	// GIVEN: the post has no accepted answer
	require.NoError(t, store.WithTx(ctx, func(tx qa.Tx) error {
		return tx.SetPostAcceptance(ctx, "p1", nil, &a1, qa.StatusAnswered, testNow)
	}))

	// WHEN: a writer still believes nothing is accepted
	err := store.WithTx(ctx, func(tx qa.Tx) error {
		return tx.SetPostAcceptance(ctx, "p1", nil, &a2, qa.StatusAnswered, testNow)
	})

	// THEN: the compare fails as a retryable error
	assert.ErrorIs(t, err, qa.ErrConcurrentModification)
	assert.True(t, qa.IsRetryable(err))

	post, err := store.GetPost(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, post.AcceptedAnswerID)
	assert.Equal(t, "a1", *post.AcceptedAnswerID)
	assert.Equal(t, qa.StatusAnswered, post.Status)

	// AND: the right expectation succeeds
	require.NoError(t, store.WithTx(ctx, func(tx qa.Tx) error {
		return tx.SetPostAcceptance(ctx, "p1", &a1, nil, qa.StatusOpen, testNow)
	}))
}

func TestAcceptedImpliesAnswered_Constraint(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	seedUser(t, store, "alice", 1)
	seedPost(t, store, "p1", "alice")

	a1 := "a1"
	err := store.WithTx(ctx, func(tx qa.Tx) error {
		return tx.SetPostAcceptance(ctx, "p1", nil, &a1, qa.StatusOpen, testNow)
	})
	require.Error(t, err)
}

func TestOneAcceptedAnswerPerPost_Index(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	seedUser(t, store, "alice", 1)
	seedUser(t, store, "bob", 1)
	seedPost(t, store, "p1", "alice")
	seedAnswer(t, store, "a1", "p1", "bob")
	seedAnswer(t, store, "a2", "p1", "bob")

	require.NoError(t, store.WithTx(ctx, func(tx qa.Tx) error {
		return tx.SetAnswerAccepted(ctx, "a1", true, testNow)
	}))

	// WHEN: a second answer on the same post is marked accepted
	err := store.WithTx(ctx, func(tx qa.Tx) error {
		return tx.SetAnswerAccepted(ctx, "a2", true, testNow)
	})

	// THEN: the partial unique index rejects it, classified as a lost race
	assert.ErrorIs(t, err, qa.ErrConcurrentModification)
}

func TestSoftDeleteAnswer_RefusesAccepted(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	seedUser(t, store, "alice", 1)
	seedUser(t, store, "bob", 1)
	seedPost(t, store, "p1", "alice")
	seedAnswer(t, store, "a1", "p1", "bob")

	require.NoError(t, store.WithTx(ctx, func(tx qa.Tx) error {
		return tx.SetAnswerAccepted(ctx, "a1", true, testNow)
	}))

	err := store.WithTx(ctx, func(tx qa.Tx) error {
		return tx.SoftDeleteAnswer(ctx, "a1", testNow)
	})
	assert.ErrorIs(t, err, qa.ErrConcurrentModification)

	a, err := store.GetAnswer(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, a.IsDeleted)
}

// =============================================================================
// READS
// =============================================================================

func TestGetters_ReturnNilWhenMissing(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)

	p, err := store.GetPost(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, p)

	a, err := store.GetAnswer(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, a)

	u, err := store.GetUser(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestListAnswers_AcceptedFirst(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	seedUser(t, store, "alice", 1)
	seedUser(t, store, "bob", 1)
	seedPost(t, store, "p1", "alice")
	seedAnswer(t, store, "a1", "p1", "bob")
	seedAnswer(t, store, "a2", "p1", "bob")
	seedAnswer(t, store, "a3", "p1", "bob")

	require.NoError(t, store.WithTx(ctx, func(tx qa.Tx) error {
		if err := tx.SetAnswerAccepted(ctx, "a3", true, testNow); err != nil {
			return err
		}
		return tx.SoftDeleteAnswer(ctx, "a2", testNow)
	}))

	for _, sort := range []qa.AnswerSort{qa.SortVotes, qa.SortNew} {
		answers, err := store.ListAnswers(ctx, "p1", sort)
		require.NoError(t, err)
		require.Len(t, answers, 2, sort)
		assert.Equal(t, "a3", answers[0].ID, sort)
		assert.Equal(t, "a1", answers[1].ID, sort)
	}
}

func TestResolveTags_ReturnsOnlyExisting(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)

	require.NoError(t, store.WithTx(ctx, func(tx qa.Tx) error {
		return tx.InsertTag(ctx, &qa.Tag{ID: "t1", Name: "go", Slug: "go"})
	}))

	tags, err := store.ResolveTags(ctx, []string{"t1", "t-missing"})
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "go", tags[0].Name)
}

func TestInsertTag_DuplicateIsConflict(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)

	insert := func(id string) error {
		return store.WithTx(ctx, func(tx qa.Tx) error {
			return tx.InsertTag(ctx, &qa.Tag{ID: id, Name: "go", Slug: "go-" + id})
		})
	}
	require.NoError(t, insert("t1"))
	err := insert("t2")
	assert.ErrorIs(t, err, qa.ErrConflict)
}

func TestIncrementViewCount(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	seedUser(t, store, "alice", 1)
	seedPost(t, store, "p1", "alice")

	require.NoError(t, store.IncrementViewCount(ctx, "p1"))
	require.NoError(t, store.IncrementViewCount(ctx, "p1"))

	p, err := store.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, p.ViewCount)
	assert.True(t, testNow.Equal(p.CreatedAt))
}
