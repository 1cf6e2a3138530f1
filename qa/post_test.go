package qa_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/qa-engine/qa"
	"github.com/warp/qa-engine/reputation"
)

func TestCreatePost_AwardsAndCounts(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	goTag, sqlTag := env.tag(t, "go"), env.tag(t, "sql")

	p := env.post(t, alice, goTag, sqlTag)

	assert.Equal(t, qa.StatusOpen, p.Status)
	assert.Len(t, p.Tags, 2)

	u := env.getUser(t, alice)
	assert.Equal(t, 1+5, u.Reputation)
	assert.Equal(t, 1, u.PostsCount)
	assert.Equal(t, []reputation.Event{reputation.EventPostCreated}, env.events(t, alice))

	tags, err := env.store.ListTags(context.Background())
	require.NoError(t, err)
	for _, tag := range tags {
		assert.Equal(t, 1, tag.PostsCount, tag.Name)
	}
}

func TestCreatePost_UnknownTagCreatesNothing(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	goTag := env.tag(t, "go")

	_, err := env.svc.CreatePost(ctx, alice, qa.NewPost{
		Type: qa.TypeQuestion, Title: "Unknown tags fail", Content: "Body that is long enough",
		TagIDs: []string{goTag, "missing"},
	})
	assert.ErrorIs(t, err, qa.ErrTagNotFound)
	assert.ErrorIs(t, err, qa.ErrNotFound)

	u := env.getUser(t, alice)
	assert.Equal(t, 1, u.Reputation)
	assert.Equal(t, 0, u.PostsCount)
	assert.Empty(t, env.events(t, alice))
}

func TestCreatePost_DuplicateTagIDsCountOnce(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	goTag := env.tag(t, "go")

	p := env.post(t, alice, goTag, goTag)
	assert.Len(t, p.Tags, 1)
	assert.Equal(t, 1, p.Tags[0].PostsCount)
}

func TestCreatePost_SanitizesContent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.user(t, "alice")

	svc := qa.NewService(env.store, qa.Config{
		Sanitizer: qa.SanitizerFunc(func(s string) string { return strings.ReplaceAll(s, "<script>", "") }),
	})
	p, err := svc.CreatePost(ctx, alice, qa.NewPost{
		Type: qa.TypeResource, Title: "Sanitized post", Content: "<script>hello world content",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello world content", p.Content)
}

func TestCreatePost_Validation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.user(t, "alice")

	_, err := env.svc.CreatePost(ctx, alice, qa.NewPost{Type: "poll", Title: "Bad type", Content: "content"})
	assert.ErrorIs(t, err, qa.ErrInvalidInput)

	_, err = env.svc.CreatePost(ctx, "ghost", qa.NewPost{Type: qa.TypeQuestion, Title: "No author", Content: "content"})
	assert.ErrorIs(t, err, qa.ErrUserNotFound)
}

func TestDeletePost_ReversesAward(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	goTag := env.tag(t, "go")
	p := env.post(t, alice, goTag)

	require.NoError(t, env.svc.DeletePost(ctx, alice, p.ID))

	// THEN: 1 + 5 - 10 floors at 0
	u := env.getUser(t, alice)
	assert.Equal(t, 0, u.Reputation)
	assert.Equal(t, 0, u.PostsCount)
	assert.Equal(t, []reputation.Event{
		reputation.EventPostCreated,
		reputation.EventPostDeleted,
	}, env.events(t, alice))

	tags, err := env.store.ResolveTags(ctx, []string{goTag})
	require.NoError(t, err)
	assert.Equal(t, 0, tags[0].PostsCount)

	_, err = env.svc.GetPost(ctx, p.ID)
	assert.ErrorIs(t, err, qa.ErrPostNotFound)

	// AND: a second delete is NotFound, not a second penalty
	err = env.svc.DeletePost(ctx, alice, p.ID)
	assert.ErrorIs(t, err, qa.ErrPostNotFound)
	assert.Len(t, env.events(t, alice), 2)
	env.requireLedgerConsistent(t)
}

func TestDeletePost_Authorization(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice, bob, mod := env.user(t, "alice"), env.user(t, "bob"), env.admin(t, "mod")
	p := env.post(t, alice)

	err := env.svc.DeletePost(ctx, bob, p.ID)
	assert.ErrorIs(t, err, qa.ErrAccessDenied)

	// THEN: an admin may delete, and the penalty still hits the author
	require.NoError(t, env.svc.DeletePost(ctx, mod, p.ID))
	assert.Equal(t, 0, env.getUser(t, alice).Reputation)
	assert.Empty(t, env.events(t, mod))
}

func TestDeletePost_NotBlockedByAcceptedAnswer(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice, bob := env.user(t, "alice"), env.user(t, "bob")
	p := env.post(t, alice)
	a := env.answer(t, bob, p.ID)
	_, err := env.svc.AcceptAnswer(ctx, alice, p.ID, a.ID)
	require.NoError(t, err)

	require.NoError(t, env.svc.DeletePost(ctx, alice, p.ID))

	// THEN: answers are left in place with their awards
	got := env.getAnswer(t, a.ID)
	assert.False(t, got.IsDeleted)
	assert.True(t, got.IsAccepted)
	assert.Equal(t, 1+10+15, env.getUser(t, bob).Reputation)
	env.requireLedgerConsistent(t)
}

func TestUpdatePost_EditsAndRetags(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	goTag, sqlTag := env.tag(t, "go"), env.tag(t, "sql")
	p := env.post(t, alice, goTag)

	title := "A better title for this"
	updated, err := env.svc.UpdatePost(ctx, alice, p.ID, qa.PostPatch{
		Title:  &title,
		TagIDs: []string{sqlTag},
	})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)
	require.Len(t, updated.Tags, 1)
	assert.Equal(t, "sql", updated.Tags[0].Name)

	tags, err := env.store.ResolveTags(ctx, []string{goTag, sqlTag})
	require.NoError(t, err)
	counts := map[string]int{}
	for _, tag := range tags {
		counts[tag.Name] = tag.PostsCount
	}
	assert.Equal(t, map[string]int{"go": 0, "sql": 1}, counts)

	// THEN: editing never touches reputation
	assert.Equal(t, 6, env.getUser(t, alice).Reputation)
}

func TestUpdatePost_Guards(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice, bob := env.user(t, "alice"), env.user(t, "bob")
	title := "Another title entirely"

	p := env.post(t, alice)
	_, err := env.svc.UpdatePost(ctx, bob, p.ID, qa.PostPatch{Title: &title})
	assert.ErrorIs(t, err, qa.ErrForbidden)

	a := env.answer(t, bob, p.ID)
	_, err = env.svc.AcceptAnswer(ctx, alice, p.ID, a.ID)
	require.NoError(t, err)
	_, err = env.svc.UpdatePost(ctx, alice, p.ID, qa.PostPatch{Title: &title})
	assert.ErrorIs(t, err, qa.ErrPostHasAcceptedAnswer)

	fresh := env.post(t, alice)
	env.clock.Advance(25 * time.Hour)
	_, err = env.svc.UpdatePost(ctx, alice, fresh.ID, qa.PostPatch{Title: &title})
	assert.ErrorIs(t, err, qa.ErrEditWindowExpired)
	assert.Equal(t, "POST_EDIT_WINDOW_EXPIRED", qa.CodeOf(err))
}

func TestClosePost_BlocksNewAnswers(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice, bob := env.user(t, "alice"), env.user(t, "bob")
	p := env.post(t, alice)

	_, err := env.svc.ClosePost(ctx, bob, p.ID, "off topic")
	assert.ErrorIs(t, err, qa.ErrAccessDenied)

	closed, err := env.svc.ClosePost(ctx, alice, p.ID, "resolved elsewhere")
	require.NoError(t, err)
	assert.True(t, closed.IsClosed)
	assert.Equal(t, qa.StatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedReason)
	assert.Equal(t, "resolved elsewhere", *closed.ClosedReason)

	_, err = env.svc.CreateAnswer(ctx, bob, p.ID, "too late to answer")
	assert.ErrorIs(t, err, qa.ErrPostClosed)

	_, err = env.svc.ClosePost(ctx, alice, p.ID, "again")
	assert.ErrorIs(t, err, qa.ErrPostClosed)
}

func TestClosePost_AnsweredKeepsStatus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice, bob := env.user(t, "alice"), env.user(t, "bob")
	p := env.post(t, alice)
	a := env.answer(t, bob, p.ID)
	_, err := env.svc.AcceptAnswer(ctx, alice, p.ID, a.ID)
	require.NoError(t, err)

	closed, err := env.svc.ClosePost(ctx, alice, p.ID, "done")
	require.NoError(t, err)
	assert.True(t, closed.IsClosed)
	assert.Equal(t, qa.StatusAnswered, closed.Status)

	// THEN: unaccepting a closed post leaves it closed
	post, err := env.svc.UnacceptAnswer(ctx, alice, p.ID)
	require.NoError(t, err)
	assert.Equal(t, qa.StatusClosed, post.Status)
}

func TestGetPost_CountsViews(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	p := env.post(t, alice)

	got, err := env.svc.GetPost(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	assert.Eventually(t, func() bool {
		stored, err := env.store.GetPost(ctx, p.ID)
		return err == nil && stored.ViewCount == 1
	}, 2*time.Second, 10*time.Millisecond)
}
