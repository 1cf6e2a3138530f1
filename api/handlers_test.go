/*
handlers_test.go - HTTP tests for the Q&A API

Tests for:
- End-to-end post/answer/acceptance flow over HTTP
- Request validation and identity
- Error kind to status mapping
- Admin audit endpoints
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/qa-engine/jobs"
	"github.com/warp/qa-engine/qa"
	"github.com/warp/qa-engine/reputation"
	"github.com/warp/qa-engine/sanitize"
	"github.com/warp/qa-engine/store/sqlstore"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type testAPI struct {
	t      *testing.T
	router http.Handler
	store  *sqlstore.Store
	svc    *qa.Service
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store, err := sqlstore.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := qa.NewService(store, qa.Config{Sanitizer: sanitize.New()})
	audit, err := jobs.NewScheduler(reputation.NewAuditor(store, svc.Policy()), "@daily")
	require.NoError(t, err)

	h := NewHandler(svc, store.DB(), audit)
	return &testAPI{t: t, router: NewRouter(h, []string{"*"}), store: store, svc: svc}
}

func (a *testAPI) do(method, path, userID string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(UserIDHeader, userID)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// register creates a user over HTTP. Admins are bootstrapped through the
// service since only an admin may grant the role.
func (a *testAPI) register(username, role string) string {
	a.t.Helper()
	if role == string(qa.RoleAdmin) {
		u, err := a.svc.RegisterUser(context.Background(), qa.User{Username: username, Role: qa.RoleAdmin})
		require.NoError(a.t, err)
		return u.ID
	}
	rec := a.do(http.MethodPost, "/api/users", "", RegisterUserRequest{Username: username, Role: role})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[UserDTO](a.t, rec).ID
}

func (a *testAPI) createTag(adminID, name string) string {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/tags", adminID, CreateTagRequest{Name: name})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[TagDTO](a.t, rec).ID
}

func (a *testAPI) createPost(authorID, tagID string) PostDTO {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/posts", authorID, CreatePostRequest{
		Type:    "question",
		Title:   "How should I structure a Go service?",
		Content: "<p>Looking for advice on package layout.</p>",
		TagIDs:  []string{tagID},
	})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[PostDTO](a.t, rec)
}

func (a *testAPI) createAnswer(authorID, postID string) AnswerDTO {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/posts/"+postID+"/answers", authorID,
		AnswerRequest{Content: "<p>Keep main thin and push logic into packages.</p>"})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[AnswerDTO](a.t, rec)
}

// =============================================================================
// END-TO-END FLOW
// =============================================================================

func TestAPI_AcceptanceFlow(t *testing.T) {
	api := newTestAPI(t)
	mod := api.register("moderator", "admin")
	alice, bob := api.register("alice", ""), api.register("bob", "")
	tag := api.createTag(mod, "Go")

	// GIVEN: alice's question with bob's answer
	post := api.createPost(alice, tag)
	assert.Equal(t, "open", post.Status)
	require.Len(t, post.Tags, 1)
	answer := api.createAnswer(bob, post.ID)

	// WHEN: alice accepts it
	rec := api.do(http.MethodPost, fmt.Sprintf("/api/posts/%s/accept-answer/%s", post.ID, answer.ID), alice, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: the post reports it and bob is rewarded
	accepted := decodeBody[PostDTO](t, rec)
	assert.Equal(t, "answered", accepted.Status)
	require.NotNil(t, accepted.AcceptedAnswerID)
	assert.Equal(t, answer.ID, *accepted.AcceptedAnswerID)

	rec = api.do(http.MethodGet, "/api/users/"+bob+"/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody[UserStatsDTO](t, rec)
	assert.Equal(t, 26, stats.Reputation)
	assert.Equal(t, "1.0000", stats.AcceptanceRate)

	rec = api.do(http.MethodGet, "/api/users/"+bob+"/reputation?limit=1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody[[]ReputationEntryDTO](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, "answer_accepted", history[0].Event)
	assert.Equal(t, 15, history[0].Change)

	// AND: the accepted answer cannot be deleted
	rec = api.do(http.MethodDelete, "/api/answers/"+answer.ID, bob, nil)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, "CANNOT_DELETE_ACCEPTED_ANSWER", decodeBody[ErrorResponse](t, rec).Code)

	// WHEN: alice unaccepts, the answer can go
	rec = api.do(http.MethodDelete, "/api/posts/"+post.ID+"/unaccept-answer", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Nil(t, decodeBody[PostDTO](t, rec).AcceptedAnswerID)

	rec = api.do(http.MethodDelete, "/api/answers/"+answer.ID, bob, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(http.MethodGet, "/api/posts/"+post.ID+"/answers?sort=new", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]AnswerDTO](t, rec))
}

func TestAPI_ContentIsSanitized(t *testing.T) {
	api := newTestAPI(t)
	mod := api.register("moderator", "admin")
	alice := api.register("alice", "")
	tag := api.createTag(mod, "Security")

	rec := api.do(http.MethodPost, "/api/posts", alice, CreatePostRequest{
		Type:    "discussion",
		Title:   "Is this content safe to render?",
		Content: `<p>hello</p><script>alert("x")</script><p>world</p>`,
		TagIDs:  []string{tag},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "<p>hello</p><p>world</p>", decodeBody[PostDTO](t, rec).Content)
}

func TestAPI_PostLifecycle(t *testing.T) {
	api := newTestAPI(t)
	mod := api.register("moderator", "admin")
	alice, bob := api.register("alice", ""), api.register("bob", "")
	tag := api.createTag(mod, "Go")
	post := api.createPost(alice, tag)

	title := "An edited title for the post"
	rec := api.do(http.MethodPatch, "/api/posts/"+post.ID, alice, UpdatePostRequest{Title: &title})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, title, decodeBody[PostDTO](t, rec).Title)

	rec = api.do(http.MethodPatch, "/api/posts/"+post.ID, bob, UpdatePostRequest{Title: &title})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodPost, "/api/posts/"+post.ID+"/close", mod, ClosePostRequest{Reason: "duplicate"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeBody[PostDTO](t, rec).IsClosed)

	rec = api.do(http.MethodPost, "/api/posts/"+post.ID+"/answers", bob, AnswerRequest{Content: "an answer that is too late"})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, "POST_CLOSED", decodeBody[ErrorResponse](t, rec).Code)

	rec = api.do(http.MethodDelete, "/api/posts/"+post.ID, alice, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(http.MethodGet, "/api/posts/"+post.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "POST_NOT_FOUND", decodeBody[ErrorResponse](t, rec).Code)
}

func TestAPI_RegisterAdminRequiresAdmin(t *testing.T) {
	api := newTestAPI(t)
	mod := api.register("moderator", "admin")
	alice := api.register("alice", "")
	post := api.createPost(alice, api.createTag(mod, "Go"))

	// WHEN: an anonymous caller asks for the admin role
	rec := api.do(http.MethodPost, "/api/users", "", RegisterUserRequest{Username: "rogue", Role: "admin"})

	// THEN: rejected and nothing is created
	require.Equal(t, http.StatusUnauthorized, rec.Code, rec.Body.String())
	assert.Equal(t, "UNAUTHORIZED", decodeBody[ErrorResponse](t, rec).Code)

	// AND: a plain user cannot grant it either
	rec = api.do(http.MethodPost, "/api/users", alice, RegisterUserRequest{Username: "rogue", Role: "admin"})
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())

	// AND: registered without the role, rogue cannot moderate alice's post
	rogue := api.register("rogue", "")
	rec = api.do(http.MethodDelete, "/api/posts/"+post.ID, rogue, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = api.do(http.MethodGet, "/api/posts/"+post.ID, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// AND: an admin may create another admin
	rec = api.do(http.MethodPost, "/api/users", mod, RegisterUserRequest{Username: "second-mod", Role: "admin"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "admin", decodeBody[UserDTO](t, rec).Role)
}

// =============================================================================
// VALIDATION & ERRORS
// =============================================================================

func TestAPI_Validation(t *testing.T) {
	api := newTestAPI(t)
	alice := api.register("alice", "")

	// missing identity
	rec := api.do(http.MethodPost, "/api/posts", "", CreatePostRequest{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// field limits
	rec = api.do(http.MethodPost, "/api/posts", alice, CreatePostRequest{
		Type: "poll", Title: "short", Content: "tiny", TagIDs: []string{"not-a-uuid"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "VALIDATION_ERROR", resp.Code)
	assert.Contains(t, resp.Details, "type: oneof=question discussion resource practice")
	assert.Contains(t, resp.Details, "title: min=10")
	assert.Contains(t, resp.Details, "content: min=20")
	assert.Contains(t, resp.Details, "tag_ids[0]: uuid")

	// too many tags
	tags := make([]string, 6)
	for i := range tags {
		tags[i] = uuid.NewString()
	}
	rec = api.do(http.MethodPost, "/api/posts", alice, CreatePostRequest{
		Type: "question", Title: "A perfectly fine title", Content: "A perfectly fine body text", TagIDs: tags,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[ErrorResponse](t, rec).Details, "tag_ids: max=5")

	// malformed path id
	rec = api.do(http.MethodGet, "/api/posts/42", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// unknown fields
	rec = api.do(http.MethodPost, "/api/users", "", map[string]any{"username": "carol", "karma": 1000})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// bad limit
	rec = api.do(http.MethodGet, "/api/users/"+alice+"/reputation?limit=0", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_WorkflowErrors(t *testing.T) {
	api := newTestAPI(t)
	mod := api.register("moderator", "admin")
	alice, bob := api.register("alice", ""), api.register("bob", "")
	tag := api.createTag(mod, "Go")
	post := api.createPost(alice, tag)
	answer := api.createAnswer(bob, post.ID)

	tests := []struct {
		name       string
		method     string
		path       string
		user       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"self answer", http.MethodPost, "/api/posts/" + post.ID + "/answers", alice,
			AnswerRequest{Content: "answering my own post"}, http.StatusPreconditionFailed, "SELF_ANSWER_NOT_ALLOWED"},
		{"accept by non-author", http.MethodPost, "/api/posts/" + post.ID + "/accept-answer/" + answer.ID, bob,
			nil, http.StatusForbidden, "FORBIDDEN"},
		{"accept on missing post", http.MethodPost, "/api/posts/" + uuid.NewString() + "/accept-answer/" + answer.ID, alice,
			nil, http.StatusNotFound, "POST_NOT_FOUND"},
		{"unaccept without accepted", http.MethodDelete, "/api/posts/" + post.ID + "/unaccept-answer", alice,
			nil, http.StatusPreconditionFailed, "NO_ACCEPTED_ANSWER"},
		{"unknown tag", http.MethodPost, "/api/posts", alice,
			CreatePostRequest{Type: "question", Title: "Tagged with nothing", Content: "Body text long enough here", TagIDs: []string{uuid.NewString()}},
			http.StatusNotFound, "TAG_NOT_FOUND"},
		{"duplicate username", http.MethodPost, "/api/users", "",
			RegisterUserRequest{Username: "alice"}, http.StatusConflict, "USERNAME_ALREADY_EXISTS"},
		{"tag by non-admin", http.MethodPost, "/api/tags", alice,
			CreateTagRequest{Name: "Rust"}, http.StatusForbidden, "FORBIDDEN"},
		{"edit someone else's answer", http.MethodPatch, "/api/answers/" + answer.ID, alice,
			AnswerRequest{Content: "rewriting bob's answer"}, http.StatusForbidden, "FORBIDDEN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(tt.method, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, decodeBody[ErrorResponse](t, rec).Code)
		})
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(qa.ErrInvalidInput))
	assert.Equal(t, http.StatusNotFound, statusFor(qa.ErrAnswerNotFound))
	assert.Equal(t, http.StatusForbidden, statusFor(qa.ErrNotPostAuthor))
	assert.Equal(t, http.StatusPreconditionFailed, statusFor(qa.ErrPostClosed))
	assert.Equal(t, http.StatusConflict, statusFor(qa.ErrAlreadyExists))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
	assert.Equal(t, http.StatusInternalServerError, statusFor(qa.ErrConcurrentModification))
}

// =============================================================================
// ADMIN & SERVICE ENDPOINTS
// =============================================================================

func TestAPI_Audit(t *testing.T) {
	api := newTestAPI(t)
	mod := api.register("moderator", "admin")
	alice, bob := api.register("alice", ""), api.register("bob", "")
	tag := api.createTag(mod, "Go")
	post := api.createPost(alice, tag)
	api.createAnswer(bob, post.ID)

	rec := api.do(http.MethodPost, "/api/admin/audit", alice, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodGet, "/api/admin/audit", mod, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(http.MethodPost, "/api/admin/audit", mod, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeBody[AuditResponse](t, rec)
	assert.True(t, report.Consistent)
	assert.Equal(t, 3, report.Checked)

	// GIVEN: a counter changed behind the ledger's back
	_, err := api.store.DB().Exec(`UPDATE users SET reputation = reputation + 7 WHERE id = ?`, bob)
	require.NoError(t, err)

	rec = api.do(http.MethodPost, "/api/admin/audit", mod, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report = decodeBody[AuditResponse](t, rec)
	assert.False(t, report.Consistent)
	require.Len(t, report.Drifts, 1)
	assert.Equal(t, bob, report.Drifts[0].UserID)
	assert.Equal(t, report.Drifts[0].Replayed+7, report.Drifts[0].Stored)

	rec = api.do(http.MethodGet, "/api/admin/audit", mod, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[AuditResponse](t, rec).Drifts, 1)
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	rec = api.do(http.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
