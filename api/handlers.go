/*
handlers.go - HTTP API handlers for the Q&A service

PURPOSE:
  Exposes the Q&A workflows via REST API. Handles HTTP request/response,
  JSON serialization and validation, and delegates to qa.Service.

ENDPOINTS:
  Posts:
    POST   /api/posts                              Create post
    GET    /api/posts/{id}                         Get post (counts a view)
    PATCH  /api/posts/{id}                         Edit post
    DELETE /api/posts/{id}                         Soft delete post
    POST   /api/posts/{id}/close                   Close post

  Answers:
    GET    /api/posts/{id}/answers?sort=votes|new  List answers
    POST   /api/posts/{id}/answers                 Create answer
    PATCH  /api/answers/{id}                       Edit answer
    DELETE /api/answers/{id}                       Soft delete answer

  Acceptance:
    POST   /api/posts/{id}/accept-answer/{answerID} Accept answer
    DELETE /api/posts/{id}/unaccept-answer          Unaccept answer

  Users & tags:
    POST   /api/users                              Register user
    GET    /api/users/{id}                         Get user
    GET    /api/users/{id}/stats                   Counters and acceptance rate
    GET    /api/users/{id}/reputation?limit=N      Reputation history
    GET    /api/tags                               List tags
    POST   /api/tags                               Create tag

  Admin:
    GET    /api/admin/audit                        Last reputation audit
    POST   /api/admin/audit                        Run the audit now

REQUEST FLOW:
  1. Parse path parameters (UUIDs) and identity
  2. Decode and validate the body
  3. Call the workflow
  4. Serialize response

ERROR HANDLING:
  Errors are returned as ErrorResponse with a stable code:
  - 400: Validation errors, malformed body or IDs
  - 401: Missing X-User-ID on a mutating endpoint
  - 403: Not the author / not an admin
  - 404: Resource not found
  - 409: Duplicate username or tag
  - 412: Workflow precondition failed (closed post, accepted answer, ...)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - errors.go: Error kind to status mapping
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/warp/qa-engine/jobs"
	"github.com/warp/qa-engine/qa"
)

// maxHistoryLimit caps ?limit on the reputation history endpoint.
const maxHistoryLimit = 100

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports database liveness.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *qa.Service
	DB      Pinger

	// Audit is optional. Admin audit endpoints return 404 without it.
	Audit *jobs.Scheduler

	validate *validator.Validate
}

// NewHandler creates a new handler.
func NewHandler(svc *qa.Service, db Pinger, audit *jobs.Scheduler) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{Service: svc, DB: db, Audit: audit, validate: v}
}

// Health reports liveness, including the database.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.DB != nil {
		if err := h.DB.PingContext(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "DATABASE_UNAVAILABLE", "database unavailable", nil)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// POST HANDLERS
// =============================================================================

// CreatePost creates a post authored by the current user.
func (h *Handler) CreatePost(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req CreatePostRequest
	if !h.decode(w, r, &req) {
		return
	}

	post, err := h.Service.CreatePost(r.Context(), userID, qa.NewPost{
		Type:    qa.PostType(req.Type),
		Title:   req.Title,
		Content: req.Content,
		TagIDs:  req.TagIDs,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPostDTO(post))
}

// GetPost returns a post with its tags.
func (h *Handler) GetPost(w http.ResponseWriter, r *http.Request) {
	postID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	post, err := h.Service.GetPost(r.Context(), postID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostDTO(post))
}

// UpdatePost edits a post.
func (h *Handler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	postID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req UpdatePostRequest
	if !h.decode(w, r, &req) {
		return
	}

	patch := qa.PostPatch{Title: req.Title, Content: req.Content, TagIDs: req.TagIDs}
	if req.Type != nil {
		t := qa.PostType(*req.Type)
		patch.Type = &t
	}
	post, err := h.Service.UpdatePost(r.Context(), userID, postID, patch)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostDTO(post))
}

// DeletePost soft-deletes a post.
func (h *Handler) DeletePost(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	postID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.Service.DeletePost(r.Context(), userID, postID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClosePost closes a post to new answers.
func (h *Handler) ClosePost(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	postID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req ClosePostRequest
	if !h.decode(w, r, &req) {
		return
	}
	post, err := h.Service.ClosePost(r.Context(), userID, postID, req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostDTO(post))
}

// =============================================================================
// ANSWER HANDLERS
// =============================================================================

// ListAnswers returns the live answers of a post, accepted first.
func (h *Handler) ListAnswers(w http.ResponseWriter, r *http.Request) {
	postID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	answers, err := h.Service.ListAnswers(r.Context(), postID, qa.AnswerSort(r.URL.Query().Get("sort")))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	dtos := make([]AnswerDTO, len(answers))
	for i := range answers {
		dtos[i] = toAnswerDTO(&answers[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAnswer answers a post as the current user.
func (h *Handler) CreateAnswer(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	postID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req AnswerRequest
	if !h.decode(w, r, &req) {
		return
	}
	answer, err := h.Service.CreateAnswer(r.Context(), userID, postID, req.Content)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAnswerDTO(answer))
}

// UpdateAnswer edits an answer.
func (h *Handler) UpdateAnswer(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	answerID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req AnswerRequest
	if !h.decode(w, r, &req) {
		return
	}
	answer, err := h.Service.UpdateAnswer(r.Context(), userID, answerID, req.Content)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAnswerDTO(answer))
}

// DeleteAnswer soft-deletes an answer.
func (h *Handler) DeleteAnswer(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	answerID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.Service.DeleteAnswer(r.Context(), userID, answerID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ACCEPTANCE HANDLERS
// =============================================================================

// AcceptAnswer marks an answer as the accepted answer of its post.
func (h *Handler) AcceptAnswer(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	postID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	answerID, ok := pathID(w, r, "answerID")
	if !ok {
		return
	}
	post, err := h.Service.AcceptAnswer(r.Context(), userID, postID, answerID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostDTO(post))
}

// UnacceptAnswer clears the accepted answer of a post.
func (h *Handler) UnacceptAnswer(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	postID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	post, err := h.Service.UnacceptAnswer(r.Context(), userID, postID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostDTO(post))
}

// =============================================================================
// USER & TAG HANDLERS
// =============================================================================

// RegisterUser creates a user. Registration is open, but only an existing
// admin may create another admin.
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterUserRequest
	if !h.decode(w, r, &req) {
		return
	}
	if qa.Role(req.Role) == qa.RoleAdmin {
		if _, ok := h.requireAdmin(w, r); !ok {
			return
		}
	}
	u, err := h.Service.RegisterUser(r.Context(), qa.User{
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Role:        qa.Role(req.Role),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(u))
}

// GetUser returns a user.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	u, err := h.Service.GetUser(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(u))
}

// GetUserStats returns a user's counters and acceptance rate.
func (h *Handler) GetUserStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	stats, err := h.Service.UserStats(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UserStatsDTO{
		UserID:               stats.UserID,
		Reputation:           stats.Reputation,
		PostsCount:           stats.PostsCount,
		AnswersCount:         stats.AnswersCount,
		AcceptedAnswersCount: stats.AcceptedAnswersCount,
		AcceptanceRate:       stats.AcceptanceRate.StringFixed(4),
	})
}

// GetReputationHistory returns a user's latest reputation entries.
func (h *Handler) GetReputationHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	limit := qa.DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			writeError(w, http.StatusBadRequest, qa.ErrInvalidInput.Code,
				fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit), nil)
			return
		}
		limit = n
	}

	entries, err := h.Service.ReputationHistory(r.Context(), userID, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// ListTags returns every tag.
func (h *Handler) ListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.Service.ListTags(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTagDTOs(tags))
}

// CreateTag creates a tag. Admin only.
func (h *Handler) CreateTag(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	var req CreateTagRequest
	if !h.decode(w, r, &req) {
		return
	}
	tag, err := h.Service.CreateTag(r.Context(), qa.Tag{Name: req.Name, Slug: req.Slug, Color: req.Color})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTagDTOs([]qa.Tag{*tag})[0])
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// GetLastAudit returns the most recent reputation audit.
func (h *Handler) GetLastAudit(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	if h.Audit == nil {
		writeError(w, http.StatusNotFound, "AUDIT_DISABLED", "reputation audit is disabled", nil)
		return
	}
	run := h.Audit.LastRun()
	if run == nil {
		writeError(w, http.StatusNotFound, "NO_AUDIT_RUN", "no audit has run yet", nil)
		return
	}
	resp := toAuditResponse(run)
	resp.NextRun = formatTime(h.Audit.NextRun())
	writeJSON(w, http.StatusOK, resp)
}

// RunAudit runs the reputation audit synchronously.
func (h *Handler) RunAudit(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	if h.Audit == nil {
		writeError(w, http.StatusNotFound, "AUDIT_DISABLED", "reputation audit is disabled", nil)
		return
	}
	if _, err := h.Audit.RunNow(r.Context()); errors.Is(err, jobs.ErrAuditRunning) {
		writeError(w, http.StatusConflict, "AUDIT_RUNNING", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, toAuditResponse(h.Audit.LastRun()))
}

// =============================================================================
// HELPERS
// =============================================================================

// requireUser returns the current user or writes 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := CurrentUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return "", false
	}
	return id, true
}

// requireAdmin returns the current user if it is an admin, or writes 401/403.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) (*qa.User, bool) {
	id, ok := requireUser(w, r)
	if !ok {
		return nil, false
	}
	u, err := h.Service.GetUser(r.Context(), id)
	if err != nil && !qa.IsNotFound(err) {
		writeServiceError(w, r, err)
		return nil, false
	}
	if !u.IsAdmin() {
		writeServiceError(w, r, qa.ErrAccessDenied)
		return nil, false
	}
	return u, true
}

// pathID reads a UUID path parameter or writes 400.
func pathID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, qa.ErrInvalidInput.Code,
			fmt.Sprintf("%s must be a UUID", name), nil)
		return "", false
	}
	return id.String(), true
}

// decode reads a JSON body into dst and validates it, writing 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, qa.ErrInvalidInput.Code, "invalid request body", []string{err.Error()})
		return false
	}

	err := h.validate.Struct(dst)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeError(w, http.StatusBadRequest, qa.ErrInvalidInput.Code, "invalid request body", []string{err.Error()})
		return false
	}
	details := make([]string, len(verrs))
	for i, fe := range verrs {
		details[i] = describe(fe)
	}
	writeError(w, http.StatusBadRequest, qa.ErrInvalidInput.Code, "validation failed", details)
	return false
}

func describe(fe validator.FieldError) string {
	if fe.Param() != "" {
		return fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s: %s", fe.Field(), fe.Tag())
}
