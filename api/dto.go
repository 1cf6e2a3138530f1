/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Response wrappers

VALIDATION:
  Request types carry validator tags; decode() runs them before a handler
  sees the value. Limits: title 10-200, post content >= 20, answer content
  >= 10, 1-5 tag UUIDs per post.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/qa-engine/jobs"
	"github.com/warp/qa-engine/qa"
	"github.com/warp/qa-engine/reputation"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreatePostRequest is the body of POST /api/posts.
type CreatePostRequest struct {
	Type    string   `json:"type" validate:"required,oneof=question discussion resource practice"`
	Title   string   `json:"title" validate:"required,min=10,max=200"`
	Content string   `json:"content" validate:"required,min=20"`
	TagIDs  []string `json:"tag_ids" validate:"required,min=1,max=5,dive,uuid"`
}

// UpdatePostRequest is the body of PATCH /api/posts/{id}. Absent fields are
// left unchanged.
type UpdatePostRequest struct {
	Type    *string  `json:"type" validate:"omitempty,oneof=question discussion resource practice"`
	Title   *string  `json:"title" validate:"omitempty,min=10,max=200"`
	Content *string  `json:"content" validate:"omitempty,min=20"`
	TagIDs  []string `json:"tag_ids" validate:"omitempty,min=1,max=5,dive,uuid"`
}

// ClosePostRequest is the body of POST /api/posts/{id}/close.
type ClosePostRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// AnswerRequest is the body of answer creation and edits.
type AnswerRequest struct {
	Content string `json:"content" validate:"required,min=10"`
}

// RegisterUserRequest is the body of POST /api/users.
type RegisterUserRequest struct {
	Username    string `json:"username" validate:"required,min=3,max=50"`
	DisplayName string `json:"display_name" validate:"omitempty,max=100"`
	Role        string `json:"role" validate:"omitempty,oneof=user admin"`
}

// CreateTagRequest is the body of POST /api/tags.
type CreateTagRequest struct {
	Name  string `json:"name" validate:"required,max=50"`
	Slug  string `json:"slug" validate:"omitempty,max=50"`
	Color string `json:"color" validate:"omitempty,hexcolor"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// TagDTO represents a tag in API responses.
type TagDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Slug       string `json:"slug"`
	Color      string `json:"color,omitempty"`
	PostsCount int    `json:"posts_count"`
}

// PostDTO represents a post in API responses.
type PostDTO struct {
	ID               string   `json:"id"`
	AuthorID         string   `json:"author_id"`
	Type             string   `json:"type"`
	Status           string   `json:"status"`
	Title            string   `json:"title"`
	Content          string   `json:"content"`
	AcceptedAnswerID *string  `json:"accepted_answer_id"`
	AnswerCount      int      `json:"answer_count"`
	ViewCount        int      `json:"view_count"`
	Score            int      `json:"score"`
	IsClosed         bool     `json:"is_closed"`
	ClosedReason     *string  `json:"closed_reason,omitempty"`
	Tags             []TagDTO `json:"tags"`
	CreatedAt        string   `json:"created_at"`
	UpdatedAt        string   `json:"updated_at"`
	LastActivityAt   string   `json:"last_activity_at"`
}

// AnswerDTO represents an answer in API responses.
type AnswerDTO struct {
	ID         string `json:"id"`
	PostID     string `json:"post_id"`
	AuthorID   string `json:"author_id"`
	Content    string `json:"content"`
	Score      int    `json:"score"`
	IsAccepted bool   `json:"is_accepted"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// UserDTO represents a user in API responses.
type UserDTO struct {
	ID                   string `json:"id"`
	Username             string `json:"username"`
	DisplayName          string `json:"display_name"`
	Role                 string `json:"role"`
	Reputation           int    `json:"reputation"`
	PostsCount           int    `json:"posts_count"`
	AnswersCount         int    `json:"answers_count"`
	AcceptedAnswersCount int    `json:"accepted_answers_count"`
	CreatedAt            string `json:"created_at"`
}

// UserStatsDTO is the response of GET /api/users/{id}/stats.
type UserStatsDTO struct {
	UserID               string `json:"user_id"`
	Reputation           int    `json:"reputation"`
	PostsCount           int    `json:"posts_count"`
	AnswersCount         int    `json:"answers_count"`
	AcceptedAnswersCount int    `json:"accepted_answers_count"`
	AcceptanceRate       string `json:"acceptance_rate"`
}

// ReputationEntryDTO is one row of a user's reputation history.
type ReputationEntryDTO struct {
	ID              int64   `json:"id"`
	Event           string  `json:"event"`
	Change          int     `json:"change"`
	RelatedPostID   *string `json:"related_post_id,omitempty"`
	RelatedAnswerID *string `json:"related_answer_id,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

// DriftDTO is one inconsistent user in an audit report.
type DriftDTO struct {
	UserID   string `json:"user_id"`
	Stored   int    `json:"stored"`
	Replayed int    `json:"replayed"`
	Entries  int    `json:"entries"`
}

// AuditResponse summarizes a reputation audit.
type AuditResponse struct {
	StartedAt  string     `json:"started_at,omitempty"`
	FinishedAt string     `json:"finished_at,omitempty"`
	Checked    int        `json:"checked"`
	Consistent bool       `json:"consistent"`
	Drifts     []DriftDTO `json:"drifts"`
	Error      string     `json:"error,omitempty"`
	NextRun    string     `json:"next_run,omitempty"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Code    string   `json:"code"`
	Details []string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toTagDTOs(tags []qa.Tag) []TagDTO {
	out := make([]TagDTO, len(tags))
	for i, t := range tags {
		out[i] = TagDTO{ID: t.ID, Name: t.Name, Slug: t.Slug, Color: t.Color, PostsCount: t.PostsCount}
	}
	return out
}

func toPostDTO(p *qa.Post) PostDTO {
	return PostDTO{
		ID:               p.ID,
		AuthorID:         p.AuthorID,
		Type:             string(p.Type),
		Status:           string(p.Status),
		Title:            p.Title,
		Content:          p.Content,
		AcceptedAnswerID: p.AcceptedAnswerID,
		AnswerCount:      p.AnswerCount,
		ViewCount:        p.ViewCount,
		Score:            p.Score,
		IsClosed:         p.IsClosed,
		ClosedReason:     p.ClosedReason,
		Tags:             toTagDTOs(p.Tags),
		CreatedAt:        formatTime(p.CreatedAt),
		UpdatedAt:        formatTime(p.UpdatedAt),
		LastActivityAt:   formatTime(p.LastActivityAt),
	}
}

func toAnswerDTO(a *qa.Answer) AnswerDTO {
	return AnswerDTO{
		ID:         a.ID,
		PostID:     a.PostID,
		AuthorID:   a.AuthorID,
		Content:    a.Content,
		Score:      a.Score,
		IsAccepted: a.IsAccepted,
		CreatedAt:  formatTime(a.CreatedAt),
		UpdatedAt:  formatTime(a.UpdatedAt),
	}
}

func toUserDTO(u *qa.User) UserDTO {
	return UserDTO{
		ID:                   u.ID,
		Username:             u.Username,
		DisplayName:          u.DisplayName,
		Role:                 string(u.Role),
		Reputation:           u.Reputation,
		PostsCount:           u.PostsCount,
		AnswersCount:         u.AnswersCount,
		AcceptedAnswersCount: u.AcceptedAnswersCount,
		CreatedAt:            formatTime(u.CreatedAt),
	}
}

func toEntryDTOs(entries []reputation.Entry) []ReputationEntryDTO {
	out := make([]ReputationEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = ReputationEntryDTO{
			ID:              int64(e.ID),
			Event:           string(e.Event),
			Change:          e.Change,
			RelatedPostID:   e.RelatedPostID,
			RelatedAnswerID: e.RelatedAnswerID,
			CreatedAt:       formatTime(e.CreatedAt),
		}
	}
	return out
}

func toAuditResponse(run *jobs.Run) AuditResponse {
	resp := AuditResponse{
		StartedAt:  formatTime(run.StartedAt),
		FinishedAt: formatTime(run.FinishedAt),
		Checked:    run.Report.Checked,
		Consistent: run.Err == nil && run.Report.Consistent(),
		Drifts:     make([]DriftDTO, len(run.Report.Drifts)),
	}
	for i, d := range run.Report.Drifts {
		resp.Drifts[i] = DriftDTO{UserID: d.UserID, Stored: d.Stored, Replayed: d.Replayed, Entries: d.Entries}
	}
	if run.Err != nil {
		resp.Error = run.Err.Error()
	}
	return resp
}
