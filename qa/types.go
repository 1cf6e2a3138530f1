/*
types.go - Entities of the Q&A domain

ENTITIES:
  Post   - a question/discussion/resource/practice with at most one accepted Answer
  Answer - a reply to a Post; immutable PostID and AuthorID
  User   - reputation counter plus activity counters
  Tag    - label with a posts counter

INVARIANTS (maintained by the workflows in this package):
  - Post.AcceptedAnswerID != nil => Post.Status == StatusAnswered, and the
    referenced Answer belongs to the Post and has IsAccepted == true.
  - At most one Answer per Post has IsAccepted == true.
  - An accepted Answer is never soft-deleted.
  - User.Reputation and every counter are >= 0.

SEE ALSO:
  - store.go: persistence contracts
  - ../reputation: the ledger that explains User.Reputation
*/
package qa

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENUMS
// =============================================================================

// PostType classifies a post.
type PostType string

const (
	TypeQuestion   PostType = "question"
	TypeDiscussion PostType = "discussion"
	TypeResource   PostType = "resource"
	TypePractice   PostType = "practice"
)

// Valid reports whether t is a known post type.
func (t PostType) Valid() bool {
	switch t {
	case TypeQuestion, TypeDiscussion, TypeResource, TypePractice:
		return true
	}
	return false
}

// PostStatus is the lifecycle state of a post.
type PostStatus string

const (
	StatusOpen     PostStatus = "open"
	StatusAnswered PostStatus = "answered"
	StatusClosed   PostStatus = "closed"
)

// Role is a user's authorization role.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// AnswerSort orders answer listings. The accepted answer always comes first.
type AnswerSort string

const (
	SortVotes AnswerSort = "votes"
	SortNew   AnswerSort = "new"
)

// Valid reports whether s is a known sort.
func (s AnswerSort) Valid() bool {
	return s == SortVotes || s == SortNew
}

// UserCounter names one of the activity counters on User.
type UserCounter string

const (
	CounterPosts           UserCounter = "posts_count"
	CounterAnswers         UserCounter = "answers_count"
	CounterAcceptedAnswers UserCounter = "accepted_answers_count"
)

// =============================================================================
// ENTITIES
// =============================================================================

// Tag labels posts.
type Tag struct {
	ID         string
	Name       string
	Slug       string
	Color      string
	PostsCount int
}

// Post is the unit answers attach to.
type Post struct {
	ID               string
	AuthorID         string
	Type             PostType
	Status           PostStatus
	Title            string
	Content          string
	AcceptedAnswerID *string
	AnswerCount      int
	ViewCount        int
	Score            int
	IsDeleted        bool
	DeletedAt        *time.Time
	IsClosed         bool
	ClosedReason     *string
	ClosedByID       *string
	Tags             []Tag
	CreatedAt        time.Time
	UpdatedAt        time.Time
	LastActivityAt   time.Time
}

// HasAcceptedAnswer reports whether an answer is currently accepted.
func (p *Post) HasAcceptedAnswer() bool {
	return p.AcceptedAnswerID != nil
}

// Answer is a reply to a post.
type Answer struct {
	ID         string
	PostID     string
	AuthorID   string
	Content    string
	Score      int
	IsAccepted bool
	IsDeleted  bool
	DeletedAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// User carries the reputation counter and activity counters.
type User struct {
	ID                   string
	Username             string
	DisplayName          string
	Role                 Role
	Reputation           int
	PostsCount           int
	AnswersCount         int
	AcceptedAnswersCount int
	CreatedAt            time.Time
}

// IsAdmin reports whether the user may moderate other users' content.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// UserStats is the read projection of a user's counters.
type UserStats struct {
	UserID               string
	Reputation           int
	PostsCount           int
	AnswersCount         int
	AcceptedAnswersCount int

	// AcceptanceRate is accepted answers / answers, rounded to 4 places.
	// Zero when the user has no answers.
	AcceptanceRate decimal.Decimal
}

func statsFor(u *User) UserStats {
	rate := decimal.Zero
	if u.AnswersCount > 0 {
		rate = decimal.NewFromInt(int64(u.AcceptedAnswersCount)).
			Div(decimal.NewFromInt(int64(u.AnswersCount))).
			Round(4)
	}
	return UserStats{
		UserID:               u.ID,
		Reputation:           u.Reputation,
		PostsCount:           u.PostsCount,
		AnswersCount:         u.AnswersCount,
		AcceptedAnswersCount: u.AcceptedAnswersCount,
		AcceptanceRate:       rate,
	}
}

// =============================================================================
// INPUTS
// =============================================================================

// NewPost is the input of CreatePost.
type NewPost struct {
	Type    PostType
	Title   string
	Content string
	TagIDs  []string
}

// PostPatch is the input of UpdatePost. Nil fields are left unchanged.
type PostPatch struct {
	Type    *PostType
	Title   *string
	Content *string
	TagIDs  []string
}
