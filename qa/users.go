package qa

import (
	"context"
	"errors"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/warp/qa-engine/reputation"
)

// DefaultHistoryLimit caps ReputationHistory when no limit is given.
const DefaultHistoryLimit = 50

// RegisterUser creates a user at the policy's initial reputation with zeroed
// counters. Credentials live with the identity provider, not here.
func (s *Service) RegisterUser(ctx context.Context, in User) (*User, error) {
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" {
		return nil, invalid("username is required")
	}
	if in.Role == "" {
		in.Role = RoleUser
	}
	if in.Role != RoleUser && in.Role != RoleAdmin {
		return nil, invalid("role must be one of: user, admin")
	}
	if in.DisplayName == "" {
		in.DisplayName = in.Username
	}

	u := &User{
		ID:          in.ID,
		Username:    in.Username,
		DisplayName: in.DisplayName,
		Role:        in.Role,
		Reputation:  s.ledger.Policy.Initial,
	}
	if u.ID == "" {
		u.ID = s.newID()
	}

	err := s.runTx(ctx, "register_user", func(tx Tx) error {
		u.CreatedAt = s.clock()
		err := tx.InsertUser(ctx, u)
		if errors.Is(err, ErrConflict) {
			return ErrUsernameAlreadyExists
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"user_id": u.ID, "username": u.Username}).Info("User registered")
	return u, nil
}

var slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a URL-safe slug from a tag name.
func Slugify(name string) string {
	return strings.Trim(slugUnsafe.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

// CreateTag creates a tag. The slug is derived from the name when empty.
func (s *Service) CreateTag(ctx context.Context, in Tag) (*Tag, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, invalid("tag name is required")
	}
	t := &Tag{ID: in.ID, Name: in.Name, Slug: in.Slug, Color: in.Color}
	if t.Slug == "" {
		t.Slug = Slugify(t.Name)
	}
	if t.ID == "" {
		t.ID = s.newID()
	}

	err := s.runTx(ctx, "create_tag", func(tx Tx) error {
		err := tx.InsertTag(ctx, t)
		if errors.Is(err, ErrConflict) {
			return ErrAlreadyExists
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetUser returns a user by ID.
func (s *Service) GetUser(ctx context.Context, userID string) (*User, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, internalError("get_user", err)
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// ListTags returns every tag ordered by name.
func (s *Service) ListTags(ctx context.Context) ([]Tag, error) {
	tags, err := s.store.ListTags(ctx)
	if err != nil {
		return nil, internalError("list_tags", err)
	}
	return tags, nil
}

// UserStats returns the counters of a user and their acceptance rate.
func (s *Service) UserStats(ctx context.Context, userID string) (UserStats, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return UserStats{}, internalError("user_stats", err)
	}
	if u == nil {
		return UserStats{}, ErrUserNotFound
	}
	return statsFor(u), nil
}

// ReputationHistory returns a user's most recent ledger entries, newest first.
func (s *Service) ReputationHistory(ctx context.Context, userID string, limit int) ([]reputation.Entry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, internalError("reputation_history", err)
	}
	if u == nil {
		return nil, ErrUserNotFound
	}

	entries, err := s.store.ReputationHistory(ctx, userID, limit)
	if err != nil {
		return nil, internalError("reputation_history", err)
	}
	return entries, nil
}
