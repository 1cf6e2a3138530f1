/*
fixtures.go - YAML seed data applied through the workflows

PURPOSE:
  Populates a database with users, tags, posts and answers for demos and
  local development. Everything goes through qa.Service, so seeded data
  carries the same reputation awards and ledger entries as real traffic,
  and the audit holds on a freshly seeded database.

FORMAT:
  users:
    - key: alice            # local reference, not stored
      username: alice
      role: admin           # optional, defaults to user
  tags:
    - key: go
      name: Go
      color: "#00ADD8"
  posts:
    - key: p1
      author: alice
      type: question
      title: How do I cancel a goroutine?
      content: <p>...</p>
      tags: [go]
      closed: duplicate     # optional close reason
      answers:
        - author: bob
          content: <p>Use a context.</p>
          accepted: true

  Keys are resolved in file order: users and tags first, then posts with
  their answers. At most one answer per post may be accepted.

SEE ALSO:
  - demo.yaml: The embedded demo data set
  - cmd/server/main.go: "seed" command
*/
package fixtures

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/warp/qa-engine/qa"
)

//go:embed demo.yaml
var demo []byte

// =============================================================================
// FILE FORMAT
// =============================================================================

// File is a parsed fixture document.
type File struct {
	Users []User `yaml:"users"`
	Tags  []Tag  `yaml:"tags"`
	Posts []Post `yaml:"posts"`
}

type User struct {
	Key         string `yaml:"key"`
	Username    string `yaml:"username"`
	DisplayName string `yaml:"display_name"`
	Role        string `yaml:"role"`
}

type Tag struct {
	Key   string `yaml:"key"`
	Name  string `yaml:"name"`
	Slug  string `yaml:"slug"`
	Color string `yaml:"color"`
}

type Post struct {
	Key     string   `yaml:"key"`
	Author  string   `yaml:"author"`
	Type    string   `yaml:"type"`
	Title   string   `yaml:"title"`
	Content string   `yaml:"content"`
	Tags    []string `yaml:"tags"`
	Closed  string   `yaml:"closed"`
	Answers []Answer `yaml:"answers"`
}

type Answer struct {
	Key      string `yaml:"key"`
	Author   string `yaml:"author"`
	Content  string `yaml:"content"`
	Accepted bool   `yaml:"accepted"`
}

// Demo returns the embedded demo data set.
func Demo() (*File, error) {
	return Parse(bytes.NewReader(demo))
}

// Load reads and parses a fixture file from disk.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixtures: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a fixture document and checks its references. Unknown
// fields are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode fixtures: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks that keys are unique and every reference resolves.
func (f *File) Validate() error {
	var errs []error
	users := map[string]bool{}
	for i, u := range f.Users {
		if u.Key == "" {
			errs = append(errs, fmt.Errorf("users[%d]: key is required", i))
			continue
		}
		if users[u.Key] {
			errs = append(errs, fmt.Errorf("users[%d]: duplicate key %q", i, u.Key))
		}
		users[u.Key] = true
	}
	tags := map[string]bool{}
	for i, t := range f.Tags {
		if t.Key == "" {
			errs = append(errs, fmt.Errorf("tags[%d]: key is required", i))
			continue
		}
		if tags[t.Key] {
			errs = append(errs, fmt.Errorf("tags[%d]: duplicate key %q", i, t.Key))
		}
		tags[t.Key] = true
	}
	for i, p := range f.Posts {
		if !users[p.Author] {
			errs = append(errs, fmt.Errorf("posts[%d]: unknown author %q", i, p.Author))
		}
		for _, t := range p.Tags {
			if !tags[t] {
				errs = append(errs, fmt.Errorf("posts[%d]: unknown tag %q", i, t))
			}
		}
		accepted := 0
		for j, a := range p.Answers {
			if !users[a.Author] {
				errs = append(errs, fmt.Errorf("posts[%d].answers[%d]: unknown author %q", i, j, a.Author))
			}
			if a.Accepted {
				accepted++
			}
		}
		if accepted > 1 {
			errs = append(errs, fmt.Errorf("posts[%d]: %d accepted answers, at most one allowed", i, accepted))
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// APPLY
// =============================================================================

// Result maps fixture keys to the IDs that were created.
type Result struct {
	Users   map[string]string
	Tags    map[string]string
	Posts   map[string]string
	Answers map[string]string
}

// Apply creates every entity in f through svc. It stops at the first error;
// entities created before it stay in place.
func (f *File) Apply(ctx context.Context, svc *qa.Service) (*Result, error) {
	res := &Result{
		Users:   map[string]string{},
		Tags:    map[string]string{},
		Posts:   map[string]string{},
		Answers: map[string]string{},
	}

	for _, u := range f.Users {
		created, err := svc.RegisterUser(ctx, qa.User{
			Username:    u.Username,
			DisplayName: u.DisplayName,
			Role:        qa.Role(u.Role),
		})
		if err != nil {
			return res, fmt.Errorf("user %q: %w", u.Key, err)
		}
		res.Users[u.Key] = created.ID
	}

	for _, t := range f.Tags {
		created, err := svc.CreateTag(ctx, qa.Tag{Name: t.Name, Slug: t.Slug, Color: t.Color})
		if err != nil {
			return res, fmt.Errorf("tag %q: %w", t.Key, err)
		}
		res.Tags[t.Key] = created.ID
	}

	for i, p := range f.Posts {
		if err := f.applyPost(ctx, svc, res, i, p); err != nil {
			return res, err
		}
	}

	log.WithFields(log.Fields{
		"users":   len(res.Users),
		"tags":    len(res.Tags),
		"posts":   len(res.Posts),
		"answers": len(res.Answers),
	}).Info("Fixtures applied")

	return res, nil
}

func (f *File) applyPost(ctx context.Context, svc *qa.Service, res *Result, i int, p Post) error {
	name := p.Key
	if name == "" {
		name = fmt.Sprintf("posts[%d]", i)
	}

	tagIDs := make([]string, 0, len(p.Tags))
	for _, t := range p.Tags {
		tagIDs = append(tagIDs, res.Tags[t])
	}
	authorID := res.Users[p.Author]

	post, err := svc.CreatePost(ctx, authorID, qa.NewPost{
		Type:    qa.PostType(p.Type),
		Title:   p.Title,
		Content: p.Content,
		TagIDs:  tagIDs,
	})
	if err != nil {
		return fmt.Errorf("post %s: %w", name, err)
	}
	if p.Key != "" {
		res.Posts[p.Key] = post.ID
	}

	var acceptedID string
	for j, a := range p.Answers {
		answer, err := svc.CreateAnswer(ctx, res.Users[a.Author], post.ID, a.Content)
		if err != nil {
			return fmt.Errorf("post %s answer %d: %w", name, j, err)
		}
		if a.Key != "" {
			res.Answers[a.Key] = answer.ID
		}
		if a.Accepted {
			acceptedID = answer.ID
		}
	}

	if acceptedID != "" {
		if _, err := svc.AcceptAnswer(ctx, authorID, post.ID, acceptedID); err != nil {
			return fmt.Errorf("post %s accept: %w", name, err)
		}
	}
	if p.Closed != "" {
		if _, err := svc.ClosePost(ctx, authorID, post.ID, p.Closed); err != nil {
			return fmt.Errorf("post %s close: %w", name, err)
		}
	}
	return nil
}
