/*
service.go - Q&A workflow service

PURPOSE:
  Service is the Acceptance & Reputation Consistency Engine. Each exported
  method is one workflow: it opens exactly one unit of work, does every read
  and write through the Tx it is handed, and commits or rolls back as a unit.
  Reputation changes always go through the reputation.Ledger so the counter
  and its history move together.

FILES:
  post.go       - CreatePost, UpdatePost, ClosePost, DeletePost, GetPost
  answer.go     - CreateAnswer, ListAnswers, UpdateAnswer, DeleteAnswer
  acceptance.go - AcceptAnswer, UnacceptAnswer
  users.go      - UserStats, ReputationHistory
  retry.go      - whole-transaction retry on transient failures
  metrics.go    - prometheus instrumentation

SEE ALSO:
  - store.go: the contracts this service consumes
*/
package qa

import (
	"time"

	"github.com/google/uuid"

	"github.com/warp/qa-engine/reputation"
)

// Config tunes a Service. Zero values take defaults.
type Config struct {
	Policy    reputation.Policy
	Sanitizer Sanitizer

	// TxMaxAttempts bounds how often a transaction is run when it fails
	// with a transient error. Default 3.
	TxMaxAttempts int

	// TxRetryBackoff is the base sleep between attempts, multiplied by the
	// attempt number. Default 20ms.
	TxRetryBackoff time.Duration

	// EditWindow is how long after creation a post may be edited. Default 24h.
	EditWindow time.Duration

	// Now and NewID are injectable for tests.
	Now   func() time.Time
	NewID func() string
}

const (
	DefaultTxMaxAttempts  = 3
	DefaultTxRetryBackoff = 20 * time.Millisecond
	DefaultEditWindow     = 24 * time.Hour
)

// Service runs the Q&A workflows.
type Service struct {
	store     Store
	ledger    *reputation.Ledger
	sanitizer Sanitizer

	maxAttempts int
	backoff     time.Duration
	editWindow  time.Duration
	now         func() time.Time
	newID       func() string
}

// NewService creates a service over store.
func NewService(store Store, cfg Config) *Service {
	s := &Service{
		store:       store,
		sanitizer:   cfg.Sanitizer,
		maxAttempts: cfg.TxMaxAttempts,
		backoff:     cfg.TxRetryBackoff,
		editWindow:  cfg.EditWindow,
		now:         cfg.Now,
		newID:       cfg.NewID,
	}
	if s.sanitizer == nil {
		s.sanitizer = SanitizerFunc(func(text string) string { return text })
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = DefaultTxMaxAttempts
	}
	if s.backoff <= 0 {
		s.backoff = DefaultTxRetryBackoff
	}
	if s.editWindow <= 0 {
		s.editWindow = DefaultEditWindow
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = func() string { return uuid.NewString() }
	}

	policy := cfg.Policy
	if policy == (reputation.Policy{}) {
		policy = reputation.DefaultPolicy()
	}
	s.ledger = reputation.NewLedger(policy, s.clock)
	return s
}

// Policy returns the reputation policy in effect.
func (s *Service) Policy() reputation.Policy {
	return s.ledger.Policy
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}
