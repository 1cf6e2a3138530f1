package reputation

import (
	"errors"
	"fmt"
)

// Event is one of the closed set of reasons a reputation can change.
type Event string

const (
	EventPostCreated      Event = "post_created"
	EventPostDeleted      Event = "post_deleted"
	EventAnswerCreated    Event = "answer_created"
	EventAnswerAccepted   Event = "answer_accepted"
	EventAnswerUnaccepted Event = "answer_unaccepted"
)

// Events lists every valid event.
var Events = []Event{
	EventPostCreated,
	EventPostDeleted,
	EventAnswerCreated,
	EventAnswerAccepted,
	EventAnswerUnaccepted,
}

// Valid reports whether e is in the closed set.
func (e Event) Valid() bool {
	for _, known := range Events {
		if e == known {
			return true
		}
	}
	return false
}

// Policy holds the fixed award per event. Unaccepting reverses the accepted
// award, so it has no separate amount.
type Policy struct {
	PostCreated    int
	PostDeleted    int
	AnswerCreated  int
	AnswerAccepted int

	// Initial is the reputation a new user starts with.
	Initial int
}

// DefaultPolicy returns the production award amounts.
func DefaultPolicy() Policy {
	return Policy{
		PostCreated:    5,
		PostDeleted:    -10,
		AnswerCreated:  10,
		AnswerAccepted: 15,
		Initial:        1,
	}
}

// Delta returns the signed change for an event.
func (p Policy) Delta(e Event) (int, error) {
	switch e {
	case EventPostCreated:
		return p.PostCreated, nil
	case EventPostDeleted:
		return p.PostDeleted, nil
	case EventAnswerCreated:
		return p.AnswerCreated, nil
	case EventAnswerAccepted:
		return p.AnswerAccepted, nil
	case EventAnswerUnaccepted:
		return -p.AnswerAccepted, nil
	default:
		return 0, fmt.Errorf("delta for %q: %w", e, ErrUnknownEvent)
	}
}

// Validate checks the signs of the award amounts.
func (p Policy) Validate() error {
	var errs []error
	if p.PostCreated < 0 {
		errs = append(errs, errors.New("post created award must be >= 0"))
	}
	if p.PostDeleted > 0 {
		errs = append(errs, errors.New("post deleted adjustment must be <= 0"))
	}
	if p.AnswerCreated < 0 {
		errs = append(errs, errors.New("answer created award must be >= 0"))
	}
	if p.AnswerAccepted < 0 {
		errs = append(errs, errors.New("answer accepted award must be >= 0"))
	}
	if p.Initial < 0 {
		errs = append(errs, errors.New("initial reputation must be >= 0"))
	}
	return errors.Join(errs...)
}
