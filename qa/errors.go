/*
errors.go - Error kinds and coded failures for the Q&A workflows

PURPOSE:
  Every workflow failure is one of a small set of kinds. Transports map the
  kind to a status (HTTP 404/403/412/409/500) and surface the stable code.

ERROR KINDS:
  ErrNotFound           - entity missing or soft-deleted
  ErrForbidden          - requester lacks ownership or admin role
  ErrPreconditionFailed - a guard rail was hit (closed post, self-answer...)
  ErrConflict           - uniqueness violation on creation
  ErrInternal           - store failure, or retries exhausted

RETRYABLE:
  ErrConcurrentModification marks transient failures (lost compare-and-set,
  serialization failure, busy database). The service retries the whole
  transaction and never surfaces this kind to callers.

USAGE:

    if errors.Is(err, qa.ErrSelfAnswer) { ... }       // exact failure
    if errors.Is(err, qa.ErrPreconditionFailed) { ... } // any guard rail

SEE ALSO:
  - retry.go: the retry loop driven by IsRetryable
  - api/errors.go: HTTP mapping
*/
package qa

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL KINDS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal error")

	// ErrConcurrentModification is returned when a compare-and-set lost a race
	// or the database reported a transient serialization failure.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// CODED ERRORS
// =============================================================================

// Error is a coded workflow failure. Unwrap exposes both the kind and, when
// present, the underlying cause.
type Error struct {
	Kind    error
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func coded(kind error, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrPostNotFound   = coded(ErrNotFound, "POST_NOT_FOUND", "post not found")
	ErrAnswerNotFound = coded(ErrNotFound, "ANSWER_NOT_FOUND", "answer not found")
	ErrUserNotFound   = coded(ErrNotFound, "USER_NOT_FOUND", "user not found")
	ErrTagNotFound    = coded(ErrNotFound, "TAG_NOT_FOUND", "one or more tags not found")

	ErrNotPostAuthor   = coded(ErrForbidden, "FORBIDDEN", "only the post author can perform this action")
	ErrNotAnswerAuthor = coded(ErrForbidden, "FORBIDDEN", "only the answer author can perform this action")
	ErrAccessDenied    = coded(ErrForbidden, "FORBIDDEN", "you do not have permission to perform this action")

	ErrPostClosed            = coded(ErrPreconditionFailed, "POST_CLOSED", "post is closed")
	ErrSelfAnswer            = coded(ErrPreconditionFailed, "SELF_ANSWER_NOT_ALLOWED", "cannot answer your own post")
	ErrCannotDeleteAccepted  = coded(ErrPreconditionFailed, "CANNOT_DELETE_ACCEPTED_ANSWER", "cannot delete an accepted answer")
	ErrNoAcceptedAnswer      = coded(ErrPreconditionFailed, "NO_ACCEPTED_ANSWER", "post has no accepted answer")
	ErrEditWindowExpired     = coded(ErrPreconditionFailed, "POST_EDIT_WINDOW_EXPIRED", "post can no longer be edited")
	ErrPostHasAcceptedAnswer = coded(ErrPreconditionFailed, "POST_HAS_ACCEPTED_ANSWER", "post with an accepted answer cannot be edited")
	ErrInvalidInput          = coded(ErrPreconditionFailed, "VALIDATION_ERROR", "invalid input")

	ErrAlreadyExists         = coded(ErrConflict, "RESOURCE_ALREADY_EXISTS", "resource already exists")
	ErrUsernameAlreadyExists = coded(ErrConflict, "USERNAME_ALREADY_EXISTS", "username already exists")
)

// internalError wraps a store failure or exhausted retries.
func internalError(op string, err error) *Error {
	return &Error{Kind: ErrInternal, Code: "INTERNAL_ERROR", Message: op + " failed", Err: err}
}

// invalid returns a validation failure with a specific message.
func invalid(msg string) *Error {
	return &Error{Kind: ErrPreconditionFailed, Code: ErrInvalidInput.Code, Message: msg, Err: ErrInvalidInput}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrPreconditionFailed) ||
		errors.Is(err, ErrConflict)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// CodeOf returns the stable code of a workflow error, or INTERNAL_ERROR.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL_ERROR"
}

// outcome is the metrics label for a workflow result.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrPreconditionFailed):
		return "precondition_failed"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}
