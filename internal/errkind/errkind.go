// Package errkind defines the platform-wide error taxonomy. Provider and
// driver errors are translated into these kinds at the adapter boundary;
// the HTTP layer and the workflow retry machinery act on kinds only.
package errkind

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation and retry decisions
type Kind string

const (
	// SchemaViolation means the input fails a declared contract. Not retryable.
	SchemaViolation Kind = "schema_violation"
	// NotFound means a named entity does not exist. Not retryable.
	NotFound Kind = "not_found"
	// Conflict means a non-retryable conflict, e.g. an entity already exists.
	Conflict Kind = "conflict"
	// Transient means an external dependency is temporarily unavailable.
	Transient Kind = "transient"
	// Timeout means the operation exceeded its deadline. Treated as
	// Transient unless the retry budget is exhausted.
	Timeout Kind = "timeout"
	// RateLimited means a provider signalled overload.
	RateLimited Kind = "rate_limited"
	// DeterminismViolation means a workflow replay observed divergent
	// history. The workflow is unrecoverable.
	DeterminismViolation Kind = "determinism_violation"
	// Cancelled means the caller cancelled the operation.
	Cancelled Kind = "cancelled"
	// Internal means an unexpected invariant break.
	Internal Kind = "internal"
)

// Error carries a kind, the operation that produced it and a wrapped cause
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with a message
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Newf creates an Error with a formatted message
func Newf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error wrapping a cause
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the kind from an error chain. Unclassified errors are
// Internal; context errors map to Timeout and Cancelled.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	case errors.Is(err, context.Canceled):
		return Cancelled
	}
	return Internal
}

// Retryable reports whether an error of this kind may be retried
func (k Kind) Retryable() bool {
	switch k {
	case Transient, Timeout, RateLimited:
		return true
	}
	return false
}

// HTTPStatus maps a kind to the status code the API surface returns
func (k Kind) HTTPStatus() int {
	switch k {
	case SchemaViolation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case RateLimited:
		return http.StatusTooManyRequests
	case Transient, Timeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
