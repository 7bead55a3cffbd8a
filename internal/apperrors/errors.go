// Package apperrors provides structured application errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("not found")
	ErrNotStoppable   = errors.New("not stoppable")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnavailable    = errors.New("dependency unavailable")
	ErrInternal       = errors.New("internal error")
)

// Error carries a sentinel for classification plus request context.
type Error struct {
	Sentinel   error
	Message    string
	Field      string        // for invalid-request errors (e.g. "limit")
	Resource   string        // for not-found/not-stoppable (e.g. "task")
	Op         string        // operation that failed (e.g. "results.append")
	Cause      error         // underlying error
	RetryAfter time.Duration // for rate-limited errors
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel error for errors.Is() classification.
func (e *Error) Unwrap() error {
	return e.Sentinel
}

// InvalidRequest creates a validation error for a specific field.
func InvalidRequest(field, message string) error {
	return &Error{
		Sentinel: ErrInvalidRequest,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// NotStoppable creates a conflict error for a task that cannot be stopped
// from its current state.
func NotStoppable(taskID, status string) error {
	return &Error{
		Sentinel: ErrNotStoppable,
		Message:  fmt.Sprintf("task %s is %s and cannot be stopped", taskID, status),
		Resource: "task",
	}
}

// RateLimited creates an admission-control rejection with a retry hint.
func RateLimited(retryAfter time.Duration) error {
	return &Error{
		Sentinel:   ErrRateLimited,
		Message:    "rate limit exceeded",
		RetryAfter: retryAfter,
	}
}

// Unavailable creates a transient-infrastructure error for a dependency.
func Unavailable(dependency string, cause error) error {
	return &Error{
		Sentinel: ErrUnavailable,
		Message:  fmt.Sprintf("%s unavailable: %v", dependency, cause),
		Resource: dependency,
		Cause:    cause,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// RetryAfterHint extracts the retry-after duration from a rate-limited
// error, or zero when the error carries none.
func RetryAfterHint(err error) time.Duration {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.RetryAfter
	}
	return 0
}
