package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestInvalidRequest(t *testing.T) {
	t.Parallel()
	err := InvalidRequest("limit", "limit must be between 1 and 1000")

	if !errors.Is(err, ErrInvalidRequest) {
		t.Error("expected error to match ErrInvalidRequest")
	}
	if err.Error() != "limit must be between 1 and 1000" {
		t.Errorf("unexpected message: %q", err.Error())
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Field != "limit" {
		t.Errorf("expected field 'limit', got %q", appErr.Field)
	}
}

func TestNotFound(t *testing.T) {
	t.Parallel()
	err := NotFound("task", "abc123")

	if !errors.Is(err, ErrNotFound) {
		t.Error("expected error to match ErrNotFound")
	}
	if err.Error() != "task abc123 not found" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestNotStoppable(t *testing.T) {
	t.Parallel()
	err := NotStoppable("abc123", "completed")

	if !errors.Is(err, ErrNotStoppable) {
		t.Error("expected error to match ErrNotStoppable")
	}
	if err.Error() != "task abc123 is completed and cannot be stopped" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestRateLimited(t *testing.T) {
	t.Parallel()
	err := RateLimited(42 * time.Second)

	if !errors.Is(err, ErrRateLimited) {
		t.Error("expected error to match ErrRateLimited")
	}
	if got := RetryAfterHint(err); got != 42*time.Second {
		t.Errorf("RetryAfterHint() = %v, want 42s", got)
	}
	if got := RetryAfterHint(fmt.Errorf("plain")); got != 0 {
		t.Errorf("RetryAfterHint(plain) = %v, want 0", got)
	}
}

func TestUnavailable(t *testing.T) {
	t.Parallel()
	cause := fmt.Errorf("connection refused")
	err := Unavailable("redis", cause)

	if !errors.Is(err, ErrUnavailable) {
		t.Error("expected error to match ErrUnavailable")
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Cause != cause {
		t.Error("expected cause to be preserved")
	}
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"invalid request", InvalidRequest("start", "start must be >= 0"), http.StatusBadRequest},
		{"not found", NotFound("task", "123"), http.StatusNotFound},
		{"not stoppable", NotStoppable("123", "stopped"), http.StatusConflict},
		{"rate limited", RateLimited(time.Second), http.StatusTooManyRequests},
		{"unavailable", Unavailable("redis", fmt.Errorf("down")), http.StatusServiceUnavailable},
		{"internal", Internal("op", fmt.Errorf("fail")), http.StatusInternalServerError},
		{"wrapped not found", fmt.Errorf("lookup: %w", NotFound("task", "x")), http.StatusNotFound},
		{"unknown error", fmt.Errorf("unknown"), http.StatusInternalServerError},
		{"nil error", nil, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := HTTPStatus(tt.err); got != tt.expected {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestErrorsIsWithWrapping(t *testing.T) {
	t.Parallel()
	original := Unavailable("redis", fmt.Errorf("timeout"))
	wrapped := fmt.Errorf("results.append: %w", original)
	doubleWrapped := fmt.Errorf("handler: %w", wrapped)

	if !errors.Is(doubleWrapped, ErrUnavailable) {
		t.Error("expected errors.Is to find ErrUnavailable through multiple wraps")
	}
}
