// Package apperror defines the machine-readable error taxonomy surfaced by
// the HTTP layer. Domain packages return sentinel errors; handlers translate
// them into *Error values carrying a stable kind, and the Fiber error handler
// renders them as JSON.
package apperror

import (
	"fmt"
	"net/http"
	"time"
)

// Kind is the stable machine-readable error class included in every error response.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindConflict     Kind = "conflict"
	KindUnauthorized Kind = "unauthorized"
	KindNotFound     Kind = "not_found"
	KindExpired      Kind = "expired"
	KindRateLimited  Kind = "rate_limited"
	KindUnavailable  Kind = "unavailable"
	KindInternal     Kind = "internal"
)

// Error is a client-facing error with a taxonomy kind and optional retry hint.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// Status maps the error kind to its HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindExpired:
		return http.StatusGone
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error that keeps the underlying cause for logging while the
// client only ever sees the message.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// RateLimited builds the standard quota-exhausted rejection.
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimited,
		Message:    "too many requests",
		RetryAfter: retryAfter,
	}
}

// Internal builds the generic should-never-happen error. The cause is logged
// by the error handler; the message never leaks internal state.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "unable to complete registration", cause: cause}
}
