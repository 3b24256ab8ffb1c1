// Package herr defines the error taxonomy shared by every Hydrogen
// component. A Kind maps to exactly one HTTP status; callers that need the
// status (internal/api) never re-derive it from the error text.
package herr

import (
	"errors"
	"fmt"
)

// Kind is one of the machine-readable error categories of spec.md §7.
type Kind int

const (
	Internal Kind = iota
	InvalidInput
	Unauthorized
	Forbidden
	NotFound
	Conflict
	TooManyRequests
	Timeout
	Unavailable
)

// HTTPStatus returns the status code this Kind maps to.
func (k Kind) HTTPStatus() int {
	switch k {
	case InvalidInput:
		return 400
	case Unauthorized:
		return 401
	case Forbidden:
		return 403
	case NotFound:
		return 404
	case Conflict:
		return 409
	case TooManyRequests:
		return 429
	case Timeout:
		return 408
	case Unavailable:
		return 503
	default:
		return 500
	}
}

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case Unauthorized:
		return "unauthorized"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case TooManyRequests:
		return "too_many_requests"
	case Timeout:
		return "timeout"
	case Unavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Error is the concrete error type every component returns for a taxonomy
// failure. RetryAfter is only meaningful for TooManyRequests (seconds).
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter int
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a taxonomy error with no retry-after.
func New(k Kind, msg string) *Error {
	return &Error{Kind: k, Message: msg}
}

// Newf builds a taxonomy error with a formatted message.
func Newf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a taxonomy error that preserves an underlying cause for %w-style
// unwrapping while still carrying a Kind for the API layer to map.
func Wrap(k Kind, msg string, cause error) *Error {
	return &Error{Kind: k, Message: msg, cause: cause}
}

// RateLimited builds the TooManyRequests error with its retry_after payload
// (spec.md §4.6 rate-limit semantics: always 900 seconds).
func RateLimited(retryAfterSeconds int) *Error {
	return &Error{
		Kind:       TooManyRequests,
		Message:    "too many requests",
		RetryAfter: retryAfterSeconds,
	}
}

// KindOf extracts the Kind from err, defaulting to Internal when err is not
// (or does not wrap) a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
