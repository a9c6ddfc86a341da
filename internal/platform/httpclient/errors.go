package httpclient

import (
	"errors"
	"fmt"
)

// Category is the normalized failure taxonomy for backend calls.
type Category string

const (
	// CategoryTransport indicates the request never produced a response
	CategoryTransport Category = "transport"

	// CategoryTimeout indicates the backend took too long to respond
	CategoryTimeout Category = "timeout"

	// CategoryRejected indicates the backend refused the request (4xx)
	CategoryRejected Category = "rejected"

	// CategoryUnavailable indicates a 5xx response or an open circuit
	CategoryUnavailable Category = "unavailable"

	// CategoryMalformed indicates the backend returned a body we could not interpret
	CategoryMalformed Category = "malformed"

	// CategoryInternal indicates an unexpected client-side error
	CategoryInternal Category = "internal"
)

// Error wraps backend failures with normalized categorization.
type Error struct {
	Category   Category
	Endpoint   string
	Status     int // zero when no response was received
	Message    string
	Underlying error
	Retryable  bool
}

func (e *Error) Error() string {
	prefix := fmt.Sprintf("%s [%s]", e.Endpoint, e.Category)
	if e.Status != 0 {
		prefix = fmt.Sprintf("%s (status %d)", prefix, e.Status)
	}
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// NewError creates a categorized backend error.
func NewError(category Category, endpoint, message string, underlying error) *Error {
	retryable := category == CategoryTimeout ||
		category == CategoryTransport ||
		category == CategoryUnavailable

	return &Error{
		Category:   category,
		Endpoint:   endpoint,
		Message:    message,
		Underlying: underlying,
		Retryable:  retryable,
	}
}

// StatusError creates the error for a non-2xx response.
func StatusError(endpoint string, status int, detail string) *Error {
	category := CategoryRejected
	if status >= 500 {
		category = CategoryUnavailable
	}
	if detail == "" {
		detail = "unexpected status"
	}
	e := NewError(category, endpoint, detail, nil)
	e.Status = status
	return e
}

// IsRetryable checks if an error is worth retrying by the caller.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetCategory extracts the category from an error. Errors that did not come from a
// backend call are CategoryInternal; nil has no category.
func GetCategory(err error) Category {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return CategoryInternal
}

// HasCategory reports whether err carries the given category.
func HasCategory(err error, category Category) bool {
	return err != nil && GetCategory(err) == category
}
