package authority

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorCategory is the normalized failure taxonomy of authority calls.
type ErrorCategory string

const (
	// ErrorTimeout indicates the authority took too long to respond
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorTransport indicates the connection could not be established or broke
	ErrorTransport ErrorCategory = "transport"

	// ErrorCanceled indicates the caller gave up
	ErrorCanceled ErrorCategory = "canceled"

	// ErrorRejected indicates the authority refused the request (HTTP 4xx)
	ErrorRejected ErrorCategory = "rejected"

	// ErrorNotFound indicates the authority does not know the certification
	ErrorNotFound ErrorCategory = "not_found"

	// ErrorRateLimited indicates too many requests
	ErrorRateLimited ErrorCategory = "rate_limited"

	// ErrorOutage indicates the authority is failing (HTTP 5xx)
	ErrorOutage ErrorCategory = "outage"

	// ErrorBadData indicates the authority returned a body we cannot read
	ErrorBadData ErrorCategory = "bad_data"

	// ErrorCircuitOpen indicates calls are suspended after repeated failures
	ErrorCircuitOpen ErrorCategory = "circuit_open"
)

// Error wraps an authority failure with a normalized category. Messages holds
// the authority's own error list when it sent one.
type Error struct {
	Category   ErrorCategory
	Operation  string
	StatusCode int
	Messages   []string
	Underlying error
	Retryable  bool
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "authority %s [%s]", e.Operation, e.Category)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " status %d", e.StatusCode)
	}
	if len(e.Messages) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Messages, "; "))
	}
	if e.Underlying != nil {
		fmt.Fprintf(&b, ": %v", e.Underlying)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// NewError creates a normalized authority error.
func NewError(category ErrorCategory, operation string, statusCode int, messages []string, underlying error) *Error {
	retryable := category == ErrorTimeout ||
		category == ErrorTransport ||
		category == ErrorOutage ||
		category == ErrorRateLimited ||
		category == ErrorCircuitOpen

	return &Error{
		Category:   category,
		Operation:  operation,
		StatusCode: statusCode,
		Messages:   messages,
		Underlying: underlying,
		Retryable:  retryable,
	}
}

// IsRetryable reports whether a later retry may succeed.
func IsRetryable(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// CategoryOf extracts the category, defaulting to transport for foreign errors.
func CategoryOf(err error) ErrorCategory {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Category
	}
	return ErrorTransport
}

// MessagesOf returns the authority's message list, if any.
func MessagesOf(err error) []string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Messages
	}
	return nil
}

func classifyTransport(ctx context.Context, operation string, err error) *Error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return NewError(ErrorCanceled, operation, 0, nil, err)
	case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
		return NewError(ErrorTimeout, operation, 0, nil, err)
	default:
		return NewError(ErrorTransport, operation, 0, nil, err)
	}
}

type timeout interface{ Timeout() bool }

func isTimeout(err error) bool {
	var t timeout
	return errors.As(err, &t) && t.Timeout()
}

func classifyStatus(operation string, status int, messages []string) *Error {
	switch {
	case status == 404:
		return NewError(ErrorNotFound, operation, status, messages, nil)
	case status == 429:
		return NewError(ErrorRateLimited, operation, status, messages, nil)
	case status >= 500:
		return NewError(ErrorOutage, operation, status, messages, nil)
	default:
		return NewError(ErrorRejected, operation, status, messages, nil)
	}
}
