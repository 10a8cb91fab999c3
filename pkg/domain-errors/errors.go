// Package domainerrors carries coded errors across service boundaries.
//
// Services return *Error so transports can map a stable Code to a status
// without string matching. Infrastructure layers return sentinel errors
// (see pkg/platform/sentinel) which services translate into a Code here.
package domainerrors

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies an error for callers and transports.
type Code string

const (
	// CodeValidation covers missing or malformed fields. Fields is populated.
	CodeValidation Code = "validation"
	// CodeBadRequest covers malformed requests that never reach domain rules.
	CodeBadRequest Code = "bad_request"
	// CodeInvalidInput covers values rejected at parse time (ids, enums).
	CodeInvalidInput Code = "invalid_input"
	// CodeNotFound means the addressed record does not exist.
	CodeNotFound Code = "not_found"
	// CodeConflict means a concurrent writer won; refresh and retry.
	CodeConflict Code = "conflict"
	// CodeInvalidState means a guard rejected the operation for the current status.
	CodeInvalidState Code = "invalid_state"
	// CodeInvariantViolation means a constructor or mutator refused to break an invariant.
	CodeInvariantViolation Code = "invariant_violation"
	// CodeUnavailable means a dependency could not be reached; retry later.
	CodeUnavailable Code = "unavailable"
	// CodeTimeout means a dependency did not answer in time; retry later.
	CodeTimeout Code = "timeout"
	// CodeUpstreamRejected means the validation authority refused the request itself.
	CodeUpstreamRejected Code = "upstream_rejected"
	// CodeInternal is everything else.
	CodeInternal Code = "internal"
)

// FieldError describes one rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FieldErrors is an ordered list of field failures.
type FieldErrors []FieldError

// Add appends a failure for field.
func (f *FieldErrors) Add(field, message string) {
	*f = append(*f, FieldError{Field: field, Message: message})
}

// Has reports whether field has at least one failure.
func (f FieldErrors) Has(field string) bool {
	for _, fe := range f {
		if fe.Field == field {
			return true
		}
	}
	return false
}

func (f FieldErrors) Error() string {
	parts := make([]string, 0, len(f))
	for _, fe := range f {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return strings.Join(parts, "; ")
}

// Error is a coded domain error.
type Error struct {
	Code    Code
	Message string
	Fields  FieldErrors
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if len(e.Fields) > 0 {
		msg = msg + ": " + e.Fields.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error, keeping it unwrappable.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// NewValidation builds a CodeValidation error carrying field failures.
func NewValidation(message string, fields FieldErrors) *Error {
	return &Error{Code: CodeValidation, Message: message, Fields: fields}
}

// HasCode reports whether any *Error in err's chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// Is is an alias of HasCode kept for handler readability.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the outermost code in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// FieldsOf returns the field failures of the outermost validation error.
func FieldsOf(err error) FieldErrors {
	var de *Error
	if errors.As(err, &de) {
		return de.Fields
	}
	return nil
}
