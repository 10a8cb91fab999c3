// Package httputil writes JSON responses and maps domain error codes onto HTTP
// status codes.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	dErrors "certflow/pkg/domain-errors"
)

// ErrorResponse is the body of every error answer.
type ErrorResponse struct {
	Error       string              `json:"error"`
	Description string              `json:"error_description,omitempty"`
	Fields      dErrors.FieldErrors `json:"fields,omitempty"`
	// Details carries messages relayed from the validation authority.
	Details []string `json:"details,omitempty"`
}

var statusByCode = map[dErrors.Code]int{
	dErrors.CodeValidation:         http.StatusUnprocessableEntity,
	dErrors.CodeBadRequest:         http.StatusBadRequest,
	dErrors.CodeInvalidInput:       http.StatusBadRequest,
	dErrors.CodeNotFound:           http.StatusNotFound,
	dErrors.CodeConflict:           http.StatusConflict,
	dErrors.CodeInvalidState:       http.StatusConflict,
	dErrors.CodeInvariantViolation: http.StatusUnprocessableEntity,
	dErrors.CodeUnavailable:        http.StatusServiceUnavailable,
	dErrors.CodeTimeout:            http.StatusGatewayTimeout,
	dErrors.CodeUpstreamRejected:   http.StatusBadGateway,
}

// StatusFor returns the HTTP status for code, 500 when unmapped.
func StatusFor(code dErrors.Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteJSON encodes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError answers with the status mapped from err's code. Internal errors
// never leak their message.
func WriteError(w http.ResponseWriter, err error) {
	WriteErrorWithDetails(w, err, nil)
}

// WriteErrorWithDetails is WriteError with upstream messages attached.
func WriteErrorWithDetails(w http.ResponseWriter, err error, details []string) {
	code := dErrors.CodeOf(err)
	status := StatusFor(code)
	if status == http.StatusInternalServerError {
		WriteJSON(w, status, ErrorResponse{Error: "internal_error"})
		return
	}

	resp := ErrorResponse{Error: string(code), Details: details}
	var de *dErrors.Error
	if errors.As(err, &de) {
		resp.Description = de.Message
		resp.Fields = de.Fields
	}
	WriteJSON(w, status, resp)
}

// DecodeJSON decodes a bounded request body into v, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any, maxBytes int64) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid JSON body")
	}
	return nil
}
