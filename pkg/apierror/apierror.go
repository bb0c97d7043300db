package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeBadRequest      = "BAD_REQUEST"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeInvalidToken    = "INVALID_TOKEN"
	CodeForbidden       = "FORBIDDEN"
	CodeTooManyRequests = "RATE_LIMITED"
	CodeInternal        = "INTERNAL_ERROR"
)

// FieldError names a single input field that failed validation.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

type APIError struct {
	Code       string       `json:"code"`
	Message    string       `json:"message"`
	Details    string       `json:"details,omitempty"`
	Fields     []FieldError `json:"fields,omitempty"`
	HTTPStatus int          `json:"-"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}

	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func New(code string, message string, details string, status int) *APIError {
	return &APIError{Code: code, Message: message, Details: details, HTTPStatus: status}
}

func BadRequest(message string, fields ...FieldError) *APIError {
	err := New(CodeBadRequest, message, "", http.StatusBadRequest)
	if len(fields) > 0 {
		err.Fields = fields
	}
	return err
}

func NotFound(message string) *APIError {
	return New(CodeNotFound, message, "", http.StatusNotFound)
}

func Unauthorized(message string) *APIError {
	return New(CodeUnauthorized, message, "", http.StatusUnauthorized)
}

// InvalidToken reports a structurally missing token, as opposed to one that
// was presented and rejected.
func InvalidToken(message string) *APIError {
	return New(CodeInvalidToken, message, "", http.StatusUnauthorized)
}

func TooManyRequests(message string) *APIError {
	return New(CodeTooManyRequests, message, "", http.StatusTooManyRequests)
}

// Is reports whether err carries an APIError with the given code.
func Is(err error, code string) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == code
}
