// Package apperror provides domain-specific error types for TARMS.
// These errors carry an HTTP status code and a user-safe message. The Echo
// error handler maps them to JSON responses automatically.
//
// NEVER return raw database, Redis or filesystem errors to the client. Always
// wrap them in an apperror type or return a generic internal error.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// AppError is the base error type for all domain errors. It carries an
// HTTP status code, a machine-readable error type, and a human-readable
// message safe to show to the client.
type AppError struct {
	// Code is the HTTP status code (e.g., 404, 422, 500).
	Code int `json:"-"`

	// Type is a machine-readable error classifier (e.g., "not_found").
	Type string `json:"type"`

	// Message is a human-readable description safe for the client.
	Message string `json:"message"`

	// Violations lists every field-level problem for validation errors, in
	// the order they were detected. Message is always the first one.
	Violations []string `json:"violations,omitempty"`

	// Internal holds the underlying error for logging. Never exposed to client.
	Internal error `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (internal: %v)", e.Type, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AppError) Unwrap() error {
	return e.Internal
}

// Error type identifiers.
const (
	TypeValidation   = "validation_error"
	TypeUnauthorized = "unauthorized"
	TypeForbidden    = "forbidden"
	TypeNotFound     = "not_found"
	TypeCSRFMismatch = "csrf_mismatch"
	TypeStorage      = "storage_error"
	TypeInternal     = "internal_error"
	TypeBadRequest   = "bad_request"
	TypeConflict     = "conflict"
	TypeRateLimited  = "rate_limited"
)

// --- Constructors for common error types ---

// NewNotFound creates a 404 Not Found error.
func NewNotFound(message string) *AppError {
	return &AppError{
		Code:    http.StatusNotFound,
		Type:    TypeNotFound,
		Message: message,
	}
}

// NewBadRequest creates a 400 Bad Request error.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:    http.StatusBadRequest,
		Type:    TypeBadRequest,
		Message: message,
	}
}

// NewUnauthorized creates a 401 Unauthorized error.
func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:    http.StatusUnauthorized,
		Type:    TypeUnauthorized,
		Message: message,
	}
}

// NewForbidden creates a 403 Forbidden error.
func NewForbidden(message string) *AppError {
	return &AppError{
		Code:    http.StatusForbidden,
		Type:    TypeForbidden,
		Message: message,
	}
}

// NewConflict creates a 409 Conflict error.
func NewConflict(message string) *AppError {
	return &AppError{
		Code:    http.StatusConflict,
		Type:    TypeConflict,
		Message: message,
	}
}

// NewTooManyRequests creates a 429 error for clients over a rate limit.
func NewTooManyRequests() *AppError {
	return &AppError{
		Code:    http.StatusTooManyRequests,
		Type:    TypeRateLimited,
		Message: "Rate limit exceeded. Please try again later.",
	}
}

// NewCSRFMismatch creates a 403 error for a missing, consumed or mismatched
// CSRF token. The message is the same for every cause.
func NewCSRFMismatch() *AppError {
	return &AppError{
		Code:    http.StatusForbidden,
		Type:    TypeCSRFMismatch,
		Message: "Security token expired. Please try again.",
	}
}

// NewValidation creates a 422 Unprocessable Entity error carrying one or more
// violations. The first violation doubles as the message.
func NewValidation(violations ...string) *AppError {
	msg := "The submitted data is invalid."
	if len(violations) > 0 {
		msg = violations[0]
	}
	return &AppError{
		Code:       http.StatusUnprocessableEntity,
		Type:       TypeValidation,
		Message:    msg,
		Violations: violations,
	}
}

// NewStorage creates a 503 error for lock contention or write failures on the
// ledger file. The client is told to retry; the cause is kept for logging.
func NewStorage(err error) *AppError {
	return &AppError{
		Code:     http.StatusServiceUnavailable,
		Type:     TypeStorage,
		Message:  "Could not save your changes right now. Please try again.",
		Internal: err,
	}
}

// NewInternal creates a 500 Internal Server Error. The real error is stored
// in Internal for logging but the client only sees a generic message.
func NewInternal(err error) *AppError {
	return &AppError{
		Code:     http.StatusInternalServerError,
		Type:     TypeInternal,
		Message:  "An unexpected error occurred. Please try again.",
		Internal: err,
	}
}

// IsType reports whether err is (or wraps) an AppError of the given type.
func IsType(err error, typ string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == typ
}

// SafeMessage returns the client-safe error message from an error. If the
// error is an AppError, returns its Message field (which is safe to expose).
// For any other error type, returns a generic message to prevent leaking
// internal details like table names, file paths, or stack traces.
func SafeMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if len(appErr.Violations) > 1 {
			return strings.Join(appErr.Violations, "; ")
		}
		return appErr.Message
	}
	return "an unexpected error occurred"
}

// SafeCode returns the HTTP status code from an AppError, or 500 for
// any other error type.
func SafeCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return http.StatusInternalServerError
}
