// Package errors provides structured error handling for the control API:
// typed errors with HTTP status mapping, JSON response shaping, and a
// bridge from the domain sentinels the engine returns.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/mikeisflux/streamlick-sub000/internal/domain"
)

// ErrorType categorizes an error for metrics and response formatting.
type ErrorType string

const (
	// TypeValidation indicates invalid input (HTTP 400)
	TypeValidation ErrorType = "validation"
	// TypeNotFound indicates an unknown resource (HTTP 404)
	TypeNotFound ErrorType = "not_found"
	// TypeConflict indicates an operation rejected by current state (HTTP 409)
	TypeConflict ErrorType = "conflict"
	// TypeInternal indicates a server-side error (HTTP 500)
	TypeInternal ErrorType = "internal"
	// TypeExternal indicates an upstream failure, such as an asset fetch
	// or a publish endpoint (HTTP 502)
	TypeExternal ErrorType = "external"
)

// Error is a typed error with a client-safe message and context fields.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error type to a response status code.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeNotFound:
		return http.StatusNotFound
	case TypeConflict:
		return http.StatusConflict
	case TypeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ValidationError creates a new validation error (HTTP 400).
func ValidationError(message string) *Error {
	return &Error{Type: TypeValidation, Message: message, Context: make(map[string]any)}
}

// NotFoundError creates a new not-found error (HTTP 404).
func NotFoundError(message string) *Error {
	return &Error{Type: TypeNotFound, Message: message, Context: make(map[string]any)}
}

// ConflictError creates a new conflict error (HTTP 409).
func ConflictError(message string) *Error {
	return &Error{Type: TypeConflict, Message: message, Context: make(map[string]any)}
}

// InternalError creates a new internal error (HTTP 500).
func InternalError(message string, cause error) *Error {
	return &Error{Type: TypeInternal, Message: message, Cause: cause, Context: make(map[string]any)}
}

// ExternalError creates a new upstream error (HTTP 502).
func ExternalError(message string, cause error) *Error {
	return &Error{Type: TypeExternal, Message: message, Cause: cause, Context: make(map[string]any)}
}

// WithContext adds a context field to the error (chainable).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithField is an alias for WithContext (chainable).
func (e *Error) WithField(key string, value any) *Error {
	return e.WithContext(key, value)
}

// ErrorResponse is the JSON structure sent to clients.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

// ToResponse converts an Error to its JSON form.
func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{Error: e.Message, Type: e.Type, Context: e.Context}
}

// FromDomain translates the engine's sentinel errors into typed errors so
// handlers can bubble them up unchanged. Unknown errors become internal.
func FromDomain(err error) *Error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrUnknownConnection):
		return NotFoundError("unknown connection")
	case errors.Is(err, domain.ErrAssetNotFound):
		return NotFoundError("asset not found")
	case errors.Is(err, domain.ErrAlreadyPublishing):
		return ConflictError("already publishing")
	case errors.Is(err, domain.ErrClipActive):
		return ConflictError("a fullscreen clip is already playing")
	case errors.Is(err, domain.ErrNotRunning):
		return ConflictError("engine is not running")
	case errors.Is(err, domain.ErrClosed):
		return ConflictError("engine is closed")
	case errors.Is(err, domain.ErrNoBackupAvailable):
		return ConflictError("no backup connection available")
	case errors.Is(err, domain.ErrPrimaryReadyTimeout):
		return ExternalError("primary connection not ready before timeout", err)
	case errors.Is(err, domain.ErrAssetDecode):
		return ExternalError("asset could not be decoded", err)
	default:
		return InternalError("internal server error", err)
	}
}

// AsStructuredError converts any error into a typed Error. Domain
// sentinels map through FromDomain; an existing *Error passes through.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}

	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}

	return FromDomain(err)
}
