// Package apperror defines the domain errors shared by every layer.
//
// Services and clients return these; only the handler layer maps them to HTTP.
// Every AppError wraps one sentinel so callers can branch with errors.Is, and
// optionally the underlying cause so the original failure stays inspectable.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrValidation    = errors.New("Validation Error")
	ErrConflict      = errors.New("conflict")
	ErrForbidden     = errors.New("forbidden")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrNetwork       = errors.New("network error")
	ErrFixGeneration = errors.New("fix generation failed")
)

type AppError struct {
	Err     error  // sentinel
	Cause   error  // optional underlying failure
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized means the caller presented no usable credentials.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// Network reports a transport or service failure talking to a remote
// collaborator (execution or completion service). It is never retried
// automatically; the caller decides.
func Network(service string, cause error) *AppError {
	return &AppError{
		Err:     ErrNetwork,
		Cause:   cause,
		Message: fmt.Sprintf("%s unavailable: %v", service, cause),
	}
}

// FixGeneration reports that no usable replacement source came back from the
// completion service.
func FixGeneration(cause error) *AppError {
	return &AppError{
		Err:     ErrFixGeneration,
		Cause:   cause,
		Message: fmt.Sprintf("could not generate a fix: %v", cause),
	}
}
