// Package errors provides coded application errors shared across the service.
// Handlers map codes to HTTP statuses; services attach codes at the point the
// failure is classified so callers never string-match messages.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrCode classifies an application error.
type ErrCode string

const (
	ErrCodeInvalidInput      ErrCode = "INVALID_INPUT"
	ErrCodeNotFound          ErrCode = "NOT_FOUND"
	ErrCodeUnauthorized      ErrCode = "UNAUTHORIZED"
	ErrCodeConflict          ErrCode = "CONFLICT"
	ErrCodeInvalidTransition ErrCode = "INVALID_TRANSITION"
	ErrCodeValidationFailed  ErrCode = "VALIDATION_FAILED"
	ErrCodeUnavailable       ErrCode = "UNAVAILABLE"
	ErrCodeInternal          ErrCode = "INTERNAL"
)

// Error is a coded application error, optionally wrapping a cause.
type Error struct {
	Code    ErrCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error.
func New(code ErrCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code ErrCode, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound creates a NOT_FOUND error for a resource.
func NotFound(resource, id string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s '%s' not found", resource, id)}
}

// InvalidInput creates an INVALID_INPUT error for a named field.
func InvalidInput(field, message string) *Error {
	return &Error{Code: ErrCodeInvalidInput, Message: fmt.Sprintf("%s: %s", field, message)}
}

// Unavailable creates an UNAVAILABLE error for a collaborator call that
// timed out or could not be reached.
func Unavailable(dependency string, err error) *Error {
	return &Error{Code: ErrCodeUnavailable, Message: fmt.Sprintf("%s unavailable", dependency), Err: err}
}

// Code extracts the ErrCode from err, or ErrCodeInternal for uncoded errors.
func Code(err error) ErrCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// HTTPStatus maps an error code to an HTTP status.
func HTTPStatus(err error) int {
	switch Code(err) {
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusForbidden
	case ErrCodeConflict, ErrCodeInvalidTransition:
		return http.StatusConflict
	case ErrCodeValidationFailed:
		return http.StatusUnprocessableEntity
	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Is reports whether err carries the given code.
func Is(err error, code ErrCode) bool { return Code(err) == code }
