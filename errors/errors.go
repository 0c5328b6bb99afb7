// Package errors provides the picker's coded error type.
package errors

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	CodeInternal     = "INTERNAL_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodeBadRequest   = "BAD_REQUEST"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeConflict     = "CONFLICT"
	CodeValidation   = "VALIDATION_ERROR"
	CodeUnavailable  = "SERVICE_UNAVAILABLE"
	CodeRateLimited  = "RATE_LIMITED"

	// Picker codes. None of these is fatal: the selection is left as it was.
	CodeGeocodeNotFound      = "GEOCODE_NOT_FOUND"
	CodeGeocodeUnavailable   = "GEOCODE_UNAVAILABLE"
	CodeClipboardWriteFailed = "CLIPBOARD_WRITE_FAILED"
)

// Sentinels for errors.Is; matching is by code.
var (
	ErrGeocodeNotFound      = New(CodeGeocodeNotFound, "no location found for address")
	ErrGeocodeUnavailable   = New(CodeGeocodeUnavailable, "address lookup is unavailable")
	ErrClipboardWriteFailed = New(CodeClipboardWriteFailed, "could not copy link")
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches another error.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetails adds details to the error.
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// Wrap wraps an error with an AppError.
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// New creates a new AppError.
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Internal creates an internal server error.
func Internal(message string) *AppError {
	return New(CodeInternal, message)
}

// NotFound creates a not found error.
func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

// BadRequest creates a bad request error.
func BadRequest(message string) *AppError {
	return New(CodeBadRequest, message)
}

// Validation creates a validation error.
func Validation(message string) *AppError {
	return New(CodeValidation, message)
}

// ValidationWithDetails creates a validation error with field details.
func ValidationWithDetails(message string, details map[string]string) *AppError {
	return New(CodeValidation, message).WithDetails(details)
}

// Unauthorized creates an unauthorized error.
func Unauthorized(message string) *AppError {
	if message == "" {
		message = "Authentication required"
	}
	return New(CodeUnauthorized, message)
}

// Forbidden creates a forbidden error.
func Forbidden(message string) *AppError {
	if message == "" {
		message = "Access denied"
	}
	return New(CodeForbidden, message)
}

// Conflict creates a conflict error.
func Conflict(message string) *AppError {
	return New(CodeConflict, message)
}

// Unavailable creates a service unavailable error.
func Unavailable(message string) *AppError {
	return New(CodeUnavailable, message)
}

// RateLimited creates a rate limited error.
func RateLimited(message string) *AppError {
	return New(CodeRateLimited, message)
}

// GeocodeNotFound wraps a lookup that matched nothing.
func GeocodeNotFound(err error) *AppError {
	return Wrap(err, CodeGeocodeNotFound, ErrGeocodeNotFound.Message)
}

// GeocodeUnavailable wraps a lookup that failed upstream.
func GeocodeUnavailable(err error) *AppError {
	return Wrap(err, CodeGeocodeUnavailable, ErrGeocodeUnavailable.Message)
}

// ClipboardWriteFailed wraps a failed clipboard write.
func ClipboardWriteFailed(err error) *AppError {
	return Wrap(err, CodeClipboardWriteFailed, ErrClipboardWriteFailed.Message)
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return Code(err) == CodeNotFound
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return Code(err) == CodeValidation
}

// IsGeocodeFailure reports whether err is either geocode error kind.
func IsGeocodeFailure(err error) bool {
	code := Code(err)
	return code == CodeGeocodeNotFound || code == CodeGeocodeUnavailable
}

// Code returns the error code or empty string.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
