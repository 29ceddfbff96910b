// Package errors defines the error taxonomy shared by every layer.
//
// Errors carry a Kind that maps directly onto the wire-level error kinds
// and the HTTP status codes the transport layer emits. Lower layers create
// or wrap errors; only the transport layer turns them into responses.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Kind categorizes an error for callers and for the transport layer.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindAuthRequired Kind = "auth_required"
	KindForbidden    Kind = "auth_forbidden"
	KindNotFound     Kind = "not_found"
	KindUnavailable  Kind = "backend_unavailable"
	KindPartial      Kind = "partial_success"
	KindRateLimited  Kind = "rate_limited"
	KindConflict     Kind = "conflict"
	KindInternal     Kind = "internal"
)

// AppError is the error type used across the application.
type AppError struct {
	Kind       Kind
	Message    string
	Details    map[string]any
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is and errors.As to work.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail attaches a structured, non-sensitive detail field.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates an error of an explicit kind.
func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

// NewValidation creates a validation error.
func NewValidation(message string) *AppError {
	return &AppError{Kind: KindValidation, Message: message}
}

// NewValidationf creates a validation error with a formatted message.
func NewValidationf(format string, args ...any) *AppError {
	return &AppError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NewAuthRequired creates an error for requests lacking credentials.
func NewAuthRequired(message string) *AppError {
	return &AppError{Kind: KindAuthRequired, Message: message}
}

// NewForbidden creates an error for authenticated but unauthorized requests.
func NewForbidden(message string) *AppError {
	return &AppError{Kind: KindForbidden, Message: message}
}

// NewNotFound creates a not found error.
func NewNotFound(message string) *AppError {
	return &AppError{Kind: KindNotFound, Message: message}
}

// NewUnavailable marks a backend as unreachable or timed out.
func NewUnavailable(backend string, err error) *AppError {
	e := &AppError{Kind: KindUnavailable, Message: backend + " backend unavailable", Err: err}
	return e.WithDetail("backend", backend)
}

// NewPartial reports an operation that succeeded on some backends only.
func NewPartial(message string) *AppError {
	return &AppError{Kind: KindPartial, Message: message}
}

// NewRateLimited creates a rate limit error with a retry hint.
func NewRateLimited(message string, retryAfter time.Duration) *AppError {
	return &AppError{Kind: KindRateLimited, Message: message, RetryAfter: retryAfter}
}

// NewConflict creates a conflict error (lock contention, concurrent writes).
func NewConflict(message string) *AppError {
	return &AppError{Kind: KindConflict, Message: message}
}

// NewInternal creates an internal error wrapping its cause.
func NewInternal(message string, err error) *AppError {
	return &AppError{Kind: KindInternal, Message: message, Err: err}
}

// Wrap adds context to an error, preserving its kind and details.
// Wrapping nil returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Kind:       appErr.Kind,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			Details:    appErr.Details,
			RetryAfter: appErr.RetryAfter,
			Err:        appErr.Err,
		}
	}
	return &AppError{Kind: KindInternal, Message: message, Err: err}
}

// KindOf reports the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func is(err error, kind Kind) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Kind == kind
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool { return is(err, KindValidation) }

// IsAuthRequired checks if an error is an authentication error.
func IsAuthRequired(err error) bool { return is(err, KindAuthRequired) }

// IsForbidden checks if an error is an authorization error.
func IsForbidden(err error) bool { return is(err, KindForbidden) }

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool { return is(err, KindNotFound) }

// IsUnavailable checks if an error is a backend availability error.
func IsUnavailable(err error) bool { return is(err, KindUnavailable) }

// IsPartial checks if an error reports partial success.
func IsPartial(err error) bool { return is(err, KindPartial) }

// IsRateLimited checks if an error is a rate limit error.
func IsRateLimited(err error) bool { return is(err, KindRateLimited) }

// IsConflict checks if an error is a conflict error.
func IsConflict(err error) bool { return is(err, KindConflict) }

// IsInternal checks if an error is an internal error.
func IsInternal(err error) bool { return is(err, KindInternal) }
