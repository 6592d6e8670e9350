// Package errors defines the typed error taxonomy used across the memory
// engine. Callers branch on the error type, never on message text.
package errors

import (
	"errors"
	"fmt"
)

// ErrorType defines different categories of errors
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "VALIDATION"
	ErrorTypeNotFound       ErrorType = "NOT_FOUND"
	ErrorTypeAccessDenied   ErrorType = "ACCESS_DENIED"
	ErrorTypeSecurityPolicy ErrorType = "SECURITY_POLICY_VIOLATION"
	ErrorTypeQuotaExceeded  ErrorType = "QUOTA_EXCEEDED"
	ErrorTypeTimeout        ErrorType = "TIMEOUT"
	ErrorTypeUnavailable    ErrorType = "UNAVAILABLE"
	ErrorTypeInternal       ErrorType = "INTERNAL"
)

// AppError is the custom error type for the application.
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewValidation creates a validation error.
func NewValidation(message string) error {
	return &AppError{Type: ErrorTypeValidation, Message: message}
}

// NewNotFound creates a not found error.
func NewNotFound(message string) error {
	return &AppError{Type: ErrorTypeNotFound, Message: message}
}

// NewAccessDenied creates an access denied error. At the HTTP edge this is
// rendered as not-found so record existence never leaks across tenants.
func NewAccessDenied(message string) error {
	return &AppError{Type: ErrorTypeAccessDenied, Message: message}
}

// NewSecurityPolicyViolation creates a classification-policy error.
func NewSecurityPolicyViolation(message string) error {
	return &AppError{Type: ErrorTypeSecurityPolicy, Message: message}
}

// NewQuotaExceeded creates a quota error.
func NewQuotaExceeded(message string) error {
	return &AppError{Type: ErrorTypeQuotaExceeded, Message: message}
}

// NewTimeout creates a timeout error.
func NewTimeout(message string, err error) error {
	return &AppError{Type: ErrorTypeTimeout, Message: message, Err: err}
}

// NewUnavailable creates an error for an unreachable dependency, including a
// provider whose circuit breaker is open.
func NewUnavailable(message string, err error) error {
	return &AppError{Type: ErrorTypeUnavailable, Message: message, Err: err}
}

// NewInternal creates an internal error.
func NewInternal(message string, err error) error {
	return &AppError{Type: ErrorTypeInternal, Message: message, Err: err}
}

// Wrap wraps an error with additional context, preserving the type of an
// existing AppError.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Type:    appErr.Type,
			Message: fmt.Sprintf("%s: %s", message, appErr.Message),
			Err:     appErr.Err,
		}
	}
	return &AppError{Type: ErrorTypeInternal, Message: message, Err: err}
}

// TypeOf returns the error type, or ErrorTypeInternal for foreign errors.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

func is(err error, t ErrorType) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == t
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool { return is(err, ErrorTypeValidation) }

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool { return is(err, ErrorTypeNotFound) }

// IsAccessDenied checks if an error is an access denied error.
func IsAccessDenied(err error) bool { return is(err, ErrorTypeAccessDenied) }

// IsSecurityPolicyViolation checks if an error is a policy violation.
func IsSecurityPolicyViolation(err error) bool { return is(err, ErrorTypeSecurityPolicy) }

// IsQuotaExceeded checks if an error is a quota error.
func IsQuotaExceeded(err error) bool { return is(err, ErrorTypeQuotaExceeded) }

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool { return is(err, ErrorTypeTimeout) }

// IsUnavailable checks if an error is an unavailable error.
func IsUnavailable(err error) bool { return is(err, ErrorTypeUnavailable) }

// IsInternal checks if an error is an internal error.
func IsInternal(err error) bool { return is(err, ErrorTypeInternal) }
