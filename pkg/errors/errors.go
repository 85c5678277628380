package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorType classifies failures of the chapter pipeline
type ErrorType string

const (
	ErrorTypeTransport   ErrorType = "transport"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeIntegrity   ErrorType = "integrity"
	ErrorTypeCancelled   ErrorType = "cancelled"
	ErrorTypeEnvironment ErrorType = "environment"
	ErrorTypeNoContent   ErrorType = "no_content"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Status is the HTTP-style outcome of a fetch or archive operation
type Status int

const (
	StatusOK        Status = http.StatusOK
	StatusCreated   Status = http.StatusCreated
	StatusNoContent Status = http.StatusNoContent
	StatusCancelled Status = http.StatusRequestTimeout
	StatusNotFound  Status = http.StatusNotFound
	StatusFailed    Status = http.StatusInternalServerError
)

// Success reports whether the status is in the 2xx range
func (s Status) Success() bool {
	return s >= 200 && s < 300
}

func (s Status) String() string {
	text := http.StatusText(int(s))
	if text == "" {
		return fmt.Sprintf("%d", int(s))
	}
	return fmt.Sprintf("%d %s", int(s), text)
}

// Error represents a pipeline error with type information
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error (code %d): %s: %v", e.Type, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a typed error
func New(errorType ErrorType, code int, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errorType,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
	}
}

// Wrap creates a typed error around a cause
func Wrap(err error, errorType ErrorType, code int, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Code:    code,
		Err:     err,
	}
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeTransport, ErrorTypeRateLimit, ErrorTypeValidation:
		return true
	case ErrorTypeIntegrity, ErrorTypeCancelled, ErrorTypeEnvironment, ErrorTypeNoContent, ErrorTypeNotFound:
		return false
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case http.StatusTooManyRequests:
		return true
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusGone:
		return false
	default:
		return statusCode >= 500
	}
}

// TypeOf returns the ErrorType carried by err, or ErrorTypeUnknown
func TypeOf(err error) ErrorType {
	var typed *Error
	if stderrors.As(err, &typed) {
		return typed.Type
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeCancelled
	}
	return ErrorTypeUnknown
}

// StatusFor maps an error to the status reported by the pipeline.
// A nil error is StatusOK.
func StatusFor(err error) Status {
	if err == nil {
		return StatusOK
	}

	var typed *Error
	if stderrors.As(err, &typed) {
		switch typed.Type {
		case ErrorTypeCancelled:
			return StatusCancelled
		case ErrorTypeNoContent:
			return StatusNoContent
		case ErrorTypeNotFound:
			return StatusNotFound
		case ErrorTypeIntegrity, ErrorTypeEnvironment:
			return StatusFailed
		}
		if typed.Code >= 300 {
			return Status(typed.Code)
		}
		return StatusFailed
	}

	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return StatusCancelled
	}
	return StatusFailed
}
