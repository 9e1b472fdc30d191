package generator

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of generator errors for retry logic.
type ErrorType int8

const (
	// ErrorTypeRateLimit represents rate limiting errors (429, quota exceeded).
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient represents transient errors (5xx, EOF, connection reset, timeout).
	ErrorTypeTransient
	// ErrorTypeEmptyResponse represents HTTP 200 but no content errors.
	ErrorTypeEmptyResponse
	// ErrorTypeAuth represents authentication errors (401/403, bad API key).
	ErrorTypeAuth
	// ErrorTypeBadPrompt represents malformed request errors.
	ErrorTypeBadPrompt
	// ErrorTypeUnknown represents default for unclassified errors.
	ErrorTypeUnknown
)

// String returns the string representation of the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Error represents a classified generator error.
type Error struct {
	Err        error
	Message    string
	Type       ErrorType
	StatusCode int
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("generator error (%s): %s", e.Type, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("generator error (%s): %v", e.Type, e.Err)
	}
	return fmt.Sprintf("generator error (%s): status %d", e.Type, e.StatusCode)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying may help. Auth and prompt errors will fail again.
func (e *Error) Transient() bool {
	switch e.Type {
	case ErrorTypeAuth, ErrorTypeBadPrompt:
		return false
	default:
		return true
	}
}

// NewError creates a new classified error.
func NewError(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// NewErrorWithCause creates a new classified error wrapping another error.
func NewErrorWithCause(errorType ErrorType, cause error, message string) *Error {
	return &Error{Type: errorType, Err: cause, Message: message}
}

// TypeOf returns the error type of an error, or ErrorTypeUnknown if not classified.
func TypeOf(err error) ErrorType {
	var genErr *Error
	if errors.As(err, &genErr) {
		return genErr.Type
	}
	return ErrorTypeUnknown
}

// ClassifyStatus maps an HTTP status code reported by a provider SDK onto an error.
func ClassifyStatus(statusCode int, cause error) *Error {
	switch {
	case statusCode == 401 || statusCode == 403:
		return &Error{Type: ErrorTypeAuth, StatusCode: statusCode, Err: cause, Message: "authentication failed - check API key"}
	case statusCode == 429:
		return &Error{Type: ErrorTypeRateLimit, StatusCode: statusCode, Err: cause, Message: "rate limit exceeded"}
	case statusCode == 400 || statusCode == 404 || statusCode == 422:
		return &Error{Type: ErrorTypeBadPrompt, StatusCode: statusCode, Err: cause, Message: "request rejected"}
	case statusCode >= 500:
		return &Error{Type: ErrorTypeTransient, StatusCode: statusCode, Err: cause, Message: "server error"}
	default:
		return ClassifyMessage(cause)
	}
}

// ClassifyMessage classifies an error without a status code from its text.
func ClassifyMessage(err error) *Error {
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "eof") ||
		strings.Contains(errStr, "reset"):
		return NewErrorWithCause(ErrorTypeTransient, err, "network or connection error")
	case strings.Contains(errStr, "rate") || strings.Contains(errStr, "quota"):
		return NewErrorWithCause(ErrorTypeRateLimit, err, "rate limiting detected")
	case strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "api key"):
		return NewErrorWithCause(ErrorTypeAuth, err, "authentication error")
	case strings.Contains(errStr, "not found") || strings.Contains(errStr, "invalid"):
		return NewErrorWithCause(ErrorTypeBadPrompt, err, "request error")
	default:
		return NewErrorWithCause(ErrorTypeUnknown, err, "unclassified error")
	}
}
