package taskapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"taskpilot/pkg/resilience/circuit"
)

// FailureKind tells apart the ways a Task Store call can fail.
type FailureKind string

const (
	KindNone        FailureKind = ""
	KindCircuitOpen FailureKind = "circuit_open" // Rejected locally, no network call made
	KindTransient   FailureKind = "transient"    // Timeout, connection error or 5xx after the retry budget
	KindTerminal    FailureKind = "terminal"     // 4xx, never retried
	KindCanceled    FailureKind = "canceled"     // Caller went away
)

// Error is a classified Task Store failure.
type Error struct {
	Kind       FailureKind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("task api %s error (status %d): %s", e.Kind, e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("task api %s error: %s: %v", e.Kind, e.Message, e.Err)
	default:
		return fmt.Sprintf("task api %s error: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying may succeed.
func (e *Error) Transient() bool {
	return e.Kind == KindTransient
}

// statusError classifies a non-2xx response. 4xx is terminal, everything else transient.
func statusError(code int) *Error {
	kind := KindTransient
	if code >= 400 && code < 500 {
		kind = KindTerminal
	}
	return &Error{Kind: kind, StatusCode: code, Message: http.StatusText(code)}
}

// kindOf maps any error out of the call chain onto a failure kind.
func kindOf(err error) FailureKind {
	if err == nil {
		return KindNone
	}
	if circuit.IsOpen(err) {
		return KindCircuitOpen
	}
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Kind != KindNone {
		return apiErr.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	return KindTransient
}

func statusCodeOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
