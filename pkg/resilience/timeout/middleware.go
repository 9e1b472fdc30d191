// Package timeout provides per-attempt deadline middleware for downstream calls.
package timeout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskpilot/pkg/resilience"
)

// Error reports that a single attempt ran past its deadline while the caller was still waiting.
type Error struct {
	After time.Duration
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("attempt timed out after %s: %v", e.After, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Timeout marks the error for net.Error-style checks.
func (e *Error) Timeout() bool { return true }

// Transient marks the error as retryable.
func (e *Error) Transient() bool { return true }

// Middleware wraps a handler with a per-request timeout.
// Each call gets its own deadline; expiry abandons that attempt only.
func Middleware[Req, Resp any](duration time.Duration) resilience.Middleware[Req, Resp] {
	return func(next resilience.Handler[Req, Resp]) resilience.Handler[Req, Resp] {
		return func(ctx context.Context, req Req) (Resp, error) {
			if duration <= 0 {
				return next(ctx, req)
			}

			timeoutCtx, cancel := context.WithTimeout(ctx, duration)
			defer cancel()

			resp, err := next(timeoutCtx, req)
			if err != nil && ctx.Err() == nil && errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
				return resp, &Error{After: duration, Err: err}
			}
			return resp, err
		}
	}
}
