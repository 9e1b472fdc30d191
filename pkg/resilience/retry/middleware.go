package retry

import (
	"context"
	"fmt"

	"taskpilot/pkg/resilience"
)

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Middleware wraps a handler with retry logic.
// Failed requests are retried according to the policy, sleeping before each retry but never after the last attempt.
func Middleware[Req, Resp any](policy *Policy) resilience.Middleware[Req, Resp] {
	return func(next resilience.Handler[Req, Resp]) resilience.Handler[Req, Resp] {
		return func(ctx context.Context, req Req) (Resp, error) {
			var zero Resp
			var lastErr error

			attempts := 0
			for retry := 0; ; retry++ {
				attempts++
				resp, err := next(ctx, req)
				if err == nil {
					return resp, nil
				}
				lastErr = err

				if !policy.ShouldRetry(err) {
					return zero, err
				}
				if retry >= policy.Config.MaxRetries {
					break
				}

				delay := policy.CalculateDelay(retry)
				if policy.OnRetry != nil {
					policy.OnRetry(retry+1, delay, err)
				}
				wait := policy.Wait
				if wait == nil {
					wait = sleep
				}
				if waitErr := wait(ctx, delay); waitErr != nil {
					return zero, fmt.Errorf("retry cancelled: %w", waitErr)
				}
			}

			return zero, &ExhaustedError{Attempts: attempts, Err: lastErr}
		}
	}
}
