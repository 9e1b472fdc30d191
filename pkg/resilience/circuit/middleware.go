package circuit

import (
	"context"

	"taskpilot/pkg/resilience"
)

// Middleware wraps a handler with circuit breaker logic.
// If the circuit rejects the request, the underlying handler is never called.
func Middleware[Req, Resp any](b *Breaker) resilience.Middleware[Req, Resp] {
	return func(next resilience.Handler[Req, Resp]) resilience.Handler[Req, Resp] {
		return func(ctx context.Context, req Req) (Resp, error) {
			permit, err := b.Allow()
			if err != nil {
				var zero Resp
				return zero, err
			}

			recorded := false
			defer func() {
				// A panicking handler must not strand the half-open trial slot.
				if !recorded {
					b.Record(permit, Failure)
				}
			}()

			resp, err := next(ctx, req)
			b.Record(permit, b.Classify(err))
			recorded = true

			return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
		}
	}
}
