package metrics

import (
	"context"
	"time"

	"taskpilot/pkg/resilience"
	"taskpilot/pkg/resilience/circuit"
)

// OutcomeFunc maps a call error onto an outcome label.
type OutcomeFunc func(err error) string

// DefaultOutcome labels calls success, circuit_open, or error.
func DefaultOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case circuit.IsOpen(err):
		return OutcomeCircuitOpen
	default:
		return OutcomeError
	}
}

// Middleware records latency and outcome for every call through the chain.
// Placed outermost, it observes one logical call regardless of how many attempts it took.
func Middleware[Req, Resp any](recorder Recorder, dependency string, operation func(Req) string, outcome OutcomeFunc) resilience.Middleware[Req, Resp] {
	if outcome == nil {
		outcome = DefaultOutcome
	}
	return func(next resilience.Handler[Req, Resp]) resilience.Handler[Req, Resp] {
		return func(ctx context.Context, req Req) (Resp, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			recorder.ObserveCall(dependency, operation(req), outcome(err), time.Since(start))
			return resp, err
		}
	}
}
