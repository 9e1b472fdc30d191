// Package metrics provides metrics recording for pipeline and dependency operations.
package metrics

import (
	"time"

	"taskpilot/pkg/resilience/circuit"
)

// Outcome labels shared by dependency calls.
const (
	OutcomeSuccess     = "success"
	OutcomeError       = "error"
	OutcomeCircuitOpen = "circuit_open"
)

// Recorder defines the interface for recording pipeline metrics.
type Recorder interface {
	// ObserveCall records one logical call to a dependency, retries included.
	ObserveCall(dependency, operation, outcome string, duration time.Duration)

	// IncRetry counts a retry attempt against a dependency.
	IncRetry(dependency string)

	// SetBreakerState publishes the current breaker state for a dependency.
	SetBreakerState(dependency string, state circuit.State)

	// ObserveOrchestration records one handled message.
	ObserveOrchestration(intent, outcome string, duration time.Duration)

	// IncClassification counts a classification by intent and source (rules or generator).
	IncClassification(intent, source string)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

// ObserveCall does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveCall(_, _, _ string, _ time.Duration) {}

// IncRetry does nothing in the no-op recorder.
func (n *NoopRecorder) IncRetry(_ string) {}

// SetBreakerState does nothing in the no-op recorder.
func (n *NoopRecorder) SetBreakerState(_ string, _ circuit.State) {}

// ObserveOrchestration does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveOrchestration(_, _ string, _ time.Duration) {}

// IncClassification does nothing in the no-op recorder.
func (n *NoopRecorder) IncClassification(_, _ string) {}
