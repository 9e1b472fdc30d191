// Package generator defines the pluggable text generation capability used for assisted classification.
package generator

import (
	"context"
	"time"

	"taskpilot/pkg/metrics"
	"taskpilot/pkg/resilience"
	"taskpilot/pkg/resilience/circuit"
	"taskpilot/pkg/resilience/retry"
	"taskpilot/pkg/resilience/timeout"
)

// Dependency is the breaker key for text generation.
const Dependency = "text_generator"

// Request is a single-turn generation request.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float32
}

// TextGenerator produces text from a prompt.
type TextGenerator interface {
	Generate(ctx context.Context, req Request) (string, error)
	// Name identifies the provider and model, e.g. "anthropic/claude-3-5-haiku-latest".
	Name() string
}

// GuardOptions configures the resilience chain around a generator.
type GuardOptions struct {
	Timeout  time.Duration
	Retry    retry.Config
	Recorder metrics.Recorder
}

type guarded struct {
	name    string
	handler resilience.Handler[Request, string]
}

// Guard wraps gen with metrics, retry, circuit breaker and per-attempt timeout,
// using the text_generator breaker from breakers.
func Guard(gen TextGenerator, breakers *circuit.Registry, opts GuardOptions) TextGenerator {
	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.Nop()
	}
	policy := retry.NewPolicy(opts.Retry, nil)
	policy.OnRetry = func(int, time.Duration, error) { recorder.IncRetry(Dependency) }

	handler := resilience.Chain(
		gen.Generate,
		metrics.Middleware[Request, string](recorder, Dependency, func(Request) string { return "generate" }, nil),
		retry.Middleware[Request, string](policy),
		circuit.Middleware[Request, string](breakers.Get(Dependency)),
		timeout.Middleware[Request, string](opts.Timeout),
	)
	return &guarded{name: gen.Name(), handler: handler}
}

func (g *guarded) Generate(ctx context.Context, req Request) (string, error) {
	return g.handler(ctx, req)
}

func (g *guarded) Name() string {
	return g.name
}
