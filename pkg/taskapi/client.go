// Package taskapi executes commands against the downstream Task Store with per-attempt timeout,
// retry with exponential backoff, and a per-dependency circuit breaker.
package taskapi

import (
	"context"
	"sync/atomic"
	"time"

	"taskpilot/pkg/command"
	"taskpilot/pkg/logx"
	"taskpilot/pkg/metrics"
	"taskpilot/pkg/resilience"
	"taskpilot/pkg/resilience/circuit"
	"taskpilot/pkg/resilience/retry"
	"taskpilot/pkg/resilience/timeout"
)

// DefaultDependency is the breaker key used when Options.Dependency is empty.
const DefaultDependency = "task_api"

// Result is the outcome of one Execute call. It is always returned, never an error.
type Result struct {
	Success    bool           `json:"success"`
	StatusCode int            `json:"status_code"`
	Body       map[string]any `json:"body,omitempty"`
	Error      string         `json:"error,omitempty"`
	Kind       FailureKind    `json:"kind,omitempty"`
	Attempts   int            `json:"attempts"` // Network attempts made; 0 when the circuit rejected the call
}

// Options configures a Client.
type Options struct {
	Dependency string
	Timeout    time.Duration // Per attempt
	Retry      retry.Config
	Recorder   metrics.Recorder
	// Wait replaces the backoff sleep, for tests.
	Wait retry.WaitFunc
}

// Client is the Task API client. It is safe for concurrent use.
type Client struct {
	dependency string
	breaker    *circuit.Breaker
	handler    resilience.Handler[command.Command, Response]
	logger     *logx.Logger
}

type attemptsKey struct{}

// NewClient wraps transport with the resilience chain, using the breaker registered in breakers
// under the dependency name.
func NewClient(transport Transport, breakers *circuit.Registry, opts Options) *Client {
	if opts.Dependency == "" {
		opts.Dependency = DefaultDependency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.Nop()
	}

	c := &Client{
		dependency: opts.Dependency,
		breaker:    breakers.Get(opts.Dependency),
		logger:     logx.NewLogger("taskapi"),
	}

	policy := retry.NewPolicy(opts.Retry, nil)
	if opts.Wait != nil {
		policy.Wait = opts.Wait
	}
	policy.OnRetry = func(n int, delay time.Duration, err error) {
		recorder.IncRetry(c.dependency)
		c.logger.Warn("retry %d for %s in %v: %v", n+1, c.dependency, delay, err)
	}

	attempt := func(ctx context.Context, cmd command.Command) (Response, error) {
		if counter, ok := ctx.Value(attemptsKey{}).(*atomic.Int32); ok {
			counter.Add(1)
		}
		return transport.Do(ctx, cmd)
	}

	c.handler = resilience.Chain(
		attempt,
		metrics.Middleware[command.Command, Response](recorder, c.dependency, operationLabel, outcomeLabel),
		retry.Middleware[command.Command, Response](policy),
		circuit.Middleware[command.Command, Response](c.breaker),
		timeout.Middleware[command.Command, Response](opts.Timeout),
	)
	return c
}

// Dependency returns the breaker key of this client.
func (c *Client) Dependency() string {
	return c.dependency
}

// Breaker returns the breaker guarding this client.
func (c *Client) Breaker() *circuit.Breaker {
	return c.breaker
}

// Execute runs cmd through the resilience chain and folds every failure into the Result.
func (c *Client) Execute(ctx context.Context, cmd command.Command) Result {
	counter := new(atomic.Int32)
	ctx = context.WithValue(ctx, attemptsKey{}, counter)

	resp, err := c.handler(ctx, cmd)
	attempts := int(counter.Load())
	if err == nil {
		logx.Debug(ctx, "taskapi", "%s %s succeeded with status %d after %d attempt(s)", cmd.Method, cmd.Target, resp.StatusCode, attempts)
		return Result{Success: true, StatusCode: resp.StatusCode, Body: resp.Body, Attempts: attempts}
	}

	kind := kindOf(err)
	result := Result{
		StatusCode: statusCodeOf(err),
		Kind:       kind,
		Attempts:   attempts,
		Error:      string(kind),
	}
	if kind != KindCircuitOpen {
		result.Error = err.Error()
	}
	logx.Debug(ctx, "taskapi", "%s %s failed (%s) after %d attempt(s): %v", cmd.Method, cmd.Target, kind, attempts, err)
	return result
}

func operationLabel(cmd command.Command) string {
	return string(cmd.Operation)
}

func outcomeLabel(err error) string {
	if err == nil {
		return metrics.OutcomeSuccess
	}
	return string(kindOf(err))
}
