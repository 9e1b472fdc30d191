// Package retry provides retry logic with exponential backoff for downstream calls.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"strings"
	"time"

	"taskpilot/pkg/resilience/circuit"
)

// Config defines configuration for retry behavior.
type Config struct {
	MaxRetries int           `json:"max_retries"` // Retries after the initial attempt
	BaseDelay  time.Duration `json:"base_delay"`  // Delay before the first retry
	MaxDelay   time.Duration `json:"max_delay"`   // Cap on a single delay, zero = uncapped
	Jitter     bool          `json:"jitter"`      // Spread delays by up to ±10%
}

// DefaultConfig provides reasonable defaults for retry behavior.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	MaxRetries: 3,
	BaseDelay:  time.Second,
}

// Classifier determines if an error should be retried.
type Classifier func(error) bool

// Transient is implemented by errors that know whether retrying may help.
type Transient interface {
	Transient() bool
}

// ShouldRetry is the default error classifier: timeouts, connection failures and 5xx are retried,
// everything else is terminal.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	// Caller cancellation ends the request
	if errors.Is(err, context.Canceled) {
		return false
	}

	// Never retry circuit breaker errors - let the circuit breaker handle recovery
	if circuit.IsOpen(err) {
		return false
	}

	var transient Transient
	if errors.As(err, &transient) {
		return transient.Transient()
	}

	// Per-attempt deadlines surface as DeadlineExceeded while the parent context is still live.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "temporary") {
		return true
	}

	if strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") {
		return true
	}

	return false
}

// WaitFunc sleeps for d unless ctx ends first.
type WaitFunc func(ctx context.Context, d time.Duration) error

// Policy encapsulates retry configuration and logic.
//
//nolint:govet // Simple struct, logical grouping preferred
type Policy struct {
	Config     Config
	Classifier Classifier
	Wait       WaitFunc
	// OnRetry is called before each backoff sleep.
	OnRetry func(retry int, delay time.Duration, err error)
}

// NewPolicy creates a new retry policy with the given configuration and classifier.
func NewPolicy(config Config, classifier Classifier) *Policy {
	if classifier == nil {
		classifier = ShouldRetry
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	return &Policy{
		Config:     config,
		Classifier: classifier,
		Wait:       sleep,
	}
}

// CalculateDelay computes the delay before the given retry, counted from zero:
// BaseDelay * 2^retry, capped at MaxDelay when set.
func (p *Policy) CalculateDelay(retry int) time.Duration {
	if retry < 0 {
		return 0
	}

	delay := time.Duration(float64(p.Config.BaseDelay) * math.Pow(2, float64(retry)))

	if p.Config.MaxDelay > 0 && delay > p.Config.MaxDelay {
		delay = p.Config.MaxDelay
	}

	if p.Config.Jitter && delay > 0 {
		jitter := time.Duration(float64(delay) * 0.1 * (2*rand.Float64() - 1))
		delay += jitter
	}

	return delay
}

// ShouldRetry determines if an error should be retried based on the configured classifier.
func (p *Policy) ShouldRetry(err error) bool {
	return p.Classifier(err)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
