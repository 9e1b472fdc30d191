// Package circuit provides per-dependency circuit breakers for downstream calls.
package circuit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// State represents the current state of a circuit breaker.
type State int

// Circuit breaker states for managing dependency failure patterns.
const (
	Closed   State = iota // Normal operation
	Open                  // Failing, reject requests
	HalfOpen              // One trial request admitted
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state as its lowercase name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config defines configuration for circuit breaker behavior.
type Config struct {
	FailureThreshold int           `json:"failure_threshold"` // Consecutive failures before opening
	Cooldown         time.Duration `json:"cooldown"`          // Time to wait before admitting a trial

	// IsFailure decides whether a call error counts against the dependency.
	// Nil counts every error except caller cancellation and errors reporting Transient() == false.
	IsFailure func(error) bool `json:"-"`
	// OnStateChange is invoked after every transition, outside the breaker lock.
	OnStateChange func(name string, from, to State) `json:"-"`
	// Now is the clock; nil uses time.Now.
	Now func() time.Time `json:"-"`
}

// DefaultConfig provides reasonable defaults for circuit breaker behavior.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	FailureThreshold: 5,
	Cooldown:         30 * time.Second,
}

// Error is returned without any downstream call when the circuit rejects a request.
type Error struct {
	Dependency string
	State      State
}

func (e *Error) Error() string {
	return fmt.Sprintf("circuit breaker for %s is %s", e.Dependency, e.State)
}

// IsOpen reports whether err is a circuit rejection.
func IsOpen(err error) bool {
	var circuitErr *Error
	return errors.As(err, &circuitErr)
}

// Snapshot is a point-in-time view of one breaker.
type Snapshot struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
	TrialInFlight       bool      `json:"trial_in_flight,omitempty"`
}

// Permit is handed out by Allow and must be passed back to Record.
type Permit struct {
	trial bool
}

// Trial reports whether this permit is the single half-open trial.
func (p Permit) Trial() bool {
	return p.trial
}

// Outcome classifies a finished call for the breaker.
type Outcome int

// Call outcomes.
const (
	Success Outcome = iota
	Failure
	Ignored // Caller went away; says nothing about the dependency
)

// Breaker guards one downstream dependency.
//
//nolint:govet // Logical field grouping preferred over memory alignment
type Breaker struct {
	name   string
	config Config

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	trialInFlight bool

	snapshot atomic.Pointer[Snapshot]
}

// New creates a breaker for the named dependency.
func New(name string, config Config) *Breaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	b := &Breaker{name: name, config: config, state: Closed}
	b.publish()
	return b
}

// Name returns the dependency name.
func (b *Breaker) Name() string {
	return b.name
}

// Snapshot returns the current state without taking the breaker lock.
func (b *Breaker) Snapshot() Snapshot {
	return *b.snapshot.Load()
}

// FastFail reports, from a lock-free snapshot, whether a call made now would be rejected
// without reaching the dependency. A stale read can only admit a call Allow then rejects.
func (b *Breaker) FastFail() bool {
	snap := b.snapshot.Load()
	switch snap.State {
	case Open:
		return b.config.Now().Sub(snap.OpenedAt) < b.config.Cooldown
	case HalfOpen:
		// A canceled trial leaves the circuit half-open with the slot free again.
		return snap.TrialInFlight
	default:
		return false
	}
}

// Allow checks whether a request may proceed. It returns an *Error when the circuit rejects it.
func (b *Breaker) Allow() (Permit, error) {
	snap := b.snapshot.Load()
	if snap.State == Closed {
		return Permit{}, nil
	}
	if snap.State == Open && b.config.Now().Sub(snap.OpenedAt) < b.config.Cooldown {
		return Permit{}, &Error{Dependency: b.name, State: Open}
	}

	b.mu.Lock()
	var from State
	var transitioned bool
	permit, err := func() (Permit, error) {
		switch b.state {
		case Closed:
			return Permit{}, nil
		case Open:
			if b.config.Now().Sub(b.openedAt) < b.config.Cooldown {
				return Permit{}, &Error{Dependency: b.name, State: Open}
			}
			from, transitioned = b.state, true
			b.state = HalfOpen
			b.trialInFlight = true
			b.publish()
			return Permit{trial: true}, nil
		default:
			if b.trialInFlight {
				return Permit{}, &Error{Dependency: b.name, State: HalfOpen}
			}
			b.trialInFlight = true
			b.publish()
			return Permit{trial: true}, nil
		}
	}()
	b.mu.Unlock()

	if transitioned {
		b.notify(from, HalfOpen)
	}
	return permit, err
}

// Record reports the outcome of a call admitted by Allow.
func (b *Breaker) Record(permit Permit, outcome Outcome) {
	b.mu.Lock()
	from := b.state

	switch b.state {
	case Closed:
		switch outcome {
		case Success:
			b.failures = 0
		case Failure:
			b.failures++
			if b.failures >= b.config.FailureThreshold {
				b.state = Open
				b.openedAt = b.config.Now()
			}
		}

	case HalfOpen:
		// Late results from calls admitted before the circuit opened do not decide the trial.
		if permit.trial {
			b.trialInFlight = false
			switch outcome {
			case Success:
				b.state = Closed
				b.failures = 0
				b.openedAt = time.Time{}
			case Failure:
				b.state = Open
				b.failures++
				b.openedAt = b.config.Now()
			}
		}

	case Open:
		if outcome == Failure {
			b.failures++
		}
	}

	to := b.state
	b.publish()
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

// Classify maps a call error onto a breaker outcome using the configured failure predicate.
func (b *Breaker) Classify(err error) Outcome {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, context.Canceled):
		return Ignored
	case b.config.IsFailure != nil:
		if b.config.IsFailure(err) {
			return Failure
		}
		return Success
	case isTerminal(err):
		// The dependency answered; the request itself was refused.
		return Success
	default:
		return Failure
	}
}

func isTerminal(err error) bool {
	var t interface{ Transient() bool }
	return errors.As(err, &t) && !t.Transient()
}

// Reset manually returns the breaker to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = Closed
	b.failures = 0
	b.openedAt = time.Time{}
	b.trialInFlight = false
	b.publish()
	b.mu.Unlock()

	if from != Closed {
		b.notify(from, Closed)
	}
}

// publish must be called with mu held.
func (b *Breaker) publish() {
	b.snapshot.Store(&Snapshot{
		State:               b.state,
		ConsecutiveFailures: b.failures,
		OpenedAt:            b.openedAt,
		TrialInFlight:       b.trialInFlight,
	})
}

func (b *Breaker) notify(from, to State) {
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, from, to)
	}
}
