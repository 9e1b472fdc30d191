package orchestrator

import (
	"errors"
	"fmt"
	"slices"
)

// State is a step of the per-request pipeline.
type State string

const (
	StateReceived      State = "RECEIVED"
	StateContextLoaded State = "CONTEXT_LOADED"
	StateClassified    State = "CLASSIFIED"
	StateClarifying    State = "CLARIFYING"    // Missing fields or unclear intent; no dispatch
	StateCommandBuilt  State = "COMMAND_BUILT"
	StateDispatched    State = "DISPATCHED"
	StateSynthesized   State = "SYNTHESIZED"
	StateContextSaved  State = "CONTEXT_SAVED"
	StateDone          State = "DONE"
	StateError         State = "ERROR" // Pipeline defect
)

// ErrInvalidTransition is a pipeline defect: a step ran out of order.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines the per-request state machine.
//
//nolint:gochecknoglobals // Intentional package-level constant for state machine definition
var validTransitions = map[State][]State{
	StateReceived:      {StateContextLoaded},
	StateContextLoaded: {StateClassified},
	StateClassified: {
		StateClarifying,
		StateCommandBuilt,
		StateSynthesized, // HELP needs neither
	},
	StateClarifying: {StateSynthesized},
	StateCommandBuilt: {
		StateDispatched,
		StateSynthesized, // Circuit fast-fail
	},
	StateDispatched:   {StateSynthesized},
	StateSynthesized:  {StateContextSaved},
	StateContextSaved: {StateDone},
	StateDone:         {},
	StateError:        {},
}

// IsValidTransition reports whether the pipeline may move from one state to another.
// Any non-terminal state may move to ERROR.
func IsValidTransition(from, to State) bool {
	if to == StateError {
		return !IsTerminalState(from)
	}
	return slices.Contains(validTransitions[from], to)
}

// IsTerminalState checks if a state is terminal (DONE or ERROR).
func IsTerminalState(state State) bool {
	return state == StateDone || state == StateError
}

// run tracks one request through the state machine.
type run struct {
	state State
	trace []State
}

func newRun() *run {
	return &run{state: StateReceived, trace: []State{StateReceived}}
}

func (r *run) to(next State) error {
	if !IsValidTransition(r.state, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.state, next)
	}
	r.state = next
	r.trace = append(r.trace, next)
	return nil
}
