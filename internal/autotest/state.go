package autotest

import (
	"encoding/json"
	"fmt"
)

// State enumerates the lifecycle states shared by results and step results.
type State string

const (
	StateNotStarted State = "not_started"
	StateRunning    State = "running"
	StatePassed     State = "passed"
	StateFailed     State = "failed"
	StateTimedOut   State = "timed_out"
	StateSkipped    State = "skipped"
)

var knownStates = map[State]struct{}{
	StateNotStarted: {},
	StateRunning:    {},
	StatePassed:     {},
	StateFailed:     {},
	StateTimedOut:   {},
	StateSkipped:    {},
}

// Terminal reports whether the state will not change without a restart.
func (s State) Terminal() bool {
	switch s {
	case StatePassed, StateFailed, StateTimedOut, StateSkipped:
		return true
	default:
		return false
	}
}

// Aborted reports whether a result in this state stops all remaining steps.
func (s State) Aborted() bool {
	return s == StateFailed || s == StateTimedOut
}

// rank orders states for the stale snapshot check; terminal states share the top rank.
func (s State) rank() int {
	switch s {
	case StateNotStarted, "":
		return 0
	case StateRunning:
		return 1
	default:
		return 2
	}
}

func (s State) orDefault() State {
	if s == "" {
		return StateNotStarted
	}
	return s
}

// UnmarshalJSON rejects states outside the known set.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		*s = StateNotStarted
		return nil
	}
	state := State(raw)
	if _, ok := knownStates[state]; !ok {
		return fmt.Errorf("unknown state %q", raw)
	}
	*s = state
	return nil
}
