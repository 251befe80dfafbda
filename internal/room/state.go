package room

import (
	"errors"
	"fmt"
)

// State is the activity state of a room.
type State int

const (
	StateNone State = iota
	StatePaused
	StateLow
	StateHigh
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StatePaused:
		return "PAUSED"
	case StateLow:
		return "LOW"
	case StateHigh:
		return "HIGH"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText renders the state name in JSON and YAML.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ParseState is the inverse of String.
func ParseState(name string) (State, error) {
	for _, s := range []State{StateNone, StatePaused, StateLow, StateHigh} {
		if s.String() == name {
			return s, nil
		}
	}
	return StateNone, fmt.Errorf("room: unknown state %q", name)
}

func (s *State) UnmarshalText(b []byte) error {
	v, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

var (
	ErrNotStarted     = errors.New("room: not started")
	ErrAlreadyStarted = errors.New("room: already started")
	ErrAlreadyPaused  = errors.New("room: already paused")
	ErrNotPaused      = errors.New("room: not paused")
)

// Machine is the full activity state. Saved holds the state to return to
// on resume and is only meaningful while State is StatePaused.
type Machine struct {
	State State
	Saved State
}

// Active returns the processing mode the room is in, looking through a
// pause.
func (m Machine) Active() State {
	if m.State == StatePaused {
		return m.Saved
	}
	return m.State
}

// EventKind identifies an input to the state machine.
type EventKind int

const (
	EventStart EventKind = iota
	EventPause
	EventResume
	// EventCycle reports the outcome of one classification cycle.
	EventCycle
	EventStop
)

// Event is one input. Clusters and Fall are only read for EventCycle.
type Event struct {
	Kind     EventKind
	Clusters int
	Fall     bool
}

// Action is what the caller must do after a transition.
type Action int

const (
	ActionNone Action = iota
	// ActionSleep asks the consumer to wait out the low-power period.
	ActionSleep
	// ActionEmitFall asks the room to raise a fall event.
	ActionEmitFall
)

// Output is the side effect requested by a transition.
type Output struct {
	Action Action
}

// Transition is the room state machine. It has no side effects: the
// caller applies the returned machine and performs the output action.
//
// A cycle outcome that arrives while paused (from a cycle already in
// flight when the pause was requested) updates the saved state and may
// still emit a fall.
func Transition(m Machine, ev Event) (Machine, Output, error) {
	switch ev.Kind {
	case EventStart:
		if m.State != StateNone {
			return m, Output{}, ErrAlreadyStarted
		}
		return Machine{State: StateLow}, Output{}, nil

	case EventStop:
		return Machine{State: StateNone}, Output{}, nil

	case EventPause:
		switch m.State {
		case StateNone:
			return m, Output{}, ErrNotStarted
		case StatePaused:
			return m, Output{}, ErrAlreadyPaused
		}
		return Machine{State: StatePaused, Saved: m.State}, Output{}, nil

	case EventResume:
		if m.State != StatePaused {
			return m, Output{}, ErrNotPaused
		}
		return Machine{State: m.Saved}, Output{}, nil

	case EventCycle:
		if m.State == StateNone {
			return m, Output{}, ErrNotStarted
		}
		next, out := cycle(m.Active(), ev)
		if m.State == StatePaused {
			return Machine{State: StatePaused, Saved: next}, out, nil
		}
		return Machine{State: next}, out, nil
	}
	return m, Output{}, fmt.Errorf("room: unknown event kind %d", ev.Kind)
}

func cycle(active State, ev Event) (State, Output) {
	switch active {
	case StateLow:
		if ev.Clusters > 0 {
			return StateHigh, Output{}
		}
		return StateLow, Output{Action: ActionSleep}
	case StateHigh:
		if ev.Clusters == 0 {
			return StateLow, Output{}
		}
		if ev.Fall {
			return StateHigh, Output{Action: ActionEmitFall}
		}
		return StateHigh, Output{}
	}
	return active, Output{}
}
