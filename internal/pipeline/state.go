package pipeline

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidTransition is returned when a stage is entered out of order
var ErrInvalidTransition = errors.New("invalid pipeline transition")

// State is a step of the extraction pipeline
type State int

const (
	Idle State = iota
	Searching
	ResultsReady
	EpisodesRequested
	EpisodesReady
	LinksRequested
	LinksReady
	Resolved
	Failed
)

var stateNames = [...]string{
	Idle:              "idle",
	Searching:         "searching",
	ResultsReady:      "results ready",
	EpisodesRequested: "episodes requested",
	EpisodesReady:     "episodes ready",
	LinksRequested:    "links requested",
	LinksReady:        "links ready",
	Resolved:          "resolved",
	Failed:            "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether the run is over
func (s State) Terminal() bool {
	return s == Resolved || s == Failed
}

// InFlight reports whether a stage is running
func (s State) InFlight() bool {
	return s == Searching || s == EpisodesRequested || s == LinksRequested
}

// transitions lists the forward moves. Any in-flight stage may also fail.
// Idle may enter any stage directly because callers can start from a link
// they already have.
var transitions = map[State][]State{
	Idle:              {Searching, EpisodesRequested, LinksRequested, LinksReady},
	Searching:         {ResultsReady, Failed},
	ResultsReady:      {Searching, EpisodesRequested},
	EpisodesRequested: {EpisodesReady, Failed},
	EpisodesReady:     {EpisodesRequested, LinksRequested},
	LinksRequested:    {LinksReady, Failed},
	LinksReady:        {LinksRequested, Resolved, Failed},
}

// Machine tracks the state of one pipeline run
type Machine struct {
	state  State
	reason string
}

// State returns the current state
func (m *Machine) State() State { return m.state }

// Reason explains the last failure, empty unless the state is Failed
func (m *Machine) Reason() string { return m.reason }

// Can reports whether to is reachable from the current state
func (m *Machine) Can(to State) bool {
	return slices.Contains(transitions[m.state], to)
}

// To moves to the next state
func (m *Machine) To(to State) error {
	if to == Failed {
		return fmt.Errorf("%w: use Fail to enter %s", ErrInvalidTransition, Failed)
	}
	if !m.Can(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
	}
	m.state = to
	return nil
}

// Fail ends the run with reason
func (m *Machine) Fail(reason string) error {
	if !m.Can(Failed) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, Failed)
	}
	m.state = Failed
	m.reason = reason
	return nil
}

// Reset starts a new run
func (m *Machine) Reset() {
	m.state = Idle
	m.reason = ""
}

// Enter starts stage, resetting a settled run first. Entering while another
// stage is in flight is an error.
func (m *Machine) Enter(stage State) error {
	if m.state.InFlight() {
		return fmt.Errorf("%w: %s while %s", ErrInvalidTransition, stage, m.state)
	}
	if !m.Can(stage) {
		m.Reset()
	}
	return m.To(stage)
}
