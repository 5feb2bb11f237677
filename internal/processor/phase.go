package processor

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrInvalidTransition is returned when a phase change is not allowed.
var ErrInvalidTransition = errors.New("invalid phase transition")

// Phase is a step of a file run.
type Phase int

// Phases. Done and Failed are terminal.
const (
	Decomposing Phase = iota
	ProcessingUnits
	Reassembling
	Done
	Failed
)

var phaseNames = map[Phase]string{
	Decomposing:     "Decomposing",
	ProcessingUnits: "ProcessingUnits",
	Reassembling:    "Reassembling",
	Done:            "Done",
	Failed:          "Failed",
}

var transitions = map[Phase][]Phase{
	Decomposing:     {ProcessingUnits, Failed},
	ProcessingUnits: {Reassembling, Failed},
	Reassembling:    {Done, Failed},
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == Done || p == Failed
}

// Transition validates a move between phases.
func Transition(from, to Phase) error {
	if slices.Contains(transitions[from], to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Machine tracks the phase of one file run.
type Machine struct {
	onChange func(Phase)
	history  []Phase
	mu       sync.Mutex
}

// NewMachine starts a machine in Decomposing. onChange, if set, is called after each move.
func NewMachine(onChange func(Phase)) *Machine {
	return &Machine{
		history:  []Phase{Decomposing},
		onChange: onChange,
	}
}

// Current returns the current phase.
func (m *Machine) Current() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history[len(m.history)-1]
}

// History returns every phase visited, in order.
func (m *Machine) History() []Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.history)
}

// Advance moves to the next phase if the transition is allowed.
func (m *Machine) Advance(to Phase) error {
	m.mu.Lock()
	from := m.history[len(m.history)-1]
	if err := Transition(from, to); err != nil {
		m.mu.Unlock()
		return err
	}
	m.history = append(m.history, to)
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(to)
	}
	return nil
}

// Fail moves to Failed from any non-terminal phase.
func (m *Machine) Fail() error {
	return m.Advance(Failed)
}
