package status

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
)

// State represents the event-stream connection state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Degraded     State = "DEGRADED"
)

// ErrInvalidTransition is wrapped by Transition when the move is not allowed.
var ErrInvalidTransition = errors.New("invalid transition")

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Disconnected},
	Connected:    {Degraded, Disconnected},
	Degraded:     {Connected, Disconnected},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Disconnected state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Moving to the current state is
// a no-op. The change is published after the lock is released.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	from := m.current
	if from == to {
		m.mu.Unlock()
		return nil
	}
	if !slices.Contains(validTransitions[from], to) {
		m.mu.Unlock()
		return fmt.Errorf("%w from %s to %s", ErrInvalidTransition, from, to)
	}
	m.current = to
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Emit(StatusChange{From: from, To: to})
	}
	return nil
}

// StatusChange is the payload for state change events.
type StatusChange struct {
	From State
	To   State
}

func (StatusChange) Kind() bus.Kind { return bus.KindStateChanged }
