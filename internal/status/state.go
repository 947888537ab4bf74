package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/pigeon-im/pigeon/internal/bus"
)

// State represents the session's connection state.
type State string

const (
	// Disconnected is the idle state: no socket, token may or may not exist.
	Disconnected State = "DISCONNECTED"
	// AuthRequired means no valid token exists; the user must log in
	// before the transport can connect.
	AuthRequired State = "AUTH_REQUIRED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
)

// validTransitions defines allowed state transitions. Reconnection is not
// automatic: Connected never goes back to Connecting directly, it must pass
// through Disconnected first with the controlling layer calling connect again.
var validTransitions = map[State][]State{
	Disconnected: {AuthRequired, Connecting},
	AuthRequired: {Connecting},
	Connecting:   {Connected, Disconnected, AuthRequired},
	Connected:    {Disconnected, AuthRequired},
}

// Machine tracks and enforces session connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Disconnected.
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

// Transition attempts to move to a new state. Returns an error if the
// transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Emit(bus.KindSessionStateChanged, StateChange{From: from, To: to})
	}
	return nil
}

// StateChange is the payload for session.state_changed events.
type StateChange struct {
	From State
	To   State
}
