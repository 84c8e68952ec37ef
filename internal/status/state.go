package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/beep-chat/beep/internal/bus"
)

// State represents a push-channel connection state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
)

// validTransitions defines allowed state transitions. Disconnected never
// jumps straight to Connected: a dial always passes through Connecting,
// except during automatic reconnection where Reconnecting stands in for it.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Disconnected},
	Connected:    {Reconnecting, Disconnected},
	Reconnecting: {Connecting, Connected, Disconnected},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in Disconnected.
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

// Transition attempts to move to a new state. Returns an error and leaves the
// state unchanged if the transition is invalid.
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
		m.bus.Publish(bus.KindChannelStateChanged, StateChange{
			From: from,
			To:   to,
		})
	}
	return nil
}

// StateChange is the payload for channel.state_changed events.
type StateChange struct {
	From State
	To   State
}
