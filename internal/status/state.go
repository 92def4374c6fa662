package status

import (
	"fmt"
	"slices"
	"sync"

	"gomess/internal/bus"
)

// State represents the client's connectivity/session state.
type State string

const (
	Booting      State = "BOOTING"
	AuthRequired State = "AUTH_REQUIRED"
	Connecting   State = "CONNECTING"
	Online       State = "ONLINE"
	Offline      State = "OFFLINE"
	Error        State = "ERROR"
)

// validTransitions defines allowed state transitions. The Offline→Connecting
// →Online path is the reconnect cycle; entering Online is the signal the
// outbox flusher listens for.
var validTransitions = map[State][]State{
	Booting:      {AuthRequired, Connecting, Offline, Error},
	AuthRequired: {Connecting, Error},
	Connecting:   {Online, Offline, AuthRequired, Error},
	Online:       {Offline, AuthRequired, Error},
	Offline:      {Connecting, AuthRequired, Error},
	Error:        {Booting},
}

// Machine tracks and enforces client state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsOnline reports whether sends may go straight to the transport.
// Anything else queues to the outbox.
func (m *Machine) IsOnline() bool {
	return m.Current() == Online
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Emit(bus.KindStatusChanged, StatusChange{From: from, To: to})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
