package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Syam916/chitrasethu-sub002/internal/bus"
)

// State represents the realtime transport connectivity state.
type State string

const (
	Booting      State = "BOOTING"
	Connecting   State = "CONNECTING"
	Live         State = "LIVE"
	Reconnecting State = "RECONNECTING"
	// Degraded means the transport is unreachable and the engine operates
	// fetch-only: delayed but eventually consistent once reconnected.
	Degraded State = "DEGRADED"
	Closed   State = "CLOSED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:      {Connecting, Degraded, Closed},
	Connecting:   {Live, Reconnecting, Degraded, Closed},
	Live:         {Reconnecting, Degraded, Closed},
	Reconnecting: {Connecting, Live, Degraded, Closed},
	Degraded:     {Connecting, Closed},
	Closed:       {},
}

// Machine tracks and enforces transport connectivity transitions.
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

// Connected reports whether realtime delivery is available.
func (m *Machine) Connected() bool {
	return m.Current() == Live
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
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
		m.bus.Publish(bus.Event{
			Kind:      bus.KindStatusChanged,
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
