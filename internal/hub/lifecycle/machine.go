// Package lifecycle is the connection state machine of a hub client.
package lifecycle

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the connection state of a hub client
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateDisconnecting State = "disconnecting"
)

// Event triggers a transition
type Event string

const (
	// EventStart begins probing or spawning the hub
	EventStart Event = "start"
	// EventReady means the hub answered the health check or printed its ready record
	EventReady Event = "ready"
	// EventStartFailed covers spawn failures, early exits and startup timeouts
	EventStartFailed Event = "start_failed"
	// EventProcessExit means an owned hub exited after becoming ready
	EventProcessExit Event = "process_exit"
	// EventStop begins teardown
	EventStop Event = "stop"
	// EventStopped completes teardown
	EventStopped Event = "stopped"
)

// ErrInvalidTransition is returned when an event is not valid in the current state
var ErrInvalidTransition = errors.New("invalid state transition")

var transitions = map[State]map[Event]State{
	StateDisconnected: {
		EventStart: StateConnecting,
	},
	StateConnecting: {
		EventReady:       StateConnected,
		EventStartFailed: StateDisconnected,
		EventStop:        StateDisconnected,
	},
	StateConnected: {
		EventStop:        StateDisconnecting,
		EventProcessExit: StateDisconnected,
	},
	StateDisconnecting: {
		EventStopped: StateDisconnected,
	},
}

// Next returns the state event leads to from, if the transition is allowed
func Next(from State, event Event) (State, bool) {
	to, ok := transitions[from][event]
	return to, ok
}

// CanTransition reports whether some event moves from to to
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition represents a state change with metadata
type Transition struct {
	From      State
	To        State
	Event     Event
	Timestamp time.Time
	Error     error
}

// Machine holds the current state. Transitions are applied synchronously.
// Hooks and subscriber channels see transitions in the order they were
// applied, one delivery at a time; a transition fired from inside a hook is
// delivered after that hook returns.
type Machine struct {
	mu         sync.RWMutex
	current    State
	lastError  error
	pending    []Transition
	delivering bool
	logger     *zap.SugaredLogger

	subscribersMu sync.RWMutex
	subscribers   []chan Transition
	hooks         []func(Transition)
}

// NewMachine creates a machine in the disconnected state
func NewMachine(logger *zap.SugaredLogger) *Machine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Machine{current: StateDisconnected, logger: logger}
}

// Current returns the current state
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Is reports whether the machine is in state s
func (m *Machine) Is(s State) bool {
	return m.Current() == s
}

// LastError returns the error attached to the most recent transition that carried one
func (m *Machine) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// Fire applies event. err, if any, is attached to the transition.
func (m *Machine) Fire(event Event, err error) (Transition, error) {
	t, drain, ferr := m.apply(event, err)
	if ferr != nil {
		m.logger.Warnw("Invalid state transition", "state", t.From, "event", event)
		return Transition{}, ferr
	}
	m.logger.Debugw("State transition", "from", t.From, "to", t.To, "event", event)
	if drain {
		m.deliver()
	}
	return t, nil
}

func (m *Machine) apply(event Event, err error) (Transition, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.current
	to, ok := Next(from, event)
	if !ok {
		return Transition{From: from}, false, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, from)
	}
	m.current = to
	if err != nil {
		m.lastError = err
	}
	t := Transition{From: from, To: to, Event: event, Timestamp: time.Now(), Error: err}
	m.pending = append(m.pending, t)
	if m.delivering {
		return t, false, nil
	}
	m.delivering = true
	return t, true, nil
}

// deliver drains queued transitions to subscribers and hooks
func (m *Machine) deliver() {
	drained := false
	defer func() {
		if !drained {
			m.mu.Lock()
			m.delivering = false
			m.mu.Unlock()
		}
	}()

	for {
		m.mu.Lock()
		if len(m.pending) == 0 {
			m.delivering = false
			m.mu.Unlock()
			drained = true
			return
		}
		t := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()

		m.subscribersMu.RLock()
		hooks := append([]func(Transition){}, m.hooks...)
		for _, ch := range m.subscribers {
			select {
			case ch <- t:
			default:
				m.logger.Debug("Subscriber channel full, dropping transition notification")
			}
		}
		m.subscribersMu.RUnlock()

		for _, hook := range hooks {
			hook(t)
		}
	}
}

// OnTransition registers a synchronous hook
func (m *Machine) OnTransition(fn func(Transition)) {
	m.subscribersMu.Lock()
	defer m.subscribersMu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// Subscribe returns a buffered channel of transitions. Slow readers miss
// transitions. The returned function removes the subscription and closes
// the channel.
func (m *Machine) Subscribe() (<-chan Transition, func()) {
	m.subscribersMu.Lock()
	defer m.subscribersMu.Unlock()
	ch := make(chan Transition, 16)
	m.subscribers = append(m.subscribers, ch)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subscribersMu.Lock()
			defer m.subscribersMu.Unlock()
			m.subscribers = slices.DeleteFunc(m.subscribers, func(c chan Transition) bool { return c == ch })
			close(ch)
		})
	}
}
