// Package events is the named-event bus consumed by integrations that want
// hub changes pushed to them instead of polling the state store.
package events

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mcphub-go/internal/contracts"
	"mcphub-go/internal/mcperr"
)

const defaultBuffer = 256

// Name identifies an event
type Name string

const (
	// ServersUpdated is emitted after every refresh with the displayed server list and capability prompt.
	ServersUpdated Name = "servers_updated"
	// ToolListChanged is emitted when one server's tools changed.
	ToolListChanged Name = "tool_list_changed"
	// ResourceListChanged is emitted when one server's resources or templates changed.
	ResourceListChanged Name = "resource_list_changed"
	// ConnectionStateChanged is emitted on every lifecycle transition.
	ConnectionStateChanged Name = "connection_state_changed"
	// HubReady is emitted once per start, after registration succeeded.
	HubReady Name = "hub_ready"
	// HubError is emitted for errors surfaced through the client's error callback.
	HubError Name = "hub_error"
)

// Source is the client instance that emitted an event
type Source interface {
	ClientID() string
}

// Event is a typed notification published on the bus
type Event struct {
	Name      Name
	Source    Source
	Timestamp time.Time
	Payload   any
}

// ServersPayload accompanies ServersUpdated
type ServersPayload struct {
	Servers []contracts.ServerRecord
	Prompt  string
}

// StatePayload accompanies ConnectionStateChanged
type StatePayload struct {
	From string
	To   string
}

// ErrorPayload accompanies HubError
type ErrorPayload struct {
	Err *mcperr.Error
}

// ClientID returns the emitting client's id, or "" when the event has no source
func (e Event) ClientID() string {
	if e.Source == nil {
		return ""
	}
	return e.Source.ClientID()
}

type subscriber struct {
	ch    chan Event
	names []Name // empty means every event
}

func (s *subscriber) wants(name Name) bool {
	return len(s.names) == 0 || slices.Contains(s.names, name)
}

// Bus fans events out to buffered channel subscribers. Publishing never blocks:
// an event is dropped for a subscriber whose buffer is full.
type Bus struct {
	mu      sync.RWMutex
	subs    map[<-chan Event]*subscriber
	buffer  int
	closed  bool
	dropped atomic.Uint64
	logger  *zap.Logger
}

// NewBus creates an empty bus
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[<-chan Event]*subscriber),
		buffer: defaultBuffer,
		logger: logger,
	}
}

// Subscribe registers a subscriber for the given events (every event when none are given).
// Callers must not close the returned channel; use Unsubscribe when finished.
func (b *Bus) Subscribe(names ...Name) <-chan Event {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[ch] = &subscriber{ch: ch, names: slices.Clone(names)}
	return ch
}

// Unsubscribe removes the subscriber and closes its channel
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(sub.ch)
	}
}

// Publish delivers evt to every interested subscriber
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.wants(evt.Name) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
			b.logger.Debug("Event dropped, subscriber buffer full", zap.String("event", string(evt.Name)))
		}
	}
}

// Emit is shorthand for publishing a new event
func (b *Bus) Emit(name Name, source Source, payload any) {
	b.Publish(Event{Name: name, Source: source, Payload: payload})
}

// Dropped returns how many deliveries were skipped because a subscriber was slow
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Later subscriptions receive a closed channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch, sub := range b.subs {
		delete(b.subs, ch)
		close(sub.ch)
	}
}
