package events

import (
	"sync"
	"time"
)

const (
	// SessionEstablished fires after a successful sign-in.
	SessionEstablished = "session.established"
	// SessionEnded fires after an explicit logout.
	SessionEnded = "session.ended"
	// SessionForcedLogout fires when the backend rejected the session's credentials.
	SessionForcedLogout = "session.forced_logout"
)

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Owner     string
	Reason    string
	CreatedAt time.Time
}

// Handler reacts to an event.
type Handler func(event Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus provides in-process pub/sub for events.
type Bus struct {
	subscribers map[string][]subscription
	nextID      uint64
	mu          sync.RWMutex
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]subscription)}
}

// Subscribe registers a handler for a given event type and returns a function removing it.
func (b *Bus) Subscribe(eventType string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subscribers[eventType] = append(b.subscribers[eventType], subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[eventType]
		for i, s := range subs {
			if s.id == id {
				b.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish notifies subscribers of the event type.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, s := range subs {
		// Handlers run synchronously; caller decides concurrency model.
		s.handler(event)
	}
}
