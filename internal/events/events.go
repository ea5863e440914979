// Package events implements the Store's typed event bus. The Store
// emits events on create/createRevision/lock-acquired; the UI
// collaborator subscribes. Per the design notes, the bus is constructed
// per-Session rather than process-global.
package events

import "sync"

// Event is a single emission. Name is the colon-separated event name (for
// example "create:clientFile" or "clientFile:lockAcquired"); Payload is
// whatever the emitter attached (the created object, the lock holder,
// etc).
type Event struct {
	Name    string
	Payload any
}

// Handler receives emitted events.
type Handler func(Event)

// Bus is a small synchronous pub/sub fan-out. Handlers run on the
// publishing goroutine, in subscription order; a handler that blocks
// blocks the emitter. This is deliberate: the Store has no background
// dispatch loop of its own, and callers that need async delivery can
// hand off from inside their handler.
type Bus struct {
	mu       sync.Mutex
	handlers map[string][]Handler
}

// New creates an empty event bus.
func New() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Subscribe registers fn to be called whenever an event named name is
// published. Returns an unsubscribe function.
func (b *Bus) Subscribe(name string, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[name] = append(b.handlers[name], fn)
	index := len(b.handlers[name]) - 1

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		handlers := b.handlers[name]
		if index < len(handlers) {
			handlers[index] = nil
		}
	}
}

// Publish emits an event to every subscriber of its name.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	handlers := append([]Handler(nil), b.handlers[evt.Name]...)
	b.mu.Unlock()

	for _, h := range handlers {
		if h != nil {
			h(evt)
		}
	}
}
