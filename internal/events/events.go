// Package events carries the discrete transition records the engine emits
// for notification and audit collaborators, and fans them out in-process
// and over websockets.
package events

import (
	"sync"
	"time"
)

// Kind identifies a committed state transition.
type Kind string

const (
	RegistrationCreated Kind = "registration_created"
	RegistrationDeleted Kind = "registration_deleted"
	QueueEntryCreated   Kind = "queue_entry_created"
	QueueEntryDeleted   Kind = "queue_entry_deleted"
	UserMoved           Kind = "user_moved"
	DequeuingStarted    Kind = "dequeuing_started"
)

// Event is one committed transition. FromGroupID/ToGroupID carry the
// external group identifiers for user_moved; for other kinds ToGroupID
// names the affected group.
type Event struct {
	Kind        Kind      `json:"kind"`
	InstanceID  string    `json:"instance_id"`
	UserID      string    `json:"user_id,omitempty"`
	SlotID      string    `json:"slot_id,omitempty"`
	FromGroupID string    `json:"from_group_id,omitempty"`
	ToGroupID   string    `json:"to_group_id,omitempty"`
	At          time.Time `json:"at"`
}

// Handler consumes published events. Handlers run synchronously on the
// publishing goroutine and must not block.
type Handler func(Event)

// Bus is a minimal in-process publish/subscribe fan-out.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for every subsequent event.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish delivers the event to all subscribers.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.handlers {
		h(e)
	}
}
