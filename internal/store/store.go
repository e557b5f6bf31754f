// Package store defines the membership ledger contract: plain CRUD over
// slots, registrations, queue entries and instance policies. No business
// rules live here; the engine decides, the service commits.
package store

import (
	"context"
	"errors"

	"github.com/academic-moodle-cooperation/moodle-mod-grouptool-sub000/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Ledger is the persistence contract for the registration engine. Create
// methods assign the record ID (and, for queue entries, the insertion
// sequence) when unset.
type Ledger interface {
	CreateSlot(ctx context.Context, slot *model.Slot) error
	UpdateSlot(ctx context.Context, slot model.Slot) error
	GetSlot(ctx context.Context, id string) (model.Slot, error)
	ListSlots(ctx context.Context, instanceID string, activeOnly bool) ([]model.Slot, error)

	GetPolicy(ctx context.Context, instanceID string) (model.Policy, error)
	PutPolicy(ctx context.Context, pol model.Policy) error

	CreateRegistration(ctx context.Context, reg *model.Registration) error
	ConfirmRegistration(ctx context.Context, id string) error
	DeleteRegistration(ctx context.Context, id string) error
	ListRegistrations(ctx context.Context, instanceID string) ([]model.Registration, error)
	ListSlotRegistrations(ctx context.Context, slotID string) ([]model.Registration, error)

	CreateQueueEntry(ctx context.Context, entry *model.QueueEntry) error
	DeleteQueueEntry(ctx context.Context, id string) error
	ListQueueEntries(ctx context.Context, instanceID string) ([]model.QueueEntry, error)
}
