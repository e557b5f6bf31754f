// Package engine implements the decision core of the registration engine:
// queue ranking, eligibility checks with the register→queue→mark fallback,
// and promotion planning. Every function is pure over a Snapshot of the
// ledger; the orchestrating service loads snapshots and commits the
// resulting actions.
package engine

import (
	"sort"

	"github.com/academic-moodle-cooperation/moodle-mod-grouptool-sub000/internal/model"
)

// Snapshot is a point-in-time copy of one instance's ledger state. Planning
// functions mutate their snapshot as they go so later checks observe the
// effects of earlier planned actions; callers that need the original intact
// should pass a Clone.
type Snapshot struct {
	Slots         []model.Slot
	Registrations []model.Registration
	Queue         []model.QueueEntry
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{
		Slots:         make([]model.Slot, len(s.Slots)),
		Registrations: make([]model.Registration, len(s.Registrations)),
		Queue:         make([]model.QueueEntry, len(s.Queue)),
	}
	copy(c.Slots, s.Slots)
	copy(c.Registrations, s.Registrations)
	copy(c.Queue, s.Queue)
	return c
}

// Slot returns the slot with the given id, or nil.
func (s *Snapshot) Slot(slotID string) *model.Slot {
	for i := range s.Slots {
		if s.Slots[i].ID == slotID {
			return &s.Slots[i]
		}
	}
	return nil
}

// ActiveSlots returns the active slots ordered by (sort order, id). This is
// the promotion walk order.
func (s *Snapshot) ActiveSlots() []model.Slot {
	out := make([]model.Slot, 0, len(s.Slots))
	for _, sl := range s.Slots {
		if sl.Active {
			out = append(out, sl)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Occupied counts registration rows in a slot, marks included: a mark holds
// the seat it claimed.
func (s *Snapshot) Occupied(slotID string) int {
	n := 0
	for i := range s.Registrations {
		if s.Registrations[i].SlotID == slotID {
			n++
		}
	}
	return n
}

// QueueLen counts queue entries in a slot.
func (s *Snapshot) QueueLen(slotID string) int {
	n := 0
	for i := range s.Queue {
		if s.Queue[i].SlotID == slotID {
			n++
		}
	}
	return n
}

// SlotQueue returns the queue entries of one slot, unordered.
func (s *Snapshot) SlotQueue(slotID string) []model.QueueEntry {
	var out []model.QueueEntry
	for _, e := range s.Queue {
		if e.SlotID == slotID {
			out = append(out, e)
		}
	}
	return out
}

// HasFreeCapacity reports whether the slot can take another occupant.
func (s *Snapshot) HasFreeCapacity(sl *model.Slot) bool {
	if !sl.Bounded() {
		return true
	}
	return s.Occupied(sl.ID) < *sl.Capacity
}

// Registration returns the user's registration row in a slot (confirmed or
// mark), or nil.
func (s *Snapshot) Registration(userID, slotID string) *model.Registration {
	for i := range s.Registrations {
		r := &s.Registrations[i]
		if r.UserID == userID && r.SlotID == slotID {
			return r
		}
	}
	return nil
}

// QueueEntry returns the user's queue entry in a slot, or nil.
func (s *Snapshot) QueueEntry(userID, slotID string) *model.QueueEntry {
	for i := range s.Queue {
		e := &s.Queue[i]
		if e.UserID == userID && e.SlotID == slotID {
			return e
		}
	}
	return nil
}

// Present reports whether the (user, slot) pair holds any of registration,
// mark or queue entry. The pair may hold at most one.
func (s *Snapshot) Present(userID, slotID string) bool {
	return s.Registration(userID, slotID) != nil || s.QueueEntry(userID, slotID) != nil
}

// Selections counts the user's commitments of every kind across the
// instance: confirmed registrations, marks and queue entries.
func (s *Snapshot) Selections(userID string) int {
	n := 0
	for i := range s.Registrations {
		if s.Registrations[i].UserID == userID {
			n++
		}
	}
	for i := range s.Queue {
		if s.Queue[i].UserID == userID {
			n++
		}
	}
	return n
}

// ConfirmedCount counts the user's firm registrations.
func (s *Snapshot) ConfirmedCount(userID string) int {
	n := 0
	for i := range s.Registrations {
		if s.Registrations[i].UserID == userID && s.Registrations[i].Confirmed {
			n++
		}
	}
	return n
}

// QueuedCount counts the user's queue entries across the instance.
func (s *Snapshot) QueuedCount(userID string) int {
	n := 0
	for i := range s.Queue {
		if s.Queue[i].UserID == userID {
			n++
		}
	}
	return n
}

// removeRegistration drops a registration row from the snapshot by id.
func (s *Snapshot) removeRegistration(id string) {
	for i := range s.Registrations {
		if s.Registrations[i].ID == id {
			s.Registrations = append(s.Registrations[:i], s.Registrations[i+1:]...)
			return
		}
	}
}

// removeQueueEntry drops a queue entry from the snapshot by id.
func (s *Snapshot) removeQueueEntry(id string) {
	for i := range s.Queue {
		if s.Queue[i].ID == id {
			s.Queue = append(s.Queue[:i], s.Queue[i+1:]...)
			return
		}
	}
}

// confirmMark flips a mark row to a firm registration in the snapshot.
func (s *Snapshot) confirmMark(id string) {
	for i := range s.Registrations {
		if s.Registrations[i].ID == id {
			s.Registrations[i].Confirmed = true
			return
		}
	}
}
