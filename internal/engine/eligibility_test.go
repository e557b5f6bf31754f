package engine

import (
	"testing"
	"time"

	"github.com/academic-moodle-cooperation/moodle-mod-grouptool-sub000/internal/model"
	"github.com/stretchr/testify/assert"
)

func intp(v int) *int { return &v }

func slot(id string, capacity *int) model.Slot {
	return model.Slot{ID: id, InstanceID: "inst", GroupID: "g-" + id, Capacity: capacity, Active: true}
}

func singlePolicy() model.Policy {
	return model.Policy{
		InstanceID:    "inst",
		MinSelections: 1,
		MaxSelections: 1,
		QueueingOn:    true,
		AllowUnreg:    true,
	}
}

func multiPolicy(min, max int) model.Policy {
	return model.Policy{
		InstanceID:    "inst",
		AllowMultiple: true,
		MinSelections: min,
		MaxSelections: max,
		QueueingOn:    true,
		AllowUnreg:    true,
	}
}

func TestCanRegisterChecks(t *testing.T) {
	pol := singlePolicy()

	t.Run("unknown slot", func(t *testing.T) {
		s := &Snapshot{}
		assert.ErrorIs(t, CanRegister(s, &pol, "alice", "s1"), ErrSlotNotFound)
	})

	t.Run("inactive slot", func(t *testing.T) {
		sl := slot("s1", nil)
		sl.Active = false
		s := &Snapshot{Slots: []model.Slot{sl}}
		assert.ErrorIs(t, CanRegister(s, &pol, "alice", "s1"), ErrSlotNotFound)
	})

	t.Run("already present", func(t *testing.T) {
		s := &Snapshot{
			Slots:         []model.Slot{slot("s1", nil)},
			Registrations: []model.Registration{{ID: "r1", SlotID: "s1", UserID: "alice", Confirmed: true}},
		}
		assert.ErrorIs(t, CanRegister(s, &pol, "alice", "s1"), ErrAlreadyPresent)
	})

	t.Run("present via queue entry", func(t *testing.T) {
		s := &Snapshot{
			Slots: []model.Slot{slot("s1", nil)},
			Queue: []model.QueueEntry{{ID: "q1", SlotID: "s1", UserID: "alice"}},
		}
		assert.ErrorIs(t, CanRegister(s, &pol, "alice", "s1"), ErrAlreadyPresent)
	})

	t.Run("too many selections", func(t *testing.T) {
		s := &Snapshot{
			Slots:         []model.Slot{slot("s1", nil), slot("s2", nil)},
			Registrations: []model.Registration{{ID: "r1", SlotID: "s2", UserID: "alice", Confirmed: true}},
		}
		assert.ErrorIs(t, CanRegister(s, &pol, "alice", "s1"), ErrTooManySelections)
	})

	t.Run("group full counts marks as occupants", func(t *testing.T) {
		s := &Snapshot{
			Slots:         []model.Slot{slot("s1", intp(1))},
			Registrations: []model.Registration{{ID: "r1", SlotID: "s1", UserID: "bob", Confirmed: false}},
		}
		assert.ErrorIs(t, CanRegister(s, &pol, "alice", "s1"), ErrGroupFull)
	})

	t.Run("free seat", func(t *testing.T) {
		s := &Snapshot{Slots: []model.Slot{slot("s1", intp(2))},
			Registrations: []model.Registration{{ID: "r1", SlotID: "s1", UserID: "bob", Confirmed: true}}}
		assert.NoError(t, CanRegister(s, &pol, "alice", "s1"))
	})
}

func TestCanQueueChecks(t *testing.T) {
	full := func() *Snapshot {
		return &Snapshot{
			Slots:         []model.Slot{slot("s1", intp(1))},
			Registrations: []model.Registration{{ID: "r1", SlotID: "s1", UserID: "bob", Confirmed: true}},
		}
	}

	t.Run("queueing disabled", func(t *testing.T) {
		pol := singlePolicy()
		pol.QueueingOn = false
		assert.ErrorIs(t, CanQueue(full(), &pol, "alice", "s1"), ErrQueueingDisabled)
	})

	t.Run("slot queue limit from slot", func(t *testing.T) {
		pol := singlePolicy()
		s := full()
		s.Slots[0].QueueLimit = intp(1)
		s.Queue = []model.QueueEntry{{ID: "q1", SlotID: "s1", UserID: "carol"}}
		assert.ErrorIs(t, CanQueue(s, &pol, "alice", "s1"), ErrSlotQueueFull)
	})

	t.Run("slot queue limit from policy default", func(t *testing.T) {
		pol := singlePolicy()
		pol.SlotQueueLimit = intp(1)
		s := full()
		s.Queue = []model.QueueEntry{{ID: "q1", SlotID: "s1", UserID: "carol"}}
		assert.ErrorIs(t, CanQueue(s, &pol, "alice", "s1"), ErrSlotQueueFull)
	})

	t.Run("user queue limit", func(t *testing.T) {
		pol := multiPolicy(1, 3)
		pol.UserQueueLimit = intp(1)
		s := full()
		s.Slots = append(s.Slots, slot("s2", intp(1)))
		s.Queue = []model.QueueEntry{{ID: "q1", SlotID: "s2", UserID: "alice"}}
		assert.ErrorIs(t, CanQueue(s, &pol, "alice", "s1"), ErrUserQueueLimit)
	})

	t.Run("admitted", func(t *testing.T) {
		pol := singlePolicy()
		assert.NoError(t, CanQueue(full(), &pol, "alice", "s1"))
	})
}

func TestDecideFallback(t *testing.T) {
	t.Run("register greedily", func(t *testing.T) {
		pol := singlePolicy()
		s := &Snapshot{Slots: []model.Slot{slot("s1", intp(1))}}
		dec, err := Decide(s, &pol, "alice", "s1")
		assert.NoError(t, err)
		assert.Equal(t, OutcomeRegistered, dec.Outcome)
	})

	t.Run("degrade to queue on full group", func(t *testing.T) {
		pol := singlePolicy()
		s := &Snapshot{
			Slots:         []model.Slot{slot("s1", intp(1))},
			Registrations: []model.Registration{{ID: "r1", SlotID: "s1", UserID: "bob", Confirmed: true}},
		}
		dec, err := Decide(s, &pol, "alice", "s1")
		assert.NoError(t, err)
		assert.Equal(t, OutcomeQueued, dec.Outcome)
	})

	t.Run("degrade to mark below minimum", func(t *testing.T) {
		pol := multiPolicy(2, 3)
		s := &Snapshot{Slots: []model.Slot{slot("s1", intp(5)), slot("s2", intp(5))}}
		dec, err := Decide(s, &pol, "alice", "s1")
		assert.NoError(t, err)
		assert.Equal(t, OutcomeMarked, dec.Outcome)
	})

	t.Run("second selection completes the minimum", func(t *testing.T) {
		pol := multiPolicy(2, 3)
		s := &Snapshot{
			Slots:         []model.Slot{slot("s1", intp(5)), slot("s2", intp(5))},
			Registrations: []model.Registration{{ID: "m1", SlotID: "s1", UserID: "alice", Confirmed: false}},
		}
		dec, err := Decide(s, &pol, "alice", "s2")
		assert.NoError(t, err)
		assert.Equal(t, OutcomeRegistered, dec.Outcome)
	})

	t.Run("mark against full slot uses queue checks", func(t *testing.T) {
		pol := multiPolicy(2, 3)
		pol.QueueingOn = false
		s := &Snapshot{
			Slots:         []model.Slot{slot("s1", intp(1)), slot("s2", intp(5))},
			Registrations: []model.Registration{{ID: "r1", SlotID: "s1", UserID: "bob", Confirmed: true}},
		}
		_, err := Decide(s, &pol, "alice", "s1")
		assert.ErrorIs(t, err, ErrQueueingDisabled)
	})
}

func TestCanUnregister(t *testing.T) {
	t.Run("disabled by policy", func(t *testing.T) {
		pol := singlePolicy()
		pol.AllowUnreg = false
		s := &Snapshot{
			Slots:         []model.Slot{slot("s1", nil)},
			Registrations: []model.Registration{{ID: "r1", SlotID: "s1", UserID: "alice", Confirmed: true}},
		}
		assert.ErrorIs(t, CanUnregister(s, &pol, "alice", "s1"), ErrUnregDisabled)
	})

	t.Run("nothing to remove", func(t *testing.T) {
		pol := singlePolicy()
		s := &Snapshot{Slots: []model.Slot{slot("s1", nil)}}
		assert.ErrorIs(t, CanUnregister(s, &pol, "alice", "s1"), ErrNotRegistered)
	})

	t.Run("dropping to zero is exempt from the minimum", func(t *testing.T) {
		pol := multiPolicy(2, 3)
		s := &Snapshot{
			Slots:         []model.Slot{slot("s1", nil)},
			Registrations: []model.Registration{{ID: "r1", SlotID: "s1", UserID: "alice", Confirmed: true}},
		}
		assert.NoError(t, CanUnregister(s, &pol, "alice", "s1"))
	})

	t.Run("too few remaining", func(t *testing.T) {
		pol := multiPolicy(2, 3)
		s := &Snapshot{
			Slots: []model.Slot{slot("s1", nil), slot("s2", nil)},
			Registrations: []model.Registration{
				{ID: "r1", SlotID: "s1", UserID: "alice", Confirmed: true},
				{ID: "r2", SlotID: "s2", UserID: "alice", Confirmed: true},
			},
		}
		assert.ErrorIs(t, CanUnregister(s, &pol, "alice", "s1"), ErrTooFewRemaining)
	})

	t.Run("marks are discarded freely", func(t *testing.T) {
		pol := multiPolicy(3, 4)
		s := &Snapshot{
			Slots: []model.Slot{slot("s1", nil), slot("s2", nil)},
			Registrations: []model.Registration{
				{ID: "m1", SlotID: "s1", UserID: "alice", Confirmed: false},
				{ID: "m2", SlotID: "s2", UserID: "alice", Confirmed: false},
			},
		}
		assert.NoError(t, CanUnregister(s, &pol, "alice", "s1"))
	})
}

func TestWindowOpen(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	pol := model.Policy{}
	assert.True(t, pol.WindowOpen(now))

	pol.OpensAt = &future
	assert.False(t, pol.WindowOpen(now))

	pol.OpensAt = &past
	pol.ClosesAt = &future
	assert.True(t, pol.WindowOpen(now))

	pol.ClosesAt = &past
	assert.False(t, pol.WindowOpen(now))
}
