package engine

import (
	"testing"
	"time"

	"github.com/academic-moodle-cooperation/moodle-mod-grouptool-sub000/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanConvertMarksConfirmsHeldSeats(t *testing.T) {
	pol := multiPolicy(2, 3)
	s := &Snapshot{
		Slots: []model.Slot{slot("s1", intp(5)), slot("s2", intp(5))},
		Registrations: []model.Registration{
			{ID: "m1", SlotID: "s1", UserID: "alice", Confirmed: false, CreatedAt: time.Unix(100, 0)},
			{ID: "m2", SlotID: "s2", UserID: "alice", Confirmed: false, CreatedAt: time.Unix(200, 0)},
		},
	}
	actions, err := PlanConvertMarks(s, &pol, "alice")
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, ActionConfirmMark, actions[0].Kind)
	assert.Equal(t, "m1", actions[0].RegID)
	assert.Equal(t, ActionConfirmMark, actions[1].Kind)
	assert.Equal(t, "m2", actions[1].RegID)
	assert.Equal(t, 2, s.ConfirmedCount("alice"))
}

func TestPlanConvertMarksDegradesToQueueWhenSeatLost(t *testing.T) {
	// Capacity was cut to zero after the mark was taken; the mark must
	// fall back into the queue, keeping its original timestamp.
	pol := multiPolicy(2, 3)
	at := time.Unix(100, 0)
	s := &Snapshot{
		Slots: []model.Slot{slot("s1", intp(0)), slot("s2", intp(5))},
		Registrations: []model.Registration{
			{ID: "m1", SlotID: "s1", UserID: "alice", Confirmed: false, CreatedAt: at},
		},
	}
	actions, err := PlanConvertMarks(s, &pol, "alice")
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, ActionDropMark, actions[0].Kind)
	assert.Equal(t, ActionEnqueue, actions[1].Kind)
	assert.Equal(t, at, actions[1].CreatedAt)
	assert.Equal(t, 1, s.QueueLen("s1"))
}

func TestPlanConvertMarksPartialFailure(t *testing.T) {
	// Two marks lost their seats; the user may hold only one queue entry.
	// The first converts, the second fails and stays unplanned.
	pol := multiPolicy(2, 4)
	pol.UserQueueLimit = intp(1)
	s := &Snapshot{
		Slots: []model.Slot{slot("s1", intp(0)), slot("s2", intp(0))},
		Registrations: []model.Registration{
			{ID: "m1", SlotID: "s1", UserID: "alice", Confirmed: false, CreatedAt: time.Unix(100, 0)},
			{ID: "m2", SlotID: "s2", UserID: "alice", Confirmed: false, CreatedAt: time.Unix(200, 0)},
		},
	}
	actions, err := PlanConvertMarks(s, &pol, "alice")
	assert.ErrorIs(t, err, ErrUserQueueLimit)
	require.Len(t, actions, 2)
	assert.Equal(t, ActionDropMark, actions[0].Kind)
	assert.Equal(t, "m1", actions[0].RegID)
	assert.Equal(t, ActionEnqueue, actions[1].Kind)
}

func TestPlanFillPromotesBestRankedEntry(t *testing.T) {
	pol := singlePolicy()
	s := &Snapshot{
		Slots: []model.Slot{slot("s1", intp(1))},
		Queue: []model.QueueEntry{
			{ID: "q1", SlotID: "s1", UserID: "bob", CreatedAt: time.Unix(200, 0), Seq: 2},
			{ID: "q2", SlotID: "s1", UserID: "carol", Priority: true, CreatedAt: time.Unix(300, 0), Seq: 3},
		},
	}
	actions := PlanFill(s, &pol, "s1")
	require.Len(t, actions, 2)
	assert.Equal(t, ActionDropQueueEntry, actions[0].Kind)
	assert.Equal(t, "q2", actions[0].EntryID, "priority entry promotes first")
	assert.Equal(t, ActionRegister, actions[1].Kind)
	assert.Equal(t, "carol", actions[1].UserID)
	// The slot is full again; bob stays queued.
	assert.Equal(t, 1, s.Occupied("s1"))
	assert.Equal(t, 1, s.QueueLen("s1"))
}

func TestPlanFillStopsAtCapacity(t *testing.T) {
	pol := singlePolicy()
	s := &Snapshot{
		Slots: []model.Slot{slot("s1", intp(1))},
		Registrations: []model.Registration{
			{ID: "r1", SlotID: "s1", UserID: "alice", Confirmed: true},
		},
		Queue: []model.QueueEntry{
			{ID: "q1", SlotID: "s1", UserID: "bob", CreatedAt: time.Unix(100, 0), Seq: 1},
		},
	}
	assert.Empty(t, PlanFill(s, &pol, "s1"))
}

func TestPlanFillCascadesThroughFreedMarks(t *testing.T) {
	// bob is promoted in s1, reaches the maximum, and his mark in s2 is
	// discarded; the freed seat in s2 promotes carol in turn.
	pol := multiPolicy(1, 1)
	s := &Snapshot{
		Slots: []model.Slot{slot("s1", intp(1)), slot("s2", intp(1))},
		Registrations: []model.Registration{
			{ID: "m1", SlotID: "s2", UserID: "bob", Confirmed: false, CreatedAt: time.Unix(50, 0)},
		},
		Queue: []model.QueueEntry{
			{ID: "q1", SlotID: "s1", UserID: "bob", CreatedAt: time.Unix(100, 0), Seq: 1},
			{ID: "q2", SlotID: "s2", UserID: "carol", CreatedAt: time.Unix(200, 0), Seq: 2},
		},
	}
	actions := PlanFill(s, &pol, "s1")

	var kinds []ActionKind
	for _, a := range actions {
		kinds = append(kinds, a.Kind)
	}
	assert.Equal(t, []ActionKind{
		ActionDropQueueEntry, ActionRegister, // bob into s1
		ActionDropMark,                       // bob's mark in s2 discarded
		ActionDropQueueEntry, ActionRegister, // carol into s2
	}, kinds)
	assert.Equal(t, 1, s.ConfirmedCount("bob"))
	assert.Equal(t, 1, s.ConfirmedCount("carol"))
	assert.Empty(t, s.Queue)
}

func TestPlanResolveMovesAndReports(t *testing.T) {
	pol := singlePolicy()
	s := &Snapshot{
		Slots: []model.Slot{
			{ID: "s1", InstanceID: "inst", GroupID: "g1", Capacity: intp(1), Active: true, SortOrder: 1},
			{ID: "s2", InstanceID: "inst", GroupID: "g2", Capacity: intp(1), Active: true, SortOrder: 2},
		},
		Registrations: []model.Registration{
			{ID: "r1", SlotID: "s1", UserID: "alice", Confirmed: true},
		},
		Queue: []model.QueueEntry{
			{ID: "q1", SlotID: "s1", UserID: "bob", CreatedAt: time.Unix(100, 0), Seq: 1},
		},
	}
	report, actions := PlanResolve(s, &pol)
	require.Len(t, report.Moves, 1)
	assert.Equal(t, Move{UserID: "bob", FromSlotID: "s1", ToSlotID: "s2"}, report.Moves[0])
	assert.Empty(t, report.Failures)
	require.Len(t, actions, 2)
	assert.Equal(t, 1, s.Occupied("s2"))
}

func TestPlanResolveRecordsExhaustedUsers(t *testing.T) {
	pol := singlePolicy()
	s := &Snapshot{
		Slots: []model.Slot{
			{ID: "s1", InstanceID: "inst", GroupID: "g1", Capacity: intp(1), Active: true, SortOrder: 1},
		},
		Registrations: []model.Registration{
			{ID: "r1", SlotID: "s1", UserID: "alice", Confirmed: true},
		},
		Queue: []model.QueueEntry{
			{ID: "q1", SlotID: "s1", UserID: "bob", CreatedAt: time.Unix(100, 0), Seq: 1},
			{ID: "q2", SlotID: "s1", UserID: "carol", CreatedAt: time.Unix(200, 0), Seq: 2},
		},
	}
	report, actions := PlanResolve(s, &pol)
	assert.Empty(t, actions)
	assert.Empty(t, report.Moves)
	require.Len(t, report.Failures, 2)
	assert.ErrorIs(t, report.Failures[0].Reason, ErrAllSlotsExhausted)
}

func TestPlanResolveNeverDuplicatesAWaitingUser(t *testing.T) {
	// bob waits in s1 and s2; s2 has a free seat. His s1 entry must not
	// register him into s2 over his own surviving queue entry there: the
	// s2 entry is consumed by its own turn instead.
	pol := multiPolicy(1, 2)
	s := &Snapshot{
		Slots: []model.Slot{
			{ID: "s1", InstanceID: "inst", GroupID: "g1", Capacity: intp(1), Active: true, SortOrder: 1},
			{ID: "s2", InstanceID: "inst", GroupID: "g2", Capacity: intp(1), Active: true, SortOrder: 2},
		},
		Registrations: []model.Registration{
			{ID: "r1", SlotID: "s1", UserID: "alice", Confirmed: true},
		},
		Queue: []model.QueueEntry{
			{ID: "q1", SlotID: "s1", UserID: "bob", CreatedAt: time.Unix(100, 0), Seq: 1},
			{ID: "q2", SlotID: "s2", UserID: "bob", CreatedAt: time.Unix(200, 0), Seq: 2},
		},
	}
	report, _ := PlanResolve(s, &pol)
	require.Len(t, report.Moves, 1)
	assert.Equal(t, Move{UserID: "bob", FromSlotID: "s2", ToSlotID: "s2"}, report.Moves[0])
	assert.NotNil(t, s.Registration("bob", "s2"))
	assert.Nil(t, s.QueueEntry("bob", "s2"), "placed users hold no leftover entry")
}

func TestPlanResolveIsDeterministic(t *testing.T) {
	build := func() *Snapshot {
		return &Snapshot{
			Slots: []model.Slot{
				{ID: "s1", InstanceID: "inst", GroupID: "g1", Capacity: intp(1), Active: true, SortOrder: 1},
				{ID: "s2", InstanceID: "inst", GroupID: "g2", Capacity: intp(2), Active: true, SortOrder: 2},
			},
			Registrations: []model.Registration{
				{ID: "r1", SlotID: "s1", UserID: "alice", Confirmed: true},
			},
			Queue: []model.QueueEntry{
				{ID: "q1", SlotID: "s1", UserID: "bob", CreatedAt: time.Unix(100, 0), Seq: 1},
				{ID: "q2", SlotID: "s1", UserID: "carol", CreatedAt: time.Unix(100, 0), Seq: 2},
			},
		}
	}
	pol := singlePolicy()
	first, _ := PlanResolve(build(), &pol)
	second, _ := PlanResolve(build(), &pol)
	assert.Equal(t, first, second)
}
