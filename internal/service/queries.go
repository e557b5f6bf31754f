package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/academic-moodle-cooperation/moodle-mod-grouptool-sub000/internal/engine"
	"github.com/academic-moodle-cooperation/moodle-mod-grouptool-sub000/internal/model"
	"github.com/academic-moodle-cooperation/moodle-mod-grouptool-sub000/internal/store"
)

// SlotDetail lists one slot's firm registrations, marks and ranked queue
// for reporting collaborators.
type SlotDetail struct {
	Slot          model.Slot           `json:"slot"`
	Registrations []model.Registration `json:"registrations"`
	Marks         []model.Registration `json:"marks"`
	Queue         []model.QueueEntry   `json:"queue"` // in promotion order
}

// ActiveSlots returns per-slot occupancy statistics for an instance.
func (s *Service) ActiveSlots(ctx context.Context, instanceID string, activeOnly bool) ([]model.SlotStats, error) {
	unlock := s.lock(instanceID)
	defer unlock()

	snap, _, err := s.loadSnapshot(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	slots := snap.Slots
	if activeOnly {
		slots = snap.ActiveSlots()
	}
	out := make([]model.SlotStats, 0, len(slots))
	for _, sl := range slots {
		st := model.SlotStats{Slot: sl, Queued: snap.QueueLen(sl.ID)}
		for _, r := range snap.Registrations {
			if r.SlotID != sl.ID {
				continue
			}
			if r.Confirmed {
				st.Registered++
			} else {
				st.Marked++
			}
		}
		if sl.Bounded() {
			free := *sl.Capacity - st.Registered - st.Marked
			if free < 0 {
				free = 0
			}
			st.Free = &free
		}
		out = append(out, st)
	}
	return out, nil
}

// SlotDetail returns the registered and queued users of one slot.
func (s *Service) SlotDetail(ctx context.Context, slotID string) (SlotDetail, error) {
	sl, err := s.ledger.GetSlot(ctx, slotID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return SlotDetail{}, engine.ErrSlotNotFound
		}
		return SlotDetail{}, fmt.Errorf("get slot: %w", err)
	}

	unlock := s.lock(sl.InstanceID)
	defer unlock()

	regs, err := s.ledger.ListSlotRegistrations(ctx, slotID)
	if err != nil {
		return SlotDetail{}, fmt.Errorf("list slot registrations: %w", err)
	}
	queue, err := s.ledger.ListQueueEntries(ctx, sl.InstanceID)
	if err != nil {
		return SlotDetail{}, fmt.Errorf("list queue: %w", err)
	}

	detail := SlotDetail{Slot: sl}
	for _, r := range regs {
		if r.Confirmed {
			detail.Registrations = append(detail.Registrations, r)
		} else {
			detail.Marks = append(detail.Marks, r)
		}
	}
	var slotQueue []model.QueueEntry
	for _, e := range queue {
		if e.SlotID == slotID {
			slotQueue = append(slotQueue, e)
		}
	}
	detail.Queue = engine.Sorted(slotQueue)
	return detail, nil
}

// UserStats aggregates one user's standing across an instance, including
// their rank in every queue they wait in.
func (s *Service) UserStats(ctx context.Context, instanceID, userID string) (model.UserStats, error) {
	if userID == "" {
		return model.UserStats{}, fmt.Errorf("user id is required")
	}
	unlock := s.lock(instanceID)
	defer unlock()

	snap, _, err := s.loadSnapshot(ctx, instanceID)
	if err != nil {
		return model.UserStats{}, err
	}

	stats := model.UserStats{UserID: userID}
	for _, sl := range snap.ActiveSlots() {
		status := model.UserSlotStatus{SlotID: sl.ID}
		if reg := snap.Registration(userID, sl.ID); reg != nil {
			if reg.Confirmed {
				status.Registered = true
				stats.Registrations++
			} else {
				status.Marked = true
				stats.Marks++
			}
		}
		if snap.QueueEntry(userID, sl.ID) != nil {
			status.Queued = true
			status.Rank = engine.Rank(snap.SlotQueue(sl.ID), userID)
			stats.Queued++
		}
		if status.Registered || status.Marked || status.Queued {
			stats.Slots = append(stats.Slots, status)
		}
	}
	return stats, nil
}
