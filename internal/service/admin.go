package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/academic-moodle-cooperation/moodle-mod-grouptool-sub000/internal/engine"
	"github.com/academic-moodle-cooperation/moodle-mod-grouptool-sub000/internal/model"
	"github.com/academic-moodle-cooperation/moodle-mod-grouptool-sub000/internal/store"
)

// CreateSlot attaches an external group to an instance as a new active
// registration slot.
func (s *Service) CreateSlot(ctx context.Context, instanceID string, req model.CreateSlotRequest) (model.Slot, error) {
	req.GroupID = strings.TrimSpace(req.GroupID)
	if instanceID == "" {
		return model.Slot{}, fmt.Errorf("instance id is required")
	}
	if req.GroupID == "" {
		return model.Slot{}, fmt.Errorf("group id is required")
	}
	if req.Capacity != nil && *req.Capacity < 0 {
		return model.Slot{}, fmt.Errorf("capacity must not be negative")
	}
	if req.QueueLimit != nil && *req.QueueLimit < 0 {
		return model.Slot{}, fmt.Errorf("queue limit must not be negative")
	}

	unlock := s.lock(instanceID)
	defer unlock()

	slot := model.Slot{
		InstanceID: instanceID,
		GroupID:    req.GroupID,
		Capacity:   req.Capacity,
		QueueLimit: req.QueueLimit,
		Active:     true,
		SortOrder:  req.SortOrder,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.ledger.CreateSlot(ctx, &slot); err != nil {
		return model.Slot{}, fmt.Errorf("create slot: %w", err)
	}
	return slot, nil
}

// UpdateSlot applies partial edits to a slot's configuration. Withdrawing a
// slot from use deactivates it; nothing is ever deleted. Raising the
// capacity of a slot with a waiting queue back-fills the new seats at once.
func (s *Service) UpdateSlot(ctx context.Context, slotID string, req model.UpdateSlotRequest) (model.Slot, error) {
	sl, err := s.ledger.GetSlot(ctx, slotID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Slot{}, engine.ErrSlotNotFound
		}
		return model.Slot{}, fmt.Errorf("get slot: %w", err)
	}

	unlock := s.lock(sl.InstanceID)
	defer unlock()

	grewCapacity := false
	if req.Capacity != nil {
		if *req.Capacity < 0 {
			return model.Slot{}, fmt.Errorf("capacity must not be negative")
		}
		grewCapacity = sl.Capacity == nil || *req.Capacity > *sl.Capacity
		sl.Capacity = req.Capacity
	}
	if req.QueueLimit != nil {
		if *req.QueueLimit < 0 {
			return model.Slot{}, fmt.Errorf("queue limit must not be negative")
		}
		sl.QueueLimit = req.QueueLimit
	}
	if req.Active != nil {
		sl.Active = *req.Active
	}
	if req.SortOrder != nil {
		sl.SortOrder = *req.SortOrder
	}
	if err := s.ledger.UpdateSlot(ctx, sl); err != nil {
		return model.Slot{}, fmt.Errorf("update slot: %w", err)
	}

	if grewCapacity && sl.Active {
		snap, pol, err := s.loadSnapshot(ctx, sl.InstanceID)
		if err != nil {
			return sl, err
		}
		actions := engine.PlanFill(snap, &pol, sl.ID)
		if err := s.commit(ctx, sl.InstanceID, snap, actions); err != nil {
			return sl, err
		}
	}
	return sl, nil
}

// Policy returns the instance's configuration, defaults included.
func (s *Service) Policy(ctx context.Context, instanceID string) (model.Policy, error) {
	return s.ledger.GetPolicy(ctx, instanceID)
}

// PutPolicy validates and stores an instance's configuration.
func (s *Service) PutPolicy(ctx context.Context, pol model.Policy) error {
	if pol.InstanceID == "" {
		return fmt.Errorf("instance id is required")
	}
	if pol.MinSelections < 0 || pol.MaxSelections < 0 {
		return fmt.Errorf("selection bounds must not be negative")
	}
	if pol.MaxSelections > 0 && pol.MinSelections > pol.MaxSelections {
		return fmt.Errorf("minimum selections cannot exceed the maximum")
	}
	if pol.UserQueueLimit != nil && *pol.UserQueueLimit < 0 {
		return fmt.Errorf("user queue limit must not be negative")
	}
	if pol.SlotQueueLimit != nil && *pol.SlotQueueLimit < 0 {
		return fmt.Errorf("slot queue limit must not be negative")
	}
	if pol.OpensAt != nil && pol.ClosesAt != nil && pol.ClosesAt.Before(*pol.OpensAt) {
		return fmt.Errorf("registration window closes before it opens")
	}
	if !pol.AllowMultiple {
		pol.MinSelections = 1
		pol.MaxSelections = 1
	}

	unlock := s.lock(pol.InstanceID)
	defer unlock()
	if err := s.ledger.PutPolicy(ctx, pol); err != nil {
		return fmt.Errorf("put policy: %w", err)
	}
	return nil
}
