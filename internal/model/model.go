// Package model defines the core domain types for the group registration
// and queue allocation engine.
package model

import "time"

// Slot is a capacity pool tied to one external group. It is the unit of
// registration within an instance.
type Slot struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instance_id"`
	GroupID    string    `json:"group_id"`
	Capacity   *int      `json:"capacity"`    // nil = unbounded
	QueueLimit *int      `json:"queue_limit"` // nil = unbounded
	Active     bool      `json:"active"`
	SortOrder  int       `json:"sort_order"`
	CreatedAt  time.Time `json:"created_at"`
}

// Bounded reports whether the slot has a finite capacity.
func (s *Slot) Bounded() bool {
	return s.Capacity != nil
}

// Registration is a user's membership in a slot. Confirmed registrations are
// firm; unconfirmed rows are provisional marks held until the user's
// aggregate selection count reaches the instance minimum.
type Registration struct {
	ID        string    `json:"id"`
	SlotID    string    `json:"slot_id"`
	UserID    string    `json:"user_id"`
	Confirmed bool      `json:"confirmed"`
	ActorID   string    `json:"actor_id"` // who performed the mutation; equals UserID for self-registration
	CreatedAt time.Time `json:"created_at"`
}

// Mark reports whether the row is a provisional mark rather than a firm
// registration.
func (r *Registration) Mark() bool {
	return !r.Confirmed
}

// QueueEntry is a waitlisted membership. Priority is captured at enqueue
// time; Seq is assigned by the ledger on insert and breaks timestamp ties.
type QueueEntry struct {
	ID        string    `json:"id"`
	SlotID    string    `json:"slot_id"`
	UserID    string    `json:"user_id"`
	Priority  bool      `json:"priority"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// Policy is the per-instance configuration governing registration.
type Policy struct {
	InstanceID     string     `json:"instance_id"`
	AllowMultiple  bool       `json:"allow_multiple"`
	MinSelections  int        `json:"min_selections"`
	MaxSelections  int        `json:"max_selections"` // 0 = unbounded
	QueueingOn     bool       `json:"queueing_on"`
	UserQueueLimit *int       `json:"user_queue_limit"` // nil = unbounded
	SlotQueueLimit *int       `json:"slot_queue_limit"` // default for slots without their own limit; nil = unbounded
	AllowUnreg     bool       `json:"allow_unreg"`
	ImmediateSync  bool       `json:"immediate_sync"` // propagate registrations to the external group at once
	OpensAt        *time.Time `json:"opens_at"`       // nil = always open
	ClosesAt       *time.Time `json:"closes_at"`      // nil = never closes
}

// WindowOpen reports whether the registration window is open at t.
func (p *Policy) WindowOpen(t time.Time) bool {
	if p.OpensAt != nil && t.Before(*p.OpensAt) {
		return false
	}
	if p.ClosesAt != nil && t.After(*p.ClosesAt) {
		return false
	}
	return true
}

// DefaultPolicy returns the configuration an instance starts with before an
// administrator edits it.
func DefaultPolicy(instanceID string) Policy {
	return Policy{
		InstanceID:    instanceID,
		AllowMultiple: false,
		MinSelections: 1,
		MaxSelections: 1,
		QueueingOn:    false,
		AllowUnreg:    true,
	}
}

// SlotStats summarises one slot for reporting collaborators.
type SlotStats struct {
	Slot       Slot `json:"slot"`
	Registered int  `json:"registered"`
	Marked     int  `json:"marked"`
	Queued     int  `json:"queued"`
	Free       *int `json:"free"` // nil when capacity is unbounded
}

// UserSlotStatus describes one user's standing in one slot.
type UserSlotStatus struct {
	SlotID     string `json:"slot_id"`
	Registered bool   `json:"registered"`
	Marked     bool   `json:"marked"`
	Queued     bool   `json:"queued"`
	Rank       int    `json:"rank,omitempty"` // 1-based queue position, 0 when not queued
}

// UserStats aggregates a user's commitments across an instance.
type UserStats struct {
	UserID        string           `json:"user_id"`
	Registrations int              `json:"registrations"`
	Marks         int              `json:"marks"`
	Queued        int              `json:"queued"`
	Slots         []UserSlotStatus `json:"slots"`
}

// CreateSlotRequest is the payload for attaching an external group to an
// instance as a new registration slot.
type CreateSlotRequest struct {
	GroupID    string `json:"group_id"`
	Capacity   *int   `json:"capacity"`
	QueueLimit *int   `json:"queue_limit"`
	SortOrder  int    `json:"sort_order"`
}

// UpdateSlotRequest carries partial edits to a slot's configuration.
type UpdateSlotRequest struct {
	Capacity   *int  `json:"capacity"`
	QueueLimit *int  `json:"queue_limit"`
	Active     *bool `json:"active"`
	SortOrder  *int  `json:"sort_order"`
}

// RegisterRequest is the payload for register/unregister commands.
type RegisterRequest struct {
	UserID  string `json:"user_id"`
	ActorID string `json:"actor_id"` // empty means the user acts for themselves
}

// ChangeGroupRequest moves a user's single unambiguous commitment into a
// different slot.
type ChangeGroupRequest struct {
	UserID       string `json:"user_id"`
	TargetSlotID string `json:"target_slot_id"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
