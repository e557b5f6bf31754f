package engine

import (
	"errors"

	"github.com/academic-moodle-cooperation/moodle-mod-grouptool-sub000/internal/model"
)

// Outcome tags the effect a legal request will have on the ledger.
type Outcome int

const (
	// OutcomeRegistered means a firm registration is created.
	OutcomeRegistered Outcome = iota + 1
	// OutcomeQueued means a queue entry is created.
	OutcomeQueued
	// OutcomeMarked means a provisional mark is created, to be converted
	// once the user's aggregate selections reach the instance minimum.
	OutcomeMarked
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRegistered:
		return "registered"
	case OutcomeQueued:
		return "queued"
	case OutcomeMarked:
		return "marked"
	}
	return "unknown"
}

// Decision is the tagged result of the three-tier eligibility fallback.
type Decision struct {
	Outcome Outcome
}

// CanRegister checks whether a firm registration of user into slot is legal
// right now. It returns nil or the first violated rule.
func CanRegister(s *Snapshot, pol *model.Policy, userID, slotID string) error {
	sl := s.Slot(slotID)
	if sl == nil || !sl.Active {
		return ErrSlotNotFound
	}
	if s.Present(userID, slotID) {
		return ErrAlreadyPresent
	}
	if pol.MaxSelections > 0 && s.Selections(userID) >= pol.MaxSelections {
		return ErrTooManySelections
	}
	if !s.HasFreeCapacity(sl) {
		return ErrGroupFull
	}
	return nil
}

// CanQueue checks whether queueing user for slot is legal. It is meaningful
// only after CanRegister failed with ErrGroupFull.
func CanQueue(s *Snapshot, pol *model.Policy, userID, slotID string) error {
	sl := s.Slot(slotID)
	if sl == nil || !sl.Active {
		return ErrSlotNotFound
	}
	if s.Present(userID, slotID) {
		return ErrAlreadyPresent
	}
	if !pol.QueueingOn {
		return ErrQueueingDisabled
	}
	limit := sl.QueueLimit
	if limit == nil {
		limit = pol.SlotQueueLimit
	}
	if limit != nil && s.QueueLen(slotID) >= *limit {
		return ErrSlotQueueFull
	}
	if pol.UserQueueLimit != nil && s.QueuedCount(userID) >= *pol.UserQueueLimit {
		return ErrUserQueueLimit
	}
	if pol.MaxSelections > 0 && s.Selections(userID) >= pol.MaxSelections {
		return ErrTooManySelections
	}
	return nil
}

// CanMark checks whether a provisional mark for (user, slot) is legal. A
// mark passes either the registration checks (it claims a free seat) or,
// against a full slot, the queue checks. It never fails for leaving the
// user below the minimum; marks exist to satisfy that minimum later.
func CanMark(s *Snapshot, pol *model.Policy, userID, slotID string) error {
	err := CanRegister(s, pol, userID, slotID)
	if errors.Is(err, ErrGroupFull) {
		return CanQueue(s, pol, userID, slotID)
	}
	return err
}

// NeedsMark reports whether one more selection by the user must stay
// provisional: multi-registration mode with the aggregate still short of
// the minimum even after this selection.
func NeedsMark(s *Snapshot, pol *model.Policy, userID string) bool {
	return pol.AllowMultiple && s.Selections(userID)+1 < pol.MinSelections
}

// Decide runs the central three-tier fallback: register greedily, degrade
// to queueing when the group is full, and degrade further to a provisional
// mark while the user's aggregate selections cannot yet reach the minimum.
func Decide(s *Snapshot, pol *model.Policy, userID, slotID string) (Decision, error) {
	if NeedsMark(s, pol, userID) {
		if err := CanMark(s, pol, userID, slotID); err != nil {
			return Decision{}, err
		}
		return Decision{Outcome: OutcomeMarked}, nil
	}

	err := CanRegister(s, pol, userID, slotID)
	switch {
	case err == nil:
		return Decision{Outcome: OutcomeRegistered}, nil
	case errors.Is(err, ErrGroupFull):
		if qerr := CanQueue(s, pol, userID, slotID); qerr != nil {
			return Decision{}, qerr
		}
		return Decision{Outcome: OutcomeQueued}, nil
	default:
		return Decision{}, err
	}
}

// CanUnregister checks whether removing the user's commitment in slot is
// legal. Marks are discarded freely; firm registrations and queue entries
// are held to the instance minimum unless the user drops to zero.
func CanUnregister(s *Snapshot, pol *model.Policy, userID, slotID string) error {
	sl := s.Slot(slotID)
	if sl == nil {
		return ErrSlotNotFound
	}
	if !pol.AllowUnreg {
		return ErrUnregDisabled
	}
	reg := s.Registration(userID, slotID)
	entry := s.QueueEntry(userID, slotID)
	if reg == nil && entry == nil {
		return ErrNotRegistered
	}
	if reg != nil && reg.Mark() {
		return nil
	}
	remaining := s.Selections(userID) - 1
	if remaining > 0 && remaining < pol.MinSelections {
		return ErrTooFewRemaining
	}
	return nil
}
