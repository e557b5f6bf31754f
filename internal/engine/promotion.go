package engine

import (
	"time"

	"github.com/academic-moodle-cooperation/moodle-mod-grouptool-sub000/internal/model"
)

// ActionKind enumerates the ledger writes a plan can contain.
type ActionKind int

const (
	// ActionRegister creates a firm registration.
	ActionRegister ActionKind = iota + 1
	// ActionConfirmMark flips an existing mark row to a firm registration.
	ActionConfirmMark
	// ActionEnqueue creates a queue entry.
	ActionEnqueue
	// ActionDropMark deletes a mark row.
	ActionDropMark
	// ActionDropQueueEntry deletes a queue entry.
	ActionDropQueueEntry
)

// Action is one ledger write within a plan. Plans are applied in order; the
// engine has already applied them to its snapshot, so committing them to the
// ledger reproduces the snapshot state.
type Action struct {
	Kind       ActionKind
	SlotID     string
	UserID     string
	RegID      string    // ConfirmMark / DropMark
	EntryID    string    // DropQueueEntry
	Priority   bool      // Enqueue
	FromSlotID string    // Register: slot the user came from (promotion / move)
	CreatedAt  time.Time // Enqueue / Register; zero means "commit time"
}

// Move records one successful relocation performed by a queue resolution
// run.
type Move struct {
	UserID     string `json:"user_id"`
	FromSlotID string `json:"from_slot_id"`
	ToSlotID   string `json:"to_slot_id"`
}

// Failure records one user a resolution run could not place.
type Failure struct {
	UserID string `json:"user_id"`
	SlotID string `json:"slot_id"`
	Reason error  `json:"-"`
}

// ResolveReport is the outcome of an instance-wide queue resolution run.
// A preview run produces the identical report without committing anything.
type ResolveReport struct {
	Moves    []Move
	Failures []Failure
}

// PlanConvertMarks converts the user's outstanding marks now that their
// aggregate selections satisfy the minimum. Each mark is re-checked against
// current capacity: marks whose seat is still theirs become firm
// registrations, marks against a full slot become queue entries. The first
// conversion that cannot proceed (typically ErrUserQueueLimit) stops the
// plan; actions already planned stay valid and must still be committed.
// Partial commitment is accepted, not rolled back.
func PlanConvertMarks(s *Snapshot, pol *model.Policy, userID string) ([]Action, error) {
	marks := userMarks(s, userID)
	var actions []Action
	for _, m := range marks {
		sl := s.Slot(m.SlotID)
		if sl == nil {
			continue
		}
		if !sl.Bounded() || confirmedInSlot(s, m.SlotID) < *sl.Capacity {
			actions = append(actions, Action{
				Kind:   ActionConfirmMark,
				SlotID: m.SlotID,
				UserID: userID,
				RegID:  m.ID,
			})
			s.confirmMark(m.ID)
			continue
		}
		// Seat is gone; the mark degrades to a queue entry.
		if err := canConvertToQueue(s, pol, userID, sl); err != nil {
			return actions, err
		}
		actions = append(actions,
			Action{Kind: ActionDropMark, SlotID: m.SlotID, UserID: userID, RegID: m.ID},
			Action{
				Kind:      ActionEnqueue,
				SlotID:    m.SlotID,
				UserID:    userID,
				Priority:  s.ConfirmedCount(userID) < pol.MinSelections,
				CreatedAt: m.CreatedAt,
			},
		)
		s.removeRegistration(m.ID)
		s.Queue = append(s.Queue, model.QueueEntry{
			SlotID:    m.SlotID,
			UserID:    userID,
			Priority:  s.ConfirmedCount(userID) < pol.MinSelections,
			CreatedAt: m.CreatedAt,
		})
	}
	return actions, nil
}

// canConvertToQueue is the queue admission check for a mark that lost its
// seat. The user is still present via the mark itself, so the AlreadyPresent
// rule does not apply, and the mark→queue swap keeps the selection total
// unchanged, so the maximum is not re-checked.
func canConvertToQueue(s *Snapshot, pol *model.Policy, userID string, sl *model.Slot) error {
	if !pol.QueueingOn {
		return ErrQueueingDisabled
	}
	limit := sl.QueueLimit
	if limit == nil {
		limit = pol.SlotQueueLimit
	}
	if limit != nil && s.QueueLen(sl.ID) >= *limit {
		return ErrSlotQueueFull
	}
	if pol.UserQueueLimit != nil && s.QueuedCount(userID) >= *pol.UserQueueLimit {
		return ErrUserQueueLimit
	}
	return nil
}

// PlanFill promotes queued users into a slot while it has free capacity:
// fill-on-vacate. Promoting a user can push them to the selection maximum,
// which invalidates their queue entries and marks elsewhere; discarded marks
// free seats in other slots, so those slots are filled in turn.
func PlanFill(s *Snapshot, pol *model.Policy, slotID string) []Action {
	var actions []Action
	work := []string{slotID}
	for len(work) > 0 {
		id := work[0]
		work = work[1:]
		sl := s.Slot(id)
		if sl == nil || !sl.Active {
			continue
		}
		for s.HasFreeCapacity(sl) {
			queue := Sorted(s.SlotQueue(id))
			if len(queue) == 0 {
				break
			}
			next := queue[0]
			actions = append(actions,
				Action{Kind: ActionDropQueueEntry, SlotID: id, UserID: next.UserID, EntryID: next.ID},
				Action{Kind: ActionRegister, SlotID: id, UserID: next.UserID, FromSlotID: id},
			)
			s.removeQueueEntry(next.ID)
			s.Registrations = append(s.Registrations, model.Registration{
				SlotID:    id,
				UserID:    next.UserID,
				Confirmed: true,
				CreatedAt: next.CreatedAt,
			})
			actions = append(actions, cleanupAtMax(s, pol, next.UserID, &work)...)
		}
	}
	return actions
}

// cleanupAtMax discards a user's pending queue entries and marks once their
// firm registrations have reached the selection maximum. Slots that lose a
// mark regain a seat and are appended to the fill worklist.
func cleanupAtMax(s *Snapshot, pol *model.Policy, userID string, work *[]string) []Action {
	if pol.MaxSelections <= 0 || s.ConfirmedCount(userID) < pol.MaxSelections {
		return nil
	}
	var actions []Action
	for _, e := range append([]model.QueueEntry(nil), s.Queue...) {
		if e.UserID != userID {
			continue
		}
		actions = append(actions, Action{Kind: ActionDropQueueEntry, SlotID: e.SlotID, UserID: userID, EntryID: e.ID})
		s.removeQueueEntry(e.ID)
	}
	for _, m := range userMarks(s, userID) {
		actions = append(actions, Action{Kind: ActionDropMark, SlotID: m.SlotID, UserID: userID, RegID: m.ID})
		s.removeRegistration(m.ID)
		if work != nil {
			*work = append(*work, m.SlotID)
		}
	}
	return actions
}

// PlanResolve is the instance-wide reconciliation run. Queue entries are
// visited in promotion order; for each, a cursor walks the active slots in
// sort order (forward only, never wrapping) looking for the first slot
// with a free seat where the user neither holds a registration, waits in
// another queue entry, nor was placed earlier in this run. Users no slot
// can take are reported and skipped; the run never aborts on a single user.
func PlanResolve(s *Snapshot, pol *model.Policy) (ResolveReport, []Action) {
	var (
		report  ResolveReport
		actions []Action
	)
	slots := s.ActiveSlots()
	placed := make(map[string]map[string]bool)
	for _, e := range Sorted(s.Queue) {
		if !entryAlive(s, e.ID) {
			// Dropped by an earlier promotion's cleanup.
			continue
		}
		target := ""
		for i := range slots {
			sl := &slots[i]
			if !s.HasFreeCapacity(sl) {
				continue
			}
			if s.Registration(e.UserID, sl.ID) != nil {
				continue
			}
			if qe := s.QueueEntry(e.UserID, sl.ID); qe != nil && qe.ID != e.ID {
				// The user already waits there; that entry gets its own turn.
				continue
			}
			if placed[e.UserID][sl.ID] {
				continue
			}
			target = sl.ID
			break
		}
		if target == "" {
			report.Failures = append(report.Failures, Failure{
				UserID: e.UserID,
				SlotID: e.SlotID,
				Reason: ErrAllSlotsExhausted,
			})
			continue
		}
		actions = append(actions,
			Action{Kind: ActionDropQueueEntry, SlotID: e.SlotID, UserID: e.UserID, EntryID: e.ID},
			Action{Kind: ActionRegister, SlotID: target, UserID: e.UserID, FromSlotID: e.SlotID},
		)
		s.removeQueueEntry(e.ID)
		s.Registrations = append(s.Registrations, model.Registration{
			SlotID:    target,
			UserID:    e.UserID,
			Confirmed: true,
			CreatedAt: e.CreatedAt,
		})
		if placed[e.UserID] == nil {
			placed[e.UserID] = make(map[string]bool)
		}
		placed[e.UserID][target] = true
		report.Moves = append(report.Moves, Move{UserID: e.UserID, FromSlotID: e.SlotID, ToSlotID: target})
		actions = append(actions, cleanupAtMax(s, pol, e.UserID, nil)...)
	}
	return report, actions
}

func entryAlive(s *Snapshot, id string) bool {
	for i := range s.Queue {
		if s.Queue[i].ID == id {
			return true
		}
	}
	return false
}

func userMarks(s *Snapshot, userID string) []model.Registration {
	var out []model.Registration
	for _, r := range s.Registrations {
		if r.UserID == userID && r.Mark() {
			out = append(out, r)
		}
	}
	return out
}

func confirmedInSlot(s *Snapshot, slotID string) int {
	n := 0
	for i := range s.Registrations {
		if s.Registrations[i].SlotID == slotID && s.Registrations[i].Confirmed {
			n++
		}
	}
	return n
}
