// Package service implements the mutation/transition orchestrator: it runs
// the engine's decisions against ledger snapshots, commits the resulting
// writes, cascades promotions, and emits transition events for
// collaborators.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/academic-moodle-cooperation/moodle-mod-grouptool-sub000/internal/engine"
	"github.com/academic-moodle-cooperation/moodle-mod-grouptool-sub000/internal/events"
	"github.com/academic-moodle-cooperation/moodle-mod-grouptool-sub000/internal/model"
	"github.com/academic-moodle-cooperation/moodle-mod-grouptool-sub000/internal/store"
)

// Service orchestrates all registration commands and queries for any number
// of instances. Commands touching one instance run under that instance's
// critical section, which serialises capacity checks against writes; the
// batch resolve run holds the section for its whole duration.
type Service struct {
	ledger store.Ledger
	bus    *events.Bus

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	now func() time.Time
}

// New constructs a Service. The bus may be nil when no collaborator
// consumes events.
func New(ledger store.Ledger, bus *events.Bus) *Service {
	return &Service{
		ledger: ledger,
		bus:    bus,
		locks:  make(map[string]*sync.Mutex),
		now:    time.Now,
	}
}

// Result is the outcome of a successful (or partially successful) command.
type Result struct {
	Message string         `json:"message"`
	Outcome engine.Outcome `json:"-"`
}

// ResolveResult is the report of a queue resolution run, preview or
// committed.
type ResolveResult struct {
	Preview  bool             `json:"preview"`
	Moves    []engine.Move    `json:"moves"`
	Failures []ResolveFailure `json:"failures"`
}

// ResolveFailure is one user the run could not place.
type ResolveFailure struct {
	UserID string `json:"user_id"`
	SlotID string `json:"slot_id"`
	Reason string `json:"reason"`
}

func (s *Service) lock(instanceID string) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[instanceID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[instanceID] = mu
	}
	s.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// loadSnapshot reads one instance's full ledger state. Callers must hold
// the instance lock.
func (s *Service) loadSnapshot(ctx context.Context, instanceID string) (*engine.Snapshot, model.Policy, error) {
	slots, err := s.ledger.ListSlots(ctx, instanceID, false)
	if err != nil {
		return nil, model.Policy{}, fmt.Errorf("load slots: %w", err)
	}
	regs, err := s.ledger.ListRegistrations(ctx, instanceID)
	if err != nil {
		return nil, model.Policy{}, fmt.Errorf("load registrations: %w", err)
	}
	queue, err := s.ledger.ListQueueEntries(ctx, instanceID)
	if err != nil {
		return nil, model.Policy{}, fmt.Errorf("load queue: %w", err)
	}
	pol, err := s.ledger.GetPolicy(ctx, instanceID)
	if err != nil {
		return nil, model.Policy{}, fmt.Errorf("load policy: %w", err)
	}
	return &engine.Snapshot{Slots: slots, Registrations: regs, Queue: queue}, pol, nil
}

func (s *Service) publish(e events.Event) {
	if s.bus != nil {
		e.At = s.now().UTC()
		s.bus.Publish(e)
	}
}

// Register runs the three-tier decision for (user, slot) and commits its
// effect. When the user's aggregate selections reach the instance minimum,
// all of their outstanding marks are converted; a conversion failure is
// returned alongside the already-committed result.
func (s *Service) Register(ctx context.Context, slotID, userID, actorID string) (Result, error) {
	if userID == "" {
		return Result{}, fmt.Errorf("user id is required")
	}
	if actorID == "" {
		actorID = userID
	}
	sl, err := s.ledger.GetSlot(ctx, slotID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{}, engine.ErrSlotNotFound
		}
		return Result{}, fmt.Errorf("get slot: %w", err)
	}

	unlock := s.lock(sl.InstanceID)
	defer unlock()

	snap, pol, err := s.loadSnapshot(ctx, sl.InstanceID)
	if err != nil {
		return Result{}, err
	}
	if !pol.WindowOpen(s.now()) {
		return Result{}, engine.ErrWindowClosed
	}

	dec, err := engine.Decide(snap, &pol, userID, slotID)
	if err != nil {
		return Result{}, err
	}

	now := s.now().UTC()
	var msg string
	switch dec.Outcome {
	case engine.OutcomeRegistered:
		reg := model.Registration{SlotID: slotID, UserID: userID, Confirmed: true, ActorID: actorID, CreatedAt: now}
		if err := s.ledger.CreateRegistration(ctx, &reg); err != nil {
			return Result{}, fmt.Errorf("create registration: %w", err)
		}
		s.publish(events.Event{
			Kind: events.RegistrationCreated, InstanceID: sl.InstanceID,
			UserID: userID, SlotID: slotID, ToGroupID: sl.GroupID,
		})
		msg = fmt.Sprintf("user %s registered in group %s", userID, sl.GroupID)
	case engine.OutcomeQueued:
		entry := model.QueueEntry{
			SlotID:    slotID,
			UserID:    userID,
			Priority:  snap.ConfirmedCount(userID) < pol.MinSelections,
			CreatedAt: now,
		}
		if err := s.ledger.CreateQueueEntry(ctx, &entry); err != nil {
			return Result{}, fmt.Errorf("create queue entry: %w", err)
		}
		s.publish(events.Event{
			Kind: events.QueueEntryCreated, InstanceID: sl.InstanceID,
			UserID: userID, SlotID: slotID, ToGroupID: sl.GroupID,
		})
		rank := engine.Rank(append(snap.SlotQueue(slotID), entry), userID)
		msg = fmt.Sprintf("group %s is full; user %s queued at position %d", sl.GroupID, userID, rank)
	case engine.OutcomeMarked:
		reg := model.Registration{SlotID: slotID, UserID: userID, Confirmed: false, ActorID: actorID, CreatedAt: now}
		if err := s.ledger.CreateRegistration(ctx, &reg); err != nil {
			return Result{}, fmt.Errorf("create mark: %w", err)
		}
		msg = fmt.Sprintf("user %s provisionally marked for group %s pending %d more selection(s)",
			userID, sl.GroupID, pol.MinSelections-snap.Selections(userID)-1)
	}

	res := Result{Message: msg, Outcome: dec.Outcome}
	if dec.Outcome == engine.OutcomeMarked {
		return res, nil
	}

	// The new commitment may have completed the minimum; convert marks.
	snap, pol, err = s.loadSnapshot(ctx, sl.InstanceID)
	if err != nil {
		return res, err
	}
	if snap.Selections(userID) < pol.MinSelections {
		return res, nil
	}
	actions, convErr := engine.PlanConvertMarks(snap, &pol, userID)
	if err := s.commit(ctx, sl.InstanceID, snap, actions); err != nil {
		return res, err
	}
	if convErr != nil {
		// Converted marks stay converted; the failed remainder is reported.
		return res, fmt.Errorf("mark conversion incomplete: %w", convErr)
	}
	return res, nil
}

// Unregister removes the user's commitment in a slot (registration, queue
// entry or mark, whichever is present) and back-fills the freed seat from
// the queue.
func (s *Service) Unregister(ctx context.Context, slotID, userID, actorID string) (Result, error) {
	if userID == "" {
		return Result{}, fmt.Errorf("user id is required")
	}
	sl, err := s.ledger.GetSlot(ctx, slotID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{}, engine.ErrSlotNotFound
		}
		return Result{}, fmt.Errorf("get slot: %w", err)
	}

	unlock := s.lock(sl.InstanceID)
	defer unlock()

	snap, pol, err := s.loadSnapshot(ctx, sl.InstanceID)
	if err != nil {
		return Result{}, err
	}
	if !pol.WindowOpen(s.now()) {
		return Result{}, engine.ErrWindowClosed
	}
	if err := engine.CanUnregister(snap, &pol, userID, slotID); err != nil {
		return Result{}, err
	}

	if reg := snap.Registration(userID, slotID); reg != nil {
		wasFirm := reg.Confirmed
		if err := s.ledger.DeleteRegistration(ctx, reg.ID); err != nil {
			return Result{}, fmt.Errorf("delete registration: %w", err)
		}
		s.publish(events.Event{
			Kind: events.RegistrationDeleted, InstanceID: sl.InstanceID,
			UserID: userID, SlotID: slotID, ToGroupID: sl.GroupID,
		})
		msg := fmt.Sprintf("user %s unregistered from group %s", userID, sl.GroupID)
		if wasFirm && sl.Bounded() {
			// Fill-on-vacate.
			fresh, _, err := s.loadSnapshot(ctx, sl.InstanceID)
			if err != nil {
				return Result{Message: msg}, err
			}
			actions := engine.PlanFill(fresh, &pol, slotID)
			if err := s.commit(ctx, sl.InstanceID, fresh, actions); err != nil {
				return Result{Message: msg}, err
			}
		}
		return Result{Message: msg}, nil
	}

	entry := snap.QueueEntry(userID, slotID)
	if err := s.ledger.DeleteQueueEntry(ctx, entry.ID); err != nil {
		return Result{}, fmt.Errorf("delete queue entry: %w", err)
	}
	s.publish(events.Event{
		Kind: events.QueueEntryDeleted, InstanceID: sl.InstanceID,
		UserID: userID, SlotID: slotID, ToGroupID: sl.GroupID,
	})
	return Result{Message: fmt.Sprintf("user %s left the queue of group %s", userID, sl.GroupID)}, nil
}

// ChangeGroup atomically moves the user's single unambiguous commitment,
// exactly one firm registration or exactly one queue entry across the
// instance, into the target slot. Degrading into the target's queue is a
// legal change.
func (s *Service) ChangeGroup(ctx context.Context, targetSlotID, userID string) (Result, error) {
	if userID == "" {
		return Result{}, fmt.Errorf("user id is required")
	}
	target, err := s.ledger.GetSlot(ctx, targetSlotID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{}, engine.ErrSlotNotFound
		}
		return Result{}, fmt.Errorf("get slot: %w", err)
	}

	unlock := s.lock(target.InstanceID)
	defer unlock()

	snap, pol, err := s.loadSnapshot(ctx, target.InstanceID)
	if err != nil {
		return Result{}, err
	}
	if !pol.WindowOpen(s.now()) {
		return Result{}, engine.ErrWindowClosed
	}

	var (
		srcReg   *model.Registration
		srcEntry *model.QueueEntry
		sources  int
	)
	for i := range snap.Registrations {
		r := &snap.Registrations[i]
		sl := snap.Slot(r.SlotID)
		if r.UserID == userID && r.Confirmed && sl != nil && sl.Active {
			srcReg = r
			sources++
		}
	}
	for i := range snap.Queue {
		e := &snap.Queue[i]
		sl := snap.Slot(e.SlotID)
		if e.UserID == userID && sl != nil && sl.Active {
			srcEntry = e
			sources++
		}
	}
	if sources == 0 {
		return Result{}, engine.ErrNotRegistered
	}
	if sources > 1 {
		return Result{}, engine.ErrAmbiguousSource
	}

	// Decide against a snapshot with the source removed: the move is
	// atomic, so quota and queue-limit checks must not count the record
	// being vacated.
	var fromSlotID string
	work := snap.Clone()
	if srcReg != nil {
		fromSlotID = srcReg.SlotID
		id := srcReg.ID
		work.Registrations = withoutReg(work.Registrations, id)
	} else {
		fromSlotID = srcEntry.SlotID
		id := srcEntry.ID
		work.Queue = withoutEntry(work.Queue, id)
	}
	fromSlot := snap.Slot(fromSlotID)
	if fromSlotID == targetSlotID {
		// Moving into the current slot would only re-create the commitment
		// with a fresh timestamp, costing a queued user their position.
		return Result{}, engine.ErrAlreadyPresent
	}

	dec, err := engine.Decide(work, &pol, userID, targetSlotID)
	if err != nil {
		return Result{}, err
	}

	now := s.now().UTC()
	if srcReg != nil {
		if err := s.ledger.DeleteRegistration(ctx, srcReg.ID); err != nil {
			return Result{}, fmt.Errorf("delete source registration: %w", err)
		}
	} else {
		if err := s.ledger.DeleteQueueEntry(ctx, srcEntry.ID); err != nil {
			return Result{}, fmt.Errorf("delete source queue entry: %w", err)
		}
	}

	var msg string
	switch dec.Outcome {
	case engine.OutcomeRegistered, engine.OutcomeMarked:
		reg := model.Registration{
			SlotID:    targetSlotID,
			UserID:    userID,
			Confirmed: dec.Outcome == engine.OutcomeRegistered,
			ActorID:   userID,
			CreatedAt: now,
		}
		if err := s.ledger.CreateRegistration(ctx, &reg); err != nil {
			return Result{}, fmt.Errorf("create registration: %w", err)
		}
		msg = fmt.Sprintf("user %s moved from group %s to group %s", userID, fromSlot.GroupID, target.GroupID)
	case engine.OutcomeQueued:
		entry := model.QueueEntry{
			SlotID:    targetSlotID,
			UserID:    userID,
			Priority:  work.ConfirmedCount(userID) < pol.MinSelections,
			CreatedAt: now,
		}
		if err := s.ledger.CreateQueueEntry(ctx, &entry); err != nil {
			return Result{}, fmt.Errorf("create queue entry: %w", err)
		}
		msg = fmt.Sprintf("user %s moved from group %s into the queue of group %s", userID, fromSlot.GroupID, target.GroupID)
	}
	s.publish(events.Event{
		Kind: events.UserMoved, InstanceID: target.InstanceID,
		UserID: userID, SlotID: targetSlotID,
		FromGroupID: fromSlot.GroupID, ToGroupID: target.GroupID,
	})

	// A vacated firm seat in a capacity-bound slot is back-filled at once.
	if srcReg != nil && fromSlot != nil && fromSlot.Bounded() {
		fresh, _, err := s.loadSnapshot(ctx, target.InstanceID)
		if err != nil {
			return Result{Message: msg, Outcome: dec.Outcome}, err
		}
		actions := engine.PlanFill(fresh, &pol, fromSlotID)
		if err := s.commit(ctx, target.InstanceID, fresh, actions); err != nil {
			return Result{Message: msg, Outcome: dec.Outcome}, err
		}
	}
	return Result{Message: msg, Outcome: dec.Outcome}, nil
}

// ResolveQueues reconciles an instance's queues against free capacity. With
// preview set, the identical report is produced without committing any
// write. Per-user failures never abort the run.
func (s *Service) ResolveQueues(ctx context.Context, instanceID string, preview bool) (ResolveResult, error) {
	unlock := s.lock(instanceID)
	defer unlock()

	snap, pol, err := s.loadSnapshot(ctx, instanceID)
	if err != nil {
		return ResolveResult{}, err
	}
	report, actions := engine.PlanResolve(snap, &pol)

	res := ResolveResult{Preview: preview, Moves: report.Moves}
	for _, f := range report.Failures {
		res.Failures = append(res.Failures, ResolveFailure{UserID: f.UserID, SlotID: f.SlotID, Reason: f.Reason.Error()})
	}
	if preview {
		return res, nil
	}

	s.publish(events.Event{Kind: events.DequeuingStarted, InstanceID: instanceID})
	if err := s.commit(ctx, instanceID, snap, actions); err != nil {
		return res, err
	}
	return res, nil
}

// commit applies a plan's actions to the ledger in order and publishes the
// matching events. The snapshot passed in is the one the plan was computed
// against; it supplies slot→group lookups.
func (s *Service) commit(ctx context.Context, instanceID string, snap *engine.Snapshot, actions []engine.Action) error {
	groupOf := func(slotID string) string {
		if sl := snap.Slot(slotID); sl != nil {
			return sl.GroupID
		}
		return ""
	}
	now := s.now().UTC()
	for _, a := range actions {
		switch a.Kind {
		case engine.ActionRegister:
			reg := model.Registration{
				SlotID:    a.SlotID,
				UserID:    a.UserID,
				Confirmed: true,
				ActorID:   a.UserID,
				CreatedAt: now,
			}
			if !a.CreatedAt.IsZero() {
				reg.CreatedAt = a.CreatedAt
			}
			if err := s.ledger.CreateRegistration(ctx, &reg); err != nil {
				return fmt.Errorf("commit registration: %w", err)
			}
			if a.FromSlotID != "" && a.FromSlotID != a.SlotID {
				s.publish(events.Event{
					Kind: events.UserMoved, InstanceID: instanceID,
					UserID: a.UserID, SlotID: a.SlotID,
					FromGroupID: groupOf(a.FromSlotID), ToGroupID: groupOf(a.SlotID),
				})
			} else {
				s.publish(events.Event{
					Kind: events.RegistrationCreated, InstanceID: instanceID,
					UserID: a.UserID, SlotID: a.SlotID, ToGroupID: groupOf(a.SlotID),
				})
			}
		case engine.ActionConfirmMark:
			if err := s.ledger.ConfirmRegistration(ctx, a.RegID); err != nil {
				return fmt.Errorf("confirm mark: %w", err)
			}
			s.publish(events.Event{
				Kind: events.RegistrationCreated, InstanceID: instanceID,
				UserID: a.UserID, SlotID: a.SlotID, ToGroupID: groupOf(a.SlotID),
			})
		case engine.ActionEnqueue:
			entry := model.QueueEntry{
				SlotID:    a.SlotID,
				UserID:    a.UserID,
				Priority:  a.Priority,
				CreatedAt: now,
			}
			if !a.CreatedAt.IsZero() {
				entry.CreatedAt = a.CreatedAt
			}
			if err := s.ledger.CreateQueueEntry(ctx, &entry); err != nil {
				return fmt.Errorf("commit queue entry: %w", err)
			}
			s.publish(events.Event{
				Kind: events.QueueEntryCreated, InstanceID: instanceID,
				UserID: a.UserID, SlotID: a.SlotID, ToGroupID: groupOf(a.SlotID),
			})
		case engine.ActionDropMark:
			if err := s.ledger.DeleteRegistration(ctx, a.RegID); err != nil {
				return fmt.Errorf("drop mark: %w", err)
			}
			s.publish(events.Event{
				Kind: events.RegistrationDeleted, InstanceID: instanceID,
				UserID: a.UserID, SlotID: a.SlotID, ToGroupID: groupOf(a.SlotID),
			})
		case engine.ActionDropQueueEntry:
			if err := s.ledger.DeleteQueueEntry(ctx, a.EntryID); err != nil {
				return fmt.Errorf("drop queue entry: %w", err)
			}
			s.publish(events.Event{
				Kind: events.QueueEntryDeleted, InstanceID: instanceID,
				UserID: a.UserID, SlotID: a.SlotID, ToGroupID: groupOf(a.SlotID),
			})
		}
	}
	return nil
}

func withoutReg(regs []model.Registration, id string) []model.Registration {
	out := regs[:0]
	for _, r := range regs {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out
}

func withoutEntry(entries []model.QueueEntry, id string) []model.QueueEntry {
	out := entries[:0]
	for _, e := range entries {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return out
}
