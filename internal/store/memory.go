package store

import (
	"context"
	"sync"

	"github.com/academic-moodle-cooperation/moodle-mod-grouptool-sub000/internal/model"
	"github.com/google/uuid"
)

// Memory is an in-memory Ledger. It backs the test suites and embedded use
// of the engine; the postgres package provides the durable variant. Records
// are kept in insertion order so listings are deterministic.
type Memory struct {
	mu       sync.RWMutex
	slots    []model.Slot
	regs     []model.Registration
	queue    []model.QueueEntry
	policies map[string]model.Policy
	seq      int64
}

// NewMemory constructs an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{policies: make(map[string]model.Policy)}
}

var _ Ledger = (*Memory)(nil)

func (m *Memory) CreateSlot(_ context.Context, slot *model.Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slot.ID == "" {
		slot.ID = uuid.New().String()
	}
	m.slots = append(m.slots, *slot)
	return nil
}

func (m *Memory) UpdateSlot(_ context.Context, slot model.Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.slots {
		if m.slots[i].ID == slot.ID {
			m.slots[i] = slot
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) GetSlot(_ context.Context, id string) (model.Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.slots {
		if s.ID == id {
			return s, nil
		}
	}
	return model.Slot{}, ErrNotFound
}

func (m *Memory) ListSlots(_ context.Context, instanceID string, activeOnly bool) ([]model.Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Slot
	for _, s := range m.slots {
		if s.InstanceID != instanceID {
			continue
		}
		if activeOnly && !s.Active {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *Memory) GetPolicy(_ context.Context, instanceID string) (model.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if pol, ok := m.policies[instanceID]; ok {
		return pol, nil
	}
	return model.DefaultPolicy(instanceID), nil
}

func (m *Memory) PutPolicy(_ context.Context, pol model.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[pol.InstanceID] = pol
	return nil
}

func (m *Memory) CreateRegistration(_ context.Context, reg *model.Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reg.ID == "" {
		reg.ID = uuid.New().String()
	}
	m.regs = append(m.regs, *reg)
	return nil
}

func (m *Memory) ConfirmRegistration(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.regs {
		if m.regs[i].ID == id {
			m.regs[i].Confirmed = true
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) DeleteRegistration(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.regs {
		if m.regs[i].ID == id {
			m.regs = append(m.regs[:i], m.regs[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) ListRegistrations(_ context.Context, instanceID string) ([]model.Registration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	slots := m.instanceSlotIDs(instanceID)
	var out []model.Registration
	for _, r := range m.regs {
		if slots[r.SlotID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) ListSlotRegistrations(_ context.Context, slotID string) ([]model.Registration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Registration
	for _, r := range m.regs {
		if r.SlotID == slotID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) CreateQueueEntry(_ context.Context, entry *model.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	m.seq++
	entry.Seq = m.seq
	m.queue = append(m.queue, *entry)
	return nil
}

func (m *Memory) DeleteQueueEntry(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.queue {
		if m.queue[i].ID == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) ListQueueEntries(_ context.Context, instanceID string) ([]model.QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	slots := m.instanceSlotIDs(instanceID)
	var out []model.QueueEntry
	for _, e := range m.queue {
		if slots[e.SlotID] {
			out = append(out, e)
		}
	}
	return out, nil
}

// instanceSlotIDs returns the set of slot ids belonging to an instance.
// Callers must hold at least the read lock.
func (m *Memory) instanceSlotIDs(instanceID string) map[string]bool {
	ids := make(map[string]bool)
	for _, s := range m.slots {
		if s.InstanceID == instanceID {
			ids[s.ID] = true
		}
	}
	return ids
}
