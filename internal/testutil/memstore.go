// Package testutil provides test doubles for the admission core. The
// production core keeps no in-process state; MemStore exists only so
// service and handler tests can run without PostgreSQL.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/eventgate/eventgate/internal/model"
)

// MemStore is an in-memory model.AdmissionStore. A single mutex stands in
// for the per-event row lock: stricter than production, but it preserves
// the same guarantee that capacity reads and writes never interleave.
type MemStore struct {
	mu     sync.Mutex
	events map[string]model.Event
	regs   map[string]model.Registration
	seq    int64

	// FailWith, when set, makes every store operation fail with the given
	// error. Used to exercise store-failure handling.
	FailWith error
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		events: make(map[string]model.Event),
		regs:   make(map[string]model.Registration),
	}
}

// AddEvent seeds an event.
func (m *MemStore) AddEvent(e model.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.ID] = e
}

// Registrations returns a snapshot of all rows, insertion-ordered.
func (m *MemStore) Registrations() []model.Registration {
	m.mu.Lock()
	defer m.mu.Unlock()
	regs := make([]model.Registration, 0, len(m.regs))
	for _, reg := range m.regs {
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].Seq < regs[j].Seq })
	return regs
}

func (m *MemStore) WithEventLock(ctx context.Context, eventID string, fn func(ctx context.Context, tx model.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	if _, ok := m.events[eventID]; !ok {
		return model.ErrNotFound
	}
	return fn(ctx, memTx{m})
}

func (m *MemStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memTx{m}.GetEvent(ctx, id)
}

func (m *MemStore) FindRegistration(ctx context.Context, eventID, userID string) (*model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memTx{m}.FindRegistration(ctx, eventID, userID)
}

func (m *MemStore) CountByStatus(ctx context.Context, eventID string, statuses ...model.Status) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memTx{m}.CountByStatus(ctx, eventID, statuses...)
}

func (m *MemStore) ListByStatus(ctx context.Context, eventID string, status model.Status, limit int) ([]model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memTx{m}.ListByStatus(ctx, eventID, status, limit)
}

func (m *MemStore) ListByEvent(ctx context.Context, eventID string) ([]model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memTx{m}.ListByEvent(ctx, eventID)
}

func (m *MemStore) Insert(ctx context.Context, reg *model.Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memTx{m}.Insert(ctx, reg)
}

func (m *MemStore) Update(ctx context.Context, reg *model.Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memTx{m}.Update(ctx, reg)
}

// memTx is the lock-held view handed to WithEventLock callbacks. Its
// methods assume the MemStore mutex is already held.
type memTx struct {
	m *MemStore
}

func (t memTx) GetEvent(_ context.Context, id string) (*model.Event, error) {
	if t.m.FailWith != nil {
		return nil, t.m.FailWith
	}
	e, ok := t.m.events[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &e, nil
}

func (t memTx) FindRegistration(_ context.Context, eventID, userID string) (*model.Registration, error) {
	if t.m.FailWith != nil {
		return nil, t.m.FailWith
	}
	for _, reg := range t.m.regs {
		if reg.EventID == eventID && reg.UserID == userID {
			found := reg
			return &found, nil
		}
	}
	return nil, model.ErrNotFound
}

func (t memTx) CountByStatus(_ context.Context, eventID string, statuses ...model.Status) (int, error) {
	if t.m.FailWith != nil {
		return 0, t.m.FailWith
	}
	count := 0
	for _, reg := range t.m.regs {
		if reg.EventID != eventID {
			continue
		}
		for _, st := range statuses {
			if reg.Status == st {
				count++
				break
			}
		}
	}
	return count, nil
}

func (t memTx) ListByStatus(_ context.Context, eventID string, status model.Status, limit int) ([]model.Registration, error) {
	if t.m.FailWith != nil {
		return nil, t.m.FailWith
	}
	var regs []model.Registration
	for _, reg := range t.m.regs {
		if reg.EventID == eventID && reg.Status == status {
			regs = append(regs, reg)
		}
	}
	sortFIFO(regs)
	if limit > 0 && len(regs) > limit {
		regs = regs[:limit]
	}
	return regs, nil
}

func (t memTx) ListByEvent(_ context.Context, eventID string) ([]model.Registration, error) {
	if t.m.FailWith != nil {
		return nil, t.m.FailWith
	}
	var regs []model.Registration
	for _, reg := range t.m.regs {
		if reg.EventID == eventID {
			regs = append(regs, reg)
		}
	}
	sortFIFO(regs)
	return regs, nil
}

func (t memTx) Insert(_ context.Context, reg *model.Registration) error {
	if t.m.FailWith != nil {
		return t.m.FailWith
	}
	t.m.seq++
	reg.Seq = t.m.seq
	t.m.regs[reg.ID] = *reg
	return nil
}

func (t memTx) Update(_ context.Context, reg *model.Registration) error {
	if t.m.FailWith != nil {
		return t.m.FailWith
	}
	if _, ok := t.m.regs[reg.ID]; !ok {
		return model.ErrNotFound
	}
	t.m.regs[reg.ID] = *reg
	return nil
}

func sortFIFO(regs []model.Registration) {
	sort.Slice(regs, func(i, j int) bool {
		if !regs[i].RegisteredAt.Equal(regs[j].RegisteredAt) {
			return regs[i].RegisteredAt.Before(regs[j].RegisteredAt)
		}
		return regs[i].Seq < regs[j].Seq
	})
}

// Day is a shorthand for building event dates in tests.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
