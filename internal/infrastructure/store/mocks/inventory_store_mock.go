package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/example/curio-shop/internal/domain/inventory"
)

// MockInventoryStore is an in-memory implementation of inventory.Store for
// testing. Compare-and-set runs under a single mutex, so it gives the same
// atomicity guarantee the real stores do.
type MockInventoryStore struct {
	mu    sync.Mutex
	byID  map[string]*inventory.Record
	byKey map[string]string // item_key -> id

	// StealCAS, when non-nil, runs under the lock just before each
	// compare-and-set evaluation. Tests use it to move the record between a
	// caller's read and its conditional write.
	StealCAS func(id string, rec *inventory.Record)

	// SweepListsAll makes ListExpiredReservations return every reserved
	// record regardless of deadline, mimicking a store whose range filter
	// is coarser than the clock.
	SweepListsAll bool

	CASCalls  []CASCall
	FindCalls []string
}

// CASCall records one compare-and-set attempt and its outcome.
type CASCall struct {
	ID      string
	Expect  inventory.Expectation
	Update  inventory.Update
	Applied bool
}

func NewMockInventoryStore() *MockInventoryStore {
	return &MockInventoryStore{
		byID:  make(map[string]*inventory.Record),
		byKey: make(map[string]string),
	}
}

// SeedItem inserts a record directly, bypassing the Store contract.
func (m *MockInventoryStore) SeedItem(rec inventory.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := rec
	m.byID[rec.ID] = &cp
	m.byKey[rec.ItemKey] = rec.ID
}

// Snapshot returns a copy of the stored record for assertions.
func (m *MockInventoryStore) Snapshot(key string) (inventory.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.lookup(key)
	if !ok {
		return inventory.Record{}, false
	}
	return *rec, true
}

func (m *MockInventoryStore) FindItem(ctx context.Context, key string) (*inventory.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FindCalls = append(m.FindCalls, key)
	rec, ok := m.lookup(key)
	if !ok {
		return nil, false, nil
	}
	cp := *rec
	return &cp, true, nil
}

func (m *MockInventoryStore) InsertItem(ctx context.Context, rec *inventory.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.byKey[rec.ItemKey]; taken {
		return inventory.ErrItemExists
	}
	if _, taken := m.byID[rec.ID]; taken {
		return inventory.ErrItemExists
	}
	cp := *rec
	m.byID[rec.ID] = &cp
	m.byKey[rec.ItemKey] = rec.ID
	return nil
}

func (m *MockInventoryStore) ListItems(ctx context.Context, category string) ([]inventory.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var records []inventory.Record
	for _, rec := range m.byID {
		if category == "" || rec.Category == category {
			records = append(records, *rec)
		}
	}
	return records, nil
}

func (m *MockInventoryStore) CompareAndSetState(ctx context.Context, id string, expect inventory.Expectation, update inventory.Update) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byID[id]
	if !ok {
		return false, nil
	}
	if m.StealCAS != nil {
		steal := m.StealCAS
		m.StealCAS = nil
		steal(id, rec)
	}

	applied := rec.Status == expect.Status && (expect.Token == "" || rec.Token == expect.Token)
	if applied {
		rec.Status = update.Status
		rec.HolderID = update.HolderID
		rec.Token = update.Token
		rec.Deadline = update.Deadline
		rec.UpdatedAt = time.Now()
	}
	m.CASCalls = append(m.CASCalls, CASCall{ID: id, Expect: expect, Update: update, Applied: applied})
	return applied, nil
}

func (m *MockInventoryStore) ListExpiredReservations(ctx context.Context, now time.Time) ([]inventory.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []inventory.Record
	for _, rec := range m.byID {
		if rec.Status != inventory.StatusReserved || rec.Deadline == nil {
			continue
		}
		if m.SweepListsAll || !now.Before(*rec.Deadline) {
			expired = append(expired, *rec)
		}
	}
	return expired, nil
}

func (m *MockInventoryStore) lookup(key string) (*inventory.Record, bool) {
	if rec, ok := m.byID[key]; ok {
		return rec, true
	}
	if id, ok := m.byKey[key]; ok {
		return m.byID[id], true
	}
	return nil, false
}
