package mocks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/curio-shop/internal/domain/ledger"
)

// MockLedgerStore is an in-memory implementation of ledger.Store for
// testing. Update honors the conditional-write contract under a mutex.
type MockLedgerStore struct {
	mu      sync.Mutex
	entries map[string]*ledger.Entry // order_ref -> entry

	// FailNextInsert makes the next Insert return an error.
	FailNextInsert bool
}

func NewMockLedgerStore() *MockLedgerStore {
	return &MockLedgerStore{entries: make(map[string]*ledger.Entry)}
}

// Snapshot returns a copy of the stored entry for assertions.
func (m *MockLedgerStore) Snapshot(orderRef string) (ledger.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[orderRef]
	if !ok {
		return ledger.Entry{}, false
	}
	return *e, true
}

func (m *MockLedgerStore) Insert(ctx context.Context, e *ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailNextInsert {
		m.FailNextInsert = false
		return errors.New("insert failed")
	}
	if _, taken := m.entries[e.OrderRef]; taken {
		return errors.New("duplicate order ref")
	}
	cp := *e
	m.entries[e.OrderRef] = &cp
	return nil
}

func (m *MockLedgerStore) GetByRef(ctx context.Context, orderRef string) (*ledger.Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[orderRef]
	if !ok {
		return nil, false, nil
	}
	cp := *e
	return &cp, true, nil
}

func (m *MockLedgerStore) GetByToken(ctx context.Context, token string) (*ledger.Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *ledger.Entry
	for _, e := range m.entries {
		if e.Token != token {
			continue
		}
		if latest == nil || e.CreatedAt.After(latest.CreatedAt) {
			latest = e
		}
	}
	if latest == nil {
		return nil, false, nil
	}
	cp := *latest
	return &cp, true, nil
}

func (m *MockLedgerStore) Update(ctx context.Context, e *ledger.Entry, expect ledger.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.entries[e.OrderRef]
	if !ok || current.Status != expect {
		return false, nil
	}
	cp := *e
	m.entries[e.OrderRef] = &cp
	return true, nil
}

func (m *MockLedgerStore) ListPendingExpired(ctx context.Context, now time.Time) ([]ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stuck []ledger.Entry
	for _, e := range m.entries {
		if e.Status == ledger.StatusPending && !now.Before(e.ReservedUntil) {
			stuck = append(stuck, *e)
		}
	}
	return stuck, nil
}

func (m *MockLedgerStore) ListByBuyer(ctx context.Context, buyerID string) ([]ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []ledger.Entry
	for _, e := range m.entries {
		if e.BuyerID == buyerID {
			entries = append(entries, *e)
		}
	}
	return entries, nil
}
