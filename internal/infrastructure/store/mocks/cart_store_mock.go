package mocks

import (
	"context"
	"sync"

	"github.com/example/curio-shop/internal/domain/cart"
)

// MockCartStore is an in-memory implementation of cart.Store for testing.
type MockCartStore struct {
	mu    sync.Mutex
	carts map[string]*cart.Cart

	DeleteCalls []string
}

func NewMockCartStore() *MockCartStore {
	return &MockCartStore{carts: make(map[string]*cart.Cart)}
}

func (m *MockCartStore) Get(ctx context.Context, id string) (*cart.Cart, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[id]
	if !ok {
		return nil, false, nil
	}
	cp := *c
	cp.Lines = append([]cart.Line(nil), c.Lines...)
	return &cp, true, nil
}

func (m *MockCartStore) Save(ctx context.Context, c *cart.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	cp.Lines = append([]cart.Line(nil), c.Lines...)
	m.carts[c.ID] = &cp
	return nil
}

func (m *MockCartStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls = append(m.DeleteCalls, id)
	delete(m.carts, id)
	return nil
}
