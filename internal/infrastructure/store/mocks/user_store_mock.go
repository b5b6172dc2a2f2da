package mocks

import (
	"context"
	"sync"

	"github.com/example/curio-shop/internal/domain/user"
)

// MockUserStore is an in-memory implementation of user.Store for testing.
type MockUserStore struct {
	mu      sync.Mutex
	byID    map[string]*user.User
	byEmail map[string]string
}

func NewMockUserStore() *MockUserStore {
	return &MockUserStore{
		byID:    make(map[string]*user.User),
		byEmail: make(map[string]string),
	}
}

// Put stores a user directly, overwriting any existing row.
func (m *MockUserStore) Put(u *user.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.byID[u.ID] = &cp
	m.byEmail[u.Email] = u.ID
}

func (m *MockUserStore) Insert(ctx context.Context, u *user.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.byEmail[u.Email]; taken {
		return user.ErrEmailTaken
	}
	cp := *u
	m.byID[u.ID] = &cp
	m.byEmail[u.Email] = u.ID
	return nil
}

func (m *MockUserStore) GetByID(ctx context.Context, id string) (*user.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, false, nil
	}
	cp := *u
	return &cp, true, nil
}

func (m *MockUserStore) GetByEmail(ctx context.Context, email string) (*user.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[email]
	if !ok {
		return nil, false, nil
	}
	cp := *m.byID[id]
	return &cp, true, nil
}
