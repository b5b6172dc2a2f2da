package mocks

import (
	"context"
	"sync"
)

// MockPublisher records published events for assertions.
type MockPublisher struct {
	mu     sync.Mutex
	Events []PublishedEvent
}

// PublishedEvent records one Publish call.
type PublishedEvent struct {
	Key       string
	EventType string
	Data      any
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, key, eventType string, data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, PublishedEvent{Key: key, EventType: eventType, Data: data})
	return nil
}

// TypesPublished returns the event types in publish order.
func (m *MockPublisher) TypesPublished() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, len(m.Events))
	for i, e := range m.Events {
		types[i] = e.EventType
	}
	return types
}
