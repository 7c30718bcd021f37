package repository

import (
	"context"
	"sync"
	"time"

	"github.com/notifyhub/restock-monitor/internal/domain"
)

// MockEventRepository is a hand-written, in-memory EventRepository.
type MockEventRepository struct {
	mu     sync.Mutex
	events []*domain.ChangeEvent

	InsertErr error
}

func NewMockEventRepository() *MockEventRepository {
	return &MockEventRepository{}
}

func (m *MockEventRepository) Insert(_ context.Context, events []*domain.ChangeEvent) error {
	if m.InsertErr != nil {
		return m.InsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range events {
		clone := *e
		m.events = append(m.events, &clone)
	}
	return nil
}

func (m *MockEventRepository) PurgeBefore(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.events[:0]
	var purged int64
	for _, e := range m.events {
		if e.DetectedAt.Before(before) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	return purged, nil
}

// All returns a snapshot of the stored events.
func (m *MockEventRepository) All() []*domain.ChangeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.ChangeEvent, len(m.events))
	copy(out, m.events)
	return out
}
