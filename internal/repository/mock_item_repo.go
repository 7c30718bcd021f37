package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/notifyhub/restock-monitor/internal/domain"
)

// MockItemRepository is a hand-written, in-memory ItemRepository used in
// unit tests and local runs without a database.
type MockItemRepository struct {
	mu    sync.RWMutex
	items map[string]*domain.TrackedItem

	// Optional error overrides; set in tests to simulate failure paths.
	UpdateErr  error
	FindDueErr error
}

func NewMockItemRepository() *MockItemRepository {
	return &MockItemRepository{items: make(map[string]*domain.TrackedItem)}
}

func (m *MockItemRepository) Create(_ context.Context, it *domain.TrackedItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.UserID == it.UserID && existing.ProductKey() == it.ProductKey() {
			return domain.ErrConflict
		}
	}
	clone := *it
	m.items[it.ID] = &clone
	return nil
}

func (m *MockItemRepository) GetByID(_ context.Context, id string) (*domain.TrackedItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *it
	return &clone, nil
}

func (m *MockItemRepository) FindDue(_ context.Context, now time.Time, limit int) ([]*domain.TrackedItem, error) {
	if m.FindDueErr != nil {
		return nil, m.FindDueErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var due []*domain.TrackedItem
	for _, it := range m.items {
		if it.Active && !it.NextCheckAt.After(now) {
			clone := *it
			due = append(due, &clone)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextCheckAt.Before(due[j].NextCheckAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *MockItemRepository) Update(_ context.Context, it *domain.TrackedItem) error {
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[it.ID]; !ok {
		return domain.ErrNotFound
	}
	clone := *it
	m.items[it.ID] = &clone
	return nil
}

func (m *MockItemRepository) CountActive(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, it := range m.items {
		if it.Active {
			n++
		}
	}
	return n, nil
}
