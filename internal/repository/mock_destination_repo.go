package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/notifyhub/restock-monitor/internal/domain"
)

// MockDestinationRepository is a hand-written, in-memory
// DestinationRepository. ClaimPost re-checks availability under the lock,
// matching the conditional UPDATE of the Postgres implementation.
type MockDestinationRepository struct {
	mu    sync.RWMutex
	dests map[string]*domain.Destination

	ListErr error
}

func NewMockDestinationRepository(dests ...*domain.Destination) *MockDestinationRepository {
	m := &MockDestinationRepository{dests: make(map[string]*domain.Destination)}
	for _, d := range dests {
		m.Put(d)
	}
	return m
}

// Put inserts or replaces a destination.
func (m *MockDestinationRepository) Put(d *domain.Destination) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dests[d.ID] = cloneDestination(d)
}

func (m *MockDestinationRepository) List(_ context.Context) ([]*domain.Destination, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Destination, 0, len(m.dests))
	for _, d := range m.dests {
		out = append(out, cloneDestination(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockDestinationRepository) GetByID(_ context.Context, id string) (*domain.Destination, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.dests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneDestination(d), nil
}

func (m *MockDestinationRepository) ClaimPost(_ context.Context, id string, now time.Time) (domain.PostClaim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dests[id]
	if !ok {
		return domain.PostClaim{}, domain.ErrNotFound
	}
	c, ok := d.Claim(now)
	if !ok {
		return domain.PostClaim{}, domain.ErrStaleState
	}
	return c, nil
}

func (m *MockDestinationRepository) ReleaseClaim(_ context.Context, c domain.PostClaim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dests[c.DestinationID]
	if !ok {
		return domain.ErrNotFound
	}
	if !d.Unclaim(c) {
		return domain.ErrStaleState
	}
	return nil
}

func (m *MockDestinationRepository) SetDisabled(_ context.Context, id string, disabled bool, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dests[id]
	if !ok {
		return domain.ErrNotFound
	}
	d.Disabled = disabled
	if disabled {
		d.DisabledReason = reason
	} else {
		d.DisabledReason = ""
	}
	return nil
}

func cloneDestination(d *domain.Destination) *domain.Destination {
	clone := *d
	clone.Categories = append([]string(nil), d.Categories...)
	if d.LastPostAt != nil {
		at := *d.LastPostAt
		clone.LastPostAt = &at
	}
	return &clone
}
