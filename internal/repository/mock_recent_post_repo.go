package repository

import (
	"context"
	"sync"
	"time"

	"github.com/notifyhub/restock-monitor/internal/domain"
)

// MockRecentPostRepository is a hand-written, in-memory RecentPostRepository.
type MockRecentPostRepository struct {
	mu    sync.Mutex
	posts map[string][]domain.RecentPost
}

func NewMockRecentPostRepository() *MockRecentPostRepository {
	return &MockRecentPostRepository{posts: make(map[string][]domain.RecentPost)}
}

func (m *MockRecentPostRepository) AppendIfAbsent(_ context.Context, p domain.RecentPost, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.posts[p.ProductKey] {
		if !existing.PostedAt.Before(since) {
			return false, nil
		}
	}
	m.posts[p.ProductKey] = append(m.posts[p.ProductKey], p)
	return true, nil
}

func (m *MockRecentPostRepository) Delete(_ context.Context, p domain.RecentPost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	posts := m.posts[p.ProductKey]
	for i, existing := range posts {
		if existing.DestinationID == p.DestinationID && existing.PostedAt.Equal(p.PostedAt) {
			m.posts[p.ProductKey] = append(posts[:i], posts[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *MockRecentPostRepository) ListSince(_ context.Context, productKey string, since time.Time) ([]domain.RecentPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []domain.RecentPost
	for _, p := range m.posts[productKey] {
		if !p.PostedAt.Before(since) {
			kept = append(kept, p)
		}
	}
	m.posts[productKey] = kept
	out := make([]domain.RecentPost, len(kept))
	copy(out, kept)
	return out, nil
}
