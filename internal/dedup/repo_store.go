package dedup

import (
	"context"
	"time"

	"github.com/notifyhub/restock-monitor/internal/domain"
	"github.com/notifyhub/restock-monitor/internal/repository"
)

// RepositoryStore keeps the recent-post log in a RecentPostRepository
// (the recent_posts table in production).
type RepositoryStore struct {
	repo repository.RecentPostRepository
}

func NewRepositoryStore(repo repository.RecentPostRepository) *RepositoryStore {
	return &RepositoryStore{repo: repo}
}

func (s *RepositoryStore) Claim(ctx context.Context, p domain.RecentPost, since time.Time) (bool, error) {
	return s.repo.AppendIfAbsent(ctx, p, since)
}

func (s *RepositoryStore) Release(ctx context.Context, p domain.RecentPost) error {
	return s.repo.Delete(ctx, p)
}

func (s *RepositoryStore) PostedSince(ctx context.Context, productKey string, since time.Time) (bool, error) {
	posts, err := s.repo.ListSince(ctx, productKey, since)
	if err != nil {
		return false, err
	}
	return len(posts) > 0, nil
}
