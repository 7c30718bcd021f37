package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/notifyhub/restock-monitor/internal/domain"
)

// MockJobRepository is a hand-written, in-memory JobRepository. It enforces
// the same non-terminal dedup-key uniqueness as the partial unique index.
type MockJobRepository struct {
	mu   sync.RWMutex
	jobs map[string]*domain.NotificationJob

	CreateErr error
	SaveErr   error
}

func NewMockJobRepository() *MockJobRepository {
	return &MockJobRepository{jobs: make(map[string]*domain.NotificationJob)}
}

func (m *MockJobRepository) Create(_ context.Context, j *domain.NotificationJob) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.DedupKey != nil {
		if m.activeByKeyLocked(*j.DedupKey) != nil {
			return domain.ErrConflict
		}
	}
	clone := *j
	m.jobs[j.ID] = &clone
	return nil
}

func (m *MockJobRepository) GetByID(_ context.Context, id string) (*domain.NotificationJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *j
	return &clone, nil
}

func (m *MockJobRepository) GetActiveByDedupKey(_ context.Context, key string) (*domain.NotificationJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j := m.activeByKeyLocked(key)
	if j == nil {
		return nil, domain.ErrNotFound
	}
	clone := *j
	return &clone, nil
}

func (m *MockJobRepository) activeByKeyLocked(key string) *domain.NotificationJob {
	for _, j := range m.jobs {
		if j.DedupKey != nil && *j.DedupKey == key && !j.Status.Terminal() {
			return j
		}
	}
	return nil
}

func (m *MockJobRepository) LeaseDue(_ context.Context, now, staleBefore time.Time, limit int) ([]*domain.NotificationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*domain.NotificationJob
	for _, j := range m.jobs {
		switch {
		case j.Status == domain.JobPending && !j.ScheduledFor.After(now):
			due = append(due, j)
		case j.Status == domain.JobInProgress && j.UpdatedAt.Before(staleBefore):
			due = append(due, j)
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].ScheduledFor.Before(due[b].ScheduledFor) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]*domain.NotificationJob, 0, len(due))
	for _, j := range due {
		if j.Status == domain.JobInProgress {
			j.UpdatedAt = now
		} else if err := j.Start(now); err != nil {
			return nil, err
		}
		clone := *j
		out = append(out, &clone)
	}
	return out, nil
}

func (m *MockJobRepository) Save(_ context.Context, j *domain.NotificationJob) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; !ok {
		return domain.ErrNotFound
	}
	clone := *j
	m.jobs[j.ID] = &clone
	return nil
}

func (m *MockJobRepository) LastDelivered(_ context.Context, userID, productKey string, kind domain.ChangeKind) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last *time.Time
	for _, j := range m.jobs {
		if j.Status != domain.JobDelivered || j.DeliveredAt == nil {
			continue
		}
		if j.UserID != userID || j.ProductKey != productKey || j.EventKind != kind {
			continue
		}
		if last == nil || j.DeliveredAt.After(*last) {
			at := *j.DeliveredAt
			last = &at
		}
	}
	return last, nil
}

func (m *MockJobRepository) PurgeTerminal(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, j := range m.jobs {
		if j.Status.Terminal() && j.UpdatedAt.Before(before) {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}

func (m *MockJobRepository) CountByStatus(_ context.Context) (domain.JobStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := domain.JobStats{}
	for _, s := range domain.JobStatuses {
		stats[s] = 0
	}
	for _, j := range m.jobs {
		stats[j.Status]++
	}
	return stats, nil
}

// All returns a snapshot of every stored job.
func (m *MockJobRepository) All() []*domain.NotificationJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.NotificationJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		clone := *j
		out = append(out, &clone)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out
}
