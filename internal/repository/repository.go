package repository

import (
	"context"
	"time"

	"github.com/notifyhub/restock-monitor/internal/domain"
)

// The pgx implementations live in pg_*.go. Tests use the hand-written
// in-memory mocks in mock_*.go.

// ItemRepository persists tracked items.
type ItemRepository interface {
	Create(ctx context.Context, it *domain.TrackedItem) error
	GetByID(ctx context.Context, id string) (*domain.TrackedItem, error)
	// FindDue returns active items whose next check is at or before now,
	// oldest first. A limit of 0 or less means no limit.
	FindDue(ctx context.Context, now time.Time, limit int) ([]*domain.TrackedItem, error)
	Update(ctx context.Context, it *domain.TrackedItem) error
	CountActive(ctx context.Context) (int, error)
}

// EventRepository keeps the rolling audit trail of change events.
type EventRepository interface {
	Insert(ctx context.Context, events []*domain.ChangeEvent) error
	PurgeBefore(ctx context.Context, before time.Time) (int64, error)
}

// JobRepository is the durable store behind the dispatch queue.
type JobRepository interface {
	// Create returns domain.ErrConflict when a non-terminal job with the
	// same dedup key already exists.
	Create(ctx context.Context, j *domain.NotificationJob) error
	GetByID(ctx context.Context, id string) (*domain.NotificationJob, error)
	GetActiveByDedupKey(ctx context.Context, key string) (*domain.NotificationJob, error)
	// LeaseDue atomically flips up to limit pending jobs scheduled at or
	// before now to in_progress and returns them. In-progress jobs last
	// updated before staleBefore are leases abandoned by a crashed or
	// interrupted pass; they are leased again. A limit of 0 or less means
	// no limit.
	LeaseDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*domain.NotificationJob, error)
	Save(ctx context.Context, j *domain.NotificationJob) error
	LastDelivered(ctx context.Context, userID, productKey string, kind domain.ChangeKind) (*time.Time, error)
	PurgeTerminal(ctx context.Context, before time.Time) (int64, error)
	CountByStatus(ctx context.Context) (domain.JobStats, error)
}

// UserRepository reads subscribers.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

// DestinationRepository persists per-destination routing state.
type DestinationRepository interface {
	List(ctx context.Context) ([]*domain.Destination, error)
	GetByID(ctx context.Context, id string) (*domain.Destination, error)
	// ClaimPost applies a post at now before it is sent. It re-checks the
	// enabled flag, cooldown and daily cap atomically and returns
	// domain.ErrStaleState when the destination is no longer available.
	ClaimPost(ctx context.Context, id string, now time.Time) (domain.PostClaim, error)
	// ReleaseClaim undoes a claim whose send failed. It returns
	// domain.ErrStaleState, leaving the row alone, if another post landed
	// after the claim.
	ReleaseClaim(ctx context.Context, c domain.PostClaim) error
	SetDisabled(ctx context.Context, id string, disabled bool, reason string) error
}

// RecentPostRepository stores the append-only product post log used by the
// dedup guard.
type RecentPostRepository interface {
	// AppendIfAbsent appends p unless its product already has a post at or
	// after since. It reports whether p was appended.
	AppendIfAbsent(ctx context.Context, p domain.RecentPost, since time.Time) (bool, error)
	Delete(ctx context.Context, p domain.RecentPost) error
	// ListSince returns posts of productKey at or after since and prunes
	// older entries for that product.
	ListSince(ctx context.Context, productKey string, since time.Time) ([]domain.RecentPost, error)
}
