// Package dedup prevents the same logical product from being announced to
// more than one shared destination within a rolling window.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/notifyhub/restock-monitor/internal/domain"
)

// DefaultWindow is the rolling dedup window.
const DefaultWindow = 24 * time.Hour

// Store persists the recent-post log.
type Store interface {
	// Claim appends p unless its product was posted at or after since,
	// checking and appending atomically. It reports whether p was appended.
	Claim(ctx context.Context, p domain.RecentPost, since time.Time) (bool, error)
	// Release removes p after the send it was claimed for failed.
	Release(ctx context.Context, p domain.RecentPost) error
	// PostedSince reports whether productKey was posted anywhere at or
	// after since. Implementations may prune older entries.
	PostedSince(ctx context.Context, productKey string, since time.Time) (bool, error)
}

// Guard answers "was this product posted recently?" against a Store.
type Guard struct {
	store  Store
	window time.Duration
}

func NewGuard(store Store, window time.Duration) *Guard {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Guard{store: store, window: window}
}

// Seen reports whether productKey was posted to any destination within the
// window ending at now.
func (g *Guard) Seen(ctx context.Context, productKey string, now time.Time) (bool, error) {
	seen, err := g.store.PostedSince(ctx, productKey, now.Add(-g.window))
	if err != nil {
		return false, fmt.Errorf("dedup lookup %s: %w", productKey, err)
	}
	return seen, nil
}

// Claim records a post of productKey to destinationID at now unless the
// product was already posted within the window. False means another post
// won.
func (g *Guard) Claim(ctx context.Context, productKey, destinationID string, now time.Time) (bool, error) {
	ok, err := g.store.Claim(ctx, recentPost(productKey, destinationID, now), now.Add(-g.window))
	if err != nil {
		return false, fmt.Errorf("dedup claim %s: %w", productKey, err)
	}
	return ok, nil
}

// Release drops a claim made by Claim with the same arguments.
func (g *Guard) Release(ctx context.Context, productKey, destinationID string, now time.Time) error {
	if err := g.store.Release(ctx, recentPost(productKey, destinationID, now)); err != nil {
		return fmt.Errorf("dedup release %s: %w", productKey, err)
	}
	return nil
}

func recentPost(productKey, destinationID string, at time.Time) domain.RecentPost {
	return domain.RecentPost{ProductKey: productKey, DestinationID: destinationID, PostedAt: at}
}
