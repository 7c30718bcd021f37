// Package monitor checks tracked retailer items for restocks and price
// changes and reschedules them with failure backoff.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/restock-monitor/internal/domain"
	"github.com/notifyhub/restock-monitor/internal/fetcher"
	"github.com/notifyhub/restock-monitor/internal/retailer"
)

// Check outcomes reported to metrics.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeDeactivated = "deactivated"
)

// ProfileSource resolves the scraping profile for a retailer.
type ProfileSource interface {
	Lookup(r domain.Retailer) (retailer.Profile, bool)
}

// CheckResult is the outcome of one item check. Item is the updated copy
// to persist; Events is empty when nothing changed.
type CheckResult struct {
	Item    *domain.TrackedItem
	Events  []*domain.ChangeEvent
	Outcome string
	Err     error
}

// Monitor performs single-item checks. It never returns an error from
// Check: failures are folded into the item's error count and schedule.
type Monitor struct {
	fetcher  fetcher.PageFetcher
	profiles ProfileSource
	logger   *zap.Logger
	now      func() time.Time
}

func New(f fetcher.PageFetcher, profiles ProfileSource, logger *zap.Logger, now func() time.Time) *Monitor {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Monitor{fetcher: f, profiles: profiles, logger: logger, now: now}
}

// Check fetches the item's page, diffs it against the stored state and
// returns the updated item. The input item is not modified.
func (m *Monitor) Check(ctx context.Context, in *domain.TrackedItem) CheckResult {
	item := *in
	now := m.now()
	log := m.logger.With(
		zap.String("item_id", item.ID),
		zap.String("retailer", string(item.Retailer)),
	)

	if !item.Active {
		return CheckResult{Item: &item, Err: domain.ErrItemInactive}
	}

	profile, ok := m.profiles.Lookup(item.Retailer)
	if !ok {
		return m.fail(&item, fmt.Errorf("no profile for retailer %q", item.Retailer), now, log)
	}

	page, err := m.fetcher.Fetch(ctx, item.URL, profile)
	if err != nil {
		return m.fail(&item, err, now, log)
	}

	price := ParsePrice(page.PriceText)
	available := DetectAvailability(page.AvailabilityText, profile)
	if price == nil && page.PriceText != "" {
		log.Debug("price text not parseable", zap.String("price_text", page.PriceText))
	}

	var events []*domain.ChangeEvent
	if item.LastCheckedAt != nil {
		events = Diff(&item, price, available, now)
	}

	if item.Name == "" {
		item.Name = page.Title
	}
	if item.Category == "" {
		item.Category = profile.Category
	}
	if price != nil {
		item.LastPrice = price
	}
	item.LastAvailable = available
	item.ErrorCount = 0
	item.LastError = nil
	item.LastCheckedAt = &now
	item.NextCheckAt = now.Add(interval(&item))
	item.UpdatedAt = now

	for _, ev := range events {
		log.Info("change detected",
			zap.String("kind", string(ev.Kind)),
			zap.String("old", ev.OldValue),
			zap.String("new", ev.NewValue),
		)
	}
	return CheckResult{Item: &item, Events: events, Outcome: OutcomeOK}
}

func (m *Monitor) fail(item *domain.TrackedItem, cause error, now time.Time, log *zap.Logger) CheckResult {
	item.ErrorCount++
	msg := cause.Error()
	item.LastError = &msg
	item.NextCheckAt = now.Add(Backoff(interval(item), item.ErrorCount))
	item.UpdatedAt = now

	if item.ErrorCount < domain.MaxConsecutiveErrors {
		log.Warn("item check failed",
			zap.Error(cause),
			zap.Int("error_count", item.ErrorCount),
			zap.Time("next_check_at", item.NextCheckAt),
		)
		return CheckResult{Item: item, Outcome: OutcomeError, Err: cause}
	}

	item.Active = false
	item.DeactivatedAt = &now
	log.Warn("item deactivated after consecutive failures",
		zap.Error(cause),
		zap.Int("error_count", item.ErrorCount),
	)
	notice := fmt.Sprintf("stopped tracking %s after %d failed checks", displayName(item), item.ErrorCount)
	ev := &domain.ChangeEvent{
		ID:          uuid.New().String(),
		ItemID:      item.ID,
		UserID:      item.UserID,
		Retailer:    item.Retailer,
		ProductKey:  item.ProductKey(),
		ProductName: displayName(item),
		URL:         item.URL,
		Category:    item.Category,
		Kind:        domain.ChangeError,
		NewValue:    msg,
		Message:     notice,
		DetectedAt:  now,
	}
	return CheckResult{Item: item, Events: []*domain.ChangeEvent{ev}, Outcome: OutcomeDeactivated, Err: cause}
}

// Backoff returns interval·2^(failures-1), capped at domain.MaxCheckBackoff.
func Backoff(interval time.Duration, failures int) time.Duration {
	if failures < 1 {
		return interval
	}
	d := interval
	for i := 1; i < failures; i++ {
		if d >= domain.MaxCheckBackoff/2 {
			return domain.MaxCheckBackoff
		}
		d *= 2
	}
	if d > domain.MaxCheckBackoff {
		return domain.MaxCheckBackoff
	}
	return d
}

func interval(item *domain.TrackedItem) time.Duration {
	if item.CheckInterval <= 0 {
		return domain.DefaultCheckInterval
	}
	return item.CheckInterval
}
