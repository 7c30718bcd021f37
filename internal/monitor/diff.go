package monitor

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/notifyhub/restock-monitor/internal/domain"
)

// Diff compares a fresh observation with the item's last known state and
// returns the resulting events in precedence order: availability flip,
// price change, target reached. A nil price never produces price events.
func Diff(item *domain.TrackedItem, price *decimal.Decimal, available bool, now time.Time) []*domain.ChangeEvent {
	var events []*domain.ChangeEvent

	if available != item.LastAvailable {
		kind, msg := domain.ChangeRestock, "back in stock"
		if !available {
			kind, msg = domain.ChangeOutOfStock, "out of stock"
		}
		ev := newEvent(item, kind, now)
		ev.OldValue = strconv.FormatBool(item.LastAvailable)
		ev.NewValue = strconv.FormatBool(available)
		ev.Message = fmt.Sprintf("%s is %s", displayName(item), msg)
		events = append(events, ev)
	}

	old := item.LastPrice
	if price != nil && old != nil && !price.Equal(*old) {
		delta := price.Sub(*old)
		kind := domain.ChangePriceDrop
		if delta.IsPositive() {
			kind = domain.ChangePriceIncrease
		}
		ev := newEvent(item, kind, now)
		ev.OldValue = old.StringFixed(2)
		ev.NewValue = price.StringFixed(2)
		ev.Delta = &delta
		if !old.IsZero() {
			ev.Percent = delta.Div(*old).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
		}
		ev.Message = fmt.Sprintf("%s price %s -> %s (%+.2f%%)",
			displayName(item), ev.OldValue, ev.NewValue, ev.Percent)
		events = append(events, ev)
	}

	if reachedTarget(item.TargetPrice, old, price) {
		ev := newEvent(item, domain.ChangeTargetReached, now)
		ev.OldValue = item.TargetPrice.StringFixed(2)
		ev.NewValue = price.StringFixed(2)
		ev.Message = fmt.Sprintf("%s hit your target price of %s (now %s)",
			displayName(item), ev.OldValue, ev.NewValue)
		events = append(events, ev)
	}

	return events
}

// reachedTarget fires when the price is at or below target and either
// just crossed it or dropped further, so an unchanged price below target
// is not announced on every check.
func reachedTarget(target, old, price *decimal.Decimal) bool {
	if target == nil || price == nil || price.GreaterThan(*target) {
		return false
	}
	return old == nil || old.GreaterThan(*target) || price.LessThan(*old)
}

func newEvent(item *domain.TrackedItem, kind domain.ChangeKind, now time.Time) *domain.ChangeEvent {
	return &domain.ChangeEvent{
		ID:          uuid.New().String(),
		ItemID:      item.ID,
		UserID:      item.UserID,
		Retailer:    item.Retailer,
		ProductKey:  item.ProductKey(),
		ProductName: displayName(item),
		URL:         item.URL,
		Category:    item.Category,
		Kind:        kind,
		DetectedAt:  now,
	}
}

func displayName(item *domain.TrackedItem) string {
	if item.Name != "" {
		return item.Name
	}
	return item.ProductKey()
}
