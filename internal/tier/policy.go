// Package tier decides when, if ever, a change event may be delivered to a
// user given their subscription tier.
package tier

import (
	"time"

	"github.com/notifyhub/restock-monitor/internal/domain"
)

// Action is the delivery decision.
type Action string

const (
	ActionNow      Action = "now"
	ActionAfter    Action = "after"
	ActionSuppress Action = "suppress"
)

// Decision is the outcome of ShouldDeliver. For ActionAfter, DueAt is the
// absolute release time and Delay the time remaining from the evaluation
// instant.
type Decision struct {
	Action Action
	Delay  time.Duration
	DueAt  time.Time
	Reason string
}

// Decision reasons.
const (
	ReasonPaidTier        = "paid_tier"
	ReasonPrimaryRetailer = "primary_retailer"
	ReasonFreeTierDelay   = "free_tier_delay"
	ReasonDelayElapsed    = "free_tier_delay_elapsed"
	ReasonNotUserFacing   = "not_user_facing"
	ReasonCooldown        = "notify_cooldown"
)

// Policy holds the tier rules.
type Policy struct {
	PrimaryRetailer domain.Retailer
	FreeDelay       time.Duration
	NotifyCooldown  time.Duration
}

// ShouldDeliver is pure: the same inputs always give the same decision, and
// the FREE-tier release time is anchored to the event's detection time so
// re-evaluating it on a later pass never pushes delivery further out.
func (p Policy) ShouldDeliver(
	ev *domain.ChangeEvent,
	t domain.Tier,
	r domain.Retailer,
	lastNotifiedAt *time.Time,
	now time.Time,
) Decision {
	if ev.Kind == domain.ChangePriceIncrease {
		return Decision{Action: ActionSuppress, Reason: ReasonNotUserFacing}
	}
	if lastNotifiedAt != nil && p.NotifyCooldown > 0 && now.Sub(*lastNotifiedAt) < p.NotifyCooldown {
		return Decision{Action: ActionSuppress, Reason: ReasonCooldown}
	}

	switch domain.ParseTier(string(t)) {
	case domain.TierPaid, domain.TierYearly:
		return Decision{Action: ActionNow, DueAt: now, Reason: ReasonPaidTier}
	}

	if r == p.PrimaryRetailer {
		return Decision{Action: ActionNow, DueAt: now, Reason: ReasonPrimaryRetailer}
	}

	due := ev.DetectedAt.Add(p.FreeDelay)
	if !now.Before(due) {
		return Decision{Action: ActionNow, DueAt: due, Reason: ReasonDelayElapsed}
	}
	return Decision{Action: ActionAfter, Delay: due.Sub(now), DueAt: due, Reason: ReasonFreeTierDelay}
}
