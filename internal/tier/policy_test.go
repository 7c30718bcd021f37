package tier_test

import (
	"testing"
	"time"

	"github.com/notifyhub/restock-monitor/internal/domain"
	"github.com/notifyhub/restock-monitor/internal/tier"
)

var policy = tier.Policy{
	PrimaryRetailer: domain.RetailerAmazon,
	FreeDelay:       10 * time.Minute,
	NotifyCooldown:  time.Hour,
}

var detected = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func restock(r domain.Retailer) *domain.ChangeEvent {
	return &domain.ChangeEvent{Kind: domain.ChangeRestock, Retailer: r, DetectedAt: detected}
}

func TestShouldDeliver_FreeTier(t *testing.T) {
	tests := []struct {
		name     string
		retailer domain.Retailer
		now      time.Time
		want     tier.Action
	}{
		{"amazon is immediate", domain.RetailerAmazon, detected, tier.ActionNow},
		{"walmart waits", domain.RetailerWalmart, detected.Add(time.Minute), tier.ActionAfter},
		{"walmart just before window", domain.RetailerWalmart, detected.Add(10*time.Minute - time.Second), tier.ActionAfter},
		{"walmart at window", domain.RetailerWalmart, detected.Add(10 * time.Minute), tier.ActionNow},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := policy.ShouldDeliver(restock(tc.retailer), domain.TierFree, tc.retailer, nil, tc.now)
			if d.Action != tc.want {
				t.Fatalf("expected %s, got %s (%s)", tc.want, d.Action, d.Reason)
			}
		})
	}
}

func TestShouldDeliver_AfterIsAnchoredToDetection(t *testing.T) {
	ev := restock(domain.RetailerWalmart)
	first := policy.ShouldDeliver(ev, domain.TierFree, domain.RetailerWalmart, nil, detected.Add(2*time.Minute))
	again := policy.ShouldDeliver(ev, domain.TierFree, domain.RetailerWalmart, nil, detected.Add(2*time.Minute))
	later := policy.ShouldDeliver(ev, domain.TierFree, domain.RetailerWalmart, nil, detected.Add(7*time.Minute))

	if first != again {
		t.Fatalf("expected identical decisions, got %+v and %+v", first, again)
	}
	want := detected.Add(10 * time.Minute)
	if !first.DueAt.Equal(want) || !later.DueAt.Equal(want) {
		t.Fatalf("expected due at %s, got %s and %s", want, first.DueAt, later.DueAt)
	}
	if first.Delay != 8*time.Minute || later.Delay != 3*time.Minute {
		t.Fatalf("unexpected remaining delays %s and %s", first.Delay, later.Delay)
	}
}

func TestShouldDeliver_PaidTiersAreImmediate(t *testing.T) {
	for _, tr := range []domain.Tier{domain.TierPaid, domain.TierYearly} {
		d := policy.ShouldDeliver(restock(domain.RetailerTarget), tr, domain.RetailerTarget, nil, detected)
		if d.Action != tier.ActionNow {
			t.Fatalf("%s: expected now, got %s", tr, d.Action)
		}
	}
}

func TestShouldDeliver_UnknownTierIsFree(t *testing.T) {
	for _, tr := range []domain.Tier{"", "PLATINUM"} {
		d := policy.ShouldDeliver(restock(domain.RetailerNewegg), tr, domain.RetailerNewegg, nil, detected)
		if d.Action != tier.ActionAfter {
			t.Fatalf("tier %q: expected after, got %s", tr, d.Action)
		}
	}
}

func TestShouldDeliver_Suppression(t *testing.T) {
	recent := detected.Add(-30 * time.Minute)
	old := detected.Add(-2 * time.Hour)

	increase := &domain.ChangeEvent{Kind: domain.ChangePriceIncrease, DetectedAt: detected}
	if d := policy.ShouldDeliver(increase, domain.TierPaid, domain.RetailerAmazon, nil, detected); d.Action != tier.ActionSuppress {
		t.Fatalf("price increases must be suppressed, got %s", d.Action)
	}
	if d := policy.ShouldDeliver(restock(domain.RetailerAmazon), domain.TierPaid, domain.RetailerAmazon, &recent, detected); d.Action != tier.ActionSuppress {
		t.Fatalf("expected cooldown suppression, got %s", d.Action)
	}
	if d := policy.ShouldDeliver(restock(domain.RetailerAmazon), domain.TierPaid, domain.RetailerAmazon, &old, detected); d.Action != tier.ActionNow {
		t.Fatalf("expected delivery once the cooldown passed, got %s", d.Action)
	}
}
