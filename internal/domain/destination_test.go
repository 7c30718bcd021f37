package domain_test

import (
	"testing"
	"time"

	"github.com/notifyhub/restock-monitor/internal/domain"
)

func TestDestination_Available(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time { v := now.Add(-d); return &v }

	tests := []struct {
		name string
		dest domain.Destination
		want bool
	}{
		{
			name: "never posted",
			dest: domain.Destination{MinCooldown: time.Hour, MaxPostsPerDay: 3, DayStartedAt: now},
			want: true,
		},
		{
			name: "cooldown not elapsed",
			dest: domain.Destination{MinCooldown: 6 * time.Hour, MaxPostsPerDay: 3, LastPostAt: at(2 * time.Hour), DayStartedAt: now.Add(-time.Hour)},
			want: false,
		},
		{
			name: "daily cap reached",
			dest: domain.Destination{MinCooldown: time.Minute, MaxPostsPerDay: 2, PostsToday: 2, LastPostAt: at(time.Hour), DayStartedAt: now.Add(-2 * time.Hour)},
			want: false,
		},
		{
			name: "daily cap resets after 24h since last reset",
			dest: domain.Destination{MinCooldown: time.Minute, MaxPostsPerDay: 2, PostsToday: 2, LastPostAt: at(time.Hour), DayStartedAt: now.Add(-25 * time.Hour)},
			want: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.dest.Available(now); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestDestination_RecordPostResetsDay(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := domain.Destination{PostsToday: 5, MaxPostsPerDay: 5, DayStartedAt: now.Add(-30 * time.Hour)}

	d.RecordPost(now)

	if d.PostsToday != 1 {
		t.Fatalf("expected counter reset to 1, got %d", d.PostsToday)
	}
	if !d.DayStartedAt.Equal(now) {
		t.Fatalf("expected day to restart at now, got %s", d.DayStartedAt)
	}
	if d.LastPostAt == nil || !d.LastPostAt.Equal(now) {
		t.Fatal("expected last post to be now")
	}
}

func TestDestination_ClaimAndUnclaim(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	last := now.Add(-2 * time.Hour)
	d := domain.Destination{ID: "d1", MinCooldown: time.Hour, MaxPostsPerDay: 2, PostsToday: 1, LastPostAt: &last, DayStartedAt: now.Add(-3 * time.Hour)}

	c, ok := d.Claim(now)
	if !ok || d.PostsToday != 2 || !d.LastPostAt.Equal(now) {
		t.Fatalf("expected claim applied, got ok=%v %+v", ok, d)
	}
	if _, ok := d.Claim(now.Add(2 * time.Hour)); ok {
		t.Fatal("claim past the daily cap must be refused")
	}

	if !d.Unclaim(c) {
		t.Fatal("expected unclaim to restore state")
	}
	if d.PostsToday != 1 || !d.LastPostAt.Equal(last) {
		t.Fatalf("expected prior state, got %+v", d)
	}

	c, _ = d.Claim(now)
	d.RecordPost(now.Add(time.Hour))
	if d.Unclaim(c) {
		t.Fatal("unclaim must not undo a later post")
	}

	d.Disabled = true
	if _, ok := d.Claim(now.Add(48 * time.Hour)); ok {
		t.Fatal("disabled destination must not be claimed")
	}
}

func TestParseTier_DefaultsToFree(t *testing.T) {
	for in, want := range map[string]domain.Tier{
		"":        domain.TierFree,
		"garbage": domain.TierFree,
		"paid":    domain.TierPaid,
		"YEARLY":  domain.TierYearly,
	} {
		if got := domain.ParseTier(in); got != want {
			t.Fatalf("ParseTier(%q): expected %s, got %s", in, want, got)
		}
	}
}

func TestParseRetailer(t *testing.T) {
	if r, err := domain.ParseRetailer("Best Buy"); err != nil || r != domain.RetailerBestBuy {
		t.Fatalf("expected bestbuy, got %q err=%v", r, err)
	}
	if _, err := domain.ParseRetailer("ebay"); err != domain.ErrInvalidRetailer {
		t.Fatalf("expected ErrInvalidRetailer, got %v", err)
	}
}
