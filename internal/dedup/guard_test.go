package dedup_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/notifyhub/restock-monitor/internal/dedup"
	"github.com/notifyhub/restock-monitor/internal/repository"
)

func stores(t *testing.T) map[string]dedup.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]dedup.Store{
		"repository": dedup.NewRepositoryStore(repository.NewMockRecentPostRepository()),
		"redis":      dedup.NewRedisStore(client, 24*time.Hour),
	}
}

func TestGuard_RollingWindow(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			g := dedup.NewGuard(store, 24*time.Hour)
			posted := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

			if seen, err := g.Seen(ctx, "amazon:B0TEST", posted); err != nil || seen {
				t.Fatalf("expected unseen product, got seen=%v err=%v", seen, err)
			}
			if ok, err := g.Claim(ctx, "amazon:B0TEST", "dest-a", posted); err != nil || !ok {
				t.Fatalf("expected claim, got ok=%v err=%v", ok, err)
			}

			tests := []struct {
				at   time.Time
				want bool
			}{
				{posted.Add(time.Minute), true},
				{posted.Add(23 * time.Hour), true},
				{posted.Add(24 * time.Hour), true},
				{posted.Add(24*time.Hour + time.Second), false},
			}
			for _, tc := range tests {
				seen, err := g.Seen(ctx, "amazon:B0TEST", tc.at)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if seen != tc.want {
					t.Fatalf("at +%s: expected seen=%v", tc.at.Sub(posted), tc.want)
				}
			}

			if seen, _ := g.Seen(ctx, "walmart:123", posted.Add(time.Minute)); seen {
				t.Fatal("other products must not be affected")
			}
		})
	}
}

func TestGuard_ClaimIsExclusiveUntilReleased(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			g := dedup.NewGuard(store, 24*time.Hour)
			at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

			if ok, err := g.Claim(ctx, "walmart:9", "dest-a", at); err != nil || !ok {
				t.Fatalf("first claim: ok=%v err=%v", ok, err)
			}
			if ok, err := g.Claim(ctx, "walmart:9", "dest-b", at.Add(time.Second)); err != nil || ok {
				t.Fatalf("second claim within window must lose, got ok=%v err=%v", ok, err)
			}

			if err := g.Release(ctx, "walmart:9", "dest-a", at); err != nil {
				t.Fatalf("release: %v", err)
			}
			if seen, _ := g.Seen(ctx, "walmart:9", at.Add(time.Minute)); seen {
				t.Fatal("released claim must not count as a post")
			}
			if ok, err := g.Claim(ctx, "walmart:9", "dest-b", at.Add(time.Minute)); err != nil || !ok {
				t.Fatalf("claim after release: ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestRedisStore_SetsExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	g := dedup.NewGuard(dedup.NewRedisStore(client, time.Hour), time.Hour)
	if _, err := g.Claim(context.Background(), "target:42", "dest-a", time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ttl := mr.TTL("restock:recent:target:42"); ttl != time.Hour {
		t.Fatalf("expected 1h ttl, got %s", ttl)
	}
}
