package dedup

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/notifyhub/restock-monitor/internal/domain"
)

// RedisStore keeps one sorted set per product, scored by post time in
// unix milliseconds. Keys expire one window after their latest post.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultWindow
	}
	return &RedisStore{client: client, prefix: "restock:recent:", ttl: ttl}
}

func (s *RedisStore) key(productKey string) string {
	return s.prefix + productKey
}

// claimScript prunes, checks and appends in one server-side step.
// KEYS[1] product key; ARGV: since ms, score ms, member, ttl ms.
var claimScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
if redis.call('ZCOUNT', KEYS[1], ARGV[1], '+inf') > 0 then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

func member(p domain.RecentPost) string {
	return p.DestinationID + "|" + strconv.FormatInt(p.PostedAt.UnixNano(), 10)
}

func (s *RedisStore) Claim(ctx context.Context, p domain.RecentPost, since time.Time) (bool, error) {
	key := s.key(p.ProductKey)
	n, err := claimScript.Run(ctx, s.client, []string{key},
		since.UnixMilli(), p.PostedAt.UnixMilli(), member(p), s.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis: claim post %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *RedisStore) Release(ctx context.Context, p domain.RecentPost) error {
	key := s.key(p.ProductKey)
	if err := s.client.ZRem(ctx, key, member(p)).Err(); err != nil {
		return fmt.Errorf("redis: release post %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) PostedSince(ctx context.Context, productKey string, since time.Time) (bool, error) {
	key := s.key(productKey)
	from := strconv.FormatInt(since.UnixMilli(), 10)

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+from)
	count := pipe.ZCount(ctx, key, from, "+inf")
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis: count posts %s: %w", key, err)
	}
	return count.Val() > 0, nil
}
