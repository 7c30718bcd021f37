package ratelimiter

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/notifyhub/restock-monitor/internal/domain"
)

// ChannelLimiters holds one token bucket limiter per channel kind.
// Burst is set equal to the rate so no extra burst capacity is allowed
// beyond the configured per-second maximum.
type ChannelLimiters struct {
	limiters map[domain.ChannelKind]*rate.Limiter
}

// New creates a ChannelLimiters with ratePerSec tokens per second per channel.
func New(ratePerSec int) *ChannelLimiters {
	r := rate.Limit(ratePerSec)
	burst := ratePerSec

	limiters := make(map[domain.ChannelKind]*rate.Limiter)
	for _, ch := range []domain.ChannelKind{
		domain.ChannelEmail, domain.ChannelSMS, domain.ChannelTelegram,
		domain.ChannelRSS, domain.ChannelSocial,
	} {
		limiters[ch] = rate.NewLimiter(r, burst)
	}
	return &ChannelLimiters{limiters: limiters}
}

// Wait blocks until the channel's limiter grants a token.
// Returns a non-nil error only if ctx is cancelled while waiting.
// Unknown channels are not limited.
func (cl *ChannelLimiters) Wait(ctx context.Context, ch domain.ChannelKind) error {
	l, ok := cl.limiters[ch]
	if !ok {
		return nil
	}
	return l.Wait(ctx)
}

// KeyedLimiters lazily creates one limiter per key (a retailer host, a
// source id). Used to keep scraping polite toward each origin.
type KeyedLimiters struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// NewKeyed returns limiters allowing perSec requests per second per key.
// A non-positive perSec disables limiting.
func NewKeyed(perSec float64) *KeyedLimiters {
	limit := rate.Limit(perSec)
	if perSec <= 0 {
		limit = rate.Inf
	}
	return &KeyedLimiters{limit: limit, burst: 1, limiters: make(map[string]*rate.Limiter)}
}

// Wait blocks until key's limiter grants a token.
func (kl *KeyedLimiters) Wait(ctx context.Context, key string) error {
	kl.mu.Lock()
	l, ok := kl.limiters[key]
	if !ok {
		l = rate.NewLimiter(kl.limit, kl.burst)
		kl.limiters[key] = l
	}
	kl.mu.Unlock()
	return l.Wait(ctx)
}
