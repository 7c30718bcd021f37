package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/notifyhub/restock-monitor/internal/domain"
)

// Recipient identifies where a message goes. Address is interpreted by the
// provider: an email address, a phone number, a Telegram chat id or
// @channel, a feed name or a webhook URL.
type Recipient struct {
	ID      string
	Address string
}

// SendResult carries the external id assigned by the downstream service.
type SendResult struct {
	ExternalID string
}

// Provider abstracts delivery to an external notification service.
// Mocking this interface in tests gives full control over provider behaviour
// without making real network calls.
type Provider interface {
	Send(ctx context.Context, to Recipient, msg domain.Message) (SendResult, error)
}

// SendError classifies a delivery failure. Retryable failures (timeouts,
// 5xx, 429) are re-queued by the dispatch queue; the rest fail the job on
// first occurrence.
type SendError struct {
	Retryable  bool
	RetryAfter time.Duration
	Err        error
}

func (e *SendError) Error() string {
	kind := "terminal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("%s send error: %v", kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure.
func Transient(err error, retryAfter time.Duration) error {
	return &SendError{Retryable: true, RetryAfter: retryAfter, Err: err}
}

// Terminal wraps err as a non-retryable failure.
func Terminal(err error) error {
	return &SendError{Err: err}
}

// IsRetryable reports whether a send failure may succeed on a later
// attempt. Unclassified errors are assumed to be transport failures and
// therefore retryable; content-policy and malformed-payload errors never are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrContentPolicy) || errors.Is(err, domain.ErrInvalidPayload) {
		return false
	}
	var se *SendError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return true
}

// RetryAfter returns the downstream's requested back-off, if any.
func RetryAfter(err error) time.Duration {
	var se *SendError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}

// classifyStatus maps an HTTP-style status code to a SendError.
func classifyStatus(status int, err error, retryAfter time.Duration) error {
	if status == 429 || status >= 500 {
		return Transient(err, retryAfter)
	}
	return Terminal(err)
}

// Registry maps channel kinds to providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[domain.ChannelKind]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[domain.ChannelKind]Provider)}
}

// Register installs p for kind, replacing any previous provider.
func (r *Registry) Register(kind domain.ChannelKind, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[kind] = p
}

// Get returns the provider for kind.
func (r *Registry) Get(kind domain.ChannelKind) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[kind]
	return p, ok
}

// Kinds lists the registered channel kinds.
func (r *Registry) Kinds() []domain.ChannelKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ChannelKind, 0, len(r.providers))
	for k := range r.providers {
		out = append(out, k)
	}
	return out
}
