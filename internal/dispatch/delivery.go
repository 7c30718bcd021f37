package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/notifyhub/restock-monitor/internal/domain"
	"github.com/notifyhub/restock-monitor/internal/provider"
	"github.com/notifyhub/restock-monitor/internal/ratelimiter"
	"github.com/notifyhub/restock-monitor/internal/repository"
	"github.com/notifyhub/restock-monitor/internal/router"
)

// DeliveryStatus is what a Deliverer did with a job that did not error.
type DeliveryStatus int

const (
	DeliverySent DeliveryStatus = iota
	DeliveryCancelled
	DeliveryDeferred
)

// Delivery is the non-error result of Deliver.
type Delivery struct {
	Status     DeliveryStatus
	ExternalID string
	Reason     string
	RetryAt    time.Time
}

// Deliverer performs the actual send for a leased job. Errors are
// classified with provider.IsRetryable.
type Deliverer interface {
	Deliver(ctx context.Context, job *domain.NotificationJob) (Delivery, error)
}

var errNoProvider = errors.New("no provider configured for channel")

// ChannelDeliverer routes social jobs through the router and sends every
// other channel straight to the owner's contact for that channel.
type ChannelDeliverer struct {
	users      repository.UserRepository
	providers  *provider.Registry
	router     *router.Router
	limiters   *ratelimiter.ChannelLimiters
	retryDelay time.Duration
	now        func() time.Time
}

func NewChannelDeliverer(
	users repository.UserRepository,
	providers *provider.Registry,
	r *router.Router,
	limiters *ratelimiter.ChannelLimiters,
	retryDelay time.Duration,
	now func() time.Time,
) *ChannelDeliverer {
	if retryDelay <= 0 {
		retryDelay = domain.RetryDelay
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &ChannelDeliverer{
		users: users, providers: providers, router: r, limiters: limiters,
		retryDelay: retryDelay, now: now,
	}
}

func (d *ChannelDeliverer) Deliver(ctx context.Context, job *domain.NotificationJob) (Delivery, error) {
	if job.Payload.Title == "" && job.Payload.Body == "" {
		return Delivery{}, provider.Terminal(domain.ErrInvalidPayload)
	}
	if job.Channel == domain.ChannelSocial {
		return d.deliverSocial(ctx, job)
	}

	p, ok := d.providers.Get(job.Channel)
	if !ok {
		return Delivery{}, provider.Terminal(fmt.Errorf("%w: %s", errNoProvider, job.Channel))
	}
	to, err := d.recipient(ctx, job)
	if err != nil {
		return Delivery{}, err
	}
	if err := d.wait(ctx, job.Channel); err != nil {
		return Delivery{}, err
	}
	res, err := p.Send(ctx, to, job.Payload)
	if err != nil {
		return Delivery{}, err
	}
	return Delivery{Status: DeliverySent, ExternalID: res.ExternalID}, nil
}

func (d *ChannelDeliverer) deliverSocial(ctx context.Context, job *domain.NotificationJob) (Delivery, error) {
	if d.router == nil {
		return Delivery{}, provider.Terminal(fmt.Errorf("%w: %s", errNoProvider, job.Channel))
	}
	req := router.PostRequest{
		Category:   job.Payload.Category,
		ProductKey: job.ProductKey,
		Message:    job.Payload,
	}
	res, err := d.router.Post(ctx, req, d.sendToDestination)
	if err != nil {
		return Delivery{}, err
	}

	switch res.Outcome {
	case router.OutcomePosted:
		return Delivery{Status: DeliverySent, ExternalID: res.ExternalID}, nil
	case router.ReasonAllOnCooldownOrCap:
		return Delivery{Status: DeliveryDeferred, Reason: res.Outcome, RetryAt: d.now().Add(d.retryDelay)}, nil
	default:
		return Delivery{Status: DeliveryCancelled, Reason: res.Outcome}, nil
	}
}

func (d *ChannelDeliverer) sendToDestination(ctx context.Context, dest *domain.Destination, msg domain.Message) (provider.SendResult, error) {
	p, ok := d.providers.Get(dest.Kind)
	if !ok {
		return provider.SendResult{}, provider.Terminal(fmt.Errorf("%w: %s", errNoProvider, dest.Kind))
	}
	if err := d.wait(ctx, dest.Kind); err != nil {
		return provider.SendResult{}, err
	}
	return p.Send(ctx, provider.Recipient{ID: dest.ID, Address: dest.Target}, msg)
}

func (d *ChannelDeliverer) wait(ctx context.Context, ch domain.ChannelKind) error {
	if d.limiters == nil {
		return nil
	}
	if err := d.limiters.Wait(ctx, ch); err != nil {
		return provider.Transient(fmt.Errorf("rate limiter: %w", err), 0)
	}
	return nil
}

// recipient resolves the owner's address for the job's channel. RSS feeds
// are per user, keyed by user id.
func (d *ChannelDeliverer) recipient(ctx context.Context, job *domain.NotificationJob) (provider.Recipient, error) {
	u, err := d.users.GetByID(ctx, job.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return provider.Recipient{}, provider.Terminal(fmt.Errorf("user %s: %w", job.UserID, err))
		}
		return provider.Recipient{}, provider.Transient(fmt.Errorf("load user: %w", err), 0)
	}

	var addr string
	switch job.Channel {
	case domain.ChannelEmail:
		addr = u.Email
	case domain.ChannelSMS:
		addr = u.Phone
	case domain.ChannelTelegram:
		if u.TelegramChatID != 0 {
			addr = strconv.FormatInt(u.TelegramChatID, 10)
		}
	case domain.ChannelRSS:
		addr = u.ID
	}
	if addr == "" {
		return provider.Recipient{}, provider.Terminal(fmt.Errorf("%w: user %s has no %s address",
			domain.ErrInvalidPayload, u.ID, job.Channel))
	}
	return provider.Recipient{ID: u.ID, Address: addr}, nil
}
