package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/restock-monitor/internal/domain"
	"github.com/notifyhub/restock-monitor/internal/events"
	"github.com/notifyhub/restock-monitor/internal/repository"
	"github.com/notifyhub/restock-monitor/internal/tier"
)

// DispatcherConfig controls the social broadcast of aggregator listings.
type DispatcherConfig struct {
	BroadcastUserID  string
	BroadcastEnabled bool
}

// Dispatcher turns change events into jobs: one per subscribed channel of
// the item's owner, gated by the tier policy, plus one social job per
// aggregator listing for the broadcast account.
type Dispatcher struct {
	queue     *Queue
	users     repository.UserRepository
	jobs      repository.JobRepository
	policy    tier.Policy
	publisher events.Publisher
	cfg       DispatcherConfig
	logger    *zap.Logger
	now       func() time.Time
}

func NewDispatcher(
	queue *Queue,
	users repository.UserRepository,
	jobs repository.JobRepository,
	policy tier.Policy,
	publisher events.Publisher,
	cfg DispatcherConfig,
	logger *zap.Logger,
	now func() time.Time,
) *Dispatcher {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Dispatcher{
		queue: queue, users: users, jobs: jobs, policy: policy,
		publisher: publisher, cfg: cfg, logger: logger, now: now,
	}
}

// HandleEvents enqueues jobs for evs. Every event is attempted; the
// returned error joins the individual failures.
func (d *Dispatcher) HandleEvents(ctx context.Context, evs []*domain.ChangeEvent) error {
	if err := events.PublishAll(ctx, d.publisher, evs); err != nil {
		d.logger.Warn("failed to publish change events", zap.Error(err))
	}

	var errs []error
	for _, ev := range evs {
		var err error
		if ev.FromAggregator() {
			err = d.broadcast(ctx, ev)
		} else {
			err = d.notifyOwner(ctx, ev)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("event %s: %w", ev.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) broadcast(ctx context.Context, ev *domain.ChangeEvent) error {
	if !d.cfg.BroadcastEnabled || d.cfg.BroadcastUserID == "" {
		return nil
	}
	_, _, err := d.queue.Enqueue(ctx, EnqueueRequest{
		UserID:  d.cfg.BroadcastUserID,
		Channel: domain.ChannelSocial,
		Event:   ev,
		Payload: Render(ev),
		WhenDue: d.now(),
	})
	return err
}

func (d *Dispatcher) notifyOwner(ctx context.Context, ev *domain.ChangeEvent) error {
	u, err := d.users.GetByID(ctx, ev.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			d.logger.Warn("event owner not found; dropping", zap.String("user_id", ev.UserID))
			return nil
		}
		return fmt.Errorf("load user: %w", err)
	}

	log := d.logger.With(
		zap.String("user_id", u.ID),
		zap.String("product_key", ev.ProductKey),
		zap.String("kind", string(ev.Kind)),
	)

	last, err := d.jobs.LastDelivered(ctx, u.ID, ev.ProductKey, ev.Kind)
	if err != nil {
		return fmt.Errorf("last delivered: %w", err)
	}
	now := d.now()
	dec := d.policy.ShouldDeliver(ev, u.Tier, ev.Retailer, last, now)
	if dec.Action == tier.ActionSuppress {
		log.Debug("notification suppressed", zap.String("reason", dec.Reason))
		return nil
	}
	due := now
	if dec.Action == tier.ActionAfter {
		due = dec.DueAt
	}

	msg := Render(ev)
	var errs []error
	for _, ch := range u.Channels {
		if !ch.IsValid() || !channelCarries(ch, ev.Kind) {
			continue
		}
		id, created, err := d.queue.Enqueue(ctx, EnqueueRequest{
			UserID:  u.ID,
			Channel: ch,
			Event:   ev,
			Payload: msg,
			WhenDue: due,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch, err))
			continue
		}
		if created {
			log.Info("notification enqueued",
				zap.String("job_id", id),
				zap.String("channel", string(ch)),
				zap.String("decision", dec.Reason),
				zap.Time("due", due),
			)
		}
	}
	return errors.Join(errs...)
}

// channelCarries keeps sold-out and tracking-error notices off the shared
// social destinations.
func channelCarries(ch domain.ChannelKind, kind domain.ChangeKind) bool {
	if ch != domain.ChannelSocial {
		return true
	}
	return kind != domain.ChangeOutOfStock && kind != domain.ChangeError
}
