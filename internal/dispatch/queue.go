// Package dispatch turns change events into durable notification jobs and
// delivers them with tier gating, retry and dedup.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/restock-monitor/internal/domain"
	"github.com/notifyhub/restock-monitor/internal/provider"
	"github.com/notifyhub/restock-monitor/internal/repository"
	"github.com/notifyhub/restock-monitor/internal/tier"
)

// Job outcomes reported to metrics.
const (
	OutcomeDelivered = "delivered"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
	OutcomeDeferred  = "deferred"
	OutcomeCancelled = "cancelled"
)

// EnqueueRequest describes one job to create.
type EnqueueRequest struct {
	UserID  string
	Channel domain.ChannelKind
	Event   *domain.ChangeEvent
	Payload domain.Message
	WhenDue time.Time
}

// ProcessStats summarises one ProcessDue pass. Processed counts every
// leased job; the other fields partition it.
type ProcessStats struct {
	Processed int `json:"processed"`
	Delivered int `json:"delivered"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
	Deferred  int `json:"deferred"`
	Cancelled int `json:"cancelled"`
}

// CleanupStats reports what Cleanup purged.
type CleanupStats struct {
	Jobs   int64 `json:"jobs"`
	Events int64 `json:"events"`
}

// QueueConfig holds the retry, lease and retention settings.
type QueueConfig struct {
	RetryDelay     time.Duration
	MaxAttempts    int
	LeaseTTL       time.Duration
	JobRetention   time.Duration
	EventRetention time.Duration
}

// persistTimeout bounds the writes that settle a leased job. They run on a
// context detached from the pass so a cancelled pass still records what it
// already did.
const persistTimeout = 5 * time.Second

// Hooks are optional metric callbacks; nil fields are no-ops.
type Hooks struct {
	OnOutcome   func(ch domain.ChannelKind, outcome string)
	OnDelivered func(ch domain.ChannelKind, sinceDetection time.Duration)
	OnPending   func(n int)
}

// Queue is the durable job queue. Delivery is delegated to a Deliverer.
type Queue struct {
	jobs      repository.JobRepository
	events    repository.EventRepository
	users     repository.UserRepository
	policy    tier.Policy
	deliverer Deliverer
	cfg       QueueConfig
	hooks     Hooks
	logger    *zap.Logger
	now       func() time.Time
}

func NewQueue(
	jobs repository.JobRepository,
	events repository.EventRepository,
	users repository.UserRepository,
	policy tier.Policy,
	deliverer Deliverer,
	cfg QueueConfig,
	hooks Hooks,
	logger *zap.Logger,
	now func() time.Time,
) *Queue {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = domain.RetryDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = domain.DefaultMaxAttempts
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = domain.LeaseTTL
	}
	if cfg.JobRetention <= 0 {
		cfg.JobRetention = domain.JobRetention
	}
	if hooks.OnOutcome == nil {
		hooks.OnOutcome = func(domain.ChannelKind, string) {}
	}
	if hooks.OnDelivered == nil {
		hooks.OnDelivered = func(domain.ChannelKind, time.Duration) {}
	}
	if hooks.OnPending == nil {
		hooks.OnPending = func(int) {}
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Queue{
		jobs: jobs, events: events, users: users, policy: policy, deliverer: deliverer,
		cfg: cfg, hooks: hooks, logger: logger, now: now,
	}
}

// Enqueue creates a pending job unless a non-terminal job with the same
// dedup key exists, in which case the existing job id is returned and
// created is false.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (string, bool, error) {
	if req.Event == nil || !req.Channel.IsValid() || req.UserID == "" {
		return "", false, domain.ErrInvalidPayload
	}
	ev := req.Event
	key := domain.DedupKey(req.UserID, ev.ProductKey, ev.Kind, req.Channel, ev.DetectedAt)

	existing, err := q.jobs.GetActiveByDedupKey(ctx, key)
	if err == nil {
		return existing.ID, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", false, fmt.Errorf("dedup lookup: %w", err)
	}

	now := q.now()
	due := req.WhenDue
	if due.IsZero() {
		due = now
	}
	job := &domain.NotificationJob{
		ID:           uuid.New().String(),
		UserID:       req.UserID,
		Channel:      req.Channel,
		ItemID:       ev.ItemID,
		EventID:      ev.ID,
		EventKind:    ev.Kind,
		Retailer:     ev.Retailer,
		ProductKey:   ev.ProductKey,
		Payload:      req.Payload,
		Status:       domain.JobPending,
		MaxAttempts:  q.cfg.MaxAttempts,
		ScheduledFor: due,
		DetectedAt:   ev.DetectedAt,
		DedupKey:     &key,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := q.jobs.Create(ctx, job); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Lost a race with a concurrent enqueue of the same key.
			if existing, gerr := q.jobs.GetActiveByDedupKey(ctx, key); gerr == nil {
				return existing.ID, false, nil
			}
		}
		return "", false, fmt.Errorf("persist job: %w", err)
	}
	return job.ID, true, nil
}

// ProcessDue leases up to limit due jobs and drives each to its next state.
// A failure on one job never stops the pass. Leases older than LeaseTTL are
// taken over, so jobs stranded by a crashed pass are delivered eventually.
// When ctx is cancelled mid-pass the jobs not yet started are released.
func (q *Queue) ProcessDue(ctx context.Context, limit int) (ProcessStats, error) {
	var stats ProcessStats

	now := q.now()
	jobs, err := q.jobs.LeaseDue(ctx, now, now.Add(-q.cfg.LeaseTTL), limit)
	if err != nil {
		return stats, fmt.Errorf("lease due jobs: %w", err)
	}

	for i, job := range jobs {
		if ctx.Err() != nil {
			q.release(ctx, jobs[i:])
			break
		}
		stats.Processed++
		outcome := q.process(ctx, job)
		switch outcome {
		case OutcomeDelivered:
			stats.Delivered++
		case OutcomeRetried:
			stats.Retried++
		case OutcomeFailed:
			stats.Failed++
		case OutcomeDeferred:
			stats.Deferred++
		case OutcomeCancelled:
			stats.Cancelled++
		}
		q.hooks.OnOutcome(job.Channel, outcome)
	}

	if counts, err := q.jobs.CountByStatus(ctx); err == nil {
		q.hooks.OnPending(counts[domain.JobPending])
	}
	return stats, nil
}

func (q *Queue) process(ctx context.Context, job *domain.NotificationJob) string {
	log := q.logger.With(
		zap.String("job_id", job.ID),
		zap.String("user_id", job.UserID),
		zap.String("channel", string(job.Channel)),
	)
	now := q.now()

	// Re-evaluate the tier gate against the stored detection time so a
	// FREE-tier job is never delivered before DetectedAt + delay.
	if t, ok := q.tierOf(ctx, job.UserID); ok {
		ev := &domain.ChangeEvent{Kind: job.EventKind, Retailer: job.Retailer, DetectedAt: job.DetectedAt}
		d := q.policy.ShouldDeliver(ev, t, job.Retailer, nil, now)
		switch d.Action {
		case tier.ActionAfter:
			return q.save(ctx, job, log, OutcomeDeferred, job.Defer(d.DueAt, now))
		case tier.ActionSuppress:
			return q.save(ctx, job, log, OutcomeCancelled, job.Cancel(d.Reason, now))
		}
	}

	res, err := q.deliverer.Deliver(ctx, job)
	now = q.now()
	if err != nil {
		if provider.IsRetryable(err) {
			retryAt := now.Add(max(q.cfg.RetryDelay, provider.RetryAfter(err)))
			requeued, terr := job.Retry(err.Error(), retryAt, now)
			if terr != nil {
				log.Error("invalid retry transition", zap.Error(terr))
				return OutcomeFailed
			}
			if requeued {
				log.Warn("delivery failed, retry scheduled",
					zap.Error(err),
					zap.Int("attempts", job.Attempts),
					zap.Time("retry_at", retryAt),
				)
				return q.save(ctx, job, log, OutcomeRetried, nil)
			}
			log.Warn("delivery failed, attempts exhausted", zap.Error(err), zap.Int("attempts", job.Attempts))
			return q.save(ctx, job, log, OutcomeFailed, nil)
		}
		log.Warn("delivery failed permanently", zap.Error(err))
		return q.save(ctx, job, log, OutcomeFailed, job.Fail(err.Error(), now))
	}

	switch res.Status {
	case DeliveryCancelled:
		log.Info("job cancelled", zap.String("reason", res.Reason))
		return q.save(ctx, job, log, OutcomeCancelled, job.Cancel(res.Reason, now))
	case DeliveryDeferred:
		log.Info("job deferred", zap.String("reason", res.Reason), zap.Time("until", res.RetryAt))
		return q.save(ctx, job, log, OutcomeDeferred, job.Defer(res.RetryAt, now))
	}

	if err := job.Deliver(res.ExternalID, now); err != nil {
		log.Error("invalid deliver transition", zap.Error(err))
		return OutcomeFailed
	}
	outcome := q.save(ctx, job, log, OutcomeDelivered, nil)
	if outcome == OutcomeDelivered {
		q.hooks.OnDelivered(job.Channel, now.Sub(job.DetectedAt))
	}
	return outcome
}

// release hands leased jobs that were never attempted back to pending.
// A job whose release fails stays leased until LeaseTTL passes.
func (q *Queue) release(ctx context.Context, jobs []*domain.NotificationJob) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	now := q.now()
	for _, job := range jobs {
		if err := job.Release(now); err != nil {
			continue
		}
		if err := q.jobs.Save(pctx, job); err != nil {
			q.logger.Warn("failed to release job; it is re-leased after the lease expires",
				zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	q.logger.Info("pass interrupted; released unattempted jobs", zap.Int("released", len(jobs)))
}

// save persists job after a transition. The write is detached from ctx so
// a send that completed is recorded even when the pass was cancelled. A
// failed transition or save is logged; the job stays in_progress and is
// leased again once LeaseTTL passes.
func (q *Queue) save(ctx context.Context, job *domain.NotificationJob, log *zap.Logger, outcome string, transitionErr error) string {
	if transitionErr != nil {
		log.Error("invalid job transition", zap.Error(transitionErr), zap.String("status", string(job.Status)))
		return OutcomeFailed
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := q.jobs.Save(pctx, job); err != nil {
		log.Error("failed to persist job", zap.Error(err))
		return OutcomeFailed
	}
	return outcome
}

// tierOf returns the user's tier. Jobs whose owner has no user record
// (the broadcast account) skip tier gating.
func (q *Queue) tierOf(ctx context.Context, userID string) (domain.Tier, bool) {
	u, err := q.users.GetByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			q.logger.Warn("user lookup failed; skipping tier gate", zap.String("user_id", userID), zap.Error(err))
		}
		return "", false
	}
	return u.Tier, true
}

// Cleanup purges terminal jobs past the retention window and change
// events past the audit window.
func (q *Queue) Cleanup(ctx context.Context) (CleanupStats, error) {
	var stats CleanupStats
	now := q.now()

	n, err := q.jobs.PurgeTerminal(ctx, now.Add(-q.cfg.JobRetention))
	if err != nil {
		return stats, fmt.Errorf("purge jobs: %w", err)
	}
	stats.Jobs = n

	if q.cfg.EventRetention > 0 && q.events != nil {
		n, err = q.events.PurgeBefore(ctx, now.Add(-q.cfg.EventRetention))
		if err != nil {
			return stats, fmt.Errorf("purge events: %w", err)
		}
		stats.Events = n
	}
	q.logger.Info("cleanup finished", zap.Int64("jobs", stats.Jobs), zap.Int64("events", stats.Events))
	return stats, nil
}

// Stats returns job counts by status.
func (q *Queue) Stats(ctx context.Context) (domain.JobStats, error) {
	return q.jobs.CountByStatus(ctx)
}
