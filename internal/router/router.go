// Package router picks the shared destination a product announcement goes
// to and enforces cooldowns, daily caps, duplicate suppression and content
// policy around the send.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/restock-monitor/internal/dedup"
	"github.com/notifyhub/restock-monitor/internal/domain"
	"github.com/notifyhub/restock-monitor/internal/provider"
	"github.com/notifyhub/restock-monitor/internal/repository"
)

// Selection reasons.
const (
	ReasonSelected            = "selected"
	ReasonNoValidDestinations = "no_valid_destinations"
	ReasonAllOnCooldownOrCap  = "all_on_cooldown_or_cap"
)

// Post outcomes beyond the selection reasons.
const (
	OutcomePosted    = "posted"
	OutcomeDuplicate = "duplicate"
)

const (
	claimAttempts  = 3
	releaseTimeout = 5 * time.Second
)

// Selection is the result of SelectDestination. Destination is nil unless
// Reason is ReasonSelected.
type Selection struct {
	Destination *domain.Destination
	Reason      string
}

// PostRequest is one product announcement.
type PostRequest struct {
	Category   string
	ProductKey string
	Message    domain.Message
}

// PostResult describes what Post did. Outcome is OutcomePosted,
// OutcomeDuplicate or one of the non-selected reasons.
type PostResult struct {
	Outcome     string
	Destination *domain.Destination
	ExternalID  string
}

// SendFunc delivers a message to a destination.
type SendFunc func(ctx context.Context, dest *domain.Destination, msg domain.Message) (provider.SendResult, error)

// Hooks are optional metric callbacks; nil fields are no-ops.
type Hooks struct {
	OnDecision  func(reason string)
	OnDuplicate func()
}

// Router serialises posts within the process. Across processes the
// destination and dedup claims taken before each send keep cooldowns,
// caps and duplicate suppression exact.
type Router struct {
	dests  repository.DestinationRepository
	guard  *dedup.Guard
	rules  ContentRules
	hooks  Hooks
	logger *zap.Logger
	now    func() time.Time

	mu sync.Mutex
}

func New(
	dests repository.DestinationRepository,
	guard *dedup.Guard,
	rules ContentRules,
	hooks Hooks,
	logger *zap.Logger,
	now func() time.Time,
) *Router {
	if hooks.OnDecision == nil {
		hooks.OnDecision = func(string) {}
	}
	if hooks.OnDuplicate == nil {
		hooks.OnDuplicate = func() {}
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Router{dests: dests, guard: guard, rules: rules, hooks: hooks, logger: logger, now: now}
}

// SelectDestination returns the eligible, available destination for
// category that has gone longest without a post.
func (r *Router) SelectDestination(ctx context.Context, category string) (Selection, error) {
	return r.selectAt(ctx, category, r.now())
}

func (r *Router) selectAt(ctx context.Context, category string, now time.Time) (Selection, error) {
	all, err := r.dests.List(ctx)
	if err != nil {
		return Selection{}, fmt.Errorf("list destinations: %w", err)
	}

	var candidates []*domain.Destination
	for _, d := range all {
		if d.Eligible(category) {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return Selection{Reason: ReasonNoValidDestinations}, nil
	}

	var best *domain.Destination
	for _, d := range candidates {
		if !d.Available(now) {
			continue
		}
		if best == nil || d.SinceLastPost(now) > best.SinceLastPost(now) {
			best = d
		}
	}
	if best == nil {
		return Selection{Reason: ReasonAllOnCooldownOrCap}, nil
	}
	return Selection{Destination: best, Reason: ReasonSelected}, nil
}

// Post runs dedup check, selection, content policy, send and state
// recording as one critical section. The destination and the product are
// claimed before the send and released again if it fails. Policy outcomes
// (duplicate, nothing available) are reported in PostResult with a nil
// error. A content-policy violation returns an error wrapping
// domain.ErrContentPolicy; send errors are returned unchanged.
func (r *Router) Post(ctx context.Context, req PostRequest, send SendFunc) (PostResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	log := r.logger.With(
		zap.String("product_key", req.ProductKey),
		zap.String("category", req.Category),
	)

	seen, err := r.guard.Seen(ctx, req.ProductKey, now)
	if err != nil {
		return PostResult{}, err
	}
	if seen {
		r.hooks.OnDuplicate()
		log.Info("product already announced within dedup window")
		return PostResult{Outcome: OutcomeDuplicate}, nil
	}

	sel, err := r.selectAt(ctx, req.Category, now)
	if err != nil {
		return PostResult{}, err
	}
	r.hooks.OnDecision(sel.Reason)
	if sel.Reason != ReasonSelected {
		log.Info("no destination available", zap.String("reason", sel.Reason))
		return PostResult{Outcome: sel.Reason}, nil
	}

	if err := ValidateContent(req.Message, r.rules); err != nil {
		log.Warn("message rejected by content policy", zap.Error(err), zap.String("destination_id", sel.Destination.ID))
		return PostResult{Destination: sel.Destination}, err
	}

	dest, claim, err := r.claimDestination(ctx, req.Category, sel.Destination, now)
	if errors.Is(err, domain.ErrStaleState) {
		log.Info("destination claimed by another post", zap.String("reason", ReasonAllOnCooldownOrCap))
		return PostResult{Outcome: ReasonAllOnCooldownOrCap}, nil
	}
	if err != nil {
		return PostResult{}, err
	}
	log = log.With(zap.String("destination_id", dest.ID))

	won, err := r.guard.Claim(ctx, req.ProductKey, dest.ID, now)
	if err != nil || !won {
		r.releaseDestination(ctx, claim, log)
		if err != nil {
			return PostResult{Destination: dest}, err
		}
		r.hooks.OnDuplicate()
		log.Info("product claimed by a concurrent post")
		return PostResult{Outcome: OutcomeDuplicate}, nil
	}

	res, err := send(ctx, dest, req.Message)
	if err != nil {
		r.releaseDestination(ctx, claim, log)
		r.releaseProduct(ctx, req.ProductKey, dest.ID, now, log)
		return PostResult{Destination: dest}, err
	}

	log.Info("posted to destination", zap.String("external_id", res.ExternalID))
	return PostResult{Outcome: OutcomePosted, Destination: dest, ExternalID: res.ExternalID}, nil
}

// claimDestination claims dest for a post at now. When another process got
// there first it selects again, giving up with domain.ErrStaleState after
// claimAttempts tries or once nothing is available.
func (r *Router) claimDestination(ctx context.Context, category string, dest *domain.Destination, now time.Time) (*domain.Destination, domain.PostClaim, error) {
	for i := 1; ; i++ {
		claim, err := r.dests.ClaimPost(ctx, dest.ID, now)
		if err == nil {
			return dest, claim, nil
		}
		if !errors.Is(err, domain.ErrStaleState) || i == claimAttempts {
			return nil, domain.PostClaim{}, err
		}
		sel, err := r.selectAt(ctx, category, now)
		if err != nil {
			return nil, domain.PostClaim{}, err
		}
		if sel.Reason != ReasonSelected {
			return nil, domain.PostClaim{}, domain.ErrStaleState
		}
		dest = sel.Destination
	}
}

// releaseDestination undoes a claim. It runs detached from ctx so a send
// cut short by cancellation still gives the slot back.
func (r *Router) releaseDestination(ctx context.Context, claim domain.PostClaim, log *zap.Logger) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := r.dests.ReleaseClaim(rctx, claim); err != nil {
		log.Warn("failed to release destination claim", zap.Error(err))
	}
}

func (r *Router) releaseProduct(ctx context.Context, productKey, destinationID string, now time.Time, log *zap.Logger) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := r.guard.Release(rctx, productKey, destinationID, now); err != nil {
		log.Warn("failed to release dedup claim", zap.Error(err))
	}
}

// Disable stops routing to a destination until re-enabled.
func (r *Router) Disable(ctx context.Context, id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.dests.SetDisabled(ctx, id, true, reason); err != nil {
		return err
	}
	r.logger.Info("destination disabled", zap.String("destination_id", id), zap.String("reason", reason))
	return nil
}

// Enable resumes routing to a destination.
func (r *Router) Enable(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.dests.SetDisabled(ctx, id, false, ""); err != nil {
		return err
	}
	r.logger.Info("destination enabled", zap.String("destination_id", id))
	return nil
}
