package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/restock-monitor/internal/domain"
	"github.com/notifyhub/restock-monitor/internal/monitor"
	"github.com/notifyhub/restock-monitor/internal/repository"
)

// CheckTrigger starts a check cycle out of schedule. It reports false when
// a cycle is already in flight.
type CheckTrigger interface {
	TriggerCheck() (bool, error)
}

// DestinationAdmin disables and re-enables routing destinations.
type DestinationAdmin interface {
	Disable(ctx context.Context, id, reason string) error
	Enable(ctx context.Context, id string) error
}

// ItemService owns the operator-facing rules: registration, reactivation,
// destination administration and stats. HTTP handlers depend on this
// service, not on repositories.
type ItemService struct {
	items    repository.ItemRepository
	users    repository.UserRepository
	jobs     repository.JobRepository
	dests    repository.DestinationRepository
	profiles monitor.ProfileSource
	admin    DestinationAdmin
	trigger  CheckTrigger
	logger   *zap.Logger
	now      func() time.Time
}

func NewItemService(
	items repository.ItemRepository,
	users repository.UserRepository,
	jobs repository.JobRepository,
	dests repository.DestinationRepository,
	profiles monitor.ProfileSource,
	admin DestinationAdmin,
	trigger CheckTrigger,
	logger *zap.Logger,
	now func() time.Time,
) *ItemService {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &ItemService{
		items: items, users: users, jobs: jobs, dests: dests, profiles: profiles,
		admin: admin, trigger: trigger, logger: logger, now: now,
	}
}

// Register validates and persists a tracked item. The first check is due
// immediately and only records a baseline.
func (s *ItemService) Register(ctx context.Context, req domain.RegisterItemRequest) (*domain.TrackedItem, error) {
	r, interval, err := req.Validate()
	if err != nil {
		return nil, err
	}
	if _, err := s.users.GetByID(ctx, req.UserID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnknownUser
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	category := strings.TrimSpace(req.Category)
	if category == "" {
		if p, ok := s.profiles.Lookup(r); ok {
			category = p.Category
		}
	}

	now := s.now()
	it := &domain.TrackedItem{
		ID:              uuid.New().String(),
		UserID:          req.UserID,
		Retailer:        r,
		SourceProductID: strings.TrimSpace(req.SourceProductID),
		URL:             req.URL,
		Name:            strings.TrimSpace(req.Name),
		Category:        category,
		TargetPrice:     req.TargetPrice,
		CheckInterval:   interval,
		NextCheckAt:     now,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.items.Create(ctx, it); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("persist item: %w", err)
	}

	s.logger.Info("item registered",
		zap.String("item_id", it.ID),
		zap.String("user_id", it.UserID),
		zap.String("product_key", it.ProductKey()),
		zap.Duration("interval", interval),
	)
	return it, nil
}

func (s *ItemService) GetItem(ctx context.Context, id string) (*domain.TrackedItem, error) {
	return s.items.GetByID(ctx, id)
}

// Reactivate resumes checking an item that was deactivated after repeated
// failures. The error count starts over and the item is due immediately.
func (s *ItemService) Reactivate(ctx context.Context, id string) (*domain.TrackedItem, error) {
	it, err := s.items.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if it.Active {
		return nil, domain.ErrItemActive
	}

	now := s.now()
	it.Active = true
	it.ErrorCount = 0
	it.LastError = nil
	it.DeactivatedAt = nil
	it.NextCheckAt = now
	it.UpdatedAt = now
	if err := s.items.Update(ctx, it); err != nil {
		return nil, fmt.Errorf("persist item: %w", err)
	}
	s.logger.Info("item reactivated", zap.String("item_id", id))
	return it, nil
}

func (s *ItemService) DisableDestination(ctx context.Context, id, reason string) error {
	if _, err := s.dests.GetByID(ctx, id); err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" {
		reason = "disabled by operator"
	}
	return s.admin.Disable(ctx, id, reason)
}

func (s *ItemService) EnableDestination(ctx context.Context, id string) error {
	if _, err := s.dests.GetByID(ctx, id); err != nil {
		return err
	}
	return s.admin.Enable(ctx, id)
}

// TriggerCheck starts a check cycle unless one is running.
func (s *ItemService) TriggerCheck() (bool, error) {
	return s.trigger.TriggerCheck()
}

// Stats aggregates job counts, active items and destination state.
func (s *ItemService) Stats(ctx context.Context) (domain.Stats, error) {
	var st domain.Stats

	jobs, err := s.jobs.CountByStatus(ctx)
	if err != nil {
		return st, fmt.Errorf("count jobs: %w", err)
	}
	st.Jobs = jobs

	if st.ActiveItems, err = s.items.CountActive(ctx); err != nil {
		return st, fmt.Errorf("count items: %w", err)
	}

	dests, err := s.dests.List(ctx)
	if err != nil {
		return st, fmt.Errorf("list destinations: %w", err)
	}
	st.Destinations = len(dests)
	for _, d := range dests {
		if d.Disabled {
			st.Disabled++
		}
	}
	return st, nil
}
