package monitor

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/restock-monitor/internal/domain"
	"github.com/notifyhub/restock-monitor/internal/repository"
)

// EventSink receives persisted change events for notification fan-out.
type EventSink interface {
	HandleEvents(ctx context.Context, events []*domain.ChangeEvent) error
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the production Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// BatchConfig bounds the outbound request rate of one check cycle.
type BatchConfig struct {
	Size         int
	BatchDelay   time.Duration
	ItemDelayMin time.Duration
	ItemDelayMax time.Duration
	Limit        int
}

// Hooks are optional metric callbacks; nil fields are no-ops.
type Hooks struct {
	OnChecked func(outcome string)
	OnEvent   func(kind domain.ChangeKind)
}

// CycleStats summarises one RunCycle.
type CycleStats struct {
	Due         int `json:"due"`
	Checked     int `json:"checked"`
	Failed      int `json:"failed"`
	Deactivated int `json:"deactivated"`
	Events      int `json:"events"`
}

// BatchRunner drives the periodic check cycle: it loads due items, groups
// them by owner and checks them in small, sequential, delayed batches.
type BatchRunner struct {
	items   repository.ItemRepository
	events  repository.EventRepository
	monitor *Monitor
	sink    EventSink
	cfg     BatchConfig
	sleep   Sleeper
	hooks   Hooks
	logger  *zap.Logger
	now     func() time.Time
}

func NewBatchRunner(
	items repository.ItemRepository,
	events repository.EventRepository,
	monitor *Monitor,
	sink EventSink,
	cfg BatchConfig,
	sleep Sleeper,
	hooks Hooks,
	logger *zap.Logger,
	now func() time.Time,
) *BatchRunner {
	if cfg.Size <= 0 {
		cfg.Size = 5
	}
	if sleep == nil {
		sleep = SleepContext
	}
	if hooks.OnChecked == nil {
		hooks.OnChecked = func(string) {}
	}
	if hooks.OnEvent == nil {
		hooks.OnEvent = func(domain.ChangeKind) {}
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &BatchRunner{
		items: items, events: events, monitor: monitor, sink: sink,
		cfg: cfg, sleep: sleep, hooks: hooks, logger: logger, now: now,
	}
}

// RunCycle checks every due item once. Individual item failures never
// abort the cycle; only a failed due-item query or ctx cancellation does.
func (r *BatchRunner) RunCycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats

	due, err := r.items.FindDue(ctx, r.now(), r.cfg.Limit)
	if err != nil {
		return stats, err
	}
	stats.Due = len(due)
	if len(due) == 0 {
		return stats, nil
	}

	batches := Batches(GroupByUser(due), r.cfg.Size)
	r.logger.Info("check cycle started",
		zap.Int("due", len(due)),
		zap.Int("batches", len(batches)),
	)

	for bi, batch := range batches {
		if bi > 0 {
			if err := r.sleep(ctx, r.cfg.BatchDelay); err != nil {
				return stats, err
			}
		}
		for ii, item := range batch {
			if ii > 0 {
				if err := r.sleep(ctx, r.itemDelay()); err != nil {
					return stats, err
				}
			}
			r.checkOne(ctx, item, &stats)
		}
	}

	r.logger.Info("check cycle finished",
		zap.Int("checked", stats.Checked),
		zap.Int("failed", stats.Failed),
		zap.Int("deactivated", stats.Deactivated),
		zap.Int("events", stats.Events),
	)
	return stats, nil
}

func (r *BatchRunner) checkOne(ctx context.Context, item *domain.TrackedItem, stats *CycleStats) {
	log := r.logger.With(zap.String("item_id", item.ID))

	res := r.monitor.Check(ctx, item)
	stats.Checked++
	r.hooks.OnChecked(res.Outcome)
	switch res.Outcome {
	case OutcomeError:
		stats.Failed++
	case OutcomeDeactivated:
		stats.Failed++
		stats.Deactivated++
	}

	if err := r.items.Update(ctx, res.Item); err != nil {
		log.Error("failed to persist item state", zap.Error(err))
		return
	}
	if len(res.Events) == 0 {
		return
	}

	if err := r.events.Insert(ctx, res.Events); err != nil {
		log.Error("failed to persist change events", zap.Error(err))
		return
	}
	stats.Events += len(res.Events)
	for _, ev := range res.Events {
		r.hooks.OnEvent(ev.Kind)
	}
	if r.sink == nil {
		return
	}
	if err := r.sink.HandleEvents(ctx, res.Events); err != nil {
		log.Error("failed to dispatch change events", zap.Error(err))
	}
}

func (r *BatchRunner) itemDelay() time.Duration {
	lo, hi := r.cfg.ItemDelayMin, r.cfg.ItemDelayMax
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

// GroupByUser partitions items by owner, preserving the order in which each
// owner first appears and the item order within each owner.
func GroupByUser(items []*domain.TrackedItem) [][]*domain.TrackedItem {
	index := make(map[string]int)
	var groups [][]*domain.TrackedItem
	for _, it := range items {
		i, ok := index[it.UserID]
		if !ok {
			i = len(groups)
			index[it.UserID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], it)
	}
	return groups
}

// Batches splits each user group into chunks of at most size items.
// A batch never mixes users.
func Batches(groups [][]*domain.TrackedItem, size int) [][]*domain.TrackedItem {
	var out [][]*domain.TrackedItem
	for _, g := range groups {
		for start := 0; start < len(g); start += size {
			end := min(start+size, len(g))
			out = append(out, g[start:end])
		}
	}
	return out
}
