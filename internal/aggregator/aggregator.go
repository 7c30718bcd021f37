package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/notifyhub/restock-monitor/internal/domain"
	"github.com/notifyhub/restock-monitor/internal/monitor"
	"github.com/notifyhub/restock-monitor/internal/repository"
)

// DefaultForwardWindow is how long a forwarded listing is remembered so
// that repeated polls do not re-announce it.
const DefaultForwardWindow = 24 * time.Hour

var ErrUnknownSource = errors.New("unknown aggregator source")

// Hooks are optional metric callbacks; nil fields are no-ops.
type Hooks struct {
	OnListings func(sourceID string, n int)
}

// RunStats summarises one RunDue pass.
type RunStats struct {
	Polled    int `json:"polled"`
	Failed    int `json:"failed"`
	Listings  int `json:"listings"`
	Unique    int `json:"unique"`
	Forwarded int `json:"forwarded"`
}

type entry struct {
	cfg      SourceConfig
	src      Source
	lastPoll time.Time
}

// Aggregator owns the source set. Each source is polled on its own
// interval; RunDue is meant to be ticked more often than the shortest one.
type Aggregator struct {
	events        repository.EventRepository
	sink          monitor.EventSink
	forwardWindow time.Duration
	hooks         Hooks
	logger        *zap.Logger
	now           func() time.Time

	mu        sync.Mutex
	sources   map[string]*entry
	forwarded map[string]time.Time
}

func New(
	events repository.EventRepository,
	sink monitor.EventSink,
	forwardWindow time.Duration,
	hooks Hooks,
	logger *zap.Logger,
	now func() time.Time,
) *Aggregator {
	if forwardWindow <= 0 {
		forwardWindow = DefaultForwardWindow
	}
	if hooks.OnListings == nil {
		hooks.OnListings = func(string, int) {}
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Aggregator{
		events:        events,
		sink:          sink,
		forwardWindow: forwardWindow,
		hooks:         hooks,
		logger:        logger,
		now:           now,
		sources:       make(map[string]*entry),
		forwarded:     make(map[string]time.Time),
	}
}

// Register adds or replaces a source. The interval is clamped.
func (a *Aggregator) Register(cfg SourceConfig, src Source) {
	cfg.Interval = ClampInterval(cfg.Interval)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sources[cfg.ID] = &entry{cfg: cfg, src: src}
}

// SourceIDs lists registered sources in id order.
func (a *Aggregator) SourceIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.sources))
	for id := range a.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Poll fetches and normalizes one source regardless of its schedule.
func (a *Aggregator) Poll(ctx context.Context, sourceID string) ([]NormalizedItem, error) {
	a.mu.Lock()
	e, ok := a.sources[sourceID]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, sourceID)
	}

	raw, err := e.src.Poll(ctx)

	a.mu.Lock()
	e.lastPoll = a.now()
	a.mu.Unlock()

	if err != nil {
		return nil, err
	}

	items := make([]NormalizedItem, 0, len(raw))
	for _, r := range raw {
		n, ok := Normalize(e.cfg.Retailer, r)
		if !ok {
			continue
		}
		n.SourceID = e.cfg.ID
		if n.Category == "" {
			n.Category = e.cfg.Category
		}
		items = append(items, n)
	}
	a.hooks.OnListings(e.cfg.ID, len(items))
	return items, nil
}

// due returns the ids of enabled sources whose interval has elapsed.
func (a *Aggregator) due(now time.Time) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var ids []string
	for id, e := range a.sources {
		if !e.cfg.Enabled {
			continue
		}
		if e.lastPoll.IsZero() || now.Sub(e.lastPoll) >= e.cfg.Interval {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// RunDue polls every due source concurrently, merges the results, drops
// cross-source duplicates and forwards announceable listings to the sink.
// A failing source is logged and does not affect the others.
func (a *Aggregator) RunDue(ctx context.Context) (RunStats, error) {
	var stats RunStats
	ids := a.due(a.now())
	if len(ids) == 0 {
		return stats, nil
	}

	results := make([][]NormalizedItem, len(ids))
	failed := make([]bool, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			items, err := a.Poll(gctx, id)
			if err != nil {
				a.logger.Warn("aggregator source poll failed", zap.String("source", id), zap.Error(err))
				failed[i] = true
				return nil
			}
			results[i] = items
			return nil
		})
	}
	_ = g.Wait()

	stats.Polled = len(ids)
	var merged []NormalizedItem
	for i := range ids {
		if failed[i] {
			stats.Failed++
		}
		stats.Listings += len(results[i])
		merged = append(merged, results[i]...)
	}
	unique := Dedup(merged)
	stats.Unique = len(unique)

	now := a.now()
	evs, keys := a.toEvents(unique, now)
	if len(evs) == 0 {
		return stats, nil
	}

	// Listings are only marked forwarded once both writes succeed, so a
	// failed run retries them on the next poll.
	if a.events != nil {
		if err := a.events.Insert(ctx, evs); err != nil {
			return stats, fmt.Errorf("persist listing events: %w", err)
		}
	}
	if err := a.sink.HandleEvents(ctx, evs); err != nil {
		return stats, fmt.Errorf("forward listing events: %w", err)
	}
	a.markForwarded(keys, now)
	stats.Forwarded = len(evs)
	a.logger.Info("aggregator run finished",
		zap.Int("sources", stats.Polled),
		zap.Int("listings", stats.Listings),
		zap.Int("forwarded", stats.Forwarded),
	)
	return stats, nil
}

// Dedup keeps the first listing per Key, preserving order.
func Dedup(items []NormalizedItem) []NormalizedItem {
	seen := make(map[string]bool, len(items))
	out := make([]NormalizedItem, 0, len(items))
	for _, it := range items {
		k := it.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, it)
	}
	return out
}

// toEvents builds restock events for forwardable listings that were not
// forwarded within the forward window, with the listing key of each.
func (a *Aggregator) toEvents(items []NormalizedItem, now time.Time) ([]*domain.ChangeEvent, []string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for k, at := range a.forwarded {
		if now.Sub(at) >= a.forwardWindow {
			delete(a.forwarded, k)
		}
	}

	var (
		evs  []*domain.ChangeEvent
		keys []string
	)
	for _, it := range items {
		if !it.Forwardable() {
			continue
		}
		k := it.Key()
		if _, ok := a.forwarded[k]; ok {
			continue
		}
		keys = append(keys, k)

		ev := &domain.ChangeEvent{
			ID:          uuid.New().String(),
			Retailer:    it.Retailer,
			ProductKey:  it.ProductKey(),
			ProductName: it.Name,
			URL:         it.URL,
			Category:    it.Category,
			Kind:        domain.ChangeRestock,
			Listing:     it.Kind,
			Message:     fmt.Sprintf("%s listing on %s", it.Kind, it.Retailer),
			DetectedAt:  now,
		}
		if it.Price != nil {
			ev.NewValue = it.Price.StringFixed(2)
		}
		evs = append(evs, ev)
	}
	return evs, keys
}

func (a *Aggregator) markForwarded(keys []string, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, k := range keys {
		a.forwarded[k] = now
	}
}
