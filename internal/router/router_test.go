package router_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/restock-monitor/internal/dedup"
	"github.com/notifyhub/restock-monitor/internal/domain"
	"github.com/notifyhub/restock-monitor/internal/provider"
	"github.com/notifyhub/restock-monitor/internal/repository"
	"github.com/notifyhub/restock-monitor/internal/router"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func ago(d time.Duration) *time.Time {
	t := now.Add(-d)
	return &t
}

func dest(id string, cooldown time.Duration, last *time.Time) *domain.Destination {
	return &domain.Destination{
		ID:             id,
		Kind:           domain.ChannelSocial,
		Target:         "r/" + id,
		Categories:     []string{"tcg"},
		MinCooldown:    cooldown,
		MaxPostsPerDay: 10,
		LastPostAt:     last,
		DayStartedAt:   now.Add(-time.Hour),
	}
}

func newRouter(dests repository.DestinationRepository, clock func() time.Time) *router.Router {
	return newRouterWithStore(dests, dedup.NewRepositoryStore(repository.NewMockRecentPostRepository()), clock)
}

// newRouterWithStore builds a router over a dedup store that other routers
// may share, standing in for a second process.
func newRouterWithStore(dests repository.DestinationRepository, store dedup.Store, clock func() time.Time) *router.Router {
	guard := dedup.NewGuard(store, 24*time.Hour)
	return router.New(dests, guard, router.DefaultContentRules, router.Hooks{}, zap.NewNop(), clock)
}

// pausingRepo holds the first List caller after it has read its snapshot
// until resume is closed.
type pausingRepo struct {
	*repository.MockDestinationRepository
	listed chan struct{}
	resume chan struct{}
	once   sync.Once
}

func newPausingRepo(shared *repository.MockDestinationRepository) *pausingRepo {
	return &pausingRepo{MockDestinationRepository: shared, listed: make(chan struct{}), resume: make(chan struct{})}
}

func (p *pausingRepo) List(ctx context.Context) ([]*domain.Destination, error) {
	out, err := p.MockDestinationRepository.List(ctx)
	p.once.Do(func() {
		close(p.listed)
		<-p.resume
	})
	return out, err
}

func okSend(sent *[]string) router.SendFunc {
	var mu sync.Mutex
	return func(_ context.Context, d *domain.Destination, _ domain.Message) (provider.SendResult, error) {
		mu.Lock()
		defer mu.Unlock()
		*sent = append(*sent, d.ID)
		return provider.SendResult{ExternalID: "ext-" + d.ID}, nil
	}
}

func post(key string) router.PostRequest {
	return router.PostRequest{
		Category:   "tcg",
		ProductKey: key,
		Message:    domain.Message{Title: "Back in stock", Body: "Booster Box is back", URL: "https://example.com/p/" + key},
	}
}

func TestSelectDestination_PrefersLongestIdle(t *testing.T) {
	// A: 6h cooldown, posted 2h ago (still cooling down).
	// B: 4h cooldown, posted 5h ago (available).
	repo := repository.NewMockDestinationRepository(
		dest("a", 6*time.Hour, ago(2*time.Hour)),
		dest("b", 4*time.Hour, ago(5*time.Hour)),
	)
	sel, err := newRouter(repo, func() time.Time { return now }).SelectDestination(context.Background(), "tcg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sel.Reason != router.ReasonSelected || sel.Destination.ID != "b" {
		t.Fatalf("expected b selected, got %+v", sel)
	}
}

func TestSelectDestination_Reasons(t *testing.T) {
	capped := dest("capped", time.Minute, ago(time.Hour))
	capped.PostsToday = 10
	disabled := dest("disabled", 0, nil)
	disabled.Disabled = true
	never := dest("never", time.Hour, nil)
	recent := dest("recent", time.Hour, ago(3*time.Hour))

	tests := []struct {
		name     string
		dests    []*domain.Destination
		category string
		reason   string
		pick     string
	}{
		{"no destinations", nil, "tcg", router.ReasonNoValidDestinations, ""},
		{"category mismatch", []*domain.Destination{never}, "gpu", router.ReasonNoValidDestinations, ""},
		{"only disabled", []*domain.Destination{disabled}, "tcg", router.ReasonNoValidDestinations, ""},
		{"only capped", []*domain.Destination{capped}, "tcg", router.ReasonAllOnCooldownOrCap, ""},
		{"never posted wins", []*domain.Destination{recent, never}, "tcg", router.ReasonSelected, "never"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := repository.NewMockDestinationRepository(tc.dests...)
			sel, err := newRouter(repo, func() time.Time { return now }).SelectDestination(context.Background(), tc.category)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sel.Reason != tc.reason {
				t.Fatalf("expected %s, got %s", tc.reason, sel.Reason)
			}
			if tc.pick != "" && sel.Destination.ID != tc.pick {
				t.Fatalf("expected %s, got %s", tc.pick, sel.Destination.ID)
			}
		})
	}
}

func TestSelectDestination_DailyCapResetsAfter24h(t *testing.T) {
	d := dest("a", time.Minute, ago(time.Hour))
	d.PostsToday = 10
	d.DayStartedAt = now.Add(-25 * time.Hour)
	repo := repository.NewMockDestinationRepository(d)

	sel, _ := newRouter(repo, func() time.Time { return now }).SelectDestination(context.Background(), "tcg")
	if sel.Reason != router.ReasonSelected {
		t.Fatalf("expected the counter to have rolled over, got %s", sel.Reason)
	}
}

func TestPost_RecordsAndDedups(t *testing.T) {
	repo := repository.NewMockDestinationRepository(
		dest("a", 0, ago(2*time.Hour)),
		dest("b", 0, ago(time.Hour)),
	)
	r := newRouter(repo, func() time.Time { return now })
	var sent []string

	res, err := r.Post(context.Background(), post("amazon:1"), okSend(&sent))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != router.OutcomePosted || res.Destination.ID != "a" || res.ExternalID != "ext-a" {
		t.Fatalf("unexpected result %+v", res)
	}
	a, _ := repo.GetByID(context.Background(), "a")
	if a.PostsToday != 1 || a.LastPostAt == nil || !a.LastPostAt.Equal(now) {
		t.Fatalf("expected routing state updated, got %+v", a)
	}

	// Same product again: suppressed even though b is free.
	res, err = r.Post(context.Background(), post("amazon:1"), okSend(&sent))
	if err != nil || res.Outcome != router.OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %+v err=%v", res, err)
	}
	if len(sent) != 1 {
		t.Fatalf("expected exactly one send, got %v", sent)
	}
}

func TestPost_NeverExceedsDailyCap(t *testing.T) {
	d := dest("a", 0, nil)
	d.MaxPostsPerDay = 3
	repo := repository.NewMockDestinationRepository(d)
	r := newRouter(repo, func() time.Time { return now })

	var (
		sent []string
		wg   sync.WaitGroup
	)
	send := okSend(&sent)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = r.Post(context.Background(), post(fmt.Sprintf("amazon:%d", i)), send)
		}(i)
	}
	wg.Wait()

	if len(sent) != 3 {
		t.Fatalf("expected exactly 3 posts under the cap, got %d", len(sent))
	}
	got, _ := repo.GetByID(context.Background(), "a")
	if got.PostsToday != 3 {
		t.Fatalf("expected counter 3, got %d", got.PostsToday)
	}
}

func TestPost_ContentPolicyIsTerminalAndNotSent(t *testing.T) {
	repo := repository.NewMockDestinationRepository(dest("a", 0, nil))
	r := newRouter(repo, func() time.Time { return now })
	var sent []string

	req := post("amazon:1")
	req.Message.Title = "HUGE RESTOCK GO GO GO NOW"
	_, err := r.Post(context.Background(), req, okSend(&sent))
	if !errors.Is(err, domain.ErrContentPolicy) {
		t.Fatalf("expected ErrContentPolicy, got %v", err)
	}
	if provider.IsRetryable(err) {
		t.Fatal("content policy rejection must not be retryable")
	}
	if len(sent) != 0 {
		t.Fatal("rejected message must not be sent")
	}
	a, _ := repo.GetByID(context.Background(), "a")
	if a.PostsToday != 0 {
		t.Fatal("rejected message must not consume the daily cap")
	}
}

func TestPost_SendFailureLeavesStateUntouched(t *testing.T) {
	repo := repository.NewMockDestinationRepository(dest("a", 0, nil))
	r := newRouter(repo, func() time.Time { return now })
	fail := func(context.Context, *domain.Destination, domain.Message) (provider.SendResult, error) {
		return provider.SendResult{}, provider.Transient(errors.New("503"), 0)
	}

	if _, err := r.Post(context.Background(), post("amazon:1"), fail); !provider.IsRetryable(err) {
		t.Fatalf("expected retryable send error, got %v", err)
	}
	if a, _ := repo.GetByID(context.Background(), "a"); a.PostsToday != 0 || a.LastPostAt != nil {
		t.Fatalf("failed send must give the claim back, got %+v", a)
	}
	var sent []string
	res, err := r.Post(context.Background(), post("amazon:1"), okSend(&sent))
	if err != nil || res.Outcome != router.OutcomePosted {
		t.Fatalf("a failed send must not mark the product as posted, got %+v err=%v", res, err)
	}
}

func TestPost_ConcurrentRoutersShareCooldownAndCap(t *testing.T) {
	only := dest("only", time.Hour, nil)
	only.MaxPostsPerDay = 1
	shared := repository.NewMockDestinationRepository(only)
	clock := func() time.Time { return now }
	first := newRouter(shared, clock)
	second := newRouter(shared, clock)

	inSend := make(chan struct{})
	unblock := make(chan struct{})
	var firstSent []string
	blocking := func(_ context.Context, d *domain.Destination, _ domain.Message) (provider.SendResult, error) {
		close(inSend)
		<-unblock
		firstSent = append(firstSent, d.ID)
		return provider.SendResult{ExternalID: "ext-" + d.ID}, nil
	}

	done := make(chan router.PostResult)
	go func() {
		res, _ := first.Post(context.Background(), post("amazon:1"), blocking)
		done <- res
	}()
	<-inSend

	var secondSent []string
	res, err := second.Post(context.Background(), post("amazon:2"), okSend(&secondSent))
	close(unblock)
	firstRes := <-done

	if err != nil || res.Outcome != router.ReasonAllOnCooldownOrCap {
		t.Fatalf("expected the second router to find nothing free, got %+v err=%v", res, err)
	}
	if len(secondSent) != 0 {
		t.Fatalf("second router must not send, got %v", secondSent)
	}
	if firstRes.Outcome != router.OutcomePosted || len(firstSent) != 1 {
		t.Fatalf("expected the first router to post once, got %+v sent=%v", firstRes, firstSent)
	}
	if got, _ := shared.GetByID(context.Background(), "only"); got.PostsToday != 1 {
		t.Fatalf("expected counter 1 under a cap of 1, got %d", got.PostsToday)
	}
}

func TestPost_StaleSelectionLosesTheClaim(t *testing.T) {
	only := dest("only", time.Hour, nil)
	only.MaxPostsPerDay = 1
	shared := repository.NewMockDestinationRepository(only)
	paused := newPausingRepo(shared)
	clock := func() time.Time { return now }
	slow := newRouter(paused, clock)
	fast := newRouter(shared, clock)

	var slowSent []string
	done := make(chan router.PostResult)
	go func() {
		res, _ := slow.Post(context.Background(), post("amazon:1"), okSend(&slowSent))
		done <- res
	}()
	<-paused.listed

	var fastSent []string
	if res, err := fast.Post(context.Background(), post("amazon:2"), okSend(&fastSent)); err != nil || res.Outcome != router.OutcomePosted {
		t.Fatalf("expected fast router to post, got %+v err=%v", res, err)
	}
	close(paused.resume)
	res := <-done

	if res.Outcome != router.ReasonAllOnCooldownOrCap || len(slowSent) != 0 {
		t.Fatalf("router holding a stale selection must not post, got %+v sent=%v", res, slowSent)
	}
	if got, _ := shared.GetByID(context.Background(), "only"); got.PostsToday != 1 {
		t.Fatalf("expected counter 1, got %d", got.PostsToday)
	}
}

func TestPost_ConcurrentRoutersDoNotDuplicateProduct(t *testing.T) {
	shared := repository.NewMockDestinationRepository(
		dest("a", time.Hour, ago(3*time.Hour)),
		dest("b", time.Hour, ago(2*time.Hour)),
	)
	store := dedup.NewRepositoryStore(repository.NewMockRecentPostRepository())
	paused := newPausingRepo(shared)
	clock := func() time.Time { return now }
	slow := newRouterWithStore(paused, store, clock)
	fast := newRouterWithStore(shared, store, clock)

	var sent []string
	send := okSend(&sent)
	done := make(chan router.PostResult)
	go func() {
		res, _ := slow.Post(context.Background(), post("amazon:1"), send)
		done <- res
	}()
	<-paused.listed

	if res, err := fast.Post(context.Background(), post("amazon:1"), send); err != nil || res.Outcome != router.OutcomePosted {
		t.Fatalf("expected fast router to post, got %+v err=%v", res, err)
	}
	close(paused.resume)
	res := <-done

	if res.Outcome != router.OutcomeDuplicate {
		t.Fatalf("expected the slower post to be suppressed, got %+v", res)
	}
	if len(sent) != 1 || sent[0] != "a" {
		t.Fatalf("expected one send to a, got %v", sent)
	}
	b, _ := shared.GetByID(context.Background(), "b")
	if b.PostsToday != 0 || !b.LastPostAt.Equal(*ago(2 * time.Hour)) {
		t.Fatalf("claim on b must be released, got %+v", b)
	}
}

func TestDisableEnable(t *testing.T) {
	repo := repository.NewMockDestinationRepository(dest("a", 0, nil))
	r := newRouter(repo, func() time.Time { return now })
	ctx := context.Background()

	if err := r.Disable(ctx, "a", "banned by moderators"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sel, _ := r.SelectDestination(ctx, "tcg"); sel.Reason != router.ReasonNoValidDestinations {
		t.Fatalf("expected disabled destination skipped, got %s", sel.Reason)
	}
	d, _ := repo.GetByID(ctx, "a")
	if d.DisabledReason != "banned by moderators" {
		t.Fatalf("expected reason stored, got %q", d.DisabledReason)
	}
	if err := r.Enable(ctx, "a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sel, _ := r.SelectDestination(ctx, "tcg"); sel.Reason != router.ReasonSelected {
		t.Fatalf("expected destination back in rotation, got %s", sel.Reason)
	}
	if err := r.Disable(ctx, "missing", "x"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
