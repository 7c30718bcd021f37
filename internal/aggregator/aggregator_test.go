package aggregator_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/restock-monitor/internal/aggregator"
	"github.com/notifyhub/restock-monitor/internal/domain"
	"github.com/notifyhub/restock-monitor/internal/repository"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// stubSource returns fixed listings and counts polls.
type stubSource struct {
	id       string
	listings []aggregator.RawListing
	err      error

	mu    sync.Mutex
	polls int
}

func (s *stubSource) ID() string { return s.id }

func (s *stubSource) Poll(context.Context) ([]aggregator.RawListing, error) {
	s.mu.Lock()
	s.polls++
	s.mu.Unlock()
	return s.listings, s.err
}

func (s *stubSource) pollCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

type recordingSink struct {
	mu     sync.Mutex
	events []*domain.ChangeEvent
}

func (r *recordingSink) HandleEvents(_ context.Context, evs []*domain.ChangeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evs...)
	return nil
}

func cfg(id string, r domain.Retailer, interval time.Duration) aggregator.SourceConfig {
	return aggregator.SourceConfig{ID: id, Kind: aggregator.KindJSON, Retailer: r, Category: "tcg", Interval: interval, Enabled: true}
}

func TestClampInterval(t *testing.T) {
	tests := map[time.Duration]time.Duration{
		0:                aggregator.DefaultInterval,
		time.Minute:      5 * time.Minute,
		12 * time.Minute: 12 * time.Minute,
		time.Hour:        24 * time.Minute,
	}
	for in, want := range tests {
		if got := aggregator.ClampInterval(in); got != want {
			t.Fatalf("ClampInterval(%s): expected %s, got %s", in, want, got)
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name      string
		raw       aggregator.RawListing
		kind      domain.ListingKind
		available bool
	}{
		{"restock", aggregator.RawListing{ID: "1", Name: "ETB", Status: "Back in stock!"}, domain.ListingRestock, true},
		{"limited tag", aggregator.RawListing{ID: "2", Name: "Box", Tags: []string{"Exclusive"}}, domain.ListingLimited, true},
		{"new", aggregator.RawListing{ID: "3", Name: "Tin", Status: "Just added"}, domain.ListingNew, true},
		{"price only", aggregator.RawListing{ID: "4", Name: "Pack", Status: "In stock", Price: "4.99"}, domain.ListingPrice, true},
		{"sold out beats restock", aggregator.RawListing{ID: "5", Name: "Box", Status: "Restock - sold out"}, domain.ListingPrice, false},
		{"renewed is not new", aggregator.RawListing{ID: "6", Name: "Console", Status: "Renewed"}, domain.ListingPrice, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok := aggregator.Normalize(domain.RetailerTarget, tt.raw)
			if !ok {
				t.Fatal("expected listing to normalize")
			}
			if n.Kind != tt.kind || n.Available != tt.available {
				t.Fatalf("expected %s/%v, got %s/%v", tt.kind, tt.available, n.Kind, n.Available)
			}
		})
	}

	if _, ok := aggregator.Normalize(domain.RetailerTarget, aggregator.RawListing{Name: "   "}); ok {
		t.Fatal("expected listing without id and name to be dropped")
	}

	n, _ := aggregator.Normalize(domain.RetailerTarget, aggregator.RawListing{Title: "  Elite   Trainer Box ", Price: "$49.99"})
	if n.Name != "Elite Trainer Box" || n.Price == nil || n.Price.StringFixed(2) != "49.99" {
		t.Fatalf("unexpected normalized item: %+v", n)
	}
	if n.ProductKey() != "target:elite-trainer-box" {
		t.Fatalf("unexpected product key %q", n.ProductKey())
	}
}

func TestRunDue_DedupsAcrossSourcesAndForwardsOnce(t *testing.T) {
	c := &clock{t: t0}
	sink := &recordingSink{}
	events := repository.NewMockEventRepository()
	a := aggregator.New(events, sink, 0, aggregator.Hooks{}, zap.NewNop(), c.Now)

	a.Register(cfg("feed-a", domain.RetailerTarget, 5*time.Minute), &stubSource{id: "feed-a", listings: []aggregator.RawListing{
		{ID: "ETB-1", Name: "Elite Trainer Box", Status: "restock", Price: "49.99"},
		{ID: "PK-2", Name: "Booster Pack", Status: "in stock"},
	}})
	a.Register(cfg("feed-b", domain.RetailerTarget, 5*time.Minute), &stubSource{id: "feed-b", listings: []aggregator.RawListing{
		{ID: "etb-1", Name: "Elite Trainer Box (Target)", Status: "restocked"},
		{Name: "Collector Tin", Status: "new"},
	}})

	stats, err := a.RunDue(context.Background())
	if err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if stats.Polled != 2 || stats.Listings != 4 || stats.Unique != 3 || stats.Forwarded != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(sink.events) != 2 || len(events.All()) != 2 {
		t.Fatalf("expected 2 forwarded and persisted events, got %d/%d", len(sink.events), len(events.All()))
	}
	first := sink.events[0]
	if first.Kind != domain.ChangeRestock || first.Listing != domain.ListingRestock || !first.FromAggregator() {
		t.Fatalf("unexpected event: %+v", first)
	}
	if first.ProductKey != "target:ETB-1" || first.NewValue != "49.99" || first.Category != "tcg" {
		t.Fatalf("unexpected event fields: %+v", first)
	}

	c.Advance(5 * time.Minute)
	stats, err = a.RunDue(context.Background())
	if err != nil {
		t.Fatalf("second RunDue: %v", err)
	}
	if stats.Polled != 2 || stats.Forwarded != 0 {
		t.Fatalf("expected repeat listings to be held back, got %+v", stats)
	}
}

func TestRunDue_FailedPersistRetriesListingNextRun(t *testing.T) {
	c := &clock{t: t0}
	sink := &recordingSink{}
	events := repository.NewMockEventRepository()
	a := aggregator.New(events, sink, 0, aggregator.Hooks{}, zap.NewNop(), c.Now)
	a.Register(cfg("feed-a", domain.RetailerWalmart, 5*time.Minute), &stubSource{id: "feed-a", listings: []aggregator.RawListing{
		{ID: "SW-1", Name: "Switch OLED", Status: "back in stock"},
	}})

	events.InsertErr = errors.New("db down")
	stats, err := a.RunDue(context.Background())
	if err == nil {
		t.Fatal("expected persist error")
	}
	if stats.Forwarded != 0 || len(sink.events) != 0 {
		t.Fatalf("nothing may be forwarded when persisting fails, got %+v", stats)
	}

	events.InsertErr = nil
	c.Advance(6 * time.Minute)
	stats, err = a.RunDue(context.Background())
	if err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if stats.Forwarded != 1 || len(sink.events) != 1 || len(events.All()) != 1 {
		t.Fatalf("expected the listing forwarded on retry, got %+v sink=%d", stats, len(sink.events))
	}
}

func TestRunDue_IndependentSchedulesAndFailures(t *testing.T) {
	c := &clock{t: t0}
	sink := &recordingSink{}
	a := aggregator.New(nil, sink, 0, aggregator.Hooks{}, zap.NewNop(), c.Now)

	fast := &stubSource{id: "fast", listings: []aggregator.RawListing{{ID: "1", Name: "A", Status: "new"}}}
	slow := &stubSource{id: "slow", err: errors.New("boom")}
	off := &stubSource{id: "off"}
	a.Register(cfg("fast", domain.RetailerBestBuy, 5*time.Minute), fast)
	a.Register(cfg("slow", domain.RetailerBestBuy, 20*time.Minute), slow)
	offCfg := cfg("off", domain.RetailerBestBuy, 5*time.Minute)
	offCfg.Enabled = false
	a.Register(offCfg, off)

	stats, err := a.RunDue(context.Background())
	if err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if stats.Polled != 2 || stats.Failed != 1 || stats.Forwarded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	c.Advance(5 * time.Minute)
	if _, err := a.RunDue(context.Background()); err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if fast.pollCount() != 2 || slow.pollCount() != 1 || off.pollCount() != 0 {
		t.Fatalf("unexpected poll counts fast=%d slow=%d off=%d", fast.pollCount(), slow.pollCount(), off.pollCount())
	}
}

func TestPoll_UnknownSource(t *testing.T) {
	a := aggregator.New(nil, &recordingSink{}, 0, aggregator.Hooks{}, zap.NewNop(), nil)
	if _, err := a.Poll(context.Background(), "nope"); !errors.Is(err, aggregator.ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
}

func TestJSONSource_WrappedAndBare(t *testing.T) {
	payloads := map[string]string{
		"wrapped": `{"listings":[{"id":"A1","name":"Booster Box","price":119.99,"status":"restock"}]}`,
		"items":   `{"items":[{"id":"A1","name":"Booster Box","price":"119.99","status":"restock"}]}`,
		"bare":    `[{"id":"A1","name":"Booster Box","price":119.99,"status":"restock"}]`,
	}
	for name, body := range payloads {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("User-Agent") == "" {
					t.Error("expected a user agent")
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			c := cfg("json", domain.RetailerGameStop, 0)
			c.URL = srv.URL
			c.UserAgent = "test-agent"
			src, err := aggregator.NewSource(c, srv.Client(), nil)
			if err != nil {
				t.Fatalf("NewSource: %v", err)
			}
			raw, err := src.Poll(context.Background())
			if err != nil {
				t.Fatalf("Poll: %v", err)
			}
			if len(raw) != 1 || raw[0].ID != "A1" || string(raw[0].Price) != "119.99" {
				t.Fatalf("unexpected listings: %+v", raw)
			}
		})
	}
}

func TestJSONSource_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := cfg("json", domain.RetailerGameStop, 0)
	c.URL = srv.URL
	src, _ := aggregator.NewSource(c, srv.Client(), nil)
	if _, err := src.Poll(context.Background()); err == nil {
		t.Fatal("expected error on 502")
	}
}

const dropsPage = `<html><body>
<div class="card" data-sku="111">
  <a class="title" href="/p/111">Surging Sparks <b>Booster Box</b></a>
  <span class="price">$144.99</span><span class="badge">Restock</span>
</div>
<div class="card" data-sku="222">
  <a class="title" href="https://shop.example.com/p/222">Prismatic ETB</a>
  <span class="price">$59.99</span><span class="badge">Sold out</span>
</div>
</body></html>`

func TestHTMLSource_ParsesCards(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(dropsPage))
	}))
	defer srv.Close()

	c := aggregator.SourceConfig{
		ID: "drops", Kind: aggregator.KindHTML, Retailer: domain.RetailerBestBuy, URL: srv.URL + "/drops",
		Selectors: aggregator.Selectors{
			Card: ".card", ID: "@data-sku", Name: ".title", URL: ".title@href", Price: ".price", Status: ".badge",
		},
	}
	src, err := aggregator.NewSource(c, srv.Client(), nil)
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	raw, err := src.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(raw) != 2 {
		t.Fatalf("expected 2 cards, got %d", len(raw))
	}
	if raw[0].ID != "111" || raw[0].Name != "Surging Sparks Booster Box" || raw[0].URL != srv.URL+"/p/111" {
		t.Fatalf("unexpected first card: %+v", raw[0])
	}
	if raw[1].URL != "https://shop.example.com/p/222" || raw[1].Status != "Sold out" {
		t.Fatalf("unexpected second card: %+v", raw[1])
	}
}

func TestParseSources(t *testing.T) {
	doc := []byte(`
sources:
  - id: target-tcg
    kind: json
    retailer: Target
    url: https://api.example.com/tcg
    interval: 2m
    enabled: true
  - id: bestbuy-drops
    kind: html
    retailer: best buy
    url: https://www.example.com/drops
    interval: 1h
    selectors:
      card: .card
      name: .title
`)
	got, err := aggregator.ParseSources(doc)
	if err != nil {
		t.Fatalf("ParseSources: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(got))
	}
	if got[0].Retailer != domain.RetailerTarget || got[0].Interval != 5*time.Minute || got[0].Category != "general" {
		t.Fatalf("unexpected first source: %+v", got[0])
	}
	if got[1].Retailer != domain.RetailerBestBuy || got[1].Interval != 24*time.Minute || got[1].Enabled {
		t.Fatalf("unexpected second source: %+v", got[1])
	}

	bad := map[string]string{
		"unknown retailer": "sources:\n  - {id: x, kind: json, retailer: aldi, url: \"https://a.example\"}\n",
		"bad url":          "sources:\n  - {id: x, kind: json, retailer: target, url: \"ftp://a.example\"}\n",
		"html selectors":   "sources:\n  - {id: x, kind: html, retailer: target, url: \"https://a.example\"}\n",
		"duplicate":        "sources:\n  - {id: x, kind: json, retailer: target, url: \"https://a.example\"}\n  - {id: x, kind: json, retailer: target, url: \"https://b.example\"}\n",
	}
	for name, b := range bad {
		t.Run(name, func(t *testing.T) {
			if _, err := aggregator.ParseSources([]byte(b)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
