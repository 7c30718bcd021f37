// Package aggregator polls retailer listing feeds, normalizes them and
// forwards new, restocked and limited listings as change events.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.yaml.in/yaml/v3"

	"github.com/notifyhub/restock-monitor/internal/domain"
	"github.com/notifyhub/restock-monitor/internal/ratelimiter"
	"github.com/notifyhub/restock-monitor/internal/retailer"
)

const (
	MinInterval     = 5 * time.Minute
	MaxInterval     = 24 * time.Minute
	DefaultInterval = 10 * time.Minute
)

// SourceKind selects the payload parser.
type SourceKind string

const (
	KindJSON SourceKind = "json"
	KindHTML SourceKind = "html"
)

// Selectors locate listing fields inside an HTML card. A selector of the
// form "css@attr" reads the attribute instead of the text.
type Selectors struct {
	Card   string `yaml:"card"`
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	Price  string `yaml:"price"`
	Status string `yaml:"status"`
}

// SourceConfig is one entry of the sources document.
type SourceConfig struct {
	ID        string          `yaml:"id"`
	Kind      SourceKind      `yaml:"kind"`
	Retailer  domain.Retailer `yaml:"retailer"`
	URL       string          `yaml:"url"`
	Category  string          `yaml:"category"`
	Interval  time.Duration   `yaml:"interval"`
	Enabled   bool            `yaml:"enabled"`
	UserAgent string          `yaml:"user_agent"`
	Selectors Selectors       `yaml:"selectors"`
}

// ClampInterval keeps a polling interval within [MinInterval, MaxInterval].
// Zero selects DefaultInterval.
func ClampInterval(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return DefaultInterval
	case d < MinInterval:
		return MinInterval
	case d > MaxInterval:
		return MaxInterval
	}
	return d
}

// ParseSources decodes and validates a sources document.
func ParseSources(b []byte) ([]SourceConfig, error) {
	var doc struct {
		Sources []SourceConfig `yaml:"sources"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode sources: %w", err)
	}

	seen := make(map[string]bool, len(doc.Sources))
	out := make([]SourceConfig, 0, len(doc.Sources))
	for _, c := range doc.Sources {
		c.ID = strings.TrimSpace(c.ID)
		if c.ID == "" {
			return nil, errors.New("source without id")
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("source %q: duplicate id", c.ID)
		}
		seen[c.ID] = true

		r, err := domain.ParseRetailer(string(c.Retailer))
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", c.ID, err)
		}
		c.Retailer = r
		if u, err := url.Parse(c.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, fmt.Errorf("source %q: %w", c.ID, domain.ErrInvalidURL)
		}
		switch c.Kind {
		case KindJSON:
		case KindHTML:
			if c.Selectors.Card == "" || c.Selectors.Name == "" {
				return nil, fmt.Errorf("source %q: html sources need card and name selectors", c.ID)
			}
		default:
			return nil, fmt.Errorf("source %q: unknown kind %q", c.ID, c.Kind)
		}
		c.Interval = ClampInterval(c.Interval)
		if c.UserAgent == "" {
			c.UserAgent = retailer.DefaultUserAgent
		}
		if c.Category == "" {
			c.Category = "general"
		}
		out = append(out, c)
	}
	return out, nil
}

// LoadSources reads a sources document from path.
func LoadSources(path string) ([]SourceConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources: %w", err)
	}
	return ParseSources(b)
}

// RawListing is a listing as the source reported it, before normalization.
type RawListing struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Title    string      `json:"title"`
	URL      string      `json:"url"`
	Price    flexString  `json:"price"`
	Status   string      `json:"status"`
	Category string      `json:"category"`
	Tags     []string    `json:"tags"`
	Stock    *flexString `json:"stock"`
}

// flexString accepts JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = flexString(n.String())
	return nil
}

// Source produces raw listings.
type Source interface {
	ID() string
	Poll(ctx context.Context) ([]RawListing, error)
}

// NewSource builds the Source for cfg. Requests share limiter, keyed by
// host, so two sources on one site do not double its request rate.
func NewSource(cfg SourceConfig, client *http.Client, limiter *ratelimiter.KeyedLimiters) (Source, error) {
	if client == nil {
		client = &http.Client{Timeout: retailer.DefaultTimeout}
	}
	base := httpSource{cfg: cfg, client: client, limiter: limiter}
	switch cfg.Kind {
	case KindJSON:
		return &JSONSource{base}, nil
	case KindHTML:
		return &HTMLSource{base}, nil
	}
	return nil, fmt.Errorf("source %q: unknown kind %q", cfg.ID, cfg.Kind)
}

type httpSource struct {
	cfg     SourceConfig
	client  *http.Client
	limiter *ratelimiter.KeyedLimiters
}

func (s *httpSource) ID() string { return s.cfg.ID }

func (s *httpSource) get(ctx context.Context, accept string) ([]byte, error) {
	if s.limiter != nil {
		if u, err := url.Parse(s.cfg.URL); err == nil {
			if err := s.limiter.Wait(ctx, u.Host); err != nil {
				return nil, err
			}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", s.cfg.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("source %s: http status %d", s.cfg.ID, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 8<<20))
}

// JSONSource reads either {"listings":[...]}, {"items":[...]} or a bare
// array of listings.
type JSONSource struct{ httpSource }

func (s *JSONSource) Poll(ctx context.Context) ([]RawListing, error) {
	body, err := s.get(ctx, "application/json")
	if err != nil {
		return nil, err
	}
	return ParseJSONListings(body)
}

// ParseJSONListings accepts wrapped and bare-array payloads.
func ParseJSONListings(body []byte) ([]RawListing, error) {
	var wrapped struct {
		Listings []RawListing `json:"listings"`
		Items    []RawListing `json:"items"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil {
		if len(wrapped.Listings) > 0 {
			return wrapped.Listings, nil
		}
		if len(wrapped.Items) > 0 {
			return wrapped.Items, nil
		}
	}
	var arr []RawListing
	if err := json.Unmarshal(body, &arr); err != nil {
		return nil, fmt.Errorf("listing payload parse: %w", err)
	}
	return arr, nil
}

// HTMLSource scrapes listing cards from a category or drops page.
type HTMLSource struct{ httpSource }

func (s *HTMLSource) Poll(ctx context.Context) ([]RawListing, error) {
	body, err := s.get(ctx, "text/html")
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("source %s: parse html: %w", s.cfg.ID, err)
	}
	return parseCards(doc, s.cfg.Selectors, s.cfg.URL), nil
}

func parseCards(doc *goquery.Document, sel Selectors, pageURL string) []RawListing {
	base, _ := url.Parse(pageURL)
	var out []RawListing
	doc.Find(sel.Card).Each(func(_ int, card *goquery.Selection) {
		l := RawListing{
			ID:     extract(card, sel.ID),
			Name:   extract(card, sel.Name),
			URL:    extract(card, sel.URL),
			Price:  flexString(extract(card, sel.Price)),
			Status: extract(card, sel.Status),
		}
		if l.URL != "" && base != nil {
			if ref, err := url.Parse(l.URL); err == nil {
				l.URL = base.ResolveReference(ref).String()
			}
		}
		out = append(out, l)
	})
	return out
}

// extract evaluates a "css" or "css@attr" selector within card. An empty
// css part selects the card itself.
func extract(card *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	css, attr, hasAttr := strings.Cut(selector, "@")
	node := card
	if css != "" {
		node = card.Find(css).First()
	}
	if hasAttr {
		v, _ := node.Attr(attr)
		return strings.TrimSpace(v)
	}
	return strings.Join(strings.Fields(node.Text()), " ")
}

// stockCount parses an optional numeric stock field.
func stockCount(f *flexString) (int, bool) {
	if f == nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(*f)))
	if err != nil {
		return 0, false
	}
	return n, true
}
