// Package fetcher retrieves product pages and extracts the raw title, price
// and availability text a retailer profile points at.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/notifyhub/restock-monitor/internal/ratelimiter"
	"github.com/notifyhub/restock-monitor/internal/retailer"
)

// Page is the raw text pulled from a product page. Interpretation
// (price parsing, phrase matching) belongs to the monitor.
type Page struct {
	Title            string
	PriceText        string
	AvailabilityText string
}

// PageFetcher loads a product page using a retailer profile.
type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string, profile retailer.Profile) (Page, error)
}

// FailureKind classifies a fetch failure.
type FailureKind string

const (
	FailureTransport FailureKind = "transport"
	FailureStatus    FailureKind = "status"
	FailureParse     FailureKind = "parse"
)

// FetchError describes why a page could not be read. All kinds count as a
// failed check; none of them is fatal to the cycle.
type FetchError struct {
	Kind       FailureKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsParse reports whether err is a page that loaded but did not match the
// profile's selectors.
func IsParse(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == FailureParse
}

// HTMLFetcher implements PageFetcher with net/http and goquery. Requests
// to the same host are throttled by a keyed limiter.
type HTMLFetcher struct {
	client  *http.Client
	limiter *ratelimiter.KeyedLimiters
}

// NewHTMLFetcher builds a fetcher that allows perHostRate requests per
// second to any single host.
func NewHTMLFetcher(client *http.Client, perHostRate float64) *HTMLFetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &HTMLFetcher{client: client, limiter: ratelimiter.NewKeyed(perHostRate)}
}

func (f *HTMLFetcher) Fetch(ctx context.Context, pageURL string, profile retailer.Profile) (Page, error) {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return Page{}, &FetchError{Kind: FailureTransport, Err: fmt.Errorf("invalid url %q", pageURL)}
	}
	if err := f.limiter.Wait(ctx, u.Host); err != nil {
		return Page{}, &FetchError{Kind: FailureTransport, Err: err}
	}

	timeout := profile.Timeout
	if timeout <= 0 {
		timeout = retailer.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	doc, err := f.load(ctx, pageURL, profile.UserAgent)
	if err != nil {
		return Page{}, err
	}

	page := Page{
		Title:            firstText(doc, profile.TitleSelectors),
		PriceText:        firstText(doc, profile.PriceSelectors),
		AvailabilityText: firstText(doc, profile.AvailabilitySelectors),
	}
	if page.Title == "" {
		return Page{}, &FetchError{Kind: FailureParse, Err: errors.New("no title selector matched")}
	}
	return page, nil
}

func (f *HTMLFetcher) load(ctx context.Context, pageURL, userAgent string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &FetchError{Kind: FailureTransport, Err: err}
	}
	if userAgent == "" {
		userAgent = retailer.DefaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: FailureTransport, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{
			Kind:       FailureStatus,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &FetchError{Kind: FailureParse, Err: err}
	}
	return doc, nil
}

// firstText returns the text of the first selector that matches a
// non-empty element. Meta tags contribute their content attribute.
func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		s := doc.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		text := strings.TrimSpace(s.Text())
		if text == "" {
			if content, ok := s.Attr("content"); ok {
				text = strings.TrimSpace(content)
			}
		}
		if text == "" {
			if value, ok := s.Attr("value"); ok {
				text = strings.TrimSpace(value)
			}
		}
		if text != "" {
			return collapseSpace(text)
		}
	}
	return ""
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
