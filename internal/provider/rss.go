package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/feeds"

	"github.com/notifyhub/restock-monitor/internal/domain"
)

const rssMaxItems = 50

var feedNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// RSSProvider publishes each message as an item of a per-recipient RSS file
// under dir. Feeds keep the newest rssMaxItems entries.
type RSSProvider struct {
	dir     string
	baseURL string
	now     func() time.Time

	mu    sync.Mutex
	feeds map[string][]*feeds.Item
}

func NewRSSProvider(dir, baseURL string) *RSSProvider {
	return &RSSProvider{
		dir:     dir,
		baseURL: baseURL,
		now:     func() time.Time { return time.Now().UTC() },
		feeds:   make(map[string][]*feeds.Item),
	}
}

// Path returns the file a feed is written to.
func (p *RSSProvider) Path(name string) string {
	return filepath.Join(p.dir, name+".xml")
}

func (p *RSSProvider) Send(ctx context.Context, to Recipient, msg domain.Message) (SendResult, error) {
	if err := ctx.Err(); err != nil {
		return SendResult{}, Transient(err, 0)
	}
	name := to.Address
	if name == "" {
		name = to.ID
	}
	if !feedNameRe.MatchString(name) {
		return SendResult{}, Terminal(fmt.Errorf("%w: feed name %q", domain.ErrInvalidPayload, name))
	}

	now := p.now()
	item := &feeds.Item{
		Id:          uuid.New().String(),
		Title:       msg.Title,
		Link:        &feeds.Link{Href: msg.URL},
		Description: msg.Body,
		Created:     now,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	items := append([]*feeds.Item{item}, p.feeds[name]...)
	if len(items) > rssMaxItems {
		items = items[:rssMaxItems]
	}

	feed := &feeds.Feed{
		Title:       "Restock alerts: " + name,
		Link:        &feeds.Link{Href: p.baseURL + "/feeds/" + name + ".xml"},
		Description: "Restocks and price drops",
		Created:     now,
		Items:       items,
	}
	rss, err := feed.ToRss()
	if err != nil {
		return SendResult{}, Terminal(fmt.Errorf("render feed: %w", err))
	}
	if err := writeFileAtomic(p.Path(name), []byte(rss)); err != nil {
		return SendResult{}, Transient(fmt.Errorf("write feed: %w", err), 0)
	}

	p.feeds[name] = items
	return SendResult{ExternalID: item.Id}, nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".feed-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

var _ Provider = (*RSSProvider)(nil)
