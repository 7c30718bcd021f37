// Package retailer holds the per-retailer scraping profiles: selectors,
// phrase lists, timeouts and category defaults. Profiles are looked up by
// domain.Retailer.
package retailer

import (
	_ "embed"
	"fmt"
	"os"
	"sync"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/notifyhub/restock-monitor/internal/domain"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	DefaultTimeout   = 25 * time.Second
	minTimeout       = 20 * time.Second
	maxTimeout       = 30 * time.Second
)

//go:embed profiles.yaml
var defaultProfiles []byte

// Profile describes how to read one retailer's product page.
type Profile struct {
	Retailer              domain.Retailer `yaml:"retailer"`
	Category              string          `yaml:"category"`
	Timeout               time.Duration   `yaml:"timeout"`
	UserAgent             string          `yaml:"user_agent"`
	TitleSelectors        []string        `yaml:"title"`
	PriceSelectors        []string        `yaml:"price"`
	AvailabilitySelectors []string        `yaml:"availability"`
	InStockPhrases        []string        `yaml:"in_stock"`
	OutOfStockPhrases     []string        `yaml:"out_of_stock"`
}

type document struct {
	Profiles []Profile `yaml:"profiles"`
}

// Parse decodes a YAML profile document and normalises every entry.
func Parse(b []byte) (map[domain.Retailer]Profile, error) {
	var doc document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode profiles: %w", err)
	}
	out := make(map[domain.Retailer]Profile, len(doc.Profiles))
	for _, p := range doc.Profiles {
		r, err := domain.ParseRetailer(string(p.Retailer))
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", p.Retailer, err)
		}
		if len(p.TitleSelectors) == 0 {
			return nil, fmt.Errorf("profile %q: at least one title selector is required", r)
		}
		p.Retailer = r
		if p.UserAgent == "" {
			p.UserAgent = DefaultUserAgent
		}
		switch {
		case p.Timeout == 0:
			p.Timeout = DefaultTimeout
		case p.Timeout < minTimeout:
			p.Timeout = minTimeout
		case p.Timeout > maxTimeout:
			p.Timeout = maxTimeout
		}
		if p.Category == "" {
			p.Category = "general"
		}
		out[r] = p
	}
	return out, nil
}

// Registry is the concurrency-safe profile table.
type Registry struct {
	mu       sync.RWMutex
	profiles map[domain.Retailer]Profile
}

// LoadDefaults builds a registry from the embedded profile document.
func LoadDefaults() (*Registry, error) {
	profiles, err := Parse(defaultProfiles)
	if err != nil {
		return nil, err
	}
	return &Registry{profiles: profiles}, nil
}

// LoadFile reads a YAML profile document from path.
func LoadFile(path string) (map[domain.Retailer]Profile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	return Parse(b)
}

// Lookup returns the profile for r.
func (r *Registry) Lookup(retailer domain.Retailer) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[retailer]
	return p, ok
}

// Replace overlays profiles onto the table. Retailers absent from profiles
// keep their current entry.
func (r *Registry) Replace(profiles map[domain.Retailer]Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := make(map[domain.Retailer]Profile, len(r.profiles))
	for k, v := range r.profiles {
		next[k] = v
	}
	for k, v := range profiles {
		next[k] = v
	}
	r.profiles = next
}
