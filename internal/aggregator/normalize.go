package aggregator

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/notifyhub/restock-monitor/internal/domain"
	"github.com/notifyhub/restock-monitor/internal/monitor"
)

// NormalizedItem is the common listing shape every source maps to.
type NormalizedItem struct {
	SourceID  string             `json:"source_id"`
	Retailer  domain.Retailer    `json:"retailer"`
	ProductID string             `json:"product_id,omitempty"`
	Name      string             `json:"name"`
	URL       string             `json:"url"`
	Category  string             `json:"category"`
	Price     *decimal.Decimal   `json:"price,omitempty"`
	Available bool               `json:"available"`
	Kind      domain.ListingKind `json:"kind"`
}

// Key identifies a listing across sources: the retailer plus the product id,
// or the normalized name when the source has no id.
func (n NormalizedItem) Key() string {
	if n.ProductID != "" {
		return string(n.Retailer) + "|id:" + strings.ToLower(n.ProductID)
	}
	return string(n.Retailer) + "|name:" + slug(n.Name)
}

// ProductKey is the dedup guard key for the listing.
func (n NormalizedItem) ProductKey() string {
	if n.ProductID != "" {
		return domain.ProductKey(n.Retailer, n.ProductID)
	}
	return domain.ProductKey(n.Retailer, slug(n.Name))
}

// Forwardable reports whether the listing announces stock rather than a
// price update.
func (n NormalizedItem) Forwardable() bool {
	switch n.Kind {
	case domain.ListingNew, domain.ListingRestock, domain.ListingLimited:
		return n.Available
	}
	return false
}

// Normalize maps raw onto NormalizedItem. Listings with neither id nor name
// are dropped.
func Normalize(r domain.Retailer, raw RawListing) (NormalizedItem, bool) {
	name := collapse(raw.Name)
	if name == "" {
		name = collapse(raw.Title)
	}
	id := strings.TrimSpace(raw.ID)
	if id == "" && name == "" {
		return NormalizedItem{}, false
	}

	kind, available := classify(raw)
	return NormalizedItem{
		Retailer:  r,
		ProductID: id,
		Name:      name,
		URL:       strings.TrimSpace(raw.URL),
		Category:  strings.TrimSpace(raw.Category),
		Price:     monitor.ParsePrice(string(raw.Price)),
		Available: available,
		Kind:      kind,
	}, true
}

var (
	soldOutPhrases = []string{"sold out", "out of stock", "unavailable", "coming soon"}
	limitedWords   = []string{"limited", "exclusive"}
	restockWords   = []string{"restock", "restocked", "back in stock"}
	newWords       = []string{"new", "just added", "just dropped", "preorder", "pre-order", "release"}
)

// classify derives the listing kind from status text and tags. Sold-out
// wording wins over everything else; a zero stock count marks the listing
// unavailable.
func classify(raw RawListing) (domain.ListingKind, bool) {
	text := strings.ToLower(raw.Status + " " + strings.Join(raw.Tags, " "))
	words := tokenize(text)

	if n, ok := stockCount(raw.Stock); ok && n <= 0 {
		return domain.ListingPrice, false
	}
	for _, p := range soldOutPhrases {
		if strings.Contains(text, p) {
			return domain.ListingPrice, false
		}
	}

	switch {
	case matchAny(text, words, limitedWords):
		return domain.ListingLimited, true
	case matchAny(text, words, restockWords):
		return domain.ListingRestock, true
	case matchAny(text, words, newWords):
		return domain.ListingNew, true
	}
	return domain.ListingPrice, true
}

// matchAny matches single words against the token set and phrases against
// the full text.
func matchAny(text string, words map[string]bool, candidates []string) bool {
	for _, c := range candidates {
		if strings.ContainsAny(c, " -") {
			if strings.Contains(text, c) {
				return true
			}
			continue
		}
		if words[c] {
			return true
		}
	}
	return false
}

func tokenize(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		out[w] = true
	}
	return out
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// slug lower-cases s and joins its alphanumeric runs with '-'.
func slug(s string) string {
	parts := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(parts, "-")
}
