package domain

import (
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// MaxConsecutiveErrors deactivates an item once reached.
	MaxConsecutiveErrors = 10
	// MaxCheckBackoff caps the failure backoff between checks.
	MaxCheckBackoff = 24 * time.Hour
	// DefaultCheckInterval is used when registration omits an interval.
	DefaultCheckInterval = 30 * time.Minute
)

// TrackedItem is a single retailer product under periodic observation.
// Identity is (Retailer, SourceProductID). Items are never hard-deleted;
// they are soft-deactivated after MaxConsecutiveErrors failed checks.
type TrackedItem struct {
	ID              string           `json:"id"`
	UserID          string           `json:"user_id"`
	Retailer        Retailer         `json:"retailer"`
	SourceProductID string           `json:"source_product_id"`
	URL             string           `json:"url"`
	Name            string           `json:"name"`
	Category        string           `json:"category"`
	LastPrice       *decimal.Decimal `json:"last_price,omitempty"`
	LastAvailable   bool             `json:"last_available"`
	TargetPrice     *decimal.Decimal `json:"target_price,omitempty"`
	CheckInterval   time.Duration    `json:"check_interval"`
	ErrorCount      int              `json:"error_count"`
	LastError       *string          `json:"last_error,omitempty"`
	NextCheckAt     time.Time        `json:"next_check_at"`
	LastCheckedAt   *time.Time       `json:"last_checked_at,omitempty"`
	Active          bool             `json:"active"`
	DeactivatedAt   *time.Time       `json:"deactivated_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// ProductKey is the logical product identity shared across users and
// destinations. DedupGuard suppresses re-announcements on this key.
func (it *TrackedItem) ProductKey() string {
	return ProductKey(it.Retailer, it.SourceProductID)
}

// ProductKey builds the logical product identity for a retailer listing.
func ProductKey(r Retailer, productID string) string {
	return string(r) + ":" + productID
}

// RegisterItemRequest is the inbound payload for tracking a new product.
type RegisterItemRequest struct {
	UserID          string           `json:"user_id"`
	Retailer        string           `json:"retailer"`
	SourceProductID string           `json:"source_product_id"`
	URL             string           `json:"url"`
	Name            string           `json:"name"`
	Category        string           `json:"category"`
	TargetPrice     *decimal.Decimal `json:"target_price,omitempty"`
	CheckInterval   string           `json:"check_interval,omitempty"`
}

// Validate checks the request and returns the parsed retailer and interval.
func (r *RegisterItemRequest) Validate() (Retailer, time.Duration, error) {
	retailer, err := ParseRetailer(r.Retailer)
	if err != nil {
		return "", 0, err
	}
	if strings.TrimSpace(r.SourceProductID) == "" {
		return "", 0, ErrMissingProductID
	}
	u, err := url.Parse(r.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", 0, ErrInvalidURL
	}
	if r.TargetPrice != nil && !r.TargetPrice.IsPositive() {
		return "", 0, ErrInvalidPrice
	}
	interval := DefaultCheckInterval
	if r.CheckInterval != "" {
		d, err := time.ParseDuration(r.CheckInterval)
		if err != nil || d < time.Minute {
			return "", 0, ErrInvalidInterval
		}
		interval = d
	}
	return retailer, interval, nil
}
