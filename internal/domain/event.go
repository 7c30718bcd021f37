package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChangeKind enumerates the transitions ItemMonitor and FeedAggregator detect.
type ChangeKind string

const (
	ChangeRestock       ChangeKind = "restock"
	ChangeOutOfStock    ChangeKind = "out_of_stock"
	ChangePriceDrop     ChangeKind = "price_drop"
	ChangePriceIncrease ChangeKind = "price_increase"
	ChangeTargetReached ChangeKind = "target_reached"
	ChangeError         ChangeKind = "error"
)

// ListingKind classifies aggregator listings. Only new, restock and limited
// listings are forwarded as change events; price listings are dropped.
type ListingKind string

const (
	ListingNew     ListingKind = "new"
	ListingRestock ListingKind = "restock"
	ListingLimited ListingKind = "limited"
	ListingPrice   ListingKind = "price"
)

// ChangeEvent is an immutable record of one detected transition.
// ItemID is empty for events produced by the aggregator.
type ChangeEvent struct {
	ID          string           `json:"id"`
	ItemID      string           `json:"item_id,omitempty"`
	UserID      string           `json:"user_id,omitempty"`
	Retailer    Retailer         `json:"retailer"`
	ProductKey  string           `json:"product_key"`
	ProductName string           `json:"product_name"`
	URL         string           `json:"url"`
	Category    string           `json:"category,omitempty"`
	Kind        ChangeKind       `json:"kind"`
	OldValue    string           `json:"old_value,omitempty"`
	NewValue    string           `json:"new_value,omitempty"`
	Delta       *decimal.Decimal `json:"delta,omitempty"`
	Percent     float64          `json:"percent,omitempty"`
	Message     string           `json:"message,omitempty"`
	Listing     ListingKind      `json:"listing,omitempty"`
	DetectedAt  time.Time        `json:"detected_at"`
}

// FromAggregator reports whether the event describes a feed listing rather
// than a user's tracked item.
func (e *ChangeEvent) FromAggregator() bool { return e.ItemID == "" }
