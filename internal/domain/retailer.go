package domain

import "strings"

// Retailer identifies a supported store. Profiles (selectors, phrase lists)
// are looked up by this value, never by reflection on config objects.
type Retailer string

const (
	RetailerAmazon   Retailer = "amazon"
	RetailerWalmart  Retailer = "walmart"
	RetailerTarget   Retailer = "target"
	RetailerBestBuy  Retailer = "bestbuy"
	RetailerGameStop Retailer = "gamestop"
	RetailerNewegg   Retailer = "newegg"
)

// Retailers lists every supported retailer in a stable order.
var Retailers = []Retailer{
	RetailerAmazon,
	RetailerWalmart,
	RetailerTarget,
	RetailerBestBuy,
	RetailerGameStop,
	RetailerNewegg,
}

func (r Retailer) IsValid() bool {
	for _, known := range Retailers {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRetailer normalises user input ("Best Buy", "BESTBUY") to a Retailer.
func ParseRetailer(s string) (Retailer, error) {
	r := Retailer(strings.ToLower(strings.NewReplacer(" ", "", "-", "", "_", "").Replace(strings.TrimSpace(s))))
	if !r.IsValid() {
		return "", ErrInvalidRetailer
	}
	return r, nil
}

// Tier is a user's subscription level. It controls notification latency.
type Tier string

const (
	TierFree   Tier = "FREE"
	TierPaid   Tier = "PAID"
	TierYearly Tier = "YEARLY"
)

// ParseTier maps unknown or empty values to TierFree.
func ParseTier(s string) Tier {
	switch Tier(strings.ToUpper(strings.TrimSpace(s))) {
	case TierPaid:
		return TierPaid
	case TierYearly:
		return TierYearly
	default:
		return TierFree
	}
}
