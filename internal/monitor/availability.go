package monitor

import (
	"strings"

	"github.com/notifyhub/restock-monitor/internal/retailer"
)

// DetectAvailability matches the scraped availability text against the
// profile's out-of-stock phrases first, then its in-stock phrases.
// Anything unrecognised counts as unavailable.
func DetectAvailability(text string, profile retailer.Profile) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return false
	}
	for _, phrase := range profile.OutOfStockPhrases {
		if phrase != "" && strings.Contains(t, strings.ToLower(phrase)) {
			return false
		}
	}
	for _, phrase := range profile.InStockPhrases {
		if phrase != "" && strings.Contains(t, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}
