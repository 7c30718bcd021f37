package dispatch

import (
	"fmt"
	"strings"

	"github.com/notifyhub/restock-monitor/internal/domain"
)

// Render builds the message a job carries for ev.
func Render(ev *domain.ChangeEvent) domain.Message {
	name := ev.ProductName
	if name == "" {
		name = ev.ProductKey
	}

	var title, body string
	switch ev.Kind {
	case domain.ChangeRestock:
		switch ev.Listing {
		case domain.ListingNew:
			title = "New listing: " + name
		case domain.ListingLimited:
			title = "Limited release: " + name
		default:
			title = "Back in stock: " + name
		}
		if ev.NewValue != "" {
			body = "Price: " + ev.NewValue
		}
	case domain.ChangeOutOfStock:
		title = "Sold out: " + name
	case domain.ChangePriceDrop:
		title = "Price drop: " + name
		body = priceLine(ev)
	case domain.ChangePriceIncrease:
		title = "Price increase: " + name
		body = priceLine(ev)
	case domain.ChangeTargetReached:
		title = "Target price reached: " + name
		body = targetLine(ev)
	case domain.ChangeError:
		title = "Tracking paused: " + name
	default:
		title = name
	}

	if ev.Message != "" && (body == "" || ev.Kind == domain.ChangeError) {
		body = strings.TrimSpace(strings.Join([]string{body, ev.Message}, " "))
	}

	return domain.Message{
		Title:      title,
		Body:       body,
		URL:        ev.URL,
		Category:   ev.Category,
		ProductKey: ev.ProductKey,
	}
}

func priceLine(ev *domain.ChangeEvent) string {
	if ev.NewValue == "" {
		return ""
	}
	if ev.OldValue == "" {
		return "Now " + ev.NewValue
	}
	line := fmt.Sprintf("Now %s (was %s", ev.NewValue, ev.OldValue)
	if ev.Percent != 0 {
		line += fmt.Sprintf(", %+.2f%%", ev.Percent)
	}
	return line + ")"
}

// targetLine renders a target_reached event, whose OldValue is the user's
// target rather than a previous price.
func targetLine(ev *domain.ChangeEvent) string {
	if ev.NewValue == "" {
		return ""
	}
	if ev.OldValue == "" {
		return "Now " + ev.NewValue
	}
	return fmt.Sprintf("Now %s (target %s)", ev.NewValue, ev.OldValue)
}
