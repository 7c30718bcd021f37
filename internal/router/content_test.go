package router_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/notifyhub/restock-monitor/internal/domain"
	"github.com/notifyhub/restock-monitor/internal/router"
)

func TestValidateContent(t *testing.T) {
	rules := router.ContentRules{
		MaxLength:         120,
		MaxUppercaseRatio: 0.5,
		MaxEmojis:         2,
		BlockedPhrases:    []string{"click here"},
	}
	tests := []struct {
		name string
		msg  domain.Message
		ok   bool
	}{
		{"plain", domain.Message{Title: "Booster Box back in stock", Body: "Now $49.99 at Amazon"}, true},
		{"short acronym", domain.Message{Title: "PS5 restock", Body: "GPU and PS5 back at Best Buy"}, true},
		{"too long", domain.Message{Title: "x", Body: strings.Repeat("a", 200)}, false},
		{"shouting", domain.Message{Title: "MEGA RESTOCK", Body: "BUY NOW"}, false},
		{"emoji", domain.Message{Title: "Restock \U0001F525\U0001F525\U0001F525", Body: "go"}, false},
		{"two emoji", domain.Message{Title: "Restock \U0001F525\U0001F525", Body: "go"}, true},
		{"blocked", domain.Message{Title: "Restock", Body: "Click HERE for deals"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := router.ValidateContent(tc.msg, rules)
			if tc.ok && err != nil {
				t.Fatalf("expected accepted, got %v", err)
			}
			if !tc.ok && !errors.Is(err, domain.ErrContentPolicy) {
				t.Fatalf("expected ErrContentPolicy, got %v", err)
			}
		})
	}
}
