package router

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/notifyhub/restock-monitor/internal/domain"
)

// ContentRules are the pre-send heuristics applied to shared posts.
type ContentRules struct {
	MaxLength         int
	MaxUppercaseRatio float64
	MaxEmojis         int
	BlockedPhrases    []string
}

// DefaultContentRules mirror the configuration defaults.
var DefaultContentRules = ContentRules{
	MaxLength:         300,
	MaxUppercaseRatio: 0.5,
	MaxEmojis:         3,
	BlockedPhrases:    []string{"guaranteed profit", "click here", "free money"},
}

// ValidateContent rejects messages that break the rules. The returned error
// wraps domain.ErrContentPolicy; such a message must not be sent or retried.
func ValidateContent(msg domain.Message, rules ContentRules) error {
	text := msg.Text()
	if rules.MaxLength > 0 {
		if n := utf8.RuneCountInString(text); n > rules.MaxLength {
			return fmt.Errorf("%w: %d characters exceeds %d", domain.ErrContentPolicy, n, rules.MaxLength)
		}
	}

	prose := msg.Title + " " + msg.Body
	if rules.MaxUppercaseRatio > 0 {
		if r := uppercaseRatio(prose); r > rules.MaxUppercaseRatio {
			return fmt.Errorf("%w: uppercase ratio %.2f exceeds %.2f", domain.ErrContentPolicy, r, rules.MaxUppercaseRatio)
		}
	}
	if rules.MaxEmojis > 0 {
		if n := countEmoji(text); n > rules.MaxEmojis {
			return fmt.Errorf("%w: %d emoji exceeds %d", domain.ErrContentPolicy, n, rules.MaxEmojis)
		}
	}

	lower := strings.ToLower(text)
	for _, phrase := range rules.BlockedPhrases {
		p := strings.ToLower(strings.TrimSpace(phrase))
		if p != "" && strings.Contains(lower, p) {
			return fmt.Errorf("%w: blocked phrase %q", domain.ErrContentPolicy, phrase)
		}
	}
	return nil
}

func uppercaseRatio(s string) float64 {
	var letters, upper int
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}

func countEmoji(s string) int {
	n := 0
	for _, r := range s {
		if isEmoji(r) {
			n++
		}
	}
	return n
}

// isEmoji covers the pictographic blocks; joiners and variation selectors
// are not counted.
func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF:
		return true
	case r >= 0x2600 && r <= 0x27BF:
		return true
	case r >= 0x2B00 && r <= 0x2BFF:
		return true
	}
	return false
}
