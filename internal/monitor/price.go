package monitor

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var numericToken = regexp.MustCompile(`\d[\d.,]*\d|\d`)

// ParsePrice extracts the first numeric token from currency-formatted text
// such as "$1,299.99", "1.299,99 €" or "USD 12". It returns nil when no
// price can be read; an unreadable price is not an error.
func ParsePrice(text string) *decimal.Decimal {
	token := numericToken.FindString(text)
	if token == "" {
		return nil
	}
	d, err := decimal.NewFromString(normaliseSeparators(token))
	if err != nil {
		return nil
	}
	return &d
}

// normaliseSeparators rewrites a token to use '.' as the only decimal
// separator and no grouping separators.
func normaliseSeparators(token string) string {
	lastDot := strings.LastIndexByte(token, '.')
	lastComma := strings.LastIndexByte(token, ',')

	switch {
	case lastDot >= 0 && lastComma >= 0:
		// Whichever separator comes last is the decimal mark.
		if lastComma > lastDot {
			return strings.Replace(strings.ReplaceAll(token, ".", ""), ",", ".", 1)
		}
		return strings.ReplaceAll(token, ",", "")

	case lastComma >= 0:
		// "1,299" and "1,299,000" group thousands; "12,99" is a decimal comma.
		if strings.Count(token, ",") == 1 && len(token)-lastComma-1 != 3 {
			return strings.Replace(token, ",", ".", 1)
		}
		return strings.ReplaceAll(token, ",", "")

	case lastDot >= 0:
		if strings.Count(token, ".") > 1 {
			return strings.ReplaceAll(token, ".", "")
		}
		return token
	}
	return token
}
