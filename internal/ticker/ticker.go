// Package ticker handles ticker symbol normalization and validation.
// Ticker identity is case-insensitive; the canonical form is uppercase.
package ticker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// symbolRegex matches exchange tickers and the index/FX/class-share
// spellings quote providers use.
// Examples: AAPL, BRK-B, BRK.A, ^GSPC, EURUSD=X, 7203.T
var symbolRegex = regexp.MustCompile(`^[A-Z0-9^][A-Z0-9.\-=^]{0,14}$`)

var ErrInvalidTicker = errors.New("ticker: invalid symbol")

// Normalize trims and uppercases s and validates the result.
func Normalize(s string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(s))
	if !symbolRegex.MatchString(sym) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTicker, s)
	}
	return sym, nil
}

// NormalizeAll normalizes every symbol and drops duplicates, preserving
// first-seen order.
func NormalizeAll(symbols []string) ([]string, error) {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		sym, err := Normalize(s)
		if err != nil {
			return nil, err
		}
		if seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out, nil
}
