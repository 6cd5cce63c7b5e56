// Package oracle is the boundary to the external market-data provider.
// The ledger only ever sees prices through the Oracle interface; backends
// are a static table (development and tests), an HTTP quote API, and a
// Redis read-through cache that wraps either.
package oracle

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrTickerNotFound is returned when the provider does not know a symbol.
	ErrTickerNotFound = errors.New("oracle: ticker not found")

	// ErrUnavailable is returned when the provider cannot answer: timeouts,
	// transport errors, rate limiting, malformed responses.
	ErrUnavailable = errors.New("oracle: unavailable")
)

// Metadata is the static description of a security.
type Metadata struct {
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

// PriceSet is the result of a batched price lookup. Every requested ticker
// appears in exactly one of the two maps.
type PriceSet struct {
	Prices map[string]decimal.Decimal
	Errors map[string]error
}

func newPriceSet(n int) PriceSet {
	return PriceSet{
		Prices: make(map[string]decimal.Decimal, n),
		Errors: make(map[string]error),
	}
}

// Get returns the price for ticker or the error recorded for it.
func (ps PriceSet) Get(ticker string) (decimal.Decimal, error) {
	if p, ok := ps.Prices[ticker]; ok {
		return p, nil
	}
	if err, ok := ps.Errors[ticker]; ok {
		return decimal.Zero, err
	}
	return decimal.Zero, ErrTickerNotFound
}

// Merge copies other's entries into ps.
func (ps PriceSet) Merge(other PriceSet) {
	for t, p := range other.Prices {
		ps.Prices[t] = p
		delete(ps.Errors, t)
	}
	for t, err := range other.Errors {
		ps.Errors[t] = err
	}
}

// Oracle supplies current prices and security metadata. Tickers passed in
// are already normalized to uppercase.
type Oracle interface {
	GetPrice(ctx context.Context, ticker string) (decimal.Decimal, error)
	GetMetadata(ctx context.Context, ticker string) (Metadata, error)

	// GetPrices looks up many tickers at once. Per-ticker failures go in
	// PriceSet.Errors; the error return is reserved for the whole batch
	// failing (e.g. the context was cancelled).
	GetPrices(ctx context.Context, tickers []string) (PriceSet, error)
}
