package oracle

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// Quote is one entry in a Static oracle.
type Quote struct {
	Price    decimal.Decimal
	Metadata Metadata
}

// Static is an in-memory Oracle with a settable price table. Used for
// tests and for running the service without a market-data provider.
type Static struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewStatic creates an empty static oracle.
func NewStatic() *Static {
	return &Static{quotes: make(map[string]Quote)}
}

// Set installs or replaces the quote for ticker.
func (s *Static) Set(ticker string, price decimal.Decimal, meta Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[ticker] = Quote{Price: price, Metadata: meta}
}

// SetPrice moves the price of ticker, keeping its metadata.
func (s *Static) SetPrice(ticker string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.quotes[ticker]
	if q.Metadata.Name == "" {
		q.Metadata = Metadata{Name: ticker, Currency: "USD"}
	}
	q.Price = price
	s.quotes[ticker] = q
}

// Delete removes ticker; later lookups fail with ErrTickerNotFound.
func (s *Static) Delete(ticker string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.quotes, ticker)
}

func (s *Static) lookup(ticker string) (Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[ticker]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrTickerNotFound, ticker)
	}
	return q, nil
}

func (s *Static) GetPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	q, err := s.lookup(ticker)
	if err != nil {
		return decimal.Zero, err
	}
	return q.Price, nil
}

func (s *Static) GetMetadata(ctx context.Context, ticker string) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	q, err := s.lookup(ticker)
	if err != nil {
		return Metadata{}, err
	}
	return q.Metadata, nil
}

func (s *Static) GetPrices(ctx context.Context, tickers []string) (PriceSet, error) {
	if err := ctx.Err(); err != nil {
		return PriceSet{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	ps := newPriceSet(len(tickers))
	for _, t := range tickers {
		q, err := s.lookup(t)
		if err != nil {
			ps.Errors[t] = err
			continue
		}
		ps.Prices[t] = q.Price
	}
	return ps, nil
}

// ParseStatic builds a Static oracle from "AAPL=190.5,MSFT=410" and the
// given display currency. Names default to the ticker.
func ParseStatic(spec, currency string) (*Static, error) {
	s := NewStatic()
	for _, field := range strings.Split(spec, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		sym, priceStr, ok := strings.Cut(field, "=")
		if !ok {
			return nil, fmt.Errorf("static prices: expected TICKER=PRICE, got %q", field)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(priceStr))
		if err != nil || !price.IsPositive() {
			return nil, fmt.Errorf("static prices: bad price for %s: %q", sym, priceStr)
		}
		sym = strings.ToUpper(strings.TrimSpace(sym))
		s.Set(sym, price, Metadata{Name: sym, Currency: currency})
	}
	return s, nil
}
