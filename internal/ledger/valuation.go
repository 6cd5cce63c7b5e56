package ledger

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/papertrade/portfolio-game/internal/metrics"
	"github.com/papertrade/portfolio-game/internal/model"
	"github.com/papertrade/portfolio-game/internal/oracle"
)

// Holding is one position marked to market.
type Holding struct {
	Ticker         string          `json:"ticker"`
	Name           string          `json:"name"`
	Currency       string          `json:"currency"`
	Shares         int64           `json:"shares"`
	AveragePrice   decimal.Decimal `json:"average_price"`
	Price          decimal.Decimal `json:"price"`
	MarketValue    decimal.Decimal `json:"market_value"`
	UnrealizedGain decimal.Decimal `json:"unrealized_gain"` // market value - cost basis
}

// Valuation is a point-in-time breakdown of a portfolio.
type Valuation struct {
	Username       string          `json:"username"`
	FundsAvailable decimal.Decimal `json:"funds_available"`
	Holdings       []Holding       `json:"holdings"` // sorted by ticker
	HoldingsValue  decimal.Decimal `json:"holdings_value"`
	Total          decimal.Decimal `json:"total"` // cash + holdings, at money scale
	AsOf           time.Time       `json:"as_of"`
}

// Standing is one leaderboard row.
type Standing struct {
	Rank     int             `json:"rank"`
	Username string          `json:"username"`
	Value    decimal.Decimal `json:"value"`
}

// Exclusion records a user left off the leaderboard and why.
type Exclusion struct {
	Username string `json:"username"`
	Reason   string `json:"reason"`
	Err      error  `json:"-"`
}

// Leaderboard ranks every valuable profile. Users whose valuation failed
// are listed in Excluded rather than failing the whole ranking.
type Leaderboard struct {
	Standings []Standing  `json:"standings"`
	Excluded  []Exclusion `json:"excluded"`
	AsOf      time.Time   `json:"as_of"`
}

// ValueOf is fundsAvailable plus every position at its current price.
// If any held ticker cannot be priced the whole valuation fails with
// ErrPriceUnavailable; no stale or zero price is ever substituted.
func (e *Engine) ValueOf(ctx context.Context, username string) (decimal.Decimal, error) {
	v, err := e.Valuation(ctx, username)
	if err != nil {
		return decimal.Zero, err
	}
	return v.Total, nil
}

// Valuation is ValueOf with the per-holding breakdown.
func (e *Engine) Valuation(ctx context.Context, username string) (*Valuation, error) {
	profile, err := e.load(ctx, username)
	if err != nil {
		return nil, err
	}
	prices := e.fetchPrices(ctx, profile.Portfolio.Tickers())
	return e.value(profile, prices)
}

// Leaderboard values every stored profile against one shared price
// snapshot and ranks them by value descending, ties by username ascending.
func (e *Engine) Leaderboard(ctx context.Context) (*Leaderboard, error) {
	profiles, err := e.profiles.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list profiles: %w", ErrPersistence, err)
	}

	seen := make(map[string]bool)
	var tickers []string
	for _, p := range profiles {
		for t := range p.Portfolio {
			if !seen[t] {
				seen[t] = true
				tickers = append(tickers, t)
			}
		}
	}
	slices.Sort(tickers)
	prices := e.fetchPrices(ctx, tickers)

	board := &Leaderboard{
		Standings: make([]Standing, 0, len(profiles)),
		Excluded:  []Exclusion{},
		AsOf:      e.cfg.Now().UTC(),
	}
	for i := range profiles {
		v, err := e.value(&profiles[i], prices)
		if err != nil {
			board.Excluded = append(board.Excluded, Exclusion{
				Username: profiles[i].Username,
				Reason:   err.Error(),
				Err:      err,
			})
			e.log.Warn("leaderboard exclusion", "user", profiles[i].Username, "err", err)
			continue
		}
		board.Standings = append(board.Standings, Standing{Username: v.Username, Value: v.Total})
	}

	rank(board.Standings)
	metrics.LeaderboardExcluded.Set(float64(len(board.Excluded)))
	return board, nil
}

// rank sorts by value descending then username ascending and numbers the rows.
func rank(rows []Standing) {
	slices.SortFunc(rows, func(a, b Standing) int {
		if c := b.Value.Cmp(a.Value); c != 0 {
			return c
		}
		return cmp.Compare(a.Username, b.Username)
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}
}

// value marks profile to market using prices. It never mutates profile.
func (e *Engine) value(profile *model.UserProfile, prices oracle.PriceSet) (*Valuation, error) {
	tickers := profile.Portfolio.Tickers()
	slices.Sort(tickers)

	v := &Valuation{
		Username:       profile.Username,
		FundsAvailable: profile.FundsAvailable,
		Holdings:       make([]Holding, 0, len(tickers)),
		HoldingsValue:  decimal.Zero,
		AsOf:           e.cfg.Now().UTC(),
	}
	for _, t := range tickers {
		pos := profile.Portfolio[t]
		price, err := prices.Get(t)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrPriceUnavailable, t, err)
		}
		mv := pos.MarketValue(price)
		v.Holdings = append(v.Holdings, Holding{
			Ticker:         t,
			Name:           pos.Name,
			Currency:       pos.Currency,
			Shares:         pos.Shares,
			AveragePrice:   pos.AveragePrice,
			Price:          price,
			MarketValue:    mv,
			UnrealizedGain: mv.Sub(pos.CostBasis()),
		})
		v.HoldingsValue = v.HoldingsValue.Add(mv)
	}
	v.Total = profile.FundsAvailable.Add(v.HoldingsValue).Round(model.MoneyScale)
	return v, nil
}

// fetchPrices quotes tickers in batches of BatchSize, up to Workers batches
// at a time, all within one QuoteTimeout. A batch that fails as a whole
// marks each of its tickers failed; it never aborts the other batches.
func (e *Engine) fetchPrices(ctx context.Context, tickers []string) oracle.PriceSet {
	out := oracle.PriceSet{
		Prices: make(map[string]decimal.Decimal, len(tickers)),
		Errors: make(map[string]error),
	}
	if len(tickers) == 0 {
		return out
	}

	qctx, cancel := context.WithTimeout(ctx, e.cfg.QuoteTimeout)
	defer cancel()

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Workers)
	for batch := range slices.Chunk(tickers, e.cfg.BatchSize) {
		g.Go(func() error {
			ps, err := e.prices.GetPrices(qctx, batch)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				for _, t := range batch {
					out.Errors[t] = err
				}
				return nil
			}
			out.Merge(ps)
			return nil
		})
	}
	g.Wait()
	return out
}
