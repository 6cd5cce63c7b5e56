// Package model defines the core domain types shared across the portfolio game.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places cash amounts are kept at.
const MoneyScale int32 = 2

// Side is the direction of an executed trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Settle is the cash that changes hands when shares trade at price.
// Sub-cent remainders always go against the player: buys round up,
// sells round down, so no round trip at one price can create cash.
func Settle(side Side, price decimal.Decimal, shares int64) decimal.Decimal {
	gross := price.Mul(decimal.NewFromInt(shares))
	if side == SideBuy {
		return gross.RoundCeil(MoneyScale)
	}
	return gross.RoundFloor(MoneyScale)
}

// Position is one user's holding in one ticker.
// A stored Position always has Shares > 0.
type Position struct {
	Name         string          `json:"name"`
	Currency     string          `json:"currency"`
	Shares       int64           `json:"shares"`
	AveragePrice decimal.Decimal `json:"average_price"` // volume-weighted cost basis per share
}

// CostBasis is the total amount paid for the currently held shares.
func (p Position) CostBasis() decimal.Decimal {
	return p.AveragePrice.Mul(decimal.NewFromInt(p.Shares))
}

// MarketValue values the position at price.
func (p Position) MarketValue(price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(p.Shares))
}

// Portfolio maps an uppercase ticker to its position.
type Portfolio map[string]Position

// Tickers returns the held tickers in no particular order.
func (p Portfolio) Tickers() []string {
	out := make([]string, 0, len(p))
	for t := range p {
		out = append(out, t)
	}
	return out
}

// UserProfile is a player's account: cash plus positions.
// Username and CreateDate never change after creation.
type UserProfile struct {
	Username       string          `json:"username"`
	CreateDate     time.Time       `json:"create_date"`
	FundsAvailable decimal.Decimal `json:"funds_available"`
	Portfolio      Portfolio       `json:"portfolio"`
}

// Clone returns a deep copy so callers can mutate the portfolio freely.
func (u *UserProfile) Clone() *UserProfile {
	c := *u
	c.Portfolio = make(Portfolio, len(u.Portfolio))
	for t, p := range u.Portfolio {
		c.Portfolio[t] = p
	}
	return &c
}

// Transaction is an immutable record of one executed buy or sell.
// Once appended, it is never modified or deleted.
type Transaction struct {
	ID             int64           `json:"id"`  // assigned by the transaction log
	Ref            string          `json:"ref"` // idempotency key for appends
	Date           time.Time       `json:"date"`
	Username       string          `json:"username"`
	Ticker         string          `json:"ticker"`
	Price          decimal.Decimal `json:"price"`
	Shares         int64           `json:"shares"`
	Status         Side            `json:"status"`
	RemainingFunds decimal.Decimal `json:"remaining_funds"` // funds right after the trade
}

// RealizedGain is the profit from selling shares at price against a cost
// basis of avg per share.
func RealizedGain(avg, price decimal.Decimal, shares int64) decimal.Decimal {
	return price.Sub(avg).Mul(decimal.NewFromInt(shares))
}
