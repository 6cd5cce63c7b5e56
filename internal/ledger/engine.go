// Package ledger is the portfolio ledger and valuation engine: it owns every
// change to a player's cash and positions, writes the transaction audit
// trail, and values portfolios against live prices.
//
// All monetary values use shopspring/decimal, never float64.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/papertrade/portfolio-game/internal/metrics"
	"github.com/papertrade/portfolio-game/internal/model"
	"github.com/papertrade/portfolio-game/internal/oracle"
	"github.com/papertrade/portfolio-game/internal/store"
	"github.com/papertrade/portfolio-game/internal/ticker"
)

// DefaultStartingFunds is the cash every new profile starts with.
var DefaultStartingFunds = decimal.NewFromInt(10000)

// Config tunes an Engine. Zero fields take the defaults below.
type Config struct {
	StartingFunds  decimal.Decimal // default DefaultStartingFunds
	QuoteTimeout   time.Duration   // bound on every oracle call; default 5s
	BatchSize      int             // tickers per GetPrices call; default 50
	Workers        int             // concurrent GetPrices calls; default 4
	AppendAttempts int             // transaction log tries per trade; default 3
	AppendBackoff  time.Duration   // pause between tries, multiplied by attempt; default 50ms
	Logger         *slog.Logger
	Now            func() time.Time
}

func (c *Config) applyDefaults() {
	if !c.StartingFunds.IsPositive() {
		c.StartingFunds = DefaultStartingFunds
	}
	if c.QuoteTimeout <= 0 {
		c.QuoteTimeout = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.AppendAttempts <= 0 {
		c.AppendAttempts = 3
	}
	if c.AppendBackoff <= 0 {
		c.AppendBackoff = 50 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Engine applies trades and values portfolios. It holds no game state of
// its own: profiles live in the ProfileStore, the audit trail in the
// TransactionLog. Trades for one username run one at a time; different
// users proceed in parallel.
type Engine struct {
	profiles store.ProfileStore
	txlog    store.TransactionLog
	prices   oracle.Oracle
	locks    *userLocks
	cfg      Config
	log      *slog.Logger
}

// NewEngine wires an engine to its collaborators.
func NewEngine(profiles store.ProfileStore, txlog store.TransactionLog, prices oracle.Oracle, cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{
		profiles: profiles,
		txlog:    txlog,
		prices:   prices,
		locks:    newUserLocks(),
		cfg:      cfg,
		log:      cfg.Logger,
	}
}

// StartingFunds is the balance new profiles receive.
func (e *Engine) StartingFunds() decimal.Decimal { return e.cfg.StartingFunds }

// TradeResult is the outcome of a successful buy or sell.
type TradeResult struct {
	Profile     *model.UserProfile `json:"profile"`
	Transaction model.Transaction  `json:"transaction"` // ID is 0 if the log append was abandoned

	// CostBasis is the average price of the position the trade touched,
	// after a buy or before a sell.
	CostBasis decimal.Decimal `json:"cost_basis"`

	// RealizedGain is shares*(price-averagePrice) for sells, zero for buys.
	// It is derived here and never stored.
	RealizedGain decimal.Decimal `json:"realized_gain"`
}

// CreateProfile opens a new account with the starting balance and an empty
// portfolio. A second call for the same username fails with
// ErrAlreadyExists and leaves the existing profile untouched.
func (e *Engine) CreateProfile(ctx context.Context, username string) (*model.UserProfile, error) {
	if strings.TrimSpace(username) == "" || username != strings.TrimSpace(username) ||
		strings.IndexFunc(username, unicode.IsControl) >= 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}

	profile := &model.UserProfile{
		Username:       username,
		CreateDate:     e.cfg.Now().UTC(),
		FundsAvailable: e.cfg.StartingFunds,
		Portfolio:      model.Portfolio{},
	}

	if err := e.profiles.Create(ctx, profile); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, username)
		}
		return nil, fmt.Errorf("%w: create %s: %w", ErrPersistence, username, err)
	}

	metrics.ProfilesCreated.Inc()
	e.log.Info("profile created", "user", username, "funds", profile.FundsAvailable.String())
	return profile, nil
}

// Profile returns the current stored profile.
func (e *Engine) Profile(ctx context.Context, username string) (*model.UserProfile, error) {
	return e.load(ctx, username)
}

// BuyStock buys shares of sym at price for username.
//
// The position's average price becomes the share-weighted mean of the old
// cost basis and this purchase. A ticker not yet held is opened with
// display metadata fetched from the oracle once; if that lookup fails
// nothing is changed.
func (e *Engine) BuyStock(ctx context.Context, username, sym string, shares int64, price decimal.Decimal) (*TradeResult, error) {
	start := time.Now()
	res, err := e.buy(ctx, username, sym, shares, price)
	e.observe(model.SideBuy, start, err)
	return res, err
}

func (e *Engine) buy(ctx context.Context, username, sym string, shares int64, price decimal.Decimal) (*TradeResult, error) {
	sym, err := validateTrade(sym, shares, price)
	if err != nil {
		return nil, err
	}

	release, err := e.locks.acquire(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("ledger: waiting for %s: %w", username, err)
	}
	defer release()

	profile, err := e.load(ctx, username)
	if err != nil {
		return nil, err
	}

	qty := decimal.NewFromInt(shares)
	cost := model.Settle(model.SideBuy, price, shares)
	if cost.GreaterThan(profile.FundsAvailable) {
		return nil, fmt.Errorf("%w: cost %s exceeds available %s",
			ErrInsufficientFunds, cost.StringFixed(model.MoneyScale), profile.FundsAvailable.StringFixed(model.MoneyScale))
	}

	pos, held := profile.Portfolio[sym]
	if held && shares > math.MaxInt64-pos.Shares {
		return nil, fmt.Errorf("%w: %d more %s would overflow a position of %d",
			ErrInvalidShares, shares, sym, pos.Shares)
	}
	if held {
		total := pos.Shares + shares
		pos.AveragePrice = pos.CostBasis().Add(price.Mul(qty)).Div(decimal.NewFromInt(total))
		pos.Shares = total
	} else {
		meta, err := e.metadata(ctx, sym)
		if err != nil {
			return nil, err
		}
		pos = model.Position{
			Name:         meta.Name,
			Currency:     meta.Currency,
			Shares:       shares,
			AveragePrice: price,
		}
	}

	profile.Portfolio[sym] = pos
	profile.FundsAvailable = profile.FundsAvailable.Sub(cost)

	if err := e.commit(ctx, profile); err != nil {
		return nil, err
	}
	tx := e.record(ctx, profile, sym, shares, price, model.SideBuy)

	return &TradeResult{
		Profile:      profile,
		Transaction:  tx,
		CostBasis:    pos.AveragePrice,
		RealizedGain: decimal.Zero,
	}, nil
}

// SellStock sells shares of sym at price for username.
//
// The average price of what remains is unchanged. Selling the last share
// removes the position, so a later buy starts a fresh cost basis.
func (e *Engine) SellStock(ctx context.Context, username, sym string, shares int64, price decimal.Decimal) (*TradeResult, error) {
	start := time.Now()
	res, err := e.sell(ctx, username, sym, shares, price)
	e.observe(model.SideSell, start, err)
	return res, err
}

func (e *Engine) sell(ctx context.Context, username, sym string, shares int64, price decimal.Decimal) (*TradeResult, error) {
	sym, err := validateTrade(sym, shares, price)
	if err != nil {
		return nil, err
	}

	release, err := e.locks.acquire(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("ledger: waiting for %s: %w", username, err)
	}
	defer release()

	profile, err := e.load(ctx, username)
	if err != nil {
		return nil, err
	}

	pos, held := profile.Portfolio[sym]
	if !held {
		return nil, fmt.Errorf("%w: %s holds no %s", ErrPositionNotFound, username, sym)
	}
	if shares > pos.Shares {
		return nil, fmt.Errorf("%w: selling %d of %d %s", ErrInsufficientShares, shares, pos.Shares, sym)
	}

	proceeds := model.Settle(model.SideSell, price, shares)
	basis := pos.AveragePrice

	pos.Shares -= shares
	if pos.Shares == 0 {
		delete(profile.Portfolio, sym)
	} else {
		profile.Portfolio[sym] = pos
	}
	profile.FundsAvailable = profile.FundsAvailable.Add(proceeds)

	if err := e.commit(ctx, profile); err != nil {
		return nil, err
	}
	tx := e.record(ctx, profile, sym, shares, price, model.SideSell)

	return &TradeResult{
		Profile:      profile,
		Transaction:  tx,
		CostBasis:    basis,
		RealizedGain: model.RealizedGain(basis, price, shares),
	}, nil
}

// MaxAffordable is the largest whole number of shares username could buy
// at price with their current cash.
func (e *Engine) MaxAffordable(ctx context.Context, username string, price decimal.Decimal) (int64, error) {
	if !price.IsPositive() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidPrice, price)
	}
	profile, err := e.load(ctx, username)
	if err != nil {
		return 0, err
	}
	n := int64(math.MaxInt64)
	if q := profile.FundsAvailable.Div(price).Floor(); q.LessThan(decimal.NewFromInt(math.MaxInt64)) {
		n = q.IntPart()
	}
	// Division rounding can overshoot by one share at the boundary.
	for n > 0 && model.Settle(model.SideBuy, price, n).GreaterThan(profile.FundsAvailable) {
		n--
	}
	return n, nil
}

// History returns username's transactions in the order they were executed.
func (e *Engine) History(ctx context.Context, username string) ([]model.Transaction, error) {
	if _, err := e.load(ctx, username); err != nil {
		return nil, err
	}
	txs, err := e.txlog.ListByUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("%w: history %s: %w", ErrPersistence, username, err)
	}
	return txs, nil
}

func validateTrade(sym string, shares int64, price decimal.Decimal) (string, error) {
	norm, err := ticker.Normalize(sym)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidTicker, err)
	}
	if shares <= 0 {
		return "", fmt.Errorf("%w: got %d", ErrInvalidShares, shares)
	}
	if !price.IsPositive() {
		return "", fmt.Errorf("%w: got %s", ErrInvalidPrice, price)
	}
	return norm, nil
}

func (e *Engine) load(ctx context.Context, username string) (*model.UserProfile, error) {
	profile, err := e.profiles.Get(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %w", ErrPersistence, username, err)
	}
	if profile.Portfolio == nil {
		profile.Portfolio = model.Portfolio{}
	}
	return profile, nil
}

// commit writes the whole profile back. Until it returns nil nothing about
// the trade is visible and no transaction is logged.
func (e *Engine) commit(ctx context.Context, profile *model.UserProfile) error {
	err := e.profiles.Update(ctx, profile.Username, profile)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUserNotFound, profile.Username)
	}
	if err != nil {
		return fmt.Errorf("%w: update %s: %w", ErrPersistence, profile.Username, err)
	}
	return nil
}

// record appends the audit record for a committed trade. The profile is
// already durable, so failures are retried under one ref, then logged and
// swallowed: a missing record is an audit gap, not a failed trade.
func (e *Engine) record(ctx context.Context, profile *model.UserProfile, sym string, shares int64, price decimal.Decimal, side model.Side) model.Transaction {
	tx := model.Transaction{
		Ref:            uuid.NewString(),
		Date:           e.cfg.Now().UTC(),
		Username:       profile.Username,
		Ticker:         sym,
		Price:          price,
		Shares:         shares,
		Status:         side,
		RemainingFunds: profile.FundsAvailable,
	}

	// The caller going away must not cut the audit trail short.
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.QuoteTimeout)
	defer cancel()

	var err error
	for attempt := 1; attempt <= e.cfg.AppendAttempts; attempt++ {
		if err = e.txlog.Append(actx, &tx); err == nil {
			break
		}
		if attempt < e.cfg.AppendAttempts {
			select {
			case <-time.After(e.cfg.AppendBackoff * time.Duration(attempt)):
			case <-actx.Done():
			}
		}
	}
	if err != nil {
		tx.ID = 0
		metrics.TransactionLogFailures.Inc()
		e.log.Error("transaction log append failed",
			"ref", tx.Ref, "user", tx.Username, "ticker", sym, "side", string(side), "err", err)
	}

	e.log.Info("trade executed",
		"tx_id", tx.ID,
		"user", tx.Username,
		"ticker", sym,
		"side", string(side),
		"shares", shares,
		"price", price.String(),
		"remaining_funds", tx.RemainingFunds.String(),
	)
	return tx
}

func (e *Engine) metadata(ctx context.Context, sym string) (oracle.Metadata, error) {
	qctx, cancel := context.WithTimeout(ctx, e.cfg.QuoteTimeout)
	defer cancel()

	meta, err := e.prices.GetMetadata(qctx, sym)
	if err != nil {
		return oracle.Metadata{}, fmt.Errorf("%w: metadata for %s: %w", ErrPriceUnavailable, sym, err)
	}
	return meta, nil
}

func (e *Engine) observe(side model.Side, start time.Time, err error) {
	if err != nil {
		metrics.TradeRejections.WithLabelValues(string(side), Class(err)).Inc()
		return
	}
	metrics.TradesTotal.WithLabelValues(string(side)).Inc()
	metrics.TradeLatency.WithLabelValues(string(side)).Observe(time.Since(start).Seconds())
}
