// Package api provides the HTTP handlers for the paper trading game:
// opening profiles, quoting tickers, executing trades, and reading
// valuations, history and the leaderboard.
//
// All monetary values use shopspring/decimal, never float64.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/papertrade/portfolio-game/internal/ledger"
	"github.com/papertrade/portfolio-game/internal/model"
	"github.com/papertrade/portfolio-game/internal/oracle"
	"github.com/papertrade/portfolio-game/internal/ticker"
)

// Service adapts HTTP requests onto the ledger engine. The engine owns
// every rule and all locking; handlers only decode, quote and encode.
type Service struct {
	engine       *ledger.Engine
	prices       oracle.Oracle
	quoteTimeout time.Duration
	wsHub        *WSHub // optional; nil disables broadcasts
}

// NewService creates a new API service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(engine *ledger.Engine, prices oracle.Oracle, quoteTimeout time.Duration, hub *WSHub) *Service {
	if quoteTimeout <= 0 {
		quoteTimeout = 5 * time.Second
	}
	return &Service{
		engine:       engine,
		prices:       prices,
		quoteTimeout: quoteTimeout,
		wsHub:        hub,
	}
}

// Routes returns the /api/v1 sub-router.
func (s *Service) Routes() chi.Router {
	r := chi.NewRouter()

	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}

	r.Post("/profiles", s.CreateProfile)
	r.Get("/profiles/{username}", s.GetProfile)
	r.Get("/profiles/{username}/valuation", s.GetValuation)
	r.Get("/profiles/{username}/transactions", s.GetTransactions)

	r.Get("/quotes/{ticker}", s.GetQuote)
	r.Post("/trades", s.ExecuteTrade)
	r.Get("/leaderboard", s.GetLeaderboard)

	return r
}

// --- Request/Response types ---

// CreateProfileRequest is the JSON body for POST /profiles.
type CreateProfileRequest struct {
	Username string `json:"username"`
}

// TradeRequest is the JSON body for POST /trades.
type TradeRequest struct {
	Username string     `json:"username"`
	Ticker   string     `json:"ticker"`
	Side     model.Side `json:"side"` // "buy" or "sell"
	Shares   int64      `json:"shares"`
}

// TradeResponse is the JSON body returned from POST /trades.
type TradeResponse struct {
	TransactionID  int64           `json:"transaction_id"` // 0 if the audit record could not be written
	Ref            string          `json:"ref"`
	Username       string          `json:"username"`
	Ticker         string          `json:"ticker"`
	Side           model.Side      `json:"side"`
	Shares         int64           `json:"shares"`
	Price          decimal.Decimal `json:"price"`
	Amount         decimal.Decimal `json:"amount"` // cost of a buy, proceeds of a sell
	RemainingFunds decimal.Decimal `json:"remaining_funds"`
	Position       *model.Position `json:"position,omitempty"` // nil once fully sold
	CostBasis      decimal.Decimal `json:"cost_basis"`
	RealizedGain   decimal.Decimal `json:"realized_gain"`
}

// QuoteResponse is the JSON body returned from GET /quotes/{ticker}.
type QuoteResponse struct {
	Ticker        string          `json:"ticker"`
	Name          string          `json:"name"`
	Currency      string          `json:"currency"`
	Price         decimal.Decimal `json:"price"`
	MaxAffordable *int64          `json:"max_affordable,omitempty"` // set when ?username= is given
	Held          *int64          `json:"held,omitempty"`
}

// --- HTTP Handlers ---

// CreateProfile handles POST /api/v1/profiles
func (s *Service) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var req CreateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	profile, err := s.engine.CreateProfile(r.Context(), req.Username)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}

	s.broadcast(WSMessage{
		Type:           "profile_created",
		Username:       profile.Username,
		RemainingFunds: profile.FundsAvailable.StringFixed(model.MoneyScale),
	})
	writeJSON(w, http.StatusCreated, profile)
}

// GetProfile handles GET /api/v1/profiles/{username}
func (s *Service) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.engine.Profile(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// GetValuation handles GET /api/v1/profiles/{username}/valuation
// Marks every holding to market; fails whole if any price is missing.
func (s *Service) GetValuation(w http.ResponseWriter, r *http.Request) {
	v, err := s.engine.Valuation(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GetTransactions handles GET /api/v1/profiles/{username}/transactions
func (s *Service) GetTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.engine.History(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// GetQuote handles GET /api/v1/quotes/{ticker}
// With ?username=, also reports how many shares that user can afford and holds.
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	sym, err := ticker.Normalize(chi.URLParam(r, "ticker"))
	if err != nil {
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	ctx := r.Context()
	price, err := s.quote(ctx, sym)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	qctx, cancel := context.WithTimeout(ctx, s.quoteTimeout)
	meta, err := s.prices.GetMetadata(qctx, sym)
	cancel()
	if err != nil {
		writeLedgerError(w, r, fmt.Errorf("%w: %w", ledger.ErrPriceUnavailable, err))
		return
	}

	resp := QuoteResponse{
		Ticker:   sym,
		Name:     meta.Name,
		Currency: meta.Currency,
		Price:    price,
	}

	if username := r.URL.Query().Get("username"); username != "" {
		profile, err := s.engine.Profile(ctx, username)
		if err != nil {
			writeLedgerError(w, r, err)
			return
		}
		n, err := s.engine.MaxAffordable(ctx, username, price)
		if err != nil {
			writeLedgerError(w, r, err)
			return
		}
		held := profile.Portfolio[sym].Shares
		resp.MaxAffordable = &n
		resp.Held = &held
	}

	writeJSON(w, http.StatusOK, resp)
}

// ExecuteTrade handles POST /api/v1/trades
// Quotes the ticker, then executes at that price.
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// --- Input validation ---
	if req.Username == "" {
		writeError(w, "username is required", http.StatusUnprocessableEntity)
		return
	}
	req.Side = model.Side(strings.ToLower(string(req.Side)))
	if req.Side != model.SideBuy && req.Side != model.SideSell {
		writeError(w, "side must be buy or sell", http.StatusUnprocessableEntity)
		return
	}
	if req.Shares <= 0 {
		writeLedgerError(w, r, ledger.ErrInvalidShares)
		return
	}
	sym, err := ticker.Normalize(req.Ticker)
	if err != nil {
		writeLedgerError(w, r, fmt.Errorf("%w: %w", ledger.ErrInvalidTicker, err))
		return
	}

	ctx := r.Context()
	price, err := s.quote(ctx, sym)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}

	var res *ledger.TradeResult
	if req.Side == model.SideBuy {
		res, err = s.engine.BuyStock(ctx, req.Username, sym, req.Shares, price)
	} else {
		res, err = s.engine.SellStock(ctx, req.Username, sym, req.Shares, price)
	}
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}

	tx := res.Transaction
	resp := TradeResponse{
		TransactionID:  tx.ID,
		Ref:            tx.Ref,
		Username:       tx.Username,
		Ticker:         tx.Ticker,
		Side:           tx.Status,
		Shares:         tx.Shares,
		Price:          tx.Price,
		Amount:         model.Settle(tx.Status, tx.Price, tx.Shares),
		RemainingFunds: tx.RemainingFunds,
		CostBasis:      res.CostBasis,
		RealizedGain:   res.RealizedGain,
	}
	if pos, ok := res.Profile.Portfolio[sym]; ok {
		resp.Position = &pos
	}

	s.broadcast(WSMessage{
		Type:           "trade_executed",
		Username:       tx.Username,
		Ticker:         tx.Ticker,
		Side:           string(tx.Status),
		Shares:         tx.Shares,
		Price:          tx.Price.String(),
		RemainingFunds: tx.RemainingFunds.StringFixed(model.MoneyScale),
	})
	writeJSON(w, http.StatusOK, resp)
}

// GetLeaderboard handles GET /api/v1/leaderboard
// Users who could not be valued appear under "excluded".
func (s *Service) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := s.engine.Leaderboard(r.Context())
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// quote fetches the execution price for sym. Any failure is reported as
// ErrPriceUnavailable with the oracle's reason attached.
func (s *Service) quote(ctx context.Context, sym string) (decimal.Decimal, error) {
	qctx, cancel := context.WithTimeout(ctx, s.quoteTimeout)
	defer cancel()

	price, err := s.prices.GetPrice(qctx, sym)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %w", ledger.ErrPriceUnavailable, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %w", ledger.ErrPriceUnavailable, ledger.ErrInvalidPrice)
	}
	return price, nil
}

func (s *Service) broadcast(msg WSMessage) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(msg)
	}
}

// statusFor maps a ledger error to an HTTP status by class.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, oracle.ErrTickerNotFound), errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrOracle):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeLedgerError writes err with its mapped status. Server-side failures
// are logged and hidden behind a generic message.
func writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		msg = "internal error"
	}
	writeError(w, msg, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
