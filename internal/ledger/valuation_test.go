package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/papertrade/portfolio-game/internal/ledger"
	"github.com/papertrade/portfolio-game/internal/oracle"
)

func TestValueOf_MarksToMarket(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "alice")
	env.buy(t, "alice", "AAPL", 10, 100)
	env.buy(t, "alice", "MSFT", 2, 300)

	env.oracle.SetPrice("AAPL", d(120))
	env.oracle.SetPrice("MSFT", d(250.5))

	// 8400 + 10*120 + 2*250.5
	got, err := env.engine.ValueOf(context.Background(), "alice")
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if !got.Equal(d(10101)) {
		t.Errorf("expected 10101, got %s", got)
	}
}

func TestValuation_Breakdown(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "alice")
	env.buy(t, "alice", "MSFT", 2, 300)
	env.buy(t, "alice", "AAPL", 10, 100)
	env.oracle.SetPrice("AAPL", d(90))

	v, err := env.engine.Valuation(context.Background(), "alice")
	if err != nil {
		t.Fatalf("valuation: %v", err)
	}
	if len(v.Holdings) != 2 || v.Holdings[0].Ticker != "AAPL" || v.Holdings[1].Ticker != "MSFT" {
		t.Fatalf("expected holdings sorted by ticker, got %+v", v.Holdings)
	}
	aapl := v.Holdings[0]
	if !aapl.MarketValue.Equal(d(900)) || !aapl.UnrealizedGain.Equal(d(-100)) {
		t.Errorf("unexpected AAPL holding: %+v", aapl)
	}
	if !v.HoldingsValue.Equal(d(1500)) {
		t.Errorf("expected holdings value 1500, got %s", v.HoldingsValue)
	}
	if !v.Total.Equal(v.FundsAvailable.Add(v.HoldingsValue)) {
		t.Errorf("total %s != funds %s + holdings %s", v.Total, v.FundsAvailable, v.HoldingsValue)
	}
}

func TestValueOf_PriceFailureFailsWholeValuation(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "alice")
	env.buy(t, "alice", "AAPL", 10, 100)
	env.buy(t, "alice", "MSFT", 1, 300)
	env.oracle.failPrice("MSFT", oracle.ErrUnavailable)

	before := env.profile(t, "alice")

	_, err := env.engine.ValueOf(context.Background(), "alice")
	if !errors.Is(err, ledger.ErrPriceUnavailable) {
		t.Fatalf("expected ErrPriceUnavailable, got %v", err)
	}
	if !errors.Is(err, oracle.ErrUnavailable) {
		t.Errorf("expected cause preserved, got %v", err)
	}

	after := env.profile(t, "alice")
	if !after.FundsAvailable.Equal(before.FundsAvailable) || len(after.Portfolio) != len(before.Portfolio) {
		t.Errorf("valuation must not mutate the profile")
	}
}

func TestValueOf_DelistedTicker(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "alice")
	env.buy(t, "alice", "SHOP", 1, 60)
	env.oracle.Delete("SHOP")

	_, err := env.engine.ValueOf(context.Background(), "alice")
	if !errors.Is(err, oracle.ErrTickerNotFound) || !errors.Is(err, ledger.ErrOracle) {
		t.Errorf("expected oracle-class not found, got %v", err)
	}
}

func TestLeaderboard_OrderingAndTies(t *testing.T) {
	env := newTestEnv(t)
	for _, u := range []string{"carol", "bob", "alice", "dave"} {
		env.create(t, u)
	}
	// carol: 5000 cash + 50 AAPL → 10000 at 100, 5000 after the drop.
	env.buy(t, "carol", "AAPL", 50, 100)
	// bob and alice tie at 9000; dave stays at 10000.
	env.buy(t, "bob", "MSFT", 10, 300)
	env.buy(t, "alice", "MSFT", 10, 300)
	env.oracle.SetPrice("AAPL", d(0.01))
	env.oracle.SetPrice("MSFT", d(200))

	board, err := env.engine.Leaderboard(context.Background())
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board.Excluded) != 0 {
		t.Fatalf("expected no exclusions, got %+v", board.Excluded)
	}

	want := []struct {
		user  string
		value float64
	}{
		{"dave", 10000},
		{"alice", 9000},
		{"bob", 9000},
		{"carol", 5000.5},
	}
	if len(board.Standings) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(board.Standings))
	}
	for i, w := range want {
		row := board.Standings[i]
		if row.Rank != i+1 || row.Username != w.user || !row.Value.Equal(d(w.value)) {
			t.Errorf("row %d: expected {%d %s %v}, got %+v", i, i+1, w.user, w.value, row)
		}
	}
}

func TestLeaderboard_ExcludesUnpriceableUsers(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "alice")
	env.create(t, "bob")
	env.create(t, "carol")
	env.buy(t, "alice", "AAPL", 1, 100)
	env.buy(t, "bob", "SHOP", 1, 60)
	env.oracle.failPrice("SHOP", oracle.ErrUnavailable)

	board, err := env.engine.Leaderboard(context.Background())
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board.Standings) != 2 {
		t.Fatalf("expected 2 ranked users, got %+v", board.Standings)
	}
	if len(board.Excluded) != 1 || board.Excluded[0].Username != "bob" {
		t.Fatalf("expected bob excluded, got %+v", board.Excluded)
	}
	if !errors.Is(board.Excluded[0].Err, ledger.ErrPriceUnavailable) || board.Excluded[0].Reason == "" {
		t.Errorf("exclusion should carry the cause, got %+v", board.Excluded[0])
	}
}

func TestLeaderboard_QuotesEachTickerOnce(t *testing.T) {
	env := newTestEnv(t)
	for _, u := range []string{"a", "b", "c", "d", "e"} {
		env.create(t, u)
		env.buy(t, u, "AAPL", 1, 100)
		env.buy(t, u, "MSFT", 1, 300)
		env.buy(t, u, "SHOP", 1, 60)
	}
	env.oracle.batchCalls.Store(0)

	if _, err := env.engine.Leaderboard(context.Background()); err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	// 3 distinct tickers in batches of 2.
	if n := env.oracle.batchCalls.Load(); n != 2 {
		t.Errorf("expected 2 batch calls, got %d", n)
	}
}

func TestLeaderboard_Empty(t *testing.T) {
	env := newTestEnv(t)
	board, err := env.engine.Leaderboard(context.Background())
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board.Standings) != 0 || len(board.Excluded) != 0 {
		t.Errorf("expected empty board, got %+v", board)
	}
}
