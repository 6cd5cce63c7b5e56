package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/portfolio-game/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newProfile(username string) *model.UserProfile {
	return &model.UserProfile{
		Username:       username,
		CreateDate:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		FundsAvailable: d(10000),
		Portfolio:      model.Portfolio{},
	}
}

// runStoreSuite exercises the Store contract against one backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("CreateThenGet", func(t *testing.T) {
		s := newStore(t)
		if err := s.Create(ctx, newProfile("alice")); err != nil {
			t.Fatalf("create: %v", err)
		}
		got, err := s.Get(ctx, "alice")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Username != "alice" {
			t.Errorf("expected username=alice, got %s", got.Username)
		}
		if !got.FundsAvailable.Equal(d(10000)) {
			t.Errorf("expected funds=10000, got %s", got.FundsAvailable)
		}
		if got.Portfolio == nil {
			t.Error("expected non-nil portfolio")
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		s := newStore(t)
		if err := s.Create(ctx, newProfile("alice")); err != nil {
			t.Fatalf("create: %v", err)
		}
		dup := newProfile("alice")
		dup.FundsAvailable = d(1)
		if err := s.Create(ctx, dup); !errors.Is(err, ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
		got, _ := s.Get(ctx, "alice")
		if !got.FundsAvailable.Equal(d(10000)) {
			t.Errorf("duplicate create must not overwrite, funds=%s", got.FundsAvailable)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Get(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("UpdateReplacesRecord", func(t *testing.T) {
		s := newStore(t)
		s.Create(ctx, newProfile("alice"))

		p, _ := s.Get(ctx, "alice")
		p.FundsAvailable = d(9000)
		p.Portfolio["AAPL"] = model.Position{Name: "Apple Inc.", Currency: "USD", Shares: 10, AveragePrice: d(100)}
		if err := s.Update(ctx, "alice", p); err != nil {
			t.Fatalf("update: %v", err)
		}

		got, _ := s.Get(ctx, "alice")
		if !got.FundsAvailable.Equal(d(9000)) {
			t.Errorf("expected funds=9000, got %s", got.FundsAvailable)
		}
		pos, ok := got.Portfolio["AAPL"]
		if !ok {
			t.Fatal("expected AAPL position")
		}
		if pos.Shares != 10 || !pos.AveragePrice.Equal(d(100)) || pos.Name != "Apple Inc." {
			t.Errorf("unexpected position: %+v", pos)
		}

		delete(p.Portfolio, "AAPL")
		s.Update(ctx, "alice", p)
		got, _ = s.Get(ctx, "alice")
		if _, ok := got.Portfolio["AAPL"]; ok {
			t.Error("whole-record update should drop removed positions")
		}
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		s := newStore(t)
		if err := s.Update(ctx, "nobody", newProfile("nobody")); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("GetReturnsCopy", func(t *testing.T) {
		s := newStore(t)
		s.Create(ctx, newProfile("alice"))
		p, _ := s.Get(ctx, "alice")
		p.Portfolio["MSFT"] = model.Position{Shares: 1, AveragePrice: d(1)}

		got, _ := s.Get(ctx, "alice")
		if len(got.Portfolio) != 0 {
			t.Error("mutating a returned profile must not affect the store")
		}
	})

	t.Run("List", func(t *testing.T) {
		s := newStore(t)
		for _, u := range []string{"carol", "alice", "bob"} {
			s.Create(ctx, newProfile(u))
		}
		profiles, err := s.List(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(profiles) != 3 {
			t.Fatalf("expected 3 profiles, got %d", len(profiles))
		}
		if profiles[0].Username != "alice" || profiles[2].Username != "carol" {
			t.Errorf("expected username order, got %s..%s", profiles[0].Username, profiles[2].Username)
		}
	})

	t.Run("AppendAssignsIncreasingIDs", func(t *testing.T) {
		s := newStore(t)
		var ids []int64
		for i, u := range []string{"alice", "bob", "alice"} {
			tx := &model.Transaction{
				Ref: "ref-" + string(rune('a'+i)), Date: time.Now().UTC(),
				Username: u, Ticker: "AAPL", Price: d(100), Shares: 1,
				Status: model.SideBuy, RemainingFunds: d(9900),
			}
			if err := s.Append(ctx, tx); err != nil {
				t.Fatalf("append: %v", err)
			}
			ids = append(ids, tx.ID)
		}
		if !(ids[0] < ids[1] && ids[1] < ids[2]) {
			t.Errorf("expected increasing ids, got %v", ids)
		}

		txs, err := s.ListByUser(ctx, "alice")
		if err != nil {
			t.Fatalf("list by user: %v", err)
		}
		if len(txs) != 2 {
			t.Fatalf("expected 2 transactions for alice, got %d", len(txs))
		}
		if txs[0].ID != ids[0] || txs[1].ID != ids[2] {
			t.Errorf("expected append order %d,%d got %d,%d", ids[0], ids[2], txs[0].ID, txs[1].ID)
		}
		if txs[0].Status != model.SideBuy || !txs[0].RemainingFunds.Equal(d(9900)) {
			t.Errorf("unexpected record: %+v", txs[0])
		}
	})

	t.Run("AppendIsIdempotentOnRef", func(t *testing.T) {
		s := newStore(t)
		tx := &model.Transaction{
			Ref: "same-ref", Date: time.Now().UTC(), Username: "alice",
			Ticker: "AAPL", Price: d(100), Shares: 1, Status: model.SideSell,
			RemainingFunds: d(100),
		}
		s.Append(ctx, tx)
		first := tx.ID

		retry := *tx
		retry.ID = 0
		if err := s.Append(ctx, &retry); err != nil {
			t.Fatalf("retry append: %v", err)
		}
		if retry.ID != first {
			t.Errorf("expected retry to resolve to id %d, got %d", first, retry.ID)
		}
		txs, _ := s.ListByUser(ctx, "alice")
		if len(txs) != 1 {
			t.Errorf("expected 1 transaction after retry, got %d", len(txs))
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMemoryStore() })
}
