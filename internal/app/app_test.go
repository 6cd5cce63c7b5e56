package app

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/papertrade/portfolio-game/internal/config"
	"github.com/papertrade/portfolio-game/internal/oracle"
	"github.com/papertrade/portfolio-game/internal/store"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Oracle.StaticPrices = "AAPL=100,MSFT=300"
	return cfg
}

func TestOpen_MemoryAndStatic(t *testing.T) {
	a, err := Open(context.Background(), testConfig(), NewLogger(io.Discard, 0))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()

	if _, ok := a.Store.(*store.MemoryStore); !ok {
		t.Errorf("expected memory store, got %T", a.Store)
	}
	if _, ok := a.Oracle.(*oracle.Static); !ok {
		t.Errorf("expected static oracle, got %T", a.Oracle)
	}

	ctx := context.Background()
	if _, err := a.Engine.CreateProfile(ctx, "alice"); err != nil {
		t.Fatalf("create: %v", err)
	}
	price, err := a.Oracle.GetPrice(ctx, "MSFT")
	if err != nil || price.IntPart() != 300 {
		t.Errorf("expected MSFT at 300, got %s, %v", price, err)
	}
}

func TestOpen_PebblePersists(t *testing.T) {
	cfg := testConfig()
	cfg.Store.PebblePath = filepath.Join(t.TempDir(), "ledger")
	ctx := context.Background()

	a, err := Open(ctx, cfg, NewLogger(io.Discard, 0))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := a.Store.(*store.PebbleStore); !ok {
		t.Fatalf("expected pebble store, got %T", a.Store)
	}
	if _, err := a.Engine.CreateProfile(ctx, "alice"); err != nil {
		t.Fatalf("create: %v", err)
	}
	a.Close()

	b, err := Open(ctx, cfg, NewLogger(io.Discard, 0))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()
	if _, err := b.Engine.Profile(ctx, "alice"); err != nil {
		t.Errorf("profile should survive reopen: %v", err)
	}
}

func TestOpen_HTTPOracleWithCache(t *testing.T) {
	cfg := testConfig()
	cfg.Oracle.URL = "http://127.0.0.1:1/query"
	cfg.Cache.RedisURL = "redis://127.0.0.1:1/0"
	cfg.Cache.PriceTTL = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	a, err := Open(ctx, cfg, NewLogger(io.Discard, 0))
	if err != nil {
		t.Fatalf("an unreachable cache must not be fatal: %v", err)
	}
	defer a.Close()
	if _, ok := a.Oracle.(*oracle.Cached); !ok {
		t.Errorf("expected cached oracle, got %T", a.Oracle)
	}
}

func TestOpen_BadStaticPrices(t *testing.T) {
	cfg := testConfig()
	cfg.Oracle.StaticPrices = "AAPL"
	if _, err := Open(context.Background(), cfg, NewLogger(io.Discard, 0)); err == nil {
		t.Error("expected error for malformed static prices")
	}
}
