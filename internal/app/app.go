// Package app wires configuration into a running ledger: it picks the
// store and price oracle backends and owns their lifetimes. Both the HTTP
// server and the ledgerctl CLI start from Open.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/papertrade/portfolio-game/internal/config"
	"github.com/papertrade/portfolio-game/internal/ledger"
	"github.com/papertrade/portfolio-game/internal/oracle"
	"github.com/papertrade/portfolio-game/internal/store"
)

type App struct {
	Config config.Config
	Store  store.Store
	Oracle oracle.Oracle
	Engine *ledger.Engine

	cleanup []func()
}

// NewLogger returns a JSON logger at level writing to w.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Open connects the configured backends. On error everything opened so
// far is closed again.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.Store, err = a.openStore(ctx, logger); err != nil {
		return nil, err
	}
	if a.Oracle, err = a.openOracle(ctx, logger); err != nil {
		return nil, err
	}

	a.Engine = ledger.NewEngine(a.Store, a.Store, a.Oracle, ledger.Config{
		StartingFunds: cfg.Game.StartingFunds,
		QuoteTimeout:  cfg.Oracle.Timeout,
		BatchSize:     cfg.Oracle.BatchSize,
		Workers:       cfg.Game.LeaderboardWorkers,
		Logger:        logger,
	})
	return a, nil
}

func (a *App) openStore(ctx context.Context, logger *slog.Logger) (store.Store, error) {
	switch {
	case a.Config.Store.DatabaseURL != "":
		pool, err := store.OpenPostgres(ctx, a.Config.Store.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		a.cleanup = append(a.cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		logger.Info("connected to PostgreSQL")
		return pg, nil

	case a.Config.Store.PebblePath != "":
		pb, err := store.NewPebbleStore(a.Config.Store.PebblePath, nil)
		if err != nil {
			return nil, fmt.Errorf("open pebble at %s: %w", a.Config.Store.PebblePath, err)
		}
		a.cleanup = append(a.cleanup, func() {
			if err := pb.Close(); err != nil {
				logger.Error("pebble close failed", "err", err)
			}
		})
		logger.Info("opened Pebble store", "path", a.Config.Store.PebblePath)
		return pb, nil

	default:
		logger.Warn("DATABASE_URL and PEBBLE_PATH not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), nil
	}
}

func (a *App) openOracle(ctx context.Context, logger *slog.Logger) (oracle.Oracle, error) {
	oc := a.Config.Oracle
	if oc.URL == "" {
		st, err := oracle.ParseStatic(oc.StaticPrices, a.Config.Game.BaseCurrency)
		if err != nil {
			return nil, err
		}
		logger.Warn("ORACLE_URL not set, using static price table", "prices", oc.StaticPrices)
		return st, nil
	}

	var o oracle.Oracle = oracle.NewHTTPClient(oc.URL, oc.APIKey, oc.Timeout, a.Config.Game.LeaderboardWorkers)
	logger.Info("using HTTP price oracle", "url", oc.URL)

	cc := a.Config.Cache
	if cc.RedisURL == "" || cc.PriceTTL <= 0 {
		return o, nil
	}
	opt, err := redis.ParseURL(cc.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	a.cleanup = append(a.cleanup, func() { rdb.Close() })
	if err := rdb.Ping(ctx).Err(); err != nil {
		// The cache degrades to direct reads, so this is not fatal.
		logger.Warn("redis unreachable, price cache will miss", "err", err)
	}
	logger.Info("Redis price cache enabled", "price_ttl", cc.PriceTTL, "metadata_ttl", cc.MetadataTTL)
	return oracle.NewCached(o, rdb, cc.PriceTTL, cc.MetadataTTL), nil
}

// Close releases backends in reverse order of opening.
func (a *App) Close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}
