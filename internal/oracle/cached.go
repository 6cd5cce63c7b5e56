package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/papertrade/portfolio-game/internal/metrics"
)

// Cached wraps an upstream Oracle with a Redis read-through cache. Prices
// live for priceTTL (a short staleness window shared by every leaderboard
// and valuation in it); metadata, which never changes in practice, lives
// for metaTTL. Concurrent misses on the same key share one upstream call.
//
// Redis failures degrade to uncached reads; only upstream failures are
// reported to the caller. Failed lookups are never cached.
type Cached struct {
	next     Oracle
	rdb      redis.Cmdable
	priceTTL time.Duration
	metaTTL  time.Duration
	group    singleflight.Group
}

// NewCached creates a cached wrapper around next.
func NewCached(next Oracle, rdb redis.Cmdable, priceTTL, metaTTL time.Duration) *Cached {
	return &Cached{
		next:     next,
		rdb:      rdb,
		priceTTL: priceTTL,
		metaTTL:  metaTTL,
	}
}

func (c *Cached) GetPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	if p, ok := c.cachedPrice(ctx, ticker); ok {
		return p, nil
	}

	v, err, _ := c.group.Do(priceKey(ticker), func() (any, error) {
		p, err := c.next.GetPrice(ctx, ticker)
		if err != nil {
			return nil, err
		}
		c.rdb.Set(ctx, priceKey(ticker), p.String(), c.priceTTL)
		return p, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

func (c *Cached) GetMetadata(ctx context.Context, ticker string) (Metadata, error) {
	data, err := c.rdb.Get(ctx, metadataKey(ticker)).Bytes()
	if err == nil {
		var m Metadata
		if json.Unmarshal(data, &m) == nil {
			metrics.PriceCache.WithLabelValues("metadata", "hit").Inc()
			return m, nil
		}
	}
	c.observeMiss("metadata", err)

	v, err, _ := c.group.Do(metadataKey(ticker), func() (any, error) {
		m, err := c.next.GetMetadata(ctx, ticker)
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(m); err == nil {
			c.rdb.Set(ctx, metadataKey(ticker), data, c.metaTTL)
		}
		return m, nil
	})
	if err != nil {
		return Metadata{}, err
	}
	return v.(Metadata), nil
}

func (c *Cached) GetPrices(ctx context.Context, tickers []string) (PriceSet, error) {
	ps := newPriceSet(len(tickers))
	if len(tickers) == 0 {
		return ps, nil
	}

	keys := make([]string, len(tickers))
	for i, t := range tickers {
		keys[i] = priceKey(t)
	}

	var missing []string
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		c.observeMiss("price", err)
		missing = tickers
	} else {
		for i, v := range vals {
			s, ok := v.(string)
			p, perr := decimal.NewFromString(s)
			if !ok || perr != nil {
				metrics.PriceCache.WithLabelValues("price", "miss").Inc()
				missing = append(missing, tickers[i])
				continue
			}
			metrics.PriceCache.WithLabelValues("price", "hit").Inc()
			ps.Prices[tickers[i]] = p
		}
	}
	if len(missing) == 0 {
		return ps, nil
	}

	fresh, err := c.next.GetPrices(ctx, missing)
	if err != nil {
		return PriceSet{}, err
	}
	if len(fresh.Prices) > 0 {
		pipe := c.rdb.Pipeline()
		for t, p := range fresh.Prices {
			pipe.Set(ctx, priceKey(t), p.String(), c.priceTTL)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			slog.Debug("price cache write failed", "err", err)
		}
	}
	ps.Merge(fresh)
	return ps, nil
}

func (c *Cached) cachedPrice(ctx context.Context, ticker string) (decimal.Decimal, bool) {
	s, err := c.rdb.Get(ctx, priceKey(ticker)).Result()
	if err == nil {
		if p, perr := decimal.NewFromString(s); perr == nil {
			metrics.PriceCache.WithLabelValues("price", "hit").Inc()
			return p, true
		}
	}
	c.observeMiss("price", err)
	return decimal.Zero, false
}

func (c *Cached) observeMiss(kind string, err error) {
	outcome := "miss"
	if err != nil && !errors.Is(err, redis.Nil) {
		outcome = "error"
		slog.Debug("price cache read failed", "kind", kind, "err", err)
	}
	metrics.PriceCache.WithLabelValues(kind, outcome).Inc()
}

func priceKey(ticker string) string    { return fmt.Sprintf("price:%s", ticker) }
func metadataKey(ticker string) string { return fmt.Sprintf("meta:%s", ticker) }
