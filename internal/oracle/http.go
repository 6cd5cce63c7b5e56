package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/papertrade/portfolio-game/internal/metrics"
)

// globalQuoteResponse is the GLOBAL_QUOTE payload of an Alpha Vantage style
// quote API. An unknown symbol yields an empty "Global Quote" object.
type globalQuoteResponse struct {
	GlobalQuote struct {
		Symbol string `json:"01. symbol"`
		Price  string `json:"05. price"`
	} `json:"Global Quote"`
	Note        string `json:"Note"`
	Information string `json:"Information"`
	Error       string `json:"Error Message"`
}

// overviewResponse is the OVERVIEW payload; unknown symbols yield {}.
type overviewResponse struct {
	Symbol      string `json:"Symbol"`
	Name        string `json:"Name"`
	Currency    string `json:"Currency"`
	Note        string `json:"Note"`
	Information string `json:"Information"`
	Error       string `json:"Error Message"`
}

// HTTPClient is an Oracle backed by an Alpha Vantage compatible HTTP API.
// The API has no multi-symbol quote endpoint, so GetPrices fans out with
// bounded concurrency.
type HTTPClient struct {
	baseURL     string
	apiKey      string
	client      *http.Client
	concurrency int
}

// NewHTTPClient creates a client for baseURL (e.g.
// "https://www.alphavantage.co/query"). Every request is bounded by
// timeout in addition to the caller's context.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, concurrency int) *HTTPClient {
	if concurrency < 1 {
		concurrency = 1
	}
	return &HTTPClient{
		baseURL:     baseURL,
		apiKey:      apiKey,
		client:      &http.Client{Timeout: timeout},
		concurrency: concurrency,
	}
}

func (c *HTTPClient) GetPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	var resp globalQuoteResponse
	if err := c.query(ctx, "price", "GLOBAL_QUOTE", ticker, &resp); err != nil {
		return decimal.Zero, err
	}
	if msg := firstNonEmpty(resp.Note, resp.Information); msg != "" {
		return decimal.Zero, c.fail("price", fmt.Errorf("%w: %s", ErrUnavailable, msg))
	}
	if resp.Error != "" || resp.GlobalQuote.Price == "" {
		return decimal.Zero, c.fail("price", fmt.Errorf("%w: %s", ErrTickerNotFound, ticker))
	}

	price, err := decimal.NewFromString(resp.GlobalQuote.Price)
	if err != nil || !price.IsPositive() {
		return decimal.Zero, c.fail("price", fmt.Errorf("%w: bad price %q for %s", ErrUnavailable, resp.GlobalQuote.Price, ticker))
	}
	metrics.OracleRequests.WithLabelValues("price", "ok").Inc()
	return price, nil
}

func (c *HTTPClient) GetMetadata(ctx context.Context, ticker string) (Metadata, error) {
	var resp overviewResponse
	if err := c.query(ctx, "metadata", "OVERVIEW", ticker, &resp); err != nil {
		return Metadata{}, err
	}
	if msg := firstNonEmpty(resp.Note, resp.Information); msg != "" {
		return Metadata{}, c.fail("metadata", fmt.Errorf("%w: %s", ErrUnavailable, msg))
	}
	if resp.Error != "" || resp.Symbol == "" {
		return Metadata{}, c.fail("metadata", fmt.Errorf("%w: %s", ErrTickerNotFound, ticker))
	}

	meta := Metadata{Name: resp.Name, Currency: resp.Currency}
	if meta.Name == "" {
		meta.Name = ticker
	}
	metrics.OracleRequests.WithLabelValues("metadata", "ok").Inc()
	return meta, nil
}

func (c *HTTPClient) GetPrices(ctx context.Context, tickers []string) (PriceSet, error) {
	prices := make([]decimal.Decimal, len(tickers))
	errs := make([]error, len(tickers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, t := range tickers {
		g.Go(func() error {
			prices[i], errs[i] = c.GetPrice(gctx, t)
			return nil // per-ticker failures are reported, not fatal
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return PriceSet{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	ps := newPriceSet(len(tickers))
	for i, t := range tickers {
		if errs[i] != nil {
			ps.Errors[t] = errs[i]
			continue
		}
		ps.Prices[t] = prices[i]
	}
	return ps, nil
}

func (c *HTTPClient) query(ctx context.Context, op, function, ticker string, out any) error {
	q := url.Values{}
	q.Set("function", function)
	q.Set("symbol", ticker)
	q.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return c.fail(op, fmt.Errorf("%w: %w", ErrUnavailable, err))
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.OracleLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		return c.fail(op, fmt.Errorf("%w: %w", ErrUnavailable, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return c.fail(op, fmt.Errorf("%w: %s", ErrTickerNotFound, ticker))
	case resp.StatusCode != http.StatusOK:
		return c.fail(op, fmt.Errorf("%w: upstream status %d", ErrUnavailable, resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return c.fail(op, fmt.Errorf("%w: decode: %w", ErrUnavailable, err))
	}
	return nil
}

func (c *HTTPClient) fail(op string, err error) error {
	result := "unavailable"
	if errors.Is(err, ErrTickerNotFound) {
		result = "not_found"
	}
	metrics.OracleRequests.WithLabelValues(op, result).Inc()
	return err
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
