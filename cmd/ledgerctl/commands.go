package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"github.com/papertrade/portfolio-game/internal/app"
	"github.com/papertrade/portfolio-game/internal/config"
	"github.com/papertrade/portfolio-game/internal/ledger"
	"github.com/papertrade/portfolio-game/internal/model"
	"github.com/papertrade/portfolio-game/internal/ticker"
)

var commands = []subcommands.Command{
	&createCmd{},
	&tradeCmd{side: model.SideBuy},
	&tradeCmd{side: model.SideSell},
	&valueCmd{},
	&leaderboardCmd{},
	&historyCmd{},
}

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr

	// openApp connects to the configured backends; replaced in tests.
	openApp = func(ctx context.Context) (*app.App, error) {
		cfg, err := config.Load(*envFile)
		if err != nil {
			return nil, err
		}
		return app.Open(ctx, cfg, app.NewLogger(stderr, cfg.LogLevel))
	}
)

// run opens the backends, calls fn, and maps its error to an exit status.
func run(ctx context.Context, fn func(*app.App) error) subcommands.ExitStatus {
	a, err := openApp(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening ledger: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	if err := fn(a); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if errors.Is(err, ledger.ErrValidation) {
			return subcommands.ExitUsageError
		}
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// --- create ---

type createCmd struct{}

func (*createCmd) Name() string     { return "create" }
func (*createCmd) Synopsis() string { return "open a new profile with the starting balance" }
func (*createCmd) Usage() string {
	return `ledgerctl create <username>

  Creates a profile. Fails if the username is taken.
`
}
func (*createCmd) SetFlags(*flag.FlagSet) {}

func (c *createCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	return run(ctx, func(a *app.App) error {
		p, err := a.Engine.CreateProfile(ctx, f.Arg(0))
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Created %s with %s\n", p.Username, formatMoney(p.FundsAvailable, a.Config.Game.BaseCurrency))
		return nil
	})
}

// --- buy / sell ---

type tradeCmd struct {
	side model.Side
	max  bool
}

func (c *tradeCmd) Name() string { return string(c.side) }
func (c *tradeCmd) Synopsis() string {
	return string(c.side) + " shares at the current quoted price"
}
func (c *tradeCmd) Usage() string {
	if c.side == model.SideBuy {
		return `ledgerctl buy [-max] <username> <ticker> [shares]

  Buys shares at the oracle's current price. With -max, buys as many
  whole shares as the user's cash allows.
`
	}
	return `ledgerctl sell [-max] <username> <ticker> [shares]

  Sells shares at the oracle's current price. With -max, sells the
  whole position.
`
}

func (c *tradeCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.max, "max", false, "trade the largest possible number of shares")
}

func (c *tradeCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	want := 3
	if c.max {
		want = 2
	}
	if f.NArg() != want {
		fmt.Fprint(stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	username := f.Arg(0)

	var shares int64
	if !c.max {
		var err error
		if shares, err = strconv.ParseInt(f.Arg(2), 10, 64); err != nil {
			fmt.Fprintf(stderr, "Error parsing share count %q: %v\n", f.Arg(2), err)
			return subcommands.ExitUsageError
		}
	}

	return run(ctx, func(a *app.App) error {
		sym, err := ticker.Normalize(f.Arg(1))
		if err != nil {
			return fmt.Errorf("%w: %w", ledger.ErrInvalidTicker, err)
		}
		qctx, cancel := context.WithTimeout(ctx, a.Config.Oracle.Timeout)
		price, err := a.Oracle.GetPrice(qctx, sym)
		cancel()
		if err != nil {
			return fmt.Errorf("%w: %w", ledger.ErrPriceUnavailable, err)
		}

		if c.max {
			if shares, err = c.maxShares(ctx, a, username, sym, price); err != nil {
				return err
			}
		}

		var res *ledger.TradeResult
		if c.side == model.SideBuy {
			res, err = a.Engine.BuyStock(ctx, username, sym, shares, price)
		} else {
			res, err = a.Engine.SellStock(ctx, username, sym, shares, price)
		}
		if err != nil {
			return err
		}

		cur := a.Config.Game.BaseCurrency
		verb := "Bought"
		if c.side == model.SideSell {
			verb = "Sold"
		}
		fmt.Fprintf(stdout, "%s %d %s @ %s, cash %s\n", verb, shares, sym,
			formatMoney(price, cur), formatMoney(res.Profile.FundsAvailable, cur))
		if c.side == model.SideSell {
			fmt.Fprintf(stdout, "Realized gain %s\n", formatSigned(res.RealizedGain, cur))
		}
		if res.Transaction.ID == 0 {
			fmt.Fprintln(stderr, "Warning: trade executed but not recorded in the transaction log")
		}
		return nil
	})
}

func (c *tradeCmd) maxShares(ctx context.Context, a *app.App, username, sym string, price decimal.Decimal) (int64, error) {
	if c.side == model.SideBuy {
		n, err := a.Engine.MaxAffordable(ctx, username, price)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, fmt.Errorf("%w: cannot afford one share of %s at %s", ledger.ErrInsufficientFunds, sym, price)
		}
		return n, nil
	}
	p, err := a.Engine.Profile(ctx, username)
	if err != nil {
		return 0, err
	}
	pos, ok := p.Portfolio[sym]
	if !ok {
		return 0, fmt.Errorf("%w: %s holds no %s", ledger.ErrPositionNotFound, username, sym)
	}
	return pos.Shares, nil
}

// --- value ---

type valueCmd struct{}

func (*valueCmd) Name() string     { return "value" }
func (*valueCmd) Synopsis() string { return "mark a portfolio to market" }
func (*valueCmd) Usage() string {
	return `ledgerctl value <username>

  Shows cash, every holding at its current price, and the total value.
`
}
func (*valueCmd) SetFlags(*flag.FlagSet) {}

func (c *valueCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	return run(ctx, func(a *app.App) error {
		v, err := a.Engine.Valuation(ctx, f.Arg(0))
		if err != nil {
			return err
		}
		cur := a.Config.Game.BaseCurrency

		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(tw, "Ticker\tShares\tAvg price\tPrice\tValue\tGain\t")
		for _, h := range v.Holdings {
			hc := h.Currency
			if hc == "" {
				hc = cur
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t\n", h.Ticker, h.Shares,
				formatMoney(h.AveragePrice, hc), formatMoney(h.Price, hc),
				formatMoney(h.MarketValue, hc), formatSigned(h.UnrealizedGain, hc))
		}
		tw.Flush()
		fmt.Fprintf(stdout, "Cash %s\nTotal %s\n", formatMoney(v.FundsAvailable, cur), formatMoney(v.Total, cur))
		return nil
	})
}

// --- leaderboard ---

type leaderboardCmd struct {
	top int
}

func (*leaderboardCmd) Name() string     { return "leaderboard" }
func (*leaderboardCmd) Synopsis() string { return "rank every profile by total value" }
func (*leaderboardCmd) Usage() string {
	return `ledgerctl leaderboard [-n <count>]

  Ranks every profile by cash plus holdings at current prices.
`
}

func (c *leaderboardCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.top, "n", 0, "show only the top n rows (0 for all)")
}

func (c *leaderboardCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, func(a *app.App) error {
		board, err := a.Engine.Leaderboard(ctx)
		if err != nil {
			return err
		}
		rows := board.Standings
		if c.top > 0 && len(rows) > c.top {
			rows = rows[:c.top]
		}

		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		for _, s := range rows {
			fmt.Fprintf(tw, "%d.\t%s\t%s\n", s.Rank, s.Username, formatMoney(s.Value, a.Config.Game.BaseCurrency))
		}
		tw.Flush()
		for _, x := range board.Excluded {
			fmt.Fprintf(stderr, "Excluded %s: %s\n", x.Username, x.Reason)
		}
		return nil
	})
}

// --- history ---

type historyCmd struct{}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "list a user's executed trades" }
func (*historyCmd) Usage() string {
	return `ledgerctl history <username>

  Lists the user's transactions, oldest first.
`
}
func (*historyCmd) SetFlags(*flag.FlagSet) {}

func (c *historyCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	return run(ctx, func(a *app.App) error {
		txs, err := a.Engine.History(ctx, f.Arg(0))
		if err != nil {
			return err
		}
		cur := a.Config.Game.BaseCurrency
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		for _, tx := range txs {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t@ %s\tcash %s\n", tx.ID, tx.Date.Format(time.DateTime),
				strings.ToUpper(string(tx.Status)), tx.Shares, tx.Ticker,
				formatMoney(tx.Price, cur), formatMoney(tx.RemainingFunds, cur))
		}
		return tw.Flush()
	})
}
