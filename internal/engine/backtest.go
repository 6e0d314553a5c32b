package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quant_trader/internal/core"
	"quant_trader/internal/market"
	"quant_trader/internal/marketsim"
	"quant_trader/internal/portfolio"
	apperrors "quant_trader/pkg/errors"
)

// VirtualClock is the settable clock backtests share between the engine,
// the simulator and the portfolio, so every timestamp follows the
// simulated calendar instead of the wall clock.
type VirtualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{now: start}
}

func (c *VirtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *VirtualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// BarSource loads daily bars for the replay window. The datasource
// manager satisfies it; tests inject fixtures.
type BarSource interface {
	GetDailyBars(ctx context.Context, symbol string, start, end time.Time, adjust string) ([]*core.Bar, error)
}

// BacktestConfig bounds the replay.
type BacktestConfig struct {
	Start   time.Time
	End     time.Time
	Symbols []string
	// Adjust is the price adjustment mode passed to the data source,
	// "qfq" unless configured otherwise.
	Adjust string
}

// Backtest replays daily bars through the engine: for each trading day it
// advances the virtual clock to the session close, publishes one
// MARKET_DATA event per symbol and drains the queue to quiescence before
// the next symbol. When the window ends it expires whatever still rests
// in the book and builds the performance report.
type Backtest struct {
	cfg    BacktestConfig
	engine *Engine
	book   *marketsim.Simulator
	ledger *portfolio.Portfolio
	source BarSource
	clock  *VirtualClock
	logger core.ILogger
}

func NewBacktest(cfg BacktestConfig, eng *Engine, book *marketsim.Simulator,
	ledger *portfolio.Portfolio, source BarSource, clock *VirtualClock,
	logger core.ILogger) *Backtest {

	if cfg.Adjust == "" {
		cfg.Adjust = "qfq"
	}
	return &Backtest{
		cfg:    cfg,
		engine: eng,
		book:   book,
		ledger: ledger,
		source: source,
		clock:  clock,
		logger: logger.WithField("component", "backtest"),
	}
}

// Run executes the replay and returns the report. It is synchronous; the
// caller's ctx cancels between bars.
func (b *Backtest) Run(ctx context.Context) (*portfolio.Report, error) {
	days := market.TradingDays(b.cfg.Start, b.cfg.End)
	if len(days) == 0 {
		return nil, fmt.Errorf("%w: no trading days between %s and %s",
			apperrors.ErrNoData, b.cfg.Start.Format("2006-01-02"), b.cfg.End.Format("2006-01-02"))
	}
	if len(b.cfg.Symbols) == 0 {
		return nil, fmt.Errorf("%w: backtest needs at least one symbol", apperrors.ErrNoData)
	}

	bars, err := b.loadBars(ctx)
	if err != nil {
		return nil, err
	}

	initial := b.ledger.Account().TotalAssets
	b.logger.Info("backtest starting",
		"symbols", len(b.cfg.Symbols), "days", len(days),
		"initial_capital", initial.StringFixed(2))

	processed := 0
	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b.clock.Set(market.SessionClose(day))
		key := dayKey(day)
		for _, sym := range b.cfg.Symbols {
			bar := bars[sym][key]
			if bar == nil {
				continue
			}
			b.engine.Publish(core.NewMarketDataEvent(bar))
			processed += b.engine.Drain(ctx)
		}
	}

	// Whatever still rests never met its price; close it out so the
	// report sees a settled book.
	b.book.ExpireOpen()
	processed += b.engine.Drain(ctx)

	report := portfolio.BuildReport(initial, b.ledger.EquityCurve(), b.ledger.Trades())
	b.logger.Info("backtest finished",
		"events", processed, "trades", len(b.ledger.Trades()),
		"final_equity", report.FinalEquity.StringFixed(2))
	return &report, nil
}

// loadBars fetches and indexes the replay window per symbol and day. A
// symbol with no bars stays in the run; suspended days simply publish
// nothing for it.
func (b *Backtest) loadBars(ctx context.Context) (map[string]map[string]*core.Bar, error) {
	out := make(map[string]map[string]*core.Bar, len(b.cfg.Symbols))
	for _, sym := range b.cfg.Symbols {
		list, err := b.source.GetDailyBars(ctx, sym, b.cfg.Start, b.cfg.End, b.cfg.Adjust)
		if err != nil {
			return nil, fmt.Errorf("load bars for %s: %w", sym, err)
		}
		if len(list) == 0 {
			b.logger.Warn("no bars in window", "symbol", sym)
		}
		idx := make(map[string]*core.Bar, len(list))
		for _, bar := range list {
			idx[dayKey(bar.TradeDate)] = bar
		}
		out[sym] = idx
	}
	return out, nil
}

func dayKey(t time.Time) string {
	return t.In(market.ExchangeTZ()).Format("2006-01-02")
}
