package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"quant_trader/internal/cache"
	"quant_trader/internal/core"
	"quant_trader/internal/costmodel"
	"quant_trader/internal/datasource"
	"quant_trader/internal/engine"
	"quant_trader/internal/marketsim"
	"quant_trader/internal/portfolio"
	"quant_trader/internal/risk"
	"quant_trader/pkg/logging"
)

// BacktestOptions bounds one replay run. Symbols falls back to the config
// file watchlist when empty.
type BacktestOptions struct {
	Start   time.Time
	End     time.Time
	Symbols []string
	// Adjust is the price adjustment mode, qfq unless set.
	Adjust string
	// Warm prefetches bar history on the warmer pool before the replay,
	// so a long symbol list does not serialize on provider latency.
	Warm bool
}

// BacktestApp is the assembled replay stack: engine, simulator, ledger and
// data layer sharing one virtual clock.
type BacktestApp struct {
	Cfg    *Config
	Logger core.ILogger

	Cache     *cache.SQLiteCache
	Data      *datasource.Manager
	Warmer    *datasource.Warmer
	Costs     *costmodel.Model
	Simulator *marketsim.Simulator
	Breaker   *risk.DrawdownBreaker
	Gate      *risk.Manager
	Ledger    *portfolio.Portfolio
	Engine    *engine.Engine
	Clock     *engine.VirtualClock
	Backtest  *engine.Backtest

	opts BacktestOptions
	zap  *logging.ZapLogger
}

// NewBacktestApp bootstraps a replay. Telemetry stays down so the report is
// the only thing the run prints; the logger still honors the configured
// level and sink.
func NewBacktestApp(configPath string, opts BacktestOptions) (*BacktestApp, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	zl, err := InitLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	logger := core.ILogger(zl)

	if len(opts.Symbols) == 0 {
		opts.Symbols = cfg.Symbols
	}

	var eng *engine.Engine
	pub := core.PublishFunc(func(ev core.Event) { eng.Publish(ev) })

	store, err := cache.NewSQLiteCache(cfg.Cache.DBPath, secondsInt(cfg.Cache.DefaultTTLS), logger)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}

	providers, err := buildProviders(cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	data := datasource.NewManager(providers, store, managerConfig(cfg), logger)
	warmer := datasource.NewWarmer(data, cfg.Data.WarmerWorkers, logger)

	costs := costmodel.New(costsConfig(cfg))
	clock := engine.NewVirtualClock(opts.Start)

	sim := marketsim.New(marketsim.Config{
		IgnoreTradingHours:   cfg.Market.IgnoreTradingHours,
		ImpactModel:          cfg.Market.ImpactModel,
		BaseImpact:           decimal.NewFromFloat(cfg.Market.BaseImpact),
		MaxParticipationRate: decimal.NewFromFloat(cfg.Market.MaxParticipationRate),
	}, costs, pub, clock.Now, logger)

	// No alert hook in replays; a tripped breaker just halts the gate.
	breaker := risk.NewDrawdownBreaker(risk.BreakerConfig{
		MaxDrawdownPct: decimal.NewFromFloat(cfg.Risk.MaxDrawdownPct),
		Cooldown:       secondsInt(cfg.Risk.BreakerCooldownS),
	}, nil, logger)
	gate := risk.NewManager(riskConfig(cfg), breaker, logger)

	ledger := portfolio.New(portfolio.Config{
		AccountID:      cfg.Engine.AccountID,
		InitialCapital: decimal.NewFromFloat(cfg.Engine.InitialCapital),
		MaxPositionPct: decimal.NewFromFloat(cfg.Risk.MaxPositionPct),
		OrderType:      core.OrderType(cfg.Engine.OrderType),
	}, gate, pub, clock.Now, logger)

	strategies, err := buildStrategies(cfg, pub, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	eng = engine.New(engine.Config{
		Mode:           engine.ModeBacktest,
		QueueHighWater: cfg.Engine.QueueHighWater,
	}, engine.Deps{
		Strategies: strategies,
		Ledger:     ledger,
		Book:       sim,
		Breaker:    breaker,
	}, clock.Now, logger)

	bt := engine.NewBacktest(engine.BacktestConfig{
		Start:   opts.Start,
		End:     opts.End,
		Symbols: opts.Symbols,
		Adjust:  opts.Adjust,
	}, eng, sim, ledger, data, clock, logger)

	return &BacktestApp{
		Cfg:       cfg,
		Logger:    logger,
		Cache:     store,
		Data:      data,
		Warmer:    warmer,
		Costs:     costs,
		Simulator: sim,
		Breaker:   breaker,
		Gate:      gate,
		Ledger:    ledger,
		Engine:    eng,
		Clock:     clock,
		Backtest:  bt,
		opts:      opts,
		zap:       zl,
	}, nil
}

// Run replays the window and returns the performance report.
func (a *BacktestApp) Run(ctx context.Context) (*portfolio.Report, error) {
	if a.opts.Warm && len(a.opts.Symbols) > 1 {
		adjust := a.opts.Adjust
		if adjust == "" {
			adjust = "qfq"
		}
		if _, err := a.Warmer.WarmBars(ctx, a.opts.Symbols, a.opts.Start, a.opts.End, adjust); err != nil {
			return nil, err
		}
	}
	return a.Backtest.Run(ctx)
}

// Close releases the cache and flushes the log.
func (a *BacktestApp) Close() error {
	a.Warmer.Stop()
	err := a.Cache.Close()
	if a.zap != nil {
		_ = a.zap.Sync()
	}
	return err
}
