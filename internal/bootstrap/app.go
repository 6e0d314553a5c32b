// Package bootstrap assembles a trading process from one configuration
// file. NewApp builds the complete live stack wired through the engine's
// event queue; NewBacktestApp builds the replay stack around a virtual
// clock. Both return handles whose Run methods own the process lifecycle.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"quant_trader/internal/alert"
	"quant_trader/internal/broker"
	"quant_trader/internal/cache"
	"quant_trader/internal/core"
	"quant_trader/internal/costmodel"
	"quant_trader/internal/datasource"
	"quant_trader/internal/engine"
	"quant_trader/internal/executor"
	"quant_trader/internal/infrastructure/health"
	"quant_trader/internal/infrastructure/metrics"
	"quant_trader/internal/market"
	"quant_trader/internal/order"
	"quant_trader/internal/portfolio"
	"quant_trader/internal/risk"
	"quant_trader/internal/strategy"
	"quant_trader/pkg/liveserver"
	"quant_trader/pkg/logging"
	"quant_trader/pkg/retry"
	"quant_trader/pkg/telemetry"
)

// feedStaleLimit is how old the newest quote may grow during a trading
// session before the feed probe reports unhealthy.
const feedStaleLimit = 2 * time.Minute

// rejectionStreakThreshold is how many consecutive broker rejections raise
// one alert.
const rejectionStreakThreshold = 3

// Runner is one long-lived component under the application lifecycle.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// App is the assembled live trading stack. Every component is constructed
// by NewApp and wired through the engine's event queue; fields are exposed
// so the binary and tests can reach individual pieces.
type App struct {
	Cfg    *Config
	Logger core.ILogger

	Telemetry *telemetry.Telemetry
	Cache     *cache.SQLiteCache
	Data      *datasource.Manager
	Warmer    *datasource.Warmer
	Costs     *costmodel.Model
	Broker    core.IBroker
	Store     *order.SQLiteStore
	Orders    *order.Manager
	Alerts    *alert.Manager
	Streak    *alert.StreakMonitor
	Breaker   *risk.DrawdownBreaker
	Gate      *risk.Manager
	Ledger    *portfolio.Portfolio
	Executor  *executor.Executor
	Engine    *engine.Engine
	Feed      *datasource.Feed
	Live      *engine.Live
	Health    *health.Manager

	// Dashboard surface; nil when monitor.enabled is false.
	Hub         *liveserver.Hub
	Monitor     *liveserver.Server
	Broadcaster *liveserver.Broadcaster

	// Prometheus endpoint; nil when telemetry.enabled is false.
	Metrics *metrics.Server

	zap *logging.ZapLogger
}

// NewApp bootstraps the live stack. Telemetry comes up before the logger
// so the log bridge binds the real provider; everything else is wired in
// dependency order and torn back down if a later step fails.
func NewApp(configPath string) (*App, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var tele *telemetry.Telemetry
	if cfg.Telemetry.Enabled {
		tele, err = telemetry.Setup(cfg.Telemetry.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("telemetry: %w", err)
		}
	}

	zl, err := InitLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	app, err := assembleLive(cfg, zl)
	if err != nil {
		if tele != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tele.Shutdown(shutdownCtx)
		}
		return nil, err
	}
	app.Telemetry = tele
	app.zap = zl
	return app, nil
}

// assembleLive wires every live component. Components publish through an
// indirection so they can be built before the engine that owns the queue.
func assembleLive(cfg *Config, logger core.ILogger) (*App, error) {
	var eng *engine.Engine
	pub := core.PublishFunc(func(ev core.Event) { eng.Publish(ev) })

	var closers []func() error
	fail := func(err error) (*App, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	store, err := cache.NewSQLiteCache(cfg.Cache.DBPath, secondsInt(cfg.Cache.DefaultTTLS), logger)
	if err != nil {
		return fail(fmt.Errorf("cache: %w", err))
	}
	closers = append(closers, store.Close)

	providers, err := buildProviders(cfg, logger)
	if err != nil {
		return fail(err)
	}
	data := datasource.NewManager(providers, store, managerConfig(cfg), logger)
	warmer := datasource.NewWarmer(data, cfg.Data.WarmerWorkers, logger)

	costs := costmodel.New(costsConfig(cfg))

	brk, err := buildBroker(cfg, costs, logger)
	if err != nil {
		return fail(err)
	}

	orderStore, err := order.NewSQLiteStore(cfg.Orders.StorePath, logger)
	if err != nil {
		return fail(fmt.Errorf("order store: %w", err))
	}
	closers = append(closers, orderStore.Close)

	alerts := alert.NewManager(logger)
	if cfg.Alerts.Telegram.Enabled {
		alerts.AddChannel(alert.NewTelegramChannel(
			string(cfg.Alerts.Telegram.BotToken), cfg.Alerts.Telegram.ChatID))
	}
	if cfg.Alerts.Slack.Enabled {
		alerts.AddChannel(alert.NewSlackChannel(string(cfg.Alerts.Slack.WebhookURL)))
	}
	streak := alert.NewStreakMonitor(alerts, rejectionStreakThreshold)

	var hub *liveserver.Hub
	if cfg.Monitor.Enabled {
		hub = liveserver.NewHub(logger)
	}

	breaker := risk.NewDrawdownBreaker(risk.BreakerConfig{
		MaxDrawdownPct: decimal.NewFromFloat(cfg.Risk.MaxDrawdownPct),
		Cooldown:       secondsInt(cfg.Risk.BreakerCooldownS),
	}, func(reason string) {
		alerts.Alert(context.Background(), alert.Critical,
			"drawdown breaker tripped", reason,
			map[string]string{"account": cfg.Engine.AccountID})
		if hub != nil {
			hub.Broadcast(liveserver.NewMessage(liveserver.TypeRiskStatus,
				liveserver.RiskFrame{Tripped: true, Reason: reason}))
		}
	}, logger)

	gate := risk.NewManager(riskConfig(cfg), breaker, logger)

	// The live ledger only marks positions to market; order sizing and
	// risk gating happen in the executor and order manager.
	ledger := portfolio.New(portfolio.Config{
		AccountID:      cfg.Engine.AccountID,
		InitialCapital: decimal.NewFromFloat(cfg.Engine.InitialCapital),
		MaxPositionPct: decimal.NewFromFloat(cfg.Risk.MaxPositionPct),
		OrderType:      core.OrderType(cfg.Engine.OrderType),
	}, nil, pub, nil, logger)

	strategies, err := buildStrategies(cfg, pub, logger)
	if err != nil {
		return fail(err)
	}

	exec := executor.New(executor.Config{
		AccountID:      cfg.Engine.AccountID,
		MaxPositionPct: decimal.NewFromFloat(cfg.Risk.MaxPositionPct),
		OrderType:      core.OrderType(cfg.Engine.OrderType),
	}, brk, pub, nil, logger)

	orders := order.NewManager(order.Config{
		AccountID:       cfg.Engine.AccountID,
		PollInterval:    seconds(cfg.Orders.PollIntervalS),
		OrdersPerSecond: cfg.Engine.MaxOrdersPerSecond,
		RateBurst:       cfg.Orders.RateBurst,
		SubmitRetry: retry.Policy{
			MaxAttempts:    cfg.Orders.SubmitMaxAttempts,
			InitialBackoff: millis(cfg.Orders.SubmitBackoffMs),
			MaxBackoff:     millis(cfg.Orders.SubmitMaxBackoffMs),
		},
	}, brk, orderStore, gate, costs, pub, nil, logger)

	deps := engine.Deps{
		Strategies: strategies,
		Ledger:     ledger,
		Executor:   exec,
		Submitter:  orders,
		Breaker:    breaker,
	}
	if !cfg.Engine.EnableTrading {
		logger.Warn("trading disabled, signals will be observed but never executed")
		deps.Executor = nil
	}

	eng = engine.New(engine.Config{
		Mode:           engine.ModeLive,
		QueueHighWater: cfg.Engine.QueueHighWater,
	}, deps, nil, logger)

	eng.AttachObserver(func(ev core.Event) {
		if ev.Type == core.EventOrder {
			streak.OnOrder(ev.Order)
		}
	})

	// Paper fills track the market: bars flowing through the engine double
	// as the mock broker's quote tape.
	if mock, ok := brk.(*broker.MockBroker); ok {
		eng.AttachObserver(func(ev core.Event) {
			if ev.Type == core.EventMarketData {
				mock.UpdateQuote(barQuote(ev.Bar))
			}
		})
	}

	feed := datasource.NewFeed(data, pub, watchlist(cfg), datasource.FeedConfig{
		PollInterval:      seconds(cfg.Feed.PollIntervalS),
		HeartbeatInterval: secondsInt(cfg.Engine.HeartbeatIntervalS),
		WebsocketURL:      cfg.Feed.WebsocketURL,
	}, logger)

	app := &App{
		Cfg:      cfg,
		Logger:   logger,
		Cache:    store,
		Data:     data,
		Warmer:   warmer,
		Costs:    costs,
		Broker:   brk,
		Store:    orderStore,
		Orders:   orders,
		Alerts:   alerts,
		Streak:   streak,
		Breaker:  breaker,
		Gate:     gate,
		Ledger:   ledger,
		Executor: exec,
		Engine:   eng,
		Feed:     feed,
		Live:     engine.NewLive(eng, feed, orders, logger),
		Hub:      hub,
	}

	if cfg.Monitor.Enabled {
		app.Monitor = liveserver.NewServer(hub, logger, liveserver.ServerConfig{
			Addr:           cfg.Monitor.Addr,
			AllowedOrigins: cfg.Monitor.AllowedOrigins,
			MaxConnections: cfg.Monitor.MaxConnections,
		})
		app.Broadcaster = liveserver.NewBroadcaster(hub, app.snapshot, 0)
		eng.AttachObserver(app.Broadcaster.OnEvent)
	}

	app.Health = health.NewManager(logger, secondsInt(cfg.Engine.HeartbeatIntervalS))
	app.registerProbes()
	if app.Monitor != nil {
		app.Monitor.SetHealth(func() (bool, interface{}) {
			st := app.Health.Status()
			return st.Healthy, st.Components
		})
	}

	if cfg.Telemetry.Enabled {
		app.Metrics = metrics.NewServer(cfg.Telemetry.MetricsPort, logger)
	}

	return app, nil
}

// snapshot renders the dashboard state frames pushed between events.
func (a *App) snapshot() []liveserver.Message {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msgs := make([]liveserver.Message, 0, 4)
	if acct, err := a.Broker.GetAccount(ctx); err == nil && acct != nil {
		msgs = append(msgs,
			liveserver.NewMessage(liveserver.TypeAccount, acct),
			liveserver.NewMessage(liveserver.TypeEquity, liveserver.EquityFrame{
				Timestamp:   time.Now(),
				TotalAssets: acct.TotalAssets,
				Cash:        acct.AvailableCash,
				StockValue:  acct.StockValue,
			}))
	}
	if positions, err := a.Broker.GetPositions(ctx); err == nil {
		msgs = append(msgs, liveserver.NewMessage(liveserver.TypePositions, positions))
	}
	msgs = append(msgs, liveserver.NewMessage(liveserver.TypeRiskStatus, liveserver.RiskFrame{
		Tripped: a.Breaker.IsTripped(),
		Reason:  a.Breaker.Reason(),
	}))
	return msgs
}

// registerProbes wires the component health checks the heartbeat loop and
// the /health endpoint report on.
func (a *App) registerProbes() {
	a.Health.Register("broker", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := a.Broker.GetAccount(ctx)
		return err
	})
	a.Health.Register("feed", func() error {
		// Quotes stop outside the session; staleness only counts
		// against the feed while the market is open.
		if !market.IsTradingTime(time.Now()) {
			return nil
		}
		age := a.Feed.LastQuoteAge()
		if age < 0 {
			return errors.New("no quotes received yet")
		}
		if age > feedStaleLimit {
			return fmt.Errorf("newest quote is %s old", age.Round(time.Second))
		}
		return nil
	})
	a.Health.Register("queue", func() error {
		if depth := a.Engine.Depth(); depth >= a.Cfg.Engine.QueueHighWater {
			return fmt.Errorf("backlog %d at high water %d", depth, a.Cfg.Engine.QueueHighWater)
		}
		return nil
	})
	a.Health.Register("cache", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := a.Cache.Stats(ctx)
		return err
	})
}

// Runners lists the long-lived components in start order. The Live runner
// owns engine shutdown ordering internally; everything else stops on
// context cancellation.
func (a *App) Runners() []Runner {
	runners := []Runner{a.Live, a.Health}
	if a.Metrics != nil {
		runners = append(runners, a.Metrics)
	}
	if a.Hub != nil {
		runners = append(runners, RunnerFunc(func(ctx context.Context) error {
			a.Hub.Run(ctx)
			return nil
		}))
	}
	if a.Monitor != nil {
		runners = append(runners, a.Monitor)
	}
	if a.Broadcaster != nil {
		runners = append(runners, a.Broadcaster)
	}
	return runners
}

// Run starts every runner under one signal-aware context and blocks until
// all of them return. The first failure cancels the rest.
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	a.Logger.Info("starting application", "runners", len(runners))
	for _, r := range runners {
		g.Go(func() error { return r.Run(ctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("application stopped with error", "error", err)
		return err
	}
	a.Logger.Info("application shut down gracefully")
	return nil
}

// Close releases held resources. Call after Run returns; alerts flush
// before telemetry tears their exporter down.
func (a *App) Close() error {
	a.Alerts.Flush()

	var errs []error
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("order store: %w", err))
	}
	if err := a.Cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("cache: %w", err))
	}
	if a.Telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.zap != nil {
		_ = a.zap.Sync()
	}
	return errors.Join(errs...)
}

// buildProviders constructs the data source fallback chain in configured
// order.
func buildProviders(cfg *Config, logger core.ILogger) ([]core.IDataSource, error) {
	pc := datasource.ProviderConfig{
		Timeout:    seconds(cfg.Data.TimeoutS),
		MaxRetries: cfg.Data.MaxRetries,
	}
	providers := make([]core.IDataSource, 0, len(cfg.Data.Providers))
	for _, name := range cfg.Data.Providers {
		switch name {
		case "sina":
			providers = append(providers, datasource.NewSinaSource(pc, logger))
		case "eastmoney":
			providers = append(providers, datasource.NewEastMoneySource(pc, logger))
		case "tencent":
			providers = append(providers, datasource.NewTencentSource(pc, logger))
		default:
			return nil, fmt.Errorf("unknown data provider %q", name)
		}
	}
	return providers, nil
}

// buildBroker selects the broker adapter. Only the paper broker ships
// today; a real gateway slots in here.
func buildBroker(cfg *Config, costs *costmodel.Model, logger core.ILogger) (core.IBroker, error) {
	switch cfg.Broker.Kind {
	case "mock":
		return broker.NewMockBroker(broker.Config{
			AccountID:      cfg.Engine.AccountID,
			InitialCapital: decimal.NewFromFloat(cfg.Engine.InitialCapital),
			FillDelay:      seconds(cfg.Broker.FillDelayS),
			SlippageRate:   decimal.NewFromFloat(cfg.Broker.SlippageRate),
			RejectionRate:  cfg.Broker.RejectionRate,
		}, costs, nil, logger), nil
	default:
		return nil, fmt.Errorf("unknown broker kind %q", cfg.Broker.Kind)
	}
}

// buildStrategies constructs every enabled strategy in name order. A
// per-strategy symbol list narrows what it sees; otherwise it trades the
// full watchlist.
func buildStrategies(cfg *Config, pub core.EventPublisher, logger core.ILogger) ([]core.IStrategy, error) {
	names := make([]string, 0, len(cfg.Strategies))
	for name, sc := range cfg.Strategies {
		if sc.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	strategies := make([]core.IStrategy, 0, len(names))
	for _, name := range names {
		sc := cfg.Strategies[name]
		s, err := strategy.New(name, strategy.Params(sc.Params), pub, logger)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", name, err)
		}
		strategies = append(strategies, strategy.NewFiltered(s, sc.Symbols))
	}
	return strategies, nil
}

// barQuote flattens a feed bar back into the quote shape the mock broker
// prices against.
func barQuote(b *core.Bar) *core.Quote {
	return &core.Quote{
		Symbol:    b.Symbol,
		Price:     b.Close,
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Volume:    b.Volume,
		PrevClose: b.PreClose,
		Timestamp: b.TradeDate,
	}
}

// watchlist unions the global symbols with every enabled strategy's
// override so the feed subscribes to everything any strategy trades.
func watchlist(cfg *Config) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(symbols []string) {
		for _, s := range symbols {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	add(cfg.Symbols)
	for _, sc := range cfg.Strategies {
		if sc.Enabled {
			add(sc.Symbols)
		}
	}
	sort.Strings(out)
	return out
}

func costsConfig(cfg *Config) costmodel.Config {
	return costmodel.Config{
		CommissionRate:  decimal.NewFromFloat(cfg.Costs.CommissionRate),
		MinCommission:   decimal.NewFromFloat(cfg.Costs.MinCommission),
		StampTaxRate:    decimal.NewFromFloat(cfg.Costs.StampTaxRate),
		TransferFeeRate: decimal.NewFromFloat(cfg.Costs.TransferFeeRate),
		ImpactRate:      decimal.NewFromFloat(cfg.Costs.MarketImpactRate),
	}
}

func riskConfig(cfg *Config) risk.Config {
	return risk.Config{
		MaxPositionPct:   decimal.NewFromFloat(cfg.Risk.MaxPositionPct),
		MaxTotalExposure: decimal.NewFromFloat(cfg.Risk.MaxTotalExposure),
		MaxOrderValue:    decimal.NewFromFloat(cfg.Risk.MaxOrderValue),
		MinOrderValue:    decimal.NewFromFloat(cfg.Risk.MinOrderValue),
	}
}

func managerConfig(cfg *Config) datasource.ManagerConfig {
	mc := datasource.DefaultManagerConfig()
	mc.SymbolInterval = seconds(cfg.Data.SymbolIntervalS)
	mc.GlobalInterval = millis(cfg.Data.GlobalIntervalMs)
	return mc
}

func seconds(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

func secondsInt(s int) time.Duration { return time.Duration(s) * time.Second }

func millis(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }
