package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"quant_trader/internal/core"
	"quant_trader/pkg/telemetry"
)

// Mode selects the routing table: backtests execute against the market
// simulator, live runs hand signals to the executor and orders to the
// order manager.
type Mode string

const (
	ModeBacktest Mode = "backtest"
	ModeLive     Mode = "live"
)

const defaultQueueHighWater = 10000

// Ledger is the portfolio surface the engine routes to.
type Ledger interface {
	OnMarketData(ctx context.Context, bar *core.Bar)
	OnSignal(ctx context.Context, sig *core.Signal)
	OnFill(ctx context.Context, fill *core.Fill)
	Account() *core.Account
}

// Book is the backtest execution venue.
type Book interface {
	OnMarketData(ctx context.Context, bar *core.Bar)
	OnOrder(ctx context.Context, o *core.Order)
}

// SignalHandler turns signals into orders on the live path.
type SignalHandler interface {
	OnSignal(ctx context.Context, sig *core.Signal)
}

// OrderSubmitter hands freshly created orders to the broker pipeline.
type OrderSubmitter interface {
	Submit(ctx context.Context, o *core.Order) error
}

// EquityObserver is fed the mark-to-market equity after every bar and
// fill. The drawdown breaker implements it.
type EquityObserver interface {
	Observe(equity decimal.Decimal)
}

// Observer sees every event after dispatch, with Seq and Timestamp
// assigned. It runs on the dispatch goroutine and must not block.
type Observer func(ev core.Event)

// Config tunes the engine itself; routing targets arrive via Deps.
type Config struct {
	Mode Mode
	// QueueHighWater is the backlog depth that triggers a warning log.
	// The queue itself is unbounded; publishers are never blocked.
	QueueHighWater int
}

// Deps wires the routed components. Nil fields are skipped, so a paper
// setup without a breaker or a test without strategies stays valid.
type Deps struct {
	Strategies []core.IStrategy
	Ledger     Ledger
	Book       Book
	Executor   SignalHandler
	Submitter  OrderSubmitter
	Breaker    EquityObserver
}

// Engine owns the event queue and dispatches serially: handlers run one
// event at a time on the dispatch goroutine, so components never need
// internal ordering logic. Publish is safe from any goroutine.
type Engine struct {
	cfg    Config
	deps   Deps
	clock  func() time.Time
	logger core.ILogger

	metrics *telemetry.MetricsHolder
	tracer  trace.Tracer

	q         *queue
	seq       uint64
	last      time.Time
	sources   map[string]string // order ID -> originating strategy
	observers []Observer
}

// New builds an engine. clock may be nil for wall time; backtests inject
// a virtual clock so timestamps follow the simulated calendar.
func New(cfg Config, deps Deps, clock func() time.Time, logger core.ILogger) *Engine {
	if cfg.Mode == "" {
		cfg.Mode = ModeBacktest
	}
	if cfg.QueueHighWater <= 0 {
		cfg.QueueHighWater = defaultQueueHighWater
	}
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		cfg:     cfg,
		deps:    deps,
		clock:   clock,
		logger:  logger.WithField("component", "engine"),
		metrics: telemetry.GetGlobalMetrics(),
		tracer:  telemetry.GetTracer("engine"),
		q:       newQueue(),
		sources: make(map[string]string),
	}
}

// Publish enqueues an event for dispatch. It implements
// core.EventPublisher and never blocks.
func (e *Engine) Publish(ev core.Event) {
	depth := e.q.push(ev)
	if depth == e.cfg.QueueHighWater {
		e.logger.Warn("event queue backlog", "depth", depth, "type", string(ev.Type))
	}
	if e.metrics != nil {
		e.metrics.SetQueueDepth(int64(depth))
	}
}

// Depth reports the current queue backlog.
func (e *Engine) Depth() int { return e.q.depth() }

// AttachObserver registers a post-dispatch tap. Attach before the first
// Drain or Run call; registration is not synchronized.
func (e *Engine) AttachObserver(fn Observer) {
	e.observers = append(e.observers, fn)
}

// Drain dispatches queued events until the queue is empty and returns the
// number dispatched. Handlers may publish while draining; those events are
// processed in the same pass. Only one goroutine may drive dispatch.
func (e *Engine) Drain(ctx context.Context) int {
	n := 0
	for {
		ev, ok := e.q.pop()
		if !ok {
			return n
		}
		e.dispatch(ctx, ev)
		n++
		if ctx.Err() != nil {
			return n
		}
	}
}

// Run services the queue until ctx is canceled. The caller owns shutdown
// ordering: stop producers first, then call Drain to flush stragglers.
func (e *Engine) Run(ctx context.Context) {
	for {
		e.Drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-e.q.wake:
		}
	}
}

// dispatch stamps and routes one event. Seq is unique per run; Timestamp
// never decreases even if the wall clock steps back.
func (e *Engine) dispatch(ctx context.Context, ev core.Event) {
	e.seq++
	ev.Seq = e.seq
	now := e.clock()
	if now.Before(e.last) {
		now = e.last
	}
	e.last = now
	ev.Timestamp = now

	// Payloads carry their event time; stamp late so publishers that
	// left it zero still get an ordered timestamp.
	if ev.Type == core.EventSignal && ev.Signal != nil && ev.Signal.Timestamp.IsZero() {
		ev.Signal.Timestamp = now
	}

	if err := ev.Validate(); err != nil {
		e.logger.Error("dropping malformed event", "error", err)
		return
	}

	ctx, span := e.tracer.Start(ctx, "engine.dispatch",
		trace.WithAttributes(
			attribute.String("event.type", string(ev.Type)),
			attribute.String("symbol", ev.Symbol),
		))
	defer span.End()

	switch ev.Type {
	case core.EventMarketData:
		// Simulator first: resting orders meet the new bar before the
		// strategies can react to it.
		if e.cfg.Mode == ModeBacktest && e.deps.Book != nil {
			e.deps.Book.OnMarketData(ctx, ev.Bar)
		}
		if e.deps.Ledger != nil {
			e.deps.Ledger.OnMarketData(ctx, ev.Bar)
		}
		for _, s := range e.deps.Strategies {
			s.OnMarketData(ctx, ev.Bar)
		}
		e.observeEquity()

	case core.EventSignal:
		switch e.cfg.Mode {
		case ModeBacktest:
			if e.deps.Ledger != nil {
				e.deps.Ledger.OnSignal(ctx, ev.Signal)
			}
		case ModeLive:
			if e.deps.Executor != nil {
				e.deps.Executor.OnSignal(ctx, ev.Signal)
			}
		}

	case core.EventOrder:
		e.trackSource(ev.Order)
		switch {
		case e.cfg.Mode == ModeBacktest && e.deps.Book != nil:
			e.deps.Book.OnOrder(ctx, ev.Order)
		case e.cfg.Mode == ModeLive && e.deps.Submitter != nil &&
			ev.Order.Status == core.StatusCreated:
			// The manager owns its copy; the event snapshot stays
			// immutable for observers.
			if err := e.deps.Submitter.Submit(ctx, ev.Order.Clone()); err != nil {
				e.logger.Error("order submit failed",
					"order_id", ev.Order.ID, "symbol", ev.Order.Symbol, "error", err)
			}
		}
		if ev.Order.Status.IsTerminal() {
			delete(e.sources, ev.Order.ID)
		}

	case core.EventFill:
		if e.deps.Ledger != nil {
			e.deps.Ledger.OnFill(ctx, ev.Fill)
		}
		if src := e.sources[ev.Fill.OrderID]; src != "" {
			for _, s := range e.deps.Strategies {
				if s.Name() == src {
					s.OnFill(ctx, ev.Fill)
					break
				}
			}
		}
		e.observeEquity()
	}

	if e.metrics != nil {
		if e.metrics.EventsProcessedTotal != nil {
			e.metrics.EventsProcessedTotal.Add(ctx, 1,
				metric.WithAttributes(attribute.String("type", string(ev.Type))))
		}
		e.metrics.SetQueueDepth(int64(e.q.depth()))
	}

	for _, fn := range e.observers {
		fn(ev)
	}
}

// trackSource remembers which strategy created an order so its fills can
// be routed back. Fills always precede the terminal order snapshot, so
// the terminal cleanup in dispatch cannot orphan a fill.
func (e *Engine) trackSource(o *core.Order) {
	if o == nil || o.ID == "" {
		return
	}
	if src := o.Metadata["source"]; src != "" {
		if _, seen := e.sources[o.ID]; !seen {
			e.sources[o.ID] = src
		}
	}
}

func (e *Engine) observeEquity() {
	if e.deps.Breaker == nil || e.deps.Ledger == nil {
		return
	}
	if acct := e.deps.Ledger.Account(); acct != nil {
		e.deps.Breaker.Observe(acct.TotalAssets)
	}
}
