package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"quant_trader/internal/core"
	"quant_trader/internal/costmodel"
	apperrors "quant_trader/pkg/errors"
	"quant_trader/pkg/retry"
	"quant_trader/pkg/telemetry"
)

// Config tunes the live order manager.
type Config struct {
	AccountID string
	// PollInterval is the broker status poll cadence per working order.
	PollInterval time.Duration
	// OrdersPerSecond throttles broker submissions across all callers.
	OrdersPerSecond float64
	RateBurst       int
	// SubmitRetry governs retries of transient broker placement failures.
	SubmitRetry retry.Policy
}

// DefaultConfig mirrors the shipped config file.
func DefaultConfig() Config {
	return Config{
		AccountID:       "paper",
		PollInterval:    time.Second,
		OrdersPerSecond: 10,
		RateBurst:       1,
		SubmitRetry: retry.Policy{
			MaxAttempts:    3,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
		},
	}
}

// Manager walks live orders from submission to a terminal state: it
// validates, risk-checks, rate-limits, places with retry, then polls the
// broker per order and republishes progress as Fill and Order events.
// Every transition is written through to the store before it is announced.
type Manager struct {
	cfg       Config
	broker    core.IBroker
	store     core.IOrderStore
	risk      core.IRiskGate
	costs     *costmodel.Model
	publisher core.EventPublisher
	logger    core.ILogger
	metrics   *telemetry.MetricsHolder
	clock     func() time.Time
	limiter   *rate.Limiter

	mu     sync.Mutex
	active map[string]*core.Order

	runCtx    context.Context
	runCancel context.CancelFunc
	monitors  sync.WaitGroup
}

// NewManager builds an order manager. clock may be nil for wall time.
func NewManager(cfg Config, broker core.IBroker, store core.IOrderStore,
	risk core.IRiskGate, costs *costmodel.Model, publisher core.EventPublisher,
	clock func() time.Time, logger core.ILogger) *Manager {

	if clock == nil {
		clock = time.Now
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.OrdersPerSecond <= 0 {
		cfg.OrdersPerSecond = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	if cfg.SubmitRetry.MaxAttempts <= 0 {
		cfg.SubmitRetry = DefaultConfig().SubmitRetry
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:       cfg,
		broker:    broker,
		store:     store,
		risk:      risk,
		costs:     costs,
		publisher: publisher,
		logger:    logger.WithField("component", "order_manager"),
		metrics:   telemetry.GetGlobalMetrics(),
		clock:     clock,
		limiter:   rate.NewLimiter(rate.Limit(cfg.OrdersPerSecond), cfg.RateBurst),
		active:    make(map[string]*core.Order),
		runCtx:    ctx,
		runCancel: cancel,
	}
}

// Start reloads non-terminal orders from the store and resumes their
// monitors. Orders that never reached the broker cannot be polled, so they
// are closed out instead of resumed.
func (m *Manager) Start(ctx context.Context) error {
	open, err := m.store.LoadOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("failed to load open orders: %w", err)
	}

	resumed := 0
	for _, o := range open {
		if o.BrokerOrderID == "" {
			m.closeOutUnsubmitted(ctx, o)
			continue
		}
		m.register(o)
		resumed++
	}
	if len(open) > 0 {
		m.logger.Info("order manager restored state", "open", len(open), "resumed", resumed)
	}
	return nil
}

// Stop halts all monitors and waits for them to drain. Working orders stay
// open at the broker and are picked up again by the next Start.
func (m *Manager) Stop() {
	m.runCancel()
	m.monitors.Wait()
}

// Submit drives a freshly created order through validation, the risk gate
// and broker placement. Rejections at any stage mark the order REJECTED
// with a reason, persist it and publish the snapshot; the returned error
// carries the matching sentinel.
func (m *Manager) Submit(ctx context.Context, o *core.Order) error {
	if o == nil {
		return fmt.Errorf("%w: nil order", apperrors.ErrInvalidOrder)
	}
	if o.Status == "" {
		o.Status = core.StatusCreated
	}
	if o.Status != core.StatusCreated {
		return fmt.Errorf("%w: order %s is %s, only new orders can be submitted",
			apperrors.ErrInvalidOrder, o.ID, o.Status)
	}
	if o.AccountID == "" {
		o.AccountID = m.cfg.AccountID
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = m.clock()
	}

	if err := o.Validate(); err != nil {
		m.reject(ctx, o, err.Error(), "validation")
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidOrder, err)
	}
	if err := Transition(o, core.StatusValidated, m.clock()); err != nil {
		return err
	}
	m.persist(ctx, o)
	m.publishOrder(o)

	if err := m.riskCheck(ctx, o); err != nil {
		return err
	}

	if err := m.limiter.Wait(ctx); err != nil {
		// Shutdown or caller timeout before the broker saw the order.
		if terr := Transition(o, core.StatusExpired, m.clock()); terr == nil {
			m.persist(ctx, o)
			m.publishOrder(o)
		}
		return fmt.Errorf("%w: %v", apperrors.ErrRateLimitExceeded, err)
	}

	start := m.clock()
	var brokerID string
	err := retry.Do(ctx, m.cfg.SubmitRetry, isTransientBrokerError, func() error {
		id, perr := m.broker.PlaceOrder(ctx, o)
		if perr != nil {
			return perr
		}
		brokerID = id
		return nil
	})
	if err != nil {
		reason := err.Error()
		kind := "broker"
		if errors.Is(err, apperrors.ErrBrokerConnection) {
			reason = "broker unreachable: " + err.Error()
		}
		m.reject(ctx, o, reason, kind)
		return err
	}

	o.BrokerOrderID = brokerID
	if err := Transition(o, core.StatusSubmitted, m.clock()); err != nil {
		return err
	}
	m.persist(ctx, o)
	m.publishOrder(o)

	if m.metrics != nil {
		if m.metrics.OrdersSubmittedTotal != nil {
			m.metrics.OrdersSubmittedTotal.Add(ctx, 1,
				metric.WithAttributes(attribute.String("side", string(o.Side))))
		}
		if m.metrics.OrderSubmitLatency != nil {
			m.metrics.OrderSubmitLatency.Record(ctx, m.clock().Sub(start).Seconds())
		}
	}
	m.logger.Info("order submitted",
		"order_id", o.ID, "broker_order_id", brokerID,
		"symbol", o.Symbol, "side", string(o.Side),
		"type", string(o.Type), "quantity", o.Quantity)

	m.register(o)
	return nil
}

// Cancel requests cancellation of a working order. Orders already terminal
// report no error so retries are idempotent; the final state still arrives
// through the monitor (a racing fill can beat the cancel).
func (m *Manager) Cancel(ctx context.Context, orderID string) error {
	m.mu.Lock()
	o, ok := m.active[orderID]
	if !ok {
		m.mu.Unlock()
		stored, err := m.store.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if stored.Status.IsTerminal() {
			return nil
		}
		return fmt.Errorf("%w: order %s is not managed", apperrors.ErrOrderNotFound, orderID)
	}
	if o.Status.IsTerminal() {
		m.mu.Unlock()
		return nil
	}
	if !CanTransition(o.Status, core.StatusCanceling) {
		m.mu.Unlock()
		return fmt.Errorf("%w: order %s is %s", apperrors.ErrNotCancelable, orderID, o.Status)
	}
	if err := Transition(o, core.StatusCanceling, m.clock()); err != nil {
		m.mu.Unlock()
		return err
	}
	snapshot := o.Clone()
	m.mu.Unlock()

	m.persist(ctx, snapshot)
	m.publishOrder(snapshot)

	if _, err := m.broker.CancelOrder(ctx, orderID); err != nil {
		m.logger.Warn("broker cancel failed, monitor keeps polling",
			"order_id", orderID, "error", err)
		return err
	}
	m.logger.Info("cancel requested", "order_id", orderID)
	return nil
}

// OpenOrders snapshots the currently managed orders.
func (m *Manager) OpenOrders() []*core.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*core.Order, 0, len(m.active))
	for _, o := range m.active {
		out = append(out, o.Clone())
	}
	return out
}

// CancelAll requests cancellation of every managed order and joins the
// failures. Used on operator-initiated flatten and shutdown.
func (m *Manager) CancelAll(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := m.Cancel(ctx, id); err != nil && !errors.Is(err, apperrors.ErrNotCancelable) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) register(o *core.Order) {
	m.mu.Lock()
	m.active[o.ID] = o
	m.mu.Unlock()

	m.monitors.Add(1)
	go m.monitor(o.ID)
}

// monitor polls the broker for one order until it reaches a terminal state
// or the manager stops.
func (m *Manager) monitor(orderID string) {
	defer m.monitors.Done()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.runCtx.Done():
			return
		case <-ticker.C:
		}
		if m.poll(orderID) {
			return
		}
	}
}

// poll reconciles one order against the broker snapshot. New fill quantity
// becomes a Fill event priced from the average-price delta; status moves
// follow the state machine so a stale broker read can never regress a
// cancel in flight. Returns true when monitoring should stop.
func (m *Manager) poll(orderID string) bool {
	snap, err := m.broker.GetOrderStatus(m.runCtx, orderID)
	if err != nil {
		if m.runCtx.Err() != nil {
			return true
		}
		m.logger.Warn("order status poll failed", "order_id", orderID, "error", err)
		return false
	}

	m.mu.Lock()
	o, ok := m.active[orderID]
	if !ok {
		m.mu.Unlock()
		return true
	}

	now := m.clock()
	prevStatus := o.Status
	var fill *core.Fill
	changed := false

	if snap.FilledQuantity > o.FilledQuantity {
		fill = m.trancheFill(o, snap, now)
		o.FilledQuantity = snap.FilledQuantity
		o.AvgFillPrice = snap.AvgFillPrice
		changed = true
	}
	if snap.Status != o.Status && CanTransition(o.Status, snap.Status) {
		if snap.RejectReason != "" {
			o.RejectReason = snap.RejectReason
		}
		if err := Transition(o, snap.Status, now); err == nil {
			changed = true
		}
	}

	terminal := o.Status.IsTerminal()
	if terminal {
		delete(m.active, orderID)
	}
	var snapshot *core.Order
	if changed {
		snapshot = o.Clone()
	}
	m.mu.Unlock()

	if !changed {
		return terminal
	}

	m.persist(m.runCtx, snapshot)
	if fill != nil {
		m.publishFill(fill)
	}
	m.publishOrder(snapshot)

	if m.metrics != nil && m.metrics.OrdersFilledTotal != nil &&
		snapshot.Status == core.StatusFilled && prevStatus != core.StatusFilled {
		m.metrics.OrdersFilledTotal.Add(context.Background(), 1)
	}

	if terminal {
		m.logger.Info("order closed",
			"order_id", orderID, "status", string(snapshot.Status),
			"filled", snapshot.FilledQuantity, "avg_price", snapshot.AvgFillPrice.String())
	}
	return terminal
}

// trancheFill derives the newly filled slice from the cumulative snapshot.
// The tranche price is whatever average-price movement accounts for the new
// quantity, so cumulative math stays exact even for multi-print fills.
func (m *Manager) trancheFill(o, snap *core.Order, now time.Time) *core.Fill {
	qty := snap.FilledQuantity - o.FilledQuantity
	prev := o.AvgFillPrice.Mul(decimal.NewFromInt(o.FilledQuantity))
	cum := snap.AvgFillPrice.Mul(decimal.NewFromInt(snap.FilledQuantity))
	price := cum.Sub(prev).Div(decimal.NewFromInt(qty))

	var commission decimal.Decimal
	if m.costs != nil {
		c := m.costs.Calculate(o.Symbol, o.Side, qty, price)
		commission = c.Commission.Add(c.StampTax).Add(c.TransferFee)
	}
	return &core.Fill{
		OrderID:    o.ID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Quantity:   qty,
		Price:      price,
		Commission: commission,
		Timestamp:  now,
	}
}

// riskCheck gathers the account context and runs the pre-trade gate.
func (m *Manager) riskCheck(ctx context.Context, o *core.Order) error {
	account, err := m.broker.GetAccount(ctx)
	if err != nil {
		m.reject(ctx, o, "account unavailable: "+err.Error(), "broker")
		return fmt.Errorf("failed to load account for risk check: %w", err)
	}

	var position *core.Position
	positions, err := m.broker.GetPositions(ctx)
	if err != nil {
		m.reject(ctx, o, "positions unavailable: "+err.Error(), "broker")
		return fmt.Errorf("failed to load positions for risk check: %w", err)
	}
	for _, p := range positions {
		if p.Symbol == o.Symbol {
			position = p
			break
		}
	}

	lastPrice := decimal.Zero
	if q, qerr := m.broker.GetQuote(ctx, o.Symbol); qerr == nil && q != nil {
		lastPrice = q.Price
	}

	if err := m.risk.Check(ctx, o, account, position, lastPrice); err != nil {
		m.reject(ctx, o, err.Error(), "risk")
		return err
	}
	return nil
}

// reject closes the order out with a reason, persists and announces it.
func (m *Manager) reject(ctx context.Context, o *core.Order, reason, kind string) {
	o.RejectReason = reason
	if err := Transition(o, core.StatusRejected, m.clock()); err != nil {
		m.logger.Error("order transition failed", "order_id", o.ID, "error", err)
		return
	}
	m.persist(ctx, o)
	m.publishOrder(o)

	if m.metrics != nil && m.metrics.OrdersRejectedTotal != nil {
		m.metrics.OrdersRejectedTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("kind", kind)))
	}
	m.logger.Warn("order rejected",
		"order_id", o.ID, "symbol", o.Symbol, "kind", kind, "reason", reason)
}

// closeOutUnsubmitted expires a restored order the broker never saw.
func (m *Manager) closeOutUnsubmitted(ctx context.Context, o *core.Order) {
	next := core.StatusExpired
	if o.Status == core.StatusCreated {
		o.RejectReason = "lost before submission"
		next = core.StatusRejected
	}
	if err := Transition(o, next, m.clock()); err != nil {
		m.logger.Error("order transition failed", "order_id", o.ID, "error", err)
		return
	}
	m.persist(ctx, o)
	m.publishOrder(o)
	m.logger.Warn("restored order was never submitted, closing out",
		"order_id", o.ID, "status", string(next))
}

func (m *Manager) persist(ctx context.Context, o *core.Order) {
	if err := m.store.SaveOrder(ctx, o); err != nil {
		m.logger.Error("failed to persist order", "order_id", o.ID, "error", err)
	}
}

func (m *Manager) publishOrder(o *core.Order) {
	if m.publisher != nil {
		m.publisher.Publish(core.NewOrderEvent(o.Clone()))
	}
}

func (m *Manager) publishFill(f *core.Fill) {
	if m.publisher != nil {
		m.publisher.Publish(core.NewFillEvent(f))
	}
	if m.metrics != nil && m.metrics.FillVolumeTotal != nil {
		notional := f.Price.Mul(decimal.NewFromInt(f.Quantity))
		m.metrics.FillVolumeTotal.Add(context.Background(), notional.InexactFloat64())
	}
}

func isTransientBrokerError(err error) bool {
	return errors.Is(err, apperrors.ErrBrokerConnection)
}
