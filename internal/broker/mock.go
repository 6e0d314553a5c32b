// Package broker hosts broker adapters. MockBroker is the in-process
// paper-trading adapter: it keeps its own cash and position ledger,
// fills orders asynchronously after a configurable delay with slippage,
// injects probabilistic rejections for failure-path testing, and locks
// same-day buys until the next trading day's open (T+1).
package broker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"quant_trader/internal/core"
	"quant_trader/internal/costmodel"
	"quant_trader/internal/market"
	apperrors "quant_trader/pkg/errors"
)

// Config tunes the mock broker.
type Config struct {
	AccountID      string
	InitialCapital decimal.Decimal
	// FillDelay simulates exchange latency between acceptance and fill.
	FillDelay time.Duration
	// SlippageRate shifts market fills against the taker: buys pay
	// quote*(1+rate), sells receive quote*(1-rate).
	SlippageRate decimal.Decimal
	// RejectionRate is the probability a placed order is rejected outright.
	RejectionRate float64
}

// DefaultConfig mirrors the shipped config file.
func DefaultConfig() Config {
	return Config{
		AccountID:      "paper",
		InitialCapital: decimal.NewFromInt(1_000_000),
		FillDelay:      100 * time.Millisecond,
		SlippageRate:   decimal.NewFromFloat(0.0001),
	}
}

// t1Lot tracks shares bought on one trading day, locked until the next
// trading day's session open.
type t1Lot struct {
	qty int64
	day time.Time // exchange-calendar date of the buy
}

// MockBroker implements core.IBroker against an internal ledger.
type MockBroker struct {
	cfg    Config
	costs  *costmodel.Model
	logger core.ILogger
	clock  func() time.Time

	mu        sync.Mutex
	connected bool
	cash      decimal.Decimal
	reserved  map[string]decimal.Decimal // open buy reservations by order id
	positions map[string]*core.Position
	locked    map[string]*t1Lot // T+1 lockbox by symbol
	orders    map[string]*core.Order
	scheduled map[string]bool // orders with a fill timer in flight
	quotes    map[string]*core.Quote
	subs      map[string]bool
	rng       func() float64
}

// NewMockBroker builds a paper broker. clock may be nil for wall time.
func NewMockBroker(cfg Config, costs *costmodel.Model, clock func() time.Time, logger core.ILogger) *MockBroker {
	if clock == nil {
		clock = time.Now
	}
	if cfg.AccountID == "" {
		cfg.AccountID = "paper"
	}
	return &MockBroker{
		cfg:       cfg,
		costs:     costs,
		logger:    logger.WithField("component", "mock_broker"),
		clock:     clock,
		cash:      cfg.InitialCapital,
		reserved:  make(map[string]decimal.Decimal),
		positions: make(map[string]*core.Position),
		locked:    make(map[string]*t1Lot),
		orders:    make(map[string]*core.Order),
		scheduled: make(map[string]bool),
		quotes:    make(map[string]*core.Quote),
		subs:      make(map[string]bool),
		rng:       rand.Float64,
	}
}

func (b *MockBroker) Name() string { return "mock" }

func (b *MockBroker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	b.logger.Info("mock broker connected", "account", b.cfg.AccountID)
	return nil
}

func (b *MockBroker) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	b.logger.Info("mock broker disconnected")
}

func (b *MockBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// PlaceOrder accepts an order into the broker book and schedules its fill.
// The returned broker id differs from the client id; later queries use the
// client id.
func (b *MockBroker) PlaceOrder(ctx context.Context, o *core.Order) (string, error) {
	if err := o.Validate(); err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return "", fmt.Errorf("%w: not connected", apperrors.ErrBrokerConnection)
	}
	if _, dup := b.orders[o.ID]; dup {
		return "", fmt.Errorf("%w: duplicate order id %s", apperrors.ErrOrderRejected, o.ID)
	}
	if b.cfg.RejectionRate > 0 && b.rng() < b.cfg.RejectionRate {
		return "", fmt.Errorf("%w: simulated broker rejection", apperrors.ErrOrderRejected)
	}

	now := b.clock()
	b.settleLocked(now)

	est := b.estimatePrice(o)
	switch o.Side {
	case core.SideBuy:
		need := est.Mul(decimal.NewFromInt(o.Quantity)).Mul(decimal.NewFromFloat(1.01))
		if need.GreaterThan(b.availableCashLocked()) {
			return "", fmt.Errorf("%w: insufficient cash for %s", apperrors.ErrOrderRejected, o.Symbol)
		}
		b.reserved[o.ID] = need
	case core.SideSell:
		if pos := b.positions[o.Symbol]; pos == nil || o.Quantity > pos.AvailableQuantity {
			return "", fmt.Errorf("%w: insufficient available quantity for %s", apperrors.ErrOrderRejected, o.Symbol)
		}
		// Reserve the shares so concurrent sells cannot double-spend them.
		b.positions[o.Symbol].AvailableQuantity -= o.Quantity
	}

	book := o.Clone()
	book.BrokerOrderID = uuid.NewString()
	book.Status = core.StatusAccepted
	ts := now
	book.SubmittedAt = &ts
	b.orders[o.ID] = book

	b.scheduleFillLocked(o.ID)
	b.logger.Debug("order accepted",
		"order_id", o.ID, "broker_order_id", book.BrokerOrderID,
		"symbol", o.Symbol, "side", string(o.Side), "quantity", o.Quantity)
	return book.BrokerOrderID, nil
}

// CancelOrder cancels a working order by client id. Canceling an already
// terminal order reports false without error, so retries are idempotent.
func (b *MockBroker) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return false, fmt.Errorf("%w: not connected", apperrors.ErrBrokerConnection)
	}
	o, ok := b.orders[orderID]
	if !ok {
		return false, fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, orderID)
	}
	if o.Status.IsTerminal() {
		return false, nil
	}

	o.Status = core.StatusCanceled
	ts := b.clock()
	o.CanceledAt = &ts
	b.releaseLocked(o)
	b.logger.Debug("order canceled", "order_id", orderID)
	return true, nil
}

// GetOrderStatus returns a snapshot of the broker-side order by client id.
func (b *MockBroker) GetOrderStatus(ctx context.Context, orderID string) (*core.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, orderID)
	}
	return o.Clone(), nil
}

func (b *MockBroker) GetPositions(ctx context.Context) ([]*core.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settleLocked(b.clock())

	out := make([]*core.Position, 0, len(b.positions))
	for _, p := range b.positions {
		if p.Quantity == 0 {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (b *MockBroker) GetAccount(ctx context.Context) (*core.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settleLocked(b.clock())

	stock := decimal.Zero
	for _, p := range b.positions {
		stock = stock.Add(p.MarketValue())
	}
	return &core.Account{
		AccountID:     b.cfg.AccountID,
		CashBalance:   b.cash,
		AvailableCash: b.availableCashLocked(),
		StockValue:    stock,
		TotalAssets:   b.cash.Add(stock),
		UpdatedAt:     b.clock(),
	}, nil
}

func (b *MockBroker) SubscribeQuotes(ctx context.Context, symbols []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range symbols {
		b.subs[s] = true
	}
	return nil
}

func (b *MockBroker) UnsubscribeQuotes(symbols []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range symbols {
		delete(b.subs, s)
	}
	return nil
}

func (b *MockBroker) GetQuote(ctx context.Context, symbol string) (*core.Quote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.quotes[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: no quote for %s", apperrors.ErrNoData, symbol)
	}
	cp := *q
	return &cp, nil
}

// UpdateQuote feeds a quote into the broker. The live wiring pumps feed
// quotes through here so paper fills track the market; crossed resting
// limit orders get their fill scheduled, and day orders left from earlier
// trading days expire.
func (b *MockBroker) UpdateQuote(q *core.Quote) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := *q
	b.quotes[q.Symbol] = &cp
	now := b.clock()
	b.settleLocked(now)

	for id, o := range b.orders {
		if o.Symbol != q.Symbol || o.Status.IsTerminal() || b.scheduled[id] {
			continue
		}
		if o.TimeInForce != core.TIFIOC && tradeDay(o.CreatedAt).Before(tradeDay(now)) {
			o.Status = core.StatusExpired
			ts := now
			o.CanceledAt = &ts
			b.releaseLocked(o)
			continue
		}
		if o.Type == core.OrderTypeLimit && !limitCrossed(o, q.Price) {
			continue
		}
		b.scheduleFillLocked(id)
	}
}

// scheduleFillLocked arms the fill timer for an order unless its limit
// price is not yet crossed. Callers hold the lock.
func (b *MockBroker) scheduleFillLocked(orderID string) {
	o := b.orders[orderID]
	if o == nil || o.Status.IsTerminal() || b.scheduled[orderID] {
		return
	}
	if o.Type == core.OrderTypeLimit {
		q := b.quotes[o.Symbol]
		if q == nil || !limitCrossed(o, q.Price) {
			return // rests until a crossing quote arrives
		}
	}
	b.scheduled[orderID] = true
	time.AfterFunc(b.cfg.FillDelay, func() { b.fill(orderID) })
}

// fill executes one order in full against the latest quote.
func (b *MockBroker) fill(orderID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.scheduled, orderID)

	o := b.orders[orderID]
	if o == nil || o.Status.IsTerminal() || !b.connected {
		return
	}
	now := b.clock()
	b.settleLocked(now)

	price, ok := b.fillPrice(o)
	if !ok {
		return // no quote yet; the next UpdateQuote reschedules
	}

	qty := o.RemainingQuantity()
	c := b.costs.Calculate(o.Symbol, o.Side, qty, price)
	friction := c.Commission.Add(c.StampTax).Add(c.TransferFee)
	notional := price.Mul(decimal.NewFromInt(qty))

	switch o.Side {
	case core.SideBuy:
		total := notional.Add(friction)
		delete(b.reserved, o.ID)
		if total.GreaterThan(b.cash) {
			o.Status = core.StatusRejected
			o.RejectReason = "insufficient cash at fill time"
			b.logger.Warn("fill rejected", "order_id", o.ID, "reason", o.RejectReason)
			return
		}
		b.cash = b.cash.Sub(total)
		b.applyBuyLocked(o.Symbol, qty, price, now)
	case core.SideSell:
		b.cash = b.cash.Add(notional.Sub(friction))
		b.applySellLocked(o.Symbol, qty, price, now)
	}

	o.FilledQuantity += qty
	o.AvgFillPrice = price
	o.Status = core.StatusFilled
	ts := now
	o.FilledAt = &ts
	b.logger.Debug("order filled",
		"order_id", o.ID, "symbol", o.Symbol, "side", string(o.Side),
		"quantity", qty, "price", price.String())
}

// fillPrice resolves the execution price: market orders take the quote
// shifted by slippage, limit orders fill at their limit once crossed.
func (b *MockBroker) fillPrice(o *core.Order) (decimal.Decimal, bool) {
	q := b.quotes[o.Symbol]
	if q == nil || !q.Price.IsPositive() {
		return decimal.Zero, false
	}
	if o.Type == core.OrderTypeLimit {
		if !limitCrossed(o, q.Price) {
			return decimal.Zero, false
		}
		return o.Price, true
	}
	slip := q.Price.Mul(b.cfg.SlippageRate)
	if o.Side == core.SideBuy {
		return q.Price.Add(slip), true
	}
	return q.Price.Sub(slip), true
}

func (b *MockBroker) applyBuyLocked(symbol string, qty int64, price decimal.Decimal, now time.Time) {
	pos := b.positions[symbol]
	if pos == nil {
		pos = &core.Position{AccountID: b.cfg.AccountID, Symbol: symbol}
		b.positions[symbol] = pos
	}
	prevNotional := pos.AvgCost.Mul(decimal.NewFromInt(pos.Quantity))
	pos.Quantity += qty
	pos.AvgCost = prevNotional.Add(price.Mul(decimal.NewFromInt(qty))).
		Div(decimal.NewFromInt(pos.Quantity))
	pos.LastPrice = price
	pos.UpdatedAt = now

	// Bought today, sellable tomorrow.
	day := tradeDay(now)
	lot := b.locked[symbol]
	if lot == nil || !lot.day.Equal(day) {
		if lot != nil && lot.qty > 0 {
			pos.AvailableQuantity += lot.qty
		}
		lot = &t1Lot{day: day}
		b.locked[symbol] = lot
	}
	lot.qty += qty
}

func (b *MockBroker) applySellLocked(symbol string, qty int64, price decimal.Decimal, now time.Time) {
	pos := b.positions[symbol]
	if pos == nil {
		return
	}
	// AvailableQuantity was already reduced when the sell was accepted.
	pos.Quantity -= qty
	pos.LastPrice = price
	pos.UpdatedAt = now
	if pos.Quantity == 0 {
		delete(b.positions, symbol)
		delete(b.locked, symbol)
	}
}

// settleLocked unlocks T+1 lots whose next trading day's session has
// opened. Callers hold the lock.
func (b *MockBroker) settleLocked(now time.Time) {
	for symbol, lot := range b.locked {
		if lot.qty == 0 {
			delete(b.locked, symbol)
			continue
		}
		unlockAt := market.SessionOpen(market.NextTradingDay(lot.day))
		if now.Before(unlockAt) {
			continue
		}
		if pos := b.positions[symbol]; pos != nil {
			pos.AvailableQuantity += lot.qty
		}
		delete(b.locked, symbol)
	}
}

// releaseLocked returns resources reserved by a no-longer-working order.
func (b *MockBroker) releaseLocked(o *core.Order) {
	delete(b.reserved, o.ID)
	if o.Side == core.SideSell {
		if pos := b.positions[o.Symbol]; pos != nil {
			pos.AvailableQuantity += o.RemainingQuantity()
		}
	}
}

func (b *MockBroker) availableCashLocked() decimal.Decimal {
	avail := b.cash
	for _, r := range b.reserved {
		avail = avail.Sub(r)
	}
	return avail
}

// estimatePrice values an order for the place-time cash check.
func (b *MockBroker) estimatePrice(o *core.Order) decimal.Decimal {
	if o.Price.IsPositive() {
		return o.Price
	}
	if q := b.quotes[o.Symbol]; q != nil && q.Price.IsPositive() {
		return q.Price
	}
	return decimal.NewFromInt(100)
}

func limitCrossed(o *core.Order, quote decimal.Decimal) bool {
	if o.Side == core.SideBuy {
		return quote.LessThanOrEqual(o.Price)
	}
	return quote.GreaterThanOrEqual(o.Price)
}

// tradeDay truncates a timestamp to its exchange-calendar date.
func tradeDay(t time.Time) time.Time {
	tz := market.ExchangeTZ()
	y, m, d := t.In(tz).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, tz)
}
