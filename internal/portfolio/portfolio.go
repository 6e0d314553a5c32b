// Package portfolio keeps the trading ledger: cash, positions with T+1
// availability, the equity curve and the trade tape. In backtests it also
// turns strategy signals into sized orders; live runs route signals through
// the executor instead and use the portfolio as a mirror of record.
package portfolio

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"quant_trader/internal/core"
	"quant_trader/internal/market"
	"quant_trader/pkg/telemetry"
	"quant_trader/pkg/tradingutils"
)

// Config tunes ledger behavior.
type Config struct {
	AccountID      string
	InitialCapital decimal.Decimal
	// MaxPositionPct bounds a single buy: the budget for one signal is
	// available cash × MaxPositionPct × signal strength.
	MaxPositionPct decimal.Decimal
	// OrderType is the order flavor built from signals, MARKET by default.
	OrderType core.OrderType
}

// DefaultConfig mirrors the shipped config file.
func DefaultConfig() Config {
	return Config{
		AccountID:      "paper",
		InitialCapital: decimal.NewFromInt(1_000_000),
		MaxPositionPct: decimal.NewFromFloat(0.10),
		OrderType:      core.OrderTypeMarket,
	}
}

// EquitySample is one mark-to-market point on the equity curve.
type EquitySample struct {
	Timestamp  time.Time       `json:"timestamp"`
	TotalValue decimal.Decimal `json:"total_value"`
	Cash       decimal.Decimal `json:"cash"`
	Holdings   decimal.Decimal `json:"holdings"`
}

// Trade is one executed fill on the trade tape. RealizedPnL is set on sells
// only, net of the sell-side costs.
type Trade struct {
	OrderID     string          `json:"order_id"`
	Symbol      string          `json:"symbol"`
	Side        core.Side       `json:"side"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Commission  decimal.Decimal `json:"commission"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Portfolio is safe for use from the engine goroutine plus readers.
type Portfolio struct {
	cfg       Config
	risk      core.IRiskGate
	publisher core.EventPublisher
	logger    core.ILogger
	metrics   *telemetry.MetricsHolder
	clock     func() time.Time

	mu        sync.Mutex
	cash      decimal.Decimal
	positions map[string]*core.Position
	prices    map[string]decimal.Decimal
	pendingT1 map[string]int64 // shares bought during the current trading day
	curDay    time.Time        // exchange date the ledger currently trades in
	lastTS    time.Time        // last equity sample timestamp, for monotonicity

	equity []EquitySample
	trades []Trade
}

// New builds a portfolio. risk may be nil to disable the pre-trade gate
// (the live path gates inside the order manager instead); clock may be nil
// for wall time.
func New(cfg Config, risk core.IRiskGate, publisher core.EventPublisher,
	clock func() time.Time, logger core.ILogger) *Portfolio {

	if clock == nil {
		clock = time.Now
	}
	if cfg.AccountID == "" {
		cfg.AccountID = "paper"
	}
	if !cfg.InitialCapital.IsPositive() {
		cfg.InitialCapital = decimal.NewFromInt(1_000_000)
	}
	if !cfg.MaxPositionPct.IsPositive() {
		cfg.MaxPositionPct = decimal.NewFromFloat(0.10)
	}
	if cfg.OrderType == "" {
		cfg.OrderType = core.OrderTypeMarket
	}
	return &Portfolio{
		cfg:       cfg,
		risk:      risk,
		publisher: publisher,
		logger:    logger.WithField("component", "portfolio"),
		metrics:   telemetry.GetGlobalMetrics(),
		clock:     clock,
		cash:      cfg.InitialCapital,
		positions: make(map[string]*core.Position),
		prices:    make(map[string]decimal.Decimal),
		pendingT1: make(map[string]int64),
	}
}

// OnMarketData marks positions to the bar close, rolls the T+1 lockbox when
// the bar opens a new trading day, and appends exactly one equity sample.
func (p *Portfolio) OnMarketData(ctx context.Context, bar *core.Bar) {
	if bar == nil || !bar.Close.IsPositive() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	day := exchangeDay(bar.TradeDate)
	if p.curDay.IsZero() {
		p.curDay = day
	} else if day.After(p.curDay) {
		p.unlockPendingLocked()
		p.curDay = day
	}

	p.prices[bar.Symbol] = bar.Close
	if pos, ok := p.positions[bar.Symbol]; ok {
		pos.LastPrice = bar.Close
		pos.UpdatedAt = bar.TradeDate
	}

	ts := bar.TradeDate
	if ts.IsZero() {
		ts = p.clock()
	}
	if ts.Before(p.lastTS) {
		ts = p.lastTS
	}
	p.lastTS = ts

	holdings := p.holdingsLocked()
	total := p.cash.Add(holdings)
	p.equity = append(p.equity, EquitySample{
		Timestamp:  ts,
		TotalValue: total,
		Cash:       p.cash,
		Holdings:   holdings,
	})

	if p.metrics != nil {
		p.metrics.SetEquity(p.cfg.AccountID, total.InexactFloat64())
		if pos, ok := p.positions[bar.Symbol]; ok {
			p.metrics.SetPositionSize(bar.Symbol, float64(pos.Quantity))
			p.metrics.SetUnrealizedPnL(bar.Symbol, pos.UnrealizedPnL().InexactFloat64())
		}
	}
}

// OnSignal sizes a signal into an order, runs the pre-trade gate and
// publishes the order for the simulator to execute. Undersized and unpriced
// signals are dropped with a log line; rejected orders are published in
// REJECTED state so strategies observe them.
func (p *Portfolio) OnSignal(ctx context.Context, sig *core.Signal) {
	if sig == nil || sig.Kind == core.SignalHold {
		return
	}
	if sig.Strength <= 0 {
		return
	}
	strength := sig.Strength
	if strength > 1 {
		strength = 1
	}

	p.mu.Lock()
	price, havePrice := p.prices[sig.Symbol]
	if !havePrice || !price.IsPositive() {
		p.mu.Unlock()
		p.logger.Warn("signal dropped, no reference price", "symbol", sig.Symbol, "kind", string(sig.Kind))
		return
	}

	var (
		qty  int64
		side core.Side
	)
	switch sig.Kind {
	case core.SignalBuy:
		side = core.SideBuy
		budget := p.cash.
			Mul(p.cfg.MaxPositionPct).
			Mul(decimal.NewFromFloat(strength))
		qty = tradingutils.SharesForBudget(budget, price, core.BoardLot)
	case core.SignalSell:
		side = core.SideSell
		pos := p.positions[sig.Symbol]
		if pos == nil {
			p.mu.Unlock()
			p.logger.Debug("sell signal without position", "symbol", sig.Symbol)
			return
		}
		held := decimal.NewFromInt(pos.AvailableQuantity).
			Mul(decimal.NewFromFloat(strength)).
			IntPart()
		qty = tradingutils.FloorToLot(held, core.BoardLot)
	default:
		p.mu.Unlock()
		return
	}

	if qty < core.BoardLot {
		p.mu.Unlock()
		p.logger.Debug("signal dropped, sized below one lot",
			"symbol", sig.Symbol, "kind", string(sig.Kind), "strength", sig.Strength)
		return
	}

	ts := sig.Timestamp
	if ts.IsZero() {
		ts = p.clock()
	}
	o := &core.Order{
		ID:          uuid.NewString(),
		AccountID:   p.cfg.AccountID,
		Symbol:      sig.Symbol,
		Side:        side,
		Type:        p.cfg.OrderType,
		Quantity:    qty,
		TimeInForce: core.TIFDay,
		Status:      core.StatusCreated,
		CreatedAt:   ts,
	}
	if o.Type == core.OrderTypeLimit {
		o.Price = price
	}
	if sig.Source != "" {
		o.Metadata = map[string]string{"source": sig.Source}
	}

	account := p.accountLocked()
	position := p.positions[sig.Symbol]
	p.mu.Unlock()

	if p.risk != nil {
		if err := p.risk.Check(ctx, o, account, position, price); err != nil {
			o.RejectReason = err.Error()
			o.Status = core.StatusRejected
			p.publish(core.NewOrderEvent(o))
			p.logger.Warn("order rejected by risk gate",
				"symbol", o.Symbol, "side", string(o.Side), "quantity", o.Quantity, "reason", err.Error())
			return
		}
	}

	p.publish(core.NewOrderEvent(o))
	p.logger.Info("order created from signal",
		"order_id", o.ID, "symbol", o.Symbol, "side", string(o.Side),
		"quantity", o.Quantity, "source", sig.Source, "strength", sig.Strength)
}

// OnFill applies an execution to the ledger: cash, weighted average cost,
// the T+1 lockbox and the trade tape.
func (p *Portfolio) OnFill(ctx context.Context, fill *core.Fill) {
	if fill == nil || fill.Quantity <= 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	notional := fill.Price.Mul(decimal.NewFromInt(fill.Quantity))
	trade := Trade{
		OrderID:    fill.OrderID,
		Symbol:     fill.Symbol,
		Side:       fill.Side,
		Quantity:   fill.Quantity,
		Price:      fill.Price,
		Commission: fill.Commission,
		Timestamp:  fill.Timestamp,
	}

	switch fill.Side {
	case core.SideBuy:
		p.cash = p.cash.Sub(notional).Sub(fill.Commission)
		pos := p.positions[fill.Symbol]
		if pos == nil {
			pos = &core.Position{AccountID: p.cfg.AccountID, Symbol: fill.Symbol}
			p.positions[fill.Symbol] = pos
		}
		prevCost := pos.AvgCost.Mul(decimal.NewFromInt(pos.Quantity))
		pos.Quantity += fill.Quantity
		pos.AvgCost = prevCost.Add(notional).Add(fill.Commission).
			Div(decimal.NewFromInt(pos.Quantity))
		pos.LastPrice = fill.Price
		pos.UpdatedAt = fill.Timestamp
		p.pendingT1[fill.Symbol] += fill.Quantity

	case core.SideSell:
		pos := p.positions[fill.Symbol]
		if pos == nil || pos.Quantity < fill.Quantity {
			p.logger.Error("sell fill exceeds held quantity, ledger out of sync",
				"symbol", fill.Symbol, "fill_quantity", fill.Quantity)
			return
		}
		p.cash = p.cash.Add(notional).Sub(fill.Commission)
		trade.RealizedPnL = fill.Price.Sub(pos.AvgCost).
			Mul(decimal.NewFromInt(fill.Quantity)).
			Sub(fill.Commission)
		pos.Quantity -= fill.Quantity
		if pos.AvailableQuantity >= fill.Quantity {
			pos.AvailableQuantity -= fill.Quantity
		} else {
			pos.AvailableQuantity = 0
		}
		pos.LastPrice = fill.Price
		pos.UpdatedAt = fill.Timestamp
		if pos.Quantity == 0 {
			delete(p.positions, fill.Symbol)
			delete(p.pendingT1, fill.Symbol)
		}
	default:
		return
	}

	p.prices[fill.Symbol] = fill.Price
	p.trades = append(p.trades, trade)
	p.logger.Debug("fill applied",
		"order_id", fill.OrderID, "symbol", fill.Symbol, "side", string(fill.Side),
		"quantity", fill.Quantity, "price", fill.Price.String(), "cash", p.cash.String())
}

// Account snapshots the cash side of the ledger.
func (p *Portfolio) Account() *core.Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accountLocked()
}

// Positions snapshots holdings sorted by symbol.
func (p *Portfolio) Positions() []*core.Position {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*core.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		cp := *pos
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Position snapshots one holding, nil when flat.
func (p *Portfolio) Position(symbol string) *core.Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return nil
	}
	cp := *pos
	return &cp
}

// EquityCurve returns a copy of the mark-to-market samples.
func (p *Portfolio) EquityCurve() []EquitySample {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EquitySample, len(p.equity))
	copy(out, p.equity)
	return out
}

// Trades returns a copy of the trade tape.
func (p *Portfolio) Trades() []Trade {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Trade, len(p.trades))
	copy(out, p.trades)
	return out
}

// Cash returns the current cash balance.
func (p *Portfolio) Cash() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash
}

func (p *Portfolio) accountLocked() *core.Account {
	holdings := p.holdingsLocked()
	return &core.Account{
		AccountID:     p.cfg.AccountID,
		CashBalance:   p.cash,
		AvailableCash: p.cash,
		StockValue:    holdings,
		TotalAssets:   p.cash.Add(holdings),
		UpdatedAt:     p.clock(),
	}
}

func (p *Portfolio) holdingsLocked() decimal.Decimal {
	total := decimal.Zero
	for _, pos := range p.positions {
		total = total.Add(pos.MarketValue())
	}
	return total
}

// unlockPendingLocked moves yesterday's buys into the sellable balance.
func (p *Portfolio) unlockPendingLocked() {
	for symbol, qty := range p.pendingT1 {
		if pos, ok := p.positions[symbol]; ok && qty > 0 {
			pos.AvailableQuantity += qty
		}
		delete(p.pendingT1, symbol)
	}
}

func (p *Portfolio) publish(e core.Event) {
	if p.publisher != nil {
		p.publisher.Publish(e)
	}
}

// exchangeDay truncates a timestamp to its exchange-calendar date.
func exchangeDay(t time.Time) time.Time {
	tz := market.ExchangeTZ()
	y, m, d := t.In(tz).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, tz)
}
