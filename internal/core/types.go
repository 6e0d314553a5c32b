// Package core defines the domain types and capability interfaces shared by
// the trading engine, strategies, portfolio, risk and broker layers.
package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BoardLot is the minimum tradable unit for A-share equities and ETFs.
const BoardLot = 100

// Side is the direction of an order or signal leg.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType distinguishes market and limit orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// TimeInForce controls how long an order rests.
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFIOC TimeInForce = "IOC"
)

// OrderStatus is the order state machine value.
//
// CREATED → VALIDATED → SUBMITTED → ACCEPTED → PARTIALLY_FILLED → FILLED
// with REJECTED reachable from VALIDATED/SUBMITTED, CANCELING → CANCELED
// from the cancelable states. VALIDATED is the resting "new" state: the order has
// passed validation but has not been acknowledged (in backtests it rests in
// this state until the simulator fills it).
type OrderStatus string

const (
	StatusCreated         OrderStatus = "CREATED"
	StatusValidated       OrderStatus = "VALIDATED"
	StatusSubmitted       OrderStatus = "SUBMITTED"
	StatusAccepted        OrderStatus = "ACCEPTED"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceling       OrderStatus = "CANCELING"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether no further transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// IsCancelable reports whether a cancel request is accepted in this state.
// SUBMITTED is excluded: the order is in flight to the broker and there is
// no exchange identity to cancel against until the broker acknowledges it.
func (s OrderStatus) IsCancelable() bool {
	switch s {
	case StatusValidated, StatusAccepted, StatusPartiallyFilled:
		return true
	}
	return false
}

// SignalKind is the direction a strategy recommends.
type SignalKind string

const (
	SignalBuy  SignalKind = "BUY"
	SignalSell SignalKind = "SELL"
	SignalHold SignalKind = "HOLD"
)

// Bar is one OHLCV record for a symbol at a given frequency (daily unless
// stated). PreClose is required for any price-limit computation.
type Bar struct {
	Symbol     string          `json:"symbol"`
	TradeDate  time.Time       `json:"trade_date"`
	Frequency  string          `json:"frequency"`
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
	Volume     int64           `json:"volume"`
	Amount     decimal.Decimal `json:"amount"`
	PreClose   decimal.Decimal `json:"pre_close"`
	AdjustType string          `json:"adjust_type"`
}

// Validate checks the OHLCV invariants.
func (b *Bar) Validate() error {
	if b.Symbol == "" {
		return fmt.Errorf("bar: empty symbol")
	}
	if b.Low.GreaterThan(b.Open) || b.Low.GreaterThan(b.Close) ||
		b.High.LessThan(b.Open) || b.High.LessThan(b.Close) {
		return fmt.Errorf("bar %s %s: open/close outside [low, high]", b.Symbol, b.TradeDate.Format("2006-01-02"))
	}
	if b.Volume < 0 {
		return fmt.Errorf("bar %s %s: negative volume", b.Symbol, b.TradeDate.Format("2006-01-02"))
	}
	return nil
}

// Quote is the latest-trade snapshot for a symbol. Last writer wins.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Volume    int64           `json:"volume"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Open      decimal.Decimal `json:"open"`
	PrevClose decimal.Decimal `json:"prev_close"`
	Timestamp time.Time       `json:"timestamp"`
}

// Signal is a strategy recommendation. Strength scales position sizing and
// must lie in [0, 1].
type Signal struct {
	Symbol    string            `json:"symbol"`
	Kind      SignalKind        `json:"kind"`
	Strength  float64           `json:"strength"`
	Source    string            `json:"source"`
	Timestamp time.Time         `json:"timestamp"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// Order is the unit of execution. Created by Portfolio/SignalExecutor,
// owned by OrderManager until terminal, then archived. Components outside
// the owner only ever see snapshots (Clone) carried by events.
type Order struct {
	ID             string            `json:"id"`
	BrokerOrderID  string            `json:"broker_order_id,omitempty"`
	AccountID      string            `json:"account_id"`
	Symbol         string            `json:"symbol"`
	Side           Side              `json:"side"`
	Type           OrderType         `json:"type"`
	Quantity       int64             `json:"quantity"`
	Price          decimal.Decimal   `json:"price"`
	TimeInForce    TimeInForce       `json:"time_in_force"`
	Status         OrderStatus       `json:"status"`
	FilledQuantity int64             `json:"filled_quantity"`
	AvgFillPrice   decimal.Decimal   `json:"avg_fill_price"`
	RejectReason   string            `json:"reject_reason,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	SubmittedAt    *time.Time        `json:"submitted_at,omitempty"`
	FilledAt       *time.Time        `json:"filled_at,omitempty"`
	CanceledAt     *time.Time        `json:"canceled_at,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Validate checks the order invariants from the data model: positive
// board-lot quantity, a price on limit orders, side and type well formed.
func (o *Order) Validate() error {
	if o.Symbol == "" {
		return fmt.Errorf("order %s: empty symbol", o.ID)
	}
	if o.Side != SideBuy && o.Side != SideSell {
		return fmt.Errorf("order %s: invalid side %q", o.ID, o.Side)
	}
	if o.Type != OrderTypeMarket && o.Type != OrderTypeLimit {
		return fmt.Errorf("order %s: invalid type %q", o.ID, o.Type)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("order %s: quantity %d must be positive", o.ID, o.Quantity)
	}
	if o.Quantity%BoardLot != 0 {
		return fmt.Errorf("order %s: quantity %d not a multiple of board lot %d", o.ID, o.Quantity, BoardLot)
	}
	if o.Type == OrderTypeLimit && !o.Price.IsPositive() {
		return fmt.Errorf("order %s: limit order requires a positive price", o.ID)
	}
	return nil
}

// RemainingQuantity is the unfilled part of the order.
func (o *Order) RemainingQuantity() int64 {
	return o.Quantity - o.FilledQuantity
}

// Notional is quantity × price. For market orders price may be zero; callers
// substitute a reference price first.
func (o *Order) Notional() decimal.Decimal {
	return o.Price.Mul(decimal.NewFromInt(o.Quantity))
}

// Clone returns an immutable snapshot safe to hand to other components.
func (o *Order) Clone() *Order {
	c := *o
	if o.SubmittedAt != nil {
		t := *o.SubmittedAt
		c.SubmittedAt = &t
	}
	if o.FilledAt != nil {
		t := *o.FilledAt
		c.FilledAt = &t
	}
	if o.CanceledAt != nil {
		t := *o.CanceledAt
		c.CanceledAt = &t
	}
	if o.Metadata != nil {
		c.Metadata = make(map[string]string, len(o.Metadata))
		for k, v := range o.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Fill is a (possibly partial) execution. Side is derived from the parent
// order by the emitter so consumers do not need an order lookup.
type Fill struct {
	OrderID    string          `json:"order_id"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Quantity   int64           `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Commission decimal.Decimal `json:"commission"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Position is the per-(account, symbol) holding. AvailableQuantity is the
// T+1 lockbox: buys on day D raise Quantity immediately but only become
// available at the next session open.
type Position struct {
	AccountID         string          `json:"account_id"`
	Symbol            string          `json:"symbol"`
	Quantity          int64           `json:"quantity"`
	AvailableQuantity int64           `json:"available_quantity"`
	AvgCost           decimal.Decimal `json:"avg_cost"`
	LastPrice         decimal.Decimal `json:"last_price"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// MarketValue is quantity × last price.
func (p *Position) MarketValue() decimal.Decimal {
	return p.LastPrice.Mul(decimal.NewFromInt(p.Quantity))
}

// UnrealizedPnL is (last − avg cost) × quantity.
func (p *Position) UnrealizedPnL() decimal.Decimal {
	return p.LastPrice.Sub(p.AvgCost).Mul(decimal.NewFromInt(p.Quantity))
}

// Account is the cash side of the ledger. AvailableCash excludes cash
// reserved for unfilled buy orders.
type Account struct {
	AccountID     string          `json:"account_id"`
	CashBalance   decimal.Decimal `json:"cash_balance"`
	AvailableCash decimal.Decimal `json:"available_cash"`
	StockValue    decimal.Decimal `json:"stock_value"`
	TotalAssets   decimal.Decimal `json:"total_assets"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// CompanyInfo is the cached read-through company record from a data source.
type CompanyInfo struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Industry string `json:"industry,omitempty"`
	Market   string `json:"market,omitempty"`
	ListDate string `json:"list_date,omitempty"`
}

// CacheStats summarizes the persistent cache contents.
type CacheStats struct {
	TotalEntries   int64  `json:"total_entries"`
	ExpiredEntries int64  `json:"expired_entries"`
	DBSizeBytes    int64  `json:"db_size_bytes"`
	DBPath         string `json:"db_path"`
}

// InvalidateFilter selects cache entries for bulk invalidation. Fields are
// AND-combined; an all-empty filter matches nothing.
type InvalidateFilter struct {
	Pattern  string // SQL LIKE pattern on the key
	Symbol   string
	DataType string
}
