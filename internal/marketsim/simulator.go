// Package marketsim fills orders against bars under A-share market
// microstructure: trading sessions, daily price limits, board lots,
// participation-capped liquidity and a configurable impact model. The
// simulator keeps a book of resting orders per symbol so unfilled day
// orders can retry on later bars and expire on day change.
package marketsim

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"quant_trader/internal/core"
	"quant_trader/internal/costmodel"
	"quant_trader/internal/market"
	"quant_trader/pkg/telemetry"
)

// Impact model names accepted by Config.ImpactModel.
const (
	ImpactLinear = "linear"
	ImpactSqrt   = "sqrt"
)

// Config tunes the fill algorithm.
type Config struct {
	// IgnoreTradingHours skips the session check. Intended for tests;
	// the live engine forces it off.
	IgnoreTradingHours bool
	// ImpactModel selects how order size moves the fill price.
	ImpactModel string
	// BaseImpact scales the impact model. 0.1 means a market order for
	// 100% of the bar volume would move price by 10% under the linear model.
	BaseImpact decimal.Decimal
	// MaxParticipationRate caps one order's fill at this share of bar volume.
	MaxParticipationRate decimal.Decimal
}

// DefaultConfig mirrors the shipped config file.
func DefaultConfig() Config {
	return Config{
		ImpactModel:          ImpactLinear,
		BaseImpact:           decimal.NewFromFloat(0.001),
		MaxParticipationRate: decimal.NewFromFloat(0.1),
	}
}

// No-fill reasons carried on Verdict.
const (
	ReasonMarketClosed   = "outside trading session"
	ReasonSuspended      = "symbol suspended or bar missing"
	ReasonLimitUp        = "limit-up: no sellers for market buy"
	ReasonLimitDown      = "limit-down: no buyers for market sell"
	ReasonOutsideBand    = "limit price outside daily price band"
	ReasonNoCross        = "limit price not reached by bar range"
	ReasonNoLiquidity    = "participation cap leaves no fillable lot"
	ReasonInvalidSymbol  = "unparseable symbol"
	ReasonNothingToFill  = "order has no remaining quantity"
	ReasonUnknownOrdType = "unsupported order type"
)

// Verdict is the simulator's decision for one order against one bar.
// Fill is nil when the order does not fill this step; Reason says why.
type Verdict struct {
	Fill   *core.Fill
	Reason string
}

// Filled reports whether the verdict produced a fill.
func (v Verdict) Filled() bool { return v.Fill != nil }

// Simulator evaluates orders against bars and, when wired as the backtest
// order handler, rests unfilled day orders and publishes fills and order
// snapshots back onto the event bus.
type Simulator struct {
	cfg       Config
	costs     *costmodel.Model
	publisher core.EventPublisher
	clock     func() time.Time
	logger    core.ILogger
	metrics   *telemetry.MetricsHolder

	mu      sync.Mutex
	bars    map[string]*core.Bar     // latest bar per symbol
	resting map[string][]*core.Order // open orders per symbol, arrival order
}

// New builds a simulator. The publisher and clock may be nil when the
// caller only needs Evaluate.
func New(cfg Config, costs *costmodel.Model, publisher core.EventPublisher, clock func() time.Time, logger core.ILogger) *Simulator {
	if cfg.ImpactModel == "" {
		cfg.ImpactModel = ImpactLinear
	}
	if clock == nil {
		clock = time.Now
	}
	return &Simulator{
		cfg:       cfg,
		costs:     costs,
		publisher: publisher,
		clock:     clock,
		logger:    logger.WithField("component", "marketsim"),
		metrics:   telemetry.GetGlobalMetrics(),
		bars:      make(map[string]*core.Bar),
		resting:   make(map[string][]*core.Order),
	}
}

// Evaluate decides whether o fills against bar at time now. It never
// mutates o; partial fills are expressed by a Fill smaller than the
// remaining quantity.
func (s *Simulator) Evaluate(o *core.Order, bar *core.Bar, now time.Time) Verdict {
	if o.RemainingQuantity() <= 0 {
		return Verdict{Reason: ReasonNothingToFill}
	}
	if bar == nil || bar.Volume <= 0 {
		return Verdict{Reason: ReasonSuspended}
	}
	if !s.cfg.IgnoreTradingHours && !s.inSession(bar, now) {
		return Verdict{Reason: ReasonMarketClosed}
	}

	sym, err := market.ParseSymbol(o.Symbol)
	if err != nil {
		return Verdict{Reason: ReasonInvalidSymbol}
	}
	upper, lower, hasLimit := market.LimitPrices(sym, bar.PreClose)

	switch o.Type {
	case core.OrderTypeMarket:
		if hasLimit {
			// A close pinned at the limit means the far side of the book
			// is empty; market orders cannot cross.
			if o.Side == core.SideBuy && bar.Close.GreaterThanOrEqual(upper) {
				return Verdict{Reason: ReasonLimitUp}
			}
			if o.Side == core.SideSell && bar.Close.LessThanOrEqual(lower) {
				return Verdict{Reason: ReasonLimitDown}
			}
		}
	case core.OrderTypeLimit:
		if hasLimit && (o.Price.GreaterThan(upper) || o.Price.LessThan(lower)) {
			return Verdict{Reason: ReasonOutsideBand}
		}
		// A resting limit fills when the bar range touches its price:
		// buys need the low at or under the limit, sells the high at or over.
		if o.Side == core.SideBuy && o.Price.LessThan(bar.Low) {
			return Verdict{Reason: ReasonNoCross}
		}
		if o.Side == core.SideSell && o.Price.GreaterThan(bar.High) {
			return Verdict{Reason: ReasonNoCross}
		}
	default:
		return Verdict{Reason: ReasonUnknownOrdType}
	}

	qty := o.RemainingQuantity()
	maxQty := s.participationCap(bar.Volume)
	if maxQty <= 0 {
		return Verdict{Reason: ReasonNoLiquidity}
	}
	if qty > maxQty {
		qty = maxQty
	}

	var fillPrice decimal.Decimal
	if o.Type == core.OrderTypeLimit {
		fillPrice = o.Price
	} else {
		// Impact is paid on the executed quantity; the resulting price is
		// rounded back onto the 0.01 tick grid before the band clamps it.
		fillPrice = market.RoundToTick(s.impactPrice(o.Side, qty, bar))
		if hasLimit {
			fillPrice = market.ClampToLimits(fillPrice, upper, lower)
		}
	}

	// The price adjustment above already charges impact, so the fill's
	// friction excludes the cost model's separate impact estimate.
	var commission decimal.Decimal
	if s.costs != nil {
		c := s.costs.Calculate(o.Symbol, o.Side, qty, fillPrice)
		commission = c.Commission.Add(c.StampTax).Add(c.TransferFee)
	}
	return Verdict{Fill: &core.Fill{
		OrderID:    o.ID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Quantity:   qty,
		Price:      fillPrice,
		Commission: commission,
		Timestamp:  now,
	}}
}

// inSession checks market hours. Daily bars trade by calendar day; intraday
// bars require the wall clock to be inside a session window.
func (s *Simulator) inSession(bar *core.Bar, now time.Time) bool {
	if bar.Frequency == "1d" {
		return market.IsTradingDay(now)
	}
	return market.IsTradingTime(now)
}

// participationCap returns the largest lot-aligned quantity one order may
// take from a bar's volume.
func (s *Simulator) participationCap(volume int64) int64 {
	shares := decimal.NewFromInt(volume).Mul(s.cfg.MaxParticipationRate).IntPart()
	return market.RoundToLot(shares)
}

// impactPrice adjusts the close by the impact of the executed quantity
// relative to bar volume. Buys push the price up, sells down.
func (s *Simulator) impactPrice(side core.Side, qty int64, bar *core.Bar) decimal.Decimal {
	ratio := decimal.NewFromInt(qty).Div(decimal.NewFromInt(bar.Volume))
	var impact decimal.Decimal
	switch s.cfg.ImpactModel {
	case ImpactSqrt:
		f, _ := ratio.Float64()
		impact = s.cfg.BaseImpact.Mul(decimal.NewFromFloat(math.Sqrt(f)))
	default:
		impact = s.cfg.BaseImpact.Mul(ratio)
	}
	if side == core.SideSell {
		impact = impact.Neg()
	}
	return bar.Close.Mul(decimal.NewFromInt(1).Add(impact))
}
