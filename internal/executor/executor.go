// Package executor turns live strategy signals into broker orders. It is
// the live counterpart of the portfolio's backtest sizing: account and
// positions are remote broker state, re-read for every signal and never
// cached, so a restarted engine sizes against reality instead of a stale
// mirror.
package executor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"quant_trader/internal/core"
	"quant_trader/pkg/tradingutils"
)

// Config tunes signal sizing.
type Config struct {
	AccountID string
	// MaxPositionPct bounds a single buy: the budget for one signal is
	// available cash × MaxPositionPct × signal strength.
	MaxPositionPct decimal.Decimal
	// OrderType is the order flavor sent to the broker, MARKET by default.
	OrderType core.OrderType
}

// DefaultConfig mirrors the shipped config file.
func DefaultConfig() Config {
	return Config{
		AccountID:      "live",
		MaxPositionPct: decimal.NewFromFloat(0.10),
		OrderType:      core.OrderTypeMarket,
	}
}

// Executor sizes signals against broker state and publishes CREATED
// orders; the engine routes those to the order manager. Signals that
// cannot be priced or sized are dropped with a log line, never queued.
type Executor struct {
	cfg       Config
	broker    core.IBroker
	publisher core.EventPublisher
	logger    core.ILogger
	clock     func() time.Time
}

// New builds an executor. clock may be nil for wall time.
func New(cfg Config, broker core.IBroker, publisher core.EventPublisher,
	clock func() time.Time, logger core.ILogger) *Executor {

	if cfg.AccountID == "" {
		cfg.AccountID = "live"
	}
	if !cfg.MaxPositionPct.IsPositive() {
		cfg.MaxPositionPct = decimal.NewFromFloat(0.10)
	}
	if cfg.OrderType == "" {
		cfg.OrderType = core.OrderTypeMarket
	}
	if clock == nil {
		clock = time.Now
	}
	return &Executor{
		cfg:       cfg,
		broker:    broker,
		publisher: publisher,
		logger:    logger.WithField("component", "executor"),
		clock:     clock,
	}
}

// OnSignal handles one strategy signal. HOLD and non-positive strengths
// are ignored; BUY sizes a budget from available cash, SELL scales the
// available (T+1 unlocked) position.
func (x *Executor) OnSignal(ctx context.Context, sig *core.Signal) {
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

	quote, err := x.broker.GetQuote(ctx, sig.Symbol)
	if err != nil || quote == nil || !quote.Price.IsPositive() {
		x.logger.Warn("signal dropped, no quote",
			"symbol", sig.Symbol, "kind", string(sig.Kind), "error", err)
		return
	}
	price := quote.Price

	var (
		qty  int64
		side core.Side
	)
	switch sig.Kind {
	case core.SignalBuy:
		side = core.SideBuy
		account, err := x.broker.GetAccount(ctx)
		if err != nil || account == nil {
			x.logger.Warn("signal dropped, account unavailable",
				"symbol", sig.Symbol, "error", err)
			return
		}
		budget := account.AvailableCash.
			Mul(x.cfg.MaxPositionPct).
			Mul(decimal.NewFromFloat(strength))
		qty = tradingutils.SharesForBudget(budget, price, core.BoardLot)
	case core.SignalSell:
		side = core.SideSell
		pos, err := x.position(ctx, sig.Symbol)
		if err != nil {
			x.logger.Warn("signal dropped, positions unavailable",
				"symbol", sig.Symbol, "error", err)
			return
		}
		if pos == nil {
			x.logger.Debug("sell signal without position", "symbol", sig.Symbol)
			return
		}
		held := decimal.NewFromInt(pos.AvailableQuantity).
			Mul(decimal.NewFromFloat(strength)).
			IntPart()
		qty = tradingutils.FloorToLot(held, core.BoardLot)
	default:
		return
	}

	if qty < core.BoardLot {
		x.logger.Debug("signal dropped, sized below one lot",
			"symbol", sig.Symbol, "kind", string(sig.Kind), "strength", sig.Strength)
		return
	}

	ts := sig.Timestamp
	if ts.IsZero() {
		ts = x.clock()
	}
	o := &core.Order{
		ID:          uuid.NewString(),
		AccountID:   x.cfg.AccountID,
		Symbol:      sig.Symbol,
		Side:        side,
		Type:        x.cfg.OrderType,
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

	x.publisher.Publish(core.NewOrderEvent(o))
	x.logger.Info("order created from signal",
		"order_id", o.ID, "symbol", o.Symbol, "side", string(o.Side),
		"quantity", o.Quantity, "price", price.String(),
		"source", sig.Source, "strength", sig.Strength)
}

func (x *Executor) position(ctx context.Context, symbol string) (*core.Position, error) {
	positions, err := x.broker.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		if p.Symbol == symbol {
			return p, nil
		}
	}
	return nil, nil
}
