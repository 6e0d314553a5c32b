package marketsim

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"quant_trader/internal/core"
	"quant_trader/internal/market"
	"quant_trader/internal/order"
)

// OnMarketData is the engine hook for bar events. It records the latest
// bar, expires resting day orders left over from earlier trading days, then
// retries the symbol's resting book against the new bar.
func (s *Simulator) OnMarketData(ctx context.Context, bar *core.Bar) {
	now := s.clock()

	s.mu.Lock()
	s.bars[bar.Symbol] = bar
	book := s.resting[bar.Symbol]
	s.resting[bar.Symbol] = nil
	s.mu.Unlock()

	var keep []*core.Order
	for _, o := range book {
		if o.TimeInForce != core.TIFIOC && tradeDay(o.CreatedAt).Before(tradeDay(bar.TradeDate)) {
			s.expire(o, now)
			continue
		}
		s.step(o, bar, now)
		if !o.Status.IsTerminal() {
			keep = append(keep, o)
		}
	}
	if len(keep) > 0 {
		s.mu.Lock()
		s.resting[bar.Symbol] = append(keep, s.resting[bar.Symbol]...)
		s.mu.Unlock()
	}
}

// OnOrder is the engine hook for order events. Only fresh orders are acted
// on; status snapshots the simulator itself publishes pass through so
// observers downstream still see them.
func (s *Simulator) OnOrder(ctx context.Context, o *core.Order) {
	if o.Status != core.StatusCreated && o.Status != core.StatusValidated {
		return
	}
	now := s.clock()
	ord := o.Clone()

	if ord.Status == core.StatusCreated {
		if err := ord.Validate(); err != nil {
			s.reject(ord, err.Error(), now)
			return
		}
		if err := order.Transition(ord, core.StatusValidated, now); err != nil {
			s.logger.Error("order transition failed", "order_id", ord.ID, "error", err)
			return
		}
	}

	s.mu.Lock()
	bar := s.bars[ord.Symbol]
	s.mu.Unlock()

	s.step(ord, bar, now)
	if ord.Status.IsTerminal() {
		return
	}
	if ord.TimeInForce == core.TIFIOC {
		s.expire(ord, now)
		return
	}
	s.mu.Lock()
	s.resting[ord.Symbol] = append(s.resting[ord.Symbol], ord)
	s.mu.Unlock()
}

// OpenOrders snapshots the resting book across all symbols.
func (s *Simulator) OpenOrders() []*core.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*core.Order
	for _, book := range s.resting {
		for _, o := range book {
			out = append(out, o.Clone())
		}
	}
	return out
}

// ExpireOpen expires every resting order. The backtest engine calls it once
// after the last trading day so no order ends the run in a live state.
func (s *Simulator) ExpireOpen() {
	now := s.clock()
	s.mu.Lock()
	books := s.resting
	s.resting = make(map[string][]*core.Order)
	s.mu.Unlock()
	for _, book := range books {
		for _, o := range book {
			s.expire(o, now)
		}
	}
}

// step evaluates one order against a bar and folds any fill into it.
func (s *Simulator) step(o *core.Order, bar *core.Bar, now time.Time) {
	v := s.Evaluate(o, bar, now)
	if !v.Filled() {
		s.logger.Debug("no fill",
			"order_id", o.ID, "symbol", o.Symbol, "side", o.Side, "reason", v.Reason)
		return
	}
	s.apply(o, v.Fill, now)
}

// apply folds a fill into the order, advances its status and publishes the
// fill followed by an order snapshot.
func (s *Simulator) apply(o *core.Order, fill *core.Fill, now time.Time) {
	prevNotional := o.AvgFillPrice.Mul(decimal.NewFromInt(o.FilledQuantity))
	o.FilledQuantity += fill.Quantity
	o.AvgFillPrice = prevNotional.
		Add(fill.Price.Mul(decimal.NewFromInt(fill.Quantity))).
		Div(decimal.NewFromInt(o.FilledQuantity))

	next := core.StatusPartiallyFilled
	if o.RemainingQuantity() == 0 {
		next = core.StatusFilled
	}
	if err := order.Transition(o, next, now); err != nil {
		s.logger.Error("order transition failed", "order_id", o.ID, "error", err)
		return
	}

	if s.metrics != nil {
		if next == core.StatusFilled && s.metrics.OrdersFilledTotal != nil {
			s.metrics.OrdersFilledTotal.Add(context.Background(), 1)
		}
		if s.metrics.FillVolumeTotal != nil {
			notional := fill.Price.Mul(decimal.NewFromInt(fill.Quantity))
			s.metrics.FillVolumeTotal.Add(context.Background(), notional.InexactFloat64())
		}
	}

	if s.publisher != nil {
		s.publisher.Publish(core.NewFillEvent(fill))
		s.publisher.Publish(core.NewOrderEvent(o.Clone()))
	}
	s.logger.Debug("simulated fill",
		"order_id", o.ID, "symbol", o.Symbol, "side", o.Side,
		"quantity", fill.Quantity, "price", fill.Price.String(), "status", string(o.Status))
}

func (s *Simulator) reject(o *core.Order, reason string, now time.Time) {
	o.RejectReason = reason
	if err := order.Transition(o, core.StatusRejected, now); err != nil {
		s.logger.Error("order transition failed", "order_id", o.ID, "error", err)
		return
	}
	if s.metrics != nil && s.metrics.OrdersRejectedTotal != nil {
		s.metrics.OrdersRejectedTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("kind", "validation")))
	}
	if s.publisher != nil {
		s.publisher.Publish(core.NewOrderEvent(o.Clone()))
	}
	s.logger.Warn("order rejected", "order_id", o.ID, "symbol", o.Symbol, "reason", reason)
}

func (s *Simulator) expire(o *core.Order, now time.Time) {
	if err := order.Transition(o, core.StatusExpired, now); err != nil {
		s.logger.Error("order transition failed", "order_id", o.ID, "error", err)
		return
	}
	if s.publisher != nil {
		s.publisher.Publish(core.NewOrderEvent(o.Clone()))
	}
	s.logger.Debug("order expired", "order_id", o.ID, "symbol", o.Symbol)
}

// tradeDay truncates a timestamp to its exchange-calendar date.
func tradeDay(t time.Time) time.Time {
	tz := market.ExchangeTZ()
	y, m, d := t.In(tz).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, tz)
}
