// Package integration wires real components together and drives complete
// event flows through them: bars into signals, signals into orders, orders
// into fills, fills into the ledger. Package tests cover each component in
// isolation; these tests cover the seams.
package integration

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"quant_trader/internal/core"
	"quant_trader/internal/engine"
	"quant_trader/internal/logging"
	"quant_trader/internal/market"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.ErrorLevel, io.Discard)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// tradingDay returns midnight of the n-th trading day (0-based) on or
// after 2024-03-04, a Monday.
func tradingDay(t *testing.T, n int) time.Time {
	t.Helper()
	tz := market.ExchangeTZ()
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, tz)
	for !market.IsTradingDay(day) {
		day = day.AddDate(0, 0, 1)
	}
	for i := 0; i < n; i++ {
		day = market.NextTradingDay(day)
	}
	return day
}

// dailyBar builds a plausible daily bar around the given close.
func dailyBar(symbol string, day time.Time, preClose, close string, volume int64) *core.Bar {
	pc := dec(preClose)
	cl := dec(close)
	high, low := pc, pc
	if cl.GreaterThan(high) {
		high = cl
	}
	if cl.LessThan(low) {
		low = cl
	}
	return &core.Bar{
		Symbol:    symbol,
		TradeDate: day,
		Frequency: "1d",
		Open:      pc,
		High:      high,
		Low:       low,
		Close:     cl,
		Volume:    volume,
		Amount:    cl.Mul(decimal.NewFromInt(volume)),
		PreClose:  pc,
	}
}

// barFixture satisfies engine.BarSource from an in-memory series.
type barFixture struct {
	bars map[string][]*core.Bar
}

func (f *barFixture) GetDailyBars(ctx context.Context, symbol string, start, end time.Time, adjust string) ([]*core.Bar, error) {
	var out []*core.Bar
	for _, b := range f.bars[symbol] {
		if b.TradeDate.Before(start) || b.TradeDate.After(end.AddDate(0, 0, 1)) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// tape records every dispatched event so tests can assert ordering
// invariants after the run. Attach it with engine.AttachObserver.
type tape struct {
	mu     sync.Mutex
	events []core.Event
}

func (r *tape) observe(ev core.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *tape) all() []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *tape) byType(t core.EventType) []core.Event {
	var out []core.Event
	for _, ev := range r.all() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// requireFillsFollowOrders asserts that every fill was dispatched after an
// order event for the same order id, and that every filled order event is
// internally consistent.
func requireFillsFollowOrders(t *testing.T, events []core.Event) {
	t.Helper()
	orderSeq := make(map[string]uint64)
	for _, ev := range events {
		switch ev.Type {
		case core.EventOrder:
			if _, seen := orderSeq[ev.Order.ID]; !seen {
				orderSeq[ev.Order.ID] = ev.Seq
			}
			if ev.Order.Status == core.StatusFilled {
				require.Equal(t, ev.Order.Quantity, ev.Order.FilledQuantity,
					"filled order %s must be filled in full", ev.Order.ID)
				require.True(t, ev.Order.AvgFillPrice.IsPositive(),
					"filled order %s must carry a fill price", ev.Order.ID)
			}
		case core.EventFill:
			seq, seen := orderSeq[ev.Fill.OrderID]
			require.True(t, seen, "fill for %s arrived before any order event", ev.Fill.OrderID)
			require.Greater(t, ev.Seq, seq, "fill for %s must follow its order", ev.Fill.OrderID)
		}
	}
}

// requireTerminalIsFinal asserts that no order event follows a terminal
// snapshot of the same order.
func requireTerminalIsFinal(t *testing.T, events []core.Event) {
	t.Helper()
	closed := make(map[string]core.OrderStatus)
	for _, ev := range events {
		if ev.Type != core.EventOrder {
			continue
		}
		if prev, done := closed[ev.Order.ID]; done {
			t.Fatalf("order %s reported %s after terminal %s", ev.Order.ID, ev.Order.Status, prev)
		}
		if ev.Order.Status.IsTerminal() {
			closed[ev.Order.ID] = ev.Order.Status
		}
	}
}

// scriptedStrategy emits a fixed signal sequence, one entry per bar it
// sees, and records fills routed back to it. With sellOnFill set it also
// reacts to every buy fill with an immediate sell signal, the same-day
// turnaround the T+1 rule must block.
type scriptedStrategy struct {
	name       string
	publisher  core.EventPublisher
	script     []core.SignalKind // SignalHold entries skip the bar
	strength   float64
	sellOnFill bool

	step  int
	mu    sync.Mutex
	fills []*core.Fill
}

func (s *scriptedStrategy) Name() string { return s.name }

func (s *scriptedStrategy) OnMarketData(ctx context.Context, bar *core.Bar) {
	if s.step >= len(s.script) {
		return
	}
	kind := s.script[s.step]
	s.step++
	if kind == core.SignalHold {
		return
	}
	strength := s.strength
	if strength == 0 {
		strength = 1
	}
	s.publisher.Publish(core.NewSignalEvent(&core.Signal{
		Symbol:    bar.Symbol,
		Kind:      kind,
		Strength:  strength,
		Source:    s.name,
		Timestamp: bar.TradeDate,
	}))
}

func (s *scriptedStrategy) OnFill(ctx context.Context, fill *core.Fill) {
	s.mu.Lock()
	s.fills = append(s.fills, fill)
	s.mu.Unlock()

	if s.sellOnFill && fill.Side == core.SideBuy {
		s.publisher.Publish(core.NewSignalEvent(&core.Signal{
			Symbol:    fill.Symbol,
			Kind:      core.SignalSell,
			Strength:  1,
			Source:    s.name,
			Timestamp: fill.Timestamp,
		}))
	}
}

func (s *scriptedStrategy) recordedFills() []*core.Fill {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*core.Fill, len(s.fills))
	copy(out, s.fills)
	return out
}

// drainAll drains the engine and fails the test on leftover backlog.
func drainAll(t *testing.T, eng *engine.Engine, ctx context.Context) int {
	t.Helper()
	n := eng.Drain(ctx)
	require.Zero(t, eng.Depth(), "queue must be quiescent after drain")
	return n
}
