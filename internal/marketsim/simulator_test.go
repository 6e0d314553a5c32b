package marketsim

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quant_trader/internal/core"
	"quant_trader/internal/costmodel"
	"quant_trader/internal/logging"
	"quant_trader/internal/market"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// tradingTime is a Tuesday inside the afternoon session.
var tradingTime = time.Date(2025, 6, 3, 14, 30, 0, 0, market.ExchangeTZ())

type capture struct {
	events []core.Event
}

func (c *capture) Publish(e core.Event) { c.events = append(c.events, e) }

func (c *capture) byType(t core.EventType) []core.Event {
	var out []core.Event
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestSim(t *testing.T, cfg Config) (*Simulator, *capture, *fakeClock) {
	t.Helper()
	logger := logging.NewLogger(logging.ErrorLevel, io.Discard)
	pub := &capture{}
	clk := &fakeClock{now: tradingTime}
	sim := New(cfg, costmodel.New(costmodel.DefaultConfig()), pub, clk.Now, logger)
	return sim, pub, clk
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func dailyBar(symbol string, preClose, open, high, low, cls float64, volume int64, day time.Time) *core.Bar {
	return &core.Bar{
		Symbol:    symbol,
		TradeDate: day,
		Frequency: "1d",
		Open:      decimal.NewFromFloat(open),
		High:      decimal.NewFromFloat(high),
		Low:       decimal.NewFromFloat(low),
		Close:     decimal.NewFromFloat(cls),
		Volume:    volume,
		PreClose:  decimal.NewFromFloat(preClose),
	}
}

func marketOrder(symbol string, side core.Side, qty int64) *core.Order {
	return &core.Order{
		ID:          "ord-" + string(side),
		AccountID:   "paper",
		Symbol:      symbol,
		Side:        side,
		Type:        core.OrderTypeMarket,
		Quantity:    qty,
		TimeInForce: core.TIFDay,
		Status:      core.StatusValidated,
		CreatedAt:   tradingTime,
	}
}

func limitOrder(symbol string, side core.Side, qty int64, price string) *core.Order {
	o := marketOrder(symbol, side, qty)
	o.Type = core.OrderTypeLimit
	o.Price = dec(price)
	return o
}

func TestMarketBuyImpactPrice(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseImpact = decimal.NewFromFloat(0.1)
	sim, _, _ := newTestSim(t, cfg)
	bar := dailyBar("600036.SH", 40, 40, 41, 39.5, 40, 1_000_000, tradingTime)

	v := sim.Evaluate(marketOrder("600036.SH", core.SideBuy, 6000), bar, tradingTime)
	require.True(t, v.Filled(), "reason: %s", v.Reason)
	// impact = 0.1 * 6000/1000000 = 0.0006 -> 40.024, tick-rounded to 40.02
	assert.True(t, v.Fill.Price.Equal(dec("40.02")), "price %s", v.Fill.Price)
	assert.Equal(t, int64(6000), v.Fill.Quantity)
	assert.True(t, v.Fill.Commission.GreaterThan(decimal.Zero))
}

func TestMarketSellImpactLowersPrice(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseImpact = decimal.NewFromFloat(0.1)
	sim, _, _ := newTestSim(t, cfg)
	bar := dailyBar("600036.SH", 40, 40, 41, 39.5, 40, 1_000_000, tradingTime)

	v := sim.Evaluate(marketOrder("600036.SH", core.SideSell, 6000), bar, tradingTime)
	require.True(t, v.Filled(), "reason: %s", v.Reason)
	// 40 * (1 - 0.0006) = 39.976, tick-rounded to 39.98
	assert.True(t, v.Fill.Price.Equal(dec("39.98")), "price %s", v.Fill.Price)
}

func TestMarketFillPriceRoundsHalfUpToTick(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseImpact = decimal.NewFromFloat(0.1)
	sim, _, _ := newTestSim(t, cfg)
	bar := dailyBar("600036.SH", 40, 40, 41, 39.5, 40, 1_000_000, tradingTime)

	// impact = 0.1 * 6250/1000000 = 0.000625 -> 40.025, exactly on the
	// half tick: half-up rounding lands on 40.03, never 40.02.
	v := sim.Evaluate(marketOrder("600036.SH", core.SideBuy, 6250), bar, tradingTime)
	require.True(t, v.Filled(), "reason: %s", v.Reason)
	assert.True(t, v.Fill.Price.Equal(dec("40.03")), "price %s", v.Fill.Price)
}

func TestMarketBuyBlockedAtLimitUp(t *testing.T) {
	sim, _, _ := newTestSim(t, DefaultConfig())
	// Main board: +10% of 40.00 pins the close at 44.00.
	bar := dailyBar("600036.SH", 40, 43, 44, 42.8, 44, 500_000, tradingTime)

	v := sim.Evaluate(marketOrder("600036.SH", core.SideBuy, 1000), bar, tradingTime)
	assert.False(t, v.Filled())
	assert.Equal(t, ReasonLimitUp, v.Reason)

	// Sells still trade into a limit-up book.
	v = sim.Evaluate(marketOrder("600036.SH", core.SideSell, 1000), bar, tradingTime)
	assert.True(t, v.Filled(), "reason: %s", v.Reason)
}

func TestMarketSellBlockedAtLimitDown(t *testing.T) {
	sim, _, _ := newTestSim(t, DefaultConfig())
	bar := dailyBar("000001.SZ", 20, 18.2, 18.5, 18, 18, 500_000, tradingTime)

	v := sim.Evaluate(marketOrder("000001.SZ", core.SideSell, 500), bar, tradingTime)
	assert.False(t, v.Filled())
	assert.Equal(t, ReasonLimitDown, v.Reason)
}

func TestHKSymbolHasNoBand(t *testing.T) {
	sim, _, _ := newTestSim(t, DefaultConfig())
	// A 30% jump would pin any A-share; HK has no daily limit.
	bar := dailyBar("00700.HK", 300, 380, 395, 375, 390, 2_000_000, tradingTime)

	v := sim.Evaluate(marketOrder("00700.HK", core.SideBuy, 1000), bar, tradingTime)
	assert.True(t, v.Filled(), "reason: %s", v.Reason)
}

func TestLimitPriceOutsideBandRejected(t *testing.T) {
	sim, _, _ := newTestSim(t, DefaultConfig())
	// STAR board: +-20% of 100.00 bounds the band at [80, 120].
	bar := dailyBar("688001.SH", 100, 110, 120, 108, 120, 300_000, tradingTime)

	v := sim.Evaluate(limitOrder("688001.SH", core.SideBuy, 200, "132"), bar, tradingTime)
	assert.False(t, v.Filled())
	assert.Equal(t, ReasonOutsideBand, v.Reason)
}

func TestLimitBuyFillsWhenBarTouches(t *testing.T) {
	sim, _, _ := newTestSim(t, DefaultConfig())
	bar := dailyBar("600036.SH", 40, 40, 40.8, 39.4, 40.5, 1_000_000, tradingTime)

	v := sim.Evaluate(limitOrder("600036.SH", core.SideBuy, 500, "39.50"), bar, tradingTime)
	require.True(t, v.Filled(), "reason: %s", v.Reason)
	assert.True(t, v.Fill.Price.Equal(dec("39.50")), "limit orders fill at the limit price, got %s", v.Fill.Price)

	v = sim.Evaluate(limitOrder("600036.SH", core.SideBuy, 500, "39.30"), bar, tradingTime)
	assert.False(t, v.Filled())
	assert.Equal(t, ReasonNoCross, v.Reason)
}

func TestLimitSellFillsWhenBarTouches(t *testing.T) {
	sim, _, _ := newTestSim(t, DefaultConfig())
	bar := dailyBar("600036.SH", 40, 40, 41.2, 39.8, 40.9, 1_000_000, tradingTime)

	v := sim.Evaluate(limitOrder("600036.SH", core.SideSell, 500, "41.00"), bar, tradingTime)
	require.True(t, v.Filled(), "reason: %s", v.Reason)
	assert.True(t, v.Fill.Price.Equal(dec("41.00")))

	v = sim.Evaluate(limitOrder("600036.SH", core.SideSell, 500, "41.50"), bar, tradingTime)
	assert.False(t, v.Filled())
	assert.Equal(t, ReasonNoCross, v.Reason)
}

func TestParticipationCapsFillQuantity(t *testing.T) {
	sim, _, _ := newTestSim(t, DefaultConfig())
	// 10% of 10000 shares leaves 1000 fillable.
	bar := dailyBar("600036.SH", 40, 40, 41, 39.5, 40, 10_000, tradingTime)

	v := sim.Evaluate(marketOrder("600036.SH", core.SideBuy, 2500), bar, tradingTime)
	require.True(t, v.Filled(), "reason: %s", v.Reason)
	assert.Equal(t, int64(1000), v.Fill.Quantity)
}

func TestTinyVolumeLeavesNoFillableLot(t *testing.T) {
	sim, _, _ := newTestSim(t, DefaultConfig())
	// 10% of 900 shares floors to zero lots.
	bar := dailyBar("600036.SH", 40, 40, 41, 39.5, 40, 900, tradingTime)

	v := sim.Evaluate(marketOrder("600036.SH", core.SideBuy, 200), bar, tradingTime)
	assert.False(t, v.Filled())
	assert.Equal(t, ReasonNoLiquidity, v.Reason)
}

func TestSuspendedBarDoesNotFill(t *testing.T) {
	sim, _, _ := newTestSim(t, DefaultConfig())
	bar := dailyBar("600036.SH", 40, 0, 0, 0, 40, 0, tradingTime)

	v := sim.Evaluate(marketOrder("600036.SH", core.SideBuy, 100), bar, tradingTime)
	assert.False(t, v.Filled())
	assert.Equal(t, ReasonSuspended, v.Reason)
}

func TestSessionCheckRespectsCalendar(t *testing.T) {
	sim, _, _ := newTestSim(t, DefaultConfig())
	bar := dailyBar("600036.SH", 40, 40, 41, 39.5, 40, 1_000_000, tradingTime)
	saturday := time.Date(2025, 6, 7, 10, 0, 0, 0, market.ExchangeTZ())

	v := sim.Evaluate(marketOrder("600036.SH", core.SideBuy, 100), bar, saturday)
	assert.False(t, v.Filled())
	assert.Equal(t, ReasonMarketClosed, v.Reason)

	cfg := DefaultConfig()
	cfg.IgnoreTradingHours = true
	open, _, _ := newTestSim(t, cfg)
	v = open.Evaluate(marketOrder("600036.SH", core.SideBuy, 100), bar, saturday)
	assert.True(t, v.Filled(), "reason: %s", v.Reason)
}

func TestBookRestsUnfilledOrderThenExpiresOnDayChange(t *testing.T) {
	sim, pub, clk := newTestSim(t, DefaultConfig())
	ctx := context.Background()

	day1 := time.Date(2025, 6, 3, 0, 0, 0, 0, market.ExchangeTZ())
	sim.OnMarketData(ctx, dailyBar("688001.SH", 100, 110, 120, 108, 120, 300_000, day1))

	// Out-of-band limit order rests all session without filling.
	o := limitOrder("688001.SH", core.SideBuy, 200, "132")
	sim.OnOrder(ctx, o)

	assert.Empty(t, pub.byType(core.EventFill))
	open := sim.OpenOrders()
	require.Len(t, open, 1)
	assert.Equal(t, core.StatusValidated, open[0].Status)

	// Next trading day expires the resting day order.
	clk.now = clk.now.Add(24 * time.Hour)
	day2 := day1.Add(24 * time.Hour)
	sim.OnMarketData(ctx, dailyBar("688001.SH", 120, 118, 121, 117, 119, 300_000, day2))

	assert.Empty(t, sim.OpenOrders())
	orders := pub.byType(core.EventOrder)
	require.NotEmpty(t, orders)
	assert.Equal(t, core.StatusExpired, orders[len(orders)-1].Order.Status)
}

func TestBookPartialFillRestsRemainderAndRefills(t *testing.T) {
	sim, pub, _ := newTestSim(t, DefaultConfig())
	ctx := context.Background()

	day := time.Date(2025, 6, 3, 0, 0, 0, 0, market.ExchangeTZ())
	bar := dailyBar("600036.SH", 40, 40, 41, 39.5, 40, 10_000, day)
	sim.OnMarketData(ctx, bar)

	sim.OnOrder(ctx, marketOrder("600036.SH", core.SideBuy, 1500))

	fills := pub.byType(core.EventFill)
	require.Len(t, fills, 1)
	assert.Equal(t, int64(1000), fills[0].Fill.Quantity)

	open := sim.OpenOrders()
	require.Len(t, open, 1)
	assert.Equal(t, core.StatusPartiallyFilled, open[0].Status)
	assert.Equal(t, int64(500), open[0].RemainingQuantity())

	// A later bar the same day fills the remainder under a fresh cap.
	sim.OnMarketData(ctx, bar)
	fills = pub.byType(core.EventFill)
	require.Len(t, fills, 2)
	assert.Equal(t, int64(500), fills[1].Fill.Quantity)
	assert.Empty(t, sim.OpenOrders())

	orders := pub.byType(core.EventOrder)
	last := orders[len(orders)-1].Order
	assert.Equal(t, core.StatusFilled, last.Status)
	assert.Equal(t, int64(1500), last.FilledQuantity)
}

func TestBookValidatesCreatedOrders(t *testing.T) {
	sim, pub, _ := newTestSim(t, DefaultConfig())
	ctx := context.Background()

	day := time.Date(2025, 6, 3, 0, 0, 0, 0, market.ExchangeTZ())
	sim.OnMarketData(ctx, dailyBar("600036.SH", 40, 40, 41, 39.5, 40, 1_000_000, day))

	// Odd lot fails validation and is rejected with a reason.
	odd := marketOrder("600036.SH", core.SideBuy, 150)
	odd.Status = core.StatusCreated
	sim.OnOrder(ctx, odd)

	orders := pub.byType(core.EventOrder)
	require.Len(t, orders, 1)
	assert.Equal(t, core.StatusRejected, orders[0].Order.Status)
	assert.NotEmpty(t, orders[0].Order.RejectReason)
	assert.Empty(t, pub.byType(core.EventFill))
}

func TestBookIOCOrderNeverRests(t *testing.T) {
	sim, pub, _ := newTestSim(t, DefaultConfig())
	ctx := context.Background()

	day := time.Date(2025, 6, 3, 0, 0, 0, 0, market.ExchangeTZ())
	sim.OnMarketData(ctx, dailyBar("600036.SH", 40, 40, 40.8, 39.4, 40.5, 1_000_000, day))

	// Limit never touched: IOC expires instead of resting.
	o := limitOrder("600036.SH", core.SideBuy, 500, "39.30")
	o.TimeInForce = core.TIFIOC
	sim.OnOrder(ctx, o)

	assert.Empty(t, sim.OpenOrders())
	orders := pub.byType(core.EventOrder)
	require.Len(t, orders, 1)
	assert.Equal(t, core.StatusExpired, orders[0].Order.Status)
}

func TestBookPublishesFillBeforeOrderSnapshot(t *testing.T) {
	sim, pub, _ := newTestSim(t, DefaultConfig())
	ctx := context.Background()

	day := time.Date(2025, 6, 3, 0, 0, 0, 0, market.ExchangeTZ())
	sim.OnMarketData(ctx, dailyBar("600036.SH", 40, 40, 41, 39.5, 40, 1_000_000, day))
	sim.OnOrder(ctx, marketOrder("600036.SH", core.SideBuy, 1000))

	require.Len(t, pub.events, 2)
	assert.Equal(t, core.EventFill, pub.events[0].Type)
	assert.Equal(t, core.EventOrder, pub.events[1].Type)
	assert.Equal(t, core.StatusFilled, pub.events[1].Order.Status)
}
