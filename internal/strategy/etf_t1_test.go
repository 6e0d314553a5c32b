package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quant_trader/internal/core"
	"quant_trader/internal/market"
)

var (
	etfDay1 = time.Date(2025, 6, 3, 10, 0, 0, 0, market.ExchangeTZ())
	etfDay2 = time.Date(2025, 6, 4, 10, 0, 0, 0, market.ExchangeTZ())
	etfDay3 = time.Date(2025, 6, 5, 10, 0, 0, 0, market.ExchangeTZ())
)

func buyFillAt(symbol, price string, ts time.Time) *core.Fill {
	return &core.Fill{
		OrderID:   "ord-1",
		Symbol:    symbol,
		Side:      core.SideBuy,
		Quantity:  1000,
		Price:     dec(price),
		Timestamp: ts,
	}
}

func TestETFT1RegularRoundTrip(t *testing.T) {
	rec := &signalRecorder{}
	s := NewETFT1(Params{"mode": "regular"}, rec, testLogger())
	ctx := context.Background()
	const sym = "510300.SH"

	s.OnMarketData(ctx, tbar(sym, etfDay1, "10"))
	s.OnMarketData(ctx, tbar(sym, etfDay2, "9.7")) // 3% dip opens the leg
	require.Equal(t, "waiting_sell", s.Phase(sym))

	s.OnFill(ctx, buyFillAt(sym, "9.71", etfDay2))

	s.OnMarketData(ctx, tbar(sym, etfDay3, "9.85")) // clears entry by >1%
	assert.Equal(t, "idle", s.Phase(sym))

	sigs := rec.all()
	require.Len(t, sigs, 2)
	assert.Equal(t, core.SignalBuy, sigs[0].Kind)
	assert.Equal(t, "open", sigs[0].Meta["leg"])
	assert.Equal(t, 0.5, sigs[0].Strength)
	assert.Equal(t, core.SignalSell, sigs[1].Kind)
	assert.Equal(t, "close", sigs[1].Meta["leg"])
	assert.Equal(t, "9.7100", sigs[1].Meta["entry"])
}

func TestETFT1HoldsThroughEntryDay(t *testing.T) {
	rec := &signalRecorder{}
	s := NewETFT1(Params{"mode": "regular"}, rec, testLogger())
	ctx := context.Background()
	const sym = "510300.SH"

	s.OnMarketData(ctx, tbar(sym, etfDay1, "10"))
	s.OnMarketData(ctx, tbar(sym, etfDay2, "9.7"))
	s.OnFill(ctx, buyFillAt(sym, "9.70", etfDay2))

	// Profitable the same afternoon, but the shares only unlock next day.
	s.OnMarketData(ctx, tbar(sym, etfDay2.Add(4*time.Hour), "9.9"))
	require.Len(t, rec.all(), 1)
	require.Equal(t, "waiting_sell", s.Phase(sym))

	s.OnMarketData(ctx, tbar(sym, etfDay3, "9.9"))
	require.Len(t, rec.all(), 2)
	assert.Equal(t, core.SignalSell, rec.all()[1].Kind)
}

func TestETFT1UnfilledLegResetsNextDay(t *testing.T) {
	rec := &signalRecorder{}
	s := NewETFT1(Params{"mode": "regular"}, rec, testLogger())
	ctx := context.Background()
	const sym = "510300.SH"

	s.OnMarketData(ctx, tbar(sym, etfDay1, "10"))
	s.OnMarketData(ctx, tbar(sym, etfDay2, "9.7"))
	require.Equal(t, "waiting_sell", s.Phase(sym))

	// No fill ever arrives; the next day forgets the leg instead of
	// emitting a sell for shares the account never got.
	s.OnMarketData(ctx, tbar(sym, etfDay3, "9.85"))
	assert.Equal(t, "idle", s.Phase(sym))
	require.Len(t, rec.all(), 1)
}

func TestETFT1ReverseRoundTrip(t *testing.T) {
	rec := &signalRecorder{}
	s := NewETFT1(Params{"mode": "reverse"}, rec, testLogger())
	ctx := context.Background()
	const sym = "510300.SH"

	s.OnMarketData(ctx, tbar(sym, etfDay1, "10"))
	s.OnMarketData(ctx, tbar(sym, etfDay2, "10.25")) // pop sells the holding
	require.Equal(t, "waiting_buy", s.Phase(sym))

	s.OnFill(ctx, &core.Fill{
		OrderID: "ord-2", Symbol: sym, Side: core.SideSell,
		Quantity: 1000, Price: dec("10.24"), Timestamp: etfDay2,
	})

	s.OnMarketData(ctx, tbar(sym, etfDay3, "10.1")) // buys back 1.4% cheaper
	assert.Equal(t, "idle", s.Phase(sym))

	sigs := rec.all()
	require.Len(t, sigs, 2)
	assert.Equal(t, core.SignalSell, sigs[0].Kind)
	assert.Equal(t, core.SignalBuy, sigs[1].Kind)
	assert.Equal(t, "10.2400", sigs[1].Meta["entry"])
}

func TestETFT1AutoOpensEitherSide(t *testing.T) {
	rec := &signalRecorder{}
	s := NewETFT1(Params{"mode": "auto"}, rec, testLogger())
	ctx := context.Background()

	s.OnMarketData(ctx, tbar("510300.SH", etfDay1, "10"))
	s.OnMarketData(ctx, tbar("510300.SH", etfDay2, "9.7"))
	s.OnMarketData(ctx, tbar("510500.SH", etfDay1, "20"))
	s.OnMarketData(ctx, tbar("510500.SH", etfDay2, "20.5"))

	assert.Equal(t, "waiting_sell", s.Phase("510300.SH"))
	assert.Equal(t, "waiting_buy", s.Phase("510500.SH"))

	sigs := rec.all()
	require.Len(t, sigs, 2)
	assert.Equal(t, core.SignalBuy, sigs[0].Kind)
	assert.Equal(t, core.SignalSell, sigs[1].Kind)
}

func TestETFT1IgnoresMismatchedFill(t *testing.T) {
	rec := &signalRecorder{}
	s := NewETFT1(Params{"mode": "regular"}, rec, testLogger())
	ctx := context.Background()
	const sym = "510300.SH"

	s.OnMarketData(ctx, tbar(sym, etfDay1, "10"))
	s.OnMarketData(ctx, tbar(sym, etfDay2, "9.7"))

	// A sell fill cannot belong to the open buy leg.
	s.OnFill(ctx, &core.Fill{
		OrderID: "ord-3", Symbol: sym, Side: core.SideSell,
		Quantity: 1000, Price: dec("9.71"), Timestamp: etfDay2,
	})
	require.True(t, s.symbols[sym].awaitingFill)

	s.OnMarketData(ctx, tbar(sym, etfDay3, "9.85"))
	assert.Equal(t, "idle", s.Phase(sym))
	require.Len(t, rec.all(), 1)
}

func TestETFT1UsesBarPreClose(t *testing.T) {
	rec := &signalRecorder{}
	s := NewETFT1(Params{"mode": "regular"}, rec, testLogger())

	b := tbar("510300.SH", etfDay1, "9.7")
	b.PreClose = dec("10")
	s.OnMarketData(context.Background(), b)

	require.Len(t, rec.all(), 1)
	assert.Equal(t, "waiting_sell", s.Phase("510300.SH"))
}

func TestETFT1UnknownModeFallsBack(t *testing.T) {
	s := NewETFT1(Params{"mode": "sideways"}, &signalRecorder{}, testLogger())
	assert.Equal(t, etfModeRegular, s.mode)
}
