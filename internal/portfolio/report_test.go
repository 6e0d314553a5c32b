package portfolio

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"quant_trader/internal/core"
)

func sample(day int, total string) EquitySample {
	ts := day1.AddDate(0, 0, day)
	v := dec(total)
	return EquitySample{Timestamp: ts, TotalValue: v, Cash: v}
}

func sellTrade(pnl string) Trade {
	return Trade{Symbol: "600036.SH", Side: core.SideSell, Quantity: 100, RealizedPnL: dec(pnl)}
}

func TestReportReturnsAndDrawdown(t *testing.T) {
	initial := decimal.NewFromInt(1_000_000)
	samples := []EquitySample{
		sample(0, "1010000"),
		sample(1, "1000000"),
		sample(2, "1020000"),
	}

	r := BuildReport(initial, samples, nil)
	assert.InDelta(t, 0.02, r.TotalReturn, 1e-9)
	assert.Equal(t, 3, r.TradingDays)
	assert.InDelta(t, math.Pow(1.02, 252.0/3)-1, r.AnnualizedReturn, 1e-9)
	// Peak 1,010,000, trough 1,000,000.
	assert.InDelta(t, 10000.0/1010000.0, r.MaxDrawdown, 1e-9)
	assert.True(t, r.FinalEquity.Equal(dec("1020000")))
}

func TestReportCollapsesIntradaySamples(t *testing.T) {
	initial := decimal.NewFromInt(1_000_000)
	// Two marks on the same day: only the later one is the daily close.
	s1 := sample(0, "1010000")
	s2 := sample(0, "1005000")
	s3 := sample(1, "1015000")

	r := BuildReport(initial, []EquitySample{s1, s2, s3}, nil)
	assert.Equal(t, 2, r.TradingDays)
	assert.InDelta(t, 0.015, r.TotalReturn, 1e-9)
}

func TestReportTradeStats(t *testing.T) {
	trades := []Trade{
		{Symbol: "600036.SH", Side: core.SideBuy, Quantity: 100},
		sellTrade("100"),
		sellTrade("-50"),
		sellTrade("30"),
	}

	r := BuildReport(decimal.NewFromInt(1_000_000), nil, trades)
	assert.Equal(t, 4, r.TradeCount)
	assert.InDelta(t, 2.0/3.0, r.WinRate, 1e-9, "buys do not count toward win rate")
	assert.InDelta(t, 130.0/50.0, r.ProfitFactor, 1e-9)
}

func TestReportProfitFactorWithoutLosses(t *testing.T) {
	r := BuildReport(decimal.NewFromInt(1_000_000), nil, []Trade{sellTrade("100")})
	assert.True(t, math.IsInf(r.ProfitFactor, 1))
	assert.Equal(t, 1.0, r.WinRate)
}

func TestReportEmptyRun(t *testing.T) {
	initial := decimal.NewFromInt(1_000_000)
	r := BuildReport(initial, nil, nil)
	assert.True(t, r.FinalEquity.Equal(initial))
	assert.Zero(t, r.TotalReturn)
	assert.Zero(t, r.SharpeRatio)
	assert.Zero(t, r.MaxDrawdown)
	assert.Zero(t, r.TradingDays)
}

func TestSharpeOnSteadyGains(t *testing.T) {
	initial := decimal.NewFromInt(1_000_000)
	samples := []EquitySample{
		sample(0, "1001000"),
		sample(1, "1002500"),
		sample(2, "1003000"),
		sample(3, "1005000"),
	}
	r := BuildReport(initial, samples, nil)
	assert.Greater(t, r.SharpeRatio, 0.0, "monotonic gains imply a positive sharpe")
}
