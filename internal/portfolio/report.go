package portfolio

import (
	"math"

	"github.com/shopspring/decimal"

	"quant_trader/internal/core"
)

// tradingDaysPerYear is the A-share convention for annualization.
const tradingDaysPerYear = 252

// Report summarizes a run. Ratios are plain floats; money stays decimal.
type Report struct {
	InitialCapital   decimal.Decimal `json:"initial_capital"`
	FinalEquity      decimal.Decimal `json:"final_equity"`
	TotalReturn      float64         `json:"total_return"`
	AnnualizedReturn float64         `json:"annualized_return"`
	MaxDrawdown      float64         `json:"max_drawdown"`
	SharpeRatio      float64         `json:"sharpe_ratio"`
	WinRate          float64         `json:"win_rate"`
	ProfitFactor     float64         `json:"profit_factor"`
	TradeCount       int             `json:"trade_count"`
	TradingDays      int             `json:"trading_days"`
}

// BuildReport computes performance statistics from the equity curve and the
// trade tape. Sharpe uses daily returns with a zero risk-free rate,
// annualized by √252; drawdown is measured on every sample, not just daily
// closes.
func BuildReport(initial decimal.Decimal, samples []EquitySample, trades []Trade) Report {
	r := Report{
		InitialCapital: initial,
		FinalEquity:    initial,
		TradeCount:     len(trades),
	}
	if len(samples) > 0 {
		r.FinalEquity = samples[len(samples)-1].TotalValue
	}
	if initial.IsPositive() {
		r.TotalReturn = r.FinalEquity.Div(initial).InexactFloat64() - 1
	}

	closes := dailyCloses(samples)
	r.TradingDays = len(closes)
	if r.TradingDays > 0 {
		r.AnnualizedReturn = math.Pow(1+r.TotalReturn, tradingDaysPerYear/float64(r.TradingDays)) - 1
	}
	r.MaxDrawdown = maxDrawdown(samples)
	r.SharpeRatio = sharpe(dailyReturns(initial, closes))
	r.WinRate, r.ProfitFactor = tradeStats(trades)
	return r
}

// dailyCloses collapses the sample series to the last mark of each exchange
// day. Samples are monotonic in time, so a day change is a simple boundary.
func dailyCloses(samples []EquitySample) []decimal.Decimal {
	var (
		closes  []decimal.Decimal
		lastDay int64 = math.MinInt64
	)
	for _, s := range samples {
		day := exchangeDay(s.Timestamp).Unix()
		if day != lastDay {
			closes = append(closes, s.TotalValue)
			lastDay = day
		} else {
			closes[len(closes)-1] = s.TotalValue
		}
	}
	return closes
}

// dailyReturns computes simple returns day over day, anchored at the
// initial capital so the first trading day counts too.
func dailyReturns(initial decimal.Decimal, closes []decimal.Decimal) []float64 {
	if len(closes) == 0 {
		return nil
	}
	returns := make([]float64, 0, len(closes))
	prev := initial
	for _, c := range closes {
		if prev.IsPositive() {
			returns = append(returns, c.Div(prev).InexactFloat64()-1)
		}
		prev = c
	}
	return returns
}

func maxDrawdown(samples []EquitySample) float64 {
	var peak decimal.Decimal
	worst := 0.0
	for _, s := range samples {
		if s.TotalValue.GreaterThan(peak) {
			peak = s.TotalValue
		}
		if !peak.IsPositive() {
			continue
		}
		dd := peak.Sub(s.TotalValue).Div(peak).InexactFloat64()
		if dd > worst {
			worst = dd
		}
	}
	return worst
}

func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	if variance <= 0 {
		return 0
	}
	return mean / math.Sqrt(variance) * math.Sqrt(tradingDaysPerYear)
}

// tradeStats derives win rate and profit factor from closed (sell) trades.
func tradeStats(trades []Trade) (winRate, profitFactor float64) {
	var (
		sells  int
		wins   int
		profit decimal.Decimal
		loss   decimal.Decimal
	)
	for _, t := range trades {
		if t.Side != core.SideSell {
			continue
		}
		sells++
		if t.RealizedPnL.IsPositive() {
			wins++
			profit = profit.Add(t.RealizedPnL)
		} else {
			loss = loss.Add(t.RealizedPnL.Abs())
		}
	}
	if sells > 0 {
		winRate = float64(wins) / float64(sells)
	}
	switch {
	case loss.IsPositive():
		profitFactor = profit.Div(loss).InexactFloat64()
	case profit.IsPositive():
		profitFactor = math.Inf(1)
	}
	return winRate, profitFactor
}
