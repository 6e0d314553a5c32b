package strategy

import (
	"context"

	"github.com/shopspring/decimal"

	"quant_trader/internal/core"
	"quant_trader/internal/indicator"
)

// BollingerRSI only trades when both indicators agree: a close at or
// beyond the lower band with RSI oversold buys, the mirror image sells.
// Each side fires once and re-arms when price closes back across the
// middle band, so a slow grind along a band cannot fire every bar.
type BollingerRSI struct {
	emitter
	period     int
	numStd     decimal.Decimal
	rsiPeriod  int
	oversold   decimal.Decimal
	overbought decimal.Decimal
	symbols    map[string]*bollRSIState
}

type bollRSIState struct {
	ma        *indicator.SMA
	rsi       *indicator.RSI
	buyArmed  bool
	sellArmed bool
}

func NewBollingerRSI(params Params, publisher core.EventPublisher, logger core.ILogger) *BollingerRSI {
	numStd := params.Decimal("num_std", "2")
	if !numStd.IsPositive() {
		numStd = decimal.NewFromInt(2)
	}
	return &BollingerRSI{
		emitter:    newEmitter("bollinger_rsi", publisher, logger),
		period:     params.Int("period", 20),
		numStd:     numStd,
		rsiPeriod:  params.Int("rsi_period", 14),
		oversold:   params.Decimal("rsi_oversold", "30"),
		overbought: params.Decimal("rsi_overbought", "70"),
		symbols:    make(map[string]*bollRSIState),
	}
}

func (s *BollingerRSI) Name() string { return s.name }

func (s *BollingerRSI) OnMarketData(ctx context.Context, bar *core.Bar) {
	if bar == nil || !bar.Close.IsPositive() {
		return
	}
	st, ok := s.symbols[bar.Symbol]
	if !ok {
		st = &bollRSIState{
			ma:        indicator.NewSMA(s.period),
			rsi:       indicator.NewRSI(s.rsiPeriod),
			buyArmed:  true,
			sellArmed: true,
		}
		s.symbols[bar.Symbol] = st
	}

	st.ma.Update(bar.Close)
	st.rsi.Update(bar.Close)
	mid, sd, rsiVal := st.ma.Value(), st.ma.StdDev(), st.rsi.Value()
	if mid == nil || sd == nil || rsiVal == nil || !sd.IsPositive() {
		return
	}
	upper := mid.Add(sd.Mul(s.numStd))
	lower := mid.Sub(sd.Mul(s.numStd))
	rsi := *rsiVal

	if bar.Close.GreaterThanOrEqual(*mid) {
		st.buyArmed = true
	}
	if bar.Close.LessThanOrEqual(*mid) {
		st.sellArmed = true
	}

	meta := map[string]string{
		"rsi":   rsi.StringFixed(2),
		"upper": upper.StringFixed(4),
		"lower": lower.StringFixed(4),
	}

	switch {
	case st.buyArmed && bar.Close.LessThanOrEqual(lower) && rsi.LessThanOrEqual(s.oversold):
		st.buyArmed = false
		s.emit(&core.Signal{
			Symbol:    bar.Symbol,
			Kind:      core.SignalBuy,
			Strength:  1.0,
			Timestamp: bar.TradeDate,
			Meta:      meta,
		})
	case st.sellArmed && bar.Close.GreaterThanOrEqual(upper) && rsi.GreaterThanOrEqual(s.overbought):
		st.sellArmed = false
		s.emit(&core.Signal{
			Symbol:    bar.Symbol,
			Kind:      core.SignalSell,
			Strength:  1.0,
			Timestamp: bar.TradeDate,
			Meta:      meta,
		})
	}
}

func (s *BollingerRSI) OnFill(ctx context.Context, fill *core.Fill) {}
