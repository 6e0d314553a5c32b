package strategy

import (
	"context"

	"github.com/shopspring/decimal"

	"quant_trader/internal/core"
	"quant_trader/internal/indicator"
)

// RSIReversal trades Wilder's RSI against four thresholds. An extreme
// reading fires a full-strength signal once and stays latched until RSI
// travels back toward neutral (40 for the buy side, 60 for the sell
// side). Crossing back out of the ordinary oversold/overbought zones
// fires a half-strength recovery signal, but only while the latch on
// that side is armed: one signal per excursion until RSI re-arms.
type RSIReversal struct {
	emitter
	period            int
	extremeOversold   decimal.Decimal
	oversold          decimal.Decimal
	overbought        decimal.Decimal
	extremeOverbought decimal.Decimal
	rearmBuy          decimal.Decimal
	rearmSell         decimal.Decimal
	symbols           map[string]*rsiState
}

type rsiState struct {
	rsi       *indicator.RSI
	prev      decimal.Decimal
	hasPrev   bool
	buyArmed  bool
	sellArmed bool
}

func NewRSIReversal(params Params, publisher core.EventPublisher, logger core.ILogger) *RSIReversal {
	s := &RSIReversal{
		emitter:           newEmitter("rsi_reversal", publisher, logger),
		period:            params.Int("period", 14),
		extremeOversold:   params.Decimal("extreme_oversold", "20"),
		oversold:          params.Decimal("oversold", "30"),
		overbought:        params.Decimal("overbought", "70"),
		extremeOverbought: params.Decimal("extreme_overbought", "80"),
		rearmBuy:          decimal.NewFromInt(40),
		rearmSell:         decimal.NewFromInt(60),
		symbols:           make(map[string]*rsiState),
	}
	ordered := s.extremeOversold.LessThan(s.oversold) &&
		s.oversold.LessThan(s.overbought) &&
		s.overbought.LessThan(s.extremeOverbought)
	if !ordered {
		s.extremeOversold = decimal.NewFromInt(20)
		s.oversold = decimal.NewFromInt(30)
		s.overbought = decimal.NewFromInt(70)
		s.extremeOverbought = decimal.NewFromInt(80)
	}
	return s
}

func (s *RSIReversal) Name() string { return s.name }

func (s *RSIReversal) OnMarketData(ctx context.Context, bar *core.Bar) {
	if bar == nil || !bar.Close.IsPositive() {
		return
	}
	st, ok := s.symbols[bar.Symbol]
	if !ok {
		st = &rsiState{
			rsi:       indicator.NewRSI(s.period),
			buyArmed:  true,
			sellArmed: true,
		}
		s.symbols[bar.Symbol] = st
	}

	st.rsi.Update(bar.Close)
	value := st.rsi.Value()
	if value == nil {
		return
	}
	rsi := *value
	prev, hasPrev := st.prev, st.hasPrev
	st.prev, st.hasPrev = rsi, true

	// Travel back toward neutral re-arms the extreme latch.
	if rsi.GreaterThanOrEqual(s.rearmBuy) {
		st.buyArmed = true
	}
	if rsi.LessThanOrEqual(s.rearmSell) {
		st.sellArmed = true
	}

	meta := map[string]string{"rsi": rsi.StringFixed(2)}

	switch {
	case rsi.LessThanOrEqual(s.extremeOversold) && st.buyArmed:
		st.buyArmed = false
		s.emit(&core.Signal{
			Symbol:    bar.Symbol,
			Kind:      core.SignalBuy,
			Strength:  1.0,
			Timestamp: bar.TradeDate,
			Meta:      meta,
		})
	case rsi.GreaterThanOrEqual(s.extremeOverbought) && st.sellArmed:
		st.sellArmed = false
		s.emit(&core.Signal{
			Symbol:    bar.Symbol,
			Kind:      core.SignalSell,
			Strength:  1.0,
			Timestamp: bar.TradeDate,
			Meta:      meta,
		})
	case hasPrev && prev.LessThan(s.oversold) && rsi.GreaterThanOrEqual(s.oversold) && st.buyArmed:
		// Recovery out of the oversold zone. The latch gates this too:
		// after an extreme buy, no second signal until RSI re-arms at 40.
		s.emit(&core.Signal{
			Symbol:    bar.Symbol,
			Kind:      core.SignalBuy,
			Strength:  0.5,
			Timestamp: bar.TradeDate,
			Meta:      meta,
		})
	case hasPrev && prev.GreaterThan(s.overbought) && rsi.LessThanOrEqual(s.overbought) && st.sellArmed:
		// Rollover out of the overbought zone, gated the same way at 60.
		s.emit(&core.Signal{
			Symbol:    bar.Symbol,
			Kind:      core.SignalSell,
			Strength:  0.5,
			Timestamp: bar.TradeDate,
			Meta:      meta,
		})
	}
}

func (s *RSIReversal) OnFill(ctx context.Context, fill *core.Fill) {}
