package strategy

import (
	"context"

	"github.com/shopspring/decimal"

	"quant_trader/internal/core"
	"quant_trader/internal/indicator"
)

const (
	bollModeReversion = "reversion"
	bollModeBreakout  = "breakout"
)

// Bollinger trades band touches in one of two modes. Reversion fades the
// touch: buy at the lower band, sell at the upper. Breakout follows it:
// buy through the upper band, sell through the lower. Either way a side
// fires once per excursion and re-arms when price closes back inside the
// bands.
type Bollinger struct {
	emitter
	period  int
	numStd  decimal.Decimal
	mode    string
	symbols map[string]*bollingerState
}

type bollingerState struct {
	ma        *indicator.SMA
	buyArmed  bool
	sellArmed bool
}

func NewBollinger(params Params, publisher core.EventPublisher, logger core.ILogger) *Bollinger {
	numStd := params.Decimal("num_std", "2")
	if !numStd.IsPositive() {
		numStd = decimal.NewFromInt(2)
	}
	mode := params.String("mode", bollModeReversion)
	if mode != bollModeReversion && mode != bollModeBreakout {
		mode = bollModeReversion
	}
	return &Bollinger{
		emitter: newEmitter("bollinger", publisher, logger),
		period:  params.Int("period", 20),
		numStd:  numStd,
		mode:    mode,
		symbols: make(map[string]*bollingerState),
	}
}

func (s *Bollinger) Name() string { return s.name }

func (s *Bollinger) OnMarketData(ctx context.Context, bar *core.Bar) {
	if bar == nil || !bar.Close.IsPositive() {
		return
	}
	st, ok := s.symbols[bar.Symbol]
	if !ok {
		st = &bollingerState{
			ma:        indicator.NewSMA(s.period),
			buyArmed:  true,
			sellArmed: true,
		}
		s.symbols[bar.Symbol] = st
	}

	st.ma.Update(bar.Close)
	mid, sd := st.ma.Value(), st.ma.StdDev()
	if mid == nil || sd == nil || !sd.IsPositive() {
		// A flat window collapses the bands onto the close.
		return
	}
	upper := mid.Add(sd.Mul(s.numStd))
	lower := mid.Sub(sd.Mul(s.numStd))

	var kind core.SignalKind
	var strength float64
	switch s.mode {
	case bollModeBreakout:
		switch {
		case bar.Close.GreaterThanOrEqual(upper) && st.buyArmed:
			kind, strength = core.SignalBuy, 1.0
			st.buyArmed = false
		case bar.Close.LessThanOrEqual(lower) && st.sellArmed:
			kind, strength = core.SignalSell, 1.0
			st.sellArmed = false
		}
	default: // reversion
		switch {
		case bar.Close.LessThanOrEqual(lower) && st.buyArmed:
			kind, strength = core.SignalBuy, 0.8
			st.buyArmed = false
		case bar.Close.GreaterThanOrEqual(upper) && st.sellArmed:
			kind, strength = core.SignalSell, 0.8
			st.sellArmed = false
		}
	}

	if bar.Close.GreaterThan(lower) && bar.Close.LessThan(upper) {
		st.buyArmed = true
		st.sellArmed = true
	}

	if kind == "" {
		return
	}
	s.emit(&core.Signal{
		Symbol:    bar.Symbol,
		Kind:      kind,
		Strength:  strength,
		Timestamp: bar.TradeDate,
		Meta: map[string]string{
			"mode":   s.mode,
			"upper":  upper.StringFixed(4),
			"middle": mid.StringFixed(4),
			"lower":  lower.StringFixed(4),
		},
	})
}

func (s *Bollinger) OnFill(ctx context.Context, fill *core.Fill) {}
