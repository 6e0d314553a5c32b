package strategy

import (
	"context"

	"github.com/shopspring/decimal"

	"quant_trader/internal/core"
	"quant_trader/internal/indicator"
)

// MeanReversion fades stretches away from a rolling mean: a close far
// enough below the mean buys, far enough above sells. One signal per
// excursion; the latch re-arms once price returns inside the band.
type MeanReversion struct {
	emitter
	period    int
	threshold decimal.Decimal // deviation fraction that triggers a signal
	symbols   map[string]*meanRevState
}

type meanRevState struct {
	ma        *indicator.SMA
	buyArmed  bool
	sellArmed bool
}

func NewMeanReversion(params Params, publisher core.EventPublisher, logger core.ILogger) *MeanReversion {
	threshold := params.Decimal("threshold_pct", "0.05")
	if !threshold.IsPositive() {
		threshold = decimal.NewFromFloat(0.05)
	}
	return &MeanReversion{
		emitter:   newEmitter("mean_reversion", publisher, logger),
		period:    params.Int("period", 20),
		threshold: threshold,
		symbols:   make(map[string]*meanRevState),
	}
}

func (s *MeanReversion) Name() string { return s.name }

func (s *MeanReversion) OnMarketData(ctx context.Context, bar *core.Bar) {
	if bar == nil || !bar.Close.IsPositive() {
		return
	}
	st, ok := s.symbols[bar.Symbol]
	if !ok {
		st = &meanRevState{
			ma:        indicator.NewSMA(s.period),
			buyArmed:  true,
			sellArmed: true,
		}
		s.symbols[bar.Symbol] = st
	}

	st.ma.Update(bar.Close)
	mean := st.ma.Value()
	if mean == nil || !mean.IsPositive() {
		return
	}

	deviation := bar.Close.Sub(*mean).Div(*mean)
	meta := map[string]string{
		"mean":      mean.StringFixed(4),
		"deviation": deviation.StringFixed(4),
	}

	switch {
	case deviation.LessThanOrEqual(s.threshold.Neg()):
		if st.buyArmed {
			st.buyArmed = false
			s.emit(&core.Signal{
				Symbol:    bar.Symbol,
				Kind:      core.SignalBuy,
				Strength:  strengthFromStretch(deviation.Abs(), s.threshold),
				Timestamp: bar.TradeDate,
				Meta:      meta,
			})
		}
	case deviation.GreaterThanOrEqual(s.threshold):
		if st.sellArmed {
			st.sellArmed = false
			s.emit(&core.Signal{
				Symbol:    bar.Symbol,
				Kind:      core.SignalSell,
				Strength:  strengthFromStretch(deviation, s.threshold),
				Timestamp: bar.TradeDate,
				Meta:      meta,
			})
		}
	default:
		// Back inside the band: both sides may fire again.
		st.buyArmed = true
		st.sellArmed = true
	}
}

func (s *MeanReversion) OnFill(ctx context.Context, fill *core.Fill) {}

// strengthFromStretch scales conviction with how far price sits beyond the
// threshold: 0.5 at the threshold, 1.0 at twice the threshold.
func strengthFromStretch(stretch, threshold decimal.Decimal) float64 {
	ratio := stretch.Div(threshold).InexactFloat64() * 0.5
	if ratio > 1 {
		return 1
	}
	return ratio
}
