package strategy

import (
	"context"

	"quant_trader/internal/core"
	"quant_trader/internal/indicator"
)

// MACross trades moving-average crossovers: a golden cross (fast rises
// through slow) buys, a death cross sells.
type MACross struct {
	emitter
	fastPeriod int
	slowPeriod int
	symbols    map[string]*maCrossState
}

type maCrossState struct {
	fast     *indicator.SMA
	slow     *indicator.SMA
	prevDiff int // sign of fast-slow on the previous bar: -1, 0, +1
	hasPrev  bool
}

func NewMACross(params Params, publisher core.EventPublisher, logger core.ILogger) *MACross {
	fast := params.Int("fast_period", 5)
	slow := params.Int("slow_period", 20)
	if fast >= slow {
		fast, slow = 5, 20
	}
	return &MACross{
		emitter:    newEmitter("ma_cross", publisher, logger),
		fastPeriod: fast,
		slowPeriod: slow,
		symbols:    make(map[string]*maCrossState),
	}
}

func (s *MACross) Name() string { return s.name }

func (s *MACross) OnMarketData(ctx context.Context, bar *core.Bar) {
	if bar == nil || !bar.Close.IsPositive() {
		return
	}
	st, ok := s.symbols[bar.Symbol]
	if !ok {
		st = &maCrossState{
			fast: indicator.NewSMA(s.fastPeriod),
			slow: indicator.NewSMA(s.slowPeriod),
		}
		s.symbols[bar.Symbol] = st
	}

	st.fast.Update(bar.Close)
	st.slow.Update(bar.Close)
	fast, slow := st.fast.Value(), st.slow.Value()
	if fast == nil || slow == nil {
		return
	}

	diff := fast.Cmp(*slow)
	defer func() {
		st.prevDiff = diff
		st.hasPrev = true
	}()
	if !st.hasPrev {
		return
	}

	switch {
	case st.prevDiff <= 0 && diff > 0:
		s.emit(&core.Signal{
			Symbol:    bar.Symbol,
			Kind:      core.SignalBuy,
			Strength:  1.0,
			Timestamp: bar.TradeDate,
			Meta: map[string]string{
				"fast_ma": fast.StringFixed(4),
				"slow_ma": slow.StringFixed(4),
			},
		})
	case st.prevDiff >= 0 && diff < 0:
		s.emit(&core.Signal{
			Symbol:    bar.Symbol,
			Kind:      core.SignalSell,
			Strength:  1.0,
			Timestamp: bar.TradeDate,
			Meta: map[string]string{
				"fast_ma": fast.StringFixed(4),
				"slow_ma": slow.StringFixed(4),
			},
		})
	}
}

func (s *MACross) OnFill(ctx context.Context, fill *core.Fill) {}
