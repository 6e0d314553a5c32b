package strategy

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"quant_trader/internal/core"
)

// Grid ladders into a falling price and harvests on the way back up. The
// band spans center*(1±range_pct) cut into rungs of step =
// center*range_pct/levels. Each downward rung crossing buys once; a bar
// whose close clears the cheapest unmatched buy by more than one step
// sells and retires that buy. One signal per bar, sells first. Price
// leaving the band halts the symbol until it re-enters; the grid never
// recenters on its own.
type Grid struct {
	emitter
	center   decimal.Decimal // zero adopts the first close per symbol
	rangePct decimal.Decimal
	levels   int
	strength float64
	symbols  map[string]*gridState
}

type gridState struct {
	center decimal.Decimal
	step   decimal.Decimal
	lower  decimal.Decimal
	upper  decimal.Decimal
	prev   decimal.Decimal
	buys   []decimal.Decimal // unmatched buy prices, cheapest first
	halted bool
}

func NewGrid(params Params, publisher core.EventPublisher, logger core.ILogger) *Grid {
	rangePct := params.Decimal("range_pct", "0.2")
	if !rangePct.IsPositive() {
		rangePct = decimal.NewFromFloat(0.2)
	}
	levels := params.Int("levels", 10)
	if levels <= 0 {
		levels = 10
	}
	strength := params.Float("strength", 0.5)
	if strength <= 0 || strength > 1 {
		strength = 0.5
	}
	return &Grid{
		emitter:  newEmitter("grid", publisher, logger),
		center:   params.Decimal("center", "0"),
		rangePct: rangePct,
		levels:   levels,
		strength: strength,
		symbols:  make(map[string]*gridState),
	}
}

func (s *Grid) Name() string { return s.name }

func (s *Grid) OnMarketData(ctx context.Context, bar *core.Bar) {
	if bar == nil || !bar.Close.IsPositive() {
		return
	}
	price := bar.Close
	st, ok := s.symbols[bar.Symbol]
	if !ok {
		st = s.newGridState(price)
		st.prev = price
		s.symbols[bar.Symbol] = st
		return
	}

	if price.GreaterThan(st.upper) || price.LessThan(st.lower) {
		if !st.halted {
			st.halted = true
			s.logger.Warn("price left grid band, symbol halted",
				"symbol", bar.Symbol,
				"price", price.StringFixed(4),
				"lower", st.lower.StringFixed(4),
				"upper", st.upper.StringFixed(4))
		}
		st.prev = price
		return
	}
	if st.halted {
		// Re-entry re-baselines the crossing reference; no trade on
		// the resume bar.
		st.halted = false
		st.prev = price
		s.logger.Info("price back inside grid band, symbol resumed",
			"symbol", bar.Symbol, "price", price.StringFixed(4))
		return
	}

	prev := st.prev
	st.prev = price

	if len(st.buys) > 0 && price.GreaterThan(st.buys[0].Add(st.step)) {
		matched := st.buys[0]
		st.buys = st.buys[1:]
		s.emit(&core.Signal{
			Symbol:    bar.Symbol,
			Kind:      core.SignalSell,
			Strength:  s.strength,
			Timestamp: bar.TradeDate,
			Meta: map[string]string{
				"matched_buy": matched.StringFixed(4),
				"tape_depth":  decimal.NewFromInt(int64(len(st.buys))).String(),
			},
		})
		return
	}

	rung, crossed := st.crossedRungBelow(prev, price)
	if !crossed {
		return
	}
	if len(st.buys) >= s.levels {
		s.logger.Debug("grid tape full, skipping buy",
			"symbol", bar.Symbol, "price", price.StringFixed(4))
		return
	}
	st.insertBuy(price)
	s.emit(&core.Signal{
		Symbol:    bar.Symbol,
		Kind:      core.SignalBuy,
		Strength:  s.strength,
		Timestamp: bar.TradeDate,
		Meta: map[string]string{
			"grid_rung":  rung.StringFixed(4),
			"tape_depth": decimal.NewFromInt(int64(len(st.buys))).String(),
		},
	})
}

func (s *Grid) OnFill(ctx context.Context, fill *core.Fill) {}

// UnmatchedBuys returns the open buy tape for a symbol, cheapest first.
func (s *Grid) UnmatchedBuys(symbol string) []decimal.Decimal {
	st, ok := s.symbols[symbol]
	if !ok {
		return nil
	}
	out := make([]decimal.Decimal, len(st.buys))
	copy(out, st.buys)
	return out
}

func (s *Grid) newGridState(firstClose decimal.Decimal) *gridState {
	center := s.center
	if !center.IsPositive() {
		center = firstClose
	}
	step := center.Mul(s.rangePct).Div(decimal.NewFromInt(int64(s.levels)))
	span := step.Mul(decimal.NewFromInt(int64(s.levels)))
	return &gridState{
		center: center,
		step:   step,
		lower:  center.Sub(span),
		upper:  center.Add(span),
	}
}

// crossedRungBelow reports whether the move prev -> price crossed a grid
// rung downward, i.e. some rung L satisfies price <= L < prev. Returns
// the highest such rung.
func (st *gridState) crossedRungBelow(prev, price decimal.Decimal) (decimal.Decimal, bool) {
	if price.GreaterThanOrEqual(prev) {
		return decimal.Zero, false
	}
	k := prev.Sub(st.lower).Div(st.step).Floor()
	if st.lower.Add(st.step.Mul(k)).Equal(prev) {
		k = k.Sub(decimal.NewFromInt(1))
	}
	if k.IsNegative() {
		return decimal.Zero, false
	}
	rung := st.lower.Add(st.step.Mul(k))
	if rung.GreaterThan(st.upper) {
		rung = st.upper
	}
	if price.GreaterThan(rung) {
		return decimal.Zero, false
	}
	return rung, true
}

func (st *gridState) insertBuy(p decimal.Decimal) {
	i := sort.Search(len(st.buys), func(i int) bool { return st.buys[i].GreaterThanOrEqual(p) })
	st.buys = append(st.buys, decimal.Zero)
	copy(st.buys[i+1:], st.buys[i:])
	st.buys[i] = p
}
