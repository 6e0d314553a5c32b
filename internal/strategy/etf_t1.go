package strategy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"quant_trader/internal/core"
	"quant_trader/internal/market"
)

const (
	etfModeRegular = "regular"
	etfModeReverse = "reverse"
	etfModeAuto    = "auto"
)

type etfPhase string

const (
	etfIdle        etfPhase = "idle"
	etfWaitingBuy  etfPhase = "waiting_buy"
	etfWaitingSell etfPhase = "waiting_sell"
)

// ETFT1 swing-trades an ETF around the T+1 settlement rule. Regular mode
// buys an intraday dip and sells the leg no earlier than the next trading
// day, once price clears the entry by min_edge_pct. Reverse mode sells an
// existing holding into a pop and buys it back cheaper the next day. Auto
// opens with whichever trigger fires first. The per-symbol phase is named
// after the leg it is waiting to emit; a leg whose fill never arrives by
// the next bar day resets the symbol to idle.
type ETFT1 struct {
	emitter
	mode       string
	triggerPct decimal.Decimal
	minEdgePct decimal.Decimal
	strength   float64
	symbols    map[string]*etfState
}

type etfState struct {
	phase        etfPhase
	prevClose    decimal.Decimal
	hasPrev      bool
	entry        decimal.Decimal
	entryDay     time.Time
	signalDay    time.Time
	awaitingFill bool
}

func NewETFT1(params Params, publisher core.EventPublisher, logger core.ILogger) *ETFT1 {
	mode := params.String("mode", etfModeRegular)
	if mode != etfModeRegular && mode != etfModeReverse && mode != etfModeAuto {
		mode = etfModeRegular
	}
	trigger := params.Decimal("trigger_pct", "0.02")
	if !trigger.IsPositive() {
		trigger = decimal.NewFromFloat(0.02)
	}
	edge := params.Decimal("min_edge_pct", "0.01")
	if !edge.IsPositive() {
		edge = decimal.NewFromFloat(0.01)
	}
	strength := params.Float("strength", 0.5)
	if strength <= 0 || strength > 1 {
		strength = 0.5
	}
	return &ETFT1{
		emitter:    newEmitter("etf_t1", publisher, logger),
		mode:       mode,
		triggerPct: trigger,
		minEdgePct: edge,
		strength:   strength,
		symbols:    make(map[string]*etfState),
	}
}

func (s *ETFT1) Name() string { return s.name }

func (s *ETFT1) OnMarketData(ctx context.Context, bar *core.Bar) {
	if bar == nil || !bar.Close.IsPositive() {
		return
	}
	st, ok := s.symbols[bar.Symbol]
	if !ok {
		st = &etfState{phase: etfIdle}
		s.symbols[bar.Symbol] = st
	}

	close := bar.Close
	day := tradeDay(bar.TradeDate)

	// An open leg whose fill never showed up by the next day was
	// dropped somewhere downstream; forget it.
	if st.awaitingFill && st.phase != etfIdle && day.After(st.signalDay) {
		s.logger.Warn("open leg never filled, resetting to idle",
			"symbol", bar.Symbol, "phase", string(st.phase))
		st.phase = etfIdle
		st.awaitingFill = false
	}

	one := decimal.NewFromInt(1)
	switch st.phase {
	case etfIdle:
		ref := bar.PreClose
		if !ref.IsPositive() {
			if !st.hasPrev {
				break
			}
			ref = st.prevClose
		}
		dip := close.LessThanOrEqual(ref.Mul(one.Sub(s.triggerPct)))
		pop := close.GreaterThanOrEqual(ref.Mul(one.Add(s.triggerPct)))
		switch {
		case dip && (s.mode == etfModeRegular || s.mode == etfModeAuto):
			st.open(etfWaitingSell, close, day)
			s.emit(&core.Signal{
				Symbol:    bar.Symbol,
				Kind:      core.SignalBuy,
				Strength:  s.strength,
				Timestamp: bar.TradeDate,
				Meta:      map[string]string{"leg": "open", "mode": s.mode, "ref": ref.StringFixed(4)},
			})
		case pop && (s.mode == etfModeReverse || s.mode == etfModeAuto):
			st.open(etfWaitingBuy, close, day)
			s.emit(&core.Signal{
				Symbol:    bar.Symbol,
				Kind:      core.SignalSell,
				Strength:  s.strength,
				Timestamp: bar.TradeDate,
				Meta:      map[string]string{"leg": "open", "mode": s.mode, "ref": ref.StringFixed(4)},
			})
		}
	case etfWaitingSell:
		if day.After(st.entryDay) && close.GreaterThanOrEqual(st.entry.Mul(one.Add(s.minEdgePct))) {
			st.phase = etfIdle
			s.emit(&core.Signal{
				Symbol:    bar.Symbol,
				Kind:      core.SignalSell,
				Strength:  s.strength,
				Timestamp: bar.TradeDate,
				Meta:      map[string]string{"leg": "close", "entry": st.entry.StringFixed(4)},
			})
		}
	case etfWaitingBuy:
		if day.After(st.entryDay) && close.LessThanOrEqual(st.entry.Mul(one.Sub(s.minEdgePct))) {
			st.phase = etfIdle
			s.emit(&core.Signal{
				Symbol:    bar.Symbol,
				Kind:      core.SignalBuy,
				Strength:  s.strength,
				Timestamp: bar.TradeDate,
				Meta:      map[string]string{"leg": "close", "entry": st.entry.StringFixed(4)},
			})
		}
	}

	st.prevClose = close
	st.hasPrev = true
}

// OnFill pins the open leg to its executed price and day, so the closing
// edge is measured from what the account actually paid.
func (s *ETFT1) OnFill(ctx context.Context, fill *core.Fill) {
	if fill == nil {
		return
	}
	st, ok := s.symbols[fill.Symbol]
	if !ok || !st.awaitingFill {
		return
	}
	match := (st.phase == etfWaitingSell && fill.Side == core.SideBuy) ||
		(st.phase == etfWaitingBuy && fill.Side == core.SideSell)
	if !match {
		return
	}
	st.awaitingFill = false
	st.entry = fill.Price
	st.entryDay = tradeDay(fill.Timestamp)
}

// Phase reports the per-symbol leg state, idle when the symbol is unknown.
func (s *ETFT1) Phase(symbol string) string {
	st, ok := s.symbols[symbol]
	if !ok {
		return string(etfIdle)
	}
	return string(st.phase)
}

func (st *etfState) open(next etfPhase, price decimal.Decimal, day time.Time) {
	st.phase = next
	st.entry = price
	st.entryDay = day
	st.signalDay = day
	st.awaitingFill = true
}

func tradeDay(t time.Time) time.Time {
	loc := market.ExchangeTZ()
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
