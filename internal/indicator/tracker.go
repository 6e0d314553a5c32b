package indicator

import (
	"quant_trader/internal/core"
)

// Tracker folds one symbol's daily bars into the full indicator set. Feed
// bars strictly in trade-date order; each Update returns the snapshot as
// of that bar, with nil fields for windows still warming up.
type Tracker struct {
	symbol string

	ma5  *SMA
	ma10 *SMA
	ma20 *SMA
	ma60 *SMA

	macd  *MACD
	rsi6  *RSI
	rsi12 *RSI
	rsi24 *RSI
	kdj   *KDJ
	atr   *ATR

	last *Record
}

func NewTracker(symbol string) *Tracker {
	return &Tracker{
		symbol: symbol,
		ma5:    NewSMA(5),
		ma10:   NewSMA(10),
		ma20:   NewSMA(20),
		ma60:   NewSMA(60),
		macd:   NewMACD(12, 26, 9),
		rsi6:   NewRSI(6),
		rsi12:  NewRSI(12),
		rsi24:  NewRSI(24),
		kdj:    NewKDJ(9),
		atr:    NewATR(14),
	}
}

func (t *Tracker) Symbol() string { return t.symbol }

// Update consumes one bar and returns the indicator record for its date.
func (t *Tracker) Update(bar *core.Bar) *Record {
	c := bar.Close
	t.ma5.Update(c)
	t.ma10.Update(c)
	t.ma20.Update(c)
	t.ma60.Update(c)
	t.macd.Update(c)
	t.rsi6.Update(c)
	t.rsi12.Update(c)
	t.rsi24.Update(c)
	t.kdj.Update(bar.High, bar.Low, c)
	t.atr.Update(bar.High, bar.Low, c)

	rec := &Record{
		Symbol:   t.symbol,
		CalcDate: bar.TradeDate,
		MA5:      t.ma5.Value(),
		MA10:     t.ma10.Value(),
		MA20:     t.ma20.Value(),
		MA60:     t.ma60.Value(),
		MACD:     t.macd.Value(),
		RSI6:     t.rsi6.Value(),
		RSI12:    t.rsi12.Value(),
		RSI24:    t.rsi24.Value(),
		KDJ:      t.kdj.Value(),
	}

	// BOLL shares the 20-day close window with MA20.
	if mid := t.ma20.Value(); mid != nil {
		sd := t.ma20.StdDev()
		band := sd.Mul(two)
		upper := mid.Add(band)
		lower := mid.Sub(band)
		boll := &BOLLValue{Upper: upper, Middle: *mid, Lower: lower}
		if !mid.IsZero() {
			boll.Width = upper.Sub(lower).Div(*mid)
		}
		rec.BOLL = boll
	}

	if atr := t.atr.Value(); atr != nil {
		rec.ATR14 = atr
		if !c.IsZero() {
			norm := atr.Div(c)
			rec.ATRNormalized = &norm
		}
	}

	t.last = rec
	return rec
}

// Last returns the most recent record, or nil before the first Update.
func (t *Tracker) Last() *Record { return t.last }

// Series replays a bar history through a fresh tracker and returns one
// record per bar.
func Series(symbol string, bars []*core.Bar) []*Record {
	t := NewTracker(symbol)
	out := make([]*Record, 0, len(bars))
	for _, b := range bars {
		out = append(out, t.Update(b))
	}
	return out
}
