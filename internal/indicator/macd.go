package indicator

import "github.com/shopspring/decimal"

// MACD combines a fast and a slow EMA of the close with a signal EMA of
// their difference. The histogram doubles (DIF - DEA) per the convention
// used by mainland terminals, so values line up with what traders see.
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA
	warm   int
	min    int
}

// NewMACD builds a fast/slow/signal MACD, conventionally 12/26/9.
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fast:   NewEMA(fast),
		slow:   NewEMA(slow),
		signal: NewEMA(signal),
		// Values before the slow EMA has seen a full period are noise;
		// hold back output until then.
		min: slow + signal,
	}
}

func (m *MACD) Update(close decimal.Decimal) {
	m.fast.Update(close)
	m.slow.Update(close)
	dif := m.fast.value.Sub(m.slow.value)
	m.signal.Update(dif)
	if m.warm < m.min {
		m.warm++
	}
}

func (m *MACD) Ready() bool { return m.warm >= m.min }

func (m *MACD) Value() *MACDValue {
	if !m.Ready() {
		return nil
	}
	dif := m.fast.value.Sub(m.slow.value)
	dea := m.signal.value
	return &MACDValue{
		DIF:  dif,
		DEA:  dea,
		Hist: dif.Sub(dea).Mul(decimal.NewFromInt(2)),
	}
}
