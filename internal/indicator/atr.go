package indicator

import "github.com/shopspring/decimal"

// ATR averages the true range over a fixed window. True range widens the
// bar's high-low span by any gap from the prior close.
type ATR struct {
	window    *SMA
	prevClose decimal.Decimal
	hasPrev   bool
}

func NewATR(period int) *ATR {
	return &ATR{window: NewSMA(period)}
}

func (a *ATR) Update(high, low, close decimal.Decimal) {
	tr := high.Sub(low)
	if a.hasPrev {
		if d := high.Sub(a.prevClose).Abs(); d.GreaterThan(tr) {
			tr = d
		}
		if d := low.Sub(a.prevClose).Abs(); d.GreaterThan(tr) {
			tr = d
		}
	}
	a.prevClose = close
	a.hasPrev = true
	a.window.Update(tr)
}

func (a *ATR) Ready() bool { return a.window.Ready() }

func (a *ATR) Value() *decimal.Decimal { return a.window.Value() }
