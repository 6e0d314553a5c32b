package indicator

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// RSI implements Wilder's relative strength index: the first average
// gain/loss is a simple mean of the first period changes, after which
// each update blends in at weight 1/period.
type RSI struct {
	period   int
	prev     decimal.Decimal
	hasPrev  bool
	avgGain  decimal.Decimal
	avgLoss  decimal.Decimal
	seen     int
	seedGain decimal.Decimal
	seedLoss decimal.Decimal
}

func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

func (r *RSI) Update(close decimal.Decimal) {
	if !r.hasPrev {
		r.prev = close
		r.hasPrev = true
		return
	}
	change := close.Sub(r.prev)
	r.prev = close

	gain, loss := decimal.Zero, decimal.Zero
	if change.IsPositive() {
		gain = change
	} else {
		loss = change.Neg()
	}

	n := decimal.NewFromInt(int64(r.period))
	switch {
	case r.seen < r.period:
		r.seedGain = r.seedGain.Add(gain)
		r.seedLoss = r.seedLoss.Add(loss)
		r.seen++
		if r.seen == r.period {
			r.avgGain = r.seedGain.Div(n)
			r.avgLoss = r.seedLoss.Div(n)
		}
	default:
		nm1 := decimal.NewFromInt(int64(r.period - 1))
		r.avgGain = r.avgGain.Mul(nm1).Add(gain).Div(n)
		r.avgLoss = r.avgLoss.Mul(nm1).Add(loss).Div(n)
		r.seen++
	}
}

func (r *RSI) Ready() bool { return r.seen >= r.period }

// Value returns RSI in [0,100], pinning to 100 when the loss average is
// zero (monotonic rally) and 0 when the gain average is zero.
func (r *RSI) Value() *decimal.Decimal {
	if !r.Ready() {
		return nil
	}
	var v decimal.Decimal
	switch {
	case r.avgLoss.IsZero() && r.avgGain.IsZero():
		v = decimal.NewFromInt(50)
	case r.avgLoss.IsZero():
		v = hundred
	default:
		rs := r.avgGain.Div(r.avgLoss)
		v = hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
	}
	return &v
}
