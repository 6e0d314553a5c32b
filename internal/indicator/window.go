package indicator

import (
	"math"

	"github.com/shopspring/decimal"
)

// SMA is a simple moving average over a fixed-size window with a running
// sum, so each update is O(1) regardless of period.
type SMA struct {
	period int
	values []decimal.Decimal
	sum    decimal.Decimal
	head   int
	count  int
}

func NewSMA(period int) *SMA {
	return &SMA{
		period: period,
		values: make([]decimal.Decimal, period),
	}
}

func (s *SMA) Update(v decimal.Decimal) {
	if s.count == s.period {
		s.sum = s.sum.Sub(s.values[s.head])
	} else {
		s.count++
	}
	s.values[s.head] = v
	s.sum = s.sum.Add(v)
	s.head = (s.head + 1) % s.period
}

func (s *SMA) Ready() bool { return s.count == s.period }

// Value returns the current average, or nil while warming up.
func (s *SMA) Value() *decimal.Decimal {
	if !s.Ready() {
		return nil
	}
	v := s.sum.Div(decimal.NewFromInt(int64(s.period)))
	return &v
}

// StdDev returns the population standard deviation of the window. BOLL
// bands use population sigma, matching the mainland quote-vendor
// convention rather than the sample estimator.
func (s *SMA) StdDev() *decimal.Decimal {
	mean := s.Value()
	if mean == nil {
		return nil
	}
	sumSq := decimal.Zero
	for _, v := range s.values {
		d := v.Sub(*mean)
		sumSq = sumSq.Add(d.Mul(d))
	}
	variance, _ := sumSq.Div(decimal.NewFromInt(int64(s.period))).Float64()
	sd := decimal.NewFromFloat(math.Sqrt(variance))
	return &sd
}

// EMA is an exponentially weighted average with alpha = 2/(period+1),
// seeded from the first observation.
type EMA struct {
	period int
	value  decimal.Decimal
	seeded bool
}

func NewEMA(period int) *EMA {
	return &EMA{period: period}
}

func (e *EMA) Update(v decimal.Decimal) {
	if !e.seeded {
		e.value = v
		e.seeded = true
		return
	}
	n := decimal.NewFromInt(int64(e.period))
	two := decimal.NewFromInt(2)
	// value += (v - value) * 2 / (period + 1)
	e.value = e.value.Add(v.Sub(e.value).Mul(two).Div(n.Add(decimal.NewFromInt(1))))
}

func (e *EMA) Ready() bool { return e.seeded }

func (e *EMA) Value() *decimal.Decimal {
	if !e.seeded {
		return nil
	}
	v := e.value
	return &v
}

// rollingExtreme tracks the max or min of the last period values. The
// window is small (KDJ uses 9) so a linear scan on read is fine.
type rollingExtreme struct {
	period int
	values []decimal.Decimal
	head   int
	count  int
}

func newRollingExtreme(period int) *rollingExtreme {
	return &rollingExtreme{period: period, values: make([]decimal.Decimal, period)}
}

func (r *rollingExtreme) Update(v decimal.Decimal) {
	r.values[r.head] = v
	r.head = (r.head + 1) % r.period
	if r.count < r.period {
		r.count++
	}
}

func (r *rollingExtreme) Ready() bool { return r.count == r.period }

func (r *rollingExtreme) Max() decimal.Decimal {
	m := r.values[0]
	for _, v := range r.values[1:r.count] {
		if v.GreaterThan(m) {
			m = v
		}
	}
	return m
}

func (r *rollingExtreme) Min() decimal.Decimal {
	m := r.values[0]
	for _, v := range r.values[1:r.count] {
		if v.LessThan(m) {
			m = v
		}
	}
	return m
}
