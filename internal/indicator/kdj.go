package indicator

import "github.com/shopspring/decimal"

var (
	two   = decimal.NewFromInt(2)
	three = decimal.NewFromInt(3)
	fifty = decimal.NewFromInt(50)
)

// KDJ is the 9/3/3 stochastic oscillator. K and D start at the neutral
// 50 and are smoothed 2:1 toward each new RSV, matching the recursive
// formula mainland terminals use.
type KDJ struct {
	highs *rollingExtreme
	lows  *rollingExtreme
	k     decimal.Decimal
	d     decimal.Decimal
}

func NewKDJ(period int) *KDJ {
	return &KDJ{
		highs: newRollingExtreme(period),
		lows:  newRollingExtreme(period),
		k:     fifty,
		d:     fifty,
	}
}

func (s *KDJ) Update(high, low, close decimal.Decimal) {
	s.highs.Update(high)
	s.lows.Update(low)
	if !s.highs.Ready() {
		return
	}
	hh := s.highs.Max()
	ll := s.lows.Min()

	// Flat window: hold RSV at neutral rather than dividing by zero.
	rsv := fifty
	if span := hh.Sub(ll); !span.IsZero() {
		rsv = close.Sub(ll).Div(span).Mul(hundred)
	}
	s.k = s.k.Mul(two).Add(rsv).Div(three)
	s.d = s.d.Mul(two).Add(s.k).Div(three)
}

func (s *KDJ) Ready() bool { return s.highs.Ready() }

func (s *KDJ) Value() *KDJValue {
	if !s.Ready() {
		return nil
	}
	return &KDJValue{
		K: s.k,
		D: s.d,
		J: s.k.Mul(three).Sub(s.d.Mul(two)),
	}
}
