// Package indicator computes technical indicators incrementally over
// per-symbol bar sequences. Each accumulator is a small sliding-window
// state machine fed one closing bar at a time; values are nil until the
// window has warmed up, and arithmetic on unwarmed values is therefore a
// compile-visible nil check rather than a silent NaN.
package indicator

import (
	"time"

	"github.com/shopspring/decimal"
)

// MACDValue is the 12/26/9 MACD triple. Hist uses the Chinese-market
// convention of doubling the DIF-DEA gap.
type MACDValue struct {
	DIF  decimal.Decimal `json:"dif"`
	DEA  decimal.Decimal `json:"dea"`
	Hist decimal.Decimal `json:"hist"`
}

// BOLLValue is the 20-period, 2-sigma Bollinger band set.
type BOLLValue struct {
	Upper  decimal.Decimal `json:"upper"`
	Middle decimal.Decimal `json:"middle"`
	Lower  decimal.Decimal `json:"lower"`
	Width  decimal.Decimal `json:"width"`
}

// KDJValue is the 9/3/3 stochastic triple.
type KDJValue struct {
	K decimal.Decimal `json:"k"`
	D decimal.Decimal `json:"d"`
	J decimal.Decimal `json:"j"`
}

// Record is the full indicator snapshot for one symbol on one date.
// Pointer fields are nil while the corresponding window is warming up.
type Record struct {
	Symbol   string    `json:"symbol"`
	CalcDate time.Time `json:"calc_date"`

	MA5  *decimal.Decimal `json:"ma5,omitempty"`
	MA10 *decimal.Decimal `json:"ma10,omitempty"`
	MA20 *decimal.Decimal `json:"ma20,omitempty"`
	MA60 *decimal.Decimal `json:"ma60,omitempty"`

	MACD *MACDValue `json:"macd,omitempty"`

	RSI6  *decimal.Decimal `json:"rsi6,omitempty"`
	RSI12 *decimal.Decimal `json:"rsi12,omitempty"`
	RSI24 *decimal.Decimal `json:"rsi24,omitempty"`

	BOLL *BOLLValue `json:"boll,omitempty"`

	KDJ *KDJValue `json:"kdj,omitempty"`

	ATR14         *decimal.Decimal `json:"atr14,omitempty"`
	ATRNormalized *decimal.Decimal `json:"atr_normalized,omitempty"`
}
