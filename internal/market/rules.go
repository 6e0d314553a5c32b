package market

import (
	"github.com/shopspring/decimal"
)

// BoardLot is the minimum tradable unit. All mainland equities and ETFs
// trade in multiples of 100 shares.
const BoardLot = 100

// PriceTick is the minimum price increment for A-share equities.
var PriceTick = decimal.NewFromFloat(0.01)

var (
	limitMain = decimal.NewFromFloat(0.10)
	limitWide = decimal.NewFromFloat(0.20) // STAR and GEM
)

// PriceLimitRatio returns the daily price-limit band around the previous
// close for the symbol's board. HK symbols carry no daily limit; the
// returned zero ratio means "unbounded" and callers must check HasLimit.
func PriceLimitRatio(sym Symbol) (ratio decimal.Decimal, hasLimit bool) {
	switch BoardOf(sym) {
	case BoardSTAR, BoardGEM:
		return limitWide, true
	case BoardHK:
		return decimal.Zero, false
	default:
		return limitMain, true
	}
}

// LimitPrices computes the daily upper and lower price limits from the
// previous close, rounded to the price tick half-up. preClose must be
// positive; a zero preClose yields zero limits and callers treat the bar
// as unusable for limit checks.
func LimitPrices(sym Symbol, preClose decimal.Decimal) (upper, lower decimal.Decimal, hasLimit bool) {
	ratio, ok := PriceLimitRatio(sym)
	if !ok || !preClose.IsPositive() {
		return decimal.Zero, decimal.Zero, false
	}
	one := decimal.NewFromInt(1)
	upper = RoundToTick(preClose.Mul(one.Add(ratio)))
	lower = RoundToTick(preClose.Mul(one.Sub(ratio)))
	return upper, lower, true
}

// RoundToTick rounds a price to the 0.01 tick, half-up.
func RoundToTick(price decimal.Decimal) decimal.Decimal {
	return price.Round(2)
}

// RoundToLot floors a share quantity to a whole number of board lots.
func RoundToLot(quantity int64) int64 {
	if quantity < 0 {
		return 0
	}
	return quantity / BoardLot * BoardLot
}

// ClampToLimits bounds a fill price into [lower, upper]. Prices are assumed
// tick-rounded already.
func ClampToLimits(price, upper, lower decimal.Decimal) decimal.Decimal {
	if price.GreaterThan(upper) {
		return upper
	}
	if price.LessThan(lower) {
		return lower
	}
	return price
}
