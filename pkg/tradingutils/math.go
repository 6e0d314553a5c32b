// Package tradingutils holds small price and quantity helpers shared by the
// simulator and strategies.
package tradingutils

import (
	"github.com/shopspring/decimal"
)

// RoundPrice rounds a price to the specified decimals, half-up. A-share
// prices use two decimals (0.01 tick).
func RoundPrice(price decimal.Decimal, priceDecimals int) decimal.Decimal {
	return price.Round(int32(priceDecimals))
}

// FloorToLot floors a share quantity to a whole number of lots.
func FloorToLot(quantity int64, lot int64) int64 {
	if lot <= 0 || quantity < 0 {
		return 0
	}
	return quantity / lot * lot
}

// SharesForBudget returns the largest lot-aligned quantity whose notional
// at price fits within budget. Zero when even one lot does not fit.
func SharesForBudget(budget, price decimal.Decimal, lot int64) int64 {
	if !price.IsPositive() || !budget.IsPositive() {
		return 0
	}
	shares := budget.Div(price).IntPart()
	return FloorToLot(shares, lot)
}

// CalculatePriceLevels generates count levels from an anchor at the given
// signed interval (negative for levels below the anchor).
func CalculatePriceLevels(anchorPrice, interval decimal.Decimal, count int) []decimal.Decimal {
	prices := make([]decimal.Decimal, 0, count)
	for i := 1; i <= count; i++ {
		prices = append(prices, anchorPrice.Add(interval.Mul(decimal.NewFromInt(int64(i)))))
	}
	return prices
}

// FindNearestGridPrice aligns a price to the nearest grid level based on an
// anchor and interval.
func FindNearestGridPrice(currentPrice, anchorPrice, interval decimal.Decimal) decimal.Decimal {
	if interval.IsZero() {
		return currentPrice
	}
	offset := currentPrice.Sub(anchorPrice)
	intervals := offset.Div(interval).Round(0)
	return anchorPrice.Add(intervals.Mul(interval))
}

// CalculateNetProfit computes the per-share profit of a round trip after
// both legs' fee rates. Grid strategies use it to skip levels whose spread
// cannot cover costs.
func CalculateNetProfit(buyPrice, sellPrice, buyFeeRate, sellFeeRate decimal.Decimal) decimal.Decimal {
	grossProfit := sellPrice.Sub(buyPrice)
	buyFee := buyPrice.Mul(buyFeeRate)
	sellFee := sellPrice.Mul(sellFeeRate)
	return grossProfit.Sub(buyFee).Sub(sellFee)
}
