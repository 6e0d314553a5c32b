// Package costmodel prices the frictions of A-share trading: commission
// with a per-order floor, sell-side stamp tax, transfer fee, and a linear
// market-impact proxy. All outputs are quantized to fen (two decimals)
// with banker's rounding.
package costmodel

import (
	"github.com/shopspring/decimal"

	"quant_trader/internal/core"
)

// Config carries the fee schedule. Rates apply to notional.
type Config struct {
	CommissionRate  decimal.Decimal `yaml:"commission_rate"`
	MinCommission   decimal.Decimal `yaml:"min_commission"`
	StampTaxRate    decimal.Decimal `yaml:"stamp_tax_rate"`
	TransferFeeRate decimal.Decimal `yaml:"transfer_fee_rate"`
	ImpactRate      decimal.Decimal `yaml:"impact_rate"`
}

// DefaultConfig is the retail fee schedule: 0.03% commission with a 5 CNY
// floor, 0.1% stamp tax on sells, 0.002bp transfer fee, 1bp impact.
func DefaultConfig() Config {
	return Config{
		CommissionRate:  decimal.RequireFromString("0.0003"),
		MinCommission:   decimal.RequireFromString("5"),
		StampTaxRate:    decimal.RequireFromString("0.001"),
		TransferFeeRate: decimal.RequireFromString("0.00002"),
		ImpactRate:      decimal.RequireFromString("0.0001"),
	}
}

// Cost is the per-trade fee breakdown. MarketImpact is always reported as
// a positive cost: buys pay it on top, sells forgo it from proceeds.
type Cost struct {
	Commission   decimal.Decimal `json:"commission"`
	StampTax     decimal.Decimal `json:"stamp_tax"`
	TransferFee  decimal.Decimal `json:"transfer_fee"`
	MarketImpact decimal.Decimal `json:"market_impact"`
	Total        decimal.Decimal `json:"total"`
}

// Model computes trade costs from a fee schedule. Stateless and safe for
// concurrent use.
type Model struct {
	cfg Config
}

func New(cfg Config) *Model {
	return &Model{cfg: cfg}
}

// Calculate prices one execution. The symbol is part of the signature so a
// venue-specific schedule can hook in without touching call sites.
func (m *Model) Calculate(symbol string, side core.Side, quantity int64, price decimal.Decimal) Cost {
	notional := price.Mul(decimal.NewFromInt(quantity))

	commission := m.cfg.CommissionRate.Mul(notional)
	if commission.LessThan(m.cfg.MinCommission) {
		commission = m.cfg.MinCommission
	}

	stampTax := decimal.Zero
	if side == core.SideSell {
		stampTax = m.cfg.StampTaxRate.Mul(notional)
	}

	transferFee := m.cfg.TransferFeeRate.Mul(notional)
	impact := m.cfg.ImpactRate.Mul(notional)

	c := Cost{
		Commission:   commission.RoundBank(2),
		StampTax:     stampTax.RoundBank(2),
		TransferFee:  transferFee.RoundBank(2),
		MarketImpact: impact.RoundBank(2),
	}
	c.Total = c.Commission.Add(c.StampTax).Add(c.TransferFee).Add(c.MarketImpact)
	return c
}

// AdjustForImpact shifts a reference price against the taker: up for buys,
// down for sells. The simulator clamps the result into the daily band.
func (m *Model) AdjustForImpact(side core.Side, price decimal.Decimal) decimal.Decimal {
	shift := price.Mul(m.cfg.ImpactRate)
	if side == core.SideBuy {
		return price.Add(shift)
	}
	return price.Sub(shift)
}
