// Package risk implements the pre-trade gate every live order passes
// before reaching the broker, plus the drawdown breaker that halts
// trading when intraday losses cross a threshold. The gate is stateless
// and never mutates its inputs; each rejection names the violated rule.
package risk

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"quant_trader/internal/core"
	apperrors "quant_trader/pkg/errors"
	"quant_trader/pkg/telemetry"
)

// fallbackReferencePrice values a market order when no quote is known.
// Deliberately high so cash and exposure checks overestimate the buy cost
// rather than wave through an order the account cannot carry.
var fallbackReferencePrice = decimal.NewFromInt(100)

// cashHeadroom overestimates a buy's cash need by 1% to leave room for
// commission and taxes settled on the fill.
var cashHeadroom = decimal.NewFromFloat(1.01)

// Rule names carried on rejections and used as the metrics label.
const (
	RuleOrderValueMin        = "order_value_min"
	RuleOrderValueMax        = "order_value_max"
	RuleInsufficientCash     = "insufficient_cash"
	RulePositionLimit        = "position_limit"
	RuleInsufficientPosition = "insufficient_position"
	RuleTotalExposure        = "total_exposure"
	RuleTradingHalted        = "trading_halted"
)

// Rejection is returned when a pre-trade check fails. It unwraps to
// ErrRiskRejected (and the closer sentinel when one exists) so callers
// classify with errors.Is while logs keep the human reason.
type Rejection struct {
	Rule   string
	Reason string
	cause  error
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("risk check rejected [%s]: %s", r.Rule, r.Reason)
}

func (r *Rejection) Unwrap() []error {
	if r.cause != nil {
		return []error{apperrors.ErrRiskRejected, r.cause}
	}
	return []error{apperrors.ErrRiskRejected}
}

// Config bounds order size and account concentration.
type Config struct {
	MaxPositionPct   decimal.Decimal // one symbol's share of total assets
	MaxTotalExposure decimal.Decimal // stock value's share of total assets
	MaxOrderValue    decimal.Decimal
	MinOrderValue    decimal.Decimal
}

// DefaultConfig mirrors the shipped config file.
func DefaultConfig() Config {
	return Config{
		MaxPositionPct:   decimal.NewFromFloat(0.10),
		MaxTotalExposure: decimal.NewFromFloat(0.95),
		MaxOrderValue:    decimal.NewFromInt(1_000_000),
		MinOrderValue:    decimal.NewFromInt(1_000),
	}
}

// Halter reports whether trading is halted. The drawdown breaker
// implements it.
type Halter interface {
	IsTripped() bool
}

// Manager is the pre-trade gate. It satisfies core.IRiskGate.
type Manager struct {
	cfg     Config
	halter  Halter // optional
	logger  core.ILogger
	metrics *telemetry.MetricsHolder
}

// NewManager builds a gate. halter may be nil.
func NewManager(cfg Config, halter Halter, logger core.ILogger) *Manager {
	return &Manager{
		cfg:     cfg,
		halter:  halter,
		logger:  logger.WithField("component", "risk"),
		metrics: telemetry.GetGlobalMetrics(),
	}
}

// Check runs every rule against the order and the account snapshot. The
// position may be nil when the account holds none of the symbol; lastPrice
// may be zero when no quote is known.
func (m *Manager) Check(ctx context.Context, o *core.Order, account *core.Account, position *core.Position, lastPrice decimal.Decimal) error {
	if m.halter != nil && m.halter.IsTripped() {
		return m.reject(o, &Rejection{
			Rule:   RuleTradingHalted,
			Reason: "drawdown breaker is open",
		})
	}

	price := m.referencePrice(o, lastPrice)
	notional := price.Mul(decimal.NewFromInt(o.Quantity))

	if m.cfg.MinOrderValue.IsPositive() && notional.LessThan(m.cfg.MinOrderValue) {
		return m.reject(o, &Rejection{
			Rule:   RuleOrderValueMin,
			Reason: fmt.Sprintf("order value %s below minimum %s", notional, m.cfg.MinOrderValue),
		})
	}
	if m.cfg.MaxOrderValue.IsPositive() && notional.GreaterThan(m.cfg.MaxOrderValue) {
		return m.reject(o, &Rejection{
			Rule:   RuleOrderValueMax,
			Reason: fmt.Sprintf("order value %s above maximum %s", notional, m.cfg.MaxOrderValue),
		})
	}

	switch o.Side {
	case core.SideBuy:
		if err := m.checkBuy(o, account, position, notional); err != nil {
			return err
		}
	case core.SideSell:
		if err := m.checkSell(o, position); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) checkBuy(o *core.Order, account *core.Account, position *core.Position, notional decimal.Decimal) error {
	need := notional.Mul(cashHeadroom)
	if need.GreaterThan(account.AvailableCash) {
		return m.reject(o, &Rejection{
			Rule:   RuleInsufficientCash,
			Reason: fmt.Sprintf("insufficient cash: need %s, available %s", need.Round(2), account.AvailableCash.Round(2)),
			cause:  apperrors.ErrInsufficientCash,
		})
	}

	if account.TotalAssets.IsPositive() {
		held := decimal.Zero
		if position != nil {
			held = position.MarketValue()
		}
		postTrade := held.Add(notional)
		limit := account.TotalAssets.Mul(m.cfg.MaxPositionPct)
		if m.cfg.MaxPositionPct.IsPositive() && postTrade.GreaterThan(limit) {
			return m.reject(o, &Rejection{
				Rule: RulePositionLimit,
				Reason: fmt.Sprintf("position value %s would exceed %s%% of total assets (%s)",
					postTrade.Round(2), m.cfg.MaxPositionPct.Mul(decimal.NewFromInt(100)), limit.Round(2)),
			})
		}

		exposure := account.StockValue.Add(notional)
		expLimit := account.TotalAssets.Mul(m.cfg.MaxTotalExposure)
		if m.cfg.MaxTotalExposure.IsPositive() && exposure.GreaterThan(expLimit) {
			return m.reject(o, &Rejection{
				Rule: RuleTotalExposure,
				Reason: fmt.Sprintf("total exposure %s would exceed limit %s",
					exposure.Round(2), expLimit.Round(2)),
			})
		}
	}
	return nil
}

func (m *Manager) checkSell(o *core.Order, position *core.Position) error {
	available := int64(0)
	if position != nil {
		available = position.AvailableQuantity
	}
	// T+1: shares bought today exist in the position but are not sellable.
	if o.Quantity > available {
		return m.reject(o, &Rejection{
			Rule:   RuleInsufficientPosition,
			Reason: fmt.Sprintf("sell %d exceeds available quantity %d", o.Quantity, available),
			cause:  apperrors.ErrInsufficientPosition,
		})
	}
	return nil
}

// referencePrice picks the price used to value the order: the limit price,
// the last quote, or the conservative fallback.
func (m *Manager) referencePrice(o *core.Order, lastPrice decimal.Decimal) decimal.Decimal {
	if o.Price.IsPositive() {
		return o.Price
	}
	if lastPrice.IsPositive() {
		return lastPrice
	}
	return fallbackReferencePrice
}

func (m *Manager) reject(o *core.Order, rej *Rejection) error {
	if m.metrics != nil && m.metrics.RiskRejectionsTotal != nil {
		m.metrics.RiskRejectionsTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("rule", rej.Rule)))
	}
	m.logger.Warn("pre-trade check failed",
		"order_id", o.ID, "symbol", o.Symbol, "side", string(o.Side),
		"rule", rej.Rule, "reason", rej.Reason)
	return rej
}
