package risk

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quant_trader/internal/core"
	"quant_trader/internal/logging"
	apperrors "quant_trader/pkg/errors"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newGate(t *testing.T, halter Halter) *Manager {
	t.Helper()
	logger := logging.NewLogger(logging.ErrorLevel, io.Discard)
	return NewManager(DefaultConfig(), halter, logger)
}

func account(availableCash, stockValue string) *core.Account {
	cash := dec(availableCash)
	stock := dec(stockValue)
	return &core.Account{
		AccountID:     "paper",
		CashBalance:   cash,
		AvailableCash: cash,
		StockValue:    stock,
		TotalAssets:   cash.Add(stock),
	}
}

func buyOrder(qty int64, price string) *core.Order {
	return &core.Order{
		ID:        "ord-buy",
		AccountID: "paper",
		Symbol:    "600036.SH",
		Side:      core.SideBuy,
		Type:      core.OrderTypeLimit,
		Quantity:  qty,
		Price:     dec(price),
		Status:    core.StatusCreated,
		CreatedAt: time.Now(),
	}
}

func sellOrder(qty int64, price string) *core.Order {
	o := buyOrder(qty, price)
	o.ID = "ord-sell"
	o.Side = core.SideSell
	return o
}

func TestBuyWithinLimitsPasses(t *testing.T) {
	gate := newGate(t, nil)
	acct := account("1000000", "0")

	err := gate.Check(context.Background(), buyOrder(1000, "40"), acct, nil, decimal.Zero)
	assert.NoError(t, err)
}

func TestBuyRejectedOnInsufficientCash(t *testing.T) {
	gate := newGate(t, nil)
	// 100 shares at 40.00 needs 4040 with headroom; the account has 1000.
	acct := account("1000", "0")

	err := gate.Check(context.Background(), buyOrder(100, "40"), acct, nil, decimal.Zero)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrRiskRejected)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientCash)

	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, RuleInsufficientCash, rej.Rule)
	assert.Contains(t, rej.Reason, "cash")
}

func TestOrderValueBounds(t *testing.T) {
	gate := newGate(t, nil)
	acct := account("5000000", "0")

	// 100 shares at 5.00 is 500, under the 1000 floor.
	err := gate.Check(context.Background(), buyOrder(100, "5"), acct, nil, decimal.Zero)
	require.Error(t, err)
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, RuleOrderValueMin, rej.Rule)

	// 30000 shares at 40.00 is 1.2M, over the 1M ceiling.
	err = gate.Check(context.Background(), buyOrder(30000, "40"), acct, nil, decimal.Zero)
	require.Error(t, err)
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, RuleOrderValueMax, rej.Rule)
}

func TestBuyRejectedOnPositionConcentration(t *testing.T) {
	gate := newGate(t, nil)
	// Total assets 1M; 10% cap allows 100k per symbol.
	acct := account("900000", "100000")
	position := &core.Position{
		AccountID:         "paper",
		Symbol:            "600036.SH",
		Quantity:          2000,
		AvailableQuantity: 2000,
		AvgCost:           dec("40"),
		LastPrice:         dec("45"), // 90k held
	}

	// Another 20k would put the symbol at 110k.
	err := gate.Check(context.Background(), buyOrder(500, "40"), acct, position, decimal.Zero)
	require.Error(t, err)
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, RulePositionLimit, rej.Rule)
}

func TestBuyRejectedOnTotalExposure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPositionPct = decimal.NewFromInt(1) // isolate the exposure rule
	logger := logging.NewLogger(logging.ErrorLevel, io.Discard)
	gate := NewManager(cfg, nil, logger)

	// 950k already in stock of a 1M book leaves no room under 95%.
	acct := account("50000", "950000")
	err := gate.Check(context.Background(), buyOrder(100, "40"), acct, nil, decimal.Zero)
	require.Error(t, err)
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, RuleTotalExposure, rej.Rule)
}

func TestSellLimitedToAvailableQuantity(t *testing.T) {
	gate := newGate(t, nil)
	acct := account("100000", "80000")
	position := &core.Position{
		AccountID:         "paper",
		Symbol:            "600036.SH",
		Quantity:          2000,
		AvailableQuantity: 1000, // 1000 bought today, locked by T+1
		AvgCost:           dec("40"),
		LastPrice:         dec("40"),
	}

	assert.NoError(t, gate.Check(context.Background(), sellOrder(1000, "40"), acct, position, decimal.Zero))

	err := gate.Check(context.Background(), sellOrder(2000, "40"), acct, position, decimal.Zero)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientPosition)
}

func TestSellWithoutPositionRejected(t *testing.T) {
	gate := newGate(t, nil)
	acct := account("100000", "0")

	err := gate.Check(context.Background(), sellOrder(100, "40"), acct, nil, decimal.Zero)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientPosition)
}

func TestMarketOrderUsesLastPriceThenFallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPositionPct = decimal.NewFromInt(1) // isolate the price fallback
	cfg.MaxTotalExposure = decimal.NewFromInt(1)
	logger := logging.NewLogger(logging.ErrorLevel, io.Discard)
	gate := NewManager(cfg, nil, logger)
	acct := account("30000", "0")

	o := buyOrder(200, "40")
	o.Type = core.OrderTypeMarket
	o.Price = decimal.Zero

	// With a 40.00 quote the order needs ~8080, well within cash.
	assert.NoError(t, gate.Check(context.Background(), o, acct, nil, dec("40")))

	// Without a quote the fallback values 200 shares at 100.00: 20200 with
	// headroom, still fine; 400 shares would not be.
	assert.NoError(t, gate.Check(context.Background(), o, acct, nil, decimal.Zero))
	o.Quantity = 400
	err := gate.Check(context.Background(), o, acct, nil, decimal.Zero)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientCash)
}

type stubHalter struct{ tripped bool }

func (h *stubHalter) IsTripped() bool { return h.tripped }

func TestHaltedGateRejectsEverything(t *testing.T) {
	halter := &stubHalter{tripped: true}
	gate := newGate(t, halter)
	acct := account("1000000", "0")

	err := gate.Check(context.Background(), buyOrder(1000, "40"), acct, nil, decimal.Zero)
	require.Error(t, err)
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, RuleTradingHalted, rej.Rule)

	halter.tripped = false
	assert.NoError(t, gate.Check(context.Background(), buyOrder(1000, "40"), acct, nil, decimal.Zero))
}

func TestCheckNeverMutatesInputs(t *testing.T) {
	gate := newGate(t, nil)
	acct := account("1000", "0")
	o := buyOrder(100, "40")
	before := *o

	_ = gate.Check(context.Background(), o, acct, nil, decimal.Zero)
	assert.Equal(t, before.Status, o.Status)
	assert.Empty(t, o.RejectReason, "gate must not write the order; the caller owns transitions")
}
