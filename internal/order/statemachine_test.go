package order

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quant_trader/internal/core"
	apperrors "quant_trader/pkg/errors"
)

func testOrder(status core.OrderStatus) *core.Order {
	return &core.Order{
		ID:        "ord-1",
		AccountID: "paper",
		Symbol:    "600036.SH",
		Side:      core.SideBuy,
		Type:      core.OrderTypeLimit,
		Quantity:  200,
		Price:     decimal.NewFromFloat(40.00),
		Status:    status,
		CreatedAt: time.Date(2025, 6, 2, 9, 35, 0, 0, time.UTC),
	}
}

func TestCanTransitionHappyPath(t *testing.T) {
	path := []core.OrderStatus{
		core.StatusCreated,
		core.StatusValidated,
		core.StatusSubmitted,
		core.StatusAccepted,
		core.StatusPartiallyFilled,
		core.StatusFilled,
	}
	for i := 0; i < len(path)-1; i++ {
		assert.True(t, CanTransition(path[i], path[i+1]),
			"%s -> %s should be legal", path[i], path[i+1])
	}
}

func TestCanTransitionForbidsSkips(t *testing.T) {
	assert.False(t, CanTransition(core.StatusCreated, core.StatusFilled))
	assert.False(t, CanTransition(core.StatusCreated, core.StatusSubmitted))
	assert.False(t, CanTransition(core.StatusCreated, core.StatusAccepted))
}

func TestTerminalStatesAreFinal(t *testing.T) {
	terminals := []core.OrderStatus{
		core.StatusFilled, core.StatusCanceled, core.StatusRejected, core.StatusExpired,
	}
	all := []core.OrderStatus{
		core.StatusCreated, core.StatusValidated, core.StatusSubmitted,
		core.StatusAccepted, core.StatusPartiallyFilled, core.StatusFilled,
		core.StatusCanceling, core.StatusCanceled, core.StatusRejected, core.StatusExpired,
	}
	for _, from := range terminals {
		for _, to := range all {
			assert.False(t, CanTransition(from, to), "%s -> %s must be illegal", from, to)
		}
	}
}

func TestCancelRacesFill(t *testing.T) {
	assert.True(t, CanTransition(core.StatusCanceling, core.StatusFilled))
	assert.True(t, CanTransition(core.StatusCanceling, core.StatusCanceled))
	assert.False(t, CanTransition(core.StatusCanceling, core.StatusAccepted))
}

func TestInFlightOrderCannotBeCanceled(t *testing.T) {
	// A cancel request needs a broker identity; an order still in flight
	// has none, so no CANCELING edge from SUBMITTED.
	assert.False(t, CanTransition(core.StatusSubmitted, core.StatusCanceling))
	assert.False(t, core.StatusSubmitted.IsCancelable())
	assert.True(t, CanTransition(core.StatusSubmitted, core.StatusAccepted))
}

func TestRestingOrderCanFillAndExpire(t *testing.T) {
	// Backtest resting orders sit in VALIDATED until the simulator fills or
	// expires them.
	assert.True(t, CanTransition(core.StatusValidated, core.StatusFilled))
	assert.True(t, CanTransition(core.StatusValidated, core.StatusPartiallyFilled))
	assert.True(t, CanTransition(core.StatusValidated, core.StatusExpired))
}

func TestTransitionStampsTimestamps(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	o := testOrder(core.StatusValidated)
	require.NoError(t, Transition(o, core.StatusSubmitted, now))
	require.NotNil(t, o.SubmittedAt)
	assert.Equal(t, now, *o.SubmittedAt)

	require.NoError(t, Transition(o, core.StatusAccepted, now))
	require.NoError(t, Transition(o, core.StatusFilled, now.Add(time.Second)))
	require.NotNil(t, o.FilledAt)
	assert.Equal(t, now.Add(time.Second), *o.FilledAt)

	c := testOrder(core.StatusAccepted)
	require.NoError(t, Transition(c, core.StatusCanceling, now))
	require.NoError(t, Transition(c, core.StatusCanceled, now))
	require.NotNil(t, c.CanceledAt)
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	o := testOrder(core.StatusCreated)
	err := Transition(o, core.StatusFilled, time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	assert.Equal(t, core.StatusCreated, o.Status, "failed transition must not mutate the order")
}
