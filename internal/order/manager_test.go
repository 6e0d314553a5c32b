package order

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quant_trader/internal/core"
	"quant_trader/internal/costmodel"
	"quant_trader/internal/logging"
	apperrors "quant_trader/pkg/errors"
	"quant_trader/pkg/retry"
)

// stubBroker is a scriptable core.IBroker: placement errors are consumed in
// order, and GetOrderStatus walks a queue of snapshots, repeating the last.
type stubBroker struct {
	mu         sync.Mutex
	placeErrs  []error
	placements int
	cancels    int
	snapshots  map[string][]*core.Order
	account    *core.Account
	quote      *core.Quote
}

func newStubBroker() *stubBroker {
	return &stubBroker{
		snapshots: make(map[string][]*core.Order),
		account: &core.Account{
			AccountID:     "paper",
			CashBalance:   decimal.NewFromInt(1_000_000),
			AvailableCash: decimal.NewFromInt(1_000_000),
			TotalAssets:   decimal.NewFromInt(1_000_000),
		},
	}
}

// script appends broker-side snapshots the monitor will observe in order.
func (b *stubBroker) script(orderID string, snaps ...*core.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshots[orderID] = append(b.snapshots[orderID], snaps...)
}

func (b *stubBroker) Name() string                                    { return "stub" }
func (b *stubBroker) Connect(context.Context) error                   { return nil }
func (b *stubBroker) Disconnect()                                     {}
func (b *stubBroker) IsConnected() bool                               { return true }
func (b *stubBroker) UnsubscribeQuotes([]string) error                { return nil }
func (b *stubBroker) SubscribeQuotes(context.Context, []string) error { return nil }

func (b *stubBroker) PlaceOrder(_ context.Context, o *core.Order) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.placements++
	if len(b.placeErrs) > 0 {
		err := b.placeErrs[0]
		b.placeErrs = b.placeErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return "broker-" + o.ID, nil
}

func (b *stubBroker) CancelOrder(_ context.Context, orderID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancels++
	// The cancel resolves on the next poll.
	queue := b.snapshots[orderID]
	var last *core.Order
	if len(queue) > 0 {
		last = queue[len(queue)-1].Clone()
	} else {
		last = &core.Order{ID: orderID}
	}
	last.Status = core.StatusCanceled
	b.snapshots[orderID] = append(queue, last)
	return true, nil
}

func (b *stubBroker) GetOrderStatus(_ context.Context, orderID string) (*core.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	queue := b.snapshots[orderID]
	if len(queue) == 0 {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, orderID)
	}
	head := queue[0]
	if len(queue) > 1 {
		b.snapshots[orderID] = queue[1:]
	}
	return head.Clone(), nil
}

func (b *stubBroker) GetPositions(context.Context) ([]*core.Position, error) { return nil, nil }

func (b *stubBroker) GetAccount(context.Context) (*core.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.account, nil
}

func (b *stubBroker) GetQuote(context.Context, string) (*core.Quote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.quote == nil {
		return nil, apperrors.ErrNoData
	}
	return b.quote, nil
}

// stubGate approves or rejects everything.
type stubGate struct{ err error }

func (g *stubGate) Check(context.Context, *core.Order, *core.Account, *core.Position, decimal.Decimal) error {
	return g.err
}

// capturePublisher records events in publish order.
type capturePublisher struct {
	mu     sync.Mutex
	events []core.Event
}

func (p *capturePublisher) Publish(e core.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *capturePublisher) statuses() []core.OrderStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []core.OrderStatus
	for _, e := range p.events {
		if e.Type == core.EventOrder {
			out = append(out, e.Order.Status)
		}
	}
	return out
}

func (p *capturePublisher) fills() []*core.Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*core.Fill
	for _, e := range p.events {
		if e.Type == core.EventFill {
			out = append(out, e.Fill)
		}
	}
	return out
}

type managerFixture struct {
	mgr    *Manager
	broker *stubBroker
	store  *SQLiteStore
	pub    *capturePublisher
}

func newManagerFixture(t *testing.T, gateErr error) *managerFixture {
	t.Helper()
	logger := logging.NewLogger(logging.ErrorLevel, io.Discard)
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "orders.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	broker := newStubBroker()
	pub := &capturePublisher{}
	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.OrdersPerSecond = 1000
	cfg.SubmitRetry = retry.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

	mgr := NewManager(cfg, broker, store, &stubGate{err: gateErr},
		costmodel.New(costmodel.DefaultConfig()), pub, nil, logger)
	t.Cleanup(mgr.Stop)
	return &managerFixture{mgr: mgr, broker: broker, store: store, pub: pub}
}

func newOrder(id string, qty int64) *core.Order {
	return &core.Order{
		ID:          id,
		Symbol:      "600036.SH",
		Side:        core.SideBuy,
		Type:        core.OrderTypeLimit,
		Quantity:    qty,
		Price:       decimal.RequireFromString("39.90"),
		TimeInForce: core.TIFDay,
		Status:      core.StatusCreated,
	}
}

func waitStoredStatus(t *testing.T, store *SQLiteStore, orderID string, want core.OrderStatus) *core.Order {
	t.Helper()
	var got *core.Order
	require.Eventually(t, func() bool {
		o, err := store.GetOrder(context.Background(), orderID)
		if err != nil {
			return false
		}
		got = o
		return o.Status == want
	}, 2*time.Second, 5*time.Millisecond, "order %s never persisted as %s", orderID, want)
	return got
}

func TestSubmitWalksOrderToFilled(t *testing.T) {
	fx := newManagerFixture(t, nil)
	ctx := context.Background()

	accepted := newOrder("ord-1", 500)
	accepted.Status = core.StatusAccepted
	filled := newOrder("ord-1", 500)
	filled.Status = core.StatusFilled
	filled.FilledQuantity = 500
	filled.AvgFillPrice = decimal.RequireFromString("39.90")
	fx.broker.script("ord-1", accepted, filled)

	require.NoError(t, fx.mgr.Submit(ctx, newOrder("ord-1", 500)))

	stored := waitStoredStatus(t, fx.store, "ord-1", core.StatusFilled)
	assert.Equal(t, int64(500), stored.FilledQuantity)
	assert.Equal(t, "broker-ord-1", stored.BrokerOrderID)
	require.NotNil(t, stored.SubmittedAt)
	require.NotNil(t, stored.FilledAt)

	statuses := fx.pub.statuses()
	assert.Equal(t, core.StatusValidated, statuses[0])
	assert.Equal(t, core.StatusSubmitted, statuses[1])
	assert.Equal(t, core.StatusFilled, statuses[len(statuses)-1])

	fills := fx.pub.fills()
	require.Len(t, fills, 1)
	assert.Equal(t, int64(500), fills[0].Quantity)
	assert.True(t, fills[0].Price.Equal(decimal.RequireFromString("39.90")))
	assert.True(t, fills[0].Commission.IsPositive(), "fills carry transaction costs")

	assert.Empty(t, fx.mgr.OpenOrders(), "terminal orders are deregistered")
}

func TestPartialFillsEmitTranches(t *testing.T) {
	fx := newManagerFixture(t, nil)
	ctx := context.Background()

	partial := newOrder("ord-1", 1000)
	partial.Status = core.StatusPartiallyFilled
	partial.FilledQuantity = 400
	partial.AvgFillPrice = decimal.RequireFromString("10.00")

	// Cumulative average moved to 10.06, so the 600-share tranche printed
	// at (10.06*1000 - 10.00*400) / 600 = 10.10.
	full := newOrder("ord-1", 1000)
	full.Status = core.StatusFilled
	full.FilledQuantity = 1000
	full.AvgFillPrice = decimal.RequireFromString("10.06")

	fx.broker.script("ord-1", partial, full)
	require.NoError(t, fx.mgr.Submit(ctx, newOrder("ord-1", 1000)))

	waitStoredStatus(t, fx.store, "ord-1", core.StatusFilled)

	fills := fx.pub.fills()
	require.Len(t, fills, 2)
	assert.Equal(t, int64(400), fills[0].Quantity)
	assert.True(t, fills[0].Price.Equal(decimal.RequireFromString("10.00")), "price %s", fills[0].Price)
	assert.Equal(t, int64(600), fills[1].Quantity)
	assert.True(t, fills[1].Price.Equal(decimal.RequireFromString("10.10")), "price %s", fills[1].Price)
}

func TestSubmitRejectsInvalidOrder(t *testing.T) {
	fx := newManagerFixture(t, nil)

	err := fx.mgr.Submit(context.Background(), newOrder("ord-1", 150)) // odd lot
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOrder)

	stored, serr := fx.store.GetOrder(context.Background(), "ord-1")
	require.NoError(t, serr)
	assert.Equal(t, core.StatusRejected, stored.Status)
	assert.NotEmpty(t, stored.RejectReason)
	assert.Zero(t, fx.broker.placements, "invalid orders never reach the broker")
}

func TestSubmitRejectsOnRiskGate(t *testing.T) {
	gateErr := fmt.Errorf("%w: too big", apperrors.ErrRiskRejected)
	fx := newManagerFixture(t, gateErr)

	err := fx.mgr.Submit(context.Background(), newOrder("ord-1", 500))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrRiskRejected)

	stored, serr := fx.store.GetOrder(context.Background(), "ord-1")
	require.NoError(t, serr)
	assert.Equal(t, core.StatusRejected, stored.Status)
	assert.Contains(t, stored.RejectReason, "too big")
	assert.Zero(t, fx.broker.placements)
}

func TestSubmitRetriesTransientBrokerErrors(t *testing.T) {
	fx := newManagerFixture(t, nil)
	fx.broker.placeErrs = []error{
		fmt.Errorf("%w: dial refused", apperrors.ErrBrokerConnection),
		fmt.Errorf("%w: dial refused", apperrors.ErrBrokerConnection),
		nil,
	}
	filled := newOrder("ord-1", 500)
	filled.Status = core.StatusFilled
	filled.FilledQuantity = 500
	filled.AvgFillPrice = decimal.RequireFromString("39.90")
	fx.broker.script("ord-1", filled)

	require.NoError(t, fx.mgr.Submit(context.Background(), newOrder("ord-1", 500)))
	assert.Equal(t, 3, fx.broker.placements)
	waitStoredStatus(t, fx.store, "ord-1", core.StatusFilled)
}

func TestSubmitGivesUpWhenBrokerStaysDown(t *testing.T) {
	fx := newManagerFixture(t, nil)
	fx.broker.placeErrs = []error{
		fmt.Errorf("%w: dial refused", apperrors.ErrBrokerConnection),
		fmt.Errorf("%w: dial refused", apperrors.ErrBrokerConnection),
		fmt.Errorf("%w: dial refused", apperrors.ErrBrokerConnection),
	}

	err := fx.mgr.Submit(context.Background(), newOrder("ord-1", 500))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrBrokerConnection)
	assert.Equal(t, 3, fx.broker.placements)

	stored, serr := fx.store.GetOrder(context.Background(), "ord-1")
	require.NoError(t, serr)
	assert.Equal(t, core.StatusRejected, stored.Status)
	assert.Contains(t, stored.RejectReason, "unreachable")
}

func TestBrokerRejectionIsNotRetried(t *testing.T) {
	fx := newManagerFixture(t, nil)
	fx.broker.placeErrs = []error{
		fmt.Errorf("%w: duplicate", apperrors.ErrOrderRejected),
	}

	err := fx.mgr.Submit(context.Background(), newOrder("ord-1", 500))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrOrderRejected)
	assert.Equal(t, 1, fx.broker.placements, "hard rejections abort immediately")
}

func TestCancelResolvesThroughMonitor(t *testing.T) {
	fx := newManagerFixture(t, nil)
	ctx := context.Background()

	working := newOrder("ord-1", 500)
	working.Status = core.StatusAccepted
	fx.broker.script("ord-1", working)

	require.NoError(t, fx.mgr.Submit(ctx, newOrder("ord-1", 500)))
	waitStoredStatus(t, fx.store, "ord-1", core.StatusAccepted)

	require.NoError(t, fx.mgr.Cancel(ctx, "ord-1"))
	stored := waitStoredStatus(t, fx.store, "ord-1", core.StatusCanceled)
	require.NotNil(t, stored.CanceledAt)

	statuses := fx.pub.statuses()
	assert.Contains(t, statuses, core.StatusCanceling)

	// Terminal now, so another cancel is a no-op.
	require.NoError(t, fx.mgr.Cancel(ctx, "ord-1"))
	assert.Equal(t, 1, fx.broker.cancels)
}

func TestCancelRefusedWhileOrderInFlight(t *testing.T) {
	fx := newManagerFixture(t, nil)
	ctx := context.Background()

	// No broker snapshot scripted: every poll fails and the order stays
	// SUBMITTED, the window before the broker acknowledges it.
	require.NoError(t, fx.mgr.Submit(ctx, newOrder("ord-1", 500)))

	err := fx.mgr.Cancel(ctx, "ord-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotCancelable)
	assert.Zero(t, fx.broker.cancels, "cancel must not reach the broker before the ack")
}

func TestCancelUnknownOrder(t *testing.T) {
	fx := newManagerFixture(t, nil)
	err := fx.mgr.Cancel(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrOrderNotFound)
}

func TestStartResumesOpenOrders(t *testing.T) {
	fx := newManagerFixture(t, nil)
	ctx := context.Background()

	// A working order the broker still knows about.
	resumable := newOrder("ord-1", 500)
	resumable.Status = core.StatusSubmitted
	resumable.BrokerOrderID = "broker-ord-1"
	require.NoError(t, fx.store.SaveOrder(ctx, resumable))

	// A crash artifact that never reached the broker.
	ghost := newOrder("ord-2", 500)
	ghost.Status = core.StatusValidated
	require.NoError(t, fx.store.SaveOrder(ctx, ghost))

	done := newOrder("ord-1", 500)
	done.Status = core.StatusFilled
	done.FilledQuantity = 500
	done.AvgFillPrice = decimal.RequireFromString("39.90")
	fx.broker.script("ord-1", done)

	require.NoError(t, fx.mgr.Start(ctx))

	waitStoredStatus(t, fx.store, "ord-1", core.StatusFilled)
	waitStoredStatus(t, fx.store, "ord-2", core.StatusExpired)
}
