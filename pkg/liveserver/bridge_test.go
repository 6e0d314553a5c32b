package liveserver

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quant_trader/internal/core"
)

func receiveFrame(t *testing.T, client *Client) Message {
	t.Helper()
	select {
	case msg := <-client.SendChan():
		return msg
	case <-time.After(time.Second):
		t.Fatal("no frame received")
		return Message{}
	}
}

func TestBroadcasterForwardsEngineEvents(t *testing.T) {
	hub := startHub(t)
	client := NewClient("dash")
	hub.Register(client)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 5*time.Millisecond)

	br := NewBroadcaster(hub, nil, 0)

	bar := &core.Bar{Symbol: "600519.SH", Close: decimal.NewFromInt(1700)}
	br.OnEvent(core.NewMarketDataEvent(bar))

	msg := receiveFrame(t, client)
	assert.Equal(t, TypeQuote, msg.Type)
	require.IsType(t, &core.Bar{}, msg.Data)
	assert.Equal(t, "600519.SH", msg.Data.(*core.Bar).Symbol)

	order := &core.Order{ID: "ord-1", Symbol: "600519.SH", Status: core.StatusFilled}
	br.OnEvent(core.NewOrderEvent(order))

	msg = receiveFrame(t, client)
	assert.Equal(t, TypeOrder, msg.Type)
	assert.Equal(t, "ord-1", msg.Data.(*core.Order).ID)

	fill := &core.Fill{OrderID: "ord-1", Symbol: "600519.SH", Quantity: 100}
	br.OnEvent(core.NewFillEvent(fill))

	msg = receiveFrame(t, client)
	assert.Equal(t, TypeFill, msg.Type)
	assert.EqualValues(t, 100, msg.Data.(*core.Fill).Quantity)
}

func TestBroadcasterIgnoresSignalEvents(t *testing.T) {
	hub := startHub(t)
	client := NewClient("dash")
	hub.Register(client)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 5*time.Millisecond)

	br := NewBroadcaster(hub, nil, 0)

	sig := &core.Signal{Symbol: "600519.SH", Kind: core.SignalBuy, Source: "ma_cross"}
	br.OnEvent(core.NewSignalEvent(sig))
	br.OnEvent(core.NewMarketDataEvent(&core.Bar{Symbol: "600519.SH"}))

	// The quote arrives first because the signal produced no frame.
	msg := receiveFrame(t, client)
	assert.Equal(t, TypeQuote, msg.Type)
}

func TestBroadcasterPushesSnapshots(t *testing.T) {
	hub := startHub(t)
	client := NewClient("dash")
	hub.Register(client)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 5*time.Millisecond)

	snapshot := func() []Message {
		return []Message{
			NewMessage(TypeEquity, EquityFrame{
				Timestamp:   time.Now(),
				TotalAssets: decimal.NewFromInt(1_000_000),
			}),
			NewMessage(TypeRiskStatus, RiskFrame{Tripped: true, Reason: "drawdown 0.21 breached limit 0.2"}),
		}
	}
	br := NewBroadcaster(hub, snapshot, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- br.Run(ctx) }()

	msg := receiveFrame(t, client)
	assert.Equal(t, TypeEquity, msg.Type)

	msg = receiveFrame(t, client)
	assert.Equal(t, TypeRiskStatus, msg.Type)
	assert.True(t, msg.Data.(RiskFrame).Tripped)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("broadcaster did not stop")
	}
}

func TestBroadcasterNilSnapshotWaitsForCancel(t *testing.T) {
	hub := startHub(t)
	br := NewBroadcaster(hub, nil, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- br.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("broadcaster did not stop")
	}
}
