package liveserver

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"quant_trader/internal/core"
)

// EquityFrame is one point on the dashboard equity curve.
type EquityFrame struct {
	Timestamp   time.Time       `json:"timestamp"`
	TotalAssets decimal.Decimal `json:"total_assets"`
	Cash        decimal.Decimal `json:"cash"`
	StockValue  decimal.Decimal `json:"stock_value"`
}

// RiskFrame mirrors the drawdown breaker state.
type RiskFrame struct {
	Tripped bool   `json:"tripped"`
	Reason  string `json:"reason,omitempty"`
}

// SnapshotFunc builds the periodic state frames (account, positions,
// equity, risk status). The broadcaster calls it on every tick.
type SnapshotFunc func() []Message

// Broadcaster feeds the hub from two sources: engine events forwarded
// as they happen, and state snapshots pushed on an interval. OnEvent
// runs on the engine dispatch goroutine, so it must never block; the
// hub's queue drops frames under pressure instead.
type Broadcaster struct {
	hub      *Hub
	snapshot SnapshotFunc
	interval time.Duration
}

func NewBroadcaster(hub *Hub, snapshot SnapshotFunc, interval time.Duration) *Broadcaster {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Broadcaster{
		hub:      hub,
		snapshot: snapshot,
		interval: interval,
	}
}

// OnEvent forwards one engine event as a dashboard frame. Signal events
// are not forwarded; the order frames they produce tell the same story.
func (b *Broadcaster) OnEvent(ev core.Event) {
	switch ev.Type {
	case core.EventMarketData:
		if ev.Bar != nil {
			b.hub.Broadcast(NewMessage(TypeQuote, ev.Bar))
		}
	case core.EventOrder:
		if ev.Order != nil {
			b.hub.Broadcast(NewMessage(TypeOrder, ev.Order))
		}
	case core.EventFill:
		if ev.Fill != nil {
			b.hub.Broadcast(NewMessage(TypeFill, ev.Fill))
		}
	}
}

// Run pushes snapshot frames until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) error {
	if b.snapshot == nil {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, msg := range b.snapshot() {
				b.hub.Broadcast(msg)
			}
		}
	}
}
