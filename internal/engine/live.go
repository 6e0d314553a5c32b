package engine

import (
	"context"

	"quant_trader/internal/core"
	"quant_trader/internal/datasource"
	"quant_trader/internal/order"
)

// Live drives the engine against real time: the quote feed produces
// MARKET_DATA events, the executor and order manager consume what the
// dispatch loop routes to them. Run blocks until ctx is canceled.
type Live struct {
	engine *Engine
	feed   *datasource.Feed
	orders *order.Manager
	logger core.ILogger
}

func NewLive(eng *Engine, feed *datasource.Feed, orders *order.Manager, logger core.ILogger) *Live {
	return &Live{
		engine: eng,
		feed:   feed,
		orders: orders,
		logger: logger.WithField("component", "live"),
	}
}

// Run restores order monitors, starts the feed and services the queue.
// Shutdown is ordered: the feed stops first so no new bars arrive, the
// queue flushes, then the monitors stop and their last events flush too.
// Working orders stay open at the broker for the next start to resume.
func (l *Live) Run(ctx context.Context) error {
	if err := l.orders.Start(ctx); err != nil {
		return err
	}
	if err := l.feed.Start(ctx); err != nil {
		l.orders.Stop()
		return err
	}
	l.logger.Info("live engine running")

	l.engine.Run(ctx)

	l.feed.Stop()
	l.engine.Drain(context.Background())
	l.orders.Stop()
	l.engine.Drain(context.Background())

	if open := l.orders.OpenOrders(); len(open) > 0 {
		l.logger.Warn("stopping with working orders at broker", "open", len(open))
	}
	l.logger.Info("live engine stopped")
	return nil
}
