package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// IBroker is the broker adapter capability. Both the in-process MockBroker
// (backtest/paper) and real-broker gateways implement it. Account and
// positions are treated as remote state: callers re-read them for every
// decision and never cache beyond one operation.
type IBroker interface {
	// Identity and lifecycle
	Name() string
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool

	// Order operations
	PlaceOrder(ctx context.Context, order *Order) (brokerOrderID string, err error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	GetOrderStatus(ctx context.Context, orderID string) (*Order, error)

	// Account operations
	GetPositions(ctx context.Context) ([]*Position, error)
	GetAccount(ctx context.Context) (*Account, error)

	// Quote stream
	SubscribeQuotes(ctx context.Context, symbols []string) error
	UnsubscribeQuotes(symbols []string) error
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
}

// IDataSource is one market-data provider. Providers are stateless beyond
// their HTTP clients; the manager layers fallback and caching on top.
type IDataSource interface {
	Name() string
	GetDailyBars(ctx context.Context, symbol string, start, end time.Time, adjust string) ([]*Bar, error)
	GetRealtimeQuotes(ctx context.Context, symbols []string) ([]*Quote, error)
	GetCompanyInfo(ctx context.Context, symbol string) (*CompanyInfo, error)
}

// IStrategy consumes market data and fills for its symbols and emits
// signals through the publisher injected at construction. Strategies hold
// only per-symbol rolling windows; they never touch broker or portfolio
// state directly.
type IStrategy interface {
	Name() string
	OnMarketData(ctx context.Context, bar *Bar)
	OnFill(ctx context.Context, fill *Fill)
}

// ICache is the TTL read-through cache guarding external providers. Values
// must be JSON-serializable; passing anything else is a programming error.
type ICache interface {
	Get(ctx context.Context, key string, maxAge time.Duration, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration, dataType, symbol string) error
	Delete(ctx context.Context, key string) error
	Invalidate(ctx context.Context, filter InvalidateFilter) (int64, error)
	CleanupExpired(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (*CacheStats, error)
	Close() error
}

// IOrderStore persists order state transitions durably enough that a
// restarted engine can restore non-terminal orders and resume their
// monitors.
type IOrderStore interface {
	SaveOrder(ctx context.Context, order *Order) error
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	LoadOpenOrders(ctx context.Context) ([]*Order, error)
	Close() error
}

// IRiskGate is the pre-trade check invoked before an order is handed to the
// broker. It rejects with a reason and never mutates state.
type IRiskGate interface {
	Check(ctx context.Context, order *Order, account *Account, position *Position, lastPrice decimal.Decimal) error
}

// IHealthMonitor aggregates component health checks.
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
