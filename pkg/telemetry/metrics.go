package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricEventsProcessedTotal   = "quant_trader_events_processed_total"
	MetricEventQueueDepth        = "quant_trader_event_queue_depth"
	MetricOrdersSubmittedTotal   = "quant_trader_orders_submitted_total"
	MetricOrdersFilledTotal      = "quant_trader_orders_filled_total"
	MetricOrdersRejectedTotal    = "quant_trader_orders_rejected_total"
	MetricFillVolumeTotal        = "quant_trader_fill_volume_total"
	MetricEquity                 = "quant_trader_equity"
	MetricPositionSize           = "quant_trader_position_size"
	MetricUnrealizedPnL          = "quant_trader_pnl_unrealized"
	MetricCacheHitsTotal         = "quant_trader_cache_hits_total"
	MetricCacheMissesTotal       = "quant_trader_cache_misses_total"
	MetricDataRequestLatency     = "quant_trader_datasource_request_seconds"
	MetricOrderSubmitLatency     = "quant_trader_order_submit_latency_ms"
	MetricRiskRejectionsTotal    = "quant_trader_risk_rejections_total"
	MetricCircuitBreakerOpen     = "quant_trader_circuit_breaker_open"
	MetricFeedQuotesTotal        = "quant_trader_feed_quotes_total"
	MetricSignalsEmittedTotal    = "quant_trader_signals_emitted_total"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	EventsProcessedTotal metric.Int64Counter
	EventQueueDepth      metric.Int64ObservableGauge
	OrdersSubmittedTotal metric.Int64Counter
	OrdersFilledTotal    metric.Int64Counter
	OrdersRejectedTotal  metric.Int64Counter
	FillVolumeTotal      metric.Float64Counter
	Equity               metric.Float64ObservableGauge
	PositionSize         metric.Float64ObservableGauge
	UnrealizedPnL        metric.Float64ObservableGauge
	CacheHitsTotal       metric.Int64Counter
	CacheMissesTotal     metric.Int64Counter
	DataRequestLatency   metric.Float64Histogram
	OrderSubmitLatency   metric.Float64Histogram
	RiskRejectionsTotal  metric.Int64Counter
	CircuitBreakerOpen   metric.Int64ObservableGauge
	FeedQuotesTotal      metric.Int64Counter
	SignalsEmittedTotal  metric.Int64Counter

	// State for observable gauges
	mu            sync.RWMutex
	queueDepth    int64
	equityMap     map[string]float64
	positionMap   map[string]float64
	unrealizedMap map[string]float64
	cbOpenMap     map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			equityMap:     make(map[string]float64),
			positionMap:   make(map[string]float64),
			unrealizedMap: make(map[string]float64),
			cbOpenMap:     make(map[string]int64),
		}
		// Instrument initialization happens in InitMetrics
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.EventsProcessedTotal, err = meter.Int64Counter(MetricEventsProcessedTotal,
		metric.WithDescription("Events dispatched by the engine, labeled by type"))
	if err != nil {
		return err
	}

	m.OrdersSubmittedTotal, err = meter.Int64Counter(MetricOrdersSubmittedTotal,
		metric.WithDescription("Orders handed to the broker"))
	if err != nil {
		return err
	}

	m.OrdersFilledTotal, err = meter.Int64Counter(MetricOrdersFilledTotal,
		metric.WithDescription("Orders that reached FILLED"))
	if err != nil {
		return err
	}

	m.OrdersRejectedTotal, err = meter.Int64Counter(MetricOrdersRejectedTotal,
		metric.WithDescription("Orders that reached REJECTED, labeled by reason kind"))
	if err != nil {
		return err
	}

	m.FillVolumeTotal, err = meter.Float64Counter(MetricFillVolumeTotal,
		metric.WithDescription("Filled notional, in account currency"))
	if err != nil {
		return err
	}

	m.CacheHitsTotal, err = meter.Int64Counter(MetricCacheHitsTotal,
		metric.WithDescription("Persistent cache hits"))
	if err != nil {
		return err
	}

	m.CacheMissesTotal, err = meter.Int64Counter(MetricCacheMissesTotal,
		metric.WithDescription("Persistent cache misses (absent, expired or stale)"))
	if err != nil {
		return err
	}

	m.DataRequestLatency, err = meter.Float64Histogram(MetricDataRequestLatency,
		metric.WithDescription("Latency of provider requests"), metric.WithUnit("s"))
	if err != nil {
		return err
	}

	m.OrderSubmitLatency, err = meter.Float64Histogram(MetricOrderSubmitLatency,
		metric.WithDescription("Submit-to-broker-ack latency"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.RiskRejectionsTotal, err = meter.Int64Counter(MetricRiskRejectionsTotal,
		metric.WithDescription("Pre-trade risk rejections, labeled by rule"))
	if err != nil {
		return err
	}

	m.FeedQuotesTotal, err = meter.Int64Counter(MetricFeedQuotesTotal,
		metric.WithDescription("Realtime quotes ingested by the feed"))
	if err != nil {
		return err
	}

	m.SignalsEmittedTotal, err = meter.Int64Counter(MetricSignalsEmittedTotal,
		metric.WithDescription("Signals emitted by strategies, labeled by strategy and kind"))
	if err != nil {
		return err
	}

	// Observables
	m.EventQueueDepth, err = meter.Int64ObservableGauge(MetricEventQueueDepth,
		metric.WithDescription("Current engine queue depth"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.queueDepth)
			return nil
		}))
	if err != nil {
		return err
	}

	m.Equity, err = meter.Float64ObservableGauge(MetricEquity,
		metric.WithDescription("Portfolio total value"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for acct, val := range m.equityMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("account", acct)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.PositionSize, err = meter.Float64ObservableGauge(MetricPositionSize,
		metric.WithDescription("Current position size in shares"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.positionMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.UnrealizedPnL, err = meter.Float64ObservableGauge(MetricUnrealizedPnL,
		metric.WithDescription("Current unrealized PnL"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.unrealizedMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.CircuitBreakerOpen, err = meter.Int64ObservableGauge(MetricCircuitBreakerOpen,
		metric.WithDescription("Circuit breaker open state (1=open, 0=closed)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for name, val := range m.cbOpenMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("breaker", name)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

func (m *MetricsHolder) SetQueueDepth(depth int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueDepth = depth
}

func (m *MetricsHolder) SetEquity(account string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equityMap[account] = value
}

func (m *MetricsHolder) SetPositionSize(symbol string, size float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positionMap[symbol] = size
}

func (m *MetricsHolder) SetUnrealizedPnL(symbol string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unrealizedMap[symbol] = value
}

func (m *MetricsHolder) SetCircuitBreakerOpen(name string, open bool) {
	val := int64(0)
	if open {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cbOpenMap[name] = val
}

func (m *MetricsHolder) GetEquity() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64, len(m.equityMap))
	for k, v := range m.equityMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetPositionSize() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64, len(m.positionMap))
	for k, v := range m.positionMap {
		res[k] = v
	}
	return res
}
