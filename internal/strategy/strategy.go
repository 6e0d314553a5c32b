// Package strategy hosts the built-in signal generators. Every strategy
// implements core.IStrategy: it consumes bars and fills for its symbols,
// keeps only per-symbol rolling state, and emits signals through the
// publisher injected at construction. Strategies never touch broker or
// portfolio state.
package strategy

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"quant_trader/internal/core"
	"quant_trader/pkg/telemetry"
)

// Params carries strategy-local tuning knobs as decoded from the config
// file. Lookups are forgiving about numeric types because YAML decodes
// numbers as int or float64 depending on their spelling.
type Params map[string]any

func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

func (p Params) Decimal(key string, def string) decimal.Decimal {
	switch v := p[key].(type) {
	case float64:
		return decimal.NewFromFloat(v)
	case int:
		return decimal.NewFromInt(int64(v))
	case int64:
		return decimal.NewFromInt(v)
	case string:
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return decimal.RequireFromString(def)
}

func (p Params) String(key string, def string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return def
}

// builders maps config names to constructors.
var builders = map[string]func(Params, core.EventPublisher, core.ILogger) core.IStrategy{
	"ma_cross":       func(p Params, pub core.EventPublisher, l core.ILogger) core.IStrategy { return NewMACross(p, pub, l) },
	"mean_reversion": func(p Params, pub core.EventPublisher, l core.ILogger) core.IStrategy { return NewMeanReversion(p, pub, l) },
	"bollinger":      func(p Params, pub core.EventPublisher, l core.ILogger) core.IStrategy { return NewBollinger(p, pub, l) },
	"rsi_reversal":   func(p Params, pub core.EventPublisher, l core.ILogger) core.IStrategy { return NewRSIReversal(p, pub, l) },
	"bollinger_rsi":  func(p Params, pub core.EventPublisher, l core.ILogger) core.IStrategy { return NewBollingerRSI(p, pub, l) },
	"grid":           func(p Params, pub core.EventPublisher, l core.ILogger) core.IStrategy { return NewGrid(p, pub, l) },
	"etf_t1":         func(p Params, pub core.EventPublisher, l core.ILogger) core.IStrategy { return NewETFT1(p, pub, l) },
}

// New builds a strategy by its config name.
func New(name string, params Params, publisher core.EventPublisher, logger core.ILogger) (core.IStrategy, error) {
	build, ok := builders[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (known: %v)", name, Names())
	}
	return build(params, publisher, logger), nil
}

// Names lists the registered strategy names, sorted.
func Names() []string {
	names := make([]string, 0, len(builders))
	for n := range builders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// filtered narrows a strategy to a symbol set. The engine broadcasts every
// bar to every strategy; the wrapper drops bars and fills for symbols
// outside its list.
type filtered struct {
	inner   core.IStrategy
	symbols map[string]struct{}
}

// NewFiltered restricts inner to the listed symbols. An empty list returns
// inner unchanged.
func NewFiltered(inner core.IStrategy, symbols []string) core.IStrategy {
	if len(symbols) == 0 {
		return inner
	}
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}
	return &filtered{inner: inner, symbols: set}
}

func (f *filtered) Name() string { return f.inner.Name() }

func (f *filtered) OnMarketData(ctx context.Context, bar *core.Bar) {
	if bar == nil {
		return
	}
	if _, ok := f.symbols[bar.Symbol]; !ok {
		return
	}
	f.inner.OnMarketData(ctx, bar)
}

func (f *filtered) OnFill(ctx context.Context, fill *core.Fill) {
	if fill == nil {
		return
	}
	if _, ok := f.symbols[fill.Symbol]; !ok {
		return
	}
	f.inner.OnFill(ctx, fill)
}

// emitter is the shared signal publication path: publish, count, log.
type emitter struct {
	name      string
	publisher core.EventPublisher
	metrics   *telemetry.MetricsHolder
	logger    core.ILogger
}

func newEmitter(name string, publisher core.EventPublisher, logger core.ILogger) emitter {
	return emitter{
		name:      name,
		publisher: publisher,
		metrics:   telemetry.GetGlobalMetrics(),
		logger:    logger.WithField("strategy", name),
	}
}

func (e *emitter) emit(sig *core.Signal) {
	sig.Source = e.name
	if e.publisher != nil {
		e.publisher.Publish(core.NewSignalEvent(sig))
	}
	if e.metrics != nil && e.metrics.SignalsEmittedTotal != nil {
		e.metrics.SignalsEmittedTotal.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("strategy", e.name),
				attribute.String("kind", string(sig.Kind))))
	}
	e.logger.Info("signal emitted",
		"symbol", sig.Symbol, "kind", string(sig.Kind), "strength", sig.Strength)
}
