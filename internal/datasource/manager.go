package datasource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"quant_trader/internal/cache"
	"quant_trader/internal/core"
	apperrors "quant_trader/pkg/errors"
	"quant_trader/pkg/telemetry"
)

// ProviderConfig tunes one crawler provider's HTTP behavior.
type ProviderConfig struct {
	Timeout    time.Duration // per-request timeout, default 10s
	MaxRetries int           // transient-failure retry budget, default 3
}

func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout:    10 * time.Second,
		MaxRetries: 3,
	}
}

// ManagerConfig tunes caching freshness and crawl rate limits.
type ManagerConfig struct {
	BarTTL          time.Duration // cache TTL for daily bar ranges
	QuoteTTL        time.Duration // cache TTL for realtime quotes
	CompanyTTL      time.Duration // cache TTL for company records
	SymbolInterval  time.Duration // min wall time between crawls of one symbol
	GlobalInterval  time.Duration // min wall time between any two crawl batches
	QuoteStaleLimit time.Duration // max age served to limiter-denied symbols
}

func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		BarTTL:          time.Hour,
		QuoteTTL:        time.Minute,
		CompanyTTL:      24 * time.Hour,
		SymbolInterval:  5 * time.Second,
		GlobalInterval:  2 * time.Second,
		QuoteStaleLimit: time.Minute,
	}
}

// Manager layers the fallback chain, the persistent cache and crawl rate
// limits over the raw providers. Providers are tried in declaration order;
// the first success wins and is cached. Total exhaustion surfaces as a
// wrapped ErrDataSource, never fabricated data.
type Manager struct {
	providers []core.IDataSource
	cache     core.ICache
	cfg       ManagerConfig
	logger    core.ILogger
	tracer    trace.Tracer
	metrics   *telemetry.MetricsHolder
	latency   metric.Float64Histogram

	mu             sync.Mutex
	symbolLimiters map[string]*rate.Limiter
	globalLimiter  *rate.Limiter
}

func NewManager(providers []core.IDataSource, c core.ICache, cfg ManagerConfig, logger core.ILogger) *Manager {
	if cfg.SymbolInterval <= 0 {
		cfg.SymbolInterval = 5 * time.Second
	}
	if cfg.GlobalInterval <= 0 {
		cfg.GlobalInterval = 2 * time.Second
	}
	m := &Manager{
		providers:      providers,
		cache:          c,
		cfg:            cfg,
		logger:         logger.WithField("component", "datasource"),
		tracer:         telemetry.GetTracer("datasource"),
		metrics:        telemetry.GetGlobalMetrics(),
		symbolLimiters: make(map[string]*rate.Limiter),
		globalLimiter:  rate.NewLimiter(rate.Every(cfg.GlobalInterval), 1),
	}
	if m.metrics != nil {
		m.latency = m.metrics.DataRequestLatency
	}
	return m
}

func (m *Manager) symbolLimiter(symbol string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	lim, ok := m.symbolLimiters[symbol]
	if !ok {
		lim = rate.NewLimiter(rate.Every(m.cfg.SymbolInterval), 1)
		m.symbolLimiters[symbol] = lim
	}
	return lim
}

// GetDailyBars serves a bar range through the cache. On a miss every
// provider is tried in order; the first full answer is cached under the
// exact (symbol, range, adjust) key.
func (m *Manager) GetDailyBars(ctx context.Context, symbol string, start, end time.Time, adjust string) ([]*core.Bar, error) {
	ctx, span := m.tracer.Start(ctx, "datasource.GetDailyBars",
		trace.WithAttributes(attribute.String("symbol", symbol), attribute.String("adjust", adjust)))
	defer span.End()

	key := cache.DailyBarsKey(symbol, start, end, adjust)
	var bars []*core.Bar
	if m.cache != nil {
		if ok, err := m.cache.Get(ctx, key, 0, &bars); err != nil {
			// Storage trouble downgrades to a miss.
			m.logger.Warn("bar cache read failed", "symbol", symbol, "error", err)
		} else if ok {
			return bars, nil
		}
	}

	var lastErr error
	for _, p := range m.providers {
		began := time.Now()
		fetched, err := p.GetDailyBars(ctx, symbol, start, end, adjust)
		m.observeLatency(ctx, p.Name(), "daily_bars", began)
		if err != nil {
			lastErr = err
			m.logger.Warn("provider failed, trying next",
				"provider", p.Name(), "operation", "daily_bars", "symbol", symbol, "error", err)
			continue
		}
		if m.cache != nil {
			if err := m.cache.Set(ctx, key, fetched, m.cfg.BarTTL, cache.TypeDailyBars, symbol); err != nil {
				m.logger.Warn("bar cache write failed", "symbol", symbol, "error", err)
			}
		}
		return fetched, nil
	}
	span.RecordError(lastErr)
	return nil, fmt.Errorf("%w: all providers failed for %s daily bars: %v", apperrors.ErrDataSource, symbol, lastErr)
}

// GetRealtimeQuotes returns the freshest quote per symbol it can. Symbols
// crawled within SymbolInterval are served from cache; the rest are
// batched to the network behind the global limiter. A symbol the per-
// symbol limiter denies is served stale from cache when possible and
// otherwise dropped from the result with a warning; it will be crawled on
// a later call once its limiter refills.
func (m *Manager) GetRealtimeQuotes(ctx context.Context, symbols []string) ([]*core.Quote, error) {
	ctx, span := m.tracer.Start(ctx, "datasource.GetRealtimeQuotes",
		trace.WithAttributes(attribute.Int("requested", len(symbols))))
	defer span.End()

	results := make(map[string]*core.Quote, len(symbols))
	var toFetch []string
	for _, s := range symbols {
		var q core.Quote
		if m.cache != nil {
			if ok, err := m.cache.Get(ctx, cache.QuoteKey(s), m.cfg.SymbolInterval, &q); err == nil && ok {
				quote := q
				results[s] = &quote
				continue
			}
		}
		if m.symbolLimiter(s).Allow() {
			toFetch = append(toFetch, s)
			continue
		}
		// Limiter denied: fall back to any cached copy within the stale
		// limit rather than hammering the venue.
		if m.cache != nil {
			if ok, err := m.cache.Get(ctx, cache.QuoteKey(s), m.cfg.QuoteStaleLimit, &q); err == nil && ok {
				quote := q
				results[s] = &quote
				continue
			}
		}
		m.logger.Warn("quote crawl rate-limited and no cached copy", "symbol", s)
	}

	if len(toFetch) > 0 {
		if err := m.globalLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrRateLimitExceeded, err)
		}
		fetched, err := m.fetchQuotes(ctx, toFetch)
		if err != nil {
			if len(results) == 0 {
				span.RecordError(err)
				return nil, err
			}
			// Partial degradation: serve what the cache had.
			m.logger.Warn("quote fetch failed, serving cached subset", "error", err)
		}
		for _, q := range fetched {
			results[q.Symbol] = q
			if m.cache != nil {
				if err := m.cache.Set(ctx, cache.QuoteKey(q.Symbol), q, m.cfg.QuoteTTL, cache.TypeQuote, q.Symbol); err != nil {
					m.logger.Warn("quote cache write failed", "symbol", q.Symbol, "error", err)
				}
			}
		}
	}

	out := make([]*core.Quote, 0, len(results))
	for _, s := range symbols {
		if q, ok := results[s]; ok {
			out = append(out, q)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no quotes available for %v", apperrors.ErrNoData, symbols)
	}
	return out, nil
}

func (m *Manager) fetchQuotes(ctx context.Context, symbols []string) ([]*core.Quote, error) {
	var lastErr error
	for _, p := range m.providers {
		began := time.Now()
		quotes, err := p.GetRealtimeQuotes(ctx, symbols)
		m.observeLatency(ctx, p.Name(), "realtime_quotes", began)
		if err != nil {
			lastErr = err
			m.logger.Warn("provider failed, trying next",
				"provider", p.Name(), "operation", "realtime_quotes", "error", err)
			continue
		}
		return quotes, nil
	}
	return nil, fmt.Errorf("%w: all providers failed for realtime quotes: %v", apperrors.ErrDataSource, lastErr)
}

// GetCompanyInfo serves the company record through the cache.
func (m *Manager) GetCompanyInfo(ctx context.Context, symbol string) (*core.CompanyInfo, error) {
	ctx, span := m.tracer.Start(ctx, "datasource.GetCompanyInfo",
		trace.WithAttributes(attribute.String("symbol", symbol)))
	defer span.End()

	key := cache.CompanyInfoKey(symbol)
	var info core.CompanyInfo
	if m.cache != nil {
		if ok, err := m.cache.Get(ctx, key, 0, &info); err == nil && ok {
			return &info, nil
		}
	}

	var lastErr error
	for _, p := range m.providers {
		began := time.Now()
		fetched, err := p.GetCompanyInfo(ctx, symbol)
		m.observeLatency(ctx, p.Name(), "company_info", began)
		if err != nil {
			lastErr = err
			m.logger.Warn("provider failed, trying next",
				"provider", p.Name(), "operation", "company_info", "symbol", symbol, "error", err)
			continue
		}
		if m.cache != nil {
			if err := m.cache.Set(ctx, key, fetched, m.cfg.CompanyTTL, cache.TypeCompanyInfo, symbol); err != nil {
				m.logger.Warn("company cache write failed", "symbol", symbol, "error", err)
			}
		}
		return fetched, nil
	}
	span.RecordError(lastErr)
	return nil, fmt.Errorf("%w: all providers failed for %s company info: %v", apperrors.ErrDataSource, symbol, lastErr)
}

func (m *Manager) observeLatency(ctx context.Context, provider, operation string, start time.Time) {
	if m.latency != nil {
		m.latency.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("operation", operation),
		))
	}
}
