package datasource

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"quant_trader/internal/core"
	"quant_trader/internal/market"
	"quant_trader/pkg/telemetry"
	qws "quant_trader/pkg/websocket"
)

// QuoteFetcher is the slice of the manager the feed needs.
type QuoteFetcher interface {
	GetRealtimeQuotes(ctx context.Context, symbols []string) ([]*core.Quote, error)
}

// FeedConfig tunes the quote transport.
type FeedConfig struct {
	PollInterval      time.Duration // default 1s
	HeartbeatInterval time.Duration // default 30s
	IgnoreSessions    bool          // poll around the clock; tests only
	// WebsocketURL switches the feed from polling to a push stream. The
	// endpoint must accept a subscribe frame and answer with one JSON
	// quote per message.
	WebsocketURL string
}

// Feed publishes realtime quotes for a watchlist as MarketData events.
// It either polls the fetcher on an interval or, when WebsocketURL is
// set, consumes a push stream. It owns no engine state: the bus handle
// is its only output. Outside trading hours the poll loop idles (the
// heartbeat still runs).
type Feed struct {
	fetcher   QuoteFetcher
	publisher core.EventPublisher
	symbols   []string
	cfg       FeedConfig
	logger    core.ILogger
	metrics   *telemetry.MetricsHolder

	mu        sync.RWMutex
	lastQuote map[string]time.Time
	lastPoll  time.Time

	ws     *qws.Client
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewFeed(fetcher QuoteFetcher, publisher core.EventPublisher, symbols []string, cfg FeedConfig, logger core.ILogger) *Feed {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	return &Feed{
		fetcher:   fetcher,
		publisher: publisher,
		symbols:   symbols,
		cfg:       cfg,
		logger:    logger.WithField("component", "realtime_feed"),
		metrics:   telemetry.GetGlobalMetrics(),
		lastQuote: make(map[string]time.Time),
	}
}

// Start validates the watchlist and launches the quote transport. It
// returns immediately; Stop cancels the loop and waits for it.
func (f *Feed) Start(ctx context.Context) error {
	for _, s := range f.symbols {
		if err := market.ValidateSymbol(s); err != nil {
			return err
		}
	}

	ctx, f.cancel = context.WithCancel(ctx)

	if f.cfg.WebsocketURL != "" {
		f.ws = qws.NewClient(f.cfg.WebsocketURL, f.onPushFrame, f.logger)
		f.ws.SetOnConnected(f.subscribe)
		f.ws.Start()
		f.wg.Add(1)
		go f.heartbeatLoop(ctx)
		f.logger.Info("realtime feed started", "mode", "push",
			"url", f.cfg.WebsocketURL, "symbols", len(f.symbols))
		return nil
	}

	f.wg.Add(1)
	go f.pollLoop(ctx)
	f.logger.Info("realtime feed started", "mode", "poll",
		"symbols", len(f.symbols), "poll_interval", f.cfg.PollInterval.String())
	return nil
}

func (f *Feed) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	if f.ws != nil {
		f.ws.Stop()
	}
	f.wg.Wait()
	f.logger.Info("realtime feed stopped")
}

// subscribeRequest is replayed on every (re)connect so the stream covers
// the whole watchlist after a drop.
type subscribeRequest struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

func (f *Feed) subscribe() {
	if err := f.ws.Send(subscribeRequest{Op: "subscribe", Symbols: f.symbols}); err != nil {
		f.logger.Warn("quote subscribe failed", "error", err)
	}
}

// onPushFrame handles one pushed quote. Frames for symbols outside the
// watchlist are dropped; the stream is not trusted to scope itself.
func (f *Feed) onPushFrame(raw []byte) {
	var q core.Quote
	if err := json.Unmarshal(raw, &q); err != nil {
		f.logger.Warn("bad quote frame", "error", err)
		return
	}
	if !f.watches(q.Symbol) {
		return
	}

	now := time.Now()
	f.mu.Lock()
	f.lastPoll = now
	f.lastQuote[q.Symbol] = now
	f.mu.Unlock()

	f.publisher.Publish(core.NewMarketDataEvent(quoteToBar(&q)))
	if f.metrics != nil && f.metrics.FeedQuotesTotal != nil {
		f.metrics.FeedQuotesTotal.Add(context.Background(), 1)
	}
}

func (f *Feed) watches(symbol string) bool {
	for _, s := range f.symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

func (f *Feed) heartbeatLoop(ctx context.Context) {
	defer f.wg.Done()

	heartbeat := time.NewTicker(f.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			f.logHeartbeat()
		}
	}
}

func (f *Feed) pollLoop(ctx context.Context) {
	defer f.wg.Done()

	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()
	heartbeat := time.NewTicker(f.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			f.logHeartbeat()
		case <-ticker.C:
			if !f.cfg.IgnoreSessions && !market.IsTradingTime(time.Now()) {
				continue
			}
			f.pollOnce(ctx)
		}
	}
}

func (f *Feed) pollOnce(ctx context.Context) {
	quotes, err := f.fetcher.GetRealtimeQuotes(ctx, f.symbols)
	if err != nil {
		f.logger.Warn("quote poll failed", "error", err)
		return
	}

	now := time.Now()
	f.mu.Lock()
	f.lastPoll = now
	for _, q := range quotes {
		f.lastQuote[q.Symbol] = now
	}
	f.mu.Unlock()

	for _, q := range quotes {
		f.publisher.Publish(core.NewMarketDataEvent(quoteToBar(q)))
		if f.metrics != nil && f.metrics.FeedQuotesTotal != nil {
			f.metrics.FeedQuotesTotal.Add(ctx, 1)
		}
	}
}

// quoteToBar flattens a quote snapshot into the intraday bar shape the
// engine routes. Volume is the cumulative session volume.
func quoteToBar(q *core.Quote) *core.Bar {
	return &core.Bar{
		Symbol:    q.Symbol,
		TradeDate: q.Timestamp,
		Frequency: "rt",
		Open:      q.Open,
		High:      q.High,
		Low:       q.Low,
		Close:     q.Price,
		Volume:    q.Volume,
		PreClose:  q.PrevClose,
	}
}

func (f *Feed) logHeartbeat() {
	f.mu.RLock()
	stale := 0
	cutoff := time.Now().Add(-3 * f.cfg.PollInterval)
	for _, ts := range f.lastQuote {
		if ts.Before(cutoff) {
			stale++
		}
	}
	lastPoll := f.lastPoll
	f.mu.RUnlock()
	f.logger.Info("feed heartbeat",
		"symbols", len(f.symbols), "stale", stale, "last_poll", lastPoll.Format(time.RFC3339))
}

// LastQuoteAge reports the staleness of the freshest quote; health checks
// alarm when it exceeds a few poll intervals during trading hours.
func (f *Feed) LastQuoteAge() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.lastPoll.IsZero() {
		return -1
	}
	return time.Since(f.lastPoll)
}
