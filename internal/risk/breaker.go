package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"quant_trader/internal/core"
	"quant_trader/pkg/telemetry"
)

// BreakerConfig tunes the drawdown breaker.
type BreakerConfig struct {
	// MaxDrawdownPct trips the breaker when equity falls this fraction
	// below its observed peak. Zero disables the breaker.
	MaxDrawdownPct decimal.Decimal
	// Cooldown re-closes the breaker after this much time. Zero means a
	// tripped breaker stays open until Reset.
	Cooldown time.Duration
}

// DrawdownBreaker watches the equity curve and halts trading when the
// peak-to-trough drawdown crosses the configured threshold. The gate
// consults it through the Halter interface.
type DrawdownBreaker struct {
	mu        sync.Mutex
	cfg       BreakerConfig
	peak      decimal.Decimal
	tripped   bool
	trippedAt time.Time
	reason    string
	onTrip    func(reason string)
	logger    core.ILogger
}

// NewDrawdownBreaker builds a breaker. onTrip, when non-nil, fires once per
// trip outside the lock; alerting hooks in here.
func NewDrawdownBreaker(cfg BreakerConfig, onTrip func(reason string), logger core.ILogger) *DrawdownBreaker {
	return &DrawdownBreaker{
		cfg:    cfg,
		onTrip: onTrip,
		logger: logger.WithField("component", "breaker"),
	}
}

// Observe feeds one equity sample. The peak ratchets up; a sample far
// enough below it trips the breaker.
func (b *DrawdownBreaker) Observe(equity decimal.Decimal) {
	if !b.cfg.MaxDrawdownPct.IsPositive() {
		return
	}

	b.mu.Lock()
	if equity.GreaterThan(b.peak) {
		b.peak = equity
	}
	if b.tripped || !b.peak.IsPositive() {
		b.mu.Unlock()
		return
	}
	drawdown := b.peak.Sub(equity).Div(b.peak)
	if drawdown.LessThan(b.cfg.MaxDrawdownPct) {
		b.mu.Unlock()
		return
	}

	b.tripped = true
	b.trippedAt = time.Now()
	b.reason = "drawdown " + drawdown.Round(4).String() + " breached limit " + b.cfg.MaxDrawdownPct.String()
	reason := b.reason
	peak := b.peak
	b.mu.Unlock()

	telemetry.GetGlobalMetrics().SetCircuitBreakerOpen("drawdown", true)
	b.logger.Error("drawdown breaker tripped", "reason", reason, "peak", peak.String(), "equity", equity.String())
	if b.onTrip != nil {
		b.onTrip(reason)
	}
}

// IsTripped reports the breaker state, re-closing it when the cooldown has
// elapsed.
func (b *DrawdownBreaker) IsTripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.tripped {
		return false
	}
	if b.cfg.Cooldown > 0 && time.Since(b.trippedAt) > b.cfg.Cooldown {
		b.resetLocked()
		return false
	}
	return true
}

// Reason returns why the breaker tripped, empty when it is closed.
func (b *DrawdownBreaker) Reason() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reason
}

// Reset closes the breaker and restarts peak tracking from the next sample.
func (b *DrawdownBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
}

func (b *DrawdownBreaker) resetLocked() {
	b.tripped = false
	b.reason = ""
	b.peak = decimal.Zero
	telemetry.GetGlobalMetrics().SetCircuitBreakerOpen("drawdown", false)
}
