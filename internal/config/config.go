// Package config loads and validates the platform configuration: one YAML
// document with environment variable expansion, defaults for every key and
// per-section validation. The config stays in plain scalars; bootstrap maps
// sections onto the typed component configs.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"quant_trader/internal/market"
)

// Config is the complete configuration document.
type Config struct {
	Engine     EngineConfig              `yaml:"engine"`
	Market     MarketConfig              `yaml:"market"`
	Costs      CostsConfig               `yaml:"costs"`
	Risk       RiskConfig                `yaml:"risk"`
	Broker     BrokerConfig              `yaml:"broker"`
	Orders     OrdersConfig              `yaml:"orders"`
	Cache      CacheConfig               `yaml:"cache"`
	Data       DataConfig                `yaml:"data"`
	Feed       FeedConfig                `yaml:"feed"`
	Log        LogConfig                 `yaml:"log"`
	Telemetry  TelemetryConfig           `yaml:"telemetry"`
	Alerts     AlertsConfig              `yaml:"alerts"`
	Monitor    MonitorConfig             `yaml:"monitor"`
	Symbols    []string                  `yaml:"symbols"`
	Strategies map[string]StrategyConfig `yaml:"strategies"`
}

// EngineConfig contains engine-level settings.
type EngineConfig struct {
	InitialCapital     float64 `yaml:"initial_capital"`
	EnableTrading      bool    `yaml:"enable_trading"`
	MaxOrdersPerSecond float64 `yaml:"max_orders_per_second"`
	HeartbeatIntervalS int     `yaml:"heartbeat_interval_s"`
	AccountID          string  `yaml:"account_id"`
	// OrderType is the flavor built from signals: MARKET or LIMIT.
	OrderType string `yaml:"order_type"`
	// QueueHighWater is the event backlog depth that triggers a warning.
	QueueHighWater int `yaml:"queue_high_water"`
}

// MarketConfig tunes the market simulator.
type MarketConfig struct {
	// IgnoreTradingHours bypasses the session check. Test harnesses only;
	// the live engine forces it off.
	IgnoreTradingHours   bool    `yaml:"ignore_trading_hours"`
	ImpactModel          string  `yaml:"impact_model"`
	BaseImpact           float64 `yaml:"base_impact"`
	MaxParticipationRate float64 `yaml:"max_participation_rate"`
}

// CostsConfig is the A-share fee schedule.
type CostsConfig struct {
	CommissionRate   float64 `yaml:"commission_rate"`
	MinCommission    float64 `yaml:"min_commission"`
	StampTaxRate     float64 `yaml:"stamp_tax_rate"`
	TransferFeeRate  float64 `yaml:"transfer_fee_rate"`
	MarketImpactRate float64 `yaml:"market_impact_rate"`
}

// RiskConfig tunes the pre-trade gate and the drawdown breaker.
type RiskConfig struct {
	MaxPositionPct   float64 `yaml:"max_position_pct"`
	MaxTotalExposure float64 `yaml:"max_total_exposure"`
	MaxOrderValue    float64 `yaml:"max_order_value"`
	MinOrderValue    float64 `yaml:"min_order_value"`
	// MaxDrawdownPct trips the drawdown breaker; zero disables it.
	MaxDrawdownPct float64 `yaml:"max_drawdown_pct"`
	// BreakerCooldownS re-closes a tripped breaker after this long; zero
	// keeps it open until a manual reset.
	BreakerCooldownS int `yaml:"breaker_cooldown_s"`
}

// BrokerConfig selects and tunes the broker adapter.
type BrokerConfig struct {
	Kind          string  `yaml:"kind"` // only "mock" ships today
	FillDelayS    float64 `yaml:"fill_delay_s"`
	SlippageRate  float64 `yaml:"slippage_rate"`
	RejectionRate float64 `yaml:"rejection_rate"`
	TimeoutS      float64 `yaml:"timeout_s"`
}

// OrdersConfig tunes the live order manager.
type OrdersConfig struct {
	PollIntervalS float64 `yaml:"poll_interval_s"`
	RateBurst     int     `yaml:"rate_burst"`
	StorePath     string  `yaml:"store_path"`
	// Submit retry policy for transient broker failures.
	SubmitMaxAttempts  int `yaml:"submit_max_attempts"`
	SubmitBackoffMs    int `yaml:"submit_backoff_ms"`
	SubmitMaxBackoffMs int `yaml:"submit_max_backoff_ms"`
}

// CacheConfig locates the persistent cache.
type CacheConfig struct {
	DBPath      string `yaml:"db_path"`
	DefaultTTLS int    `yaml:"default_ttl_s"`
}

// DataConfig orders the provider fallback chain and bounds crawling.
type DataConfig struct {
	Providers        []string `yaml:"providers"`
	TimeoutS         float64  `yaml:"timeout_s"`
	MaxRetries       int      `yaml:"max_retries"`
	SymbolIntervalS  float64  `yaml:"symbol_interval_s"`
	GlobalIntervalMs int      `yaml:"global_interval_ms"`
	WarmerWorkers    int      `yaml:"warmer_workers"`
}

// FeedConfig tunes the realtime quote loop.
type FeedConfig struct {
	PollIntervalS float64 `yaml:"poll_interval_s"`
	// WebsocketURL switches the feed to a push source when set.
	WebsocketURL string `yaml:"websocket_url"`
}

// LogConfig selects log level and sink.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
	File   string `yaml:"file"`   // empty logs to stderr
}

// TelemetryConfig controls the OTel/Prometheus pipeline.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MetricsPort int    `yaml:"metrics_port"`
	ServiceName string `yaml:"service_name"`
}

// AlertsConfig wires outbound notification channels.
type AlertsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Slack    SlackConfig    `yaml:"slack"`
}

// TelegramConfig holds bot credentials for the Telegram channel.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken Secret `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// SlackConfig holds the webhook for the Slack channel.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL Secret `yaml:"webhook_url"`
}

// MonitorConfig exposes the dashboard websocket hub.
type MonitorConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxConnections int      `yaml:"max_connections"`
}

// StrategyConfig enables one strategy with its parameter map. Symbols
// overrides the global watchlist for that strategy when set.
type StrategyConfig struct {
	Enabled bool           `yaml:"enabled"`
	Symbols []string       `yaml:"symbols"`
	Params  map[string]any `yaml:"params"`
}

// ValidationError describes one rejected configuration field.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// DefaultConfig returns the shipped defaults. LoadConfig unmarshals on top
// of it, so absent keys keep these values.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			InitialCapital:     1_000_000,
			EnableTrading:      true,
			MaxOrdersPerSecond: 10,
			HeartbeatIntervalS: 30,
			OrderType:          "MARKET",
			QueueHighWater:     10000,
			AccountID:          "paper",
		},
		Market: MarketConfig{
			ImpactModel:          "linear",
			BaseImpact:           0.001,
			MaxParticipationRate: 0.10,
		},
		Costs: CostsConfig{
			CommissionRate:   0.0003,
			MinCommission:    5,
			StampTaxRate:     0.001,
			TransferFeeRate:  0.00002,
			MarketImpactRate: 0.0001,
		},
		Risk: RiskConfig{
			MaxPositionPct:   0.10,
			MaxTotalExposure: 0.95,
			MaxOrderValue:    1_000_000,
			MinOrderValue:    1_000,
			MaxDrawdownPct:   0.20,
		},
		Broker: BrokerConfig{
			Kind:          "mock",
			FillDelayS:    0.1,
			SlippageRate:  0.0001,
			RejectionRate: 0,
			TimeoutS:      10,
		},
		Orders: OrdersConfig{
			PollIntervalS:      1,
			RateBurst:          1,
			SubmitMaxAttempts:  3,
			SubmitBackoffMs:    200,
			SubmitMaxBackoffMs: 2000,
			StorePath:          "data/orders.db",
		},
		Cache: CacheConfig{
			DBPath:      "data/cache.db",
			DefaultTTLS: 3600,
		},
		Data: DataConfig{
			Providers:        []string{"sina", "eastmoney", "tencent"},
			TimeoutS:         10,
			MaxRetries:       3,
			SymbolIntervalS:  5,
			GlobalIntervalMs: 200,
			WarmerWorkers:    4,
		},
		Feed: FeedConfig{
			PollIntervalS: 1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			Enabled:     true,
			MetricsPort: 9090,
			ServiceName: "quant_trader",
		},
		Monitor: MonitorConfig{
			Addr:           ":8080",
			MaxConnections: 64,
		},
	}
}

// LoadConfig reads a YAML file, expands ${ENV} references and validates
// the result. Missing keys fall back to DefaultConfig values.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks every section and reports all failures at once.
func (c *Config) Validate() error {
	var errs []string
	for _, check := range []func() error{
		c.validateEngine,
		c.validateMarket,
		c.validateCosts,
		c.validateRisk,
		c.validateBroker,
		c.validateOrders,
		c.validateCache,
		c.validateData,
		c.validateFeed,
		c.validateLog,
		c.validateTelemetry,
		c.validateAlerts,
		c.validateMonitor,
		c.validateSymbols,
	} {
		if err := check(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func (c *Config) validateEngine() error {
	if c.Engine.InitialCapital <= 0 {
		return ValidationError{Field: "engine.initial_capital", Value: c.Engine.InitialCapital,
			Message: "must be positive"}
	}
	if c.Engine.MaxOrdersPerSecond <= 0 || c.Engine.MaxOrdersPerSecond > 1000 {
		return ValidationError{Field: "engine.max_orders_per_second", Value: c.Engine.MaxOrdersPerSecond,
			Message: "must be in (0, 1000]"}
	}
	if c.Engine.HeartbeatIntervalS < 1 || c.Engine.HeartbeatIntervalS > 3600 {
		return ValidationError{Field: "engine.heartbeat_interval_s", Value: c.Engine.HeartbeatIntervalS,
			Message: "must be between 1 and 3600"}
	}
	if !contains([]string{"MARKET", "LIMIT"}, c.Engine.OrderType) {
		return ValidationError{Field: "engine.order_type", Value: c.Engine.OrderType,
			Message: "must be one of: MARKET, LIMIT"}
	}
	if c.Engine.QueueHighWater < 1 {
		return ValidationError{Field: "engine.queue_high_water", Value: c.Engine.QueueHighWater,
			Message: "must be at least 1"}
	}
	return nil
}

func (c *Config) validateMarket() error {
	if !contains([]string{"linear", "sqrt"}, c.Market.ImpactModel) {
		return ValidationError{Field: "market.impact_model", Value: c.Market.ImpactModel,
			Message: "must be one of: linear, sqrt"}
	}
	if c.Market.BaseImpact < 0 || c.Market.BaseImpact > 1 {
		return ValidationError{Field: "market.base_impact", Value: c.Market.BaseImpact,
			Message: "must be between 0 and 1"}
	}
	if c.Market.MaxParticipationRate <= 0 || c.Market.MaxParticipationRate > 1 {
		return ValidationError{Field: "market.max_participation_rate", Value: c.Market.MaxParticipationRate,
			Message: "must be in (0, 1]"}
	}
	return nil
}

func (c *Config) validateCosts() error {
	rates := map[string]float64{
		"costs.commission_rate":    c.Costs.CommissionRate,
		"costs.stamp_tax_rate":     c.Costs.StampTaxRate,
		"costs.transfer_fee_rate":  c.Costs.TransferFeeRate,
		"costs.market_impact_rate": c.Costs.MarketImpactRate,
	}
	for field, v := range rates {
		if v < 0 || v >= 1 {
			return ValidationError{Field: field, Value: v, Message: "must be in [0, 1)"}
		}
	}
	if c.Costs.MinCommission < 0 {
		return ValidationError{Field: "costs.min_commission", Value: c.Costs.MinCommission,
			Message: "must not be negative"}
	}
	return nil
}

func (c *Config) validateRisk() error {
	if c.Risk.MaxPositionPct <= 0 || c.Risk.MaxPositionPct > 1 {
		return ValidationError{Field: "risk.max_position_pct", Value: c.Risk.MaxPositionPct,
			Message: "must be in (0, 1]"}
	}
	if c.Risk.MaxTotalExposure <= 0 || c.Risk.MaxTotalExposure > 1 {
		return ValidationError{Field: "risk.max_total_exposure", Value: c.Risk.MaxTotalExposure,
			Message: "must be in (0, 1]"}
	}
	if c.Risk.MinOrderValue < 0 {
		return ValidationError{Field: "risk.min_order_value", Value: c.Risk.MinOrderValue,
			Message: "must not be negative"}
	}
	if c.Risk.MaxOrderValue <= c.Risk.MinOrderValue {
		return ValidationError{Field: "risk.max_order_value", Value: c.Risk.MaxOrderValue,
			Message: "must exceed risk.min_order_value"}
	}
	if c.Risk.MaxDrawdownPct < 0 || c.Risk.MaxDrawdownPct >= 1 {
		return ValidationError{Field: "risk.max_drawdown_pct", Value: c.Risk.MaxDrawdownPct,
			Message: "must be in [0, 1)"}
	}
	if c.Risk.BreakerCooldownS < 0 {
		return ValidationError{Field: "risk.breaker_cooldown_s", Value: c.Risk.BreakerCooldownS,
			Message: "must not be negative"}
	}
	return nil
}

func (c *Config) validateBroker() error {
	if !contains([]string{"mock"}, c.Broker.Kind) {
		return ValidationError{Field: "broker.kind", Value: c.Broker.Kind,
			Message: "must be one of: mock"}
	}
	if c.Broker.FillDelayS < 0 || c.Broker.FillDelayS > 60 {
		return ValidationError{Field: "broker.fill_delay_s", Value: c.Broker.FillDelayS,
			Message: "must be between 0 and 60"}
	}
	if c.Broker.SlippageRate < 0 || c.Broker.SlippageRate > 0.1 {
		return ValidationError{Field: "broker.slippage_rate", Value: c.Broker.SlippageRate,
			Message: "must be between 0 and 0.1"}
	}
	if c.Broker.RejectionRate < 0 || c.Broker.RejectionRate > 1 {
		return ValidationError{Field: "broker.rejection_rate", Value: c.Broker.RejectionRate,
			Message: "must be between 0 and 1"}
	}
	if c.Broker.TimeoutS <= 0 || c.Broker.TimeoutS > 120 {
		return ValidationError{Field: "broker.timeout_s", Value: c.Broker.TimeoutS,
			Message: "must be in (0, 120]"}
	}
	return nil
}

func (c *Config) validateOrders() error {
	if c.Orders.PollIntervalS < 0.1 || c.Orders.PollIntervalS > 60 {
		return ValidationError{Field: "orders.poll_interval_s", Value: c.Orders.PollIntervalS,
			Message: "must be between 0.1 and 60"}
	}
	if c.Orders.RateBurst < 1 || c.Orders.RateBurst > 100 {
		return ValidationError{Field: "orders.rate_burst", Value: c.Orders.RateBurst,
			Message: "must be between 1 and 100"}
	}
	if c.Orders.SubmitMaxAttempts < 1 || c.Orders.SubmitMaxAttempts > 10 {
		return ValidationError{Field: "orders.submit_max_attempts", Value: c.Orders.SubmitMaxAttempts,
			Message: "must be between 1 and 10"}
	}
	if c.Orders.StorePath == "" {
		return ValidationError{Field: "orders.store_path", Message: "must not be empty"}
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.DBPath == "" {
		return ValidationError{Field: "cache.db_path", Message: "must not be empty"}
	}
	if c.Cache.DefaultTTLS < 1 {
		return ValidationError{Field: "cache.default_ttl_s", Value: c.Cache.DefaultTTLS,
			Message: "must be at least 1"}
	}
	return nil
}

func (c *Config) validateData() error {
	known := []string{"sina", "eastmoney", "tencent"}
	if len(c.Data.Providers) == 0 {
		return ValidationError{Field: "data.providers", Message: "at least one provider required"}
	}
	for _, p := range c.Data.Providers {
		if !contains(known, p) {
			return ValidationError{Field: "data.providers", Value: p,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(known, ", "))}
		}
	}
	if c.Data.TimeoutS <= 0 || c.Data.TimeoutS > 120 {
		return ValidationError{Field: "data.timeout_s", Value: c.Data.TimeoutS,
			Message: "must be in (0, 120]"}
	}
	if c.Data.MaxRetries < 0 || c.Data.MaxRetries > 10 {
		return ValidationError{Field: "data.max_retries", Value: c.Data.MaxRetries,
			Message: "must be between 0 and 10"}
	}
	if c.Data.WarmerWorkers < 1 || c.Data.WarmerWorkers > 64 {
		return ValidationError{Field: "data.warmer_workers", Value: c.Data.WarmerWorkers,
			Message: "must be between 1 and 64"}
	}
	return nil
}

func (c *Config) validateFeed() error {
	if c.Feed.PollIntervalS < 0.1 || c.Feed.PollIntervalS > 60 {
		return ValidationError{Field: "feed.poll_interval_s", Value: c.Feed.PollIntervalS,
			Message: "must be between 0.1 and 60"}
	}
	return nil
}

func (c *Config) validateLog() error {
	if !contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Log.Level)) {
		return ValidationError{Field: "log.level", Value: c.Log.Level,
			Message: "must be one of: debug, info, warn, error"}
	}
	if !contains([]string{"console", "json"}, c.Log.Format) {
		return ValidationError{Field: "log.format", Value: c.Log.Format,
			Message: "must be one of: console, json"}
	}
	return nil
}

func (c *Config) validateTelemetry() error {
	if !c.Telemetry.Enabled {
		return nil
	}
	if c.Telemetry.MetricsPort < 1 || c.Telemetry.MetricsPort > 65535 {
		return ValidationError{Field: "telemetry.metrics_port", Value: c.Telemetry.MetricsPort,
			Message: "must be a valid port"}
	}
	if c.Telemetry.ServiceName == "" {
		return ValidationError{Field: "telemetry.service_name", Message: "must not be empty"}
	}
	return nil
}

func (c *Config) validateAlerts() error {
	if c.Alerts.Telegram.Enabled {
		if c.Alerts.Telegram.BotToken == "" {
			return ValidationError{Field: "alerts.telegram.bot_token", Message: "required when telegram is enabled"}
		}
		if c.Alerts.Telegram.ChatID == "" {
			return ValidationError{Field: "alerts.telegram.chat_id", Message: "required when telegram is enabled"}
		}
	}
	if c.Alerts.Slack.Enabled && c.Alerts.Slack.WebhookURL == "" {
		return ValidationError{Field: "alerts.slack.webhook_url", Message: "required when slack is enabled"}
	}
	return nil
}

func (c *Config) validateMonitor() error {
	if !c.Monitor.Enabled {
		return nil
	}
	if c.Monitor.Addr == "" {
		return ValidationError{Field: "monitor.addr", Message: "must not be empty"}
	}
	if c.Monitor.MaxConnections < 1 {
		return ValidationError{Field: "monitor.max_connections", Value: c.Monitor.MaxConnections,
			Message: "must be at least 1"}
	}
	return nil
}

func (c *Config) validateSymbols() error {
	for _, s := range c.Symbols {
		if err := market.ValidateSymbol(s); err != nil {
			return ValidationError{Field: "symbols", Value: s, Message: err.Error()}
		}
	}
	for name, sc := range c.Strategies {
		for _, s := range sc.Symbols {
			if err := market.ValidateSymbol(s); err != nil {
				return ValidationError{Field: "strategies." + name + ".symbols", Value: s,
					Message: err.Error()}
			}
		}
	}
	return nil
}

// String returns the configuration as YAML with secrets redacted.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// expandEnvVars substitutes ${VAR} and $VAR references with environment
// values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		value := os.Getenv(key)
		if value == "" && isCriticalEnvVar(key) {
			return ""
		}
		return value
	})
}

// isCriticalEnvVar checks if an environment variable carries credentials.
func isCriticalEnvVar(key string) bool {
	criticalVars := []string{
		"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID",
		"SLACK_WEBHOOK_URL",
	}
	return contains(criticalVars, key)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
