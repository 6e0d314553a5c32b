package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestExpandEnvVars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{
			name:  "expand single env var",
			input: "bot_token: ${TEST_BOT_TOKEN}",
			envVars: map[string]string{
				"TEST_BOT_TOKEN": "token_123",
			},
			expected: "bot_token: token_123",
		},
		{
			name:  "expand multiple env vars",
			input: "bot_token: ${BOT_TOKEN}\nwebhook: ${WEBHOOK}",
			envVars: map[string]string{
				"BOT_TOKEN": "token_value",
				"WEBHOOK":   "hook_value",
			},
			expected: "bot_token: token_value\nwebhook: hook_value",
		},
		{
			name:     "missing env var expands to empty string",
			input:    "bot_token: ${MISSING_VAR}",
			envVars:  map[string]string{},
			expected: "bot_token: ",
		},
		{
			name:  "mixed static and env vars",
			input: "poll_interval_s: 2\nchat_id: ${TEST_CHAT}",
			envVars: map[string]string{
				"TEST_CHAT": "-100123",
			},
			expected: "poll_interval_s: 2\nchat_id: -100123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}
			result := expandEnvVars(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, float64(1_000_000), cfg.Engine.InitialCapital)
	assert.True(t, cfg.Engine.EnableTrading)
	assert.Equal(t, 0.0003, cfg.Costs.CommissionRate)
	assert.Equal(t, float64(5), cfg.Costs.MinCommission)
	assert.Equal(t, 0.10, cfg.Risk.MaxPositionPct)
	assert.Equal(t, []string{"sina", "eastmoney", "tencent"}, cfg.Data.Providers)
	assert.Equal(t, 3600, cfg.Cache.DefaultTTLS)
}

func TestLoadConfigKeepsDefaultsForAbsentKeys(t *testing.T) {
	path := writeConfigFile(t, `
engine:
  initial_capital: 250000

symbols:
  - "600519.SH"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, float64(250_000), cfg.Engine.InitialCapital)
	// Untouched sections keep shipped defaults.
	assert.Equal(t, float64(10), cfg.Engine.MaxOrdersPerSecond)
	assert.Equal(t, 0.001, cfg.Costs.StampTaxRate)
	assert.Equal(t, "linear", cfg.Market.ImpactModel)
	assert.Equal(t, "mock", cfg.Broker.Kind)
	assert.Equal(t, []string{"600519.SH"}, cfg.Symbols)
}

func TestLoadConfigExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_TG_TOKEN", "tg_token_from_env")
	t.Setenv("TEST_TG_CHAT", "-1001234")

	path := writeConfigFile(t, `
alerts:
  telegram:
    enabled: true
    bot_token: "${TEST_TG_TOKEN}"
    chat_id: "${TEST_TG_CHAT}"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, Secret("tg_token_from_env"), cfg.Alerts.Telegram.BotToken)
	assert.Equal(t, "-1001234", cfg.Alerts.Telegram.ChatID)
}

func TestLoadConfigParsesStrategies(t *testing.T) {
	path := writeConfigFile(t, `
symbols:
  - "510300.SH"
  - "000001.SZ"

strategies:
  ma_cross:
    enabled: true
    params:
      short_window: 5
      long_window: 20
  grid:
    enabled: false
    symbols: ["510300.SH"]
    params:
      num_grids: 10
      grid_pct: 0.01
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Contains(t, cfg.Strategies, "ma_cross")
	require.Contains(t, cfg.Strategies, "grid")
	assert.True(t, cfg.Strategies["ma_cross"].Enabled)
	assert.Equal(t, 5, cfg.Strategies["ma_cross"].Params["short_window"])
	assert.False(t, cfg.Strategies["grid"].Enabled)
	assert.Equal(t, []string{"510300.SH"}, cfg.Strategies["grid"].Symbols)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "engine: [not a mapping")
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{
			name:   "non-positive capital",
			mutate: func(c *Config) { c.Engine.InitialCapital = 0 },
			field:  "engine.initial_capital",
		},
		{
			name:   "order type unknown",
			mutate: func(c *Config) { c.Engine.OrderType = "STOP" },
			field:  "engine.order_type",
		},
		{
			name:   "impact model unknown",
			mutate: func(c *Config) { c.Market.ImpactModel = "quadratic" },
			field:  "market.impact_model",
		},
		{
			name:   "commission rate out of range",
			mutate: func(c *Config) { c.Costs.CommissionRate = 1.5 },
			field:  "costs.commission_rate",
		},
		{
			name:   "position pct above one",
			mutate: func(c *Config) { c.Risk.MaxPositionPct = 1.2 },
			field:  "risk.max_position_pct",
		},
		{
			name:   "max order below min order",
			mutate: func(c *Config) { c.Risk.MaxOrderValue = 500; c.Risk.MinOrderValue = 1000 },
			field:  "risk.max_order_value",
		},
		{
			name:   "drawdown at or above one",
			mutate: func(c *Config) { c.Risk.MaxDrawdownPct = 1 },
			field:  "risk.max_drawdown_pct",
		},
		{
			name:   "unknown broker kind",
			mutate: func(c *Config) { c.Broker.Kind = "futu" },
			field:  "broker.kind",
		},
		{
			name:   "rejection rate above one",
			mutate: func(c *Config) { c.Broker.RejectionRate = 1.5 },
			field:  "broker.rejection_rate",
		},
		{
			name:   "unknown provider",
			mutate: func(c *Config) { c.Data.Providers = []string{"yahoo"} },
			field:  "data.providers",
		},
		{
			name:   "empty provider chain",
			mutate: func(c *Config) { c.Data.Providers = nil },
			field:  "data.providers",
		},
		{
			name:   "cache ttl below one",
			mutate: func(c *Config) { c.Cache.DefaultTTLS = 0 },
			field:  "cache.default_ttl_s",
		},
		{
			name:   "log level unknown",
			mutate: func(c *Config) { c.Log.Level = "verbose" },
			field:  "log.level",
		},
		{
			name:   "telegram enabled without token",
			mutate: func(c *Config) { c.Alerts.Telegram.Enabled = true; c.Alerts.Telegram.ChatID = "1" },
			field:  "alerts.telegram.bot_token",
		},
		{
			name:   "slack enabled without webhook",
			mutate: func(c *Config) { c.Alerts.Slack.Enabled = true },
			field:  "alerts.slack.webhook_url",
		},
		{
			name:   "malformed symbol",
			mutate: func(c *Config) { c.Symbols = []string{"600519"} },
			field:  "symbols",
		},
		{
			name: "malformed strategy symbol",
			mutate: func(c *Config) {
				c.Strategies = map[string]StrategyConfig{
					"grid": {Enabled: true, Symbols: []string{"BTCUSDT"}},
				}
			},
			field: "strategies.grid.symbols",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidateReportsAllFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.InitialCapital = -1
	cfg.Market.ImpactModel = "cubic"
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.initial_capital")
	assert.Contains(t, err.Error(), "market.impact_model")
	assert.Contains(t, err.Error(), "log.format")
}

func TestConfigStringRedactsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Alerts.Telegram.BotToken = Secret("tg_cleartext_token")
	cfg.Alerts.Slack.WebhookURL = Secret("https://hooks.example.com/T000/B000/secret")

	output := cfg.String()

	assert.Contains(t, output, "[REDACTED]")
	assert.NotContains(t, output, "tg_cleartext_token")
	assert.NotContains(t, output, "secret")
}

func TestValidationErrorFormat(t *testing.T) {
	err := ValidationError{Field: "engine.initial_capital", Value: -5.0, Message: "must be positive"}
	assert.Equal(t, "validation error for field 'engine.initial_capital' (value: -5): must be positive", err.Error())
}
