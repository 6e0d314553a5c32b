package bootstrap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// minimalConfig keeps every store inside the test's temp directory.
func minimalConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return writeConfig(t, `
log:
  level: error
cache:
  db_path: `+filepath.Join(dir, "cache.db")+`
orders:
  store_path: `+filepath.Join(dir, "orders.db")+`
telemetry:
  enabled: false
`)
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(minimalConfig(t))
	require.NoError(t, err)

	assert.Equal(t, "mock", cfg.Broker.Kind)
	assert.Equal(t, []string{"sina", "eastmoney", "tencent"}, cfg.Data.Providers)
	assert.InDelta(t, 1_000_000, cfg.Engine.InitialCapital, 0.001)
}

func TestLoadConfigCreatesStoreDirectories(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "nested", "deep", "cache.db")
	ordersPath := filepath.Join(dir, "elsewhere", "orders.db")

	path := writeConfig(t, `
log:
  level: error
cache:
  db_path: `+cachePath+`
orders:
  store_path: `+ordersPath+`
`)

	_, err := LoadConfig(path)
	require.NoError(t, err)

	assert.DirExists(t, filepath.Dir(cachePath))
	assert.DirExists(t, filepath.Dir(ordersPath))
}

func TestLoadConfigRejectsInvalidSection(t *testing.T) {
	path := writeConfig(t, `
broker:
  kind: goldman
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker.kind")
}

func TestPreFlightRejectsWorldReadableSecrets(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
log:
  level: error
cache:
  db_path: `+filepath.Join(dir, "cache.db")+`
orders:
  store_path: `+filepath.Join(dir, "orders.db")+`
alerts:
  telegram:
    enabled: true
    bot_token: "123456:inline-token"
    chat_id: "42"
`)
	require.NoError(t, os.Chmod(path, 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure permissions")

	require.NoError(t, os.Chmod(path, 0o600))
	_, err = LoadConfig(path)
	assert.NoError(t, err)
}

func TestPreFlightAllowsEnvInjectedSecrets(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123456:from-env")
	t.Setenv("TELEGRAM_CHAT_ID", "42")

	dir := t.TempDir()
	path := writeConfig(t, `
log:
  level: error
cache:
  db_path: `+filepath.Join(dir, "cache.db")+`
orders:
  store_path: `+filepath.Join(dir, "orders.db")+`
alerts:
  telegram:
    enabled: true
    bot_token: ${TELEGRAM_BOT_TOKEN}
    chat_id: ${TELEGRAM_CHAT_ID}
`)
	require.NoError(t, os.Chmod(path, 0o644))

	// The file holds only references, so loose permissions are fine.
	_, err := LoadConfig(path)
	assert.NoError(t, err)
}
