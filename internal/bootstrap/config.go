package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"quant_trader/internal/config"
)

// Config is an alias for the project's main configuration struct.
type Config = config.Config

// LoadConfig delegates to the project's config loader and then runs the
// environment checks schema validation cannot cover.
func LoadConfig(path string) (*Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if err := checkPreFlight(path, cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}

	return cfg, nil
}

// checkPreFlight verifies the process can actually use what the config
// names: the SQLite stores need their parent directories, the log file must
// be creatable, and a config file carrying inline webhook credentials must
// not be group or world readable.
func checkPreFlight(path string, cfg *Config) error {
	for field, p := range map[string]string{
		"cache.db_path":     cfg.Cache.DBPath,
		"orders.store_path": cfg.Orders.StorePath,
	} {
		if err := ensureParentDir(p); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}
	if cfg.Log.File != "" {
		if err := ensureParentDir(cfg.Log.File); err != nil {
			return fmt.Errorf("log.file: %w", err)
		}
	}

	// Inline alert credentials make the file itself a secret. Tokens
	// injected via ${ENV} leave the file clean, and validation has already
	// required the expanded values to be non-empty.
	if cfg.Alerts.Telegram.Enabled || cfg.Alerts.Slack.Enabled {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if mode := info.Mode().Perm(); mode&0o077 != 0 && fileHasInlineSecrets(path) {
			return fmt.Errorf("insecure permissions on %s: %04o (alert credentials require 0600)", path, mode)
		}
	}

	return nil
}

// ensureParentDir creates the directory a file path lives in. SQLite opens
// the file itself but fails opaquely when the directory is missing.
func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return nil
}

// fileHasInlineSecrets reports whether the raw file contains credential
// keys with literal values rather than ${ENV} references.
func fileHasInlineSecrets(path string) bool {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(raw), "\n") {
		for _, key := range []string{"bot_token:", "webhook_url:"} {
			_, value, found := strings.Cut(line, key)
			if !found {
				continue
			}
			v := strings.Trim(strings.TrimSpace(value), `"'`)
			if v != "" && !strings.HasPrefix(v, "$") {
				return true
			}
		}
	}
	return false
}
