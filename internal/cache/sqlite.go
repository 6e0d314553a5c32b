// Package cache implements the persistent TTL cache that guards external
// data providers. Entries live in a sqlite database so freshness survives
// restarts; expiry is lazy on read with an explicit cleanup sweep.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"quant_trader/internal/core"
	apperrors "quant_trader/pkg/errors"
	"quant_trader/pkg/telemetry"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	data_type  TEXT NOT NULL DEFAULT '',
	symbol     TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at);
CREATE INDEX IF NOT EXISTS idx_cache_symbol ON cache_entries(symbol);
`

// SQLiteCache is a durable KV cache. Every operation is its own
// transaction; WAL mode keeps readers unblocked during writes.
type SQLiteCache struct {
	db         *sql.DB
	path       string
	defaultTTL time.Duration
	logger     core.ILogger
	metrics    *telemetry.MetricsHolder
	closed     atomic.Bool
}

var _ core.ICache = (*SQLiteCache)(nil)

func NewSQLiteCache(dbPath string, defaultTTL time.Duration, logger core.ILogger) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping cache database: %w", err)
	}

	// WAL for crash recovery and concurrent readers; busy timeout so
	// concurrent writers queue instead of failing with SQLITE_BUSY.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}

	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}

	return &SQLiteCache{
		db:         db,
		path:       dbPath,
		defaultTTL: defaultTTL,
		logger:     logger.WithField("component", "cache"),
		metrics:    telemetry.GetGlobalMetrics(),
	}, nil
}

// Get loads the value stored under key into dest. It misses when the key
// is absent, past its expiry (the row is deleted), or older than the
// caller's maxAge ceiling (maxAge <= 0 means any age within TTL is fine).
func (c *SQLiteCache) Get(ctx context.Context, key string, maxAge time.Duration, dest any) (bool, error) {
	if c.closed.Load() {
		return false, apperrors.ErrCacheClosed
	}

	var (
		raw       string
		createdAt int64
		expiresAt int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT value, created_at, expires_at FROM cache_entries WHERE key = ?`, key).
		Scan(&raw, &createdAt, &expiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			c.recordMiss()
			return false, nil
		}
		return false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	now := time.Now()
	if now.UnixNano() >= expiresAt {
		// Lazy expiry: drop the dead row on the read path.
		if _, derr := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); derr != nil {
			c.logger.Warn("failed to delete expired cache entry", "key", key, "error", derr)
		}
		c.recordMiss()
		return false, nil
	}
	if maxAge > 0 && now.Sub(time.Unix(0, createdAt)) >= maxAge {
		// Still within TTL for other callers, just too old for this one.
		c.recordMiss()
		return false, nil
	}

	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cache entry %q: %w", key, err)
	}
	c.recordHit()
	return true, nil
}

// Set stores value under key, replacing any existing entry atomically.
// A non-positive ttl falls back to the cache default.
func (c *SQLiteCache) Set(ctx context.Context, key string, value any, ttl time.Duration, dataType, symbol string) error {
	if c.closed.Load() {
		return apperrors.ErrCacheClosed
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value for %q: %w", key, err)
	}

	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (key, value, data_type, symbol, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		key, string(data), dataType, symbol, now.UnixNano(), now.Add(ttl).UnixNano())
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return tx.Commit()
}

func (c *SQLiteCache) Delete(ctx context.Context, key string) error {
	if c.closed.Load() {
		return apperrors.ErrCacheClosed
	}
	if _, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Invalidate removes entries matching the AND of all non-empty filter
// fields. An all-empty filter matches nothing and returns 0.
func (c *SQLiteCache) Invalidate(ctx context.Context, filter core.InvalidateFilter) (int64, error) {
	if c.closed.Load() {
		return 0, apperrors.ErrCacheClosed
	}

	var (
		clauses []string
		args    []any
	)
	if filter.Pattern != "" {
		clauses = append(clauses, "key LIKE ?")
		args = append(args, filter.Pattern)
	}
	if filter.Symbol != "" {
		clauses = append(clauses, "symbol = ?")
		args = append(args, filter.Symbol)
	}
	if filter.DataType != "" {
		clauses = append(clauses, "data_type = ?")
		args = append(args, filter.DataType)
	}
	if len(clauses) == 0 {
		return 0, nil
	}

	res, err := c.db.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE "+strings.Join(clauses, " AND "), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate cache entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count invalidated entries: %w", err)
	}
	c.logger.Info("cache invalidated",
		"pattern", filter.Pattern, "symbol", filter.Symbol, "data_type", filter.DataType, "removed", n)
	return n, nil
}

// CleanupExpired sweeps every row whose TTL has elapsed and returns the
// number removed.
func (c *SQLiteCache) CleanupExpired(ctx context.Context) (int64, error) {
	if c.closed.Load() {
		return 0, apperrors.ErrCacheClosed
	}
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at <= ?`, time.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleaned entries: %w", err)
	}
	if n > 0 {
		c.logger.Debug("cache cleanup removed expired entries", "count", n)
	}
	return n, nil
}

func (c *SQLiteCache) Stats(ctx context.Context) (*core.CacheStats, error) {
	if c.closed.Load() {
		return nil, apperrors.ErrCacheClosed
	}

	stats := &core.CacheStats{DBPath: c.path}
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&stats.TotalEntries); err != nil {
		return nil, fmt.Errorf("failed to count cache entries: %w", err)
	}
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cache_entries WHERE expires_at <= ?`, time.Now().UnixNano()).
		Scan(&stats.ExpiredEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to count expired entries: %w", err)
	}
	if fi, err := os.Stat(c.path); err == nil {
		stats.DBSizeBytes = fi.Size()
	}
	return stats, nil
}

func (c *SQLiteCache) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.db.Close()
}

func (c *SQLiteCache) recordHit() {
	if c.metrics != nil && c.metrics.CacheHitsTotal != nil {
		c.metrics.CacheHitsTotal.Add(context.Background(), 1)
	}
}

func (c *SQLiteCache) recordMiss() {
	if c.metrics != nil && c.metrics.CacheMissesTotal != nil {
		c.metrics.CacheMissesTotal.Add(context.Background(), 1)
	}
}
