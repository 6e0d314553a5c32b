package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"quant_trader/internal/core"
	apperrors "quant_trader/pkg/errors"
)

const ordersSchema = `
CREATE TABLE IF NOT EXISTS orders (
	id              TEXT PRIMARY KEY,
	broker_order_id TEXT NOT NULL DEFAULT '',
	account_id      TEXT NOT NULL DEFAULT '',
	symbol          TEXT NOT NULL,
	side            TEXT NOT NULL,
	order_type      TEXT NOT NULL,
	quantity        INTEGER NOT NULL,
	price           TEXT NOT NULL DEFAULT '0',
	time_in_force   TEXT NOT NULL DEFAULT 'DAY',
	status          TEXT NOT NULL,
	filled_quantity INTEGER NOT NULL DEFAULT 0,
	avg_fill_price  TEXT NOT NULL DEFAULT '0',
	reject_reason   TEXT NOT NULL DEFAULT '',
	metadata        TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	submitted_at    INTEGER,
	filled_at       INTEGER,
	canceled_at     INTEGER,
	updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);
`

// terminalStatuses is the SQL filter complement of LoadOpenOrders.
const openOrdersQuery = `
SELECT id, broker_order_id, account_id, symbol, side, order_type, quantity,
       price, time_in_force, status, filled_quantity, avg_fill_price,
       reject_reason, metadata, created_at, submitted_at, filled_at, canceled_at
FROM orders
WHERE status NOT IN ('FILLED', 'CANCELED', 'REJECTED', 'EXPIRED')
ORDER BY created_at`

// SQLiteStore persists every order state transition so a restarted engine
// can reload working orders and resume their monitors. Writes are
// write-through upserts; the store never interprets statuses beyond the
// open/terminal split.
type SQLiteStore struct {
	db     *sql.DB
	logger core.ILogger
	closed atomic.Bool
}

var _ core.IOrderStore = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, logger core.ILogger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open order database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping order database: %w", err)
	}

	// WAL for crash recovery and concurrent readers; busy timeout so
	// concurrent writers queue instead of failing with SQLITE_BUSY.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec(ordersSchema); err != nil {
		return nil, fmt.Errorf("failed to create orders schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "order_store"),
	}, nil
}

// SaveOrder upserts the full order row keyed by client order id.
func (s *SQLiteStore) SaveOrder(ctx context.Context, o *core.Order) error {
	if s.closed.Load() {
		return fmt.Errorf("order store closed")
	}

	meta := ""
	if len(o.Metadata) > 0 {
		raw, err := json.Marshal(o.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal order metadata for %s: %w", o.ID, err)
		}
		meta = string(raw)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO orders (
			id, broker_order_id, account_id, symbol, side, order_type, quantity,
			price, time_in_force, status, filled_quantity, avg_fill_price,
			reject_reason, metadata, created_at, submitted_at, filled_at,
			canceled_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.BrokerOrderID, o.AccountID, o.Symbol, string(o.Side), string(o.Type),
		o.Quantity, o.Price.String(), string(o.TimeInForce), string(o.Status),
		o.FilledQuantity, o.AvgFillPrice.String(), o.RejectReason, meta,
		o.CreatedAt.UnixNano(), nanosOrNil(o.SubmittedAt), nanosOrNil(o.FilledAt),
		nanosOrNil(o.CanceledAt), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save order %s: %w", o.ID, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetOrder(ctx context.Context, orderID string) (*core.Order, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("order store closed")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, broker_order_id, account_id, symbol, side, order_type, quantity,
		        price, time_in_force, status, filled_quantity, avg_fill_price,
		        reject_reason, metadata, created_at, submitted_at, filled_at, canceled_at
		 FROM orders WHERE id = ?`, orderID)

	o, err := scanOrder(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, orderID)
		}
		return nil, fmt.Errorf("failed to read order %s: %w", orderID, err)
	}
	return o, nil
}

// LoadOpenOrders returns every non-terminal order ordered by creation time.
// The manager calls this once at startup to resume monitoring.
func (s *SQLiteStore) LoadOpenOrders(ctx context.Context) ([]*core.Order, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("order store closed")
	}

	rows, err := s.db.QueryContext(ctx, openOrdersQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query open orders: %w", err)
	}
	defer rows.Close()

	var orders []*core.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan open order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate open orders: %w", err)
	}
	return orders, nil
}

func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*core.Order, error) {
	var (
		o           core.Order
		side        string
		orderType   string
		tif         string
		status      string
		price       string
		avgPrice    string
		meta        string
		createdAt   int64
		submittedAt sql.NullInt64
		filledAt    sql.NullInt64
		canceledAt  sql.NullInt64
	)
	err := row.Scan(&o.ID, &o.BrokerOrderID, &o.AccountID, &o.Symbol, &side,
		&orderType, &o.Quantity, &price, &tif, &status, &o.FilledQuantity,
		&avgPrice, &o.RejectReason, &meta, &createdAt, &submittedAt, &filledAt,
		&canceledAt)
	if err != nil {
		return nil, err
	}

	o.Side = core.Side(side)
	o.Type = core.OrderType(orderType)
	o.TimeInForce = core.TimeInForce(tif)
	o.Status = core.OrderStatus(status)
	if o.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("corrupt price %q for order %s: %w", price, o.ID, err)
	}
	if o.AvgFillPrice, err = decimal.NewFromString(avgPrice); err != nil {
		return nil, fmt.Errorf("corrupt avg fill price %q for order %s: %w", avgPrice, o.ID, err)
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &o.Metadata); err != nil {
			return nil, fmt.Errorf("corrupt metadata for order %s: %w", o.ID, err)
		}
	}
	o.CreatedAt = time.Unix(0, createdAt)
	o.SubmittedAt = timeOrNil(submittedAt)
	o.FilledAt = timeOrNil(filledAt)
	o.CanceledAt = timeOrNil(canceledAt)
	return &o, nil
}

func nanosOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func timeOrNil(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64)
	return &t
}
