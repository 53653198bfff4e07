package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"autotrader/internal/domain"
	"autotrader/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.Journal using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// OrderRecord is a journaled order row.
type OrderRecord struct {
	Symbol string
	Order  domain.Order
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/autotrader.db"
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL lets the report command read while the engine writes
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// sql.Open is lazy; fail here rather than on the first journal write
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// one writer; the driver serialises anyway
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	return repo, nil
}

// initializeSchema creates tables if they don't exist. Orders are keyed by
// client order id, which is stable across submit retries.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS orders (
		client_order_id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		exchange_order_id TEXT NOT NULL DEFAULT '',
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		type TEXT NOT NULL,
		purpose TEXT NOT NULL,
		size REAL NOT NULL,
		price REAL NULL,
		status TEXT NOT NULL,
		filled_size REAL NOT NULL DEFAULT 0,
		avg_fill_price REAL NOT NULL DEFAULT 0,
		submitted_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trade_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		size REAL NOT NULL,
		pnl REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP NOT NULL,
		close_reason TEXT NULL -- empty or NULL reads back as UNKNOWN
	);
	-- report queries filter by symbol and sort by time
	CREATE INDEX IF NOT EXISTS idx_orders_symbol_updated ON orders (symbol, updated_at);
	CREATE INDEX IF NOT EXISTS idx_trade_history_symbol_exit_time ON trade_history (symbol, exit_time);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// RecordOrder inserts the order or updates the row with the same client order id.
// Only the fields the exchange can change are overwritten; side, size, purpose
// and submitted_at keep the values of the first write.
func (r *Repository) RecordOrder(ctx context.Context, symbol string, o domain.Order) error {
	const query = `
	INSERT INTO orders (client_order_id, order_id, exchange_order_id, symbol, side, type, purpose,
	                    size, price, status, filled_size, avg_fill_price, submitted_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(client_order_id) DO UPDATE SET
		exchange_order_id = excluded.exchange_order_id,
		status = excluded.status,
		filled_size = excluded.filled_size,
		avg_fill_price = excluded.avg_fill_price,
		updated_at = excluded.updated_at`

	// market orders carry no price
	var price sql.NullFloat64
	if o.Price != nil {
		price = sql.NullFloat64{Float64: *o.Price, Valid: true}
	}
	updated := o.UpdatedAt
	if updated.IsZero() {
		updated = o.SubmittedAt
	}

	_, err := r.db.ExecContext(ctx, query,
		o.ClientOrderID, o.ID, o.ExchangeOrderID, symbol, o.Side, o.Type, o.Purpose,
		o.Size, price, o.Status, o.FilledSize, o.AvgFillPrice, o.SubmittedAt, updated)
	if err != nil {
		return fmt.Errorf("failed to record order %s: %w: %w", o.ClientOrderID, ports.ErrQueryFailed, err)
	}
	r.logger.Debug(ctx, "Order recorded", map[string]interface{}{"clientOrderId": o.ClientOrderID, "status": o.Status})
	return nil
}

// ListOrders returns the most recent orders for symbol, newest first.
func (r *Repository) ListOrders(ctx context.Context, symbol string, limit int) ([]OrderRecord, error) {
	const query = `
	SELECT order_id, client_order_id, exchange_order_id, symbol, side, type, purpose,
	       size, price, status, filled_size, avg_fill_price, submitted_at, updated_at
	FROM orders
	WHERE symbol = ? ORDER BY updated_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders for symbol %s: %w: %w", symbol, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	out := make([]OrderRecord, 0)
	for rows.Next() {
		var rec OrderRecord
		var price sql.NullFloat64
		var side, typ, purpose, status string
		o := &rec.Order
		if err := rows.Scan(&o.ID, &o.ClientOrderID, &o.ExchangeOrderID, &rec.Symbol, &side, &typ, &purpose,
			&o.Size, &price, &status, &o.FilledSize, &o.AvgFillPrice, &o.SubmittedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order row: %w", err)
		}
		o.Side = domain.OrderSide(side)
		o.Type = domain.OrderType(typ)
		o.Purpose = domain.OrderPurpose(purpose)
		o.Status = domain.OrderStatus(status)
		if price.Valid {
			o.Price = domain.Float(price.Float64)
		}
		out = append(out, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order rows: %w", err)
	}
	return out, nil
}

// RecordTrade saves a completed trade and returns its assigned ID.
func (r *Repository) RecordTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trade_history (symbol, side, entry_price, exit_price, size, pnl,
	                           entry_time, exit_time, close_reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		trade.Symbol, trade.Side, trade.EntryPrice, trade.ExitPrice, trade.Size, trade.PNL,
		trade.EntryTime, trade.ExitTime, trade.CloseReason)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade history for symbol %s: %w: %w", trade.Symbol, ports.ErrQueryFailed, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade history %s: %w", trade.Symbol, err)
	}
	trade.ID = id
	r.logger.Debug(ctx, "Trade history created", map[string]interface{}{"tradeID": id, "symbol": trade.Symbol, "pnl": trade.PNL})
	return id, nil
}

// ListTrades retrieves the most recent trades for a symbol, newest first.
func (r *Repository) ListTrades(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	const query = `
	SELECT id, symbol, side, entry_price, exit_price, size, pnl,
	       entry_time, exit_time, close_reason
	FROM trade_history
	WHERE symbol = ? ORDER BY exit_time DESC, id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade history for symbol %s: %w: %w", symbol, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade history during ListTrades: %w", err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade history rows: %w", err)
	}
	return trades, nil
}

// TotalPnL sums realized PnL over every journaled trade for symbol.
func (r *Repository) TotalPnL(ctx context.Context, symbol string) (float64, error) {
	const query = `SELECT COALESCE(SUM(pnl), 0) FROM trade_history WHERE symbol = ?`
	var total float64
	if err := r.db.QueryRowContext(ctx, query, symbol).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to calculate total pnl: %w: %w", ports.ErrQueryFailed, err)
	}
	return total, nil
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(s scanner) (*domain.Trade, error) {
	th := &domain.Trade{}
	var side string
	var closeReason sql.NullString
	err := s.Scan(
		&th.ID, &th.Symbol, &side, &th.EntryPrice, &th.ExitPrice, &th.Size, &th.PNL,
		&th.EntryTime, &th.ExitTime, &closeReason)
	if err != nil {
		return nil, err
	}
	th.Side = domain.Side(side)
	// Handle NULL or empty close reason
	if closeReason.Valid && closeReason.String != "" {
		th.CloseReason = domain.CloseReason(closeReason.String)
	} else {
		th.CloseReason = domain.CloseReasonUnknown
	}
	return th, nil
}
