package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"smartTradeBot/internal/domain"
	"smartTradeBot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.LedgerStore using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/trade_ledger.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// One writer connection; controllers append concurrently through it.
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
	cfg.Logger.Info(context.Background(), "Ledger schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS ledger_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		trade_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		price REAL NOT NULL DEFAULT 0,
		quantity REAL NOT NULL DEFAULT 0,
		pnl REAL NOT NULL DEFAULT 0,
		level INTEGER NOT NULL DEFAULT 0,
		message TEXT NULL,
		event_time TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS completed_trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		trade_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		amount REAL NOT NULL,
		leverage INTEGER NOT NULL,
		pnl REAL NOT NULL,
		close_reason TEXT NULL,
		dry_run INTEGER NOT NULL DEFAULT 0,
		started_at TIMESTAMP NULL,
		completed_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ledger_events_user ON ledger_events (user_id, id);
	CREATE INDEX IF NOT EXISTS idx_completed_trades_user ON completed_trades (user_id, completed_at);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
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

// AppendEvent saves an event and returns its assigned ID.
func (r *Repository) AppendEvent(ctx context.Context, ev *domain.LedgerEvent) (int64, error) {
	const query = `
	INSERT INTO ledger_events (user_id, trade_id, event_type, symbol, side, price, quantity, pnl, level, message, event_time)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var msg sql.NullString
	if ev.Message != "" {
		msg = sql.NullString{String: ev.Message, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		ev.UserID, ev.TradeID, string(ev.Type), ev.Symbol, string(ev.Side),
		ev.Price, ev.Quantity, ev.PnL, ev.Level, msg, ev.Timestamp.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert ledger event %s for trade %s: %w: %w", ev.Type, ev.TradeID, ports.ErrUpdateFailed, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for ledger event: %w", err)
	}
	ev.ID = id
	r.logger.Debug(ctx, "Ledger event stored", map[string]interface{}{"eventID": id, "tradeID": ev.TradeID, "type": ev.Type})
	return id, nil
}

// SaveCompletedTrade saves a finished trade and returns its assigned ID.
func (r *Repository) SaveCompletedTrade(ctx context.Context, t *domain.CompletedTrade) (int64, error) {
	const query = `
	INSERT INTO completed_trades (user_id, trade_id, symbol, side, entry_price, exit_price, amount, leverage,
	                              pnl, close_reason, dry_run, started_at, completed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var startedAt sql.NullTime
	if !t.StartedAt.IsZero() {
		startedAt = sql.NullTime{Time: t.StartedAt.UTC(), Valid: true}
	}
	var reason sql.NullString
	if t.Reason != "" {
		reason = sql.NullString{String: string(t.Reason), Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		t.UserID, t.TradeID, t.Symbol, string(t.Side), t.EntryPrice, t.ExitPrice, t.Amount, t.Leverage,
		t.PnL, reason, t.DryRun, startedAt, t.CompletedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert completed trade %s: %w: %w", t.TradeID, ports.ErrUpdateFailed, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for completed trade %s: %w", t.TradeID, err)
	}
	t.ID = id
	r.logger.Debug(ctx, "Completed trade stored", map[string]interface{}{"id": id, "tradeID": t.TradeID, "pnl": t.PnL})
	return id, nil
}

// LoadCompletedTrades returns every completed trade ordered by completion time.
func (r *Repository) LoadCompletedTrades(ctx context.Context) ([]*domain.CompletedTrade, error) {
	const query = `
	SELECT id, user_id, trade_id, symbol, side, entry_price, exit_price, amount, leverage,
	       pnl, close_reason, dry_run, started_at, completed_at
	FROM completed_trades
	ORDER BY completed_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query completed trades: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	trades := make([]*domain.CompletedTrade, 0)
	for rows.Next() {
		t, err := scanCompletedTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan completed trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating completed trade rows: %w", err)
	}
	return trades, nil
}

// LoadRecentEvents returns up to limit newest events per user, oldest first.
func (r *Repository) LoadRecentEvents(ctx context.Context, limit int) ([]*domain.LedgerEvent, error) {
	const query = `
	SELECT e.id, e.user_id, e.trade_id, e.event_type, e.symbol, e.side, e.price, e.quantity,
	       e.pnl, e.level, e.message, e.event_time
	FROM ledger_events e
	WHERE (SELECT COUNT(*) FROM ledger_events n WHERE n.user_id = e.user_id AND n.id > e.id) < ?
	ORDER BY e.user_id ASC, e.id ASC`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger events: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	events := make([]*domain.LedgerEvent, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger event: %w", err)
		}
		events = append(events, ev)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger event rows: %w", err)
	}
	return events, nil
}

// PruneEvents deletes all but the newest keep events of a user.
func (r *Repository) PruneEvents(ctx context.Context, userID int64, keep int) error {
	const query = `
	DELETE FROM ledger_events
	WHERE user_id = ? AND id NOT IN (
		SELECT id FROM ledger_events WHERE user_id = ? ORDER BY id DESC LIMIT ?
	)`

	result, err := r.db.ExecContext(ctx, query, userID, userID, keep)
	if err != nil {
		return fmt.Errorf("failed to prune ledger events for user %d: %w: %w", userID, ports.ErrUpdateFailed, err)
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		r.logger.Debug(ctx, "Pruned ledger events", map[string]interface{}{"userID": userID, "deleted": n})
	}
	return nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(s scanner) (*domain.LedgerEvent, error) {
	ev := &domain.LedgerEvent{}
	var eventType, side string
	var msg sql.NullString
	err := s.Scan(
		&ev.ID, &ev.UserID, &ev.TradeID, &eventType, &ev.Symbol, &side,
		&ev.Price, &ev.Quantity, &ev.PnL, &ev.Level, &msg, &ev.Timestamp)
	if err != nil {
		return nil, err
	}
	ev.Type = domain.EventType(eventType)
	ev.Side = domain.Side(side)
	if msg.Valid {
		ev.Message = msg.String
	}
	return ev, nil
}

func scanCompletedTrade(s scanner) (*domain.CompletedTrade, error) {
	t := &domain.CompletedTrade{}
	var side string
	var reason sql.NullString
	var startedAt sql.NullTime
	err := s.Scan(
		&t.ID, &t.UserID, &t.TradeID, &t.Symbol, &side, &t.EntryPrice, &t.ExitPrice, &t.Amount, &t.Leverage,
		&t.PnL, &reason, &t.DryRun, &startedAt, &t.CompletedAt)
	if err != nil {
		return nil, err
	}
	t.Side = domain.Side(side)
	if reason.Valid {
		t.Reason = domain.CloseReason(reason.String)
	}
	if startedAt.Valid {
		t.StartedAt = startedAt.Time
	}
	return t, nil
}
