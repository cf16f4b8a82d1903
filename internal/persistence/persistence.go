// Package persistence implements the narrow write-only port the
// engine uses to record runs, trades, and performance snapshots,
// backed by `modernc.org/sqlite` — a pure-Go driver requiring no cgo.
// The engine never issues bare SQL itself; this is the only
// persistence abstraction it sees.
package persistence

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dlanglois/ironclad-trader/internal/models"
	_ "modernc.org/sqlite"
)

// Port is the write capability the engine depends on.
type Port interface {
	RecordTradeAttempt(t models.TradeRecord) (int64, error)
	OpenStrategyRun(name string, symbols []string, tf models.Timeframe, parametersJSON string, startedAt time.Time) (int64, error)
	MarkStrategyRunStopped(id int64, stoppedAt time.Time) error
	MarkStrategyRunErrored(id int64, message string, stoppedAt time.Time) error
	UpdateStrategyRunSignals(id int64, lastSignalJSON string, tradeCountSince int) error
	AppendPerformanceSnapshot(s models.PerformanceSnapshot) (int64, error)
}

// Store is the modernc.org/sqlite-backed Port implementation.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at dsn — a
// filesystem path or the value of DATABASE_URL, e.g. "ironclad.db".
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("persistence: open %s: %w", dsn, err)
	}
	s := &Store{db: db}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS strategy_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			symbols TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			parameters_json TEXT NOT NULL DEFAULT '{}',
			last_signal_json TEXT NOT NULL DEFAULT '{}',
			error_message TEXT NOT NULL DEFAULT '',
			started_at DATETIME NOT NULL,
			stopped_at DATETIME,
			total_trades INTEGER NOT NULL DEFAULT 0,
			winning_trades INTEGER NOT NULL DEFAULT 0,
			losing_trades INTEGER NOT NULL DEFAULT 0,
			total_pnl REAL NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			strategy_name TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			qty REAL NOT NULL,
			type TEXT NOT NULL,
			time_in_force TEXT NOT NULL,
			limit_price REAL,
			stop_price REAL,
			filled_avg_price REAL,
			filled_qty REAL,
			status TEXT NOT NULL,
			broker_order_id TEXT NOT NULL DEFAULT '',
			signal TEXT NOT NULL,
			realized_pnl REAL,
			notes TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			submitted_at DATETIME,
			filled_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS performance_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			strategy_name TEXT NOT NULL DEFAULT '',
			timestamp DATETIME NOT NULL,
			equity REAL,
			cash REAL,
			buying_power REAL,
			total_pnl REAL NOT NULL DEFAULT 0,
			daily_pnl REAL NOT NULL DEFAULT 0,
			unrealized_pnl REAL,
			total_trades INTEGER NOT NULL DEFAULT 0,
			winning_trades INTEGER NOT NULL DEFAULT 0,
			losing_trades INTEGER NOT NULL DEFAULT 0,
			win_rate REAL,
			sharpe REAL,
			max_dd REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_strategy_name ON trades(strategy_name)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_name_status ON strategy_runs(name, status)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("persistence: init schema: %w", err)
		}
	}
	return nil
}

// RecordTradeAttempt persists one order attempt regardless of
// whether the broker ultimately accepted it.
func (s *Store) RecordTradeAttempt(t models.TradeRecord) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO trades (
			strategy_name, symbol, side, qty, type, time_in_force,
			limit_price, stop_price, filled_avg_price, filled_qty,
			status, broker_order_id, signal, realized_pnl, notes,
			created_at, submitted_at, filled_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`,
		t.StrategyName, t.Symbol, string(t.Side), t.Qty, string(t.Type), string(t.TimeInForce),
		t.LimitPrice, t.StopPrice, t.FilledAvgPrice, t.FilledQty,
		string(t.Status), t.BrokerOrderID, string(t.Signal), t.RealizedPnL, t.Notes,
		t.CreatedAt, t.SubmittedAt, t.FilledAt,
	)
	if err != nil {
		return 0, fmt.Errorf("persistence: record trade attempt: %w", err)
	}
	return res.LastInsertId()
}

// OpenStrategyRun inserts a new run row in the running state.
func (s *Store) OpenStrategyRun(name string, symbols []string, tf models.Timeframe, parametersJSON string, startedAt time.Time) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO strategy_runs (name, status, symbols, timeframe, parameters_json, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, name, string(models.RunRunning), joinSymbols(symbols), string(tf), parametersJSON, startedAt)
	if err != nil {
		return 0, fmt.Errorf("persistence: open strategy run: %w", err)
	}
	return res.LastInsertId()
}

// MarkStrategyRunStopped closes a run normally.
func (s *Store) MarkStrategyRunStopped(id int64, stoppedAt time.Time) error {
	_, err := s.db.Exec(`UPDATE strategy_runs SET status = ?, stopped_at = ? WHERE id = ?`, string(models.RunStopped), stoppedAt, id)
	if err != nil {
		return fmt.Errorf("persistence: mark strategy run stopped: %w", err)
	}
	return nil
}

// MarkStrategyRunErrored closes a run with an error message.
func (s *Store) MarkStrategyRunErrored(id int64, message string, stoppedAt time.Time) error {
	_, err := s.db.Exec(`UPDATE strategy_runs SET status = ?, error_message = ?, stopped_at = ? WHERE id = ?`, string(models.RunError), message, stoppedAt, id)
	if err != nil {
		return fmt.Errorf("persistence: mark strategy run errored: %w", err)
	}
	return nil
}

// UpdateStrategyRunSignals records the most recent signal set and a
// rolling trade count for a live run.
func (s *Store) UpdateStrategyRunSignals(id int64, lastSignalJSON string, tradeCountSince int) error {
	_, err := s.db.Exec(`UPDATE strategy_runs SET last_signal_json = ?, total_trades = ? WHERE id = ?`, lastSignalJSON, tradeCountSince, id)
	if err != nil {
		return fmt.Errorf("persistence: update strategy run signals: %w", err)
	}
	return nil
}

// AppendPerformanceSnapshot inserts one periodic accounting row.
func (s *Store) AppendPerformanceSnapshot(snap models.PerformanceSnapshot) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO performance_snapshots (
			strategy_name, timestamp, equity, cash, buying_power,
			total_pnl, daily_pnl, unrealized_pnl,
			total_trades, winning_trades, losing_trades,
			win_rate, sharpe, max_dd
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`,
		snap.StrategyName, snap.Timestamp, snap.Equity, snap.Cash, snap.BuyingPower,
		snap.TotalPnL, snap.DailyPnL, snap.UnrealizedPnL,
		snap.TotalTrades, snap.WinningTrades, snap.LosingTrades,
		snap.WinRate, snap.Sharpe, snap.MaxDD,
	)
	if err != nil {
		return 0, fmt.Errorf("persistence: append performance snapshot: %w", err)
	}
	return res.LastInsertId()
}

// TradeFilter narrows ListTrades by strategy, symbol, side, status,
// and a since/until time window. Zero-valued fields are not applied.
type TradeFilter struct {
	Strategy string
	Symbol   string
	Side     models.Side
	Status   models.TradeStatus
	Since    *time.Time
	Until    *time.Time
	Limit    int
	Offset   int
}

// TradeSummary aggregates the trade ledger for GET /api/trades/summary.
type TradeSummary struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	TotalPnL      float64
}

// Queries is the read-side surface the HTTP API reads through; it is
// intentionally separate from Port so the narrow write contract the engine depends
// on never grows a read method just because a dashboard needs one.
type Queries interface {
	ListTrades(f TradeFilter) ([]models.TradeRecord, error)
	GetTrade(id int64) (models.TradeRecord, error)
	TradeSummary(f TradeFilter) (TradeSummary, error)
	ListStrategyRuns(name string, limit int) ([]models.StrategyRun, error)
	GetLatestStrategyRun(name string) (models.StrategyRun, error)
	ListPerformanceSnapshots(strategyName string, since *time.Time, limit int) ([]models.PerformanceSnapshot, error)
}

// ListTrades returns trade rows matching f, newest first.
func (s *Store) ListTrades(f TradeFilter) ([]models.TradeRecord, error) {
	where, args := f.whereClause()
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, strategy_name, symbol, side, qty, type, time_in_force,
		limit_price, stop_price, filled_avg_price, filled_qty, status,
		broker_order_id, signal, realized_pnl, notes, created_at,
		submitted_at, filled_at FROM trades` + where +
		` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("persistence: list trades: %w", err)
	}
	defer rows.Close()

	var out []models.TradeRecord
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("persistence: scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTrade returns one trade row by ID.
func (s *Store) GetTrade(id int64) (models.TradeRecord, error) {
	row := s.db.QueryRow(`SELECT id, strategy_name, symbol, side, qty, type, time_in_force,
		limit_price, stop_price, filled_avg_price, filled_qty, status,
		broker_order_id, signal, realized_pnl, notes, created_at,
		submitted_at, filled_at FROM trades WHERE id = ?`, id)
	t, err := scanTrade(row)
	if err != nil {
		return models.TradeRecord{}, fmt.Errorf("persistence: get trade %d: %w", id, err)
	}
	return t, nil
}

// TradeSummary aggregates counts/pnl for trades matching f.
func (s *Store) TradeSummary(f TradeFilter) (TradeSummary, error) {
	where, args := f.whereClause()
	q := `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN realized_pnl > 0 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN realized_pnl < 0 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(realized_pnl), 0)
		FROM trades` + where

	var out TradeSummary
	err := s.db.QueryRow(q, args...).Scan(&out.TotalTrades, &out.WinningTrades, &out.LosingTrades, &out.TotalPnL)
	if err != nil {
		return TradeSummary{}, fmt.Errorf("persistence: trade summary: %w", err)
	}
	return out, nil
}

// ListStrategyRuns returns name's runs, most recent first, bounded by
// limit (0 = default 50). name == "" lists every strategy's runs.
func (s *Store) ListStrategyRuns(name string, limit int) ([]models.StrategyRun, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, name, status, symbols, timeframe, parameters_json,
		last_signal_json, error_message, started_at, stopped_at,
		total_trades, winning_trades, losing_trades, total_pnl
		FROM strategy_runs`
	var args []any
	if name != "" {
		q += ` WHERE name = ?`
		args = append(args, name)
	}
	q += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("persistence: list strategy runs: %w", err)
	}
	defer rows.Close()

	var out []models.StrategyRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("persistence: scan strategy run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetLatestStrategyRun returns name's most recently started run.
func (s *Store) GetLatestStrategyRun(name string) (models.StrategyRun, error) {
	row := s.db.QueryRow(`SELECT id, name, status, symbols, timeframe, parameters_json,
		last_signal_json, error_message, started_at, stopped_at,
		total_trades, winning_trades, losing_trades, total_pnl
		FROM strategy_runs WHERE name = ? ORDER BY started_at DESC LIMIT 1`, name)
	r, err := scanRun(row)
	if err != nil {
		return models.StrategyRun{}, fmt.Errorf("persistence: get latest strategy run for %s: %w", name, err)
	}
	return r, nil
}

// ListPerformanceSnapshots returns snapshots for strategyName ("" =
// global portfolio rows only) since the given time, newest first.
func (s *Store) ListPerformanceSnapshots(strategyName string, since *time.Time, limit int) ([]models.PerformanceSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, strategy_name, timestamp, equity, cash, buying_power,
		total_pnl, daily_pnl, unrealized_pnl, total_trades, winning_trades,
		losing_trades, win_rate, sharpe, max_dd FROM performance_snapshots
		WHERE strategy_name = ?`
	args := []any{strategyName}
	if since != nil {
		q += ` AND timestamp >= ?`
		args = append(args, *since)
	}
	q += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("persistence: list performance snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.PerformanceSnapshot
	for rows.Next() {
		var snap models.PerformanceSnapshot
		if err := rows.Scan(&snap.ID, &snap.StrategyName, &snap.Timestamp, &snap.Equity, &snap.Cash,
			&snap.BuyingPower, &snap.TotalPnL, &snap.DailyPnL, &snap.UnrealizedPnL,
			&snap.TotalTrades, &snap.WinningTrades, &snap.LosingTrades,
			&snap.WinRate, &snap.Sharpe, &snap.MaxDD); err != nil {
			return nil, fmt.Errorf("persistence: scan performance snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// whereClause builds the SQL WHERE fragment and bound args for f;
// empty fields are omitted rather than matched literally.
func (f TradeFilter) whereClause() (string, []any) {
	var clauses []string
	var args []any
	if f.Strategy != "" {
		clauses = append(clauses, "strategy_name = ?")
		args = append(args, f.Strategy)
	}
	if f.Symbol != "" {
		clauses = append(clauses, "symbol = ?")
		args = append(args, f.Symbol)
	}
	if f.Side != "" {
		clauses = append(clauses, "side = ?")
		args = append(args, string(f.Side))
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Since != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, *f.Since)
	}
	if f.Until != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, *f.Until)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows, letting
// scanTrade/scanRun serve GetTrade/ListTrades and GetLatestStrategyRun/
// ListStrategyRuns from the same scan logic.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(row rowScanner) (models.TradeRecord, error) {
	var t models.TradeRecord
	var side, typ, tif, status, signal string
	err := row.Scan(&t.ID, &t.StrategyName, &t.Symbol, &side, &t.Qty, &typ, &tif,
		&t.LimitPrice, &t.StopPrice, &t.FilledAvgPrice, &t.FilledQty, &status,
		&t.BrokerOrderID, &signal, &t.RealizedPnL, &t.Notes, &t.CreatedAt,
		&t.SubmittedAt, &t.FilledAt)
	if err != nil {
		return models.TradeRecord{}, err
	}
	t.Side = models.Side(side)
	t.Type = models.OrderType(typ)
	t.TimeInForce = models.TimeInForce(tif)
	t.Status = models.TradeStatus(status)
	t.Signal = models.Signal(signal)
	return t, nil
}

func scanRun(row rowScanner) (models.StrategyRun, error) {
	var r models.StrategyRun
	var status, symbols, tf string
	err := row.Scan(&r.ID, &r.Name, &status, &symbols, &tf, &r.ParametersJSON,
		&r.LastSignalJSON, &r.ErrorMessage, &r.StartedAt, &r.StoppedAt,
		&r.TotalTrades, &r.WinningTrades, &r.LosingTrades, &r.TotalPnL)
	if err != nil {
		return models.StrategyRun{}, err
	}
	r.Status = models.StrategyRunStatus(status)
	r.Timeframe = models.Timeframe(tf)
	if symbols != "" {
		r.Symbols = strings.Split(symbols, ",")
	}
	return r, nil
}

func joinSymbols(symbols []string) string {
	out := ""
	for i, s := range symbols {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}
