package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mabacktest/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ RunStore = (*SQLiteStore)(nil)

const (
	dateLayout  = "2006-01-02"
	stampLayout = time.RFC3339Nano
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol           TEXT    NOT NULL,
		strategy         TEXT    NOT NULL,
		lot_size         INTEGER NOT NULL,
		start_date       TEXT    NOT NULL,
		end_date         TEXT    NOT NULL,
		initial_capital  TEXT    NOT NULL,
		final_capital    TEXT    NOT NULL,
		return_pct       REAL    NOT NULL,
		benchmark_pct    REAL    NOT NULL,
		max_drawdown_pct REAL    NOT NULL,
		created_at       TEXT    NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS runs_symbol_strategy ON runs (symbol, strategy)`,
	`CREATE TABLE IF NOT EXISTS trades (
		run_id        INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq           INTEGER NOT NULL,
		date          TEXT    NOT NULL,
		action        TEXT    NOT NULL,
		kind          TEXT    NOT NULL,
		price         TEXT    NOT NULL,
		shares        INTEGER NOT NULL,
		value         TEXT    NOT NULL,
		capital_after TEXT    NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS days (
		run_id          INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq             INTEGER NOT NULL,
		date            TEXT    NOT NULL,
		close           TEXT    NOT NULL,
		portfolio_value TEXT    NOT NULL,
		shares_held     INTEGER NOT NULL,
		cash            TEXT    NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,
}

// SQLiteStore implements RunStore backed by a SQLite database. Decimal
// columns are stored as exact TEXT.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite serialises writers; a single connection also keeps :memory:
	// databases alive across calls.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		return fmt.Errorf("enabling foreign keys: %w", err)
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrating: %w", err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts run, its trades and its daily states in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *domain.Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs (symbol, strategy, lot_size, start_date, end_date,
			initial_capital, final_capital, return_pct, benchmark_pct, max_drawdown_pct, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Symbol, run.Strategy, run.LotSize,
		run.Start.Format(dateLayout), run.End.Format(dateLayout),
		run.InitialCapital.String(), run.FinalCapital.String(),
		run.ReturnPct, run.BenchmarkPct, run.MaxDrawdownPct,
		run.CreatedAt.UTC().Format(stampLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("run id: %w", err)
	}

	tradeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades (run_id, seq, date, action, kind, price, shares, value, capital_after)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing trades: %w", err)
	}
	defer tradeStmt.Close()
	for i, t := range run.Trades {
		if _, err := tradeStmt.ExecContext(ctx, id, i, t.Date.Format(dateLayout), t.Action, string(t.Kind),
			t.Price.String(), t.Shares, t.Value.String(), t.CapitalAfter.String()); err != nil {
			return fmt.Errorf("inserting trade %d: %w", i, err)
		}
	}

	dayStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO days (run_id, seq, date, close, portfolio_value, shares_held, cash)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing days: %w", err)
	}
	defer dayStmt.Close()
	for i, d := range run.Days {
		if _, err := dayStmt.ExecContext(ctx, id, i, d.Date.Format(dateLayout), d.Close.String(),
			d.PortfolioValue.String(), d.SharesHeld, d.Cash.String()); err != nil {
			return fmt.Errorf("inserting day %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	run.ID = id
	return nil
}

const runColumns = `id, symbol, strategy, lot_size, start_date, end_date,
	initial_capital, final_capital, return_pct, benchmark_pct, max_drawdown_pct, created_at`

// GetRun retrieves a single run by its ID with its trades and days.
func (s *SQLiteStore) GetRun(ctx context.Context, id int64) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if run.Trades, err = s.loadTrades(ctx, id); err != nil {
		return nil, err
	}
	if run.Days, err = s.loadDays(ctx, id); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns run summaries matching f, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, f RunFilter) ([]domain.Run, error) {
	var (
		where []string
		args  []any
	)
	if f.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, strings.ToUpper(f.Symbol))
	}
	if f.Strategy != "" {
		where = append(where, "strategy = ?")
		args = append(args, f.Strategy)
	}
	q := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY id DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	runs := []domain.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*domain.Run, error) {
	var (
		run                 domain.Run
		start, end, created string
	)
	err := sc.Scan(&run.ID, &run.Symbol, &run.Strategy, &run.LotSize, &start, &end,
		&run.InitialCapital, &run.FinalCapital, &run.ReturnPct, &run.BenchmarkPct, &run.MaxDrawdownPct, &created)
	if err != nil {
		return nil, err
	}
	if run.Start, err = time.Parse(dateLayout, start); err != nil {
		return nil, fmt.Errorf("run %d start: %w", run.ID, err)
	}
	if run.End, err = time.Parse(dateLayout, end); err != nil {
		return nil, fmt.Errorf("run %d end: %w", run.ID, err)
	}
	if run.CreatedAt, err = time.Parse(stampLayout, created); err != nil {
		return nil, fmt.Errorf("run %d created_at: %w", run.ID, err)
	}
	return &run, nil
}

func (s *SQLiteStore) loadTrades(ctx context.Context, id int64) ([]domain.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, action, kind, price, shares, value, capital_after
		FROM trades WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("loading trades: %w", err)
	}
	defer rows.Close()

	var trades []domain.TradeRecord
	for rows.Next() {
		var (
			t    domain.TradeRecord
			date string
			kind string
		)
		if err := rows.Scan(&date, &t.Action, &kind, &t.Price, &t.Shares, &t.Value, &t.CapitalAfter); err != nil {
			return nil, fmt.Errorf("scanning trade: %w", err)
		}
		if t.Date, err = time.Parse(dateLayout, date); err != nil {
			return nil, fmt.Errorf("trade date: %w", err)
		}
		t.Kind = domain.TradeKind(kind)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *SQLiteStore) loadDays(ctx context.Context, id int64) ([]domain.DayState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, close, portfolio_value, shares_held, cash
		FROM days WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("loading days: %w", err)
	}
	defer rows.Close()

	var days []domain.DayState
	for rows.Next() {
		var (
			d    domain.DayState
			date string
		)
		if err := rows.Scan(&date, &d.Close, &d.PortfolioValue, &d.SharesHeld, &d.Cash); err != nil {
			return nil, fmt.Errorf("scanning day: %w", err)
		}
		if d.Date, err = time.Parse(dateLayout, date); err != nil {
			return nil, fmt.Errorf("day date: %w", err)
		}
		days = append(days, d)
	}
	return days, rows.Err()
}
