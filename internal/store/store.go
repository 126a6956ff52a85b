// Package store provides durable persistence on SQLite.
//
// Four tables: prices (the observed quote time series), strategies (the
// catalog plus a cached performance summary), trades (one row per position,
// open then closed), and snapshots (periodic equity records). The schema is
// created on Open; every statement is safe to re-run, so upgrades are just
// appended migration statements.
//
// The driver is modernc.org/sqlite (pure Go). SQLite behaves best with a
// single writer, so the pool is pinned to one connection.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"polymarket-vol/pkg/types"
)

// Store wraps the SQLite handle. All methods are safe for concurrent use;
// database/sql serializes access through the single pooled connection.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	migrations := []string{
		`PRAGMA journal_mode=WAL;`,

		`CREATE TABLE IF NOT EXISTS prices (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			condition_id TEXT NOT NULL,
			asset TEXT NOT NULL,
			yes_price REAL NOT NULL,
			no_price REAL NOT NULL,
			yes_bid REAL NOT NULL DEFAULT 0,
			yes_ask REAL NOT NULL DEFAULT 0,
			no_bid REAL NOT NULL DEFAULT 0,
			no_ask REAL NOT NULL DEFAULT 0,
			time_remaining REAL,
			observed_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_prices_condition_time ON prices(condition_id, observed_at);`,

		`CREATE TABLE IF NOT EXISTS strategies (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			tier INTEGER NOT NULL DEFAULT 0,
			entry_threshold REAL NOT NULL,
			exit_threshold REAL NOT NULL,
			direction TEXT NOT NULL DEFAULT 'normal',
			status TEXT NOT NULL DEFAULT 'testing',
			total_trades INTEGER NOT NULL DEFAULT 0,
			wins INTEGER NOT NULL DEFAULT 0,
			losses INTEGER NOT NULL DEFAULT 0,
			win_rate REAL,
			total_pnl REAL NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			strategy_id TEXT NOT NULL,
			condition_id TEXT NOT NULL,
			asset TEXT NOT NULL,
			side TEXT NOT NULL,
			entry_price REAL NOT NULL,
			entry_time TEXT NOT NULL,
			shares REAL NOT NULL,
			exit_price REAL,
			exit_time TEXT,
			pnl REAL,
			pnl_pct REAL,
			is_win INTEGER,
			exit_reason TEXT,
			time_remaining_at_entry REAL,
			time_remaining_at_exit REAL,
			hour_of_day INTEGER,
			day_of_week INTEGER,
			status TEXT NOT NULL DEFAULT 'open',
			is_paper INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_strategy ON trades(strategy_id);`,

		`CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			taken_at TEXT NOT NULL,
			bankroll REAL NOT NULL,
			vault REAL NOT NULL,
			total_equity REAL NOT NULL,
			open_positions INTEGER NOT NULL,
			closed_trades INTEGER NOT NULL,
			total_pnl REAL NOT NULL
		);`,
	}

	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// fmtTime serializes timestamps as UTC RFC3339Nano text.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// ---------------------------------------------------------------------------
// Prices
// ---------------------------------------------------------------------------

// InsertPrice appends one quote observation.
func (s *Store) InsertPrice(ctx context.Context, u types.PriceUpdate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prices (condition_id, asset, yes_price, no_price, yes_bid, yes_ask, no_bid, no_ask, time_remaining, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ConditionID, u.Asset, u.YesPrice, u.NoPrice, u.YesBid, u.YesAsk, u.NoBid, u.NoAsk, u.TimeRemaining, fmtTime(u.ObservedAt))
	if err != nil {
		return fmt.Errorf("insert price: %w", err)
	}
	return nil
}

// InsertPrices appends a whole poll tick's observations in one transaction.
func (s *Store) InsertPrices(ctx context.Context, updates []types.PriceUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO prices (condition_id, asset, yes_price, no_price, yes_bid, yes_ask, no_bid, no_ask, time_remaining, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, u := range updates {
		if _, err := stmt.ExecContext(ctx, u.ConditionID, u.Asset, u.YesPrice, u.NoPrice,
			u.YesBid, u.YesAsk, u.NoBid, u.NoAsk, u.TimeRemaining, fmtTime(u.ObservedAt)); err != nil {
			return fmt.Errorf("insert price: %w", err)
		}
	}
	return tx.Commit()
}

// PriceCount returns the number of stored observations for a market.
func (s *Store) PriceCount(ctx context.Context, conditionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM prices WHERE condition_id = ?`, conditionID).Scan(&n)
	return n, err
}

// ---------------------------------------------------------------------------
// Strategies
// ---------------------------------------------------------------------------

// SeedStrategies upserts the configured strategy set. Parameters (name,
// tier, thresholds, direction) follow the config; a row's status and cached
// performance are never touched once the row exists, so an operator's
// enable/disable survives restarts and config edits.
func (s *Store) SeedStrategies(ctx context.Context, set []types.Strategy) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO strategies (id, name, tier, entry_threshold, exit_threshold, direction, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			tier = excluded.tier,
			entry_threshold = excluded.entry_threshold,
			exit_threshold = excluded.exit_threshold,
			direction = excluded.direction
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	now := fmtTime(time.Now())
	for _, st := range set {
		if _, err := stmt.ExecContext(ctx, st.ID, st.Name, st.Tier,
			st.EntryThreshold, st.ExitThreshold, string(st.Direction), string(st.Status), now); err != nil {
			return fmt.Errorf("seed strategy %s: %w", st.ID, err)
		}
	}
	return tx.Commit()
}

// Strategies returns all strategy rows in id order, including the cached
// performance summary.
func (s *Store) Strategies(ctx context.Context) ([]types.Strategy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, tier, entry_threshold, exit_threshold, direction, status,
		       total_trades, wins, losses, win_rate, total_pnl
		FROM strategies ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query strategies: %w", err)
	}
	defer rows.Close()

	var out []types.Strategy
	for rows.Next() {
		var (
			st        types.Strategy
			direction string
			status    string
			winRate   sql.NullFloat64
		)
		if err := rows.Scan(&st.ID, &st.Name, &st.Tier, &st.EntryThreshold, &st.ExitThreshold,
			&direction, &status, &st.TotalTrades, &st.Wins, &st.Losses, &winRate, &st.TotalPnL); err != nil {
			return nil, fmt.Errorf("scan strategy: %w", err)
		}
		st.Direction = types.Direction(direction)
		st.Status = types.StrategyStatus(status)
		st.WinRate = winRate.Float64
		out = append(out, st)
	}
	return out, rows.Err()
}

// SetStrategyStatus flips a strategy's persisted status (active, testing,
// disabled). The registry reads it back on the next reconcile.
func (s *Store) SetStrategyStatus(ctx context.Context, id string, status types.StrategyStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE strategies SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("set strategy status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set strategy status: no strategy %q", id)
	}
	return nil
}

// RefreshStrategyStats recomputes a strategy's cached performance summary
// from its closed trades.
func (s *Store) RefreshStrategyStats(ctx context.Context, strategyID string) error {
	var (
		total  int
		wins   int
		losses int
		pnl    float64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN is_win = 1 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN is_win = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(pnl), 0)
		FROM trades
		WHERE strategy_id = ? AND status = 'closed'
	`, strategyID).Scan(&total, &wins, &losses, &pnl)
	if err != nil {
		return fmt.Errorf("aggregate trades for %s: %w", strategyID, err)
	}

	var winRate sql.NullFloat64
	if total > 0 {
		winRate = sql.NullFloat64{Float64: float64(wins) / float64(total), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE strategies SET
			total_trades = ?, wins = ?, losses = ?, win_rate = ?, total_pnl = ?
		WHERE id = ?
	`, total, wins, losses, winRate, pnl, strategyID)
	if err != nil {
		return fmt.Errorf("update strategy stats: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Trades
// ---------------------------------------------------------------------------

// InsertTrade persists a freshly opened trade and returns its row id.
func (s *Store) InsertTrade(ctx context.Context, t *types.Trade) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (strategy_id, condition_id, asset, side, entry_price, entry_time, shares,
		                    time_remaining_at_entry, hour_of_day, day_of_week, status, is_paper, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.StrategyID, t.ConditionID, t.Asset, string(t.Side), t.EntryPrice, fmtTime(t.EntryTime), t.Shares,
		t.TimeRemainingAtEntry, t.HourOfDay, t.DayOfWeek, string(t.Status), boolToInt(t.IsPaper), fmtTime(t.EntryTime))
	if err != nil {
		return 0, fmt.Errorf("insert trade: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert trade id: %w", err)
	}
	return id, nil
}

// CloseTrade writes the exit fields of a closed trade back to its row.
func (s *Store) CloseTrade(ctx context.Context, t *types.Trade) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE trades SET
			exit_price = ?, exit_time = ?, pnl = ?, pnl_pct = ?, is_win = ?,
			exit_reason = ?, time_remaining_at_exit = ?, status = ?
		WHERE id = ?
	`, t.ExitPrice, fmtTime(t.ExitTime), t.PnL, t.PnLPct, boolToInt(t.IsWin),
		string(t.ExitReason), t.TimeRemainingAtExit, string(types.TradeClosed), t.ID)
	if err != nil {
		return fmt.Errorf("close trade: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("close trade: no trade id %d", t.ID)
	}
	return nil
}

// OpenTrades returns every open position, oldest first. Called once at
// startup to rehydrate the position manager.
func (s *Store) OpenTrades(ctx context.Context) ([]types.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, strategy_id, condition_id, asset, side, entry_price, entry_time, shares,
		       time_remaining_at_entry, hour_of_day, day_of_week, is_paper
		FROM trades WHERE status = 'open' ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query open trades: %w", err)
	}
	defer rows.Close()

	var out []types.Trade
	for rows.Next() {
		var (
			t         types.Trade
			side      string
			entryTime string
			isPaper   int
		)
		if err := rows.Scan(&t.ID, &t.StrategyID, &t.ConditionID, &t.Asset, &side,
			&t.EntryPrice, &entryTime, &t.Shares, &t.TimeRemainingAtEntry,
			&t.HourOfDay, &t.DayOfWeek, &isPaper); err != nil {
			return nil, fmt.Errorf("scan open trade: %w", err)
		}
		t.Side = types.Side(side)
		t.EntryTime = parseTime(entryTime)
		t.Status = types.TradeOpen
		t.IsPaper = isPaper == 1
		out = append(out, t)
	}
	return out, rows.Err()
}

// ClosedTrades returns every closed trade, most recent exit first. Feeds
// reports and post-run analysis.
func (s *Store) ClosedTrades(ctx context.Context) ([]types.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, strategy_id, condition_id, asset, side, entry_price, entry_time, shares,
		       time_remaining_at_entry, hour_of_day, day_of_week, is_paper,
		       exit_price, exit_time, exit_reason, time_remaining_at_exit, pnl, pnl_pct, is_win
		FROM trades WHERE status = 'closed' ORDER BY id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query closed trades: %w", err)
	}
	defer rows.Close()

	var out []types.Trade
	for rows.Next() {
		var (
			t          types.Trade
			side       string
			entryTime  string
			isPaper    int
			exitTime   string
			exitReason string
			isWin      int
		)
		if err := rows.Scan(&t.ID, &t.StrategyID, &t.ConditionID, &t.Asset, &side,
			&t.EntryPrice, &entryTime, &t.Shares, &t.TimeRemainingAtEntry,
			&t.HourOfDay, &t.DayOfWeek, &isPaper,
			&t.ExitPrice, &exitTime, &exitReason, &t.TimeRemainingAtExit,
			&t.PnL, &t.PnLPct, &isWin); err != nil {
			return nil, fmt.Errorf("scan closed trade: %w", err)
		}
		t.Side = types.Side(side)
		t.EntryTime = parseTime(entryTime)
		t.ExitTime = parseTime(exitTime)
		t.ExitReason = types.ExitReason(exitReason)
		t.Status = types.TradeClosed
		t.IsPaper = isPaper == 1
		t.IsWin = isWin == 1
		out = append(out, t)
	}
	return out, rows.Err()
}

// HasTraded reports whether any trade row, open or closed, exists for the
// pair. Backs the one-shot-per-market rule.
func (s *Store) HasTraded(ctx context.Context, strategyID, conditionID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM trades WHERE strategy_id = ? AND condition_id = ?
	`, strategyID, conditionID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query has traded: %w", err)
	}
	return n > 0, nil
}

// ResolutionExits returns the (strategy, market, exit time) of every closed
// trade that exited at the resolution cutoff. Cooldowns are rebuilt from
// these at startup; the caller drops the expired ones. Time filtering stays
// in memory because RFC3339Nano strings do not order lexicographically
// across fractional-second precisions.
func (s *Store) ResolutionExits(ctx context.Context) ([]types.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT strategy_id, condition_id, exit_time
		FROM trades WHERE status = 'closed' AND exit_reason = ?
	`, string(types.ExitResolution))
	if err != nil {
		return nil, fmt.Errorf("query resolution exits: %w", err)
	}
	defer rows.Close()

	var out []types.Trade
	for rows.Next() {
		var (
			t        types.Trade
			exitTime string
		)
		if err := rows.Scan(&t.StrategyID, &t.ConditionID, &exitTime); err != nil {
			return nil, fmt.Errorf("scan resolution exit: %w", err)
		}
		t.ExitTime = parseTime(exitTime)
		t.ExitReason = types.ExitResolution
		t.Status = types.TradeClosed
		out = append(out, t)
	}
	return out, rows.Err()
}

// ClosedStats returns the count of closed trades and their summed pnl.
func (s *Store) ClosedStats(ctx context.Context) (int, float64, error) {
	var (
		count int
		pnl   float64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(pnl), 0) FROM trades WHERE status = 'closed'
	`).Scan(&count, &pnl)
	if err != nil {
		return 0, 0, fmt.Errorf("query closed stats: %w", err)
	}
	return count, pnl, nil
}

// WinningPnL returns the summed pnl of winning closed trades. The vault
// balance is reconstructed from it at startup.
func (s *Store) WinningPnL(ctx context.Context) (float64, error) {
	var pnl float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(pnl), 0) FROM trades WHERE status = 'closed' AND is_win = 1 AND pnl > 0
	`).Scan(&pnl)
	if err != nil {
		return 0, fmt.Errorf("query winning pnl: %w", err)
	}
	return pnl, nil
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

// InsertSnapshot appends one equity snapshot row.
func (s *Store) InsertSnapshot(ctx context.Context, snap types.Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (taken_at, bankroll, vault, total_equity, open_positions, closed_trades, total_pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, fmtTime(snap.TakenAt), snap.Bankroll, snap.Vault, snap.TotalEquity,
		snap.OpenPositions, snap.ClosedTrades, snap.TotalPnL)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recent equity snapshot, or ok=false when
// none has been written yet.
func (s *Store) LatestSnapshot(ctx context.Context) (types.Snapshot, bool, error) {
	var (
		snap    types.Snapshot
		takenAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT taken_at, bankroll, vault, total_equity, open_positions, closed_trades, total_pnl
		FROM snapshots ORDER BY id DESC LIMIT 1
	`).Scan(&takenAt, &snap.Bankroll, &snap.Vault, &snap.TotalEquity,
		&snap.OpenPositions, &snap.ClosedTrades, &snap.TotalPnL)
	if err == sql.ErrNoRows {
		return types.Snapshot{}, false, nil
	}
	if err != nil {
		return types.Snapshot{}, false, fmt.Errorf("query latest snapshot: %w", err)
	}
	snap.TakenAt = parseTime(takenAt)
	return snap, true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
