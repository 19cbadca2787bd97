package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ZepixTrader/internal/domain/models"
	"ZepixTrader/internal/domain/repository"
	"ZepixTrader/pkg/sqlite"
)

// Schema is applied on open. Money columns are decimal strings.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS trades (
		id            TEXT PRIMARY KEY,
		ticket        TEXT NOT NULL,
		symbol        TEXT NOT NULL,
		broker_symbol TEXT NOT NULL,
		side          TEXT NOT NULL,
		entry         REAL NOT NULL,
		sl            REAL NOT NULL,
		tp            REAL NOT NULL,
		lot           REAL NOT NULL,
		logic         TEXT NOT NULL,
		status        TEXT NOT NULL,
		opened_at     TEXT NOT NULL,
		close_price   REAL NOT NULL DEFAULT 0,
		closed_at     TEXT NOT NULL DEFAULT '',
		close_reason  TEXT NOT NULL DEFAULT '',
		pnl           TEXT NOT NULL DEFAULT '0',
		chain_id      TEXT NOT NULL DEFAULT '',
		chain_level   INTEGER NOT NULL DEFAULT 0,
		parent_id     TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status, symbol)`,
	`CREATE TABLE IF NOT EXISTS chains (
		id         TEXT PRIMARY KEY,
		symbol     TEXT NOT NULL,
		state      TEXT NOT NULL,
		active     INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		payload    TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chains_active ON chains(active)`,
	`CREATE TABLE IF NOT EXISTS risk_state (
		id             INTEGER PRIMARY KEY CHECK (id = 1),
		daily_loss     TEXT NOT NULL,
		lifetime_loss  TEXT NOT NULL,
		daily_profit   TEXT NOT NULL,
		daily_trades   INTEGER NOT NULL,
		total_trades   INTEGER NOT NULL,
		winning_trades INTEGER NOT NULL,
		trading_day    TEXT NOT NULL,
		updated_at     TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS trends (
		symbol     TEXT NOT NULL,
		tf         TEXT NOT NULL,
		direction  TEXT NOT NULL,
		mode       TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (symbol, tf)
	)`,
	`CREATE TABLE IF NOT EXISTS exit_events (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		trade_id TEXT NOT NULL,
		symbol   TEXT NOT NULL,
		side     TEXT NOT NULL,
		reason   TEXT NOT NULL,
		price    REAL NOT NULL,
		pnl      TEXT NOT NULL,
		at       TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_exit_events_at ON exit_events(at)`,
}

// SQLiteStore implements repository.Store on sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var _ repository.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens path and applies the schema.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, err
	}
	if err := sqlite.Migrate(ctx, db, Schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveTrade(ctx context.Context, t *models.Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades
		(id, ticket, symbol, broker_symbol, side, entry, sl, tp, lot, logic, status, opened_at,
		 close_price, closed_at, close_reason, pnl, chain_id, chain_level, parent_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ticket = excluded.ticket,
			sl = excluded.sl,
			tp = excluded.tp,
			status = excluded.status,
			close_price = excluded.close_price,
			closed_at = excluded.closed_at,
			close_reason = excluded.close_reason,
			pnl = excluded.pnl,
			chain_id = excluded.chain_id,
			chain_level = excluded.chain_level`,
		t.ID, t.Ticket, t.Symbol, t.BrokerSymbol, string(t.Side), t.Entry, t.SL, t.TP, t.Lot,
		string(t.Logic), string(t.Status), formatTime(t.OpenedAt),
		t.ClosePrice, formatTime(t.ClosedAt), string(t.CloseReason), t.PnL.String(),
		t.ChainID, t.ChainLevel, t.ParentID,
	)
	if err != nil {
		return fmt.Errorf("save trade %s: %w", t.ID, err)
	}
	return nil
}

func (s *SQLiteStore) SaveChain(ctx context.Context, c *models.ReentryChain) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode chain %s: %w", c.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chains (id, symbol, state, active, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			active = excluded.active,
			updated_at = excluded.updated_at,
			payload = excluded.payload`,
		c.ID, c.Symbol, string(c.State), c.Active, formatTime(c.UpdatedAt), string(payload),
	)
	if err != nil {
		return fmt.Errorf("save chain %s: %w", c.ID, err)
	}
	return nil
}

func (s *SQLiteStore) SaveRiskState(ctx context.Context, r *models.RiskState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_state
		(id, daily_loss, lifetime_loss, daily_profit, daily_trades, total_trades, winning_trades, trading_day, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			daily_loss = excluded.daily_loss,
			lifetime_loss = excluded.lifetime_loss,
			daily_profit = excluded.daily_profit,
			daily_trades = excluded.daily_trades,
			total_trades = excluded.total_trades,
			winning_trades = excluded.winning_trades,
			trading_day = excluded.trading_day,
			updated_at = excluded.updated_at`,
		r.DailyLoss.String(), r.LifetimeLoss.String(), r.DailyProfit.String(),
		r.DailyTrades, r.TotalTrades, r.WinningTrades, r.TradingDay, formatTime(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save risk state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveTrend(ctx context.Context, r *models.TrendRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trends (symbol, tf, direction, mode, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(symbol, tf) DO UPDATE SET
			direction = excluded.direction,
			mode = excluded.mode,
			updated_at = excluded.updated_at`,
		r.Symbol, string(r.Timeframe), string(r.Direction), string(r.Mode), formatTime(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save trend %s/%s: %w", r.Symbol, r.Timeframe, err)
	}
	return nil
}

func (s *SQLiteStore) SaveExitEvent(ctx context.Context, e *models.ExitEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exit_events (trade_id, symbol, side, reason, price, pnl, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.TradeID, e.Symbol, string(e.Side), string(e.Reason), e.Price, e.PnL.String(), formatTime(e.At),
	)
	if err != nil {
		return fmt.Errorf("save exit event %s: %w", e.TradeID, err)
	}
	return nil
}

func (s *SQLiteStore) LoadSnapshot(ctx context.Context) (*models.Snapshot, error) {
	snap := &models.Snapshot{}

	open, err := s.ListTrades(ctx, models.TradeFilter{Status: models.TradeOpen})
	if err != nil {
		return nil, err
	}
	snap.OpenTrades = open

	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM chains WHERE active = 1`)
	if err != nil {
		return nil, fmt.Errorf("load chains: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan chain: %w", err)
		}
		var c models.ReentryChain
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, fmt.Errorf("decode chain: %w", err)
		}
		snap.ActiveChains = append(snap.ActiveChains, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	risk, err := s.loadRisk(ctx)
	if err != nil {
		return nil, err
	}
	snap.Risk = risk

	trends, err := s.loadTrends(ctx)
	if err != nil {
		return nil, err
	}
	snap.Trends = trends
	return snap, nil
}

func (s *SQLiteStore) loadRisk(ctx context.Context) (*models.RiskState, error) {
	var (
		r                       models.RiskState
		daily, lifetime, profit string
		updated                 string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT daily_loss, lifetime_loss, daily_profit, daily_trades, total_trades, winning_trades, trading_day, updated_at
		FROM risk_state WHERE id = 1`).
		Scan(&daily, &lifetime, &profit, &r.DailyTrades, &r.TotalTrades, &r.WinningTrades, &r.TradingDay, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load risk state: %w", err)
	}
	if r.DailyLoss, err = decimal.NewFromString(daily); err != nil {
		return nil, fmt.Errorf("decode daily_loss: %w", err)
	}
	if r.LifetimeLoss, err = decimal.NewFromString(lifetime); err != nil {
		return nil, fmt.Errorf("decode lifetime_loss: %w", err)
	}
	if r.DailyProfit, err = decimal.NewFromString(profit); err != nil {
		return nil, fmt.Errorf("decode daily_profit: %w", err)
	}
	r.UpdatedAt = parseTime(updated)
	return &r, nil
}

func (s *SQLiteStore) loadTrends(ctx context.Context) ([]models.TrendRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, tf, direction, mode, updated_at FROM trends`)
	if err != nil {
		return nil, fmt.Errorf("load trends: %w", err)
	}
	defer rows.Close()

	var out []models.TrendRecord
	for rows.Next() {
		var (
			r                 models.TrendRecord
			tf, dir, mode, ts string
		)
		if err := rows.Scan(&r.Symbol, &tf, &dir, &mode, &ts); err != nil {
			return nil, fmt.Errorf("scan trend: %w", err)
		}
		r.Timeframe = models.Timeframe(tf)
		r.Direction = models.Direction(dir)
		r.Mode = models.TrendMode(mode)
		r.UpdatedAt = parseTime(ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListTrades(ctx context.Context, f models.TradeFilter) ([]models.Trade, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, f.Symbol)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.Since.IsZero() {
		where = append(where, "opened_at >= ?")
		args = append(args, formatTime(f.Since))
	}

	q := `SELECT id, ticket, symbol, broker_symbol, side, entry, sl, tp, lot, logic, status, opened_at,
		close_price, closed_at, close_reason, pnl, chain_id, chain_level, parent_id FROM trades`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	out := make([]models.Trade, 0)
	for rows.Next() {
		var (
			t                                models.Trade
			side, logic, status, reason, pnl string
			opened, closed                   string
		)
		if err := rows.Scan(&t.ID, &t.Ticket, &t.Symbol, &t.BrokerSymbol, &side, &t.Entry, &t.SL, &t.TP, &t.Lot,
			&logic, &status, &opened, &t.ClosePrice, &closed, &reason, &pnl, &t.ChainID, &t.ChainLevel, &t.ParentID); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Side = models.Side(side)
		t.Logic = models.Logic(logic)
		t.Status = models.TradeStatus(status)
		t.CloseReason = models.CloseReason(reason)
		t.OpenedAt = parseTime(opened)
		t.ClosedAt = parseTime(closed)
		if t.PnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, fmt.Errorf("decode pnl of %s: %w", t.ID, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListExitEvents(ctx context.Context, since time.Time) ([]models.ExitEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trade_id, symbol, side, reason, price, pnl, at
		FROM exit_events WHERE at >= ? ORDER BY id`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("list exit events: %w", err)
	}
	defer rows.Close()

	out := make([]models.ExitEvent, 0)
	for rows.Next() {
		var (
			e                     models.ExitEvent
			side, reason, pnl, at string
		)
		if err := rows.Scan(&e.TradeID, &e.Symbol, &side, &reason, &e.Price, &pnl, &at); err != nil {
			return nil, fmt.Errorf("scan exit event: %w", err)
		}
		e.Side = models.Side(side)
		e.Reason = models.CloseReason(reason)
		e.At = parseTime(at)
		if e.PnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, fmt.Errorf("decode exit pnl: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Timestamps are fixed-width UTC so string comparison orders them.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(tsLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
