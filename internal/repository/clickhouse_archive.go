package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ZepixTrader/internal/domain/models"
	applogger "ZepixTrader/pkg/logger"
)

// ArchiveSchema creates the analytics tables. ReplacingMergeTree keyed on
// the trade id keeps a re-archived trade from being counted twice.
var ArchiveSchema = []string{
	`CREATE TABLE IF NOT EXISTS closed_trades (
		id           String,
		symbol       LowCardinality(String),
		side         LowCardinality(String),
		logic        LowCardinality(String),
		entry        Float64,
		close_price  Float64,
		lot          Float64,
		pnl          Decimal(18, 2),
		close_reason LowCardinality(String),
		chain_id     String,
		chain_level  UInt8,
		opened_at    DateTime64(3, 'UTC'),
		closed_at    DateTime64(3, 'UTC')
	) ENGINE = ReplacingMergeTree
	ORDER BY (symbol, id)`,
	`CREATE TABLE IF NOT EXISTS exit_events (
		trade_id String,
		symbol   LowCardinality(String),
		side     LowCardinality(String),
		reason   LowCardinality(String),
		price    Float64,
		pnl      Decimal(18, 2),
		at       DateTime64(3, 'UTC')
	) ENGINE = ReplacingMergeTree
	ORDER BY (symbol, trade_id, reason)`,
}

type chDB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// CHArchive implements repository.TradeArchive on ClickHouse.
type CHArchive struct {
	db chDB
	l  *applogger.Logger
}

func NewCHArchive(db chDB, l *applogger.Logger) *CHArchive {
	if l == nil {
		l = applogger.Nop()
	}
	return &CHArchive{db: db, l: l}
}

func (a *CHArchive) ArchiveTrade(ctx context.Context, t *models.Trade) error {
	if t.IsOpen() {
		return fmt.Errorf("archive trade %s: still open", t.ID)
	}
	const q = `INSERT INTO closed_trades
		(id, symbol, side, logic, entry, close_price, lot, pnl, close_reason, chain_id, chain_level, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	start := time.Now()
	_, err := a.db.ExecContext(ctx, q,
		t.ID, t.Symbol, string(t.Side), string(t.Logic),
		t.Entry, t.ClosePrice, t.Lot, t.PnL.StringFixed(2),
		string(t.CloseReason), t.ChainID, uint8(t.ChainLevel),
		t.OpenedAt.UTC(), t.ClosedAt.UTC(),
	)
	if err != nil {
		a.l.Error("clickhouse archive_trade error", applogger.String("trade_id", t.ID), applogger.Error(err))
		return fmt.Errorf("archive trade: %w", err)
	}
	a.l.Debug("clickhouse archive_trade ok",
		applogger.String("trade_id", t.ID),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return nil
}

func (a *CHArchive) ArchiveExit(ctx context.Context, e *models.ExitEvent) error {
	const q = `INSERT INTO exit_events (trade_id, symbol, side, reason, price, pnl, at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := a.db.ExecContext(ctx, q,
		e.TradeID, e.Symbol, string(e.Side), string(e.Reason), e.Price, e.PnL.StringFixed(2), e.At.UTC(),
	); err != nil {
		a.l.Error("clickhouse archive_exit error", applogger.String("trade_id", e.TradeID), applogger.Error(err))
		return fmt.Errorf("archive exit: %w", err)
	}
	return nil
}

// SymbolPnL is one row of the per-symbol performance report.
type SymbolPnL struct {
	Symbol string  `json:"symbol"`
	Trades uint64  `json:"trades"`
	Wins   uint64  `json:"wins"`
	PnL    float64 `json:"pnl"`
}

// PnLBySymbol aggregates archived trades closed at or after since.
func (a *CHArchive) PnLBySymbol(ctx context.Context, since time.Time) ([]SymbolPnL, error) {
	const q = `
        SELECT symbol, count() AS trades, countIf(pnl > 0) AS wins, toFloat64(sum(pnl)) AS pnl
        FROM closed_trades FINAL
        WHERE closed_at >= ?
        GROUP BY symbol
        ORDER BY pnl DESC
    `
	start := time.Now()
	rows, err := a.db.QueryContext(ctx, q, since.UTC())
	if err != nil {
		a.l.Error("clickhouse pnl_by_symbol query error", applogger.Error(err))
		return nil, fmt.Errorf("pnl by symbol: %w", err)
	}
	defer rows.Close()

	out := make([]SymbolPnL, 0, 16)
	for rows.Next() {
		var r SymbolPnL
		if err := rows.Scan(&r.Symbol, &r.Trades, &r.Wins, &r.PnL); err != nil {
			return nil, fmt.Errorf("scan pnl row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	a.l.Info("clickhouse pnl_by_symbol ok",
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

// NopArchive drops everything; used when ClickHouse is disabled.
type NopArchive struct{}

func (NopArchive) ArchiveTrade(context.Context, *models.Trade) error    { return nil }
func (NopArchive) ArchiveExit(context.Context, *models.ExitEvent) error { return nil }
