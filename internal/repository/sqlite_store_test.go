package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ZepixTrader/internal/domain/models"
	"ZepixTrader/pkg/sqlite"
)

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), sqlite.Memory)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteTradeUpsertAndSnapshot(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	opened := time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)

	tr := &models.Trade{
		ID: "01J0000000000000000000000A", Ticket: "1001", Symbol: "EURUSD", BrokerSymbol: "EURUSD",
		Side: models.Buy, Entry: 1.1, SL: 1.099, TP: 1.101, Lot: 0.1, Logic: models.Logic1,
		Status: models.TradeOpen, OpenedAt: opened, PnL: decimal.Zero, ChainID: "EURUSD_abcd1234",
	}
	require.NoError(t, s.SaveTrade(ctx, tr))

	snap, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.OpenTrades, 1)
	assert.Equal(t, opened, snap.OpenTrades[0].OpenedAt)
	assert.Nil(t, snap.Risk)

	tr.Status = models.TradeClosed
	tr.ClosePrice = 1.101
	tr.ClosedAt = opened.Add(time.Hour)
	tr.CloseReason = models.CloseTPHit
	tr.PnL = decimal.RequireFromString("10.00")
	require.NoError(t, s.SaveTrade(ctx, tr))

	snap, err = s.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.OpenTrades)

	closed, err := s.ListTrades(ctx, models.TradeFilter{Status: models.TradeClosed, Limit: 10})
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.True(t, closed[0].PnL.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, models.CloseTPHit, closed[0].CloseReason)
}

func TestSQLiteChainsRiskTrends(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)

	active := &models.ReentryChain{ID: "EURUSD_1", Symbol: "EURUSD", State: models.ChainArmed, Active: true, SLFactor: 0.5, UpdatedAt: now}
	dead := &models.ReentryChain{ID: "EURUSD_2", Symbol: "EURUSD", State: models.ChainExpired, UpdatedAt: now}
	require.NoError(t, s.SaveChain(ctx, active))
	require.NoError(t, s.SaveChain(ctx, dead))

	risk := &models.RiskState{
		DailyLoss:    decimal.RequireFromString("95.50"),
		LifetimeLoss: decimal.RequireFromString("300"),
		DailyProfit:  decimal.Zero,
		TotalTrades:  4, WinningTrades: 1, TradingDay: "2024-07-01", UpdatedAt: now,
	}
	require.NoError(t, s.SaveRiskState(ctx, risk))
	require.NoError(t, s.SaveTrend(ctx, &models.TrendRecord{Symbol: "EURUSD", Timeframe: models.TF1h, Direction: models.Bull, Mode: models.TrendAuto, UpdatedAt: now}))
	require.NoError(t, s.SaveTrend(ctx, &models.TrendRecord{Symbol: "EURUSD", Timeframe: models.TF1h, Direction: models.Bear, Mode: models.TrendManual, UpdatedAt: now}))

	snap, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.ActiveChains, 1)
	assert.Equal(t, "EURUSD_1", snap.ActiveChains[0].ID)
	require.NotNil(t, snap.Risk)
	assert.True(t, snap.Risk.DailyLoss.Equal(decimal.RequireFromString("95.5")))
	assert.Equal(t, 4, snap.Risk.TotalTrades)
	require.Len(t, snap.Trends, 1)
	assert.Equal(t, models.Bear, snap.Trends[0].Direction)
	assert.Equal(t, models.TrendManual, snap.Trends[0].Mode)
}

func TestSQLiteExitEvents(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	at := time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveExitEvent(ctx, &models.ExitEvent{TradeID: "a", Symbol: "EURUSD", Side: models.Sell, Reason: models.CloseExitAppearedBullish, Price: 1.1, PnL: decimal.NewFromInt(-5), At: at}))
	require.NoError(t, s.SaveExitEvent(ctx, &models.ExitEvent{TradeID: "b", Symbol: "EURUSD", Side: models.Buy, Reason: models.CloseReversalBearish, Price: 1.1, PnL: decimal.NewFromInt(7), At: at.Add(time.Hour)}))

	events, err := s.ListExitEvents(ctx, at.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "b", events[0].TradeID)
}
