package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ZepixTrader/internal/domain/errs"
	"ZepixTrader/internal/domain/models"
	"ZepixTrader/internal/repository"
	"ZepixTrader/internal/service/market"
	"ZepixTrader/pkg/config"
)

func newGate(o Overrides) *Gate {
	cfg := config.Default()
	return NewGate(cfg.RiskTiers, cfg.VolatilityRisk, market.NewTable(cfg.Symbols), func() Overrides { return o })
}

func TestTierSelection(t *testing.T) {
	g := newGate(Overrides{})
	assert.Equal(t, "5000", g.TierFor(5000).Name)
	assert.Equal(t, "10000", g.TierFor(7500).Name)
	assert.Equal(t, "25000", g.TierFor(24999).Name)
	assert.Equal(t, "100000", g.TierFor(250000).Name)
}

func TestDailyCapBoundary(t *testing.T) {
	g := newGate(Overrides{DailyCap: 100})
	state := models.RiskState{DailyLoss: decimal.NewFromInt(95), LifetimeLoss: decimal.NewFromInt(95)}

	// 10 pips at 0.10 lot on EURUSD is a 10.00 worst case.
	d := g.Evaluate(Proposal{Symbol: "EURUSD", SLDistance: 0.0010, Balance: 10000}, state)
	assert.False(t, d.Approved)
	assert.Equal(t, DailyCapExceeded, d.Reason)
	assert.True(t, decimal.NewFromInt(10).Equal(d.WorstCase))

	d = g.Evaluate(Proposal{Symbol: "EURUSD", SLDistance: 0.0005, Balance: 10000}, state)
	assert.True(t, d.Approved)
	assert.Equal(t, 0.10, d.Lot)
}

func TestLifetimeAndSymbolCaps(t *testing.T) {
	g := newGate(Overrides{})
	state := models.RiskState{DailyLoss: decimal.Zero, LifetimeLoss: decimal.NewFromInt(995)}
	d := g.Evaluate(Proposal{Symbol: "EURUSD", SLDistance: 0.0010, Balance: 10000}, state)
	assert.Equal(t, LifetimeCapExceeded, d.Reason)

	// 350 pips at 0.10 lot is 350.00, above the 300 per-trade cap but inside the daily cap.
	state.LifetimeLoss = decimal.Zero
	g = newGate(Overrides{DailyCap: 1000})
	d = g.Evaluate(Proposal{Symbol: "EURUSD", SLDistance: 0.0350, Balance: 10000}, state)
	assert.Equal(t, SymbolCapExceeded, d.Reason)
}

func TestEvaluateRejectsBadInput(t *testing.T) {
	g := newGate(Overrides{})
	assert.Equal(t, UnknownSymbol, g.Evaluate(Proposal{Symbol: "DOGEUSD", SLDistance: 1, Balance: 10000}, models.RiskState{}).Reason)
	assert.Equal(t, InvalidStop, g.Evaluate(Proposal{Symbol: "EURUSD", Balance: 10000}, models.RiskState{}).Reason)
}

func TestStopDistance(t *testing.T) {
	g := newGate(Overrides{})
	inst, ok := market.NewTable(config.Default().Symbols).Lookup("EURUSD")
	require.True(t, ok)

	// LOW budget 30 x multiplier 2 = 60 at 0.10 lot and 10/pip = 60 pips.
	assert.InDelta(t, 0.0060, g.StopDistance(inst, 10000), 1e-9)

	// Tier 5000 budget 30 at 0.05 lot = 60 pips as well.
	assert.InDelta(t, 0.0060, g.StopDistance(inst, 5000), 1e-9)
}

func TestStopDistanceRespectsMinimum(t *testing.T) {
	tiers := []config.RiskTier{{Name: "x", Lot: 1, PerTradeCap: 10, DailyLossLimit: 100, MaxTotalLoss: 100, RiskMultiplier: 1}}
	g := NewGate(tiers, map[string]float64{"LOW": 10}, market.NewTable(config.Default().Symbols), nil)
	inst, _ := market.NewTable(config.Default().Symbols).Lookup("EURUSD")
	// 10 / (10 x 1) = 1 pip, below the 7 pip floor.
	assert.InDelta(t, 0.0007, g.StopDistance(inst, 0), 1e-9)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestAccountantBooksAndResets(t *testing.T) {
	store := repository.NewMemoryStore()
	c := &clock{t: time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)}
	a := NewAccountant(store, WithClock(c.now), WithDailyReset(time.UTC, 3*time.Hour+35*time.Minute))
	ctx := context.Background()

	s, err := a.Book(ctx, decimal.NewFromInt(-10))
	require.NoError(t, err)
	assert.Equal(t, "10", s.DailyLoss.String())
	assert.Equal(t, "10", s.LifetimeLoss.String())

	s, err = a.Book(ctx, decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.Equal(t, "10", s.DailyLoss.String())
	assert.Equal(t, "5", s.DailyProfit.String())
	assert.Equal(t, 2, s.TotalTrades)
	assert.Equal(t, 1, s.WinningTrades)

	// Before the reset boundary the day has not turned.
	c.t = time.Date(2026, 1, 6, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, "10", a.Snapshot().DailyLoss.String())

	c.t = time.Date(2026, 1, 6, 4, 0, 0, 0, time.UTC)
	snap := a.Snapshot()
	assert.True(t, snap.DailyLoss.IsZero())
	assert.True(t, snap.DailyProfit.IsZero())
	assert.Equal(t, 0, snap.DailyTrades)
	assert.Equal(t, "10", snap.LifetimeLoss.String())
	assert.Equal(t, "2026-01-06", snap.TradingDay)

	persisted, err := store.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, persisted.Risk)
	assert.Equal(t, 2, persisted.Risk.TotalTrades)
}

func TestAccountantLoadClampsNegative(t *testing.T) {
	a := NewAccountant(repository.NewMemoryStore())
	a.Load(&models.RiskState{DailyLoss: decimal.NewFromInt(-3), LifetimeLoss: decimal.NewFromInt(7), DailyProfit: decimal.Zero})
	s := a.Snapshot()
	assert.True(t, s.DailyLoss.IsZero())
	assert.Equal(t, "7", s.LifetimeLoss.String())
}

type failingRiskStore struct{ *repository.MemoryStore }

func (failingRiskStore) SaveRiskState(context.Context, *models.RiskState) error {
	return errors.New("disk full")
}

func TestAccountantStoreFailure(t *testing.T) {
	a := NewAccountant(failingRiskStore{repository.NewMemoryStore()})
	_, err := a.Book(context.Background(), decimal.NewFromInt(-4))
	assert.True(t, errors.Is(err, errs.ErrTransient))
	assert.Equal(t, "4", a.Snapshot().DailyLoss.String())
}
