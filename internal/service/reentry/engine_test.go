package reentry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ZepixTrader/internal/domain/errs"
	"ZepixTrader/internal/domain/models"
	"ZepixTrader/internal/repository"
	"ZepixTrader/internal/service/control"
	"ZepixTrader/internal/service/ledger"
	"ZepixTrader/internal/service/market"
	"ZepixTrader/pkg/config"
)

type fakeOpener struct {
	mu     sync.Mutex
	ledger *ledger.Ledger
	err    error
	calls  []opened
}

type opened struct {
	level      int
	price      float64
	slDistance float64
	tpDistance float64
}

func (f *fakeOpener) OpenReentry(ctx context.Context, c models.ReentryChain, level int, price float64) (models.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return models.Trade{}, f.err
	}
	sl := c.SLDistanceAt(level)
	f.calls = append(f.calls, opened{level: level, price: price, slDistance: sl, tpDistance: c.TPDistance})
	sign := c.Side.Sign()
	t := models.Trade{
		ID:         fmt.Sprintf("r%d", len(f.calls)),
		Symbol:     c.Symbol,
		Side:       c.Side,
		Entry:      price,
		SL:         price - sign*sl,
		TP:         price + sign*c.TPDistance,
		Lot:        0.1,
		Logic:      c.Logic,
		Status:     models.TradeOpen,
		ChainID:    c.ID,
		ChainLevel: level,
	}
	return t, f.ledger.SaveTrade(ctx, t)
}

func (f *fakeOpener) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeAligner struct{ misaligned atomic.Bool }

func (a *fakeAligner) Aligned(string, models.Logic, models.Direction) bool { return !a.misaligned.Load() }

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type fixture struct {
	engine  *Engine
	ledger  *ledger.Ledger
	store   *repository.MemoryStore
	opener  *fakeOpener
	aligner *fakeAligner
	ctl     *control.Controller
	clock   *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	store := repository.NewMemoryStore()
	l := ledger.New(store, nil, nil)
	f := &fixture{
		ledger:  l,
		store:   store,
		opener:  &fakeOpener{ledger: l},
		aligner: &fakeAligner{},
		ctl:     control.New(control.FromConfig(cfg)),
		clock:   &clock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
	}
	f.engine = New(l, f.aligner, market.NewTable(cfg.Symbols), f.ctl, f.opener, Config{
		SLFactor:         cfg.Reentry.SLReductionPerLevel,
		RecoveryWindow:   cfg.Reentry.RecoveryWindow,
		SLHuntOffsetPips: cfg.Reentry.SLHuntOffsetPips,
		TPGapPips:        cfg.Reentry.TPGapPips,
	}, WithClock(f.clock.now))
	return f
}

// open places a buy with a 50 pip stop and target and arms its chain.
func (f *fixture) open(t *testing.T) (models.Trade, models.ReentryChain) {
	t.Helper()
	ctx := context.Background()
	tr := models.Trade{
		ID: "t0", Symbol: "EURUSD", Side: models.Buy, Entry: 1.1000, SL: 1.0950, TP: 1.1050,
		Lot: 0.1, Logic: models.Logic1, Status: models.TradeOpen, ChainID: "EURUSD_chain01",
	}
	require.NoError(t, f.ledger.SaveTrade(ctx, tr))
	c, err := f.engine.Arm(ctx, tr)
	require.NoError(t, err)
	return tr, c
}

// closeOn marks the chain's current trade closed at price and reports the fill.
func (f *fixture) closeOn(t *testing.T, chainID string, kind EventKind, price float64) models.ReentryChain {
	t.Helper()
	ctx := context.Background()
	c, ok := f.ledger.Chain(chainID)
	require.True(t, ok)
	tr, ok := f.ledger.Trade(c.TradeID)
	require.True(t, ok)
	tr.Status = models.TradeClosed
	tr.ClosePrice = price
	require.NoError(t, f.ledger.SaveTrade(ctx, tr))
	got, err := f.engine.Apply(ctx, chainID, Event{Kind: kind, TradeID: tr.ID, Price: price})
	require.NoError(t, err)
	return got
}

func (f *fixture) stored(t *testing.T, id string) models.ReentryChain {
	t.Helper()
	c, err := f.store.Chain(id)
	require.NoError(t, err)
	return c
}

func TestArmCapturesDistances(t *testing.T) {
	f := newFixture(t)
	_, c := f.open(t)
	assert.Equal(t, models.ChainArmed, c.State)
	assert.InDelta(t, 0.0050, c.SLDistance, 1e-9)
	assert.InDelta(t, 0.0050, c.TPDistance, 1e-9)
	assert.Equal(t, 2, c.MaxLevel)
	assert.Equal(t, models.Bull, c.ArmedTrend)
	assert.True(t, c.Active)
}

func TestArmRequiresChainID(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Arm(context.Background(), models.Trade{ID: "x"})
	assert.True(t, errors.Is(err, errs.ErrInvariant))
}

func TestSLHuntHalvesStopPerLevel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, c := f.open(t)

	got := f.closeOn(t, c.ID, StopFilled, 1.0950)
	assert.Equal(t, models.ChainSLHunt, got.Kind)
	assert.True(t, got.Pending())

	// One pip offset: 1.0950 is not enough, 1.0951 is.
	_, err := f.engine.Apply(ctx, c.ID, Event{Kind: PriceTick, Price: 1.0950})
	require.NoError(t, err)
	assert.Equal(t, 0, f.opener.count())

	got, err = f.engine.Apply(ctx, c.ID, Event{Kind: PriceTick, Price: 1.0952})
	require.NoError(t, err)
	assert.Equal(t, 1, got.Level)
	assert.Equal(t, models.ChainArmed, got.State)
	assert.Equal(t, "r1", got.TradeID)
	assert.False(t, got.Pending())

	next, _ := f.ledger.Trade("r1")
	f.closeOn(t, c.ID, StopFilled, next.SL)
	got, err = f.engine.Apply(ctx, c.ID, Event{Kind: PriceTick, Price: next.SL + 0.0002})
	require.NoError(t, err)

	require.Equal(t, 2, f.opener.count())
	assert.InDelta(t, 0.0025, f.opener.calls[0].slDistance, 1e-9)
	assert.InDelta(t, 0.00125, f.opener.calls[1].slDistance, 1e-9)
	assert.InDelta(t, 0.0050, f.opener.calls[1].tpDistance, 1e-9)

	assert.False(t, got.Active)
	assert.Equal(t, models.ExpireMaxLevel, got.ExpireReason)
	assert.Equal(t, 2, f.stored(t, c.ID).Level)
}

func TestFillAtMaxLevelExpires(t *testing.T) {
	f := newFixture(t)
	_, err := f.ctl.SetChains(context.Background(), true, true, 0)
	require.NoError(t, err)
	_, c := f.open(t)

	got := f.closeOn(t, c.ID, StopFilled, 1.0950)
	assert.False(t, got.Active)
	assert.Equal(t, models.ExpireMaxLevel, got.ExpireReason)
}

func TestTPContinuation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, c := f.open(t)

	got := f.closeOn(t, c.ID, TargetFilled, 1.1050)
	assert.Equal(t, models.ChainTPContinuation, got.Kind)
	assert.Equal(t, models.ChainHit, got.State)

	// Two pip gap beyond the target.
	_, err := f.engine.Apply(ctx, c.ID, Event{Kind: PriceTick, Price: 1.1051})
	require.NoError(t, err)
	assert.Equal(t, 0, f.opener.count())

	got, err = f.engine.Apply(ctx, c.ID, Event{Kind: PriceTick, Price: 1.1053})
	require.NoError(t, err)
	require.Equal(t, 1, f.opener.count())
	assert.Equal(t, 1, got.Level)
	assert.Equal(t, models.ChainArmed, got.State)
	assert.InDelta(t, 0.0025, f.opener.calls[0].slDistance, 1e-9)
	assert.InDelta(t, 0.0050, f.opener.calls[0].tpDistance, 1e-9)

	next, ok := f.ledger.Trade("r1")
	require.True(t, ok)
	got = f.closeOn(t, c.ID, TargetFilled, next.TP)
	assert.Equal(t, models.ChainTPContinuation, got.Kind)
	assert.True(t, got.Pending())

	got, err = f.engine.Apply(ctx, c.ID, Event{Kind: PriceTick, Price: next.TP + 0.0003})
	require.NoError(t, err)
	require.Equal(t, 2, f.opener.count())
	assert.Equal(t, 2, f.opener.calls[1].level)
	assert.InDelta(t, 0.00125, f.opener.calls[1].slDistance, 1e-9)
	assert.InDelta(t, 0.0050, f.opener.calls[1].tpDistance, 1e-9)

	assert.False(t, got.Active)
	assert.Equal(t, models.ExpireMaxLevel, got.ExpireReason)
	assert.Equal(t, 2, f.stored(t, c.ID).Level)
}

func TestMaxLevelFollowsSettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, c := f.open(t)
	require.Equal(t, 2, c.MaxLevel)

	_, err := f.ctl.SetChains(ctx, true, true, 1)
	require.NoError(t, err)

	f.closeOn(t, c.ID, StopFilled, 1.0950)
	got, err := f.engine.Apply(ctx, c.ID, Event{Kind: PriceTick, Price: 1.0952})
	require.NoError(t, err)
	require.Equal(t, 1, f.opener.count())
	assert.False(t, got.Active)
	assert.Equal(t, models.ExpireMaxLevel, got.ExpireReason)
	assert.Equal(t, 1, got.MaxLevel)
}

func TestMaxLevelLoweredWhilePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, c := f.open(t)
	f.closeOn(t, c.ID, StopFilled, 1.0950)

	_, err := f.ctl.SetChains(ctx, true, true, 0)
	require.NoError(t, err)
	got, err := f.engine.Apply(ctx, c.ID, Event{Kind: PriceTick, Price: 1.0952})
	require.NoError(t, err)
	assert.Equal(t, 0, f.opener.count())
	assert.False(t, got.Active)
	assert.Equal(t, models.ExpireMaxLevel, got.ExpireReason)
}

// earlyExit closes the armed trade as an exit alert would.
func (f *fixture) earlyExit(t *testing.T, reason models.CloseReason, price float64) models.Trade {
	t.Helper()
	tr, ok := f.ledger.Trade("t0")
	require.True(t, ok)
	tr.Status = models.TradeClosed
	tr.ClosePrice = price
	tr.CloseReason = reason
	require.NoError(t, f.ledger.SaveTrade(context.Background(), tr))
	return tr
}

func TestExitContinuationReentersAtSameDepth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, c := f.open(t)
	n, err := f.engine.DeactivateOpposing(ctx, "EURUSD", models.Bear)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	tr := f.earlyExit(t, models.CloseExitAppearedBearish, 1.1010)
	ec, armed, err := f.engine.ArmExitContinuation(ctx, tr)
	require.NoError(t, err)
	require.True(t, armed)
	assert.NotEqual(t, c.ID, ec.ID)
	assert.Equal(t, models.ChainExitContinuation, ec.Kind)
	assert.True(t, ec.Pending())
	assert.InDelta(t, 1.1010, ec.PendingPrice, 1e-9)

	_, err = f.engine.Apply(ctx, ec.ID, Event{Kind: PriceTick, Price: 1.1011})
	require.NoError(t, err)
	assert.Equal(t, 0, f.opener.count())

	got, err := f.engine.Apply(ctx, ec.ID, Event{Kind: PriceTick, Price: 1.1013})
	require.NoError(t, err)
	require.Equal(t, 1, f.opener.count())
	assert.Equal(t, 0, f.opener.calls[0].level)
	assert.InDelta(t, 0.0050, f.opener.calls[0].slDistance, 1e-9)
	assert.InDelta(t, 0.0050, f.opener.calls[0].tpDistance, 1e-9)
	assert.True(t, got.Active)
	assert.Equal(t, models.ChainArmed, got.State)
	assert.Equal(t, "r1", got.TradeID)
}

func TestExitContinuationGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.ctl.SetExitContinuation(ctx, false)
		require.NoError(t, err)
		f.open(t)
		_, armed, err := f.engine.ArmExitContinuation(ctx, f.earlyExit(t, models.CloseReversalBearish, 1.1010))
		require.NoError(t, err)
		assert.False(t, armed)
	})

	t.Run("organic and manual closes", func(t *testing.T) {
		f := newFixture(t)
		f.open(t)
		for _, r := range []models.CloseReason{models.CloseSLHit, models.CloseTPHit, models.CloseManual} {
			_, armed, err := f.engine.ArmExitContinuation(ctx, f.earlyExit(t, r, 1.1010))
			require.NoError(t, err)
			assert.False(t, armed, r)
		}
	})

	t.Run("one per side", func(t *testing.T) {
		f := newFixture(t)
		f.open(t)
		tr := f.earlyExit(t, models.CloseTrendReversalBearish, 1.1010)
		first, armed, err := f.engine.ArmExitContinuation(ctx, tr)
		require.NoError(t, err)
		require.True(t, armed)
		again, armed, err := f.engine.ArmExitContinuation(ctx, tr)
		require.NoError(t, err)
		assert.False(t, armed)
		assert.Equal(t, first.ID, again.ID)
	})

	t.Run("misaligned", func(t *testing.T) {
		f := newFixture(t)
		f.open(t)
		ec, _, err := f.engine.ArmExitContinuation(ctx, f.earlyExit(t, models.CloseOppositeSignalSell, 1.1010))
		require.NoError(t, err)
		f.aligner.misaligned.Store(true)
		got, err := f.engine.Apply(ctx, ec.ID, Event{Kind: PriceTick, Price: 1.1020})
		require.NoError(t, err)
		assert.Equal(t, models.ExpireMisaligned, got.ExpireReason)
		assert.Equal(t, 0, f.opener.count())
	})

	t.Run("opposite alert cancels", func(t *testing.T) {
		f := newFixture(t)
		f.open(t)
		ec, _, err := f.engine.ArmExitContinuation(ctx, f.earlyExit(t, models.CloseExitAppearedBearish, 1.1010))
		require.NoError(t, err)
		n, err := f.engine.DeactivateOpposing(ctx, "EURUSD", models.Bear)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		require.NoError(t, f.engine.Tick(ctx, "EURUSD", 1.1020))
		assert.Equal(t, 0, f.opener.count())
		assert.Equal(t, models.ExpireOpposite, f.stored(t, ec.ID).ExpireReason)
	})
}

func TestOppositeDeactivationBeatsTick(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, c := f.open(t)
	f.closeOn(t, c.ID, StopFilled, 1.0950)

	n, err := f.engine.DeactivateOpposing(ctx, "EURUSD", models.Bear)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, f.engine.Tick(ctx, "EURUSD", 1.0990))
	assert.Equal(t, 0, f.opener.count())
	assert.Equal(t, models.ExpireOpposite, f.stored(t, c.ID).ExpireReason)
}

func TestSameDirectionAlertKeepsChain(t *testing.T) {
	f := newFixture(t)
	_, c := f.open(t)
	n, err := f.engine.DeactivateOpposing(context.Background(), "EURUSD", models.Bull)
	require.NoError(t, err)
	assert.Zero(t, n)
	got, ok := f.ledger.Chain(c.ID)
	require.True(t, ok)
	assert.True(t, got.Active)
}

func TestMisalignedTrendExpires(t *testing.T) {
	f := newFixture(t)
	_, c := f.open(t)
	f.closeOn(t, c.ID, StopFilled, 1.0950)
	f.aligner.misaligned.Store(true)

	got, err := f.engine.Apply(context.Background(), c.ID, Event{Kind: PriceTick, Price: 1.0960})
	require.NoError(t, err)
	assert.Equal(t, models.ExpireMisaligned, got.ExpireReason)
	assert.Equal(t, 0, f.opener.count())
}

func TestRecoveryWindow(t *testing.T) {
	f := newFixture(t)
	_, c := f.open(t)
	f.closeOn(t, c.ID, StopFilled, 1.0950)
	f.clock.t = f.clock.t.Add(31 * time.Minute)

	got, err := f.engine.Apply(context.Background(), c.ID, Event{Kind: PriceTick, Price: 1.0960})
	require.NoError(t, err)
	assert.Equal(t, models.ExpireWindow, got.ExpireReason)
}

func TestRiskDenialExpires(t *testing.T) {
	f := newFixture(t)
	_, c := f.open(t)
	f.closeOn(t, c.ID, StopFilled, 1.0950)
	f.opener.err = errs.Denied("executor.reentry", "DailyCapExceeded")

	got, err := f.engine.Apply(context.Background(), c.ID, Event{Kind: PriceTick, Price: 1.0960})
	require.NoError(t, err)
	assert.Equal(t, models.ExpireRiskDenied, got.ExpireReason)
}

func TestTransientFailureStaysPending(t *testing.T) {
	f := newFixture(t)
	_, c := f.open(t)
	f.closeOn(t, c.ID, StopFilled, 1.0950)
	f.opener.err = errs.Transient("broker.place_order", errors.New("timeout"))

	_, err := f.engine.Apply(context.Background(), c.ID, Event{Kind: PriceTick, Price: 1.0960})
	assert.True(t, errors.Is(err, errs.ErrTransient))
	got, ok := f.ledger.Chain(c.ID)
	require.True(t, ok)
	assert.True(t, got.Pending())
}

func TestDisabledKindExpiresOnFill(t *testing.T) {
	f := newFixture(t)
	_, err := f.ctl.SetChains(context.Background(), false, true, 2)
	require.NoError(t, err)
	_, c := f.open(t)

	got := f.closeOn(t, c.ID, StopFilled, 1.0950)
	assert.Equal(t, models.ExpireDisabled, got.ExpireReason)
}

func TestOtherCloseExpires(t *testing.T) {
	f := newFixture(t)
	tr, c := f.open(t)

	got, err := f.engine.Apply(context.Background(), c.ID, Event{Kind: TradeClosed, TradeID: "someone-else"})
	require.NoError(t, err)
	assert.True(t, got.Active)

	got, err = f.engine.Apply(context.Background(), c.ID, Event{Kind: TradeClosed, TradeID: tr.ID})
	require.NoError(t, err)
	assert.Equal(t, models.ExpireClosed, got.ExpireReason)
}

func TestConcurrentTicksFireOnce(t *testing.T) {
	f := newFixture(t)
	_, c := f.open(t)
	f.closeOn(t, c.ID, StopFilled, 1.0950)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.engine.Apply(context.Background(), c.ID, Event{Kind: PriceTick, Price: 1.0960})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, f.opener.count())
}
