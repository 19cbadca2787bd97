package alertgate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ZepixTrader/internal/domain/errs"
	"ZepixTrader/internal/domain/models"
	"ZepixTrader/internal/service/market"
	"ZepixTrader/pkg/cache"
	"ZepixTrader/pkg/config"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newGate(t *testing.T) (*Gate, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)}
	mc := cache.NewMemoryCache(cache.WithMemoryClock(clk.Now), cache.WithMemoryCleanup(0))
	t.Cleanup(func() { _ = mc.Close() })

	table := market.NewTable(map[string]config.Symbol{
		"EURUSD": {PipSize: 0.0001, PipValue: 10},
		"XAUUSD": {Broker: "GOLD", PipSize: 0.01, PipValue: 1},
	})
	return New(mc, table, WithClock(clk.Now)), clk
}

func entry(symbol, signal string) models.Alert {
	return models.Alert{Symbol: symbol, Timeframe: "5m", Category: "entry", Signal: signal, Price: 1.1}
}

func TestAdmitNormalizesAndMaps(t *testing.T) {
	g, _ := newGate(t)

	a, err := g.Admit(context.Background(), models.Alert{
		Symbol: "oanda:xauusd", Timeframe: "60", Category: "Trend", Signal: "BULL",
	})
	require.NoError(t, err)
	assert.Equal(t, "XAUUSD", a.Symbol)
	assert.Equal(t, "GOLD", a.BrokerSymbol)
	assert.Equal(t, models.TF1h, a.Timeframe)
	assert.Equal(t, models.Bull, a.Direction)
	assert.False(t, a.ReceivedAt.IsZero())
}

func TestAdmitUnknownSymbol(t *testing.T) {
	g, _ := newGate(t)

	_, err := g.Admit(context.Background(), entry("BTCUSD", "buy"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.Contains(t, errs.ReasonOf(err), ReasonUnknownSymbol)
}

func TestAdmitValidation(t *testing.T) {
	g, _ := newGate(t)
	cases := []models.Alert{
		{Symbol: "EURUSD", Timeframe: "4h", Category: "entry", Signal: "buy"},
		{Symbol: "EURUSD", Timeframe: "5m", Category: "scalp", Signal: "buy"},
		{Symbol: "EURUSD", Timeframe: "5m", Category: "entry", Signal: "bull"},
		{Symbol: "EURUSD", Timeframe: "5m", Category: "trend", Signal: "buy"},
		{Symbol: "EURUSD", Timeframe: "1d", Category: "entry", Signal: "buy"},
		{Symbol: "", Timeframe: "5m", Category: "entry", Signal: "buy"},
	}
	for _, a := range cases {
		_, err := g.Admit(context.Background(), a)
		assert.ErrorIs(t, err, errs.ErrValidation, "%+v", a)
	}
}

func TestDedupWindowIsStrict(t *testing.T) {
	g, clk := newGate(t)
	ctx := context.Background()

	_, err := g.Admit(ctx, entry("EURUSD", "buy"))
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	_, err = g.Admit(ctx, entry("EURUSD", "buy"))
	assert.ErrorIs(t, err, errs.ErrDuplicate)

	// a different direction is a different fingerprint
	_, err = g.Admit(ctx, entry("EURUSD", "sell"))
	assert.NoError(t, err)

	clk.Advance(3 * time.Minute)
	_, err = g.Admit(ctx, entry("EURUSD", "buy"))
	assert.ErrorIs(t, err, errs.ErrDuplicate, "exactly five minutes is still inside the window")

	clk.Advance(time.Second)
	_, err = g.Admit(ctx, entry("EURUSD", "buy"))
	assert.NoError(t, err)
}

func TestRejectedAlertDoesNotRecordFingerprint(t *testing.T) {
	g, _ := newGate(t)
	ctx := context.Background()

	bad := entry("EURUSD", "buy")
	bad.Price = -1
	_, err := g.Admit(ctx, bad)
	require.ErrorIs(t, err, errs.ErrValidation)

	_, err = g.Admit(ctx, entry("EURUSD", "buy"))
	assert.NoError(t, err)
}

func TestForgetAllowsRedelivery(t *testing.T) {
	g, _ := newGate(t)
	ctx := context.Background()

	a, err := g.Admit(ctx, entry("EURUSD", "buy"))
	require.NoError(t, err)
	g.Forget(ctx, a)

	_, err = g.Admit(ctx, entry("EURUSD", "buy"))
	assert.NoError(t, err)
}
