package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ZepixTrader/internal/domain/models"
)

type execCall struct {
	query string
	args  []any
}

type fakeCH struct {
	calls []execCall
	err   error
}

func (f *fakeCH) ExecContext(_ context.Context, q string, args ...any) (sql.Result, error) {
	f.calls = append(f.calls, execCall{q, args})
	return nil, f.err
}

func (f *fakeCH) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errors.New("not supported")
}

func TestCHArchiveTrade(t *testing.T) {
	db := &fakeCH{}
	a := NewCHArchive(db, nil)
	closed := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)

	tr := &models.Trade{
		ID: "t1", Symbol: "EURUSD", Side: models.Sell, Logic: models.Logic2, Entry: 1.1, ClosePrice: 1.099,
		Lot: 0.1, PnL: decimal.NewFromFloat(10), Status: models.TradeClosed, CloseReason: models.CloseTPHit,
		ChainLevel: 1, OpenedAt: closed.Add(-time.Hour), ClosedAt: closed,
	}
	require.NoError(t, a.ArchiveTrade(context.Background(), tr))
	require.Len(t, db.calls, 1)
	args := db.calls[0].args
	assert.Equal(t, "t1", args[0])
	assert.Equal(t, "sell", args[2])
	assert.Equal(t, "10.00", args[7])
	assert.Equal(t, "TP_HIT", args[8])
	assert.Equal(t, uint8(1), args[10])
}

func TestCHArchiveRejectsOpenTrade(t *testing.T) {
	db := &fakeCH{}
	err := NewCHArchive(db, nil).ArchiveTrade(context.Background(), &models.Trade{ID: "t", Status: models.TradeOpen})
	assert.Error(t, err)
	assert.Empty(t, db.calls)
}

func TestCHArchiveExitError(t *testing.T) {
	db := &fakeCH{err: errors.New("down")}
	err := NewCHArchive(db, nil).ArchiveExit(context.Background(), &models.ExitEvent{TradeID: "t", At: time.Now()})
	assert.ErrorContains(t, err, "down")

	_, err = NewCHArchive(db, nil).PnLBySymbol(context.Background(), time.Now())
	assert.Error(t, err)
}

type fakePublisher struct {
	topic string
	key   string
	value interface{}
}

func (p *fakePublisher) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	p.topic, p.key, p.value = topic, string(key), value
	return nil
}

func TestKafkaEventSinkKeysBySymbol(t *testing.T) {
	p := &fakePublisher{}
	s := NewKafkaEventSink(p, "zepix.events")

	require.NoError(t, s.Send(context.Background(), models.Event{Type: models.EventTradeOpened, Symbol: "GBPUSD"}))
	assert.Equal(t, "zepix.events", p.topic)
	assert.Equal(t, "GBPUSD", p.key)

	require.NoError(t, s.Send(context.Background(), models.Event{Type: models.EventControl}))
	assert.Equal(t, "control", p.key)
}
