package trend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ZepixTrader/internal/domain/errs"
	"ZepixTrader/internal/domain/models"
	"ZepixTrader/internal/repository"
	"ZepixTrader/pkg/logger"
)

var t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func newState() (*State, *repository.MemoryStore) {
	store := repository.NewMemoryStore()
	return NewState(store, nil, logger.Nop()), store
}

func TestUpdateMonotonic(t *testing.T) {
	s, _ := newState()
	ctx := context.Background()

	changed, err := s.Update(ctx, "EURUSD", models.TF1h, models.Bull, t0)
	require.NoError(t, err)
	assert.True(t, changed)

	// older update is dropped silently
	changed, err = s.Update(ctx, "EURUSD", models.TF1h, models.Bear, t0.Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, changed)

	rec, ok := s.Get("EURUSD", models.TF1h)
	require.True(t, ok)
	assert.Equal(t, models.Bull, rec.Direction)

	// equal timestamps overwrite
	changed, _ = s.Update(ctx, "EURUSD", models.TF1h, models.Bear, t0)
	assert.True(t, changed)
	rec, _ = s.Get("EURUSD", models.TF1h)
	assert.Equal(t, models.Bear, rec.Direction)
}

func TestGetAbsent(t *testing.T) {
	s, _ := newState()
	_, ok := s.Get("EURUSD", models.TF15m)
	assert.False(t, ok)
}

func TestManualLock(t *testing.T) {
	s, _ := newState()
	ctx := context.Background()

	require.NoError(t, s.SetManual(ctx, "EURUSD", models.TF1h, models.Bear, t0))
	changed, err := s.Update(ctx, "EURUSD", models.TF1h, models.Bull, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, s.SetAuto(ctx, "EURUSD", models.TF1h))
	changed, _ = s.Update(ctx, "EURUSD", models.TF1h, models.Bull, t0.Add(time.Hour))
	assert.True(t, changed)
}

func TestLogicAlignment(t *testing.T) {
	s, _ := newState()
	ctx := context.Background()

	assert.False(t, s.Aligned("EURUSD", models.Logic1, models.Bull), "absent trends never align")

	_, _ = s.Update(ctx, "EURUSD", models.TF1h, models.Bull, t0)
	_, _ = s.Update(ctx, "EURUSD", models.TF15m, models.Bull, t0)
	assert.True(t, s.Aligned("EURUSD", models.Logic1, models.Bull))
	assert.True(t, s.Aligned("EURUSD", models.Logic2, models.Bull))
	assert.False(t, s.Aligned("EURUSD", models.Logic1, models.Bear))
	assert.False(t, s.Aligned("EURUSD", models.Logic3, models.Bull), "needs 1d")

	_, _ = s.Update(ctx, "EURUSD", models.TF1d, models.Bull, t0)
	assert.True(t, s.Aligned("EURUSD", models.Logic3, models.Bull))
}

func TestPluggableRule(t *testing.T) {
	always := RuleFunc(func(Reader, string, models.Logic, models.Direction) bool { return true })
	s := NewState(nil, always, logger.Nop())
	assert.True(t, s.Aligned("EURUSD", models.Logic1, models.Bear))
}

type failingStore struct{ *repository.MemoryStore }

func (failingStore) SaveTrend(context.Context, *models.TrendRecord) error {
	return errors.New("disk full")
}

func TestStoreFailureLeavesStateUntouched(t *testing.T) {
	s := NewState(failingStore{repository.NewMemoryStore()}, nil, logger.Nop())

	_, err := s.Update(context.Background(), "EURUSD", models.TF1h, models.Bull, t0)
	assert.ErrorIs(t, err, errs.ErrTransient)

	_, ok := s.Get("EURUSD", models.TF1h)
	assert.False(t, ok)
}
