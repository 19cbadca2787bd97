package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ZepixTrader/internal/domain/models"
)

type recordingSink struct {
	mu   sync.Mutex
	got  []models.Quote
	fail bool
}

func (s *recordingSink) Observe(_ context.Context, q models.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink down")
	}
	s.got = append(s.got, q)
	return nil
}

func TestThrottlePerSymbol(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sink := &recordingSink{}
	p := NewQuotePipeline(sink, nil, WithThrottle(time.Second), WithPipelineClock(func() time.Time { return now }))
	ctx := context.Background()

	q := models.Quote{Symbol: "EURUSD", Price: 1.1, At: now}
	require.NoError(t, p.Process(ctx, q))
	require.NoError(t, p.Process(ctx, q))
	require.NoError(t, p.Process(ctx, models.Quote{Symbol: "GBPUSD", Price: 1.3, At: now}))

	now = now.Add(time.Second)
	require.NoError(t, p.Process(ctx, q))
	assert.Len(t, sink.got, 3)
}

func TestInvalidQuotes(t *testing.T) {
	p := NewQuotePipeline(&recordingSink{}, nil)
	ctx := context.Background()
	assert.Error(t, p.Process(ctx, models.Quote{Price: 1, At: time.Now()}))
	assert.Error(t, p.Process(ctx, models.Quote{Symbol: "EURUSD", At: time.Now()}))
	assert.Error(t, p.Process(ctx, models.Quote{Symbol: "EURUSD", Price: 1}))
}

func TestBuffersOnSinkFailure(t *testing.T) {
	sink := &recordingSink{fail: true}
	p := NewQuotePipeline(sink, nil, WithThrottle(0))

	err := p.Process(context.Background(), models.Quote{Symbol: "EURUSD", Price: 1.1, At: time.Now()})
	assert.Error(t, err)
	assert.Equal(t, 1, p.Buffered())

	sink.mu.Lock()
	sink.fail = false
	sink.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()
	assert.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.got) == 1
	}, time.Second, 10*time.Millisecond)
}
