package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterBurstAndRefill(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(2, 3, WithClock(func() time.Time { return now }))

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("tv"))
	}
	assert.False(t, l.Allow("tv"))
	assert.True(t, l.Allow("other"), "keys are independent")

	now = now.Add(500 * time.Millisecond)
	assert.True(t, l.Allow("tv"))
	assert.False(t, l.Allow("tv"))
}

func TestLimiterDisabled(t *testing.T) {
	l := New(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("x"))
	}
}

func TestLimiterSweep(t *testing.T) {
	now := time.Now()
	l := New(1, 1, WithClock(func() time.Time { return now }))
	l.Allow("a")
	now = now.Add(time.Minute)
	l.Allow("b")
	assert.Equal(t, 1, l.Sweep(30*time.Second))
}
