package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckLevels(t *testing.T) {
	cases := []struct {
		name    string
		side    Side
		sl, tp  float64
		wantErr bool
	}{
		{"buy ok", Buy, 1.0990, 1.1010, false},
		{"buy sl above entry", Buy, 1.1010, 1.1020, true},
		{"buy tp below entry", Buy, 1.0990, 1.0995 - 0.001, true},
		{"sell ok", Sell, 1.1010, 1.0990, false},
		{"sell sl below entry", Sell, 1.0990, 1.0980, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckLevels(tc.side, 1.1000, tc.sl, tc.tp)
			assert.Equal(t, tc.wantErr, err != nil, "err=%v", err)
		})
	}
}

func TestStopAndTargetHit(t *testing.T) {
	buy := Trade{Side: Buy, Entry: 1.1, SL: 1.09, TP: 1.11}
	assert.True(t, buy.StopHit(1.09))
	assert.False(t, buy.StopHit(1.0901))
	assert.True(t, buy.TargetHit(1.111))

	sell := Trade{Side: Sell, Entry: 1.1, SL: 1.11, TP: 1.09}
	assert.True(t, sell.StopHit(1.115))
	assert.True(t, sell.TargetHit(1.09))
	assert.False(t, sell.TargetHit(1.095))
}

func TestSLDistanceHalvesPerLevel(t *testing.T) {
	c := ReentryChain{SLDistance: 0.0040, SLFactor: 0.5}

	assert.InDelta(t, 0.0040, c.SLDistanceAt(0), 1e-12)
	assert.InDelta(t, 0.0020, c.SLDistanceAt(1), 1e-12)
	assert.InDelta(t, 0.0010, c.SLDistanceAt(2), 1e-12)
}

func TestLogicFor(t *testing.T) {
	l, ok := LogicFor(TF15m)
	assert.True(t, ok)
	assert.Equal(t, Logic2, l)

	_, ok = LogicFor(TF1d)
	assert.False(t, ok)
}

func TestFingerprintIgnoresPrice(t *testing.T) {
	a := Alert{Symbol: "EURUSD", Timeframe: TF5m, Category: CategoryEntry, Direction: Bull, Price: 1.1}
	b := a
	b.Price = 1.2
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	b.Direction = Bear
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}
