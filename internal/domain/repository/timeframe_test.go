package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ZepixTrader/internal/domain/models"
)

func TestNormalizeTimeframe(t *testing.T) {
	cases := map[string]models.Timeframe{
		"5":   models.TF5m,
		"15m": models.TF15m,
		"1H":  models.TF1h,
		"60":  models.TF1h,
		"D":   models.TF1d,
		"1d":  models.TF1d,
		"4h":  "4h",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeTimeframe(in), in)
	}
	assert.False(t, IsValidTimeframe("4h"))
	assert.True(t, IsValidTimeframe(models.TF15m))
}
