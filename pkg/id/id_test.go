package id

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorMonotonic(t *testing.T) {
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	g := NewGenerator(func() time.Time { return fixed })

	prev := g.New()
	for i := 0; i < 100; i++ {
		next := g.New()
		require.Len(t, next, 26)
		assert.Greater(t, next, prev)
		prev = next
	}
}

func TestChainID(t *testing.T) {
	a := Chain("EURUSD")
	b := Chain("EURUSD")

	assert.True(t, strings.HasPrefix(a, "EURUSD_"))
	assert.Len(t, a, len("EURUSD_")+8)
	assert.NotEqual(t, a, b)
}
