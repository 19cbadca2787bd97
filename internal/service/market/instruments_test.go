package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ZepixTrader/internal/domain/models"
	"ZepixTrader/pkg/config"
)

func table() *Table {
	return NewTable(map[string]config.Symbol{
		"EURUSD": {PipSize: 0.0001, PipValue: 10},
		"XAUUSD": {Broker: "GOLD", PipSize: 0.01, PipValue: 1},
	})
}

func TestPnL(t *testing.T) {
	eur, ok := table().Lookup("EURUSD")
	require.True(t, ok)

	// 20 pips * $10 * 0.5 lot
	assert.Equal(t, "100", eur.PnL(models.Buy, 1.1000, 1.1020, 0.5).String())
	assert.Equal(t, "-100", eur.PnL(models.Sell, 1.1000, 1.1020, 0.5).String())
}

func TestLossAt(t *testing.T) {
	gold, _ := table().Lookup("XAUUSD")
	// $5 move on gold = 500 pips * $1 * 0.1 lot
	assert.Equal(t, "50", gold.LossAt(5.0, 0.1).Round(2).String())
	assert.Equal(t, "GOLD", gold.Broker)
}

func TestBrokerSymbols(t *testing.T) {
	m := table().BrokerSymbols()
	assert.Equal(t, "XAUUSD", m["GOLD"])
	assert.Equal(t, []string{"EURUSD", "XAUUSD"}, table().Symbols())
}
