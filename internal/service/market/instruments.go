// Package market holds per-symbol trading constants and pip arithmetic.
package market

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"ZepixTrader/internal/domain/models"
	"ZepixTrader/pkg/config"
)

type Instrument struct {
	Symbol     string
	Broker     string
	Volatility string
	PipSize    float64
	PipValue   float64 // account currency per pip per standard lot
	MaxLots    float64
	MinSLPips  float64
	MaxLoss    float64
}

// Pips converts a price distance to pips.
func (i Instrument) Pips(distance float64) float64 {
	return math.Abs(distance) / i.PipSize
}

// Distance converts pips to a price distance.
func (i Instrument) Distance(pips float64) float64 {
	return pips * i.PipSize
}

// LossAt is the account-currency value of a move of distance at lot size.
func (i Instrument) LossAt(distance, lot float64) decimal.Decimal {
	return decimal.NewFromFloat(i.Pips(distance)).Round(1).
		Mul(decimal.NewFromFloat(i.PipValue)).
		Mul(decimal.NewFromFloat(lot)).
		Round(2)
}

// PnL is the realized result of closing side at exit after entering at entry.
func (i Instrument) PnL(side models.Side, entry, exit, lot float64) decimal.Decimal {
	move := (exit - entry) * side.Sign()
	pips := decimal.NewFromFloat(move / i.PipSize).Round(1)
	return pips.Mul(decimal.NewFromFloat(i.PipValue)).
		Mul(decimal.NewFromFloat(lot)).
		Round(2)
}

// Round snaps a price to a tenth of a pip.
func (i Instrument) Round(price float64) float64 {
	step := i.PipSize / 10
	return math.Round(price/step) * step
}

// Table maps alert symbols to instruments. Read-only after construction.
type Table struct {
	bySymbol map[string]Instrument
}

func NewTable(symbols map[string]config.Symbol) *Table {
	t := &Table{bySymbol: make(map[string]Instrument, len(symbols))}
	for name, s := range symbols {
		t.bySymbol[name] = Instrument{
			Symbol:     name,
			Broker:     s.BrokerSymbol(name),
			Volatility: s.Volatility,
			PipSize:    s.PipSize,
			PipValue:   s.PipValue,
			MaxLots:    s.MaxLots,
			MinSLPips:  s.MinSLPips,
			MaxLoss:    s.MaxLoss,
		}
	}
	return t
}

func (t *Table) Lookup(symbol string) (Instrument, bool) {
	i, ok := t.bySymbol[symbol]
	return i, ok
}

func (t *Table) Symbols() []string {
	out := make([]string, 0, len(t.bySymbol))
	for s := range t.bySymbol {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// BrokerSymbols maps broker names back to alert symbols.
func (t *Table) BrokerSymbols() map[string]string {
	out := make(map[string]string, len(t.bySymbol))
	for s, i := range t.bySymbol {
		out[i.Broker] = s
	}
	return out
}
