// Package risk sizes trades and enforces loss caps.
package risk

import (
	"math"

	"github.com/shopspring/decimal"

	"ZepixTrader/internal/domain/models"
	"ZepixTrader/internal/service/market"
	"ZepixTrader/pkg/config"
)

// Denial reasons.
const (
	DailyCapExceeded    = "DailyCapExceeded"
	LifetimeCapExceeded = "LifetimeCapExceeded"
	SymbolCapExceeded   = "SymbolCapExceeded"
	UnknownSymbol       = "UnknownSymbol"
	InvalidStop         = "InvalidStop"
)

// Overrides replace tier caps when positive.
type Overrides struct {
	DailyCap    float64
	LifetimeCap float64
}

type Limits struct {
	Tier        string          `json:"tier"`
	Lot         float64         `json:"lot"`
	DailyCap    decimal.Decimal `json:"daily_cap"`
	LifetimeCap decimal.Decimal `json:"lifetime_cap"`
	PerTradeCap decimal.Decimal `json:"per_trade_cap"`
}

// Proposal is a trade the caller wants to place.
type Proposal struct {
	Symbol     string
	SLDistance float64 // price units
	Balance    float64
}

type Decision struct {
	Approved  bool
	Lot       float64
	Reason    string
	WorstCase decimal.Decimal
	Limits    Limits
}

// Gate is stateless: every input arrives through Evaluate.
type Gate struct {
	tiers       []config.RiskTier
	volRisk     map[string]float64
	instruments *market.Table
	overrides   func() Overrides
}

func NewGate(tiers []config.RiskTier, volRisk map[string]float64, instruments *market.Table, overrides func() Overrides) *Gate {
	if overrides == nil {
		overrides = func() Overrides { return Overrides{} }
	}
	return &Gate{tiers: tiers, volRisk: volRisk, instruments: instruments, overrides: overrides}
}

// TierFor picks the highest tier whose minimum balance is met.
func (g *Gate) TierFor(balance float64) config.RiskTier {
	tier := g.tiers[0]
	for _, t := range g.tiers {
		if balance >= t.MinBalance {
			tier = t
		}
	}
	return tier
}

// Limits resolves the caps in force for balance.
func (g *Gate) Limits(balance float64) Limits {
	tier := g.TierFor(balance)
	daily, lifetime := tier.DailyLossLimit, tier.MaxTotalLoss
	if o := g.overrides(); o.DailyCap > 0 || o.LifetimeCap > 0 {
		if o.DailyCap > 0 {
			daily = o.DailyCap
		}
		if o.LifetimeCap > 0 {
			lifetime = o.LifetimeCap
		}
	}
	return Limits{
		Tier:        tier.Name,
		Lot:         tier.Lot,
		DailyCap:    decimal.NewFromFloat(daily),
		LifetimeCap: decimal.NewFromFloat(lifetime),
		PerTradeCap: decimal.NewFromFloat(tier.PerTradeCap),
	}
}

// LotFor returns the fixed lot of the balance tier, bounded by the
// instrument's lot ceiling.
func (g *Gate) LotFor(inst market.Instrument, balance float64) float64 {
	lot := g.TierFor(balance).Lot
	if inst.MaxLots > 0 && lot > inst.MaxLots {
		lot = inst.MaxLots
	}
	return lot
}

// StopDistance sizes the initial stop so the loss at the tier lot equals
// the volatility budget, never tighter than the instrument minimum.
func (g *Gate) StopDistance(inst market.Instrument, balance float64) float64 {
	tier := g.TierFor(balance)
	lot := g.LotFor(inst, balance)

	budget := g.volRisk[inst.Volatility] * tier.RiskMultiplier
	if tier.PerTradeCap > 0 {
		budget = math.Min(budget, tier.PerTradeCap)
	}

	pips := inst.MinSLPips
	if budget > 0 && lot > 0 {
		pips = math.Max(budget/(inst.PipValue*lot), inst.MinSLPips)
	}
	return inst.Round(inst.Distance(pips))
}

// Evaluate approves p with a lot size or denies it with a reason. It reads
// state and never mutates anything.
func (g *Gate) Evaluate(p Proposal, state models.RiskState) Decision {
	inst, ok := g.instruments.Lookup(p.Symbol)
	if !ok {
		return Decision{Reason: UnknownSymbol}
	}
	if p.SLDistance <= 0 {
		return Decision{Reason: InvalidStop}
	}

	limits := g.Limits(p.Balance)
	lot := g.LotFor(inst, p.Balance)
	worst := inst.LossAt(p.SLDistance, lot)
	d := Decision{Lot: lot, WorstCase: worst, Limits: limits}

	symbolCap := limits.PerTradeCap
	if inst.MaxLoss > 0 {
		symbolCap = decimal.NewFromFloat(inst.MaxLoss)
	}

	switch {
	case state.DailyLoss.Add(worst).GreaterThan(limits.DailyCap):
		d.Reason = DailyCapExceeded
	case state.LifetimeLoss.Add(worst).GreaterThan(limits.LifetimeCap):
		d.Reason = LifetimeCapExceeded
	case symbolCap.IsPositive() && worst.GreaterThan(symbolCap):
		d.Reason = SymbolCapExceeded
	default:
		d.Approved = true
	}
	return d
}
