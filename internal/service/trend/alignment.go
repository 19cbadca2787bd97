package trend

import "ZepixTrader/internal/domain/models"

// Reader is the read side of State used by alignment rules.
type Reader interface {
	Get(symbol string, tf models.Timeframe) (models.TrendRecord, bool)
}

// AlignmentRule decides whether the stored trends support trading dir
// under logic.
type AlignmentRule interface {
	Aligned(r Reader, symbol string, logic models.Logic, dir models.Direction) bool
}

// LogicRule requires the bias and trend timeframes of a logic to agree
// with each other and with dir.
//
//	LOGIC1, LOGIC2: 1h bias and 15m trend
//	LOGIC3:         1d bias and 1h trend
type LogicRule struct{}

func (LogicRule) Aligned(r Reader, symbol string, logic models.Logic, dir models.Direction) bool {
	var frames []models.Timeframe
	switch logic {
	case models.Logic1, models.Logic2:
		frames = []models.Timeframe{models.TF1h, models.TF15m}
	case models.Logic3:
		frames = []models.Timeframe{models.TF1d, models.TF1h}
	default:
		return false
	}
	for _, tf := range frames {
		rec, ok := r.Get(symbol, tf)
		if !ok || rec.Direction != dir {
			return false
		}
	}
	return true
}

// RuleFunc adapts a function to AlignmentRule.
type RuleFunc func(r Reader, symbol string, logic models.Logic, dir models.Direction) bool

func (f RuleFunc) Aligned(r Reader, symbol string, logic models.Logic, dir models.Direction) bool {
	return f(r, symbol, logic, dir)
}
