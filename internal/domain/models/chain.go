package models

import "time"

type ChainKind string

const (
	ChainSLHunt         ChainKind = "SL_HUNT"
	ChainTPContinuation ChainKind = "TP_CONTINUATION"

	// ChainExitContinuation follows a trade that an exit or reversal alert
	// closed early and re-enters if price keeps going its way.
	ChainExitContinuation ChainKind = "EXIT_CONTINUATION"
)

type ChainState string

const (
	ChainArmed     ChainState = "ARMED"
	ChainTriggered ChainState = "TRIGGERED"
	ChainHit       ChainState = "HIT"
	ChainReentered ChainState = "REENTERED"
	ChainExpired   ChainState = "EXPIRED"
)

// Expiry reasons.
const (
	ExpireMaxLevel    = "max_level"
	ExpireOpposite    = "opposite_signal"
	ExpireMisaligned  = "trend_misaligned"
	ExpireRiskDenied  = "risk_denied"
	ExpireWindow      = "recovery_window"
	ExpireClosed      = "closed_by_exit"
	ExpireDisabled    = "disabled"
	ExpireOrderFailed = "order_failed"
	ExpireInvariant   = "invariant"
)

// ReentryChain follows one trade lineage. The kind is resolved by how the
// current trade leaves the market: a stop fill starts an SL hunt, a target
// fill starts a TP continuation.
type ReentryChain struct {
	ID            string     `json:"id"`
	OriginTradeID string     `json:"origin_trade_id"`
	TradeID       string     `json:"trade_id"`
	Symbol        string     `json:"symbol"`
	Side          Side       `json:"side"`
	Logic         Logic      `json:"logic"`
	Kind          ChainKind  `json:"kind,omitempty"`
	State         ChainState `json:"state"`
	Level         int        `json:"level"`
	MaxLevel      int        `json:"max_level"`
	// Distances of the originating trade, in price units.
	SLDistance float64 `json:"sl_distance"`
	TPDistance float64 `json:"tp_distance"`
	SLFactor   float64 `json:"sl_factor"`
	// Trend snapshot taken when the chain was armed.
	ArmedTrend   Direction `json:"armed_trend"`
	Active       bool      `json:"active"`
	PendingPrice float64   `json:"pending_price,omitempty"`
	PendingSince time.Time `json:"pending_since,omitempty"`
	ArmedAt      time.Time `json:"armed_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	ExpireReason string    `json:"expire_reason,omitempty"`
}

// Pending reports whether the chain waits on price after a fill.
func (c *ReentryChain) Pending() bool {
	return c.Active && !c.PendingSince.IsZero()
}

// SLDistanceAt is the stop distance used by a re-entry at the given level.
func (c *ReentryChain) SLDistanceAt(level int) float64 {
	d := c.SLDistance
	for i := 0; i < level; i++ {
		d *= c.SLFactor
	}
	return d
}
