package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type TradeStatus string

const (
	TradeOpen   TradeStatus = "open"
	TradeClosed TradeStatus = "closed"
)

type CloseReason string

const (
	CloseSLHit                CloseReason = "SL_HIT"
	CloseTPHit                CloseReason = "TP_HIT"
	CloseReversalBullish      CloseReason = "REVERSAL_BULLISH"
	CloseReversalBearish      CloseReason = "REVERSAL_BEARISH"
	CloseExitAppearedBullish  CloseReason = "EXIT_APPEARED_BULLISH"
	CloseExitAppearedBearish  CloseReason = "EXIT_APPEARED_BEARISH"
	CloseOppositeSignalBuy    CloseReason = "OPPOSITE_SIGNAL_BUY"
	CloseOppositeSignalSell   CloseReason = "OPPOSITE_SIGNAL_SELL"
	CloseTrendReversalBullish CloseReason = "TREND_REVERSAL_BULLISH"
	CloseTrendReversalBearish CloseReason = "TREND_REVERSAL_BEARISH"
	CloseManual               CloseReason = "MANUAL"
)

// IsOrganic reports whether the close came from the venue filling SL or TP.
func (r CloseReason) IsOrganic() bool {
	return r == CloseSLHit || r == CloseTPHit
}

// IsEarlyExit reports whether an alert closed the trade ahead of its stop.
func (r CloseReason) IsEarlyExit() bool {
	return r != "" && !r.IsOrganic() && r != CloseManual
}

type Trade struct {
	ID           string          `json:"id"`
	Ticket       string          `json:"ticket"`
	Symbol       string          `json:"symbol"`
	BrokerSymbol string          `json:"broker_symbol"`
	Side         Side            `json:"side"`
	Entry        float64         `json:"entry"`
	SL           float64         `json:"sl"`
	TP           float64         `json:"tp"`
	Lot          float64         `json:"lot"`
	Logic        Logic           `json:"logic"`
	Status       TradeStatus     `json:"status"`
	OpenedAt     time.Time       `json:"opened_at"`
	ClosePrice   float64         `json:"close_price,omitempty"`
	ClosedAt     time.Time       `json:"closed_at,omitempty"`
	CloseReason  CloseReason     `json:"close_reason,omitempty"`
	PnL          decimal.Decimal `json:"pnl"`
	ChainID      string          `json:"chain_id,omitempty"`
	ChainLevel   int             `json:"chain_level"`
	ParentID     string          `json:"parent_id,omitempty"`
}

func (t *Trade) IsOpen() bool { return t.Status == TradeOpen }

// CheckLevels enforces SL below and TP above entry for buys, and the mirror for sells.
func (t *Trade) CheckLevels() error {
	return CheckLevels(t.Side, t.Entry, t.SL, t.TP)
}

func CheckLevels(side Side, entry, sl, tp float64) error {
	switch side {
	case Buy:
		if !(sl < entry && entry < tp) {
			return fmt.Errorf("buy levels out of order: sl=%v entry=%v tp=%v", sl, entry, tp)
		}
	case Sell:
		if !(tp < entry && entry < sl) {
			return fmt.Errorf("sell levels out of order: sl=%v entry=%v tp=%v", sl, entry, tp)
		}
	default:
		return fmt.Errorf("unknown side %q", side)
	}
	return nil
}

// StopHit reports whether price has crossed the stop loss.
func (t *Trade) StopHit(price float64) bool {
	if t.Side == Buy {
		return price <= t.SL
	}
	return price >= t.SL
}

// TargetHit reports whether price has crossed the take profit.
func (t *Trade) TargetHit(price float64) bool {
	if t.Side == Buy {
		return price >= t.TP
	}
	return price <= t.TP
}

type TradeFilter struct {
	Symbol string
	Status TradeStatus
	Since  time.Time
	Limit  int
}

// ExitEvent records a reversal or exit-warning close for reporting.
type ExitEvent struct {
	TradeID string          `json:"trade_id"`
	Symbol  string          `json:"symbol"`
	Side    Side            `json:"side"`
	Reason  CloseReason     `json:"reason"`
	Price   float64         `json:"price"`
	PnL     decimal.Decimal `json:"pnl"`
	At      time.Time       `json:"at"`
}

type ExitStats struct {
	Total    int                 `json:"total"`
	ByReason map[CloseReason]int `json:"by_reason"`
	PnL      decimal.Decimal     `json:"pnl"`
	Saved    int                 `json:"closed_in_profit"`
}
