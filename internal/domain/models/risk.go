package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskState holds realized loss accumulators. Losses are stored as positive amounts.
type RiskState struct {
	DailyLoss     decimal.Decimal `json:"daily_loss"`
	LifetimeLoss  decimal.Decimal `json:"lifetime_loss"`
	DailyProfit   decimal.Decimal `json:"daily_profit"`
	DailyTrades   int             `json:"daily_trades"`
	TotalTrades   int             `json:"total_trades"`
	WinningTrades int             `json:"winning_trades"`
	TradingDay    string          `json:"trading_day"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (s RiskState) WinRate() float64 {
	if s.TotalTrades == 0 {
		return 0
	}
	return float64(s.WinningTrades) / float64(s.TotalTrades) * 100
}
