package models

import "time"

type TrendMode string

const (
	TrendAuto   TrendMode = "AUTO"
	TrendManual TrendMode = "MANUAL"
)

type TrendRecord struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"tf"`
	Direction Direction `json:"direction"`
	Mode      TrendMode `json:"mode"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is the persisted engine state loaded at startup.
type Snapshot struct {
	OpenTrades   []Trade
	ActiveChains []ReentryChain
	Risk         *RiskState
	Trends       []TrendRecord
}
