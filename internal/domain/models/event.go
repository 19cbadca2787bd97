package models

import "time"

type EventType string

const (
	EventTradeOpened     EventType = "trade_opened"
	EventTradeClosed     EventType = "trade_closed"
	EventChainAdvanced   EventType = "chain_advanced"
	EventChainExpired    EventType = "chain_expired"
	EventRiskDenied      EventType = "risk_denied"
	EventAlertRejected   EventType = "alert_rejected"
	EventMonitorDegraded EventType = "monitor_degraded"
	EventInvariant       EventType = "invariant_violation"
	EventControl         EventType = "control"
)

// Event is a human readable notification.
type Event struct {
	Type    EventType         `json:"type"`
	Symbol  string            `json:"symbol,omitempty"`
	TradeID string            `json:"trade_id,omitempty"`
	ChainID string            `json:"chain_id,omitempty"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	At      time.Time         `json:"at"`
}
