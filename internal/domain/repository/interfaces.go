package repository

import (
	"context"
	"time"

	"ZepixTrader/internal/domain/models"
)

// OrderRequest is a market order with attached stop and target.
type OrderRequest struct {
	Symbol  string
	Side    models.Side
	Lot     float64
	SL      float64
	TP      float64
	Comment string
}

type OrderResult struct {
	Ticket    string
	FillPrice float64
}

// Broker is the execution venue. ClosePosition returns errs.ErrAlreadyClosed
// for a position that is gone, which callers treat as success.
type Broker interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	ClosePosition(ctx context.Context, ticket, symbol string, lot float64) (float64, error)
	GetPrice(ctx context.Context, symbol string) (float64, error)
	Balance(ctx context.Context) (float64, error)
}

// Store is the durable record. A nil error means the write is visible to
// subsequent reads.
type Store interface {
	SaveTrade(ctx context.Context, t *models.Trade) error
	SaveChain(ctx context.Context, c *models.ReentryChain) error
	SaveRiskState(ctx context.Context, s *models.RiskState) error
	SaveTrend(ctx context.Context, r *models.TrendRecord) error
	SaveExitEvent(ctx context.Context, e *models.ExitEvent) error
	LoadSnapshot(ctx context.Context) (*models.Snapshot, error)
	ListTrades(ctx context.Context, f models.TradeFilter) ([]models.Trade, error)
	ListExitEvents(ctx context.Context, since time.Time) ([]models.ExitEvent, error)
	Health(ctx context.Context) error
	Close() error
}

// TradeArchive receives closed trades for offline analytics.
type TradeArchive interface {
	ArchiveTrade(ctx context.Context, t *models.Trade) error
	ArchiveExit(ctx context.Context, e *models.ExitEvent) error
}

// Notifier delivers events without blocking the caller.
type Notifier interface {
	Notify(ctx context.Context, e models.Event)
}

// EventSink is one destination behind the notifier.
type EventSink interface {
	Name() string
	Send(ctx context.Context, e models.Event) error
}

// QuoteStream delivers streamed prices.
type QuoteStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, symbols []string) error
	Read(ctx context.Context) (<-chan models.Quote, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

type Metrics interface {
	RecordAlert(category, result string)
	RecordTrade(event, symbol string)
	RecordChain(kind, state string)
	RecordError(kind string)
	SetOpenTrades(n int)
	SetRiskLoss(window string, amount float64)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordAlert(string, string)      {}
func (NopMetrics) RecordTrade(string, string)      {}
func (NopMetrics) RecordChain(string, string)      {}
func (NopMetrics) RecordError(string)              {}
func (NopMetrics) SetOpenTrades(int)               {}
func (NopMetrics) SetRiskLoss(string, float64)     {}
func (NopMetrics) RecordLastPrice(string, float64) {}
func (NopMetrics) RecordLatency(string, float64)   {}
