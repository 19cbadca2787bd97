// Package broker holds the execution venues: the MT5 REST bridge and a
// paper broker for simulation.
package broker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"ZepixTrader/internal/domain/errs"
	"ZepixTrader/internal/domain/repository"
	"ZepixTrader/internal/service/market"
	"ZepixTrader/internal/service/metrics"
	"ZepixTrader/pkg/logger"
)

type orderPayload struct {
	Symbol  string  `json:"symbol"`
	Side    string  `json:"side"`
	Lot     float64 `json:"lot"`
	SL      float64 `json:"sl"`
	TP      float64 `json:"tp"`
	Comment string  `json:"comment,omitempty"`
}

type orderResponse struct {
	Ticket string  `json:"ticket"`
	Price  float64 `json:"price"`
}

type closePayload struct {
	Symbol string  `json:"symbol"`
	Lot    float64 `json:"lot"`
}

type closeResponse struct {
	Price float64 `json:"price"`
}

type priceResponse struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
}

type accountResponse struct {
	Balance float64 `json:"balance"`
	Equity  float64 `json:"equity"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Bridge talks to the MT5 REST bridge. Orders are sent with broker symbols;
// callers use alert symbols.
type Bridge struct {
	client      *resty.Client
	instruments *market.Table
	logger      *logger.Logger
}

func NewBridge(baseURL, apiKey string, timeout time.Duration, instruments *market.Table, lgr *logger.Logger) *Bridge {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetError(&errorResponse{})
	if apiKey != "" {
		client.SetHeader("X-API-Key", apiKey)
	}
	if lgr == nil {
		lgr = logger.Nop()
	}
	metrics.Register()
	return &Bridge{client: client, instruments: instruments, logger: lgr}
}

func (b *Bridge) brokerSymbol(symbol string) string {
	if inst, ok := b.instruments.Lookup(symbol); ok {
		return inst.Broker
	}
	return symbol
}

func (b *Bridge) PlaceOrder(ctx context.Context, req repository.OrderRequest) (repository.OrderResult, error) {
	var out orderResponse
	resp, err := b.do(ctx, "place_order", b.client.R().
		SetBody(orderPayload{
			Symbol:  b.brokerSymbol(req.Symbol),
			Side:    string(req.Side),
			Lot:     req.Lot,
			SL:      req.SL,
			TP:      req.TP,
			Comment: req.Comment,
		}).
		SetResult(&out), http.MethodPost, "/orders")
	if err != nil {
		return repository.OrderResult{}, err
	}
	if out.Ticket == "" {
		return repository.OrderResult{}, fmt.Errorf("bridge: order accepted without ticket (status %d)", resp.StatusCode())
	}
	return repository.OrderResult{Ticket: out.Ticket, FillPrice: out.Price}, nil
}

// ClosePosition returns errs.ErrAlreadyClosed when the bridge no longer knows
// the ticket.
func (b *Bridge) ClosePosition(ctx context.Context, ticket, symbol string, lot float64) (float64, error) {
	var out closeResponse
	_, err := b.do(ctx, "close_position", b.client.R().
		SetPathParam("ticket", ticket).
		SetBody(closePayload{Symbol: b.brokerSymbol(symbol), Lot: lot}).
		SetResult(&out), http.MethodPost, "/positions/{ticket}/close")
	if err != nil {
		return 0, err
	}
	return out.Price, nil
}

// GetPrice returns the mid of bid and ask.
func (b *Bridge) GetPrice(ctx context.Context, symbol string) (float64, error) {
	var out priceResponse
	_, err := b.do(ctx, "get_price", b.client.R().
		SetPathParam("symbol", b.brokerSymbol(symbol)).
		SetResult(&out), http.MethodGet, "/prices/{symbol}")
	if err != nil {
		return 0, err
	}
	if out.Bid <= 0 || out.Ask <= 0 {
		return 0, errs.Transient("broker.get_price", fmt.Errorf("no quote for %s", symbol))
	}
	return (out.Bid + out.Ask) / 2, nil
}

func (b *Bridge) Balance(ctx context.Context) (float64, error) {
	var out accountResponse
	if _, err := b.do(ctx, "balance", b.client.R().SetResult(&out), http.MethodGet, "/account"); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

// do executes the request and maps failures: transport errors and 5xx are
// transient, 404 on a position is AlreadyClosed, other 4xx are rejections.
func (b *Bridge) do(ctx context.Context, op string, r *resty.Request, method, path string) (*resty.Response, error) {
	start := time.Now()
	resp, err := r.SetContext(ctx).Execute(method, path)
	metrics.BrokerLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.BrokerErrors.WithLabelValues(op).Inc()
		return resp, errs.Transient("broker."+op, err)
	}
	if !resp.IsError() {
		return resp, nil
	}

	metrics.BrokerErrors.WithLabelValues(op).Inc()
	msg := resp.Status()
	if e, ok := resp.Error().(*errorResponse); ok && e.Error != "" {
		msg = e.Error
	}
	b.logger.Warn("bridge call failed",
		logger.String("op", op), logger.Int("status", resp.StatusCode()), logger.String("error", msg))

	switch {
	case resp.StatusCode() == http.StatusNotFound && op == "close_position":
		return resp, errs.ErrAlreadyClosed
	case resp.StatusCode() >= 500, resp.StatusCode() == http.StatusTooManyRequests:
		return resp, errs.Transient("broker."+op, fmt.Errorf("bridge %d: %s", resp.StatusCode(), msg))
	default:
		return resp, fmt.Errorf("bridge %s rejected (%d): %s", op, resp.StatusCode(), msg)
	}
}
