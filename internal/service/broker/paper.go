package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"ZepixTrader/internal/domain/errs"
	"ZepixTrader/internal/domain/models"
	"ZepixTrader/internal/domain/repository"
	"ZepixTrader/internal/service/market"
	"ZepixTrader/pkg/logger"
)

// PriceSource yields the latest known price for a symbol.
type PriceSource interface {
	Price(symbol string) (float64, bool)
}

type paperPosition struct {
	symbol string
	side   models.Side
	lot    float64
	entry  float64
}

// Paper fills every order at the current quote and settles closes against
// an in-memory balance. Used when trading.simulate_orders or
// broker.mode=paper is set.
type Paper struct {
	mu          sync.Mutex
	prices      PriceSource
	instruments *market.Table
	balance     decimal.Decimal
	positions   map[string]paperPosition
	seq         int
	logger      *logger.Logger
}

func NewPaper(balance float64, prices PriceSource, instruments *market.Table, lgr *logger.Logger) *Paper {
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &Paper{
		prices:      prices,
		instruments: instruments,
		balance:     decimal.NewFromFloat(balance),
		positions:   make(map[string]paperPosition),
		logger:      lgr,
	}
}

func (p *Paper) PlaceOrder(_ context.Context, req repository.OrderRequest) (repository.OrderResult, error) {
	price, ok := p.prices.Price(req.Symbol)
	if !ok {
		return repository.OrderResult{}, errs.Transient("paper.place_order", fmt.Errorf("no price for %s", req.Symbol))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	ticket := fmt.Sprintf("P%06d", p.seq)
	p.positions[ticket] = paperPosition{symbol: req.Symbol, side: req.Side, lot: req.Lot, entry: price}
	p.logger.Info("paper order filled",
		logger.String("ticket", ticket), logger.String("symbol", req.Symbol),
		logger.String("side", string(req.Side)), logger.Float64("price", price))
	return repository.OrderResult{Ticket: ticket, FillPrice: price}, nil
}

func (p *Paper) ClosePosition(_ context.Context, ticket, symbol string, _ float64) (float64, error) {
	price, ok := p.prices.Price(symbol)
	if !ok {
		return 0, errs.Transient("paper.close_position", fmt.Errorf("no price for %s", symbol))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[ticket]
	if !ok {
		return 0, errs.ErrAlreadyClosed
	}
	delete(p.positions, ticket)

	if inst, ok := p.instruments.Lookup(pos.symbol); ok {
		p.balance = p.balance.Add(inst.PnL(pos.side, pos.entry, price, pos.lot))
	}
	return price, nil
}

func (p *Paper) GetPrice(_ context.Context, symbol string) (float64, error) {
	price, ok := p.prices.Price(symbol)
	if !ok {
		return 0, errs.Transient("paper.get_price", fmt.Errorf("no price for %s", symbol))
	}
	return price, nil
}

func (p *Paper) Balance(context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance.InexactFloat64(), nil
}

// Open reports the number of open paper positions.
func (p *Paper) Open() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.positions)
}
