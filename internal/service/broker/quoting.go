package broker

import (
	"context"

	"ZepixTrader/internal/domain/repository"
)

// Quoting serves prices from a streamed quote source when it has a fresh
// one and falls back to the wrapped broker otherwise.
type Quoting struct {
	repository.Broker
	quotes PriceSource
}

func NewQuoting(inner repository.Broker, quotes PriceSource) *Quoting {
	return &Quoting{Broker: inner, quotes: quotes}
}

func (q *Quoting) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if p, ok := q.quotes.Price(symbol); ok {
		return p, nil
	}
	return q.Broker.GetPrice(ctx, symbol)
}
