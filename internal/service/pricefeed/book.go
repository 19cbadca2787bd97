package pricefeed

import (
	"context"
	"time"

	"ZepixTrader/internal/domain/models"
	"ZepixTrader/internal/service/cache"
	"ZepixTrader/internal/service/metrics"
)

// Book keeps the latest quote per symbol. Quotes older than maxAge are not
// served.
type Book struct {
	quotes *cache.TTLCache[models.Quote]
}

func NewBook(maxAge time.Duration, now func() time.Time) *Book {
	metrics.Register()
	return &Book{quotes: cache.NewTTLCache[models.Quote](maxAge, now)}
}

// Observe records q. It never fails; the signature matches the quote
// pipeline sink.
func (b *Book) Observe(_ context.Context, q models.Quote) error {
	b.quotes.Set(q.Symbol, q)
	return nil
}

func (b *Book) Price(symbol string) (float64, bool) {
	q, age, ok := b.quotes.Get(symbol)
	if !ok {
		return 0, false
	}
	metrics.QuoteAge.WithLabelValues(symbol).Observe(age.Seconds())
	return q.Price, true
}

func (b *Book) Len() int { return b.quotes.Len() }
