package pricefeed

import (
	"context"

	"ZepixTrader/internal/domain/models"
	"ZepixTrader/internal/domain/repository"
	"ZepixTrader/pkg/logger"
)

// QuoteProcessor accepts streamed quotes.
type QuoteProcessor interface {
	Process(ctx context.Context, q models.Quote) error
}

// Feed keeps a QuoteStream connected and pushes its quotes downstream.
type Feed struct {
	stream  repository.QuoteStream
	proc    QuoteProcessor
	symbols []string
	logger  *logger.Logger
	// set once the first subscription went through; Reconnect resubscribes after that
	subscribed bool
}

func NewFeed(stream repository.QuoteStream, proc QuoteProcessor, symbols []string, lgr *logger.Logger) *Feed {
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &Feed{stream: stream, proc: proc, symbols: symbols, logger: lgr}
}

// Run blocks until ctx is cancelled, reconnecting whenever the stream drops.
func (f *Feed) Run(ctx context.Context) error {
	defer f.stream.Close()

	if err := f.stream.Connect(ctx); err != nil {
		f.logger.Warn("quote feed initial connect failed", logger.Error(err))
		if err := f.reconnect(ctx); err != nil {
			return nil
		}
	} else if err := f.subscribe(ctx); err != nil {
		f.logger.Warn("quote feed subscribe failed", logger.Error(err))
		if err := f.reconnect(ctx); err != nil {
			return nil
		}
	}

	for {
		quotes, errc := f.stream.Read(ctx)
		f.drain(ctx, quotes)
		if ctx.Err() != nil {
			return nil
		}
		if err, ok := <-errc; ok && err != nil {
			f.logger.Warn("quote feed dropped", logger.Error(err))
		}
		if err := f.reconnect(ctx); err != nil {
			return nil
		}
	}
}

func (f *Feed) drain(ctx context.Context, quotes <-chan models.Quote) {
	for q := range quotes {
		if err := f.proc.Process(ctx, q); err != nil {
			f.logger.Debug("quote rejected", logger.String("symbol", q.Symbol), logger.Error(err))
		}
	}
}

func (f *Feed) subscribe(ctx context.Context) error {
	if err := f.stream.Subscribe(ctx, f.symbols); err != nil {
		return err
	}
	f.subscribed = true
	return nil
}

// reconnect retries until it succeeds or ctx ends.
func (f *Feed) reconnect(ctx context.Context) error {
	for {
		err := f.stream.Reconnect(ctx)
		if err == nil && !f.subscribed {
			err = f.subscribe(ctx)
		}
		if err == nil {
			f.logger.Info("quote feed reconnected")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("quote feed reconnect failed", logger.Error(err))
	}
}
