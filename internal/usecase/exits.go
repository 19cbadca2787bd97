package usecase

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"ZepixTrader/internal/domain/errs"
	"ZepixTrader/internal/domain/models"
	drepo "ZepixTrader/internal/domain/repository"
	"ZepixTrader/internal/service/ledger"
	"ZepixTrader/pkg/logger"
)

// Closer is the executor's close path.
type Closer interface {
	Close(ctx context.Context, tradeID string, reason models.CloseReason, price float64) (models.Trade, bool, error)
}

// ChainDeactivator expires chains that oppose a new direction.
type ChainDeactivator interface {
	DeactivateOpposing(ctx context.Context, symbol string, dir models.Direction) (int, error)
}

// ExitHandler closes trades ahead of their stop on reversal, exit-warning,
// opposite-entry and trend-reversal alerts.
type ExitHandler struct {
	ledger *ledger.Ledger
	closer Closer
	chains ChainDeactivator
	store  drepo.Store
	logger *logger.Logger
}

func NewExitHandler(l *ledger.Ledger, closer Closer, chains ChainDeactivator, store drepo.Store, lgr *logger.Logger) *ExitHandler {
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &ExitHandler{ledger: l, closer: closer, chains: chains, store: store, logger: lgr}
}

// OnReversalAlert closes every open trade on symbol that opposes dir.
func (h *ExitHandler) OnReversalAlert(ctx context.Context, symbol string, dir models.Direction, price float64) ([]models.Trade, error) {
	reason := models.CloseReversalBearish
	if dir == models.Bull {
		reason = models.CloseReversalBullish
	}
	return h.closeOpposing(ctx, symbol, dir, reason, price)
}

// OnExitAppeared is the early warning: bullish closes sells, bearish closes buys.
func (h *ExitHandler) OnExitAppeared(ctx context.Context, symbol string, polarity models.Direction, price float64) ([]models.Trade, error) {
	reason := models.CloseExitAppearedBearish
	if polarity == models.Bull {
		reason = models.CloseExitAppearedBullish
	}
	return h.closeOpposing(ctx, symbol, polarity, reason, price)
}

// OnOppositeSignal closes trades against a new entry. The reason names the
// side of the new entry.
func (h *ExitHandler) OnOppositeSignal(ctx context.Context, symbol string, dir models.Direction, price float64) ([]models.Trade, error) {
	reason := models.CloseOppositeSignalSell
	if dir == models.Bull {
		reason = models.CloseOppositeSignalBuy
	}
	return h.closeOpposing(ctx, symbol, dir, reason, price)
}

// OnTrendReversal closes trades against a flipped trend.
func (h *ExitHandler) OnTrendReversal(ctx context.Context, symbol string, dir models.Direction, price float64) ([]models.Trade, error) {
	reason := models.CloseTrendReversalBearish
	if dir == models.Bull {
		reason = models.CloseTrendReversalBullish
	}
	return h.closeOpposing(ctx, symbol, dir, reason, price)
}

// closeOpposing deactivates opposing chains first so none can fire while
// their trades are being closed, then closes each opposing trade. A
// failure on one trade does not stop the others.
func (h *ExitHandler) closeOpposing(ctx context.Context, symbol string, dir models.Direction, reason models.CloseReason, price float64) ([]models.Trade, error) {
	if _, err := h.chains.DeactivateOpposing(ctx, symbol, dir); err != nil {
		h.logger.Warn("deactivate opposing chains", logger.String("symbol", symbol), logger.Error(err))
	}

	victims := h.ledger.OpenTradesFor(symbol, dir.Opposite().Side())
	closed := make([]models.Trade, 0, len(victims))
	var firstErr error
	for _, t := range victims {
		got, ok, err := h.closer.Close(ctx, t.ID, reason, price)
		if err != nil {
			h.logger.Error("close opposing trade",
				logger.String("trade_id", t.ID), logger.String("reason", string(reason)), logger.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			closed = append(closed, got)
		}
	}
	return closed, firstErr
}

// ExitStats summarizes early closes recorded since the given time.
func (h *ExitHandler) ExitStats(ctx context.Context, since time.Time) (models.ExitStats, error) {
	events, err := h.store.ListExitEvents(ctx, since)
	if err != nil {
		return models.ExitStats{}, errs.Transient("exits.stats", err)
	}
	st := models.ExitStats{ByReason: make(map[models.CloseReason]int), PnL: decimal.Zero}
	for _, e := range events {
		st.Total++
		st.ByReason[e.Reason]++
		st.PnL = st.PnL.Add(e.PnL)
		if e.PnL.IsPositive() {
			st.Saved++
		}
	}
	return st, nil
}
