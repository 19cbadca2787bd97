package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ZepixTrader/internal/domain/errs"
	"ZepixTrader/internal/domain/models"
	drepo "ZepixTrader/internal/domain/repository"
	"ZepixTrader/internal/service/ledger"
	"ZepixTrader/internal/service/market"
	"ZepixTrader/internal/service/reentry"
	"ZepixTrader/internal/service/risk"
	"ZepixTrader/pkg/id"
	"ZepixTrader/pkg/logger"
)

// ChainDriver is the part of the re-entry engine the executor drives.
type ChainDriver interface {
	Arm(ctx context.Context, t models.Trade) (models.ReentryChain, error)
	Apply(ctx context.Context, chainID string, ev reentry.Event) (models.ReentryChain, error)
	ArmExitContinuation(ctx context.Context, t models.Trade) (models.ReentryChain, bool, error)
}

// Executor owns the open and close paths shared by alerts, the monitor and
// the re-entry engine.
type Executor struct {
	broker      drepo.Broker
	ledger      *ledger.Ledger
	gate        *risk.Gate
	accountant  *risk.Accountant
	instruments *market.Table
	store       drepo.Store
	archive     drepo.TradeArchive
	notifier    drepo.Notifier
	metrics     drepo.Metrics
	logger      *logger.Logger
	ids         *id.Generator
	chains      ChainDriver

	timeout time.Duration
	rr      float64
	now     func() time.Time
}

type ExecutorOption func(*Executor)

func WithArchive(a drepo.TradeArchive) ExecutorOption {
	return func(e *Executor) { e.archive = a }
}

func WithNotifier(n drepo.Notifier) ExecutorOption {
	return func(e *Executor) { e.notifier = n }
}

func WithMetrics(m drepo.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

func WithLogger(l *logger.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// WithExternalTimeout bounds every broker call.
func WithExternalTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// WithRewardRatio sets TP distance as a multiple of SL distance.
func WithRewardRatio(rr float64) ExecutorOption {
	return func(e *Executor) { e.rr = rr }
}

func NewExecutor(
	broker drepo.Broker,
	l *ledger.Ledger,
	gate *risk.Gate,
	accountant *risk.Accountant,
	instruments *market.Table,
	store drepo.Store,
	opts ...ExecutorOption,
) *Executor {
	e := &Executor{
		broker:      broker,
		ledger:      l,
		gate:        gate,
		accountant:  accountant,
		instruments: instruments,
		store:       store,
		archive:     noArchive{},
		metrics:     drepo.NopMetrics{},
		logger:      logger.Nop(),
		timeout:     5 * time.Second,
		rr:          1,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.ids = id.NewGenerator(e.now)
	return e
}

// BindChains completes the executor/engine cycle: the engine opens
// re-entries through the executor and the executor feeds fills back.
func (e *Executor) BindChains(c ChainDriver) { e.chains = c }

// Open places a fresh entry for an admitted alert and arms its chain.
func (e *Executor) Open(ctx context.Context, a models.Alert, logic models.Logic) (models.Trade, error) {
	const op = "executor.open"
	inst, ok := e.instruments.Lookup(a.Symbol)
	if !ok {
		return models.Trade{}, errs.Validationf(op, "%s: %s", risk.UnknownSymbol, a.Symbol)
	}

	balance, err := e.balance(ctx)
	if err != nil {
		return models.Trade{}, err
	}
	price := a.Price
	if price <= 0 {
		if price, err = e.price(ctx, a.Symbol); err != nil {
			return models.Trade{}, err
		}
	}

	slDist := e.gate.StopDistance(inst, balance)
	tpDist := inst.Round(slDist * e.rr)

	t, err := e.place(ctx, op, inst, placement{
		side:    a.Direction.Side(),
		logic:   logic,
		price:   price,
		slDist:  slDist,
		tpDist:  tpDist,
		balance: balance,
		chainID: id.Chain(a.Symbol),
	})
	if err != nil {
		return t, err
	}

	if e.chains != nil {
		if _, err := e.chains.Arm(ctx, t); err != nil {
			// The trade is live and recorded; the chain is best effort.
			e.logger.Error("arm chain", logger.String("trade_id", t.ID), logger.Error(err))
			e.metrics.RecordError("chain_arm")
		}
	}
	return t, nil
}

// OpenReentry implements reentry.Opener.
func (e *Executor) OpenReentry(ctx context.Context, c models.ReentryChain, level int, price float64) (models.Trade, error) {
	const op = "executor.reentry"
	inst, ok := e.instruments.Lookup(c.Symbol)
	if !ok {
		return models.Trade{}, errs.Invariant(op, "chain on unknown symbol "+c.Symbol)
	}
	balance, err := e.balance(ctx)
	if err != nil {
		return models.Trade{}, err
	}
	return e.place(ctx, op, inst, placement{
		side:     c.Side,
		logic:    c.Logic,
		price:    price,
		slDist:   inst.Round(c.SLDistanceAt(level)),
		tpDist:   c.TPDistance,
		balance:  balance,
		chainID:  c.ID,
		level:    level,
		parentID: c.TradeID,
	})
}

type placement struct {
	side     models.Side
	logic    models.Logic
	price    float64
	slDist   float64
	tpDist   float64
	balance  float64
	chainID  string
	level    int
	parentID string
}

func (e *Executor) place(ctx context.Context, op string, inst market.Instrument, p placement) (models.Trade, error) {
	decision := e.gate.Evaluate(risk.Proposal{
		Symbol:     inst.Symbol,
		SLDistance: p.slDist,
		Balance:    p.balance,
	}, e.accountant.Snapshot())
	if !decision.Approved {
		e.metrics.RecordTrade("denied", inst.Symbol)
		e.notify(ctx, models.Event{
			Type:    models.EventRiskDenied,
			Symbol:  inst.Symbol,
			ChainID: p.chainID,
			Message: fmt.Sprintf("%s %s denied: %s", p.side, inst.Symbol, decision.Reason),
			Fields: map[string]string{
				"worst_case": decision.WorstCase.StringFixed(2),
				"tier":       decision.Limits.Tier,
				"level":      fmt.Sprint(p.level),
			},
		})
		return models.Trade{}, errs.Denied(op, decision.Reason)
	}

	sign := p.side.Sign()
	sl := inst.Round(p.price - sign*p.slDist)
	tp := inst.Round(p.price + sign*p.tpDist)
	if err := models.CheckLevels(p.side, p.price, sl, tp); err != nil {
		return models.Trade{}, errs.Invariant(op, err.Error())
	}

	start := time.Now()
	bctx, cancel := context.WithTimeout(ctx, e.timeout)
	res, err := e.broker.PlaceOrder(bctx, drepo.OrderRequest{
		Symbol:  inst.Symbol,
		Side:    p.side,
		Lot:     decision.Lot,
		SL:      sl,
		TP:      tp,
		Comment: fmt.Sprintf("%s L%d", p.logic, p.level),
	})
	cancel()
	e.metrics.RecordLatency("place_order", time.Since(start).Seconds())
	if err != nil {
		e.metrics.RecordError("place_order")
		return models.Trade{}, classify(op, err)
	}

	entry := p.price
	if res.FillPrice > 0 && res.FillPrice != p.price {
		// Keep the planned distances around the actual fill.
		entry = res.FillPrice
		sl = inst.Round(entry - sign*p.slDist)
		tp = inst.Round(entry + sign*p.tpDist)
	}

	t := models.Trade{
		ID:           e.ids.New(),
		Ticket:       res.Ticket,
		Symbol:       inst.Symbol,
		BrokerSymbol: inst.Broker,
		Side:         p.side,
		Entry:        entry,
		SL:           sl,
		TP:           tp,
		Lot:          decision.Lot,
		Logic:        p.logic,
		Status:       models.TradeOpen,
		OpenedAt:     e.now().UTC(),
		ChainID:      p.chainID,
		ChainLevel:   p.level,
		ParentID:     p.parentID,
	}
	if err := t.CheckLevels(); err != nil {
		return t, errs.Invariant(op, err.Error())
	}

	if err := e.ledger.SaveTrade(ctx, t); err != nil {
		e.logger.Error("trade placed but not recorded, flattening",
			logger.String("ticket", t.Ticket), logger.String("symbol", t.Symbol), logger.Error(err))
		e.flatten(ctx, t)
		return t, err
	}

	e.metrics.RecordTrade("opened", t.Symbol)
	e.logger.Info("trade opened",
		logger.String("trade_id", t.ID), logger.String("symbol", t.Symbol), logger.String("side", string(t.Side)),
		logger.Float64("entry", t.Entry), logger.Float64("sl", t.SL), logger.Float64("tp", t.TP),
		logger.Float64("lot", t.Lot), logger.Int("level", t.ChainLevel))
	e.notify(ctx, models.Event{
		Type:    models.EventTradeOpened,
		Symbol:  t.Symbol,
		TradeID: t.ID,
		ChainID: t.ChainID,
		Message: fmt.Sprintf("%s %s %.2f @ %v", t.Side, t.Symbol, t.Lot, t.Entry),
		Fields: map[string]string{
			"sl":    fmt.Sprint(t.SL),
			"tp":    fmt.Sprint(t.TP),
			"logic": string(t.Logic),
			"level": fmt.Sprint(t.ChainLevel),
		},
	})
	return t, nil
}

// flatten closes a position the ledger failed to record so the account
// never carries an untracked trade.
func (e *Executor) flatten(ctx context.Context, t models.Trade) {
	bctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if _, err := e.broker.ClosePosition(bctx, t.Ticket, t.Symbol, t.Lot); err != nil && !errors.Is(err, errs.ErrAlreadyClosed) {
		e.logger.Error("flatten untracked position", logger.String("ticket", t.Ticket), logger.Error(err))
		e.notify(ctx, models.Event{
			Type:    models.EventInvariant,
			Symbol:  t.Symbol,
			Message: fmt.Sprintf("untracked position %s on %s could not be closed", t.Ticket, t.Symbol),
		})
	}
}

// Close is the one close path. It is idempotent: a trade that is unknown
// or already closed returns closed=false and no error, with no ledger write
// and no notification. price is the level to book when the venue reports
// no fill price (the stop or target for organic fills).
func (e *Executor) Close(ctx context.Context, tradeID string, reason models.CloseReason, price float64) (models.Trade, bool, error) {
	t, closed, err := e.closeLocked(ctx, tradeID, reason, price)
	if err != nil || !closed {
		return t, closed, err
	}

	// Chain events run after the trade lock is released (lock order is
	// chain before trade).
	if e.chains == nil {
		return t, true, nil
	}
	if t.ChainID != "" {
		ev := reentry.Event{Kind: reentry.TradeClosed, TradeID: t.ID, Price: t.ClosePrice}
		switch reason {
		case models.CloseSLHit:
			ev = reentry.Event{Kind: reentry.StopFilled, TradeID: t.ID, Price: t.SL}
		case models.CloseTPHit:
			ev = reentry.Event{Kind: reentry.TargetFilled, TradeID: t.ID, Price: t.TP}
		}
		if _, err := e.chains.Apply(ctx, t.ChainID, ev); err != nil {
			e.logger.Warn("chain update after close",
				logger.String("chain_id", t.ChainID), logger.String("event", string(ev.Kind)), logger.Error(err))
		}
	}
	if reason.IsEarlyExit() {
		if _, _, err := e.chains.ArmExitContinuation(ctx, t); err != nil {
			e.logger.Warn("arm exit continuation", logger.String("trade_id", t.ID), logger.Error(err))
			e.metrics.RecordError("chain_arm")
		}
	}
	return t, true, nil
}

func (e *Executor) closeLocked(ctx context.Context, tradeID string, reason models.CloseReason, price float64) (models.Trade, bool, error) {
	const op = "executor.close"
	unlock := e.ledger.LockTrade(tradeID)
	defer unlock()

	t, ok := e.ledger.Trade(tradeID)
	if !ok || !t.IsOpen() {
		return t, false, nil
	}
	inst, ok := e.instruments.Lookup(t.Symbol)
	if !ok {
		return t, false, errs.Invariant(op, "trade on unknown symbol "+t.Symbol)
	}

	start := time.Now()
	bctx, cancel := context.WithTimeout(ctx, e.timeout)
	fill, err := e.broker.ClosePosition(bctx, t.Ticket, t.Symbol, t.Lot)
	cancel()
	e.metrics.RecordLatency("close_position", time.Since(start).Seconds())
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrAlreadyClosed):
		fill = 0
	default:
		e.metrics.RecordError("close_position")
		return t, false, classify(op, err)
	}

	closePrice := price
	if !reason.IsOrganic() && fill > 0 {
		closePrice = fill
	}
	if closePrice <= 0 {
		closePrice = fill
	}
	if closePrice <= 0 {
		if closePrice, err = e.price(ctx, t.Symbol); err != nil {
			return t, false, err
		}
	}

	t.Status = models.TradeClosed
	t.ClosePrice = closePrice
	t.ClosedAt = e.now().UTC()
	t.CloseReason = reason
	t.PnL = inst.PnL(t.Side, t.Entry, closePrice, t.Lot)

	if err := e.ledger.SaveTrade(ctx, t); err != nil {
		// The broker side is flat; the next close attempt sees
		// AlreadyClosed and records it.
		return t, false, err
	}

	if _, err := e.accountant.Book(ctx, t.PnL); err != nil {
		e.logger.Error("book realized pnl", logger.String("trade_id", t.ID), logger.Error(err))
	}
	if reason.IsEarlyExit() {
		e.recordExit(ctx, t)
	}
	if err := e.archive.ArchiveTrade(ctx, &t); err != nil {
		e.metrics.RecordError("archive")
		e.logger.Warn("archive trade", logger.String("trade_id", t.ID), logger.Error(err))
	}

	e.metrics.RecordTrade("closed", t.Symbol)
	e.logger.Info("trade closed",
		logger.String("trade_id", t.ID), logger.String("symbol", t.Symbol),
		logger.String("reason", string(reason)), logger.Float64("price", closePrice), logger.Decimal("pnl", t.PnL))
	e.notify(ctx, models.Event{
		Type:    models.EventTradeClosed,
		Symbol:  t.Symbol,
		TradeID: t.ID,
		ChainID: t.ChainID,
		Message: fmt.Sprintf("%s %s closed %s @ %v", t.Side, t.Symbol, reason, closePrice),
		Fields:  map[string]string{"pnl": t.PnL.StringFixed(2)},
	})
	return t, true, nil
}

func (e *Executor) recordExit(ctx context.Context, t models.Trade) {
	ev := models.ExitEvent{
		TradeID: t.ID,
		Symbol:  t.Symbol,
		Side:    t.Side,
		Reason:  t.CloseReason,
		Price:   t.ClosePrice,
		PnL:     t.PnL,
		At:      t.ClosedAt,
	}
	if err := e.store.SaveExitEvent(ctx, &ev); err != nil {
		e.logger.Warn("save exit event", logger.String("trade_id", t.ID), logger.Error(err))
	}
	if err := e.archive.ArchiveExit(ctx, &ev); err != nil {
		e.logger.Warn("archive exit event", logger.String("trade_id", t.ID), logger.Error(err))
	}
}

func (e *Executor) balance(ctx context.Context) (float64, error) {
	bctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	b, err := e.broker.Balance(bctx)
	if err != nil {
		return 0, classify("executor.balance", err)
	}
	return b, nil
}

func (e *Executor) price(ctx context.Context, symbol string) (float64, error) {
	bctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	p, err := e.broker.GetPrice(bctx, symbol)
	if err != nil {
		return 0, classify("executor.price", err)
	}
	if p <= 0 {
		return 0, errs.Transient("executor.price", fmt.Errorf("no price for %s", symbol))
	}
	return p, nil
}

func (e *Executor) notify(ctx context.Context, ev models.Event) {
	if e.notifier == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	e.notifier.Notify(ctx, ev)
}

// classify keeps taxonomy errors, marks timeouts transient and leaves
// venue rejections unclassified.
func classify(op string, err error) error {
	switch {
	case errs.KindOf(err) != "":
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return errs.Transient(op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

type noArchive struct{}

func (noArchive) ArchiveTrade(context.Context, *models.Trade) error    { return nil }
func (noArchive) ArchiveExit(context.Context, *models.ExitEvent) error { return nil }
