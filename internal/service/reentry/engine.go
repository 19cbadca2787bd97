// Package reentry runs the SL-hunt, TP-continuation and exit-continuation
// chain state machine.
//
// A chain follows one trade lineage. While its trade is open the chain is
// ARMED. When the trade leaves the market on its stop the chain becomes an
// SL hunt waiting for price to come back through the stop; on its target it
// becomes a TP continuation waiting for price to run past the target. When
// the trigger condition holds and the trend still agrees, a same-direction
// trade is opened one level deeper and the chain re-arms on it.
//
// A trade closed early by an exit or reversal alert gets a fresh
// exit-continuation chain that waits for price to run past the exit price
// and re-enters at the same depth.
package reentry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ZepixTrader/internal/domain/errs"
	"ZepixTrader/internal/domain/models"
	"ZepixTrader/internal/domain/repository"
	"ZepixTrader/internal/service/control"
	"ZepixTrader/internal/service/ledger"
	"ZepixTrader/internal/service/market"
	"ZepixTrader/pkg/id"
	"ZepixTrader/pkg/logger"
)

type EventKind string

const (
	PriceTick    EventKind = "price_tick"
	StopFilled   EventKind = "stop_filled"
	TargetFilled EventKind = "target_filled"
	TradeClosed  EventKind = "trade_closed"
	Opposite     EventKind = "opposite"
)

type Event struct {
	Kind EventKind
	// TradeID scopes fill and close events to the chain's current trade.
	TradeID string
	// Price is the tick price for PriceTick and the fill level otherwise.
	Price float64
}

// Opener places the re-entry trade for chain at level. It returns an error
// matching errs.ErrRiskDenied when the risk gate refuses it.
type Opener interface {
	OpenReentry(ctx context.Context, chain models.ReentryChain, level int, price float64) (models.Trade, error)
}

// Aligner answers whether the trend agrees with a direction for a logic.
type Aligner interface {
	Aligned(symbol string, logic models.Logic, dir models.Direction) bool
}

// SettingsSource supplies the runtime chain switches.
type SettingsSource interface {
	Current() control.Settings
}

type Config struct {
	SLFactor         float64
	RecoveryWindow   time.Duration
	SLHuntOffsetPips float64
	TPGapPips        float64
}

type Engine struct {
	ledger      *ledger.Ledger
	trend       Aligner
	instruments *market.Table
	settings    SettingsSource
	opener      Opener
	notifier    repository.Notifier
	metrics     repository.Metrics
	logger      *logger.Logger
	now         func() time.Time
	cfg         Config
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithNotifier(n repository.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithMetrics(m repository.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func New(l *ledger.Ledger, trend Aligner, instruments *market.Table, settings SettingsSource, opener Opener, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		ledger:      l,
		trend:       trend,
		instruments: instruments,
		settings:    settings,
		opener:      opener,
		metrics:     repository.NopMetrics{},
		logger:      logger.Nop(),
		now:         time.Now,
		cfg:         cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Arm starts a chain on a freshly opened trade. The trade must already
// carry its chain id.
func (e *Engine) Arm(ctx context.Context, t models.Trade) (models.ReentryChain, error) {
	if t.ChainID == "" {
		return models.ReentryChain{}, errs.Invariant("reentry.arm", "trade has no chain id")
	}
	now := e.now()
	c := models.ReentryChain{
		ID:            t.ChainID,
		OriginTradeID: t.ID,
		TradeID:       t.ID,
		Symbol:        t.Symbol,
		Side:          t.Side,
		Logic:         t.Logic,
		State:         models.ChainArmed,
		MaxLevel:      e.maxLevel(),
		SLDistance:    abs(t.Entry - t.SL),
		TPDistance:    abs(t.TP - t.Entry),
		SLFactor:      e.cfg.SLFactor,
		ArmedTrend:    t.Side.Direction(),
		Active:        true,
		ArmedAt:       now,
		UpdatedAt:     now,
	}

	unlock := e.ledger.LockChain(c.ID)
	defer unlock()
	if err := e.ledger.SaveChain(ctx, c); err != nil {
		return c, err
	}
	e.metrics.RecordChain("", string(c.State))
	e.logger.Info("chain armed",
		logger.String("chain_id", c.ID), logger.String("trade_id", t.ID),
		logger.String("symbol", c.Symbol), logger.String("side", string(c.Side)))
	return c, nil
}

// ArmExitContinuation starts watching a trade that an alert closed early.
// The new chain begins a fresh lineage at level 0 with the closed trade's
// distances and is pending from the close price at once. It reports false
// when the kind is switched off or an exit continuation on the same symbol
// and side is already waiting.
func (e *Engine) ArmExitContinuation(ctx context.Context, t models.Trade) (models.ReentryChain, bool, error) {
	if t.IsOpen() || !t.CloseReason.IsEarlyExit() || !e.kindEnabled(models.ChainExitContinuation) {
		return models.ReentryChain{}, false, nil
	}
	for _, c := range e.ledger.ActiveChains(t.Symbol) {
		if c.Kind == models.ChainExitContinuation && c.Side == t.Side {
			return c, false, nil
		}
	}

	now := e.now()
	c := models.ReentryChain{
		ID:            id.Chain(t.Symbol),
		OriginTradeID: t.ID,
		TradeID:       t.ID,
		Symbol:        t.Symbol,
		Side:          t.Side,
		Logic:         t.Logic,
		Kind:          models.ChainExitContinuation,
		State:         models.ChainHit,
		MaxLevel:      e.maxLevel(),
		SLDistance:    abs(t.Entry - t.SL),
		TPDistance:    abs(t.TP - t.Entry),
		SLFactor:      e.cfg.SLFactor,
		ArmedTrend:    t.Side.Direction(),
		Active:        true,
		PendingPrice:  t.ClosePrice,
		PendingSince:  now,
		ArmedAt:       now,
		UpdatedAt:     now,
	}

	unlock := e.ledger.LockChain(c.ID)
	defer unlock()
	if err := e.ledger.SaveChain(ctx, c); err != nil {
		return c, false, err
	}
	e.metrics.RecordChain(string(c.Kind), string(c.State))
	e.logger.Info("exit continuation armed",
		logger.String("chain_id", c.ID), logger.String("trade_id", t.ID),
		logger.String("reason", string(t.CloseReason)), logger.Float64("exit_price", t.ClosePrice))
	return c, true, nil
}

// Apply is the single transition function. It holds the chain lock for the
// whole transition, including any re-entry order, so two ticks can never
// both fire the same chain. Events for inactive or unknown chains are
// ignored.
func (e *Engine) Apply(ctx context.Context, chainID string, ev Event) (models.ReentryChain, error) {
	unlock := e.ledger.LockChain(chainID)
	defer unlock()

	c, ok := e.ledger.Chain(chainID)
	if !ok || !c.Active {
		return c, nil
	}

	switch ev.Kind {
	case Opposite:
		return e.expire(ctx, c, models.ExpireOpposite)
	case TradeClosed:
		if ev.TradeID != c.TradeID {
			return c, nil
		}
		return e.expire(ctx, c, models.ExpireClosed)
	case StopFilled:
		return e.onFill(ctx, c, ev, models.ChainSLHunt)
	case TargetFilled:
		return e.onFill(ctx, c, ev, models.ChainTPContinuation)
	case PriceTick:
		return e.onTick(ctx, c, ev.Price)
	default:
		return c, errs.Invariant("reentry.apply", fmt.Sprintf("unknown event %q", ev.Kind))
	}
}

func (e *Engine) onFill(ctx context.Context, c models.ReentryChain, ev Event, kind models.ChainKind) (models.ReentryChain, error) {
	if ev.TradeID != c.TradeID || c.Pending() {
		return c, nil
	}
	if !e.kindEnabled(kind) {
		c.Kind = kind
		return e.expire(ctx, c, models.ExpireDisabled)
	}
	c.MaxLevel = e.maxLevel()
	if c.Level >= c.MaxLevel {
		c.Kind = kind
		return e.expire(ctx, c, models.ExpireMaxLevel)
	}

	now := e.now()
	c.Kind = kind
	c.PendingPrice = ev.Price
	c.PendingSince = now
	c.UpdatedAt = now
	if kind == models.ChainTPContinuation {
		c.State = models.ChainHit
	} else {
		c.State = models.ChainArmed
	}
	if err := e.ledger.SaveChain(ctx, c); err != nil {
		return c, err
	}
	e.metrics.RecordChain(string(kind), string(c.State))
	e.logger.Info("chain waiting for re-entry",
		logger.String("chain_id", c.ID), logger.String("kind", string(kind)),
		logger.Float64("level_price", ev.Price), logger.Int("level", c.Level))
	return c, nil
}

func (e *Engine) onTick(ctx context.Context, c models.ReentryChain, price float64) (models.ReentryChain, error) {
	if !c.Pending() {
		return c, nil
	}
	if e.cfg.RecoveryWindow > 0 && e.now().Sub(c.PendingSince) > e.cfg.RecoveryWindow {
		return e.expire(ctx, c, models.ExpireWindow)
	}
	if !e.kindEnabled(c.Kind) {
		return e.expire(ctx, c, models.ExpireDisabled)
	}
	if c.Kind != models.ChainExitContinuation && c.Level >= e.maxLevel() {
		c.MaxLevel = e.maxLevel()
		return e.expire(ctx, c, models.ExpireMaxLevel)
	}
	if !e.triggered(c, price) {
		return c, nil
	}
	if !e.trend.Aligned(c.Symbol, c.Logic, c.ArmedTrend) {
		return e.expire(ctx, c, models.ExpireMisaligned)
	}

	if c.Kind == models.ChainSLHunt {
		c.State = models.ChainTriggered
		e.metrics.RecordChain(string(c.Kind), string(c.State))
	}

	level := c.Level + 1
	if c.Kind == models.ChainExitContinuation {
		// An early exit did not lose a level.
		level = c.Level
	}
	t, err := e.opener.OpenReentry(ctx, c, level, price)
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrRiskDenied):
		e.logger.Warn("re-entry denied by risk gate",
			logger.String("chain_id", c.ID), logger.String("reason", errs.ReasonOf(err)))
		return e.expire(ctx, c, models.ExpireRiskDenied)
	case errors.Is(err, errs.ErrTransient):
		// Stay pending; the next tick retries inside the recovery window.
		e.logger.Warn("re-entry deferred", logger.String("chain_id", c.ID), logger.Error(err))
		return c, err
	default:
		e.logger.Error("re-entry order failed", logger.String("chain_id", c.ID), logger.Error(err))
		return e.expire(ctx, c, models.ExpireOrderFailed)
	}

	now := e.now()
	c.Level = level
	c.TradeID = t.ID
	c.State = models.ChainReentered
	c.PendingPrice = 0
	c.PendingSince = time.Time{}
	c.UpdatedAt = now
	e.metrics.RecordChain(string(c.Kind), string(c.State))
	e.notify(ctx, c, models.EventChainAdvanced,
		fmt.Sprintf("%s %s re-entered at level %d @ %.5f", c.Kind, c.Symbol, c.Level, t.Entry))

	c.MaxLevel = e.maxLevel()
	if c.Level >= c.MaxLevel {
		return e.expire(ctx, c, models.ExpireMaxLevel)
	}
	c.State = models.ChainArmed
	if err := e.ledger.SaveChain(ctx, c); err != nil {
		return c, err
	}
	return c, nil
}

// triggered compares price against the pending level. An SL hunt needs price
// back through the stop by the offset; both continuations need price past
// the target or exit price by the gap.
func (e *Engine) triggered(c models.ReentryChain, price float64) bool {
	inst, ok := e.instruments.Lookup(c.Symbol)
	if !ok {
		return false
	}
	pips := e.cfg.TPGapPips
	if c.Kind == models.ChainSLHunt {
		pips = e.cfg.SLHuntOffsetPips
	}
	buffer := inst.Distance(pips)
	if c.Side == models.Buy {
		return price >= c.PendingPrice+buffer
	}
	return price <= c.PendingPrice-buffer
}

func (e *Engine) kindEnabled(kind models.ChainKind) bool {
	s := e.settings.Current()
	switch kind {
	case models.ChainSLHunt:
		return s.SLHuntEnabled
	case models.ChainExitContinuation:
		return s.ExitContinuationEnabled
	default:
		return s.TPContinuationEnabled
	}
}

// maxLevel is read on every transition so a runtime change reaches chains
// that are already live.
func (e *Engine) maxLevel() int {
	return e.settings.Current().MaxChainLevels
}

func (e *Engine) expire(ctx context.Context, c models.ReentryChain, reason string) (models.ReentryChain, error) {
	c.Active = false
	c.State = models.ChainExpired
	c.ExpireReason = reason
	c.UpdatedAt = e.now()
	if err := e.ledger.SaveChain(ctx, c); err != nil {
		return c, err
	}
	e.metrics.RecordChain(string(c.Kind), string(c.State))
	e.logger.Info("chain expired",
		logger.String("chain_id", c.ID), logger.String("reason", reason), logger.Int("level", c.Level))
	e.notify(ctx, c, models.EventChainExpired, fmt.Sprintf("chain %s expired: %s", c.ID, reason))
	return c, nil
}

// DeactivateOpposing synchronously expires every active chain on symbol
// whose direction differs from dir. When it returns no such chain can fire.
func (e *Engine) DeactivateOpposing(ctx context.Context, symbol string, dir models.Direction) (int, error) {
	n := 0
	var firstErr error
	for _, c := range e.ledger.ActiveChains(symbol) {
		if c.Side.Direction() == dir {
			continue
		}
		got, err := e.Apply(ctx, c.ID, Event{Kind: Opposite})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !got.Active {
			n++
		}
	}
	return n, firstErr
}

// Tick feeds price to every pending chain on symbol.
func (e *Engine) Tick(ctx context.Context, symbol string, price float64) error {
	var firstErr error
	for _, c := range e.ledger.PendingChains() {
		if c.Symbol != symbol {
			continue
		}
		if _, err := e.Apply(ctx, c.ID, Event{Kind: PriceTick, Price: price}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *Engine) notify(ctx context.Context, c models.ReentryChain, typ models.EventType, msg string) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, models.Event{
		Type:    typ,
		Symbol:  c.Symbol,
		TradeID: c.TradeID,
		ChainID: c.ID,
		Message: msg,
		Fields: map[string]string{
			"kind":   string(c.Kind),
			"level":  fmt.Sprint(c.Level),
			"reason": c.ExpireReason,
		},
		At: e.now(),
	})
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
