package risk

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ZepixTrader/internal/domain/errs"
	"ZepixTrader/internal/domain/models"
	"ZepixTrader/internal/domain/repository"
	"ZepixTrader/pkg/logger"
	"ZepixTrader/pkg/util"
)

// Accountant is the single writer of RiskState.
type Accountant struct {
	mu      sync.Mutex
	state   models.RiskState
	store   repository.Store
	loc     *time.Location
	reset   time.Duration
	now     func() time.Time
	metrics repository.Metrics
	logger  *logger.Logger
}

type AccountantOption func(*Accountant)

func WithClock(now func() time.Time) AccountantOption {
	return func(a *Accountant) { a.now = now }
}

// WithDailyReset sets the trading-day boundary as an offset from local midnight.
func WithDailyReset(loc *time.Location, offset time.Duration) AccountantOption {
	return func(a *Accountant) {
		a.loc = loc
		a.reset = offset
	}
}

func WithMetrics(m repository.Metrics) AccountantOption {
	return func(a *Accountant) { a.metrics = m }
}

func WithLogger(l *logger.Logger) AccountantOption {
	return func(a *Accountant) { a.logger = l }
}

func NewAccountant(store repository.Store, opts ...AccountantOption) *Accountant {
	a := &Accountant{
		store:   store,
		loc:     time.UTC,
		now:     time.Now,
		metrics: repository.NopMetrics{},
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.state = models.RiskState{
		DailyLoss:    decimal.Zero,
		LifetimeLoss: decimal.Zero,
		DailyProfit:  decimal.Zero,
		TradingDay:   a.day(),
	}
	return a
}

func (a *Accountant) day() string {
	return util.TradingDay(a.now(), a.loc, a.reset)
}

// Load restores persisted accumulators. Negative values are clamped to zero.
func (a *Accountant) Load(s *models.RiskState) {
	if s == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.state = *s
	a.state.DailyLoss = nonNegative(s.DailyLoss)
	a.state.LifetimeLoss = nonNegative(s.LifetimeLoss)
	a.state.DailyProfit = nonNegative(s.DailyProfit)
	a.rollLocked()
	a.publishLocked()
}

// Snapshot returns the current state, rolled over to today's trading day.
func (a *Accountant) Snapshot() models.RiskState {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollLocked()
	return a.state
}

// Book records the realized result of one closed trade and persists it.
// The in-memory state is kept even when the store write fails.
func (a *Accountant) Book(ctx context.Context, pnl decimal.Decimal) (models.RiskState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.rollLocked()
	s := a.state
	s.TotalTrades++
	s.DailyTrades++
	if pnl.IsPositive() {
		s.DailyProfit = s.DailyProfit.Add(pnl)
		s.WinningTrades++
	} else {
		loss := pnl.Abs()
		s.DailyLoss = s.DailyLoss.Add(loss)
		s.LifetimeLoss = s.LifetimeLoss.Add(loss)
	}
	s.UpdatedAt = a.now()
	a.state = s
	a.publishLocked()

	if err := a.store.SaveRiskState(ctx, &s); err != nil {
		return s, errs.Transient("risk.book", err)
	}
	return s, nil
}

// Flush persists the current state.
func (a *Accountant) Flush(ctx context.Context) error {
	a.mu.Lock()
	s := a.state
	a.mu.Unlock()
	return a.store.SaveRiskState(ctx, &s)
}

func (a *Accountant) rollLocked() {
	today := a.day()
	if a.state.TradingDay == today {
		return
	}
	a.logger.Info("daily risk reset",
		logger.String("from", a.state.TradingDay), logger.String("to", today),
		logger.Decimal("daily_loss", a.state.DailyLoss))
	a.state.DailyLoss = decimal.Zero
	a.state.DailyProfit = decimal.Zero
	a.state.DailyTrades = 0
	a.state.TradingDay = today
	a.publishLocked()
}

func (a *Accountant) publishLocked() {
	a.metrics.SetRiskLoss("daily", a.state.DailyLoss.InexactFloat64())
	a.metrics.SetRiskLoss("lifetime", a.state.LifetimeLoss.InexactFloat64())
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
