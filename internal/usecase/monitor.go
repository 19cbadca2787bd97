package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"ZepixTrader/internal/domain/models"
	drepo "ZepixTrader/internal/domain/repository"
	"ZepixTrader/internal/service/ledger"
	"ZepixTrader/pkg/logger"
)

// PriceSource fetches the current price of a symbol.
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// ChainTicker feeds price to pending chains.
type ChainTicker interface {
	Tick(ctx context.Context, symbol string, price float64) error
}

// MonitorStatus is the health view of the loop.
type MonitorStatus struct {
	LastTick time.Time      `json:"last_tick"`
	Ticks    int64          `json:"ticks"`
	Failing  map[string]int `json:"failing,omitempty"`
}

// PriceMonitor sweeps open trades and pending chains on a fixed interval.
// Ticks never overlap: the scheduled loop and TickNow share one guard.
type PriceMonitor struct {
	ledger    *ledger.Ledger
	closer    Closer
	chains    ChainTicker
	prices    PriceSource
	interval  func() time.Duration
	timeout   time.Duration
	threshold int
	notifier  drepo.Notifier
	metrics   drepo.Metrics
	logger    *logger.Logger
	now       func() time.Time

	running atomic.Bool
	ticks   atomic.Int64

	mu       sync.Mutex
	failures map[string]int
	lastTick time.Time
}

type MonitorOption func(*PriceMonitor)

func WithMonitorTimeout(d time.Duration) MonitorOption {
	return func(m *PriceMonitor) { m.timeout = d }
}

// WithFailureThreshold sets how many consecutive failed fetches on one
// symbol raise a degraded warning.
func WithFailureThreshold(n int) MonitorOption {
	return func(m *PriceMonitor) { m.threshold = n }
}

func WithMonitorNotifier(n drepo.Notifier) MonitorOption {
	return func(m *PriceMonitor) { m.notifier = n }
}

func WithMonitorMetrics(mt drepo.Metrics) MonitorOption {
	return func(m *PriceMonitor) { m.metrics = mt }
}

func WithMonitorLogger(l *logger.Logger) MonitorOption {
	return func(m *PriceMonitor) { m.logger = l }
}

func WithMonitorClock(now func() time.Time) MonitorOption {
	return func(m *PriceMonitor) { m.now = now }
}

func NewPriceMonitor(l *ledger.Ledger, closer Closer, chains ChainTicker, prices PriceSource, interval func() time.Duration, opts ...MonitorOption) *PriceMonitor {
	m := &PriceMonitor{
		ledger:    l,
		closer:    closer,
		chains:    chains,
		prices:    prices,
		interval:  interval,
		timeout:   5 * time.Second,
		threshold: 3,
		metrics:   drepo.NopMetrics{},
		logger:    logger.Nop(),
		now:       time.Now,
		failures:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run ticks until ctx is done. The interval is read before every wait so a
// runtime change applies from the next tick.
func (m *PriceMonitor) Run(ctx context.Context) error {
	m.logger.Info("price monitor started", logger.Duration("interval", m.interval()))
	timer := time.NewTimer(m.interval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("price monitor stopped")
			return ctx.Err()
		case <-timer.C:
			m.TickNow(ctx)
			timer.Reset(m.interval())
		}
	}
}

// TickNow runs one sweep unless one is already in flight, and reports
// whether it ran.
func (m *PriceMonitor) TickNow(ctx context.Context) bool {
	if !m.running.CompareAndSwap(false, true) {
		return false
	}
	defer m.running.Store(false)

	start := time.Now()
	m.tick(ctx)
	m.ticks.Add(1)
	m.metrics.RecordLatency("monitor_tick", time.Since(start).Seconds())

	m.mu.Lock()
	m.lastTick = m.now()
	m.mu.Unlock()
	return true
}

func (m *PriceMonitor) tick(ctx context.Context) {
	for _, symbol := range m.symbols() {
		if ctx.Err() != nil {
			return
		}
		price, ok := m.fetch(ctx, symbol)
		if !ok {
			continue
		}
		m.metrics.RecordLastPrice(symbol, price)

		for _, t := range m.ledger.OpenTradesFor(symbol, "") {
			var (
				reason models.CloseReason
				level  float64
			)
			switch {
			case t.StopHit(price):
				reason, level = models.CloseSLHit, t.SL
			case t.TargetHit(price):
				reason, level = models.CloseTPHit, t.TP
			default:
				continue
			}
			if _, _, err := m.closer.Close(ctx, t.ID, reason, level); err != nil {
				m.logger.Warn("monitor close failed",
					logger.String("trade_id", t.ID), logger.String("reason", string(reason)), logger.Error(err))
			}
		}

		if err := m.chains.Tick(ctx, symbol, price); err != nil {
			m.logger.Warn("chain tick failed", logger.String("symbol", symbol), logger.Error(err))
		}
	}
}

// symbols lists every symbol with an open trade or a pending chain.
func (m *PriceMonitor) symbols() []string {
	set := make(map[string]struct{})
	for _, t := range m.ledger.OpenTrades() {
		set[t.Symbol] = struct{}{}
	}
	for _, c := range m.ledger.PendingChains() {
		set[c.Symbol] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (m *PriceMonitor) fetch(ctx context.Context, symbol string) (float64, bool) {
	fctx, cancel := context.WithTimeout(ctx, m.timeout)
	price, err := m.prices.GetPrice(fctx, symbol)
	cancel()
	if err == nil && price <= 0 {
		err = fmt.Errorf("non-positive price %v", price)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.failures[symbol]++
		n := m.failures[symbol]
		m.metrics.RecordError("price_fetch")
		m.logger.Warn("price fetch failed, skipping symbol",
			logger.String("symbol", symbol), logger.Int("consecutive", n), logger.Error(err))
		if n == m.threshold && m.notifier != nil {
			m.notifier.Notify(ctx, models.Event{
				Type:    models.EventMonitorDegraded,
				Symbol:  symbol,
				Message: fmt.Sprintf("price for %s unavailable for %d consecutive ticks", symbol, n),
				Fields:  map[string]string{"error": err.Error()},
				At:      m.now(),
			})
		}
		return 0, false
	}
	if n := m.failures[symbol]; n > 0 {
		m.logger.Info("price fetch recovered", logger.String("symbol", symbol), logger.Int("after", n))
		delete(m.failures, symbol)
	}
	return price, true
}

func (m *PriceMonitor) Status() MonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := MonitorStatus{LastTick: m.lastTick, Ticks: m.ticks.Load()}
	if len(m.failures) > 0 {
		st.Failing = make(map[string]int, len(m.failures))
		for k, v := range m.failures {
			st.Failing[k] = v
		}
	}
	return st
}
