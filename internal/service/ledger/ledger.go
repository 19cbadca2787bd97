// Package ledger owns the in-memory view of trades and re-entry chains and
// writes every mutation through to the store.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"ZepixTrader/internal/domain/errs"
	"ZepixTrader/internal/domain/models"
	"ZepixTrader/internal/domain/repository"
	"ZepixTrader/pkg/logger"
)

// Lock order is chain before trade.
type Ledger struct {
	mu     sync.RWMutex
	trades map[string]models.Trade
	chains map[string]models.ReentryChain

	tradeLocks *KeyedMutex
	chainLocks *KeyedMutex

	store   repository.Store
	metrics repository.Metrics
	logger  *logger.Logger
}

func New(store repository.Store, metrics repository.Metrics, lgr *logger.Logger) *Ledger {
	if metrics == nil {
		metrics = repository.NopMetrics{}
	}
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &Ledger{
		trades:     make(map[string]models.Trade),
		chains:     make(map[string]models.ReentryChain),
		tradeLocks: NewKeyedMutex(),
		chainLocks: NewKeyedMutex(),
		store:      store,
		metrics:    metrics,
		logger:     lgr,
	}
}

// Load seeds open trades and active chains from a snapshot. Closed trades
// referenced by pending chains are fetched so the chain keeps its anchor.
func (l *Ledger) Load(ctx context.Context, snap *models.Snapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, t := range snap.OpenTrades {
		l.trades[t.ID] = t
	}
	for _, c := range snap.ActiveChains {
		l.chains[c.ID] = c
		if _, ok := l.trades[c.TradeID]; ok {
			continue
		}
		closed, err := l.store.ListTrades(ctx, models.TradeFilter{Symbol: c.Symbol, Status: models.TradeClosed, Limit: 50})
		if err != nil {
			return fmt.Errorf("load chain anchor %s: %w", c.ID, err)
		}
		for _, t := range closed {
			if t.ID == c.TradeID {
				l.trades[t.ID] = t
				break
			}
		}
	}
	l.metrics.SetOpenTrades(l.openCountLocked())
	return nil
}

func (l *Ledger) LockTrade(id string) func() { return l.tradeLocks.Lock(id) }

func (l *Ledger) LockChain(id string) func() { return l.chainLocks.Lock(id) }

func (l *Ledger) Trade(id string) (models.Trade, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.trades[id]
	return t, ok
}

func (l *Ledger) Chain(id string) (models.ReentryChain, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.chains[id]
	return c, ok
}

// OpenTrades returns open trades ordered by id (oldest first).
func (l *Ledger) OpenTrades() []models.Trade {
	return l.filterTrades(func(t models.Trade) bool { return t.IsOpen() })
}

// OpenTradesFor returns open trades on symbol, optionally restricted to side.
func (l *Ledger) OpenTradesFor(symbol string, side models.Side) []models.Trade {
	return l.filterTrades(func(t models.Trade) bool {
		return t.IsOpen() && t.Symbol == symbol && (side == "" || t.Side == side)
	})
}

func (l *Ledger) filterTrades(keep func(models.Trade) bool) []models.Trade {
	l.mu.RLock()
	out := make([]models.Trade, 0)
	for _, t := range l.trades {
		if keep(t) {
			out = append(out, t)
		}
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveChains returns active chains, optionally restricted to symbol.
func (l *Ledger) ActiveChains(symbol string) []models.ReentryChain {
	l.mu.RLock()
	out := make([]models.ReentryChain, 0)
	for _, c := range l.chains {
		if c.Active && (symbol == "" || c.Symbol == symbol) {
			out = append(out, c)
		}
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PendingChains are active chains waiting on price after a fill.
func (l *Ledger) PendingChains() []models.ReentryChain {
	all := l.ActiveChains("")
	out := all[:0]
	for _, c := range all {
		if c.Pending() {
			out = append(out, c)
		}
	}
	return out
}

// SaveTrade persists t and then updates memory. On store failure memory is
// left unchanged and a TransientExternalFailure is returned.
func (l *Ledger) SaveTrade(ctx context.Context, t models.Trade) error {
	if err := l.store.SaveTrade(ctx, &t); err != nil {
		return errs.Transient("ledger.save_trade", err)
	}

	l.mu.Lock()
	l.trades[t.ID] = t
	if !t.IsOpen() {
		l.pruneTradeLocked(t)
	}
	l.metrics.SetOpenTrades(l.openCountLocked())
	l.mu.Unlock()
	return nil
}

// SaveChain persists c and then updates memory. Inactive chains are
// evicted along with their closed trade.
func (l *Ledger) SaveChain(ctx context.Context, c models.ReentryChain) error {
	if err := l.store.SaveChain(ctx, &c); err != nil {
		return errs.Transient("ledger.save_chain", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.chains[c.ID]; ok && prev.TradeID != c.TradeID {
		l.dropClosedLocked(prev.TradeID)
	}
	if c.Active {
		l.chains[c.ID] = c
		return nil
	}
	delete(l.chains, c.ID)
	l.dropClosedLocked(c.TradeID)
	return nil
}

func (l *Ledger) dropClosedLocked(id string) {
	if t, ok := l.trades[id]; ok && !t.IsOpen() {
		delete(l.trades, id)
	}
}

// Closed trades stay only while an active chain still points at them.
func (l *Ledger) pruneTradeLocked(t models.Trade) {
	if t.ChainID != "" {
		if c, ok := l.chains[t.ChainID]; ok && c.Active && c.TradeID == t.ID {
			return
		}
	}
	delete(l.trades, t.ID)
}

func (l *Ledger) openCountLocked() int {
	n := 0
	for _, t := range l.trades {
		if t.IsOpen() {
			n++
		}
	}
	return n
}

// Flush rewrites every in-memory record to the store.
func (l *Ledger) Flush(ctx context.Context) error {
	l.mu.RLock()
	trades := make([]models.Trade, 0, len(l.trades))
	for _, t := range l.trades {
		trades = append(trades, t)
	}
	chains := make([]models.ReentryChain, 0, len(l.chains))
	for _, c := range l.chains {
		chains = append(chains, c)
	}
	l.mu.RUnlock()

	for i := range trades {
		if err := l.store.SaveTrade(ctx, &trades[i]); err != nil {
			return fmt.Errorf("flush trade %s: %w", trades[i].ID, err)
		}
	}
	for i := range chains {
		if err := l.store.SaveChain(ctx, &chains[i]); err != nil {
			return fmt.Errorf("flush chain %s: %w", chains[i].ID, err)
		}
	}
	l.logger.Info("ledger flushed", logger.Int("trades", len(trades)), logger.Int("chains", len(chains)))
	return nil
}

// History lists trades from the store, newest first.
func (l *Ledger) History(ctx context.Context, f models.TradeFilter) ([]models.Trade, error) {
	trades, err := l.store.ListTrades(ctx, f)
	if err != nil {
		return nil, errs.Transient("ledger.history", err)
	}
	return trades, nil
}
