package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"ZepixTrader/internal/domain/errs"
	"ZepixTrader/internal/domain/models"
	"ZepixTrader/internal/domain/repository"
)

// MemoryStore implements repository.Store in process. Used by tests and
// dry runs.
type MemoryStore struct {
	mu     sync.RWMutex
	trades map[string]models.Trade
	chains map[string]models.ReentryChain
	risk   *models.RiskState
	trends map[string]models.TrendRecord
	exits  []models.ExitEvent
}

var _ repository.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trades: make(map[string]models.Trade),
		chains: make(map[string]models.ReentryChain),
		trends: make(map[string]models.TrendRecord),
	}
}

func (s *MemoryStore) SaveTrade(_ context.Context, t *models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[t.ID] = *t
	return nil
}

func (s *MemoryStore) SaveChain(_ context.Context, c *models.ReentryChain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chains[c.ID] = *c
	return nil
}

func (s *MemoryStore) SaveRiskState(_ context.Context, r *models.RiskState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.risk = &cp
	return nil
}

func (s *MemoryStore) SaveTrend(_ context.Context, r *models.TrendRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trends[r.Symbol+"|"+string(r.Timeframe)] = *r
	return nil
}

func (s *MemoryStore) SaveExitEvent(_ context.Context, e *models.ExitEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exits = append(s.exits, *e)
	return nil
}

func (s *MemoryStore) LoadSnapshot(_ context.Context) (*models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &models.Snapshot{}
	for _, t := range s.trades {
		if t.IsOpen() {
			snap.OpenTrades = append(snap.OpenTrades, t)
		}
	}
	for _, c := range s.chains {
		if c.Active {
			snap.ActiveChains = append(snap.ActiveChains, c)
		}
	}
	if s.risk != nil {
		cp := *s.risk
		snap.Risk = &cp
	}
	for _, r := range s.trends {
		snap.Trends = append(snap.Trends, r)
	}
	sort.Slice(snap.OpenTrades, func(i, j int) bool { return snap.OpenTrades[i].ID < snap.OpenTrades[j].ID })
	return snap, nil
}

func (s *MemoryStore) ListTrades(_ context.Context, f models.TradeFilter) ([]models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Trade, 0)
	for _, t := range s.trades {
		if f.Symbol != "" && t.Symbol != f.Symbol {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if !f.Since.IsZero() && t.OpenedAt.Before(f.Since) {
			continue
		}
		out = append(out, t)
	}
	// newest first, ULIDs sort by time
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) ListExitEvents(_ context.Context, since time.Time) ([]models.ExitEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ExitEvent, 0, len(s.exits))
	for _, e := range s.exits {
		if !e.At.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Trade returns a stored trade. Test helper.
func (s *MemoryStore) Trade(id string) (models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trades[id]
	if !ok {
		return models.Trade{}, errs.ErrNotFound
	}
	return t, nil
}

// Chain returns a stored chain. Test helper.
func (s *MemoryStore) Chain(id string) (models.ReentryChain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chains[id]
	if !ok {
		return models.ReentryChain{}, errs.ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) Health(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
