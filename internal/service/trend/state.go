// Package trend keeps the latest direction per (symbol, timeframe).
package trend

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ZepixTrader/internal/domain/errs"
	"ZepixTrader/internal/domain/models"
	"ZepixTrader/internal/domain/repository"
	"ZepixTrader/pkg/logger"
)

type key struct {
	symbol string
	tf     models.Timeframe
}

// State is safe for concurrent use. Writes go through to the store before
// the in-memory record changes.
type State struct {
	mu      sync.RWMutex
	records map[key]models.TrendRecord
	store   repository.Store
	rule    AlignmentRule
	logger  *logger.Logger
}

func NewState(store repository.Store, rule AlignmentRule, lgr *logger.Logger) *State {
	if rule == nil {
		rule = LogicRule{}
	}
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &State{
		records: make(map[key]models.TrendRecord),
		store:   store,
		rule:    rule,
		logger:  lgr,
	}
}

// Load seeds the state from a persisted snapshot.
func (s *State) Load(records []models.TrendRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.records[key{r.Symbol, r.Timeframe}] = r
	}
}

// Update records an AUTO direction. Updates older than the stored timestamp
// and updates against a MANUAL record are dropped; the bool reports whether
// the record changed.
func (s *State) Update(ctx context.Context, symbol string, tf models.Timeframe, dir models.Direction, ts time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{symbol, tf}
	cur, ok := s.records[k]
	if ok {
		if cur.Mode == models.TrendManual {
			s.logger.Debug("trend update ignored, manual lock",
				logger.String("symbol", symbol), logger.String("tf", string(tf)))
			return false, nil
		}
		if ts.Before(cur.UpdatedAt) {
			s.logger.Debug("stale trend update dropped",
				logger.String("symbol", symbol), logger.String("tf", string(tf)),
				logger.Time("stored", cur.UpdatedAt), logger.Time("incoming", ts))
			return false, nil
		}
	}

	next := models.TrendRecord{Symbol: symbol, Timeframe: tf, Direction: dir, Mode: models.TrendAuto, UpdatedAt: ts}
	if err := s.persist(ctx, next); err != nil {
		return false, err
	}
	s.records[k] = next
	return true, nil
}

// SetManual pins a direction until SetAuto is called.
func (s *State) SetManual(ctx context.Context, symbol string, tf models.Timeframe, dir models.Direction, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := models.TrendRecord{Symbol: symbol, Timeframe: tf, Direction: dir, Mode: models.TrendManual, UpdatedAt: now}
	if err := s.persist(ctx, next); err != nil {
		return err
	}
	s.records[key{symbol, tf}] = next
	return nil
}

// SetAuto releases a manual lock, keeping the pinned direction until the next alert.
func (s *State) SetAuto(ctx context.Context, symbol string, tf models.Timeframe) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{symbol, tf}
	cur, ok := s.records[k]
	if !ok || cur.Mode == models.TrendAuto {
		return nil
	}
	cur.Mode = models.TrendAuto
	if err := s.persist(ctx, cur); err != nil {
		return err
	}
	s.records[k] = cur
	return nil
}

func (s *State) persist(ctx context.Context, r models.TrendRecord) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.SaveTrend(ctx, &r); err != nil {
		return errs.Transient("trend.persist", fmt.Errorf("save trend %s/%s: %w", r.Symbol, r.Timeframe, err))
	}
	return nil
}

// Get returns the record, or false when absent.
func (s *State) Get(symbol string, tf models.Timeframe) (models.TrendRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[key{symbol, tf}]
	return r, ok
}

// Aligned applies the alignment rule to the current view.
func (s *State) Aligned(symbol string, logic models.Logic, dir models.Direction) bool {
	return s.rule.Aligned(s, symbol, logic, dir)
}

// All returns every record sorted by symbol then timeframe.
func (s *State) All() []models.TrendRecord {
	s.mu.RLock()
	out := make([]models.TrendRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Timeframe < out[j].Timeframe
	})
	return out
}
