// Package control holds the runtime-adjustable trading switches. Readers get
// an immutable snapshot; writers replace it atomically.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ZepixTrader/internal/domain/errs"
	"ZepixTrader/internal/domain/models"
	"ZepixTrader/internal/service/risk"
	"ZepixTrader/pkg/cache"
	"ZepixTrader/pkg/config"
	"ZepixTrader/pkg/logger"
)

var settingsKey = cache.GenerateKey("control", "settings")

type Settings struct {
	Paused                  bool                  `json:"paused"`
	SimulateOrders          bool                  `json:"simulate_orders"`
	Logics                  map[models.Logic]bool `json:"logics"`
	DailyCap                float64               `json:"daily_cap,omitempty"`
	LifetimeCap             float64               `json:"lifetime_cap,omitempty"`
	MonitorInterval         time.Duration         `json:"monitor_interval"`
	DedupWindow             time.Duration         `json:"dedup_window"`
	SLHuntEnabled           bool                  `json:"sl_hunt_enabled"`
	TPContinuationEnabled   bool                  `json:"tp_continuation_enabled"`
	ExitContinuationEnabled bool                  `json:"exit_continuation_enabled"`
	MaxChainLevels          int                   `json:"max_chain_levels"`
	CloseOnOppositeSignal   bool                  `json:"close_on_opposite_signal"`
	CloseOnTrendReversal    bool                  `json:"close_on_trend_reversal"`
	UpdatedAt               time.Time             `json:"updated_at"`
}

func (s Settings) LogicEnabled(l models.Logic) bool {
	return s.Logics[l]
}

func (s Settings) clone() Settings {
	cp := s
	cp.Logics = make(map[models.Logic]bool, len(s.Logics))
	for k, v := range s.Logics {
		cp.Logics[k] = v
	}
	return cp
}

func (s Settings) validate() error {
	if s.MonitorInterval < time.Second {
		return errs.Validation("control.update", "monitor interval below 1s")
	}
	if s.DedupWindow <= 0 {
		return errs.Validation("control.update", "dedup window must be positive")
	}
	if s.MaxChainLevels < 0 || s.MaxChainLevels > 10 {
		return errs.Validation("control.update", "max chain levels must be within 0..10")
	}
	if s.DailyCap < 0 || s.LifetimeCap < 0 {
		return errs.Validation("control.update", "caps must not be negative")
	}
	return nil
}

// FromConfig builds the boot-time settings.
func FromConfig(cfg *config.Config) Settings {
	s := Settings{
		SimulateOrders:          cfg.Trading.SimulateOrders,
		Logics:                  map[models.Logic]bool{models.Logic1: false, models.Logic2: false, models.Logic3: false},
		MonitorInterval:         cfg.Trading.MonitorInterval,
		DedupWindow:             cfg.Trading.DedupWindow,
		SLHuntEnabled:           cfg.Reentry.SLHuntEnabled,
		TPContinuationEnabled:   cfg.Reentry.TPContinuationEnabled,
		ExitContinuationEnabled: cfg.Reentry.ExitContinuationEnabled,
		MaxChainLevels:          cfg.Reentry.MaxChainLevels,
		CloseOnOppositeSignal:   cfg.Trading.CloseOnOppositeSignal,
		CloseOnTrendReversal:    cfg.Trading.CloseOnTrendReversal,
	}
	for _, l := range cfg.Trading.EnabledLogics {
		s.Logics[models.Logic(l)] = true
	}
	return s
}

// Controller serializes writers and publishes snapshots to lock-free readers.
type Controller struct {
	mu      sync.Mutex
	current atomic.Pointer[Settings]
	cache   cache.Service
	logger  *logger.Logger
	now     func() time.Time
}

type Option func(*Controller)

// WithPersistence saves every update to c and restores it on Restore.
func WithPersistence(c cache.Service) Option {
	return func(ctl *Controller) { ctl.cache = c }
}

func WithLogger(l *logger.Logger) Option {
	return func(ctl *Controller) { ctl.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(ctl *Controller) { ctl.now = now }
}

func New(initial Settings, opts ...Option) *Controller {
	ctl := &Controller{logger: logger.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(ctl)
	}
	s := initial.clone()
	ctl.current.Store(&s)
	return ctl
}

// Restore replaces the boot settings with the last persisted ones, if any.
func (c *Controller) Restore(ctx context.Context) error {
	if c.cache == nil {
		return nil
	}
	var s Settings
	if err := c.cache.Get(ctx, settingsKey, &s); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil
		}
		return fmt.Errorf("restore settings: %w", err)
	}
	if err := s.validate(); err != nil {
		c.logger.Warn("ignoring persisted settings", logger.Error(err))
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s = s.clone()
	c.current.Store(&s)
	c.logger.Info("control settings restored", logger.Bool("paused", s.Paused))
	return nil
}

// Current returns the active snapshot. Callers must not mutate its map.
func (c *Controller) Current() Settings {
	return *c.current.Load()
}

// Update applies fn to a copy of the settings and publishes the result.
func (c *Controller) Update(ctx context.Context, fn func(*Settings) error) (Settings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.current.Load().clone()
	if err := fn(&next); err != nil {
		return Settings{}, err
	}
	if err := next.validate(); err != nil {
		return Settings{}, err
	}
	next.UpdatedAt = c.now()
	c.current.Store(&next)

	if c.cache != nil {
		if err := c.cache.Set(ctx, settingsKey, next, 0); err != nil {
			c.logger.Warn("persist settings failed", logger.Error(err))
		}
	}
	return next, nil
}

func (c *Controller) Pause(ctx context.Context) (Settings, error) {
	return c.Update(ctx, func(s *Settings) error { s.Paused = true; return nil })
}

func (c *Controller) Resume(ctx context.Context) (Settings, error) {
	return c.Update(ctx, func(s *Settings) error { s.Paused = false; return nil })
}

func (c *Controller) SetLogic(ctx context.Context, l models.Logic, enabled bool) (Settings, error) {
	return c.Update(ctx, func(s *Settings) error {
		if _, ok := s.Logics[l]; !ok {
			return errs.Validationf("control.logic", "unknown logic %q", l)
		}
		s.Logics[l] = enabled
		return nil
	})
}

// SetCaps overrides the tier loss caps. Zero restores the tier value.
func (c *Controller) SetCaps(ctx context.Context, daily, lifetime float64) (Settings, error) {
	return c.Update(ctx, func(s *Settings) error {
		s.DailyCap = daily
		s.LifetimeCap = lifetime
		return nil
	})
}

func (c *Controller) SetChains(ctx context.Context, slHunt, tpContinuation bool, maxLevels int) (Settings, error) {
	return c.Update(ctx, func(s *Settings) error {
		s.SLHuntEnabled = slHunt
		s.TPContinuationEnabled = tpContinuation
		s.MaxChainLevels = maxLevels
		return nil
	})
}

func (c *Controller) SetExitContinuation(ctx context.Context, enabled bool) (Settings, error) {
	return c.Update(ctx, func(s *Settings) error {
		s.ExitContinuationEnabled = enabled
		return nil
	})
}

// RiskOverrides adapts the snapshot for the risk gate.
func (c *Controller) RiskOverrides() risk.Overrides {
	s := c.current.Load()
	return risk.Overrides{DailyCap: s.DailyCap, LifetimeCap: s.LifetimeCap}
}

// DedupWindow feeds the alert gate.
func (c *Controller) DedupWindow() time.Duration {
	return c.current.Load().DedupWindow
}

func (c *Controller) MonitorInterval() time.Duration {
	return c.current.Load().MonitorInterval
}
