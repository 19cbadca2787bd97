// Package alertgate validates, maps and deduplicates inbound alerts.
package alertgate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"ZepixTrader/internal/domain/errs"
	"ZepixTrader/internal/domain/models"
	"ZepixTrader/internal/domain/repository"
	"ZepixTrader/internal/service/market"
	"ZepixTrader/pkg/cache"
	"ZepixTrader/pkg/logger"
	"ZepixTrader/pkg/util"
)

const (
	op = "alertgate.admit"

	ReasonUnknownSymbol = "UnknownSymbol"
	keyPrefix           = "alert:fp"
)

type Gate struct {
	validate    *validator.Validate
	fingerprint cache.Service
	instruments *market.Table
	window      func() time.Duration
	now         func() time.Time
	logger      *logger.Logger
}

type Option func(*Gate)

// WithClock replaces time.Now for received timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithWindow supplies the dedup window on every admission so runtime
// changes take effect immediately.
func WithWindow(window func() time.Duration) Option {
	return func(g *Gate) { g.window = window }
}

func WithLogger(l *logger.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

func New(fingerprints cache.Service, instruments *market.Table, opts ...Option) *Gate {
	g := &Gate{
		validate:    validator.New(),
		fingerprint: fingerprints,
		instruments: instruments,
		window:      func() time.Duration { return 5 * time.Minute },
		now:         time.Now,
		logger:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Admit returns the normalized alert, or a ValidationError / DuplicateAlert.
// Validation runs before dedup so malformed alerts never consume a window.
func (g *Gate) Admit(ctx context.Context, in models.Alert) (models.Alert, error) {
	a := normalize(in)
	if a.ReceivedAt.IsZero() {
		a.ReceivedAt = g.now()
	}

	if err := g.validate.StructCtx(ctx, a); err != nil {
		return a, errs.Validation(op, describe(err))
	}

	dir, err := direction(a.Category, a.Signal)
	if err != nil {
		return a, errs.Validation(op, err.Error())
	}
	a.Direction = dir

	if a.Category == models.CategoryEntry {
		if _, ok := models.LogicFor(a.Timeframe); !ok {
			return a, errs.Validationf(op, "entry alerts are not traded on %s", a.Timeframe)
		}
	}

	inst, ok := g.instruments.Lookup(a.Symbol)
	if !ok {
		return a, errs.Validationf(op, "%s: %s", ReasonUnknownSymbol, a.Symbol)
	}
	a.BrokerSymbol = inst.Broker

	acquired, err := g.fingerprint.TryLock(ctx, fingerprintKey(a), g.window())
	if err != nil {
		return a, errs.Transient(op, fmt.Errorf("record fingerprint: %w", err))
	}
	if !acquired {
		return a, errs.Duplicate(op, a.Fingerprint())
	}
	return a, nil
}

// Forget releases an admitted fingerprint so the same alert can be
// redelivered after a retryable failure.
func (g *Gate) Forget(ctx context.Context, a models.Alert) {
	if err := g.fingerprint.Unlock(ctx, fingerprintKey(a)); err != nil {
		g.logger.Warn("release alert fingerprint", logger.String("fingerprint", a.Fingerprint()), logger.Error(err))
	}
}

func normalize(a models.Alert) models.Alert {
	a.Symbol = util.NormalizeSymbol(a.Symbol)
	a.Timeframe = repository.NormalizeTimeframe(string(a.Timeframe))
	a.Category = models.Category(strings.ToLower(strings.TrimSpace(string(a.Category))))
	a.Signal = strings.ToLower(strings.TrimSpace(a.Signal))
	a.Strategy = strings.TrimSpace(a.Strategy)
	return a
}

func direction(c models.Category, signal string) (models.Direction, error) {
	switch c {
	case models.CategoryEntry:
		switch signal {
		case "buy":
			return models.Bull, nil
		case "sell":
			return models.Bear, nil
		}
		return "", fmt.Errorf("entry alerts take buy or sell, got %q", signal)
	case models.CategoryReversal:
		switch signal {
		case "reversal_bull", "bull":
			return models.Bull, nil
		case "reversal_bear", "bear":
			return models.Bear, nil
		}
		return "", fmt.Errorf("reversal alerts take reversal_bull or reversal_bear, got %q", signal)
	default:
		switch signal {
		case "bull":
			return models.Bull, nil
		case "bear":
			return models.Bear, nil
		}
		return "", fmt.Errorf("%s alerts take bull or bear, got %q", c, signal)
	}
}

func describe(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err.Error()
	}
	parts := make([]string, 0, len(ve))
	for _, fe := range ve {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fe.Field()+" is required")
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of [%s], got %v", fe.Field(), fe.Param(), fe.Value()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

func fingerprintKey(a models.Alert) string {
	return cache.GenerateKey(keyPrefix, cache.HashKey(a.Fingerprint()))
}
