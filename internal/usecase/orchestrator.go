package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ZepixTrader/internal/domain/errs"
	"ZepixTrader/internal/domain/models"
	drepo "ZepixTrader/internal/domain/repository"
	"ZepixTrader/internal/service/control"
	"ZepixTrader/internal/service/ledger"
	"ZepixTrader/pkg/logger"
)

// Result statuses.
const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
	StatusDenied   = "denied"
	StatusIgnored  = "ignored"
	StatusFailed   = "failed"
)

// Result is the action summary returned to the alert sender.
type Result struct {
	Status  string       `json:"status"`
	Kind    errs.Kind    `json:"kind,omitempty"`
	Reason  string       `json:"reason,omitempty"`
	Actions []string     `json:"actions,omitempty"`
	TradeID string       `json:"trade_id,omitempty"`
	Alert   models.Alert `json:"alert"`
}

func (r *Result) act(format string, args ...any) {
	r.Actions = append(r.Actions, fmt.Sprintf(format, args...))
}

type Admitter interface {
	Admit(ctx context.Context, a models.Alert) (models.Alert, error)
	Forget(ctx context.Context, a models.Alert)
}

type TrendTracker interface {
	Update(ctx context.Context, symbol string, tf models.Timeframe, dir models.Direction, ts time.Time) (bool, error)
	Get(symbol string, tf models.Timeframe) (models.TrendRecord, bool)
	Aligned(symbol string, logic models.Logic, dir models.Direction) bool
}

type Opener interface {
	Open(ctx context.Context, a models.Alert, logic models.Logic) (models.Trade, error)
}

type SettingsSource interface {
	Current() control.Settings
}

// Orchestrator routes admitted alerts to trend state, the exit handler and
// the entry path.
type Orchestrator struct {
	gate     Admitter
	trend    TrendTracker
	exits    *ExitHandler
	chains   ChainDeactivator
	opener   Opener
	settings SettingsSource
	notifier drepo.Notifier
	metrics  drepo.Metrics
	logger   *logger.Logger
	symbols  *ledger.KeyedMutex
}

func NewOrchestrator(
	gate Admitter,
	trend TrendTracker,
	exits *ExitHandler,
	chains ChainDeactivator,
	opener Opener,
	settings SettingsSource,
	notifier drepo.Notifier,
	metrics drepo.Metrics,
	lgr *logger.Logger,
) *Orchestrator {
	if metrics == nil {
		metrics = drepo.NopMetrics{}
	}
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &Orchestrator{
		gate: gate, trend: trend, exits: exits, chains: chains, opener: opener,
		settings: settings, notifier: notifier, metrics: metrics, logger: lgr,
		symbols: ledger.NewKeyedMutex(),
	}
}

// HandleAlert runs one alert to completion. Validation, duplicate and risk
// outcomes come back in the Result with a nil error; the error is non-nil
// only when the sender should retry (transient) or an operator should look
// (invariant, venue rejection). On a transient failure the fingerprint is
// released so redelivery is admitted.
//
// Alerts on one symbol run one at a time, so an opposite alert always sees
// the trades and chains of an entry admitted before it.
func (o *Orchestrator) HandleAlert(ctx context.Context, in models.Alert) (Result, error) {
	a, err := o.gate.Admit(ctx, in)
	res := Result{Alert: a}
	if err != nil {
		return o.rejected(ctx, res, err)
	}
	unlock := o.symbols.Lock(a.Symbol)
	defer unlock()

	switch a.Category {
	case models.CategoryBias, models.CategoryTrend:
		err = o.onTrend(ctx, a, &res)
	case models.CategoryReversal:
		o.deactivate(ctx, a, &res)
		err = o.onClose(ctx, a, &res, o.exits.OnReversalAlert)
	case models.CategoryExit:
		o.deactivate(ctx, a, &res)
		err = o.onClose(ctx, a, &res, o.exits.OnExitAppeared)
	case models.CategoryEntry:
		err = o.onEntry(ctx, a, &res)
	default:
		err = errs.Invariant("orchestrator", "admitted alert with category "+string(a.Category))
	}

	if err != nil {
		return o.failed(ctx, res, err)
	}
	if res.Status == "" {
		res.Status = StatusAccepted
	}
	o.metrics.RecordAlert(string(a.Category), res.Status)
	o.logger.Info("alert handled",
		logger.String("symbol", a.Symbol), logger.String("tf", string(a.Timeframe)),
		logger.String("category", string(a.Category)), logger.String("direction", string(a.Direction)),
		logger.String("status", res.Status), logger.Strings("actions", res.Actions))
	return res, nil
}

func (o *Orchestrator) onTrend(ctx context.Context, a models.Alert, res *Result) error {
	// Chains are cancelled even when the trend record refuses the update.
	o.deactivate(ctx, a, res)

	prev, hadPrev := o.trend.Get(a.Symbol, a.Timeframe)
	changed, err := o.trend.Update(ctx, a.Symbol, a.Timeframe, a.Direction, a.ReceivedAt)
	if err != nil {
		return err
	}
	if !changed {
		res.Status = StatusIgnored
		res.Reason = "stale_or_locked"
		return nil
	}
	res.act("trend %s %s=%s", a.Timeframe, a.Symbol, a.Direction.Trend())

	flipped := hadPrev && prev.Direction != a.Direction
	if a.Category == models.CategoryTrend && flipped && o.settings.Current().CloseOnTrendReversal {
		return o.onClose(ctx, a, res, o.exits.OnTrendReversal)
	}
	return nil
}

type closeFunc func(ctx context.Context, symbol string, dir models.Direction, price float64) ([]models.Trade, error)

func (o *Orchestrator) onClose(ctx context.Context, a models.Alert, res *Result, fn closeFunc) error {
	closed, err := fn(ctx, a.Symbol, a.Direction, a.Price)
	for _, t := range closed {
		res.act("closed %s %s (%s)", t.ID, t.Side, t.CloseReason)
	}
	return err
}

func (o *Orchestrator) deactivate(ctx context.Context, a models.Alert, res *Result) {
	n, err := o.chains.DeactivateOpposing(ctx, a.Symbol, a.Direction)
	if err != nil {
		o.logger.Warn("deactivate opposing chains", logger.String("symbol", a.Symbol), logger.Error(err))
	}
	if n > 0 {
		res.act("expired %d opposing chain(s)", n)
	}
}

func (o *Orchestrator) onEntry(ctx context.Context, a models.Alert, res *Result) error {
	s := o.settings.Current()
	o.deactivate(ctx, a, res)
	if s.CloseOnOppositeSignal {
		if err := o.onClose(ctx, a, res, o.exits.OnOppositeSignal); err != nil {
			return err
		}
	}

	logic, _ := models.LogicFor(a.Timeframe)
	switch {
	case s.Paused:
		o.skip(ctx, a, res, StatusIgnored, "paused")
		return nil
	case !s.LogicEnabled(logic):
		o.skip(ctx, a, res, StatusIgnored, string(logic)+"_disabled")
		return nil
	case !o.trend.Aligned(a.Symbol, logic, a.Direction):
		o.skip(ctx, a, res, StatusRejected, "trend_misaligned")
		return nil
	}

	t, err := o.opener.Open(ctx, a, logic)
	if errors.Is(err, errs.ErrRiskDenied) {
		res.Status = StatusDenied
		res.Kind = errs.KindRiskDenied
		res.Reason = errs.ReasonOf(err)
		return nil
	}
	if err != nil {
		return err
	}
	res.TradeID = t.ID
	res.act("opened %s %s %.2f lot (%s)", t.Side, t.Symbol, t.Lot, logic)
	return nil
}

func (o *Orchestrator) skip(ctx context.Context, a models.Alert, res *Result, status, reason string) {
	res.Status = status
	res.Reason = reason
	o.notify(ctx, models.Event{
		Type:    models.EventAlertRejected,
		Symbol:  a.Symbol,
		Message: fmt.Sprintf("%s %s %s entry skipped: %s", a.Symbol, a.Timeframe, a.Direction.Side(), reason),
	})
}

func (o *Orchestrator) rejected(ctx context.Context, res Result, err error) (Result, error) {
	kind := errs.KindOf(err)
	switch kind {
	case errs.KindValidation:
		res.Status, res.Kind, res.Reason = StatusRejected, kind, errs.ReasonOf(err)
		o.metrics.RecordAlert(string(res.Alert.Category), "invalid")
		o.logger.Warn("alert rejected", logger.String("reason", res.Reason))
		o.notify(ctx, models.Event{
			Type:    models.EventAlertRejected,
			Symbol:  res.Alert.Symbol,
			Message: "alert rejected: " + res.Reason,
		})
		return res, nil
	case errs.KindDuplicate:
		res.Status, res.Kind, res.Reason = StatusRejected, kind, "duplicate"
		o.metrics.RecordAlert(string(res.Alert.Category), "duplicate")
		o.logger.Debug("duplicate alert", logger.String("fingerprint", res.Alert.Fingerprint()))
		return res, nil
	default:
		return o.failed(ctx, res, err)
	}
}

func (o *Orchestrator) failed(ctx context.Context, res Result, err error) (Result, error) {
	res.Status = StatusFailed
	res.Kind = errs.KindOf(err)
	res.Reason = errs.ReasonOf(err)
	o.metrics.RecordAlert(string(res.Alert.Category), StatusFailed)

	switch res.Kind {
	case errs.KindTransient:
		o.gate.Forget(ctx, res.Alert)
		o.metrics.RecordError("alert_transient")
		o.logger.Warn("alert deferred", logger.String("symbol", res.Alert.Symbol), logger.Error(err))
	case errs.KindInvariant:
		o.metrics.RecordError("invariant")
		o.logger.Error("invariant violation", logger.String("symbol", res.Alert.Symbol), logger.Error(err))
		o.notify(ctx, models.Event{Type: models.EventInvariant, Symbol: res.Alert.Symbol, Message: err.Error()})
	default:
		o.metrics.RecordError("alert_failed")
		o.logger.Error("alert failed", logger.String("symbol", res.Alert.Symbol), logger.Error(err))
		o.notify(ctx, models.Event{Type: models.EventAlertRejected, Symbol: res.Alert.Symbol, Message: err.Error()})
	}
	return res, err
}

func (o *Orchestrator) notify(ctx context.Context, e models.Event) {
	if o.notifier != nil {
		o.notifier.Notify(ctx, e)
	}
}
