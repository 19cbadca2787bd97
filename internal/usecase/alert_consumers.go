package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ZepixTrader/internal/domain/errs"
	"ZepixTrader/internal/domain/models"
	drepo "ZepixTrader/internal/domain/repository"
	pkgkafka "ZepixTrader/pkg/kafka"
	"ZepixTrader/pkg/queue"
)

// AlertHandler is the orchestrator entry point shared by every transport.
type AlertHandler interface {
	HandleAlert(ctx context.Context, a models.Alert) (Result, error)
}

// KafkaAlertsHandler consumes alerts published to a topic. Transient
// failures are returned so the consumer retries; malformed payloads and
// invariant violations go to the DLQ.
type KafkaAlertsHandler struct {
	topic   string
	alerts  AlertHandler
	metrics drepo.Metrics
}

func NewKafkaAlertsHandler(topic string, alerts AlertHandler, metrics drepo.Metrics) *KafkaAlertsHandler {
	if metrics == nil {
		metrics = drepo.NopMetrics{}
	}
	return &KafkaAlertsHandler{topic: topic, alerts: alerts, metrics: metrics}
}

func (h *KafkaAlertsHandler) Topic() string { return h.topic }

func (h *KafkaAlertsHandler) Handle(ctx context.Context, b []byte) error {
	var a models.Alert
	if err := json.Unmarshal(b, &a); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return pkgkafka.Permanent(fmt.Errorf("decode alert: %w", err))
	}
	if a.Source == "" {
		a.Source = "kafka"
	}
	_, err := h.alerts.HandleAlert(ctx, a)
	if err == nil || errors.Is(err, errs.ErrTransient) {
		return err
	}
	return pkgkafka.Permanent(err)
}

// DeferredAlertType is the queue message type for alerts parked after a
// transient failure.
const DeferredAlertType = "alert.deferred"

// Deferrer parks an alert for a later attempt.
type Deferrer interface {
	Defer(ctx context.Context, a models.Alert) error
}

// DeferredAlerts replays parked alerts through the orchestrator. It is both
// the queue job and the Deferrer used by the webhook.
type DeferredAlerts struct {
	q      queue.Queue
	alerts AlertHandler
	delay  time.Duration
}

func NewDeferredAlerts(q queue.Queue, alerts AlertHandler, delay time.Duration) *DeferredAlerts {
	d := &DeferredAlerts{q: q, alerts: alerts, delay: delay}
	q.RegisterJob(d)
	return d
}

func (d *DeferredAlerts) Name() string { return "deferred-alerts" }

func (d *DeferredAlerts) Type() string { return DeferredAlertType }

func (d *DeferredAlerts) Defer(ctx context.Context, a models.Alert) error {
	return d.q.EnqueueAfter(ctx, DeferredAlertType, a, d.delay)
}

// Handle returns transient errors so the queue retries with its own
// backoff; anything else is final.
func (d *DeferredAlerts) Handle(ctx context.Context, payload interface{}) error {
	a, err := queue.ParsePayload[models.Alert](payload)
	if err != nil {
		return queue.Drop(err)
	}
	_, err = d.alerts.HandleAlert(ctx, *a)
	if err == nil || errors.Is(err, errs.ErrTransient) {
		return err
	}
	return queue.Drop(err)
}
