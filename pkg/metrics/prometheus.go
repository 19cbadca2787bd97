package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements repository.Metrics using Prometheus.
type Recorder struct {
	alerts      *prometheus.CounterVec
	trades      *prometheus.CounterVec
	chains      *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	openTrades  prometheus.Gauge
	riskLoss    *prometheus.GaugeVec
	lastPrice   *prometheus.GaugeVec
	latency     *prometheus.HistogramVec
}

// New registers the recorder on the default registry. Call it once per process.
func New() *Recorder {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the recorder on reg.
func NewWith(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		alerts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zepix_alerts_total",
				Help: "Alerts received by category and outcome",
			},
			[]string{"category", "result"},
		),
		trades: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zepix_trades_total",
				Help: "Trade lifecycle events",
			},
			[]string{"event", "symbol"},
		),
		chains: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zepix_chain_transitions_total",
				Help: "Re-entry chain state transitions",
			},
			[]string{"kind", "state"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zepix_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		openTrades: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "zepix_open_trades",
				Help: "Currently open trades",
			},
		),
		riskLoss: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "zepix_risk_loss",
				Help: "Accumulated realized loss by window",
			},
			[]string{"window"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "zepix_last_price",
				Help: "Last observed price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zepix_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordAlert(category, result string) {
	r.alerts.WithLabelValues(category, result).Inc()
}

func (r *Recorder) RecordTrade(event, symbol string) {
	r.trades.WithLabelValues(event, symbol).Inc()
}

func (r *Recorder) RecordChain(kind, state string) {
	r.chains.WithLabelValues(kind, state).Inc()
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) SetOpenTrades(n int) {
	r.openTrades.Set(float64(n))
}

func (r *Recorder) SetRiskLoss(window string, amount float64) {
	r.riskLoss.WithLabelValues(window).Set(amount)
}

func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
