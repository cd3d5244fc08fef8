package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	cycleDuration  *prometheus.HistogramVec
	signalsTotal   *prometheus.CounterVec
	alertsTotal    *prometheus.CounterVec
	suppressed     *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	eventLag       *prometheus.HistogramVec
	apiCalls       *prometheus.CounterVec
	lastPrice      *prometheus.GaugeVec
	healthScore    prometheus.Gauge
	symbolsByState *prometheus.GaugeVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		cycleDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "squeezewatch_cycle_duration_seconds",
				Help:    "Duration of one symbol poll cycle in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"symbol"},
		),
		signalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "squeezewatch_signals_total",
				Help: "Total number of actionable signals classified",
			},
			[]string{"symbol", "type"},
		),
		alertsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "squeezewatch_alerts_delivered_total",
				Help: "Total number of alerts delivered per backend",
			},
			[]string{"backend", "symbol"},
		),
		suppressed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "squeezewatch_alerts_suppressed_total",
				Help: "Total number of alerts suppressed before delivery",
			},
			[]string{"symbol", "reason"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "squeezewatch_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		eventLag: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "squeezewatch_event_pipeline_lag_seconds",
				Help:    "Delay from event publish to durable storage",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"topic"},
		),
		apiCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "squeezewatch_api_calls_total",
				Help: "Total number of exchange API calls",
			},
			[]string{"endpoint"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "squeezewatch_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		healthScore: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "squeezewatch_health_score",
				Help: "Engine health score in [0,1]",
			},
		),
		symbolsByState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "squeezewatch_symbols",
				Help: "Number of monitored symbols per state",
			},
			[]string{"state"},
		),
	}
}

// RecordCycle records the duration of one completed poll cycle.
func (r *Recorder) RecordCycle(symbol string, seconds float64) {
	r.cycleDuration.WithLabelValues(symbol).Observe(seconds)
}

// RecordSignal records an actionable signal classification.
func (r *Recorder) RecordSignal(symbol, signalType string) {
	r.signalsTotal.WithLabelValues(symbol, signalType).Inc()
}

// RecordAlert records an alert delivered through a backend.
func (r *Recorder) RecordAlert(backend, symbol string) {
	r.alertsTotal.WithLabelValues(backend, symbol).Inc()
}

// RecordSuppressed records an alert suppressed before delivery.
func (r *Recorder) RecordSuppressed(symbol, reason string) {
	r.suppressed.WithLabelValues(symbol, reason).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordEventLag records how long an event took from publish to storage.
func (r *Recorder) RecordEventLag(topic string, seconds float64) {
	r.eventLag.WithLabelValues(topic).Observe(seconds)
}

// RecordAPICall records one exchange API request.
func (r *Recorder) RecordAPICall(endpoint string) {
	r.apiCalls.WithLabelValues(endpoint).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// SetHealthScore publishes the engine health score.
func (r *Recorder) SetHealthScore(score float64) {
	r.healthScore.Set(score)
}

// SetSymbolStates publishes the per-state symbol counts.
func (r *Recorder) SetSymbolStates(active, paused, errored int) {
	r.symbolsByState.WithLabelValues("active").Set(float64(active))
	r.symbolsByState.WithLabelValues("paused").Set(float64(paused))
	r.symbolsByState.WithLabelValues("error").Set(float64(errored))
}
