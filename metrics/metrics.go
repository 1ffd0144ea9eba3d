package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the carrier-integration instrumentation.
type Metrics struct {
	CarrierCalls   *prometheus.CounterVec
	CallDuration   *prometheus.HistogramVec
	TokenFetches   *prometheus.CounterVec
	PollIterations *prometheus.HistogramVec
}

// New registers the carrier metrics on the given registerer. Tests pass a
// fresh prometheus.NewRegistry() to stay isolated.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CarrierCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "polisflow_carrier_calls_total",
			Help: "Total number of outbound carrier calls by outcome",
		}, []string{"carrier", "method", "outcome"}),
		CallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "polisflow_carrier_call_duration_seconds",
			Help:    "Latency of outbound carrier calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"carrier", "method"}),
		TokenFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "polisflow_carrier_token_fetches_total",
			Help: "Total number of carrier credential fetches by outcome",
		}, []string{"carrier", "outcome"}),
		PollIterations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "polisflow_carrier_poll_iterations",
			Help:    "Status poll iterations spent per reconciliation",
			Buckets: []float64{1, 2, 3, 4, 5, 7, 10},
		}, []string{"carrier"}),
	}
}

// ObserveCall records one finished carrier call.
func (m *Metrics) ObserveCall(carrier, method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.CarrierCalls.WithLabelValues(carrier, method, outcome).Inc()
	m.CallDuration.WithLabelValues(carrier, method).Observe(elapsed.Seconds())
}

// ObserveTokenFetch records one credential fetch.
func (m *Metrics) ObserveTokenFetch(carrier, outcome string) {
	if m == nil {
		return
	}
	m.TokenFetches.WithLabelValues(carrier, outcome).Inc()
}

// ObservePoll records how many iterations a status reconciliation used.
func (m *Metrics) ObservePoll(carrier string, iterations int) {
	if m == nil {
		return
	}
	m.PollIterations.WithLabelValues(carrier).Observe(float64(iterations))
}
