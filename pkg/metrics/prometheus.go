package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"taskpilot/pkg/resilience/circuit"
)

// Metric names, shared with the query service.
const (
	MetricCallsTotal          = "taskpilot_dependency_calls_total"
	MetricCallDuration        = "taskpilot_dependency_call_duration_seconds"
	MetricRetriesTotal        = "taskpilot_dependency_retries_total"
	MetricCircuitState        = "taskpilot_circuit_state"
	MetricOrchestrationsTotal = "taskpilot_orchestrations_total"
	MetricOrchestrationTime   = "taskpilot_orchestration_duration_seconds"
	MetricClassificationTotal = "taskpilot_classifications_total"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	callsTotal          *prometheus.CounterVec
	callDuration        *prometheus.HistogramVec
	retriesTotal        *prometheus.CounterVec
	circuitState        *prometheus.GaugeVec
	orchestrationsTotal *prometheus.CounterVec
	orchestrationTime   *prometheus.HistogramVec
	classifications     *prometheus.CounterVec
}

// NewPrometheusRecorder registers the pipeline metrics on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		callsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricCallsTotal,
				Help: "Total number of dependency calls by dependency, operation, and outcome",
			},
			[]string{"dependency", "operation", "outcome"},
		),
		callDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricCallDuration,
				Help:    "Duration of dependency calls in seconds, retries included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"dependency", "operation"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRetriesTotal,
				Help: "Total number of retried dependency attempts",
			},
			[]string{"dependency"},
		),
		circuitState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricCircuitState,
				Help: "Circuit breaker state per dependency (0 closed, 1 open, 2 half_open)",
			},
			[]string{"dependency"},
		),
		orchestrationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricOrchestrationsTotal,
				Help: "Total number of handled messages by intent and outcome",
			},
			[]string{"intent", "outcome"},
		),
		orchestrationTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricOrchestrationTime,
				Help:    "End-to-end message handling time in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"intent"},
		),
		classifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricClassificationTotal,
				Help: "Total number of classifications by intent and source",
			},
			[]string{"intent", "source"},
		),
	}
}

// ObserveCall records one logical call to a dependency.
func (p *PrometheusRecorder) ObserveCall(dependency, operation, outcome string, duration time.Duration) {
	p.callsTotal.WithLabelValues(dependency, operation, outcome).Inc()
	p.callDuration.WithLabelValues(dependency, operation).Observe(duration.Seconds())
}

// IncRetry counts a retry attempt.
func (p *PrometheusRecorder) IncRetry(dependency string) {
	p.retriesTotal.WithLabelValues(dependency).Inc()
}

// SetBreakerState publishes the breaker state.
func (p *PrometheusRecorder) SetBreakerState(dependency string, state circuit.State) {
	p.circuitState.WithLabelValues(dependency).Set(float64(state))
}

// ObserveOrchestration records one handled message.
func (p *PrometheusRecorder) ObserveOrchestration(intent, outcome string, duration time.Duration) {
	p.orchestrationsTotal.WithLabelValues(intent, outcome).Inc()
	p.orchestrationTime.WithLabelValues(intent).Observe(duration.Seconds())
}

// IncClassification counts a classification.
func (p *PrometheusRecorder) IncClassification(intent, source string) {
	p.classifications.WithLabelValues(intent, source).Inc()
}
