package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/turtacn/accessgate/pkg/constants"
)

// Metrics manages the Prometheus metrics.
type Metrics struct {
	PipelineDecisions *prometheus.CounterVec
	ProcessingTime    *prometheus.HistogramVec
	RateLimitHits     *prometheus.CounterVec
	TokenOperations   *prometheus.CounterVec
	PolicyReloads     *prometheus.CounterVec
	AuditEvents       *prometheus.CounterVec
	MaintenanceSweeps *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		PipelineDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: constants.MetricsNamespace,
				Name:      "pipeline_decisions_total",
				Help:      "Security pipeline outcomes by stage.",
			},
			[]string{"stage", "outcome"},
		),
		ProcessingTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: constants.MetricsNamespace,
				Name:      "request_processing_seconds",
				Help:      "Time from entering the security pipeline to the response being written.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "status"},
		),
		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: constants.MetricsNamespace,
				Name:      "rate_limit_hits_total",
				Help:      "Total number of rate limit denials.",
			},
			[]string{"scope"},
		),
		TokenOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: constants.MetricsNamespace,
				Name:      "token_operations_total",
				Help:      "Token service operations by result.",
			},
			[]string{"operation", "result"},
		),
		PolicyReloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: constants.MetricsNamespace,
				Name:      "policy_reloads_total",
				Help:      "Policy document load attempts by result.",
			},
			[]string{"result"},
		),
		AuditEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: constants.MetricsNamespace,
				Name:      "audit_events_total",
				Help:      "Audit events by delivery result.",
			},
			[]string{"result"},
		),
		MaintenanceSweeps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: constants.MetricsNamespace,
				Name:      "maintenance_removed_total",
				Help:      "Entries removed by background sweeps.",
			},
			[]string{"job"},
		),
	}
}

// RecordDecision records the outcome of one pipeline stage.
func (m *Metrics) RecordDecision(stage, outcome string) {
	m.PipelineDecisions.WithLabelValues(stage, outcome).Inc()
}

// ObserveProcessingTime records the end-to-end pipeline latency.
func (m *Metrics) ObserveProcessingTime(method, status string, d time.Duration) {
	m.ProcessingTime.WithLabelValues(method, status).Observe(d.Seconds())
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(scope constants.LimitScope) {
	m.RateLimitHits.WithLabelValues(string(scope)).Inc()
}

// RecordTokenOperation records a token service call.
func (m *Metrics) RecordTokenOperation(operation string, err error) {
	m.TokenOperations.WithLabelValues(operation, result(err)).Inc()
}

// RecordPolicyReload records a policy load attempt. It matches the policy engine's reload hook.
func (m *Metrics) RecordPolicyReload(err error) {
	m.PolicyReloads.WithLabelValues(result(err)).Inc()
}

// RecordAuditEvent records whether an audit event was delivered, failed or dropped.
func (m *Metrics) RecordAuditEvent(outcome string) {
	m.AuditEvents.WithLabelValues(outcome).Inc()
}

// RecordSweep adds the number of entries a maintenance job removed.
func (m *Metrics) RecordSweep(job string, removed int) {
	m.MaintenanceSweeps.WithLabelValues(job).Add(float64(removed))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

//Personal.AI order the ending
