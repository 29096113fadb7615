// Package metrics holds the process-wide Prometheus registry: outbox lag,
// rate limiter rejections, circuit breaker state, and workflow step
// duration, exposed on the admin mux's /metrics endpoint.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric this module publishes.
type Registry struct {
	OutboxLagSeconds     prometheus.Gauge
	OutboxPublished      *prometheus.CounterVec
	OutboxDeadLettered   *prometheus.CounterVec

	RateLimitDecisions *prometheus.CounterVec

	CircuitBreakerState *prometheus.GaugeVec
	UpstreamLatency     *prometheus.HistogramVec

	GatewayRequests *prometheus.CounterVec

	WorkflowStepDuration  *prometheus.HistogramVec
	WorkflowInstanceTotal *prometheus.CounterVec
}

// New builds and registers every metric against reg.
func New(reg *prometheus.Registry) *Registry {
	m := &Registry{
		OutboxLagSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowmesh_outbox_lag_seconds",
			Help: "Age of the oldest unpublished outbox row in seconds.",
		}),
		OutboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowmesh_outbox_published_total",
			Help: "Outbox rows successfully published, by event type.",
		}, []string{"event_type"}),
		OutboxDeadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowmesh_outbox_dead_lettered_total",
			Help: "Outbox rows moved to the dead letter table, by event type.",
		}, []string{"event_type"}),

		RateLimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowmesh_gateway_rate_limit_decisions_total",
			Help: "Rate limiter decisions by route and action.",
		}, []string{"route", "action"}),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flowmesh_gateway_circuit_breaker_state",
			Help: "Circuit breaker state per upstream server (0=closed, 1=half-open, 2=open).",
		}, []string{"server_id"}),
		UpstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowmesh_gateway_upstream_latency_seconds",
			Help:    "Upstream response latency observed by the load balancer.",
			Buckets: prometheus.DefBuckets,
		}, []string{"server_id"}),

		GatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowmesh_gateway_requests_total",
			Help: "Requests handled by the gateway pipeline, by route and status class.",
		}, []string{"route", "status_class"}),

		WorkflowStepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowmesh_workflow_step_duration_seconds",
			Help:    "Duration of a single workflow step execution.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"workflow_type", "step_id", "status"}),
		WorkflowInstanceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowmesh_workflow_instances_total",
			Help: "Workflow instances by type and terminal status.",
		}, []string{"workflow_type", "status"}),
	}

	reg.MustRegister(
		m.OutboxLagSeconds,
		m.OutboxPublished,
		m.OutboxDeadLettered,
		m.RateLimitDecisions,
		m.CircuitBreakerState,
		m.UpstreamLatency,
		m.GatewayRequests,
		m.WorkflowStepDuration,
		m.WorkflowInstanceTotal,
	)

	return m
}

// Handler exposes the registry in the Prometheus text exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// CircuitState maps gobreaker's state names onto the gauge values
// CircuitBreakerState expects.
func CircuitState(name string) float64 {
	switch name {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// StepTimer times one workflow step execution.
type StepTimer struct {
	m            *Registry
	workflowType string
	stepID       string
	start        time.Time
}

func (m *Registry) StartStepTimer(workflowType, stepID string) *StepTimer {
	return &StepTimer{m: m, workflowType: workflowType, stepID: stepID, start: time.Now()}
}

func (t *StepTimer) Stop(status string) {
	t.m.WorkflowStepDuration.WithLabelValues(t.workflowType, t.stepID, status).Observe(time.Since(t.start).Seconds())
}
