package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.OutboxPublished.WithLabelValues("order.created").Inc()
	m.RateLimitDecisions.WithLabelValues("get-orders", "REJECT").Inc()
	m.GatewayRequests.WithLabelValues("get-orders", "2xx").Inc()

	if got := testutil.ToFloat64(m.OutboxPublished.WithLabelValues("order.created")); got != 1 {
		t.Errorf("OutboxPublished = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RateLimitDecisions.WithLabelValues("get-orders", "REJECT")); got != 1 {
		t.Errorf("RateLimitDecisions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.GatewayRequests.WithLabelValues("get-orders", "2xx")); got != 1 {
		t.Errorf("GatewayRequests = %v, want 1", got)
	}
}

func TestCircuitState(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want float64
	}{
		{"closed", "closed", 0},
		{"half-open", "half-open", 1},
		{"open", "open", 2},
		{"unknown defaults to closed", "bogus", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CircuitState(tt.in); got != tt.want {
				t.Errorf("CircuitState(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestStepTimerObservesDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	timer := m.StartStepTimer("order-saga", "reserve-inventory")
	timer.Stop("completed")

	count := testutil.CollectAndCount(m.WorkflowStepDuration)
	if count != 1 {
		t.Errorf("WorkflowStepDuration sample count = %d, want 1", count)
	}
}

func TestHandlerServesPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.OutboxDeadLettered.WithLabelValues("order.created").Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	Handler(reg).ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "flowmesh_outbox_dead_lettered_total") {
		t.Errorf("response body missing flowmesh_outbox_dead_lettered_total:\n%s", rec.Body.String())
	}
}
