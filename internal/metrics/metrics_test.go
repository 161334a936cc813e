package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dukerupert/famcal/internal/apperror"
)

func TestObserveOperation(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveOperation("create_event", nil)
	m.ObserveOperation("create_event", &apperror.ConflictError{})
	m.ObserveOperation("create_event", &apperror.ConflictError{})
	m.ObserveOperation("update_event", apperror.Forbidden("synced events cannot be modified"))
	m.ObserveOperation("update_event", errors.New("boom"))

	body := scrape(t, m)
	for _, line := range []string{
		`famcal_scheduling_operations_total{operation="create_event",result="conflict"} 2`,
		`famcal_scheduling_operations_total{operation="create_event",result="ok"} 1`,
		`famcal_scheduling_operations_total{operation="update_event",result="forbidden"} 1`,
		`famcal_scheduling_operations_total{operation="update_event",result="internal"} 1`,
		`famcal_scheduling_conflicts_total 2`,
	} {
		if !strings.Contains(body, line) {
			t.Errorf("metrics output missing %q", line)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveOperation("create_event", nil)
	m.AuditDropped()
	m.ObserveHTTP("GET", 200, time.Millisecond)
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveHTTP("GET", 200, 5*time.Millisecond)
	m.AuditDropped()

	body := scrape(t, m)
	for _, name := range []string{"famcal_http_request_duration_seconds", "famcal_audit_dropped_total 1", "go_goroutines"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %q", name)
		}
	}
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}
