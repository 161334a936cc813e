// Package metrics holds the Prometheus collectors for the scheduling engine.
// Collectors live on a caller-supplied registry so tests and multiple
// instances never share state.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukerupert/famcal/internal/apperror"
)

type Metrics struct {
	registry     *prometheus.Registry
	operations   *prometheus.CounterVec
	conflicts    prometheus.Counter
	auditDropped prometheus.Counter
	httpDuration *prometheus.HistogramVec
}

// New registers the engine's collectors, plus Go runtime and process
// collectors, on reg.
func New(reg *prometheus.Registry) *Metrics {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "famcal_scheduling_operations_total",
			Help: "Scheduling operations by operation name and result kind",
		}, []string{"operation", "result"}),
		conflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "famcal_scheduling_conflicts_total",
			Help: "Blocker conflicts that rejected a create or update",
		}),
		auditDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "famcal_audit_dropped_total",
			Help: "Audit entries dropped because the write buffer was full or the write failed",
		}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "famcal_http_request_duration_seconds",
			Help:    "HTTP request latency by method and status code",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveOperation counts one call of op, labelled by the kind of err.
// A ConflictError also bumps the conflict counter.
func (m *Metrics) ObserveOperation(op string, err error) {
	if m == nil {
		return
	}
	kind := apperror.Kind(err)
	m.operations.WithLabelValues(op, kind).Inc()
	if kind == apperror.KindConflict {
		m.conflicts.Inc()
	}
}

func (m *Metrics) AuditDropped() {
	if m == nil {
		return
	}
	m.auditDropped.Inc()
}

func (m *Metrics) ObserveHTTP(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, strconv.Itoa(status)).Observe(d.Seconds())
}
