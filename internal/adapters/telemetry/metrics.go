// Package telemetry exposes service metrics through Prometheus collectors.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/domain"
)

// Metrics implements app.Metrics on a private Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	created      prometheus.Counter
	events       *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	agentCalls   *prometheus.CounterVec
	agentLatency *prometheus.HistogramVec
	conflicts    prometheus.Counter
	expired      prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers every collector, plus the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		created: factory.NewCounter(prometheus.CounterOpts{
			Name: "haggle_negotiations_created_total",
			Help: "Total number of negotiations opened",
		}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "haggle_events_appended_total",
			Help: "Total number of ledger events appended by kind",
		}, []string{"kind"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "haggle_status_transitions_total",
			Help: "Total number of negotiation status transitions",
		}, []string{"from", "to"}),
		agentCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "haggle_agent_calls_total",
			Help: "Total number of counter-offer agent calls by outcome",
		}, []string{"outcome"}),
		agentLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "haggle_agent_call_duration_seconds",
			Help:    "Duration of counter-offer agent calls in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		conflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "haggle_concurrency_conflicts_total",
			Help: "Total number of optimistic version conflicts",
		}),
		expired: factory.NewCounter(prometheus.CounterOpts{
			Name: "haggle_negotiations_expired_total",
			Help: "Total number of negotiations moved to expired",
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "haggle_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "haggle_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the backing registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// NegotiationCreated counts a new negotiation.
func (m *Metrics) NegotiationCreated() {
	m.created.Inc()
}

// EventAppended counts one ledger append.
func (m *Metrics) EventAppended(kind domain.EventKind) {
	m.events.WithLabelValues(string(kind)).Inc()
}

// StatusChanged counts one status transition.
func (m *Metrics) StatusChanged(from, to domain.Status) {
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

// AgentCall records one agent call outcome and its latency.
func (m *Metrics) AgentCall(outcome string, elapsed time.Duration) {
	m.agentCalls.WithLabelValues(outcome).Inc()
	m.agentLatency.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ConcurrencyConflict counts a failed version check.
func (m *Metrics) ConcurrencyConflict() {
	m.conflicts.Inc()
}

// Expired counts negotiations moved to expired.
func (m *Metrics) Expired(count int) {
	if count > 0 {
		m.expired.Add(float64(count))
	}
}

// InstrumentHTTP wraps next with request count and latency collection under a fixed route label.
func (m *Metrics) InstrumentHTTP(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// statusRecorder captures the response status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

// WriteHeader records the status before delegating.
func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps streaming responses working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
