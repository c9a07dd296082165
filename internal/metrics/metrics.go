// Package metrics exposes Prometheus collectors for the dispatch boundary and
// the task manager.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "beacon"

// Metrics holds the collectors. All methods are safe on a nil receiver.
type Metrics struct {
	requests     *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	protocolErrs prometheus.Counter
	sinkFailures prometheus.Counter
	queueDepth   *prometheus.GaugeVec
	resultBytes  prometheus.Histogram
	registerer   prometheus.Registerer
	gatherer     prometheus.Gatherer
}

// MustNew constructs Metrics registered with reg. A nil reg uses a fresh
// registry. Registration errors panic, which mirrors promauto.
func MustNew(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "boundary",
			Name:      "requests_total",
			Help:      "Requests handled by the dispatch boundary, by Status header and response code.",
		}, []string{"status", "code"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "transitions_total",
			Help:      "Task lifecycle transitions.",
		}, []string{"action"}),
		protocolErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "boundary",
			Name:      "protocol_errors_total",
			Help:      "Result payloads rejected as malformed.",
		}),
		sinkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "sink_failures_total",
			Help:      "Completed tasks that could not be written to a log sink.",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "queue_depth",
			Help:      "Number of tasks per queue.",
		}, []string{"queue"}),
		resultBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "boundary",
			Name:      "result_payload_bytes",
			Help:      "Compressed size of result payloads.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		}),
		registerer: reg,
		gatherer:   reg,
	}

	reg.MustRegister(m.requests, m.transitions, m.protocolErrs, m.sinkFailures, m.queueDepth, m.resultBytes)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{Registry: m.registerer})
}

// ObserveRequest counts one boundary request.
func (m *Metrics) ObserveRequest(status, code string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(status, code).Inc()
}

// IncTransition counts one task transition (queue, dispatch, complete, kill).
func (m *Metrics) IncTransition(action string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action).Inc()
}

func (m *Metrics) IncProtocolError() {
	if m == nil {
		return
	}
	m.protocolErrs.Inc()
}

func (m *Metrics) IncSinkFailure() {
	if m == nil {
		return
	}
	m.sinkFailures.Inc()
}

// SetQueueDepth publishes the current queue sizes.
func (m *Metrics) SetQueueDepth(pending, dispatched, completed int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues("pending").Set(float64(pending))
	m.queueDepth.WithLabelValues("dispatched").Set(float64(dispatched))
	m.queueDepth.WithLabelValues("completed").Set(float64(completed))
}

func (m *Metrics) ObserveResultBytes(n int) {
	if m == nil {
		return
	}
	m.resultBytes.Observe(float64(n))
}
