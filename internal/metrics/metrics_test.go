package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := MustNew(prometheus.NewRegistry())

	m.ObserveRequest("task", "200")
	m.ObserveRequest("task", "200")
	m.ObserveRequest("result", "400")
	m.IncTransition("dispatch")
	m.IncProtocolError()
	m.IncSinkFailure()
	m.SetQueueDepth(3, 1, 7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("task", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("result", "400")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("dispatch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.protocolErrs))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sinkFailures))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("pending")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("completed")))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("task", "200")
		m.IncTransition("kill")
		m.IncProtocolError()
		m.IncSinkFailure()
		m.SetQueueDepth(1, 1, 1)
		m.ObserveResultBytes(10)
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := MustNew(nil)
	m.IncTransition("queue")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `beacon_tasks_transitions_total{action="queue"} 1`))
}
