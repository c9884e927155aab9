package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordInteraction(t *testing.T) {
	m := New()
	m.RecordInteraction("stdio", "ok")
	m.RecordInteraction("stdio", "ok")
	m.RecordInteraction("http", "invalid")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.interactionsLogged.WithLabelValues("stdio", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.interactionsLogged.WithLabelValues("http", "invalid")))
}

func TestMetrics_InFlight(t *testing.T) {
	m := New()
	m.RPCStarted()
	m.RPCStarted()
	m.RPCFinished()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rpcInFlight))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordInteraction("stdio", "ok")
		m.RecordRPC("ping", "ok", time.Millisecond)
		m.RecordHeartbeat()
		m.RPCStarted()
		m.RPCFinished()
		m.ObserveStorage("insert", time.Millisecond)
		m.RecordHTTP("GET", "/health", "200", time.Millisecond)
		m.RecordRateLimited()
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.RecordHeartbeat()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(string(body), "audit_relay_heartbeats_sent_total 1"))
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	a, b := New(), New()
	a.RecordHeartbeat()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.heartbeats))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.heartbeats))
}
