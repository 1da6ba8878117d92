package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsCollector(reg)

	m.RecordMutation("create_comment", "rolled_back")
	m.RecordMutation("create_comment", "rolled_back")
	m.RecordChangeEvent("comment", "INSERT", "applied", time.Millisecond)
	m.SubscriptionOpened()
	m.SubscriptionOpened()
	m.SubscriptionClosed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.mutationsTotal.WithLabelValues("create_comment", "rolled_back")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconcileEventsTotal.WithLabelValues("comment", "INSERT", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.subscriptionsActive))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var m *MetricsCollector
	assert.NotPanics(t, func() {
		m.RecordMutation("x", "y")
		m.RecordHTTPRequest("GET", "/feed", 200, time.Millisecond)
		m.SetQueueDepth(3)
		m.RecordDeadLetter("x")
	})
}

func TestStatusCategory(t *testing.T) {
	assert.Equal(t, "2xx", getStatusCategory(201))
	assert.Equal(t, "4xx", getStatusCategory(422))
	assert.Equal(t, "5xx", getStatusCategory(502))
	assert.Equal(t, "unknown", getStatusCategory(0))
}
