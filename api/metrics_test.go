package api

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type alertRecorder struct {
	mu     sync.Mutex
	alerts []AlertEvent
}

func (r *alertRecorder) record(e AlertEvent) {
	r.mu.Lock()
	r.alerts = append(r.alerts, e)
	r.mu.Unlock()
}

func (r *alertRecorder) get() []AlertEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AlertEvent(nil), r.alerts...)
}

func TestLoginFailureSpikeAlert(t *testing.T) {
	rec := &alertRecorder{}
	collector := newMetricsCollector(rec.record)
	collector.loginFailures.threshold = 5

	for range 4 {
		collector.recordEvent(AuditLoginFailure)
	}
	assert.Empty(t, rec.get(), "no alert below threshold")

	collector.recordEvent(AuditLoginFailure)
	alerts := rec.get()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLoginFailureSpike, alerts[0].Type)
	assert.Equal(t, 5, alerts[0].Count)
}

func TestUpstreamOutageAlert(t *testing.T) {
	rec := &alertRecorder{}
	collector := newMetricsCollector(rec.record)
	collector.offline.threshold = 3

	collector.recordEvent(AuditUpstreamOffline)
	collector.recordEvent(AuditLoginFailure)
	collector.recordEvent(AuditUpstreamOffline)
	assert.Empty(t, rec.get())

	collector.recordEvent(AuditUpstreamOffline)
	alerts := rec.get()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertUpstreamOutage, alerts[0].Type)
	assert.Equal(t, 3, alerts[0].Threshold)
}

func TestMetricsIgnoresOtherEvents(t *testing.T) {
	rec := &alertRecorder{}
	collector := newMetricsCollector(rec.record)
	collector.loginFailures.threshold = 1
	collector.offline.threshold = 1

	collector.recordEvent(AuditLoginSuccess)
	collector.recordEvent(AuditRefresh)
	collector.recordEvent(AuditLogout)
	assert.Empty(t, rec.get())
}

func TestMetricsNoAlertWithoutCallback(t *testing.T) {
	collector := newMetricsCollector(nil)
	collector.recordEvent(AuditLoginFailure)
}

func TestMetricsNilCollector(t *testing.T) {
	var collector *metricsCollector
	collector.recordEvent(AuditLoginFailure)
}

func TestMetricsSlidingWindowExpiry(t *testing.T) {
	rec := &alertRecorder{}
	collector := newMetricsCollector(rec.record)
	collector.loginFailures.threshold = 5
	collector.loginFailures.window = 100 * time.Millisecond

	for range 4 {
		collector.recordEvent(AuditLoginFailure)
	}
	time.Sleep(150 * time.Millisecond)

	collector.recordEvent(AuditLoginFailure)
	assert.Empty(t, rec.get(), "old failures should not count after window expiry")
}

func TestMetricsResetAfterAlert(t *testing.T) {
	rec := &alertRecorder{}
	collector := newMetricsCollector(rec.record)
	collector.loginFailures.threshold = 3

	for range 3 {
		collector.recordEvent(AuditLoginFailure)
	}
	require.Len(t, rec.get(), 1)

	for range 2 {
		collector.recordEvent(AuditLoginFailure)
	}
	assert.Len(t, rec.get(), 1, "no second alert yet")

	collector.recordEvent(AuditLoginFailure)
	assert.Len(t, rec.get(), 2)
}
