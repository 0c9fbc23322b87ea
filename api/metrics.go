package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike AlertType = "login_failure_spike"
	AlertResetFailureSpike AlertType = "reset_failure_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// metricsCollector tracks sliding window counters for anomaly detection.
type metricsCollector struct {
	mu sync.Mutex

	// Sliding window for login failures.
	loginFailures  []time.Time
	loginWindow    time.Duration
	loginThreshold int

	// Sliding window for wrong reset codes.
	resetFailures  []time.Time
	resetWindow    time.Duration
	resetThreshold int

	alertFn AlertFunc
	now     func() time.Time
}

const (
	defaultLoginFailureWindow    = 1 * time.Minute
	defaultLoginFailureThreshold = 50
	defaultResetFailureWindow    = 5 * time.Minute
	defaultResetFailureThreshold = 20
)

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		loginWindow:    defaultLoginFailureWindow,
		loginThreshold: defaultLoginFailureThreshold,
		resetWindow:    defaultResetFailureWindow,
		resetThreshold: defaultResetFailureThreshold,
		alertFn:        alertFn,
		now:            time.Now,
	}
}

// recordEvent inspects an audit event and updates the relevant counters.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	switch event {
	case AuditLoginFailure:
		m.record(&m.loginFailures, m.loginWindow, m.loginThreshold,
			AlertLoginFailureSpike, "login failure rate exceeds threshold")
	case AuditResetVerifyFailure:
		m.record(&m.resetFailures, m.resetWindow, m.resetThreshold,
			AlertResetFailureSpike, "reset code failure rate exceeds threshold")
	}
}

func (m *metricsCollector) record(events *[]time.Time, window time.Duration, threshold int, typ AlertType, msg string) {
	m.mu.Lock()
	now := m.now()
	*events = append(trimWindow(*events, now, window), now)
	if len(*events) < threshold {
		m.mu.Unlock()
		return
	}
	alert := AlertEvent{
		Type:      typ,
		Message:   msg,
		Count:     len(*events),
		Threshold: threshold,
		Timestamp: now,
	}
	// Reset to avoid repeated alerts within the same spike.
	*events = (*events)[:0]
	m.mu.Unlock()

	m.alertFn(alert)
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
