package alerts

import (
	"fmt"
	"time"

	"github.com/nixlim/durtop/internal/anomaly"
)

// Alert severity constants.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert is a user-facing notification built from a declared anomaly.
type Alert struct {
	Rule     string // configured alert name
	Severity string // warning, critical
	Message  string
	Subject  string // entity key
	FiredAt  time.Time
}

// FromAnomaly builds the notification for a. Anomalies caught only after the
// predicted alarm had already passed are critical.
func FromAnomaly(a anomaly.Anomaly) Alert {
	severity := SeverityWarning
	if a.Trigger == anomaly.TriggerOverdue {
		severity = SeverityCritical
	}
	return Alert{
		Rule:     a.Alert,
		Severity: severity,
		Message:  fmt.Sprintf("held %s in window (%s)", a.Sum().Round(time.Second), a.Trigger),
		Subject:  a.Key.String(),
		FiredAt:  a.Time(),
	}
}

// Notifier sends alert notifications via platform-specific mechanisms.
type Notifier interface {
	// Notify sends an alert notification. Implementations must be non-blocking.
	Notify(alert Alert)
}

// Sink adapts n into an anomaly sink.
func Sink(n Notifier) anomaly.Sink {
	return anomaly.SinkFunc(func(a anomaly.Anomaly) {
		n.Notify(FromAnomaly(a))
	})
}
