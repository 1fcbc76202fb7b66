package alerts

import (
	"strings"
	"testing"
	"time"

	"github.com/nixlim/durtop/internal/anomaly"
)

func TestTruncateSubject(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"short unchanged", "uid=1000", "uid=1000"},
		{"exactly 24 chars unchanged", "123456789012345678901234", "123456789012345678901234"},
		{"25 chars truncated", "1234567890123456789012345", "123456789012345678901234..."},
		{"empty", "", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := truncateSubject(tc.input); got != tc.want {
				t.Errorf("truncateSubject(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestFromAnomaly(t *testing.T) {
	a := anomaly.Anomaly{
		Alert:       "wakelock_screen_off",
		Key:         anomaly.Key{Dimension: "1000"},
		TimestampNs: int64(90 * time.Second),
		SumNs:       int64(31*time.Minute + 400*time.Millisecond),
		Trigger:     anomaly.TriggerAlarm,
	}

	got := FromAnomaly(a)
	if got.Rule != "wakelock_screen_off" {
		t.Errorf("rule: got %q", got.Rule)
	}
	if got.Severity != SeverityWarning {
		t.Errorf("severity: want warning, got %q", got.Severity)
	}
	if got.Subject != a.Key.String() {
		t.Errorf("subject: want %q, got %q", a.Key.String(), got.Subject)
	}
	if !strings.Contains(got.Message, "31m0s") || !strings.Contains(got.Message, "alarm") {
		t.Errorf("message: got %q", got.Message)
	}
	if !got.FiredAt.Equal(time.Unix(90, 0)) {
		t.Errorf("fired at: got %v", got.FiredAt)
	}

	a.Trigger = anomaly.TriggerOverdue
	if sev := FromAnomaly(a).Severity; sev != SeverityCritical {
		t.Errorf("overdue severity: want critical, got %q", sev)
	}
}

type recordingNotifier struct{ got []Alert }

func (r *recordingNotifier) Notify(a Alert) { r.got = append(r.got, a) }

func TestSink(t *testing.T) {
	n := &recordingNotifier{}
	sink := Sink(n)

	sink.Notify(anomaly.Anomaly{Alert: "gps", Key: anomaly.Key{Dimension: "7"}, Trigger: anomaly.TriggerStop})

	if len(n.got) != 1 || n.got[0].Rule != "gps" {
		t.Errorf("unexpected alerts: %+v", n.got)
	}
}

func TestPlatformNotifier_DisabledIsSilent(t *testing.T) {
	n := NewPlatformNotifier(false, nil)
	n.Notify(Alert{Rule: "wakelock", Message: "held 31m0s in window (alarm)"})
	NopNotifier{}.Notify(Alert{})
}
