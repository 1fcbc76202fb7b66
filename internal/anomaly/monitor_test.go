package anomaly

import (
	"context"
	"testing"
	"time"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestMonitor_RunUsesClock(t *testing.T) {
	sink := &recordingSink{}
	tr := newTestTracker(t, WithSink(sink))
	tr.OnStart(Key{Dimension: "x"}, testOrigin+nsPerSec) // alarm at 15s

	m := NewMonitor(
		WithClock(fixedClock{now: time.Unix(20, 0)}),
		WithPollInterval(10*time.Millisecond),
	)
	m.Add(tr)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	m.Stop()

	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("want 1 anomaly, got %d", len(got))
	}
	if got[0].TimestampNs != 20*nsPerSec {
		t.Errorf("anomaly should be stamped with the clock time, got %d", got[0].TimestampNs)
	}
}

func TestMonitor_FireDueDeliversAcrossTargets(t *testing.T) {
	sink := &recordingSink{}
	a := newTestTracker(t, WithSink(sink))
	spec := testSpec()
	spec.Name = "other"
	b, err := NewTracker(spec, testOrigin, WithSink(sink))
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}

	m := NewMonitor()
	m.Add(a)
	m.Add(b)

	a.OnStart(Key{Dimension: "x"}, testOrigin+nsPerSec)   // alarm at 15s
	b.OnStart(Key{Dimension: "y"}, testOrigin+2*nsPerSec) // alarm at 16s

	sec, ok := m.Next()
	if !ok || sec != 15 {
		t.Fatalf("Next: want (15, true), got (%d, %v)", sec, ok)
	}

	if n := m.FireDue(14*nsPerSec + nsPerSec/2); n != 0 {
		t.Errorf("nothing should be due before 15s, delivered %d", n)
	}
	if n := m.FireDue(15 * nsPerSec); n != 1 {
		t.Errorf("want 1 alarm at 15s, delivered %d", n)
	}
	if n := m.FireDue(16 * nsPerSec); n != 1 {
		t.Errorf("want 1 alarm at 16s, delivered %d", n)
	}

	got := sink.all()
	if len(got) != 2 {
		t.Fatalf("want 2 anomalies, got %d", len(got))
	}
	if got[0].Alert != "wakelock" || got[1].Alert != "other" {
		t.Errorf("unexpected alerts: %q, %q", got[0].Alert, got[1].Alert)
	}
	if _, ok := m.Next(); ok {
		t.Error("no alarms should remain")
	}
}

func TestMonitor_FireDueRoundsDown(t *testing.T) {
	tr := newTestTracker(t)
	m := NewMonitor()
	m.Add(tr)

	tr.OnStart(Key{Dimension: "x"}, testOrigin+nsPerSec+1) // alarm at 15s
	if n := m.FireDue(15*nsPerSec - 1); n != 0 {
		t.Errorf("alarm fired before its second, delivered %d", n)
	}
}

func TestMonitor_StartDeliversDueAlarms(t *testing.T) {
	now := time.Now()
	origin := now.Add(-10 * time.Second).UnixNano()

	delivered := make(chan Anomaly, 1)
	tr, err := NewTracker(AlertSpec{
		Name:                "live",
		NumBuckets:          1,
		BucketSize:          time.Hour,
		Threshold:           time.Second,
		RefractoryPeriodSec: 60,
	}, origin, WithSink(SinkFunc(func(a Anomaly) {
		select {
		case delivered <- a:
		default:
		}
	})))
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}

	m := NewMonitor(WithPollInterval(50 * time.Millisecond))
	m.Add(tr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	// Held for 5s already: the alarm is due immediately.
	tr.OnStart(Key{Dimension: "k"}, now.Add(-5*time.Second).UnixNano())

	select {
	case a := <-delivered:
		if a.Trigger != TriggerAlarm {
			t.Errorf("trigger: want %q, got %q", TriggerAlarm, a.Trigger)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for alarm delivery")
	}
}

func TestMonitor_StopWithoutStart(t *testing.T) {
	m := NewMonitor()
	m.Stop()
}

func TestMonitor_InvalidPollIntervalUsesDefault(t *testing.T) {
	m := NewMonitor(WithPollInterval(0))
	if m.pollInterval != DefaultPollInterval {
		t.Errorf("poll interval: want %s, got %s", DefaultPollInterval, m.pollInterval)
	}
}
