package anomaly

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func testSpec() AlertSpec {
	return AlertSpec{
		Name:                "wakelock",
		NumBuckets:          2,
		BucketSize:          10 * time.Second,
		Threshold:           3 * time.Second,
		RefractoryPeriodSec: 60,
		CountNesting:        true,
	}
}

func newTestTracker(t *testing.T, opts ...TrackerOption) *Tracker {
	t.Helper()
	tr, err := NewTracker(testSpec(), testOrigin, opts...)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	return tr
}

type recordingSink struct {
	mu        sync.Mutex
	anomalies []Anomaly
}

func (s *recordingSink) Notify(a Anomaly) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anomalies = append(s.anomalies, a)
}

func (s *recordingSink) all() []Anomaly {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Anomaly(nil), s.anomalies...)
}

func TestNewTracker_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AlertSpec)
		wantErr string
	}{
		{name: "valid", mutate: func(*AlertSpec) {}},
		{name: "empty name", mutate: func(s *AlertSpec) { s.Name = "" }, wantErr: "name must not be empty"},
		{name: "zero buckets", mutate: func(s *AlertSpec) { s.NumBuckets = 0 }, wantErr: "num_buckets"},
		{name: "zero bucket size", mutate: func(s *AlertSpec) { s.BucketSize = 0 }, wantErr: "bucket size"},
		{name: "zero threshold", mutate: func(s *AlertSpec) { s.Threshold = 0 }, wantErr: "threshold"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			spec := testSpec()
			tc.mutate(&spec)

			_, err := NewTracker(spec, testOrigin)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestNewTracker_ReportsAllProblems(t *testing.T) {
	_, err := NewTracker(AlertSpec{Name: "bad"}, testOrigin)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"num_buckets", "bucket size", "threshold"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err.Error(), want)
		}
	}
}

func TestNewTracker_RejectsInvertedLimits(t *testing.T) {
	_, err := NewTracker(testSpec(), testOrigin, WithDimensionLimits(10, 5))
	if err == nil {
		t.Fatal("expected error for soft limit above hard limit")
	}
}

func TestTracker_UnreachableThresholdNeverAlarms(t *testing.T) {
	spec := testSpec()
	spec.Threshold = 21 * time.Second // more than 2 x 10s
	tr, err := NewTracker(spec, testOrigin)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}

	key := Key{Dimension: "k"}
	tr.OnStart(key, testOrigin+nsPerSec)
	if got := tr.AlarmTimestampSec(key); got != 0 {
		t.Errorf("unreachable threshold scheduled alarm %d", got)
	}
	tr.OnStop(key, testOrigin+100*nsPerSec)
	if s := tr.Stats(); s.Anomalies != 0 {
		t.Errorf("want no anomalies, got %d", s.Anomalies)
	}
}

func TestTracker_EntitiesAreIsolated(t *testing.T) {
	tr := newTestTracker(t)
	a := Key{Dimension: "app-a"}
	b := Key{Dimension: "app-b"}

	tr.OnStart(a, testOrigin+nsPerSec)
	tr.OnStop(a, testOrigin+5*nsPerSec) // 4s > 3s

	if got := tr.RefractoryPeriodEndsSec(a); got == 0 {
		t.Error("entity a should have triggered")
	}
	if got := tr.RefractoryPeriodEndsSec(b); got != 0 {
		t.Errorf("entity b must be unaffected, got refractory %d", got)
	}

	// b accrues from scratch: 3s are reached at 19s and exceeded after.
	tr.OnStart(b, testOrigin+6*nsPerSec)
	if got, want := tr.AlarmTimestampSec(b), uint32(20); got != want {
		t.Errorf("alarm for b: want %d, got %d", want, got)
	}
}

func TestTracker_ConditionDimensionSeparatesKeys(t *testing.T) {
	tr := newTestTracker(t)
	on := Key{Dimension: "app", ConditionDimension: "display-on"}
	off := Key{Dimension: "app", ConditionDimension: "display-off"}

	tr.OnStart(on, testOrigin+nsPerSec)
	if got := tr.AlarmTimestampSec(off); got != 0 {
		t.Errorf("alarm leaked across condition dimensions: %d", got)
	}
	if n := len(tr.Snapshot(testOrigin + 2*nsPerSec)); n != 1 {
		t.Errorf("want 1 entity, got %d", n)
	}
}

func TestTracker_AnomalyDeliveredToSinks(t *testing.T) {
	sink := &recordingSink{}
	var fnCalls int
	tr := newTestTracker(t,
		WithSink(sink),
		WithSink(SinkFunc(func(Anomaly) { fnCalls++ })),
	)
	key := Key{Dimension: "k"}

	tr.OnStart(key, testOrigin+nsPerSec)
	tr.OnStop(key, testOrigin+5*nsPerSec)

	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("want 1 anomaly, got %d", len(got))
	}
	a := got[0]
	if a.ID == "" {
		t.Error("anomaly ID should be set")
	}
	if a.Alert != "wakelock" || a.Key != key || a.Trigger != TriggerStop {
		t.Errorf("unexpected anomaly: %+v", a)
	}
	if a.Sum() != 4*time.Second {
		t.Errorf("sum: want 4s, got %s", a.Sum())
	}
	if a.RefractoryEndsSec != 15+60 {
		t.Errorf("refractory end: want 75, got %d", a.RefractoryEndsSec)
	}
	if !a.Time().Equal(time.Unix(15, 0)) {
		t.Errorf("time: want 15s, got %s", a.Time())
	}
	if fnCalls != 1 {
		t.Errorf("SinkFunc calls: want 1, got %d", fnCalls)
	}
}

func TestTracker_SumAtThresholdIsNotAnomaly(t *testing.T) {
	tr := newTestTracker(t)
	key := Key{Dimension: "k"}

	// Held for exactly the threshold.
	tr.OnStart(key, testOrigin+nsPerSec+1)
	tr.OnStop(key, testOrigin+4*nsPerSec+1)

	if s := tr.Stats(); s.Anomalies != 0 {
		t.Errorf("sum equal to threshold must not trigger, got %d anomalies", s.Anomalies)
	}
}

func TestTracker_AlarmTieRoundsUp(t *testing.T) {
	spec := testSpec()
	spec.NumBuckets = 1
	spec.Threshold = time.Second
	sink := &recordingSink{}
	tr, err := NewTracker(spec, 0, WithSink(sink))
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	key := Key{Dimension: "k"}

	// The sum reaches 1s at exactly 2s, so the first second past it is 3s.
	tr.OnStart(key, nsPerSec)
	if got := tr.AlarmTimestampSec(key); got != 3 {
		t.Fatalf("alarm: want 3, got %d", got)
	}

	// Delivered at 2s the sum only equals the threshold: no anomaly, and
	// the alarm is scheduled again.
	tr.OnAlarmFired(2*nsPerSec, tr.Registry().PopSoonerThan(3))
	if n := len(sink.all()); n != 0 {
		t.Fatalf("sum equal to threshold declared %d anomalies", n)
	}
	if got := tr.AlarmTimestampSec(key); got != 3 {
		t.Fatalf("alarm after early delivery: want 3, got %d", got)
	}

	tr.OnAlarmFired(3*nsPerSec, tr.Registry().PopSoonerThan(3))
	got := sink.all()
	if len(got) != 1 || got[0].Trigger != TriggerAlarm || got[0].Sum() != 2*time.Second {
		t.Errorf("want one alarm anomaly with sum 2s, got %+v", got)
	}
}

func TestTracker_StopOnBucketBoundaryDeclares(t *testing.T) {
	// Buckets of one second starting on the half second.
	origin := nsPerSec / 2
	sink := &recordingSink{}
	tr, err := NewTracker(AlertSpec{
		Name:                "boundary",
		NumBuckets:          1,
		BucketSize:          time.Second,
		Threshold:           500 * time.Millisecond,
		RefractoryPeriodSec: 60,
	}, origin, WithSink(sink))
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	key := Key{Dimension: "k"}

	// 0.9s held, all of it in bucket 0, released as bucket 0 closes.
	tr.OnStart(key, origin+nsPerSec/10)
	tr.OnStop(key, origin+nsPerSec)

	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("want 1 anomaly, got %d", len(got))
	}
	if got[0].Trigger != TriggerStop || got[0].Sum() != 900*time.Millisecond {
		t.Errorf("want stop anomaly with sum 900ms, got %+v", got[0])
	}
	if want := ceilSec(origin+nsPerSec) + 60; tr.RefractoryPeriodEndsSec(key) != want {
		t.Errorf("refractory end: want %d, got %d", want, tr.RefractoryPeriodEndsSec(key))
	}
}

func TestTracker_AlarmOnBucketEndDeclares(t *testing.T) {
	spec := testSpec()
	spec.NumBuckets = 1
	spec.Threshold = 9500 * time.Millisecond
	sink := &recordingSink{}
	tr, err := NewTracker(spec, 0, WithSink(sink))
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	key := Key{Dimension: "k"}

	// Bucket [10s, 20s) only ties at 9.5s; bucket [20s, 30s) exceeds it
	// just before 30s, and the window ending at 30s still holds that bucket.
	tr.OnStart(key, 10*nsPerSec+nsPerSec/2)
	if got := tr.AlarmTimestampSec(key); got != 30 {
		t.Fatalf("alarm: want 30, got %d", got)
	}

	m := NewMonitor()
	m.Add(tr)
	for sec := int64(11); sec <= 60; sec++ {
		m.FireDue(sec * nsPerSec)
	}

	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("want 1 anomaly, got %d", len(got))
	}
	if got[0].TimestampNs != 30*nsPerSec || got[0].Sum() != 10*time.Second {
		t.Errorf("want anomaly at 30s with sum 10s, got %+v", got[0])
	}
}

func TestTracker_OverdueReportsAlarmSum(t *testing.T) {
	spec := testSpec()
	spec.NumBuckets = 1
	sink := &recordingSink{}
	tr, err := NewTracker(spec, testOrigin, WithSink(sink))
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	key := Key{Dimension: "k"}

	// 3.5s in bucket 0 by the alarm at 20s.
	tr.OnStart(key, testOrigin+6*nsPerSec+nsPerSec/2)
	if got := tr.AlarmTimestampSec(key); got != 20 {
		t.Fatalf("alarm: want 20, got %d", got)
	}

	// The monitor missed it; the stop lands in bucket 1 with 0.5s there.
	tr.OnStop(key, testOrigin+10*nsPerSec+nsPerSec/2)

	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("want 1 anomaly, got %d", len(got))
	}
	if got[0].Trigger != TriggerOverdue || got[0].Sum() != 3500*time.Millisecond {
		t.Errorf("want overdue anomaly with sum 3.5s, got %+v", got[0])
	}
}

func TestTracker_RefractorySuppressesAndDefersAlarm(t *testing.T) {
	tr := newTestTracker(t)
	key := Key{Dimension: "k"}

	tr.OnStart(key, testOrigin+nsPerSec)
	tr.OnStop(key, testOrigin+5*nsPerSec)
	refr := tr.RefractoryPeriodEndsSec(key)
	if refr != 75 {
		t.Fatalf("refractory end: want 75, got %d", refr)
	}

	// Over the threshold again straight away, but refractory until 75s.
	tr.OnStart(key, testOrigin+6*nsPerSec)
	if got := tr.AlarmTimestampSec(key); got < refr {
		t.Errorf("alarm %d scheduled inside refractory period ending %d", got, refr)
	}
	tr.OnStop(key, testOrigin+9*nsPerSec)

	// The first stop was also past its alarm second.
	s := tr.Stats()
	if s.Anomalies != 1 || s.Suppressed != 2 {
		t.Errorf("stats: want 1 anomaly and 2 suppressed, got %+v", s)
	}
	if got := tr.RefractoryPeriodEndsSec(key); got != refr {
		t.Errorf("suppressed crossing changed refractory end to %d", got)
	}
}

func TestTracker_StopWithoutStartIsIgnored(t *testing.T) {
	tr := newTestTracker(t)
	key := Key{Dimension: "k"}

	tr.OnStop(key, testOrigin+nsPerSec)
	if n := tr.Stats().Entities; n != 0 {
		t.Errorf("stop without start created %d entities", n)
	}

	tr.OnStart(key, testOrigin+2*nsPerSec)
	tr.OnStop(key, testOrigin+3*nsPerSec)
	tr.OnStop(key, testOrigin+4*nsPerSec)

	st := tr.Snapshot(testOrigin + 4*nsPerSec)
	if len(st) != 1 || st[0].Nesting != 0 || st[0].Sum != time.Second {
		t.Errorf("duplicate stop changed state: %+v", st)
	}
}

func TestTracker_NestedStopKeepsAlarm(t *testing.T) {
	tr := newTestTracker(t)
	key := Key{Dimension: "k"}

	tr.OnStart(key, testOrigin+nsPerSec)
	tr.OnStart(key, testOrigin+2*nsPerSec)
	alarm := tr.AlarmTimestampSec(key)

	tr.OnStop(key, testOrigin+3*nsPerSec)
	if got := tr.AlarmTimestampSec(key); got != alarm {
		t.Errorf("inner stop changed alarm from %d to %d", alarm, got)
	}
}

func TestTracker_ConditionGatesAccrual(t *testing.T) {
	tr := newTestTracker(t, WithInitialCondition(false))
	key := Key{Dimension: "k"}

	if tr.Condition() {
		t.Fatal("initial condition should be false")
	}

	tr.OnStart(key, testOrigin+nsPerSec)
	if got := tr.AlarmTimestampSec(key); got != 0 {
		t.Errorf("no alarm expected while condition is false, got %d", got)
	}

	tr.OnConditionChanged(true, testOrigin+5*nsPerSec)
	if got, want := tr.AlarmTimestampSec(key), uint32(19); got != want {
		t.Errorf("alarm after condition true: want %d, got %d", want, got)
	}

	// Repeating the current condition is a no-op.
	tr.OnConditionChanged(true, testOrigin+6*nsPerSec)
	if got := tr.AlarmTimestampSec(key); got != 19 {
		t.Errorf("repeated condition changed alarm to %d", got)
	}

	tr.OnConditionChanged(false, testOrigin+7*nsPerSec)
	tr.OnStop(key, testOrigin+9*nsPerSec)

	st := tr.Snapshot(testOrigin + 9*nsPerSec)
	if len(st) != 1 || st[0].Sum != 2*time.Second {
		t.Errorf("only condition-true time should count, got %+v", st)
	}
}

func TestTracker_StaleAlarmIsIgnored(t *testing.T) {
	sink := &recordingSink{}
	tr := newTestTracker(t, WithSink(sink))
	key := Key{Dimension: "k"}

	tr.OnStart(key, testOrigin+nsPerSec)
	stale := tr.Registry().PopSoonerThan(^uint32(0))
	if len(stale) != 1 {
		t.Fatalf("want 1 pending alarm, got %d", len(stale))
	}

	// Rescheduled after a pause: the popped alarm no longer matches.
	tr.OnConditionChanged(false, testOrigin+2*nsPerSec)
	tr.OnConditionChanged(true, testOrigin+3*nsPerSec)
	tr.OnAlarmFired(testOrigin+20*nsPerSec, stale)

	if n := len(sink.all()); n != 0 {
		t.Errorf("stale alarm declared %d anomalies", n)
	}
	if tr.AlarmTimestampSec(key) == 0 {
		t.Error("stale alarm cleared the live alarm")
	}
}

func TestTracker_LateAlarmDeclaresAtDeliveryTime(t *testing.T) {
	sink := &recordingSink{}
	tr := newTestTracker(t, WithSink(sink))
	key := Key{Dimension: "k"}

	tr.OnStart(key, testOrigin+nsPerSec)
	alarm := tr.AlarmTimestampSec(key)

	deliveredAt := int64(alarm)*nsPerSec + 2*nsPerSec
	fired := tr.Registry().PopSoonerThan(alarm)
	tr.OnAlarmFired(deliveredAt, fired)

	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("want 1 anomaly, got %d", len(got))
	}
	if got[0].Trigger != TriggerAlarm || got[0].TimestampNs != deliveredAt {
		t.Errorf("unexpected anomaly: %+v", got[0])
	}
	if want := ceilSec(deliveredAt) + 60; got[0].RefractoryEndsSec != want {
		t.Errorf("refractory end: want %d, got %d", want, got[0].RefractoryEndsSec)
	}
}

func TestTracker_AlarmAfterStopIsNoop(t *testing.T) {
	sink := &recordingSink{}
	tr := newTestTracker(t, WithSink(sink))
	key := Key{Dimension: "k"}

	tr.OnStart(key, testOrigin+nsPerSec)
	alarm := tr.AlarmTimestampSec(key)
	fired := tr.Registry().PopSoonerThan(alarm)

	// Stop lands before delivery; the popped alarm is now stale.
	tr.OnStop(key, testOrigin+2*nsPerSec)
	tr.OnAlarmFired(int64(alarm)*nsPerSec, fired)

	if n := len(sink.all()); n != 0 {
		t.Errorf("want no anomalies, got %d", n)
	}
}

func TestTracker_DropsLateAndEarlyEvents(t *testing.T) {
	tr := newTestTracker(t)
	key := Key{Dimension: "k"}

	tr.OnStart(key, testOrigin-1)
	if n := tr.Stats().Entities; n != 0 {
		t.Errorf("event before origin created %d entities", n)
	}

	tr.OnStart(key, testOrigin+25*nsPerSec) // bucket 2
	tr.OnStop(key, testOrigin+5*nsPerSec)   // bucket 0, late

	st := tr.Snapshot(testOrigin + 26*nsPerSec)
	if len(st) != 1 || !st[0].Accruing {
		t.Errorf("late stop should be dropped, got %+v", st)
	}
	if got := tr.Stats().DroppedEvents; got != 2 {
		t.Errorf("dropped events: want 2, got %d", got)
	}
}

func TestTracker_DimensionHardLimit(t *testing.T) {
	tr := newTestTracker(t, WithDimensionLimits(1, 2))

	for i, dim := range []string{"a", "b", "c"} {
		tr.OnStart(Key{Dimension: dim}, testOrigin+int64(i+1)*nsPerSec)
	}

	s := tr.Stats()
	if s.Entities != 2 {
		t.Errorf("entities: want 2, got %d", s.Entities)
	}
	if s.DroppedEvents != 1 {
		t.Errorf("dropped events: want 1, got %d", s.DroppedEvents)
	}

	// Existing keys still work at the limit.
	tr.OnStop(Key{Dimension: "a"}, testOrigin+5*nsPerSec)
	if tr.Snapshot(testOrigin + 5*nsPerSec)[0].Accruing {
		t.Error("existing key should accept events at the hard limit")
	}
}

func TestTracker_RestoreRefractory(t *testing.T) {
	tr := newTestTracker(t)
	key := Key{Dimension: "k"}

	tr.RestoreRefractory(key, 100)
	tr.RestoreRefractory(key, 50)
	if got := tr.RefractoryPeriodEndsSec(key); got != 100 {
		t.Errorf("refractory end: want 100, got %d", got)
	}

	tr.OnStart(key, testOrigin+nsPerSec)
	if got := tr.AlarmTimestampSec(key); got < 100 {
		t.Errorf("alarm %d scheduled before restored refractory end", got)
	}
}

func TestTracker_Reset(t *testing.T) {
	tr := newTestTracker(t)
	key := Key{Dimension: "k"}

	tr.OnStart(key, testOrigin+nsPerSec)
	tr.Reset()

	if n := tr.Stats().Entities; n != 0 {
		t.Errorf("entities after reset: want 0, got %d", n)
	}
	if n := tr.Registry().Len(); n != 0 {
		t.Errorf("pending alarms after reset: want 0, got %d", n)
	}
	if got := tr.AlarmTimestampSec(key); got != 0 {
		t.Errorf("alarm after reset: want 0, got %d", got)
	}
}

func TestTracker_SnapshotSortedAndProjected(t *testing.T) {
	tr := newTestTracker(t)
	tr.OnStart(Key{Dimension: "b"}, testOrigin+nsPerSec)
	tr.OnStart(Key{Dimension: "a"}, testOrigin+2*nsPerSec)

	st := tr.Snapshot(testOrigin + 4*nsPerSec)
	if len(st) != 2 {
		t.Fatalf("want 2 entities, got %d", len(st))
	}
	if st[0].Key.Dimension != "a" || st[1].Key.Dimension != "b" {
		t.Errorf("snapshot not sorted: %v, %v", st[0].Key, st[1].Key)
	}
	if st[1].Sum != 3*time.Second {
		t.Errorf("projected sum for b: want 3s, got %s", st[1].Sum)
	}
	if !st[0].HeldSince.Equal(time.Unix(0, testOrigin+2*nsPerSec)) {
		t.Errorf("held since: got %s", st[0].HeldSince)
	}
}

func TestTracker_ConcurrentEvents(t *testing.T) {
	tr := newTestTracker(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := Key{Dimension: string(rune('a' + i))}
			for j := int64(0); j < 50; j++ {
				ts := testOrigin + j*nsPerSec
				tr.OnStart(key, ts)
				tr.OnStop(key, ts+nsPerSec/2)
			}
		}(i)
	}
	wg.Wait()

	if n := tr.Stats().Entities; n > 8 {
		t.Errorf("entities: want at most 8, got %d", n)
	}
}
