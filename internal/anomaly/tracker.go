package anomaly

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nixlim/durtop/internal/metrics"
)

// Default dimension guardrails.
const (
	DefaultDimensionSoftLimit = 500
	DefaultDimensionHardLimit = 800
)

type entity struct {
	window            *bucketWindow
	duration          durationState
	alarmSec          uint32
	refractoryEndsSec uint32
}

// Tracker detects entities whose held duration, summed over a window of
// buckets, exceeds a threshold. It predicts the crossing instant while an
// entity is accruing and schedules an alarm for it in its registry.
//
// All methods are safe for concurrent use; operations are serialised per
// tracker.
type Tracker struct {
	spec        AlertSpec
	originNs    int64
	bucketNs    int64
	thresholdNs int64

	mu           sync.Mutex
	entities     map[Key]*entity
	condition    bool
	latestBucket int64
	softWarned   bool
	stats        Stats

	registry  *AlarmRegistry
	sinks     []Sink
	logger    *zap.Logger
	softLimit int
	hardLimit int
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithSink adds a sink that receives every declared anomaly.
func WithSink(s Sink) TrackerOption {
	return func(t *Tracker) { t.sinks = append(t.sinks, s) }
}

// WithLogger sets the tracker logger.
func WithLogger(l *zap.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = l }
}

// WithInitialCondition sets the tracker condition before the first
// condition event. The default is true.
func WithInitialCondition(met bool) TrackerOption {
	return func(t *Tracker) { t.condition = met }
}

// WithDimensionLimits sets the entity count guardrails. Zero disables a limit.
func WithDimensionLimits(soft, hard int) TrackerOption {
	return func(t *Tracker) {
		t.softLimit = soft
		t.hardLimit = hard
	}
}

// WithRegistry injects the alarm registry.
func WithRegistry(r *AlarmRegistry) TrackerOption {
	return func(t *Tracker) { t.registry = r }
}

// NewTracker creates a tracker whose buckets are aligned to originNs.
func NewTracker(spec AlertSpec, originNs int64, opts ...TrackerOption) (*Tracker, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	t := &Tracker{
		spec:        spec,
		originNs:    originNs,
		bucketNs:    int64(spec.BucketSize),
		thresholdNs: int64(spec.Threshold),
		entities:    make(map[Key]*entity),
		condition:   true,
		softLimit:   DefaultDimensionSoftLimit,
		hardLimit:   DefaultDimensionHardLimit,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.registry == nil {
		t.registry = NewAlarmRegistry()
	}
	if t.hardLimit > 0 && t.softLimit > t.hardLimit {
		return nil, fmt.Errorf("dimension soft limit %d exceeds hard limit %d", t.softLimit, t.hardLimit)
	}
	t.logger = t.logger.With(zap.String("alert", spec.Name))

	return t, nil
}

func (t *Tracker) Name() string { return t.spec.Name }

func (t *Tracker) Spec() AlertSpec { return t.spec }

func (t *Tracker) Registry() *AlarmRegistry { return t.registry }

// Origin returns the start of bucket 0.
func (t *Tracker) Origin() time.Time { return time.Unix(0, t.originNs) }

// Condition reports the current tracker-wide condition.
func (t *Tracker) Condition() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.condition
}

// OnStart records that key started holding at tsNs.
func (t *Tracker) OnStart(key Key, tsNs int64) {
	t.mu.Lock()
	if !t.acceptLocked(tsNs, "start") {
		t.mu.Unlock()
		return
	}
	if e := t.entityLocked(key); e != nil {
		if e.duration.onStart(tsNs, t.spec.CountNesting, t.condition) {
			t.scheduleLocked(key, e, tsNs)
		}
	}
	t.mu.Unlock()
}

// OnStop records that key stopped holding at tsNs. A stop without a matching
// start is ignored.
func (t *Tracker) OnStop(key Key, tsNs int64) {
	var raised []Anomaly

	t.mu.Lock()
	if !t.acceptLocked(tsNs, "stop") {
		t.mu.Unlock()
		return
	}
	if e, ok := t.entities[key]; ok {
		if dur, ok := e.duration.onStop(tsNs); ok {
			raised = t.endAccrualLocked(key, e, tsNs, dur, TriggerStop, raised)
		}
	}
	t.mu.Unlock()

	t.publish(raised)
}

// OnConditionChanged applies a tracker-wide condition transition at tsNs.
// Going false stops accrual for every accruing entity while keeping its
// acquisition; going true resumes every entity that is still acquired.
func (t *Tracker) OnConditionChanged(met bool, tsNs int64) {
	var raised []Anomaly

	kind := "condition_false"
	if met {
		kind = "condition_true"
	}

	t.mu.Lock()
	if !t.acceptLocked(tsNs, kind) || met == t.condition {
		t.mu.Unlock()
		return
	}
	t.condition = met

	for key, e := range t.entities {
		if !met {
			if dur, ok := e.duration.pause(tsNs); ok {
				raised = t.endAccrualLocked(key, e, tsNs, dur, TriggerCondition, raised)
			}
			continue
		}
		if e.duration.wantsAccrual && !e.duration.accruing {
			e.duration.resume(tsNs)
			t.scheduleLocked(key, e, tsNs)
		}
	}
	t.mu.Unlock()

	t.publish(raised)
}

// OnAlarmFired delivers alarms popped from the registry. nowNs is the actual
// delivery time, which may be later than the scheduled second.
func (t *Tracker) OnAlarmFired(nowNs int64, fired []Alarm) {
	var raised []Anomaly

	t.mu.Lock()
	for _, a := range fired {
		e, ok := t.entities[a.Key]
		if !ok || e.alarmSec == 0 || e.alarmSec != a.TimestampSec {
			continue
		}
		e.alarmSec = 0
		t.registry.Cancel(a.Key)

		t.stats.AlarmsFired++
		metrics.AlarmsFiredTotal.WithLabelValues(t.spec.Name).Inc()
		if delay := nowNs - int64(a.TimestampSec)*nsPerSec; delay >= 0 {
			metrics.AlarmFireDelay.WithLabelValues(t.spec.Name).Observe(time.Duration(delay).Seconds())
		}

		if !e.duration.accruing {
			continue
		}
		if sum := e.window.projectedSum(nowNs, e.duration.heldSinceNs); sum > t.thresholdNs {
			before := len(raised)
			raised = t.declareLocked(a.Key, e, nowNs, sum, TriggerAlarm, raised)
			if len(raised) > before {
				continue
			}
		}
		// Delivered before the crossing, or suppressed: keep watching.
		t.scheduleLocked(a.Key, e, nowNs)
	}
	t.mu.Unlock()

	t.publish(raised)
}

// AlarmTimestampSec returns the pending alarm second for key, or 0.
func (t *Tracker) AlarmTimestampSec(key Key) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entities[key]; ok {
		return e.alarmSec
	}
	return 0
}

// RefractoryPeriodEndsSec returns the end of the most recent refractory
// period for key, or 0 if it never triggered.
func (t *Tracker) RefractoryPeriodEndsSec(key Key) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entities[key]; ok {
		return e.refractoryEndsSec
	}
	return 0
}

// RestoreRefractory seeds a refractory end for key, typically from storage
// after a restart. An earlier value never replaces a later one.
func (t *Tracker) RestoreRefractory(key Key, endsSec uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e := t.entityLocked(key); e != nil && endsSec > e.refractoryEndsSec {
		e.refractoryEndsSec = endsSec
	}
}

// Reset drops every entity and pending alarm.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entities = make(map[Key]*entity)
	t.softWarned = false
	t.registry.Clear()
	metrics.TrackedEntities.WithLabelValues(t.spec.Name).Set(0)
	t.logger.Info("tracker reset")
}

// Snapshot returns the status of every entity at nowNs, sorted by key.
func (t *Tracker) Snapshot(nowNs int64) []EntityStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]EntityStatus, 0, len(t.entities))
	for key, e := range t.entities {
		st := EntityStatus{
			Key:               key,
			Nesting:           e.duration.nesting,
			WantsAccrual:      e.duration.wantsAccrual,
			Accruing:          e.duration.accruing,
			AlarmSec:          e.alarmSec,
			RefractoryEndsSec: e.refractoryEndsSec,
		}
		if e.duration.accruing {
			st.HeldSince = time.Unix(0, e.duration.heldSinceNs)
			st.Sum = time.Duration(e.window.projectedSum(nowNs, e.duration.heldSinceNs))
		} else {
			st.Sum = time.Duration(e.window.windowedSum(nowNs))
		}
		out = append(out, st)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Dimension != out[j].Key.Dimension {
			return out[i].Key.Dimension < out[j].Key.Dimension
		}
		return out[i].Key.ConditionDimension < out[j].Key.ConditionDimension
	})
	return out
}

// Stats returns a copy of the tracker counters.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats
	s.Entities = len(t.entities)
	return s
}

// acceptLocked drops events from before the origin and events older than
// the start of the most recent bucket seen.
func (t *Tracker) acceptLocked(tsNs int64, kind string) bool {
	if tsNs < t.originNs {
		t.dropLocked("before_origin", kind, tsNs)
		return false
	}
	b := (tsNs - t.originNs) / t.bucketNs
	if b < t.latestBucket {
		t.dropLocked("late", kind, tsNs)
		return false
	}
	t.latestBucket = b
	metrics.EventsTotal.WithLabelValues(t.spec.Name, kind).Inc()
	return true
}

func (t *Tracker) dropLocked(reason, kind string, tsNs int64) {
	t.stats.DroppedEvents++
	metrics.DroppedEventsTotal.WithLabelValues(t.spec.Name, reason).Inc()
	t.logger.Debug("dropping event",
		zap.String("reason", reason),
		zap.String("kind", kind),
		zap.Int64("ts_ns", tsNs),
	)
}

func (t *Tracker) entityLocked(key Key) *entity {
	if e, ok := t.entities[key]; ok {
		return e
	}

	n := len(t.entities)
	if t.hardLimit > 0 && n >= t.hardLimit {
		t.stats.DroppedEvents++
		metrics.DroppedEventsTotal.WithLabelValues(t.spec.Name, "dimension_limit").Inc()
		t.logger.Debug("dimension hard limit reached, dropping key", zap.Stringer("key", key))
		return nil
	}
	if t.softLimit > 0 && n >= t.softLimit && !t.softWarned {
		t.softWarned = true
		t.logger.Warn("dimension soft limit exceeded",
			zap.Int("entities", n+1),
			zap.Int("soft_limit", t.softLimit),
			zap.Int("hard_limit", t.hardLimit),
		)
	}

	e := &entity{window: newBucketWindow(t.originNs, t.bucketNs, t.spec.NumBuckets)}
	t.entities[key] = e
	metrics.TrackedEntities.WithLabelValues(t.spec.Name).Set(float64(len(t.entities)))
	return e
}

func (t *Tracker) inRefractory(e *entity, tsNs int64) bool {
	return tsNs < int64(e.refractoryEndsSec)*nsPerSec
}

// scheduleLocked predicts the crossing second for an entity accruing at nowNs
// and replaces its alarm. Predictions never land inside the refractory window.
func (t *Tracker) scheduleLocked(key Key, e *entity, nowNs int64) {
	notBefore := int64(e.refractoryEndsSec) * nsPerSec
	sec, ok := e.window.alarmSec(nowNs, e.duration.heldSinceNs, t.thresholdNs, notBefore)
	if !ok {
		return
	}

	e.alarmSec = sec
	t.registry.Schedule(key, sec)

	t.stats.AlarmsScheduled++
	metrics.AlarmsScheduledTotal.WithLabelValues(t.spec.Name).Inc()
	t.logger.Debug("alarm scheduled",
		zap.Stringer("key", key),
		zap.Uint32("alarm_sec", sec),
		zap.Int64("now_ns", nowNs),
	)
}

// endAccrualLocked commits an interval that ended at tsNs, raises an anomaly
// if the sum now exceeds the threshold and cancels the pending alarm. An
// alarm that was already due is treated as a crossing in its own right.
func (t *Tracker) endAccrualLocked(key Key, e *entity, tsNs, durNs int64, trigger Trigger, raised []Anomaly) []Anomaly {
	e.window.append(tsNs, durNs)

	sum := e.window.windowedSum(tsNs)
	if sum > t.thresholdNs {
		raised = t.declareLocked(key, e, tsNs, sum, trigger, raised)
	}

	if e.alarmSec != 0 {
		alarmNs := int64(e.alarmSec) * nsPerSec
		e.alarmSec = 0
		t.registry.Cancel(key)
		if tsNs >= alarmNs {
			// Report the sum the alarm would have seen, which may sit in a
			// bucket the window has already left.
			overdueSum := max(sum, e.window.windowedSum(alarmNs))
			raised = t.declareLocked(key, e, tsNs, overdueSum, TriggerOverdue, raised)
		}
	}
	return raised
}

func (t *Tracker) declareLocked(key Key, e *entity, tsNs, sumNs int64, trigger Trigger, raised []Anomaly) []Anomaly {
	if t.inRefractory(e, tsNs) {
		t.stats.Suppressed++
		metrics.AnomaliesSuppressedTotal.WithLabelValues(t.spec.Name).Inc()
		return raised
	}

	e.refractoryEndsSec = ceilSec(tsNs) + t.spec.RefractoryPeriodSec

	a := Anomaly{
		ID:                uuid.NewString(),
		Alert:             t.spec.Name,
		Key:               key,
		TimestampNs:       tsNs,
		SumNs:             sumNs,
		RefractoryEndsSec: e.refractoryEndsSec,
		Trigger:           trigger,
	}

	t.stats.Anomalies++
	metrics.AnomaliesTotal.WithLabelValues(t.spec.Name, string(trigger)).Inc()
	t.logger.Info("anomaly declared",
		zap.String("id", a.ID),
		zap.Stringer("key", key),
		zap.String("trigger", string(trigger)),
		zap.Duration("sum", time.Duration(sumNs)),
		zap.Uint32("refractory_ends_sec", a.RefractoryEndsSec),
	)

	return append(raised, a)
}

func (t *Tracker) publish(raised []Anomaly) {
	for _, a := range raised {
		for _, s := range t.sinks {
			s.Notify(a)
		}
	}
}
