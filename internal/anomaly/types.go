package anomaly

import (
	"fmt"
	"strings"
	"time"
)

const nsPerSec = int64(time.Second)

// Key identifies a tracked entity within one tracker. Two events refer to the
// same entity iff their keys are equal.
type Key struct {
	Dimension          string
	ConditionDimension string
}

func (k Key) String() string {
	if k.ConditionDimension == "" {
		return k.Dimension
	}
	return k.Dimension + " [" + k.ConditionDimension + "]"
}

// AlertSpec is the immutable configuration shared by every entity of a tracker.
type AlertSpec struct {
	Name                string
	NumBuckets          int
	BucketSize          time.Duration
	Threshold           time.Duration
	RefractoryPeriodSec uint32
	CountNesting        bool
}

// Validate reports every problem with the alert spec in a single error.
func (s AlertSpec) Validate() error {
	var errs []string

	if s.Name == "" {
		errs = append(errs, "name must not be empty")
	}
	if s.NumBuckets < 1 {
		errs = append(errs, fmt.Sprintf("num_buckets must be at least 1, got %d", s.NumBuckets))
	}
	if s.BucketSize <= 0 {
		errs = append(errs, fmt.Sprintf("bucket size must be positive, got %s", s.BucketSize))
	}
	if s.Threshold <= 0 {
		errs = append(errs, fmt.Sprintf("threshold must be positive, got %s", s.Threshold))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid alert spec %q: %s", s.Name, strings.Join(errs, "; "))
	}
	return nil
}

// Trigger names the path that raised an anomaly.
type Trigger string

const (
	TriggerStop      Trigger = "stop"
	TriggerCondition Trigger = "condition"
	TriggerOverdue   Trigger = "overdue"
	TriggerAlarm     Trigger = "alarm"
)

// Anomaly is a declared threshold crossing for one entity.
type Anomaly struct {
	ID                string
	Alert             string
	Key               Key
	TimestampNs       int64
	SumNs             int64
	RefractoryEndsSec uint32
	Trigger           Trigger
}

// Time returns the anomaly timestamp as a time.Time.
func (a Anomaly) Time() time.Time {
	return time.Unix(0, a.TimestampNs)
}

// Sum returns the windowed sum at declaration time.
func (a Anomaly) Sum() time.Duration {
	return time.Duration(a.SumNs)
}

// Sink receives declared anomalies. Implementations must not block.
type Sink interface {
	Notify(a Anomaly)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(a Anomaly)

func (f SinkFunc) Notify(a Anomaly) { f(a) }

// EntityStatus is a point-in-time view of one tracked entity.
type EntityStatus struct {
	Key               Key
	Nesting           int
	WantsAccrual      bool
	Accruing          bool
	HeldSince         time.Time
	Sum               time.Duration
	AlarmSec          uint32
	RefractoryEndsSec uint32
}

// Stats holds cumulative tracker counters.
type Stats struct {
	Entities        int
	Anomalies       uint64
	Suppressed      uint64
	AlarmsScheduled uint64
	AlarmsFired     uint64
	DroppedEvents   uint64
}

// ceilSec rounds a nanosecond timestamp up to the next whole second. A value
// already on a second boundary is returned unchanged.
func ceilSec(ns int64) uint32 {
	if ns <= 0 {
		return 0
	}
	return uint32((ns-1)/nsPerSec + 1)
}
