package anomaly

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval bounds how long the monitor sleeps when no alarm is due.
const DefaultPollInterval = time.Second

// AlarmTarget is a tracker whose registry the monitor drains.
type AlarmTarget interface {
	Name() string
	Registry() *AlarmRegistry
	OnAlarmFired(nowNs int64, fired []Alarm)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Monitor delivers due alarms from every registered target. It sleeps until
// the earliest pending alarm and is woken early when a sooner alarm is
// scheduled.
type Monitor struct {
	clock        Clock
	pollInterval time.Duration
	logger       *zap.Logger

	mu      sync.Mutex
	targets []AlarmTarget

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

func WithClock(c Clock) MonitorOption {
	return func(m *Monitor) { m.clock = c }
}

func WithPollInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.pollInterval = d }
}

func WithMonitorLogger(l *zap.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = l }
}

// NewMonitor creates a monitor with no targets.
func NewMonitor(opts ...MonitorOption) *Monitor {
	m := &Monitor{
		clock:        systemClock{},
		pollInterval: DefaultPollInterval,
		logger:       zap.NewNop(),
		wake:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.pollInterval <= 0 {
		m.pollInterval = DefaultPollInterval
	}
	return m
}

// Add registers a target and subscribes to its registry.
func (m *Monitor) Add(t AlarmTarget) {
	m.mu.Lock()
	m.targets = append(m.targets, t)
	m.mu.Unlock()

	t.Registry().SetWakeFunc(m.poke)
	m.poke()
}

// Start runs the delivery loop until ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		m.run(ctx)
	}()
}

// Stop halts the delivery loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		<-m.done
	}
}

// FireDue pops every alarm due at nowNs from each target and delivers it.
// It returns the number of alarms delivered.
func (m *Monitor) FireDue(nowNs int64) int {
	sec := uint32(nowNs / nsPerSec)

	var delivered int
	for _, t := range m.snapshotTargets() {
		fired := t.Registry().PopSoonerThan(sec)
		if len(fired) == 0 {
			continue
		}
		m.logger.Debug("delivering alarms",
			zap.String("alert", t.Name()),
			zap.Int("count", len(fired)),
			zap.Uint32("now_sec", sec),
		)
		t.OnAlarmFired(nowNs, fired)
		delivered += len(fired)
	}
	return delivered
}

// Next returns the earliest pending alarm second across all targets.
func (m *Monitor) Next() (uint32, bool) {
	var (
		next  uint32
		found bool
	)
	for _, t := range m.snapshotTargets() {
		if sec, ok := t.Registry().Next(); ok && (!found || sec < next) {
			next, found = sec, true
		}
	}
	return next, found
}

func (m *Monitor) run(ctx context.Context) {
	for {
		m.FireDue(m.clock.Now().UnixNano())

		wait := m.pollInterval
		if sec, ok := m.Next(); ok {
			until := time.Unix(int64(sec), 0).Sub(m.clock.Now())
			wait = max(min(wait, until), 0)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-m.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (m *Monitor) poke() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Monitor) snapshotTargets() []AlarmTarget {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AlarmTarget, len(m.targets))
	copy(out, m.targets)
	return out
}
