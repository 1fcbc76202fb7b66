// Package processor routes decoded telemetry records to the duration
// trackers configured for them.
package processor

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nixlim/durtop/internal/anomaly"
	"github.com/nixlim/durtop/internal/config"
	"github.com/nixlim/durtop/internal/metrics"
)

// Record is one decoded log event.
type Record struct {
	Name       string
	Timestamp  time.Time
	Attributes map[string]string
}

// RecordListener is called after a record has been routed. Listeners run on
// the ingestion goroutine and must not block.
type RecordListener func(rec Record)

// RefractorySource supplies persisted refractory ends per alert.
type RefractorySource interface {
	Refractory(alert string) map[anomaly.Key]uint32
}

type eventKind int

const (
	kindStart eventKind = iota
	kindStop
	kindConditionTrue
	kindConditionFalse
)

type route struct {
	alert   config.AlertConfig
	tracker *anomaly.Tracker
}

type binding struct {
	route *route
	kind  eventKind
}

// Stats counts records seen by the processor.
type Stats struct {
	Received  uint64
	Matched   uint64
	Unmatched uint64
	Dropped   uint64
}

// Processor owns one tracker per configured alert.
type Processor struct {
	routes  []*route
	byEvent map[string][]binding
	logger  *zap.Logger

	mu        sync.RWMutex
	listeners []RecordListener

	received  atomic.Uint64
	matched   atomic.Uint64
	unmatched atomic.Uint64
	dropped   atomic.Uint64
}

type options struct {
	logger    *zap.Logger
	sinks     []anomaly.Sink
	origin    time.Time
	softLimit int
	hardLimit int
}

// Option configures a Processor.
type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSink forwards every anomaly from every tracker to s.
func WithSink(s anomaly.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, s) }
}

// WithOrigin sets the instant trackers align their buckets to. Each tracker
// truncates it to a multiple of its bucket size.
func WithOrigin(t time.Time) Option {
	return func(o *options) { o.origin = t }
}

func WithDimensionLimits(soft, hard int) Option {
	return func(o *options) {
		o.softLimit = soft
		o.hardLimit = hard
	}
}

// New builds a tracker for every alert.
func New(alerts []config.AlertConfig, opts ...Option) (*Processor, error) {
	o := options{
		logger:    zap.NewNop(),
		origin:    time.Now(),
		softLimit: anomaly.DefaultDimensionSoftLimit,
		hardLimit: anomaly.DefaultDimensionHardLimit,
	}
	for _, opt := range opts {
		opt(&o)
	}

	p := &Processor{
		byEvent: make(map[string][]binding),
		logger:  o.logger,
	}

	for _, a := range alerts {
		spec := a.Spec()

		trackerOpts := []anomaly.TrackerOption{
			anomaly.WithLogger(o.logger),
			anomaly.WithDimensionLimits(o.softLimit, o.hardLimit),
		}
		if a.HasCondition() {
			trackerOpts = append(trackerOpts, anomaly.WithInitialCondition(a.ConditionInitially))
		}
		for _, s := range o.sinks {
			trackerOpts = append(trackerOpts, anomaly.WithSink(s))
		}

		origin := o.origin
		if spec.BucketSize > 0 {
			origin = origin.Truncate(spec.BucketSize)
		}
		t, err := anomaly.NewTracker(spec, origin.UnixNano(), trackerOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating tracker for alert %q: %w", a.Name, err)
		}

		r := &route{alert: a, tracker: t}
		p.routes = append(p.routes, r)
		p.bind(a.StartEvent, r, kindStart)
		p.bind(a.StopEvent, r, kindStop)
		if a.HasCondition() {
			p.bind(a.ConditionTrueEvent, r, kindConditionTrue)
			p.bind(a.ConditionFalseEvent, r, kindConditionFalse)
		}

		p.logger.Info("tracker created",
			zap.String("alert", a.Name),
			zap.Int("num_buckets", spec.NumBuckets),
			zap.Duration("bucket_size", spec.BucketSize),
			zap.Duration("threshold", spec.Threshold),
			zap.Time("origin", origin),
		)
	}

	return p, nil
}

func (p *Processor) bind(event string, r *route, kind eventKind) {
	p.byEvent[event] = append(p.byEvent[event], binding{route: r, kind: kind})
}

// OnRecord registers a listener that is called for every handled record.
func (p *Processor) OnRecord(fn RecordListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Handle routes rec to every tracker bound to its event name.
func (p *Processor) Handle(rec Record) {
	p.received.Add(1)

	bindings := p.byEvent[rec.Name]
	if len(bindings) == 0 {
		p.unmatched.Add(1)
	} else {
		p.matched.Add(1)
	}

	ts := rec.Timestamp.UnixNano()
	for _, b := range bindings {
		t := b.route.tracker
		switch b.kind {
		case kindConditionTrue:
			t.OnConditionChanged(true, ts)
		case kindConditionFalse:
			t.OnConditionChanged(false, ts)
		case kindStart, kindStop:
			key, ok := p.keyFor(b.route.alert, rec)
			if !ok {
				continue
			}
			if b.kind == kindStart {
				t.OnStart(key, ts)
			} else {
				t.OnStop(key, ts)
			}
		}
	}

	p.mu.RLock()
	listeners := p.listeners
	p.mu.RUnlock()
	for _, fn := range listeners {
		fn(rec)
	}
}

// keyFor builds the entity key from the alert's dimension attributes. A
// missing dimension drops the record for that alert.
func (p *Processor) keyFor(a config.AlertConfig, rec Record) (anomaly.Key, bool) {
	dims := make([]string, 0, len(a.Dimensions))
	for _, d := range a.Dimensions {
		v, ok := rec.Attributes[d]
		if !ok {
			p.dropped.Add(1)
			metrics.DroppedEventsTotal.WithLabelValues(a.Name, "missing_dimension").Inc()
			p.logger.Debug("record missing dimension",
				zap.String("alert", a.Name),
				zap.String("event", rec.Name),
				zap.String("dimension", d),
			)
			return anomaly.Key{}, false
		}
		dims = append(dims, v)
	}

	conds := make([]string, 0, len(a.ConditionDimensions))
	for _, d := range a.ConditionDimensions {
		conds = append(conds, rec.Attributes[d])
	}

	return anomaly.Key{
		Dimension:          joinKey(dims),
		ConditionDimension: joinKey(conds),
	}, true
}

var keyEscaper = strings.NewReplacer(`\`, `\\`, "/", `\/`)

// joinKey joins dimension values with "/", escaping "/" and "\" inside
// values so that distinct tuples never produce the same key.
func joinKey(values []string) string {
	escaped := make([]string, len(values))
	for i, v := range values {
		escaped[i] = keyEscaper.Replace(v)
	}
	return strings.Join(escaped, "/")
}

// Trackers returns the trackers in configuration order.
func (p *Processor) Trackers() []*anomaly.Tracker {
	out := make([]*anomaly.Tracker, len(p.routes))
	for i, r := range p.routes {
		out[i] = r.tracker
	}
	return out
}

// Tracker returns the tracker for the named alert, or nil.
func (p *Processor) Tracker(name string) *anomaly.Tracker {
	for _, r := range p.routes {
		if r.alert.Name == name {
			return r.tracker
		}
	}
	return nil
}

// Events returns every event name the processor routes, sorted.
func (p *Processor) Events() []string {
	out := make([]string, 0, len(p.byEvent))
	for name := range p.byEvent {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// RestoreRefractory seeds every tracker with refractory ends from src.
// It returns the number of entities restored.
func (p *Processor) RestoreRefractory(src RefractorySource) int {
	var n int
	for _, r := range p.routes {
		for key, ends := range src.Refractory(r.alert.Name) {
			r.tracker.RestoreRefractory(key, ends)
			n++
		}
	}
	if n > 0 {
		p.logger.Info("restored refractory periods", zap.Int("entities", n))
	}
	return n
}

// Reset clears the named tracker.
func (p *Processor) Reset(name string) error {
	t := p.Tracker(name)
	if t == nil {
		return fmt.Errorf("unknown alert %q", name)
	}
	t.Reset()
	return nil
}

func (p *Processor) Stats() Stats {
	return Stats{
		Received:  p.received.Load(),
		Matched:   p.matched.Load(),
		Unmatched: p.unmatched.Load(),
		Dropped:   p.dropped.Load(),
	}
}
