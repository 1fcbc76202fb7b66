package anomaly

import (
	"container/heap"
	"sync"
)

// Alarm is a pending wake-up for one entity, due at TimestampSec.
type Alarm struct {
	Key          Key
	TimestampSec uint32
}

type alarmItem struct {
	alarm Alarm
	index int
}

type alarmQueue []*alarmItem

func (q alarmQueue) Len() int { return len(q) }

func (q alarmQueue) Less(i, j int) bool {
	return q[i].alarm.TimestampSec < q[j].alarm.TimestampSec
}

func (q alarmQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *alarmQueue) Push(x any) {
	item := x.(*alarmItem)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *alarmQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}

// AlarmRegistry holds at most one pending alarm per key, ordered by due
// second. All methods are safe for concurrent use.
type AlarmRegistry struct {
	mu      sync.Mutex
	entries map[Key]*alarmItem
	queue   alarmQueue
	wake    func()
}

// NewAlarmRegistry creates an empty registry.
func NewAlarmRegistry() *AlarmRegistry {
	return &AlarmRegistry{
		entries: make(map[Key]*alarmItem),
	}
}

// SetWakeFunc registers fn to be called whenever a Schedule call moves the
// earliest pending alarm forward. fn is called without the registry lock held.
func (r *AlarmRegistry) SetWakeFunc(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wake = fn
}

// Schedule sets the alarm for key to sec, replacing any existing entry.
func (r *AlarmRegistry) Schedule(key Key, sec uint32) {
	r.mu.Lock()
	prevHead, hadHead := r.headLocked()

	if item, ok := r.entries[key]; ok {
		item.alarm.TimestampSec = sec
		heap.Fix(&r.queue, item.index)
	} else {
		item := &alarmItem{alarm: Alarm{Key: key, TimestampSec: sec}}
		heap.Push(&r.queue, item)
		r.entries[key] = item
	}

	earlier := !hadHead || sec < prevHead
	wake := r.wake
	r.mu.Unlock()

	if earlier && wake != nil {
		wake()
	}
}

// Cancel removes the alarm for key. Cancelling a missing alarm is a no-op.
func (r *AlarmRegistry) Cancel(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.entries[key]
	if !ok {
		return
	}
	heap.Remove(&r.queue, item.index)
	delete(r.entries, key)
}

// PopSoonerThan atomically removes and returns every alarm due at or before
// sec, earliest first.
func (r *AlarmRegistry) PopSoonerThan(sec uint32) []Alarm {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []Alarm
	for len(r.queue) > 0 && r.queue[0].alarm.TimestampSec <= sec {
		item := heap.Pop(&r.queue).(*alarmItem)
		delete(r.entries, item.alarm.Key)
		due = append(due, item.alarm)
	}
	return due
}

// Next returns the earliest pending alarm second.
func (r *AlarmRegistry) Next() (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.headLocked()
}

// Get returns the pending alarm second for key.
func (r *AlarmRegistry) Get(key Key) (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.entries[key]
	if !ok {
		return 0, false
	}
	return item.alarm.TimestampSec, true
}

// Len returns the number of pending alarms.
func (r *AlarmRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Clear drops every pending alarm.
func (r *AlarmRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[Key]*alarmItem)
	r.queue = nil
}

func (r *AlarmRegistry) headLocked() (uint32, bool) {
	if len(r.queue) == 0 {
		return 0, false
	}
	return r.queue[0].alarm.TimestampSec, true
}
