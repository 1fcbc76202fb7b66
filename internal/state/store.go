package state

import (
	"sort"
	"sync"

	"github.com/nixlim/durtop/internal/anomaly"
)

// Store is the interface for the anomaly history store.
// All methods must be thread-safe.
type Store interface {
	// Notify records a declared anomaly. It satisfies anomaly.Sink.
	Notify(a anomaly.Anomaly)

	// RecentAnomalies returns up to limit anomalies, newest first. A limit of
	// zero or less returns all retained anomalies.
	RecentAnomalies(limit int) []anomaly.Anomaly

	// Summaries returns per-alert counts sorted by alert name.
	Summaries() []AlertSummary

	// TotalAnomalies returns the number of anomalies recorded since start,
	// including recovered ones.
	TotalAnomalies() int

	// Refractory returns the latest refractory end per key for alert.
	Refractory(alert string) map[anomaly.Key]uint32

	// OnAnomaly registers a listener called after every Notify.
	OnAnomaly(fn AnomalyListener)

	// QueryDailySummaries returns per-day history for the last days days.
	QueryDailySummaries(days int) []DailySummary

	// DroppedWrites returns the number of persistence writes that were lost.
	DroppedWrites() int64

	Close() error
}

// AnomalyListener is a callback invoked after an anomaly is stored.
// Listeners are called outside the store lock.
type AnomalyListener func(a anomaly.Anomaly)

// MemoryStore is a thread-safe in-memory implementation of Store.
type MemoryStore struct {
	mu         sync.RWMutex
	recent     []anomaly.Anomaly
	summaries  map[string]*AlertSummary
	total      int
	refractory map[string]map[anomaly.Key]uint32
	listeners  []AnomalyListener
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		summaries:  make(map[string]*AlertSummary),
		refractory: make(map[string]map[anomaly.Key]uint32),
	}
}

func (ms *MemoryStore) OnAnomaly(fn AnomalyListener) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.listeners = append(ms.listeners, fn)
}

func (ms *MemoryStore) Notify(a anomaly.Anomaly) {
	ms.mu.Lock()
	ms.addLocked(a)
	listeners := ms.listeners
	ms.mu.Unlock()

	for _, fn := range listeners {
		fn(a)
	}
}

// Restore adds a recovered anomaly without notifying listeners.
func (ms *MemoryStore) Restore(a anomaly.Anomaly) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.addLocked(a)
}

// RestoreRefractory records a recovered refractory end. An earlier end never
// replaces a later one.
func (ms *MemoryStore) RestoreRefractory(alert string, key anomaly.Key, endsSec uint32) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.setRefractoryLocked(alert, key, endsSec)
}

func (ms *MemoryStore) addLocked(a anomaly.Anomaly) {
	ms.recent = append(ms.recent, a)
	if len(ms.recent) > MaxRecentAnomalies {
		ms.recent = append([]anomaly.Anomaly(nil), ms.recent[len(ms.recent)-MaxRecentAnomalies:]...)
	}
	ms.total++

	s, ok := ms.summaries[a.Alert]
	if !ok {
		s = &AlertSummary{Alert: a.Alert}
		ms.summaries[a.Alert] = s
	}
	s.Count++
	if t := a.Time(); t.After(s.Last) {
		s.Last = t
		s.LastKey = a.Key
	}

	ms.setRefractoryLocked(a.Alert, a.Key, a.RefractoryEndsSec)
}

func (ms *MemoryStore) setRefractoryLocked(alert string, key anomaly.Key, endsSec uint32) {
	m, ok := ms.refractory[alert]
	if !ok {
		m = make(map[anomaly.Key]uint32)
		ms.refractory[alert] = m
	}
	if endsSec > m[key] {
		m[key] = endsSec
	}
}

func (ms *MemoryStore) RecentAnomalies(limit int) []anomaly.Anomaly {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	n := len(ms.recent)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]anomaly.Anomaly, 0, n)
	for i := len(ms.recent) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, ms.recent[i])
	}
	return out
}

func (ms *MemoryStore) Summaries() []AlertSummary {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make([]AlertSummary, 0, len(ms.summaries))
	for _, s := range ms.summaries {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alert < out[j].Alert })
	return out
}

func (ms *MemoryStore) TotalAnomalies() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.total
}

func (ms *MemoryStore) Refractory(alert string) map[anomaly.Key]uint32 {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make(map[anomaly.Key]uint32, len(ms.refractory[alert]))
	for k, v := range ms.refractory[alert] {
		out[k] = v
	}
	return out
}

// PruneRefractory forgets refractory ends at or before nowSec.
func (ms *MemoryStore) PruneRefractory(nowSec uint32) int {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var n int
	for alert, m := range ms.refractory {
		for k, ends := range m {
			if ends <= nowSec {
				delete(m, k)
				n++
			}
		}
		if len(m) == 0 {
			delete(ms.refractory, alert)
		}
	}
	return n
}

// QueryDailySummaries returns nil; the memory store keeps no daily history.
func (ms *MemoryStore) QueryDailySummaries(days int) []DailySummary {
	return nil
}

func (ms *MemoryStore) DroppedWrites() int64 { return 0 }

func (ms *MemoryStore) Close() error { return nil }
