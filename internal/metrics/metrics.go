package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "durtop_events_total",
			Help: "Total number of tracker events processed",
		},
		[]string{"alert", "kind"}, // kind: start/stop/condition_true/condition_false
	)

	DroppedEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "durtop_dropped_events_total",
			Help: "Total number of events dropped before reaching a tracker",
		},
		[]string{"alert", "reason"},
	)

	// Anomalies
	AnomaliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "durtop_anomalies_total",
			Help: "Total number of declared anomalies",
		},
		[]string{"alert", "trigger"},
	)

	AnomaliesSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "durtop_anomalies_suppressed_total",
			Help: "Total number of threshold crossings suppressed by a refractory period",
		},
		[]string{"alert"},
	)

	// Alarms
	AlarmsScheduledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "durtop_alarms_scheduled_total",
			Help: "Total number of predictive alarms scheduled",
		},
		[]string{"alert"},
	)

	AlarmsFiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "durtop_alarms_fired_total",
			Help: "Total number of alarms delivered to a tracker",
		},
		[]string{"alert"},
	)

	AlarmFireDelay = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "durtop_alarm_fire_delay_seconds",
			Help:    "Delay between an alarm's scheduled second and its delivery",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		[]string{"alert"},
	)

	TrackedEntities = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "durtop_tracked_entities",
			Help: "Number of entities currently tracked",
		},
		[]string{"alert"},
	)

	// Storage
	StorageDroppedWritesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "durtop_storage_dropped_writes_total",
			Help: "Total number of storage writes dropped because the write queue was full",
		},
	)
)
