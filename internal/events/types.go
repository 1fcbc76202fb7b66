package events

import "time"

// Kind distinguishes raw records from declared anomalies in the feed.
type Kind string

const (
	KindRecord  Kind = "record"
	KindAnomaly Kind = "anomaly"
)

// FormattedEvent holds a display-ready feed entry with metadata.
type FormattedEvent struct {
	Source    string // alert name for anomalies, empty for records
	Kind      Kind
	EventType string // record name or anomaly trigger
	Formatted string
	Timestamp time.Time
}
