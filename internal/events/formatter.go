// Package events formats and buffers the records and anomalies shown in the
// dashboard feed.
package events

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nixlim/durtop/internal/anomaly"
	"github.com/nixlim/durtop/internal/processor"
)

const (
	maxAttrs     = 4
	maxAttrValue = 24
)

// FormatRecord converts a decoded record into a feed entry:
//
//	wakelock.acquire tag=sync uid=1000
//
// Attributes are sorted by key; at most four are shown.
func FormatRecord(rec processor.Record) FormattedEvent {
	fe := FormattedEvent{
		Kind:      KindRecord,
		EventType: rec.Name,
		Timestamp: rec.Timestamp,
	}
	if fe.Timestamp.IsZero() {
		fe.Timestamp = time.Now()
	}

	keys := make([]string, 0, len(rec.Attributes))
	for k := range rec.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(rec.Name)
	for i, k := range keys {
		if i == maxAttrs {
			fmt.Fprintf(&b, " +%d", len(keys)-maxAttrs)
			break
		}
		fmt.Fprintf(&b, " %s=%s", k, truncate(rec.Attributes[k], maxAttrValue))
	}
	fe.Formatted = b.String()

	return fe
}

// FormatAnomaly converts a declared anomaly into a feed entry:
//
//	[wakelock] 1000 held 31m00s (alarm) quiet until 15:04:05
func FormatAnomaly(a anomaly.Anomaly) FormattedEvent {
	formatted := fmt.Sprintf("[%s] %s held %s (%s)",
		a.Alert, a.Key.String(), FormatDuration(a.Sum()), a.Trigger)
	if a.RefractoryEndsSec > 0 {
		formatted += " quiet until " + FormatSec(a.RefractoryEndsSec)
	}
	return FormattedEvent{
		Source:    a.Alert,
		Kind:      KindAnomaly,
		EventType: string(a.Trigger),
		Formatted: formatted,
		Timestamp: a.Time(),
	}
}

// FormatDuration renders d compactly: "4.5s", "31m00s", "2h05m".
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// FormatSec renders a whole-second Unix timestamp as local wall-clock time.
// Zero renders as "-".
func FormatSec(sec uint32) string {
	if sec == 0 {
		return "-"
	}
	return time.Unix(int64(sec), 0).Format("15:04:05")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
