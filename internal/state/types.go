package state

import (
	"time"

	"github.com/nixlim/durtop/internal/anomaly"
)

// MaxRecentAnomalies bounds the in-memory anomaly history.
const MaxRecentAnomalies = 500

// AlertSummary aggregates the anomalies declared for one alert.
type AlertSummary struct {
	Alert   string
	Count   int
	Last    time.Time
	LastKey anomaly.Key
}

// DailySummary is one day of persisted anomaly history.
type DailySummary struct {
	Date      string
	Anomalies int
	Alerts    int
	Entities  int
	MaxSum    time.Duration
}
