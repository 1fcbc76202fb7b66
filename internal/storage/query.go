package storage

import (
	"time"

	"go.uber.org/zap"

	"github.com/nixlim/durtop/internal/state"
)

// QueryDailySummaries returns per-day anomaly counts for the last days days,
// newest first. Days are UTC.
func (s *SQLiteStore) QueryDailySummaries(days int) []state.DailySummary {
	cutoff := time.Now().AddDate(0, 0, -days).UnixNano()

	rows, err := s.db.Query(`
		SELECT date(timestamp_ns / 1000000000, 'unixepoch') AS day,
			COUNT(*),
			COUNT(DISTINCT alert),
			COUNT(DISTINCT alert || char(0) || dimension || char(0) || condition_dimension),
			MAX(sum_ns)
		FROM anomalies
		WHERE timestamp_ns >= ?
		GROUP BY day
		ORDER BY day DESC
	`, cutoff)
	if err != nil {
		s.logger.Error("querying daily summaries", zap.Error(err))
		return nil
	}
	defer func() { _ = rows.Close() }()

	var summaries []state.DailySummary
	for rows.Next() {
		var ds state.DailySummary
		var maxSum int64
		if err := rows.Scan(&ds.Date, &ds.Anomalies, &ds.Alerts, &ds.Entities, &maxSum); err != nil {
			s.logger.Error("scanning daily summary row", zap.Error(err))
			continue
		}
		ds.MaxSum = time.Duration(maxSum)
		summaries = append(summaries, ds)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error("iterating daily summary rows", zap.Error(err))
	}
	return summaries
}
