package storage

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nixlim/durtop/internal/anomaly"
)

const recoveryWindow = 24 * time.Hour

// recoverState loads the last day of anomalies and every refractory end still in
// the future into memory.
func (s *SQLiteStore) recoverState(now time.Time) error {
	if err := s.recoverAnomalies(now); err != nil {
		return err
	}
	if err := s.recoverRefractory(now); err != nil {
		return err
	}
	s.PruneRefractory(uint32(now.Unix()))
	return nil
}

func (s *SQLiteStore) recoverAnomalies(now time.Time) error {
	rows, err := s.db.Query(`
		SELECT id, alert, dimension, condition_dimension, timestamp_ns, sum_ns,
		       refractory_ends_sec, trigger_kind
		FROM anomalies
		WHERE timestamp_ns > ?
		ORDER BY timestamp_ns ASC
	`, now.Add(-recoveryWindow).UnixNano())
	if err != nil {
		return fmt.Errorf("querying recent anomalies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recovered, failCount int
	for rows.Next() {
		var a anomaly.Anomaly
		var refr int64
		var trigger string
		if err := rows.Scan(&a.ID, &a.Alert, &a.Key.Dimension, &a.Key.ConditionDimension,
			&a.TimestampNs, &a.SumNs, &refr, &trigger); err != nil {
			failCount++
			s.logger.Error("failed to scan anomaly row", zap.Error(err))
			continue
		}
		a.RefractoryEndsSec = uint32(refr)
		a.Trigger = anomaly.Trigger(trigger)
		s.Restore(a)
		recovered++
	}

	if failCount > 0 {
		s.logger.Warn("anomalies failed to recover from database", zap.Int("count", failCount))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating anomalies: %w", err)
	}

	s.logger.Info("recovered anomalies", zap.Int("count", recovered))
	return nil
}

func (s *SQLiteStore) recoverRefractory(now time.Time) error {
	rows, err := s.db.Query(`
		SELECT alert, dimension, condition_dimension, ends_sec
		FROM refractory
		WHERE ends_sec > ?
	`, now.Unix())
	if err != nil {
		return fmt.Errorf("querying refractory periods: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var alert string
		var key anomaly.Key
		var ends int64
		if err := rows.Scan(&alert, &key.Dimension, &key.ConditionDimension, &ends); err != nil {
			s.logger.Error("failed to scan refractory row", zap.Error(err))
			continue
		}
		s.RestoreRefractory(alert, key, uint32(ends))
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating refractory periods: %w", err)
	}
	return nil
}
