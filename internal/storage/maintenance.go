package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	maintenanceInterval = 1 * time.Hour
	vacuumInterval      = 7 * 24 * time.Hour
)

func (s *SQLiteStore) startMaintenance(ctx context.Context, retentionDays int) {
	go s.maintenanceLoop(ctx, retentionDays)
}

func (s *SQLiteStore) maintenanceLoop(ctx context.Context, retentionDays int) {
	defer close(s.maintenanceDone)

	lastVacuum := time.Now()
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.runMaintenanceCycle(time.Now(), retentionDays); err != nil {
				s.logger.Error("maintenance cycle failed", zap.Error(err))
			}

			if time.Since(lastVacuum) >= vacuumInterval {
				if _, err := s.db.Exec("VACUUM"); err != nil {
					s.logger.Error("VACUUM failed", zap.Error(err))
				} else {
					lastVacuum = time.Now()
				}
			}
		}
	}
}

// runMaintenanceCycle prunes anomalies older than the retention period and
// refractory ends that have passed.
func (s *SQLiteStore) runMaintenanceCycle(now time.Time, retentionDays int) error {
	cutoff := now.AddDate(0, 0, -retentionDays).UnixNano()
	nowSec := now.Unix()

	res, err := s.db.Exec("DELETE FROM anomalies WHERE timestamp_ns < ?", cutoff)
	if err != nil {
		return fmt.Errorf("pruning old anomalies: %w", err)
	}
	pruned, _ := res.RowsAffected()

	res, err = s.db.Exec("DELETE FROM refractory WHERE ends_sec <= ?", nowSec)
	if err != nil {
		return fmt.Errorf("pruning expired refractory periods: %w", err)
	}
	expired, _ := res.RowsAffected()

	s.PruneRefractory(uint32(nowSec))

	s.logger.Debug("maintenance cycle complete",
		zap.Int64("anomalies_pruned", pruned),
		zap.Int64("refractory_expired", expired),
	)
	return nil
}
