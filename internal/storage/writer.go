package storage

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nixlim/durtop/internal/anomaly"
)

type opType string

const (
	opAnomaly    opType = "anomaly"
	opRefractory opType = "refractory"
)

type writeOp struct {
	opType     opType
	anomaly    *anomaly.Anomaly
	refractory *refractoryRow
}

type refractoryRow struct {
	Alert   string
	Key     anomaly.Key
	EndsSec uint32
}

func (s *SQLiteStore) writerLoop() {
	defer close(s.doneChan)

	batch := make([]writeOp, 0, batchSize)
	flushTimer := time.NewTimer(flushInterval)
	defer flushTimer.Stop()

	for {
		select {
		case op, ok := <-s.writeChan:
			if !ok {
				if len(batch) > 0 {
					s.flushBatch(batch)
				}
				return
			}

			batch = append(batch, op)

			if len(batch) >= batchSize {
				s.flushBatch(batch)
				batch = batch[:0]
				flushTimer.Reset(flushInterval)
			}

		case <-flushTimer.C:
			if len(batch) > 0 {
				s.flushBatch(batch)
				batch = batch[:0]
			}
			flushTimer.Reset(flushInterval)
		}
	}
}

func (s *SQLiteStore) flushBatch(batch []writeOp) {
	tx, err := s.db.Begin()
	if err != nil {
		s.logger.Error("failed to begin transaction", zap.Error(err))
		return
	}
	defer func() { _ = tx.Rollback() }()

	for _, op := range batch {
		if err := s.executeOp(tx, op); err != nil {
			s.logger.Error("failed to execute write op", zap.String("type", string(op.opType)), zap.Error(err))
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("failed to commit transaction", zap.Error(err))
	}
}

func (s *SQLiteStore) executeOp(tx *sql.Tx, op writeOp) error {
	switch op.opType {
	case opAnomaly:
		return writeAnomaly(tx, *op.anomaly)
	case opRefractory:
		return writeRefractory(tx, op.refractory)
	default:
		return fmt.Errorf("unknown op type: %s", op.opType)
	}
}

func writeAnomaly(tx *sql.Tx, a anomaly.Anomaly) error {
	_, err := tx.Exec(`
		INSERT OR IGNORE INTO anomalies (
			id, alert, dimension, condition_dimension, timestamp_ns, sum_ns,
			refractory_ends_sec, trigger_kind, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Alert, a.Key.Dimension, a.Key.ConditionDimension, a.TimestampNs, a.SumNs,
		int64(a.RefractoryEndsSec), string(a.Trigger), time.Now().UTC().Format(time.RFC3339))
	return err
}

// writeRefractory upserts a refractory end, never moving it backwards.
func writeRefractory(tx *sql.Tx, row *refractoryRow) error {
	_, err := tx.Exec(`
		INSERT INTO refractory (alert, dimension, condition_dimension, ends_sec)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(alert, dimension, condition_dimension) DO UPDATE SET
			ends_sec = MAX(refractory.ends_sec, excluded.ends_sec)
	`, row.Alert, row.Key.Dimension, row.Key.ConditionDimension, int64(row.EndsSec))
	return err
}
