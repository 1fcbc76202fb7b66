package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nixlim/durtop/internal/anomaly"
	"github.com/nixlim/durtop/internal/metrics"
	"github.com/nixlim/durtop/internal/state"
)

const (
	writeChannelSize = 1000
	batchSize        = 50
	flushInterval    = 100 * time.Millisecond
)

// SQLiteStore is a state.Store that keeps everything in memory and persists
// anomalies and refractory ends to SQLite through an async batched writer.
type SQLiteStore struct {
	*state.MemoryStore
	db              *sql.DB
	logger          *zap.Logger
	writeChan       chan writeOp
	droppedWrites   atomic.Int64
	doneChan        chan struct{}
	closed          atomic.Bool
	cancelMaint     context.CancelFunc
	maintenanceDone chan struct{}
}

type Option func(*SQLiteStore)

func WithLogger(l *zap.Logger) Option {
	return func(s *SQLiteStore) { s.logger = l }
}

func NewSQLiteStore(dbPath string, retentionDays int, opts ...Option) (*SQLiteStore, error) {
	return newSQLiteStoreWithChannelSize(dbPath, writeChannelSize, retentionDays, opts...)
}

func newSQLiteStoreWithChannelSize(dbPath string, chanSize int, retentionDays int, opts ...Option) (*SQLiteStore, error) {
	db, err := OpenDB(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	store := &SQLiteStore{
		MemoryStore:     state.NewMemoryStore(),
		db:              db,
		logger:          zap.NewNop(),
		writeChan:       make(chan writeOp, chanSize),
		doneChan:        make(chan struct{}),
		cancelMaint:     cancel,
		maintenanceDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(store)
	}

	if err := store.recoverState(time.Now()); err != nil {
		cancel()
		_ = db.Close()
		return nil, fmt.Errorf("recovering anomalies: %w", err)
	}

	go store.writerLoop()
	store.startMaintenance(ctx, retentionDays)

	return store, nil
}

// Notify records a in memory and queues it for persistence together with the
// entity's refractory end.
func (s *SQLiteStore) Notify(a anomaly.Anomaly) {
	s.MemoryStore.Notify(a)

	s.sendWrite(writeOp{opType: opAnomaly, anomaly: &a})
	s.sendWrite(writeOp{opType: opRefractory, refractory: &refractoryRow{
		Alert:   a.Alert,
		Key:     a.Key,
		EndsSec: a.RefractoryEndsSec,
	}})
}

func (s *SQLiteStore) sendWrite(op writeOp) {
	if s.closed.Load() {
		return
	}
	defer func() { _ = recover() }()
	select {
	case s.writeChan <- op:
	default:
		s.droppedWrites.Add(1)
		metrics.StorageDroppedWritesTotal.Inc()
		s.logger.Warn("write channel full, dropped write", zap.String("type", string(op.opType)))
	}
}

func (s *SQLiteStore) DroppedWrites() int64 {
	return s.droppedWrites.Load()
}

// Close stops maintenance, drains pending writes and closes the database.
func (s *SQLiteStore) Close() error {
	s.closed.Store(true)

	s.cancelMaint()
	select {
	case <-s.maintenanceDone:
	case <-time.After(30 * time.Second):
		s.logger.Warn("maintenance goroutine did not stop within 30s")
	}

	close(s.writeChan)

	select {
	case <-s.doneChan:
	case <-time.After(10 * time.Second):
		s.logger.Error("failed to drain writes within 10s, data may be lost")
	}

	return s.db.Close()
}
