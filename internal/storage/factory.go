package storage

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/nixlim/durtop/internal/config"
	"github.com/nixlim/durtop/internal/state"
)

// NewStore opens the SQLite store described by cfg. It falls back to an
// in-memory store when db_path is empty or the database cannot be opened;
// the boolean reports whether the returned store is persistent.
func NewStore(cfg config.StorageConfig, logger *zap.Logger) (state.Store, bool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DBPath == "" {
		return state.NewMemoryStore(), false, nil
	}

	dbPath := expandTilde(cfg.DBPath)

	store, err := NewSQLiteStore(dbPath, cfg.RetentionDays, WithLogger(logger))
	if err != nil {
		logger.Warn("sqlite storage unavailable, falling back to in-memory store",
			zap.String("path", dbPath), zap.Error(err))
		return state.NewMemoryStore(), false, nil
	}

	return store, true, nil
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
