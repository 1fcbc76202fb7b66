package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const currentSchemaVersion = 1

// OpenDB opens the SQLite database at dbPath, creating parent directories
// and migrating the schema as needed.
func OpenDB(dbPath string) (*sql.DB, error) {
	parentDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(parentDir, 0755); err != nil {
		return nil, fmt.Errorf("creating parent directories: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if err := migrateSchema(db, dbPath); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

func migrateSchema(db *sql.DB, dbPath string) error {
	var tableName string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)

	var currentVersion int
	if err == sql.ErrNoRows {
		currentVersion = 0
	} else if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	} else {
		err = db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&currentVersion)
		if err == sql.ErrNoRows {
			currentVersion = 0
		} else if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	if currentVersion > currentSchemaVersion {
		return fmt.Errorf(
			"database schema version %d is newer than this durtop version supports (max: %d); upgrade durtop or delete %s to start fresh",
			currentVersion, currentSchemaVersion, dbPath,
		)
	}

	if currentVersion < currentSchemaVersion {
		if err := applyMigrations(db, currentVersion); err != nil {
			return fmt.Errorf("applying migrations: %w", err)
		}
	}

	return nil
}

func applyMigrations(db *sql.DB, fromVersion int) error {
	if fromVersion == 0 {
		if err := migrateV0ToV1(db); err != nil {
			return fmt.Errorf("migration v0→v1: %w", err)
		}
	}

	return nil
}

var v1Statements = []struct {
	name string
	stmt string
}{
	{"schema_version table", `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)`},
	{"schema version", "INSERT INTO schema_version (version) VALUES (1)"},
	{"anomalies table", `
		CREATE TABLE IF NOT EXISTS anomalies (
			id TEXT PRIMARY KEY,
			alert TEXT NOT NULL,
			dimension TEXT NOT NULL,
			condition_dimension TEXT NOT NULL DEFAULT '',
			timestamp_ns INTEGER NOT NULL,
			sum_ns INTEGER NOT NULL,
			refractory_ends_sec INTEGER NOT NULL,
			trigger_kind TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		)`},
	{"refractory table", `
		CREATE TABLE IF NOT EXISTS refractory (
			alert TEXT NOT NULL,
			dimension TEXT NOT NULL,
			condition_dimension TEXT NOT NULL DEFAULT '',
			ends_sec INTEGER NOT NULL,
			PRIMARY KEY (alert, dimension, condition_dimension)
		)`},
	{"idx_anomalies_ts", "CREATE INDEX IF NOT EXISTS idx_anomalies_ts ON anomalies(timestamp_ns)"},
	{"idx_anomalies_alert", "CREATE INDEX IF NOT EXISTS idx_anomalies_alert ON anomalies(alert)"},
	{"idx_refractory_ends", "CREATE INDEX IF NOT EXISTS idx_refractory_ends ON refractory(ends_sec)"},
}

func migrateV0ToV1(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, s := range v1Statements {
		if _, err := tx.Exec(s.stmt); err != nil {
			return fmt.Errorf("creating %s: %w", s.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}
