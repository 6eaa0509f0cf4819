// Package db provides the database connection and schema for zhmcctl.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Invocation ledger - append-only history of reconciliations and listings.
	// Several processes may append concurrently, each with its own run_id.
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS invocation_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			module TEXT NOT NULL,
			target TEXT,
			state TEXT,
			check_mode INTEGER NOT NULL DEFAULT 0,
			changed INTEGER NOT NULL DEFAULT 0,
			message TEXT,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_invocation_ts ON invocation_ledger(timestamp);
		CREATE INDEX IF NOT EXISTS idx_invocation_run ON invocation_ledger(run_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create invocation_ledger table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
