// Package db provides the SQLite connection and schema for flickerd.
package db

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema. ":memory:" opens a
// private in-memory database.
func Open(dbPath string) (*DB, error) {
	dsn := dbPath + "?_journal_mode=WAL"
	if dbPath == ":memory:" || strings.HasPrefix(dbPath, "file::memory:") {
		dsn = dbPath
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every new connection to :memory: is a fresh database.
		db.SetMaxOpenConns(1)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Tag ledger - append-only history of tag reads, writes and failures
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS tag_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			session_id TEXT,
			uid TEXT,
			tag_name TEXT,
			fixture TEXT,
			block INTEGER,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_tag_ledger_type_ts ON tag_ledger(event_type, timestamp);
		CREATE INDEX IF NOT EXISTS idx_tag_ledger_uid ON tag_ledger(uid, timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create tag_ledger table: %w", err)
	}

	// Fixture state - last applied configuration per fixture
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS fixture_state (
			name TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			version INTEGER DEFAULT 1,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create fixture_state table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
