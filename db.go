package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

func initDB() (*sql.DB, error) {
	dbPath := configPath("flight_log.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// createTables is shared with the tests, which run against a temp file db.
func createTables(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS flight_sessions (
		id TEXT PRIMARY KEY,
		started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		ended_at DATETIME,
		link_name TEXT
	)`)
	if err != nil {
		return fmt.Errorf("create flight_sessions: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS telemetry_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		battery INTEGER,
		height INTEGER,
		flight_time INTEGER,
		flying INTEGER
	)`)
	if err != nil {
		return fmt.Errorf("create telemetry_log: %w", err)
	}
	return nil
}
