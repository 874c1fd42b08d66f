package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SchemaVersion is bumped whenever createTables changes shape
const SchemaVersion = 1

// InitDatabase opens the SQLite database at dbPath and creates the
// workshop tables
func InitDatabase(dbPath string) (*sql.DB, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	database, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := database.Ping(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := createTables(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return database, nil
}

// createTables creates all necessary tables
func createTables(database *sql.DB) error {
	statements := []struct {
		name  string
		query string
	}{
		{"progress table", `
		CREATE TABLE IF NOT EXISTS progress (
			id TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			timestamp INTEGER NOT NULL
		);`},
		{"progress timestamp index", `CREATE INDEX IF NOT EXISTS idx_progress_timestamp ON progress(timestamp);`},
		{"notes table", `
		CREATE TABLE IF NOT EXISTS notes (
			id TEXT PRIMARY KEY,
			slide_id INTEGER NOT NULL,
			content TEXT NOT NULL,
			timestamp INTEGER NOT NULL
		);`},
		{"notes slide_id index", `CREATE INDEX IF NOT EXISTS idx_notes_slide_id ON notes(slide_id);`},
		{"workshop_data table", `
		CREATE TABLE IF NOT EXISTS workshop_data (
			id TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			timestamp INTEGER NOT NULL
		);`},
		{"workshop_data timestamp index", `CREATE INDEX IF NOT EXISTS idx_workshop_data_timestamp ON workshop_data(timestamp);`},
		{"clickers table", `
		CREATE TABLE IF NOT EXISTS clickers (
			id TEXT PRIMARY KEY,
			mac_address TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1,
			press_count INTEGER NOT NULL DEFAULT 0,
			last_press DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`},
	}

	for _, stmt := range statements {
		if _, err := database.Exec(stmt.query); err != nil {
			return fmt.Errorf("failed to create %s: %w", stmt.name, err)
		}
	}

	if _, err := database.Exec(fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}
