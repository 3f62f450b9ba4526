package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDBPath returns the default path for the deckview client database.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	return filepath.Join(home, ".deckview", "deckview.db"), nil
}

// OpenSQLite opens a SQLite database connection with WAL mode enabled and
// appropriate pragmas for a small, single process client database.
func OpenSQLite(dbPath string) (*sql.DB, error) {
	// Ensure the directory exists. The database holds a bearer token, so
	// the directory is private to the user.
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000",
		dbPath,
	)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer. Every statement funnels through one connection so
	// the multi-key writes of the session tier never interleave.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := configurePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	return db, nil
}

// configurePragmas sets additional SQLite pragmas.
func configurePragmas(db *sql.DB) error {
	pragmas := []string{
		// NORMAL is durable across application crashes in WAL mode.
		"PRAGMA synchronous = NORMAL",

		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// Open opens the SQLite database at dbPath, applies all pending migrations
// and returns a Store wrapping it.
func Open(dbPath string, opts ...MigrateOpt) (*Store, error) {
	sqlDB, err := OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}

	store := NewStore(sqlDB)
	store.path = dbPath

	if err := store.Migrate(TargetLatest, opts...); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}
