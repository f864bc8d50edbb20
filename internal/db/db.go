// Package db provides the durable local store for captured records.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	apperrors "github.com/haulmark/fieldsync/internal/errors"
)

// DB wraps sql.DB with FieldSync-specific configuration.
type DB struct {
	*sql.DB
}

// Open opens the SQLite database backing the durable store. The database is
// opened with:
// - WAL mode for concurrent reads alongside the single writer
// - Foreign key constraints enabled
//
// A failure here is fatal: the engine never degrades to memory-only storage,
// because that would break the zero-data-loss guarantee.
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to create data directory", err)
	}

	dbPath := filepath.Join(dataDir, "fieldsync.db")

	// modernc.org/sqlite is pure Go, no CGO
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to open database", err)
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to enable WAL mode", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to enable foreign keys", err)
	}

	// Fail fast on a corrupted file rather than at first read
	var integrity string
	if err := db.QueryRow("PRAGMA quick_check;").Scan(&integrity); err != nil || integrity != "ok" {
		db.Close()
		if err == nil {
			err = fmt.Errorf("quick_check reported %q", integrity)
		}
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "database integrity check failed", err)
	}

	return &DB{db}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
