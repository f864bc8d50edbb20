// Package db provides database schema migration management.
package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// Migration represents an applied database schema migration.
type Migration struct {
	Version     int
	AppliedAt   time.Time
	Description string
	Checksum    string
}

// migration is an embedded schema migration. The engine ships inside a field
// client, so migrations are compiled in rather than read from disk.
type migration struct {
	version     int
	description string
	sql         string
}

// migrations is the ordered list of schema migrations. Append only; never
// edit an entry that has shipped, its checksum is recorded on devices.
var migrations = []migration{
	{
		version:     1,
		description: "initial_schema",
		sql: `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	job_number TEXT NOT NULL,
	payload BLOB NOT NULL,
	last_updated INTEGER NOT NULL,
	synced INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_jobs_synced ON jobs(synced);

CREATE TABLE IF NOT EXISTS photos (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	category TEXT NOT NULL,
	data BLOB NOT NULL,
	original_size INTEGER NOT NULL,
	compressed_size INTEGER NOT NULL,
	timestamp INTEGER NOT NULL,
	synced INTEGER NOT NULL DEFAULT 0,
	upload_priority TEXT NOT NULL DEFAULT 'high'
);
CREATE INDEX IF NOT EXISTS idx_photos_job ON photos(job_id);
CREATE INDEX IF NOT EXISTS idx_photos_synced ON photos(synced);

CREATE TABLE IF NOT EXISTS forms (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	form_type TEXT NOT NULL,
	data BLOB NOT NULL,
	timestamp INTEGER NOT NULL,
	synced INTEGER NOT NULL DEFAULT 0,
	upload_priority TEXT NOT NULL DEFAULT 'normal'
);
CREATE INDEX IF NOT EXISTS idx_forms_job ON forms(job_id);
CREATE INDEX IF NOT EXISTS idx_forms_synced ON forms(synced);
CREATE INDEX IF NOT EXISTS idx_forms_type ON forms(form_type);

CREATE TABLE IF NOT EXISTS signatures (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	sig_type TEXT NOT NULL,
	data BLOB NOT NULL,
	customer_name TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	synced INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_signatures_job ON signatures(job_id);
CREATE INDEX IF NOT EXISTS idx_signatures_synced ON signatures(synced);

CREATE TABLE IF NOT EXISTS snapshots (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	workflow_type TEXT NOT NULL,
	snapshot_data BLOB NOT NULL,
	timestamp INTEGER NOT NULL,
	device TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_snapshots_job ON snapshots(job_id);
CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON snapshots(timestamp);

CREATE TABLE IF NOT EXISTS upload_queue (
	id TEXT PRIMARY KEY,
	item_type TEXT NOT NULL,
	job_id TEXT NOT NULL,
	data_id TEXT NOT NULL,
	priority TEXT NOT NULL,
	url TEXT NOT NULL,
	method TEXT NOT NULL,
	headers BLOB,
	body BLOB,
	attempts INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL,
	next_retry_at INTEGER NOT NULL,
	last_error TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	UNIQUE(item_type, data_id, created_at)
);
CREATE INDEX IF NOT EXISTS idx_queue_job ON upload_queue(job_id);
CREATE INDEX IF NOT EXISTS idx_queue_priority ON upload_queue(priority);
CREATE INDEX IF NOT EXISTS idx_queue_next_retry ON upload_queue(next_retry_at);
`,
	},
}

// Migrator handles database schema migrations.
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`
	_, err := m.db.Exec(query)
	return err
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// AppliedMigrations returns all applied migrations.
func (m *Migrator) AppliedMigrations() ([]Migration, error) {
	rows, err := m.db.Query("SELECT version, applied_at, description, checksum FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var applied []Migration
	for rows.Next() {
		var mig Migration
		var appliedAt int64
		if err := rows.Scan(&mig.Version, &appliedAt, &mig.Description, &mig.Checksum); err != nil {
			return nil, err
		}
		mig.AppliedAt = time.Unix(appliedAt, 0)
		applied = append(applied, mig)
	}
	return applied, rows.Err()
}

// Up applies all pending migrations.
func (m *Migrator) Up() error {
	applied, err := m.AppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}
	appliedVersions := make(map[int]bool)
	for _, mig := range applied {
		appliedVersions[mig.Version] = true
	}

	for _, mig := range migrations {
		if appliedVersions[mig.version] {
			continue
		}
		if err := m.applyMigration(mig); err != nil {
			return fmt.Errorf("failed to apply migration V%d: %w", mig.version, err)
		}
	}

	return nil
}

// applyMigration applies a single migration inside a transaction.
func (m *Migrator) applyMigration(mig migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(mig.sql); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	hash := sha256.Sum256([]byte(mig.sql))
	checksum := hex.EncodeToString(hash[:])

	query := `INSERT INTO schema_migrations (version, applied_at, description, checksum)
			  VALUES (?, ?, ?, ?)`
	if _, err := tx.Exec(query, mig.version, time.Now().Unix(), mig.description, checksum); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}
