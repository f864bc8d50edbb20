// Package db provides typed record store operations for FieldSync data models.
package db

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/haulmark/fieldsync/internal/errors"
	"github.com/haulmark/fieldsync/internal/models"
	"github.com/haulmark/fieldsync/internal/uuid"
)

// priorityOrder ranks priorities for drain ordering inside SQL. Keep in step
// with models.Priority.Rank.
const priorityOrder = `CASE priority
	WHEN 'critical' THEN 0
	WHEN 'high' THEN 1
	WHEN 'normal' THEN 2
	WHEN 'low' THEN 3
	ELSE 4 END`

// Store provides durable, per-record-atomic operations over the six record
// kinds. Every put is an upsert keyed by id; concurrent readers never observe
// a partially written record (single writer, WAL, one statement per record).
type Store struct {
	db *sql.DB

	// Prepared statement cache for frequently used queries.
	stmtCache sync.Map // map[string]*sql.Stmt

	// Initialization is idempotent and safe to call concurrently: only the
	// first caller performs schema setup, later callers wait on the Once and
	// observe the same error.
	initOnce sync.Once
	initErr  error
}

// NewStore creates a new Store instance over an open database.
func NewStore(db *DB) *Store {
	return &Store{db: db.DB}
}

// Init performs schema setup. Safe to call multiple times concurrently.
func (s *Store) Init() error {
	s.initOnce.Do(func() {
		m := NewMigrator(s.db)
		if err := m.Initialize(); err != nil {
			s.initErr = apperrors.Wrap(apperrors.ErrMigration, "failed to initialize migrations", err)
			return
		}
		if err := m.Up(); err != nil {
			s.initErr = apperrors.Wrap(apperrors.ErrMigration, "failed to apply migrations", err)
		}
	})
	return s.initErr
}

// SchemaVersion returns the current schema version.
func (s *Store) SchemaVersion() (int, error) {
	return NewMigrator(s.db).CurrentVersion()
}

// prepareStmt gets or creates a prepared statement from cache.
func (s *Store) prepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := s.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (s *Store) Close() error {
	var firstErr error
	s.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// Job Operations
// =====================================================

// PutJob upserts a job record keyed by id.
func (s *Store) PutJob(job *models.Job) error {
	if job.ID == "" {
		job.ID = models.UUID(uuid.New())
	}
	if job.LastUpdated == 0 {
		job.LastUpdated = time.Now().Unix()
	}

	query := `
	INSERT INTO jobs (id, job_number, payload, last_updated, synced)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		job_number = excluded.job_number,
		payload = excluded.payload,
		last_updated = excluded.last_updated,
		synced = excluded.synced
	`
	_, err := s.db.Exec(query, job.ID, job.JobNumber, job.Payload, job.LastUpdated, job.Synced)
	return err
}

// GetJob retrieves a job by id.
func (s *Store) GetJob(id string) (*models.Job, error) {
	query := `SELECT id, job_number, payload, last_updated, synced FROM jobs WHERE id = ?`
	stmt, err := s.prepareStmt(query)
	if err != nil {
		return nil, err
	}

	var job models.Job
	err = stmt.QueryRow(id).Scan(&job.ID, &job.JobNumber, &job.Payload, &job.LastUpdated, &job.Synced)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJobByNumber retrieves a job by its human-readable number.
func (s *Store) GetJobByNumber(jobNumber string) (*models.Job, error) {
	query := `SELECT id, job_number, payload, last_updated, synced FROM jobs WHERE job_number = ? ORDER BY last_updated DESC LIMIT 1`
	var job models.Job
	err := s.db.QueryRow(query, jobNumber).Scan(&job.ID, &job.JobNumber, &job.Payload, &job.LastUpdated, &job.Synced)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// AllJobs returns every job record.
func (s *Store) AllJobs() ([]*models.Job, error) {
	return s.queryJobs(`SELECT id, job_number, payload, last_updated, synced FROM jobs ORDER BY last_updated DESC`)
}

// UnsyncedJobs returns jobs not yet confirmed by the server.
func (s *Store) UnsyncedJobs() ([]*models.Job, error) {
	return s.queryJobs(`SELECT id, job_number, payload, last_updated, synced FROM jobs WHERE synced = 0 ORDER BY last_updated DESC`)
}

func (s *Store) queryJobs(query string, args ...interface{}) ([]*models.Job, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		var job models.Job
		if err := rows.Scan(&job.ID, &job.JobNumber, &job.Payload, &job.LastUpdated, &job.Synced); err != nil {
			return nil, err
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

// MarkJobSynced flags a job as confirmed by the server.
func (s *Store) MarkJobSynced(id string) error {
	return s.markSynced("jobs", id)
}

// DeleteJob removes a job record.
func (s *Store) DeleteJob(id string) error {
	return s.deleteByID("jobs", id)
}

// =====================================================
// Photo Operations
// =====================================================

// PutPhoto upserts a photo record keyed by id.
func (s *Store) PutPhoto(photo *models.Photo) error {
	if photo.ID == "" {
		photo.ID = models.UUID(uuid.New())
	}
	if photo.Timestamp == 0 {
		photo.Timestamp = time.Now().Unix()
	}
	if photo.UploadPriority == "" {
		photo.UploadPriority = models.PriorityHigh
	}

	query := `
	INSERT INTO photos (id, job_id, category, data, original_size, compressed_size, timestamp, synced, upload_priority)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		job_id = excluded.job_id,
		category = excluded.category,
		data = excluded.data,
		original_size = excluded.original_size,
		compressed_size = excluded.compressed_size,
		timestamp = excluded.timestamp,
		synced = excluded.synced,
		upload_priority = excluded.upload_priority
	`
	_, err := s.db.Exec(query, photo.ID, photo.JobID, photo.Category, photo.Data,
		photo.OriginalSize, photo.CompressedSize, photo.Timestamp, photo.Synced, photo.UploadPriority)
	return err
}

// GetPhoto retrieves a photo by id.
func (s *Store) GetPhoto(id string) (*models.Photo, error) {
	query := `SELECT id, job_id, category, data, original_size, compressed_size, timestamp, synced, upload_priority
			  FROM photos WHERE id = ?`
	stmt, err := s.prepareStmt(query)
	if err != nil {
		return nil, err
	}

	var p models.Photo
	err = stmt.QueryRow(id).Scan(&p.ID, &p.JobID, &p.Category, &p.Data,
		&p.OriginalSize, &p.CompressedSize, &p.Timestamp, &p.Synced, &p.UploadPriority)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// PhotosByJob returns all photos captured for a job.
func (s *Store) PhotosByJob(jobID string) ([]*models.Photo, error) {
	return s.queryPhotos(`SELECT id, job_id, category, data, original_size, compressed_size, timestamp, synced, upload_priority
		FROM photos WHERE job_id = ? ORDER BY timestamp ASC`, jobID)
}

// UnsyncedPhotos returns photos not yet confirmed by the server.
func (s *Store) UnsyncedPhotos() ([]*models.Photo, error) {
	return s.queryPhotos(`SELECT id, job_id, category, data, original_size, compressed_size, timestamp, synced, upload_priority
		FROM photos WHERE synced = 0 ORDER BY timestamp ASC`)
}

func (s *Store) queryPhotos(query string, args ...interface{}) ([]*models.Photo, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var photos []*models.Photo
	for rows.Next() {
		var p models.Photo
		if err := rows.Scan(&p.ID, &p.JobID, &p.Category, &p.Data,
			&p.OriginalSize, &p.CompressedSize, &p.Timestamp, &p.Synced, &p.UploadPriority); err != nil {
			return nil, err
		}
		photos = append(photos, &p)
	}
	return photos, rows.Err()
}

// MarkPhotoSynced flags a photo as confirmed by the server.
func (s *Store) MarkPhotoSynced(id string) error {
	return s.markSynced("photos", id)
}

// DeletePhoto removes a photo record.
func (s *Store) DeletePhoto(id string) error {
	return s.deleteByID("photos", id)
}

// =====================================================
// Form Operations
// =====================================================

// PutForm upserts a form record keyed by id.
func (s *Store) PutForm(form *models.Form) error {
	if form.ID == "" {
		form.ID = models.UUID(uuid.New())
	}
	if form.Timestamp == 0 {
		form.Timestamp = time.Now().Unix()
	}
	if form.UploadPriority == "" {
		form.UploadPriority = models.PriorityNormal
	}

	query := `
	INSERT INTO forms (id, job_id, form_type, data, timestamp, synced, upload_priority)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		job_id = excluded.job_id,
		form_type = excluded.form_type,
		data = excluded.data,
		timestamp = excluded.timestamp,
		synced = excluded.synced,
		upload_priority = excluded.upload_priority
	`
	_, err := s.db.Exec(query, form.ID, form.JobID, form.Type, form.Data,
		form.Timestamp, form.Synced, form.UploadPriority)
	return err
}

// GetForm retrieves a form by id.
func (s *Store) GetForm(id string) (*models.Form, error) {
	query := `SELECT id, job_id, form_type, data, timestamp, synced, upload_priority FROM forms WHERE id = ?`
	stmt, err := s.prepareStmt(query)
	if err != nil {
		return nil, err
	}

	var f models.Form
	err = stmt.QueryRow(id).Scan(&f.ID, &f.JobID, &f.Type, &f.Data, &f.Timestamp, &f.Synced, &f.UploadPriority)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// FormsByJob returns all forms captured for a job, newest first. The latest
// form of a given type is the authoritative one.
func (s *Store) FormsByJob(jobID string) ([]*models.Form, error) {
	return s.queryForms(`SELECT id, job_id, form_type, data, timestamp, synced, upload_priority
		FROM forms WHERE job_id = ? ORDER BY timestamp DESC`, jobID)
}

// FormsByType returns all forms of one type, newest first.
func (s *Store) FormsByType(formType models.FormType) ([]*models.Form, error) {
	return s.queryForms(`SELECT id, job_id, form_type, data, timestamp, synced, upload_priority
		FROM forms WHERE form_type = ? ORDER BY timestamp DESC`, formType)
}

// UnsyncedForms returns forms not yet confirmed by the server.
func (s *Store) UnsyncedForms() ([]*models.Form, error) {
	return s.queryForms(`SELECT id, job_id, form_type, data, timestamp, synced, upload_priority
		FROM forms WHERE synced = 0 ORDER BY timestamp ASC`)
}

func (s *Store) queryForms(query string, args ...interface{}) ([]*models.Form, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var forms []*models.Form
	for rows.Next() {
		var f models.Form
		if err := rows.Scan(&f.ID, &f.JobID, &f.Type, &f.Data, &f.Timestamp, &f.Synced, &f.UploadPriority); err != nil {
			return nil, err
		}
		forms = append(forms, &f)
	}
	return forms, rows.Err()
}

// MarkFormSynced flags a form as confirmed by the server.
func (s *Store) MarkFormSynced(id string) error {
	return s.markSynced("forms", id)
}

// DeleteForm removes a form record.
func (s *Store) DeleteForm(id string) error {
	return s.deleteByID("forms", id)
}

// =====================================================
// Signature Operations
// =====================================================

// PutSignature upserts a signature record keyed by id.
func (s *Store) PutSignature(sig *models.Signature) error {
	if sig.ID == "" {
		sig.ID = models.UUID(uuid.New())
	}
	if sig.Timestamp == 0 {
		sig.Timestamp = time.Now().Unix()
	}

	query := `
	INSERT INTO signatures (id, job_id, sig_type, data, customer_name, timestamp, synced)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		job_id = excluded.job_id,
		sig_type = excluded.sig_type,
		data = excluded.data,
		customer_name = excluded.customer_name,
		timestamp = excluded.timestamp,
		synced = excluded.synced
	`
	_, err := s.db.Exec(query, sig.ID, sig.JobID, sig.Type, sig.Data,
		sig.CustomerName, sig.Timestamp, sig.Synced)
	return err
}

// GetSignature retrieves a signature by id.
func (s *Store) GetSignature(id string) (*models.Signature, error) {
	query := `SELECT id, job_id, sig_type, data, customer_name, timestamp, synced FROM signatures WHERE id = ?`
	stmt, err := s.prepareStmt(query)
	if err != nil {
		return nil, err
	}

	var sig models.Signature
	err = stmt.QueryRow(id).Scan(&sig.ID, &sig.JobID, &sig.Type, &sig.Data,
		&sig.CustomerName, &sig.Timestamp, &sig.Synced)
	if err != nil {
		return nil, err
	}
	return &sig, nil
}

// SignaturesByJob returns all signatures captured for a job.
func (s *Store) SignaturesByJob(jobID string) ([]*models.Signature, error) {
	return s.querySignatures(`SELECT id, job_id, sig_type, data, customer_name, timestamp, synced
		FROM signatures WHERE job_id = ? ORDER BY timestamp ASC`, jobID)
}

// UnsyncedSignatures returns signatures not yet confirmed by the server.
func (s *Store) UnsyncedSignatures() ([]*models.Signature, error) {
	return s.querySignatures(`SELECT id, job_id, sig_type, data, customer_name, timestamp, synced
		FROM signatures WHERE synced = 0 ORDER BY timestamp ASC`)
}

func (s *Store) querySignatures(query string, args ...interface{}) ([]*models.Signature, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sigs []*models.Signature
	for rows.Next() {
		var sig models.Signature
		if err := rows.Scan(&sig.ID, &sig.JobID, &sig.Type, &sig.Data,
			&sig.CustomerName, &sig.Timestamp, &sig.Synced); err != nil {
			return nil, err
		}
		sigs = append(sigs, &sig)
	}
	return sigs, rows.Err()
}

// MarkSignatureSynced flags a signature as confirmed by the server.
func (s *Store) MarkSignatureSynced(id string) error {
	return s.markSynced("signatures", id)
}

// DeleteSignature removes a signature record.
func (s *Store) DeleteSignature(id string) error {
	return s.deleteByID("signatures", id)
}

// =====================================================
// Snapshot Operations
// =====================================================

// PutSnapshot writes a workflow snapshot and prunes the job's history down to
// models.SnapshotRetention entries in the same transaction, so the invariant
// holds even if the process dies right after the write.
func (s *Store) PutSnapshot(snap *models.Snapshot) error {
	if snap.ID == "" {
		snap.ID = models.UUID(uuid.New())
	}
	if snap.Timestamp == 0 {
		snap.Timestamp = time.Now().Unix()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	insert := `
	INSERT INTO snapshots (id, job_id, workflow_type, snapshot_data, timestamp, device)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		snapshot_data = excluded.snapshot_data,
		timestamp = excluded.timestamp,
		device = excluded.device
	`
	if _, err := tx.Exec(insert, snap.ID, snap.JobID, snap.WorkflowType,
		snap.SnapshotData, snap.Timestamp, snap.Device); err != nil {
		return err
	}

	prune := `
	DELETE FROM snapshots WHERE job_id = ? AND id NOT IN (
		SELECT id FROM snapshots WHERE job_id = ?
		ORDER BY timestamp DESC, id DESC LIMIT ?
	)`
	if _, err := tx.Exec(prune, snap.JobID, snap.JobID, models.SnapshotRetention); err != nil {
		return err
	}

	return tx.Commit()
}

// LatestSnapshot returns the most recent snapshot for a job, or
// sql.ErrNoRows if none exists.
func (s *Store) LatestSnapshot(jobID string) (*models.Snapshot, error) {
	query := `SELECT id, job_id, workflow_type, snapshot_data, timestamp, device
			  FROM snapshots WHERE job_id = ? ORDER BY timestamp DESC, id DESC LIMIT 1`
	var snap models.Snapshot
	err := s.db.QueryRow(query, jobID).Scan(&snap.ID, &snap.JobID, &snap.WorkflowType,
		&snap.SnapshotData, &snap.Timestamp, &snap.Device)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// SnapshotsByJob returns a job's snapshots, newest first.
func (s *Store) SnapshotsByJob(jobID string) ([]*models.Snapshot, error) {
	rows, err := s.db.Query(`SELECT id, job_id, workflow_type, snapshot_data, timestamp, device
		FROM snapshots WHERE job_id = ? ORDER BY timestamp DESC, id DESC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []*models.Snapshot
	for rows.Next() {
		var snap models.Snapshot
		if err := rows.Scan(&snap.ID, &snap.JobID, &snap.WorkflowType,
			&snap.SnapshotData, &snap.Timestamp, &snap.Device); err != nil {
			return nil, err
		}
		snaps = append(snaps, &snap)
	}
	return snaps, rows.Err()
}

// PurgeSnapshotsBefore deletes snapshots older than the cutoff. Advisory
// housekeeping: callers run this off the capture write path.
func (s *Store) PurgeSnapshotsBefore(cutoff int64) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM snapshots WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteSnapshot removes a snapshot record.
func (s *Store) DeleteSnapshot(id string) error {
	return s.deleteByID("snapshots", id)
}

// =====================================================
// Upload Queue Operations
// =====================================================

// InsertUploadItem inserts a new queue item. The (item_type, data_id,
// created_at) unique constraint makes silent duplication impossible.
func (s *Store) InsertUploadItem(item *models.UploadItem) error {
	if item.ID == "" {
		item.ID = models.UUID(uuid.New())
	}
	now := time.Now().Unix()
	if item.CreatedAt == 0 {
		item.CreatedAt = now
	}
	if item.NextRetryAt == 0 {
		item.NextRetryAt = now
	}
	if item.MaxAttempts == 0 {
		item.MaxAttempts = models.MaxAttemptsFor(item.Priority)
	}

	query := `
	INSERT INTO upload_queue (id, item_type, job_id, data_id, priority, url, method, headers, body,
		attempts, max_attempts, next_retry_at, last_error, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query, item.ID, item.Type, item.JobID, item.DataID, item.Priority,
		item.URL, item.Method, []byte(item.Headers), item.Body,
		item.Attempts, item.MaxAttempts, item.NextRetryAt, item.LastError, item.CreatedAt)
	return err
}

// GetUploadItem retrieves a queue item by id.
func (s *Store) GetUploadItem(id string) (*models.UploadItem, error) {
	query := uploadItemColumns + ` WHERE id = ?`
	stmt, err := s.prepareStmt(query)
	if err != nil {
		return nil, err
	}
	return scanUploadItem(stmt.QueryRow(id))
}

// PendingItemID returns the id of the unresolved queue item for a record, or
// "" if none exists. Used to stop a record being re-enqueued while an item
// for it is still in flight.
func (s *Store) PendingItemID(itemType models.ItemType, dataID string) (string, error) {
	query := `SELECT id FROM upload_queue WHERE item_type = ? AND data_id = ? LIMIT 1`
	stmt, err := s.prepareStmt(query)
	if err != nil {
		return "", err
	}

	var id string
	err = stmt.QueryRow(itemType, dataID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

const uploadItemColumns = `SELECT id, item_type, job_id, data_id, priority, url, method, headers, body,
	attempts, max_attempts, next_retry_at, last_error, created_at FROM upload_queue`

// ReadyUploadItems returns items whose next_retry_at is due, ordered
// critical, high, normal, low, ties broken by created_at ascending. A
// job-completion item is withheld while any critical sibling item for the
// same job is still queued, so the server never processes an incomplete job.
func (s *Store) ReadyUploadItems(now int64) ([]*models.UploadItem, error) {
	query := uploadItemColumns + `
	WHERE next_retry_at <= ?
	  AND NOT (item_type = 'job-completion' AND EXISTS (
		SELECT 1 FROM upload_queue s
		WHERE s.job_id = upload_queue.job_id
		  AND s.item_type != 'job-completion'
		  AND s.priority = 'critical'))
	ORDER BY ` + priorityOrder + `, created_at ASC`

	return s.queryUploadItems(query, now)
}

// UploadItemsByJob returns all queue items for a job in drain order.
func (s *Store) UploadItemsByJob(jobID string) ([]*models.UploadItem, error) {
	query := uploadItemColumns + ` WHERE job_id = ? ORDER BY ` + priorityOrder + `, created_at ASC`
	return s.queryUploadItems(query, jobID)
}

func (s *Store) queryUploadItems(query string, args ...interface{}) ([]*models.UploadItem, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.UploadItem
	for rows.Next() {
		item, err := scanUploadItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUploadItem(row rowScanner) (*models.UploadItem, error) {
	var item models.UploadItem
	var headers []byte
	err := row.Scan(&item.ID, &item.Type, &item.JobID, &item.DataID, &item.Priority,
		&item.URL, &item.Method, &headers, &item.Body,
		&item.Attempts, &item.MaxAttempts, &item.NextRetryAt, &item.LastError, &item.CreatedAt)
	if err != nil {
		return nil, err
	}
	item.Headers = headers
	return &item, nil
}

// UpdateUploadItemRetry records a failed attempt and its retry schedule.
func (s *Store) UpdateUploadItemRetry(id string, attempts int, nextRetryAt int64, lastError string) error {
	query := `UPDATE upload_queue SET attempts = ?, next_retry_at = ?, last_error = ? WHERE id = ?`
	result, err := s.db.Exec(query, attempts, nextRetryAt, lastError, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteUploadItem removes a queue item (on success or terminal failure).
func (s *Store) DeleteUploadItem(id string) error {
	return s.deleteByID("upload_queue", id)
}

// UploadQueueDepth returns the number of queued items.
func (s *Store) UploadQueueDepth() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM upload_queue`).Scan(&n)
	return n, err
}

// =====================================================
// Statistics
// =====================================================

// StorageStats summarizes the store for the UI dashboard.
type StorageStats struct {
	Jobs               int   `json:"jobs"`
	Photos             int   `json:"photos"`
	Forms              int   `json:"forms"`
	Signatures         int   `json:"signatures"`
	Snapshots          int   `json:"snapshots"`
	QueueDepth         int   `json:"queue_depth"`
	UnsyncedRecords    int   `json:"unsynced_records"`
	PhotoBytesOriginal int64 `json:"photo_bytes_original"`
	PhotoBytesStored   int64 `json:"photo_bytes_stored"`
}

// Stats gathers record counts and compression savings.
func (s *Store) Stats() (*StorageStats, error) {
	stats := &StorageStats{}

	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM jobs`, &stats.Jobs},
		{`SELECT COUNT(*) FROM photos`, &stats.Photos},
		{`SELECT COUNT(*) FROM forms`, &stats.Forms},
		{`SELECT COUNT(*) FROM signatures`, &stats.Signatures},
		{`SELECT COUNT(*) FROM snapshots`, &stats.Snapshots},
		{`SELECT COUNT(*) FROM upload_queue`, &stats.QueueDepth},
	}
	for _, c := range counts {
		if err := s.db.QueryRow(c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}

	unsynced := `
	SELECT (SELECT COUNT(*) FROM jobs WHERE synced = 0)
		 + (SELECT COUNT(*) FROM photos WHERE synced = 0)
		 + (SELECT COUNT(*) FROM forms WHERE synced = 0)
		 + (SELECT COUNT(*) FROM signatures WHERE synced = 0)`
	if err := s.db.QueryRow(unsynced).Scan(&stats.UnsyncedRecords); err != nil {
		return nil, err
	}

	sizes := `SELECT COALESCE(SUM(original_size), 0), COALESCE(SUM(compressed_size), 0) FROM photos`
	if err := s.db.QueryRow(sizes).Scan(&stats.PhotoBytesOriginal, &stats.PhotoBytesStored); err != nil {
		return nil, err
	}

	return stats, nil
}

// =====================================================
// Helpers
// =====================================================

func (s *Store) markSynced(table, id string) error {
	result, err := s.db.Exec(`UPDATE `+table+` SET synced = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) deleteByID(table, id string) error {
	result, err := s.db.Exec(`DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
