// Package session provides the single entry point the rest of the
// application calls. It composes the store, compression pipeline, upload
// queue, connectivity monitor and sync engine, and owns their lifecycle;
// nothing here is a package-level singleton.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/haulmark/fieldsync/internal/compress"
	"github.com/haulmark/fieldsync/internal/config"
	"github.com/haulmark/fieldsync/internal/db"
	apperrors "github.com/haulmark/fieldsync/internal/errors"
	"github.com/haulmark/fieldsync/internal/logging"
	"github.com/haulmark/fieldsync/internal/models"
	"github.com/haulmark/fieldsync/internal/netmon"
	"github.com/haulmark/fieldsync/internal/queue"
	syncengine "github.com/haulmark/fieldsync/internal/sync"
)

// Manager is the engine facade. Construct with New, then call Init before
// use and Close on shutdown.
type Manager struct {
	cfg *config.Config

	database *db.DB
	store    *db.Store
	pipeline *compress.Pipeline
	queue    *queue.Queue
	monitor  *netmon.Monitor
	engine   *syncengine.Engine

	// Snapshot auto-save debouncing: repeated writes for the same
	// (jobID, workflowType) within the window coalesce to the last one.
	debounceMu sync.Mutex
	pending    map[string]*pendingSnapshot

	initialized bool
	initMu      sync.Mutex
}

type pendingSnapshot struct {
	timer *time.Timer
	snap  *models.Snapshot
}

// New creates a Manager from configuration. No I/O happens until Init.
func New(cfg *config.Config) *Manager {
	return &Manager{
		cfg:     cfg,
		pending: make(map[string]*pendingSnapshot),
	}
}

// Init opens the durable store, applies schema setup, wires the components
// and starts the sync engine. Storage failure here is fatal and surfaced
// immediately: the engine never degrades to memory-only operation.
func (m *Manager) Init(ctx context.Context) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	if m.initialized {
		return nil
	}

	database, err := db.Open(m.cfg.DataDir)
	if err != nil {
		return err
	}

	store := db.NewStore(database)
	if err := store.Init(); err != nil {
		database.Close()
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, "store initialization failed", err)
	}

	m.database = database
	m.store = store
	m.pipeline = compress.NewPipeline()
	m.queue = queue.New(store)
	m.monitor = netmon.NewMonitor()
	m.engine = syncengine.NewEngine(store, m.queue, m.monitor, m.cfg.Sync)

	// Advisory housekeeping, never on the capture write path.
	go m.purgeOldSnapshots()

	m.engine.Start(ctx)
	m.initialized = true

	logging.Info("session manager initialized",
		map[string]interface{}{"data_dir": m.cfg.DataDir})
	return nil
}

// Close flushes pending debounced snapshots, stops the engine and closes the
// store.
func (m *Manager) Close() error {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	if !m.initialized {
		return nil
	}

	m.flushPendingSnapshots()
	m.engine.Stop()
	m.store.Close()
	err := m.database.Close()
	m.initialized = false
	return err
}

// purgeOldSnapshots removes snapshots past the retention window.
func (m *Manager) purgeOldSnapshots() {
	cutoff := time.Now().Add(-m.cfg.SnapshotRetentionWindow()).Unix()
	purged, err := m.store.PurgeSnapshotsBefore(cutoff)
	if err != nil {
		logging.Warn("snapshot purge failed",
			map[string]interface{}{"error": err.Error()})
		return
	}
	if purged > 0 {
		logging.Info("purged expired snapshots",
			map[string]interface{}{"count": purged})
	}
}

// =====================================================
// Capture Operations
// =====================================================

// StoreJob upserts a job record (downloaded or edited job data).
func (m *Manager) StoreJob(jobID, jobNumber string, payload []byte) error {
	return m.store.PutJob(&models.Job{
		ID:        models.UUID(jobID),
		JobNumber: jobNumber,
		Payload:   payload,
	})
}

// GetJob retrieves a job record.
func (m *Manager) GetJob(jobID string) (*models.Job, error) {
	return m.store.GetJob(jobID)
}

// StorePhoto compresses, persists and enqueues a captured photo. The call
// returns once the record is durable; transmission is strictly asynchronous.
func (m *Manager) StorePhoto(jobID string, data []byte, category string) (string, error) {
	if jobID == "" {
		return "", apperrors.New(apperrors.ErrInvalid, "photo requires a job id")
	}

	result := m.pipeline.Compress(data, "", m.cfg.Capture.PhotoTargetKB*1024)

	photo := &models.Photo{
		JobID:          jobID,
		Category:       category,
		Data:           result.Data,
		OriginalSize:   result.OriginalSize,
		CompressedSize: result.CompressedSize,
		UploadPriority: models.PriorityHigh,
	}
	if err := m.store.PutPhoto(photo); err != nil {
		return "", err
	}

	_, err := m.queue.Enqueue(queue.Request{
		Type:     models.ItemPhoto,
		JobID:    jobID,
		DataID:   string(photo.ID),
		Priority: photo.UploadPriority,
		URL:      m.remoteURL("jobs/%s/photos", jobID),
		Headers:  map[string]string{"Content-Type": "application/octet-stream", "X-Photo-Category": category},
		Body:     result.Data,
	})
	if err != nil {
		// The photo is durable; a queue hiccup must not fail the capture.
		logging.Error("failed to enqueue photo upload", err,
			map[string]interface{}{"photo_id": string(photo.ID)})
	}

	return string(photo.ID), nil
}

// StoreForm persists and enqueues a structured form. Collection and delivery
// completions are critical: they drive business outcomes and get the larger
// retry budget.
func (m *Manager) StoreForm(jobID string, formType models.FormType, data []byte) (string, error) {
	if !models.ValidFormType(formType) {
		return "", apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown form type %q", formType))
	}

	priority := models.PriorityNormal
	if formType == models.FormCollection || formType == models.FormDelivery {
		priority = models.PriorityCritical
	}

	form := &models.Form{
		JobID:          jobID,
		Type:           formType,
		Data:           data,
		UploadPriority: priority,
	}
	if err := m.store.PutForm(form); err != nil {
		return "", err
	}

	_, err := m.queue.Enqueue(queue.Request{
		Type:     models.ItemForm,
		JobID:    jobID,
		DataID:   string(form.ID),
		Priority: priority,
		URL:      m.remoteURL("jobs/%s/forms/%s", jobID, string(formType)),
		Headers:  map[string]string{"Content-Type": "application/json"},
		Body:     data,
	})
	if err != nil {
		logging.Error("failed to enqueue form upload", err,
			map[string]interface{}{"form_id": string(form.ID)})
	}

	return string(form.ID), nil
}

// StoreSignature compresses, persists and enqueues a customer signature.
func (m *Manager) StoreSignature(jobID string, sigType models.WorkflowType, data []byte, customerName string) (string, error) {
	result := m.pipeline.CompressSignature(data, m.cfg.Capture.SignatureTargetKB*1024)

	sig := &models.Signature{
		JobID:        jobID,
		Type:         sigType,
		Data:         result.Data,
		CustomerName: customerName,
	}
	if err := m.store.PutSignature(sig); err != nil {
		return "", err
	}

	_, err := m.queue.Enqueue(queue.Request{
		Type:     models.ItemSignature,
		JobID:    jobID,
		DataID:   string(sig.ID),
		Priority: models.PriorityCritical,
		URL:      m.remoteURL("jobs/%s/signatures/%s", jobID, string(sigType)),
		Headers:  map[string]string{"Content-Type": "application/octet-stream", "X-Customer-Name": customerName},
		Body:     result.Data,
	})
	if err != nil {
		logging.Error("failed to enqueue signature upload", err,
			map[string]interface{}{"signature_id": string(sig.ID)})
	}

	return string(sig.ID), nil
}

// CompleteJob enqueues the job-completion upload and forces an immediate
// synchronous sync of the job, so the user learns right away whether the
// completion reached the server or is held locally.
func (m *Manager) CompleteJob(ctx context.Context, jobID string, payload []byte) (*syncengine.CycleResult, error) {
	_, err := m.queue.Enqueue(queue.Request{
		Type:     models.ItemJobCompletion,
		JobID:    jobID,
		DataID:   jobID,
		Priority: models.PriorityCritical,
		URL:      m.remoteURL("jobs/%s/complete", jobID),
		Headers:  map[string]string{"Content-Type": "application/json"},
		Body:     payload,
	})
	if err != nil {
		return nil, err
	}
	return m.ForceSyncJob(ctx, jobID)
}

// =====================================================
// Snapshots
// =====================================================

// CreateSnapshot persists an in-progress workflow state. Rapid calls for the
// same (jobID, workflowType) are coalesced: only the last call inside the
// debounce window performs the write, and a write always happens once the
// caller pauses.
func (m *Manager) CreateSnapshot(jobID string, workflowType models.WorkflowType, data []byte, device string) {
	snap := &models.Snapshot{
		JobID:        jobID,
		WorkflowType: workflowType,
		SnapshotData: data,
		Device:       device,
	}

	window := m.cfg.DebounceWindow()
	if window <= 0 {
		m.writeSnapshot(snap)
		return
	}

	key := jobID + "/" + string(workflowType)

	m.debounceMu.Lock()
	defer m.debounceMu.Unlock()

	if p, ok := m.pending[key]; ok {
		p.snap = snap
		p.timer.Reset(window)
		return
	}

	p := &pendingSnapshot{snap: snap}
	p.timer = time.AfterFunc(window, func() {
		m.debounceMu.Lock()
		snap := p.snap
		delete(m.pending, key)
		m.debounceMu.Unlock()
		m.writeSnapshot(snap)
	})
	m.pending[key] = p
}

func (m *Manager) writeSnapshot(snap *models.Snapshot) {
	if err := m.store.PutSnapshot(snap); err != nil {
		logging.Error("failed to write workflow snapshot", err,
			map[string]interface{}{"job_id": snap.JobID})
	}
}

// flushPendingSnapshots writes coalesced snapshots that have not fired yet.
func (m *Manager) flushPendingSnapshots() {
	m.debounceMu.Lock()
	pending := make([]*pendingSnapshot, 0, len(m.pending))
	for key, p := range m.pending {
		p.timer.Stop()
		pending = append(pending, p)
		delete(m.pending, key)
	}
	m.debounceMu.Unlock()

	for _, p := range pending {
		m.writeSnapshot(p.snap)
	}
}

// RestoreLatestSnapshot returns the most recent workflow snapshot for a job,
// or nil if none exists.
func (m *Manager) RestoreLatestSnapshot(jobID string) (*models.Snapshot, error) {
	snap, err := m.store.LatestSnapshot(jobID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// =====================================================
// Sync Control
// =====================================================

// SyncNow triggers an immediate drain cycle.
func (m *Manager) SyncNow(ctx context.Context) (*syncengine.CycleResult, error) {
	return m.engine.Drain(ctx)
}

// ForceSyncJob attempts every queued item for one job immediately,
// synchronously relative to the caller.
func (m *Manager) ForceSyncJob(ctx context.Context, jobID string) (*syncengine.CycleResult, error) {
	return m.engine.ForceSyncJob(ctx, jobID)
}

// SetOnline feeds a host reachability event to the connectivity monitor.
func (m *Manager) SetOnline(online bool) {
	m.monitor.SetOnline(online)
}

// ReportNetworkSample feeds a host link measurement to the monitor.
func (m *Manager) ReportNetworkSample(s netmon.Sample) {
	m.monitor.ReportSample(s)
}

// AppForegrounded re-evaluates connectivity after a visibility transition.
func (m *Manager) AppForegrounded() {
	m.monitor.Reevaluate()
}

// Subscribe registers a status observer on the sync engine.
func (m *Manager) Subscribe() (<-chan syncengine.Event, func()) {
	return m.engine.Hub().Subscribe()
}

// OnPermanentFailure registers the callback for items whose retries are
// exhausted; these require human attention.
func (m *Manager) OnPermanentFailure(fn queue.TerminalFailureFunc) {
	m.queue.OnTerminalFailure(fn)
}

// SyncStatus returns the engine's aggregate status.
func (m *Manager) SyncStatus() syncengine.CycleStatus {
	return m.engine.Status()
}

// Stats returns storage and queue statistics for the UI dashboard.
func (m *Manager) Stats() (*db.StorageStats, error) {
	return m.store.Stats()
}

// PendingItems returns queued upload items for one job, in drain order.
func (m *Manager) PendingItems(jobID string) ([]*models.UploadItem, error) {
	return m.queue.ItemsForJob(jobID)
}

func (m *Manager) remoteURL(format string, args ...string) string {
	escaped := make([]interface{}, len(args))
	for i, a := range args {
		escaped[i] = url.PathEscape(a)
	}
	return m.cfg.Remote.BaseURL + "/" + fmt.Sprintf(format, escaped...)
}
