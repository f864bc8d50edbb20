// Package session tests for the engine facade. These are the end-to-end
// scenarios: capture while offline, survive a restart, reconcile on
// reconnect.
package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haulmark/fieldsync/internal/config"
	"github.com/haulmark/fieldsync/internal/models"
)

func testConfig(t *testing.T) (*config.Config, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "fieldsync_session_test_*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	cfg := config.Default()
	cfg.DataDir = tmpDir
	cfg.Capture.DebounceMS = 30

	return cfg, func() { os.RemoveAll(tmpDir) }
}

func newTestManager(t *testing.T, cfg *config.Config) *Manager {
	t.Helper()

	mgr := New(cfg)
	if err := mgr.Init(context.Background()); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	return mgr
}

// okServer records request paths and answers 200 to everything.
func okServer(t *testing.T) (*httptest.Server, func() []string) {
	t.Helper()

	var mu sync.Mutex
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	return server, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), paths...)
	}
}

// TestManager_StorePhoto_durableBeforeReturn verifies the capture contract:
// once StorePhoto returns, the record and its queue item exist in the store.
func TestManager_StorePhoto_durableBeforeReturn(t *testing.T) {
	cfg, cleanup := testConfig(t)
	defer cleanup()

	mgr := newTestManager(t, cfg)
	defer mgr.Close()

	id, err := mgr.StorePhoto("job-1", []byte("raw-capture-bytes"), "vehicle-front")
	if err != nil {
		t.Fatalf("StorePhoto() failed: %v", err)
	}
	if id == "" {
		t.Fatal("StorePhoto() returned empty id")
	}

	stats, err := mgr.Stats()
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats.Photos != 1 {
		t.Errorf("Photo not durable: count = %d", stats.Photos)
	}
	if stats.QueueDepth != 1 {
		t.Errorf("Upload item not durable: depth = %d", stats.QueueDepth)
	}

	pending, err := mgr.PendingItems("job-1")
	if err != nil {
		t.Fatalf("PendingItems() failed: %v", err)
	}
	if len(pending) != 1 || pending[0].DataID != id {
		t.Errorf("Pending item does not reference the photo")
	}
}

// TestManager_StorePhoto_requiresJob verifies validation.
func TestManager_StorePhoto_requiresJob(t *testing.T) {
	cfg, cleanup := testConfig(t)
	defer cleanup()

	mgr := newTestManager(t, cfg)
	defer mgr.Close()

	if _, err := mgr.StorePhoto("", []byte("bytes"), "c"); err == nil {
		t.Error("StorePhoto() without job id should fail")
	}
}

// TestManager_StoreForm verifies form capture and the critical priority for
// completion-relevant form types.
func TestManager_StoreForm(t *testing.T) {
	cfg, cleanup := testConfig(t)
	defer cleanup()

	mgr := newTestManager(t, cfg)
	defer mgr.Close()

	if _, err := mgr.StoreForm("job-1", "bogus-type", []byte("{}")); err == nil {
		t.Error("StoreForm() with unknown type should fail")
	}

	if _, err := mgr.StoreForm("job-1", models.FormCollection, []byte(`{"odo": 12000}`)); err != nil {
		t.Fatalf("StoreForm() failed: %v", err)
	}
	if _, err := mgr.StoreForm("job-1", models.FormExpense, []byte(`{"fuel": 80}`)); err != nil {
		t.Fatalf("StoreForm() failed: %v", err)
	}

	pending, err := mgr.PendingItems("job-1")
	if err != nil {
		t.Fatalf("PendingItems() failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("Expected 2 pending items, got %d", len(pending))
	}
	// Drain order puts the critical collection form first
	if pending[0].Priority != models.PriorityCritical {
		t.Errorf("Collection form should be critical, got %s", pending[0].Priority)
	}
	if pending[1].Priority != models.PriorityNormal {
		t.Errorf("Expense form should be normal, got %s", pending[1].Priority)
	}
}

// TestManager_restartRecovery verifies captured data and queued uploads
// survive a full close-and-reopen, the process-crash stand-in.
func TestManager_restartRecovery(t *testing.T) {
	cfg, cleanup := testConfig(t)
	defer cleanup()

	mgr := newTestManager(t, cfg)
	if _, err := mgr.StorePhoto("job-1", []byte("capture"), "damage"); err != nil {
		t.Fatalf("StorePhoto() failed: %v", err)
	}
	if _, err := mgr.StoreSignature("job-1", models.WorkflowCollection, []byte("sig"), "A. Customer"); err != nil {
		t.Fatalf("StoreSignature() failed: %v", err)
	}
	if err := mgr.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	mgr2 := newTestManager(t, cfg)
	defer mgr2.Close()

	stats, err := mgr2.Stats()
	if err != nil {
		t.Fatalf("Stats() after restart failed: %v", err)
	}
	if stats.Photos != 1 || stats.Signatures != 1 {
		t.Errorf("Records lost across restart: photos=%d signatures=%d",
			stats.Photos, stats.Signatures)
	}
	if stats.QueueDepth != 2 {
		t.Errorf("Queued uploads lost across restart: depth = %d", stats.QueueDepth)
	}
	if stats.UnsyncedRecords != 2 {
		t.Errorf("Expected 2 unsynced records after restart, got %d", stats.UnsyncedRecords)
	}
}

// TestManager_snapshotDebounce verifies rapid snapshot writes coalesce to the
// last one, and that the write does happen once the caller pauses.
func TestManager_snapshotDebounce(t *testing.T) {
	cfg, cleanup := testConfig(t)
	defer cleanup()

	mgr := newTestManager(t, cfg)
	defer mgr.Close()

	for i := 1; i <= 5; i++ {
		mgr.CreateSnapshot("job-1", models.WorkflowCollection, []byte{byte(i)}, "tablet-7")
	}

	// Nothing is written until the debounce window elapses
	if snap, err := mgr.RestoreLatestSnapshot("job-1"); err != nil {
		t.Fatalf("RestoreLatestSnapshot() failed: %v", err)
	} else if snap != nil {
		t.Error("Snapshot written before debounce window elapsed")
	}

	time.Sleep(200 * time.Millisecond)

	snap, err := mgr.RestoreLatestSnapshot("job-1")
	if err != nil {
		t.Fatalf("RestoreLatestSnapshot() failed: %v", err)
	}
	if snap == nil {
		t.Fatal("Debounced snapshot was never written")
	}
	if len(snap.SnapshotData) != 1 || snap.SnapshotData[0] != 5 {
		t.Errorf("Expected last snapshot data [5], got %v", snap.SnapshotData)
	}
	if snap.Device != "tablet-7" {
		t.Errorf("Device not recorded: %s", snap.Device)
	}

	stats, err := mgr.Stats()
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats.Snapshots != 1 {
		t.Errorf("Expected 1 coalesced snapshot, got %d", stats.Snapshots)
	}
}

// TestManager_closeFlushesPendingSnapshot verifies a snapshot still inside
// its debounce window is written on shutdown rather than dropped.
func TestManager_closeFlushesPendingSnapshot(t *testing.T) {
	cfg, cleanup := testConfig(t)
	defer cleanup()
	cfg.Capture.DebounceMS = 60000

	mgr := newTestManager(t, cfg)
	mgr.CreateSnapshot("job-1", models.WorkflowDelivery, []byte("in-flight"), "")
	if err := mgr.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	cfg.Capture.DebounceMS = 30
	mgr2 := newTestManager(t, cfg)
	defer mgr2.Close()

	snap, err := mgr2.RestoreLatestSnapshot("job-1")
	if err != nil {
		t.Fatalf("RestoreLatestSnapshot() failed: %v", err)
	}
	if snap == nil || string(snap.SnapshotData) != "in-flight" {
		t.Error("Pending snapshot was not flushed on Close")
	}
}

// TestManager_RestoreLatestSnapshot_none verifies the no-snapshot case
// returns nil rather than an error.
func TestManager_RestoreLatestSnapshot_none(t *testing.T) {
	cfg, cleanup := testConfig(t)
	defer cleanup()

	mgr := newTestManager(t, cfg)
	defer mgr.Close()

	snap, err := mgr.RestoreLatestSnapshot("never-seen")
	if err != nil {
		t.Fatalf("RestoreLatestSnapshot() failed: %v", err)
	}
	if snap != nil {
		t.Errorf("Expected nil snapshot, got %+v", snap)
	}
}

// TestManager_offlineCaptureThenReconnect is the core product scenario:
// capture a full job's records offline, reconnect, and watch everything
// reconcile without user action.
func TestManager_offlineCaptureThenReconnect(t *testing.T) {
	cfg, cleanup := testConfig(t)
	defer cleanup()

	server, _ := okServer(t)
	cfg.Remote.BaseURL = server.URL

	mgr := newTestManager(t, cfg)
	defer mgr.Close()

	// Offline: capture 3 photos and a collection form
	for _, category := range []string{"front", "rear", "damage"} {
		if _, err := mgr.StorePhoto("job-1", []byte("photo-"+category), category); err != nil {
			t.Fatalf("StorePhoto() failed: %v", err)
		}
	}
	if _, err := mgr.StoreForm("job-1", models.FormCollection, []byte("{}")); err != nil {
		t.Fatalf("StoreForm() failed: %v", err)
	}

	stats, err := mgr.Stats()
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats.QueueDepth != 4 {
		t.Fatalf("Expected 4 queued uploads while offline, got %d", stats.QueueDepth)
	}

	// Reconnect; the engine drains without an explicit sync call
	mgr.SetOnline(true)

	deadline := time.Now().Add(5 * time.Second)
	for {
		stats, err = mgr.Stats()
		if err != nil {
			t.Fatalf("Stats() failed: %v", err)
		}
		if stats.QueueDepth == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Queue did not drain after reconnect, depth = %d", stats.QueueDepth)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if stats.UnsyncedRecords != 0 {
		t.Errorf("All records should be synced after drain, %d remain", stats.UnsyncedRecords)
	}
}

// TestManager_CompleteJob verifies the synchronous completion path: sibling
// uploads first, completion last, job flagged synced.
func TestManager_CompleteJob(t *testing.T) {
	cfg, cleanup := testConfig(t)
	defer cleanup()

	server, getPaths := okServer(t)
	cfg.Remote.BaseURL = server.URL

	mgr := newTestManager(t, cfg)
	defer mgr.Close()

	jobID := "0d4f8a9e-9c1b-4f7a-8d2e-5b6c7a8d9e0f"
	if err := mgr.StoreJob(jobID, "HM-2001", []byte(`{"vehicles": 1}`)); err != nil {
		t.Fatalf("StoreJob() failed: %v", err)
	}
	if _, err := mgr.StorePhoto(jobID, []byte("proof"), "handover"); err != nil {
		t.Fatalf("StorePhoto() failed: %v", err)
	}

	result, err := mgr.CompleteJob(context.Background(), jobID, []byte(`{"outcome": "delivered"}`))
	if err != nil {
		t.Fatalf("CompleteJob() failed: %v", err)
	}
	if result.Succeeded != result.Attempted || result.Failed != 0 {
		t.Errorf("Completion cycle not clean: %+v", result)
	}

	paths := getPaths()
	if len(paths) == 0 || !strings.HasSuffix(paths[len(paths)-1], "/complete") {
		t.Errorf("Completion request must be last, paths: %v", paths)
	}

	job, err := mgr.GetJob(jobID)
	if err != nil {
		t.Fatalf("GetJob() failed: %v", err)
	}
	if !job.Synced {
		t.Error("Completed job should be marked synced")
	}

	pending, err := mgr.PendingItems(jobID)
	if err != nil {
		t.Fatalf("PendingItems() failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("No items should remain after completion, got %d", len(pending))
	}
}

// TestManager_Subscribe verifies sync events reach facade subscribers.
func TestManager_Subscribe(t *testing.T) {
	cfg, cleanup := testConfig(t)
	defer cleanup()

	server, _ := okServer(t)
	cfg.Remote.BaseURL = server.URL

	mgr := newTestManager(t, cfg)
	defer mgr.Close()

	events, cancel := mgr.Subscribe()
	defer cancel()

	if _, err := mgr.StorePhoto("job-1", []byte("bytes"), "c"); err != nil {
		t.Fatalf("StorePhoto() failed: %v", err)
	}
	if _, err := mgr.SyncNow(context.Background()); err != nil {
		t.Fatalf("SyncNow() failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	sawItemSuccess := false
	for !sawItemSuccess {
		select {
		case ev := <-events:
			if ev.Type == "item" && ev.State == "success" {
				sawItemSuccess = true
			}
		case <-deadline:
			t.Fatal("Never observed an item success event")
		}
	}
}
