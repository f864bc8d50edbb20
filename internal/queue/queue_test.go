// Package queue tests for the durable upload queue and retry scheduler.
package queue

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/haulmark/fieldsync/internal/db"
	"github.com/haulmark/fieldsync/internal/models"
)

func newTestQueue(t *testing.T) (*Queue, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "fieldsync_queue_test_*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	database, err := db.Open(tmpDir)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Open() failed: %v", err)
	}

	store := db.NewStore(database)
	if err := store.Init(); err != nil {
		database.Close()
		os.RemoveAll(tmpDir)
		t.Fatalf("Init() failed: %v", err)
	}

	cleanup := func() {
		store.Close()
		database.Close()
		os.RemoveAll(tmpDir)
	}
	return New(store), cleanup
}

func photoRequest(dataID string, priority models.Priority) Request {
	return Request{
		Type:     models.ItemPhoto,
		JobID:    "job-1",
		DataID:   dataID,
		Priority: priority,
		URL:      "http://localhost/upload",
		Headers:  map[string]string{"Content-Type": "application/octet-stream"},
		Body:     []byte("payload"),
	}
}

// TestQueue_Enqueue verifies item persistence and defaults.
func TestQueue_Enqueue(t *testing.T) {
	q, cleanup := newTestQueue(t)
	defer cleanup()

	id, err := q.Enqueue(photoRequest("photo-1", ""))
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if id == "" {
		t.Fatal("Enqueue() returned empty id")
	}

	items, err := q.ListReady(time.Now())
	if err != nil {
		t.Fatalf("ListReady() failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(items))
	}

	item := items[0]
	if item.Priority != models.PriorityNormal {
		t.Errorf("Expected default priority normal, got %s", item.Priority)
	}
	if item.Method != "POST" {
		t.Errorf("Expected default method POST, got %s", item.Method)
	}
	if item.MaxAttempts != 5 {
		t.Errorf("Expected 5 max attempts for normal priority, got %d", item.MaxAttempts)
	}

	headers, err := item.HeaderMap()
	if err != nil {
		t.Fatalf("HeaderMap() failed: %v", err)
	}
	if headers["Content-Type"] != "application/octet-stream" {
		t.Errorf("Headers not round-tripped: %v", headers)
	}
}

// TestQueue_Enqueue_requiresDataID verifies validation.
func TestQueue_Enqueue_requiresDataID(t *testing.T) {
	q, cleanup := newTestQueue(t)
	defer cleanup()

	if _, err := q.Enqueue(photoRequest("", models.PriorityHigh)); err == nil {
		t.Error("Enqueue() without data id should fail")
	}
}

// TestQueue_Enqueue_dedupe verifies a record with an unresolved item is not
// enqueued twice; the existing item's id comes back instead.
func TestQueue_Enqueue_dedupe(t *testing.T) {
	q, cleanup := newTestQueue(t)
	defer cleanup()

	first, err := q.Enqueue(photoRequest("photo-1", models.PriorityHigh))
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	second, err := q.Enqueue(photoRequest("photo-1", models.PriorityHigh))
	if err != nil {
		t.Fatalf("Second Enqueue() failed: %v", err)
	}
	if first != second {
		t.Errorf("Duplicate enqueue should return the existing id: %s vs %s", first, second)
	}

	depth, err := q.Depth()
	if err != nil {
		t.Fatalf("Depth() failed: %v", err)
	}
	if depth != 1 {
		t.Errorf("Expected depth 1 after duplicate enqueue, got %d", depth)
	}

	// Once resolved, the record may be enqueued again
	if err := q.MarkComplete(first); err != nil {
		t.Fatalf("MarkComplete() failed: %v", err)
	}
	third, err := q.Enqueue(photoRequest("photo-1", models.PriorityHigh))
	if err != nil {
		t.Fatalf("Enqueue() after resolve failed: %v", err)
	}
	if third == first {
		t.Error("Re-enqueue after resolve should create a new item")
	}
}

// TestQueue_criticalRetryBudget verifies critical items get the larger
// attempt budget.
func TestQueue_criticalRetryBudget(t *testing.T) {
	q, cleanup := newTestQueue(t)
	defer cleanup()

	id, err := q.Enqueue(Request{
		Type:     models.ItemSignature,
		JobID:    "job-1",
		DataID:   "sig-1",
		Priority: models.PriorityCritical,
		URL:      "http://localhost/upload",
	})
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	items, err := q.ItemsForJob("job-1")
	if err != nil {
		t.Fatalf("ItemsForJob() failed: %v", err)
	}
	if len(items) != 1 || string(items[0].ID) != id {
		t.Fatalf("ItemsForJob() did not return the enqueued item")
	}
	if items[0].MaxAttempts != 10 {
		t.Errorf("Expected 10 max attempts for critical priority, got %d", items[0].MaxAttempts)
	}
}

// TestQueue_MarkFailed_reschedules verifies a failure below the budget
// increments attempts and pushes next_retry_at into the future.
func TestQueue_MarkFailed_reschedules(t *testing.T) {
	q, cleanup := newTestQueue(t)
	defer cleanup()

	id, err := q.Enqueue(photoRequest("photo-1", models.PriorityHigh))
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	before := time.Now().UnixMilli()
	terminal, err := q.MarkFailed(id, errors.New("server returned 503"))
	if err != nil {
		t.Fatalf("MarkFailed() failed: %v", err)
	}
	if terminal {
		t.Error("First failure should not be terminal")
	}

	// The item is no longer immediately ready
	ready, err := q.ListReady(time.Now())
	if err != nil {
		t.Fatalf("ListReady() failed: %v", err)
	}
	if len(ready) != 0 {
		t.Errorf("Rescheduled item should not be ready, got %d items", len(ready))
	}

	items, err := q.ItemsForJob("job-1")
	if err != nil {
		t.Fatalf("ItemsForJob() failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Item should still be queued after transient failure")
	}
	item := items[0]
	if item.Attempts != 1 {
		t.Errorf("Expected 1 attempt recorded, got %d", item.Attempts)
	}
	if item.LastError != "server returned 503" {
		t.Errorf("Last error not recorded: %s", item.LastError)
	}
	// Backoff for attempt 1 is 2s plus up to 1s jitter
	minNext := before + 2000
	maxNext := time.Now().UnixMilli() + 3000
	if item.NextRetryAt < minNext || item.NextRetryAt > maxNext {
		t.Errorf("next_retry_at %d outside expected window [%d, %d]",
			item.NextRetryAt, minNext, maxNext)
	}
}

// TestQueue_MarkFailed_terminal verifies the item is deleted exactly when the
// attempt budget is exhausted and the terminal callback fires.
func TestQueue_MarkFailed_terminal(t *testing.T) {
	q, cleanup := newTestQueue(t)
	defer cleanup()

	var gotItem *models.UploadItem
	var gotCause error
	q.OnTerminalFailure(func(item *models.UploadItem, cause error) {
		gotItem = item
		gotCause = cause
	})

	id, err := q.Enqueue(photoRequest("photo-1", models.PriorityHigh))
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	cause := errors.New("server returned 500")
	maxAttempts := models.MaxAttemptsFor(models.PriorityHigh)
	for i := 1; i <= maxAttempts; i++ {
		terminal, err := q.MarkFailed(id, cause)
		if err != nil {
			t.Fatalf("MarkFailed() attempt %d failed: %v", i, err)
		}
		wantTerminal := i == maxAttempts
		if terminal != wantTerminal {
			t.Errorf("Attempt %d: terminal = %v, want %v", i, terminal, wantTerminal)
		}
	}

	depth, err := q.Depth()
	if err != nil {
		t.Fatalf("Depth() failed: %v", err)
	}
	if depth != 0 {
		t.Errorf("Terminal item should be deleted, depth = %d", depth)
	}

	if gotItem == nil {
		t.Fatal("Terminal callback did not fire")
	}
	if string(gotItem.ID) != id {
		t.Errorf("Callback received wrong item: %s", gotItem.ID)
	}
	if gotItem.Attempts != maxAttempts {
		t.Errorf("Callback item should carry final attempt count %d, got %d",
			maxAttempts, gotItem.Attempts)
	}
	if gotCause != cause {
		t.Errorf("Callback received wrong cause: %v", gotCause)
	}
}

// TestBackoff verifies the exponential schedule and its cap.
func TestBackoff(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{7, 60 * time.Second},
		{100, 60 * time.Second},
		{-1, time.Second},
	}

	for _, tt := range tests {
		if got := Backoff(tt.attempts); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}

	// Monotonically non-decreasing over the whole range
	prev := time.Duration(0)
	for i := 0; i <= 12; i++ {
		d := Backoff(i)
		if d < prev {
			t.Errorf("Backoff(%d) = %v decreased from %v", i, d, prev)
		}
		prev = d
	}
}
