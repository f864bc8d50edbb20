// Package queue provides the durable upload queue and retry scheduler. Every
// work item is persisted before the enqueue call returns; attempt counts and
// backoff live here, dispatch lives in the sync engine.
package queue

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/haulmark/fieldsync/internal/db"
	apperrors "github.com/haulmark/fieldsync/internal/errors"
	"github.com/haulmark/fieldsync/internal/logging"
	"github.com/haulmark/fieldsync/internal/models"
)

// Backoff policy: min(1000ms * 2^attempts, 60s) plus random jitter up to 1s
// so many queued items don't retry in lockstep.
const (
	baseBackoff = time.Second
	maxBackoff  = 60 * time.Second
	maxJitter   = time.Second
)

// TerminalFailureFunc is invoked when an item exhausts its attempts and is
// deleted. The failure must reach a human; it is never silently dropped.
type TerminalFailureFunc func(item *models.UploadItem, cause error)

// Queue is the durable upload queue backed by the record store.
type Queue struct {
	store *db.Store

	mu         sync.Mutex
	rng        *rand.Rand
	onTerminal TerminalFailureFunc
}

// New creates a Queue over the store.
func New(store *db.Store) *Queue {
	return &Queue{
		store: store,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// OnTerminalFailure registers the callback for permanently failed items.
func (q *Queue) OnTerminalFailure(fn TerminalFailureFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onTerminal = fn
}

// Request describes a record that must reach the remote API.
type Request struct {
	Type     models.ItemType
	JobID    string
	DataID   string
	Priority models.Priority
	URL      string
	Method   string
	Headers  map[string]string
	Body     []byte
}

// Enqueue persists a work item for a record. If an unresolved item already
// exists for the same (type, dataID) the existing id is returned: a record is
// never re-enqueued until its current item is resolved.
func (q *Queue) Enqueue(req Request) (string, error) {
	if req.DataID == "" {
		return "", apperrors.New(apperrors.ErrInvalid, "enqueue requires a data id")
	}

	existing, err := q.store.PendingItemID(req.Type, req.DataID)
	if err != nil {
		return "", err
	}
	if existing != "" {
		logging.Debug("record already queued, skipping enqueue",
			map[string]interface{}{"item_type": string(req.Type), "data_id": req.DataID})
		return existing, nil
	}

	priority := req.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	method := req.Method
	if method == "" {
		method = "POST"
	}

	var headers []byte
	if len(req.Headers) > 0 {
		headers, err = json.Marshal(req.Headers)
		if err != nil {
			return "", fmt.Errorf("failed to encode headers: %w", err)
		}
	}

	now := time.Now().UnixMilli()
	item := &models.UploadItem{
		Type:        req.Type,
		JobID:       req.JobID,
		DataID:      req.DataID,
		Priority:    priority,
		URL:         req.URL,
		Method:      method,
		Headers:     headers,
		Body:        req.Body,
		Attempts:    0,
		MaxAttempts: models.MaxAttemptsFor(priority),
		NextRetryAt: now,
		CreatedAt:   now,
	}

	if err := q.store.InsertUploadItem(item); err != nil {
		return "", err
	}

	logging.Info("upload item enqueued",
		map[string]interface{}{
			"item_id":   string(item.ID),
			"item_type": string(item.Type),
			"job_id":    item.JobID,
			"priority":  string(priority),
		})

	return string(item.ID), nil
}

// ListReady returns items due at now, ordered critical, high, normal, low,
// ties broken by creation time.
func (q *Queue) ListReady(now time.Time) ([]*models.UploadItem, error) {
	return q.store.ReadyUploadItems(now.UnixMilli())
}

// ItemsForJob returns all queued items for one job in drain order.
func (q *Queue) ItemsForJob(jobID string) ([]*models.UploadItem, error) {
	return q.store.UploadItemsByJob(jobID)
}

// MarkComplete removes a delivered item.
func (q *Queue) MarkComplete(id string) error {
	return q.store.DeleteUploadItem(id)
}

// MarkFailed records a failed attempt. Below the attempt budget the item is
// rescheduled with exponential backoff; at the budget it is deleted and the
// terminal callback fires. Returns whether the failure was terminal.
func (q *Queue) MarkFailed(id string, cause error) (bool, error) {
	item, err := q.store.GetUploadItem(id)
	if err != nil {
		return false, err
	}

	attempts := item.Attempts + 1

	if attempts >= item.MaxAttempts {
		if err := q.store.DeleteUploadItem(id); err != nil {
			return false, err
		}
		item.Attempts = attempts

		logging.Error("upload item failed permanently", cause,
			map[string]interface{}{
				"item_id":   string(item.ID),
				"item_type": string(item.Type),
				"job_id":    item.JobID,
				"attempts":  attempts,
			})

		q.mu.Lock()
		terminal := q.onTerminal
		q.mu.Unlock()
		if terminal != nil {
			terminal(item, cause)
		}
		return true, nil
	}

	next := time.Now().UnixMilli() + Backoff(attempts).Milliseconds() + q.jitter().Milliseconds()

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := q.store.UpdateUploadItemRetry(id, attempts, next, msg); err != nil {
		return false, err
	}

	logging.Warn("upload item failed, retry scheduled",
		map[string]interface{}{
			"item_id":      string(item.ID),
			"attempts":     attempts,
			"max_attempts": item.MaxAttempts,
			"next_retry":   next,
			"error":        msg,
		})

	return false, nil
}

// Backoff computes the delay before retry attempt number attempts.
func Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	// Guard the shift: 2^6 seconds already exceeds the cap.
	if attempts > 6 {
		return maxBackoff
	}
	backoff := baseBackoff * (1 << uint(attempts))
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}

func (q *Queue) jitter() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return time.Duration(q.rng.Int63n(int64(maxJitter)))
}

// Depth returns the number of queued items.
func (q *Queue) Depth() (int, error) {
	return q.store.UploadQueueDepth()
}
