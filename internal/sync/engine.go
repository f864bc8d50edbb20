package sync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	stdsync "sync"
	"time"

	"github.com/haulmark/fieldsync/internal/config"
	"github.com/haulmark/fieldsync/internal/db"
	apperrors "github.com/haulmark/fieldsync/internal/errors"
	"github.com/haulmark/fieldsync/internal/logging"
	"github.com/haulmark/fieldsync/internal/models"
	"github.com/haulmark/fieldsync/internal/netmon"
	"github.com/haulmark/fieldsync/internal/queue"
)

// CycleResult summarizes one drain cycle.
type CycleResult struct {
	StartTime time.Time
	EndTime   time.Time
	Attempted int
	Succeeded int
	Failed    int
	Terminal  int
	Status    CycleStatus
}

// Engine drains the upload queue when connectivity allows. At most one drain
// cycle runs at a time: a reentrant trigger while a cycle is in flight is a
// no-op, which is what prevents duplicate concurrent uploads of one item.
type Engine struct {
	store    *db.Store
	queue    *queue.Queue
	monitor  *netmon.Monitor
	hub      *Hub
	client   *http.Client
	profiles map[netmon.Quality]Profile

	// flight is the single-drain guard: scheduled drains try-acquire and
	// skip, ForceSyncJob blocks until the running cycle finishes.
	flight chan struct{}

	mu        stdsync.RWMutex
	status    CycleStatus
	lastCycle *CycleResult
	running   bool

	stopCh chan struct{}
	wg     stdsync.WaitGroup
}

// NewEngine creates an Engine. The HTTP client can be swapped before Start
// for testing.
func NewEngine(store *db.Store, q *queue.Queue, monitor *netmon.Monitor, cfg config.SyncConfig) *Engine {
	return &Engine{
		store:    store,
		queue:    q,
		monitor:  monitor,
		hub:      NewHub(),
		client:   &http.Client{},
		profiles: profiles(cfg),
		flight:   make(chan struct{}, 1),
		status:   StatusIdle,
		stopCh:   make(chan struct{}),
	}
}

// SetHTTPClient replaces the dispatch client. Call before Start.
func (e *Engine) SetHTTPClient(c *http.Client) {
	e.client = c
}

// Hub returns the status hub for subscriptions.
func (e *Engine) Hub() *Hub {
	return e.hub
}

// Status returns the current aggregate status.
func (e *Engine) Status() CycleStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// LastCycle returns the most recent completed cycle result, or nil.
func (e *Engine) LastCycle() *CycleResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastCycle
}

// profileFor returns the drain profile for a quality, defaulting to the
// conservative good profile.
func (e *Engine) profileFor(q netmon.Quality) Profile {
	if p, ok := e.profiles[q]; ok {
		return p
	}
	return e.profiles[netmon.Good]
}

// Start launches the recurring drain loop. The interval adapts to connection
// quality; an offline-to-online transition triggers an immediate out-of-band
// drain instead of waiting for the next tick.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	events, cancel := e.monitor.Subscribe()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()

		timer := time.NewTimer(e.profileFor(e.monitor.Quality()).Interval)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stopCh:
				return
			case ev := <-events:
				if ev.Online && !ev.WasOnline {
					logging.Info("connection restored, draining immediately", nil)
					go e.drainScheduled(ctx)
				}
				// Re-arm the timer with the new quality's cadence.
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(e.profileFor(ev.Quality).Interval)
			case <-timer.C:
				if e.monitor.Online() {
					go e.drainScheduled(ctx)
				}
				timer.Reset(e.profileFor(e.monitor.Quality()).Interval)
			}
		}
	}()

	logging.Info("sync engine started", nil)
}

// Stop halts the drain loop and waits for it to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	close(e.stopCh)
	e.wg.Wait()

	logging.Info("sync engine stopped", nil)
}

// drainScheduled runs a drain and treats an already-running cycle as a
// non-event.
func (e *Engine) drainScheduled(ctx context.Context) {
	if _, err := e.Drain(ctx); err != nil && !apperrors.Is(err, apperrors.ErrSyncInProgress) {
		logging.Error("scheduled drain failed", err, nil)
	}
}

// Drain runs one drain cycle over all currently-ready items. If a cycle is
// already in flight it returns ErrSyncInProgress without queuing a second
// pass.
func (e *Engine) Drain(ctx context.Context) (*CycleResult, error) {
	select {
	case e.flight <- struct{}{}:
	default:
		return nil, apperrors.New(apperrors.ErrSyncInProgress, "drain cycle already in flight")
	}
	defer func() { <-e.flight }()

	items, err := e.queue.ListReady(time.Now())
	if err != nil {
		return nil, err
	}
	return e.runCycle(ctx, items), nil
}

// ForceSyncJob attempts every queued item for one job immediately and
// synchronously, bypassing the scheduled cadence. It serializes against the
// scheduled cycle: a running drain finishes first, then the forced cycle
// takes the guard. Job-completion items are dispatched only after the job's
// other items have all succeeded.
func (e *Engine) ForceSyncJob(ctx context.Context, jobID string) (*CycleResult, error) {
	select {
	case e.flight <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-e.flight }()

	items, err := e.queue.ItemsForJob(jobID)
	if err != nil {
		return nil, err
	}

	var completions, others []*models.UploadItem
	for _, item := range items {
		if item.Type == models.ItemJobCompletion {
			completions = append(completions, item)
		} else {
			others = append(others, item)
		}
	}

	result := e.runCycle(ctx, others)

	if len(completions) > 0 {
		if result.Failed == 0 {
			completionResult := e.runCycle(ctx, completions)
			result.Attempted += completionResult.Attempted
			result.Succeeded += completionResult.Succeeded
			result.Failed += completionResult.Failed
			result.Terminal += completionResult.Terminal
			result.EndTime = completionResult.EndTime
			result.Status = classify(result.Attempted, result.Succeeded)
			e.finishCycle(result)
		} else {
			logging.Warn("withholding job completion, sibling uploads failed",
				map[string]interface{}{"job_id": jobID, "failed": result.Failed})
		}
	}

	return result, nil
}

// runCycle dispatches a set of items in quality-sized batches. Callers hold
// the flight guard.
func (e *Engine) runCycle(ctx context.Context, items []*models.UploadItem) *CycleResult {
	result := &CycleResult{
		StartTime: time.Now(),
		Attempted: len(items),
	}

	if len(items) == 0 {
		result.EndTime = time.Now()
		result.Status = StatusIdle
		return result
	}

	e.setStatus(StatusSyncing)
	e.hub.Publish(Event{Type: EventCycle, Cycle: StatusSyncing})

	prof := e.profileFor(e.monitor.Quality())

	var resultMu stdsync.Mutex
	for start := 0; start < len(items); start += prof.BatchSize {
		end := start + prof.BatchSize
		if end > len(items) {
			end = len(items)
		}

		var wg stdsync.WaitGroup
		for _, item := range items[start:end] {
			wg.Add(1)
			go func(item *models.UploadItem) {
				defer wg.Done()
				terminal, err := e.dispatch(ctx, item, prof.ItemTimeout)

				resultMu.Lock()
				defer resultMu.Unlock()
				if err != nil {
					result.Failed++
					if terminal {
						result.Terminal++
					}
				} else {
					result.Succeeded++
				}
			}(item)
		}
		wg.Wait()

		if ctx.Err() != nil {
			break
		}

		if prof.BatchPause > 0 && end < len(items) {
			select {
			case <-ctx.Done():
			case <-time.After(prof.BatchPause):
			}
		}
	}

	result.EndTime = time.Now()
	result.Status = classify(result.Attempted, result.Succeeded)
	e.finishCycle(result)

	logging.Info("drain cycle finished",
		map[string]interface{}{
			"attempted": result.Attempted,
			"succeeded": result.Succeeded,
			"failed":    result.Failed,
			"status":    string(result.Status),
		})

	return result
}

// classify maps a cycle's success ratio to its reported status. A ratio
// below half is reported as failed.
func classify(attempted, succeeded int) CycleStatus {
	switch {
	case attempted == 0:
		return StatusIdle
	case succeeded == attempted:
		return StatusCompleted
	case succeeded*2 >= attempted:
		return StatusPartial
	default:
		return StatusFailed
	}
}

func (e *Engine) setStatus(s CycleStatus) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
}

func (e *Engine) finishCycle(result *CycleResult) {
	e.mu.Lock()
	e.status = result.Status
	e.lastCycle = result
	e.mu.Unlock()
	e.hub.Publish(Event{Type: EventCycle, Cycle: result.Status})
}

// dispatch performs one item's HTTP request. A 2xx response resolves the
// item and marks the originating record synced; anything else is routed to
// the queue's retry accounting. The returned bool reports a terminal
// failure.
func (e *Engine) dispatch(ctx context.Context, item *models.UploadItem, timeout time.Duration) (bool, error) {
	e.hub.Publish(Event{
		Type: EventItem, JobID: item.JobID, ItemID: string(item.ID),
		ItemType: item.Type, State: ItemUploading,
	})

	err := e.send(ctx, item, timeout)
	if err == nil {
		if err := e.queue.MarkComplete(string(item.ID)); err != nil {
			logging.Error("failed to resolve completed item", err,
				map[string]interface{}{"item_id": string(item.ID)})
		}
		e.markRecordSynced(item)
		e.hub.Publish(Event{
			Type: EventItem, JobID: item.JobID, ItemID: string(item.ID),
			ItemType: item.Type, State: ItemSuccess,
		})
		return false, nil
	}

	terminal, markErr := e.queue.MarkFailed(string(item.ID), err)
	if markErr != nil {
		logging.Error("failed to record item failure", markErr,
			map[string]interface{}{"item_id": string(item.ID)})
	}

	e.hub.Publish(Event{
		Type: EventItem, JobID: item.JobID, ItemID: string(item.ID),
		ItemType: item.Type, State: ItemFailed, Terminal: terminal, Error: err.Error(),
	})

	if terminal {
		return true, apperrors.Wrap(apperrors.ErrUploadPermanent, "upload attempts exhausted", err)
	}
	return false, apperrors.Wrap(apperrors.ErrUploadTransient, "upload failed, will retry", err)
}

// send issues the item's HTTP request with a per-item timeout. Only a 2xx
// status counts as success; everything else means retry-or-fail.
func (e *Engine) send(ctx context.Context, item *models.UploadItem, timeout time.Duration) error {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, item.Method, item.URL, bytes.NewReader(item.Body))
	if err != nil {
		return err
	}

	headers, err := item.HeaderMap()
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

// markRecordSynced flips the synced flag on the record an item transmitted.
func (e *Engine) markRecordSynced(item *models.UploadItem) {
	var err error
	switch item.Type {
	case models.ItemPhoto:
		err = e.store.MarkPhotoSynced(item.DataID)
	case models.ItemForm:
		err = e.store.MarkFormSynced(item.DataID)
	case models.ItemSignature:
		err = e.store.MarkSignatureSynced(item.DataID)
	case models.ItemJobCompletion:
		err = e.store.MarkJobSynced(item.DataID)
	}
	if err != nil {
		logging.Error("failed to mark record synced", err,
			map[string]interface{}{
				"item_type": string(item.Type),
				"data_id":   item.DataID,
			})
	}
}
