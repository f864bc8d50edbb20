// Package sync provides the connection-aware drain engine for the upload
// queue.
package sync

import (
	"sync"
	"time"

	"github.com/haulmark/fieldsync/internal/models"
)

// CycleStatus is the aggregate status of the engine.
type CycleStatus string

const (
	StatusIdle      CycleStatus = "idle"
	StatusSyncing   CycleStatus = "syncing"
	StatusCompleted CycleStatus = "completed"
	StatusPartial   CycleStatus = "partial"
	StatusFailed    CycleStatus = "failed"
)

// ItemState is the per-item upload state pushed to subscribers.
type ItemState string

const (
	ItemPending   ItemState = "pending"
	ItemUploading ItemState = "uploading"
	ItemSuccess   ItemState = "success"
	ItemFailed    ItemState = "failed"
)

// Event kinds.
const (
	EventCycle = "cycle"
	EventItem  = "item"
)

// Event is a typed status notification. Cycle events carry the aggregate
// status; item events carry per-job per-item progress.
type Event struct {
	Type      string          `json:"type"`
	Cycle     CycleStatus     `json:"cycle,omitempty"`
	JobID     string          `json:"job_id,omitempty"`
	ItemID    string          `json:"item_id,omitempty"`
	ItemType  models.ItemType `json:"item_type,omitempty"`
	State     ItemState       `json:"state,omitempty"`
	Terminal  bool            `json:"terminal,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Hub fans status events out to subscribers so the UI can reflect progress
// without polling. Subscriptions are added and removed deterministically.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

// NewHub creates a Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe registers an observer. The returned cancel func removes the
// subscription and closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Event, 64)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish pushes an event to all subscribers without blocking.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
