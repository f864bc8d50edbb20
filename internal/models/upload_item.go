package models

import "encoding/json"

// UUID is a string-typed UUID v4 used as the primary key for all records.
type UUID string

// ItemType identifies what kind of record an upload item transmits.
type ItemType string

const (
	ItemPhoto         ItemType = "photo"
	ItemForm          ItemType = "form"
	ItemSignature     ItemType = "signature"
	ItemJobCompletion ItemType = "job-completion"
)

// Priority is the upload priority class. It governs retry budget, batch
// inclusion order and timeout tolerance.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Rank returns the sort rank for a priority (lower drains first). Unknown
// priorities sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

// MaxAttemptsFor returns the retry budget for a priority class. Critical
// items carry business outcomes and survive more transient failures.
func MaxAttemptsFor(p Priority) int {
	if p == PriorityCritical {
		return 10
	}
	return 5
}

// UploadItem is a durable, retryable work item describing one HTTP request
// that must reach the remote API. An item is removed on success or on
// exhausting its attempts; each enqueue produces exactly one item keyed by
// (type, data_id, created_at).
type UploadItem struct {
	ID          UUID            `db:"id" json:"id"`
	Type        ItemType        `db:"item_type" json:"item_type"`
	JobID       string          `db:"job_id" json:"job_id"`
	DataID      string          `db:"data_id" json:"data_id"`
	Priority    Priority        `db:"priority" json:"priority"`
	URL         string          `db:"url" json:"url"`
	Method      string          `db:"method" json:"method"`
	Headers     json.RawMessage `db:"headers" json:"headers"`
	Body        []byte          `db:"body" json:"-"`
	Attempts    int             `db:"attempts" json:"attempts"`
	MaxAttempts int             `db:"max_attempts" json:"max_attempts"`
	// NextRetryAt and CreatedAt are unix milliseconds: backoff jitter is
	// sub-second, and enqueue ordering must survive rapid captures.
	NextRetryAt int64  `db:"next_retry_at" json:"next_retry_at"`
	LastError   string `db:"last_error" json:"last_error"`
	CreatedAt   int64  `db:"created_at" json:"created_at"`
}

// TableName returns the table name for UploadItem.
func (UploadItem) TableName() string {
	return "upload_queue"
}

// HeaderMap decodes the stored headers blob. A nil or empty blob yields an
// empty map.
func (i *UploadItem) HeaderMap() (map[string]string, error) {
	headers := make(map[string]string)
	if len(i.Headers) == 0 {
		return headers, nil
	}
	if err := json.Unmarshal(i.Headers, &headers); err != nil {
		return nil, err
	}
	return headers, nil
}
