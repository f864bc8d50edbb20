// Package models provides data model definitions for the FieldSync engine.
package models

// Job represents a transport job as known to the field client.
// The payload is server-shaped and opaque to the storage layer.
type Job struct {
	ID          UUID   `db:"id" json:"id"`
	JobNumber   string `db:"job_number" json:"job_number"`
	Payload     []byte `db:"payload" json:"payload"`
	LastUpdated int64  `db:"last_updated" json:"last_updated"`
	Synced      bool   `db:"synced" json:"synced"`
}

// TableName returns the table name for Job.
func (Job) TableName() string {
	return "jobs"
}
