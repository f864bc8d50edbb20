package models

// WorkflowType distinguishes the collection and delivery halves of a job.
type WorkflowType string

const (
	WorkflowCollection WorkflowType = "collection"
	WorkflowDelivery   WorkflowType = "delivery"
)

// Signature represents a customer signature captured at collection or
// delivery. The image is stored already compressed.
type Signature struct {
	ID           UUID         `db:"id" json:"id"`
	JobID        string       `db:"job_id" json:"job_id"`
	Type         WorkflowType `db:"sig_type" json:"sig_type"`
	Data         []byte       `db:"data" json:"-"`
	CustomerName string       `db:"customer_name" json:"customer_name"`
	Timestamp    int64        `db:"timestamp" json:"timestamp"`
	Synced       bool         `db:"synced" json:"synced"`
}

// TableName returns the table name for Signature.
func (Signature) TableName() string {
	return "signatures"
}
