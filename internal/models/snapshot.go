package models

// Snapshot captures a full in-progress workflow state so the client can
// resume after a crash. At most 5 snapshots are retained per job; older ones
// are pruned immediately after a new one is written.
type Snapshot struct {
	ID           UUID         `db:"id" json:"id"`
	JobID        string       `db:"job_id" json:"job_id"`
	WorkflowType WorkflowType `db:"workflow_type" json:"workflow_type"`
	SnapshotData []byte       `db:"snapshot_data" json:"snapshot_data"`
	Timestamp    int64        `db:"timestamp" json:"timestamp"`
	Device       string       `db:"device" json:"device"`
}

// TableName returns the table name for Snapshot.
func (Snapshot) TableName() string {
	return "snapshots"
}

// SnapshotRetention is the maximum number of snapshots kept per job.
const SnapshotRetention = 5
