package models

// Photo represents a captured job photograph. Photos are immutable after
// creation; a retake supersedes the old record with a new one.
type Photo struct {
	ID             UUID     `db:"id" json:"id"`
	JobID          string   `db:"job_id" json:"job_id"`
	Category       string   `db:"category" json:"category"` // free-form tag, e.g. "front-view"
	Data           []byte   `db:"data" json:"-"`
	OriginalSize   int64    `db:"original_size" json:"original_size"`
	CompressedSize int64    `db:"compressed_size" json:"compressed_size"`
	Timestamp      int64    `db:"timestamp" json:"timestamp"`
	Synced         bool     `db:"synced" json:"synced"`
	UploadPriority Priority `db:"upload_priority" json:"upload_priority"`
}

// TableName returns the table name for Photo.
func (Photo) TableName() string {
	return "photos"
}
