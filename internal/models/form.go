package models

// FormType identifies the structured form being captured. The set is closed;
// the storage layer never inspects form contents, only the type.
type FormType string

const (
	FormCollection         FormType = "collection"
	FormDelivery           FormType = "delivery"
	FormExpense            FormType = "expense"
	FormCollectionProgress FormType = "collection-progress"
	FormVehicleInspection  FormType = "vehicle-inspection"
)

// ValidFormType reports whether t is one of the known form types.
func ValidFormType(t FormType) bool {
	switch t {
	case FormCollection, FormDelivery, FormExpense, FormCollectionProgress, FormVehicleInspection:
		return true
	}
	return false
}

// Form represents a structured form captured against a job. One job may hold
// many forms of the same type over time; the latest by timestamp is
// authoritative.
type Form struct {
	ID             UUID     `db:"id" json:"id"`
	JobID          string   `db:"job_id" json:"job_id"`
	Type           FormType `db:"form_type" json:"form_type"`
	Data           []byte   `db:"data" json:"data"`
	Timestamp      int64    `db:"timestamp" json:"timestamp"`
	Synced         bool     `db:"synced" json:"synced"`
	UploadPriority Priority `db:"upload_priority" json:"upload_priority"`
}

// TableName returns the table name for Form.
func (Form) TableName() string {
	return "forms"
}
