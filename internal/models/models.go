package models

import "time"

// EnrollmentRecord is one row of the latest enrollment feed snapshot.
// The whole table is replaced every cycle.
type EnrollmentRecord struct {
	IdentityCode      string     `gorm:"primaryKey;autoIncrement:false" json:"identity_code"`
	Level             *int       `json:"level"`
	FirstName         string     `json:"first_name"`
	LastName          string     `json:"last_name"`
	IsActiveStatus    bool       `gorm:"column:status" json:"is_active_status"`
	CustomerType      string     `json:"customer_type"`
	AutoshipDate      *time.Time `gorm:"index:idx_enrollment_renewals_autoship_date" json:"autoship_date"` // nil when the feed value did not parse
	BinaryLeg         string     `json:"binary_leg"`
	HasActiveKitOrder bool       `gorm:"column:active_kit_order;index:idx_enrollment_renewals_active_kit_order" json:"has_active_kit_order"`
}

func (EnrollmentRecord) TableName() string { return "enrollment_renewals" }

// Cycle run statuses.
const (
	CycleRunning   = "running"
	CycleSucceeded = "succeeded"
	CycleFailed    = "failed"
)

// CycleRun is the audit row written for every reconciliation cycle.
type CycleRun struct {
	ID           string     `gorm:"primaryKey" json:"id"`
	StartedAt    time.Time  `gorm:"index" json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
	Status       string     `json:"status"` // running | succeeded | failed
	Stage        string     `json:"stage,omitempty"`
	Error        string     `json:"error,omitempty"`
	Records      int        `json:"records"`
	Issues       int        `json:"issues"`
	Assigned     int        `json:"assigned"`
	Unidentified int        `json:"unidentified"`
	Lapsed       int        `json:"lapsed"`
	Ambiguities  int        `json:"ambiguities"`
}
