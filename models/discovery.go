package models

import "time"

type UnitStatus string

const (
	UnitPending   UnitStatus = "PENDING"
	UnitRunning   UnitStatus = "RUNNING"
	UnitRetrying  UnitStatus = "RETRYING"
	UnitCompleted UnitStatus = "COMPLETED"
	UnitFailed    UnitStatus = "FAILED"
)

// Claimable reports whether a worker may move the unit to RUNNING. FAILED
// is final until an operator resets the job.
func (s UnitStatus) Claimable() bool {
	return s == UnitPending || s == UnitRetrying
}

func (s UnitStatus) Terminal() bool {
	return s == UnitCompleted || s == UnitFailed
}

// DiscoveryUnit is one listing URL queued for Stage 1.
type DiscoveryUnit struct {
	ID           int64      `json:"id" db:"id"`
	JobID        int64      `json:"job_id" db:"job_id"`
	URL          string     `json:"url" db:"url"`
	Site         string     `json:"site" db:"site"`
	PracticeArea string     `json:"practice_area" db:"practice_area"`
	State        string     `json:"state" db:"state"`
	City         string     `json:"city" db:"city"`
	Status       UnitStatus `json:"status" db:"status"`
	Attempts     int        `json:"attempts" db:"attempts"`
	LawyersFound int        `json:"lawyers_found" db:"lawyers_found"`
	ErrorMessage string     `json:"error_message" db:"error_message"`
	StartedAt    *time.Time `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at" db:"completed_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}
