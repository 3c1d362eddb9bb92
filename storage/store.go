package storage

import (
	"context"
	"time"

	"lawcrawl/models"
)

// Store holds jobs, discovery units, lawyers and lookups. Every
// read-modify-write that two workers could race on is done inside the
// store so the check and the write are atomic.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id int64) (*models.Job, error)
	ListJobs(ctx context.Context, statuses ...models.JobStatus) ([]models.Job, error)
	// TransitionJob validates and applies a status change under a row lock.
	TransitionJob(ctx context.Context, id int64, to models.JobStatus, errMsg string) (*models.Job, error)
	// RefreshJobProgress recomputes the job's counters from its units.
	RefreshJobProgress(ctx context.Context, id int64) (*models.Job, error)

	// Discovery units
	CreateUnits(ctx context.Context, units []*models.DiscoveryUnit) error
	GetUnit(ctx context.Context, id int64) (*models.DiscoveryUnit, error)
	ListUnits(ctx context.Context, jobID int64) ([]models.DiscoveryUnit, error)
	// ClaimUnit moves a claimable unit to RUNNING. A RUNNING unit whose
	// start is before staleBefore is claimable too. The bool is false when
	// the unit was not claimable; the unit is still returned when it exists.
	ClaimUnit(ctx context.Context, id int64, staleBefore time.Time) (*models.DiscoveryUnit, bool, error)
	// CompleteUnit inserts the lawyers and marks the unit COMPLETED in one
	// transaction. Lawyers whose fingerprint already exists are skipped.
	// Returns the lawyers actually inserted, with IDs set.
	CompleteUnit(ctx context.Context, unitID int64, lawyers []*models.Lawyer, note string) ([]*models.Lawyer, error)
	FailUnit(ctx context.Context, unitID int64, status models.UnitStatus, errMsg string) error
	ResetUnits(ctx context.Context, jobID int64) (int, error)
	CountUnits(ctx context.Context, jobID int64) (models.UnitCounts, error)

	// Lawyers
	GetLawyer(ctx context.Context, id int64) (*models.Lawyer, error)
	ListLawyers(ctx context.Context, jobID int64, limit int) ([]models.Lawyer, error)
	UpdateLawyer(ctx context.Context, l *models.Lawyer) error
	// ClaimDetail leases a lawyer for Stage 2 when it is still eligible.
	// Returns nil when it is not.
	ClaimDetail(ctx context.Context, lawyerID int64, leaseUntil time.Time) (*models.Lawyer, error)
	CompleteDetail(ctx context.Context, l *models.Lawyer) error
	ReleaseDetail(ctx context.Context, lawyerID int64) error
	LawyersNeedingDetail(ctx context.Context, jobID int64, limit int) ([]models.Lawyer, error)
	LawyersNeedingLookup(ctx context.Context, jobID int64, limit int) ([]models.Lawyer, error)

	// Lookups
	// StartLookup returns the lookup to use for a lawyer. Without force an
	// existing successful lookup is returned, as is one still processing
	// that started after staleBefore. Otherwise a new processing lookup is
	// inserted from l and created is true.
	StartLookup(ctx context.Context, l *models.Lookup, force bool, staleBefore time.Time) (lookup *models.Lookup, created bool, err error)
	// FinishLookup stores the outcome of a processing lookup.
	FinishLookup(ctx context.Context, l *models.Lookup) error
	// SyncLookup saves the lawyer and stamps the lookup synced atomically.
	SyncLookup(ctx context.Context, lawyer *models.Lawyer, lookupID int64) error
	GetLookup(ctx context.Context, id int64) (*models.Lookup, error)
	ListLookups(ctx context.Context, lawyerID int64) ([]models.Lookup, error)
	LookupsPendingSync(ctx context.Context, limit int) ([]models.Lookup, error)
	DeleteLookups(ctx context.Context, statuses []models.LookupStatus, before time.Time) (int, error)

	// Maintenance
	// ResetInFlight puts active jobs and their unfinished units back to PENDING.
	ResetInFlight(ctx context.Context) (jobs int, units int, err error)

	Close()
}
