package services

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"lawcrawl/config"
	"lawcrawl/models"
	"lawcrawl/queue"
	"lawcrawl/scraper"
	"lawcrawl/storage"
)

// JobService owns the job lifecycle: it turns specs into discovery units,
// feeds them to the queue and applies operator actions.
type JobService struct {
	store  storage.Store
	queue  queue.Queue
	sites  *scraper.Sites
	logger *zap.Logger
}

func NewJobService(store storage.Store, q queue.Queue, logger *zap.Logger) *JobService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobService{store: store, queue: q, sites: scraper.NewSites(nil), logger: logger.Named("jobs")}
}

// SetSites replaces the built-in listing URL layouts with configured ones.
func (s *JobService) SetSites(sites *scraper.Sites) {
	s.sites = sites
}

// PurgeResult counts what PurgeAll touched.
type PurgeResult struct {
	Tasks int
	Jobs  int
	Units int
}

// CreateJob stores a new PENDING job. A spec that fails validation is still
// stored, as FAILED with the validation message, and the error is returned
// alongside it.
func (s *JobService) CreateJob(ctx context.Context, spec models.JobSpec) (*models.Job, error) {
	spec = spec.WithDefaults()
	job := &models.Job{Spec: spec, Status: models.JobPending}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, eris.Wrap(err, "create job")
	}

	if verr := config.ValidateJobSpec(spec); verr != nil {
		failed, err := s.store.TransitionJob(ctx, job.ID, models.JobFailed, verr.Error())
		if err != nil {
			return nil, eris.Wrapf(err, "fail job %d", job.ID)
		}
		s.logger.Warn("job spec rejected", zap.Int64("job_id", job.ID), zap.Error(verr))
		return failed, verr
	}

	s.logger.Info("job created",
		zap.Int64("job_id", job.ID),
		zap.String("name", spec.Name),
		zap.Int("start_urls", len(spec.StartURLs)),
		zap.Int("practice_areas", len(spec.PracticeAreas)),
		zap.Int("states", len(spec.States)))
	return job, nil
}

// StartJob moves a PENDING job to CRAWLING and enqueues one discovery task
// per unit. Units left over from a reset are reused. Returns the number of
// tasks enqueued.
func (s *JobService) StartJob(ctx context.Context, jobID int64) (int, error) {
	job, err := s.mustJob(ctx, jobID)
	if err != nil {
		return 0, err
	}
	if job.Status != models.JobPending {
		return 0, eris.Errorf("job %d is %s, only PENDING jobs can start", jobID, job.Status)
	}

	units, err := s.unitsFor(ctx, job)
	if err != nil {
		return 0, err
	}
	if len(units) == 0 {
		if _, err := s.store.TransitionJob(ctx, jobID, models.JobFailed, "no start urls"); err != nil {
			return 0, eris.Wrapf(err, "fail job %d", jobID)
		}
		return 0, eris.Errorf("job %d has no start urls", jobID)
	}

	// Active before the first task can run, so handlers don't skip units.
	if _, err := s.store.TransitionJob(ctx, jobID, models.JobCrawling, ""); err != nil {
		return 0, eris.Wrapf(err, "start job %d", jobID)
	}
	if _, err := s.store.RefreshJobProgress(ctx, jobID); err != nil {
		return 0, eris.Wrapf(err, "refresh progress for job %d", jobID)
	}

	attempts := job.Spec.Retries() + 1
	enqueued := 0
	for _, u := range units {
		if !u.Status.Claimable() {
			continue
		}
		_, err := s.queue.Enqueue(ctx, queue.KindDiscovery, queue.DiscoveryPayload{UnitID: u.ID},
			queue.WithJob(jobID), queue.WithMaxAttempts(attempts))
		if err != nil {
			return enqueued, eris.Wrapf(err, "enqueue unit %d", u.ID)
		}
		enqueued++
	}

	s.logger.Info("job started", zap.Int64("job_id", jobID), zap.Int("units", enqueued))
	return enqueued, nil
}

func (s *JobService) unitsFor(ctx context.Context, job *models.Job) ([]*models.DiscoveryUnit, error) {
	existing, err := s.store.ListUnits(ctx, job.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "list units of job %d", job.ID)
	}
	if len(existing) > 0 {
		units := make([]*models.DiscoveryUnit, len(existing))
		for i := range existing {
			units[i] = &existing[i]
		}
		return units, nil
	}

	units := s.sites.UnitsForJob(job)
	if len(units) == 0 {
		return nil, nil
	}
	if err := s.store.CreateUnits(ctx, units); err != nil {
		return nil, eris.Wrapf(err, "create units for job %d", job.ID)
	}
	return units, nil
}

// CancelJob marks the job CANCELLED and revokes its queued tasks. Tasks
// already running finish their current page.
func (s *JobService) CancelJob(ctx context.Context, jobID int64) (int, error) {
	if _, err := s.store.TransitionJob(ctx, jobID, models.JobCancelled, "cancelled by operator"); err != nil {
		return 0, eris.Wrapf(err, "cancel job %d", jobID)
	}
	revoked, err := s.queue.RevokeJob(ctx, jobID)
	if err != nil {
		return 0, eris.Wrapf(err, "revoke tasks of job %d", jobID)
	}
	s.logger.Info("job cancelled", zap.Int64("job_id", jobID), zap.Int("tasks_revoked", revoked))
	return revoked, nil
}

// PauseJob stops new work on the job. Its queued tasks are deferred by the
// handlers until the job resumes.
func (s *JobService) PauseJob(ctx context.Context, jobID int64) error {
	if _, err := s.store.TransitionJob(ctx, jobID, models.JobPaused, ""); err != nil {
		return eris.Wrapf(err, "pause job %d", jobID)
	}
	s.logger.Info("job paused", zap.Int64("job_id", jobID))
	return nil
}

func (s *JobService) ResumeJob(ctx context.Context, jobID int64) error {
	if _, err := s.store.TransitionJob(ctx, jobID, models.JobCrawling, ""); err != nil {
		return eris.Wrapf(err, "resume job %d", jobID)
	}
	s.logger.Info("job resumed", zap.Int64("job_id", jobID))
	return nil
}

// ResetJob revokes the job's tasks and puts the job and every one of its
// units back to PENDING. Lawyers already stored are kept; the fingerprint
// check skips them when the units run again.
func (s *JobService) ResetJob(ctx context.Context, jobID int64) (int, error) {
	job, err := s.mustJob(ctx, jobID)
	if err != nil {
		return 0, err
	}

	if _, err := s.queue.RevokeJob(ctx, jobID); err != nil {
		return 0, eris.Wrapf(err, "revoke tasks of job %d", jobID)
	}

	if job.Status.Active() {
		if _, err := s.store.TransitionJob(ctx, jobID, models.JobCancelled, ""); err != nil {
			return 0, eris.Wrapf(err, "stop job %d", jobID)
		}
	}
	if job.Status != models.JobPending {
		if _, err := s.store.TransitionJob(ctx, jobID, models.JobPending, ""); err != nil {
			return 0, eris.Wrapf(err, "reset job %d", jobID)
		}
	}

	n, err := s.store.ResetUnits(ctx, jobID)
	if err != nil {
		return 0, eris.Wrapf(err, "reset units of job %d", jobID)
	}
	if _, err := s.store.RefreshJobProgress(ctx, jobID); err != nil {
		return n, eris.Wrapf(err, "refresh progress for job %d", jobID)
	}
	s.logger.Info("job reset", zap.Int64("job_id", jobID), zap.Int("units", n))
	return n, nil
}

// PurgeAll revokes every queued and running task and resets in-flight jobs
// and units to PENDING.
func (s *JobService) PurgeAll(ctx context.Context) (PurgeResult, error) {
	var res PurgeResult
	var err error
	if res.Tasks, err = s.queue.PurgeAll(ctx); err != nil {
		return res, eris.Wrap(err, "purge queue")
	}
	if res.Jobs, res.Units, err = s.store.ResetInFlight(ctx); err != nil {
		return res, eris.Wrap(err, "reset in-flight work")
	}
	s.logger.Warn("queue purged",
		zap.Int("tasks", res.Tasks),
		zap.Int("jobs_reset", res.Jobs),
		zap.Int("units_reset", res.Units))
	return res, nil
}

// Progress recomputes and returns the job's counters.
func (s *JobService) Progress(ctx context.Context, jobID int64) (*models.Job, error) {
	job, err := s.store.RefreshJobProgress(ctx, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "refresh progress for job %d", jobID)
	}
	return job, nil
}

func (s *JobService) mustJob(ctx context.Context, jobID int64) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "get job %d", jobID)
	}
	if job == nil {
		return nil, eris.Errorf("job %d not found", jobID)
	}
	return job, nil
}
