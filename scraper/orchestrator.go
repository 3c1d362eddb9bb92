package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"lawcrawl/config"
	"lawcrawl/extract"
	"lawcrawl/identity"
	"lawcrawl/models"
	"lawcrawl/queue"
	"lawcrawl/storage"
)

// pausedRecheck is how long a task for a paused job waits before looking again.
const pausedRecheck = 30 * time.Second

// Orchestrator runs Stage 1 (listing page -> new lawyer rows) and Stage 2
// (detail page -> sparse update) and keeps job counters current.
type Orchestrator struct {
	cfg       config.CrawlConfig
	store     storage.Store
	fetcher   PageFetcher
	extractor *extract.Extractor
	logger    *zap.Logger

	queue   queue.Queue
	archive storage.Archive
	now     func() time.Time
}

func NewOrchestrator(cfg config.CrawlConfig, store storage.Store, fetcher PageFetcher, extractor *extract.Extractor, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if extractor == nil {
		extractor = extract.New(nil)
	}
	if cfg.DetailLease <= 0 {
		cfg.DetailLease = 10 * time.Minute
	}
	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		fetcher:   fetcher,
		extractor: extractor,
		logger:    logger,
		archive:   storage.NopArchive{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetQueue enables follow-up tasks. Without a queue Stage 1 only persists.
func (o *Orchestrator) SetQueue(q queue.Queue) {
	o.queue = q
}

func (o *Orchestrator) SetArchive(a storage.Archive) {
	if a != nil {
		o.archive = a
	}
}

// ============================================================================
// Stage 1
// ============================================================================

// CrawlBasic fetches a discovery unit's listing page and stores one lawyer per
// listing card. It returns the number of rows created. A unit that is already
// finished or held by another worker is a no-op.
func (o *Orchestrator) CrawlBasic(ctx context.Context, unitID int64) (int, error) {
	unit, err := o.store.GetUnit(ctx, unitID)
	if err != nil {
		return 0, eris.Wrapf(err, "get unit %d", unitID)
	}
	if unit == nil {
		return 0, queue.Permanent(eris.Errorf("discovery unit %d not found", unitID))
	}
	job, err := o.store.GetJob(ctx, unit.JobID)
	if err != nil {
		return 0, eris.Wrapf(err, "get job %d", unit.JobID)
	}
	if job == nil {
		return 0, queue.Permanent(eris.Errorf("job %d not found", unit.JobID))
	}

	log := o.logger.With(zap.Int64("job_id", job.ID), zap.Int64("unit_id", unit.ID), zap.String("url", unit.URL))

	switch {
	case job.Status == models.JobPaused:
		return 0, queue.Defer(pausedRecheck, "job paused")
	case !job.Status.Active():
		log.Info("job not active, skipping unit", zap.String("job_status", string(job.Status)))
		return 0, nil
	}

	claimedUnit, claimed, err := o.store.ClaimUnit(ctx, unitID, o.now().Add(-o.cfg.DetailLease))
	if err != nil {
		return 0, eris.Wrapf(err, "claim unit %d", unitID)
	}
	if !claimed {
		log.Debug("unit not claimable, skipping", zap.String("status", string(unit.Status)))
		return 0, nil
	}
	unit = claimedUnit

	page, fetchErr := o.fetcher.FetchWith(ctx, unit.URL, fetchOptions(job))
	if fetchErr != nil {
		if o.cfg.SyntheticFallback && ctx.Err() == nil {
			log.Warn("fetch failed, using synthetic fallback", zap.Error(fetchErr))
			return o.finishUnit(ctx, job, unit, SyntheticLawyers(unit, nil), "synthetic fallback: "+fetchErr.Error())
		}
		return 0, o.failUnit(ctx, job, unit, fetchErr)
	}

	doc, err := extract.ParseHTML(page.Body)
	if err != nil {
		return 0, o.failUnit(ctx, job, unit, err)
	}

	pctx := extract.PageContext{
		SourceURL:    unit.URL,
		Site:         unit.Site,
		PracticeArea: unit.PracticeArea,
		State:        unit.State,
		City:         unit.City,
		JobID:        job.ID,
		UnitID:       unit.ID,
	}
	selectors := o.extractor.Registry().SelectorsFor(unit.Site, extract.PageListing)
	containers := o.extractor.FindEntityContainers(doc, unit.Site)

	lawyers := make([]*models.Lawyer, 0, len(containers))
	skipped := 0
	for _, c := range containers {
		l, ok := o.extractor.ExtractEntity(c, selectors, pctx)
		if !ok {
			skipped++
			continue
		}
		l.Fingerprint = identity.Fingerprint(l)
		lawyers = append(lawyers, l)
	}

	note := ""
	if len(containers) == 0 {
		note = "no listings found on page"
		key := storage.PageKey(job.ID, unit.ID, o.now())
		if err := o.archive.Put(ctx, key, page.Body, "text/html"); err != nil {
			log.Warn("archive page failed", zap.Error(err))
		}
	}
	log.Info("extracted listing page",
		zap.Int("containers", len(containers)),
		zap.Int("extracted", len(lawyers)),
		zap.Int("skipped", skipped),
	)

	return o.finishUnit(ctx, job, unit, lawyers, note)
}

// finishUnit and failUnit write the unit's outcome even when ctx is
// already cancelled; a unit left RUNNING is only picked up again once its
// lease runs out.
func (o *Orchestrator) finishUnit(ctx context.Context, job *models.Job, unit *models.DiscoveryUnit, lawyers []*models.Lawyer, note string) (int, error) {
	ctx = context.WithoutCancel(ctx)
	inserted, err := o.store.CompleteUnit(ctx, unit.ID, lawyers, note)
	if errors.Is(err, storage.ErrUnitNotRunning) {
		o.logger.Info("unit finished elsewhere, dropping result", zap.Int64("unit_id", unit.ID))
		return 0, nil
	}
	if err != nil {
		return 0, o.failUnit(ctx, job, unit, err)
	}

	o.enqueueFollowUps(ctx, job.ID, inserted)
	if _, err := o.RecomputeJobProgress(ctx, job.ID); err != nil {
		o.logger.Warn("recompute progress failed", zap.Int64("job_id", job.ID), zap.Error(err))
	}
	return len(inserted), nil
}

// failUnit records cause on the unit. While the job's retry budget lasts the
// unit goes to RETRYING and a transient error is returned so the queue backs
// off; after that it is FAILED for good. A unit interrupted by shutdown is
// always left RETRYING.
func (o *Orchestrator) failUnit(ctx context.Context, job *models.Job, unit *models.DiscoveryUnit, cause error) error {
	msg := cause.Error()
	interrupted := ctx.Err() != nil && errors.Is(cause, ctx.Err())
	ctx = context.WithoutCancel(ctx)

	var fe *FetchError
	retryable := !queue.IsPermanent(cause) && (!errors.As(cause, &fe) || fe.Transient())
	maxRetries := job.Spec.Retries()
	if retryable && (interrupted || unit.Attempts <= maxRetries) {
		if err := o.store.FailUnit(ctx, unit.ID, models.UnitRetrying, msg); err != nil {
			return o.unitGone(unit.ID, err)
		}
		o.logger.Warn("unit failed, will retry",
			zap.Int64("unit_id", unit.ID),
			zap.Int("attempt", unit.Attempts),
			zap.Int("max_retries", maxRetries),
			zap.Error(cause),
		)
		return queue.Transient(cause)
	}

	if err := o.store.FailUnit(ctx, unit.ID, models.UnitFailed, msg); err != nil {
		return o.unitGone(unit.ID, err)
	}
	o.logger.Error("unit failed", zap.Int64("unit_id", unit.ID), zap.Int("attempts", unit.Attempts), zap.Error(cause))
	if _, err := o.RecomputeJobProgress(ctx, job.ID); err != nil {
		o.logger.Warn("recompute progress failed", zap.Int64("job_id", job.ID), zap.Error(err))
	}
	return queue.Permanent(cause)
}

func (o *Orchestrator) unitGone(unitID int64, err error) error {
	if errors.Is(err, storage.ErrUnitNotRunning) {
		o.logger.Info("unit no longer running, dropping failure", zap.Int64("unit_id", unitID))
		return nil
	}
	return eris.Wrapf(err, "fail unit %d", unitID)
}

func (o *Orchestrator) enqueueFollowUps(ctx context.Context, jobID int64, lawyers []*models.Lawyer) {
	if o.queue == nil {
		return
	}
	for _, l := range lawyers {
		var err error
		switch {
		case l.IsSynthetic:
			continue
		case o.cfg.AutoDetail && l.NeedsDetail():
			_, err = o.queue.Enqueue(ctx, queue.KindDetail, queue.DetailPayload{LawyerID: l.ID}, queue.WithJob(jobID))
		case o.cfg.AutoLookup:
			_, err = o.queue.Enqueue(ctx, queue.KindLookup, queue.LookupPayload{LawyerID: l.ID}, queue.WithJob(jobID))
		}
		if err != nil {
			// The maintenance sweep picks these up later.
			o.logger.Warn("enqueue follow-up failed", zap.Int64("lawyer_id", l.ID), zap.Error(err))
		}
	}
}

// ============================================================================
// Stage 2
// ============================================================================

// CrawlDetail fills a lawyer from its profile page. Lawyers without a
// detail URL, already crawled, or leased by another worker are skipped.
func (o *Orchestrator) CrawlDetail(ctx context.Context, lawyerID int64) error {
	l, err := o.store.GetLawyer(ctx, lawyerID)
	if err != nil {
		return eris.Wrapf(err, "get lawyer %d", lawyerID)
	}
	if l == nil {
		return queue.Permanent(eris.Errorf("lawyer %d not found", lawyerID))
	}
	if !l.NeedsDetail() {
		return nil
	}

	job, err := o.store.GetJob(ctx, l.JobID)
	if err != nil {
		return eris.Wrapf(err, "get job %d", l.JobID)
	}
	opts := FetchOptions{}
	if job != nil {
		switch job.Status {
		case models.JobPaused:
			return queue.Defer(pausedRecheck, "job paused")
		case models.JobCancelled:
			return nil
		}
		opts = fetchOptions(job)
	}

	l, err = o.store.ClaimDetail(ctx, lawyerID, o.now().Add(o.cfg.DetailLease))
	if err != nil {
		return eris.Wrapf(err, "claim detail %d", lawyerID)
	}
	if l == nil {
		return nil
	}

	log := o.logger.With(zap.Int64("lawyer_id", l.ID), zap.String("url", l.DetailURL))

	page, err := o.fetcher.FetchWith(ctx, l.DetailURL, opts)
	if err != nil {
		o.release(ctx, l.ID)
		var fe *FetchError
		if errors.As(err, &fe) && !fe.Transient() {
			return queue.Permanent(err)
		}
		return queue.Transient(err)
	}

	doc, err := extract.ParseHTML(page.Body)
	if err != nil {
		o.release(ctx, l.ID)
		return queue.Permanent(err)
	}

	update := o.extractor.ExtractDetail(doc, l.Domain, l.DetailURL)
	changed := update.Apply(l)
	if err := o.store.CompleteDetail(ctx, l); err != nil {
		o.release(ctx, l.ID)
		return eris.Wrapf(err, "complete detail %d", l.ID)
	}
	log.Info("detail crawled", zap.Int("fields_changed", changed))

	if o.cfg.AutoLookup && o.queue != nil {
		if _, err := o.queue.Enqueue(ctx, queue.KindLookup, queue.LookupPayload{LawyerID: l.ID}, queue.WithJob(l.JobID)); err != nil {
			log.Warn("enqueue lookup failed", zap.Error(err))
		}
	}
	return nil
}

func (o *Orchestrator) release(ctx context.Context, lawyerID int64) {
	if err := o.store.ReleaseDetail(context.WithoutCancel(ctx), lawyerID); err != nil {
		o.logger.Warn("release detail lease failed", zap.Int64("lawyer_id", lawyerID), zap.Error(err))
	}
}

// ============================================================================
// Job progress
// ============================================================================

// RecomputeJobProgress rederives the job counters from its units. Once every
// unit is terminal an active job moves to DONE, whatever the error count.
func (o *Orchestrator) RecomputeJobProgress(ctx context.Context, jobID int64) (*models.Job, error) {
	before, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "get job %d", jobID)
	}
	if before == nil {
		return nil, eris.Errorf("job %d not found", jobID)
	}

	job, err := o.store.RefreshJobProgress(ctx, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "refresh progress for job %d", jobID)
	}
	if before.Status != job.Status {
		o.logger.Info("job finished",
			zap.Int64("job_id", job.ID),
			zap.String("status", string(job.Status)),
			zap.Int("success", job.SuccessCount),
			zap.Int("errors", job.ErrorCount),
		)
	}
	return job, nil
}

// ============================================================================
// Task handlers
// ============================================================================

func (o *Orchestrator) HandleDiscovery(ctx context.Context, t *queue.Task) error {
	var p queue.DiscoveryPayload
	if err := t.Decode(&p); err != nil {
		return err
	}
	_, err := o.CrawlBasic(ctx, p.UnitID)
	return err
}

func (o *Orchestrator) HandleDetail(ctx context.Context, t *queue.Task) error {
	var p queue.DetailPayload
	if err := t.Decode(&p); err != nil {
		return err
	}
	return o.CrawlDetail(ctx, p.LawyerID)
}

func fetchOptions(job *models.Job) FetchOptions {
	spec := job.Spec.WithDefaults()
	return FetchOptions{
		MinDelay: time.Duration(spec.Delay() * float64(time.Second)),
		Timeout:  time.Duration(spec.TimeoutSeconds) * time.Second,
	}
}

// Describe is a one-line summary of a unit for operator logs.
func Describe(u *models.DiscoveryUnit) string {
	return fmt.Sprintf("%s [%s/%s/%s] %s", u.Site, u.PracticeArea, u.State, u.City, u.Status)
}
