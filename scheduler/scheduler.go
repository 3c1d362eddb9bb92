package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"lawcrawl/config"
	"lawcrawl/lookup"
	"lawcrawl/models"
	"lawcrawl/queue"
	"lawcrawl/scraper"
	"lawcrawl/services"
	"lawcrawl/storage"
)

const commandPoll = 2 * time.Second

// Triggerable allows workers to be woken manually
type Triggerable interface {
	Trigger()
}

// SweepResult counts what one maintenance sweep did.
type SweepResult struct {
	TasksRequeued int
	JobsChecked   int
	JobsFinished  int
	UnitsQueued   int
	DetailQueued  int
	Synced        int
}

type Scheduler struct {
	cfg          config.SchedulerConfig
	crawl        config.CrawlConfig
	store        storage.Store
	queue        *storage.SQLiteQueue
	orchestrator *scraper.Orchestrator
	jobs         *services.JobService
	lookups      *lookup.Service
	logger       *zap.Logger
	cron         *cron.Cron
	stopCh       chan struct{}
	now          func() time.Time

	dispatcher Triggerable
}

func New(cfg *config.Config, store storage.Store, q *storage.SQLiteQueue, orchestrator *scraper.Orchestrator,
	jobs *services.JobService, lookups *lookup.Service, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	sc := cfg.Scheduler
	if sc.Sweep <= 0 {
		sc.Sweep = 100
	}
	if sc.StaleTask <= 0 {
		sc.StaleTask = 30 * time.Minute
	}
	return &Scheduler{
		cfg:          sc,
		crawl:        cfg.Crawl,
		store:        store,
		queue:        q,
		orchestrator: orchestrator,
		jobs:         jobs,
		lookups:      lookups,
		logger:       logger.Named("scheduler"),
		cron:         cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		stopCh:       make(chan struct{}),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetDispatcher registers the worker pool so new work wakes it at once.
func (s *Scheduler) SetDispatcher(d Triggerable) {
	s.dispatcher = d
}

func (s *Scheduler) Start(ctx context.Context) error {
	go s.pollCommands(ctx)

	if s.cfg.Cron != "" {
		s.logger.Info("maintenance sweep scheduled", zap.String("cron", s.cfg.Cron))
		_, err := s.cron.AddFunc(s.cfg.Cron, func() {
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("maintenance sweep failed", zap.Error(err))
			}
		})
		if err != nil {
			return eris.Wrapf(err, "invalid cron expression %q", s.cfg.Cron)
		}
	}
	if s.cfg.CleanupCron != "" {
		_, err := s.cron.AddFunc(s.cfg.CleanupCron, func() {
			if err := s.Cleanup(ctx); err != nil {
				s.logger.Error("cleanup failed", zap.Error(err))
			}
		})
		if err != nil {
			return eris.Wrapf(err, "invalid cron expression %q", s.cfg.CleanupCron)
		}
	}
	if s.cfg.Cron == "" && s.cfg.CleanupCron == "" {
		s.logger.Info("no schedule configured, daemon will only respond to commands")
	}
	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	close(s.stopCh)
}

// Sweep repairs what the event-driven path can miss (dead workers, lost
// unit tasks, failed follow-up enqueues, unsynced lookups) and recomputes
// the counters of every active job. Lookups are never backfilled here: a
// not_found lawyer would be charged again on every sweep. Operators use
// the lookup_missing command instead.
func (s *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	n, err := s.queue.RequeueStale(ctx, s.cfg.StaleTask)
	if err != nil {
		return res, err
	}
	res.TasksRequeued = n

	active, err := s.store.ListJobs(ctx, models.JobCrawling, models.JobRetrying)
	if err != nil {
		return res, eris.Wrap(err, "list active jobs")
	}
	for _, job := range active {
		if err := s.sweepJob(ctx, &job, &res); err != nil {
			s.logger.Warn("sweep job failed", zap.Int64("job_id", job.ID), zap.Error(err))
		}
	}

	if s.lookups != nil {
		if res.Synced, err = s.lookups.ApplyPendingSyncs(ctx, s.cfg.Sweep); err != nil {
			return res, err
		}
	}

	if res != (SweepResult{JobsChecked: res.JobsChecked}) {
		s.logger.Info("maintenance sweep", zap.Any("result", res))
	}
	if res.TasksRequeued+res.UnitsQueued+res.DetailQueued > 0 {
		s.trigger()
	}
	return res, nil
}

func (s *Scheduler) sweepJob(ctx context.Context, job *models.Job, res *SweepResult) error {
	res.JobsChecked++

	counts, err := s.queue.CountByStatus(ctx, job.ID)
	if err != nil {
		return err
	}
	// Backfill only once the job's queue has drained, so nothing already
	// queued is queued twice.
	if counts[queue.StatusQueued]+counts[queue.StatusRunning] == 0 {
		if err := s.backfill(ctx, job, res); err != nil {
			return err
		}
	}

	updated, err := s.orchestrator.RecomputeJobProgress(ctx, job.ID)
	if err != nil {
		return err
	}
	if updated.Status == models.JobDone {
		res.JobsFinished++
	}
	return nil
}

func (s *Scheduler) backfill(ctx context.Context, job *models.Job, res *SweepResult) error {
	units, err := s.store.ListUnits(ctx, job.ID)
	if err != nil {
		return eris.Wrapf(err, "list units of job %d", job.ID)
	}
	attempts := job.Spec.Retries() + 1
	lease := s.crawl.DetailLease
	if lease <= 0 {
		lease = 10 * time.Minute
	}
	staleBefore := s.now().Add(-lease)
	for _, u := range units {
		// A unit left RUNNING past the lease lost its worker mid-write.
		stale := u.Status == models.UnitRunning && u.StartedAt != nil && u.StartedAt.Before(staleBefore)
		if !u.Status.Claimable() && !stale {
			continue
		}
		if _, err := s.queue.Enqueue(ctx, queue.KindDiscovery, queue.DiscoveryPayload{UnitID: u.ID},
			queue.WithJob(job.ID), queue.WithMaxAttempts(attempts)); err != nil {
			return eris.Wrapf(err, "requeue unit %d", u.ID)
		}
		res.UnitsQueued++
	}

	if !s.crawl.AutoDetail {
		return nil
	}
	lawyers, err := s.store.LawyersNeedingDetail(ctx, job.ID, s.cfg.Sweep)
	if err != nil {
		return eris.Wrapf(err, "list lawyers needing detail for job %d", job.ID)
	}
	for _, l := range lawyers {
		if _, err := s.queue.Enqueue(ctx, queue.KindDetail, queue.DetailPayload{LawyerID: l.ID}, queue.WithJob(job.ID)); err != nil {
			return eris.Wrapf(err, "enqueue detail for lawyer %d", l.ID)
		}
		res.DetailQueued++
	}
	return nil
}

// Cleanup drops old failed lookups, finished tasks and task logs.
func (s *Scheduler) Cleanup(ctx context.Context) error {
	if s.lookups != nil {
		if _, err := s.lookups.CleanupLookups(ctx, 0); err != nil {
			return err
		}
	}
	if s.cfg.TaskRetention <= 0 {
		return nil
	}
	cutoff := s.now().Add(-s.cfg.TaskRetention)
	tasks, err := s.queue.DeleteFinished(ctx, cutoff)
	if err != nil {
		return err
	}
	logs, err := s.queue.PruneLogs(ctx, cutoff)
	if err != nil {
		return err
	}
	s.logger.Info("queue cleanup", zap.Int("tasks_deleted", tasks), zap.Int("logs_deleted", logs))
	return nil
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(commandPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.ProcessCommands(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ProcessCommands runs every pending operator command once. A command that
// fails is still marked processed; its error is logged.
func (s *Scheduler) ProcessCommands(ctx context.Context) int {
	cmds, err := s.queue.GetPendingCommands(ctx)
	if err != nil {
		s.logger.Error("get pending commands", zap.Error(err))
		return 0
	}

	for _, cmd := range cmds {
		log := s.logger.With(zap.Int64("command_id", cmd.ID), zap.String("command", string(cmd.Command)))
		log.Info("processing command")
		if err := s.handleCommand(ctx, &cmd); err != nil {
			log.Error("command failed", zap.Error(err))
		}
		if err := s.queue.MarkCommandProcessed(ctx, cmd.ID); err != nil {
			log.Error("mark command processed", zap.Error(err))
		}
	}
	if len(cmds) > 0 {
		s.trigger()
	}
	return len(cmds)
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd *models.Command) error {
	var p models.CommandParams
	if len(cmd.Params) > 0 {
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			return eris.Wrapf(err, "decode params of command %d", cmd.ID)
		}
	}
	if p.Limit <= 0 {
		p.Limit = s.cfg.Sweep
	}

	switch cmd.Command {
	case models.CmdStartJob:
		_, err := s.jobs.StartJob(ctx, p.JobID)
		return err
	case models.CmdCancelJob:
		_, err := s.jobs.CancelJob(ctx, p.JobID)
		return err
	case models.CmdPauseJob:
		return s.jobs.PauseJob(ctx, p.JobID)
	case models.CmdResumeJob:
		return s.jobs.ResumeJob(ctx, p.JobID)
	case models.CmdResetJob:
		_, err := s.jobs.ResetJob(ctx, p.JobID)
		return err
	case models.CmdPurge:
		_, err := s.jobs.PurgeAll(ctx)
		return err
	case models.CmdLookupMissing:
		if s.lookups == nil {
			return eris.New("lookups are not configured")
		}
		_, err := s.lookups.LookupMissing(ctx, p.JobID, p.Limit)
		return err
	case models.CmdRecompute:
		if p.JobID != 0 {
			_, err := s.orchestrator.RecomputeJobProgress(ctx, p.JobID)
			return err
		}
		_, err := s.Sweep(ctx)
		return err
	default:
		return eris.Errorf("unknown command %q", cmd.Command)
	}
}

// TriggerNow runs a sweep immediately.
func (s *Scheduler) TriggerNow(ctx context.Context) (SweepResult, error) {
	return s.Sweep(ctx)
}

func (s *Scheduler) trigger() {
	if s.dispatcher != nil {
		s.dispatcher.Trigger()
	}
}
