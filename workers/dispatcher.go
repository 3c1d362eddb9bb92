package workers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lawcrawl/config"
	"lawcrawl/models"
	"lawcrawl/queue"
)

// Handler runs one task. Returning nil completes it; any error goes
// through the retry policy.
type Handler func(ctx context.Context, task *queue.Task) error

// Stats counts task outcomes since the dispatcher was created.
type Stats struct {
	Succeeded int64
	Retried   int64
	Deferred  int64
	Failed    int64
}

// Dispatcher polls the queue and hands claimed tasks to the handler
// registered for their kind.
type Dispatcher struct {
	queue    queue.Queue
	handlers map[queue.Kind]Handler
	kinds    []queue.Kind
	policy   queue.RetryPolicy
	cfg      config.WorkerConfig
	logger   *zap.Logger
	logFn    LogFunc
	now      func() time.Time

	triggerCh chan struct{}

	succeeded atomic.Int64
	retried   atomic.Int64
	deferred  atomic.Int64
	failed    atomic.Int64
}

func NewDispatcher(q queue.Queue, cfg config.WorkerConfig, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Dispatcher{
		queue:     q,
		handlers:  make(map[queue.Kind]Handler),
		policy:    queue.DefaultRetryPolicy(),
		cfg:       cfg,
		logger:    logger.Named("dispatcher"),
		logFn:     NoOpLogger,
		now:       time.Now,
		triggerCh: make(chan struct{}, 1),
	}
}

// Handle registers h for kind. Call before Run.
func (d *Dispatcher) Handle(kind queue.Kind, h Handler) {
	if _, ok := d.handlers[kind]; !ok {
		d.kinds = append(d.kinds, kind)
		sort.Slice(d.kinds, func(i, j int) bool { return d.kinds[i] < d.kinds[j] })
	}
	d.handlers[kind] = h
}

func (d *Dispatcher) SetPolicy(p queue.RetryPolicy) {
	d.policy = p
}

// SetLogger sets the task log sink.
func (d *Dispatcher) SetLogger(fn LogFunc) {
	if fn == nil {
		fn = NoOpLogger
	}
	d.logFn = fn
}

// Trigger wakes an idle poller without waiting for the next tick.
func (d *Dispatcher) Trigger() {
	select {
	case d.triggerCh <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Succeeded: d.succeeded.Load(),
		Retried:   d.retried.Load(),
		Deferred:  d.deferred.Load(),
		Failed:    d.failed.Load(),
	}
}

// Run starts cfg.Concurrency pollers and blocks until ctx is cancelled.
// A task in flight at shutdown goes back to the queue without using up
// an attempt.
func (d *Dispatcher) Run(ctx context.Context) error {
	if len(d.kinds) == 0 {
		return eris.New("dispatcher has no handlers")
	}
	d.logger.Info("dispatcher starting",
		zap.Int("concurrency", d.cfg.Concurrency),
		zap.Duration("poll_interval", d.cfg.PollInterval),
		zap.Any("kinds", d.kinds))

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Concurrency; i++ {
		worker := i
		g.Go(func() error {
			d.poll(ctx, worker)
			return nil
		})
	}
	err := g.Wait()
	d.logger.Info("dispatcher stopped", zap.Any("stats", d.Stats()))
	return err
}

func (d *Dispatcher) poll(ctx context.Context, worker int) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := d.Drain(ctx); err != nil && ctx.Err() == nil {
			d.logger.Warn("poll failed", zap.Int("worker", worker), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.triggerCh:
		}
	}
}

// Drain runs tasks until nothing runnable is left, returning how many it
// processed. The crawl command uses it to run a job in the foreground.
func (d *Dispatcher) Drain(ctx context.Context) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		task, err := d.queue.Claim(ctx, d.kinds)
		if err != nil {
			return n, err
		}
		if task == nil {
			return n, nil
		}
		d.process(ctx, task)
		n++
	}
}

func (d *Dispatcher) process(ctx context.Context, task *queue.Task) {
	log := d.logger.With(
		zap.String("task", task.ID),
		zap.String("kind", string(task.Kind)),
		zap.Int("attempt", task.Attempts))

	start := d.now()
	err := d.invoke(ctx, task)
	elapsed := d.now().Sub(start)

	// Outcome writes must land even when shutdown cancelled the handler.
	wctx := context.WithoutCancel(ctx)

	if err == nil {
		if cerr := d.queue.Complete(wctx, task.ID); cerr != nil {
			log.Error("complete task", zap.Error(cerr))
			return
		}
		d.succeeded.Add(1)
		log.Debug("task done", zap.Duration("elapsed", elapsed))
		return
	}

	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		if rerr := d.queue.Retry(wctx, task.ID, d.now(), "interrupted by shutdown", false); rerr != nil {
			log.Error("requeue interrupted task", zap.Error(rerr))
		}
		return
	}

	msg := err.Error()
	decision := d.policy.Next(task.Attempts, task.MaxAttempts, err)
	switch {
	case decision.Retry && !decision.Consume:
		d.deferred.Add(1)
		log.Debug("task deferred", zap.Duration("delay", decision.Delay), zap.String("reason", msg))
		err = d.queue.Retry(wctx, task.ID, d.now().Add(decision.Delay), msg, false)
	case decision.Retry:
		d.retried.Add(1)
		log.Warn("task failed, retrying", zap.Duration("delay", decision.Delay), zap.Error(err))
		d.logFn(task.ID, models.LogLevelWarn, string(task.Kind),
			fmt.Sprintf("attempt %d/%d failed: %s", task.Attempts, task.MaxAttempts, msg))
		err = d.queue.Retry(wctx, task.ID, d.now().Add(decision.Delay), msg, true)
	default:
		d.failed.Add(1)
		log.Error("task failed", zap.Bool("permanent", queue.IsPermanent(err)), zap.Error(err))
		d.logFn(task.ID, models.LogLevelError, string(task.Kind),
			fmt.Sprintf("failed after %d attempt(s): %s", task.Attempts, msg))
		err = d.queue.Fail(wctx, task.ID, msg)
	}
	if err != nil {
		log.Error("record task outcome", zap.Error(err))
	}
}

func (d *Dispatcher) invoke(ctx context.Context, task *queue.Task) (err error) {
	h, ok := d.handlers[task.Kind]
	if !ok {
		return queue.Permanent(eris.Errorf("no handler for %s tasks", task.Kind))
	}
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, task)
}
