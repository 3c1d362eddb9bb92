package workers

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lawcrawl/config"
	"lawcrawl/models"
	"lawcrawl/queue"
	"lawcrawl/storage"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *storage.SQLiteQueue) {
	t.Helper()
	q, err := storage.NewSQLiteQueue(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	d := NewDispatcher(q, config.WorkerConfig{Concurrency: 2, PollInterval: 10 * time.Millisecond}, nil)
	d.SetPolicy(queue.RetryPolicy{MaxRetries: 2, Backoff: func(int) time.Duration { return time.Hour }})
	return d, q
}

func enqueueDetail(t *testing.T, q queue.Queue, lawyerID int64) string {
	t.Helper()
	h, err := q.Enqueue(context.Background(), queue.KindDetail, queue.DetailPayload{LawyerID: lawyerID})
	require.NoError(t, err)
	return h.ID
}

func taskOf(t *testing.T, q queue.Queue, id string) *queue.Task {
	t.Helper()
	task, err := q.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, task)
	return task
}

func TestDispatcher_DrainCompletes(t *testing.T) {
	d, q := newTestDispatcher(t)

	var seen []int64
	d.Handle(queue.KindDetail, func(ctx context.Context, task *queue.Task) error {
		var p queue.DetailPayload
		if err := task.Decode(&p); err != nil {
			return err
		}
		seen = append(seen, p.LawyerID)
		return nil
	})

	a := enqueueDetail(t, q, 1)
	b := enqueueDetail(t, q, 2)

	n, err := d.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []int64{1, 2}, seen)
	assert.Equal(t, queue.StatusSucceeded, taskOf(t, q, a).Status)
	assert.Equal(t, queue.StatusSucceeded, taskOf(t, q, b).Status)
	assert.Equal(t, int64(2), d.Stats().Succeeded)
}

func TestDispatcher_TransientErrorRetriesLater(t *testing.T) {
	d, q := newTestDispatcher(t)
	d.Handle(queue.KindDetail, func(ctx context.Context, task *queue.Task) error {
		return queue.Transient(errors.New("503 from directory"))
	})

	var logged []string
	d.SetLogger(func(taskID string, level models.LogLevel, source, message string) {
		logged = append(logged, string(level)+" "+message)
	})

	id := enqueueDetail(t, q, 1)
	n, err := d.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "retried task is not runnable until its backoff passes")

	task := taskOf(t, q, id)
	assert.Equal(t, queue.StatusQueued, task.Status)
	assert.Equal(t, 1, task.Attempts)
	assert.Contains(t, task.LastError, "503")
	assert.True(t, task.RunAt.After(time.Now().Add(30*time.Minute)))
	require.Len(t, logged, 1)
	assert.Contains(t, logged[0], "attempt 1/4 failed")
}

func TestDispatcher_ExhaustedAttemptsFail(t *testing.T) {
	d, q := newTestDispatcher(t)
	d.SetPolicy(queue.RetryPolicy{MaxRetries: 1, Backoff: func(int) time.Duration { return 0 }})
	calls := 0
	d.Handle(queue.KindDetail, func(ctx context.Context, task *queue.Task) error {
		calls++
		return errors.New("timeout")
	})

	h, err := q.Enqueue(context.Background(), queue.KindDetail, queue.DetailPayload{LawyerID: 9}, queue.WithMaxAttempts(2))
	require.NoError(t, err)

	_, err = d.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	task := taskOf(t, q, h.ID)
	assert.Equal(t, queue.StatusFailed, task.Status)
	assert.Equal(t, Stats{Retried: 1, Failed: 1}, d.Stats())
}

func TestDispatcher_PermanentErrorFailsAtOnce(t *testing.T) {
	d, q := newTestDispatcher(t)
	d.Handle(queue.KindDetail, func(ctx context.Context, task *queue.Task) error {
		return queue.Permanent(errors.New("lawyer 1 not found"))
	})

	id := enqueueDetail(t, q, 1)
	_, err := d.Drain(context.Background())
	require.NoError(t, err)

	task := taskOf(t, q, id)
	assert.Equal(t, queue.StatusFailed, task.Status)
	assert.Equal(t, "lawyer 1 not found", task.LastError)
}

func TestDispatcher_DeferKeepsAttempt(t *testing.T) {
	d, q := newTestDispatcher(t)
	d.Handle(queue.KindDetail, func(ctx context.Context, task *queue.Task) error {
		return queue.Defer(time.Hour, "job paused")
	})

	id := enqueueDetail(t, q, 1)
	_, err := d.Drain(context.Background())
	require.NoError(t, err)

	task := taskOf(t, q, id)
	assert.Equal(t, queue.StatusQueued, task.Status)
	assert.Equal(t, 0, task.Attempts)
	assert.Equal(t, int64(1), d.Stats().Deferred)
}

func TestDispatcher_UnknownKindAndPanic(t *testing.T) {
	d, q := newTestDispatcher(t)
	d.Handle(queue.KindDetail, func(ctx context.Context, task *queue.Task) error {
		panic("nil lawyer")
	})

	detail := enqueueDetail(t, q, 1)
	_, err := d.Drain(context.Background())
	require.NoError(t, err)
	task := taskOf(t, q, detail)
	assert.Equal(t, queue.StatusQueued, task.Status, "a panic is retried like any other error")
	assert.Contains(t, task.LastError, "nil lawyer")

	lookup, err := q.Enqueue(context.Background(), queue.KindLookup, queue.LookupPayload{LawyerID: 1})
	require.NoError(t, err)
	// Unregistered kinds are never claimed by this dispatcher.
	_, err = d.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, queue.StatusQueued, taskOf(t, q, lookup.ID).Status)

	// A kind registered without a handler fails instead of spinning.
	d.kinds = append(d.kinds, queue.KindLookup)
	_, err = d.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, taskOf(t, q, lookup.ID).Status)
}

func TestDispatcher_RunStopsOnCancel(t *testing.T) {
	d, q := newTestDispatcher(t)

	done := make(chan struct{})
	d.Handle(queue.KindLookup, func(ctx context.Context, task *queue.Task) error {
		close(done)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	h, err := q.Enqueue(context.Background(), queue.KindLookup, queue.LookupPayload{LawyerID: 3})
	require.NoError(t, err)
	d.Trigger()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task was not picked up")
	}
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
	assert.Eventually(t, func() bool {
		return taskOf(t, q, h.ID).Status == queue.StatusSucceeded
	}, time.Second, 10*time.Millisecond)
}

func TestDispatcher_ShutdownRequeuesInterrupted(t *testing.T) {
	d, q := newTestDispatcher(t)

	started := make(chan struct{})
	d.Handle(queue.KindDetail, func(ctx context.Context, task *queue.Task) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	id := enqueueDetail(t, q, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	_, err := d.Drain(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	task := taskOf(t, q, id)
	assert.Equal(t, queue.StatusQueued, task.Status)
	assert.Equal(t, 0, task.Attempts)
}

func TestDispatcher_RunWithoutHandlers(t *testing.T) {
	d, _ := newTestDispatcher(t)
	assert.Error(t, d.Run(context.Background()))
}
