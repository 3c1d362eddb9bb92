package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

type Kind string

const (
	KindDiscovery Kind = "discovery"
	KindDetail    Kind = "detail"
	KindLookup    Kind = "lookup"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusRevoked   Status = "revoked"
)

func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusRevoked
}

// Task is one unit of queued work. Delivery is at least once, so handlers
// must tolerate seeing the same task twice.
type Task struct {
	ID          string          `json:"id" db:"id"`
	Kind        Kind            `json:"kind" db:"kind"`
	Payload     json.RawMessage `json:"payload" db:"payload"`
	Status      Status          `json:"status" db:"status"`
	JobID       int64           `json:"job_id" db:"job_id"`
	Attempts    int             `json:"attempts" db:"attempts"`
	MaxAttempts int             `json:"max_attempts" db:"max_attempts"`
	RunAt       time.Time       `json:"run_at" db:"run_at"`
	LastError   string          `json:"last_error" db:"last_error"`
	ClaimedAt   *time.Time      `json:"claimed_at" db:"claimed_at"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// Decode unmarshals the task payload into v.
func (t *Task) Decode(v any) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return Permanent(eris.Wrapf(err, "decode %s payload for task %s", t.Kind, t.ID))
	}
	return nil
}

type DiscoveryPayload struct {
	UnitID int64 `json:"unit_id"`
}

type DetailPayload struct {
	LawyerID int64 `json:"lawyer_id"`
}

type LookupPayload struct {
	LawyerID int64 `json:"lawyer_id"`
	Force    bool  `json:"force,omitempty"`
}

type EnqueueOptions struct {
	JobID       int64
	MaxAttempts int
	Delay       time.Duration
}

type EnqueueOption func(*EnqueueOptions)

// WithJob tags the task so it can be revoked with the rest of its job.
func WithJob(id int64) EnqueueOption {
	return func(o *EnqueueOptions) { o.JobID = id }
}

func WithMaxAttempts(n int) EnqueueOption {
	return func(o *EnqueueOptions) { o.MaxAttempts = n }
}

func WithDelay(d time.Duration) EnqueueOption {
	return func(o *EnqueueOptions) { o.Delay = d }
}

// ApplyOptions resolves opts over the default retry policy.
func ApplyOptions(opts ...EnqueueOption) EnqueueOptions {
	o := EnqueueOptions{MaxAttempts: DefaultRetryPolicy().MaxAttempts()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 1
	}
	return o
}

// Queue is the task queue the workers poll.
type Queue interface {
	Enqueue(ctx context.Context, kind Kind, payload any, opts ...EnqueueOption) (Handle, error)
	// Claim moves the oldest runnable task of one of kinds to running.
	// It returns (nil, nil) when there is nothing to do.
	Claim(ctx context.Context, kinds []Kind) (*Task, error)
	Complete(ctx context.Context, id string) error
	// Retry puts a running task back in the queue to run at runAt. When
	// consume is false the attempt does not count against the budget.
	Retry(ctx context.Context, id string, runAt time.Time, lastErr string, consume bool) error
	Fail(ctx context.Context, id string, lastErr string) error
	Revoke(ctx context.Context, id string) (bool, error)
	RevokeJob(ctx context.Context, jobID int64) (int, error)
	Get(ctx context.Context, id string) (*Task, error)
	PurgeAll(ctx context.Context) (int, error)
}

// Handle refers to one enqueued task.
type Handle struct {
	ID string
	q  Queue
}

func NewHandle(id string, q Queue) Handle {
	return Handle{ID: id, q: q}
}

// Cancel revokes the task. A task already running is marked revoked but
// its handler is not interrupted.
func (h Handle) Cancel(ctx context.Context) (bool, error) {
	if h.q == nil {
		return false, eris.New("handle has no queue")
	}
	return h.q.Revoke(ctx, h.ID)
}

func (h Handle) Status(ctx context.Context) (Status, error) {
	if h.q == nil {
		return "", eris.New("handle has no queue")
	}
	t, err := h.q.Get(ctx, h.ID)
	if err != nil {
		return "", err
	}
	if t == nil {
		return "", eris.Errorf("task %s not found", h.ID)
	}
	return t.Status, nil
}
