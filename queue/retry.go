package queue

import (
	"errors"
	"time"
)

// RetryPolicy decides whether a failed task runs again and when.
type RetryPolicy struct {
	MaxRetries int
	Backoff    func(attempt int) time.Duration
}

// DefaultRetryPolicy retries three times, 60s × attempt apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, Backoff: LinearBackoff(60 * time.Second)}
}

// MaxAttempts counts the first try.
func (p RetryPolicy) MaxAttempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// LinearBackoff returns base × attempt, attempt counted from 1.
func LinearBackoff(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		return base * time.Duration(attempt)
	}
}

// Decision is what to do with a task whose handler returned an error.
type Decision struct {
	Retry bool
	Delay time.Duration
	// Consume is false for deferrals, which do not use up an attempt.
	Consume bool
}

// Next decides the fate of a task after its attempt-th run failed with err.
// maxAttempts comes from the task itself and wins over the policy when set.
func (p RetryPolicy) Next(attempt, maxAttempts int, err error) Decision {
	var d *DeferError
	if errors.As(err, &d) {
		return Decision{Retry: true, Delay: d.After}
	}
	if IsPermanent(err) {
		return Decision{}
	}
	if maxAttempts <= 0 {
		maxAttempts = p.MaxAttempts()
	}
	if attempt >= maxAttempts {
		return Decision{}
	}
	backoff := p.Backoff
	if backoff == nil {
		backoff = LinearBackoff(60 * time.Second)
	}
	return Decision{Retry: true, Delay: backoff(attempt), Consume: true}
}

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// TransientError marks a failure worth retrying after the backoff.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// DeferError puts a task back without counting the attempt, e.g. while its
// job is paused.
type DeferError struct {
	Reason string
	After  time.Duration
}

func (e *DeferError) Error() string { return "deferred: " + e.Reason }

func Defer(after time.Duration, reason string) error {
	return &DeferError{Reason: reason, After: after}
}
