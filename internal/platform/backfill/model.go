package backfill

import (
	"time"
)

// Status is the durable state of a backfill job
type Status string

const (
	StatusPending     Status = "pending"
	StatusInProgress  Status = "in_progress"
	StatusRateLimited Status = "rate_limited"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// ParseStatus parses a string into a Status
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusInProgress, StatusRateLimited, StatusCompleted, StatusFailed:
		return Status(s), nil
	default:
		return "", ErrUnknownStatus
	}
}

// Valid reports whether the status is one of the known values
func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// Terminal reports whether the status can never change again
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether the state machine has an edge from s
// to the target status. The function is total: unknown states have no
// outgoing edges.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusInProgress
	case StatusInProgress:
		return to == StatusCompleted || to == StatusFailed ||
			to == StatusPending || to == StatusRateLimited
	case StatusRateLimited:
		// claimed directly once retry_after elapses
		return to == StatusInProgress || to == StatusPending
	default:
		return false
	}
}

const (
	// DefaultMaxAttempts bounds non-throttle retries per job
	DefaultMaxAttempts = 5

	// LookbackYears is how far a backfill window reaches behind the
	// transaction that caused it
	LookbackYears = 1

	// DefaultRetryBase is the base of the transient retry ladder:
	// 5, 10, 20, 40, 80 minutes
	DefaultRetryBase = 5 * time.Minute
)

// Job is one durable backfill work item. Attempts counts failures that
// consume the retry budget; ThrottleCount tracks provider pushback
// separately so a slow provider can never exhaust a job.
type Job struct {
	ID            int64
	AssetID       int64
	StartDate     time.Time // UTC midnight
	EndDate       time.Time // UTC midnight, inclusive
	Status        Status
	Attempts      int
	MaxAttempts   int
	ThrottleCount int
	RetryAfter    *time.Time
	LastError     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// Validate validates job fields
func (j *Job) Validate() error {
	if j.StartDate.After(j.EndDate) {
		return ErrInvalidWindow
	}
	if !j.Status.Valid() {
		return ErrUnknownStatus
	}
	return nil
}

// Eligible reports whether the job may be claimed at the given instant
func (j *Job) Eligible(now time.Time) bool {
	if j.Status != StatusPending && j.Status != StatusRateLimited {
		return false
	}
	return j.RetryAfter == nil || !j.RetryAfter.After(now)
}

func (j *Job) transition(to Status) error {
	if !j.Status.CanTransition(to) {
		return &InvalidTransitionError{From: j.Status, To: to}
	}
	j.Status = to
	return nil
}

// Claim moves the job into in_progress
func (j *Job) Claim(now time.Time) error {
	if err := j.transition(StatusInProgress); err != nil {
		return err
	}
	j.UpdatedAt = now
	return nil
}

// Complete marks the job done
func (j *Job) Complete(now time.Time) error {
	if err := j.transition(StatusCompleted); err != nil {
		return err
	}
	j.RetryAfter = nil
	j.LastError = nil
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

// FailPermanently marks the job failed without consuming further
// retries. Used for unknown symbols and other unrecoverable outcomes.
func (j *Job) FailPermanently(now time.Time, msg string) error {
	if err := j.transition(StatusFailed); err != nil {
		return err
	}
	j.LastError = &msg
	j.RetryAfter = nil
	j.UpdatedAt = now
	return nil
}

// RetryTransient consumes one attempt. The job fails once attempts
// reach the ceiling, otherwise it goes back to pending with the ladder
// delay: base doubling per attempt (5, 10, 20, 40 minutes by default).
func (j *Job) RetryTransient(now time.Time, msg string, base time.Duration) error {
	if base <= 0 {
		base = DefaultRetryBase
	}
	max := j.MaxAttempts
	if max <= 0 {
		max = DefaultMaxAttempts
	}

	j.Attempts++
	j.LastError = &msg

	if j.Attempts >= max {
		if err := j.transition(StatusFailed); err != nil {
			return err
		}
		j.RetryAfter = nil
		j.UpdatedAt = now
		return nil
	}

	if err := j.transition(StatusPending); err != nil {
		return err
	}
	after := now.Add(RetryDelay(base, j.Attempts))
	j.RetryAfter = &after
	j.UpdatedAt = now
	return nil
}

// Throttle parks the job in rate_limited for the given delay.
// Throttles are tracked on their own counter and never consume the
// retry budget.
func (j *Job) Throttle(now time.Time, msg string, delay time.Duration) error {
	if err := j.transition(StatusRateLimited); err != nil {
		return err
	}
	j.ThrottleCount++
	j.LastError = &msg
	after := now.Add(delay)
	j.RetryAfter = &after
	j.UpdatedAt = now
	return nil
}

// Release puts a claimed job back to pending without consuming an
// attempt, e.g. when shutdown interrupts processing
func (j *Job) Release(now time.Time) error {
	if err := j.transition(StatusPending); err != nil {
		return err
	}
	j.UpdatedAt = now
	return nil
}

// RetryDelay returns the transient retry delay for the given attempt
// count: base doubling per prior attempt
func RetryDelay(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
	}
	return d
}

// PlanWindow computes the backfill window for a transaction executed
// at tradeDate: one year of lookback through today, at date
// granularity. A future trade date collapses the window to today.
func PlanWindow(tradeDate, now time.Time) (start, end time.Time) {
	end = truncateDay(now)
	start = truncateDay(tradeDate).AddDate(-LookbackYears, 0, 0)
	if start.After(end) {
		start = end
	}
	return start, end
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
