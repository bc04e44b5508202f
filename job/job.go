package job

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/llmbx/jobqueue/payload"
)

// DefaultMaxRetries is the retry budget assigned by New and NewDelayed
// when the caller does not override it.
const DefaultMaxRetries = 3

// Job is the unit of work carried by the queue. A Job value is a
// snapshot: obtaining one from a broker and mutating it in place does
// not change broker state. Brokers persist the fields that matter for
// dispatch (ID, Priority, ScheduledAt) separately from the envelope
// bytes; everything else here is carried for observability.
type Job struct {
	ID          uuid.UUID
	Payload     payload.Payload
	Priority    Priority
	Status      Status
	RetryCount  uint32
	MaxRetries  uint32
	CreatedAt   time.Time
	ScheduledAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	LastError   string
}

// New creates a Job ready for immediate dispatch at the given priority.
func New(p payload.Payload, priority Priority) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:          uuid.New(),
		Payload:     p,
		Priority:    priority,
		Status:      Queued,
		MaxRetries:  DefaultMaxRetries,
		CreatedAt:   now,
		ScheduledAt: now,
	}
}

// NewDelayed creates a Job that becomes eligible for dispatch only after
// delay has elapsed.
func NewDelayed(p payload.Payload, priority Priority, delay time.Duration) *Job {
	j := New(p, priority)
	j.ScheduledAt = j.CreatedAt.Add(delay)
	return j
}

// illegalTransition reports a bug in the caller: a mutator was invoked
// from a state the state machine does not allow it in. It is never the
// result of bad input or a broker failure, so it is fatal rather than a
// returned error.
func illegalTransition(from Status, to string) {
	panic(fmt.Sprintf("job: illegal transition %s -> %s", from, to))
}

// MarkProcessing records that a worker has taken the lease. It is only
// valid from Queued or Retried (a re-queued job re-enters Processing the
// same way a fresh one does).
func (j *Job) MarkProcessing() {
	if j.Status != Queued && j.Status != Retried {
		illegalTransition(j.Status, "processing")
	}
	now := time.Now().UTC()
	j.Status = Processing
	j.StartedAt = &now
}

// MarkCompleted records a successful handler run. Only valid from
// Processing.
func (j *Job) MarkCompleted() {
	if j.Status != Processing {
		illegalTransition(j.Status, "completed")
	}
	now := time.Now().UTC()
	j.Status = Completed
	j.CompletedAt = &now
	j.LastError = ""
}

// MarkFailed records a handler error. Only valid from Processing. It
// does not decide retry-or-dead; call ShouldRetry next.
func (j *Job) MarkFailed(reason string) {
	if j.Status != Processing {
		illegalTransition(j.Status, "failed")
	}
	j.Status = Failed
	j.LastError = reason
}

// ShouldRetry reports whether a Failed job has retry budget remaining.
func (j *Job) ShouldRetry() bool {
	if j.Status != Failed {
		illegalTransition(j.Status, "should_retry")
	}
	return j.RetryCount < j.MaxRetries
}

// IncrementRetry transitions a Failed job to Retried and bumps
// RetryCount. It does not compute a delay; the caller schedules the
// re-enqueue. Only valid from Failed, and only when ShouldRetry would
// return true.
func (j *Job) IncrementRetry() {
	if j.Status != Failed {
		illegalTransition(j.Status, "retried")
	}
	if j.RetryCount >= j.MaxRetries {
		illegalTransition(j.Status, "retried (budget exhausted)")
	}
	j.RetryCount++
	j.Status = Retried
}

// MarkDead transitions a Failed job to Dead. Only valid from Failed. It
// does not consult the retry budget: the consumer also dead-letters a
// job with retries left when no handler is registered for it.
func (j *Job) MarkDead() {
	if j.Status != Failed {
		illegalTransition(j.Status, "dead")
	}
	j.Status = Dead
}

// Requeue transitions a Retried job back to Queued with a new
// ScheduledAt. Only valid from Retried. Neither the scheduler nor the
// consumer calls it: a retried job keeps Status Retried in its encoded
// bytes until a worker pops it and MarkProcessing accepts it.
func (j *Job) Requeue(at time.Time) {
	if j.Status != Retried {
		illegalTransition(j.Status, "queued")
	}
	j.Status = Queued
	j.ScheduledAt = at
	j.StartedAt = nil
}

// Terminal reports whether the job has reached a state (Completed or
// Dead) from which it will never be dispatched again.
func (j *Job) Terminal() bool {
	return j.Status.terminal()
}
