// Package broker defines the storage-agnostic contract the producer,
// consumer, scheduler and reaper depend on. Two implementations satisfy
// it: broker/redisbroker (the primary, Redis-backed transport) and
// broker/sqlbroker (an embedded SQL-backed alternative for tests and
// single-process deployments that don't want a Redis dependency).
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/llmbx/jobqueue/job"
)

// Sentinel errors returned by Broker implementations. Implementations
// must wrap these with fmt.Errorf("...: %w", ErrX) rather than returning
// unwrapped driver errors, so callers can use errors.Is.
var (
	// ErrUnavailable indicates the backing store could not be reached.
	// Consumers treat it as transient and retry with backoff; producers
	// return it to their caller. It is never a reason to drop a job.
	ErrUnavailable = errors.New("broker: unavailable")

	// ErrLeaseLost indicates a lease a caller believed it held has
	// expired or been reassigned, typically because the reaper reclaimed
	// it. The caller must stop processing the job it thought it owned.
	ErrLeaseLost = errors.New("broker: lease lost")

	// ErrNotFound indicates the referenced job or lease does not exist.
	ErrNotFound = errors.New("broker: not found")
)

// Lease represents a worker's exclusive, time-bounded claim on a
// dequeued job. The broker is the source of truth for whether a lease
// is still valid; ExpiresAt is advisory for the holder's own
// refresh-before-half-life scheduling.
type Lease struct {
	Token     string
	JobID     string
	Priority  job.Priority
	ExpiresAt time.Time
}

// PushItem is one entry of a PushBatch call.
type PushItem struct {
	Priority job.Priority
	JobID    string
	Raw      []byte
}

// Broker is the storage contract for the job queue core. All methods
// must be safe for concurrent use by multiple producers and multiple
// consumer workers.
type Broker interface {
	// Push enqueues raw (an encoded job.Job) for immediate dispatch at
	// priority.
	Push(ctx context.Context, priority job.Priority, jobID string, raw []byte) error

	// PushBatch enqueues every item in a single atomic round trip:
	// either all items become visible or none do. Used by the producer
	// for EnqueueBatch, where partial failure is explicitly disallowed.
	PushBatch(ctx context.Context, items []PushItem) error

	// Schedule enqueues raw for dispatch no earlier than at. Delayed
	// jobs are promoted to their priority queue by PopDue.
	Schedule(ctx context.Context, priority job.Priority, jobID string, raw []byte, at time.Time) error

	// BlockingPop waits up to timeout for a job on any priority queue,
	// honoring strict priority order (Critical before High before
	// Normal before Low), and returns it with a lease. A nil raw with a
	// nil error means the wait timed out without a job arriving.
	//
	// If raw cannot be attributed to a job id (the bytes are corrupt),
	// lease is nil even though raw is non-nil: the job has already left
	// its priority list, so there is nothing left to lease. The caller
	// must route raw to DeadLetterRaw directly rather than treat this
	// as a timeout.
	BlockingPop(ctx context.Context, timeout time.Duration, visibility time.Duration) (raw []byte, lease *Lease, err error)

	// PopDue promotes up to limit delayed jobs whose scheduled time has
	// passed into their priority queues. It returns the number
	// promoted.
	PopDue(ctx context.Context, limit int) (int, error)

	// ExtendLease pushes back the expiry of an outstanding lease. It
	// returns ErrLeaseLost if the lease has already expired or been
	// reclaimed.
	ExtendLease(ctx context.Context, lease *Lease, visibility time.Duration) error

	// Ack releases a lease after successful processing, removing the
	// job from in-flight bookkeeping permanently.
	Ack(ctx context.Context, lease *Lease) error

	// Release returns a leased job to its priority queue (immediate
	// retry) or, if at is in the future, to the delayed set. It does
	// not touch retry bookkeeping itself; callers pass the already
	// re-encoded job bytes.
	Release(ctx context.Context, lease *Lease, raw []byte, at time.Time) error

	// DeadLetter moves a leased job to the dead-letter queue, removing
	// it from in-flight bookkeeping.
	DeadLetter(ctx context.Context, lease *Lease, raw []byte) error

	// DeadLetterRaw moves raw bytes straight to the dead-letter queue
	// without a lease. It is used for bytes that could not be attributed
	// to a job id by BlockingPop (the deserialization-failure path),
	// where no lease was ever created.
	DeadLetterRaw(ctx context.Context, raw []byte) error

	// ScanExpired finds leases whose visibility timeout has passed and
	// returns their jobs to the origin priority queue without
	// incrementing retry bookkeeping, since no handler ran to
	// completion or failure. It returns the number reclaimed.
	ScanExpired(ctx context.Context, limit int) (int, error)

	// Depth reports the number of ready (non-delayed) jobs waiting at
	// priority.
	Depth(ctx context.Context, priority job.Priority) (int64, error)

	// DelayedDepth reports the number of jobs waiting in the delayed
	// set, regardless of priority.
	DelayedDepth(ctx context.Context) (int64, error)

	// DeadLetterDepth reports the number of jobs sitting in the
	// dead-letter queue.
	DeadLetterDepth(ctx context.Context) (int64, error)

	// Clear destructively empties the priority list for priority. It is
	// intended for test and administrative use only, never for normal
	// operation.
	Clear(ctx context.Context, priority job.Priority) error

	// Ping verifies connectivity to the backing store.
	Ping(ctx context.Context) error

	// Close releases any resources held by the broker.
	Close() error
}
