// Package producer implements the enqueue-side API: construct a job
// value, hand its bytes to the broker, and answer depth queries. It is
// the only component that constructs job.Job values for external
// callers (the consumer constructs retry/dead-letter re-encodings
// internally, but never a fresh job.Job).
package producer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/llmbx/jobqueue/broker"
	"github.com/llmbx/jobqueue/job"
	"github.com/llmbx/jobqueue/payload"
)

// SerializationError wraps a payload encoding failure. It is never
// retryable: the payload itself is malformed, and retrying would
// produce the same bytes.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("producer: serialization error: %v", e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// Producer is the enqueue-side façade over a broker.Broker.
type Producer struct {
	broker broker.Broker
	log    *slog.Logger
}

// New constructs a Producer over b. log defaults to slog.Default() when
// nil.
func New(b broker.Broker, log *slog.Logger) *Producer {
	if log == nil {
		log = slog.Default()
	}
	return &Producer{broker: b, log: log}
}

func (p *Producer) push(ctx context.Context, j *job.Job) error {
	raw, err := job.Encode(j)
	if err != nil {
		return &SerializationError{Err: err}
	}
	if err := p.broker.Push(ctx, j.Priority, j.ID.String(), raw); err != nil {
		return err
	}
	p.log.Info("job enqueued", "event", "enqueue", "job_id", j.ID, "priority", j.Priority, "payload_type", j.Payload.Tag())
	return nil
}

// Enqueue constructs a Job for immediate dispatch at priority and
// pushes it to the broker.
func (p *Producer) Enqueue(ctx context.Context, pl payload.Payload, priority job.Priority) (*job.Job, error) {
	if priority == 0 {
		priority = job.Normal
	}
	j := job.New(pl, priority)
	if err := p.push(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// EnqueueDelayed constructs a Job scheduled delay in the future and
// inserts it into the delayed set. delay must be non-negative.
func (p *Producer) EnqueueDelayed(ctx context.Context, pl payload.Payload, priority job.Priority, delay time.Duration) (*job.Job, error) {
	if delay < 0 {
		return nil, fmt.Errorf("producer: delay must be non-negative, got %s", delay)
	}
	if priority == 0 {
		priority = job.Normal
	}
	j := job.NewDelayed(pl, priority, delay)
	raw, err := job.Encode(j)
	if err != nil {
		return nil, &SerializationError{Err: err}
	}
	if err := p.broker.Schedule(ctx, j.Priority, j.ID.String(), raw, j.ScheduledAt); err != nil {
		return nil, err
	}
	p.log.Info("job enqueued delayed", "event", "enqueue", "job_id", j.ID, "priority", j.Priority, "scheduled_at", j.ScheduledAt)
	return j, nil
}

// Request pairs a payload with the priority it should be dispatched at,
// for EnqueueBatch.
type Request struct {
	Payload  payload.Payload
	Priority job.Priority
}

// EnqueueBatch constructs and pushes every request in a single atomic
// broker round trip. If any payload fails to serialize, none are
// pushed: either all succeed or none do.
func (p *Producer) EnqueueBatch(ctx context.Context, reqs []Request) ([]*job.Job, error) {
	jobs := make([]*job.Job, len(reqs))
	items := make([]broker.PushItem, len(reqs))
	for i, req := range reqs {
		priority := req.Priority
		if priority == 0 {
			priority = job.Normal
		}
		j := job.New(req.Payload, priority)
		raw, err := job.Encode(j)
		if err != nil {
			return nil, &SerializationError{Err: err}
		}
		jobs[i] = j
		items[i] = broker.PushItem{Priority: priority, JobID: j.ID.String(), Raw: raw}
	}

	if err := p.broker.PushBatch(ctx, items); err != nil {
		return nil, err
	}
	p.log.Info("job batch enqueued", "event", "enqueue", "count", len(jobs))
	return jobs, nil
}

// QueueDepth reports the number of ready jobs waiting at priority.
func (p *Producer) QueueDepth(ctx context.Context, priority job.Priority) (int64, error) {
	return p.broker.Depth(ctx, priority)
}

// DelayedDepth reports the number of jobs waiting in the delayed set.
func (p *Producer) DelayedDepth(ctx context.Context) (int64, error) {
	return p.broker.DelayedDepth(ctx)
}

// TotalDepth sums ready depth across all priorities plus the delayed
// depth.
func (p *Producer) TotalDepth(ctx context.Context) (int64, error) {
	var total int64
	for _, priority := range job.Ordered {
		n, err := p.broker.Depth(ctx, priority)
		if err != nil {
			return 0, err
		}
		total += n
	}
	delayed, err := p.broker.DelayedDepth(ctx)
	if err != nil {
		return 0, err
	}
	return total + delayed, nil
}

// Clear destructively empties the priority queue for priority. It is
// intended for test setup/teardown, never production use, and always
// logs a warning so an accidental call is visible in operator logs.
func (p *Producer) Clear(ctx context.Context, priority job.Priority) error {
	p.log.Warn("clearing queue", "event", "clear", "priority", priority)
	return p.broker.Clear(ctx, priority)
}
