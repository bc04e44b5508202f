// Package consumer implements the worker pool: pool_size independent,
// single-threaded loops that pop from the broker in strict priority
// order, dispatch to the handler registry, and decide ack, retry or
// dead-letter. It is the heart of the system — see the package doc
// comment below for the priority-starvation tradeoff every caller of
// this package should understand.
//
// A Low-priority job is only ever popped when every Critical, High and
// Normal job has already been drained from the broker. Under sustained
// Critical load, a Low job can starve indefinitely. This is an accepted
// design choice (see the module's design notes), not a bug: if fairness
// is required, add a deficit-round-robin layer in front of the broker
// rather than changing this package's dispatch order.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/llmbx/jobqueue/broker"
	"github.com/llmbx/jobqueue/handler"
	"github.com/llmbx/jobqueue/internal"
	"github.com/llmbx/jobqueue/job"
	"github.com/llmbx/jobqueue/metrics"
	"github.com/llmbx/jobqueue/retry"
)

// Config controls the worker pool's behavior.
type Config struct {
	// PoolSize is the number of concurrent worker loops.
	PoolSize int

	// BlockingPopTimeout bounds how long a single BlockingPop call
	// waits before a worker re-checks for shutdown and retries.
	BlockingPopTimeout time.Duration

	// VisibilityTimeout is the lease duration assigned to a popped job.
	// A handler is expected to finish within this bound; exceeding it
	// risks redelivery by the reaper.
	VisibilityTimeout time.Duration

	// Retry computes the backoff applied between handler failures.
	Retry retry.Config
}

// Consumer owns the worker pool.
type Consumer struct {
	internal.LifecycleBase

	broker   broker.Broker
	handlers *handler.Registry
	metrics  *metrics.Metrics
	log      *slog.Logger
	cfg      Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Consumer. log defaults to slog.Default() when nil.
func New(b broker.Broker, handlers *handler.Registry, m *metrics.Metrics, cfg Config, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{
		broker:   b,
		handlers: handlers,
		metrics:  m,
		log:      log,
		cfg:      cfg,
	}
}

// Start spawns Config.PoolSize worker loops. Start may only be called
// once.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.TryStart(); err != nil {
		return err
	}
	ctx, c.cancel = context.WithCancel(ctx)
	for i := 0; i < c.cfg.PoolSize; i++ {
		c.wg.Add(1)
		go c.loop(ctx)
	}
	return nil
}

// Stop signals every worker loop to finish its current iteration and
// exit, waiting up to timeout.
func (c *Consumer) Stop(timeout time.Duration) error {
	return c.TryStop(timeout, func() internal.DoneChan {
		c.cancel()
		return internal.WrapWaitGroup(&c.wg)
	})
}

func (c *Consumer) loop(ctx context.Context) {
	defer c.wg.Done()
	backoff := 100 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		raw, lease, err := c.broker.BlockingPop(ctx, c.cfg.BlockingPopTimeout, c.cfg.VisibilityTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.log.Warn("broker unavailable, backing off", "event", "pop_error", "err", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.cfg.BlockingPopTimeout {
				backoff = c.cfg.BlockingPopTimeout
			}
			continue
		}
		backoff = 100 * time.Millisecond
		if raw == nil {
			continue // timed out, nothing to do
		}

		if lease == nil {
			// Deserialization failure path: the bytes already left
			// their priority list and cannot be attributed to a job
			// id, so there is nothing to lease or ack.
			if err := c.broker.DeadLetterRaw(ctx, raw); err != nil {
				c.log.Error("failed to dead-letter corrupt bytes", "event", "dlq", "err", err)
			}
			c.metrics.IncFailed()
			continue
		}

		c.process(ctx, raw, lease)
	}
}

func (c *Consumer) process(ctx context.Context, raw []byte, lease *broker.Lease) {
	j, err := job.Decode(raw)
	if err != nil {
		c.log.Error("failed to decode leased job, dead-lettering", "event", "dlq", "job_id", lease.JobID, "err", err)
		if dlqErr := c.broker.DeadLetter(ctx, lease, raw); dlqErr != nil {
			c.log.Error("failed to dead-letter undecodable job", "job_id", lease.JobID, "err", dlqErr)
		}
		c.metrics.IncFailed()
		return
	}

	j.MarkProcessing()
	c.metrics.IncProcessed()
	start := time.Now()

	handlerErr := c.dispatch(ctx, lease, j)

	c.metrics.ObserveDuration(time.Since(start))

	if handlerErr == nil {
		j.MarkCompleted()
		if err := c.broker.Ack(ctx, lease); err != nil {
			if errors.Is(err, broker.ErrLeaseLost) {
				c.log.Warn("lease lost before ack, job may be redelivered", "job_id", j.ID)
				return
			}
			c.log.Error("ack failed", "job_id", j.ID, "err", err)
			return
		}
		c.metrics.IncSucceeded()
		c.log.Info("job completed", "event", "ack", "job_id", j.ID, "priority", j.Priority)
		return
	}

	c.fail(ctx, lease, j, handlerErr)
}

// fail applies the retry-or-dead-letter decision for a job whose
// handler returned an error. A missing handler is a configuration
// error, not a transient one: it is dead-lettered unconditionally,
// bypassing the retry budget entirely, since retrying would hit the
// same missing registration every time.
func (c *Consumer) fail(ctx context.Context, lease *broker.Lease, j *job.Job, reason error) {
	j.MarkFailed(reason.Error())

	if errors.Is(reason, handler.ErrNoHandler) {
		j.LastError = "no handler"
		j.MarkDead()
		raw, encErr := job.Encode(j)
		if encErr != nil {
			c.log.Error("failed to encode dead job", "job_id", j.ID, "err", encErr)
			return
		}
		if err := c.broker.DeadLetter(ctx, lease, raw); err != nil {
			c.log.Error("dead-letter failed for unhandled payload", "job_id", j.ID, "err", err)
			return
		}
		c.metrics.IncFailed()
		c.log.Error("job dead-lettered: no handler registered", "event", "dlq", "job_id", j.ID, "payload_type", j.Payload.Tag())
		return
	}

	if !j.ShouldRetry() {
		j.MarkDead()
		raw, encErr := job.Encode(j)
		if encErr != nil {
			c.log.Error("failed to encode dead job", "job_id", j.ID, "err", encErr)
			return
		}
		if err := c.broker.DeadLetter(ctx, lease, raw); err != nil {
			if errors.Is(err, broker.ErrLeaseLost) {
				c.log.Warn("lease lost before dead-letter", "job_id", j.ID)
				return
			}
			c.log.Error("dead-letter failed", "job_id", j.ID, "err", err)
			return
		}
		c.metrics.IncFailed()
		c.log.Warn("job dead-lettered", "event", "dlq", "job_id", j.ID, "retry_count", j.RetryCount, "last_error", j.LastError)
		return
	}

	delay := c.cfg.Retry.Backoff(j.RetryCount + 1)
	j.IncrementRetry()
	at := time.Now().Add(delay)
	j.ScheduledAt = at

	raw, encErr := job.Encode(j)
	if encErr != nil {
		c.log.Error("failed to encode retried job", "job_id", j.ID, "err", encErr)
		return
	}
	if err := c.broker.Release(ctx, lease, raw, at); err != nil {
		if errors.Is(err, broker.ErrLeaseLost) {
			c.log.Warn("lease lost before retry re-enqueue", "job_id", j.ID)
			return
		}
		c.log.Error("release failed", "job_id", j.ID, "err", err)
		return
	}
	c.metrics.IncRetried()
	c.log.Info("job scheduled for retry", "event", "retry", "job_id", j.ID, "retry_count", j.RetryCount, "delay", delay)
}

// dispatch runs the handler for j, refreshing the lease at half the
// visibility timeout if the handler is still running, mirroring the
// "refresh lease on long-running handlers" provision in the worker loop
// contract.
func (c *Consumer) dispatch(ctx context.Context, lease *broker.Lease, j *job.Job) error {
	fn, err := c.handlers.Resolve(j.Payload.Tag())
	if err != nil {
		return err
	}

	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- fn(handlerCtx, j.Payload)
	}()

	half := c.cfg.VisibilityTimeout / 2
	if half <= 0 {
		half = time.Second
	}
	timer := time.NewTimer(half)
	defer timer.Stop()

	for {
		select {
		case err := <-errCh:
			return err
		case <-timer.C:
			if err := c.broker.ExtendLease(ctx, lease, c.cfg.VisibilityTimeout); err != nil {
				cancel()
				<-errCh
				return err
			}
			timer.Reset(half)
		}
	}
}
