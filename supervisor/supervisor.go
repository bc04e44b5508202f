// Package supervisor wires the broker, producer, consumer pool,
// scheduler and reaper into a single deployable unit, and owns their
// combined startup and graceful-shutdown sequencing.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/llmbx/jobqueue/broker"
	"github.com/llmbx/jobqueue/config"
	"github.com/llmbx/jobqueue/consumer"
	"github.com/llmbx/jobqueue/handler"
	"github.com/llmbx/jobqueue/internal"
	"github.com/llmbx/jobqueue/metrics"
	"github.com/llmbx/jobqueue/producer"
	"github.com/llmbx/jobqueue/reaper"
	"github.com/llmbx/jobqueue/scheduler"
)

// Options assembles the pieces Supervisor coordinates. Broker, Handlers
// and Metrics are required; Entries defaults to scheduler.DefaultEntries
// when nil and config.Scheduler.Enabled is true.
type Options struct {
	Broker   broker.Broker
	Handlers *handler.Registry
	Metrics  *metrics.Metrics
	Config   config.Config
	Entries  []scheduler.Entry
	Log      *slog.Logger

	// ShutdownGrace is added on top of VisibilityTimeout when computing
	// the deadline Stop waits for in-flight handlers to finish.
	ShutdownGrace time.Duration
}

// Supervisor owns the full set of long-running components and their
// combined lifecycle. It is itself not restartable: construct a new
// one per process.
type Supervisor struct {
	internal.LifecycleBase

	broker    broker.Broker
	producer  *producer.Producer
	consumer  *consumer.Consumer
	scheduler *scheduler.Scheduler
	reaper    *reaper.Reaper

	schedulerEnabled bool
	stopTimeout      time.Duration
	log              *slog.Logger
}

// New validates opts and constructs a Supervisor. It does not start
// anything; call Start for that. New fails if Handlers has any of the
// seven known payload tags unregistered, since a missing handler is a
// fatal configuration error the operator should see before traffic
// flows, not a per-job dead-letter surprise in production.
func New(opts Options) (*Supervisor, error) {
	if opts.Broker == nil {
		return nil, fmt.Errorf("supervisor: broker is required")
	}
	if opts.Handlers == nil {
		return nil, fmt.Errorf("supervisor: handler registry is required")
	}
	if missing := opts.Handlers.MissingTags(); len(missing) > 0 {
		return nil, fmt.Errorf("supervisor: no handler registered for tags %v", missing)
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	p := producer.New(opts.Broker, log)
	c := consumer.New(opts.Broker, opts.Handlers, opts.Metrics, consumer.Config{
		PoolSize:           opts.Config.PoolSize,
		BlockingPopTimeout: opts.Config.BlockingPopTimeout,
		VisibilityTimeout:  opts.Config.VisibilityTimeout,
		Retry:              opts.Config.Retry.ToRetryConfig(),
	}, log)

	r := reaper.New(opts.Broker, reaper.Config{
		Interval:  opts.Config.VisibilityTimeout / 2,
		BatchSize: 100,
	}, log)

	entries := opts.Entries
	if entries == nil {
		entries = scheduler.DefaultEntries()
	}
	s := scheduler.New(opts.Broker, p, entries, scheduler.Config{
		TickInterval:   opts.Config.Scheduler.TickInterval,
		MaxJobsPerTick: opts.Config.Scheduler.MaxJobsPerTick,
	}, log)

	grace := opts.ShutdownGrace
	return &Supervisor{
		broker:           opts.Broker,
		producer:         p,
		consumer:         c,
		scheduler:        s,
		reaper:           r,
		schedulerEnabled: opts.Config.Scheduler.Enabled,
		stopTimeout:      opts.Config.VisibilityTimeout + grace,
		log:              log,
	}, nil
}

// Producer exposes the enqueue-side façade, for callers that want to
// push jobs from the same process that runs the worker pool.
func (s *Supervisor) Producer() *producer.Producer { return s.producer }

// Start verifies broker connectivity, then starts the reaper, consumer
// pool, and (if enabled) the scheduler, in that order: the reaper and
// consumer must be ready to reclaim and process before any recurring
// job has a chance to be emitted.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.TryStart(); err != nil {
		return err
	}
	if err := s.broker.Ping(ctx); err != nil {
		return fmt.Errorf("supervisor: broker unreachable at startup: %w", err)
	}
	if err := s.reaper.Start(ctx); err != nil {
		return fmt.Errorf("supervisor: start reaper: %w", err)
	}
	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("supervisor: start consumer: %w", err)
	}
	if s.schedulerEnabled {
		if err := s.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("supervisor: start scheduler: %w", err)
		}
	}
	s.log.Info("supervisor started", "event", "supervisor_start", "scheduler_enabled", s.schedulerEnabled)
	return nil
}

// Stop shuts every component down, waiting up to
// Config.VisibilityTimeout plus ShutdownGrace for in-flight handlers to
// finish. Components stop in the reverse of their start order.
func (s *Supervisor) Stop(ctx context.Context) error {
	return s.TryStop(s.stopTimeout, func() internal.DoneChan {
		done := make(internal.DoneChan)
		go func() {
			defer close(done)
			if s.schedulerEnabled {
				if err := s.scheduler.Stop(s.stopTimeout); err != nil {
					s.log.Warn("scheduler stop", "event", "supervisor_stop_error", "err", err)
				}
			}
			if err := s.consumer.Stop(s.stopTimeout); err != nil {
				s.log.Warn("consumer stop", "event", "supervisor_stop_error", "err", err)
			}
			if err := s.reaper.Stop(s.stopTimeout); err != nil {
				s.log.Warn("reaper stop", "event", "supervisor_stop_error", "err", err)
			}
			if err := s.broker.Close(); err != nil {
				s.log.Warn("broker close", "event", "supervisor_stop_error", "err", err)
			}
		}()
		return done
	})
}
