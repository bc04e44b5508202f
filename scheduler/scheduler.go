// Package scheduler implements the periodic tick: promoting due delayed
// jobs into their priority queues, and emitting recurring jobs on their
// configured predicate with at-most-once-per-minute semantics.
//
// An entry emits on a tick only when its predicate matches the tick's
// time and does not match the previous tick's time. An entry whose
// predicate also matched the previous tick does not emit on that tick;
// an EveryMinute entry therefore never emits.
//
// last_tick_time is held in memory, not persisted to the broker. A
// restart at the exact top of a matching minute can therefore miss that
// minute's emission (the new process boots with no memory of the
// previous tick, sees matches(now) == matches(last=now) and skips). A
// durable, broker-resident last_tick_time per entry would close this
// gap; it is a known limitation carried forward from the source design
// rather than solved here.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/llmbx/jobqueue/broker"
	"github.com/llmbx/jobqueue/internal"
	"github.com/llmbx/jobqueue/producer"
)

// Config controls the scheduler's tick behavior.
type Config struct {
	// TickInterval is how often the scheduler wakes to promote due
	// delayed jobs and check recurring entries. The first tick fires
	// after one full interval has elapsed, not immediately.
	TickInterval time.Duration

	// MaxJobsPerTick bounds how many delayed jobs are promoted in a
	// single tick, so one overdue backlog cannot monopolize a tick.
	MaxJobsPerTick int
}

// Scheduler runs the single-instance tick loop. Only one Scheduler
// should run per deployment; the broker does not provide leader
// election, so running two is an operator error that will double-emit
// recurring jobs (each instance has its own in-memory last_tick_time).
type Scheduler struct {
	internal.LifecycleBase

	broker   broker.Broker
	producer *producer.Producer
	entries  []Entry
	cfg      Config
	log      *slog.Logger

	task internal.TimerTask

	lastTick time.Time
}

// New constructs a Scheduler. log defaults to slog.Default() when nil.
func New(b broker.Broker, p *producer.Producer, entries []Entry, cfg Config, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		broker:   b,
		producer: p,
		entries:  entries,
		cfg:      cfg,
		log:      log,
	}
}

// Start begins the tick loop. Start may only be called once.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.TryStart(); err != nil {
		return err
	}
	s.lastTick = time.Now().UTC()
	s.log.Info("scheduler started", "event", "scheduler_start", "tick_interval", s.cfg.TickInterval, "entries", len(s.entries))
	s.task.StartDelayed(ctx, s.tick, s.cfg.TickInterval)
	return nil
}

// Stop halts the tick loop, waiting up to timeout for any in-flight
// tick to finish.
func (s *Scheduler) Stop(timeout time.Duration) error {
	return s.TryStop(timeout, func() internal.DoneChan {
		return s.task.Stop()
	})
}

func (s *Scheduler) tick(ctx context.Context) {
	start := time.Now()
	now := start.UTC()

	moved, err := s.broker.PopDue(ctx, s.cfg.MaxJobsPerTick)
	if err != nil {
		s.log.Warn("pop_due failed, due jobs remain delayed", "event", "tick_error", "err", err)
	} else if moved > 0 {
		s.log.Info("promoted delayed jobs", "event", "tick", "count", moved)
	}

	for _, entry := range s.entries {
		if entry.Predicate.Matches(now) && !entry.Predicate.Matches(s.lastTick) {
			if _, err := s.producer.Enqueue(ctx, entry.Payload(), entry.Priority); err != nil {
				s.log.Error("recurring job enqueue failed, will not retry within this tick", "event", "tick_error", "schedule", entry.Name, "err", err)
				continue
			}
			s.log.Info("recurring job emitted", "event", "tick", "schedule", entry.Name)
		}
	}

	s.lastTick = now

	if elapsed := time.Since(start); elapsed > s.cfg.TickInterval {
		s.log.Warn("tick overran interval", "event", "schedule_overrun", "elapsed", elapsed, "interval", s.cfg.TickInterval)
	}
}
