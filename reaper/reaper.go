// Package reaper periodically reclaims jobs whose lease expired before
// their handler finished — a crashed worker, a killed process, a
// network partition to the broker — and returns them to their origin
// priority queue without touching retry bookkeeping, since no handler
// ran to either completion or failure.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/llmbx/jobqueue/broker"
	"github.com/llmbx/jobqueue/internal"
)

// Config controls the reaper's scan cadence and batch size.
type Config struct {
	// Interval is how often the reaper scans for expired leases. It
	// should be no more than half the visibility timeout, so a lease
	// is reclaimed well before an operator would otherwise notice a
	// stuck job.
	Interval time.Duration

	// BatchSize bounds how many expired leases are reclaimed per scan.
	BatchSize int
}

// Reaper runs the periodic expired-lease scan. It does not participate
// in job dispatch and never increments a job's retry count: reclaiming
// an abandoned lease is not a handler failure.
type Reaper struct {
	internal.LifecycleBase

	broker broker.Broker
	cfg    Config
	log    *slog.Logger
	task   internal.TimerTask
}

// New constructs a Reaper. log defaults to slog.Default() when nil.
func New(b broker.Broker, cfg Config, log *slog.Logger) *Reaper {
	if log == nil {
		log = slog.Default()
	}
	return &Reaper{broker: b, cfg: cfg, log: log}
}

// Start begins the periodic scan. Start may only be called once.
func (r *Reaper) Start(ctx context.Context) error {
	if err := r.TryStart(); err != nil {
		return err
	}
	r.task.Start(ctx, r.scan, r.cfg.Interval)
	return nil
}

// Stop halts the scan loop, waiting up to timeout for any in-flight
// scan to finish.
func (r *Reaper) Stop(timeout time.Duration) error {
	return r.TryStop(timeout, func() internal.DoneChan {
		return r.task.Stop()
	})
}

func (r *Reaper) scan(ctx context.Context) {
	reclaimed, err := r.broker.ScanExpired(ctx, r.cfg.BatchSize)
	if err != nil {
		r.log.Warn("lease scan failed", "event", "reaper_error", "err", err)
		return
	}
	if reclaimed > 0 {
		r.log.Info("reclaimed expired leases", "event", "reap", "count", reclaimed)
	}
}
