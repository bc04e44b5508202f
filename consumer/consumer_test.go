package consumer_test

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"

	"github.com/llmbx/jobqueue/broker/sqlbroker"
	"github.com/llmbx/jobqueue/consumer"
	"github.com/llmbx/jobqueue/handler"
	"github.com/llmbx/jobqueue/job"
	"github.com/llmbx/jobqueue/metrics"
	"github.com/llmbx/jobqueue/payload"
	"github.com/llmbx/jobqueue/producer"
	"github.com/llmbx/jobqueue/retry"
)

func newTestBroker(t *testing.T) *sqlbroker.Broker {
	t.Helper()
	sqldb, err := sql.Open("sqlite", "file::memory:?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqldb.SetMaxOpenConns(1)
	t.Cleanup(func() { sqldb.Close() })

	db := bun.NewDB(sqldb, sqlitedialect.New())
	if err := sqlbroker.InitDB(context.Background(), db); err != nil {
		t.Fatalf("init db: %v", err)
	}
	return sqlbroker.New(db)
}

func baseConfig() consumer.Config {
	return consumer.Config{
		PoolSize:           1,
		BlockingPopTimeout: 30 * time.Millisecond,
		VisibilityTimeout:  2 * time.Second,
		Retry: retry.Config{
			MaxAttempts:    2,
			InitialBackoff: 5 * time.Millisecond,
			MaxBackoff:     20 * time.Millisecond,
			Multiplier:     2,
			Exponential:    true,
		},
	}
}

func waitFor(t *testing.T, deadline time.Duration, cond func() bool) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", deadline)
}

func TestConsumerAcksSuccessfulJob(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	p := producer.New(b, nil)
	m := metrics.New(prometheus.NewRegistry())

	var handled atomic.Bool
	r := handler.NewRegistry()
	r.Register(payload.TagVerifySubmission, func(ctx context.Context, pl payload.Payload) error {
		handled.Store(true)
		return nil
	})

	c := consumer.New(b, r, m, baseConfig(), nil)
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(runCtx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop(time.Second)

	if _, err := p.Enqueue(ctx, &payload.VerifySubmission{SubmissionID: "s1"}, job.Normal); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, time.Second, handled.Load)

	waitFor(t, time.Second, func() bool {
		snap := m.Snapshot()
		return snap.Succeeded == 1
	})
}

func TestConsumerRetriesThenDeadLettersOnExhaustedBudget(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	p := producer.New(b, nil)
	m := metrics.New(prometheus.NewRegistry())

	var attempts atomic.Int32
	r := handler.NewRegistry()
	r.Register(payload.TagVerifySubmission, func(ctx context.Context, pl payload.Payload) error {
		attempts.Add(1)
		return errors.New("handler always fails")
	})

	c := consumer.New(b, r, m, baseConfig(), nil)
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(runCtx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop(time.Second)

	if _, err := p.Enqueue(ctx, &payload.VerifySubmission{SubmissionID: "s1"}, job.Normal); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool {
		depth, err := b.DeadLetterDepth(ctx)
		return err == nil && depth == 1
	})

	if attempts.Load() < 1 {
		t.Fatalf("expected at least one handler invocation, got %d", attempts.Load())
	}
	snap := m.Snapshot()
	if snap.Failed != 1 {
		t.Fatalf("expected one failed metric, got %d", snap.Failed)
	}
}

func TestConsumerDeadLettersMissingHandlerWithoutRetrying(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	p := producer.New(b, nil)
	m := metrics.New(prometheus.NewRegistry())

	r := handler.NewRegistry() // nothing registered

	c := consumer.New(b, r, m, baseConfig(), nil)
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(runCtx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop(time.Second)

	if _, err := p.Enqueue(ctx, &payload.VerifySubmission{SubmissionID: "s1"}, job.Normal); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		depth, err := b.DeadLetterDepth(ctx)
		return err == nil && depth == 1
	})

	// A missing handler must never be retried: the ready queue should
	// stay empty rather than receive a re-enqueued attempt.
	time.Sleep(50 * time.Millisecond)
	depth, err := b.Depth(ctx, job.Normal)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != 0 {
		t.Fatalf("expected no retry re-enqueue for a missing handler, depth=%d", depth)
	}
}

func TestConsumerDeadLettersCorruptBytesWithoutCrashing(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	m := metrics.New(prometheus.NewRegistry())
	r := handler.NewRegistry()
	r.Register(payload.TagVerifySubmission, func(ctx context.Context, pl payload.Payload) error { return nil })

	if err := b.Push(ctx, job.Normal, "", []byte("not json")); err != nil {
		t.Fatalf("push corrupt bytes: %v", err)
	}

	c := consumer.New(b, r, m, baseConfig(), nil)
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(runCtx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop(time.Second)

	waitFor(t, time.Second, func() bool {
		depth, err := b.DeadLetterDepth(ctx)
		return err == nil && depth == 1
	})
}
