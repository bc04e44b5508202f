package supervisor_test

import (
	"context"
	"database/sql"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"

	"github.com/llmbx/jobqueue/broker/sqlbroker"
	"github.com/llmbx/jobqueue/config"
	"github.com/llmbx/jobqueue/handler"
	"github.com/llmbx/jobqueue/metrics"
	"github.com/llmbx/jobqueue/payload"
	"github.com/llmbx/jobqueue/scheduler"
	"github.com/llmbx/jobqueue/supervisor"
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

func registryWithAllHandlers(t *testing.T, onCall func(payload.Tag)) *handler.Registry {
	t.Helper()
	r := handler.NewRegistry()
	for _, tag := range []payload.Tag{
		payload.TagVerifySubmission,
		payload.TagRecomputeLeaderboard,
		payload.TagSyncToRegistry,
		payload.TagExportToAnalytics,
		payload.TagFinalizeProposal,
		payload.TagCleanupExpiredData,
		payload.TagSendNotification,
	} {
		tag := tag
		r.Register(tag, func(ctx context.Context, p payload.Payload) error {
			if onCall != nil {
				onCall(tag)
			}
			return nil
		})
	}
	return r
}

func TestNewRejectsIncompleteHandlerRegistry(t *testing.T) {
	b := newTestBroker(t)
	r := handler.NewRegistry()
	r.Register(payload.TagVerifySubmission, func(ctx context.Context, p payload.Payload) error { return nil })

	_, err := supervisor.New(supervisor.Options{
		Broker:   b,
		Handlers: r,
		Metrics:  metrics.New(prometheus.NewRegistry()),
		Config:   config.Defaults(),
	})
	if err == nil {
		t.Fatalf("expected an error for an incomplete handler registry")
	}
}

func TestSupervisorStartProcessesEnqueuedJob(t *testing.T) {
	b := newTestBroker(t)
	var processed atomic.Int32
	r := registryWithAllHandlers(t, func(tag payload.Tag) {
		if tag == payload.TagVerifySubmission {
			processed.Add(1)
		}
	})

	cfg := config.Defaults()
	cfg.PoolSize = 1
	cfg.BlockingPopTimeout = 50 * time.Millisecond
	cfg.VisibilityTimeout = time.Second
	cfg.Scheduler.Enabled = false

	sup, err := supervisor.New(supervisor.Options{
		Broker:   b,
		Handlers: r,
		Metrics:  metrics.New(prometheus.NewRegistry()),
		Config:   cfg,
		Entries:  []scheduler.Entry{},
	})
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := sup.Producer().Enqueue(ctx, &payload.VerifySubmission{SubmissionID: "s1"}, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && processed.Load() == 0 {
		time.Sleep(10 * time.Millisecond)
	}

	if err := sup.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if processed.Load() != 1 {
		t.Fatalf("expected exactly one handler invocation, got %d", processed.Load())
	}
}
