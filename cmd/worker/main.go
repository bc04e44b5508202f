// Command worker runs the benchmark-exchange job queue core: a
// priority-aware worker pool, embedded scheduler and lease reaper
// backed by either Redis or an embedded SQLite store.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"

	"github.com/llmbx/jobqueue/broker"
	"github.com/llmbx/jobqueue/broker/redisbroker"
	"github.com/llmbx/jobqueue/broker/sqlbroker"
	"github.com/llmbx/jobqueue/config"
	"github.com/llmbx/jobqueue/handler"
	"github.com/llmbx/jobqueue/metrics"
	"github.com/llmbx/jobqueue/payload"
	"github.com/llmbx/jobqueue/supervisor"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	var (
		poolSize        = flag.Int("workers", envIntOr("WORKER_POOL_SIZE", 0), "worker pool size (0 = use config/default)")
		redisURL        = flag.String("redis-url", envOr("REDIS_URL", ""), "Redis connection URL; if empty, the embedded SQLite broker is used")
		databaseURL     = flag.String("database-url", envOr("DATABASE_URL", "file::memory:?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"), "SQLite DSN used when redis-url is empty")
		configPath      = flag.String("config", envOr("WORKER_CONFIG", ""), "path to a YAML configuration file")
		schedulerFlag   = flag.Bool("scheduler", true, "enable the embedded scheduler; env WORKER_SCHEDULER_ENABLED")
		metricsInterval = flag.Duration("metrics-interval", envDurationOr("METRICS_INTERVAL", time.Minute), "interval between metrics snapshot log lines")
		metricsAddr     = flag.String("metrics-addr", envOr("METRICS_ADDR", ""), "if set, serve Prometheus metrics on this address (e.g. :9090)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	if *poolSize > 0 {
		cfg.PoolSize = *poolSize
	}
	if v := os.Getenv("WORKER_SCHEDULER_ENABLED"); v != "" {
		cfg.Scheduler.Enabled = v == "true" || v == "1"
	} else {
		cfg.Scheduler.Enabled = *schedulerFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := buildBroker(ctx, *redisURL, *databaseURL, cfg, log)
	if err != nil {
		log.Error("failed to construct broker", "err", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	sup, err := supervisor.New(supervisor.Options{
		Broker:   b,
		Handlers: registry(log),
		Metrics:  m,
		Config:   cfg,
		Log:      log,
	})
	if err != nil {
		log.Error("failed to construct supervisor", "err", err)
		os.Exit(1)
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server error", "err", err)
			}
		}()
		defer srv.Close()
	}

	log.Info("worker starting", "pool_size", cfg.PoolSize, "scheduler_enabled", cfg.Scheduler.Enabled)
	if err := sup.Start(ctx); err != nil {
		log.Error("failed to start supervisor", "err", err)
		os.Exit(1)
	}

	reportMetrics(ctx, m, *metricsInterval, log)

	<-ctx.Done()
	log.Info("shutdown signal received, draining")

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.VisibilityTimeout+10*time.Second)
	defer cancel()
	if err := sup.Stop(stopCtx); err != nil {
		log.Error("graceful shutdown did not complete cleanly", "err", err)
		os.Exit(1)
	}
	log.Info("worker stopped")
}

func buildBroker(ctx context.Context, redisURL, databaseURL string, cfg config.Config, log *slog.Logger) (broker.Broker, error) {
	if redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return redisbroker.New(client, cfg.Queue.Prefix, log), nil
	}

	sqldb, err := sql.Open("sqlite", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db := bun.NewDB(sqldb, sqlitedialect.New())
	if err := sqlbroker.InitDB(ctx, db); err != nil {
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return sqlbroker.New(db), nil
}

// registry binds every known payload tag to a handler. These are
// deliberately minimal placeholders: a real deployment links this
// binary against its own domain packages and replaces this function.
func registry(log *slog.Logger) *handler.Registry {
	r := handler.NewRegistry()
	logged := func(tag payload.Tag) handler.Func {
		return func(ctx context.Context, p payload.Payload) error {
			log.Info("job dispatched to placeholder handler", "tag", tag)
			return nil
		}
	}
	r.Register(payload.TagVerifySubmission, logged(payload.TagVerifySubmission))
	r.Register(payload.TagRecomputeLeaderboard, logged(payload.TagRecomputeLeaderboard))
	r.Register(payload.TagSyncToRegistry, logged(payload.TagSyncToRegistry))
	r.Register(payload.TagExportToAnalytics, logged(payload.TagExportToAnalytics))
	r.Register(payload.TagFinalizeProposal, logged(payload.TagFinalizeProposal))
	r.Register(payload.TagCleanupExpiredData, logged(payload.TagCleanupExpiredData))
	r.Register(payload.TagSendNotification, logged(payload.TagSendNotification))
	return r
}

func reportMetrics(ctx context.Context, m *metrics.Metrics, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := m.Snapshot()
				log.Info("worker metrics",
					"jobs_processed", snap.Processed,
					"jobs_succeeded", snap.Succeeded,
					"jobs_failed", snap.Failed,
					"jobs_retried", snap.Retried,
					"success_rate", snap.SuccessRate(),
					"avg_duration", snap.AverageDuration,
					"p95_duration", snap.P95Duration,
					"p99_duration", snap.P99Duration,
				)
			}
		}
	}()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
