// Package metrics tracks the counters, gauges and duration percentiles
// of the worker pool. The consumer updates the counters and the duration
// window; nothing in this module calls the gauge setters. Counters and
// gauges are exported via prometheus/client_golang; percentile duration
// reporting uses a bounded rolling window instead of a true histogram,
// mirroring the source system's WorkerMetrics surface
// (success/failure rate, mean/median/p95/p99, snapshot, reset).
package metrics

import (
	"sort"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/llmbx/jobqueue/job"
)

// windowCap bounds the rolling duration window. When full, the oldest
// half is dropped to make room, per the bounded-window eviction policy.
const windowCap = 1000

// Metrics is the consolidated counter/gauge/duration surface for one
// deployment. It is safe for concurrent use: counters are prometheus
// primitives (already lock-free/striped), and the duration window is
// guarded by its own mutex.
type Metrics struct {
	processed prometheus.Counter
	succeeded prometheus.Counter
	failed    prometheus.Counter
	retried   prometheus.Counter

	queueDepth     *prometheus.GaugeVec
	delayedDepth   prometheus.Gauge
	deadLetterSize prometheus.Gauge

	mu        sync.Mutex
	durations []time.Duration
}

// New constructs a Metrics instance and registers its collectors with
// reg. Passing prometheus.NewRegistry() (rather than the global default
// registry) is recommended for tests, to avoid collisions across
// parallel test binaries.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobqueue_jobs_processed_total",
			Help: "Total number of jobs popped and dispatched to a handler.",
		}),
		succeeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobqueue_jobs_succeeded_total",
			Help: "Total number of jobs whose handler returned nil.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobqueue_jobs_failed_total",
			Help: "Total number of jobs that landed in the dead-letter queue.",
		}),
		retried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobqueue_jobs_retried_total",
			Help: "Total number of jobs re-enqueued after a handler error.",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "jobqueue_queue_depth",
			Help: "Ready job count per priority.",
		}, []string{"priority"}),
		delayedDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jobqueue_delayed_depth",
			Help: "Number of jobs waiting in the delayed set.",
		}),
		deadLetterSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jobqueue_dlq_depth",
			Help: "Number of jobs sitting in the dead-letter queue.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.processed, m.succeeded, m.failed, m.retried, m.queueDepth, m.delayedDepth, m.deadLetterSize)
	}
	return m
}

func (m *Metrics) IncProcessed() { m.processed.Inc() }
func (m *Metrics) IncSucceeded() { m.succeeded.Inc() }
func (m *Metrics) IncFailed()    { m.failed.Inc() }
func (m *Metrics) IncRetried()   { m.retried.Inc() }

// SetQueueDepth updates the ready-job gauge for priority.
func (m *Metrics) SetQueueDepth(priority job.Priority, depth int64) {
	m.queueDepth.WithLabelValues(priority.String()).Set(float64(depth))
}

// SetDelayedDepth updates the delayed-set gauge.
func (m *Metrics) SetDelayedDepth(depth int64) {
	m.delayedDepth.Set(float64(depth))
}

// SetDeadLetterDepth updates the dead-letter-queue gauge.
func (m *Metrics) SetDeadLetterDepth(depth int64) {
	m.deadLetterSize.Set(float64(depth))
}

// ObserveDuration records one handler execution duration into the
// rolling window, dropping the oldest half if the window is full.
func (m *Metrics) ObserveDuration(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.durations) >= windowCap {
		half := len(m.durations) / 2
		copy(m.durations, m.durations[half:])
		m.durations = m.durations[:len(m.durations)-half]
	}
	m.durations = append(m.durations, d)
}

// Snapshot is a read of every tracked statistic. The duration window
// is copied under a single lock acquisition; each counter is read
// separately afterwards, so counters incremented while Snapshot runs
// can be one step apart from each other and from the durations.
type Snapshot struct {
	Processed uint64
	Succeeded uint64
	Failed    uint64
	Retried   uint64

	AverageDuration time.Duration
	MedianDuration  time.Duration
	P95Duration     time.Duration
	P99Duration     time.Duration
}

// SuccessRate is Succeeded / Processed, or 0 if no jobs were processed.
func (s Snapshot) SuccessRate() float64 {
	if s.Processed == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Processed)
}

// FailureRate is Failed / Processed, or 0 if no jobs were processed.
func (s Snapshot) FailureRate() float64 {
	if s.Processed == 0 {
		return 0
	}
	return float64(s.Failed) / float64(s.Processed)
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

// Snapshot returns a read of all tracked statistics (see the Snapshot
// type for what is read under the lock). It does not reset anything;
// call Reset separately if
// periodic reporting should start fresh.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	sorted := make([]time.Duration, len(m.durations))
	copy(sorted, m.durations)
	m.mu.Unlock()

	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	var avg time.Duration
	if len(sorted) > 0 {
		avg = total / time.Duration(len(sorted))
	}

	return Snapshot{
		Processed:       uint64(counterValue(m.processed)),
		Succeeded:       uint64(counterValue(m.succeeded)),
		Failed:          uint64(counterValue(m.failed)),
		Retried:         uint64(counterValue(m.retried)),
		AverageDuration: avg,
		MedianDuration:  percentile(sorted, 0.50),
		P95Duration:     percentile(sorted, 0.95),
		P99Duration:     percentile(sorted, 0.99),
	}
}

// Reset clears the rolling duration window. Counters are cumulative
// prometheus series and are intentionally not reset: Reset only affects
// the percentile window used for log-line reporting.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations = m.durations[:0]
}

func counterValue(c prometheus.Counter) float64 {
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		return 0
	}
	return metric.GetCounter().GetValue()
}
