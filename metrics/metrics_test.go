package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/llmbx/jobqueue/job"
)

func TestCountersAccumulate(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.IncProcessed()
	m.IncProcessed()
	m.IncSucceeded()
	m.IncFailed()
	m.IncRetried()

	snap := m.Snapshot()
	if snap.Processed != 2 || snap.Succeeded != 1 || snap.Failed != 1 || snap.Retried != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.SuccessRate() != 0.5 {
		t.Fatalf("success rate = %v, want 0.5", snap.SuccessRate())
	}
}

func TestGaugesSettable(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetQueueDepth(job.Critical, 5)
	m.SetDelayedDepth(3)
	m.SetDeadLetterDepth(1)
}

func TestDurationWindowEvictsOldestHalfWhenFull(t *testing.T) {
	m := New(prometheus.NewRegistry())
	for i := 0; i < windowCap+10; i++ {
		m.ObserveDuration(time.Duration(i) * time.Millisecond)
	}
	m.mu.Lock()
	n := len(m.durations)
	m.mu.Unlock()
	if n > windowCap {
		t.Fatalf("duration window exceeded cap: %d > %d", n, windowCap)
	}
}

func TestPercentilesOrderCorrectly(t *testing.T) {
	m := New(prometheus.NewRegistry())
	for i := 1; i <= 100; i++ {
		m.ObserveDuration(time.Duration(i) * time.Millisecond)
	}
	snap := m.Snapshot()
	if snap.MedianDuration > snap.P95Duration || snap.P95Duration > snap.P99Duration {
		t.Fatalf("percentiles out of order: median=%s p95=%s p99=%s", snap.MedianDuration, snap.P95Duration, snap.P99Duration)
	}
}

func TestResetClearsDurationsNotCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.IncProcessed()
	m.ObserveDuration(time.Second)
	m.Reset()

	snap := m.Snapshot()
	if snap.Processed != 1 {
		t.Fatalf("reset should not clear counters, got processed=%d", snap.Processed)
	}
	if snap.AverageDuration != 0 {
		t.Fatalf("reset should clear duration window, got avg=%s", snap.AverageDuration)
	}
}
