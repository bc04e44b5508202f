package redisbroker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/llmbx/jobqueue/job"
	"github.com/llmbx/jobqueue/payload"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, "test", nil)
}

func encodeFixture(t *testing.T, priority job.Priority) (*job.Job, []byte) {
	t.Helper()
	j := job.New(&payload.VerifySubmission{SubmissionID: "s1"}, priority)
	raw, err := job.Encode(j)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return j, raw
}

func TestPushAndBlockingPopRespectsPriority(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	_, lowRaw := encodeFixture(t, job.Low)
	_, critRaw := encodeFixture(t, job.Critical)

	if err := b.Push(ctx, job.Low, "", lowRaw); err != nil {
		t.Fatalf("push low: %v", err)
	}
	if err := b.Push(ctx, job.Critical, "", critRaw); err != nil {
		t.Fatalf("push critical: %v", err)
	}

	raw, lease, err := b.BlockingPop(ctx, time.Second, 30*time.Second)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if lease == nil {
		t.Fatalf("expected a lease")
	}
	if lease.Priority != job.Critical {
		t.Fatalf("expected critical popped first, got %s", lease.Priority)
	}
	if string(raw) != string(critRaw) {
		t.Fatalf("raw mismatch")
	}
}

func TestBlockingPopTimesOutOnEmptyBroker(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	raw, lease, err := b.BlockingPop(ctx, 50*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if raw != nil || lease != nil {
		t.Fatalf("expected timeout with nil raw/lease, got raw=%v lease=%v", raw, lease)
	}
}

func TestAckRemovesLease(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	_, raw := encodeFixture(t, job.Normal)
	if err := b.Push(ctx, job.Normal, "", raw); err != nil {
		t.Fatalf("push: %v", err)
	}
	_, lease, err := b.BlockingPop(ctx, time.Second, 30*time.Second)
	if err != nil || lease == nil {
		t.Fatalf("pop: %v", err)
	}
	if err := b.Ack(ctx, lease); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := b.Ack(ctx, lease); err == nil {
		t.Fatalf("expected lease-lost acking a second time")
	}
}

func TestReleaseToDelayedThenPopDuePromotes(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	_, raw := encodeFixture(t, job.High)
	if err := b.Push(ctx, job.High, "", raw); err != nil {
		t.Fatalf("push: %v", err)
	}
	_, lease, err := b.BlockingPop(ctx, time.Second, 30*time.Second)
	if err != nil || lease == nil {
		t.Fatalf("pop: %v", err)
	}

	// Scores are whole seconds, so release two seconds ahead to land in
	// the delayed set rather than straight back on the priority list.
	future := time.Now().Add(2 * time.Second)
	if err := b.Release(ctx, lease, raw, future); err != nil {
		t.Fatalf("release: %v", err)
	}

	depth, err := b.DelayedDepth(ctx)
	if err != nil || depth != 1 {
		t.Fatalf("delayed depth = %d, err %v; want 1", depth, err)
	}

	time.Sleep(time.Until(future))

	moved, err := b.PopDue(ctx, 10)
	if err != nil {
		t.Fatalf("pop_due: %v", err)
	}
	if moved != 1 {
		t.Fatalf("moved = %d, want 1", moved)
	}

	d, err := b.Depth(ctx, job.High)
	if err != nil || d != 1 {
		t.Fatalf("high depth = %d, err %v; want 1", d, err)
	}
}

func TestScanExpiredReturnsJobWithoutRetryBump(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	_, raw := encodeFixture(t, job.Normal)
	if err := b.Push(ctx, job.Normal, "", raw); err != nil {
		t.Fatalf("push: %v", err)
	}
	_, lease, err := b.BlockingPop(ctx, time.Second, 10*time.Millisecond)
	if err != nil || lease == nil {
		t.Fatalf("pop: %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	reclaimed, err := b.ScanExpired(ctx, 10)
	if err != nil {
		t.Fatalf("scan_expired: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("reclaimed = %d, want 1", reclaimed)
	}

	d, err := b.Depth(ctx, job.Normal)
	if err != nil || d != 1 {
		t.Fatalf("normal depth = %d, err %v; want 1", d, err)
	}

	if err := b.Ack(ctx, lease); err == nil {
		t.Fatalf("original lease should no longer be ackable")
	}

	popped, _, err := b.BlockingPop(ctx, time.Second, 30*time.Second)
	if err != nil {
		t.Fatalf("re-pop: %v", err)
	}
	got, err := job.Decode(popped)
	if err != nil {
		t.Fatalf("decode reclaimed job: %v", err)
	}
	if got.RetryCount != 0 {
		t.Fatalf("retry_count = %d after reclaim, want 0", got.RetryCount)
	}
}

func TestDeadLetterRawForCorruptBytes(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	if err := b.Push(ctx, job.Normal, "", []byte{0xFF, 0xFF, 0xFF}); err != nil {
		t.Fatalf("push: %v", err)
	}

	raw, lease, err := b.BlockingPop(ctx, time.Second, time.Second)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if lease != nil {
		t.Fatalf("expected nil lease for corrupt bytes")
	}
	if err := b.DeadLetterRaw(ctx, raw); err != nil {
		t.Fatalf("dead_letter_raw: %v", err)
	}

	depth, err := b.DeadLetterDepth(ctx)
	if err != nil || depth != 1 {
		t.Fatalf("dlq depth = %d, err %v; want 1", depth, err)
	}
}
