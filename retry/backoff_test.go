package retry

import (
	"testing"
	"time"
)

func TestFlatBackoffIgnoresAttempt(t *testing.T) {
	c := Config{InitialBackoff: 2 * time.Second, Exponential: false}
	for attempt := uint32(0); attempt < 5; attempt++ {
		if got := c.Backoff(attempt); got != 2*time.Second {
			t.Fatalf("attempt %d: got %s, want 2s", attempt, got)
		}
	}
}

func TestExponentialBackoffMatchesScenario2(t *testing.T) {
	c := Config{
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
		Multiplier:     2,
		Exponential:    true,
	}
	if got := c.Backoff(0); got != time.Second {
		t.Fatalf("backoff(0) = %s, want 1s", got)
	}
	if got := c.Backoff(1); got != time.Second {
		t.Fatalf("backoff(1) = %s, want 1s", got)
	}
	if got := c.Backoff(2); got != 2*time.Second {
		t.Fatalf("backoff(2) = %s, want 2s", got)
	}
	if got := c.Backoff(3); got != 4*time.Second {
		t.Fatalf("backoff(3) = %s, want 4s", got)
	}
}

func TestExponentialBackoffCapsAtMax(t *testing.T) {
	c := Config{
		InitialBackoff: time.Second,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2,
		Exponential:    true,
	}
	if got := c.Backoff(10); got != 5*time.Second {
		t.Fatalf("backoff(10) = %s, want capped at 5s", got)
	}
}

func TestBackoffMonotonicNonDecreasing(t *testing.T) {
	c := Config{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     1.5,
		Exponential:    true,
	}
	prev := c.Backoff(1)
	for attempt := uint32(2); attempt < 20; attempt++ {
		cur := c.Backoff(attempt)
		if cur < prev {
			t.Fatalf("backoff(%d)=%s < backoff(%d)=%s, expected non-decreasing", attempt, cur, attempt-1, prev)
		}
		if cur > c.MaxBackoff {
			t.Fatalf("backoff(%d)=%s exceeds max %s", attempt, cur, c.MaxBackoff)
		}
		prev = cur
	}
}

func TestJitterStaysWithinBounds(t *testing.T) {
	c := Config{
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
		Multiplier:     2,
		Exponential:    true,
		Jitter:         0.2,
	}
	base := 4 * time.Second // backoff(3) without jitter
	for i := 0; i < 50; i++ {
		got := c.Backoff(3)
		lower := time.Duration(float64(base) * 0.8)
		upper := time.Duration(float64(base) * 1.2)
		if got < lower || got > upper {
			t.Fatalf("jittered backoff %s outside [%s, %s]", got, lower, upper)
		}
	}
}
