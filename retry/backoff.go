// Package retry implements the pure attempt-to-delay backoff function
// used both by the consumer (to schedule a re-enqueue after a handler
// error) and by anything inspecting retry timing in tests.
package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Config controls backoff computation. It is a value type: safe to
// share across goroutines once constructed, since Backoff never
// mutates it.
type Config struct {
	// MaxAttempts is read from the retry configuration section but is
	// not consulted by Backoff or by the consumer: the consumer decides
	// retry vs. dead-letter from each job's own MaxRetries
	// (job.DefaultMaxRetries unless the job sets another value).
	MaxAttempts uint32

	// InitialBackoff is returned for every attempt when Exponential is
	// false, and is the base of the exponential curve otherwise.
	InitialBackoff time.Duration

	// MaxBackoff caps the computed delay regardless of attempt.
	MaxBackoff time.Duration

	// Multiplier scales InitialBackoff per attempt beyond the first,
	// when Exponential is true.
	Multiplier float64

	// Exponential selects between a flat delay and an exponential
	// curve. See Backoff for the exact formula.
	Exponential bool

	// Jitter adds up to this fraction (0 to 1) of the computed delay as
	// symmetric randomization, to avoid synchronized retries across
	// many jobs failing at once. The spec does not mandate jitter; this
	// mirrors the teacher's RandomizationFactor knob. Zero disables it.
	Jitter float64
}

// Backoff computes the delay before retry number attempt (1-indexed:
// attempt is the retry_count value a job will have after this retry is
// recorded). attempt==0 always returns InitialBackoff, matching the
// "first attempt has no prior failure to back off from" case.
//
//	!Exponential            -> InitialBackoff
//	attempt == 0            -> InitialBackoff
//	otherwise               -> min(MaxBackoff, InitialBackoff * Multiplier^(attempt-1))
//
// Jitter, if set, is applied after the cap, so the result can exceed
// MaxBackoff by up to Jitter fraction — callers that need a hard
// ceiling should leave Jitter at 0.
func (c Config) Backoff(attempt uint32) time.Duration {
	if !c.Exponential || attempt == 0 {
		return c.InitialBackoff
	}
	d := float64(c.InitialBackoff) * math.Pow(c.Multiplier, float64(attempt-1))
	if d > float64(c.MaxBackoff) {
		d = float64(c.MaxBackoff)
	}
	if c.Jitter > 0 {
		delta := c.Jitter * d
		d = (d - delta) + rand.Float64()*(2*delta)
		if d < 0 {
			d = 0
		}
	}
	return time.Duration(d)
}
