package broker

import (
	"math"
	"math/rand"
	"time"
)

// RetrySchedule describes an exponential backoff sequence. It is immutable;
// a Backoff tracks the mutable attempt cursor.
type RetrySchedule struct {
	// Initial is the delay before the first retry.
	Initial time.Duration

	// Max caps the computed delay.
	Max time.Duration

	// Multiplier scales the delay after each attempt.
	Multiplier float64

	// Jitter randomizes each delay by up to +/-20% to avoid thundering
	// herds of synchronized retries.
	Jitter bool
}

// ApplyDefaults fills in missing values with defaults.
func (s *RetrySchedule) ApplyDefaults() {
	if s.Initial <= 0 {
		s.Initial = 100 * time.Millisecond
	}
	if s.Max <= 0 {
		s.Max = 10 * time.Second
	}
	if s.Multiplier <= 1 {
		s.Multiplier = 2.0
	}
}

// Delay returns the backoff delay before retry number attempt (zero-based):
// min(Initial * Multiplier^attempt, Max), jittered when enabled.
func (s RetrySchedule) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(s.Initial) * math.Pow(s.Multiplier, float64(attempt))
	if d > float64(s.Max) || d < 0 {
		d = float64(s.Max)
	}
	delay := time.Duration(d)
	if s.Jitter {
		// Uniform in [0.8d, 1.2d].
		delay = time.Duration(d * (0.8 + 0.4*rand.Float64()))
	}
	return delay
}

// Exhausted reports whether the cumulative elapsed time has consumed the
// retry budget.
func (s RetrySchedule) Exhausted(elapsed, timeout time.Duration) bool {
	return timeout > 0 && elapsed >= timeout
}

// Backoff is a cursor over a RetrySchedule.
type Backoff struct {
	schedule RetrySchedule
	attempt  int
	started  time.Time
}

// NewBackoff returns a fresh cursor positioned before the first retry.
func (s RetrySchedule) NewBackoff() *Backoff {
	return &Backoff{schedule: s, started: time.Now()}
}

// Next returns the delay before the next attempt and advances the cursor.
func (b *Backoff) Next() time.Duration {
	d := b.schedule.Delay(b.attempt)
	b.attempt++
	return d
}

// Attempt returns the number of delays handed out so far.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Elapsed returns the time since the cursor was created.
func (b *Backoff) Elapsed() time.Duration {
	return time.Since(b.started)
}

// Reset rewinds the cursor after a successful attempt.
func (b *Backoff) Reset() {
	b.attempt = 0
	b.started = time.Now()
}
