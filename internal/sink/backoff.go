package sink

import (
	"math/rand"
	"time"
)

// Default backoff configuration values.
const (
	DefaultBackoffInitial = 500 * time.Millisecond
	DefaultBackoffMax     = 5 * time.Second
)

// backoff implements exponential backoff with jitter.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
	rng     *rand.Rand // nil = no jitter
}

// newBackoff creates a new backoff with the given initial and max durations.
func newBackoff(initial, max time.Duration, rng *rand.Rand) *backoff {
	if initial <= 0 {
		initial = DefaultBackoffInitial
	}
	if max <= 0 {
		max = DefaultBackoffMax
	}
	return &backoff{
		initial: initial,
		max:     max,
		current: initial,
		rng:     rng,
	}
}

// Next returns the delay before the next attempt and advances the schedule.
func (b *backoff) Next() time.Duration {
	d := b.current
	if b.rng != nil {
		// jitter: ±20%
		jitter := float64(d) * 0.2 * (b.rng.Float64()*2 - 1)
		d = time.Duration(float64(d) + jitter)
	}

	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

// Reset resets the backoff to the initial duration.
func (b *backoff) Reset() {
	b.current = b.initial
}
