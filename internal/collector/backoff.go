package collector

import "time"

// Default backoff bounds.
const (
	DefaultBackoffFloor   = 1 * time.Second
	DefaultBackoffCeiling = 300 * time.Second
)

// Backoff tracks the adaptive delay for one source. The delay doubles on
// rate-limit rejections, halves on successful fetches, and always stays
// within [floor, ceiling]. Not safe for concurrent use; each adapter owns
// its own instance.
type Backoff struct {
	delay       time.Duration
	floor       time.Duration
	ceiling     time.Duration
	attemptBase time.Duration
}

// NewBackoff creates a Backoff starting at floor.
func NewBackoff(floor, ceiling time.Duration) *Backoff {
	if floor <= 0 {
		floor = DefaultBackoffFloor
	}
	if ceiling < floor {
		ceiling = DefaultBackoffCeiling
	}
	return &Backoff{
		delay:       floor,
		floor:       floor,
		ceiling:     ceiling,
		attemptBase: time.Second,
	}
}

// Delay returns the current delay.
func (b *Backoff) Delay() time.Duration {
	return b.delay
}

// Grow doubles the delay after a rate-limit rejection.
func (b *Backoff) Grow() time.Duration {
	b.delay *= 2
	if b.delay > b.ceiling {
		b.delay = b.ceiling
	}
	return b.delay
}

// Relax halves the delay after a fully successful fetch.
func (b *Backoff) Relax() time.Duration {
	b.delay /= 2
	if b.delay < b.floor {
		b.delay = b.floor
	}
	return b.delay
}

// AttemptDelay returns the escalating wait before retrying a failed attempt:
// base, 2x base, 4x base and so on, capped at the ceiling.
func (b *Backoff) AttemptDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.attemptBase
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.ceiling {
			return b.ceiling
		}
	}
	return d
}
