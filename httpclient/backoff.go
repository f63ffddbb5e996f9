package httpclient

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

var _ backoff.BackOff = (*LinearBackOff)(nil)

// LinearBackOff waits Step × n before the n-th retry.
//
// With Step=500ms the waits are 500ms, 1s, 1.5s, ... There is no jitter
// and, unless MaxInterval is set, no cap. A zero Step yields zero waits,
// which keeps tests synchronous.
type LinearBackOff struct {
	// Step is the per-attempt increment.
	Step time.Duration

	// MaxInterval caps a single wait. Zero means uncapped.
	MaxInterval time.Duration

	attempt int
}

// NewLinearBackOff returns a LinearBackOff with the given step.
func NewLinearBackOff(step time.Duration) *LinearBackOff {
	return &LinearBackOff{Step: step}
}

// Reset implements backoff.BackOff.
func (b *LinearBackOff) Reset() {
	b.attempt = 0
}

// NextBackOff implements backoff.BackOff.
func (b *LinearBackOff) NextBackOff() time.Duration {
	b.attempt++
	interval := b.Step * time.Duration(b.attempt)
	if b.MaxInterval > 0 && interval > b.MaxInterval {
		interval = b.MaxInterval
	}
	return interval
}

// Attempt returns how many intervals have been handed out since Reset.
func (b *LinearBackOff) Attempt() int {
	return b.attempt
}
