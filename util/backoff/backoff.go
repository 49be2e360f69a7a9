// Package backoff computes exponential retry delays with optional jitter.
package backoff

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff produces increasing delays between retries. It is not safe for
// concurrent use.
type Backoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	jitter       float64
	currentDelay time.Duration
	attempts     int
}

// New creates a Backoff starting at initialDelay, growing by multiplier after
// each attempt and capped at maxDelay.
func New(initialDelay, maxDelay time.Duration, multiplier float64) *Backoff {
	if multiplier < 1 {
		multiplier = 1
	}
	return &Backoff{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		multiplier:   multiplier,
		currentDelay: initialDelay,
	}
}

// WithJitter randomizes each delay by up to +/- fraction of its value.
// fraction is clamped to [0, 1].
func (b *Backoff) WithJitter(fraction float64) *Backoff {
	b.jitter = min(max(fraction, 0), 1)
	return b
}

// Next returns the delay to use for the upcoming attempt and advances the
// sequence.
func (b *Backoff) Next() time.Duration {
	d := b.currentDelay
	if b.jitter > 0 && d > 0 {
		spread := float64(d) * b.jitter
		d = time.Duration(float64(d) - spread + rand.Float64()*2*spread)
	}
	b.attempts++
	b.currentDelay = min(time.Duration(float64(b.currentDelay)*b.multiplier), b.maxDelay)
	return d
}

// Wait sleeps for Next(), returning ctx.Err() if ctx is done first.
func (b *Backoff) Wait(ctx context.Context) error {
	timer := time.NewTimer(b.Next())
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset restarts the sequence at the initial delay.
func (b *Backoff) Reset() {
	b.currentDelay = b.initialDelay
	b.attempts = 0
}

// CurrentDelay returns the un-jittered delay of the upcoming attempt.
func (b *Backoff) CurrentDelay() time.Duration {
	return b.currentDelay
}

// Attempts returns how many delays have been handed out since the last Reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}
