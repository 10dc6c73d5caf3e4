package flagkit

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

// backoff doubles the wait after every failed refresh, up to max, with jitter.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{
		initial: initialBackoff,
		max:     maxBackoff,
		current: initialBackoff,
	}
}

// next returns the next wait and advances the backoff.
func (b *backoff) next() time.Duration {
	// jitter of up to half the current step
	wait := b.current + rand.N(b.current/2+1)

	if b.current < b.max {
		b.current *= 2
		if b.current > b.max {
			b.current = b.max
		}
	}
	return wait
}

func (b *backoff) reset() {
	b.current = b.initial
}

// wait sleeps for the next backoff step, or until ctx is done.
func (b *backoff) wait(ctx context.Context) {
	t := time.NewTimer(b.next())
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
