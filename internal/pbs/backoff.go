package pbs

import (
	"math"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// Backoff yields exponentially growing delays: base, 2*base, 4*base, ... never exceeding max.
// It is not safe for concurrent use; each poll loop owns its own. Delays are only computed here; the
// poller waits on its own clock.
type Backoff struct {
	initial wait.Backoff
	current wait.Backoff
}

func NewBackoff(base, max time.Duration) *Backoff {
	if max < base {
		max = base
	}
	initial := wait.Backoff{
		Duration: base,
		Factor:   2,
		Steps:    math.MaxInt32,
		Cap:      max,
	}
	return &Backoff{initial: initial, current: initial}
}

// Next returns the delay to wait before the next attempt.
func (b *Backoff) Next() time.Duration {
	return b.current.Step()
}

func (b *Backoff) Reset() {
	b.current = b.initial
}
