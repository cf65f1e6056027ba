// Package throttle implements the sliding-window rate limiter that shields
// the external SQL generator from overload.
package throttle

import (
	"sync"
	"time"
)

type Throttle struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	timestamps  []time.Time
	clock       func() time.Time
}

func New(maxRequests int, window time.Duration) *Throttle {
	return &Throttle{
		maxRequests: maxRequests,
		window:      window,
		clock:       time.Now,
	}
}

// Admit reports whether a new request fits in the trailing window and, when
// it does, records it. Timestamps outside the window are discarded lazily.
func (t *Throttle) Admit() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock()
	t.prune(now)

	if len(t.timestamps) >= t.maxRequests {
		return false
	}
	t.timestamps = append(t.timestamps, now)
	return true
}

// TimeToWait returns how long until the oldest recorded request leaves the
// window, or zero when a request would be admitted right away.
func (t *Throttle) TimeToWait() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock()
	t.prune(now)

	if len(t.timestamps) < t.maxRequests {
		return 0
	}
	wait := t.window - now.Sub(t.timestamps[0])
	if wait < 0 {
		return 0
	}
	return wait
}

func (t *Throttle) prune(now time.Time) {
	cutoff := now.Add(-t.window)
	kept := t.timestamps[:0]
	for _, ts := range t.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	t.timestamps = kept
}
