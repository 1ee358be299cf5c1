package events

import (
	"sync"
	"time"
)

// Throttler rate-limits progress emission per session. Transition events are
// never throttled; only the high-frequency byte-progress stream is.
type Throttler struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[string]time.Time
}

// NewThrottler creates a throttler allowing at most perSecond emissions per
// key per second.
func NewThrottler(perSecond int) *Throttler {
	if perSecond < 1 {
		perSecond = 1
	}
	return &Throttler{
		interval: time.Second / time.Duration(perSecond),
		last:     make(map[string]time.Time),
	}
}

// Allow reports whether an emission for key is within the rate budget and,
// if so, consumes a slot.
func (t *Throttler) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if last, ok := t.last[key]; ok && now.Sub(last) < t.interval {
		return false
	}
	t.last[key] = now
	return true
}

// Forget drops throttling state for key. Called when a session reaches a
// terminal state.
func (t *Throttler) Forget(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, key)
}
