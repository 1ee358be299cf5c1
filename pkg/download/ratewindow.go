package download

import (
	"sync"
	"time"
)

// rateWindow estimates throughput from a sliding window of recent byte
// deltas across all active chunks of a session. Single-chunk instantaneous
// rates are too noisy to derive an ETA from.
type rateWindow struct {
	mu      sync.Mutex
	window  time.Duration
	samples []rateSample
}

type rateSample struct {
	at    time.Time
	bytes int64
}

func newRateWindow(window time.Duration) *rateWindow {
	if window <= 0 {
		window = 5 * time.Second
	}
	return &rateWindow{window: window}
}

// Add records a byte delta observed now.
func (w *rateWindow) Add(n int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	w.samples = append(w.samples, rateSample{at: now, bytes: n})
	w.trim(now)
}

// Rate returns the bytes-per-second estimate over the window.
func (w *rateWindow) Rate() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	w.trim(now)
	if len(w.samples) == 0 {
		return 0
	}

	var total int64
	for _, s := range w.samples {
		total += s.bytes
	}
	elapsed := now.Sub(w.samples[0].at)
	if elapsed < time.Second {
		elapsed = time.Second
	}
	return int64(float64(total) / elapsed.Seconds())
}

func (w *rateWindow) trim(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.samples) && w.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.samples = append(w.samples[:0], w.samples[i:]...)
	}
}
