package download

import "time"

// emaAlpha weights the most recent sample against the running average;
// chosen to smooth over bursty chunk arrivals without lagging too far
// behind a sustained rate change.
const emaAlpha = 0.3

// speedTracker computes an exponentially-smoothed bytes/second rate from
// successive chunk samples, the basis for the downloader's speed and ETA
// derivation.
type speedTracker struct {
	last  time.Time
	ema   float64
	first bool
}

func newSpeedTracker() *speedTracker {
	return &speedTracker{last: time.Now(), first: true}
}

// sample records n bytes received since the last call and returns the
// current smoothed speed in bytes/second.
func (t *speedTracker) sample(n int64) float64 {
	now := time.Now()
	elapsed := now.Sub(t.last).Seconds()
	t.last = now
	if elapsed <= 0 {
		return t.ema
	}
	instant := float64(n) / elapsed
	if t.first {
		t.ema = instant
		t.first = false
	} else {
		t.ema = emaAlpha*instant + (1-emaAlpha)*t.ema
	}
	return t.ema
}
