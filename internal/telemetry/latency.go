package telemetry

import (
	"math"
	"sort"
	"sync"
)

// LatencyTracker holds a sliding window of the last N latency samples
// (default DefaultWindowSize) and derives percentiles from it. The sorted
// view is memoized until the next Sample call.
type LatencyTracker struct {
	mu      sync.Mutex
	window  []float64 // ring buffer, unsorted, in arrival order
	size    int
	cursor  int
	count   int // samples currently held, at most size
	sorted  []float64
	dirty   bool
}

// DefaultWindowSize is the default sliding window size for latency
// tracking.
const DefaultWindowSize = 100

// NewLatencyTracker returns a tracker with the given window size. A
// non-positive size falls back to DefaultWindowSize.
func NewLatencyTracker(size int) *LatencyTracker {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &LatencyTracker{
		window: make([]float64, size),
		size:   size,
	}
}

// Sample records one latency observation in milliseconds.
func (t *LatencyTracker) Sample(ms float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.window[t.cursor] = ms
	t.cursor = (t.cursor + 1) % t.size
	if t.count < t.size {
		t.count++
	}
	t.dirty = true
}

func (t *LatencyTracker) snapshotSortedLocked() []float64 {
	if !t.dirty && t.sorted != nil {
		return t.sorted
	}
	view := make([]float64, t.count)
	copy(view, t.window[:t.count])
	sort.Float64s(view)
	t.sorted = view
	t.dirty = false
	return view
}

// percentileIndex computes ceil(p*n)-1, the index used for percentile
// lookups into the sorted window.
func percentileIndex(p float64, n int) int {
	idx := int(math.Ceil(p*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return idx
}

func (t *LatencyTracker) percentile(p float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count == 0 {
		return 0
	}
	view := t.snapshotSortedLocked()
	return view[percentileIndex(p, t.count)]
}

// P50 returns the 50th percentile latency in ms, 0 for an empty window.
func (t *LatencyTracker) P50() float64 { return t.percentile(0.5) }

// P95 returns the 95th percentile latency in ms, 0 for an empty window.
func (t *LatencyTracker) P95() float64 { return t.percentile(0.95) }

// P99 returns the 99th percentile latency in ms. Informational only: a
// 100-sample window rarely has enough tail data to make p99 statistically
// meaningful. Prefer P95 as the primary signal.
func (t *LatencyTracker) P99() float64 { return t.percentile(0.99) }

// Average returns the mean of all samples currently in the window.
func (t *LatencyTracker) Average() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < t.count; i++ {
		sum += t.window[i]
	}
	return sum / float64(t.count)
}

// Min returns the minimum sample in the window, 0 if empty.
func (t *LatencyTracker) Min() float64 {
	view := t.percentileView()
	if len(view) == 0 {
		return 0
	}
	return view[0]
}

// Max returns the maximum sample in the window, 0 if empty.
func (t *LatencyTracker) Max() float64 {
	view := t.percentileView()
	if len(view) == 0 {
		return 0
	}
	return view[len(view)-1]
}

func (t *LatencyTracker) percentileView() []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count == 0 {
		return nil
	}
	return t.snapshotSortedLocked()
}

// Count returns the number of samples currently held in the window.
func (t *LatencyTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Samples returns a sorted copy of the current window, the regression
// input budget.Resolver's measured-baseline fit smooths over.
func (t *LatencyTracker) Samples() []float64 {
	return append([]float64(nil), t.percentileView()...)
}
