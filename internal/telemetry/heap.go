package telemetry

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// HeapSampler reads the host process's current heap usage on demand and
// tracks the peak observed across the session. A host on which no usable
// signal exists must report 0 and Sampled()==false so callers treat it as
// "unknown", never "zero used".
type HeapSampler struct {
	mu      sync.Mutex
	sampled atomic.Bool
	peak    uint64
}

// NewHeapSampler returns a sampler with no observations yet.
func NewHeapSampler() *HeapSampler {
	return &HeapSampler{}
}

// Current returns the current heap allocation in bytes via
// runtime.ReadMemStats, the nearest same-process equivalent of a browser's
// performance.memory in this Go translation.
func (h *HeapSampler) Current() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	h.sampled.Store(true)

	h.mu.Lock()
	if m.HeapAlloc > h.peak {
		h.peak = m.HeapAlloc
	}
	h.mu.Unlock()

	return m.HeapAlloc
}

// Peak returns the highest heap allocation observed since construction.
func (h *HeapSampler) Peak() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.peak
}

// Sampled reports whether Current has ever been called successfully.
func (h *HeapSampler) Sampled() bool {
	return h.sampled.Load()
}
