package telemetry

import (
	"sync"
	"time"
)

// MaxBatterySamples is the number of samples kept within the 10-minute
// drain-rate window.
const MaxBatterySamples = 11

// BatteryWindow is the window over which drain rate is computed.
const BatteryWindow = 10 * time.Minute

type batterySample struct {
	level float64
	at    time.Time
}

// BatteryTracker records battery level samples and derives a drain rate in
// percent per 10 minutes. It is caller-fed: a host with a real battery API
// can subscribe a feed to it; a headless host simply never calls Record and
// every derived rate is 0.
type BatteryTracker struct {
	mu      sync.Mutex
	samples []batterySample
}

// NewBatteryTracker returns an empty tracker.
func NewBatteryTracker() *BatteryTracker {
	return &BatteryTracker{}
}

// Record appends a {level, timestamp} sample, evicting samples older than
// BatteryWindow and keeping at most MaxBatterySamples.
func (b *BatteryTracker) Record(level float64, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples = append(b.samples, batterySample{level: level, at: at})

	cutoff := at.Add(-BatteryWindow)
	i := 0
	for i < len(b.samples) && b.samples[i].at.Before(cutoff) {
		i++
	}
	b.samples = b.samples[i:]

	if len(b.samples) > MaxBatterySamples {
		b.samples = b.samples[len(b.samples)-MaxBatterySamples:]
	}
}

// DrainRatePerTenMin returns the current drain rate, percent per 10
// minutes, clamped at 0: over the window span,
// (firstLevel − lastLevel) · 6e5 / elapsedMs · 100.
func (b *BatteryTracker) DrainRatePerTenMin() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return drainRate(b.samples)
}

func drainRate(samples []batterySample) float64 {
	if len(samples) < 2 {
		return 0
	}
	first := samples[0]
	last := samples[len(samples)-1]
	elapsedMs := float64(last.at.Sub(first.at).Milliseconds())
	if elapsedMs <= 0 {
		return 0
	}
	rate := (first.level - last.level) * 6e5 / elapsedMs * 100
	if rate < 0 {
		return 0
	}
	return rate
}

// AverageDrainRate is the mean of the drain rates of every consecutive
// sample pair.
func (b *BatteryTracker) AverageDrainRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.samples) < 2 {
		return 0
	}
	var sum float64
	var n int
	for i := 1; i < len(b.samples); i++ {
		sum += drainRate(b.samples[i-1 : i+1])
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// CurrentLevel returns the most recent recorded level, or -1 if none.
func (b *BatteryTracker) CurrentLevel() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.samples) == 0 {
		return -1
	}
	return b.samples[len(b.samples)-1].level
}
