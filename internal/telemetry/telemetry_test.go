package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLatencyPercentileCorrectness checks that for a window of n>=1
// samples, p50/p95/p99 equal the element at indices ceil(0.5n)-1,
// ceil(0.95n)-1, ceil(0.99n)-1 of the sorted window.
func TestLatencyPercentileCorrectness(t *testing.T) {
	lt := NewLatencyTracker(100)
	samples := []float64{12, 45, 3, 99, 67, 21, 8, 100, 55, 30}
	for _, s := range samples {
		lt.Sample(s)
	}

	sorted := append([]float64(nil), samples...)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j] < sorted[i] {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	n := len(sorted)
	assert.Equal(t, sorted[percentileIndex(0.5, n)], lt.P50())
	assert.Equal(t, sorted[percentileIndex(0.95, n)], lt.P95())
	assert.Equal(t, sorted[percentileIndex(0.99, n)], lt.P99())
}

func TestLatencyEmptyWindowIsZero(t *testing.T) {
	lt := NewLatencyTracker(10)
	assert.Equal(t, 0.0, lt.P50())
	assert.Equal(t, 0.0, lt.P95())
	assert.Equal(t, 0.0, lt.Average())
}

func TestLatencyWindowEviction(t *testing.T) {
	lt := NewLatencyTracker(3)
	lt.Sample(1)
	lt.Sample(2)
	lt.Sample(3)
	lt.Sample(4) // evicts the 1
	assert.Equal(t, 3, lt.Count())
	assert.Equal(t, 2.0, lt.Min())
	assert.Equal(t, 4.0, lt.Max())
}

func TestHeapSamplerUnknownUntilSampled(t *testing.T) {
	h := NewHeapSampler()
	assert.False(t, h.Sampled())
	h.Current()
	assert.True(t, h.Sampled())
}

func TestThermalNotifiesOnlyOnChange(t *testing.T) {
	ts := NewThermalState()
	assert.Equal(t, ThermalUnavailable, ts.Level())

	var notifications int
	ts.Subscribe(func(int32) { notifications++ })

	ts.UpdateLevel(ThermalNominal)
	assert.Equal(t, 1, notifications)
	ts.UpdateLevel(ThermalNominal) // no change
	assert.Equal(t, 1, notifications)
	ts.UpdateLevel(ThermalSerious)
	assert.Equal(t, 2, notifications)

	assert.True(t, ts.ShouldThrottle())
	assert.False(t, ts.IsCritical())
	ts.UpdateLevel(ThermalCritical)
	assert.True(t, ts.IsCritical())
}

func TestBatteryDrainRate(t *testing.T) {
	bt := NewBatteryTracker()
	start := time.Now()
	bt.Record(1.0, start)
	bt.Record(0.9, start.Add(5*time.Minute))

	rate := bt.DrainRatePerTenMin()
	// (1.0 - 0.9) * 6e5 / (5*60*1000) * 100 = 20
	assert.InDelta(t, 20.0, rate, 0.001)
}

func TestBatteryDrainRateClampedAtZero(t *testing.T) {
	bt := NewBatteryTracker()
	start := time.Now()
	bt.Record(0.5, start)
	bt.Record(0.6, start.Add(time.Minute)) // charging, negative raw rate
	assert.Equal(t, 0.0, bt.DrainRatePerTenMin())
}

func TestBatteryWindowCapsSamples(t *testing.T) {
	bt := NewBatteryTracker()
	start := time.Now()
	for i := 0; i < 20; i++ {
		bt.Record(1.0-float64(i)*0.01, start.Add(time.Duration(i)*time.Second))
	}
	bt.mu.Lock()
	n := len(bt.samples)
	bt.mu.Unlock()
	require.LessOrEqual(t, n, MaxBatterySamples)
}

func TestVisibilityProbe(t *testing.T) {
	v := NewVisibilityProbe()
	assert.False(t, v.IsHidden())
	v.SetHidden(true)
	assert.True(t, v.IsHidden())
}
