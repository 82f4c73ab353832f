package qos

import (
	"time"

	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"

	"github.com/inferedge/browsercore/internal/telemetry"
)

// Recommendation is the combined throttle advice for callers that don't
// accept a discrete QoS level.
type Recommendation struct {
	ShouldThrottle bool
	ThrottleFactor float64
	Reasons        []string
}

// thermalFactors maps thermal level to its multiplicative throttle factor.
var thermalFactors = map[int32]float64{0: 1.0, 1: 0.8, 2: 0.5, 3: 0.3}

func thermalFactor(level int32) float64 {
	if f, ok := thermalFactors[level]; ok {
		return f
	}
	return 1.0
}

func batteryFactor(level float64) float64 {
	switch {
	case level < 0:
		return 1.0 // unknown, no penalty
	case level >= 0.5:
		return 1.0
	case level >= 0.2:
		return 0.9
	default:
		return 0.6
	}
}

// Throttler composes a multiplicative throttle formula with a
// per-workload token-bucket rate limiter: the limiter enforces a request
// admission ceiling that is not one of the named pressure triggers but
// can only make ShouldThrottle more conservative, never less.
type Throttler struct {
	limiter *limiter.TokenBucket
}

// NewThrottler builds a token bucket allowing ratePerSecond requests per
// second with the given burst, backed by an in-memory store.
func NewThrottler(ratePerSecond, burst int64) *Throttler {
	s := store.NewMemoryStore(time.Minute)
	tb, _ := limiter.NewTokenBucket(limiter.Config{
		Rate:     ratePerSecond,
		Duration: time.Second,
		Burst:    burst,
	}, s)
	return &Throttler{limiter: tb}
}

// escalationThresholds mirror qos.go's own trigger points: shouldThrottle
// fires only when a source has actually crossed one of these, never merely
// from a softer throttle-factor input (level-1 thermal, battery<0.5, a
// hidden tab, or near-peak heap all shape ThrottleFactor but are not
// escalation triggers on their own).
const (
	throttleThermalEscalation = 2
	throttleBatteryEscalation = 0.15
	throttleMemoryEscalationMB = 200
)

// Recommend computes the combined throttle recommendation for a workload.
func (t *Throttler) Recommend(workloadID string, snap telemetry.Snapshot) Recommendation {
	var reasons []string
	factor := 1.0
	shouldThrottle := false

	tf := thermalFactor(snap.ThermalLevel)
	if tf < 1.0 {
		reasons = append(reasons, "thermal")
	}
	factor *= tf
	if snap.ThermalLevel >= throttleThermalEscalation {
		shouldThrottle = true
	}

	bf := batteryFactor(snap.BatteryLevel)
	if bf < 1.0 {
		reasons = append(reasons, "battery")
	}
	factor *= bf
	if snap.BatteryLevel >= 0 && snap.BatteryLevel < throttleBatteryEscalation {
		shouldThrottle = true
	}

	if snap.HeapSampled && snap.PeakHeapBytes > 0 &&
		float64(snap.HeapBytes) > 0.9*float64(snap.PeakHeapBytes) {
		factor *= 0.7
		reasons = append(reasons, "near_peak_heap")
	}

	if snap.Hidden {
		factor *= 0.3
		reasons = append(reasons, "hidden_tab")
	}

	if snap.MemoryHeadroomMB > 0 && snap.MemoryHeadroomMB < throttleMemoryEscalationMB {
		reasons = append(reasons, "memory_low")
		shouldThrottle = true
	}

	if t.limiter != nil {
		if allowed, err := t.limiter.Allow(workloadID); err == nil && !allowed {
			reasons = append(reasons, "admission_rate_limited")
			shouldThrottle = true
		}
	}

	return Recommendation{
		ShouldThrottle: shouldThrottle,
		ThrottleFactor: factor,
		Reasons:        reasons,
	}
}
