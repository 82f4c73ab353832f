// Package budget implements the declarative compute-budget model: base
// constraints, adaptive profiles, and a measured-baseline resolver. A
// budget does not act; it is consulted by the scheduler and QoS controller.
package budget

import (
	"math"
	"time"
)

// Profile selects the multipliers applied to a measured baseline.
type Profile int

const (
	Conservative Profile = iota
	Balanced
	Performance
)

// ProfileParams holds the multipliers for one profile.
type ProfileParams struct {
	P95Multiplier   float64
	DrainMultiplier float64
	ThermalFloor    int
}

var profiles = map[Profile]ProfileParams{
	Conservative: {P95Multiplier: 2.0, DrainMultiplier: 0.6, ThermalFloor: 1},
	Balanced:     {P95Multiplier: 1.5, DrainMultiplier: 1.0, ThermalFloor: 2},
	Performance:  {P95Multiplier: 1.1, DrainMultiplier: 1.5, ThermalFloor: 3},
}

// Params returns the multiplier set for a profile.
func (p Profile) Params() ProfileParams { return profiles[p] }

// Budget is the resolved declarative envelope a workload promises to
// respect.
type Budget struct {
	Profile                   Profile
	P95LatencyMs              float64
	BatteryDrainPerTenMinutes float64
	MaxThermalLevel           int
	MaxMemoryMb               float64
}

// WarmUp is the default warm-up period before the measured baseline is
// considered resolved.
const WarmUp = 40 * time.Second

// Resolver combines a declared base budget, an active profile, and a
// warm-up-gated measured baseline into a concrete Budget.
type Resolver struct {
	Base    Budget
	profile Profile
	fitter  *Fitter

	warmUpStart   time.Time
	activeElapsed time.Duration
	lastTick      time.Time
	resolved      *MeasuredBaseline
}

// NewResolver returns a resolver using base as the pre-warm-up budget.
func NewResolver(base Budget, profile Profile) *Resolver {
	base.Profile = profile
	return &Resolver{
		Base:    base,
		profile: profile,
		fitter:  NewFitter(),
	}
}

// RecordActivity advances the warm-up clock by the given active duration.
// Idle periods (the caller simply not calling this) never count toward
// warm-up.
func (r *Resolver) RecordActivity(d time.Duration) {
	if r.warmUpStart.IsZero() {
		r.warmUpStart = time.Now()
	}
	r.activeElapsed += d
}

// WarmedUp reports whether enough active time has accumulated to resolve
// the measured baseline.
func (r *Resolver) WarmedUp() bool {
	return r.activeElapsed >= WarmUp
}

// Resolve applies the measured baseline, if warmed up, against sampleLatencies
// (ms latencies collected during warm-up) and observedDrain/observedTPS, or
// returns the base budget unchanged otherwise.
func (r *Resolver) Resolve(rawP50, rawP95, observedTPS, observedDrain float64, sampleLatencies []float64) Budget {
	if !r.WarmedUp() {
		return r.Base
	}

	if r.resolved == nil {
		smoothedP95 := r.fitter.Fit(sampleLatencies, rawP95)
		r.resolved = &MeasuredBaseline{
			ObservedP50Ms:           rawP50,
			ObservedP95Ms:           smoothedP95,
			ObservedTokensPerSecond: observedTPS,
			ObservedDrainPer10Min:   observedDrain,
			SamplesContributing:     len(sampleLatencies),
			ResolvedAtUnixNano:      time.Now().UnixNano(),
		}
	}

	params := r.profile.Params()
	out := r.Base
	out.P95LatencyMs = math.Ceil(r.resolved.ObservedP95Ms * params.P95Multiplier)
	out.BatteryDrainPerTenMinutes = r.resolved.ObservedDrainPer10Min * params.DrainMultiplier
	out.MaxThermalLevel = max(params.ThermalFloor, r.Base.MaxThermalLevel)
	out.MaxMemoryMb = r.Base.MaxMemoryMb
	return out
}

// Baseline returns the resolved measured baseline, or nil before warm-up
// completes.
func (r *Resolver) Baseline() *MeasuredBaseline { return r.resolved }
