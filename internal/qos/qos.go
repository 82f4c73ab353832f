// Package qos implements the discrete QoS ladder, escalation/restoration
// policy, and throttle recommendation.
package qos

import (
	"sync"
	"time"

	"github.com/inferedge/browsercore/internal/telemetry"
)

// Level is one of the four discrete QoS states.
type Level int

const (
	Full Level = iota
	Reduced
	Minimal
	Paused
)

func (l Level) String() string {
	switch l {
	case Full:
		return "Full"
	case Reduced:
		return "Reduced"
	case Minimal:
		return "Minimal"
	case Paused:
		return "Paused"
	default:
		return "Unknown"
	}
}

// Envelope is the capability set a QoS level carries.
type Envelope struct {
	MaxFPS      int
	MaxInputDim int
	MaxTokens   int
}

var envelopes = map[Level]Envelope{
	Full:    {MaxFPS: 2, MaxInputDim: 640, MaxTokens: 100},
	Reduced: {MaxFPS: 1, MaxInputDim: 480, MaxTokens: 75},
	Minimal: {MaxFPS: 1, MaxInputDim: 320, MaxTokens: 50},
	Paused:  {MaxFPS: 0, MaxInputDim: 0, MaxTokens: 0},
}

// EnvelopeFor returns the capability envelope for a level.
func EnvelopeFor(l Level) Envelope { return envelopes[l] }

// RestorationCooldown is the sustained no-pressure duration required before
// a single step of restoration is granted.
const RestorationCooldown = 60 * time.Second

// Memory headroom thresholds in MB.
const (
	MemHeadroomReducedMB = 200
	MemHeadroomMinimalMB = 100
	MemHeadroomPausedMB  = 50
)

// Battery level thresholds.
const (
	BatteryReducedThreshold = 0.15
	BatteryMinimalThreshold = 0.05
)

// Controller tracks one workload's QoS level and applies the escalation/
// restoration state machine.
type Controller struct {
	mu               sync.Mutex
	level            Level
	clearSince       time.Time // zero if currently under pressure
	lastRestoreCheck time.Time
}

// NewController starts at Full.
func NewController() *Controller {
	return &Controller{level: Full}
}

// Level returns the current QoS level.
func (c *Controller) Level() Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// escalationTarget computes the worst level any single trigger in snap
// demands, independent of the current level.
func escalationTarget(snap telemetry.Snapshot) (Level, []string) {
	worst := Full
	var reasons []string

	if snap.ThermalLevel >= 3 {
		worst = worse(worst, Paused)
		reasons = append(reasons, "thermal_critical")
	} else if snap.ThermalLevel >= 2 {
		worst = worse(worst, Reduced)
		reasons = append(reasons, "thermal_serious")
	}

	if snap.BatteryLevel >= 0 {
		if snap.BatteryLevel < BatteryMinimalThreshold {
			worst = worse(worst, Minimal)
			reasons = append(reasons, "battery_critical")
		} else if snap.BatteryLevel < BatteryReducedThreshold {
			worst = worse(worst, Reduced)
			reasons = append(reasons, "battery_low")
		}
	}

	if snap.MemoryHeadroomMB > 0 {
		switch {
		case snap.MemoryHeadroomMB < MemHeadroomPausedMB:
			worst = worse(worst, Paused)
			reasons = append(reasons, "memory_critical")
		case snap.MemoryHeadroomMB < MemHeadroomMinimalMB:
			worst = worse(worst, Minimal)
			reasons = append(reasons, "memory_low")
		case snap.MemoryHeadroomMB < MemHeadroomReducedMB:
			worst = worse(worst, Reduced)
			reasons = append(reasons, "memory_tight")
		}
	}

	return worst, reasons
}

func worse(a, b Level) Level {
	if b > a {
		return b
	}
	return a
}

// Evaluate applies one tick of the escalation/restoration state machine and
// returns the resulting level plus the trigger reasons (empty if no
// pressure). Escalation is immediate with no dwell time; restoration is
// stepwise, one level per RestorationCooldown of sustained clearance, and
// any new trigger resets the no-pressure clock to zero (no oscillation).
func (c *Controller) Evaluate(snap telemetry.Snapshot, now time.Time) (Level, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	target, reasons := escalationTarget(snap)

	if target > c.level {
		c.level = target
		c.clearSince = time.Time{}
		return c.level, reasons
	}

	if len(reasons) > 0 {
		// Pressure persists at or below current level: no escalation needed,
		// but the no-pressure clock must not advance.
		c.clearSince = time.Time{}
		return c.level, reasons
	}

	// No pressure observed this tick.
	if c.level == Full {
		return c.level, nil
	}
	if c.clearSince.IsZero() {
		c.clearSince = now
		return c.level, nil
	}
	if now.Sub(c.clearSince) >= RestorationCooldown {
		c.level--
		c.clearSince = now
	}
	return c.level, nil
}

// ForceDemote is used by the scheduler to push a workload down one QoS
// level as a mitigation action, independent of this workload's own
// telemetry-driven escalation.
func (c *Controller) ForceDemote() Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.level < Paused {
		c.level++
		c.clearSince = time.Time{}
	}
	return c.level
}
