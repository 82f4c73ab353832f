//go:build linux

package telemetry

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ReadLinuxBatteryLevel best-effort reads /sys/class/power_supply for a
// battery capacity percentage, used when the host hasn't wired an external
// battery feed. Returns (level in [0,1], ok); ok is false on any desktop/
// server host with no battery device, in which case callers fall back to
// "unavailable" rather than treating 0 as a real reading.
func ReadLinuxBatteryLevel() (float64, bool) {
	const base = "/sys/class/power_supply"
	entries, err := os.ReadDir(base)
	if err != nil {
		return 0, false
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "BAT") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(base, e.Name(), "capacity"))
		if err != nil {
			continue
		}
		pct, err := strconv.Atoi(strings.TrimSpace(string(raw)))
		if err != nil {
			continue
		}
		return float64(pct) / 100.0, true
	}
	return 0, false
}
