package telemetry

// Snapshot is a point-in-time read of every telemetry primitive, the shape
// the scheduler (C8) and QoS controller (C7) pull once per tick rather than
// reading each primitive independently mid-decision.
type Snapshot struct {
	ThermalLevel     int32
	BatteryLevel     float64 // -1 if no sample yet
	DrainPerTenMin   float64
	HeapBytes        uint64
	HeapSampled      bool
	PeakHeapBytes    uint64
	Hidden           bool
	MemoryHeadroomMB float64 // host-reported available memory headroom
}

// Hub bundles every telemetry primitive behind one snapshot method, the
// thing scheduler/budget/qos components actually depend on.
type Hub struct {
	Latency    *LatencyTracker
	Heap       *HeapSampler
	Thermal    *ThermalState
	Battery    *BatteryTracker
	Visibility *VisibilityProbe

	// MemoryHeadroomMB is set by the host from whatever OS/cgroup signal is
	// available; there is no portable in-process API for "available system
	// memory" so this is host-fed rather than sampled.
	memoryHeadroomMB float64
}

// NewHub wires up a fresh set of primitives.
func NewHub() *Hub {
	return &Hub{
		Latency:    NewLatencyTracker(DefaultWindowSize),
		Heap:       NewHeapSampler(),
		Thermal:    NewThermalState(),
		Battery:    NewBatteryTracker(),
		Visibility: NewVisibilityProbe(),
	}
}

// SetMemoryHeadroomMB records the host's current available-memory estimate.
func (h *Hub) SetMemoryHeadroomMB(mb float64) { h.memoryHeadroomMB = mb }

// Snapshot reads every primitive once.
func (h *Hub) Snapshot() Snapshot {
	return Snapshot{
		ThermalLevel:     h.Thermal.Level(),
		BatteryLevel:     h.Battery.CurrentLevel(),
		DrainPerTenMin:   h.Battery.DrainRatePerTenMin(),
		HeapBytes:        h.Heap.Current(),
		HeapSampled:      h.Heap.Sampled(),
		PeakHeapBytes:    h.Heap.Peak(),
		Hidden:           h.Visibility.IsHidden(),
		MemoryHeadroomMB: h.memoryHeadroomMB,
	}
}
