package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the Hub's current readings as Prometheus collectors under
// the browsercore_ namespace.
type Metrics struct {
	hub *Hub

	latencyP50 prometheus.GaugeFunc
	latencyP95 prometheus.GaugeFunc
	latencyP99 prometheus.GaugeFunc
	heapBytes  prometheus.GaugeFunc
	peakHeap   prometheus.GaugeFunc
	thermal    prometheus.GaugeFunc
	battery    prometheus.GaugeFunc
	drainRate  prometheus.GaugeFunc
}

// NewMetrics constructs collectors bound to hub's live readings and
// registers them with reg.
func NewMetrics(hub *Hub, reg prometheus.Registerer) *Metrics {
	m := &Metrics{hub: hub}

	m.latencyP50 = newGaugeFunc("browsercore_latency_p50_ms", "p50 latency in ms over the sliding window", func() float64 {
		return hub.Latency.P50()
	})
	m.latencyP95 = newGaugeFunc("browsercore_latency_p95_ms", "p95 latency in ms over the sliding window", func() float64 {
		return hub.Latency.P95()
	})
	m.latencyP99 = newGaugeFunc("browsercore_latency_p99_ms", "p99 latency in ms over the sliding window (informational only)", func() float64 {
		return hub.Latency.P99()
	})
	m.heapBytes = newGaugeFunc("browsercore_heap_bytes", "current process heap allocation in bytes", func() float64 {
		return float64(hub.Heap.Current())
	})
	m.peakHeap = newGaugeFunc("browsercore_heap_peak_bytes", "peak process heap allocation observed this session", func() float64 {
		return float64(hub.Heap.Peak())
	})
	m.thermal = newGaugeFunc("browsercore_thermal_level", "thermal pressure level, -1 unavailable .. 3 critical", func() float64 {
		return float64(hub.Thermal.Level())
	})
	m.battery = newGaugeFunc("browsercore_battery_level", "current battery level in [0,1], -1 if unknown", func() float64 {
		return hub.Battery.CurrentLevel()
	})
	m.drainRate = newGaugeFunc("browsercore_battery_drain_per_10min", "battery drain rate, percent per 10 minutes", func() float64 {
		return hub.Battery.DrainRatePerTenMin()
	})

	for _, c := range []prometheus.Collector{
		m.latencyP50, m.latencyP95, m.latencyP99,
		m.heapBytes, m.peakHeap, m.thermal, m.battery, m.drainRate,
	} {
		reg.MustRegister(c)
	}

	return m
}

func newGaugeFunc(name, help string, fn func() float64) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: name,
		Help: help,
	}, fn)
}
