package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/inferedge/browsercore/internal/budget"
	"github.com/inferedge/browsercore/internal/qos"
	"github.com/inferedge/browsercore/internal/telemetry"
)

func newWorkload(id string, priority int, p95Budget float64) *Workload {
	lat := telemetry.NewLatencyTracker(telemetry.DefaultWindowSize)
	return &Workload{
		ID:       id,
		Priority: priority,
		Budget:   budget.Budget{P95LatencyMs: p95Budget},
		Latency:  lat,
		QoS:      qos.NewController(),
	}
}

func TestTickDemotesLowerPriorityOnViolation(t *testing.T) {
	s := New(telemetry.NewHub(), time.Hour)

	high := newWorkload("high", 10, 50)
	for i := 0; i < 10; i++ {
		high.Latency.Sample(500) // far over budget
	}
	low := newWorkload("low", 1, 0)

	s.Register(high)
	s.Register(low)

	s.Tick(time.Now())

	assert.Equal(t, qos.Reduced, low.QoS.Level())
	assert.Equal(t, qos.Full, high.QoS.Level())
}

func TestNoViolationLeavesLevelsUnchanged(t *testing.T) {
	s := New(telemetry.NewHub(), time.Hour)
	w := newWorkload("w", 5, 1000)
	w.Latency.Sample(10)
	s.Register(w)

	s.Tick(time.Now())

	assert.Equal(t, qos.Full, w.QoS.Level())
}

func TestViolationEventDelivered(t *testing.T) {
	s := New(telemetry.NewHub(), time.Hour)
	w := newWorkload("w", 1, 10)
	for i := 0; i < 5; i++ {
		w.Latency.Sample(1000)
	}
	s.Register(w)

	received := make(chan BudgetViolation, 1)
	s.OnViolation(func(v BudgetViolation) { received <- v })

	go s.drainEvents(context.Background())
	s.Tick(time.Now())

	select {
	case v := <-received:
		assert.Equal(t, "w", v.WorkloadID)
		assert.Equal(t, KindLatency, v.Kind)
	case <-time.After(time.Second):
		t.Fatal("violation event not delivered")
	}
}

func TestUnregisterRemovesWorkload(t *testing.T) {
	s := New(telemetry.NewHub(), time.Hour)
	w := newWorkload("w", 1, 10)
	s.Register(w)
	s.Unregister("w")

	s.Tick(time.Now())
	assert.Equal(t, qos.Full, w.QoS.Level())
}

func TestZeroTickIntervalDefaultsTo2s(t *testing.T) {
	s := New(telemetry.NewHub(), 0)
	assert.Equal(t, 2*time.Second, s.tickInterval)
}
