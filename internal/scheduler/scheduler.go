// Package scheduler implements the priority-ordered workload registry and
// tick loop that enforces declared budgets against live telemetry.
package scheduler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/inferedge/browsercore/internal/budget"
	"github.com/inferedge/browsercore/internal/log"
	"github.com/inferedge/browsercore/internal/qos"
	"github.com/inferedge/browsercore/internal/telemetry"
)

// Severity classifies a BudgetViolation for downstream handlers.
type Severity int

const (
	SeverityWarn Severity = iota
	SeverityCritical
)

func (s Severity) String() string {
	if s == SeverityCritical {
		return "critical"
	}
	return "warn"
}

// Kind names which budget dimension was violated.
type Kind string

const (
	KindLatency Kind = "latency"
	KindThermal Kind = "thermal"
	KindDrain   Kind = "drain"
	KindMemory  Kind = "memory"
)

// BudgetViolation is emitted whenever a workload's declared budget is
// exceeded by the live snapshot.
type BudgetViolation struct {
	WorkloadID string
	Kind       Kind
	Severity   Severity
	At         time.Time
}

// Workload is one registered unit of scheduled work: a priority, its
// declared budget, and a latency tracker fed by its owning worker.
type Workload struct {
	ID       string
	Priority int
	Budget   budget.Budget
	Latency  *telemetry.LatencyTracker
	QoS      *qos.Controller

	// Resolver, if set, supplies a live-resolved Budget (C6's profile
	// multipliers and measured-baseline fit) that checkBudget consults
	// instead of the static Budget field above.
	Resolver *budget.Resolver

	// NotifyPolicy, if set, receives the tick's workload-ID -> QoS-level
	// map once every registered workload has been evaluated, so the owning
	// Engine can send a PolicyUpdate frame to its worker.
	NotifyPolicy func(qosByWorkload map[string]string)

	lastViolation time.Time
}

// Scheduler runs a tick loop: on each tick it checks every registered
// workload's budget against the shared telemetry snapshot, demotes
// lower-priority workloads on violation, and fans out BudgetViolation
// events without blocking the tick loop itself.
type Scheduler struct {
	mu        sync.RWMutex
	workloads map[string]*Workload
	hub       *telemetry.Hub

	tickInterval time.Duration
	events       chan BudgetViolation
	handlers     []func(BudgetViolation)
	handlersMu   sync.Mutex

	group singleflight.Group

	logger *log.Logger
	stop   chan struct{}
	done   chan struct{}

	metrics *Metrics
}

const eventQueueCapacity = 64

// New constructs a Scheduler. tickInterval must be positive; a zero or
// negative value is replaced with a 2s default.
func New(hub *telemetry.Hub, tickInterval time.Duration) *Scheduler {
	if tickInterval <= 0 {
		tickInterval = 2 * time.Second
	}
	return &Scheduler{
		workloads:    make(map[string]*Workload),
		hub:          hub,
		tickInterval: tickInterval,
		events:       make(chan BudgetViolation, eventQueueCapacity),
		logger:       log.Named("scheduler"),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Register adds a workload to the scheduler. Re-registering the same ID
// replaces the prior entry.
func (s *Scheduler) Register(w *Workload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workloads[w.ID] = w
}

// Unregister removes a workload from scheduling.
func (s *Scheduler) Unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workloads, id)
}

// OnViolation registers a handler invoked for every BudgetViolation. Handlers
// run on a single background goroutine so a slow handler only delays other
// handlers, never the tick loop.
func (s *Scheduler) OnViolation(h func(BudgetViolation)) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Start launches the tick loop and the event-draining goroutine. Stop via
// the returned context cancellation or Close.
func (s *Scheduler) Start(ctx context.Context) {
	go s.drainEvents(ctx)
	go s.tickLoop(ctx)
}

// Close stops the scheduler's goroutines and waits for them to exit.
func (s *Scheduler) Close() {
	close(s.stop)
	<-s.done
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

func (s *Scheduler) tick(now time.Time) {
	// Dedup concurrent ticks (e.g. a manual Tick call racing the ticker)
	// so a violation is never evaluated twice for the same instant.
	s.group.Do("tick", func() (any, error) {
		s.runTick(now)
		return nil, nil
	})
}

// Tick exposes a manual tick for tests and for callers driving their own
// clock; production use relies on the internal ticker.
func (s *Scheduler) Tick(now time.Time) { s.tick(now) }

func (s *Scheduler) runTick(now time.Time) {
	if s.metrics != nil {
		s.metrics.ticks.Inc()
	}

	snap := telemetry.Snapshot{}
	if s.hub != nil {
		snap = s.hub.Snapshot()
	}

	ordered := s.orderedByPriorityDesc()
	for i, w := range ordered {
		violation, kind := s.checkBudget(w, snap)
		if !violation {
			continue
		}

		severity := SeverityWarn
		if !w.lastViolation.IsZero() && allLowerPaused(ordered[i+1:]) {
			severity = SeverityCritical
		}
		w.lastViolation = now

		s.demoteLowerPriority(ordered[i+1:])
		s.logger.Warn("budget violated",
			log.String("workload", w.ID),
			log.String("kind", string(kind)),
			log.String("severity", severity.String()),
		)
		if s.metrics != nil {
			s.metrics.violations.WithLabelValues(string(kind), severity.String()).Inc()
		}
		s.emit(BudgetViolation{WorkloadID: w.ID, Kind: kind, Severity: severity, At: now})
	}

	s.evaluateQoS(ordered, snap, now)
}

// resolvedBudget returns w's live-resolved budget when it carries a
// Resolver (C6's profile multipliers and measured-baseline fit), or its
// static declared Budget otherwise.
func resolvedBudget(w *Workload, snap telemetry.Snapshot) budget.Budget {
	if w.Resolver == nil {
		return w.Budget
	}
	var p50, p95 float64
	var samples []float64
	if w.Latency != nil {
		p50 = w.Latency.P50()
		p95 = w.Latency.P95()
		samples = w.Latency.Samples()
	}
	return w.Resolver.Resolve(p50, p95, 0, snap.DrainPerTenMin, samples)
}

func (s *Scheduler) checkBudget(w *Workload, snap telemetry.Snapshot) (bool, Kind) {
	b := resolvedBudget(w, snap)

	if w.Latency != nil && b.P95LatencyMs > 0 {
		if w.Latency.P95() > b.P95LatencyMs {
			return true, KindLatency
		}
	}
	if b.MaxThermalLevel > 0 && snap.ThermalLevel > int32(b.MaxThermalLevel) {
		return true, KindThermal
	}
	if b.BatteryDrainPerTenMinutes > 0 && snap.DrainPerTenMin > b.BatteryDrainPerTenMinutes {
		return true, KindDrain
	}
	if b.MaxMemoryMb > 0 && snap.MemoryHeadroomMB > 0 && snap.MemoryHeadroomMB < b.MaxMemoryMb {
		return true, KindMemory
	}
	return false, ""
}

// evaluateQoS drives every registered workload's telemetry-driven QoS
// escalation/restoration state machine (C7) once per tick, independent of
// the budget-violation-triggered demotion above, then publishes the
// resulting workload-ID -> level map to any workload that registered a
// NotifyPolicy callback.
func (s *Scheduler) evaluateQoS(ordered []*Workload, snap telemetry.Snapshot, now time.Time) {
	levels := make(map[string]string, len(ordered))
	for _, w := range ordered {
		if w.QoS == nil {
			continue
		}
		level, _ := w.QoS.Evaluate(snap, now)
		levels[w.ID] = level.String()
	}
	for _, w := range ordered {
		if w.NotifyPolicy != nil {
			w.NotifyPolicy(levels)
		}
	}
}

func (s *Scheduler) demoteLowerPriority(lower []*Workload) {
	for _, w := range lower {
		if w.QoS != nil {
			w.QoS.ForceDemote()
		}
	}
}

func allLowerPaused(lower []*Workload) bool {
	for _, w := range lower {
		if w.QoS == nil || w.QoS.Level() != qos.Paused {
			return false
		}
	}
	return true
}

func (s *Scheduler) orderedByPriorityDesc() []*Workload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Workload, 0, len(s.workloads))
	for _, w := range s.workloads {
		out = append(out, w)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Priority < out[j].Priority; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// emit drops the oldest queued event when the channel is full rather than
// blocking the tick loop, the same drop-under-pressure posture as the frame
// queue applied to event delivery.
func (s *Scheduler) emit(v BudgetViolation) {
	select {
	case s.events <- v:
		return
	default:
	}
	select {
	case <-s.events:
	default:
	}
	select {
	case s.events <- v:
	default:
	}
	s.logger.Warn("violation event queue full, dropped oldest")
}

func (s *Scheduler) drainEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case v := <-s.events:
			s.handlersMu.Lock()
			handlers := append([]func(BudgetViolation){}, s.handlers...)
			s.handlersMu.Unlock()
			for _, h := range handlers {
				h(v)
			}
		}
	}
}
