// Package browsercore is the SDK facade a host application drives: one
// Engine per loaded model, wrapping a kernel-backed worker with one-in-flight
// call enforcement, capability checks, and scheduler/telemetry wiring.
package browsercore

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/inferedge/browsercore/internal/abi"
	"github.com/inferedge/browsercore/internal/budget"
	"github.com/inferedge/browsercore/internal/errs"
	"github.com/inferedge/browsercore/internal/framequeue"
	"github.com/inferedge/browsercore/internal/log"
	"github.com/inferedge/browsercore/internal/protocol"
	"github.com/inferedge/browsercore/internal/qos"
	"github.com/inferedge/browsercore/internal/scheduler"
	"github.com/inferedge/browsercore/internal/telemetry"
	"github.com/inferedge/browsercore/internal/worker"
)

// Device selects which kernel backend an Engine requests.
type Device string

const (
	DeviceAuto Device = "auto"
	DeviceCPU  Device = "cpu"
	DeviceGPU  Device = "gpu"
)

// Kind distinguishes the two worker call surfaces an Engine can host.
type Kind int

const (
	KindText Kind = iota
	KindVision
)

// hasGPU reports whether a GPU backend is available to the kernel. No
// portable in-process API exists for this outside a browser WebGPU
// context; a host embedding browsercore wires this from its own platform
// probe. The demo binary always reports false.
var hasGPU = func() bool { return false }

// ModelInfo is the static description Engine.GetModelInfo returns.
type ModelInfo struct {
	ModelID    string
	Device     Device
	KernelName string
}

// Engine owns one loaded model's worker, enforcing one in-flight call at a
// time and reporting its workload's latency/memory into the shared
// scheduler and telemetry hub.
type Engine struct {
	kind   Kind
	text   *worker.TextWorker
	vision *worker.VisionWorker

	channel *protocol.Channel

	sem       *semaphore.Weighted
	hub       *telemetry.Hub
	sched     *scheduler.Scheduler
	workload  *scheduler.Workload
	throttler *qos.Throttler
	modelID   string
	device    Device

	mu          sync.Mutex
	shutdowns   []func() error
	disposed    bool
	streamReqID string

	logger *log.Logger
}

// Config is the host-supplied configuration for one Engine.
type Config struct {
	ModelID       string
	Device        Device
	Priority      int
	Profile       budget.Profile
	Budget        budget.Budget
	TickInterval  time.Duration
	RatePerSecond int64
	Burst         int64
}

// NewTextEngine constructs an Engine hosting a text-generation worker over
// adapter, registering its workload with sched and wiring its latency
// samples into hub. The worker is served over a protocol.Channel: Engine
// never calls into tw directly, only exchanges copied messages with the
// goroutine worker.ServeText starts on the worker side of that channel.
func NewTextEngine(cfg Config, adapter *abi.Adapter, hub *telemetry.Hub, sched *scheduler.Scheduler) (*Engine, error) {
	if err := checkCapability(cfg.Device); err != nil {
		return nil, err
	}
	tw := worker.NewTextWorker(adapter)
	e := newEngine(KindText, cfg, hub, sched)
	e.text = tw
	if err := e.startChannel(worker.ServeText(tw)); err != nil {
		return nil, err
	}
	return e, nil
}

// NewVisionEngine constructs an Engine hosting a vision worker over adapter.
func NewVisionEngine(cfg Config, adapter *abi.Adapter, hub *telemetry.Hub, sched *scheduler.Scheduler) (*Engine, error) {
	if err := checkCapability(cfg.Device); err != nil {
		return nil, err
	}
	vw := worker.NewVisionWorker(adapter)
	e := newEngine(KindVision, cfg, hub, sched)
	e.vision = vw
	if err := e.startChannel(worker.ServeVision(vw)); err != nil {
		return nil, err
	}
	return e, nil
}

func newEngine(kind Kind, cfg Config, hub *telemetry.Hub, sched *scheduler.Scheduler) *Engine {
	device := cfg.Device
	if device == "" {
		device = DeviceAuto
	}
	ratePerSecond := cfg.RatePerSecond
	if ratePerSecond <= 0 {
		ratePerSecond = DefaultRatePerSecond
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = DefaultBurst
	}

	w := &scheduler.Workload{
		ID:       cfg.ModelID,
		Priority: cfg.Priority,
		Budget:   cfg.Budget,
		Latency:  telemetry.NewLatencyTracker(telemetry.DefaultWindowSize),
		QoS:      qos.NewController(),
		Resolver: budget.NewResolver(cfg.Budget, cfg.Profile),
	}
	e := &Engine{
		kind:      kind,
		sem:       semaphore.NewWeighted(1),
		hub:       hub,
		sched:     sched,
		workload:  w,
		throttler: qos.NewThrottler(ratePerSecond, burst),
		modelID:   cfg.ModelID,
		device:    device,
		logger:    log.Named("engine"),
	}
	w.NotifyPolicy = e.publishPolicy
	if sched != nil {
		sched.Register(w)
	}
	e.onShutdown(func() error { return log.Sync() })
	return e
}

// startChannel establishes the host<->worker protocol.Channel, running
// workerHandler synchronously on the worker side before any frame can
// arrive, and stores the host side for Engine's calls to use.
func (e *Engine) startChannel(workerHandler func(*protocol.Channel)) error {
	ch, err := protocol.NewHostPair(context.Background(), workerHandler)
	if err != nil {
		return errs.Wrap(errs.ModelLoadFailed, "start worker channel", err)
	}
	e.channel = ch
	return nil
}

// publishPolicy broadcasts the scheduler's per-tick QoS levels to the
// worker side as a fire-and-forget PolicyUpdate frame.
func (e *Engine) publishPolicy(levels map[string]string) {
	if e.channel == nil {
		return
	}
	body, err := json.Marshal(protocol.PolicyUpdatePayload{QoSByWorkload: levels})
	if err != nil {
		return
	}
	_ = e.channel.Send(protocol.Frame{Type: protocol.TypePolicyUpdate, ID: uuid.NewString(), Payload: body})
}

// checkCapability rejects an explicit "gpu" request when no GPU is
// available. "auto", "cpu" and an empty device are accepted as they are:
// no GPU probe is made for them, no backend is selected, and nothing is
// logged.
func checkCapability(device Device) error {
	switch device {
	case DeviceGPU:
		if !hasGPU() {
			return errs.New(errs.UnsupportedBackend, "gpu backend requested but unavailable").
				WithRemediation("retry with device=auto or device=cpu")
		}
	case DeviceAuto, DeviceCPU, "":
	default:
		return errs.New(errs.InvalidConfig, "unknown device "+string(device))
	}
	return nil
}

// initPayload is the wire shape Init sends across the channel.
type initPayload struct {
	ModelBytes []byte
	ConfigJSON string
}

// Init loads modelBytes through the kernel, over the worker channel.
func (e *Engine) Init(modelBytes []byte, configJSON string) error {
	if e.channel == nil {
		return errs.New(errs.InvalidConfig, "engine has no worker kind set")
	}
	resp, err := e.channel.Request(protocol.TypeInit, initPayload{ModelBytes: modelBytes, ConfigJSON: configJSON}, nil)
	if err != nil {
		return err
	}
	return errorFromResponse(resp)
}

// errorFromResponse translates a terminal response frame into an error, or
// nil for a Success frame.
func errorFromResponse(resp protocol.Frame) error {
	if resp.Type != protocol.TypeError {
		return nil
	}
	var payload protocol.ErrorPayload
	_ = json.Unmarshal(resp.Payload, &payload)
	return protocol.ErrorFromPayload(payload)
}

// acquire enforces one in-flight call: TryAcquire never blocks, failing
// fast with Busy instead of queueing a second concurrent request.
func (e *Engine) acquire() error {
	if !e.sem.TryAcquire(1) {
		return errs.New(errs.Busy, "engine already has a call in flight")
	}
	return nil
}

func (e *Engine) release() { e.sem.Release(1) }

// generatePayload is the wire shape Generate/GenerateStream send across the
// channel.
type generatePayload struct {
	Prompt string
	Params worker.GenerateParams
}

// throttled checks the QoS throttler before admitting a call that already
// holds the one-in-flight semaphore; on rejection the caller's deferred
// release frees it.
func (e *Engine) throttled() error {
	if e.throttler == nil || e.hub == nil {
		return nil
	}
	rec := e.throttler.Recommend(e.modelID, e.hub.Snapshot())
	if !rec.ShouldThrottle {
		return nil
	}
	return errs.New(errs.Busy, "throttled: "+strings.Join(rec.Reasons, ",")).
		WithRemediation("retry later")
}

// Generate runs one blocking text generation call.
func (e *Engine) Generate(prompt string, params worker.GenerateParams) (protocol.GenerateResult, error) {
	if e.kind != KindText {
		return protocol.GenerateResult{}, errs.New(errs.InvalidConfig, "generate requires a text engine")
	}
	if err := e.acquire(); err != nil {
		return protocol.GenerateResult{}, err
	}
	defer e.release()
	if err := e.throttled(); err != nil {
		return protocol.GenerateResult{}, err
	}

	start := time.Now()
	resp, err := e.channel.Request(protocol.TypeGenerate, generatePayload{Prompt: prompt, Params: params}, nil)
	e.recordLatency(time.Since(start))
	if err != nil {
		return protocol.GenerateResult{}, err
	}
	if fnErr := errorFromResponse(resp); fnErr != nil {
		return protocol.GenerateResult{}, fnErr
	}
	var result protocol.GenerateResult
	_ = json.Unmarshal(resp.Payload, &result)
	return result, nil
}

// GenerateStream runs one streaming text generation call. The request ID is
// remembered so a concurrent CancelGeneration can target it.
func (e *Engine) GenerateStream(prompt string, params worker.GenerateParams, onChunk func(protocol.StreamChunk)) error {
	if e.kind != KindText {
		return errs.New(errs.InvalidConfig, "generateStream requires a text engine")
	}
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()
	if err := e.throttled(); err != nil {
		return err
	}

	id := uuid.NewString()
	e.mu.Lock()
	e.streamReqID = id
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.streamReqID = ""
		e.mu.Unlock()
	}()

	start := time.Now()
	resp, err := e.channel.RequestWithID(id, protocol.TypeGenerateStream, generatePayload{Prompt: prompt, Params: params}, onChunk)
	e.recordLatency(time.Since(start))
	if err != nil {
		return err
	}
	return errorFromResponse(resp)
}

// describeFramePayload is the wire shape DescribeFrame sends across the
// channel.
type describeFramePayload struct {
	Frame  *framequeue.Frame
	Prompt string
}

// DescribeFrame runs one synchronous vision description call over f.
func (e *Engine) DescribeFrame(f *framequeue.Frame, prompt string) (worker.FrameDescription, error) {
	if e.kind != KindVision {
		return worker.FrameDescription{}, errs.New(errs.InvalidConfig, "describeFrame requires a vision engine")
	}
	if err := e.acquire(); err != nil {
		return worker.FrameDescription{}, err
	}
	defer e.release()
	if err := e.throttled(); err != nil {
		return worker.FrameDescription{}, err
	}

	start := time.Now()
	resp, err := e.channel.Request(protocol.TypeDescribeFrame, describeFramePayload{Frame: f, Prompt: prompt}, nil)
	e.recordLatency(time.Since(start))
	if err != nil {
		return worker.FrameDescription{}, err
	}
	if fnErr := errorFromResponse(resp); fnErr != nil {
		return worker.FrameDescription{}, fnErr
	}
	var desc worker.FrameDescription
	_ = json.Unmarshal(resp.Payload, &desc)
	return desc, nil
}

// EnqueueFrame submits a captured frame for later asynchronous processing,
// dropping the previously pending frame if the consumer is lagging.
func (e *Engine) EnqueueFrame(f *framequeue.Frame) error {
	if e.kind != KindVision {
		return errs.New(errs.InvalidConfig, "enqueueFrame requires a vision engine")
	}
	e.vision.Enqueue(f)
	return nil
}

// ProcessNextFrame describes the single pending frame (the most recently
// enqueued one), if any.
func (e *Engine) ProcessNextFrame(prompt string) (*worker.FrameDescription, bool, error) {
	if e.kind != KindVision {
		return nil, false, errs.New(errs.InvalidConfig, "processNextFrame requires a vision engine")
	}
	if err := e.acquire(); err != nil {
		return nil, false, err
	}
	defer e.release()

	start := time.Now()
	desc, ok, err := e.vision.ProcessNextFrame(prompt)
	if ok {
		e.recordLatency(time.Since(start))
	}
	return desc, ok, err
}

func (e *Engine) recordLatency(d time.Duration) {
	if e.workload != nil && e.workload.Latency != nil {
		e.workload.Latency.Sample(float64(d.Milliseconds()))
	}
	if e.workload != nil && e.workload.Resolver != nil {
		e.workload.Resolver.RecordActivity(d)
	}
}

// CancelGeneration requests early termination of an in-flight text stream
// by cancelling its request over the channel; the worker side bridges this
// into its own Cancel() mechanism.
func (e *Engine) CancelGeneration() error {
	if e.kind != KindText {
		return errs.New(errs.InvalidConfig, "cancelGeneration requires a text engine")
	}
	e.mu.Lock()
	id := e.streamReqID
	e.mu.Unlock()
	if id == "" || e.channel == nil {
		return nil
	}
	return e.channel.Cancel(id)
}

// GetMemoryStats may be called concurrently with a busy Generate.
func (e *Engine) GetMemoryStats() (abi.MemoryStats, error) {
	if e.channel == nil {
		return abi.MemoryStats{}, errs.New(errs.InvalidConfig, "no worker loaded")
	}
	resp, err := e.channel.Request(protocol.TypeGetMemoryStats, nil, nil)
	if err != nil {
		return abi.MemoryStats{}, err
	}
	if fnErr := errorFromResponse(resp); fnErr != nil {
		return abi.MemoryStats{}, fnErr
	}
	var stats abi.MemoryStats
	_ = json.Unmarshal(resp.Payload, &stats)
	return stats, nil
}

// GetModelInfo reports static information about the loaded model.
func (e *Engine) GetModelInfo() ModelInfo {
	return ModelInfo{ModelID: e.modelID, Device: e.device, KernelName: "browsercore-kernel"}
}

// ResetContext clears the kernel's conversational/visual context.
func (e *Engine) ResetContext() error {
	if e.channel == nil {
		return errs.New(errs.InvalidConfig, "no worker loaded")
	}
	resp, err := e.channel.Request(protocol.TypeResetContext, nil, nil)
	if err != nil {
		return err
	}
	return errorFromResponse(resp)
}

// UnloadModel frees the kernel handle without disposing the Engine.
func (e *Engine) UnloadModel() error {
	if e.channel == nil {
		return errs.New(errs.InvalidConfig, "no worker loaded")
	}
	resp, err := e.channel.Request(protocol.TypeUnloadModel, nil, nil)
	if err != nil {
		return err
	}
	return errorFromResponse(resp)
}

// onShutdown registers a cleanup function run in LIFO order by Dispose.
func (e *Engine) onShutdown(fn func() error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shutdowns = append(e.shutdowns, fn)
}

// Dispose tears down the engine: registered shutdown functions run
// concurrently in LIFO order, racing ctx. There is no drain grace period;
// any call still in flight when Dispose is invoked observes the kernel
// handle freed out from under it rather than being allowed to finish.
func (e *Engine) Dispose(ctx context.Context) error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return nil
	}
	e.disposed = true
	fns := e.shutdowns
	e.mu.Unlock()

	if e.sched != nil && e.workload != nil {
		e.sched.Unregister(e.workload.ID)
	}

	errCh := make(chan error, len(fns))
	var wg sync.WaitGroup
	for i := len(fns) - 1; i >= 0; i-- {
		wg.Add(1)
		fn := fns[i]
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				e.logger.Error("shutdown function failed", log.Err(err))
				errCh <- err
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var firstErr error
	select {
	case <-done:
	case <-ctx.Done():
		e.logger.Warn("dispose shutdown functions did not complete before context cancellation")
		firstErr = ctx.Err()
	}
drain:
	for {
		select {
		case err := <-errCh:
			if firstErr == nil {
				firstErr = err
			}
		default:
			break drain
		}
	}

	if e.channel != nil {
		if resp, err := e.channel.Request(protocol.TypeFree, nil, nil); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else if fnErr := errorFromResponse(resp); fnErr != nil && firstErr == nil {
			firstErr = fnErr
		}
		if err := e.channel.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
