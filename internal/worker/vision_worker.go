package worker

import (
	"encoding/json"
	"time"

	"github.com/sony/gobreaker"

	"github.com/inferedge/browsercore/internal/abi"
	"github.com/inferedge/browsercore/internal/errs"
	"github.com/inferedge/browsercore/internal/framequeue"
	"github.com/inferedge/browsercore/internal/log"
)

// FrameTiming breaks down one DescribeFrame call's latency by stage, the
// same shape a caller needs to tell a slow encode from a slow decode.
type FrameTiming struct {
	ModelLoadMs     float64
	ImageEncodeMs   float64
	PromptEvalMs    float64
	DecodeMs        float64
	PromptTokens    int
	GeneratedTokens int
	TotalMs         float64
	TokensPerSecond float64
}

// FrameDescription is the result of one DescribeFrame call.
type FrameDescription struct {
	Text   string
	Timing FrameTiming
}

// VisionWorker hosts a multimodal kernel handle and a single-slot frame
// queue coupling a continuous frame producer to the worker.
type VisionWorker struct {
	sm      *stateMachine
	adapter kernelAdapter
	handle  int32

	breaker *gobreaker.CircuitBreaker
	queue   *framequeue.Queue
	logger  *log.Logger
}

// NewVisionWorker wraps an already-instantiated multimodal kernel adapter.
func NewVisionWorker(adapter kernelAdapter) *VisionWorker {
	w := &VisionWorker{
		sm:      newStateMachine(),
		adapter: adapter,
		queue:   framequeue.New(),
		logger:  log.Named("worker.vision"),
	}
	w.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "vision-worker-kernel",
		MaxRequests: 1,
		Timeout:     breakerOpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			w.logger.Warn("circuit breaker state change",
				log.String("breaker", name), log.String("from", from.String()), log.String("to", to.String()))
		},
	})
	return w
}

// Init loads the multimodal model and transitions Spawned/Loading to
// Ready, or Failed on error.
func (w *VisionWorker) Init(modelBytes []byte, configJSON string) error {
	if !w.sm.transition(StateSpawned, StateLoading) {
		return errs.New(errs.InvalidConfig, "init called from unexpected worker state")
	}
	handle, err := w.adapter.Init(modelBytes, configJSON)
	if err != nil {
		w.sm.set(StateFailed)
		return err
	}
	w.handle = handle
	w.sm.set(StateReady)
	return nil
}

type describeParams struct {
	Prompt string `json:"prompt"`
}

// DescribeFrame runs one synchronous caption/description call against a
// single RGB frame.
func (w *VisionWorker) DescribeFrame(f *framequeue.Frame, prompt string) (FrameDescription, error) {
	if err := w.sm.requireReady(); err != nil {
		return FrameDescription{}, errs.Wrap(errs.GenerationFailed, "describeFrame rejected", err)
	}
	defer w.sm.releaseBusy()

	encodeStart := time.Now()
	payload, _ := json.Marshal(describeParams{Prompt: prompt})
	encodeMs := float64(time.Since(encodeStart).Milliseconds())

	promptStart := time.Now()
	result, err := w.breaker.Execute(func() (interface{}, error) {
		return w.adapter.Generate(w.handle, string(f.RGB), string(payload))
	})
	totalMs := float64(time.Since(promptStart).Milliseconds())
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return FrameDescription{}, errs.New(errs.GenerationFailed, "breaker open, kernel likely wedged")
		}
		return FrameDescription{}, err
	}
	text, _ := result.(string)

	tokens := estimateTokenCount(text)
	return FrameDescription{
		Text: text,
		Timing: FrameTiming{
			ImageEncodeMs:   encodeMs,
			PromptEvalMs:    totalMs,
			GeneratedTokens: tokens,
			TotalMs:         encodeMs + totalMs,
			TokensPerSecond: tokensPerSecond(tokens, time.Duration(totalMs)*time.Millisecond),
		},
	}, nil
}

// Enqueue hands a newly captured frame to the queue, dropping the
// previously pending frame if the consumer hasn't kept up.
func (w *VisionWorker) Enqueue(f *framequeue.Frame) {
	w.queue.Enqueue(f)
}

// ProcessNextFrame dequeues and describes the next pending frame, if any.
// Returns (nil, false) when the queue is empty.
func (w *VisionWorker) ProcessNextFrame(prompt string) (*FrameDescription, bool, error) {
	f, ok := w.queue.Dequeue()
	if !ok {
		return nil, false, nil
	}
	defer w.queue.MarkDone()

	desc, err := w.DescribeFrame(f, prompt)
	if err != nil {
		return nil, true, err
	}
	return &desc, true, nil
}

// DroppedFrames reports how many frames were discarded because the
// consumer could not keep up with the producer.
func (w *VisionWorker) DroppedFrames() int {
	return w.queue.DroppedCount()
}

// ResetContext clears the kernel's conversational/visual context.
func (w *VisionWorker) ResetContext() error {
	w.queue.Reset()
	return w.adapter.ResetContext(w.handle)
}

// UnloadModel frees the kernel handle and transitions to Unloaded.
func (w *VisionWorker) UnloadModel() error {
	if err := w.adapter.Free(w.handle); err != nil {
		return err
	}
	w.sm.set(StateUnloaded)
	return nil
}

// Free releases kernel resources from a Failed worker.
func (w *VisionWorker) Free() error {
	return w.adapter.Free(w.handle)
}

// GetMemoryStats may run concurrently with an in-flight DescribeFrame.
func (w *VisionWorker) GetMemoryStats() (abi.MemoryStats, error) {
	return w.adapter.GetMemoryStats(w.handle)
}

// State reports the current lifecycle state.
func (w *VisionWorker) State() State { return w.sm.current() }
