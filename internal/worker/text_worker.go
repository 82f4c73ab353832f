package worker

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sony/gobreaker"

	"github.com/inferedge/browsercore/internal/abi"
	"github.com/inferedge/browsercore/internal/errs"
	"github.com/inferedge/browsercore/internal/log"
	"github.com/inferedge/browsercore/internal/protocol"
)

// breakerFailureThreshold and breakerOpenDuration guard the kernel-call
// boundary: consecutive kernel-layer failures open the breaker so a
// wedged kernel doesn't waste every subsequent request's full timeout.
const (
	breakerFailureThreshold = 3
	breakerOpenDuration     = 5 * time.Second
)

// GenerateParams mirrors the kernel's generation parameters.
type GenerateParams struct {
	MaxTokens           int
	StopSequences       []string
	Temperature         float64
	ConfidenceThreshold float64
}

// kernelAdapter is the slice of *abi.Adapter a worker calls through. Tests
// substitute a fake implementation so worker control flow can be exercised
// without a real kernel binary.
type kernelAdapter interface {
	Init(modelBytes []byte, configJSON string) (int32, error)
	Free(handle int32) error
	Generate(handle int32, prompt, paramsJSON string) (string, error)
	GenerateStream(handle int32, prompt, paramsJSON string) (int32, error)
	StreamNext(streamHandle int32) (text string, done bool, err error)
	StreamCancel(streamHandle int32) error
	StreamFree(streamHandle int32) error
	GetMemoryStats(handle int32) (abi.MemoryStats, error)
	SetMemoryLimit(handle int32, limitBytes uint64) error
	ResetContext(handle int32) error
}

// TextWorker hosts a text-generation kernel handle.
type TextWorker struct {
	sm      *stateMachine
	adapter kernelAdapter
	handle  int32

	breaker *gobreaker.CircuitBreaker

	mu         sync.Mutex
	activeStop chan struct{} // closed when a cancel is requested for the active stream
	memLimit   uint64
	logger     *log.Logger
}

// NewTextWorker wraps an already-instantiated kernel adapter. The worker
// starts in StateSpawned and must go through Init before Generate calls
// are accepted.
func NewTextWorker(adapter kernelAdapter) *TextWorker {
	w := &TextWorker{
		sm:      newStateMachine(),
		adapter: adapter,
		logger:  log.Named("worker.text"),
	}
	w.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "text-worker-kernel",
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

// Init loads modelBytes through the kernel and transitions Spawned/Loading
// to Ready, or to Failed on error.
func (w *TextWorker) Init(modelBytes []byte, configJSON string) error {
	if !w.sm.transition(StateSpawned, StateLoading) {
		return errs.New(errs.InvalidConfig, fmt.Sprintf("init called from unexpected state %s", w.sm.current()))
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

// Generate performs one blocking generation call.
func (w *TextWorker) Generate(prompt string, params GenerateParams) (protocol.GenerateResult, error) {
	if err := w.sm.requireReady(); err != nil {
		return protocol.GenerateResult{}, errs.Wrap(errs.GenerationFailed, "generate rejected", err)
	}
	defer w.sm.releaseBusy()

	paramsJSON, _ := json.Marshal(params)
	start := time.Now()

	result, err := w.breaker.Execute(func() (interface{}, error) {
		return w.adapter.Generate(w.handle, prompt, string(paramsJSON))
	})
	if err != nil {
		return protocol.GenerateResult{}, w.classifyKernelErr(err)
	}
	text, _ := result.(string)

	elapsed := time.Since(start)
	tokens := estimateTokenCount(text)
	return protocol.GenerateResult{
		Text:            text,
		TokensGenerated: tokens,
		TimeMs:          float64(elapsed.Milliseconds()),
		TokensPerSecond: tokensPerSecond(tokens, elapsed),
		Stopped:         true,
		StopReason:      protocol.StopMaxTokens,
	}, nil
}

func (w *TextWorker) classifyKernelErr(err error) error {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return errs.New(errs.GenerationFailed, "breaker open, kernel likely wedged")
	}
	if errs.KindOf(err) == errs.ContextOverflow {
		return err
	}
	if ke, ok := err.(*abi.KernelError); ok && ke.Code == abi.CodeContextInvalid {
		return errs.New(errs.ContextOverflow, ke.Message).WithRemediation("resetContext")
	}
	return err
}

// GenerateStream pulls tokens from a kernel stream, emitting chunks via
// onChunk until a stop condition fires: Cancel (checked before each pull),
// kernel end-of-stream, maxTokens reached, or a stop sequence matched,
// checked in that order.
func (w *TextWorker) GenerateStream(prompt string, params GenerateParams, onChunk func(protocol.StreamChunk)) error {
	if err := w.sm.requireReady(); err != nil {
		return errs.Wrap(errs.GenerationFailed, "generateStream rejected", err)
	}
	defer w.sm.releaseBusy()

	w.mu.Lock()
	stop := make(chan struct{})
	w.activeStop = stop
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.activeStop = nil
		w.mu.Unlock()
	}()

	paramsJSON, _ := json.Marshal(params)
	result, err := w.breaker.Execute(func() (interface{}, error) {
		return w.adapter.GenerateStream(w.handle, prompt, string(paramsJSON))
	})
	if err != nil {
		return w.classifyKernelErr(err)
	}
	sh, _ := result.(int32)

	var cumulative strings.Builder
	var pending []byte
	start := time.Now()
	tokenIndex := 0
	var confSum float64
	var needsHandoff bool

	for {
		select {
		case <-stop:
			finalChunk := buildChunk(cumulative.String(), tokenIndex, true, protocol.StopCancelled, start)
			onChunk(finalChunk)
			_ = w.adapter.StreamCancel(sh)
			_ = w.adapter.StreamFree(sh)
			return nil
		default:
		}

		text, done, err := w.adapter.StreamNext(sh)
		if err != nil && !done {
			return err // the adapter reports end-of-stream as done=true with io.EOF, handled below
		}
		if done {
			finalChunk := buildChunk(cumulative.String(), tokenIndex, true, protocol.StopMaxTokens, start)
			onChunk(finalChunk)
			_ = w.adapter.StreamFree(sh)
			return nil
		}

		pending = append(pending, text...)
		full, remainder := splitCompleteRunes(pending)
		pending = remainder
		if len(full) == 0 {
			continue
		}
		cumulative.Write(full)
		tokenIndex++

		chunk := buildChunk(cumulative.String(), tokenIndex, false, "", start)
		chunk.Token = string(full)
		if params.ConfidenceThreshold > 0 {
			confSum += 1.0 // kernel-exposed per-token confidence is not modeled by this adapter's ABI
			avg := confSum / float64(tokenIndex)
			chunk.AvgConfidence = avg
			if avg < params.ConfidenceThreshold {
				needsHandoff = true
			}
			chunk.NeedsCloudHandoff = needsHandoff
		}
		onChunk(chunk)

		if params.MaxTokens > 0 && tokenIndex >= params.MaxTokens {
			final := buildChunk(cumulative.String(), tokenIndex, true, protocol.StopMaxTokens, start)
			onChunk(final)
			_ = w.adapter.StreamFree(sh)
			return nil
		}
		for _, stopSeq := range params.StopSequences {
			if stopSeq != "" && strings.HasSuffix(cumulative.String(), stopSeq) {
				final := buildChunk(cumulative.String(), tokenIndex, true, protocol.StopStopSequence, start)
				onChunk(final)
				_ = w.adapter.StreamFree(sh)
				return nil
			}
		}
	}
}

// Cancel requests early termination of the active stream, if any.
func (w *TextWorker) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.activeStop != nil {
		close(w.activeStop)
		w.activeStop = nil
	}
}

// ResetContext clears the kernel conversational state.
func (w *TextWorker) ResetContext() error {
	return w.adapter.ResetContext(w.handle)
}

// UnloadModel frees the kernel handle and transitions to Unloaded.
func (w *TextWorker) UnloadModel() error {
	if err := w.adapter.Free(w.handle); err != nil {
		return err
	}
	w.sm.set(StateUnloaded)
	return nil
}

// Free releases kernel resources from a Failed worker; this is the only
// transition Failed permits.
func (w *TextWorker) Free() error {
	return w.adapter.Free(w.handle)
}

// GetMemoryStats may run concurrently with a busy Generate; it does not
// go through requireReady/releaseBusy.
func (w *TextWorker) GetMemoryStats() (abi.MemoryStats, error) {
	return w.adapter.GetMemoryStats(w.handle)
}

// SetMemoryLimit sets a new soft memory ceiling on the kernel handle.
func (w *TextWorker) SetMemoryLimit(limitBytes uint64) error {
	if err := w.adapter.SetMemoryLimit(w.handle, limitBytes); err != nil {
		return err
	}
	w.mu.Lock()
	w.memLimit = limitBytes
	w.mu.Unlock()
	return nil
}

// State reports the current lifecycle state.
func (w *TextWorker) State() State { return w.sm.current() }

func buildChunk(cumulative string, tokenIndex int, done bool, reason protocol.StopReason, start time.Time) protocol.StreamChunk {
	elapsed := time.Since(start)
	c := protocol.StreamChunk{
		CumulativeText:  cumulative,
		TokensGenerated: tokenIndex,
		TokenIndex:      tokenIndex,
		Done:            done,
	}
	if done {
		c.StopReason = reason
		c.TimeMs = float64(elapsed.Milliseconds())
		c.TokensPerSecond = tokensPerSecond(tokenIndex, elapsed)
	}
	return c
}

// splitCompleteRunes returns the prefix of buf ending on a complete UTF-8
// rune boundary and the trailing incomplete-rune remainder, so a chunk
// never emits a partial multi-byte sequence.
func splitCompleteRunes(buf []byte) (complete, remainder []byte) {
	i := 0
	for i < len(buf) {
		r, size := utf8.DecodeRune(buf[i:])
		if r == utf8.RuneError && size <= 1 {
			break
		}
		i += size
	}
	out := make([]byte, i)
	copy(out, buf[:i])
	rem := make([]byte, len(buf)-i)
	copy(rem, buf[i:])
	return out, rem
}

func estimateTokenCount(text string) int {
	return len(strings.Fields(text))
}

func tokensPerSecond(tokens int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(tokens) / elapsed.Seconds()
}
