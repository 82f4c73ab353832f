// Package abi presents the kernel as a set of typed Go calls over a WASM
// module instance, translating the kernel's raw error-code ABI into the
// browsercore error taxonomy.
package abi

import (
	"fmt"
	"io"

	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/inferedge/browsercore/internal/log"
)

// MemoryStats mirrors the kernel's getMemoryStats export.
type MemoryStats struct {
	UsedBytes  uint64
	LimitBytes uint64
	PeakBytes  uint64
}

// Adapter wraps one instantiated kernel WASM module. It is not safe for
// concurrent use by multiple goroutines without external synchronization
// (the worker's busy-token protocol provides that).
type Adapter struct {
	store    *wasmer.Store
	module   *wasmer.Module
	instance *wasmer.Instance
	memory   *wasmer.Memory
	fns      map[string]wasmer.NativeFunction
	logger   *log.Logger
}

var requiredExports = []string{
	"version", "configDefault", "init", "free", "generate", "generateStream",
	"streamNext", "streamCancel", "streamFree", "getMemoryStats",
	"setMemoryLimit", "resetContext", "freeString", "get_last_error",
	"allocate",
}

// NewAdapter instantiates wasmBytes and resolves the kernel's exported
// functions and linear memory.
func NewAdapter(wasmBytes []byte) (*Adapter, error) {
	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)

	module, err := wasmer.NewModule(store, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("compile kernel module: %w", err)
	}

	instance, err := wasmer.NewInstance(module, wasmer.NewImportObject())
	if err != nil {
		return nil, fmt.Errorf("instantiate kernel module: %w", err)
	}

	mem, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return nil, fmt.Errorf("kernel module has no exported memory: %w", err)
	}

	a := &Adapter{
		store:    store,
		module:   module,
		instance: instance,
		memory:   mem,
		fns:      make(map[string]wasmer.NativeFunction),
		logger:   log.Named("abi"),
	}

	for _, name := range requiredExports {
		fn, err := instance.Exports.GetFunction(name)
		if err != nil {
			return nil, fmt.Errorf("kernel module missing export %q: %w", name, err)
		}
		a.fns[name] = fn
	}

	return a, nil
}

func (a *Adapter) call(name string, args ...interface{}) (interface{}, error) {
	fn, ok := a.fns[name]
	if !ok {
		return nil, fmt.Errorf("unresolved kernel export %q", name)
	}
	return fn(args...)
}

func (a *Adapter) allocate(size int32) (int32, error) {
	res, err := a.call("allocate", size)
	if err != nil {
		return 0, err
	}
	return toI32(res), nil
}

func toI32(v interface{}) int32 {
	switch n := v.(type) {
	case int32:
		return n
	case int64:
		return int32(n)
	case int:
		return int32(n)
	default:
		return 0
	}
}

func (a *Adapter) lastError() string {
	res, err := a.call("get_last_error")
	if err != nil {
		return ""
	}
	return readCString(a.memory, toI32(res))
}

func (a *Adapter) errorIfNegative(code int32) error {
	if code >= 0 {
		return nil
	}
	ec := ErrorCode(-code)
	if ec == CodeStreamEnded {
		return io.EOF
	}
	return translate(ec, a.lastError())
}

// Version returns the kernel's reported semantic version string.
func (a *Adapter) Version() (string, error) {
	res, err := a.call("version")
	if err != nil {
		return "", err
	}
	return readCString(a.memory, toI32(res)), nil
}

// ConfigDefault returns the kernel's default init configuration, JSON
// encoded.
func (a *Adapter) ConfigDefault() (string, error) {
	res, err := a.call("configDefault")
	if err != nil {
		return "", err
	}
	return readCString(a.memory, toI32(res)), nil
}

// Init loads a model from modelBytes using the given JSON config and
// returns an opaque handle.
func (a *Adapter) Init(modelBytes []byte, configJSON string) (int32, error) {
	modelPtr, modelLen, err := copyIn(a.memory, a.allocate, modelBytes)
	if err != nil {
		return 0, fmt.Errorf("allocate model bytes: %w", err)
	}
	cfgPtr, cfgLen, err := copyIn(a.memory, a.allocate, []byte(configJSON))
	if err != nil {
		return 0, fmt.Errorf("allocate config: %w", err)
	}

	res, err := a.call("init", modelPtr, modelLen, cfgPtr, cfgLen)
	if err != nil {
		return 0, err
	}
	handle := toI32(res)
	if handle < 0 {
		return 0, a.errorIfNegative(handle)
	}
	return handle, nil
}

// Free releases a kernel handle.
func (a *Adapter) Free(handle int32) error {
	_, err := a.call("free", handle)
	return err
}

// Generate performs one blocking generation call.
func (a *Adapter) Generate(handle int32, prompt, paramsJSON string) (string, error) {
	promptPtr, promptLen, err := copyIn(a.memory, a.allocate, []byte(prompt))
	if err != nil {
		return "", err
	}
	paramsPtr, paramsLen, err := copyIn(a.memory, a.allocate, []byte(paramsJSON))
	if err != nil {
		return "", err
	}

	res, err := a.call("generate", handle, promptPtr, promptLen, paramsPtr, paramsLen)
	if err != nil {
		return "", err
	}
	ptr := toI32(res)
	if ptr < 0 {
		return "", a.errorIfNegative(ptr)
	}
	text := readCString(a.memory, ptr)
	_, _ = a.call("freeString", ptr)
	return text, nil
}

// GenerateStream opens a kernel stream and returns its handle.
func (a *Adapter) GenerateStream(handle int32, prompt, paramsJSON string) (int32, error) {
	promptPtr, promptLen, err := copyIn(a.memory, a.allocate, []byte(prompt))
	if err != nil {
		return 0, err
	}
	paramsPtr, paramsLen, err := copyIn(a.memory, a.allocate, []byte(paramsJSON))
	if err != nil {
		return 0, err
	}

	res, err := a.call("generateStream", handle, promptPtr, promptLen, paramsPtr, paramsLen)
	if err != nil {
		return 0, err
	}
	streamHandle := toI32(res)
	if streamHandle < 0 {
		return 0, a.errorIfNegative(streamHandle)
	}
	return streamHandle, nil
}

// StreamNext pulls the next token chunk from an open stream. io.EOF
// signals the kernel reported StreamEnded, which is not itself an error.
func (a *Adapter) StreamNext(streamHandle int32) (text string, done bool, err error) {
	res, callErr := a.call("streamNext", streamHandle)
	if callErr != nil {
		return "", false, callErr
	}
	ptr := toI32(res)
	if ptr < 0 {
		kernelErr := a.errorIfNegative(ptr)
		if kernelErr == io.EOF {
			return "", true, io.EOF
		}
		return "", false, kernelErr
	}
	text = readCString(a.memory, ptr)
	_, _ = a.call("freeString", ptr)
	return text, false, nil
}

// StreamCancel requests early termination of an open stream.
func (a *Adapter) StreamCancel(streamHandle int32) error {
	_, err := a.call("streamCancel", streamHandle)
	return err
}

// StreamFree releases a stream handle's kernel-side resources.
func (a *Adapter) StreamFree(streamHandle int32) error {
	_, err := a.call("streamFree", streamHandle)
	return err
}

// GetMemoryStats reports the kernel's current memory usage for handle.
func (a *Adapter) GetMemoryStats(handle int32) (MemoryStats, error) {
	res, err := a.call("getMemoryStats", handle)
	if err != nil {
		return MemoryStats{}, err
	}
	ptr := toI32(res)
	if ptr < 0 {
		return MemoryStats{}, a.errorIfNegative(ptr)
	}
	raw := readBytes(a.memory, ptr, 24)
	if len(raw) < 24 {
		return MemoryStats{}, fmt.Errorf("truncated memory stats from kernel")
	}
	return MemoryStats{
		UsedBytes:  leUint64(raw[0:8]),
		LimitBytes: leUint64(raw[8:16]),
		PeakBytes:  leUint64(raw[16:24]),
	}, nil
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// SetMemoryLimit sets a new soft memory ceiling for handle.
func (a *Adapter) SetMemoryLimit(handle int32, limitBytes uint64) error {
	code, err := a.call("setMemoryLimit", handle, int64(limitBytes))
	if err != nil {
		return err
	}
	return a.errorIfNegative(toI32(code))
}

// ResetContext clears the kernel's conversational context for handle.
func (a *Adapter) ResetContext(handle int32) error {
	code, err := a.call("resetContext", handle)
	if err != nil {
		return err
	}
	return a.errorIfNegative(toI32(code))
}
