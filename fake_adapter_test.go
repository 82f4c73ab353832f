package browsercore

import (
	"sync"

	"github.com/inferedge/browsercore/internal/abi"
)

// fakeKernelAdapter is a scriptable double for the unexported kernelAdapter
// interface internal/worker's constructors accept. It satisfies that
// interface by method set alone, the same way internal/worker's own tests
// substitute a fake kernel without touching a real WASM instance.
type fakeKernelAdapter struct {
	mu sync.Mutex

	handle int32

	initErr error

	generateText string
	generateErr  error

	streamErr   error
	streamItems chan streamChunk

	memStats abi.MemoryStats
	memErr   error

	resetErr error
	freeErr  error
}

type streamChunk struct {
	text string
	done bool
	err  error
}

func newFakeKernelAdapter() *fakeKernelAdapter {
	return &fakeKernelAdapter{streamItems: make(chan streamChunk, 16)}
}

func (f *fakeKernelAdapter) push(c streamChunk) { f.streamItems <- c }

func (f *fakeKernelAdapter) Init(modelBytes []byte, configJSON string) (int32, error) {
	if f.initErr != nil {
		return 0, f.initErr
	}
	return f.handle, nil
}

func (f *fakeKernelAdapter) Free(handle int32) error { return f.freeErr }

func (f *fakeKernelAdapter) Generate(handle int32, prompt, paramsJSON string) (string, error) {
	if f.generateErr != nil {
		return "", f.generateErr
	}
	return f.generateText, nil
}

func (f *fakeKernelAdapter) GenerateStream(handle int32, prompt, paramsJSON string) (int32, error) {
	if f.streamErr != nil {
		return 0, f.streamErr
	}
	return 1, nil
}

func (f *fakeKernelAdapter) StreamNext(streamHandle int32) (string, bool, error) {
	item := <-f.streamItems
	return item.text, item.done, item.err
}

func (f *fakeKernelAdapter) StreamCancel(streamHandle int32) error { return nil }

func (f *fakeKernelAdapter) StreamFree(streamHandle int32) error { return nil }

func (f *fakeKernelAdapter) GetMemoryStats(handle int32) (abi.MemoryStats, error) {
	return f.memStats, f.memErr
}

func (f *fakeKernelAdapter) SetMemoryLimit(handle int32, limitBytes uint64) error { return nil }

func (f *fakeKernelAdapter) ResetContext(handle int32) error { return f.resetErr }
