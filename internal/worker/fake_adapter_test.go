package worker

import (
	"sync"

	"github.com/inferedge/browsercore/internal/abi"
)

// streamItem is one unit fed to a fakeAdapter's stream channel.
type streamItem struct {
	text string
	done bool
	err  error
}

// fakeAdapter is a scriptable kernelAdapter double. It never touches a
// real WASM instance, letting worker control flow be exercised directly.
// Stream chunks are delivered through a channel so a test can pace them
// and observe cancellation landing mid-stream.
type fakeAdapter struct {
	mu sync.Mutex

	initErr error
	handle  int32
	freeErr error

	generateText string
	generateErr  error

	streamErr       error
	streamItems     chan streamItem
	streamCancelled bool

	memStats abi.MemoryStats
	memErr   error

	resetErr error
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{streamItems: make(chan streamItem, 16)}
}

// push queues a chunk for StreamNext to return.
func (f *fakeAdapter) push(item streamItem) {
	f.streamItems <- item
}

func (f *fakeAdapter) Init(modelBytes []byte, configJSON string) (int32, error) {
	if f.initErr != nil {
		return 0, f.initErr
	}
	return f.handle, nil
}

func (f *fakeAdapter) Free(handle int32) error { return f.freeErr }

func (f *fakeAdapter) Generate(handle int32, prompt, paramsJSON string) (string, error) {
	if f.generateErr != nil {
		return "", f.generateErr
	}
	return f.generateText, nil
}

func (f *fakeAdapter) GenerateStream(handle int32, prompt, paramsJSON string) (int32, error) {
	if f.streamErr != nil {
		return 0, f.streamErr
	}
	return 1, nil
}

func (f *fakeAdapter) StreamNext(streamHandle int32) (string, bool, error) {
	item := <-f.streamItems
	return item.text, item.done, item.err
}

func (f *fakeAdapter) StreamCancel(streamHandle int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamCancelled = true
	return nil
}

func (f *fakeAdapter) StreamFree(streamHandle int32) error { return nil }

func (f *fakeAdapter) GetMemoryStats(handle int32) (abi.MemoryStats, error) {
	return f.memStats, f.memErr
}

func (f *fakeAdapter) SetMemoryLimit(handle int32, limitBytes uint64) error { return nil }

func (f *fakeAdapter) ResetContext(handle int32) error { return f.resetErr }
