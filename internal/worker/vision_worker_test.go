package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferedge/browsercore/internal/framequeue"
)

func readyVisionWorker(t *testing.T, fa *fakeAdapter) *VisionWorker {
	t.Helper()
	w := NewVisionWorker(fa)
	require.NoError(t, w.Init([]byte("model"), "{}"))
	require.Equal(t, StateReady, w.State())
	return w
}

func TestDescribeFrameReturnsKernelText(t *testing.T) {
	fa := newFakeAdapter()
	fa.generateText = "a cat on a windowsill"
	w := readyVisionWorker(t, fa)

	desc, err := w.DescribeFrame(&framequeue.Frame{RGB: []byte{1, 2, 3}}, "describe")
	require.NoError(t, err)
	assert.Equal(t, "a cat on a windowsill", desc.Text)
	assert.Equal(t, StateReady, w.State())
}

func TestProcessNextFrameEmptyQueueReturnsFalse(t *testing.T) {
	fa := newFakeAdapter()
	w := readyVisionWorker(t, fa)

	desc, ok, err := w.ProcessNextFrame("describe")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, desc)
}

func TestProcessNextFrameDescribesEnqueuedFrame(t *testing.T) {
	fa := newFakeAdapter()
	fa.generateText = "a dog"
	w := readyVisionWorker(t, fa)

	w.Enqueue(&framequeue.Frame{RGB: []byte{9, 9, 9}})
	desc, ok, err := w.ProcessNextFrame("describe")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a dog", desc.Text)
}

func TestEnqueueDropsOldFrameWhenConsumerLags(t *testing.T) {
	fa := newFakeAdapter()
	w := readyVisionWorker(t, fa)

	w.Enqueue(&framequeue.Frame{RGB: []byte{1}})
	w.Enqueue(&framequeue.Frame{RGB: []byte{2}})
	w.Enqueue(&framequeue.Frame{RGB: []byte{3}})

	assert.Equal(t, 2, w.DroppedFrames())
}

func TestResetContextClearsQueueAndKernel(t *testing.T) {
	fa := newFakeAdapter()
	w := readyVisionWorker(t, fa)

	w.Enqueue(&framequeue.Frame{RGB: []byte{1}})
	require.NoError(t, w.ResetContext())

	_, ok, _ := w.ProcessNextFrame("describe")
	assert.False(t, ok)
}
