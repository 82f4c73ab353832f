package framequeue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	q := New()
	f := &Frame{RGB: []byte{1, 2, 3}, Width: 1, Height: 1}
	q.Enqueue(f)
	assert.True(t, q.Pending())

	got, ok := q.Dequeue()
	require.True(t, ok)
	assert.Same(t, f, got)
	assert.False(t, q.Pending())
	assert.True(t, q.Processing())
}

func TestDequeueEmpty(t *testing.T) {
	q := New()
	got, ok := q.Dequeue()
	assert.False(t, ok)
	assert.Nil(t, got)
}

// TestDropNewestRegardlessOfProcessing asserts the chosen drop policy: a
// second enqueue while one is already pending is always a drop, whether
// or not the queue is currently processing.
func TestDropNewestRegardlessOfProcessing(t *testing.T) {
	q := New()

	q.Enqueue(&Frame{Width: 1})
	q.Enqueue(&Frame{Width: 2}) // replaces frame 1, counted as a drop: pending non-empty, not processing
	assert.Equal(t, 1, q.DroppedCount())

	f, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, 2, f.Width)

	q.Enqueue(&Frame{Width: 3})
	q.Enqueue(&Frame{Width: 4}) // replaces frame 3, counted as a drop: pending non-empty, processing=true
	assert.Equal(t, 2, q.DroppedCount())

	f, ok = q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, 4, f.Width)
}

func TestMarkDoneAndReset(t *testing.T) {
	q := New()
	q.Enqueue(&Frame{})
	q.Dequeue()
	assert.True(t, q.Processing())
	q.MarkDone()
	assert.False(t, q.Processing())

	q.Enqueue(&Frame{})
	q.Dequeue()
	q.Reset()
	assert.False(t, q.Processing())
	assert.False(t, q.Pending())
}

func TestResetCountersPreservesState(t *testing.T) {
	q := New()
	q.Enqueue(&Frame{})
	q.Enqueue(&Frame{})
	assert.Equal(t, 1, q.DroppedCount())
	q.ResetCounters()
	assert.Equal(t, 0, q.DroppedCount())
	assert.True(t, q.Pending())
}

// TestBackpressureSafety checks that for any sequence of enqueues, the
// pending slot size never exceeds 1, and droppedCount exactly equals the
// number of enqueues onto a non-empty slot.
func TestBackpressureSafety(t *testing.T) {
	q := New()
	enqueues := 100
	expectedDrops := 0
	for i := 0; i < enqueues; i++ {
		wasPending := q.Pending()
		q.Enqueue(&Frame{Width: i})
		if wasPending {
			expectedDrops++
		}
		assert.True(t, q.Pending())
		if i%7 == 0 {
			q.Dequeue()
			q.MarkDone()
		}
	}
	assert.Equal(t, expectedDrops, q.DroppedCount())
}
