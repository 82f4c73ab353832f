package protocol

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoWorker answers every Generate request with a single Success frame
// carrying the same payload, and streams back three chunks for
// GenerateStream before a done chunk. It registers its handlers
// synchronously, before the worker-side Channel's own read loop starts, via
// OnRequest rather than reading the connection itself.
func echoWorker(worker *Channel) {
	worker.OnUnsolicited(func(Frame) {})
	worker.OnRequest(func(ctx context.Context, f Frame, emit func(StreamChunk)) (Type, any) {
		switch f.Type {
		case TypeGenerate:
			var payload map[string]string
			_ = json.Unmarshal(f.Payload, &payload)
			return TypeSuccess, payload
		case TypeGenerateStream:
			for i := 0; i < 3; i++ {
				chunk := StreamChunk{Token: "x", TokensGenerated: i + 1, TokenIndex: i, Done: i == 2}
				if i == 2 {
					chunk.StopReason = StopMaxTokens
				}
				emit(chunk)
			}
			return "", nil
		default:
			return TypeError, ErrorPayload{Code: "Unknown", Message: "unhandled frame type"}
		}
	})
}

func TestRequestResponseRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host, err := NewHostPair(ctx, echoWorker)
	require.NoError(t, err)
	defer host.Close()

	resp, err := host.Request(TypeGenerate, map[string]string{"prompt": "hi"}, nil)
	require.NoError(t, err)
	assert.Equal(t, TypeSuccess, resp.Type)
}

func TestStreamChunksDeliveredInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host, err := NewHostPair(ctx, echoWorker)
	require.NoError(t, err)
	defer host.Close()

	var received []StreamChunk
	resp, err := host.Request(TypeGenerateStream, map[string]string{"prompt": "hi"}, func(c StreamChunk) {
		received = append(received, c)
	})
	require.NoError(t, err)
	assert.Equal(t, TypeStreamChunk, resp.Type)
	require.Len(t, received, 3)
	for i, c := range received {
		assert.Equal(t, i, c.TokenIndex)
	}
	assert.True(t, received[2].Done)
	assert.Equal(t, StopMaxTokens, received[2].StopReason)
}

func TestCancelSendsFireAndForget(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host, err := NewHostPair(ctx, echoWorker)
	require.NoError(t, err)
	defer host.Close()

	err = host.Cancel("some-request-id")
	assert.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
}
