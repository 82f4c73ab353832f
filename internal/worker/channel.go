package worker

import (
	"context"
	"encoding/json"

	"github.com/inferedge/browsercore/internal/framequeue"
	"github.com/inferedge/browsercore/internal/log"
	"github.com/inferedge/browsercore/internal/protocol"
)

// initRequest is the wire shape of an Init request frame.
type initRequest struct {
	ModelBytes []byte
	ConfigJSON string
}

// generateRequest is the wire shape of a Generate/GenerateStream request
// frame.
type generateRequest struct {
	Prompt string
	Params GenerateParams
}

// describeFrameRequest is the wire shape of a DescribeFrame request frame.
type describeFrameRequest struct {
	Frame  *framequeue.Frame
	Prompt string
}

// ServeText returns the worker-side handler a protocol.Channel runs its own
// goroutine reading requests off the connection into, so an Engine never
// invokes w in-process: every call crosses the channel as a copied message.
// w's own public methods and cancellation mechanism are untouched; this is
// an adapter, not a rewrite.
func ServeText(w *TextWorker) func(*protocol.Channel) {
	return func(wc *protocol.Channel) {
		wc.OnRequest(func(ctx context.Context, f protocol.Frame, emit func(protocol.StreamChunk)) (protocol.Type, any) {
			switch f.Type {
			case protocol.TypeInit:
				var req initRequest
				if err := json.Unmarshal(f.Payload, &req); err != nil {
					return protocol.TypeError, protocol.NewErrorPayload(err)
				}
				if err := w.Init(req.ModelBytes, req.ConfigJSON); err != nil {
					return protocol.TypeError, protocol.NewErrorPayload(err)
				}
				return protocol.TypeSuccess, nil

			case protocol.TypeGenerate:
				var req generateRequest
				if err := json.Unmarshal(f.Payload, &req); err != nil {
					return protocol.TypeError, protocol.NewErrorPayload(err)
				}
				result, err := w.Generate(req.Prompt, req.Params)
				if err != nil {
					return protocol.TypeError, protocol.NewErrorPayload(err)
				}
				return protocol.TypeSuccess, result

			case protocol.TypeGenerateStream:
				var req generateRequest
				if err := json.Unmarshal(f.Payload, &req); err != nil {
					return protocol.TypeError, protocol.NewErrorPayload(err)
				}
				cancelled := make(chan struct{})
				defer close(cancelled)
				go func() {
					select {
					case <-ctx.Done():
						w.Cancel()
					case <-cancelled:
					}
				}()
				if err := w.GenerateStream(req.Prompt, req.Params, emit); err != nil {
					emit(protocol.StreamChunk{Done: true, StopReason: protocol.StopError})
					log.Named("worker.text").Warn("generateStream failed", log.Err(err))
				}
				return "", nil

			case protocol.TypeResetContext:
				if err := w.ResetContext(); err != nil {
					return protocol.TypeError, protocol.NewErrorPayload(err)
				}
				return protocol.TypeSuccess, nil

			case protocol.TypeUnloadModel:
				if err := w.UnloadModel(); err != nil {
					return protocol.TypeError, protocol.NewErrorPayload(err)
				}
				return protocol.TypeSuccess, nil

			case protocol.TypeFree:
				if err := w.Free(); err != nil {
					return protocol.TypeError, protocol.NewErrorPayload(err)
				}
				return protocol.TypeSuccess, nil

			case protocol.TypeGetMemoryStats:
				stats, err := w.GetMemoryStats()
				if err != nil {
					return protocol.TypeError, protocol.NewErrorPayload(err)
				}
				return protocol.TypeSuccess, stats

			default:
				return protocol.TypeError, protocol.ErrorPayload{Code: "Unknown", Message: "unhandled frame type"}
			}
		})
	}
}

// ServeVision returns the worker-side handler for a multimodal kernel
// handle, mirroring ServeText's adapter shape for VisionWorker's API.
func ServeVision(w *VisionWorker) func(*protocol.Channel) {
	return func(wc *protocol.Channel) {
		wc.OnRequest(func(ctx context.Context, f protocol.Frame, emit func(protocol.StreamChunk)) (protocol.Type, any) {
			switch f.Type {
			case protocol.TypeInit:
				var req initRequest
				if err := json.Unmarshal(f.Payload, &req); err != nil {
					return protocol.TypeError, protocol.NewErrorPayload(err)
				}
				if err := w.Init(req.ModelBytes, req.ConfigJSON); err != nil {
					return protocol.TypeError, protocol.NewErrorPayload(err)
				}
				return protocol.TypeSuccess, nil

			case protocol.TypeDescribeFrame:
				var req describeFrameRequest
				if err := json.Unmarshal(f.Payload, &req); err != nil {
					return protocol.TypeError, protocol.NewErrorPayload(err)
				}
				desc, err := w.DescribeFrame(req.Frame, req.Prompt)
				if err != nil {
					return protocol.TypeError, protocol.NewErrorPayload(err)
				}
				return protocol.TypeSuccess, desc

			case protocol.TypeResetContext:
				if err := w.ResetContext(); err != nil {
					return protocol.TypeError, protocol.NewErrorPayload(err)
				}
				return protocol.TypeSuccess, nil

			case protocol.TypeUnloadModel:
				if err := w.UnloadModel(); err != nil {
					return protocol.TypeError, protocol.NewErrorPayload(err)
				}
				return protocol.TypeSuccess, nil

			case protocol.TypeFree:
				if err := w.Free(); err != nil {
					return protocol.TypeError, protocol.NewErrorPayload(err)
				}
				return protocol.TypeSuccess, nil

			case protocol.TypeGetMemoryStats:
				stats, err := w.GetMemoryStats()
				if err != nil {
					return protocol.TypeError, protocol.NewErrorPayload(err)
				}
				return protocol.TypeSuccess, stats

			default:
				return protocol.TypeError, protocol.ErrorPayload{Code: "Unknown", Message: "unhandled frame type"}
			}
		})
	}
}
