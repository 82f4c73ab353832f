package protocol

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/inferedge/browsercore/internal/errs"
	"github.com/inferedge/browsercore/internal/log"
)

// RequestTimeout bounds how long a request waits for a terminal response.
const RequestTimeout = 300 * time.Second

// PendingRequest tracks one in-flight request awaiting a terminal or
// streaming response.
type PendingRequest struct {
	ID      string
	resolve func(Frame)
	reject  func(error)
	onChunk func(StreamChunk)
	timer   *time.Timer
}

// RequestHandler answers one request frame arriving on a worker-side
// Channel. For a streaming request it calls emit for every chunk including
// the terminal one and returns ("", nil); otherwise it returns the terminal
// response type (Success or Error) and its payload.
type RequestHandler func(ctx context.Context, f Frame, emit func(StreamChunk)) (Type, any)

// Channel is a bidirectional, correlated message channel between the host
// and a worker. Both ends are real gorilla/websocket connections over an
// in-process net.Pipe loopback, so every frame genuinely serializes to
// JSON bytes and crosses an I/O boundary even though host and worker live
// in the same process: no state is shared except via copied messages.
type Channel struct {
	conn    *websocket.Conn
	pending sync.Map // string -> *PendingRequest
	logger  *log.Logger

	writeMu sync.Mutex

	handlersMu     sync.Mutex
	unsolicited    []func(Frame)
	requestHandler RequestHandler

	activeMu sync.Mutex
	active   map[string]context.CancelFunc

	closeOnce sync.Once
	closed    chan struct{}
}

// NewHostPair establishes a Channel pair: the host side dials, the worker
// side accepts a websocket upgrade, both over one net.Pipe connection.
// The returned host Channel is ready to use; workerHandler is invoked
// synchronously with the worker-side Channel, before that side's read loop
// starts, so it can register OnRequest/OnUnsolicited without racing the
// first frame the host sends.
func NewHostPair(ctx context.Context, workerHandler func(*Channel)) (*Channel, error) {
	client, listener := dialPipe()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	upgraded := make(chan *websocket.Conn, 1)
	go serveUpgrade(ctx, listener, "/worker", func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		upgraded <- c
	})

	u := url.URL{Scheme: "ws", Host: "pipe", Path: "/worker"}
	hostConn, _, err := websocket.NewClient(client, &u, nil, 4096, 4096)
	if err != nil {
		return nil, errs.Wrap(errs.TimedOut, "worker channel handshake failed", err)
	}

	select {
	case workerConn := <-upgraded:
		wc := newChannel(workerConn, "worker", false)
		if workerHandler != nil {
			workerHandler(wc)
		}
		go wc.readLoop()
	case <-time.After(5 * time.Second):
		return nil, errs.New(errs.TimedOut, "worker channel handshake timed out")
	}

	return newChannel(hostConn, "host", true), nil
}

func newChannel(conn *websocket.Conn, side string, startReadLoop bool) *Channel {
	c := &Channel{
		conn:   conn,
		logger: log.Named("protocol").With(log.String("side", side)),
		closed: make(chan struct{}),
		active: make(map[string]context.CancelFunc),
	}
	if startReadLoop {
		go c.readLoop()
	}
	return c
}

// OnUnsolicited registers a handler for frames that do not correlate to a
// pending request: MemoryPressure, Progress, PolicyUpdate.
func (c *Channel) OnUnsolicited(h func(Frame)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.unsolicited = append(c.unsolicited, h)
}

// OnRequest registers the handler a worker-side Channel runs its own
// goroutine reading requests off the connection into, answering each one
// without the worker ever being invoked in-process by the host.
func (c *Channel) OnRequest(h RequestHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.requestHandler = h
}

// Send writes a frame to the peer. It is safe for concurrent callers.
func (c *Channel) Send(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(f)
}

// Request sends a request frame and registers a pending entry. resolve is
// called with the terminal response frame (Success/Error);
// onChunk, if non-nil, is called for every StreamChunk frame that arrives
// before the terminal one (chunk with done=true still triggers resolve).
func (c *Channel) Request(frameType Type, payload any, onChunk func(StreamChunk)) (Frame, error) {
	return c.RequestWithID(uuid.NewString(), frameType, payload, onChunk)
}

// RequestWithID behaves like Request but uses the caller-supplied id
// instead of generating one, so the caller can concurrently Cancel the
// request by id while it is still in flight.
func (c *Channel) RequestWithID(id string, frameType Type, payload any, onChunk func(StreamChunk)) (Frame, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, errs.Wrap(errs.InvalidConfig, "encode request payload", err)
	}

	result := make(chan Frame, 1)
	errCh := make(chan error, 1)

	pr := &PendingRequest{
		ID:      id,
		resolve: func(f Frame) { result <- f },
		reject:  func(e error) { errCh <- e },
		onChunk: onChunk,
	}
	pr.timer = time.AfterFunc(RequestTimeout, func() {
		if _, ok := c.pending.LoadAndDelete(id); ok {
			c.sendFireAndForget(Frame{Type: TypeFree, ID: id})
			pr.reject(errs.New(errs.TimedOut, "request timed out"))
		}
	})
	c.pending.Store(id, pr)

	if err := c.Send(Frame{Type: frameType, ID: id, Payload: body}); err != nil {
		c.pending.Delete(id)
		pr.timer.Stop()
		return Frame{}, errs.Wrap(errs.NetworkTransient, "send request", err)
	}

	select {
	case f := <-result:
		return f, nil
	case err := <-errCh:
		return Frame{}, err
	}
}

// Cancel sends a Cancel request for targetID and does not wait for the
// CancelAck; the caller's original Request call will observe the
// cancelled terminal chunk.
func (c *Channel) Cancel(targetID string) error {
	return c.sendFireAndForget(Frame{Type: TypeCancel, ID: targetID})
}

func (c *Channel) sendFireAndForget(f Frame) error {
	return c.Send(f)
}

func (c *Channel) readLoop() {
	defer close(c.closed)
	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.failAllPending(errs.Wrap(errs.NetworkTransient, "channel read failed", err))
			return
		}
		c.dispatch(f)
	}
}

func (c *Channel) dispatch(f Frame) {
	if val, ok := c.pending.Load(f.ID); ok {
		pr := val.(*PendingRequest)
		switch f.Type {
		case TypeStreamChunk:
			var chunk StreamChunk
			if err := json.Unmarshal(f.Payload, &chunk); err != nil {
				c.logger.Warn("malformed stream chunk", log.Err(err))
				return
			}
			if pr.onChunk != nil {
				pr.onChunk(chunk)
			}
			if !chunk.Done {
				return
			}
			c.pending.Delete(f.ID)
			pr.timer.Stop()
			pr.resolve(f)
		case TypeSuccess, TypeError:
			c.pending.Delete(f.ID)
			pr.timer.Stop()
			pr.resolve(f)
		case TypeCancelAck:
			// The ack shares the cancelled request's id; that request stays
			// pending until its own terminal frame arrives.
		default:
			c.logger.Warn("unknown frame type for pending request", log.String("type", string(f.Type)))
		}
		return
	}

	switch f.Type {
	case TypeCancel:
		c.dispatchCancel(f)
	case TypeMemoryPressure, TypeProgress, TypePolicyUpdate:
		c.dispatchUnsolicited(f)
	case TypeInit, TypeGenerate, TypeGenerateStream, TypeGetMemoryStats, TypeGetModelInfo,
		TypeUnloadModel, TypeResetContext, TypeDescribeFrame, TypeEmbed, TypeFree:
		c.dispatchRequest(f)
	default:
		c.logger.Warn("unknown or stale frame, dropped", log.String("type", string(f.Type)), log.String("id", f.ID))
	}
}

func (c *Channel) dispatchUnsolicited(f Frame) {
	c.handlersMu.Lock()
	handlers := append([]func(Frame){}, c.unsolicited...)
	c.handlersMu.Unlock()
	for _, h := range handlers {
		h(f)
	}
}

// dispatchCancel cancels the context passed to an in-flight request's
// RequestHandler, if any is still running for targetID, and always
// acknowledges: an unmatched cancel (the request already finished, or was
// never ours) is not an error.
func (c *Channel) dispatchCancel(f Frame) {
	c.activeMu.Lock()
	cancel, ok := c.active[f.ID]
	c.activeMu.Unlock()
	if ok {
		cancel()
	}
	_ = c.Send(Frame{Type: TypeCancelAck, ID: f.ID})
}

// dispatchRequest runs the registered RequestHandler for f on its own
// goroutine: this is the worker's own goroutine reading requests off its
// Channel and answering them, never the host invoking the worker in-process.
func (c *Channel) dispatchRequest(f Frame) {
	c.handlersMu.Lock()
	handler := c.requestHandler
	c.handlersMu.Unlock()
	if handler == nil {
		c.logger.Warn("no request handler registered for frame", log.String("type", string(f.Type)))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.activeMu.Lock()
	c.active[f.ID] = cancel
	c.activeMu.Unlock()

	go func() {
		defer func() {
			c.activeMu.Lock()
			delete(c.active, f.ID)
			c.activeMu.Unlock()
			cancel()
		}()

		respType, payload := handler(ctx, f, func(chunk StreamChunk) {
			body, _ := json.Marshal(chunk)
			_ = c.Send(Frame{Type: TypeStreamChunk, ID: f.ID, Payload: body})
		})
		if respType == "" {
			return
		}
		body, _ := json.Marshal(payload)
		_ = c.Send(Frame{Type: respType, ID: f.ID, Payload: body})
	}()
}

func (c *Channel) failAllPending(err error) {
	c.pending.Range(func(key, value any) bool {
		pr := value.(*PendingRequest)
		pr.timer.Stop()
		pr.reject(err)
		c.pending.Delete(key)
		return true
	})
}

// Close fails every still-pending request with Disposed and shuts down the
// underlying connection.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.failAllPending(errs.New(errs.Disposed, "channel closed"))
		err = c.conn.Close()
	})
	return err
}

// Done is closed once the read loop exits (peer closed or errored).
func (c *Channel) Done() <-chan struct{} { return c.closed }
