package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTimeout is the default deadline for RPC calls.
const DefaultTimeout = 30 * time.Second

// HandlerFunc handles an inbound request or notification from the
// agent. For requests the returned value (or error) is sent back as
// the response; for notifications both are discarded.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Conn is a bidirectional JSON-RPC 2.0 connection to the agent. One
// background goroutine reads frames; any number of goroutines may
// issue Call and Notify concurrently. Responses are matched to calls
// by id, not by arrival order.
type Conn struct {
	stream  io.ReadWriteCloser
	timeout time.Duration

	// writeMu serializes whole frames onto the stream so concurrent
	// senders cannot interleave partial writes.
	writeMu sync.Mutex

	nextID atomic.Int64

	mu       sync.Mutex
	pending  map[int64]chan *Message
	handlers map[string]HandlerFunc
	closed   bool
	closeErr error

	done      chan struct{}
	handlerWG sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewConn starts a connection over stream and begins reading frames.
// timeout is the default per-call deadline; zero means DefaultTimeout.
func NewConn(stream io.ReadWriteCloser, timeout time.Duration) *Conn {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		stream:   stream,
		timeout:  timeout,
		pending:  make(map[int64]chan *Message),
		handlers: make(map[string]HandlerFunc),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	go c.readLoop()
	return c
}

// Handle registers h for inbound requests and notifications with the
// given method name. Registering again replaces the previous handler.
func (c *Conn) Handle(method string, h HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[method] = h
}

// Call sends a request and blocks until the matching response arrives,
// the deadline passes, or ctx is cancelled. The connection's default
// timeout is used only when ctx carries no deadline of its own. A
// non-nil result receives the unmarshalled response payload. An error
// object from the agent is returned as *Error; an elapsed deadline as
// *TimeoutError, after which a late response for the same id is
// discarded.
func (c *Conn) Call(ctx context.Context, method string, params, result any) error {
	id := c.nextID.Add(1)
	ch := make(chan *Message, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	msg, err := newRequest(id, method, params)
	if err != nil {
		c.forget(id)
		return err
	}
	if err := c.write(msg); err != nil {
		c.forget(id)
		return err
	}

	// The default deadline applies only when the caller's context
	// carries none of its own; a caller-provided deadline wins either
	// way, longer or shorter.
	timeout := c.timeout
	var timeoutCh <-chan time.Time
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	} else {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case resp := <-ch:
		return decodeResult(resp, result)
	case <-timeoutCh:
		c.forget(id)
		return &TimeoutError{Method: method, Timeout: timeout}
	case <-ctx.Done():
		c.forget(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &TimeoutError{Method: method, Timeout: timeout}
		}
		return ctx.Err()
	case <-c.done:
		// The response may have been delivered just before the
		// connection died; prefer it over the failure.
		select {
		case resp := <-ch:
			return decodeResult(resp, result)
		default:
		}
		c.mu.Lock()
		err := c.closeErr
		c.mu.Unlock()
		return err
	}
}

func decodeResult(resp *Message, result any) error {
	if resp.Error != nil {
		return resp.Error
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}

// Notify sends a notification. There is no response to wait for; only
// local or transport failures surface.
func (c *Conn) Notify(ctx context.Context, method string, params any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	msg, err := newNotification(method, params)
	if err != nil {
		return err
	}
	return c.write(msg)
}

// Close shuts the connection down locally. Pending calls and later
// Call/Notify invocations fail with ErrClosed.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.closeErr = ErrClosed
	c.pending = nil
	c.mu.Unlock()

	c.cancel()
	close(c.done)
	return c.stream.Close()
}

// Done is closed when the connection stops being usable, whether by
// Close or by a transport failure.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err reports why the connection is unusable, or nil while it is up.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

func (c *Conn) forget(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

func (c *Conn) write(msg *Message) error {
	c.writeMu.Lock()
	err := writeFrame(c.stream, msg)
	c.writeMu.Unlock()
	if err != nil {
		c.fail(err)
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.closeErr
	}
	return nil
}

// fail tears the connection down after a read, write or framing
// failure. Every pending call observes the failure through done.
func (c *Conn) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = &ConnLostError{Err: err}
	c.pending = nil
	c.mu.Unlock()

	c.cancel()
	close(c.done)
	_ = c.stream.Close()
}

func (c *Conn) readLoop() {
	dec := NewDecoder(c.stream)
	for {
		msg, err := dec.Next()
		if err != nil {
			c.fail(err)
			return
		}
		switch msg.Kind() {
		case KindResponse:
			c.deliver(msg)
		default:
			c.dispatch(msg)
		}
	}
}

// deliver routes a response to the pending call with the matching id.
// Unmatched ids (late responses after a timeout, duplicates) are
// logged and dropped.
func (c *Conn) deliver(msg *Message) {
	id, ok := msg.responseID()
	if ok {
		c.mu.Lock()
		ch, found := c.pending[id]
		if found {
			delete(c.pending, id)
		}
		c.mu.Unlock()
		if found {
			ch <- msg
			return
		}
	}
	log.Printf("rpc: dropping response for unknown request id %s", msg.ID)
}

// dispatch runs the registered handler for an inbound request or
// notification. Handlers run on their own goroutine so a slow handler
// never stalls delivery of other messages.
func (c *Conn) dispatch(msg *Message) {
	c.mu.Lock()
	h := c.handlers[msg.Method]
	c.mu.Unlock()

	if h == nil {
		if msg.Kind() == KindRequest {
			c.respond(msg.ID, nil, &Error{
				Code:    CodeMethodNotFound,
				Message: fmt.Sprintf("method not found: %s", msg.Method),
			})
		}
		return
	}

	c.handlerWG.Add(1)
	go func() {
		defer c.handlerWG.Done()
		result, err := h(c.ctx, msg.Params)
		if msg.Kind() != KindRequest {
			return
		}
		if err != nil {
			var rpcErr *Error
			if !errors.As(err, &rpcErr) {
				rpcErr = &Error{Code: CodeInternalError, Message: err.Error()}
			}
			c.respond(msg.ID, nil, rpcErr)
			return
		}
		c.respond(msg.ID, result, nil)
	}()
}

func (c *Conn) respond(id json.RawMessage, result any, rpcErr *Error) {
	msg, err := newResponse(id, result, rpcErr)
	if err != nil {
		msg, _ = newResponse(id, nil, &Error{Code: CodeInternalError, Message: err.Error()})
	}
	if err := c.write(msg); err != nil {
		log.Printf("rpc: failed to send response for id %s: %v", id, err)
	}
}
