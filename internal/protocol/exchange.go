package protocol

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"mcpvet/internal/process"
	"mcpvet/pkg/logging"
)

// DefaultCallTimeout bounds a single request/response round trip when the
// caller does not supply a timeout.
const DefaultCallTimeout = 30 * time.Second

// Exchange frames request/response cycles over one process handle's stdio.
// A single process exposes one stdin/stdout pair, so every call through the
// same Exchange is serialized by a mutex: concurrent callers (load-test
// virtual users) never interleave bytes, and a response is never handed to a
// caller other than the one whose request produced it.
//
// Construct exactly one Exchange per handle.
type Exchange struct {
	handle *process.Handle

	// mu serializes the write+read of one full round trip.
	mu     sync.Mutex
	nextID atomic.Int64

	readCh    chan readEvent
	done      chan struct{}
	closeOnce sync.Once
}

type readEvent struct {
	resp *Response
	err  error
}

// NewExchange creates the exchange for a handle and starts its background
// reader. The reader is the only goroutine that touches the stdout pipe.
func NewExchange(h *process.Handle) *Exchange {
	e := &Exchange{
		handle: h,
		readCh: make(chan readEvent, 16),
		done:   make(chan struct{}),
	}
	go e.readLoop()
	return e
}

// Close releases the background reader. Buffered events stay readable but
// no new ones are produced. Close does not stop the process; the supervisor
// owns that. It is safe to call more than once.
func (e *Exchange) Close() {
	e.closeOnce.Do(func() { close(e.done) })
}

// readLoop reads newline-delimited messages from the process's stdout and
// pushes decoded responses into readCh. Lines that are not valid responses
// (server log noise, notifications without an id) are skipped. The loop ends
// when the pipe closes, which happens when the process exits, or when the
// exchange is closed; without the done check an abandoned exchange whose
// server keeps writing would block the reader on a full channel forever.
func (e *Exchange) readLoop() {
	reader := e.handle.Stdout()
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			var resp Response
			if jsonErr := json.Unmarshal(line, &resp); jsonErr == nil && len(resp.ID) > 0 {
				if !e.forward(readEvent{resp: &resp}) {
					return
				}
			} else {
				logging.Debug("exchange", "skipping non-response line from PID %d", e.handle.PID)
			}
		}
		if err != nil {
			e.forward(readEvent{err: &IOError{Op: "read", Err: err}})
			return
		}
	}
}

// forward delivers one event to readCh, giving up when the exchange is
// closed. The done check runs before the send so a closed exchange never
// keeps pumping events to a caller that happens to still be draining.
func (e *Exchange) forward(ev readEvent) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.readCh <- ev:
		return true
	case <-e.done:
		return false
	}
}

// NextID returns the next request id for this handle.
func (e *Exchange) NextID() int64 {
	return e.nextID.Add(1)
}

// Call performs one full round trip: assign an id, serialize, write with a
// trailing newline, block for the correlated response. Timeout and context
// cancellation fail the call but leave the handle usable; a late response is
// drained by a subsequent call's correlation loop.
func (e *Exchange) Call(ctx context.Context, method string, params any, timeout time.Duration) (*Response, error) {
	req := Request{
		JSONRPC: Version,
		ID:      e.NextID(),
		Method:  method,
		Params:  params,
	}
	return e.CallRequest(ctx, req, timeout)
}

// CallRequest performs the round trip for a caller-built request. The
// request id must be unique for the handle (use NextID).
func (e *Exchange) CallRequest(ctx context.Context, req Request, timeout time.Duration) (*Response, error) {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := json.Marshal(req)
	if err != nil {
		return nil, &ProtocolError{Method: req.Method, Reason: "unserializable request: " + err.Error()}
	}
	data = append(data, '\n')

	if _, err := e.handle.Stdin().Write(data); err != nil {
		return nil, &IOError{Op: "write", Err: err}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ev := <-e.readCh:
			if ev.err != nil {
				return nil, ev.err
			}
			if matchesID(ev.resp.ID, req.ID) {
				return ev.resp, nil
			}
			// Response to an earlier timed-out call: drop and keep waiting.
			logging.Debug("exchange", "dropping stale response id %s on PID %d", string(ev.resp.ID), e.handle.PID)
		case <-timer.C:
			return nil, &TimeoutError{Method: req.Method, Timeout: timeout}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Notify writes a JSON-RPC notification. No response is expected or read.
func (e *Exchange) Notify(method string, params any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := json.Marshal(Notification{JSONRPC: Version, Method: method, Params: params})
	if err != nil {
		return &ProtocolError{Method: method, Reason: "unserializable notification: " + err.Error()}
	}
	data = append(data, '\n')

	if _, err := e.handle.Stdin().Write(data); err != nil {
		return &IOError{Op: "write", Err: err}
	}
	return nil
}

// Handle returns the process handle this exchange is bound to.
func (e *Exchange) Handle() *process.Handle {
	return e.handle
}
