package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"mcpvet/internal/process"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startEcho spawns cat, which echoes each request line back verbatim. An
// echoed request parses as a response with a matching id, which is exactly
// what correlation needs.
func startEcho(t *testing.T) (*process.Supervisor, *Exchange) {
	t.Helper()
	s := process.NewSupervisor()
	h, err := s.Start(context.Background(), t.TempDir(), "cat", nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Stop(context.Background(), h, time.Second)
	})
	return s, NewExchange(h)
}

func TestCallRoundTrip(t *testing.T) {
	_, e := startEcho(t)

	resp, err := e.Call(context.Background(), "ping", nil, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, Version, resp.JSONRPC)
	assert.True(t, matchesID(resp.ID, 1))
}

func TestCallAssignsIncreasingIDs(t *testing.T) {
	_, e := startEcho(t)

	for i := int64(1); i <= 3; i++ {
		resp, err := e.Call(context.Background(), "ping", nil, 5*time.Second)
		require.NoError(t, err)
		assert.True(t, matchesID(resp.ID, i), "call %d should correlate to id %d", i, i)
	}
}

func TestCallTimeoutLeavesHandleUsable(t *testing.T) {
	s := process.NewSupervisor()
	// First request is answered after a delay; later requests are echoed
	// immediately. The first call times out, and its late response must be
	// drained by the second call rather than misattributed.
	script := `read line; (sleep 1; echo "$line") & while read line; do echo "$line"; done; wait`
	h, err := s.Start(context.Background(), t.TempDir(), "sh", []string{"-c", script}, nil)
	require.NoError(t, err)
	defer s.Stop(context.Background(), h, time.Second)

	e := NewExchange(h)

	_, err = e.Call(context.Background(), "slow", nil, 100*time.Millisecond)
	require.Error(t, err)
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "slow", timeoutErr.Method)

	// Second call must succeed and must not receive the stale id-1 response.
	resp, err := e.Call(context.Background(), "fast", nil, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, matchesID(resp.ID, 2))
}

func TestConcurrentCallersNeverInterleave(t *testing.T) {
	_, e := startEcho(t)

	// Hammer the single exchange from many goroutines. With the per-handle
	// lock every caller must get back exactly its own id.
	const callers = 8
	const callsPerCaller = 10

	var wg sync.WaitGroup
	errs := make(chan error, callers*callsPerCaller)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerCaller; j++ {
				id := e.NextID()
				resp, err := e.CallRequest(context.Background(), Request{
					JSONRPC: Version,
					ID:      id,
					Method:  "ping",
				}, 10*time.Second)
				if err != nil {
					errs <- err
					continue
				}
				if !matchesID(resp.ID, id) {
					errs <- fmt.Errorf("got response id %s for request id %d", resp.ID, id)
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestCloseStopsReaderOnAbandonedExchange(t *testing.T) {
	s := process.NewSupervisor()
	// Flood stdout with responses nobody requested, far more than the event
	// buffer holds, then stay alive.
	script := `i=0; while [ $i -lt 100 ]; do i=$((i+1)); echo "{\"jsonrpc\":\"2.0\",\"id\":$i,\"result\":{}}"; done; sleep 5`
	h, err := s.Start(context.Background(), t.TempDir(), "sh", []string{"-c", script}, nil)
	require.NoError(t, err)
	defer s.Stop(context.Background(), h, time.Second)

	e := NewExchange(h)
	time.Sleep(300 * time.Millisecond)
	e.Close()
	e.Close() // must be safe to call twice

	// After Close the reader stops at the buffer bound instead of pumping
	// the whole flood through to a draining receiver.
	drained := 0
drain:
	for {
		select {
		case <-e.readCh:
			drained++
		case <-time.After(200 * time.Millisecond):
			break drain
		}
	}
	assert.LessOrEqual(t, drained, cap(e.readCh)+1)
	assert.Less(t, drained, 100)
}

func TestCallOnDeadProcessReturnsIOError(t *testing.T) {
	s := process.NewSupervisor()
	h, err := s.Start(context.Background(), t.TempDir(), "cat", nil, nil)
	require.NoError(t, err)
	e := NewExchange(h)

	require.NoError(t, s.Stop(context.Background(), h, time.Second))

	_, err = e.Call(context.Background(), "ping", nil, 2*time.Second)
	require.Error(t, err)
}

func TestReadLoopSkipsLogNoise(t *testing.T) {
	s := process.NewSupervisor()
	// Emits a plain log line before echoing; the reader must skip it.
	script := `echo "server starting up"; while read line; do echo "$line"; done`
	h, err := s.Start(context.Background(), t.TempDir(), "sh", []string{"-c", script}, nil)
	require.NoError(t, err)
	defer s.Stop(context.Background(), h, time.Second)

	e := NewExchange(h)
	resp, err := e.Call(context.Background(), "ping", nil, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, matchesID(resp.ID, 1))
}

func TestNotifyWritesWithoutReading(t *testing.T) {
	_, e := startEcho(t)

	require.NoError(t, e.Notify(MethodInitialized, nil))

	// The echoed notification has no id, so the next call still correlates.
	resp, err := e.Call(context.Background(), "ping", nil, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, matchesID(resp.ID, 1))
}

func TestMatchesID(t *testing.T) {
	assert.True(t, matchesID(json.RawMessage(`7`), 7))
	assert.True(t, matchesID(json.RawMessage(`"7"`), 7))
	assert.False(t, matchesID(json.RawMessage(`8`), 7))
	assert.False(t, matchesID(json.RawMessage(`null`), 7))
	assert.False(t, matchesID(json.RawMessage(`"abc"`), 7))
}

func TestDecodeResult(t *testing.T) {
	var out map[string]string

	ok := &Response{JSONRPC: Version, ID: json.RawMessage(`1`), Result: json.RawMessage(`{"a":"b"}`)}
	require.NoError(t, ok.DecodeResult(&out))
	assert.Equal(t, "b", out["a"])

	withErr := &Response{JSONRPC: Version, ID: json.RawMessage(`1`), Error: &RPCError{Code: -32601, Message: "method not found"}}
	err := withErr.DecodeResult(&out)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Contains(t, protoErr.Error(), "method not found")

	empty := &Response{JSONRPC: Version, ID: json.RawMessage(`1`)}
	require.Error(t, empty.DecodeResult(&out))
}
