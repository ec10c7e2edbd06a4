package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// JSON-RPC 2.0 method names for the MCP surface exercised by validation.
const (
	MethodInitialize    = "initialize"
	MethodInitialized   = "notifications/initialized"
	MethodPing          = "ping"
	MethodToolsList     = "tools/list"
	MethodToolsCall     = "tools/call"
	MethodResourcesList = "resources/list"
	MethodResourcesRead = "resources/read"
	MethodPromptsList   = "prompts/list"
	MethodPromptsGet    = "prompts/get"
)

// Version is the JSON-RPC protocol version string on every message.
const Version = "2.0"

// Request is a JSON-RPC 2.0 request. IDs are always numeric on the wire;
// the Exchange assigns them from a per-handle counter.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Notification is a JSON-RPC 2.0 notification (no id, no response).
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response. The ID is kept raw so correlation
// tolerates servers that echo numeric IDs back as strings.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error member of a JSON-RPC 2.0 response.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// DecodeResult unmarshals the result member into v. A response carrying an
// error member or an empty result is a ProtocolError.
func (r *Response) DecodeResult(v any) error {
	if r.Error != nil {
		return &ProtocolError{Reason: r.Error.Error()}
	}
	if len(r.Result) == 0 {
		return &ProtocolError{Reason: "response has no result"}
	}
	if err := json.Unmarshal(r.Result, v); err != nil {
		return &ProtocolError{Reason: fmt.Sprintf("malformed result: %v", err)}
	}
	return nil
}

// matchesID reports whether a raw response id correlates with the numeric
// request id. Servers occasionally echo numeric ids back quoted.
func matchesID(raw json.RawMessage, id int64) bool {
	s := strings.TrimSpace(string(raw))
	s = strings.Trim(s, `"`)
	parsed, err := strconv.ParseInt(s, 10, 64)
	return err == nil && parsed == id
}

// TimeoutError indicates a call did not receive its response within the
// per-call timeout. It fails the call, not the handle: the exchange drains
// the late response when (if) it arrives.
type TimeoutError struct {
	Method  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("call %q timed out after %s", e.Method, e.Timeout)
}

// ProtocolError indicates a malformed or unexpected response. It is recorded
// as a failed capability by callers, never propagated as fatal.
type ProtocolError struct {
	Method string
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("protocol error on %q: %s", e.Method, e.Reason)
	}
	return "protocol error: " + e.Reason
}

// IOError indicates the pipe to the process failed mid-exchange, usually
// because the process crashed.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("pipe %s failed: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
