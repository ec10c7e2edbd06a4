// Command mockserver is a minimal stdio MCP server used by tests. It speaks
// newline-delimited JSON-RPC 2.0 and supports a single "echo" tool.
//
// Flags:
//
//	-no-tools   do not advertise the tools capability
//	-fail-tool  every tools/call returns isError=true
//	-slow NDUR  sleep NDUR before answering each request
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"
)

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type response struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int64          `json:"id"`
	Result  any            `json:"result,omitempty"`
	Error   *responseError `json:"error,omitempty"`
}

type responseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func main() {
	noTools := flag.Bool("no-tools", false, "do not advertise tools capability")
	failTool := flag.Bool("fail-tool", false, "tools/call returns isError")
	slow := flag.Duration("slow", 0, "delay before each response")
	flag.Parse()

	fmt.Fprintln(os.Stderr, "mockserver listening on stdio")

	out := bufio.NewWriter(os.Stdout)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		var req request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		if req.ID == nil {
			// Notification: nothing to send back.
			continue
		}
		if *slow > 0 {
			time.Sleep(*slow)
		}

		resp := response{JSONRPC: "2.0", ID: *req.ID}
		switch req.Method {
		case "initialize":
			caps := map[string]any{}
			if !*noTools {
				caps["tools"] = map[string]any{}
			}
			resp.Result = map[string]any{
				"protocolVersion": "2025-03-26",
				"capabilities":    caps,
				"serverInfo": map[string]any{
					"name":    "mockserver",
					"version": "0.1.0",
				},
			}
		case "ping":
			resp.Result = map[string]any{}
		case "tools/list":
			resp.Result = map[string]any{
				"tools": []any{
					map[string]any{
						"name":        "echo",
						"description": "echoes the message back",
						"inputSchema": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"message": map[string]any{"type": "string"},
							},
							"required": []string{"message"},
						},
					},
				},
			}
		case "tools/call":
			resp.Result = map[string]any{
				"content": []any{
					map[string]any{"type": "text", "text": "ok"},
				},
				"isError": *failTool,
			}
		default:
			resp.Error = &responseError{Code: -32601, Message: "method not found: " + req.Method}
		}

		data, err := json.Marshal(resp)
		if err != nil {
			continue
		}
		out.Write(data)
		out.WriteByte('\n')
		out.Flush()
	}
}
