package protocol

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// ClientName identifies this tool in the initialize handshake.
const ClientName = "mcpvet"

// Handshake performs the MCP initialization exchange: an initialize call
// followed by the initialized notification. The returned result carries the
// negotiated protocol version and the server's advertised capabilities.
func Handshake(ctx context.Context, e *Exchange, clientVersion string, timeout time.Duration) (*mcp.InitializeResult, error) {
	params := map[string]any{
		"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
		"capabilities":    mcp.ClientCapabilities{},
		"clientInfo": mcp.Implementation{
			Name:    ClientName,
			Version: clientVersion,
		},
	}

	resp, err := e.Call(ctx, MethodInitialize, params, timeout)
	if err != nil {
		return nil, err
	}

	var result mcp.InitializeResult
	if err := resp.DecodeResult(&result); err != nil {
		return nil, err
	}

	// Well-behaved clients confirm before issuing further requests. A write
	// failure here surfaces on the next call, so it is not fatal on its own.
	_ = e.Notify(MethodInitialized, nil)

	return &result, nil
}

// ListTools fetches the server's declared tools.
func ListTools(ctx context.Context, e *Exchange, timeout time.Duration) ([]mcp.Tool, error) {
	resp, err := e.Call(ctx, MethodToolsList, map[string]any{}, timeout)
	if err != nil {
		return nil, err
	}
	var result mcp.ListToolsResult
	if err := resp.DecodeResult(&result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// ListResources fetches the server's declared resources.
func ListResources(ctx context.Context, e *Exchange, timeout time.Duration) ([]mcp.Resource, error) {
	resp, err := e.Call(ctx, MethodResourcesList, map[string]any{}, timeout)
	if err != nil {
		return nil, err
	}
	var result mcp.ListResourcesResult
	if err := resp.DecodeResult(&result); err != nil {
		return nil, err
	}
	return result.Resources, nil
}

// ListPrompts fetches the server's declared prompts.
func ListPrompts(ctx context.Context, e *Exchange, timeout time.Duration) ([]mcp.Prompt, error) {
	resp, err := e.Call(ctx, MethodPromptsList, map[string]any{}, timeout)
	if err != nil {
		return nil, err
	}
	var result mcp.ListPromptsResult
	if err := resp.DecodeResult(&result); err != nil {
		return nil, err
	}
	return result.Prompts, nil
}

// toolCallOutcome is the minimal slice of a tools/call result needed to
// judge pass/fail without depending on content-type decoding.
type toolCallOutcome struct {
	IsError bool `json:"isError"`
}

// CallTool invokes a tool and reports whether the call produced a
// well-formed, non-error result.
func CallTool(ctx context.Context, e *Exchange, name string, args map[string]any, timeout time.Duration) error {
	if args == nil {
		args = map[string]any{}
	}
	resp, err := e.Call(ctx, MethodToolsCall, map[string]any{
		"name":      name,
		"arguments": args,
	}, timeout)
	if err != nil {
		return err
	}
	var outcome toolCallOutcome
	if err := resp.DecodeResult(&outcome); err != nil {
		return err
	}
	if outcome.IsError {
		return &ProtocolError{Method: MethodToolsCall, Reason: "tool " + name + " returned isError"}
	}
	return nil
}

// ReadResource reads a resource by URI and validates the result shape.
func ReadResource(ctx context.Context, e *Exchange, uri string, timeout time.Duration) error {
	resp, err := e.Call(ctx, MethodResourcesRead, map[string]any{"uri": uri}, timeout)
	if err != nil {
		return err
	}
	var result struct {
		Contents []json.RawMessage `json:"contents"`
	}
	if err := resp.DecodeResult(&result); err != nil {
		return err
	}
	if len(result.Contents) == 0 {
		return &ProtocolError{Method: MethodResourcesRead, Reason: "resource " + uri + " returned no contents"}
	}
	return nil
}

// GetPrompt fetches a prompt by name with synthesized arguments and
// validates the result shape.
func GetPrompt(ctx context.Context, e *Exchange, name string, args map[string]any, timeout time.Duration) error {
	params := map[string]any{"name": name}
	if len(args) > 0 {
		params["arguments"] = args
	}
	resp, err := e.Call(ctx, MethodPromptsGet, params, timeout)
	if err != nil {
		return err
	}
	var result struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if err := resp.DecodeResult(&result); err != nil {
		return err
	}
	if len(result.Messages) == 0 {
		return &ProtocolError{Method: MethodPromptsGet, Reason: "prompt " + name + " returned no messages"}
	}
	return nil
}
