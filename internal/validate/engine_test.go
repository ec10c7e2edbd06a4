package validate

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mcpvet/internal/process"
	"mcpvet/internal/progress"
	"mcpvet/internal/recovery"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockServerDir points at the stdio test server, started via the go.mod +
// main.go detection convention.
func mockServerDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.Abs(filepath.Join("testdata", "mockserver"))
	require.NoError(t, err)
	return dir
}

func testOptions() Options {
	opts := DefaultOptions()
	// go run needs a moment to compile on first use
	opts.StartupWindow = 1 * time.Second
	opts.CallTimeout = 30 * time.Second
	return opts
}

// recordingHandler wraps the default recovery table and records every
// failure it is consulted on.
type recordingHandler struct {
	table    recovery.Handler
	failures []recovery.Failure
	actions  []recovery.Action
}

func (h *recordingHandler) Handle(f recovery.Failure) recovery.Action {
	action := h.table.Handle(f)
	h.failures = append(h.failures, f)
	h.actions = append(h.actions, action)
	return action
}

// recordingTracker captures progress events for assertions.
type recordingTracker struct {
	events []progress.Event
}

func (r *recordingTracker) Publish(event progress.Event) {
	r.events = append(r.events, event)
}

func TestValidateNoEntryPoint(t *testing.T) {
	sup := process.NewSupervisor()
	engine := NewEngine(sup, testOptions(), nil, nil)

	report := engine.Validate(context.Background(), t.TempDir(), LevelBasic)

	require.NotNil(t, report.Startup)
	assert.False(t, report.Startup.Success)
	assert.False(t, report.OverallSuccess)
	assert.Contains(t, report.Startup.Errors[0], "no entry point")
	assert.NotEmpty(t, report.Recommendations)
	assert.Equal(t, 0, sup.ActiveCount(), "no process may be left behind")
}

func TestValidateRoutesDetectionFailureThroughRecoveryHandler(t *testing.T) {
	handler := &recordingHandler{table: recovery.NewDefaultTable()}
	sup := process.NewSupervisor()
	engine := NewEngine(sup, testOptions(), nil, handler)

	report := engine.Validate(context.Background(), t.TempDir(), LevelBasic)

	require.NotNil(t, report.Startup)
	require.False(t, report.Startup.Success)
	require.Len(t, handler.failures, 1)
	assert.Equal(t, recovery.CategoryProcess, handler.failures[0].Category)
	assert.Equal(t, recovery.SeverityCritical, handler.failures[0].Severity)
	assert.Equal(t, PhaseStartup, handler.failures[0].Phase)
	assert.Equal(t, []recovery.Action{recovery.ActionAbort}, handler.actions)
}

func TestStartupRetryFollowsRecoveryHandler(t *testing.T) {
	handler := &recordingHandler{table: recovery.NewDefaultTable()}
	sup := process.NewSupervisor()
	opts := testOptions()
	opts.EntryOverride = "definitely-not-a-real-binary-xyz"
	engine := NewEngine(sup, opts, nil, handler)

	report := engine.Validate(context.Background(), t.TempDir(), LevelBasic)

	require.NotNil(t, report.Startup)
	assert.False(t, report.Startup.Success)
	// process/high maps to retry, so the handler is consulted for the
	// failed start and the second attempt is made (and fails too).
	require.Len(t, handler.failures, 1)
	assert.Equal(t, recovery.CategoryProcess, handler.failures[0].Category)
	assert.Equal(t, recovery.SeverityHigh, handler.failures[0].Severity)
	assert.Equal(t, []recovery.Action{recovery.ActionRetry}, handler.actions)
	assert.Equal(t, 0, sup.ActiveCount())
}

func TestValidateRoutesHandshakeFailureThroughRecoveryHandler(t *testing.T) {
	handler := &recordingHandler{table: recovery.NewDefaultTable()}
	sup := process.NewSupervisor()
	opts := testOptions()
	// cat stays alive but never answers the initialize request
	opts.EntryOverride = "cat"
	opts.CallTimeout = 500 * time.Millisecond
	engine := NewEngine(sup, opts, nil, handler)

	report := engine.Validate(context.Background(), t.TempDir(), LevelStandard)

	require.NotNil(t, report.Protocol)
	assert.False(t, report.Protocol.Success)
	require.Len(t, handler.failures, 1)
	assert.Equal(t, recovery.CategoryProtocol, handler.failures[0].Category)
	assert.Equal(t, recovery.SeverityHigh, handler.failures[0].Severity)
	assert.Equal(t, PhaseProtocol, handler.failures[0].Phase)
	assert.Equal(t, 0, sup.ActiveCount())
}

func TestValidateFullPass(t *testing.T) {
	sup := process.NewSupervisor()
	tracker := &recordingTracker{}
	engine := NewEngine(sup, testOptions(), tracker, nil)

	report := engine.Validate(context.Background(), mockServerDir(t), LevelStandard)

	require.NotNil(t, report.Startup)
	assert.True(t, report.Startup.Success, "startup errors: %v", report.Startup.Errors)
	assert.Greater(t, report.Startup.PID, 0)
	assert.Greater(t, report.Startup.StartupTime, time.Duration(0))

	require.NotNil(t, report.Protocol)
	assert.True(t, report.Protocol.Success, "protocol errors: %v", report.Protocol.Errors)
	assert.Equal(t, "2025-03-26", report.Protocol.ProtocolVersion)
	assert.Equal(t, "mockserver", report.Protocol.ServerName)
	assert.Contains(t, report.Protocol.SupportedCapabilities, "initialize")
	assert.Contains(t, report.Protocol.SupportedCapabilities, "tools/list")
	assert.Empty(t, report.Protocol.MissingCapabilities)

	require.NotNil(t, report.Functionality)
	assert.True(t, report.Functionality.Success, "functionality errors: %v", report.Functionality.Errors)
	assert.Equal(t, map[string]bool{"echo": true}, report.Functionality.ToolResults)

	assert.True(t, report.OverallSuccess)
	assert.NotEmpty(t, report.PerformanceMetrics)
	assert.Contains(t, report.PerformanceMetrics, "tools/call")
	assert.Empty(t, report.Recommendations)

	assert.Equal(t, 0, sup.ActiveCount(), "registry must be swept after the run")
	assert.NotEmpty(t, tracker.events)
}

func TestValidateMissingBaselineCapability(t *testing.T) {
	sup := process.NewSupervisor()
	opts := testOptions()
	opts.EntryOverride = "go run . -no-tools"
	engine := NewEngine(sup, opts, nil, nil)

	report := engine.Validate(context.Background(), mockServerDir(t), LevelStandard)

	require.NotNil(t, report.Protocol)
	assert.False(t, report.Protocol.Success)
	assert.Equal(t, []string{"tools/list"}, report.Protocol.MissingCapabilities)
	assert.Nil(t, report.Functionality, "functionality must not run after protocol failure")
	assert.False(t, report.OverallSuccess)

	foundRec := false
	for _, rec := range report.Recommendations {
		if strings.Contains(rec, "tools/list") {
			foundRec = true
		}
	}
	assert.True(t, foundRec, "a recommendation must name the missing capability, got: %v", report.Recommendations)
	assert.Equal(t, 0, sup.ActiveCount())
}

func TestValidateFailingTool(t *testing.T) {
	sup := process.NewSupervisor()
	opts := testOptions()
	opts.EntryOverride = "go run . -fail-tool"
	engine := NewEngine(sup, opts, nil, nil)

	report := engine.Validate(context.Background(), mockServerDir(t), LevelStandard)

	require.NotNil(t, report.Functionality)
	assert.False(t, report.Functionality.Success)
	assert.Equal(t, map[string]bool{"echo": false}, report.Functionality.ToolResults)
	assert.NotEmpty(t, report.Functionality.Errors)
	assert.False(t, report.OverallSuccess)
	assert.Equal(t, 0, sup.ActiveCount())
}

func TestValidateProcessThatExitsImmediately(t *testing.T) {
	sup := process.NewSupervisor()
	opts := testOptions()
	opts.EntryOverride = "true"
	engine := NewEngine(sup, opts, nil, nil)

	report := engine.Validate(context.Background(), t.TempDir(), LevelBasic)

	require.NotNil(t, report.Startup)
	assert.False(t, report.Startup.Success)
	assert.False(t, report.OverallSuccess)
	assert.Equal(t, 0, sup.ActiveCount())
}

func TestValidateShortLivedAllowed(t *testing.T) {
	sup := process.NewSupervisor()
	opts := testOptions()
	opts.EntryOverride = "true"
	opts.AllowExit = true
	opts.StartupWindow = 500 * time.Millisecond
	engine := NewEngine(sup, opts, nil, nil)

	report := engine.Validate(context.Background(), t.TempDir(), LevelBasic)

	require.NotNil(t, report.Startup)
	assert.True(t, report.Startup.Success, "clean exit within window should pass with AllowExit")
}

func TestSynthesizeToolArgs(t *testing.T) {
	tool := toolWithSchema(map[string]any{
		"name":  map[string]any{"type": "string"},
		"count": map[string]any{"type": "integer"},
		"flag":  map[string]any{"type": "boolean"},
		"items": map[string]any{"type": "array"},
		"opts":  map[string]any{"type": "object"},
	}, []string{"name", "count", "flag", "items", "opts"})

	args := synthesizeToolArgs(tool)
	assert.Equal(t, "test", args["name"])
	assert.Equal(t, 1, args["count"])
	assert.Equal(t, false, args["flag"])
	assert.Equal(t, []any{}, args["items"])
	assert.Equal(t, map[string]any{}, args["opts"])
}

func TestSynthesizeToolArgsSkipsOptional(t *testing.T) {
	tool := toolWithSchema(map[string]any{
		"required-one": map[string]any{"type": "string"},
		"optional-one": map[string]any{"type": "string"},
	}, []string{"required-one"})

	args := synthesizeToolArgs(tool)
	assert.Len(t, args, 1)
	assert.Contains(t, args, "required-one")
}

func TestParseLevel(t *testing.T) {
	for _, valid := range []string{"basic", "standard", "comprehensive"} {
		level, err := ParseLevel(valid)
		require.NoError(t, err)
		assert.Equal(t, Level(valid), level)
	}
	_, err := ParseLevel("extreme")
	assert.Error(t, err)
}

func toolWithSchema(props map[string]any, required []string) mcp.Tool {
	return mcp.Tool{
		Name: "test-tool",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: props,
			Required:   required,
		},
	}
}
