package validate

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"mcpvet/internal/process"
	"mcpvet/internal/progress"
	"mcpvet/internal/protocol"
	"mcpvet/internal/recovery"
	"mcpvet/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
)

// Phase names used in progress events and failure reports.
const (
	PhaseStartup       = "startup"
	PhaseProtocol      = "protocol"
	PhaseFunctionality = "functionality"
)

// Options configures a validation run. Zero values are replaced by the
// defaults from DefaultOptions.
type Options struct {
	// BaselineCapabilities are the capability names every compliant server
	// must advertise. Fixed configuration, never discovered.
	BaselineCapabilities []string
	// StartupWindow is how long the startup phase observes the process.
	StartupWindow time.Duration
	// StartupPollInterval is the liveness polling cadence.
	StartupPollInterval time.Duration
	// CallTimeout bounds each protocol round trip.
	CallTimeout time.Duration
	// StopGraceTimeout is passed to Supervisor.Stop.
	StopGraceTimeout time.Duration
	// AllowExit treats a clean exit within the startup window as success,
	// for intentionally short-lived servers. Default expects long-running.
	AllowExit bool
	// EntryOverride bypasses entry command detection.
	EntryOverride string
	// ClientVersion is reported in the MCP handshake.
	ClientVersion string
}

// DefaultOptions returns the standard validation configuration.
func DefaultOptions() Options {
	return Options{
		BaselineCapabilities: []string{"initialize", "tools/list"},
		StartupWindow:        2 * time.Second,
		StartupPollInterval:  100 * time.Millisecond,
		CallTimeout:          30 * time.Second,
		StopGraceTimeout:     5 * time.Second,
		ClientVersion:        "dev",
	}
}

func (o Options) withDefaults() Options {
	defaults := DefaultOptions()
	if len(o.BaselineCapabilities) == 0 {
		o.BaselineCapabilities = defaults.BaselineCapabilities
	}
	if o.StartupWindow <= 0 {
		o.StartupWindow = defaults.StartupWindow
	}
	if o.StartupPollInterval <= 0 {
		o.StartupPollInterval = defaults.StartupPollInterval
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = defaults.CallTimeout
	}
	if o.StopGraceTimeout <= 0 {
		o.StopGraceTimeout = defaults.StopGraceTimeout
	}
	if o.ClientVersion == "" {
		o.ClientVersion = defaults.ClientVersion
	}
	return o
}

// Engine runs the escalating validation checks against one process
// instance: startup, protocol compliance, functionality. It short-circuits
// on the first failing phase and always produces a complete report with
// populated error lists - phase failures never escape as errors.
type Engine struct {
	supervisor *process.Supervisor
	opts       Options
	tracker    progress.Tracker
	handler    recovery.Handler
}

// NewEngine creates a validation engine. A nil tracker discards progress
// events; a nil handler uses the default recovery table.
func NewEngine(supervisor *process.Supervisor, opts Options, tracker progress.Tracker, handler recovery.Handler) *Engine {
	if tracker == nil {
		tracker = progress.NewNopTracker()
	}
	if handler == nil {
		handler = recovery.NewDefaultTable()
	}
	return &Engine{
		supervisor: supervisor,
		opts:       opts.withDefaults(),
		tracker:    tracker,
		handler:    handler,
	}
}

// Supervisor exposes the engine's process supervisor so a comprehensive run
// can reuse it and sweep its registry.
func (e *Engine) Supervisor() *process.Supervisor { return e.supervisor }

// Options returns the effective (defaulted) options.
func (e *Engine) Options() Options { return e.opts }

// Validate runs the phase state machine against the project at projectPath
// and returns the aggregated report. The process started for the run is
// stopped before return on every path.
func (e *Engine) Validate(ctx context.Context, projectPath string, level Level) *ValidationReport {
	started := time.Now()
	projectID := filepath.Base(projectPath)

	report := &ValidationReport{
		ProjectPath:        projectPath,
		Level:              level,
		Timestamp:          started,
		PerformanceMetrics: make(map[string]time.Duration),
	}
	defer func() {
		report.TotalDuration = time.Since(started)
		report.computeOverallSuccess()
		report.Recommendations = buildRecommendations(report)
	}()

	entry, err := DetectEntryCommand(projectPath, e.opts.EntryOverride)
	if err != nil {
		report.Startup = &ServerStartupResult{
			Success: false,
			Errors:  []string{err.Error()},
		}
		e.reportFailure(projectID, PhaseStartup, recovery.CategoryProcess, recovery.SeverityCritical, err.Error())
		return report
	}
	logging.Debug("validate", "detected entry command for %s: %s", projectID, entry)

	handle, startup := e.runStartup(ctx, projectPath, entry, projectID)
	report.Startup = startup
	if handle != nil {
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), e.opts.StopGraceTimeout+5*time.Second)
			defer cancel()
			if err := e.supervisor.Stop(stopCtx, handle, e.opts.StopGraceTimeout); err != nil {
				logging.Warn("validate", "failed to stop validation process: %v", err)
			}
		}()
	}
	if !startup.Success {
		return report
	}

	exchange := protocol.NewExchange(handle)
	defer exchange.Close()

	report.Protocol = e.runProtocol(ctx, exchange, projectID)
	if !report.Protocol.Success {
		return report
	}

	report.Functionality = e.runFunctionality(ctx, exchange, report.Protocol, projectID, report.PerformanceMetrics)
	return report
}

// runStartup starts the process and observes it over the startup window.
// On a start failure the recovery handler decides whether one retry is
// attempted. The returned handle is nil when nothing is left running.
func (e *Engine) runStartup(ctx context.Context, projectPath string, entry *EntryCommand, projectID string) (*process.Handle, *ServerStartupResult) {
	e.publish(projectID, PhaseStartup, progress.KindPhaseStart, 0, "starting "+entry.String())

	handle, result := e.startAndObserve(ctx, projectPath, entry)
	if !result.Success && handle == nil {
		failure := recovery.Failure{
			Category: recovery.CategoryProcess,
			Severity: recovery.SeverityHigh,
			Message:  strings.Join(result.Errors, "; "),
			Phase:    PhaseStartup,
		}
		if e.handler.Handle(failure) == recovery.ActionRetry {
			logging.Info("validate", "retrying startup for %s per recovery policy", projectID)
			handle, result = e.startAndObserve(ctx, projectPath, entry)
		}
	}

	if result.Success {
		e.publish(projectID, PhaseStartup, progress.KindPhaseComplete, 100,
			fmt.Sprintf("server up in %s (PID %d)", result.StartupTime.Round(time.Millisecond), result.PID))
	} else {
		e.publish(projectID, PhaseStartup, progress.KindError, 100, strings.Join(result.Errors, "; "))
	}
	return handle, result
}

func (e *Engine) startAndObserve(ctx context.Context, projectPath string, entry *EntryCommand) (*process.Handle, *ServerStartupResult) {
	attemptStart := time.Now()
	handle, err := e.supervisor.Start(ctx, projectPath, entry.Command, entry.Args, nil)
	if err != nil {
		return nil, &ServerStartupResult{
			Success: false,
			Errors:  []string{err.Error()},
		}
	}

	result := &ServerStartupResult{PID: handle.PID}

	var startupTime time.Duration
	confirmed := false
	deadline := time.Now().Add(e.opts.StartupWindow)
	ticker := time.NewTicker(e.opts.StartupPollInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			result.Errors = append(result.Errors, "startup observation cancelled: "+ctx.Err().Error())
			return handle, result
		case <-ticker.C:
		}

		if handle.Alive() {
			if !confirmed {
				confirmed = true
				startupTime = time.Since(attemptStart)
			}
			continue
		}

		// Process exited during the window.
		if e.opts.AllowExit && handle.ExitError() == nil {
			result.Success = true
			result.StartupTime = time.Since(attemptStart)
			result.LogLines = handle.ErrorOutput()
			return handle, result
		}
		result.Errors = append(result.Errors, "process exited during startup window")
		if exitErr := handle.ExitError(); exitErr != nil {
			result.Errors = append(result.Errors, exitErr.Error())
		}
		result.Errors = append(result.Errors, errorLines(handle.ErrorOutput())...)
		result.LogLines = handle.ErrorOutput()
		return handle, result
	}

	result.LogLines = handle.ErrorOutput()
	if !confirmed || !handle.Alive() {
		result.Errors = append(result.Errors, "process not alive at end of startup window")
		return handle, result
	}
	if errs := errorLines(result.LogLines); len(errs) > 0 {
		result.Errors = errs
		return handle, result
	}

	result.Success = true
	result.StartupTime = startupTime
	return handle, result
}

// errorIndicators are the stderr markers that count as immediate error
// output; plain informational startup logging does not fail the phase.
var errorIndicators = []string{"error", "exception", "traceback", "panic:", "fatal"}

func errorLines(lines []string) []string {
	var errs []string
	for _, line := range lines {
		lower := strings.ToLower(line)
		for _, indicator := range errorIndicators {
			if strings.Contains(lower, indicator) {
				errs = append(errs, line)
				break
			}
		}
	}
	return errs
}

// runProtocol performs the initialization exchange and compares advertised
// capabilities to the fixed baseline.
func (e *Engine) runProtocol(ctx context.Context, exchange *protocol.Exchange, projectID string) *ProtocolComplianceResult {
	e.publish(projectID, PhaseProtocol, progress.KindPhaseStart, 0, "performing handshake")

	result := &ProtocolComplianceResult{}

	initResult, err := protocol.Handshake(ctx, exchange, e.opts.ClientVersion, e.opts.CallTimeout)
	if err != nil {
		result.Errors = append(result.Errors, "handshake failed: "+err.Error())
		e.reportFailure(projectID, PhaseProtocol, recovery.CategoryProtocol, recovery.SeverityHigh, err.Error())
		return result
	}

	result.ProtocolVersion = initResult.ProtocolVersion
	result.ServerName = initResult.ServerInfo.Name
	result.SupportedCapabilities = supportedCapabilities(initResult.Capabilities)
	result.MissingCapabilities = missingCapabilities(e.opts.BaselineCapabilities, result.SupportedCapabilities)
	result.Success = len(result.MissingCapabilities) == 0

	if result.Success {
		e.publish(projectID, PhaseProtocol, progress.KindPhaseComplete, 100,
			fmt.Sprintf("protocol %s, capabilities: %s", result.ProtocolVersion, strings.Join(result.SupportedCapabilities, ", ")))
	} else {
		e.publish(projectID, PhaseProtocol, progress.KindError, 100,
			"missing baseline capabilities: "+strings.Join(result.MissingCapabilities, ", "))
	}
	return result
}

// supportedCapabilities maps the advertised capability set to the fixed
// method-style names used for baseline comparison. A successful handshake
// always implies initialize support.
func supportedCapabilities(caps mcp.ServerCapabilities) []string {
	supported := []string{"initialize"}
	if caps.Tools != nil {
		supported = append(supported, "tools/list")
	}
	if caps.Resources != nil {
		supported = append(supported, "resources/list")
	}
	if caps.Prompts != nil {
		supported = append(supported, "prompts/list")
	}
	if caps.Logging != nil {
		supported = append(supported, "logging")
	}
	return supported
}

func missingCapabilities(baseline, supported []string) []string {
	have := make(map[string]bool, len(supported))
	for _, name := range supported {
		have[name] = true
	}
	var missing []string
	for _, name := range baseline {
		if !have[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

// runFunctionality lists each declared capability kind and exercises every
// item with a synthesized minimal invocation. Individual failures are
// recorded, never propagated. Average latencies per operation land in
// metrics.
func (e *Engine) runFunctionality(ctx context.Context, exchange *protocol.Exchange, compliance *ProtocolComplianceResult, projectID string, metrics map[string]time.Duration) *FunctionalityTestResult {
	e.publish(projectID, PhaseFunctionality, progress.KindPhaseStart, 0, "exercising declared capabilities")

	result := &FunctionalityTestResult{
		Success:         true,
		ToolResults:     make(map[string]bool),
		ResourceResults: make(map[string]bool),
		PromptResults:   make(map[string]bool),
	}
	timings := make(map[string][]time.Duration)

	has := func(name string) bool {
		for _, c := range compliance.SupportedCapabilities {
			if c == name {
				return true
			}
		}
		return false
	}

	if has("tools/list") {
		e.exerciseTools(ctx, exchange, result, timings)
	}
	if has("resources/list") {
		e.exerciseResources(ctx, exchange, result, timings)
	}
	if has("prompts/list") {
		e.exercisePrompts(ctx, exchange, result, timings)
	}

	for op, samples := range timings {
		metrics[op] = averageDuration(samples)
	}

	passed, failed := 0, 0
	for _, results := range []map[string]bool{result.ToolResults, result.ResourceResults, result.PromptResults} {
		for _, ok := range results {
			if ok {
				passed++
			} else {
				failed++
			}
		}
	}
	if failed > 0 {
		result.Success = false
		e.publish(projectID, PhaseFunctionality, progress.KindError, 100,
			fmt.Sprintf("%d of %d capability checks failed", failed, passed+failed))
	} else {
		e.publish(projectID, PhaseFunctionality, progress.KindPhaseComplete, 100,
			fmt.Sprintf("%d capability checks passed", passed))
	}
	return result
}

func (e *Engine) exerciseTools(ctx context.Context, exchange *protocol.Exchange, result *FunctionalityTestResult, timings map[string][]time.Duration) {
	listStart := time.Now()
	tools, err := protocol.ListTools(ctx, exchange, e.opts.CallTimeout)
	timings[protocol.MethodToolsList] = append(timings[protocol.MethodToolsList], time.Since(listStart))
	if err != nil {
		result.Success = false
		result.Errors = append(result.Errors, "tools/list failed: "+err.Error())
		return
	}

	for _, tool := range tools {
		args := synthesizeToolArgs(tool)
		callStart := time.Now()
		err := protocol.CallTool(ctx, exchange, tool.Name, args, e.opts.CallTimeout)
		timings[protocol.MethodToolsCall] = append(timings[protocol.MethodToolsCall], time.Since(callStart))
		result.ToolResults[tool.Name] = err == nil
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("tool %s: %v", tool.Name, err))
		}
	}
}

func (e *Engine) exerciseResources(ctx context.Context, exchange *protocol.Exchange, result *FunctionalityTestResult, timings map[string][]time.Duration) {
	listStart := time.Now()
	resources, err := protocol.ListResources(ctx, exchange, e.opts.CallTimeout)
	timings[protocol.MethodResourcesList] = append(timings[protocol.MethodResourcesList], time.Since(listStart))
	if err != nil {
		result.Success = false
		result.Errors = append(result.Errors, "resources/list failed: "+err.Error())
		return
	}

	for _, resource := range resources {
		readStart := time.Now()
		err := protocol.ReadResource(ctx, exchange, resource.URI, e.opts.CallTimeout)
		timings[protocol.MethodResourcesRead] = append(timings[protocol.MethodResourcesRead], time.Since(readStart))
		result.ResourceResults[resource.URI] = err == nil
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("resource %s: %v", resource.URI, err))
		}
	}
}

func (e *Engine) exercisePrompts(ctx context.Context, exchange *protocol.Exchange, result *FunctionalityTestResult, timings map[string][]time.Duration) {
	listStart := time.Now()
	prompts, err := protocol.ListPrompts(ctx, exchange, e.opts.CallTimeout)
	timings[protocol.MethodPromptsList] = append(timings[protocol.MethodPromptsList], time.Since(listStart))
	if err != nil {
		result.Success = false
		result.Errors = append(result.Errors, "prompts/list failed: "+err.Error())
		return
	}

	for _, prompt := range prompts {
		args := synthesizePromptArgs(prompt)
		getStart := time.Now()
		err := protocol.GetPrompt(ctx, exchange, prompt.Name, args, e.opts.CallTimeout)
		timings[protocol.MethodPromptsGet] = append(timings[protocol.MethodPromptsGet], time.Since(getStart))
		result.PromptResults[prompt.Name] = err == nil
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("prompt %s: %v", prompt.Name, err))
		}
	}
}

// synthesizeToolArgs builds a minimal argument map satisfying a tool's
// required input schema properties, using type-appropriate placeholders.
func synthesizeToolArgs(tool mcp.Tool) map[string]any {
	args := make(map[string]any)
	for _, name := range tool.InputSchema.Required {
		propType := ""
		if prop, ok := tool.InputSchema.Properties[name].(map[string]any); ok {
			propType, _ = prop["type"].(string)
		}
		args[name] = placeholderFor(propType)
	}
	return args
}

func placeholderFor(propType string) any {
	switch propType {
	case "number", "integer":
		return 1
	case "boolean":
		return false
	case "array":
		return []any{}
	case "object":
		return map[string]any{}
	default:
		return "test"
	}
}

func synthesizePromptArgs(prompt mcp.Prompt) map[string]any {
	args := make(map[string]any)
	for _, arg := range prompt.Arguments {
		if arg.Required {
			args[arg.Name] = "test"
		}
	}
	return args
}

func averageDuration(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, s := range samples {
		total += s
	}
	return total / time.Duration(len(samples))
}

func (e *Engine) publish(projectID, phase string, kind progress.Kind, percent float64, message string) {
	e.tracker.Publish(progress.Event{
		ProjectID: projectID,
		Phase:     phase,
		Kind:      kind,
		Percent:   percent,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// reportFailure publishes the error event and routes the failure through
// the recovery handler. The engine stops at the first failing phase, so for
// the failures reported here abort coincides with the short-circuit and
// skip with recording the result; retry is meaningful only for process
// starts and is honored in runStartup.
func (e *Engine) reportFailure(projectID, phase string, category recovery.Category, severity recovery.Severity, message string) {
	e.publish(projectID, phase, progress.KindError, 100, message)
	action := e.handler.Handle(recovery.Failure{
		Category: category,
		Severity: severity,
		Message:  message,
		Phase:    phase,
	})
	logging.Debug("validate", "%s/%s failure in %s, recovery action %s", category, severity, phase, action)
}
