package validate

import (
	"fmt"
	"time"
)

// Level gates which optional checks run.
type Level string

const (
	LevelBasic         Level = "basic"
	LevelStandard      Level = "standard"
	LevelComprehensive Level = "comprehensive"
)

// ParseLevel converts a user-supplied string to a Level.
func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case LevelBasic, LevelStandard, LevelComprehensive:
		return Level(s), nil
	default:
		return "", fmt.Errorf("unknown validation level %q (expected %s, %s or %s)",
			s, LevelBasic, LevelStandard, LevelComprehensive)
	}
}

// ServerStartupResult is the immutable outcome of the startup phase.
type ServerStartupResult struct {
	Success     bool          `json:"success"`
	PID         int           `json:"pid,omitempty"`
	StartupTime time.Duration `json:"startup_time"`
	Errors      []string      `json:"errors,omitempty"`
	LogLines    []string      `json:"log_lines,omitempty"`
}

// ProtocolComplianceResult is the immutable outcome of the handshake phase.
type ProtocolComplianceResult struct {
	Success               bool     `json:"success"`
	SupportedCapabilities []string `json:"supported_capabilities,omitempty"`
	MissingCapabilities   []string `json:"missing_capabilities,omitempty"`
	ProtocolVersion       string   `json:"protocol_version,omitempty"`
	ServerName            string   `json:"server_name,omitempty"`
	Errors                []string `json:"errors,omitempty"`
}

// FunctionalityTestResult is the immutable outcome of the capability
// exercising phase: one pass/fail entry per declared tool, resource and
// prompt.
type FunctionalityTestResult struct {
	Success         bool            `json:"success"`
	ToolResults     map[string]bool `json:"tool_results,omitempty"`
	ResourceResults map[string]bool `json:"resource_results,omitempty"`
	PromptResults   map[string]bool `json:"prompt_results,omitempty"`
	Errors          []string        `json:"errors,omitempty"`
}

// TotalCapabilities counts every exercised item across all kinds.
func (r *FunctionalityTestResult) TotalCapabilities() int {
	return len(r.ToolResults) + len(r.ResourceResults) + len(r.PromptResults)
}

// ValidationReport aggregates the three phase results. OverallSuccess is the
// logical AND of the sub-results; a missing phase (short-circuited run)
// counts as failed.
type ValidationReport struct {
	ProjectPath        string                    `json:"project_path"`
	Level              Level                     `json:"level"`
	Startup            *ServerStartupResult      `json:"startup,omitempty"`
	Protocol           *ProtocolComplianceResult `json:"protocol,omitempty"`
	Functionality      *FunctionalityTestResult  `json:"functionality,omitempty"`
	PerformanceMetrics map[string]time.Duration  `json:"performance_metrics,omitempty"`
	Recommendations    []string                  `json:"recommendations,omitempty"`
	Timestamp          time.Time                 `json:"timestamp"`
	TotalDuration      time.Duration             `json:"total_duration"`
	OverallSuccess     bool                      `json:"overall_success"`
}

// computeOverallSuccess folds the three phase results.
func (r *ValidationReport) computeOverallSuccess() {
	r.OverallSuccess = r.Startup != nil && r.Startup.Success &&
		r.Protocol != nil && r.Protocol.Success &&
		r.Functionality != nil && r.Functionality.Success
}
