package report

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"
	"time"

	"mcpvet/internal/tester"
	"mcpvet/internal/validate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleValidation() *validate.ValidationReport {
	return &validate.ValidationReport{
		ProjectPath: "/tmp/my-server",
		Level:       validate.LevelStandard,
		Timestamp:   time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		Startup: &validate.ServerStartupResult{
			Success:     true,
			PID:         4242,
			StartupTime: 120 * time.Millisecond,
		},
		Protocol: &validate.ProtocolComplianceResult{
			Success:               true,
			ProtocolVersion:       "2025-03-26",
			SupportedCapabilities: []string{"initialize", "tools/list"},
		},
		Functionality: &validate.FunctionalityTestResult{
			Success:     true,
			ToolResults: map[string]bool{"echo": true},
		},
		OverallSuccess: true,
		TotalDuration:  2 * time.Second,
	}
}

func TestSaveValidationWritesJSON(t *testing.T) {
	dir := t.TempDir()
	writer := NewWriter(dir)

	path, err := writer.SaveValidation(sampleValidation())
	require.NoError(t, err)
	assert.Contains(t, path, "validation_my-server_20260830-120000.json")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded validate.ValidationReport
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "/tmp/my-server", decoded.ProjectPath)
	assert.True(t, decoded.OverallSuccess)
}

func TestSaveComprehensiveCreatesDirectory(t *testing.T) {
	dir := t.TempDir() + "/nested/reports"
	writer := NewWriter(dir)

	report := &tester.ComprehensiveTestReport{
		ProjectPath: "/tmp/my-server",
		Timestamp:   time.Now(),
		Validation:  sampleValidation(),
	}
	path, err := writer.SaveComprehensive(report)
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestSaveFailsOnUnwritableDirectory(t *testing.T) {
	writer := NewWriter("/proc/no-such-place")
	_, err := writer.SaveValidation(sampleValidation())
	assert.Error(t, err)
}

func TestRenderValidation(t *testing.T) {
	var buf bytes.Buffer
	report := sampleValidation()
	report.Recommendations = []string{"optimize server startup"}

	RenderValidation(&buf, report)

	out := buf.String()
	assert.Contains(t, out, "startup")
	assert.Contains(t, out, "PASS")
	assert.Contains(t, out, "PID 4242")
	assert.Contains(t, out, "2025-03-26")
	assert.Contains(t, out, "optimize server startup")
}

func TestRenderValidationFailure(t *testing.T) {
	var buf bytes.Buffer
	report := &validate.ValidationReport{
		ProjectPath: "/tmp/broken",
		Startup: &validate.ServerStartupResult{
			Success: false,
			Errors:  []string{"no entry point detected"},
		},
	}

	RenderValidation(&buf, report)

	out := buf.String()
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "no entry point detected")
	assert.Contains(t, out, "not run")
}

func TestRenderComprehensive(t *testing.T) {
	var buf bytes.Buffer
	report := &tester.ComprehensiveTestReport{
		ProjectPath:    "/tmp/my-server",
		Validation:     sampleValidation(),
		OverallSuccess: true,
		Benchmarks: []tester.PerformanceBenchmark{
			{Operation: "ping", TotalRequests: 50, AvgResponseTime: time.Millisecond, P95ResponseTime: 2 * time.Millisecond, RequestsPerSecond: 900},
		},
		IntegrationResults: []tester.IntegrationTestResult{
			{ClientName: "tools-only-client", ConnectionSuccessful: true, CompatibilityScore: 1.0},
		},
		LoadTests: map[string]*tester.LoadTestResult{
			"default": {ConcurrentUsers: 10, TotalRequests: 100, RequestsPerSecond: 450},
		},
		Recommendations: []string{"URGENT - stability under load"},
	}

	RenderComprehensive(&buf, report)

	out := buf.String()
	assert.Contains(t, out, "Benchmarks")
	assert.Contains(t, out, "ping")
	assert.Contains(t, out, "tools-only-client")
	assert.Contains(t, out, "Load Test (default)")
	assert.Contains(t, out, "URGENT - stability under load")
	assert.Contains(t, out, "Overall: PASS")
}
