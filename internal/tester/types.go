package tester

import (
	"time"

	"mcpvet/internal/security"
	"mcpvet/internal/validate"
)

// ResourceSample is one point-in-time memory/CPU observation of a child
// process. Pointers in the result types stay nil when sampling failed.
type ResourceSample struct {
	MemoryMB   float64 `json:"memory_mb"`
	CPUPercent float64 `json:"cpu_percent"`
}

// PerformanceBenchmark summarizes N sequential request/response cycles
// for one operation against a fresh process.
type PerformanceBenchmark struct {
	Operation          string          `json:"operation"`
	TotalRequests      int             `json:"total_requests"`
	SuccessfulRequests int             `json:"successful_requests"`
	FailedRequests     int             `json:"failed_requests"`
	MinResponseTime    time.Duration   `json:"min_response_time"`
	AvgResponseTime    time.Duration   `json:"avg_response_time"`
	MaxResponseTime    time.Duration   `json:"max_response_time"`
	P95ResponseTime    time.Duration   `json:"p95_response_time"`
	RequestsPerSecond  float64         `json:"requests_per_second"`
	ErrorRate          float64         `json:"error_rate"`
	Resources          *ResourceSample `json:"resources,omitempty"`
	Errors             []string        `json:"errors,omitempty"`
}

// IntegrationTestResult records one simulated client profile's session.
type IntegrationTestResult struct {
	ClientName           string        `json:"client_name"`
	ConnectionSuccessful bool          `json:"connection_successful"`
	HandshakeTime        time.Duration `json:"handshake_time"`
	SupportedFeatures    []string      `json:"supported_features"`
	FailedFeatures       []string      `json:"failed_features"`
	CompatibilityScore   float64       `json:"compatibility_score"`
	Errors               []string      `json:"errors,omitempty"`
}

// LoadTestResult aggregates the per-user tallies of one load window.
type LoadTestResult struct {
	ConcurrentUsers    int             `json:"concurrent_users"`
	TotalRequests      int             `json:"total_requests"`
	SuccessfulRequests int             `json:"successful_requests"`
	FailedRequests     int             `json:"failed_requests"`
	ErrorRate          float64         `json:"error_rate"`
	RequestsPerSecond  float64         `json:"requests_per_second"`
	ResourcesBefore    *ResourceSample `json:"resources_before,omitempty"`
	ResourcesAfter     *ResourceSample `json:"resources_after,omitempty"`
	Errors             []string        `json:"errors,omitempty"`
}

// ComprehensiveTestReport is the top-level write-once result of a full
// comprehensive run.
type ComprehensiveTestReport struct {
	ProjectPath        string                        `json:"project_path"`
	Timestamp          time.Time                     `json:"timestamp"`
	OverallSuccess     bool                          `json:"overall_success"`
	Validation         *validate.ValidationReport    `json:"validation"`
	Benchmarks         []PerformanceBenchmark        `json:"benchmarks"`
	IntegrationResults []IntegrationTestResult       `json:"integration_results"`
	LoadTests          map[string]*LoadTestResult    `json:"load_tests"`
	SecurityScans      map[string]*security.Result   `json:"security_scans"`
	Recommendations    []string                      `json:"recommendations"`
	TotalDuration      time.Duration                 `json:"total_duration"`
}
