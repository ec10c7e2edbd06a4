// Package tester runs the comprehensive test battery on top of basic
// validation: performance benchmarks, simulated multi-client integration
// tests, a concurrent load test, and a static security scan. All results
// are merged into one write-once ComprehensiveTestReport.
package tester

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"mcpvet/internal/process"
	"mcpvet/internal/progress"
	"mcpvet/internal/protocol"
	"mcpvet/internal/security"
	"mcpvet/internal/validate"
	"mcpvet/pkg/logging"
)

// Phase names for progress events.
const (
	PhaseBenchmark   = "benchmark"
	PhaseIntegration = "integration"
	PhaseLoad        = "load"
	PhaseSecurity    = "security"
)

// Options configures the comprehensive run. All counts must be positive;
// NewTester rejects anything else before a process is started.
type Options struct {
	// BenchmarkRequests is the number of sequential calls per benchmarked
	// operation.
	BenchmarkRequests int
	// ConcurrentUsers is the number of virtual users in the load test.
	ConcurrentUsers int
	// RequestsPerUser is each virtual user's sequential request count.
	RequestsPerUser int
	// MaxWorkers bounds the load-test worker pool.
	MaxWorkers int

	// Recommendation thresholds.
	BenchmarkErrorRateLimit float64
	BenchmarkLatencyLimit   time.Duration
	CompatibilityThreshold  float64
	LoadErrorRateLimit      float64

	// Per-section skip switches. A skipped section stays empty in the
	// report and contributes nothing to recommendations.
	SkipBenchmarks  bool
	SkipIntegration bool
	SkipLoad        bool
	SkipSecurity    bool
}

// DefaultOptions returns the standard comprehensive test configuration.
func DefaultOptions() Options {
	return Options{
		BenchmarkRequests:       50,
		ConcurrentUsers:         10,
		RequestsPerUser:         10,
		MaxWorkers:              10,
		BenchmarkErrorRateLimit: 0.05,
		BenchmarkLatencyLimit:   500 * time.Millisecond,
		CompatibilityThreshold:  0.8,
		LoadErrorRateLimit:      0.1,
	}
}

func (o Options) validate() error {
	if o.BenchmarkRequests <= 0 {
		return fmt.Errorf("benchmark request count must be positive, got %d", o.BenchmarkRequests)
	}
	if o.ConcurrentUsers <= 0 {
		return fmt.Errorf("concurrent user count must be positive, got %d", o.ConcurrentUsers)
	}
	if o.RequestsPerUser <= 0 {
		return fmt.Errorf("requests per user must be positive, got %d", o.RequestsPerUser)
	}
	if o.MaxWorkers <= 0 {
		return fmt.Errorf("worker count must be positive, got %d", o.MaxWorkers)
	}
	return nil
}

// Tester drives the comprehensive phases. It reuses the validation
// engine's supervisor so one registry sweep covers every process started
// during a run.
type Tester struct {
	engine  *validate.Engine
	scanner *security.Scanner
	opts    Options
	tracker progress.Tracker
}

// NewTester validates the configuration synchronously and returns a ready
// tester. A nil tracker discards progress events.
func NewTester(engine *validate.Engine, scanner *security.Scanner, opts Options, tracker progress.Tracker) (*Tester, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if scanner == nil {
		scanner = security.NewScanner()
	}
	if tracker == nil {
		tracker = progress.NewNopTracker()
	}
	return &Tester{
		engine:  engine,
		scanner: scanner,
		opts:    opts,
		tracker: tracker,
	}, nil
}

// Run executes basic validation and, when it passes, the comprehensive
// phases. The report is always complete: a failing run carries empty
// comprehensive sections and a recommendation explaining why. The process
// registry is swept on every path before Run returns.
func (t *Tester) Run(ctx context.Context, projectPath string) *ComprehensiveTestReport {
	started := time.Now()
	projectID := filepath.Base(projectPath)

	report := &ComprehensiveTestReport{
		ProjectPath:   projectPath,
		Timestamp:     started,
		LoadTests:     make(map[string]*LoadTestResult),
		SecurityScans: make(map[string]*security.Result),
	}
	defer func() {
		t.engine.Supervisor().TerminateAll()
		report.TotalDuration = time.Since(started)
	}()

	report.Validation = t.engine.Validate(ctx, projectPath, validate.LevelComprehensive)

	// The scanner needs no process, so it runs even when validation failed.
	if !t.opts.SkipSecurity {
		t.publish(projectID, PhaseSecurity, progress.KindPhaseStart, 0, "running static security scan")
		report.SecurityScans["static"] = t.scanner.Scan(projectPath)
		t.publish(projectID, PhaseSecurity, progress.KindPhaseComplete, 100,
			fmt.Sprintf("%d security issues found", len(report.SecurityScans["static"].Issues)))
	}

	if !report.Validation.OverallSuccess {
		report.Recommendations = t.mergeRecommendations(report,
			"comprehensive testing skipped: basic validation did not pass")
		return report
	}

	if !t.opts.SkipBenchmarks {
		report.Benchmarks = t.runBenchmarks(ctx, projectPath, projectID)
	}
	if !t.opts.SkipIntegration {
		report.IntegrationResults = t.runIntegration(ctx, projectPath, projectID)
	}
	if !t.opts.SkipLoad {
		report.LoadTests["default"] = t.runLoadTest(ctx, projectPath, projectID)
	}

	report.Recommendations = t.mergeRecommendations(report)
	report.OverallSuccess = t.computeOverallSuccess(report)

	logging.Info("tester", "comprehensive run for %s finished in %s (success=%t)",
		projectID, report.TotalDuration.Round(time.Millisecond), report.OverallSuccess)
	return report
}

// startInstance starts a fresh process for the project and wires an
// exchange to it. The caller owns the returned handle and must stop it.
func (t *Tester) startInstance(ctx context.Context, projectPath string) (*process.Handle, *protocol.Exchange, error) {
	entry, err := validate.DetectEntryCommand(projectPath, t.engine.Options().EntryOverride)
	if err != nil {
		return nil, nil, err
	}
	handle, err := t.engine.Supervisor().Start(ctx, projectPath, entry.Command, entry.Args, nil)
	if err != nil {
		return nil, nil, err
	}
	return handle, protocol.NewExchange(handle), nil
}

func (t *Tester) stopInstance(handle *process.Handle, exchange *protocol.Exchange) {
	exchange.Close()
	stopCtx, cancel := context.WithTimeout(context.Background(), t.engine.Options().StopGraceTimeout+5*time.Second)
	defer cancel()
	if err := t.engine.Supervisor().Stop(stopCtx, handle, t.engine.Options().StopGraceTimeout); err != nil {
		logging.Warn("tester", "failed to stop test process: %v", err)
	}
}

// mergeRecommendations concatenates the basic-validation recommendations
// with threshold-triggered comprehensive ones, in a fixed order.
func (t *Tester) mergeRecommendations(report *ComprehensiveTestReport, extra ...string) []string {
	recs := append([]string{}, extra...)
	if report.Validation != nil {
		recs = append(recs, report.Validation.Recommendations...)
	}

	for _, bench := range report.Benchmarks {
		if bench.ErrorRate > t.opts.BenchmarkErrorRateLimit {
			recs = append(recs, fmt.Sprintf(
				"reduce the error rate of operation %q (%.1f%% of benchmark requests failed)",
				bench.Operation, bench.ErrorRate*100))
		}
		if bench.AvgResponseTime > t.opts.BenchmarkLatencyLimit {
			recs = append(recs, fmt.Sprintf(
				"improve response time of operation %q (average %s exceeds %s)",
				bench.Operation, bench.AvgResponseTime.Round(time.Millisecond), t.opts.BenchmarkLatencyLimit))
		}
	}

	for _, integration := range report.IntegrationResults {
		if integration.CompatibilityScore < t.opts.CompatibilityThreshold {
			recs = append(recs, fmt.Sprintf(
				"improve compatibility with client %q (score %.2f below %.2f)",
				integration.ClientName, integration.CompatibilityScore, t.opts.CompatibilityThreshold))
		}
	}

	for _, load := range report.LoadTests {
		if load.ErrorRate > t.opts.LoadErrorRateLimit {
			recs = append(recs, fmt.Sprintf(
				"URGENT - stability under load: %.1f%% of requests failed with %d concurrent users",
				load.ErrorRate*100, load.ConcurrentUsers))
		}
	}

	for _, scan := range report.SecurityScans {
		for _, issue := range scan.IssuesAtLeast(security.SeverityHigh) {
			recs = append(recs, fmt.Sprintf("[%s] %s: %s (%s)",
				issue.Severity, issue.Type, issue.Description, issue.File))
		}
	}
	return recs
}

func (t *Tester) computeOverallSuccess(report *ComprehensiveTestReport) bool {
	if report.Validation == nil || !report.Validation.OverallSuccess {
		return false
	}
	for _, bench := range report.Benchmarks {
		if bench.ErrorRate > t.opts.BenchmarkErrorRateLimit {
			return false
		}
	}
	for _, load := range report.LoadTests {
		if load.ErrorRate > t.opts.LoadErrorRateLimit {
			return false
		}
	}
	for _, scan := range report.SecurityScans {
		if scan.TotalBySeverity(security.SeverityCritical) > 0 {
			return false
		}
	}
	return true
}

func (t *Tester) publish(projectID, phase string, kind progress.Kind, percent float64, message string) {
	t.tracker.Publish(progress.Event{
		ProjectID: projectID,
		Phase:     phase,
		Kind:      kind,
		Percent:   percent,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// errorRate is failed/total, defined as 0 for an empty run.
func errorRate(failed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
