// Package report persists validation and comprehensive test reports as
// JSON artifacts and renders human-readable summaries. Formatting lives
// here, never in the engine.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mcpvet/internal/security"
	"mcpvet/internal/tester"
	"mcpvet/internal/validate"
	"mcpvet/pkg/logging"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Writer persists reports under a single output directory.
type Writer struct {
	dir string
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// SaveValidation writes the report as a timestamped JSON file and returns
// its path.
func (w *Writer) SaveValidation(report *validate.ValidationReport) (string, error) {
	name := fmt.Sprintf("validation_%s_%s.json",
		filepath.Base(report.ProjectPath), report.Timestamp.Format("20060102-150405"))
	return w.save(name, report)
}

// SaveComprehensive writes the full test report as a timestamped JSON
// file and returns its path.
func (w *Writer) SaveComprehensive(report *tester.ComprehensiveTestReport) (string, error) {
	name := fmt.Sprintf("comprehensive_%s_%s.json",
		filepath.Base(report.ProjectPath), report.Timestamp.Format("20060102-150405"))
	return w.save(name, report)
}

func (w *Writer) save(name string, report any) (string, error) {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory %s: %w", w.dir, err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report %s: %w", path, err)
	}
	logging.Info("report", "report written to %s", path)
	return path, nil
}

// RenderValidation writes a phase summary table plus recommendations.
func RenderValidation(out io.Writer, report *validate.ValidationReport) {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.SetStyle(table.StyleLight)
	tw.SetTitle("Validation: %s", report.ProjectPath)
	tw.AppendHeader(table.Row{"Phase", "Result", "Details"})

	tw.AppendRow(table.Row{"startup", passFail(report.Startup != nil && report.Startup.Success), startupDetails(report.Startup)})
	tw.AppendRow(table.Row{"protocol", passFail(report.Protocol != nil && report.Protocol.Success), protocolDetails(report.Protocol)})
	tw.AppendRow(table.Row{"functionality", passFail(report.Functionality != nil && report.Functionality.Success), functionalityDetails(report.Functionality)})
	tw.AppendFooter(table.Row{"overall", passFail(report.OverallSuccess), report.TotalDuration.Round(time.Millisecond)})
	tw.Render()

	renderRecommendations(out, report.Recommendations)
}

// RenderComprehensive writes the validation summary followed by the
// comprehensive sections.
func RenderComprehensive(out io.Writer, report *tester.ComprehensiveTestReport) {
	if report.Validation != nil {
		RenderValidation(out, report.Validation)
	}

	if len(report.Benchmarks) > 0 {
		tw := table.NewWriter()
		tw.SetOutputMirror(out)
		tw.SetStyle(table.StyleLight)
		tw.SetTitle("Benchmarks")
		tw.AppendHeader(table.Row{"Operation", "Requests", "Errors", "Avg", "P95", "Req/s"})
		for _, bench := range report.Benchmarks {
			tw.AppendRow(table.Row{
				bench.Operation,
				bench.TotalRequests,
				fmt.Sprintf("%.1f%%", bench.ErrorRate*100),
				bench.AvgResponseTime.Round(time.Microsecond),
				bench.P95ResponseTime.Round(time.Microsecond),
				fmt.Sprintf("%.0f", bench.RequestsPerSecond),
			})
		}
		tw.Render()
	}

	if len(report.IntegrationResults) > 0 {
		tw := table.NewWriter()
		tw.SetOutputMirror(out)
		tw.SetStyle(table.StyleLight)
		tw.SetTitle("Client Integration")
		tw.AppendHeader(table.Row{"Client", "Connected", "Handshake", "Compatibility"})
		for _, integration := range report.IntegrationResults {
			tw.AppendRow(table.Row{
				integration.ClientName,
				passFail(integration.ConnectionSuccessful),
				integration.HandshakeTime.Round(time.Millisecond),
				fmt.Sprintf("%.2f", integration.CompatibilityScore),
			})
		}
		tw.Render()
	}

	for name, load := range report.LoadTests {
		tw := table.NewWriter()
		tw.SetOutputMirror(out)
		tw.SetStyle(table.StyleLight)
		tw.SetTitle("Load Test (%s)", name)
		tw.AppendHeader(table.Row{"Users", "Total", "Failed", "Error Rate", "Req/s"})
		tw.AppendRow(table.Row{
			load.ConcurrentUsers,
			load.TotalRequests,
			load.FailedRequests,
			fmt.Sprintf("%.1f%%", load.ErrorRate*100),
			fmt.Sprintf("%.0f", load.RequestsPerSecond),
		})
		tw.Render()
	}

	for name, scan := range report.SecurityScans {
		tw := table.NewWriter()
		tw.SetOutputMirror(out)
		tw.SetStyle(table.StyleLight)
		tw.SetTitle("Security Scan (%s)", name)
		tw.AppendHeader(table.Row{"Category", "Critical", "High", "Medium", "Low"})
		for _, category := range []security.Category{security.CategoryDependency, security.CategoryCode, security.CategoryConfiguration} {
			counts := scan.Counts[category]
			tw.AppendRow(table.Row{
				string(category),
				counts[security.SeverityCritical],
				counts[security.SeverityHigh],
				counts[security.SeverityMedium],
				counts[security.SeverityLow],
			})
		}
		tw.Render()
	}

	renderRecommendations(out, report.Recommendations)
	fmt.Fprintf(out, "\nOverall: %s in %s\n", passFail(report.OverallSuccess), report.TotalDuration.Round(time.Millisecond))
}

func renderRecommendations(out io.Writer, recommendations []string) {
	if len(recommendations) == 0 {
		return
	}
	fmt.Fprintln(out, "\nRecommendations:")
	for _, rec := range recommendations {
		fmt.Fprintf(out, "  - %s\n", rec)
	}
}

func passFail(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}

func startupDetails(result *validate.ServerStartupResult) string {
	if result == nil {
		return "not run"
	}
	if !result.Success {
		return firstOr(result.Errors, "failed")
	}
	return fmt.Sprintf("PID %d, up in %s", result.PID, result.StartupTime.Round(time.Millisecond))
}

func protocolDetails(result *validate.ProtocolComplianceResult) string {
	if result == nil {
		return "not run"
	}
	if len(result.MissingCapabilities) > 0 {
		return "missing: " + strings.Join(result.MissingCapabilities, ", ")
	}
	if !result.Success {
		return firstOr(result.Errors, "failed")
	}
	return fmt.Sprintf("%s, capabilities: %s", result.ProtocolVersion, strings.Join(result.SupportedCapabilities, ", "))
}

func functionalityDetails(result *validate.FunctionalityTestResult) string {
	if result == nil {
		return "not run"
	}
	return fmt.Sprintf("%d capabilities exercised", result.TotalCapabilities())
}

func firstOr(items []string, fallback string) string {
	if len(items) > 0 {
		return items[0]
	}
	return fallback
}
