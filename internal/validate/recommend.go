package validate

import (
	"fmt"
	"strings"
	"time"
)

// StartupTimeThreshold is the startup time above which an optimization
// recommendation is produced.
const StartupTimeThreshold = 5 * time.Second

// buildRecommendations derives the recommendation list deterministically
// from the three phase results. The order is fixed: startup, protocol,
// functionality, timing.
func buildRecommendations(report *ValidationReport) []string {
	var recs []string

	if report.Startup == nil || !report.Startup.Success {
		recs = append(recs, "Server fails to start - fix startup issues before deployment")
	}

	if report.Protocol != nil && len(report.Protocol.MissingCapabilities) > 0 {
		recs = append(recs, fmt.Sprintf("Implement missing baseline capabilities: %s",
			strings.Join(report.Protocol.MissingCapabilities, ", ")))
	}

	if report.Functionality != nil && report.Functionality.TotalCapabilities() == 0 {
		recs = append(recs, "Server declares no tools, resources or prompts - add at least one capability")
	}

	if report.Startup != nil && report.Startup.Success && report.Startup.StartupTime > StartupTimeThreshold {
		recs = append(recs, fmt.Sprintf("Startup took %s (threshold %s) - optimize server startup",
			report.Startup.StartupTime.Round(time.Millisecond), StartupTimeThreshold))
	}

	return recs
}
