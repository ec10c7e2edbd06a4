package tester

import (
	"context"
	"fmt"
	"time"

	"mcpvet/internal/progress"
	"mcpvet/internal/protocol"

	"github.com/mark3labs/mcp-go/mcp"
)

// clientProfile simulates one MCP client and the feature set it would
// exercise after connecting.
type clientProfile struct {
	Name     string
	Features []string
}

// clientProfiles is the fixed list of simulated clients. Feature names
// are capability kinds, exercised through the corresponding list call.
var clientProfiles = []clientProfile{
	{Name: "full-featured-client", Features: []string{"tools", "resources", "prompts"}},
	{Name: "tools-only-client", Features: []string{"tools"}},
	{Name: "inspector-client", Features: []string{"tools", "resources"}},
}

func (t *Tester) runIntegration(ctx context.Context, projectPath, projectID string) []IntegrationTestResult {
	t.publish(projectID, PhaseIntegration, progress.KindPhaseStart, 0,
		fmt.Sprintf("simulating %d client profiles", len(clientProfiles)))

	results := make([]IntegrationTestResult, 0, len(clientProfiles))
	for i, profile := range clientProfiles {
		result := t.testClient(ctx, projectPath, profile)
		results = append(results, result)
		t.publish(projectID, PhaseIntegration, progress.KindPhaseProgress,
			float64(i+1)/float64(len(clientProfiles))*100,
			fmt.Sprintf("%s: compatibility %.2f", profile.Name, result.CompatibilityScore))
	}

	t.publish(projectID, PhaseIntegration, progress.KindPhaseComplete, 100, "integration tests finished")
	return results
}

// testClient runs one simulated client session against a fresh process.
// Any failure while connecting or writing yields a zero-score, all-failed
// result; nothing escapes to the caller.
func (t *Tester) testClient(ctx context.Context, projectPath string, profile clientProfile) IntegrationTestResult {
	result := IntegrationTestResult{
		ClientName:        profile.Name,
		SupportedFeatures: []string{},
		FailedFeatures:    []string{},
	}

	handle, exchange, err := t.startInstance(ctx, projectPath)
	if err != nil {
		result.FailedFeatures = append(result.FailedFeatures, profile.Features...)
		result.Errors = append(result.Errors, "failed to start process: "+err.Error())
		return result
	}
	defer t.stopInstance(handle, exchange)

	timeout := t.engine.Options().CallTimeout
	handshakeStart := time.Now()
	initResult, err := protocol.Handshake(ctx, exchange, t.engine.Options().ClientVersion, timeout)
	if err != nil {
		result.FailedFeatures = append(result.FailedFeatures, profile.Features...)
		result.Errors = append(result.Errors, "handshake failed: "+err.Error())
		return result
	}
	result.ConnectionSuccessful = true
	result.HandshakeTime = time.Since(handshakeStart)

	for _, feature := range profile.Features {
		if err := t.exerciseFeature(ctx, exchange, initResult.Capabilities, feature, timeout); err != nil {
			result.FailedFeatures = append(result.FailedFeatures, feature)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", feature, err))
		} else {
			result.SupportedFeatures = append(result.SupportedFeatures, feature)
		}
	}

	if len(profile.Features) > 0 {
		result.CompatibilityScore = float64(len(result.SupportedFeatures)) / float64(len(profile.Features))
	}
	return result
}

func (t *Tester) exerciseFeature(ctx context.Context, exchange *protocol.Exchange, caps mcp.ServerCapabilities, feature string, timeout time.Duration) error {
	switch feature {
	case "tools":
		if caps.Tools == nil {
			return fmt.Errorf("capability not advertised")
		}
		_, err := protocol.ListTools(ctx, exchange, timeout)
		return err
	case "resources":
		if caps.Resources == nil {
			return fmt.Errorf("capability not advertised")
		}
		_, err := protocol.ListResources(ctx, exchange, timeout)
		return err
	case "prompts":
		if caps.Prompts == nil {
			return fmt.Errorf("capability not advertised")
		}
		_, err := protocol.ListPrompts(ctx, exchange, timeout)
		return err
	default:
		return fmt.Errorf("unknown feature %q", feature)
	}
}
