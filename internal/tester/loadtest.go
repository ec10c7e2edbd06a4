package tester

import (
	"context"
	"fmt"
	"time"

	"mcpvet/internal/progress"
	"mcpvet/internal/protocol"
	"mcpvet/pkg/logging"

	"golang.org/x/sync/errgroup"
)

// userTally is one virtual user's private counters. Each user writes only
// its own slot; the coordinator merges after the pool joins, so no counter
// is ever shared between workers.
type userTally struct {
	successful int
	failed     int
}

// runLoadTest starts one process and hammers it with ConcurrentUsers
// virtual users, each issuing RequestsPerUser sequential ping calls. The
// per-handle exchange lock serializes the pipe; the concurrency lives in
// the callers.
func (t *Tester) runLoadTest(ctx context.Context, projectPath, projectID string) *LoadTestResult {
	users := t.opts.ConcurrentUsers
	perUser := t.opts.RequestsPerUser

	t.publish(projectID, PhaseLoad, progress.KindPhaseStart, 0,
		fmt.Sprintf("load test: %d users x %d requests", users, perUser))

	result := &LoadTestResult{ConcurrentUsers: users}

	handle, exchange, err := t.startInstance(ctx, projectPath)
	if err != nil {
		result.Errors = append(result.Errors, "failed to start process: "+err.Error())
		t.publish(projectID, PhaseLoad, progress.KindError, 100, err.Error())
		return result
	}
	defer t.stopInstance(handle, exchange)

	timeout := t.engine.Options().CallTimeout
	if _, err := protocol.Handshake(ctx, exchange, t.engine.Options().ClientVersion, timeout); err != nil {
		result.Errors = append(result.Errors, "handshake failed: "+err.Error())
		t.publish(projectID, PhaseLoad, progress.KindError, 100, err.Error())
		return result
	}

	result.ResourcesBefore = sampleOrNil(handle.PID)

	tallies := make([]userTally, users)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(t.opts.MaxWorkers)

	windowStart := time.Now()
	for user := 0; user < users; user++ {
		tally := &tallies[user]
		group.Go(func() error {
			for i := 0; i < perUser; i++ {
				resp, err := exchange.Call(groupCtx, protocol.MethodPing, map[string]any{}, timeout)
				if err != nil || resp.Error != nil {
					tally.failed++
				} else {
					tally.successful++
				}
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}
	window := time.Since(windowStart)

	result.ResourcesAfter = sampleOrNil(handle.PID)

	for _, tally := range tallies {
		result.SuccessfulRequests += tally.successful
		result.FailedRequests += tally.failed
	}
	result.TotalRequests = result.SuccessfulRequests + result.FailedRequests
	result.ErrorRate = errorRate(result.FailedRequests, result.TotalRequests)
	if window > 0 {
		result.RequestsPerSecond = float64(result.SuccessfulRequests) / window.Seconds()
	}

	logging.Info("tester", "load test: %d/%d requests ok in %s (%.0f req/s)",
		result.SuccessfulRequests, result.TotalRequests, window.Round(time.Millisecond), result.RequestsPerSecond)
	t.publish(projectID, PhaseLoad, progress.KindPhaseComplete, 100,
		fmt.Sprintf("error rate %.1f%%", result.ErrorRate*100))
	return result
}
