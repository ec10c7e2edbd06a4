package tester

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"mcpvet/internal/progress"
	"mcpvet/internal/protocol"
	"mcpvet/pkg/logging"
)

// rpcCaller is the slice of the protocol exchange the benchmark loop
// needs, kept narrow so tests can substitute a fake.
type rpcCaller interface {
	Call(ctx context.Context, method string, params any, timeout time.Duration) (*protocol.Response, error)
}

// benchmarkOperation is one representative request the benchmark issues
// repeatedly.
type benchmarkOperation struct {
	Name   string
	Method string
	Params any
}

// benchmarkOperations is the fixed set of representative operations. Each
// runs against its own fresh process so benchmarks never interfere.
var benchmarkOperations = []benchmarkOperation{
	{Name: "ping", Method: protocol.MethodPing, Params: map[string]any{}},
	{Name: "tools/list", Method: protocol.MethodToolsList, Params: map[string]any{}},
}

func (t *Tester) runBenchmarks(ctx context.Context, projectPath, projectID string) []PerformanceBenchmark {
	t.publish(projectID, PhaseBenchmark, progress.KindPhaseStart, 0,
		fmt.Sprintf("benchmarking %d operations, %d requests each", len(benchmarkOperations), t.opts.BenchmarkRequests))

	benchmarks := make([]PerformanceBenchmark, 0, len(benchmarkOperations))
	for i, op := range benchmarkOperations {
		bench := t.benchmarkOperation(ctx, projectPath, op)
		benchmarks = append(benchmarks, bench)
		t.publish(projectID, PhaseBenchmark, progress.KindPhaseProgress,
			float64(i+1)/float64(len(benchmarkOperations))*100,
			fmt.Sprintf("%s: %.0f req/s, error rate %.1f%%", op.Name, bench.RequestsPerSecond, bench.ErrorRate*100))
	}

	t.publish(projectID, PhaseBenchmark, progress.KindPhaseComplete, 100, "benchmarks finished")
	return benchmarks
}

func (t *Tester) benchmarkOperation(ctx context.Context, projectPath string, op benchmarkOperation) PerformanceBenchmark {
	handle, exchange, err := t.startInstance(ctx, projectPath)
	if err != nil {
		return PerformanceBenchmark{
			Operation: op.Name,
			Errors:    []string{"failed to start process: " + err.Error()},
		}
	}
	defer t.stopInstance(handle, exchange)

	timeout := t.engine.Options().CallTimeout
	if _, err := protocol.Handshake(ctx, exchange, t.engine.Options().ClientVersion, timeout); err != nil {
		return PerformanceBenchmark{
			Operation: op.Name,
			Errors:    []string{"handshake failed: " + err.Error()},
		}
	}

	bench := measureOperation(ctx, exchange, op, t.opts.BenchmarkRequests, timeout)
	// One resource sample per benchmark, taken while the process is still up.
	bench.Resources = sampleOrNil(handle.PID)
	return bench
}

// measureOperation issues requests sequential calls and computes the
// latency statistics. A timed-out or error response counts as a failed
// request, never aborts the loop.
func measureOperation(ctx context.Context, caller rpcCaller, op benchmarkOperation, requests int, timeout time.Duration) PerformanceBenchmark {
	bench := PerformanceBenchmark{
		Operation:     op.Name,
		TotalRequests: requests,
	}

	samples := make([]time.Duration, 0, requests)
	windowStart := time.Now()
	for i := 0; i < requests; i++ {
		callStart := time.Now()
		resp, err := caller.Call(ctx, op.Method, op.Params, timeout)
		elapsed := time.Since(callStart)

		if err != nil || resp.Error != nil {
			bench.FailedRequests++
			if err != nil && len(bench.Errors) < 5 {
				bench.Errors = append(bench.Errors, err.Error())
			}
			continue
		}
		bench.SuccessfulRequests++
		samples = append(samples, elapsed)
	}
	window := time.Since(windowStart)

	bench.ErrorRate = errorRate(bench.FailedRequests, bench.TotalRequests)
	if window > 0 {
		bench.RequestsPerSecond = float64(bench.SuccessfulRequests) / window.Seconds()
	}
	if len(samples) > 0 {
		bench.MinResponseTime, bench.AvgResponseTime, bench.MaxResponseTime, bench.P95ResponseTime = latencyStats(samples)
	}

	logging.Debug("tester", "benchmark %s: %d/%d ok, avg %s, p95 %s",
		op.Name, bench.SuccessfulRequests, bench.TotalRequests, bench.AvgResponseTime, bench.P95ResponseTime)
	return bench
}

// latencyStats computes min, average, max and 95th percentile over a
// nonempty sample set. The percentile uses the nearest-rank method: the
// sample at index ceil(0.95*n)-1 of the ascending-sorted list.
func latencyStats(samples []time.Duration) (min, avg, max, p95 time.Duration) {
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	min = sorted[0]
	max = sorted[len(sorted)-1]

	var total time.Duration
	for _, s := range sorted {
		total += s
	}
	avg = total / time.Duration(len(sorted))

	rank := int(math.Ceil(0.95*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	p95 = sorted[rank]
	return min, avg, max, p95
}
