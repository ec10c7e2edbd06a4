package tester

import (
	"fmt"

	psprocess "github.com/shirou/gopsutil/v3/process"

	"mcpvet/pkg/logging"
)

// ResourceSampleError indicates process introspection failed. Benchmarks
// and load tests continue with nil resource fields when it occurs.
type ResourceSampleError struct {
	PID int
	Err error
}

func (e *ResourceSampleError) Error() string {
	return fmt.Sprintf("failed to sample resources of PID %d: %v", e.PID, e.Err)
}

func (e *ResourceSampleError) Unwrap() error { return e.Err }

// sampleResources reads memory and CPU usage of the given process once.
func sampleResources(pid int) (*ResourceSample, error) {
	proc, err := psprocess.NewProcess(int32(pid))
	if err != nil {
		return nil, &ResourceSampleError{PID: pid, Err: err}
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return nil, &ResourceSampleError{PID: pid, Err: err}
	}
	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		return nil, &ResourceSampleError{PID: pid, Err: err}
	}
	return &ResourceSample{
		MemoryMB:   float64(memInfo.RSS) / (1024 * 1024),
		CPUPercent: cpuPercent,
	}, nil
}

// sampleOrNil logs and swallows sampling failures.
func sampleOrNil(pid int) *ResourceSample {
	sample, err := sampleResources(pid)
	if err != nil {
		logging.Warn("tester", "%v", err)
		return nil
	}
	return sample
}
