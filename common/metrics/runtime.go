package metrics

import (
	"context"
	"runtime"
	"sync"
)

// SystemInfo holds static host information captured once at startup
type SystemInfo struct {
	OS               string `json:"os"`                          // linux, darwin
	OSVersion        string `json:"os_version"`                  // distribution/release
	Arch             string `json:"arch"`                        // amd64, arm64
	Hostname         string `json:"hostname"`                    // machine hostname
	CPUCores         int    `json:"cpu_cores"`                   // physical cores
	CPULogical       int    `json:"cpu_logical"`                 // logical CPUs
	TotalMemoryMB    uint64 `json:"total_memory_mb"`             // system RAM in MB
	GoVersion        string `json:"go_version"`                  // Go runtime version
	InContainer      bool   `json:"in_container"`                // running in docker/k8s
	ContainerRuntime string `json:"container_runtime,omitempty"` // docker, containerd
}

var (
	systemInfo     *SystemInfo
	systemInfoOnce sync.Once
)

// GetSystemInfo returns cached system information (captured once)
func GetSystemInfo() *SystemInfo {
	systemInfoOnce.Do(func() {
		systemInfo = captureSystemInfo()
	})
	return systemInfo
}

// ToMap converts SystemInfo to a map for logging and health responses
func (si *SystemInfo) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"os":              si.OS,
		"os_version":      si.OSVersion,
		"arch":            si.Arch,
		"hostname":        si.Hostname,
		"cpu_cores":       si.CPUCores,
		"cpu_logical":     si.CPULogical,
		"total_memory_mb": si.TotalMemoryMB,
		"go_version":      si.GoVersion,
		"in_container":    si.InContainer,
	}
	if si.ContainerRuntime != "" {
		m["container_runtime"] = si.ContainerRuntime
	}
	return m
}

// RuntimeMetrics captures heap and goroutine usage around one fetch
type RuntimeMetrics struct {
	MemoryStartMB  float64
	MemoryPeakMB   float64
	MemoryEndMB    float64
	GoroutineStart int
	GoroutineEnd   int
}

// CaptureStart samples runtime metrics at the beginning of a fetch
func CaptureStart(ctx context.Context) *RuntimeMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return &RuntimeMetrics{
		MemoryStartMB:  bytesToMB(m.Alloc),
		MemoryPeakMB:   bytesToMB(m.Alloc),
		GoroutineStart: runtime.NumGoroutine(),
	}
}

// Sample folds the current heap size into the peak. Call it between
// batches of a long fetch.
func (rm *RuntimeMetrics) Sample() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if mb := bytesToMB(m.Alloc); mb > rm.MemoryPeakMB {
		rm.MemoryPeakMB = mb
	}
}

// Finalize completes the capture at the end of a fetch
func (rm *RuntimeMetrics) Finalize(ctx context.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	rm.MemoryEndMB = bytesToMB(m.Alloc)
	rm.GoroutineEnd = runtime.NumGoroutine()
	if rm.MemoryEndMB > rm.MemoryPeakMB {
		rm.MemoryPeakMB = rm.MemoryEndMB
	}
}

// ToMap converts RuntimeMetrics to telemetry attributes
func (rm *RuntimeMetrics) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"memory_start_mb": rm.MemoryStartMB,
		"memory_peak_mb":  rm.MemoryPeakMB,
		"memory_end_mb":   rm.MemoryEndMB,
		"goroutine_start": rm.GoroutineStart,
		"goroutine_end":   rm.GoroutineEnd,
	}
}

func bytesToMB(b uint64) float64 {
	return float64(b) / 1024 / 1024
}
