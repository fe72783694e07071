package scheduler

import (
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/fathomdata/tidemark/logger"
)

// SystemMetrics is a point-in-time snapshot of scheduler load and host
// memory, surfaced through the status command.
type SystemMetrics struct {
	WorkersActive int     `json:"workers_active"`
	WorkersTotal  int     `json:"workers_total"`
	QueueDepth    int     `json:"queue_depth"`
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent"`
}

const bytesPerGB = 1024 * 1024 * 1024

// collectMemory fills the memory fields. Failures leave them zero; a
// status probe must never take the scheduler down.
func collectMemory(m *SystemMetrics) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		logger.Debugw("Failed to read memory stats", logger.FieldError, err)
		return
	}
	m.MemoryUsedGB = float64(vm.Used) / bytesPerGB
	m.MemoryTotalGB = float64(vm.Total) / bytesPerGB
	m.MemoryPercent = vm.UsedPercent
}
