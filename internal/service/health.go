package service

import (
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/trackparse/api/internal/engine"
	"github.com/trackparse/api/internal/guard"
	"github.com/trackparse/api/internal/model"
	"github.com/trackparse/api/internal/store"
)

// Version is reported by health and system-info queries.
const Version = "1.0.0"

// HealthMonitor is a read-only aggregator over the store and the guard. It
// never mutates state and is safe to call concurrently with any number of
// in-flight jobs.
type HealthMonitor struct {
	store     *store.JobStore
	guard     *guard.ResourceGuard
	analyzer  engine.Analyzer
	startedAt time.Time
}

func NewHealthMonitor(st *store.JobStore, g *guard.ResourceGuard, analyzer engine.Analyzer) *HealthMonitor {
	return &HealthMonitor{
		store:     st,
		guard:     g,
		analyzer:  analyzer,
		startedAt: time.Now(),
	}
}

// Snapshot derives the aggregate system state.
func (h *HealthMonitor) Snapshot() *model.HealthResponse {
	var memPercent float64
	if vm, err := mem.VirtualMemory(); err == nil {
		memPercent = vm.UsedPercent
	}

	status := "healthy"
	if memPercent > 90 {
		status = "degraded"
	}

	return &model.HealthResponse{
		Status:         status,
		Version:        Version,
		Uptime:         time.Since(h.startedAt).Round(time.Second).String(),
		ActiveJobs:     h.guard.Outstanding(),
		QueuedJobs:     h.store.CountByStatus(model.JobStatusQueued),
		Ceiling:        h.guard.Ceiling(),
		MemoryUsage:    memPercent,
		TotalProcessed: h.store.TotalProcessed(),
		ModelsLoaded:   h.analyzer.LoadedModels(),
	}
}
