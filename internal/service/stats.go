package service

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/castarr/castarr/internal/database"
	"github.com/castarr/castarr/internal/engine"
	"github.com/castarr/castarr/internal/version"
)

// SystemStats is a point-in-time view of host resource usage.
type SystemStats struct {
	CPUCores       int     `json:"cpu_cores"`
	CPUPercent     float64 `json:"cpu_percent"`
	LoadAvg1M      float64 `json:"load_avg_1m"`
	MemoryTotal    uint64  `json:"memory_total_bytes"`
	MemoryUsed     uint64  `json:"memory_used_bytes"`
	MemoryPercent  float64 `json:"memory_percent"`
	DiskTotal      uint64  `json:"disk_total_bytes"`
	DiskUsed       uint64  `json:"disk_used_bytes"`
	DiskPercent    float64 `json:"disk_percent"`
	GoroutineCount int     `json:"goroutine_count"`
}

// EngineStats combines host, engine and session telemetry for the stats
// endpoint.
type EngineStats struct {
	Version          string         `json:"version"`
	UptimeSeconds    int64          `json:"uptime_seconds"`
	ActivePipelines  int            `json:"active_pipelines"`
	Connections      int            `json:"connections"`
	Bandwidth        int64          `json:"bandwidth"` // bytes per second
	TotalBytesServed int64          `json:"total_bytes_served"`
	DatabaseOK       bool           `json:"database_ok"`
	System           SystemStats    `json:"system"`
	Latest           *engine.Sample `json:"latest_sample,omitempty"`
}

// StatsService assembles the runtime stats surface from the supervisor,
// session tracker, segment store and telemetry sampler.
type StatsService struct {
	db         *database.DB
	supervisor *engine.Supervisor
	sessions   *engine.SessionTracker
	store      *engine.SegmentStore
	sampler    *engine.Sampler
	segmentDir string
	startedAt  time.Time
}

// NewStatsService creates a StatsService.
func NewStatsService(db *database.DB, supervisor *engine.Supervisor, sessions *engine.SessionTracker, store *engine.SegmentStore, sampler *engine.Sampler, segmentDir string) *StatsService {
	return &StatsService{
		db:         db,
		supervisor: supervisor,
		sessions:   sessions,
		store:      store,
		sampler:    sampler,
		segmentDir: segmentDir,
		startedAt:  time.Now(),
	}
}

// Current gathers the current stats snapshot. Host metrics that fail to
// collect are left at their zero value rather than failing the request.
func (s *StatsService) Current(ctx context.Context) *EngineStats {
	stats := &EngineStats{
		Version:          version.Version,
		UptimeSeconds:    int64(time.Since(s.startedAt).Seconds()),
		ActivePipelines:  s.supervisor.ActiveCount(),
		Connections:      s.sessions.CountAll(),
		TotalBytesServed: s.store.TotalBytesServed(),
		DatabaseOK:       s.db.Ping(ctx) == nil,
		System:           s.collectSystem(ctx),
	}

	if sample, ok := s.sampler.Current(); ok {
		stats.Bandwidth = sample.Bandwidth
		stats.Latest = &sample
	}
	return stats
}

// History returns the sampled telemetry window, downsampled to at most n
// points when n is positive.
func (s *StatsService) History(n int) []engine.Sample {
	samples := s.sampler.History()
	if n > 0 && len(samples) > n {
		return engine.Downsample(samples, n)
	}
	return samples
}

// collectSystem gathers host resource usage via gopsutil.
func (s *StatsService) collectSystem(ctx context.Context) SystemStats {
	sys := SystemStats{GoroutineCount: runtime.NumGoroutine()}

	if cpuCounts, err := cpu.CountsWithContext(ctx, true); err == nil {
		sys.CPUCores = cpuCounts
	}
	if cpuPercents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(cpuPercents) > 0 {
		sys.CPUPercent = cpuPercents[0]
	}
	if loadAvg, err := load.AvgWithContext(ctx); err == nil {
		sys.LoadAvg1M = loadAvg.Load1
	}
	if memInfo, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		sys.MemoryTotal = memInfo.Total
		sys.MemoryUsed = memInfo.Used
		sys.MemoryPercent = memInfo.UsedPercent
	}
	if diskInfo, err := disk.UsageWithContext(ctx, s.segmentDir); err == nil {
		sys.DiskTotal = diskInfo.Total
		sys.DiskUsed = diskInfo.Used
		sys.DiskPercent = diskInfo.UsedPercent
	}
	return sys
}
