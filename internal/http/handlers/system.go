package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/bleedingxiko/ghoststream/internal/ffmpeg"
	"github.com/bleedingxiko/ghoststream/internal/jobs"
	"github.com/bleedingxiko/ghoststream/internal/version"
)

// SystemHandler serves capabilities, stats, health, and cleanup
// operations.
type SystemHandler struct {
	caps      *ffmpeg.Capabilities
	manager   *jobs.Manager
	workDir   string
	startTime time.Time
}

// NewSystemHandler creates a system handler.
func NewSystemHandler(caps *ffmpeg.Capabilities, manager *jobs.Manager, workDir string) *SystemHandler {
	return &SystemHandler{
		caps:      caps,
		manager:   manager,
		workDir:   workDir,
		startTime: time.Now(),
	}
}

// Register registers the system routes with the API.
func (h *SystemHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns service liveness plus job and host statistics",
		Tags:        []string{"System"},
	}, h.Health)

	huma.Register(api, huma.Operation{
		OperationID: "getCapabilities",
		Method:      "GET",
		Path:        "/api/v1/capabilities",
		Summary:     "Get capabilities",
		Description: "Returns the capability snapshot built at startup",
		Tags:        []string{"System"},
	}, h.Capabilities)

	huma.Register(api, huma.Operation{
		OperationID: "getStats",
		Method:      "GET",
		Path:        "/api/v1/stats",
		Summary:     "Get statistics",
		Description: "Returns job processing counters and uptime",
		Tags:        []string{"System"},
	}, h.Stats)

	huma.Register(api, huma.Operation{
		OperationID: "getCleanupStats",
		Method:      "GET",
		Path:        "/api/v1/cleanup/stats",
		Summary:     "Get cleanup statistics",
		Description: "Returns counts of total, active, ready, cleaned, and near-expiry jobs",
		Tags:        []string{"System"},
	}, h.CleanupStats)

	huma.Register(api, huma.Operation{
		OperationID: "runCleanup",
		Method:      "POST",
		Path:        "/api/v1/cleanup/run",
		Summary:     "Run cleanup",
		Description: "Runs an on-demand TTL sweep and orphan reclamation",
		Tags:        []string{"System"},
	}, h.RunCleanup)
}

// HostStats is a small gopsutil-backed view of the host.
type HostStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPercent   float64 `json:"disk_percent"`
	UptimeSeconds int64   `json:"host_uptime_seconds"`
}

// HealthOutput is the health check response.
type HealthOutput struct {
	Body struct {
		Status      string    `json:"status"`
		Version     string    `json:"version"`
		Uptime      float64   `json:"uptime_seconds"`
		ActiveJobs  int       `json:"active_jobs"`
		QueueLength int       `json:"queue_length"`
		MaxJobs     int       `json:"max_concurrent_jobs"`
		HWAccels    []string  `json:"hw_accels"`
		Host        HostStats `json:"host"`
	}
}

// Health handles GET /health.
func (h *SystemHandler) Health(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	out := &HealthOutput{}
	out.Body.Status = "ok"
	out.Body.Version = version.Version
	out.Body.Uptime = time.Since(h.startTime).Seconds()
	out.Body.ActiveJobs = h.manager.ActiveCount()
	out.Body.QueueLength = h.manager.QueueLength()
	out.Body.MaxJobs = h.caps.MaxConcurrentJobs
	for _, hw := range h.caps.AvailableHWAccels() {
		out.Body.HWAccels = append(out.Body.HWAccels, hw.String())
	}
	out.Body.Host = collectHostStats(ctx, h.workDir)
	return out, nil
}

// collectHostStats gathers best-effort host metrics; failures leave
// zeroes.
func collectHostStats(ctx context.Context, workDir string) HostStats {
	stats := HostStats{}
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		stats.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.MemoryPercent = vm.UsedPercent
	}
	if du, err := disk.UsageWithContext(ctx, workDir); err == nil {
		stats.DiskPercent = du.UsedPercent
	}
	if uptime, err := host.UptimeWithContext(ctx); err == nil {
		stats.UptimeSeconds = int64(uptime)
	}
	return stats
}

// CapabilitiesOutput wraps the capability snapshot.
type CapabilitiesOutput struct {
	Body *ffmpeg.Capabilities
}

// Capabilities handles GET /api/v1/capabilities.
func (h *SystemHandler) Capabilities(_ context.Context, _ *struct{}) (*CapabilitiesOutput, error) {
	return &CapabilitiesOutput{Body: h.caps}, nil
}

// StatsOutput wraps the job counters.
type StatsOutput struct {
	Body jobs.Snapshot
}

// Stats handles GET /api/v1/stats.
func (h *SystemHandler) Stats(_ context.Context, _ *struct{}) (*StatsOutput, error) {
	return &StatsOutput{Body: h.manager.Stats()}, nil
}

// CleanupStatsOutput wraps the cleanup counts.
type CleanupStatsOutput struct {
	Body jobs.CleanupStats
}

// CleanupStats handles GET /api/v1/cleanup/stats.
func (h *SystemHandler) CleanupStats(_ context.Context, _ *struct{}) (*CleanupStatsOutput, error) {
	return &CleanupStatsOutput{Body: h.manager.GetCleanupStats()}, nil
}

// CleanupRunOutput wraps one sweep's results.
type CleanupRunOutput struct {
	Body jobs.CleanupResult
}

// RunCleanup handles POST /api/v1/cleanup/run.
func (h *SystemHandler) RunCleanup(_ context.Context, _ *struct{}) (*CleanupRunOutput, error) {
	return &CleanupRunOutput{Body: h.manager.RunCleanup()}, nil
}
