package jobs

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/robfig/cron/v3"
)

// recordRetention keeps reclaimed terminal job records queryable until a
// day has passed since the job completed.
const recordRetention = 24 * time.Hour

// CleanupStats summarises the cleanup-relevant shape of the job table.
type CleanupStats struct {
	TotalJobs   int    `json:"total_jobs"`
	ActiveJobs  int    `json:"active_jobs"`
	ReadyJobs   int    `json:"ready_jobs"`
	CleanedJobs int    `json:"cleaned_jobs"`
	NearExpiry  int    `json:"near_expiry"`
	WorkDir     string `json:"work_dir"`
}

// CleanupResult reports one sweep's effects.
type CleanupResult struct {
	ReclaimedJobs  int `json:"reclaimed_jobs"`
	RemovedRecords int `json:"removed_records"`
	OrphanDirs     int `json:"orphan_dirs"`
}

// CleanupScheduler periodically expires idle jobs by TTL and reclaims
// orphan directories. The periodic sweep runs on the cron goroutine;
// RunCleanup runs one on demand in the caller's goroutine.
type CleanupScheduler struct {
	manager *Manager
	cron    *cron.Cron
	logger  *slog.Logger
}

// NewCleanupScheduler creates a cleanup scheduler over a manager.
func NewCleanupScheduler(manager *Manager, logger *slog.Logger) *CleanupScheduler {
	return &CleanupScheduler{
		manager: manager,
		cron:    cron.New(),
		logger:  logger.With(slog.String("component", "cleanup")),
	}
}

// Start reclaims orphans once, then schedules the periodic sweep.
func (s *CleanupScheduler) Start() error {
	orphans := s.manager.ReclaimOrphans()
	if orphans > 0 {
		s.logger.Info("reclaimed orphan directories", slog.Int("count", orphans))
	}

	interval := s.manager.cfg.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	spec := fmt.Sprintf("@every %s", interval)
	if _, err := s.cron.AddFunc(spec, func() {
		result := s.manager.SweepExpired()
		if result.ReclaimedJobs > 0 || result.RemovedRecords > 0 {
			s.logger.Info("cleanup sweep",
				slog.Int("reclaimed", result.ReclaimedJobs),
				slog.Int("removed_records", result.RemovedRecords),
			)
		}
	}); err != nil {
		return fmt.Errorf("scheduling cleanup sweep: %w", err)
	}

	s.cron.Start()
	return nil
}

// Stop halts the periodic sweep.
func (s *CleanupScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// SweepExpired reclaims artifacts of terminal jobs past their TTL and
// drops records long past completion. Streaming outputs expire on a
// shorter clock than batch outputs.
func (m *Manager) SweepExpired() CleanupResult {
	now := time.Now()
	var reclaim []string
	var remove []string

	m.mu.Lock()
	for id, job := range m.jobs {
		if !job.State.IsTerminal() {
			continue
		}

		if job.CleanedUp {
			if !job.CompletedAt.IsZero() && now.Sub(job.CompletedAt) > recordRetention {
				remove = append(remove, id)
			}
			continue
		}

		age := now.Sub(job.LastAccessed)
		if age > m.ttlFor(job) {
			job.CleanedUp = true
			reclaim = append(reclaim, id)
		}
	}
	for _, id := range remove {
		delete(m.jobs, id)
	}
	m.mu.Unlock()

	for _, id := range reclaim {
		m.reclaimDir(id)
	}

	return CleanupResult{
		ReclaimedJobs:  len(reclaim),
		RemovedRecords: len(remove),
	}
}

// ReclaimOrphans deletes work-directory entries with no matching job
// record. Runs at startup and from RunCleanup; directories of tracked
// jobs are left alone.
func (m *Manager) ReclaimOrphans() int {
	entries, err := os.ReadDir(m.cfg.WorkDir)
	if err != nil {
		return 0
	}

	m.mu.RLock()
	known := make(map[string]bool, len(m.jobs))
	for id := range m.jobs {
		known[id] = true
	}
	m.mu.RUnlock()

	cleaned := 0
	for _, entry := range entries {
		if !entry.IsDir() || known[entry.Name()] {
			continue
		}
		m.reclaimDir(entry.Name())
		cleaned++
	}
	return cleaned
}

// RunCleanup performs an on-demand sweep plus orphan reclamation.
func (m *Manager) RunCleanup() CleanupResult {
	result := m.SweepExpired()
	result.OrphanDirs = m.ReclaimOrphans()
	return result
}

// GetCleanupStats reports the cleanup-relevant job counts. Near-expiry
// means past 80% of the TTL.
func (m *Manager) GetCleanupStats() CleanupStats {
	now := time.Now()
	stats := CleanupStats{WorkDir: m.cfg.WorkDir}

	m.mu.RLock()
	defer m.mu.RUnlock()

	stats.TotalJobs = len(m.jobs)
	for _, job := range m.jobs {
		switch {
		case !job.State.IsTerminal():
			stats.ActiveJobs++
		case job.CleanedUp:
			stats.CleanedJobs++
		case job.State == StateReady:
			stats.ReadyJobs++
			if !job.CompletedAt.IsZero() {
				age := now.Sub(job.LastAccessed)
				if float64(age) > float64(m.ttlFor(job))*0.8 {
					stats.NearExpiry++
				}
			}
		}
	}
	return stats
}

// ttlFor picks the TTL by output shape.
func (m *Manager) ttlFor(job *Job) time.Duration {
	if job.Request.Mode.IsStreaming() {
		return m.cfg.StreamTTL
	}
	return m.cfg.CleanupAfter
}
