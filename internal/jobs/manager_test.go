package jobs

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bleedingxiko/ghoststream/internal/config"
	"github.com/bleedingxiko/ghoststream/internal/ffmpeg"
	"github.com/bleedingxiko/ghoststream/internal/progress"
)

// newTestManager builds a manager with a temp work directory. Workers
// are not started, so queued jobs stay queued.
func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := config.TranscodingConfig{
		WorkDir:           t.TempDir(),
		MaxConcurrentJobs: 2,
		SegmentDuration:   4,
		RetryCount:        3,
		RetryDelay:        time.Millisecond,
		StreamTTL:         time.Hour,
		CleanupAfter:      24 * time.Hour,
		CleanupInterval:   5 * time.Minute,
	}
	caps := &ffmpeg.Capabilities{
		HWAccels: []ffmpeg.HWAccelCapability{
			{Type: ffmpeg.HWAccelSoftware, Available: true},
		},
	}
	logger := slog.Default()
	selector := ffmpeg.NewEncoderSelector(caps, "", "", logger)
	filters := ffmpeg.NewFilterBuilder(true)
	planner := ffmpeg.NewCommandPlanner(selector, filters, 4, 4, "test")
	broadcaster := progress.NewBroadcaster(logger)

	return NewManager(cfg, "http://localhost:8765",
		ffmpeg.NewProber("ffprobe", time.Second, logger),
		planner,
		ffmpeg.NewSupervisor("ffmpeg", logger),
		selector,
		broadcaster,
		logger,
	)
}

func TestCreateAndGet(t *testing.T) {
	m := newTestManager(t)

	view, err := m.Create(Request{Source: "/media/in.mp4"})
	require.NoError(t, err)
	assert.Equal(t, StateQueued, view.State)
	assert.NotEmpty(t, view.ID)

	got, err := m.Get(view.ID, true)
	require.NoError(t, err)
	assert.Equal(t, view.ID, got.ID)

	_, err = m.Get("nope", false)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestCreate_InvalidRequest(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Create(Request{})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Zero(t, m.QueueLength())
}

func TestCancel_QueuedJob(t *testing.T) {
	m := newTestManager(t)

	view, err := m.Create(Request{Source: "/media/in.mp4"})
	require.NoError(t, err)

	require.NoError(t, m.Cancel(view.ID))

	got, err := m.Get(view.ID, false)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, got.State)
}

func TestCancel_Idempotence(t *testing.T) {
	m := newTestManager(t)

	view, err := m.Create(Request{Source: "/media/in.mp4"})
	require.NoError(t, err)

	require.NoError(t, m.Cancel(view.ID))
	first, err := m.Get(view.ID, false)
	require.NoError(t, err)

	// Second cancel: not cancellable, no state change.
	err = m.Cancel(view.ID)
	assert.ErrorIs(t, err, ErrNotCancellable)

	second, err := m.Get(view.ID, false)
	require.NoError(t, err)
	assert.Equal(t, first.State, second.State)

	assert.ErrorIs(t, m.Cancel("nope"), ErrJobNotFound)
}

func TestDelete(t *testing.T) {
	m := newTestManager(t)

	view, err := m.Create(Request{Source: "/media/in.mp4"})
	require.NoError(t, err)

	jobDir := m.cfg.JobDir(view.ID)
	require.NoError(t, os.MkdirAll(jobDir, 0o755))

	require.NoError(t, m.Delete(view.ID))

	_, err = m.Get(view.ID, false)
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.NoDirExists(t, jobDir)

	assert.ErrorIs(t, m.Delete("nope"), ErrJobNotFound)
}

// seedTerminalJob plants a terminal job record with an on-disk dir.
func seedTerminalJob(t *testing.T, m *Manager, id string, state State, mode Mode, lastAccess time.Time) *Job {
	t.Helper()
	job := &Job{
		ID:           id,
		Request:      Request{Source: "x", Mode: mode},
		State:        state,
		CreatedAt:    lastAccess,
		CompletedAt:  lastAccess,
		LastAccessed: lastAccess,
		cancel:       make(chan struct{}),
	}
	m.mu.Lock()
	m.jobs[id] = job
	m.mu.Unlock()
	require.NoError(t, os.MkdirAll(m.cfg.JobDir(id), 0o755))
	return job
}

func TestSweepExpired(t *testing.T) {
	m := newTestManager(t)

	old := time.Now().Add(-2 * time.Hour)
	fresh := time.Now()

	seedTerminalJob(t, m, "expired-stream", StateReady, ModeStream, old)
	seedTerminalJob(t, m, "fresh-stream", StateReady, ModeStream, fresh)
	seedTerminalJob(t, m, "old-batch", StateReady, ModeBatch, old) // batch TTL is 24h

	result := m.SweepExpired()
	assert.Equal(t, 1, result.ReclaimedJobs)

	assert.NoDirExists(t, m.cfg.JobDir("expired-stream"))
	assert.DirExists(t, m.cfg.JobDir("fresh-stream"))
	assert.DirExists(t, m.cfg.JobDir("old-batch"))

	// The record survives reclamation; only artifacts are gone.
	_, err := m.Get("expired-stream", false)
	assert.NoError(t, err)
}

func TestSweepExpired_RemovesAncientRecords(t *testing.T) {
	m := newTestManager(t)

	ancient := time.Now().Add(-48 * time.Hour)
	job := seedTerminalJob(t, m, "ancient", StateReady, ModeStream, ancient)
	job.CleanedUp = true

	result := m.SweepExpired()
	assert.Equal(t, 1, result.RemovedRecords)

	_, err := m.Get("ancient", false)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestReclaimOrphans_SparesLiveJobs(t *testing.T) {
	m := newTestManager(t)

	view, err := m.Create(Request{Source: "/media/in.mp4"})
	require.NoError(t, err)
	liveDir := m.cfg.JobDir(view.ID)
	require.NoError(t, os.MkdirAll(liveDir, 0o755))

	orphanDir := filepath.Join(m.cfg.WorkDir, "dead-beef")
	require.NoError(t, os.MkdirAll(orphanDir, 0o755))

	cleaned := m.ReclaimOrphans()
	assert.Equal(t, 1, cleaned)
	assert.DirExists(t, liveDir, "live job directories are never reclaimed")
	assert.NoDirExists(t, orphanDir)
}

func TestGetCleanupStats(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Create(Request{Source: "/media/in.mp4"})
	require.NoError(t, err)
	seedTerminalJob(t, m, "done", StateReady, ModeStream, time.Now())
	nearly := seedTerminalJob(t, m, "nearly", StateReady, ModeStream, time.Now().Add(-55*time.Minute))
	_ = nearly
	cleaned := seedTerminalJob(t, m, "cleaned", StateError, ModeStream, time.Now())
	cleaned.CleanedUp = true

	stats := m.GetCleanupStats()
	assert.Equal(t, 4, stats.TotalJobs)
	assert.Equal(t, 1, stats.ActiveJobs)
	assert.Equal(t, 2, stats.ReadyJobs)
	assert.Equal(t, 1, stats.CleanedJobs)
	assert.Equal(t, 1, stats.NearExpiry)
}

func TestStatsRecording(t *testing.T) {
	stats := NewStats()
	now := time.Now()

	stats.RecordComplete(&Job{
		State:       StateReady,
		HWAccelUsed: ffmpeg.HWAccelNVENC,
		Progress:    ffmpeg.Progress{Speed: 2.0, TotalSize: 1024},
		StartedAt:   now.Add(-time.Minute),
		CompletedAt: now,
	})
	stats.RecordComplete(&Job{State: StateError})
	stats.RecordComplete(&Job{State: StateCancelled})

	snap := stats.Snapshot()
	assert.Equal(t, 3, snap.TotalProcessed)
	assert.Equal(t, 1, snap.Succeeded)
	assert.Equal(t, 1, snap.Failed)
	assert.Equal(t, 1, snap.Cancelled)
	assert.Equal(t, int64(1024), snap.TotalBytes)
	assert.Equal(t, 1, snap.HWAccelUsage["nvenc"])
	assert.Equal(t, 2.0, snap.AverageSpeed)
}

func TestShortReason_PreservesTags(t *testing.T) {
	text := "[STALLED after 3m30s without progress] line one\nline two\nfinal encoder error"
	got := shortReason(text)
	assert.Contains(t, got, "[STALLED after 3m30s without progress]")
	assert.Contains(t, got, "final encoder error")
	assert.NotContains(t, got, "line one")
}
