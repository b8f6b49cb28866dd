package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bleedingxiko/ghoststream/internal/config"
	"github.com/bleedingxiko/ghoststream/internal/ffmpeg"
	"github.com/bleedingxiko/ghoststream/internal/progress"
)

// queueCapacity bounds the number of jobs waiting for a worker slot.
const queueCapacity = 256

// callbackTimeout bounds the completion-callback POST.
const callbackTimeout = 10 * time.Second

// Manager owns the job table and drives jobs through the worker pool.
// It is the sole writer of job records.
type Manager struct {
	cfg         config.TranscodingConfig
	baseURL     string
	prober      *ffmpeg.Prober
	planner     *ffmpeg.CommandPlanner
	supervisor  *ffmpeg.Supervisor
	selector    *ffmpeg.EncoderSelector
	broadcaster *progress.Broadcaster
	stats       *Stats
	logger      *slog.Logger

	mu   sync.RWMutex
	jobs map[string]*Job

	queue   chan string
	active  map[string]struct{} // job ids currently held by a worker
	client  *http.Client
	wg      sync.WaitGroup
	runCtx  context.Context
	runStop context.CancelFunc
	started bool
}

// NewManager creates a job manager.
func NewManager(
	cfg config.TranscodingConfig,
	baseURL string,
	prober *ffmpeg.Prober,
	planner *ffmpeg.CommandPlanner,
	supervisor *ffmpeg.Supervisor,
	selector *ffmpeg.EncoderSelector,
	broadcaster *progress.Broadcaster,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		cfg:         cfg,
		baseURL:     strings.TrimRight(baseURL, "/"),
		prober:      prober,
		planner:     planner,
		supervisor:  supervisor,
		selector:    selector,
		broadcaster: broadcaster,
		stats:       NewStats(),
		logger:      logger.With(slog.String("component", "job_manager")),
		jobs:        make(map[string]*Job),
		queue:       make(chan string, queueCapacity),
		active:      make(map[string]struct{}),
		client:      &http.Client{Timeout: callbackTimeout},
	}
}

// Start launches the worker pool.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.runCtx, m.runStop = context.WithCancel(ctx)
	m.mu.Unlock()

	workers := m.cfg.MaxConcurrentJobs
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}
	m.logger.Info("job workers started", slog.Int("workers", workers))
}

// Stop cancels all live jobs and waits for workers to drain.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	for _, job := range m.jobs {
		if !job.State.IsTerminal() {
			job.signalCancel()
		}
	}
	m.mu.Unlock()

	m.runStop()
	m.wg.Wait()
	m.logger.Info("job manager stopped")
}

// Create validates a request, seeds a QUEUED job, and enqueues it.
func (m *Manager) Create(req Request) (View, error) {
	if err := req.Validate(); err != nil {
		return View{}, err
	}

	now := time.Now()
	job := &Job{
		ID:           uuid.NewString(),
		Request:      req,
		State:        StateQueued,
		CreatedAt:    now,
		LastAccessed: now,
		cancel:       make(chan struct{}),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	select {
	case m.queue <- job.ID:
	default:
		m.mu.Lock()
		delete(m.jobs, job.ID)
		m.mu.Unlock()
		return View{}, fmt.Errorf("%w: queue is full", ErrInvalidRequest)
	}

	m.logger.Info("job created",
		slog.String("job_id", job.ID),
		slog.String("source", req.Source),
		slog.String("mode", string(req.Mode)),
	)
	return job.view(), nil
}

// Get returns the current view. touch updates the last-access stamp.
func (m *Manager) Get(jobID string, touch bool) (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return View{}, ErrJobNotFound
	}
	if touch {
		job.LastAccessed = time.Now()
	}
	return job.view(), nil
}

// Touch updates last-access from the artifact-fetch path.
func (m *Manager) Touch(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[jobID]; ok {
		job.LastAccessed = time.Now()
	}
}

// State returns just the state of a job.
func (m *Manager) State(jobID string) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return "", ErrJobNotFound
	}
	return job.State, nil
}

// OutputFile returns the on-disk artifact path and state for the
// download path.
func (m *Manager) OutputFile(jobID string) (string, State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return "", "", ErrJobNotFound
	}
	return job.OutputPath, job.State, nil
}

// Cancel withdraws a job. Legal only in QUEUED or PROCESSING; cancelling
// a terminal job returns ErrNotCancellable with no side effects.
func (m *Manager) Cancel(jobID string) error {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return ErrJobNotFound
	}
	if job.State.IsTerminal() {
		m.mu.Unlock()
		return ErrNotCancellable
	}

	wasQueued := job.State == StateQueued
	job.signalCancel()
	if wasQueued {
		// Not yet held by a worker: settle the terminal state here. A
		// PROCESSING job is settled by its owning worker instead.
		m.completeLocked(job, StateCancelled, "")
	}
	m.mu.Unlock()

	if wasQueued {
		m.reclaimDir(jobID)
	}

	m.logger.Info("job cancelled", slog.String("job_id", jobID))
	return nil
}

// Delete cancels a live job, reclaims its directory, and removes the
// record.
func (m *Manager) Delete(jobID string) error {
	if err := m.Cancel(jobID); err != nil && errors.Is(err, ErrJobNotFound) {
		return err
	}

	m.reclaimDir(jobID)

	m.mu.Lock()
	delete(m.jobs, jobID)
	m.mu.Unlock()

	m.logger.Info("job deleted", slog.String("job_id", jobID))
	return nil
}

// ActiveCount returns the number of jobs currently held by workers.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// QueueLength returns the number of jobs waiting for a worker.
func (m *Manager) QueueLength() int {
	return len(m.queue)
}

// AllJobs returns views of every tracked job.
func (m *Manager) AllJobs() []View {
	m.mu.RLock()
	defer m.mu.RUnlock()

	views := make([]View, 0, len(m.jobs))
	for _, job := range m.jobs {
		views = append(views, job.view())
	}
	return views
}

// Stats returns the processing counters.
func (m *Manager) Stats() Snapshot {
	return m.stats.Snapshot()
}

// worker loops taking job ids off the queue. At most one worker ever
// holds a given job.
func (m *Manager) worker(id int) {
	defer m.wg.Done()
	logger := m.logger.With(slog.Int("worker", id))
	logger.Debug("worker started")

	for {
		select {
		case <-m.runCtx.Done():
			logger.Debug("worker stopped")
			return
		case jobID := <-m.queue:
			m.mu.Lock()
			job, ok := m.jobs[jobID]
			if !ok || job.State != StateQueued {
				// Cancelled or deleted while queued.
				m.mu.Unlock()
				continue
			}
			m.active[jobID] = struct{}{}
			m.mu.Unlock()

			m.process(job, logger)

			m.mu.Lock()
			delete(m.active, jobID)
			m.mu.Unlock()
			m.stats.RecordComplete(job)
		}
	}
}

// process drives one job through probe, command build, supervised run,
// validation, and the retry/fallback decision tree. All recoverable
// paths are handled here; callers only ever see a terminal state plus a
// reason.
func (m *Manager) process(job *Job, logger *slog.Logger) {
	logger = logger.With(slog.String("job_id", job.ID))

	m.transition(job, StateProcessing, "")

	info, err := m.prober.Probe(m.runCtx, job.Request.Source)
	if err != nil {
		logger.Warn("media probe failed", slog.String("error", err.Error()))
		m.fail(job, fmt.Sprintf("media probe failed: %v", err))
		return
	}

	m.mu.Lock()
	job.Duration = info.Duration
	m.mu.Unlock()

	jobDir := m.cfg.JobDir(job.ID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		m.fail(job, fmt.Sprintf("creating work directory: %v", err))
		return
	}

	spec := specFromRequest(job.Request)
	fallbackDone := spec.HWAccel == ffmpeg.HWAccelSoftware
	var lastErr string

	for attempt := 0; attempt <= m.cfg.RetryCount; attempt++ {
		if job.cancelled() {
			m.settleCancelled(job)
			return
		}

		built, outputPath := m.buildCommand(job, spec, jobDir, info)
		logger.Info("encoder attempt",
			slog.Int("attempt", attempt+1),
			slog.String("encoder", built.Encoder),
		)

		runErr := m.runAttempt(job, spec, built, info, jobDir)
		if job.cancelled() {
			m.settleCancelled(job)
			return
		}

		if runErr == nil {
			m.succeed(job, built, outputPath)
			return
		}
		lastErr = runErr.Error()

		classified := ffmpeg.ClassifyError(lastErr)
		logger.Warn("encoder attempt failed",
			slog.String("category", string(classified.Category)),
			slog.String("reason", classified.Description),
		)

		switch classified.Category {
		case ffmpeg.ErrorHardware:
			m.selector.MarkFailed(built.Encoder)
			if !fallbackDone {
				// One software fallback per job: re-plan and go again.
				logger.Info("hardware error, falling back to software encoder")
				spec.HWAccel = ffmpeg.HWAccelSoftware
				fallbackDone = true
				clearDir(jobDir)
				continue
			}
			m.fail(job, shortReason(lastErr))
			return
		case ffmpeg.ErrorTransient, ffmpeg.ErrorResource:
			if !classified.Retryable || attempt >= m.cfg.RetryCount {
				m.fail(job, shortReason(lastErr))
				return
			}
			// Linear backoff between attempts.
			delay := m.cfg.RetryDelay * time.Duration(attempt+1)
			logger.Info("transient error, retrying", slog.Duration("delay", delay))
			select {
			case <-time.After(delay):
			case <-job.cancel:
				m.settleCancelled(job)
				return
			case <-m.runCtx.Done():
				m.settleCancelled(job)
				return
			}
			clearDir(jobDir)
			continue
		case ffmpeg.ErrorFatal:
			m.fail(job, shortReason(lastErr))
			return
		default: // unknown: at most one retry
			if attempt >= 1 {
				m.fail(job, shortReason(lastErr))
				return
			}
			clearDir(jobDir)
			continue
		}
	}

	m.fail(job, shortReason(lastErr))
}

// buildCommand plans the argument vector for the job's mode.
func (m *Manager) buildCommand(job *Job, spec ffmpeg.EncodeSpec, jobDir string, info *ffmpeg.MediaInfo) (ffmpeg.BuiltCommand, string) {
	switch job.Request.Mode {
	case ModeABR:
		built := m.planner.BuildABR(spec, jobDir, info)
		return built, built.OutputPath
	case ModeBatch:
		ext := "." + strings.ToLower(job.Request.Container)
		outputPath := filepath.Join(jobDir, "output"+ext)
		built := m.planner.BuildBatch(spec, outputPath, info, 0, "")
		return built, outputPath
	default:
		built := m.planner.BuildHLS(spec, jobDir, info)
		return built, built.OutputPath
	}
}

// runAttempt executes one encode (possibly two passes for batch) and
// validates the artifacts. Any failure returns an error carrying the
// stderr tail or the validation reason.
func (m *Manager) runAttempt(job *Job, spec ffmpeg.EncodeSpec, built ffmpeg.BuiltCommand, info *ffmpeg.MediaInfo, jobDir string) error {
	deadline := ffmpeg.StallDeadline(m.cfg.StallTimeout, m.cfg.StallPerSegment, m.cfg.SegmentDuration, info.Height)

	runs := [][]string{built.Args}

	// Two-pass batch: replace the single run with pass 1 + pass 2.
	if job.Request.Mode == ModeBatch && job.Request.TwoPass {
		passlog := filepath.Join(jobDir, "passlog")
		outputPath := built.OutputPath
		first := m.planner.BuildBatch(spec, outputPath, info, 1, passlog)
		second := m.planner.BuildBatch(spec, outputPath, info, 2, passlog)
		if ffmpeg.FamilyForEncoder(first.Encoder) == ffmpeg.HWAccelSoftware {
			runs = [][]string{first.Args, second.Args}
		}
	}

	onProgress := func(p ffmpeg.Progress) {
		m.mu.Lock()
		job.Progress = p
		// First output implies the playlist is assembling; expose the
		// stream URL so players can join the live transcode.
		if job.StreamURL == "" && job.Request.Mode.IsStreaming() && p.Frame > 0 {
			job.StreamURL = fmt.Sprintf("%s/stream/%s/%s", m.baseURL, job.ID, ffmpeg.MasterPlaylistName)
		}
		m.mu.Unlock()
		m.broadcaster.PublishProgress(job.ID, p)
	}

	for _, args := range runs {
		result, err := m.supervisor.Run(m.runCtx, ffmpeg.RunOptions{
			Args:          args,
			Duration:      info.Duration,
			StallDeadline: deadline,
			Cancel:        job.cancel,
			OnProgress:    onProgress,
		})
		if err != nil {
			return err
		}
		if result.Cancelled {
			return errors.New("cancelled")
		}
		if result.ExitCode != 0 {
			if result.ErrorText != "" {
				return errors.New(result.ErrorText)
			}
			return fmt.Errorf("encoder exited with code %d", result.ExitCode)
		}
	}

	return m.validate(job, built, jobDir)
}

// validate applies the output checks for the job's mode.
func (m *Manager) validate(job *Job, built ffmpeg.BuiltCommand, jobDir string) error {
	switch job.Request.Mode {
	case ModeBatch:
		return ffmpeg.ValidateBatch(built.OutputPath)
	case ModeABR:
		// The encoder normally writes the master playlist itself; cover
		// for builds that don't.
		if _, err := os.Stat(built.OutputPath); err != nil && len(built.Variants) > 0 {
			if _, werr := ffmpeg.WriteMasterPlaylist(jobDir, built.Variants); werr != nil {
				return werr
			}
		}
		return ffmpeg.ValidateHLS(jobDir)
	default:
		return ffmpeg.ValidateHLS(jobDir)
	}
}

// succeed records READY plus the artifact references and notifies.
func (m *Manager) succeed(job *Job, built ffmpeg.BuiltCommand, outputPath string) {
	m.mu.Lock()
	job.OutputPath = outputPath
	job.EncoderUsed = built.Encoder
	job.HWAccelUsed = ffmpeg.FamilyForEncoder(built.Encoder)
	if job.Request.Mode.IsStreaming() {
		job.StreamURL = fmt.Sprintf("%s/stream/%s/%s", m.baseURL, job.ID, ffmpeg.MasterPlaylistName)
	} else {
		job.DownloadURL = fmt.Sprintf("%s/download/%s", m.baseURL, job.ID)
	}
	m.completeLocked(job, StateReady, "")
	view := job.view()
	hwUsed := job.HWAccelUsed
	m.mu.Unlock()

	m.broadcaster.PublishStatus(job.ID, string(StateReady))
	m.selector.Reset(built.Encoder)

	m.logger.Info("job ready",
		slog.String("job_id", job.ID),
		slog.String("encoder", built.Encoder),
		slog.String("hw_accel", hwUsed.String()),
	)

	if job.Request.CallbackURL != "" {
		go m.sendCallback(job.Request.CallbackURL, view)
	}
}

// fail reclaims partial artifacts, then records ERROR with a reason.
// The directory purge always precedes the transition.
func (m *Manager) fail(job *Job, reason string) {
	m.reclaimDir(job.ID)

	m.mu.Lock()
	m.completeLocked(job, StateError, reason)
	m.mu.Unlock()

	m.broadcaster.PublishStatus(job.ID, string(StateError))
	m.logger.Warn("job failed",
		slog.String("job_id", job.ID),
		slog.String("reason", reason),
	)
}

// settleCancelled finalises a job whose cancellation signal fired while
// a worker held it.
func (m *Manager) settleCancelled(job *Job) {
	m.reclaimDir(job.ID)

	m.mu.Lock()
	if !job.State.IsTerminal() {
		m.completeLocked(job, StateCancelled, "")
	}
	m.mu.Unlock()
}

// transition moves a job to a non-terminal state and broadcasts it.
func (m *Manager) transition(job *Job, state State, reason string) {
	m.mu.Lock()
	job.State = state
	if state == StateProcessing && job.StartedAt.IsZero() {
		job.StartedAt = time.Now()
	}
	if reason != "" {
		job.ErrorMessage = reason
	}
	m.mu.Unlock()

	m.broadcaster.PublishStatus(job.ID, string(state))
}

// completeLocked stamps a terminal state. Caller holds m.mu. CANCELLED
// transitions are broadcast here since both the cancel path and the
// worker path funnel through.
func (m *Manager) completeLocked(job *Job, state State, reason string) {
	job.State = state
	job.CompletedAt = time.Now()
	if reason != "" {
		job.ErrorMessage = reason
	}
	if state != StateReady {
		// Artifacts are purged on non-success; never advertise URLs to
		// reclaimed output.
		job.StreamURL = ""
		job.DownloadURL = ""
	}
	if state == StateCancelled {
		job.CleanedUp = true
		go m.broadcaster.PublishStatus(job.ID, string(StateCancelled))
	}
}

// reclaimDir removes a job's work directory, ignoring errors.
func (m *Manager) reclaimDir(jobID string) {
	_ = os.RemoveAll(m.cfg.JobDir(jobID))
}

// sendCallback POSTs the final view to the completion-callback URI.
func (m *Manager) sendCallback(url string, view View) {
	body, err := json.Marshal(view)
	if err != nil {
		return
	}
	resp, err := m.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		m.logger.Warn("completion callback failed",
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
		return
	}
	_ = resp.Body.Close()
	m.logger.Debug("completion callback sent", slog.String("url", url))
}

// specFromRequest derives the per-attempt encode plan.
func specFromRequest(req Request) ffmpeg.EncodeSpec {
	return ffmpeg.EncodeSpec{
		Source:     req.Source,
		Container:  req.Container,
		VideoCodec: req.VideoCodec,
		AudioCodec: req.AudioCodec,
		Resolution: req.Resolution,
		Bitrate:    req.Bitrate,
		HWAccel:    req.HWAccel,
		StartTime:  req.StartTime,
		ToneMap:    req.ToneMap,
		TwoPass:    req.TwoPass,
	}
}

// shortReason bounds an error string for the public view; the full
// stderr tail stays in logs only. Machine-readable tags like
// [STALLED ...] survive the truncation.
func shortReason(errText string) string {
	errText = strings.TrimSpace(errText)

	tag := ""
	if strings.HasPrefix(errText, "[") {
		if idx := strings.IndexByte(errText, ']'); idx >= 0 {
			tag = errText[:idx+1] + " "
			errText = strings.TrimSpace(errText[idx+1:])
		}
	}

	if idx := strings.LastIndexByte(errText, '\n'); idx >= 0 {
		// Last line usually carries the actual encoder error.
		if tail := strings.TrimSpace(errText[idx+1:]); tail != "" {
			errText = tail
		}
	}

	const maxLen = 300
	if len(errText) > maxLen {
		errText = errText[:maxLen]
	}
	return tag + errText
}

// clearDir empties a directory between attempts without removing it.
func clearDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		_ = os.RemoveAll(filepath.Join(dir, entry.Name()))
	}
}
