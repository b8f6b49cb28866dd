package jobs

import (
	"sync"
	"time"
)

// Stats accumulates job processing counters for the stats endpoint.
type Stats struct {
	mu sync.Mutex

	totalProcessed int
	succeeded      int
	failed         int
	cancelled      int
	totalBytes     int64
	transcodeTime  time.Duration
	hwAccelUsage   map[string]int
	speedSamples   int
	speedSum       float64
	startTime      time.Time
}

// NewStats creates a stats accumulator.
func NewStats() *Stats {
	return &Stats{
		hwAccelUsage: make(map[string]int),
		startTime:    time.Now(),
	}
}

// RecordComplete folds one finished job into the counters.
func (s *Stats) RecordComplete(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalProcessed++
	switch job.State {
	case StateCancelled:
		s.cancelled++
	case StateReady:
		s.succeeded++
	default:
		s.failed++
	}

	if job.HWAccelUsed != "" {
		s.hwAccelUsage[job.HWAccelUsed.String()]++
	}
	if job.Progress.TotalSize > 0 {
		s.totalBytes += job.Progress.TotalSize
	}
	if job.Progress.Speed > 0 {
		s.speedSum += job.Progress.Speed
		s.speedSamples++
	}
	if !job.StartedAt.IsZero() && !job.CompletedAt.IsZero() {
		s.transcodeTime += job.CompletedAt.Sub(job.StartedAt)
	}
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	TotalProcessed int            `json:"total_jobs_processed"`
	Succeeded      int            `json:"successful_jobs"`
	Failed         int            `json:"failed_jobs"`
	Cancelled      int            `json:"cancelled_jobs"`
	TotalBytes     int64          `json:"total_bytes_processed"`
	HWAccelUsage   map[string]int `json:"hw_accel_usage"`
	AverageSpeed   float64        `json:"average_transcode_speed"`
	UptimeSeconds  float64        `json:"uptime_seconds"`
}

// Snapshot returns a copy of the counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	usage := make(map[string]int, len(s.hwAccelUsage))
	for k, v := range s.hwAccelUsage {
		usage[k] = v
	}

	avgSpeed := 0.0
	if s.speedSamples > 0 {
		avgSpeed = s.speedSum / float64(s.speedSamples)
	}

	return Snapshot{
		TotalProcessed: s.totalProcessed,
		Succeeded:      s.succeeded,
		Failed:         s.failed,
		Cancelled:      s.cancelled,
		TotalBytes:     s.totalBytes,
		HWAccelUsage:   usage,
		AverageSpeed:   avgSpeed,
		UptimeSeconds:  time.Since(s.startTime).Seconds(),
	}
}
