// Package jobs implements the transcoding job lifecycle: the job table,
// the bounded worker pool, retry-with-fallback, and TTL-based cleanup.
package jobs

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bleedingxiko/ghoststream/internal/ffmpeg"
)

// State is the lifecycle state of a job.
type State string

const (
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateReady      State = "ready"
	StateError      State = "error"
	StateCancelled  State = "cancelled"
)

// IsTerminal returns true for states with no outgoing transitions.
func (s State) IsTerminal() bool {
	return s == StateReady || s == StateError || s == StateCancelled
}

// Mode selects the output shape of a job.
type Mode string

const (
	ModeStream Mode = "stream" // single-playlist HLS
	ModeABR    Mode = "abr"    // multi-variant HLS
	ModeBatch  Mode = "batch"  // single completed file
)

// IsStreaming returns true for the HLS output shapes.
func (m Mode) IsStreaming() bool {
	return m == ModeStream || m == ModeABR
}

// Sentinel errors exposed to the frontend glue.
var (
	ErrJobNotFound    = errors.New("job not found")
	ErrNotCancellable = errors.New("job is not cancellable")
	ErrInvalidRequest = errors.New("invalid request")
)

// Request is the immutable submission for one job.
type Request struct {
	Source      string             `json:"source"`
	Mode        Mode               `json:"mode"`
	Container   string             `json:"container,omitempty"`
	VideoCodec  string             `json:"video_codec,omitempty"`
	AudioCodec  string             `json:"audio_codec,omitempty"`
	Resolution  string             `json:"resolution,omitempty"` // named resolution or "source"
	Bitrate     string             `json:"bitrate,omitempty"`    // bitrate string or "auto"
	HWAccel     ffmpeg.HWAccelType `json:"hw_accel,omitempty"`   // family or "auto"
	StartTime   float64            `json:"start_time,omitempty"` // seconds
	ToneMap     bool               `json:"tone_map,omitempty"`
	TwoPass     bool               `json:"two_pass,omitempty"` // batch only
	CallbackURL string             `json:"callback_url,omitempty"`
}

// Validate checks the request shape and fills defaults.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.Source) == "" {
		return fmt.Errorf("%w: source is required", ErrInvalidRequest)
	}
	switch r.Mode {
	case ModeStream, ModeABR, ModeBatch:
	case "":
		r.Mode = ModeStream
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, r.Mode)
	}
	if r.StartTime < 0 {
		return fmt.Errorf("%w: negative start_time", ErrInvalidRequest)
	}
	if r.TwoPass && r.Mode != ModeBatch {
		return fmt.Errorf("%w: two_pass only applies to batch mode", ErrInvalidRequest)
	}
	if r.VideoCodec == "" {
		r.VideoCodec = "h264"
	}
	if r.AudioCodec == "" {
		r.AudioCodec = "aac"
	}
	if r.Resolution == "" {
		r.Resolution = ffmpeg.ResolutionSource
	}
	if r.Bitrate == "" {
		r.Bitrate = "auto"
	}
	if r.HWAccel == "" {
		r.HWAccel = ffmpeg.HWAccelAuto
	}
	if r.Container == "" {
		r.Container = ffmpeg.ContainerMP4
	}
	return nil
}

// Job is one transcoding request's full record. The Manager is the sole
// writer; everything else sees Views.
type Job struct {
	ID      string
	Request Request

	State        State
	Progress     ffmpeg.Progress
	Duration     float64
	OutputPath   string
	StreamURL    string
	DownloadURL  string
	EncoderUsed  string
	HWAccelUsed  ffmpeg.HWAccelType
	ErrorMessage string

	CreatedAt    time.Time
	StartedAt    time.Time
	CompletedAt  time.Time
	LastAccessed time.Time
	CleanedUp    bool

	cancel     chan struct{}
	cancelOnce sync.Once
}

// signalCancel trips the job's cancellation signal. Idempotent.
func (j *Job) signalCancel() {
	j.cancelOnce.Do(func() { close(j.cancel) })
}

// cancelled reports whether the signal has been tripped.
func (j *Job) cancelled() bool {
	select {
	case <-j.cancel:
		return true
	default:
		return false
	}
}

// View is the job representation exposed to external callers.
type View struct {
	ID          string             `json:"job_id"`
	State       State              `json:"status"`
	Percent     float64            `json:"progress"`
	CurrentTime float64            `json:"current_time"`
	Duration    float64            `json:"duration"`
	StreamURL   string             `json:"stream_url,omitempty"`
	DownloadURL string             `json:"download_url,omitempty"`
	ETASeconds  int                `json:"eta_seconds,omitempty"`
	HWAccelUsed ffmpeg.HWAccelType `json:"hw_accel_used,omitempty"`
	Error       string             `json:"error_message,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

// view builds the public snapshot. Percent reports 100 only in READY.
func (j *Job) view() View {
	v := View{
		ID:          j.ID,
		State:       j.State,
		Percent:     j.Progress.Percent,
		CurrentTime: j.Progress.Time,
		Duration:    j.Duration,
		StreamURL:   j.StreamURL,
		DownloadURL: j.DownloadURL,
		ETASeconds:  j.Progress.ETASeconds,
		HWAccelUsed: j.HWAccelUsed,
		Error:       j.ErrorMessage,
		CreatedAt:   j.CreatedAt,
	}
	if j.State == StateReady {
		v.Percent = 100
		v.ETASeconds = 0
	}
	if !j.StartedAt.IsZero() {
		t := j.StartedAt
		v.StartedAt = &t
	}
	if !j.CompletedAt.IsZero() {
		t := j.CompletedAt
		v.CompletedAt = &t
	}
	return v
}
