package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bleedingxiko/ghoststream/internal/ffmpeg"
)

func TestRequestValidate_Defaults(t *testing.T) {
	req := Request{Source: "/media/in.mp4"}
	require.NoError(t, req.Validate())

	assert.Equal(t, ModeStream, req.Mode)
	assert.Equal(t, "h264", req.VideoCodec)
	assert.Equal(t, "aac", req.AudioCodec)
	assert.Equal(t, ffmpeg.ResolutionSource, req.Resolution)
	assert.Equal(t, "auto", req.Bitrate)
	assert.Equal(t, ffmpeg.HWAccelAuto, req.HWAccel)
}

func TestRequestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"empty source", Request{}},
		{"bad mode", Request{Source: "x", Mode: "live"}},
		{"negative start", Request{Source: "x", StartTime: -1}},
		{"two-pass stream", Request{Source: "x", Mode: ModeStream, TwoPass: true}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestStateTerminal(t *testing.T) {
	assert.False(t, StateQueued.IsTerminal())
	assert.False(t, StateProcessing.IsTerminal())
	assert.True(t, StateReady.IsTerminal())
	assert.True(t, StateError.IsTerminal())
	assert.True(t, StateCancelled.IsTerminal())
}

func TestView_PercentRules(t *testing.T) {
	job := &Job{
		ID:        "j1",
		State:     StateProcessing,
		Progress:  ffmpeg.Progress{Percent: 99.9, Time: 42},
		CreatedAt: time.Now(),
		cancel:    make(chan struct{}),
	}

	v := job.view()
	assert.Equal(t, 99.9, v.Percent, "non-ready jobs stay below 100")

	job.State = StateReady
	v = job.view()
	assert.Equal(t, 100.0, v.Percent)
	assert.Zero(t, v.ETASeconds)
}

func TestSignalCancel_Idempotent(t *testing.T) {
	job := &Job{cancel: make(chan struct{})}
	assert.False(t, job.cancelled())

	job.signalCancel()
	job.signalCancel() // second call must not panic
	assert.True(t, job.cancelled())
}
