package ffmpeg

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFramerate(t *testing.T) {
	assert.InDelta(t, 29.97, parseFramerate("30000/1001"), 0.01)
	assert.Equal(t, 25.0, parseFramerate("25/1"))
	assert.Equal(t, 24.0, parseFramerate("24"))
	assert.Zero(t, parseFramerate("0/0"))
	assert.Zero(t, parseFramerate("garbage"))
}

func TestSimplify(t *testing.T) {
	result := &probeResult{
		Format: probeFormat{Duration: "120.5"},
		Streams: []probeStream{
			{
				CodecType:      "video",
				CodecName:      "hevc",
				Width:          3840,
				Height:         2160,
				PixFmt:         "yuv420p10le",
				ColorPrimaries: "bt2020",
				ColorTransfer:  "smpte2084",
				AvgFrameRate:   "24000/1001",
			},
			{CodecType: "audio", CodecName: "eac3", Channels: 6},
			{CodecType: "video", CodecName: "mjpeg", Width: 640, Height: 360}, // cover art
		},
	}

	info := simplify(result)

	assert.Equal(t, 120.5, info.Duration)
	assert.Equal(t, "hevc", info.VideoCodec, "first video stream wins")
	assert.Equal(t, 3840, info.Width)
	assert.Equal(t, 2160, info.Height)
	assert.InDelta(t, 23.976, info.FPS, 0.01)
	assert.Equal(t, "eac3", info.AudioCodec)
	assert.Equal(t, 6, info.AudioChannels)
	assert.True(t, info.IsHDR)
}

func TestSimplify_StreamDurationFallback(t *testing.T) {
	result := &probeResult{
		Streams: []probeStream{
			{CodecType: "video", CodecName: "h264", Duration: "42.0"},
		},
	}
	info := simplify(result)
	assert.Equal(t, 42.0, info.Duration)
}

func TestProbe_RealSource(t *testing.T) {
	ffprobe, err := exec.LookPath("ffprobe")
	if err != nil {
		t.Skip("ffprobe not installed")
	}
	ffmpegBin, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}

	// Generate a tiny test clip.
	dir := t.TempDir()
	clip := dir + "/clip.mp4"
	gen := exec.Command(ffmpegBin, "-hide_banner", "-v", "error",
		"-f", "lavfi", "-i", "testsrc=size=320x240:rate=25:duration=1",
		"-c:v", "libx264", "-pix_fmt", "yuv420p", clip)
	require.NoError(t, gen.Run())

	p := NewProber(ffprobe, 10*time.Second, testLogger())
	info, err := p.Probe(context.Background(), clip)
	require.NoError(t, err)

	assert.Greater(t, info.Duration, 0.5)
	assert.Equal(t, 320, info.Width)
	assert.Equal(t, 240, info.Height)
	assert.Equal(t, "h264", info.VideoCodec)
	assert.False(t, info.IsHDR)

	// Probing twice yields equal results for an unchanged source.
	again, err := p.Probe(context.Background(), clip)
	require.NoError(t, err)
	assert.Equal(t, info, again)
}

func TestProbe_UnreadableSource(t *testing.T) {
	ffprobe, err := exec.LookPath("ffprobe")
	if err != nil {
		t.Skip("ffprobe not installed")
	}

	p := NewProber(ffprobe, 5*time.Second, testLogger())
	_, err = p.Probe(context.Background(), "/nonexistent/source.mp4")
	assert.Error(t, err)
}
