package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const sampleProgressLine = "frame=  810 fps= 27 q=28.0 size=    2048KiB time=00:00:27.00 bitrate= 621.1kbits/s speed=1.35x"

func TestIsProgressLine(t *testing.T) {
	assert.True(t, IsProgressLine(sampleProgressLine))
	assert.True(t, IsProgressLine("size=     128KiB time=00:00:04.00"))
	assert.False(t, IsProgressLine("Stream mapping:"))
	assert.False(t, IsProgressLine("[libx264 @ 0x55] using cpu capabilities"))
}

func TestParseProgressLine(t *testing.T) {
	p := Progress{}
	ParseProgressLine(sampleProgressLine, &p, 60)

	assert.Equal(t, int64(810), p.Frame)
	assert.Equal(t, 27.0, p.FPS)
	assert.Equal(t, 27.0, p.Time)
	assert.Equal(t, 1.35, p.Speed)
	assert.Equal(t, int64(2048*1024), p.TotalSize)
	assert.InDelta(t, 45.0, p.Percent, 0.01)
	// (60 - 27) / 1.35 = 24.4...
	assert.Equal(t, 24, p.ETASeconds)
}

func TestParseProgressLine_PercentCapped(t *testing.T) {
	p := Progress{}
	ParseProgressLine("frame= 100 time=00:01:30.00 speed=1.0x", &p, 60)

	assert.Equal(t, 99.9, p.Percent, "percent stays below 100 until terminal")
	assert.Equal(t, 0, p.ETASeconds)
}

func TestParseProgressLine_ZeroDuration(t *testing.T) {
	p := Progress{}
	ParseProgressLine(sampleProgressLine, &p, 0)
	assert.Zero(t, p.Percent)
}

func TestStallDeadline(t *testing.T) {
	// 1080p: 120s floor + 4*15s*1.5 = 210s
	got := StallDeadline(120e9, 15e9, 4, 1080)
	assert.Equal(t, "3m30s", got.String())

	// SD factor 1.0
	got = StallDeadline(120e9, 15e9, 4, 480)
	assert.Equal(t, "3m0s", got.String())

	// 4K factor 2.0
	got = StallDeadline(120e9, 15e9, 4, 2160)
	assert.Equal(t, "4m0s", got.String())

	// Sub-floor minimum is raised to the floor.
	got = StallDeadline(10e9, 15e9, 4, 480)
	assert.Equal(t, "3m0s", got.String())
}
