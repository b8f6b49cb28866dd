package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bleedingxiko/ghoststream/internal/ffmpeg"
)

func testCaps() *ffmpeg.Capabilities {
	return &ffmpeg.Capabilities{
		HWAccels: []ffmpeg.HWAccelCapability{
			{Type: ffmpeg.HWAccelNVENC, Available: true},
			{Type: ffmpeg.HWAccelQSV, Available: false},
			{Type: ffmpeg.HWAccelSoftware, Available: true},
		},
		VideoCodecs:       []string{"h264", "h265"},
		AudioCodecs:       []string{"aac", "opus"},
		MaxConcurrentJobs: 2,
		Platform:          "linux/amd64",
	}
}

func TestBuildAdvertisement(t *testing.T) {
	ad := BuildAdvertisement(testCaps())

	assert.Equal(t, []string{"nvenc"}, ad.HWAccels, "software and unavailable families are not advertised")
	assert.Equal(t, []string{"h264", "h265"}, ad.VideoCodecs)
	assert.Equal(t, []string{"aac", "opus"}, ad.AudioCodecs)
	assert.Equal(t, 2, ad.MaxJobs)
	assert.Equal(t, "linux/amd64", ad.Platform)
	assert.NotEmpty(t, ad.APIVersion)
}

func TestAdvertisement_TXTRecords(t *testing.T) {
	ad := BuildAdvertisement(testCaps())
	records := ad.txtRecords()

	require.NotEmpty(t, records)
	assert.Contains(t, records, "hw_accels=nvenc")
	assert.Contains(t, records, "video_codecs=h264,h265")
	assert.Contains(t, records, "audio_codecs=aac,opus")
	assert.Contains(t, records, "max_jobs=2")
	assert.Contains(t, records, "platform=linux/amd64")
}
