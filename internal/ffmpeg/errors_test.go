package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		stderr   string
		category ErrorCategory
	}{
		{"nvenc no devices", "No NVENC capable devices found", ErrorHardware},
		{"cuda", "CUDA error: out of device memory", ErrorHardware},
		{"qsv", "MFX_ERR_DEVICE_FAILED during init", ErrorHardware},
		{"vaapi surface", "Failed to create VAAPI surface", ErrorHardware},
		{"hw frames", "Error while setting up hw_frames_ctx", ErrorHardware},
		{"d3d11", "Failed to create D3D11 device", ErrorHardware},
		{"connection refused", "Connection refused", ErrorTransient},
		{"timeout", "Connection timed out after 30s", ErrorTransient},
		{"broken pipe", "av_interleaved_write_frame(): Broken pipe", ErrorTransient},
		{"oom", "Out of memory allocating frame", ErrorResource},
		{"disk full", "No space left on device", ErrorResource},
		{"fd limit", "Too many open files", ErrorResource},
		{"invalid input", "Invalid data found when processing input", ErrorFatal},
		{"missing file", "No such file or directory", ErrorFatal},
		{"permission", "Permission denied", ErrorFatal},
		{"encoder missing", "Encoder not found", ErrorFatal},
		{"gibberish", "something nobody has seen before", ErrorUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyError(tc.stderr)
			assert.Equal(t, tc.category, got.Category)
		})
	}
}

func TestClassifyError_Retryability(t *testing.T) {
	assert.True(t, ClassifyError("connection reset by peer").Retryable)
	assert.False(t, ClassifyError("404 Not Found").Retryable)
	assert.False(t, ClassifyError("no space left on device").Retryable)
	assert.True(t, ClassifyError("too many open files").Retryable)
	assert.True(t, ClassifyError("zorp").Retryable, "unknown errors get a retry")
}

func TestIsHardwareError(t *testing.T) {
	assert.True(t, IsHardwareError("OpenEncodeSessionEx failed: out of memory"))
	assert.False(t, IsHardwareError("Invalid data found when processing input"))
}
