package ffmpeg

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFakeEncoder writes a shell script standing in for the encoder
// binary.
func writeFakeEncoder(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake encoder scripts need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755)
	require.NoError(t, err)
	return path
}

func TestSupervisor_HappyPath(t *testing.T) {
	bin := writeFakeEncoder(t, `
for i in 1 2 3; do
  echo "frame=  $i fps= 30 size=    ${i}0KiB time=00:00:0$i.00 speed=1.0x" >&2
done
exit 0
`)
	s := NewSupervisor(bin, testLogger())

	var samples atomic.Int32
	var last atomic.Value
	result, err := s.Run(context.Background(), RunOptions{
		Args:          []string{"-i", "in"},
		Duration:      6,
		StallDeadline: 30 * time.Second,
		Cancel:        make(chan struct{}),
		OnProgress: func(p Progress) {
			samples.Add(1)
			last.Store(p)
		},
	})

	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.False(t, result.Stalled)
	assert.False(t, result.Cancelled)
	assert.GreaterOrEqual(t, samples.Load(), int32(3))

	p := last.Load().(Progress)
	assert.Equal(t, int64(3), p.Frame)
	assert.InDelta(t, 50.0, p.Percent, 0.1)
}

func TestSupervisor_NonZeroExitCarriesStderrTail(t *testing.T) {
	bin := writeFakeEncoder(t, `
echo "Stream mapping:" >&2
echo "No NVENC capable devices found" >&2
exit 1
`)
	s := NewSupervisor(bin, testLogger())

	result, err := s.Run(context.Background(), RunOptions{
		Args:   []string{"-i", "in"},
		Cancel: make(chan struct{}),
	})

	require.NoError(t, err)
	assert.Equal(t, 1, result.ExitCode)
	assert.Contains(t, result.ErrorText, "No NVENC capable devices found")
}

func TestSupervisor_StallDetection(t *testing.T) {
	bin := writeFakeEncoder(t, `
echo "frame=  1 fps= 30 time=00:00:01.00 speed=1.0x" >&2
sleep 60
`)
	s := NewSupervisor(bin, testLogger())

	start := time.Now()
	result, err := s.Run(context.Background(), RunOptions{
		Args:          []string{"-i", "in"},
		Duration:      60,
		StallDeadline: 2 * time.Second,
		Cancel:        make(chan struct{}),
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, result.Stalled)
	assert.NotEqual(t, 0, result.ExitCode)
	assert.True(t, strings.HasPrefix(result.ErrorText, "[STALLED"), result.ErrorText)
	assert.Less(t, elapsed, 30*time.Second, "stalled child is reaped promptly")
}

func TestSupervisor_Cancellation(t *testing.T) {
	bin := writeFakeEncoder(t, `
i=0
while [ $i -lt 100 ]; do
  echo "frame=  $i fps= 30 time=00:00:01.00 speed=1.0x" >&2
  i=$((i+1))
  sleep 0.2
done
`)
	s := NewSupervisor(bin, testLogger())

	cancel := make(chan struct{})
	go func() {
		time.Sleep(500 * time.Millisecond)
		close(cancel)
	}()

	start := time.Now()
	result, err := s.Run(context.Background(), RunOptions{
		Args:          []string{"-i", "in"},
		StallDeadline: time.Minute,
		Cancel:        cancel,
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, result.Cancelled)
	assert.True(t, strings.HasPrefix(result.ErrorText, "[CANCELLED]"), result.ErrorText)
	assert.Less(t, elapsed, 15*time.Second)
}

func TestSupervisor_PanickingCallbackIsIsolated(t *testing.T) {
	bin := writeFakeEncoder(t, `
echo "frame=  1 time=00:00:01.00 speed=1.0x" >&2
echo "frame=  2 time=00:00:02.00 speed=1.0x" >&2
exit 0
`)
	s := NewSupervisor(bin, testLogger())

	var calls atomic.Int32
	result, err := s.Run(context.Background(), RunOptions{
		Args:   []string{"-i", "in"},
		Cancel: make(chan struct{}),
		OnProgress: func(Progress) {
			calls.Add(1)
			panic("subscriber bug")
		},
	})

	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.GreaterOrEqual(t, calls.Load(), int32(2), "supervisor survives panicking callbacks")
}

func TestSupervisor_StderrRingIsBounded(t *testing.T) {
	bin := writeFakeEncoder(t, `
i=0
while [ $i -lt 300 ]; do
  echo "noise line $i" >&2
  i=$((i+1))
done
exit 1
`)
	s := NewSupervisor(bin, testLogger())

	result, err := s.Run(context.Background(), RunOptions{
		Args:   []string{"-i", "in"},
		Cancel: make(chan struct{}),
	})

	require.NoError(t, err)
	lines := strings.Split(result.ErrorText, "\n")
	assert.LessOrEqual(t, len(lines), 100)
	assert.Contains(t, lines[len(lines)-1], "noise line 299", "ring keeps the newest lines")
}
