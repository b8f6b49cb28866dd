package ffmpeg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPlanner() *CommandPlanner {
	selector := NewEncoderSelector(softwareOnlyCaps(), "", "", testLogger())
	filters := NewFilterBuilder(true)
	return NewCommandPlanner(selector, filters, 4, 4, "GhostStream/test")
}

func argsContainPair(t *testing.T, args []string, flag, value string) {
	t.Helper()
	for i, a := range args {
		if a == flag && i+1 < len(args) && args[i+1] == value {
			return
		}
	}
	t.Fatalf("args missing %s %s: %v", flag, value, args)
}

func TestBuildHLS_Shape(t *testing.T) {
	p := testPlanner()
	info := sdr1080pInfo()
	info.FPS = 30
	info.AudioChannels = 6

	built := p.BuildHLS(EncodeSpec{
		Source:     "/media/input.mkv",
		VideoCodec: "h264",
		AudioCodec: "aac",
		Resolution: "720p",
		Bitrate:    "auto",
		HWAccel:    HWAccelSoftware,
	}, "/tmp/job", info)

	assert.Equal(t, "libx264", built.Encoder)
	assert.True(t, strings.HasSuffix(built.OutputPath, MasterPlaylistName))

	argsContainPair(t, built.Args, "-c:v", "libx264")
	argsContainPair(t, built.Args, "-b:v", "4M")
	argsContainPair(t, built.Args, "-maxrate", "4M")
	argsContainPair(t, built.Args, "-bufsize", "8M")
	// keyframe interval = 2 x fps
	argsContainPair(t, built.Args, "-g", "60")
	argsContainPair(t, built.Args, "-keyint_min", "60")
	// 5.1 source: 384k audio, downmixed to stereo
	argsContainPair(t, built.Args, "-b:a", "384k")
	argsContainPair(t, built.Args, "-ac", "2")
	argsContainPair(t, built.Args, "-f", "hls")
	argsContainPair(t, built.Args, "-hls_time", "4")

	assert.NotContains(t, built.Args, "-reconnect", "local sources get no reconnection flags")
}

func TestBuildHLS_HTTPSourceGetsReconnect(t *testing.T) {
	p := testPlanner()

	built := p.BuildHLS(EncodeSpec{
		Source:     "http://h/1080p.mp4",
		VideoCodec: "h264",
		Resolution: "720p",
		Bitrate:    "auto",
		HWAccel:    HWAccelSoftware,
	}, "/tmp/job", sdr1080pInfo())

	assert.Contains(t, built.Args, "-reconnect")
	found := false
	for _, a := range built.Args {
		if strings.Contains(a, "User-Agent: GhostStream/test") {
			found = true
		}
	}
	assert.True(t, found, "user agent header present")
}

func TestBuildHLS_StartOffsetBeforeInput(t *testing.T) {
	p := testPlanner()

	built := p.BuildHLS(EncodeSpec{
		Source:     "/media/in.mp4",
		VideoCodec: "h264",
		Resolution: "source",
		HWAccel:    HWAccelSoftware,
		StartTime:  90,
	}, "/tmp/job", sdr1080pInfo())

	ssIdx, inputIdx := -1, -1
	for i, a := range built.Args {
		if a == "-ss" {
			ssIdx = i
		}
		if a == "-i" {
			inputIdx = i
		}
	}
	require.GreaterOrEqual(t, ssIdx, 0)
	require.Greater(t, inputIdx, ssIdx, "seek before input for fast seeking")
}

func TestBuildBatch_TwoPass(t *testing.T) {
	p := testPlanner()
	spec := EncodeSpec{
		Source:     "/media/in.mp4",
		Container:  ContainerMP4,
		VideoCodec: "h264",
		Resolution: "1080p",
		Bitrate:    "8M",
		HWAccel:    HWAccelSoftware,
		TwoPass:    true,
	}

	first := p.BuildBatch(spec, "/tmp/job/output.mp4", sdr1080pInfo(), 1, "/tmp/job/passlog")
	second := p.BuildBatch(spec, "/tmp/job/output.mp4", sdr1080pInfo(), 2, "/tmp/job/passlog")

	argsContainPair(t, first.Args, "-pass", "1")
	argsContainPair(t, first.Args, "-passlogfile", "/tmp/job/passlog")
	assert.Contains(t, first.Args, "-an", "first pass drops audio")
	argsContainPair(t, first.Args, "-f", "null")
	assert.Equal(t, nullDevice(), first.Args[len(first.Args)-1])

	argsContainPair(t, second.Args, "-pass", "2")
	assert.NotContains(t, second.Args, "-an")
	argsContainPair(t, second.Args, "-movflags", "+faststart")
	assert.Equal(t, "/tmp/job/output.mp4", second.Args[len(second.Args)-1])
}

func TestBuildBatch_Containers(t *testing.T) {
	p := testPlanner()
	spec := EncodeSpec{
		Source:     "/media/in.mp4",
		Container:  ContainerWebM,
		VideoCodec: "vp9",
		Resolution: "source",
		HWAccel:    HWAccelSoftware,
	}

	built := p.BuildBatch(spec, "/tmp/job/output.webm", sdr1080pInfo(), 0, "")
	argsContainPair(t, built.Args, "-f", "webm")
	assert.Equal(t, "libvpx-vp9", built.Encoder)
}

func TestBuildABR_Shape(t *testing.T) {
	p := testPlanner()
	info := sdr1080pInfo()
	info.FPS = 25

	built := p.BuildABR(EncodeSpec{
		Source:     "/media/in.mp4",
		VideoCodec: "h264",
		AudioCodec: "aac",
		HWAccel:    HWAccelSoftware,
	}, "/tmp/job", info)

	require.Len(t, built.Variants, 4)
	assert.Contains(t, built.Args, "-filter_complex")
	argsContainPair(t, built.Args, "-c:v:0", "libx264")
	argsContainPair(t, built.Args, "-b:v:0", "8M")
	argsContainPair(t, built.Args, "-b:v:1", "4M")
	argsContainPair(t, built.Args, "-g:v:0", "50")
	argsContainPair(t, built.Args, "-var_stream_map", "v:0,a:0 v:1,a:0 v:2,a:0 v:3,a:0")
	argsContainPair(t, built.Args, "-master_pl_name", MasterPlaylistName)
}

func TestWriteMasterPlaylist(t *testing.T) {
	dir := t.TempDir()
	info := &MediaInfo{Width: 1920, Height: 1080}
	variants := PlanVariants(info, 4)

	path, err := WriteMasterPlaylist(dir, variants)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	assert.True(t, strings.HasPrefix(content, "#EXTM3U"))
	assert.Equal(t, 4, strings.Count(content, "#EXT-X-STREAM-INF"))
	assert.Contains(t, content, "BANDWIDTH=8000000")
	assert.Contains(t, content, "RESOLUTION=1920x1080")
	assert.Contains(t, content, `NAME="1080p"`)
	assert.Contains(t, content, "stream_0.m3u8")
	assert.Contains(t, content, "stream_3.m3u8")
	assert.Equal(t, MasterPlaylistName, filepath.Base(path))

	// Quality order implies non-increasing bandwidth down the ladder.
	idx8 := strings.Index(content, "BANDWIDTH=8000000")
	idx800 := strings.Index(content, "BANDWIDTH=800000,")
	assert.Less(t, idx8, idx800)
}
