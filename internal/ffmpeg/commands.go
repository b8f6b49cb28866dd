package ffmpeg

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Output shape names for batch containers.
const (
	ContainerMP4  = "mp4"
	ContainerWebM = "webm"
	ContainerMKV  = "mkv"
)

// MasterPlaylistName is the filename of the top-level HLS playlist.
const MasterPlaylistName = "master.m3u8"

// EncodeSpec is the per-attempt encode plan derived from a request. The
// job manager rewrites HWAccel to "software" for the fallback attempt.
type EncodeSpec struct {
	Source     string
	Container  string
	VideoCodec string
	AudioCodec string
	Resolution string // named resolution or "source"
	Bitrate    string // bitrate string or "auto"
	HWAccel    HWAccelType
	StartTime  float64
	ToneMap    bool
	TwoPass    bool
}

// BuiltCommand is a ready-to-run argument vector plus what was planned
// into it.
type BuiltCommand struct {
	Args       []string
	Encoder    string
	OutputPath string
	Variants   []QualityPreset // ABR only
}

// CommandPlanner composes full argument vectors for the three output
// shapes: single-playlist HLS, multi-variant HLS, and batch files.
type CommandPlanner struct {
	selector        *EncoderSelector
	filters         *FilterBuilder
	segmentDuration int
	maxVariants     int
	userAgent       string
}

// NewCommandPlanner creates a command planner.
func NewCommandPlanner(selector *EncoderSelector, filters *FilterBuilder, segmentDuration, maxVariants int, userAgent string) *CommandPlanner {
	if segmentDuration <= 0 {
		segmentDuration = 4
	}
	return &CommandPlanner{
		selector:        selector,
		filters:         filters,
		segmentDuration: segmentDuration,
		maxVariants:     maxVariants,
		userAgent:       userAgent,
	}
}

// BuildHLS composes the command for a single-playlist HLS encode.
func (p *CommandPlanner) BuildHLS(spec EncodeSpec, outputDir string, info *MediaInfo) BuiltCommand {
	encoder, encoderFlags := p.selector.Choose(spec.VideoCodec, spec.HWAccel)
	audioEncoder := p.selector.ChooseAudio(spec.AudioCodec)

	targetW, targetH, _ := ResolutionDimensions(spec.Resolution)
	plan := p.filters.Build(info, targetW, targetH, spec.VideoCodec, encoder, spec.ToneMap)

	b := NewCommandBuilder().HideBanner().Overwrite().Stats()
	p.applySource(b, spec, encoder, plan.CPUOnly)

	b.MapStreams().VideoCodec(encoder).OutputArgs(encoderFlags...)
	b.VideoFilter(plan.Chain())
	b.VideoBitrate(p.resolveBitrate(spec))
	b.Keyframes(gopSize(info))

	p.applyAudio(b, audioEncoder, info)

	playlistPath := filepath.Join(outputDir, MasterPlaylistName)
	segmentPattern := filepath.Join(outputDir, "segment_%05d.ts")
	b.HLSOutput(p.segmentDuration, segmentPattern, playlistPath)

	return BuiltCommand{
		Args:       b.Build(),
		Encoder:    encoder,
		OutputPath: playlistPath,
	}
}

// BuildBatch composes the command for a single-file encode. passNum is 1
// or 2 for two-pass encodes, 0 otherwise; passlogPrefix carries the
// shared pass log location.
func (p *CommandPlanner) BuildBatch(spec EncodeSpec, outputPath string, info *MediaInfo, passNum int, passlogPrefix string) BuiltCommand {
	encoder, encoderFlags := p.selector.Choose(spec.VideoCodec, spec.HWAccel)
	audioEncoder := p.selector.ChooseAudio(spec.AudioCodec)

	targetW, targetH, _ := ResolutionDimensions(spec.Resolution)
	plan := p.filters.Build(info, targetW, targetH, spec.VideoCodec, encoder, spec.ToneMap)

	b := NewCommandBuilder().HideBanner().Overwrite().Stats()
	p.applySource(b, spec, encoder, plan.CPUOnly)

	b.MapStreams().VideoCodec(encoder).OutputArgs(encoderFlags...)

	// Two-pass rate control only applies to software encoders.
	twoPass := spec.TwoPass && isSoftwareEncoder(encoder) && passNum > 0
	if twoPass {
		b.OutputArgs("-pass", strconv.Itoa(passNum))
		if passlogPrefix != "" {
			b.OutputArgs("-passlogfile", passlogPrefix)
		}
	}

	b.VideoFilter(plan.Chain())
	if bitrate := p.resolveBitrate(spec); bitrate != "" {
		b.OutputArgs("-b:v", bitrate)
	}

	if twoPass && passNum == 1 {
		b.OutputArgs("-an")
	} else {
		p.applyAudio(b, audioEncoder, info)
	}

	if twoPass && passNum == 1 {
		// First pass discards its output; only the pass log matters.
		b.OutputArgs("-f", "null")
		b.Output(nullDevice())
	} else {
		switch strings.ToLower(spec.Container) {
		case ContainerWebM:
			b.OutputArgs("-f", "webm")
		case ContainerMKV:
			b.OutputArgs("-f", "matroska")
		default:
			// Web-playable fast start for progressive download.
			b.OutputArgs("-movflags", "+faststart")
		}
		b.Output(outputPath)
	}

	return BuiltCommand{
		Args:       b.Build(),
		Encoder:    encoder,
		OutputPath: outputPath,
	}
}

// BuildABR composes the command for multi-variant HLS: a shared decode
// split into per-variant scale branches, one encoder block per variant,
// one shared audio track, and ffmpeg's variant stream mapping.
func (p *CommandPlanner) BuildABR(spec EncodeSpec, outputDir string, info *MediaInfo) BuiltCommand {
	encoder, _ := p.selector.Choose(spec.VideoCodec, spec.HWAccel)
	audioEncoder := p.selector.ChooseAudio(spec.AudioCodec)

	variants := PlanVariants(info, p.maxVariants)
	graph, labels, cpuOnly := p.filters.BuildABR(info, variants, spec.VideoCodec, spec.ToneMap)

	b := NewCommandBuilder().HideBanner().Overwrite().Stats()
	p.applySource(b, spec, encoder, cpuOnly)
	b.FilterComplex(graph)

	gop := gopSize(info)
	var streamMaps []string
	for i, variant := range variants {
		idx := strconv.Itoa(i)
		b.OutputArgs("-map", "["+labels[i]+"]")
		b.OutputArgs("-c:v:"+idx, encoder)
		b.OutputArgs("-b:v:"+idx, variant.VideoBitrate)
		b.OutputArgs("-maxrate:v:"+idx, variant.VideoBitrate)
		b.OutputArgs("-bufsize:v:"+idx, BufsizeFor(variant.VideoBitrate))
		// Bitrate mode only for ABR; CRF would defeat the ladder.
		if strings.HasSuffix(encoder, "_nvenc") {
			b.OutputArgs("-preset:v:"+idx, variant.HWPreset)
		} else if isSoftwareEncoder(encoder) {
			b.OutputArgs("-preset:v:"+idx, "medium")
		}
		b.OutputArgs("-g:v:"+idx, strconv.Itoa(gop))
		streamMaps = append(streamMaps, fmt.Sprintf("v:%d,a:0", i))
	}

	// One shared audio track across variants.
	b.OutputArgs("-map", "0:a:0?")
	b.OutputArgs("-c:a", audioEncoder)
	if audioEncoder != "copy" {
		b.OutputArgs("-b:a", "128k", "-ac", "2")
	}

	// ffmpeg paths use forward slashes on all platforms.
	segmentPattern := filepath.ToSlash(filepath.Join(outputDir, "stream_%v_%05d.ts"))
	variantPlaylist := filepath.ToSlash(filepath.Join(outputDir, "stream_%v.m3u8"))

	b.OutputArgs(
		"-f", "hls",
		"-hls_time", strconv.Itoa(p.segmentDuration),
		"-hls_list_size", "0",
		"-hls_flags", "independent_segments+append_list",
		"-hls_segment_type", "mpegts",
		"-hls_playlist_type", "vod",
		"-master_pl_name", MasterPlaylistName,
		"-hls_segment_filename", segmentPattern,
		"-var_stream_map", strings.Join(streamMaps, " "),
	)
	b.Output(variantPlaylist)

	return BuiltCommand{
		Args:       b.Build(),
		Encoder:    encoder,
		OutputPath: filepath.Join(outputDir, MasterPlaylistName),
		Variants:   variants,
	}
}

// WriteMasterPlaylist writes the top-level ABR playlist referencing the
// per-variant playlists. BANDWIDTH carries the variant's bits-per-second
// target. Used when the encoder did not emit one itself.
func WriteMasterPlaylist(outputDir string, variants []QualityPreset) (string, error) {
	lines := []string{"#EXTM3U", "#EXT-X-VERSION:3"}

	for i, variant := range variants {
		bandwidth, err := ParseBitrate(variant.VideoBitrate)
		if err != nil {
			return "", fmt.Errorf("variant %s: %w", variant.Name, err)
		}
		lines = append(lines, fmt.Sprintf(
			"#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d,NAME=%q",
			bandwidth, variant.Width, variant.Height, variant.Name))
		lines = append(lines, fmt.Sprintf("stream_%d.m3u8", i))
	}

	path := filepath.Join(outputDir, MasterPlaylistName)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("writing master playlist: %w", err)
	}
	return path, nil
}

// applySource configures protocol options, hardware decode hints, seek
// offset, and the input itself.
func (p *CommandPlanner) applySource(b *CommandBuilder, spec EncodeSpec, encoder string, cpuOnly bool) {
	if strings.HasPrefix(spec.Source, "http://") || strings.HasPrefix(spec.Source, "https://") {
		if p.userAgent != "" {
			b.UserAgent(p.userAgent)
		}
		b.Reconnect()
		b.InputArgs("-timeout", "30000000")
	}

	// Hardware decode only when the filter chain stays on the GPU side.
	if !cpuOnly {
		b.InputArgs(p.selector.HWDecodeArgs(encoder)...)
	}

	b.StartTime(spec.StartTime)
	b.Input(spec.Source)
}

// applyAudio configures the audio encoder with channel-derived bitrate
// and a stereo downmix.
func (p *CommandPlanner) applyAudio(b *CommandBuilder, audioEncoder string, info *MediaInfo) {
	b.AudioCodec(audioEncoder)
	if audioEncoder == "copy" {
		return
	}
	channels := 2
	if info != nil && info.AudioChannels > 0 {
		channels = info.AudioChannels
	}
	b.AudioBitrate(AudioBitrateForChannels(channels))
	outChannels := channels
	if outChannels > 2 {
		outChannels = 2
	}
	b.AudioChannels(outChannels)
}

// resolveBitrate applies the "auto" lookup by target resolution.
func (p *CommandPlanner) resolveBitrate(spec EncodeSpec) string {
	if spec.Bitrate != "" && !strings.EqualFold(spec.Bitrate, "auto") {
		return spec.Bitrate
	}
	return DefaultVideoBitrate(spec.Resolution)
}

// gopSize returns the keyframe interval: two seconds of source frames.
func gopSize(info *MediaInfo) int {
	fps := 30.0
	if info != nil && info.FPS > 0 {
		fps = info.FPS
	}
	gop := int(fps * 2)
	if gop < 1 {
		gop = 60
	}
	return gop
}

// nullDevice is the discard output for two-pass first passes.
func nullDevice() string {
	if runtime.GOOS == "windows" {
		return "NUL"
	}
	return "/dev/null"
}
