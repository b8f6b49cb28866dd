package ffmpeg

import (
	"strconv"
	"strings"
)

// CommandBuilder assembles an encoder-binary argument vector with a
// fluent API. Argument groups keep their relative order: global args,
// input args, -i input, filters, output args, output.
type CommandBuilder struct {
	globalArgs []string
	inputArgs  []string
	input      string
	filter     string // -vf chain
	complexF   string // -filter_complex graph
	outputArgs []string
	output     string
	logLevel   string
	overwrite  bool
}

// NewCommandBuilder creates a command builder.
func NewCommandBuilder() *CommandBuilder {
	return &CommandBuilder{logLevel: "error"}
}

// LogLevel sets the encoder log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// HideBanner hides the encoder banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// Overwrite enables output file overwriting.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// Stats enables periodic progress lines on stderr.
func (b *CommandBuilder) Stats() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-stats")
	return b
}

// InputArgs adds arbitrary input-side arguments.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// Reconnect enables automatic reconnection for network sources.
func (b *CommandBuilder) Reconnect() *CommandBuilder {
	b.inputArgs = append(b.inputArgs,
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5")
	return b
}

// UserAgent sets the HTTP User-Agent header for network sources.
func (b *CommandBuilder) UserAgent(ua string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, "-headers", "User-Agent: "+ua+"\r\n")
	return b
}

// StartTime seeks the input before decoding (fast seek).
func (b *CommandBuilder) StartTime(seconds float64) *CommandBuilder {
	if seconds > 0 {
		b.inputArgs = append(b.inputArgs, "-ss", strconv.FormatFloat(seconds, 'f', -1, 64))
	}
	return b
}

// Input sets the input source.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

// MapStreams maps the first video stream and, when present, the first
// audio stream.
func (b *CommandBuilder) MapStreams() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-map", "0:v:0", "-map", "0:a:0?")
	return b
}

// VideoCodec sets the video encoder.
func (b *CommandBuilder) VideoCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:v", codec)
	return b
}

// AudioCodec sets the audio encoder.
func (b *CommandBuilder) AudioCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:a", codec)
	return b
}

// VideoBitrate sets target, max rate, and a 2x buffer for consistent
// streaming.
func (b *CommandBuilder) VideoBitrate(bitrate string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs,
		"-b:v", bitrate,
		"-maxrate", bitrate,
		"-bufsize", BufsizeFor(bitrate))
	return b
}

// AudioBitrate sets the audio bitrate.
func (b *CommandBuilder) AudioBitrate(bitrate string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-b:a", bitrate)
	return b
}

// AudioChannels sets the output channel count.
func (b *CommandBuilder) AudioChannels(channels int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-ac", strconv.Itoa(channels))
	return b
}

// Keyframes pins the keyframe interval for clean segment boundaries.
func (b *CommandBuilder) Keyframes(gopSize int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs,
		"-g", strconv.Itoa(gopSize),
		"-keyint_min", strconv.Itoa(gopSize))
	return b
}

// VideoFilter sets the -vf chain.
func (b *CommandBuilder) VideoFilter(chain string) *CommandBuilder {
	if chain != "" {
		b.filter = chain
	}
	return b
}

// FilterComplex sets the -filter_complex graph.
func (b *CommandBuilder) FilterComplex(graph string) *CommandBuilder {
	if graph != "" {
		b.complexF = graph
	}
	return b
}

// OutputArgs adds arbitrary output-side arguments.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// HLSOutput configures a segmented HLS output writing to playlistPath.
func (b *CommandBuilder) HLSOutput(segmentSeconds int, segmentPattern, playlistPath string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs,
		"-f", "hls",
		"-hls_time", strconv.Itoa(segmentSeconds),
		"-hls_list_size", "0",
		"-hls_segment_filename", segmentPattern,
		"-hls_flags", "independent_segments+append_list",
		"-hls_segment_type", "mpegts",
		"-hls_playlist_type", "vod",
	)
	b.output = playlistPath
	return b
}

// Output sets the output destination.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// Build renders the final argument vector.
func (b *CommandBuilder) Build() []string {
	args := []string{"-loglevel", b.logLevel}
	args = append(args, b.globalArgs...)

	if b.overwrite {
		args = append(args, "-y")
	}

	args = append(args, b.inputArgs...)
	args = append(args, "-i", b.input)

	if b.complexF != "" {
		args = append(args, "-filter_complex", b.complexF)
	} else if b.filter != "" {
		args = append(args, "-vf", b.filter)
	}

	args = append(args, b.outputArgs...)
	args = append(args, b.output)

	return args
}

// String renders the command for logging.
func (b *CommandBuilder) String() string {
	return strings.Join(b.Build(), " ")
}
