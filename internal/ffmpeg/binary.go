package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"time"
)

// versionPattern extracts the version string from "ffmpeg version N.n...".
var versionPattern = regexp.MustCompile(`ffmpeg version (\S+)`)

// BinaryInfo contains information about the encoder binary installation.
type BinaryInfo struct {
	FFmpegPath  string   `json:"ffmpeg_path"`
	FFprobePath string   `json:"ffprobe_path"`
	Version     string   `json:"version"`
	Encoders    []string `json:"encoders,omitempty"`
	Decoders    []string `json:"decoders,omitempty"`
	Formats     []string `json:"formats,omitempty"`
}

// HasEncoder returns true if the binary reports the named encoder.
func (info *BinaryInfo) HasEncoder(name string) bool {
	for _, enc := range info.Encoders {
		if enc == name {
			return true
		}
	}
	return false
}

// BinaryDetector locates the ffmpeg/ffprobe binaries and inventories them.
type BinaryDetector struct {
	ffmpegPath  string // explicit path, empty = search PATH
	ffprobePath string
	timeout     time.Duration
}

// NewBinaryDetector creates a detector. Empty paths mean auto-detect.
func NewBinaryDetector(ffmpegPath, ffprobePath string) *BinaryDetector {
	return &BinaryDetector{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		timeout:     15 * time.Second,
	}
}

// Detect locates the binaries and collects their encoder/decoder/format
// inventory.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	ffmpegPath := d.ffmpegPath
	if ffmpegPath == "" {
		var err error
		ffmpegPath, err = exec.LookPath("ffmpeg")
		if err != nil {
			return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
		}
	}

	ffprobePath := d.ffprobePath
	if ffprobePath == "" {
		if p, err := exec.LookPath("ffprobe"); err == nil {
			ffprobePath = p
		} else {
			ffprobePath = "ffprobe"
		}
	}

	info := &BinaryInfo{
		FFmpegPath:  ffmpegPath,
		FFprobePath: ffprobePath,
	}

	out, err := exec.CommandContext(ctx, ffmpegPath, "-version").Output()
	if err != nil {
		return nil, fmt.Errorf("running %s -version: %w", ffmpegPath, err)
	}
	if m := versionPattern.FindStringSubmatch(string(out)); len(m) > 1 {
		info.Version = m[1]
	}

	info.Encoders = d.listNames(ctx, ffmpegPath, "-encoders")
	info.Decoders = d.listNames(ctx, ffmpegPath, "-decoders")
	info.Formats = d.listFormats(ctx, ffmpegPath)

	return info, nil
}

// listNames parses ffmpeg -encoders / -decoders output. Lines after the
// "------" divider look like " V....D libx264    H.264 ...".
func (d *BinaryDetector) listNames(ctx context.Context, ffmpegPath, flag string) []string {
	out, err := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", flag).Output()
	if err != nil {
		return nil
	}

	var names []string
	past := false
	for _, line := range strings.Split(string(out), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "------") {
			past = true
			continue
		}
		if !past || trimmed == "" {
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) >= 2 {
			names = append(names, fields[1])
		}
	}
	return names
}

// listFormats parses ffmpeg -formats output, keeping muxable formats.
func (d *BinaryDetector) listFormats(ctx context.Context, ffmpegPath string) []string {
	out, err := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-formats").Output()
	if err != nil {
		return nil
	}

	var formats []string
	past := false
	for _, line := range strings.Split(string(out), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "--") {
			past = true
			continue
		}
		if !past || trimmed == "" {
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) >= 2 && strings.Contains(fields[0], "E") {
			formats = append(formats, fields[1])
		}
	}
	return formats
}

// filterVideoCodecs reduces an encoder list to distinct video codec names
// the service advertises.
func filterVideoCodecs(encoders []string) []string {
	known := []struct {
		codec    string
		patterns []string
	}{
		{"h264", []string{"libx264", "h264_"}},
		{"h265", []string{"libx265", "hevc_"}},
		{"vp9", []string{"libvpx-vp9", "vp9_"}},
		{"av1", []string{"libaom-av1", "libsvtav1", "av1_"}},
	}

	var out []string
	for _, k := range known {
		for _, enc := range encoders {
			matched := false
			for _, p := range k.patterns {
				if strings.HasPrefix(enc, p) || enc == p {
					matched = true
					break
				}
			}
			if matched {
				out = append(out, k.codec)
				break
			}
		}
	}
	return out
}

// filterAudioCodecs reduces an encoder list to distinct audio codec names.
func filterAudioCodecs(encoders []string) []string {
	known := []struct {
		codec    string
		patterns []string
	}{
		{"aac", []string{"aac", "libfdk_aac"}},
		{"mp3", []string{"libmp3lame"}},
		{"opus", []string{"libopus"}},
		{"ac3", []string{"ac3"}},
		{"flac", []string{"flac"}},
	}

	var out []string
	for _, k := range known {
		for _, p := range k.patterns {
			if containsString(encoders, p) {
				out = append(out, k.codec)
				break
			}
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// platformString describes the host for the advertisement record.
func platformString() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}
