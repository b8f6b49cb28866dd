package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"
)

// QualityPreset is one rung of the adaptive-bitrate ladder.
type QualityPreset struct {
	Name         string `json:"name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	VideoBitrate string `json:"video_bitrate"`
	AudioBitrate string `json:"audio_bitrate"`
	CRF          int    `json:"crf"`       // Software quality target
	HWPreset     string `json:"hw_preset"` // NVENC preset (p1..p7)
}

// QualityLadder is the global preset ladder, ordered by descending height.
// Bitrates track the Plex/Jellyfin quality tiers.
var QualityLadder = []QualityPreset{
	{Name: "4K", Width: 3840, Height: 2160, VideoBitrate: "20M", AudioBitrate: "384k", CRF: 18, HWPreset: "p4"},
	{Name: "4K-low", Width: 3840, Height: 2160, VideoBitrate: "12M", AudioBitrate: "256k", CRF: 20, HWPreset: "p5"},
	{Name: "1080p", Width: 1920, Height: 1080, VideoBitrate: "8M", AudioBitrate: "192k", CRF: 20, HWPreset: "p4"},
	{Name: "1080p-low", Width: 1920, Height: 1080, VideoBitrate: "4M", AudioBitrate: "128k", CRF: 23, HWPreset: "p5"},
	{Name: "720p", Width: 1280, Height: 720, VideoBitrate: "4M", AudioBitrate: "128k", CRF: 22, HWPreset: "p4"},
	{Name: "720p-low", Width: 1280, Height: 720, VideoBitrate: "2M", AudioBitrate: "96k", CRF: 24, HWPreset: "p5"},
	{Name: "480p", Width: 854, Height: 480, VideoBitrate: "1.5M", AudioBitrate: "96k", CRF: 24, HWPreset: "p5"},
	{Name: "360p", Width: 640, Height: 360, VideoBitrate: "800k", AudioBitrate: "64k", CRF: 26, HWPreset: "p6"},
}

// Resolution names accepted in requests.
const (
	ResolutionSource = "source"
	Resolution4K     = "4k"
	Resolution1080p  = "1080p"
	Resolution720p   = "720p"
	Resolution480p   = "480p"
)

// resolutionDimensions maps the named target resolutions to pixel sizes.
var resolutionDimensions = map[string][2]int{
	Resolution4K:    {3840, 2160},
	Resolution1080p: {1920, 1080},
	Resolution720p:  {1280, 720},
	Resolution480p:  {854, 480},
}

// resolutionBitrates maps named resolutions to default video bitrates.
var resolutionBitrates = map[string]string{
	Resolution4K:     "20M",
	Resolution1080p:  "8M",
	Resolution720p:   "4M",
	Resolution480p:   "1.5M",
	ResolutionSource: "8M",
}

// audioBitrateByChannels maps source channel counts to audio bitrates.
var audioBitrateByChannels = map[int]string{
	1: "64k",  // mono
	2: "128k", // stereo
	6: "384k", // 5.1
	8: "512k", // 7.1
}

// ResolutionDimensions returns the pixel dimensions for a named resolution.
// The second return is false for "source" or unknown names.
func ResolutionDimensions(name string) (int, int, bool) {
	dims, ok := resolutionDimensions[strings.ToLower(name)]
	if !ok {
		return 0, 0, false
	}
	return dims[0], dims[1], true
}

// DefaultVideoBitrate resolves an "auto" bitrate from the target resolution.
func DefaultVideoBitrate(resolution string) string {
	if br, ok := resolutionBitrates[strings.ToLower(resolution)]; ok {
		return br
	}
	return resolutionBitrates[ResolutionSource]
}

// AudioBitrateForChannels picks the audio bitrate for a source channel count.
func AudioBitrateForChannels(channels int) string {
	if br, ok := audioBitrateByChannels[channels]; ok {
		return br
	}
	return "128k"
}

// ParseBitrate parses a bitrate string like "8M", "800k" or "1500000" into
// bits per second.
func ParseBitrate(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty bitrate")
	}
	mult := int64(1)
	switch {
	case strings.HasSuffix(strings.ToUpper(s), "M"):
		mult = 1_000_000
		s = s[:len(s)-1]
	case strings.HasSuffix(strings.ToUpper(s), "K"):
		mult = 1_000
		s = s[:len(s)-1]
	}
	val, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing bitrate %q: %w", s, err)
	}
	return int64(val * float64(mult)), nil
}

// BufsizeFor returns the encoder buffer size for a bitrate (2x, same unit).
func BufsizeFor(bitrate string) string {
	bitrate = strings.TrimSpace(bitrate)
	if bitrate == "" {
		return ""
	}
	unit := ""
	num := bitrate
	switch last := bitrate[len(bitrate)-1]; last {
	case 'M', 'm':
		unit = "M"
		num = bitrate[:len(bitrate)-1]
	case 'K', 'k':
		unit = "k"
		num = bitrate[:len(bitrate)-1]
	}
	val, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil {
		return bitrate
	}
	return fmt.Sprintf("%d%s", int(val*2), unit)
}

// PlanVariants selects the ABR ladder rungs for a source: presets taller
// than the source are dropped (no upscaling), one rung per distinct height
// is kept, and at most maxVariants of the remaining ladder are used. A
// source shorter than every rung still gets the lowest rung.
func PlanVariants(info *MediaInfo, maxVariants int) []QualityPreset {
	if maxVariants <= 0 {
		maxVariants = 4
	}
	seen := make(map[int]bool)
	var variants []QualityPreset
	for _, preset := range QualityLadder {
		if preset.Height > info.Height || seen[preset.Height] {
			continue
		}
		seen[preset.Height] = true
		variants = append(variants, preset)
	}
	if len(variants) == 0 {
		variants = append(variants, QualityLadder[len(QualityLadder)-1])
	}
	if len(variants) > maxVariants {
		variants = variants[:maxVariants]
	}
	return variants
}
