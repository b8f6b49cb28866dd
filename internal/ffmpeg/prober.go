package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Probe retry policy: a failed attempt gets two retries with a short
// backoff. Failures are not classified; every failure is retried.
const (
	probeMaxRetries = 2
	probeRetryDelay = 2 * time.Second
)

// ErrSourceUnreadable marks a probe that returned no duration: the source
// is unreachable or not a media file. Fatal for job setup.
var ErrSourceUnreadable = fmt.Errorf("source unreachable or unreadable")

// probeResult mirrors the ffprobe JSON document.
type probeResult struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

type probeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
}

type probeStream struct {
	CodecName      string `json:"codec_name"`
	CodecType      string `json:"codec_type"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	PixFmt         string `json:"pix_fmt,omitempty"`
	ColorSpace     string `json:"color_space,omitempty"`
	ColorTransfer  string `json:"color_transfer,omitempty"`
	ColorPrimaries string `json:"color_primaries,omitempty"`
	Channels       int    `json:"channels,omitempty"`
	RFrameRate     string `json:"r_frame_rate,omitempty"`
	AvgFrameRate   string `json:"avg_frame_rate,omitempty"`
	Duration       string `json:"duration,omitempty"`
}

// Prober invokes the probing side of the encoder binary on source URIs.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
	logger      *slog.Logger
}

// NewProber creates a media prober.
func NewProber(ffprobePath string, timeout time.Duration, logger *slog.Logger) *Prober {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     timeout,
		logger:      logger.With(slog.String("component", "media_probe")),
	}
}

// Probe inspects a source URI, retrying failed attempts. A successful
// probe with zero duration returns ErrSourceUnreadable.
func (p *Prober) Probe(ctx context.Context, source string) (*MediaInfo, error) {
	var lastErr error
	for attempt := 0; attempt <= probeMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(probeRetryDelay):
			}
			p.logger.Debug("retrying probe",
				slog.String("source", source),
				slog.Int("attempt", attempt+1),
			)
		}

		info, err := p.probeOnce(ctx, source)
		if err != nil {
			lastErr = err
			continue
		}
		if info.Duration == 0 {
			return nil, fmt.Errorf("%w: %s", ErrSourceUnreadable, source)
		}
		return info, nil
	}
	return nil, fmt.Errorf("probing %s: %w", source, lastErr)
}

func (p *Prober) probeOnce(ctx context.Context, source string) (*MediaInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
	}
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
		)
	}
	args = append(args, source)

	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("probe timeout after %v", p.timeout)
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var result probeResult
	if err := json.Unmarshal(out, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}

	return simplify(&result), nil
}

// simplify reduces the raw probe document to a MediaInfo.
func simplify(result *probeResult) *MediaInfo {
	info := &MediaInfo{}

	if result.Format.Duration != "" {
		if dur, err := strconv.ParseFloat(result.Format.Duration, 64); err == nil {
			info.Duration = dur
		}
	}

	for _, stream := range result.Streams {
		switch stream.CodecType {
		case "video":
			if info.VideoCodec != "" {
				continue // first video stream wins
			}
			info.VideoCodec = stream.CodecName
			info.Width = stream.Width
			info.Height = stream.Height
			info.PixFmt = stream.PixFmt
			info.ColorSpace = stream.ColorSpace
			info.ColorTransfer = stream.ColorTransfer
			info.ColorPrimaries = stream.ColorPrimaries

			if stream.AvgFrameRate != "" {
				info.FPS = parseFramerate(stream.AvgFrameRate)
			}
			if info.FPS == 0 && stream.RFrameRate != "" {
				info.FPS = parseFramerate(stream.RFrameRate)
			}

			// Some containers only carry duration per stream.
			if info.Duration == 0 && stream.Duration != "" {
				if dur, err := strconv.ParseFloat(stream.Duration, 64); err == nil {
					info.Duration = dur
				}
			}
		case "audio":
			if info.AudioCodec != "" {
				continue
			}
			info.AudioCodec = stream.CodecName
			info.AudioChannels = stream.Channels
		}
	}

	info.DeriveHDR()
	return info
}

// parseFramerate parses a framerate string like "30000/1001" or "25/1".
func parseFramerate(fr string) float64 {
	parts := strings.Split(fr, "/")
	if len(parts) != 2 {
		if f, err := strconv.ParseFloat(fr, 64); err == nil {
			return f
		}
		return 0
	}

	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}
