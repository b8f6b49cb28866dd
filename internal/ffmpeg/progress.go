package ffmpeg

import (
	"regexp"
	"strconv"
)

// Progress is the latest sample parsed from the encoder's stderr.
// Percent stays capped below 100 until the job reaches a terminal state.
type Progress struct {
	Percent    float64 `json:"percent"`
	Frame      int64   `json:"frame"`
	FPS        float64 `json:"fps"`
	Bitrate    string  `json:"bitrate"`
	TotalSize  int64   `json:"total_size"`
	Time       float64 `json:"time"` // current source timestamp, seconds
	Speed      float64 `json:"speed"`
	ETASeconds int     `json:"eta_seconds,omitempty"`
	Stage      string  `json:"stage,omitempty"`
}

// Regex patterns for the encoder's stderr progress shape:
// frame= 1234 fps= 30 q=28.0 size= 2048KiB time=00:00:41.00 bitrate=409.2kbits/s speed=1.37x
var (
	frameRe   = regexp.MustCompile(`frame=\s*(\d+)`)
	fpsRe     = regexp.MustCompile(`fps=\s*([\d.]+)`)
	bitrateRe = regexp.MustCompile(`bitrate=\s*([\d.]+\s*\w+/s)`)
	sizeRe    = regexp.MustCompile(`size=\s*(\d+)`)
	timeRe    = regexp.MustCompile(`time=(\d+):(\d+):(\d+\.?\d*)`)
	speedRe   = regexp.MustCompile(`speed=\s*([\d.]+)x`)
)

// IsProgressLine reports whether a stderr line carries progress fields.
func IsProgressLine(line string) bool {
	return frameRe.MatchString(line) || sizeRe.MatchString(line)
}

// ParseProgressLine folds one stderr progress line into the sample.
// durationSeconds derives the percentage; the percentage is capped at
// 99.9 since only a validated terminal state may report completion.
func ParseProgressLine(line string, progress *Progress, durationSeconds float64) {
	if m := frameRe.FindStringSubmatch(line); len(m) > 1 {
		progress.Frame, _ = strconv.ParseInt(m[1], 10, 64)
	}
	if m := fpsRe.FindStringSubmatch(line); len(m) > 1 {
		progress.FPS, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := bitrateRe.FindStringSubmatch(line); len(m) > 1 {
		progress.Bitrate = m[1]
	}
	if m := sizeRe.FindStringSubmatch(line); len(m) > 1 {
		// size= is reported in KiB
		if kib, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			progress.TotalSize = kib * 1024
		}
	}
	if m := timeRe.FindStringSubmatch(line); len(m) > 3 {
		hours, _ := strconv.Atoi(m[1])
		mins, _ := strconv.Atoi(m[2])
		secs, _ := strconv.ParseFloat(m[3], 64)
		progress.Time = float64(hours)*3600 + float64(mins)*60 + secs
	}
	if m := speedRe.FindStringSubmatch(line); len(m) > 1 {
		progress.Speed, _ = strconv.ParseFloat(m[1], 64)
	}

	if durationSeconds > 0 {
		pct := progress.Time / durationSeconds * 100
		if pct > 99.9 {
			pct = 99.9
		}
		progress.Percent = pct

		if progress.Speed > 0 {
			remaining := durationSeconds - progress.Time
			if remaining < 0 {
				remaining = 0
			}
			progress.ETASeconds = int(remaining / progress.Speed)
		}
	}
}
