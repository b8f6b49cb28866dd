package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/asticode/go-astits"
	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
)

// Segment integrity thresholds.
const (
	minSegmentBytes     = 1024 // 1 KB
	minBatchBytes       = 1024
	maxBatchBytes       = int64(100) << 30 // plausible upper bound
	segmentSampleCount  = 10               // first N segments inspected
	tsSyncByte          = 0x47
	minSegmentSizeRatio = 0.05 // smallest acceptable fraction of the running average
)

// ValidationError describes why on-disk artifacts failed inspection. It
// feeds the same retry/fallback policy as a non-zero exit.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "output validation failed: " + e.Reason
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ValidateHLS inspects a finished HLS output directory: the playlist must
// be well-formed and non-empty, at least one referenced variant playlist
// must exist (missing ones are skipped), and the first segments of each
// existing media playlist must pass integrity checks.
func ValidateHLS(outputDir string) error {
	masterPath := filepath.Join(outputDir, MasterPlaylistName)
	data, err := os.ReadFile(masterPath)
	if err != nil {
		return validationErrorf("master playlist missing: %v", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return validationErrorf("master playlist is empty")
	}

	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return validationErrorf("master playlist malformed: %v", err)
	}

	switch p := pl.(type) {
	case *playlist.Multivariant:
		if len(p.Variants) == 0 {
			return validationErrorf("master playlist references no variants")
		}
		found := false
		for _, variant := range p.Variants {
			variantPath := filepath.Join(outputDir, filepath.FromSlash(variant.URI))
			if fileExists(variantPath) {
				found = true
				if err := validateMediaPlaylist(outputDir, variantPath); err != nil {
					return err
				}
			}
		}
		if !found {
			return validationErrorf("no referenced variant playlist exists")
		}
	case *playlist.Media:
		if err := validateMediaSegments(outputDir, p); err != nil {
			return err
		}
	default:
		return validationErrorf("unrecognised playlist type")
	}

	return nil
}

// validateMediaPlaylist parses one variant playlist and checks its
// segments.
func validateMediaPlaylist(outputDir, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return validationErrorf("variant playlist unreadable: %v", err)
	}
	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return validationErrorf("variant playlist malformed: %v", err)
	}
	media, ok := pl.(*playlist.Media)
	if !ok {
		return validationErrorf("variant playlist %s is not a media playlist", filepath.Base(path))
	}
	return validateMediaSegments(outputDir, media)
}

// validateMediaSegments applies the segment checks: at least one non-zero
// segment; each sampled segment is at least 1 KB, starts with the MPEG-TS
// sync byte, and is not disproportionately small versus the running
// average. The final segment may legitimately be short.
func validateMediaSegments(outputDir string, media *playlist.Media) error {
	if len(media.Segments) == 0 {
		return validationErrorf("playlist references no segments")
	}

	sample := media.Segments
	if len(sample) > segmentSampleCount {
		sample = sample[:segmentSampleCount]
	}

	var total int64
	checked := 0
	for i, seg := range sample {
		segPath := filepath.Join(outputDir, filepath.FromSlash(seg.URI))
		fi, err := os.Stat(segPath)
		if err != nil {
			return validationErrorf("segment %s missing: %v", seg.URI, err)
		}
		size := fi.Size()
		if size == 0 {
			return validationErrorf("segment %s is empty", seg.URI)
		}
		if size < minSegmentBytes {
			return validationErrorf("segment %s truncated (%d bytes)", seg.URI, size)
		}

		if err := checkTSSync(segPath); err != nil {
			return validationErrorf("segment %s: %v", seg.URI, err)
		}

		// Size-distribution sanity: an interior segment far below the
		// running average indicates a truncated write.
		if checked > 0 {
			avg := float64(total) / float64(checked)
			isLast := i == len(media.Segments)-1
			if !isLast && float64(size) < avg*minSegmentSizeRatio {
				return validationErrorf("segment %s suspiciously small (%d bytes vs %.0f average)",
					seg.URI, size, avg)
			}
		}
		total += size
		checked++
	}

	return nil
}

// checkTSSync verifies the segment begins with a parseable MPEG-TS
// packet. The first two 188-byte packets are read: the demuxer detects
// the packet size from the sync byte that opens the second one.
func checkTSSync(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening segment: %w", err)
	}
	defer f.Close()

	head := make([]byte, 2*188)
	if _, err := io.ReadFull(f, head); err != nil {
		return fmt.Errorf("reading segment head: %w", err)
	}
	if head[0] != tsSyncByte {
		return fmt.Errorf("missing MPEG-TS sync byte (got 0x%02x)", head[0])
	}

	dmx := astits.NewDemuxer(context.Background(), bytes.NewReader(head))
	if _, err := dmx.NextPacket(); err != nil {
		return fmt.Errorf("first TS packet unparseable: %w", err)
	}
	return nil
}

// ValidateBatch inspects a finished batch output file.
func ValidateBatch(outputPath string) error {
	fi, err := os.Stat(outputPath)
	if err != nil {
		return validationErrorf("output file missing: %v", err)
	}
	if fi.Size() < minBatchBytes {
		return validationErrorf("output file too small (%d bytes)", fi.Size())
	}
	if fi.Size() > maxBatchBytes {
		return validationErrorf("output file implausibly large (%d bytes)", fi.Size())
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
