package ffmpeg

import (
	"fmt"
	"strings"
)

// HDR to SDR tone mapping filter (Mobius for natural colors). The input
// colorspace (tin/pin/min) must be specified for zscale to find a
// conversion path; target luminance is ~100 nits.
const tonemapFilter = "zscale=tin=smpte2084:min=bt2020nc:pin=bt2020:t=linear:npl=100," +
	"format=gbrpf32le," +
	"zscale=p=bt709," +
	"tonemap=tonemap=mobius:desat=0," +
	"zscale=t=bt709:m=bt709:r=tv," +
	"format=yuv420p"

// FilterPlan is the ordered filter chain for one stream plus whether a
// CPU-only path is mandatory (which suppresses hardware decode hints).
type FilterPlan struct {
	Filters []string
	CPUOnly bool
}

// Chain renders the plan as an ffmpeg -vf argument.
func (p FilterPlan) Chain() string {
	return strings.Join(p.Filters, ",")
}

// FilterBuilder computes filter chains from probe output and request
// parameters.
type FilterBuilder struct {
	toneMapHDR bool // config: auto-convert HDR when the target cannot carry it
}

// NewFilterBuilder creates a filter builder.
func NewFilterBuilder(toneMapHDR bool) *FilterBuilder {
	return &FilterBuilder{toneMapHDR: toneMapHDR}
}

// NeedsTonemap decides whether HDR->SDR tone mapping is required: the
// source must be HDR and either the target codec cannot carry HDR or the
// caller asked for it.
func (b *FilterBuilder) NeedsTonemap(info *MediaInfo, targetCodec string, requested bool) bool {
	if info == nil || !info.IsHDR {
		return false
	}
	if requested {
		return true
	}
	if !b.toneMapHDR {
		return false
	}
	// H.264 cannot carry HDR; H.265/AV1 can.
	switch normalizeCodec(targetCodec) {
	case "h265", "av1":
		return false
	default:
		return true
	}
}

// Build computes the ordered filter chain for a single-output encode.
// Tone mapping forces a CPU-only path: handing hardware frames to CPU
// filters is unreliable across the hardware families.
func (b *FilterBuilder) Build(info *MediaInfo, targetWidth, targetHeight int, targetCodec, encoder string, tonemapRequested bool) FilterPlan {
	plan := FilterPlan{}

	if b.NeedsTonemap(info, targetCodec, tonemapRequested) {
		plan.Filters = append(plan.Filters, tonemapFilter)
		plan.CPUOnly = true
	}

	if w, h, ok := scaleTarget(info, targetWidth, targetHeight); ok {
		plan.Filters = append(plan.Filters, scaleFilter(w, h))
	}

	// Software encoders want 8-bit planar YUV 4:2:0; the tonemap chain
	// already ends on it.
	if isSoftwareEncoder(encoder) && !plan.CPUOnly && len(plan.Filters) > 0 {
		plan.Filters = append(plan.Filters, "format=yuv420p")
	}

	return plan
}

// BuildABR computes the filter-complex for adaptive-bitrate output: one
// decoded stream split into one scaler branch per variant. Returns the
// filter_complex string and the output labels in variant order.
func (b *FilterBuilder) BuildABR(info *MediaInfo, variants []QualityPreset, targetCodec string, tonemapRequested bool) (string, []string, bool) {
	cpuOnly := b.NeedsTonemap(info, targetCodec, tonemapRequested)

	var sb strings.Builder
	sb.WriteString("[0:v]")
	if cpuOnly {
		sb.WriteString(tonemapFilter)
		sb.WriteString(",")
	}
	sb.WriteString(fmt.Sprintf("split=%d", len(variants)))
	for i := range variants {
		sb.WriteString(fmt.Sprintf("[s%d]", i))
	}

	labels := make([]string, 0, len(variants))
	for i, variant := range variants {
		label := fmt.Sprintf("v%d", i)
		labels = append(labels, label)
		sb.WriteString(fmt.Sprintf(";[s%d]%s,format=yuv420p[%s]",
			i, scaleFilter(variant.Width, variant.Height), label))
	}

	return sb.String(), labels, cpuOnly
}

// scaleTarget decides the output dimensions. Upscaling never happens: a
// target larger than the source keeps the source size (no filter).
func scaleTarget(info *MediaInfo, targetWidth, targetHeight int) (int, int, bool) {
	if targetWidth <= 0 || targetHeight <= 0 {
		return 0, 0, false
	}
	if info != nil && info.Height > 0 && targetHeight >= info.Height {
		return 0, 0, false
	}
	return targetWidth, targetHeight, true
}

// scaleFilter renders a scale step that preserves aspect ratio and keeps
// dimensions even for 4:2:0 subsampling.
func scaleFilter(width, height int) string {
	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease:force_divisible_by=2", width, height)
}

// isSoftwareEncoder reports whether the encoder runs on the CPU.
func isSoftwareEncoder(encoder string) bool {
	return strings.HasPrefix(encoder, "lib") || encoder == "aac"
}
