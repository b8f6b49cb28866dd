package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// vaapiRenderNodes are the candidate DRI render-node device paths probed
// in order; the first that opens wins.
var vaapiRenderNodes = []string{
	"/dev/dri/renderD128",
	"/dev/dri/renderD129",
	"/dev/dri/renderD130",
}

// hwEncoderSuffixes maps a family to the encoder-name suffix ffmpeg uses.
var hwEncoderSuffixes = map[HWAccelType]string{
	HWAccelNVENC:        "_nvenc",
	HWAccelQSV:          "_qsv",
	HWAccelVAAPI:        "_vaapi",
	HWAccelAMF:          "_amf",
	HWAccelVideoToolbox: "_videotoolbox",
}

// hwDecoderSuffixes maps a family to its dedicated decoder suffix, where
// one exists.
var hwDecoderSuffixes = map[HWAccelType]string{
	HWAccelNVENC: "_cuvid",
	HWAccelQSV:   "_qsv",
}

// CapabilityProber builds the process-wide capability snapshot. Run once
// at startup.
type CapabilityProber struct {
	binInfo     *BinaryInfo
	vaapiDevice string // configured override, empty = walk render nodes
	maxJobs     int
	logger      *slog.Logger
}

// NewCapabilityProber creates a capability prober over a detected binary.
func NewCapabilityProber(binInfo *BinaryInfo, vaapiDevice string, maxJobs int, logger *slog.Logger) *CapabilityProber {
	return &CapabilityProber{
		binInfo:     binInfo,
		vaapiDevice: vaapiDevice,
		maxJobs:     maxJobs,
		logger:      logger.With(slog.String("component", "capability_probe")),
	}
}

// Probe inventories the encoder binary and probes each hardware family.
// Detecting no hardware family is not an error; the snapshot degrades to
// software only.
func (p *CapabilityProber) Probe(ctx context.Context) *Capabilities {
	caps := &Capabilities{
		VideoCodecs:       filterVideoCodecs(p.binInfo.Encoders),
		AudioCodecs:       filterAudioCodecs(p.binInfo.Encoders),
		Formats:           p.binInfo.Formats,
		MaxConcurrentJobs: p.maxJobs,
		FFmpegVersion:     p.binInfo.Version,
		Platform:          platformString(),
	}

	families := []HWAccelType{HWAccelNVENC, HWAccelQSV, HWAccelVAAPI, HWAccelAMF, HWAccelVideoToolbox}
	for _, family := range families {
		hwcap := p.probeFamily(ctx, family)
		caps.HWAccels = append(caps.HWAccels, hwcap)
		if hwcap.Available {
			p.logger.Info("hardware accelerator available",
				slog.String("family", family.String()),
				slog.String("device", hwcap.DevicePath),
				slog.Int("encoders", len(hwcap.Encoders)),
			)
		}
	}

	// Software is always present.
	caps.HWAccels = append(caps.HWAccels, HWAccelCapability{
		Type:      HWAccelSoftware,
		Available: true,
		Encoders:  softwareEncoders(p.binInfo.Encoders),
	})

	return caps
}

// probeFamily checks a single hardware family: the encoder binary must
// list at least one encoder for it, and (when applicable) a runtime
// device open must succeed.
func (p *CapabilityProber) probeFamily(ctx context.Context, family HWAccelType) HWAccelCapability {
	hwcap := HWAccelCapability{Type: family}

	hwcap.Encoders = encodersWithSuffix(p.binInfo.Encoders, hwEncoderSuffixes[family])
	if suffix, ok := hwDecoderSuffixes[family]; ok {
		hwcap.Decoders = encodersWithSuffix(p.binInfo.Decoders, suffix)
	}
	if len(hwcap.Encoders) == 0 {
		return hwcap
	}

	switch family {
	case HWAccelNVENC:
		gpu := queryNVIDIAGPU(ctx)
		if gpu == nil {
			return hwcap
		}
		hwcap.GPU = gpu
		hwcap.Available = p.testEncode(ctx, []string{"-c:v", "h264_nvenc"})
	case HWAccelQSV:
		hwcap.Available = p.testEncode(ctx, []string{
			"-init_hw_device", "qsv=hw",
			"-vf", "hwupload=extra_hw_frames=64,format=qsv",
			"-c:v", "h264_qsv",
		})
	case HWAccelVAAPI:
		if runtime.GOOS != "linux" {
			return hwcap
		}
		devices := vaapiRenderNodes
		if p.vaapiDevice != "" {
			devices = []string{p.vaapiDevice}
		}
		for _, device := range devices {
			if _, err := os.Stat(device); err != nil {
				continue
			}
			if p.testEncode(ctx, []string{
				"-vaapi_device", device,
				"-vf", "format=nv12,hwupload",
				"-c:v", "h264_vaapi",
			}) {
				hwcap.Available = true
				hwcap.DevicePath = device
				break
			}
		}
	case HWAccelAMF:
		if runtime.GOOS != "windows" {
			return hwcap
		}
		hwcap.Available = p.testEncode(ctx, []string{"-c:v", "h264_amf"})
	case HWAccelVideoToolbox:
		if runtime.GOOS != "darwin" {
			return hwcap
		}
		hwcap.Available = p.testEncode(ctx, []string{"-c:v", "h264_videotoolbox"})
	}

	return hwcap
}

// testEncode runs a tiny synthetic encode to verify the family actually
// works at runtime, not just that the encoder is compiled in.
func (p *CapabilityProber) testEncode(ctx context.Context, encodeArgs []string) bool {
	args := []string{
		"-hide_banner", "-v", "error",
		"-f", "lavfi", "-i", "nullsrc=s=320x240:d=0.1",
	}
	args = append(args, encodeArgs...)
	args = append(args, "-t", "0.01", "-f", "null", "-")

	cmd := exec.CommandContext(ctx, p.binInfo.FFmpegPath, args...)
	return cmd.Run() == nil
}

// queryNVIDIAGPU returns GPU details via nvidia-smi, or nil when absent.
func queryNVIDIAGPU(ctx context.Context) *GPUInfo {
	cmd := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=name,memory.total,driver_version",
		"--format=csv,noheader,nounits")
	out, err := cmd.Output()
	if err != nil {
		return nil
	}

	line := strings.TrimSpace(strings.Split(string(out), "\n")[0])
	if line == "" {
		return nil
	}

	gpu := &GPUInfo{}
	parts := strings.Split(line, ",")
	if len(parts) > 0 {
		gpu.Name = strings.TrimSpace(parts[0])
	}
	if len(parts) > 1 {
		if mem, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil {
			gpu.MemoryMB = mem
		}
	}
	if len(parts) > 2 {
		gpu.DriverVersion = strings.TrimSpace(parts[2])
	}
	return gpu
}

// encodersWithSuffix filters the encoder list by a family suffix.
func encodersWithSuffix(encoders []string, suffix string) []string {
	if suffix == "" {
		return nil
	}
	var out []string
	for _, enc := range encoders {
		if strings.HasSuffix(enc, suffix) {
			out = append(out, enc)
		}
	}
	return out
}

// softwareEncoders returns the software video encoders present.
func softwareEncoders(encoders []string) []string {
	candidates := []string{"libx264", "libx265", "libvpx-vp9", "libaom-av1", "libsvtav1"}
	var out []string
	for _, c := range candidates {
		if containsString(encoders, c) {
			out = append(out, c)
		}
	}
	return out
}

// PreferredHWAccel returns the best family for this host following the
// OS-dependent ladder: VideoToolbox on darwin; NVENC > AMF > QSV on
// windows; NVENC > VA-API > QSV elsewhere.
func (c *Capabilities) PreferredHWAccel() HWAccelType {
	available := make(map[HWAccelType]bool)
	for _, hw := range c.HWAccels {
		if hw.Available {
			available[hw.Type] = true
		}
	}

	var ladder []HWAccelType
	switch runtime.GOOS {
	case "darwin":
		ladder = []HWAccelType{HWAccelVideoToolbox}
	case "windows":
		ladder = []HWAccelType{HWAccelNVENC, HWAccelAMF, HWAccelQSV}
	default:
		ladder = []HWAccelType{HWAccelNVENC, HWAccelVAAPI, HWAccelQSV}
	}

	for _, family := range ladder {
		if available[family] {
			return family
		}
	}
	return HWAccelSoftware
}

// String renders a one-line summary used in the startup log.
func (c *Capabilities) String() string {
	return fmt.Sprintf("ffmpeg %s on %s: hw=%v video=%v audio=%v",
		c.FFmpegVersion, c.Platform, c.AvailableHWAccels(), c.VideoCodecs, c.AudioCodecs)
}
