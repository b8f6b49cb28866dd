package ffmpeg

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Encoder failure policy: a family is disabled after this many
// consecutive failures and re-enabled after an exponentially scaling
// cooldown capped at one hour.
const (
	encoderDisableThreshold = 3
	encoderCooldownBase     = 5 * time.Minute
	encoderCooldownMax      = time.Hour
)

// encoderTable maps (codec, family) to a concrete encoder name. Missing
// entries degrade to software.
var encoderTable = map[string]map[HWAccelType]string{
	"h264": {
		HWAccelNVENC:        "h264_nvenc",
		HWAccelQSV:          "h264_qsv",
		HWAccelVAAPI:        "h264_vaapi",
		HWAccelAMF:          "h264_amf",
		HWAccelVideoToolbox: "h264_videotoolbox",
		HWAccelSoftware:     "libx264",
	},
	"h265": {
		HWAccelNVENC:        "hevc_nvenc",
		HWAccelQSV:          "hevc_qsv",
		HWAccelVAAPI:        "hevc_vaapi",
		HWAccelAMF:          "hevc_amf",
		HWAccelVideoToolbox: "hevc_videotoolbox",
		HWAccelSoftware:     "libx265",
	},
	"vp9": {
		HWAccelQSV:      "vp9_qsv",
		HWAccelVAAPI:    "vp9_vaapi",
		HWAccelSoftware: "libvpx-vp9",
	},
	"av1": {
		HWAccelNVENC:    "av1_nvenc",
		HWAccelQSV:      "av1_qsv",
		HWAccelVAAPI:    "av1_vaapi",
		HWAccelSoftware: "libaom-av1",
	},
}

// audioEncoderTable maps audio codec names to encoder names.
var audioEncoderTable = map[string]string{
	"aac":  "aac",
	"opus": "libopus",
	"mp3":  "libmp3lame",
	"ac3":  "ac3",
	"copy": "copy",
}

// failureRecord tracks consecutive failures for one encoder.
type failureRecord struct {
	failures    int
	lastFailure time.Time
}

// EncoderSelector maps (codec, requested family) to a concrete encoder
// and quality flags, tracking per-encoder failures with cooldown. It is
// the exclusive owner of the failure table. Failure counts are kept per
// encoder; the disabled state covers the whole hardware family, so
// every codec on a failing family cools down together.
type EncoderSelector struct {
	caps        *Capabilities
	nvencPreset string
	qsvPreset   string

	mu       sync.Mutex
	failures map[string]*failureRecord
	disabled map[HWAccelType]*failureRecord

	now    func() time.Time // test hook
	logger *slog.Logger
}

// NewEncoderSelector creates an encoder selector over a capability
// snapshot.
func NewEncoderSelector(caps *Capabilities, nvencPreset, qsvPreset string, logger *slog.Logger) *EncoderSelector {
	if nvencPreset == "" {
		nvencPreset = "p4"
	}
	if qsvPreset == "" {
		qsvPreset = "medium"
	}
	return &EncoderSelector{
		caps:        caps,
		nvencPreset: nvencPreset,
		qsvPreset:   qsvPreset,
		failures:    make(map[string]*failureRecord),
		disabled:    make(map[HWAccelType]*failureRecord),
		now:         time.Now,
		logger:      logger.With(slog.String("component", "encoder_selector")),
	}
}

// Choose resolves (codec, requested family) to an encoder name and its
// flag vector. "auto" consults the preferred-family ladder; a family in
// cooldown falls through to the next usable one; no mapping degrades to
// software.
func (s *EncoderSelector) Choose(codec string, requested HWAccelType) (string, []string) {
	codec = normalizeCodec(codec)

	for _, family := range s.candidateFamilies(requested) {
		mapping, ok := encoderTable[codec]
		if !ok {
			break
		}
		encoder, ok := mapping[family]
		if !ok {
			continue
		}
		if family != HWAccelSoftware {
			if !s.caps.HasHWAccel(family) || !s.IsAvailable(encoder) {
				continue
			}
		}
		return encoder, s.qualityFlags(encoder)
	}

	// Degrade to software.
	encoder := softwareEncoderFor(codec)
	return encoder, s.qualityFlags(encoder)
}

// ChooseAudio resolves an audio codec to an encoder name.
func (s *EncoderSelector) ChooseAudio(codec string) string {
	codec = strings.ToLower(strings.TrimSpace(codec))
	if enc, ok := audioEncoderTable[codec]; ok {
		return enc
	}
	return "aac"
}

// candidateFamilies produces the family preference order for a request.
func (s *EncoderSelector) candidateFamilies(requested HWAccelType) []HWAccelType {
	preferred := s.caps.PreferredHWAccel()
	switch requested {
	case HWAccelAuto, "":
		return []HWAccelType{preferred, HWAccelSoftware}
	case HWAccelSoftware:
		return []HWAccelType{HWAccelSoftware}
	default:
		// Honor the caller unless that family is cooling down, in which
		// case fall back to the host's preferred family, then software.
		return []HWAccelType{requested, preferred, HWAccelSoftware}
	}
}

// MarkFailed records a failure for an encoder. Reaching the threshold
// disables the encoder's whole hardware family until the cooldown
// elapses.
func (s *EncoderSelector) MarkFailed(encoder string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.failures[encoder]
	if rec == nil {
		rec = &failureRecord{}
		s.failures[encoder] = rec
	}
	rec.failures++
	rec.lastFailure = s.now()

	family := FamilyForEncoder(encoder)
	if family == HWAccelSoftware {
		return
	}

	if fam := s.disabled[family]; fam != nil {
		// Further failures while disabled extend the cooldown.
		fam.failures++
		fam.lastFailure = rec.lastFailure
		return
	}

	if rec.failures >= encoderDisableThreshold {
		s.disabled[family] = &failureRecord{
			failures:    rec.failures,
			lastFailure: rec.lastFailure,
		}
		s.logger.Warn("hardware family disabled after repeated failures",
			slog.String("encoder", encoder),
			slog.String("family", family.String()),
			slog.Int("failures", rec.failures),
			slog.Duration("cooldown", cooldownFor(rec.failures)),
		)
	}
}

// IsAvailable reports whether an encoder is currently usable, which
// means its family is not cooling down. A disabled family re-enables
// (counts reset) once its cooldown has elapsed.
func (s *EncoderSelector) IsAvailable(encoder string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	family := FamilyForEncoder(encoder)
	fam := s.disabled[family]
	if fam == nil {
		return true
	}
	if s.now().Sub(fam.lastFailure) > cooldownFor(fam.failures) {
		s.clearFamilyLocked(family)
		s.logger.Info("hardware family re-enabled after cooldown",
			slog.String("family", family.String()))
		return true
	}
	return false
}

// Reset clears the failure state for an encoder and its family after a
// successful encode.
func (s *EncoderSelector) Reset(encoder string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, encoder)
	s.clearFamilyLocked(FamilyForEncoder(encoder))
}

// clearFamilyLocked drops the family's disabled state and the failure
// counts of every encoder in it. Caller holds s.mu.
func (s *EncoderSelector) clearFamilyLocked(family HWAccelType) {
	delete(s.disabled, family)
	for encoder := range s.failures {
		if FamilyForEncoder(encoder) == family {
			delete(s.failures, encoder)
		}
	}
}

// FailureCount returns the consecutive-failure count for an encoder.
func (s *EncoderSelector) FailureCount(encoder string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec := s.failures[encoder]; rec != nil {
		return rec.failures
	}
	return 0
}

// cooldownFor computes min(1h, 5min * 2^(failures-threshold)).
func cooldownFor(failures int) time.Duration {
	exp := failures - encoderDisableThreshold
	if exp < 0 {
		exp = 0
	}
	cooldown := encoderCooldownBase
	for i := 0; i < exp; i++ {
		cooldown *= 2
		if cooldown >= encoderCooldownMax {
			return encoderCooldownMax
		}
	}
	if cooldown > encoderCooldownMax {
		return encoderCooldownMax
	}
	return cooldown
}

// qualityFlags returns the quality-tuned flag block for an encoder.
func (s *EncoderSelector) qualityFlags(encoder string) []string {
	switch {
	case strings.HasSuffix(encoder, "_nvenc"):
		return []string{
			"-preset", s.nvencPreset,
			"-rc", "vbr",
			"-multipass", "fullres",
			"-rc-lookahead", "32",
			"-spatial-aq", "1",
			"-temporal-aq", "1",
			"-bf", "3",
			"-b_ref_mode", "middle",
		}
	case strings.HasSuffix(encoder, "_qsv"):
		return []string{
			"-preset", s.qsvPreset,
			"-look_ahead", "1",
			"-bf", "3",
		}
	case strings.HasSuffix(encoder, "_vaapi"):
		return []string{"-rc_mode", "VBR", "-bf", "2"}
	case strings.HasSuffix(encoder, "_amf"):
		return []string{"-usage", "transcoding", "-quality", "quality"}
	case strings.HasSuffix(encoder, "_videotoolbox"):
		return []string{"-realtime", "false"}
	case encoder == "libx264":
		return []string{"-preset", "medium", "-profile:v", "high"}
	case encoder == "libx265":
		return []string{"-preset", "medium", "-tag:v", "hvc1"}
	case encoder == "libvpx-vp9":
		return []string{"-deadline", "good", "-cpu-used", "2", "-row-mt", "1"}
	case encoder == "libaom-av1":
		return []string{"-cpu-used", "6", "-row-mt", "1"}
	default:
		return nil
	}
}

// HWDecodeArgs returns the input-side hardware decode hints for an
// encoder, or nil for software encoders.
func (s *EncoderSelector) HWDecodeArgs(encoder string) []string {
	switch {
	case strings.HasSuffix(encoder, "_nvenc"):
		return []string{"-hwaccel", "cuda"}
	case strings.HasSuffix(encoder, "_qsv"):
		return []string{"-hwaccel", "qsv"}
	case strings.HasSuffix(encoder, "_vaapi"):
		device := ""
		if accel := s.caps.Accel(HWAccelVAAPI); accel != nil {
			device = accel.DevicePath
		}
		if device == "" {
			device = vaapiRenderNodes[0]
		}
		return []string{"-hwaccel", "vaapi", "-hwaccel_device", device}
	case strings.HasSuffix(encoder, "_videotoolbox"):
		return []string{"-hwaccel", "videotoolbox"}
	default:
		return nil
	}
}

// FamilyForEncoder maps an encoder name back to its hardware family.
func FamilyForEncoder(encoder string) HWAccelType {
	switch {
	case strings.HasSuffix(encoder, "_nvenc"):
		return HWAccelNVENC
	case strings.HasSuffix(encoder, "_qsv"):
		return HWAccelQSV
	case strings.HasSuffix(encoder, "_vaapi"):
		return HWAccelVAAPI
	case strings.HasSuffix(encoder, "_amf"):
		return HWAccelAMF
	case strings.HasSuffix(encoder, "_videotoolbox"):
		return HWAccelVideoToolbox
	default:
		return HWAccelSoftware
	}
}

// normalizeCodec collapses common codec name aliases.
func normalizeCodec(codec string) string {
	codec = strings.ToLower(strings.TrimSpace(codec))
	switch codec {
	case "hevc", "x265":
		return "h265"
	case "avc", "x264", "":
		return "h264"
	default:
		return codec
	}
}

// softwareEncoderFor returns the software encoder for a codec.
func softwareEncoderFor(codec string) string {
	if mapping, ok := encoderTable[normalizeCodec(codec)]; ok {
		if enc, ok := mapping[HWAccelSoftware]; ok {
			return enc
		}
	}
	return "libx264"
}
