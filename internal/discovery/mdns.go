// Package discovery advertises the service on the local network and
// registers it with a known coordinator.
package discovery

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/grandcat/zeroconf"

	"github.com/bleedingxiko/ghoststream/internal/config"
	"github.com/bleedingxiko/ghoststream/internal/ffmpeg"
	"github.com/bleedingxiko/ghoststream/internal/version"
)

// ServiceType is the mDNS service type browsed by clients.
const ServiceType = "_ghoststream._tcp"

// Advertisement is the record published over mDNS and to the
// coordinator.
type Advertisement struct {
	Version     string   `json:"version"`
	APIVersion  string   `json:"api_version"`
	HWAccels    []string `json:"hw_accels"`
	VideoCodecs []string `json:"video_codecs"`
	AudioCodecs []string `json:"audio_codecs"`
	MaxJobs     int      `json:"max_jobs"`
	Platform    string   `json:"platform"`
}

// BuildAdvertisement derives the advertisement record from the
// capability snapshot.
func BuildAdvertisement(caps *ffmpeg.Capabilities) Advertisement {
	var hwAccels []string
	for _, hw := range caps.AvailableHWAccels() {
		if hw == ffmpeg.HWAccelSoftware {
			continue
		}
		hwAccels = append(hwAccels, hw.String())
	}
	return Advertisement{
		Version:     version.Version,
		APIVersion:  version.APIVersion,
		HWAccels:    hwAccels,
		VideoCodecs: caps.VideoCodecs,
		AudioCodecs: caps.AudioCodecs,
		MaxJobs:     caps.MaxConcurrentJobs,
		Platform:    caps.Platform,
	}
}

// txtRecords renders the advertisement as mDNS TXT entries.
func (a Advertisement) txtRecords() []string {
	return []string{
		"version=" + a.Version,
		"api_version=" + a.APIVersion,
		"hw_accels=" + strings.Join(a.HWAccels, ","),
		"video_codecs=" + strings.Join(a.VideoCodecs, ","),
		"audio_codecs=" + strings.Join(a.AudioCodecs, ","),
		fmt.Sprintf("max_jobs=%d", a.MaxJobs),
		"platform=" + a.Platform,
	}
}

// MDNSAdvertiser publishes the service record via zeroconf.
type MDNSAdvertiser struct {
	cfg    config.DiscoveryConfig
	port   int
	ad     Advertisement
	server *zeroconf.Server
	logger *slog.Logger
}

// NewMDNSAdvertiser creates an mDNS advertiser.
func NewMDNSAdvertiser(cfg config.DiscoveryConfig, port int, ad Advertisement, logger *slog.Logger) *MDNSAdvertiser {
	return &MDNSAdvertiser{
		cfg:    cfg,
		port:   port,
		ad:     ad,
		logger: logger.With(slog.String("component", "mdns")),
	}
}

// Start registers the service. Disabled advertisement is not an error.
func (m *MDNSAdvertiser) Start() error {
	if !m.cfg.MDNSEnabled {
		m.logger.Info("mDNS advertisement disabled")
		return nil
	}

	instance := strings.ReplaceAll(m.cfg.ServiceName, " ", "-")
	server, err := zeroconf.Register(instance, ServiceType, "local.", m.port, m.ad.txtRecords(), nil)
	if err != nil {
		return fmt.Errorf("registering mDNS service: %w", err)
	}
	m.server = server

	m.logger.Info("mDNS service registered",
		slog.String("instance", instance),
		slog.String("type", ServiceType),
		slog.Int("port", m.port),
	)
	return nil
}

// Stop unregisters the service.
func (m *MDNSAdvertiser) Stop() {
	if m.server != nil {
		m.server.Shutdown()
		m.server = nil
		m.logger.Info("mDNS service unregistered")
	}
}
