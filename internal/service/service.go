// Package service is the composition root: it owns every subsystem and
// bounds their lifetimes within Run.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/bleedingxiko/ghoststream/internal/config"
	"github.com/bleedingxiko/ghoststream/internal/discovery"
	"github.com/bleedingxiko/ghoststream/internal/ffmpeg"
	ghttp "github.com/bleedingxiko/ghoststream/internal/http"
	"github.com/bleedingxiko/ghoststream/internal/http/handlers"
	"github.com/bleedingxiko/ghoststream/internal/jobs"
	"github.com/bleedingxiko/ghoststream/internal/progress"
	"github.com/bleedingxiko/ghoststream/internal/version"
)

// Service wires the capability snapshot, job manager, cleanup scheduler,
// progress broadcaster, HTTP frontend, and discovery together.
type Service struct {
	cfg    *config.Config
	logger *slog.Logger

	caps        *ffmpeg.Capabilities
	selector    *ffmpeg.EncoderSelector
	manager     *jobs.Manager
	cleanup     *jobs.CleanupScheduler
	broadcaster *progress.Broadcaster
	server      *ghttp.Server
	mdns        *discovery.MDNSAdvertiser
	registrar   *discovery.HubRegistrar
}

// New probes the encoder binary and assembles the service. The
// capability probe runs exactly once here; everything downstream reads
// the snapshot.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Service, error) {
	detector := ffmpeg.NewBinaryDetector(cfg.Transcoding.FFmpegPath, cfg.Transcoding.FFprobePath)
	binInfo, err := detector.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("detecting encoder binary: %w", err)
	}
	logger.Info("encoder binary detected",
		slog.String("path", binInfo.FFmpegPath),
		slog.String("version", binInfo.Version),
	)

	prober := ffmpeg.NewCapabilityProber(binInfo, cfg.Hardware.VAAPIDevice, cfg.Transcoding.MaxConcurrentJobs, logger)
	caps := prober.Probe(ctx)
	logger.Info("capability snapshot built", slog.String("summary", caps.String()))

	if err := os.MkdirAll(cfg.Transcoding.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating work directory: %w", err)
	}

	selector := ffmpeg.NewEncoderSelector(caps, cfg.Hardware.NVENCPreset, cfg.Hardware.QSVPreset, logger)
	filters := ffmpeg.NewFilterBuilder(cfg.Transcoding.ToneMapHDR)
	planner := ffmpeg.NewCommandPlanner(selector, filters,
		cfg.Transcoding.SegmentDuration, cfg.Transcoding.ABRMaxVariants, version.UserAgent())
	supervisor := ffmpeg.NewSupervisor(binInfo.FFmpegPath, logger)
	mediaProber := ffmpeg.NewProber(binInfo.FFprobePath, cfg.Transcoding.ProbeTimeout, logger)

	broadcaster := progress.NewBroadcaster(logger)
	baseURL := cfg.Server.ExternalBaseURL()

	manager := jobs.NewManager(cfg.Transcoding, baseURL,
		mediaProber, planner, supervisor, selector, broadcaster, logger)
	cleanup := jobs.NewCleanupScheduler(manager, logger)

	server := ghttp.NewServer(cfg.Server, logger)
	handlers.NewJobHandler(manager).Register(server.API())
	handlers.NewSystemHandler(caps, manager, cfg.Transcoding.WorkDir).Register(server.API())
	handlers.NewStreamHandler(manager, cfg.Transcoding.WorkDir, cfg.Transcoding.SeekableRewrite).Register(server.Router())
	handlers.NewWebSocketHandler(broadcaster, logger).Register(server.Router())

	ad := discovery.BuildAdvertisement(caps)
	mdns := discovery.NewMDNSAdvertiser(cfg.Discovery, cfg.Server.Port, ad, logger)
	registrar := discovery.NewHubRegistrar(cfg.Discovery, baseURL, ad, logger)

	return &Service{
		cfg:         cfg,
		logger:      logger,
		caps:        caps,
		selector:    selector,
		manager:     manager,
		cleanup:     cleanup,
		broadcaster: broadcaster,
		server:      server,
		mdns:        mdns,
		registrar:   registrar,
	}, nil
}

// Capabilities returns the startup snapshot.
func (s *Service) Capabilities() *ffmpeg.Capabilities {
	return s.caps
}

// Run starts every subsystem and blocks serving HTTP until the context
// is cancelled, then tears everything down.
func (s *Service) Run(ctx context.Context) error {
	s.manager.Start(ctx)
	if err := s.cleanup.Start(); err != nil {
		return err
	}
	if err := s.mdns.Start(); err != nil {
		// Advertisement failure should not keep the service down.
		s.logger.Warn("mDNS advertisement failed", slog.String("error", err.Error()))
	}
	go s.registrar.Run(ctx)

	err := s.server.ListenAndServe(ctx)

	s.mdns.Stop()
	s.cleanup.Stop()
	s.manager.Stop()

	return err
}
