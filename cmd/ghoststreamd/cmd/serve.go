package cmd

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bleedingxiko/ghoststream/internal/service"
)

// serveCmd runs the transcoding service.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the transcoding service",
	Long: `Probes the encoder binary, starts the job workers and cleanup
scheduler, advertises the service on the LAN, and serves the HTTP API
until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	initLogging(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := service.New(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}

	slog.Info("ghoststream starting",
		slog.String("address", cfg.Server.Address()),
		slog.Int("max_jobs", cfg.Transcoding.MaxConcurrentJobs),
	)
	return svc.Run(ctx)
}
