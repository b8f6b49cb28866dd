package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bleedingxiko/ghoststream/internal/ffmpeg"
)

// detectCmd runs the one-shot capability probe and prints the snapshot.
var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Probe encoder capabilities and print them as JSON",
	Long: `Runs the same capability probe the service performs at startup:
encoder binary inventory plus a runtime check of each hardware
acceleration family. Useful for verifying GPU drivers before serving.`,
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)
}

func runDetect(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	initLogging(cfg)

	detector := ffmpeg.NewBinaryDetector(cfg.Transcoding.FFmpegPath, cfg.Transcoding.FFprobePath)
	binInfo, err := detector.Detect(cmd.Context())
	if err != nil {
		return fmt.Errorf("detecting encoder binary: %w", err)
	}

	prober := ffmpeg.NewCapabilityProber(binInfo, cfg.Hardware.VAAPIDevice,
		cfg.Transcoding.MaxConcurrentJobs, slog.Default())
	caps := prober.Probe(cmd.Context())

	out, err := json.MarshalIndent(caps, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding capabilities: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
