// Package config provides configuration management for ghoststream using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort        = 8765
	defaultServerTimeout     = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultMaxConcurrentJobs = 2
	defaultSegmentDuration   = 4
	defaultStallTimeout      = 120 * time.Second
	defaultStallPerSegment   = 15 * time.Second
	defaultRetryCount        = 3
	defaultRetryDelay        = 2 * time.Second
	defaultCleanupAfter      = 24 * time.Hour
	defaultCleanupInterval   = 5 * time.Minute
	defaultStreamTTL         = time.Hour
	defaultProbeTimeout      = 30 * time.Second
	defaultABRMaxVariants    = 4
	defaultRegisterInterval  = 5 * time.Minute
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Transcoding TranscodingConfig `mapstructure:"transcoding"`
	Hardware    HardwareConfig    `mapstructure:"hardware"`
	Discovery   DiscoveryConfig   `mapstructure:"discovery"`
	Limits      LimitsConfig      `mapstructure:"limits"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	BaseURL         string        `mapstructure:"base_url"` // Advertised base URL (empty = derived from host:port)
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// TranscodingConfig holds encoder-binary and job pipeline configuration.
type TranscodingConfig struct {
	FFmpegPath        string        `mapstructure:"ffmpeg_path"` // Path to ffmpeg binary (empty = auto-detect)
	FFprobePath       string        `mapstructure:"ffprobe_path"`
	WorkDir           string        `mapstructure:"work_dir"` // Root of per-job output directories
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs"`
	SegmentDuration   int           `mapstructure:"segment_duration"` // HLS segment length in seconds
	StallTimeout      time.Duration `mapstructure:"stall_timeout"`    // Minimum no-progress deadline
	StallPerSegment   time.Duration `mapstructure:"stall_per_segment"`
	RetryCount        int           `mapstructure:"retry_count"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout"`
	CleanupAfter      time.Duration `mapstructure:"cleanup_after"`    // TTL for batch outputs
	StreamTTL         time.Duration `mapstructure:"stream_ttl"`       // TTL for streaming outputs
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"` // Periodic sweep cadence
	ToneMapHDR        bool          `mapstructure:"tone_map_hdr"`     // Auto-convert HDR to SDR
	EnableABR         bool          `mapstructure:"enable_abr"`
	ABRMaxVariants    int           `mapstructure:"abr_max_variants"`
	SeekableRewrite   bool          `mapstructure:"stream_seekable_rewrite"` // Inject end-list into live playlists
}

// HardwareConfig holds hardware acceleration preferences.
type HardwareConfig struct {
	PreferHWAccel      bool   `mapstructure:"prefer_hw_accel"`
	FallbackToSoftware bool   `mapstructure:"fallback_to_software"`
	NVENCPreset        string `mapstructure:"nvenc_preset"`
	QSVPreset          string `mapstructure:"qsv_preset"`
	VAAPIDevice        string `mapstructure:"vaapi_device"` // Empty = walk render nodes
}

// DiscoveryConfig holds LAN advertisement and coordinator registration settings.
type DiscoveryConfig struct {
	MDNSEnabled      bool          `mapstructure:"mdns_enabled"`
	ServiceName      string        `mapstructure:"service_name"`
	HubURL           string        `mapstructure:"hub_url"` // Coordinator base URL (empty = no registration)
	AutoRegister     bool          `mapstructure:"auto_register"`
	RegisterInterval time.Duration `mapstructure:"register_interval"`
}

// LimitsConfig bounds what jobs the service will accept.
type LimitsConfig struct {
	MaxResolution string `mapstructure:"max_resolution"` // "4k", "1080p", ...
	MaxBitrate    string `mapstructure:"max_bitrate"`    // e.g. "50M"
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with GHOSTSTREAM_ and use underscores
// for nesting. Example: GHOSTSTREAM_SERVER_PORT=8765.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("ghoststream")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/ghoststream")
		v.AddConfigPath("$HOME/.config/ghoststream")
	}

	v.SetEnvPrefix("GHOSTSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.base_url", "")
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Transcoding defaults
	v.SetDefault("transcoding.ffmpeg_path", "")
	v.SetDefault("transcoding.ffprobe_path", "")
	v.SetDefault("transcoding.work_dir", "./transcode_temp")
	v.SetDefault("transcoding.max_concurrent_jobs", defaultMaxConcurrentJobs)
	v.SetDefault("transcoding.segment_duration", defaultSegmentDuration)
	v.SetDefault("transcoding.stall_timeout", defaultStallTimeout)
	v.SetDefault("transcoding.stall_per_segment", defaultStallPerSegment)
	v.SetDefault("transcoding.retry_count", defaultRetryCount)
	v.SetDefault("transcoding.retry_delay", defaultRetryDelay)
	v.SetDefault("transcoding.probe_timeout", defaultProbeTimeout)
	v.SetDefault("transcoding.cleanup_after", defaultCleanupAfter)
	v.SetDefault("transcoding.stream_ttl", defaultStreamTTL)
	v.SetDefault("transcoding.cleanup_interval", defaultCleanupInterval)
	v.SetDefault("transcoding.tone_map_hdr", true)
	v.SetDefault("transcoding.enable_abr", true)
	v.SetDefault("transcoding.abr_max_variants", defaultABRMaxVariants)
	v.SetDefault("transcoding.stream_seekable_rewrite", true)

	// Hardware defaults
	v.SetDefault("hardware.prefer_hw_accel", true)
	v.SetDefault("hardware.fallback_to_software", true)
	v.SetDefault("hardware.nvenc_preset", "p4")
	v.SetDefault("hardware.qsv_preset", "medium")
	v.SetDefault("hardware.vaapi_device", "")

	// Discovery defaults
	v.SetDefault("discovery.mdns_enabled", true)
	v.SetDefault("discovery.service_name", "GhostStream Transcoder")
	v.SetDefault("discovery.hub_url", "")
	v.SetDefault("discovery.auto_register", true)
	v.SetDefault("discovery.register_interval", defaultRegisterInterval)

	// Limits defaults
	v.SetDefault("limits.max_resolution", "4k")
	v.SetDefault("limits.max_bitrate", "50M")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	if c.Transcoding.WorkDir == "" {
		return fmt.Errorf("transcoding.work_dir is required")
	}
	if c.Transcoding.MaxConcurrentJobs < 1 {
		return fmt.Errorf("transcoding.max_concurrent_jobs must be at least 1")
	}
	if c.Transcoding.SegmentDuration < 1 {
		return fmt.Errorf("transcoding.segment_duration must be at least 1")
	}
	if c.Transcoding.ABRMaxVariants < 1 {
		return fmt.Errorf("transcoding.abr_max_variants must be at least 1")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ExternalBaseURL returns the base URL clients should use to reach the
// service. When server.base_url is unset it is derived from host:port.
func (c *ServerConfig) ExternalBaseURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	host := c.Host
	if host == "0.0.0.0" || host == "::" || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Port)
}

// JobDir returns the work directory for a single job.
func (c *TranscodingConfig) JobDir(jobID string) string {
	return filepath.Join(c.WorkDir, jobID)
}
