package config

import (
	"fmt"
	"path/filepath"

	"github.com/klauspost/compress/flate"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig contains server-specific configuration
type ServerConfig struct {
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	Root              string `mapstructure:"root"`
	ScratchFile       string `mapstructure:"scratch_file"`
	MaxUploadMemoryMB int64  `mapstructure:"max_upload_memory_mb"`
}

// ArchiveConfig limits and tunes folder downloads. Zero limits mean unlimited.
type ArchiveConfig struct {
	MaxEntries       int   `mapstructure:"max_entries"`
	MaxBytes         int64 `mapstructure:"max_bytes"`
	CompressionLevel int   `mapstructure:"compression_level"`
}

// TelemetryConfig contains telemetry configuration
type TelemetryConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// Defaults for values a caller may leave empty
const (
	DefaultPort        = 5000
	DefaultRoot        = "/shared_files"
	DefaultScratchFile = "untitled.txt"
)

// Load loads the configuration from viper
func Load() (*Config, error) {
	cfg := &Config{}

	setDefaults()

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	if err := postProcess(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", DefaultPort)
	viper.SetDefault("server.root", DefaultRoot)
	viper.SetDefault("server.scratch_file", DefaultScratchFile)
	viper.SetDefault("server.max_upload_memory_mb", 32)

	viper.SetDefault("archive.max_entries", 0)
	viper.SetDefault("archive.max_bytes", 0)
	viper.SetDefault("archive.compression_level", flate.DefaultCompression)

	viper.SetDefault("telemetry.enabled", false)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.json", false)

	_ = viper.BindEnv("server.root", "SHARED_FILES_ROOT")
	_ = viper.BindEnv("telemetry.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func postProcess(cfg *Config) error {
	if cfg.Server.Root == "" {
		cfg.Server.Root = DefaultRoot
	}

	if !filepath.IsAbs(cfg.Server.Root) {
		abs, err := filepath.Abs(cfg.Server.Root)
		if err != nil {
			return fmt.Errorf("failed to resolve root %s: %w", cfg.Server.Root, err)
		}
		cfg.Server.Root = abs
	}
	cfg.Server.Root = filepath.Clean(cfg.Server.Root)

	if cfg.Server.ScratchFile == "" {
		cfg.Server.ScratchFile = DefaultScratchFile
	}
	if filepath.Base(cfg.Server.ScratchFile) != cfg.Server.ScratchFile {
		return fmt.Errorf("scratch file must be a plain file name, got %q", cfg.Server.ScratchFile)
	}

	level := cfg.Archive.CompressionLevel
	if level < flate.HuffmanOnly || level > flate.BestCompression {
		return fmt.Errorf("archive compression level %d out of range [%d, %d]", level, flate.HuffmanOnly, flate.BestCompression)
	}
	if cfg.Archive.MaxEntries < 0 || cfg.Archive.MaxBytes < 0 {
		return fmt.Errorf("archive limits must not be negative")
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	return nil
}
