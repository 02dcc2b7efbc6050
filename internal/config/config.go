package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config represents the entire application configuration
type Config struct {
	Canvas   CanvasConfig   `mapstructure:"canvas"`
	Output   OutputConfig   `mapstructure:"output"`
	Download DownloadConfig `mapstructure:"download"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CanvasConfig contains Canvas API configuration. Token may be empty for
// the serve mode, where each request carries its own credentials.
type CanvasConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}

// OutputConfig contains local mirror settings
type OutputConfig struct {
	RootDir string `mapstructure:"root_dir"`
}

// DownloadConfig contains transfer settings
type DownloadConfig struct {
	LargeFileThresholdMB int    `mapstructure:"large_file_threshold_mb"`
	ChunkSizeKB          int    `mapstructure:"chunk_size_kb"`
	AttachmentTimeout    string `mapstructure:"attachment_timeout"`
	LogTailSize          int    `mapstructure:"log_tail_size"`
}

// LimitsConfig contains per-client rate limit budgets
type LimitsConfig struct {
	CourseHourly int `mapstructure:"course_hourly"`
	FileHourly   int `mapstructure:"file_hourly"`
	FileDaily    int `mapstructure:"file_daily"`
}

// HTTPConfig contains HTTP server configuration
type HTTPConfig struct {
	BindAddr     string `mapstructure:"bind_addr"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	IdleTimeout  string `mapstructure:"idle_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from the specified file path
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// Set defaults
	viper.SetDefault("canvas.base_url", "")
	viper.SetDefault("canvas.token", "")
	viper.SetDefault("output.root_dir", "./downloads")
	viper.SetDefault("download.large_file_threshold_mb", 100)
	viper.SetDefault("download.chunk_size_kb", 8)
	viper.SetDefault("download.attachment_timeout", "30s")
	viper.SetDefault("download.log_tail_size", 10)
	viper.SetDefault("limits.course_hourly", 100)
	viper.SetDefault("limits.file_hourly", 500)
	viper.SetDefault("limits.file_daily", 2000)
	viper.SetDefault("http.bind_addr", "0.0.0.0:8000")
	viper.SetDefault("http.read_timeout", "30s")
	viper.SetDefault("http.write_timeout", "30s")
	viper.SetDefault("http.idle_timeout", "60s")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	// Environment overrides, e.g. CANVAS_MIRROR_CANVAS_TOKEN
	viper.SetEnvPrefix("canvas_mirror")
	viper.AutomaticEnv()

	// Read config file. A missing file is not an error; defaults and
	// environment overrides still apply.
	if err := viper.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Output.RootDir == "" {
		return fmt.Errorf("output.root_dir is required")
	}

	if c.Download.LargeFileThresholdMB <= 0 {
		return fmt.Errorf("download.large_file_threshold_mb must be positive")
	}
	if c.Download.ChunkSizeKB <= 0 {
		return fmt.Errorf("download.chunk_size_kb must be positive")
	}
	if _, err := time.ParseDuration(c.Download.AttachmentTimeout); err != nil {
		return fmt.Errorf("invalid download.attachment_timeout: %w", err)
	}
	if c.Download.LogTailSize <= 0 {
		return fmt.Errorf("download.log_tail_size must be positive")
	}

	if c.Limits.CourseHourly <= 0 {
		return fmt.Errorf("limits.course_hourly must be positive")
	}
	if c.Limits.FileHourly <= 0 {
		return fmt.Errorf("limits.file_hourly must be positive")
	}
	if c.Limits.FileDaily <= 0 {
		return fmt.Errorf("limits.file_daily must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "console":
		// Valid formats
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

// GetLargeFileThreshold returns the streaming threshold in bytes
func (c *DownloadConfig) GetLargeFileThreshold() int64 {
	return int64(c.LargeFileThresholdMB) * 1024 * 1024
}

// GetChunkSize returns the streaming chunk size in bytes
func (c *DownloadConfig) GetChunkSize() int {
	return c.ChunkSizeKB * 1024
}

// GetAttachmentTimeout returns the attachment timeout as time.Duration
func (c *DownloadConfig) GetAttachmentTimeout() time.Duration {
	d, _ := time.ParseDuration(c.AttachmentTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetReadTimeout returns the read timeout as time.Duration
func (c *HTTPConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ReadTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetWriteTimeout returns the write timeout as time.Duration
func (c *HTTPConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(c.WriteTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetIdleTimeout returns the idle timeout as time.Duration
func (c *HTTPConfig) GetIdleTimeout() time.Duration {
	d, _ := time.ParseDuration(c.IdleTimeout)
	if d == 0 {
		return 60 * time.Second
	}
	return d
}
