// Package config provides configuration management for castarr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxIdleTime = 30 * time.Minute

	defaultSegmentDuration  = 6 * time.Second
	defaultPlaylistSize     = 6
	defaultPrecacheSegments = 3
	defaultMaxPipelines     = 8
	defaultStopGrace        = 5 * time.Second
	defaultRestartBudget    = 3
	defaultRestartBackoff   = 2 * time.Second
	defaultPrecacheTimeout  = 2 * time.Minute

	defaultSessionIdleTimeout = 60 * time.Second
	defaultSampleInterval     = 5 * time.Second
	defaultSampleWindow       = 720 // one hour at 5s intervals
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Sessions  SessionsConfig  `mapstructure:"sessions"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	FFmpeg    FFmpegConfig    `mapstructure:"ffmpeg"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	// BaseURL is the externally reachable base URL used when rendering
	// absolute stream URLs in M3U exports (empty = derive from request).
	BaseURL string `mapstructure:"base_url"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	BaseDir     string `mapstructure:"base_dir"`
	SegmentsDir string `mapstructure:"segments_dir"`
	TempDir     string `mapstructure:"temp_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// EngineConfig holds playback pipeline configuration.
type EngineConfig struct {
	SegmentDuration  time.Duration `mapstructure:"segment_duration"`  // target HLS segment length
	PlaylistSize     int           `mapstructure:"playlist_size"`     // segments kept in the live window
	PrecacheSegments int           `mapstructure:"precache_segments"` // segments produced by a precache run
	PrecacheTimeout  time.Duration `mapstructure:"precache_timeout"`
	MaxPipelines     int           `mapstructure:"max_pipelines"`  // ceiling on concurrently running ffmpeg pipelines
	StopGrace        time.Duration `mapstructure:"stop_grace"`     // wait after SIGTERM before SIGKILL
	RestartBudget    int           `mapstructure:"restart_budget"` // consecutive crash restarts before giving up
	RestartBackoff   time.Duration `mapstructure:"restart_backoff"`
}

// SessionsConfig holds client session tracking configuration.
type SessionsConfig struct {
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// TelemetryConfig holds telemetry sampling configuration.
type TelemetryConfig struct {
	SampleInterval time.Duration `mapstructure:"sample_interval"`
	WindowSize     int           `mapstructure:"window_size"` // samples retained in memory
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // Path to ffmpeg binary (empty = auto-detect)
	ProbePath  string `mapstructure:"probe_path"`  // Path to ffprobe binary (empty = auto-detect)
}

// SchedulerConfig holds background job scheduling configuration.
type SchedulerConfig struct {
	RescanEnabled bool   `mapstructure:"rescan_enabled"`
	RescanCron    string `mapstructure:"rescan_cron"` // 6-field cron expression
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with CASTARR_ and use underscores for nesting.
// Example: CASTARR_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/castarr")
		v.AddConfigPath("$HOME/.castarr")
	}

	v.SetEnvPrefix("CASTARR")
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
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.base_url", "")

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "castarr.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.segments_dir", "segments")
	v.SetDefault("storage.temp_dir", "temp")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Engine defaults
	v.SetDefault("engine.segment_duration", defaultSegmentDuration)
	v.SetDefault("engine.playlist_size", defaultPlaylistSize)
	v.SetDefault("engine.precache_segments", defaultPrecacheSegments)
	v.SetDefault("engine.precache_timeout", defaultPrecacheTimeout)
	v.SetDefault("engine.max_pipelines", defaultMaxPipelines)
	v.SetDefault("engine.stop_grace", defaultStopGrace)
	v.SetDefault("engine.restart_budget", defaultRestartBudget)
	v.SetDefault("engine.restart_backoff", defaultRestartBackoff)

	// Session defaults
	v.SetDefault("sessions.idle_timeout", defaultSessionIdleTimeout)

	// Telemetry defaults
	v.SetDefault("telemetry.sample_interval", defaultSampleInterval)
	v.SetDefault("telemetry.window_size", defaultSampleWindow)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")

	// Scheduler defaults
	v.SetDefault("scheduler.rescan_enabled", false)
	v.SetDefault("scheduler.rescan_cron", "0 0 4 * * *") // Daily at 4 AM (6-field cron)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Engine.SegmentDuration < time.Second {
		return fmt.Errorf("engine.segment_duration must be at least 1s")
	}
	if c.Engine.PlaylistSize < 1 {
		return fmt.Errorf("engine.playlist_size must be at least 1")
	}
	if c.Engine.MaxPipelines < 1 {
		return fmt.Errorf("engine.max_pipelines must be at least 1")
	}
	if c.Engine.RestartBudget < 0 {
		return fmt.Errorf("engine.restart_budget must not be negative")
	}

	if c.Telemetry.WindowSize < 2 {
		return fmt.Errorf("telemetry.window_size must be at least 2")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SegmentsPath returns the full path to the segments directory.
func (c *StorageConfig) SegmentsPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.SegmentsDir)
}

// TempPath returns the full path to the temp directory.
func (c *StorageConfig) TempPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.TempDir)
}
