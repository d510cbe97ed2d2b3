// Package config provides configuration management for restorr using Viper.
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
	defaultServerPort        = 8080
	defaultServerTimeout     = 30 * time.Second
	defaultWriteTimeout      = 15 * time.Minute // long enough for a full ffmpeg run
	defaultShutdownTimeout   = 10 * time.Second
	defaultUploadTimeout     = 30 * time.Minute
	defaultMaxUploadSize     = 200 * 1024 * 1024 // 200MB
	defaultMaxOpenConns      = 25
	defaultMaxIdleConns      = 10
	defaultConnMaxIdleTime   = 30 * time.Minute
	defaultSessionTTL        = 900 * time.Second
	defaultMaxConcurrent     = 10
	defaultStaleGrace        = 60 * time.Second
	defaultFFmpegTimeout     = 600 * time.Second
	defaultPollInterval      = 100 * time.Millisecond
	defaultWaveformTimeout   = 60 * time.Second
	defaultIntakeTimeout     = 300 * time.Second
	defaultOutputSampleRate  = 48000
	defaultModelsDir         = "/usr/local/share/rnnoise-models"
	defaultWaveformSize      = "-1x100"
	defaultSweepSchedule     = "@every 1m"
	defaultPruneSchedule     = "0 3 * * *"
	defaultHistoryRetention  = 30 * 24 * time.Hour
	defaultTempFileMaxAge    = time.Hour
	defaultRedactedLogFields = "client_ip"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Session   SessionConfig   `mapstructure:"session"`
	Admission AdmissionConfig `mapstructure:"admission"`
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
	MaxConnections  int           `mapstructure:"max_connections"` // 0 = unlimited
	MaxUploadSize   int64         `mapstructure:"max_upload_size"` // bytes

	// UploadTimeout replaces read_timeout for the upload route, whose body
	// may be up to max_upload_size.
	UploadTimeout time.Duration `mapstructure:"upload_timeout"`

	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Sessions are keyed on that address, so enable it only behind a proxy
	// that overwrites those headers.
	TrustProxy bool `mapstructure:"trust_proxy"`
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
	BaseDir        string        `mapstructure:"base_dir"`
	SessionsDir    string        `mapstructure:"sessions_dir"`
	LocksDir       string        `mapstructure:"locks_dir"`
	TempFileMaxAge time.Duration `mapstructure:"temp_file_max_age"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level        string   `mapstructure:"level"`  // debug, info, warn, error
	Format       string   `mapstructure:"format"` // json, text
	AddSource    bool     `mapstructure:"add_source"`
	TimeFormat   string   `mapstructure:"time_format"`
	RedactFields []string `mapstructure:"redact_fields"`

	// RequestLogging logs every HTTP request; when false only 4xx/5xx are logged.
	RequestLogging bool `mapstructure:"request_logging"`
}

// SessionConfig holds working-session lifecycle configuration.
type SessionConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// AdmissionConfig holds the job admission ceiling.
type AdmissionConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// StaleGrace is added to ffmpeg.timeout to form the lease staleness threshold.
	StaleGrace time.Duration `mapstructure:"stale_grace"`
}

// FFmpegConfig holds FFmpeg binary and execution configuration.
type FFmpegConfig struct {
	BinaryPath       string        `mapstructure:"binary_path"` // Path to ffmpeg binary (empty = auto-detect)
	ProbePath        string        `mapstructure:"probe_path"`  // Path to ffprobe binary (empty = auto-detect)
	Timeout          time.Duration `mapstructure:"timeout"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	WaveformTimeout  time.Duration `mapstructure:"waveform_timeout"`
	IntakeTimeout    time.Duration `mapstructure:"intake_timeout"`
	WaveformSize     string        `mapstructure:"waveform_size"`
	ModelsDir        string        `mapstructure:"models_dir"`
	OutputSampleRate int           `mapstructure:"output_sample_rate"`
}

// SchedulerConfig holds maintenance schedule configuration.
type SchedulerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	SweepSchedule    string        `mapstructure:"sweep_schedule"`
	PruneSchedule    string        `mapstructure:"prune_schedule"`
	HistoryRetention time.Duration `mapstructure:"history_retention"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with RESTORR_ and use underscores for nesting.
// Example: RESTORR_SERVER_PORT=8080.
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
		v.AddConfigPath("/etc/restorr")
		v.AddConfigPath("$HOME/.restorr")
	}

	v.SetEnvPrefix("RESTORR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	return FromViper(v)
}

// FromViper unmarshals and validates configuration from an already prepared viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
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
	v.SetDefault("server.write_timeout", defaultWriteTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_connections", 0)
	v.SetDefault("server.max_upload_size", defaultMaxUploadSize)
	v.SetDefault("server.upload_timeout", defaultUploadTimeout)
	v.SetDefault("server.trust_proxy", false)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "restorr.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.sessions_dir", "sessions")
	v.SetDefault("storage.locks_dir", "locks")
	v.SetDefault("storage.temp_file_max_age", defaultTempFileMaxAge)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
	v.SetDefault("logging.redact_fields", []string{defaultRedactedLogFields})
	v.SetDefault("logging.request_logging", true)

	// Session defaults
	v.SetDefault("session.ttl", defaultSessionTTL)

	// Admission defaults
	v.SetDefault("admission.max_concurrent", defaultMaxConcurrent)
	v.SetDefault("admission.stale_grace", defaultStaleGrace)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
	v.SetDefault("ffmpeg.timeout", defaultFFmpegTimeout)
	v.SetDefault("ffmpeg.poll_interval", defaultPollInterval)
	v.SetDefault("ffmpeg.waveform_timeout", defaultWaveformTimeout)
	v.SetDefault("ffmpeg.intake_timeout", defaultIntakeTimeout)
	v.SetDefault("ffmpeg.waveform_size", defaultWaveformSize)
	v.SetDefault("ffmpeg.models_dir", defaultModelsDir)
	v.SetDefault("ffmpeg.output_sample_rate", defaultOutputSampleRate)

	// Scheduler defaults
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.sweep_schedule", defaultSweepSchedule)
	v.SetDefault("scheduler.prune_schedule", defaultPruneSchedule)
	v.SetDefault("scheduler.history_retention", defaultHistoryRetention)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}
	if c.Server.MaxUploadSize < 1 {
		return fmt.Errorf("server.max_upload_size must be positive")
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections must not be negative")
	}
	if c.Server.UploadTimeout < 0 {
		return fmt.Errorf("server.upload_timeout must not be negative")
	}

	// Database validation
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	// Storage validation
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}
	if c.Storage.SessionsDir == "" || c.Storage.LocksDir == "" {
		return fmt.Errorf("storage.sessions_dir and storage.locks_dir are required")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Session and admission validation
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	if c.Admission.MaxConcurrent < 1 {
		return fmt.Errorf("admission.max_concurrent must be at least 1")
	}
	if c.Admission.StaleGrace < 0 {
		return fmt.Errorf("admission.stale_grace must not be negative")
	}

	// FFmpeg validation
	if c.FFmpeg.Timeout <= 0 {
		return fmt.Errorf("ffmpeg.timeout must be positive")
	}
	if c.FFmpeg.PollInterval <= 0 || c.FFmpeg.PollInterval >= c.FFmpeg.Timeout {
		return fmt.Errorf("ffmpeg.poll_interval must be positive and shorter than ffmpeg.timeout")
	}
	if c.FFmpeg.OutputSampleRate < 8000 {
		return fmt.Errorf("ffmpeg.output_sample_rate must be at least 8000")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SessionsPath returns the full path to the session directory root.
func (c *StorageConfig) SessionsPath() string {
	return filepath.Join(c.BaseDir, c.SessionsDir)
}

// LocksPath returns the full path to the admission lease directory.
// An absolute locks_dir is used as-is so several instances can share it.
func (c *StorageConfig) LocksPath() string {
	if filepath.IsAbs(c.LocksDir) {
		return c.LocksDir
	}
	return filepath.Join(c.BaseDir, c.LocksDir)
}

// StaleLeaseThreshold returns the age after which an admission lease is
// considered abandoned: the job timeout plus a grace period.
func (c *Config) StaleLeaseThreshold() time.Duration {
	return c.FFmpeg.Timeout + c.Admission.StaleGrace
}
