// Package config provides configuration management for video-streamer using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8000
	defaultServerTimeout   = 30 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultMediaPath        = "videos/mock.mp4"
	defaultMediaContentType = "video/mp4"

	defaultStreamPath         = "/socket-video"
	defaultPrimeSize          = "4MiB"
	defaultPrimeDelay         = time.Second
	defaultChunkSize          = "256KiB"
	defaultChunkDelay         = 50 * time.Millisecond
	defaultStreamWriteTimeout = 10 * time.Second

	defaultPlayerURL         = "ws://localhost:8000/socket-video"
	defaultMaxRetries        = 3
	defaultRetryDelay        = time.Second
	defaultInitTimeout       = 5 * time.Second
	defaultHighWater         = 10 * time.Second
	defaultLowWater          = 5 * time.Second
	defaultPlaybackRate      = 1.0
	defaultHistoryRetention  = 30 * 24 * time.Hour
	defaultHistorySchedule   = "0 * * * *"
	defaultDatabaseDSN       = "video-streamer.db"
	defaultMaxOpenConns      = 10
	defaultMaxIdleConns      = 5
	defaultConnMaxIdleTime   = 30 * time.Minute
	defaultDatabaseLogLevel  = "warn"
	defaultLoggingTimeFormat = time.RFC3339
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Media    MediaConfig    `mapstructure:"media"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Player   PlayerConfig   `mapstructure:"player"`
	Database DatabaseConfig `mapstructure:"database"`
	History  HistoryConfig  `mapstructure:"history"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout bounds whole responses, so it stays 0 (disabled) unless
	// the media is small enough to always finish in time.
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// MediaConfig describes the single video file served by the process.
type MediaConfig struct {
	Path        string `mapstructure:"path"`
	ContentType string `mapstructure:"content_type"`
	// Codecs overrides the probed MSE codec string, e.g. "avc1.42E01E,mp4a.40.2".
	Codecs string `mapstructure:"codecs"`
}

// StreamConfig holds the chunk streamer pacing parameters.
type StreamConfig struct {
	Path         string        `mapstructure:"path"`
	PrimeSize    ByteSize      `mapstructure:"prime_size"`
	PrimeDelay   time.Duration `mapstructure:"prime_delay"`
	ChunkSize    ByteSize      `mapstructure:"chunk_size"`
	ChunkDelay   time.Duration `mapstructure:"chunk_delay"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxSessions  int           `mapstructure:"max_sessions"` // 0 = unlimited
}

// PlayerConfig holds the headless stream consumer configuration.
type PlayerConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
	InitTimeout  time.Duration `mapstructure:"init_timeout"`
	HighWater    time.Duration `mapstructure:"high_water"`
	LowWater     time.Duration `mapstructure:"low_water"`
	ByteRate     ByteSize      `mapstructure:"byte_rate"` // bytes of media per second of playback
	PlaybackRate float64       `mapstructure:"playback_rate"`
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

// HistoryConfig controls persistence of finished streaming sessions.
type HistoryConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Retention     time.Duration `mapstructure:"retention"`
	PruneSchedule string        `mapstructure:"prune_schedule"` // 5-field cron expression
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
// Environment variables are prefixed with VSTREAM_ and use underscores for nesting.
// Example: VSTREAM_STREAM_CHUNK_SIZE=512KiB.
func Load(configPath string) (*Config, error) {
	return LoadWith(viper.New(), configPath)
}

// LoadWith is Load on a caller-supplied viper instance, so command-line
// flags bound to v take precedence over every other source.
func LoadWith(v *viper.Viper, configPath string) (*Config, error) {
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/video-streamer")
		v.AddConfigPath("$HOME/.video-streamer")
	}

	v.SetEnvPrefix("VSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return Decode(v)
}

// Decode unmarshals and validates the configuration held by v.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
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
	v.SetDefault("server.write_timeout", time.Duration(0))
	v.SetDefault("server.idle_timeout", defaultIdleTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Media defaults
	v.SetDefault("media.path", defaultMediaPath)
	v.SetDefault("media.content_type", defaultMediaContentType)
	v.SetDefault("media.codecs", "")

	// Stream defaults
	v.SetDefault("stream.path", defaultStreamPath)
	v.SetDefault("stream.prime_size", defaultPrimeSize)
	v.SetDefault("stream.prime_delay", defaultPrimeDelay)
	v.SetDefault("stream.chunk_size", defaultChunkSize)
	v.SetDefault("stream.chunk_delay", defaultChunkDelay)
	v.SetDefault("stream.write_timeout", defaultStreamWriteTimeout)
	v.SetDefault("stream.max_sessions", 0)

	// Player defaults
	v.SetDefault("player.url", defaultPlayerURL)
	v.SetDefault("player.max_retries", defaultMaxRetries)
	v.SetDefault("player.retry_delay", defaultRetryDelay)
	v.SetDefault("player.init_timeout", defaultInitTimeout)
	v.SetDefault("player.high_water", defaultHighWater)
	v.SetDefault("player.low_water", defaultLowWater)
	v.SetDefault("player.byte_rate", "0")
	v.SetDefault("player.playback_rate", defaultPlaybackRate)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", defaultDatabaseDSN)
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", defaultDatabaseLogLevel)

	// History defaults
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.retention", defaultHistoryRetention)
	v.SetDefault("history.prune_schedule", defaultHistorySchedule)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", defaultLoggingTimeFormat)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.IdleTimeout < 0 {
		return fmt.Errorf("server timeouts must not be negative")
	}

	if c.Media.Path == "" {
		return fmt.Errorf("media.path is required")
	}
	if c.Media.ContentType == "" {
		return fmt.Errorf("media.content_type is required")
	}

	if !strings.HasPrefix(c.Stream.Path, "/") {
		return fmt.Errorf("stream.path must start with /")
	}
	if c.Stream.PrimeSize <= 0 {
		return fmt.Errorf("stream.prime_size must be positive")
	}
	if c.Stream.ChunkSize <= 0 {
		return fmt.Errorf("stream.chunk_size must be positive")
	}
	if c.Stream.PrimeDelay < 0 || c.Stream.ChunkDelay < 0 {
		return fmt.Errorf("stream delays must not be negative")
	}
	if c.Stream.MaxSessions < 0 {
		return fmt.Errorf("stream.max_sessions must not be negative")
	}

	if c.Player.MaxRetries < 0 {
		return fmt.Errorf("player.max_retries must not be negative")
	}
	if c.Player.InitTimeout <= 0 {
		return fmt.Errorf("player.init_timeout must be positive")
	}
	if c.Player.LowWater <= 0 || c.Player.HighWater <= c.Player.LowWater {
		return fmt.Errorf("player.high_water must be greater than player.low_water, and both positive")
	}
	if c.Player.ByteRate < 0 {
		return fmt.Errorf("player.byte_rate must not be negative")
	}
	if c.Player.PlaybackRate <= 0 {
		return fmt.Errorf("player.playback_rate must be positive")
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.History.Enabled {
		if c.History.Retention <= 0 {
			return fmt.Errorf("history.retention must be positive")
		}
		if _, err := cron.ParseStandard(c.History.PruneSchedule); err != nil {
			return fmt.Errorf("history.prune_schedule is invalid: %w", err)
		}
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
