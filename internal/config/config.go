// Package config provides configuration management using Viper.
// It loads configuration from environment variables, .env files, and config files.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultServerPort        = 8090
	defaultServerHost        = "0.0.0.0"
	defaultLogLevel          = "info"
	defaultLogPretty         = false
	defaultCacheDir          = "./data/cache"
	defaultCacheMaxBytes     = int64(2 * 1024 * 1024 * 1024)
	defaultDatabasePath      = "./data/troubadour.db"
	defaultSnapshotPath      = "./data/playback-snapshot.json"
	defaultSnapshotInterval  = 10 * time.Second
	defaultSnapshotFreshFor  = time.Hour
	defaultIdleDisconnect    = 10 * time.Minute
	defaultExtractionTimeout = 15 * time.Second
	defaultFFmpegBin         = "ffmpeg"
	defaultYtdlpBin          = "yt-dlp"
	defaultAudioBitrateKbps  = 128
	envPrefix                = "TROUBADOUR"
)

// Config holds all application configuration
type Config struct {
	Discord  DiscordConfig
	Server   ServerConfig
	Logging  LoggingConfig
	Cache    CacheConfig
	Snapshot SnapshotConfig
	Playback PlaybackConfig
	Resolver ResolverConfig
}

// DiscordConfig holds the sink credentials and destination defaults
type DiscordConfig struct {
	Token string
}

// ServerConfig holds the status HTTP server configuration
type ServerConfig struct {
	Port int
	Host string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Pretty bool
}

// CacheConfig holds the prefetch file cache configuration
type CacheConfig struct {
	Dir          string
	MaxBytes     int64
	DatabasePath string
}

// SnapshotConfig holds crash-resume snapshot configuration
type SnapshotConfig struct {
	Path     string
	Interval time.Duration
	FreshFor time.Duration
}

// PlaybackConfig holds pipeline and idle-disconnect configuration
type PlaybackConfig struct {
	FFmpegBin        string
	AudioBitrateKbps int
	IdleDisconnect   time.Duration
}

// ResolverConfig holds external resolution tooling configuration
type ResolverConfig struct {
	YtdlpBin          string
	CookieFile        string
	ExtractionTimeout time.Duration
}

// Load reads configuration from .env file, config files, environment variables, and defaults
func Load() (*Config, error) {
	// .env files are optional in production and CI where env vars are set directly
	_ = godotenv.Load() // nolint:errcheck // .env file is optional

	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/troubadour")

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.host", defaultServerHost)

	v.SetDefault("logging.level", defaultLogLevel)
	v.SetDefault("logging.pretty", defaultLogPretty)

	v.SetDefault("cache.dir", defaultCacheDir)
	v.SetDefault("cache.maxbytes", defaultCacheMaxBytes)
	v.SetDefault("cache.databasepath", defaultDatabasePath)

	v.SetDefault("snapshot.path", defaultSnapshotPath)
	v.SetDefault("snapshot.interval", defaultSnapshotInterval)
	v.SetDefault("snapshot.freshfor", defaultSnapshotFreshFor)

	v.SetDefault("playback.ffmpegbin", defaultFFmpegBin)
	v.SetDefault("playback.audiobitratekbps", defaultAudioBitrateKbps)
	v.SetDefault("playback.idledisconnect", defaultIdleDisconnect)

	v.SetDefault("resolver.ytdlpbin", defaultYtdlpBin)
	v.SetDefault("resolver.extractiontimeout", defaultExtractionTimeout)
}

// Validate checks that configuration values are valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}

	if c.Cache.MaxBytes <= 0 {
		return fmt.Errorf("invalid cache size: %d (must be positive)", c.Cache.MaxBytes)
	}

	if c.Snapshot.Interval <= 0 {
		return fmt.Errorf("invalid snapshot interval: %s (must be positive)", c.Snapshot.Interval)
	}

	if c.Snapshot.FreshFor <= 0 {
		return fmt.Errorf("invalid snapshot freshness window: %s (must be positive)", c.Snapshot.FreshFor)
	}

	if c.Playback.AudioBitrateKbps <= 0 {
		return fmt.Errorf("invalid audio bitrate: %d (must be positive)", c.Playback.AudioBitrateKbps)
	}

	if c.Playback.IdleDisconnect <= 0 {
		return fmt.Errorf("invalid idle disconnect timeout: %s (must be positive)", c.Playback.IdleDisconnect)
	}

	if c.Resolver.ExtractionTimeout <= 0 {
		return fmt.Errorf("invalid extraction timeout: %s (must be positive)", c.Resolver.ExtractionTimeout)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}
