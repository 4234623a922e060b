// Package config provides configuration management for vodarr using Viper.
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

	defaultVODRetryBudget   = 5
	defaultLiveRetryBudget  = 1
	defaultVODStallTimeout  = 30 * time.Minute
	defaultLiveStallTimeout = 30 * time.Second
	defaultMaxAvailableJobs = 10
	defaultMaxUploadBytes   = 4 * 1024 * 1024 * 1024 // 4GiB

	defaultReaperInterval = time.Minute
	defaultCleanupTTL     = 14 * 24 * time.Hour
	defaultCleanupCron    = "0 0 3 * * *" // daily at 3 AM (6-field cron)
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Jobs        JobsConfig        `mapstructure:"jobs"`
	Reaper      ReaperConfig      `mapstructure:"reaper"`
	Cleanup     CleanupConfig     `mapstructure:"cleanup"`
	ObjectStore ObjectStoreConfig `mapstructure:"object_store"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
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
	BaseDir string `mapstructure:"base_dir"`
	LiveDir string `mapstructure:"live_dir"` // live HLS relay artifacts, below base_dir
	VODDir  string `mapstructure:"vod_dir"`  // finalized VOD files, below base_dir
	TempDir string `mapstructure:"temp_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// JobsConfig holds runner job lifecycle configuration.
//
// Stall timeouts and retry budgets are deliberately separate for VOD and
// live jobs: live chunks arrive every few seconds, so a silent live job is
// stalled long before a VOD encode would be.
type JobsConfig struct {
	VODRetryBudget   int           `mapstructure:"vod_retry_budget"`
	LiveRetryBudget  int           `mapstructure:"live_retry_budget"`
	VODStallTimeout  time.Duration `mapstructure:"vod_stall_timeout"`
	LiveStallTimeout time.Duration `mapstructure:"live_stall_timeout"`
	MaxAvailableJobs int           `mapstructure:"max_available_jobs"` // page size for runner job requests
	MaxUploadBytes   int64         `mapstructure:"max_upload_bytes"`   // request body cap, sized for multipart uploads
	UserQuotaBytes   int64         `mapstructure:"user_quota_bytes"`   // 0 = unlimited
}

// ReaperConfig holds stalled-job reaper configuration.
type ReaperConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// CleanupConfig holds terminal-job retention cleanup configuration.
type CleanupConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Cron        string        `mapstructure:"cron"` // 6-field cron expression
	TerminalTTL time.Duration `mapstructure:"terminal_ttl"`
}

// ObjectStoreConfig holds remote object storage configuration used for
// upload-by-reference success payloads and VOD artifact archival.
type ObjectStoreConfig struct {
	Driver   string `mapstructure:"driver"` // none, s3
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"` // custom endpoint for S3-compatible stores
	Bucket   string `mapstructure:"bucket"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with VODARR_ and use underscores for
// nesting. Example: VODARR_SERVER_PORT=8080.
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
		v.AddConfigPath("/etc/vodarr")
		v.AddConfigPath("$HOME/.vodarr")
	}

	v.SetEnvPrefix("VODARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
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
// This should be called before reading the config file to ensure defaults
// are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "vodarr.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.live_dir", "live")
	v.SetDefault("storage.vod_dir", "videos")
	v.SetDefault("storage.temp_dir", "temp")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Job lifecycle defaults
	v.SetDefault("jobs.vod_retry_budget", defaultVODRetryBudget)
	v.SetDefault("jobs.live_retry_budget", defaultLiveRetryBudget)
	v.SetDefault("jobs.vod_stall_timeout", defaultVODStallTimeout)
	v.SetDefault("jobs.live_stall_timeout", defaultLiveStallTimeout)
	v.SetDefault("jobs.max_available_jobs", defaultMaxAvailableJobs)
	v.SetDefault("jobs.max_upload_bytes", defaultMaxUploadBytes)
	v.SetDefault("jobs.user_quota_bytes", 0)

	// Reaper defaults
	v.SetDefault("reaper.enabled", true)
	v.SetDefault("reaper.interval", defaultReaperInterval)

	// Cleanup defaults
	v.SetDefault("cleanup.enabled", true)
	v.SetDefault("cleanup.cron", defaultCleanupCron)
	v.SetDefault("cleanup.terminal_ttl", defaultCleanupTTL)

	// Object store defaults
	v.SetDefault("object_store.driver", "none")
	v.SetDefault("object_store.region", "us-east-1")
	v.SetDefault("object_store.endpoint", "")
	v.SetDefault("object_store.bucket", "")
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

	if c.Jobs.VODRetryBudget < 1 {
		return fmt.Errorf("jobs.vod_retry_budget must be at least 1")
	}
	if c.Jobs.LiveRetryBudget < 1 {
		return fmt.Errorf("jobs.live_retry_budget must be at least 1")
	}
	if c.Jobs.VODStallTimeout <= 0 || c.Jobs.LiveStallTimeout <= 0 {
		return fmt.Errorf("jobs stall timeouts must be positive")
	}
	if c.Jobs.MaxAvailableJobs < 1 {
		return fmt.Errorf("jobs.max_available_jobs must be at least 1")
	}

	if c.Reaper.Enabled && c.Reaper.Interval <= 0 {
		return fmt.Errorf("reaper.interval must be positive")
	}

	validObjectDrivers := map[string]bool{"none": true, "s3": true}
	if !validObjectDrivers[c.ObjectStore.Driver] {
		return fmt.Errorf("object_store.driver must be one of: none, s3")
	}
	if c.ObjectStore.Driver == "s3" && c.ObjectStore.Bucket == "" {
		return fmt.Errorf("object_store.bucket is required when object_store.driver is s3")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LivePath returns the full path to the live HLS artifact directory.
func (c *StorageConfig) LivePath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.LiveDir)
}

// VODPath returns the full path to the finalized VOD file directory.
func (c *StorageConfig) VODPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.VODDir)
}
