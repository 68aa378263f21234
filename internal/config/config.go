// Package config provides configuration management for forge using Viper.
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
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 5
	defaultConnMaxIdleTime = 30 * time.Minute
	defaultHistoryRetain   = 90 * 24 * time.Hour
	defaultRegistryWorkers = 4
	defaultGCCron          = "0 */15 * * * *" // every 15 minutes, 6-field cron
	defaultGCGenerations   = 3
	defaultMaxArtifactSize = 256 * 1024 * 1024 // 256MB
	defaultPluginDialTimeout = 5 * time.Second
	defaultPluginCallTimeout = 2 * time.Minute
)

// Config holds all configuration for the application.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	HistoryDB    HistoryDBConfig    `mapstructure:"historydb"`
	Store        StoreConfig        `mapstructure:"store"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Registry     RegistryConfig     `mapstructure:"registry"`
	PluginLoader PluginLoaderConfig `mapstructure:"plugin_loader"`
	StoreGC      StoreGCConfig      `mapstructure:"store_gc"`
}

// ServerConfig holds the introspection HTTP API server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// HistoryDBConfig holds build-history audit database connection configuration.
type HistoryDBConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
	RetainFor       time.Duration `mapstructure:"retain_for"`
}

// StoreConfig holds intermediate store configuration.
type StoreConfig struct {
	BaseDir       string   `mapstructure:"base_dir"`
	VersionString string   `mapstructure:"version_string"`
	ConfigString  string   `mapstructure:"config_string"`
	Universal     bool     `mapstructure:"universal"`
	LooseFiles    bool     `mapstructure:"loose_files"` // not read by internal/store, which always writes one chunk file
	MaxArtifact   ByteSize `mapstructure:"max_artifact_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// RegistryConfig holds compiler registry / worker pool configuration.
type RegistryConfig struct {
	Workers int `mapstructure:"workers"`
}

// PluginLoaderConfig holds compiler plugin discovery configuration. Each
// candidate matched by SearchPaths/Pattern is a small manifest file naming
// the gRPC address of a running compiler plugin daemon, not a shared
// library — see internal/pluginloader.
type PluginLoaderConfig struct {
	SearchPaths []string `mapstructure:"search_paths"`
	Pattern     string   `mapstructure:"pattern"`
	Concurrency int      `mapstructure:"concurrency"`
	DialTimeout Duration `mapstructure:"dial_timeout"`
	CallTimeout Duration `mapstructure:"call_timeout"`
}

// StoreGCConfig holds store maintenance (garbage collection) scheduling.
type StoreGCConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Cron         string `mapstructure:"cron"` // 6-field cron expression
	Generations  int    `mapstructure:"max_generations"` // versioned .int-<config>/<N> dirs to retain
	RunOnStartup bool   `mapstructure:"run_on_startup"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with FORGE_ and use underscores for nesting.
// Example: FORGE_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/forge")
		v.AddConfigPath("$HOME/.forge")
	}

	// Environment variable settings
	v.SetEnvPrefix("FORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
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
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// History DB defaults
	v.SetDefault("historydb.driver", "sqlite")
	v.SetDefault("historydb.dsn", "forge-history.db")
	v.SetDefault("historydb.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("historydb.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("historydb.conn_max_lifetime", time.Hour)
	v.SetDefault("historydb.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("historydb.log_level", "warn")
	v.SetDefault("historydb.retain_for", defaultHistoryRetain)

	// Store defaults
	v.SetDefault("store.base_dir", "./data/intermediate")
	v.SetDefault("store.version_string", "dev")
	v.SetDefault("store.config_string", "default")
	v.SetDefault("store.universal", false)
	v.SetDefault("store.loose_files", true)
	v.SetDefault("store.max_artifact_size", defaultMaxArtifactSize)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Registry defaults
	v.SetDefault("registry.workers", defaultRegistryWorkers)

	// Plugin loader defaults
	v.SetDefault("plugin_loader.search_paths", []string{"./plugins"})
	v.SetDefault("plugin_loader.pattern", "*.plugin")
	v.SetDefault("plugin_loader.concurrency", defaultRegistryWorkers)
	v.SetDefault("plugin_loader.dial_timeout", defaultPluginDialTimeout)
	v.SetDefault("plugin_loader.call_timeout", defaultPluginCallTimeout)

	// Store GC defaults
	v.SetDefault("store_gc.enabled", true)
	v.SetDefault("store_gc.cron", defaultGCCron)
	v.SetDefault("store_gc.max_generations", defaultGCGenerations)
	v.SetDefault("store_gc.run_on_startup", false)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	// History DB validation
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.HistoryDB.Driver] {
		return fmt.Errorf("historydb.driver must be one of: sqlite, postgres, mysql")
	}
	if c.HistoryDB.DSN == "" {
		return fmt.Errorf("historydb.dsn is required")
	}

	// Store validation
	if c.Store.BaseDir == "" {
		return fmt.Errorf("store.base_dir is required")
	}
	if c.Store.VersionString == "" {
		return fmt.Errorf("store.version_string is required")
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

	// Registry validation
	if c.Registry.Workers < 1 {
		return fmt.Errorf("registry.workers must be at least 1")
	}

	// Store GC validation
	if c.StoreGC.Generations < 1 {
		return fmt.Errorf("store_gc.max_generations must be at least 1")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
