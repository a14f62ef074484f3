package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/marmos91/dittokv/pkg/journal"
)

// Config represents the complete DittoKV master configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DITTOKV_*)
//  2. Configuration file (YAML)
//  3. Default values
//
// Backend Configuration Pattern:
// Storage and namespace backends each define their own configuration type.
// The Config struct carries one untyped section per backend (e.g.
// storage.filesystem, storage.s3) and only the section matching the selected
// type is decoded by the factories.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains process-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Storage selects the object storage holding the journal
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Namespace selects the directory service stores resolve into
	Namespace NamespaceConfig `mapstructure:"namespace" yaml:"namespace"`

	// Journal configures the write-ahead journal
	Journal JournalConfig `mapstructure:"journal" yaml:"journal"`

	// Catalog configures the store catalog
	Catalog CatalogConfig `mapstructure:"catalog" yaml:"catalog"`

	// GC configures the journal garbage collector
	GC GCConfig `mapstructure:"gc" yaml:"gc"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// Metrics configures the operational HTTP endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// MetricsConfig configures the /metrics, /healthz and /readyz endpoint.
type MetricsConfig struct {
	// Enabled starts the endpoint and the Prometheus registry
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Host is the bind address (empty = all interfaces)
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the TCP port of the endpoint
	Port int `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// StorageConfig specifies the object storage backend.
type StorageConfig struct {
	// Type specifies which backend to use
	// Valid values: memory, filesystem, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory filesystem s3"`

	// Filesystem contains filesystem-specific configuration
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem" yaml:"filesystem"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3"`
}

// NamespaceConfig specifies the namespace backend.
type NamespaceConfig struct {
	// Type specifies which backend to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`
}

// JournalConfig configures the write-ahead journal.
type JournalConfig struct {
	// Root is the key prefix of every journal artifact in storage
	Root string `mapstructure:"root" yaml:"root" validate:"required"`

	// MaxLogEntries seals the open log after this many entries
	MaxLogEntries int `mapstructure:"max_log_entries" yaml:"max_log_entries" validate:"gt=0"`

	// CompressCheckpoints writes checkpoints zstd-compressed
	CompressCheckpoints bool `mapstructure:"compress_checkpoints" yaml:"compress_checkpoints"`

	// FlushRetries is the number of retries of a failed journal write
	FlushRetries uint64 `mapstructure:"flush_retries" yaml:"flush_retries"`

	// FlushRetryInterval is the initial backoff between retries
	FlushRetryInterval time.Duration `mapstructure:"flush_retry_interval" yaml:"flush_retry_interval" validate:"gt=0"`

	// CheckpointInterval is the period of background checkpoints
	CheckpointInterval time.Duration `mapstructure:"checkpoint_interval" yaml:"checkpoint_interval" validate:"gt=0"`
}

// CatalogConfig configures the store catalog.
type CatalogConfig struct {
	// StrictLookups makes partition lookups on unknown paths fail with
	// NotFound instead of returning an empty list
	StrictLookups bool `mapstructure:"strict_lookups" yaml:"strict_lookups"`
}

// GCConfig configures the journal garbage collector.
type GCConfig struct {
	// Enabled runs the collector in the background
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Interval is the period between cycles
	Interval time.Duration `mapstructure:"interval" yaml:"interval" validate:"gt=0"`

	// InitialDelay is the wait before the first cycle
	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay" validate:"gt=0"`

	// Threshold is the minimum age of superseded checkpoints and logs
	Threshold time.Duration `mapstructure:"threshold" yaml:"threshold" validate:"gt=0"`

	// TemporaryThreshold is the minimum age of temporary checkpoints
	TemporaryThreshold time.Duration `mapstructure:"temporary_threshold" yaml:"temporary_threshold" validate:"gt=0"`

	// DeleteRate caps deletions per second (0 = unlimited)
	DeleteRate float64 `mapstructure:"delete_rate" yaml:"delete_rate" validate:"gte=0"`

	// DeleteBurst is the burst allowed by DeleteRate
	DeleteBurst int `mapstructure:"delete_burst" yaml:"delete_burst" validate:"gte=0"`

	// DryRun logs deletions without performing them
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the DITTOKV_ prefix and underscores
	// Example: DITTOKV_GC_THRESHOLD=10m
	v.SetEnvPrefix("DITTOKV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Settings whose zero value is a valid explicit choice default here.
	v.SetDefault("gc.enabled", true)
	v.SetDefault("journal.flush_retries", journal.DefaultFlushRetries)

	// AutomaticEnv only resolves keys viper already knows about.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/dittokv/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// envKeys lists the scalar settings that can be overridden from the
// environment without appearing in the config file.
var envKeys = []string{
	"logging.level", "logging.format", "logging.output",
	"server.shutdown_timeout", "server.metrics.enabled", "server.metrics.host", "server.metrics.port",
	"storage.type", "namespace.type",
	"journal.root", "journal.max_log_entries", "journal.compress_checkpoints",
	"journal.flush_retries", "journal.flush_retry_interval", "journal.checkpoint_interval",
	"catalog.strict_lookups",
	"gc.enabled", "gc.interval", "gc.initial_delay", "gc.threshold", "gc.temporary_threshold",
	"gc.delete_rate", "gc.delete_burst", "gc.dry_run",
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		// No config file: defaults and environment only
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittokv")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittokv")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
