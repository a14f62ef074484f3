package config

import (
	"strings"
	"time"

	"github.com/marmos91/dittokv/pkg/gc"
	"github.com/marmos91/dittokv/pkg/journal"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - Booleans defaulting to true are set on the viper instance instead
//   - Backend-specific defaults are handled by backend constructors
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyStorageDefaults(&cfg.Storage)
	applyNamespaceDefaults(&cfg.Namespace)
	applyJournalDefaults(&cfg.Journal)
	applyGCDefaults(&cfg.GC)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

// applyStorageDefaults sets object storage defaults.
func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Type == "" {
		cfg.Type = "filesystem"
	}

	// Initialize maps if nil
	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}

	// Apply defaults for all backends (for config file generation)
	if _, ok := cfg.Filesystem["path"]; !ok {
		cfg.Filesystem["path"] = "/tmp/dittokv/storage"
	}
	if _, ok := cfg.S3["region"]; !ok {
		cfg.S3["region"] = "us-east-1"
	}
}

// applyNamespaceDefaults sets namespace defaults.
func applyNamespaceDefaults(cfg *NamespaceConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = "/tmp/dittokv/namespace"
	}
}

// applyJournalDefaults sets journal defaults.
//
// FlushRetries is not defaulted here: zero is a valid explicit value, so its
// default is registered on the viper instance.
func applyJournalDefaults(cfg *JournalConfig) {
	if cfg.Root == "" {
		cfg.Root = "journal"
	}
	if cfg.MaxLogEntries == 0 {
		cfg.MaxLogEntries = journal.DefaultMaxLogEntries
	}
	if cfg.FlushRetryInterval == 0 {
		cfg.FlushRetryInterval = journal.DefaultFlushRetryInterval
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 10 * time.Minute
	}
}

// applyGCDefaults sets garbage collector defaults.
func applyGCDefaults(cfg *GCConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = gc.DefaultInterval
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = gc.DefaultInitialDelay
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = gc.DefaultThreshold
	}
	if cfg.TemporaryThreshold == 0 {
		cfg.TemporaryThreshold = gc.DefaultTemporaryThreshold
	}
	if cfg.DeleteRate > 0 && cfg.DeleteBurst == 0 {
		cfg.DeleteBurst = 1
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Journal: JournalConfig{
			FlushRetries: journal.DefaultFlushRetries,
		},
		GC: GCConfig{
			Enabled: true,
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
