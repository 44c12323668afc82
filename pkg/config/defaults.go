package config

import (
	"strings"
	"time"

	httpadapter "github.com/marmos91/dittodrop/pkg/adapter/http"
	"github.com/marmos91/dittodrop/pkg/content"
	"github.com/marmos91/dittodrop/pkg/eviction"
	"github.com/marmos91/dittodrop/pkg/gc"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - Booleans are left alone; Load declares their defaults to viper
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyContentDefaults(&cfg.Content)
	applyBlobDefaults(&cfg.Blob)
	applyMetadataDefaults(&cfg.Metadata)
	applyEvictionDefaults(&cfg.Eviction)
	applyGCDefaults(&cfg.GC)
	applyHTTPDefaults(&cfg.Adapters.HTTP)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

func applyContentDefaults(cfg *content.Config) {
	if cfg.Expiration == 0 {
		cfg.Expiration = time.Hour
	}
	if cfg.CleanupTimeout == 0 {
		cfg.CleanupTimeout = 10 * time.Second
	}
}

// applyBlobDefaults sets blob store defaults. Defaults are filled in for
// every store type so that generated config files document them.
func applyBlobDefaults(cfg *BlobConfig) {
	if cfg.Type == "" {
		cfg.Type = "filesystem"
	}

	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}

	if _, ok := cfg.Filesystem["path"]; !ok {
		cfg.Filesystem["path"] = "/tmp/dittodrop/files"
	}
}

func applyMetadataDefaults(cfg *MetadataConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.Redis == nil {
		cfg.Redis = make(map[string]any)
	}

	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = "/tmp/dittodrop/metadata"
	}
	if _, ok := cfg.Badger["sweep_interval"]; !ok {
		cfg.Badger["sweep_interval"] = "1s"
	}

	if _, ok := cfg.Redis["addr"]; !ok {
		cfg.Redis["addr"] = "localhost:6379"
	}
	if _, ok := cfg.Redis["configure_notifications"]; !ok {
		cfg.Redis["configure_notifications"] = true
	}
	if _, ok := cfg.Redis["notify_keyspace_events"]; !ok {
		cfg.Redis["notify_keyspace_events"] = "Exg"
	}
}

func applyEvictionDefaults(cfg *eviction.Config) {
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 64
	}
	if cfg.CleanupTimeout == 0 {
		cfg.CleanupTimeout = 30 * time.Second
	}
	if cfg.ResubscribeMinBackoff == 0 {
		cfg.ResubscribeMinBackoff = 500 * time.Millisecond
	}
	if cfg.ResubscribeMaxBackoff == 0 {
		cfg.ResubscribeMaxBackoff = 30 * time.Second
	}
}

func applyGCDefaults(cfg *gc.Config) {
	// Enabled and DryRun default to false
	if cfg.Interval == 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
}

func applyHTTPDefaults(cfg *httpadapter.HTTPConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	// MaxUploadBytes defaults to 0 (unlimited); RateLimit to disabled
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
func GetDefaultConfig() *Config {
	cfg := &Config{
		Content: content.Config{
			EraseOnRead: true,
		},
		Adapters: AdaptersConfig{
			HTTP: httpadapter.HTTPConfig{
				Enabled: true,
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
