package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultIndexCapacity = 16
	DefaultFileCapacity  = 32
	DefaultFileMaxSize   = 32 << 20 // 32 MiB
	DefaultPort          = 8080
	DefaultMetricsPort   = 9090
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - Relative roots are made absolute against the current directory
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyBindDefaults(&cfg.Bind)
	applyServerDefaults(&cfg.Server)
	applyMetricsDefaults(&cfg.Metrics)

	if cfg.Allowlist == nil {
		cfg.Allowlist = []string{}
	}
	if cfg.Blocklist == nil {
		cfg.Blocklist = []string{}
	}

	if cfg.RateLimit.RequestsPerSecond > 0 && cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = cfg.RateLimit.RequestsPerSecond
	}
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

func applyBindDefaults(cfg *BindConfig) {
	if cfg.Addr == "" {
		cfg.Addr = "0.0.0.0"
	}
	if cfg.Listen == 0 {
		cfg.Listen = DefaultPort
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Info == "" {
		cfg.Info = "Powered by Go"
	}

	if cfg.Root == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.Root = wd
		} else {
			cfg.Root = "."
		}
	}
	if abs, err := filepath.Abs(cfg.Root); err == nil {
		cfg.Root = abs
	}

	if cfg.ErrorPage == "" {
		cfg.ErrorPage = "404.html"
	}

	applyCacheDefaults(&cfg.Cache)

	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.PidDir == "" {
		cfg.PidDir = filepath.Join(os.TempDir(), "zest.pid")
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.IndexCapacity == 0 {
		cfg.IndexCapacity = DefaultIndexCapacity
	}
	if cfg.FileCapacity == 0 {
		cfg.FileCapacity = DefaultFileCapacity
	}
	if cfg.FileMaxSize == 0 {
		cfg.FileMaxSize = DefaultFileMaxSize
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.locationRules = map[string]LocationConfig{}
	return cfg
}
