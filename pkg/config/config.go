package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is one immutable configuration snapshot.
//
// A snapshot is produced by Load, published through a Holder and never
// modified afterwards: reconfiguration always builds a new Config.
//
// Configuration sources (in order of precedence):
//  1. CLI overrides (root, port)
//  2. Environment variables (ZEST_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Bind is the listening address of the HTTP server
	Bind BindConfig `mapstructure:"bind" yaml:"bind"`

	// Server contains document root and request handling settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Allowlist, when non-empty, admits only clients matching one of its
	// entries (CIDR ranges or single addresses). Evaluated in order.
	Allowlist []string `mapstructure:"allowlist" yaml:"allowlist,omitempty" validate:"dive,cidr|ip"`

	// Blocklist rejects clients matching one of its entries. Ignored when
	// Allowlist is non-empty.
	Blocklist []string `mapstructure:"blocklist" yaml:"blocklist,omitempty" validate:"dive,cidr|ip"`

	// RateLimit bounds concurrently processed requests
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`

	// Locations holds per-path listing rules keyed by URL prefix ("/docs").
	// Each value is decoded into a LocationConfig.
	Locations map[string]map[string]any `mapstructure:"locations" yaml:"locations,omitempty"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// locationRules is Locations after decoding, filled by Load.
	locationRules map[string]LocationConfig
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`

	// AccessLog receives one line per served request. Empty means Output.
	AccessLog string `mapstructure:"access_log" yaml:"access_log,omitempty"`

	// ErrorLog receives request lines answered with 4xx/5xx. Empty means AccessLog.
	ErrorLog string `mapstructure:"error_log" yaml:"error_log,omitempty"`
}

// BindConfig is the socket address of the HTTP listener.
type BindConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr" validate:"required"`

	// Listen is the TCP port. 0 picks an ephemeral port.
	Listen int `mapstructure:"listen" yaml:"listen" validate:"min=0,max=65535"`
}

// Address returns addr:port suitable for net.Listen.
func (b BindConfig) Address() string {
	return fmt.Sprintf("%s:%d", b.Addr, b.Listen)
}

// ServerConfig contains document root and request handling settings.
type ServerConfig struct {
	// Info is appended to the Server banner
	Info string `mapstructure:"info" yaml:"info"`

	// Root is the document root. Made absolute by Load.
	Root string `mapstructure:"root" yaml:"root" validate:"required,dir"`

	// ErrorPage is the root-relative page substituted for missing paths
	ErrorPage string `mapstructure:"error_page" yaml:"error_page"`

	// AllowOutsideRoot disables the containment check on resolved paths
	AllowOutsideRoot bool `mapstructure:"allow_outside_root" yaml:"allow_outside_root"`

	// SniffContentType detects the content type of files with unknown extensions
	SniffContentType bool `mapstructure:"sniff_content_type" yaml:"sniff_content_type"`

	// Cache sizes the listing and file caches
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`

	// ReadTimeout bounds reading the request line
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" validate:"min=0"`

	// WriteTimeout bounds writing the response
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"min=0"`

	// ShutdownTimeout is the maximum time to wait for in-flight requests on exit
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// PidDir holds one PID file per running process
	PidDir string `mapstructure:"pid_dir" yaml:"pid_dir" validate:"required"`

	// WatchConfig reloads when the configuration file changes on disk
	WatchConfig bool `mapstructure:"watch_config" yaml:"watch_config"`
}

// CacheConfig sizes the two content caches.
type CacheConfig struct {
	// IndexCapacity is the number of directory listings kept
	IndexCapacity int `mapstructure:"index_capacity" yaml:"index_capacity" validate:"min=1"`

	// FileCapacity is the number of files kept
	FileCapacity int `mapstructure:"file_capacity" yaml:"file_capacity" validate:"min=1"`

	// FileMaxSize is the largest file, in bytes, that is cached
	FileMaxSize int64 `mapstructure:"file_maxsize" yaml:"file_maxsize" validate:"min=0"`
}

// RateLimitConfig bounds request processing.
type RateLimitConfig struct {
	// MaxRequests is the number of requests processed concurrently.
	// 0 means unlimited.
	MaxRequests int `mapstructure:"max_requests" yaml:"max_requests" validate:"min=0"`

	// RequestsPerSecond is a sustained admission rate. 0 disables it.
	RequestsPerSecond uint `mapstructure:"requests_per_second" yaml:"requests_per_second"`

	// Burst is the token bucket size used with RequestsPerSecond
	Burst uint `mapstructure:"burst" yaml:"burst"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`
}

// Overrides are command-line values applied on top of every load.
type Overrides struct {
	Root string
	Port int
}

// Loader loads snapshots from a fixed source. The same Loader is used at
// startup and on every reload.
type Loader struct {
	Path      string
	Overrides Overrides
}

// Load implements the reload.Loader contract.
func (l Loader) Load() (*Config, error) {
	return Load(l.Path, l.Overrides)
}

// Load loads configuration from file, environment, and defaults.
//
// A missing configuration file is not an error: defaults are used.
// Parse and validation failures are returned and leave no partial state.
func Load(configPath string, overrides Overrides) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if overrides.Root != "" {
		cfg.Server.Root = overrides.Root
	}
	if overrides.Port != 0 {
		cfg.Bind.Listen = overrides.Port
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	if err := cfg.SetLocations(cfg.Locations); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: ZEST_BIND_LISTEN=9000
	v.SetEnvPrefix("ZEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper, configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "zest")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "zest")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
